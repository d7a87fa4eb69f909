package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v3"

	"github.com/maauso/voiceclip-api/internal/audio"
)

// DefaultKVPrefix namespaces the records written by KVBackend.
const DefaultKVPrefix = "audio_"

// maxConflictRetries bounds how often a write is retried after Badger
// reports a transaction conflict.
const maxConflictRetries = 5

var _ Backend = (*KVBackend)(nil)

// KVConfig configures a KVBackend.
type KVConfig struct {
	// Dir is the Badger directory. Empty keeps the store in memory.
	Dir string
	// Prefix namespaces the keys. Defaults to DefaultKVPrefix.
	Prefix string
	// QuotaBytes bounds the total size of stored values. Zero means unbounded.
	QuotaBytes int64
}

// kvRecord is the on-disk format of one recording.
type kvRecord struct {
	Base64   string   `json:"base64"`
	Metadata Metadata `json:"metadata"`
}

// KVBackend is the slowest and most durable layer: base64 data URLs in a
// namespaced Badger key/value store.
type KVBackend struct {
	db     *badger.DB
	prefix []byte
	quota  int64

	// mu serializes writers. A quota check reads every key in the
	// namespace, so concurrent writes would otherwise conflict.
	mu sync.Mutex
}

// OpenKVBackend opens (or creates) the Badger store described by cfg.
func OpenKVBackend(cfg KVConfig) (*KVBackend, error) {
	var opts badger.Options
	if cfg.Dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("storage: create kv directory: %w", err)
		}
		opts = badger.DefaultOptions(filepath.Join(cfg.Dir, "badger"))
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("storage: open badger database: %w", err)
	}
	return NewKVBackend(db, cfg.Prefix, cfg.QuotaBytes), nil
}

// NewKVBackend wraps an already opened database.
func NewKVBackend(db *badger.DB, prefix string, quota int64) *KVBackend {
	if prefix == "" {
		prefix = DefaultKVPrefix
	}
	return &KVBackend{db: db, prefix: []byte(prefix), quota: quota}
}

// Name implements Backend.
func (b *KVBackend) Name() string { return "kv" }

func (b *KVBackend) key(id string) []byte {
	return append(append([]byte{}, b.prefix...), id...)
}

// Put writes the record and returns its data URL.
// It fails with ErrQuotaExceeded when the record would push the namespace
// over its quota; the previous record for id does not count against it.
func (b *KVBackend) Put(ctx context.Context, id string, blob audio.Blob, meta Metadata) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	dataURL := EncodeDataURL(blob)
	value, err := json.Marshal(kvRecord{Base64: dataURL, Metadata: meta})
	if err != nil {
		return "", fmt.Errorf("storage: marshal record: %w", err)
	}

	key := b.key(id)
	err = b.update(func(txn *badger.Txn) error {
		if b.quota > 0 {
			used, err := b.usage(txn, key)
			if err != nil {
				return err
			}
			if used+int64(len(value)) > b.quota {
				return fmt.Errorf("%w: %d of %d bytes used, record needs %d",
					ErrQuotaExceeded, used, b.quota, len(value))
			}
		}
		return txn.Set(key, value)
	})
	if err != nil {
		if errors.Is(err, ErrQuotaExceeded) {
			return "", err
		}
		return "", fmt.Errorf("storage: write record: %w", err)
	}
	return dataURL, nil
}

// Get reads and decodes the record for id.
func (b *KVBackend) Get(ctx context.Context, id string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}

	var rec kvRecord
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(b.key(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Entry{}, ErrMiss
	}
	if err != nil {
		return Entry{}, fmt.Errorf("storage: read record: %w", err)
	}

	blob, err := DecodeDataURL(rec.Base64)
	if err != nil {
		return Entry{}, fmt.Errorf("storage: corrupt record %q: %w", id, err)
	}
	return Entry{
		ID:       id,
		Layer:    b.Name(),
		Locator:  rec.Base64,
		Blob:     blob,
		Metadata: rec.Metadata,
	}, nil
}

// Delete removes the record for id.
func (b *KVBackend) Delete(_ context.Context, id string) error {
	err := b.update(func(txn *badger.Txn) error {
		return txn.Delete(b.key(id))
	})
	if err != nil {
		return fmt.Errorf("storage: delete record: %w", err)
	}
	return nil
}

// Usage returns the number of value bytes held under the namespace.
func (b *KVBackend) Usage() (int64, error) {
	var used int64
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		used, err = b.usage(txn, nil)
		return err
	})
	return used, err
}

func (b *KVBackend) usage(txn *badger.Txn, skip []byte) (int64, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = b.prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var used int64
	for it.Seek(b.prefix); it.ValidForPrefix(b.prefix); it.Next() {
		item := it.Item()
		if skip != nil && string(item.Key()) == string(skip) {
			continue
		}
		used += item.ValueSize()
	}
	return used, nil
}

// Purge deletes every record created before the cutoff, as well as records
// that can no longer be parsed. It returns the number of deleted records.
// Scan and deletes share one transaction, so a record rewritten by a
// concurrent Put is never removed.
func (b *KVBackend) Purge(ctx context.Context, before time.Time) (int, error) {
	var purged int
	err := b.update(func(txn *badger.Txn) error {
		stale, err := b.stale(ctx, txn, before)
		if err != nil {
			return err
		}
		for _, key := range stale {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		purged = len(stale)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("storage: purge records: %w", err)
	}
	return purged, nil
}

func (b *KVBackend) stale(ctx context.Context, txn *badger.Txn, before time.Time) ([][]byte, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = b.prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var stale [][]byte
	for it.Seek(b.prefix); it.ValidForPrefix(b.prefix); it.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		item := it.Item()
		var rec kvRecord
		err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
		if err != nil || rec.Metadata.CreatedAt.Before(before) {
			stale = append(stale, item.KeyCopy(nil))
		}
	}
	return stale, nil
}

// update runs fn in a read-write transaction, one writer at a time.
// Conflicts with writers outside this backend are retried.
func (b *KVBackend) update(fn func(txn *badger.Txn) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var err error
	for range maxConflictRetries {
		if err = b.db.Update(fn); !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

// Close closes the underlying database.
func (b *KVBackend) Close() error {
	return b.db.Close()
}
