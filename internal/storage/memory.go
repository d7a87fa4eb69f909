package storage

import (
	"context"
	"strings"
	"sync"

	"github.com/maauso/voiceclip-api/internal/audio"
)

const memoryScheme = "mem:"

// Compile-time interface checks.
var (
	_ Backend  = (*MemoryBackend)(nil)
	_ Resolver = (*MemoryBackend)(nil)
	_ Resetter = (*MemoryBackend)(nil)
)

type memoryRecord struct {
	blob audio.Blob
	meta Metadata
}

// MemoryBackend is the fastest layer: a process-lifetime map.
type MemoryBackend struct {
	mu      sync.RWMutex
	records map[string]memoryRecord
}

// NewMemoryBackend creates an empty in-memory layer.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		records: make(map[string]memoryRecord),
	}
}

// Name implements Backend.
func (b *MemoryBackend) Name() string { return "memory" }

// Put stores a private copy of blob.
func (b *MemoryBackend) Put(_ context.Context, id string, blob audio.Blob, meta Metadata) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records[id] = memoryRecord{blob: blob.Clone(), meta: meta}
	return memoryScheme + id, nil
}

// Get returns a copy of the stored blob.
func (b *MemoryBackend) Get(_ context.Context, id string) (Entry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rec, ok := b.records[id]
	if !ok {
		return Entry{}, ErrMiss
	}
	return Entry{
		ID:       id,
		Layer:    b.Name(),
		Locator:  memoryScheme + id,
		Blob:     rec.blob.Clone(),
		Metadata: rec.meta,
	}, nil
}

// Delete removes id. Deleting an absent id is not an error.
func (b *MemoryBackend) Delete(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.records, id)
	return nil
}

// Owns implements Resolver.
func (b *MemoryBackend) Owns(locator string) bool {
	return strings.HasPrefix(locator, memoryScheme)
}

// Resolve implements Resolver.
func (b *MemoryBackend) Resolve(ctx context.Context, locator string) (audio.Blob, error) {
	e, err := b.Get(ctx, strings.TrimPrefix(locator, memoryScheme))
	if err != nil {
		return audio.Blob{}, err
	}
	return e.Blob, nil
}

// Reset drops every record.
func (b *MemoryBackend) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = make(map[string]memoryRecord)
}
