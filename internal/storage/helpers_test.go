package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/maauso/voiceclip-api/internal/audio"
)

var errBroken = errors.New("layer broken")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func blobOf(s string) audio.Blob {
	return audio.Blob{Data: []byte(s), MIMEType: audio.MIMETypeWAV}
}

func openMemoryKV(t *testing.T, quota int64) *KVBackend {
	t.Helper()
	kv, err := OpenKVBackend(KVConfig{QuotaBytes: quota})
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	return kv
}

// stubBackend lets a test script every call.
type stubBackend struct {
	name   string
	put    func(ctx context.Context, id string, blob audio.Blob, meta Metadata) (string, error)
	get    func(ctx context.Context, id string) (Entry, error)
	delete func(ctx context.Context, id string) error
}

func (s *stubBackend) Name() string { return s.name }

func (s *stubBackend) Put(ctx context.Context, id string, blob audio.Blob, meta Metadata) (string, error) {
	if s.put == nil {
		return "", errBroken
	}
	return s.put(ctx, id, blob, meta)
}

func (s *stubBackend) Get(ctx context.Context, id string) (Entry, error) {
	if s.get == nil {
		return Entry{}, ErrMiss
	}
	return s.get(ctx, id)
}

func (s *stubBackend) Delete(ctx context.Context, id string) error {
	if s.delete == nil {
		return nil
	}
	return s.delete(ctx, id)
}

// hangingBackend blocks every call until release is closed, ignoring ctx.
func hangingBackend(name string, release <-chan struct{}) *stubBackend {
	return &stubBackend{
		name: name,
		put: func(context.Context, string, audio.Blob, Metadata) (string, error) {
			<-release
			return "hung", nil
		},
		get: func(context.Context, string) (Entry, error) {
			<-release
			return Entry{}, ErrMiss
		},
		delete: func(context.Context, string) error {
			<-release
			return nil
		},
	}
}
