package storage

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/maauso/voiceclip-api/internal/audio"
)

// DefaultObjectURLOrigin is used when no origin is configured.
const DefaultObjectURLOrigin = "http://localhost"

// Compile-time interface checks.
var (
	_ Backend  = (*ObjectURLBackend)(nil)
	_ Resolver = (*ObjectURLBackend)(nil)
	_ Resetter = (*ObjectURLBackend)(nil)
)

// ObjectURLBackend is a registry of revocable blob: URLs. Each id maps to
// at most one live URL; storing again revokes the previous one.
type ObjectURLBackend struct {
	origin string

	mu   sync.RWMutex
	urls map[string]memoryRecord
	byID map[string]string
}

// NewObjectURLBackend creates a registry issuing blob:<origin>/<uuid> URLs.
func NewObjectURLBackend(origin string) *ObjectURLBackend {
	if origin == "" {
		origin = DefaultObjectURLOrigin
	}
	return &ObjectURLBackend{
		origin: strings.TrimRight(origin, "/"),
		urls:   make(map[string]memoryRecord),
		byID:   make(map[string]string),
	}
}

// Name implements Backend.
func (b *ObjectURLBackend) Name() string { return "objecturl" }

// Put registers a fresh URL for id.
func (b *ObjectURLBackend) Put(_ context.Context, id string, blob audio.Blob, meta Metadata) (string, error) {
	url := "blob:" + b.origin + "/" + uuid.NewString()

	b.mu.Lock()
	defer b.mu.Unlock()
	if prev, ok := b.byID[id]; ok {
		delete(b.urls, prev)
	}
	b.urls[url] = memoryRecord{blob: blob.Clone(), meta: meta}
	b.byID[id] = url
	return url, nil
}

// Get returns the record behind the URL issued for id, if it is still registered.
func (b *ObjectURLBackend) Get(_ context.Context, id string) (Entry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	url, ok := b.byID[id]
	if !ok {
		return Entry{}, ErrMiss
	}
	rec, ok := b.urls[url]
	if !ok {
		return Entry{}, ErrMiss
	}
	return Entry{
		ID:       id,
		Layer:    b.Name(),
		Locator:  url,
		Blob:     rec.blob.Clone(),
		Metadata: rec.meta,
	}, nil
}

// Delete revokes the URL issued for id.
func (b *ObjectURLBackend) Delete(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if url, ok := b.byID[id]; ok {
		delete(b.urls, url)
		delete(b.byID, id)
	}
	return nil
}

// Revoke invalidates a single URL. The id it was issued for keeps pointing
// at it, so later reads of that id miss until it is stored again.
func (b *ObjectURLBackend) Revoke(url string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.urls, url)
}

// Owns implements Resolver.
func (b *ObjectURLBackend) Owns(locator string) bool {
	return strings.HasPrefix(locator, "blob:"+b.origin+"/")
}

// Resolve implements Resolver.
func (b *ObjectURLBackend) Resolve(_ context.Context, locator string) (audio.Blob, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rec, ok := b.urls[locator]
	if !ok {
		return audio.Blob{}, ErrMiss
	}
	return rec.blob.Clone(), nil
}

// Reset revokes every URL, as a reload of the host would.
func (b *ObjectURLBackend) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.urls = make(map[string]memoryRecord)
	b.byID = make(map[string]string)
}
