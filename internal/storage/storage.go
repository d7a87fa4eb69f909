// Package storage persists exported audio under a stable track id across an
// ordered chain of backends of decreasing reliability, and reads it back
// through the same chain in priority order.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/maauso/voiceclip-api/internal/audio"
)

// Static errors for storage operations.
var (
	// ErrMiss is returned by a backend that does not hold the requested id.
	ErrMiss = errors.New("storage: not stored in layer")
	// ErrAudioNotFound is returned when every layer and the remote fallback missed.
	ErrAudioNotFound = errors.New("storage: audio not found")
	// ErrPersistence is matched by a PersistenceError.
	ErrPersistence = errors.New("storage: every layer failed")
	// ErrQuotaExceeded is returned by the key/value layer when a record does not fit.
	ErrQuotaExceeded = errors.New("storage: quota exceeded")
	// ErrChecksumMismatch is returned when a payload does not match its metadata.
	ErrChecksumMismatch = errors.New("storage: checksum mismatch")
	// ErrLayerTimeout is returned when a layer does not answer within its bound.
	ErrLayerTimeout = errors.New("storage: layer timed out")
	// ErrInvalidLocator is returned when no layer can resolve a locator.
	ErrInvalidLocator = errors.New("storage: invalid locator")
	// ErrIDRequired is returned when the track id is empty.
	ErrIDRequired = errors.New("storage: id is required")
	// ErrEmptyBlob is returned when storing a blob without data.
	ErrEmptyBlob = errors.New("storage: blob is empty")
)

// Metadata describes a stored recording.
type Metadata struct {
	Title     string    `json:"title,omitempty"`
	Size      int       `json:"size"`
	MIMEType  string    `json:"mimeType"`
	Duration  float64   `json:"duration,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	Checksum  string    `json:"checksum,omitempty"`
	Username  string    `json:"username,omitempty"`
	Filename  string    `json:"filename,omitempty"`
}

// Entry is a record read back from one layer.
type Entry struct {
	ID       string
	Layer    string
	Locator  string
	Blob     audio.Blob
	Metadata Metadata
}

// Backend is one storage layer.
// Get returns ErrMiss when the layer does not hold id.
type Backend interface {
	Name() string
	Put(ctx context.Context, id string, blob audio.Blob, meta Metadata) (locator string, err error)
	Get(ctx context.Context, id string) (Entry, error)
	Delete(ctx context.Context, id string) error
}

// Resolver is implemented by backends that can turn one of their own
// locators back into audio.
type Resolver interface {
	Owns(locator string) bool
	Resolve(ctx context.Context, locator string) (audio.Blob, error)
}

// Resetter is implemented by volatile backends whose contents do not
// survive a restart of their host.
type Resetter interface {
	Reset()
}

// Checksum returns the hex SHA-256 digest of data.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// complete fills the derived metadata fields from blob.
func (m Metadata) complete(blob audio.Blob, now time.Time) Metadata {
	m.Size = blob.Size()
	m.MIMEType = blob.MIMEType
	m.Checksum = Checksum(blob.Data)
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	return m
}

// verify reports whether blob matches the checksum recorded in m.
// Records without a checksum are accepted as is.
func (m Metadata) verify(blob audio.Blob) bool {
	return m.Checksum == "" || m.Checksum == Checksum(blob.Data)
}
