// Package publish hands finished tracks to durable downstream storage.
package publish

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/maauso/voiceclip-api/internal/audio"
)

// Static errors for publish operations.
var (
	// ErrBucketRequired is returned when no bucket is configured.
	ErrBucketRequired = errors.New("publish: bucket is required")
	// ErrUploadFailed is returned when the upload is rejected.
	ErrUploadFailed = errors.New("publish: upload failed")
)

// Publisher uploads a finished track and returns where it can be fetched.
type Publisher interface {
	Publish(ctx context.Context, id string, blob audio.Blob) (url string, err error)
}

// Key returns the object key used for a track.
func Key(id string, blob audio.Blob) string {
	return "tracks/" + strings.TrimPrefix(id, "/") + "." + audio.ExtensionFor(blob.MIMEType)
}

func wrapUpload(key string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUploadFailed, key, err)
}
