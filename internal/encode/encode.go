// Package encode bridges exported PCM audio to an external encoder that
// produces a compressed distribution format.
package encode

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/maauso/voiceclip-api/internal/audio"
)

// Static errors for encoding operations.
var (
	// ErrUnknownFormat is returned when a target format name is not recognised.
	ErrUnknownFormat = errors.New("encode: unknown format")
	// ErrEncodeFailed is returned when the external encoder fails.
	ErrEncodeFailed = errors.New("encode: encoder failed")
	// ErrWorkerStopped is returned when a request reaches a stopped worker.
	ErrWorkerStopped = errors.New("encode: worker stopped")
)

// Format is a compressed target format.
type Format string

const (
	// FormatNone skips encoding.
	FormatNone Format = ""
	// FormatMP3 encodes to MPEG-1 Layer III.
	FormatMP3 Format = "mp3"
	// FormatOpus encodes to Opus in an Ogg container.
	FormatOpus Format = "opus"
)

// ParseFormat converts a user-supplied name into a Format.
// The empty string maps to FormatNone.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatNone, FormatMP3, FormatOpus:
		return f, nil
	case "ogg":
		return FormatOpus, nil
	default:
		return FormatNone, fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// MIMEType returns the MIME type of encoded output.
func (f Format) MIMEType() string {
	switch f {
	case FormatMP3:
		return audio.MIMETypeMP3
	case FormatOpus:
		return audio.MIMETypeOgg
	default:
		return ""
	}
}

// Extension returns the file extension of encoded output.
func (f Format) Extension() string {
	switch f {
	case FormatMP3:
		return "mp3"
	case FormatOpus:
		return "ogg"
	default:
		return ""
	}
}

// Encoder converts a blob into the requested format.
type Encoder interface {
	Encode(ctx context.Context, b audio.Blob, f Format) (audio.Blob, error)
}
