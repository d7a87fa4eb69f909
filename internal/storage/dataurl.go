package storage

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/maauso/voiceclip-api/internal/audio"
)

const dataScheme = "data:"

// EncodeDataURL renders blob as data:<mime>;base64,<payload>.
func EncodeDataURL(blob audio.Blob) string {
	mimeType := blob.MIMEType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return dataScheme + mimeType + ";base64," + base64.StdEncoding.EncodeToString(blob.Data)
}

// DecodeDataURL parses a base64 data URL back into a blob.
func DecodeDataURL(s string) (audio.Blob, error) {
	if !strings.HasPrefix(s, dataScheme) {
		return audio.Blob{}, fmt.Errorf("%w: not a data URL", ErrInvalidLocator)
	}
	header, payload, ok := strings.Cut(s[len(dataScheme):], ",")
	if !ok {
		return audio.Blob{}, fmt.Errorf("%w: data URL has no payload", ErrInvalidLocator)
	}
	mimeType, ok := strings.CutSuffix(header, ";base64")
	if !ok {
		return audio.Blob{}, fmt.Errorf("%w: data URL is not base64", ErrInvalidLocator)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return audio.Blob{}, fmt.Errorf("%w: %w", ErrInvalidLocator, err)
	}
	return audio.Blob{Data: data, MIMEType: mimeType}, nil
}

func isDataURL(locator string) bool {
	return strings.HasPrefix(locator, dataScheme)
}
