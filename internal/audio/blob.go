// Package audio provides decoding, segment extraction and WAV encoding
// for recorded audio clips.
package audio

import (
	"bytes"
	"mime"
	"strings"
)

// Common MIME types handled by the package.
const (
	MIMETypeWAV  = "audio/wav"
	MIMETypeMP3  = "audio/mpeg"
	MIMETypeWebM = "audio/webm"
	MIMETypeOgg  = "audio/ogg"
	MIMETypeMP4  = "audio/mp4"
)

// Blob is an opaque audio payload together with its MIME type.
// Blobs handed to the package are treated as immutable.
type Blob struct {
	Data     []byte
	MIMEType string
}

// Size returns the payload length in bytes.
func (b Blob) Size() int {
	return len(b.Data)
}

// Empty reports whether the blob carries no data.
func (b Blob) Empty() bool {
	return len(b.Data) == 0
}

// Clone returns a deep copy of b.
func (b Blob) Clone() Blob {
	data := make([]byte, len(b.Data))
	copy(data, b.Data)
	return Blob{Data: data, MIMEType: b.MIMEType}
}

// Equal reports whether two blobs carry identical bytes.
func (b Blob) Equal(other Blob) bool {
	return bytes.Equal(b.Data, other.Data)
}

// Container identifies the container format of a payload.
type Container string

// Containers recognised by Sniff.
const (
	ContainerUnknown Container = ""
	ContainerWAV     Container = "wav"
	ContainerMP3     Container = "mp3"
	ContainerWebM    Container = "webm"
	ContainerOgg     Container = "ogg"
	ContainerMP4     Container = "m4a"
)

// Sniff determines the container of b, preferring the declared MIME type
// and falling back to magic bytes.
func Sniff(b Blob) Container {
	switch baseMIME(b.MIMEType) {
	case "audio/wav", "audio/x-wav", "audio/wave", "audio/vnd.wave":
		return ContainerWAV
	case "audio/mpeg", "audio/mp3":
		return ContainerMP3
	case "audio/webm", "video/webm":
		return ContainerWebM
	case "audio/ogg", "application/ogg":
		return ContainerOgg
	case "audio/mp4", "audio/x-m4a", "audio/aac":
		return ContainerMP4
	}

	data := b.Data
	switch {
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return ContainerWAV
	case len(data) >= 3 && string(data[0:3]) == "ID3":
		return ContainerMP3
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return ContainerMP3
	case len(data) >= 4 && bytes.Equal(data[0:4], []byte{0x1A, 0x45, 0xDF, 0xA3}):
		return ContainerWebM
	case len(data) >= 4 && string(data[0:4]) == "OggS":
		return ContainerOgg
	case len(data) >= 8 && string(data[4:8]) == "ftyp":
		return ContainerMP4
	}
	return ContainerUnknown
}

// ExtensionFor returns the file extension (without dot) used for a MIME type.
// Unknown types map to "bin".
func ExtensionFor(mimeType string) string {
	c := Sniff(Blob{MIMEType: mimeType})
	if c == ContainerUnknown {
		return "bin"
	}
	return string(c)
}

// MIMETypeFor returns the canonical MIME type of a container.
func MIMETypeFor(c Container) string {
	switch c {
	case ContainerWAV:
		return MIMETypeWAV
	case ContainerMP3:
		return MIMETypeMP3
	case ContainerWebM:
		return MIMETypeWebM
	case ContainerOgg:
		return MIMETypeOgg
	case ContainerMP4:
		return MIMETypeMP4
	default:
		return "application/octet-stream"
	}
}

// baseMIME strips parameters such as ";codecs=opus" from a MIME type.
func baseMIME(mimeType string) string {
	if mimeType == "" {
		return ""
	}
	base, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		base, _, _ = strings.Cut(mimeType, ";")
	}
	return strings.ToLower(strings.TrimSpace(base))
}
