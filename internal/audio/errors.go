package audio

import "errors"

// ErrUnplayableSource indicates the source blob could not be decoded.
// Callers should offer re-recording rather than retrying the export.
var ErrUnplayableSource = errors.New("audio: source cannot be decoded")

// ErrUnsupportedFormat indicates no decoder handles the blob's container.
var ErrUnsupportedFormat = errors.New("audio: unsupported format")

// ErrNoRanges is returned when extraction is requested with an empty range list.
var ErrNoRanges = errors.New("audio: no ranges to extract")

// ErrEmptySource is returned when the source blob carries no data.
var ErrEmptySource = errors.New("audio: empty source")

// ErrFFmpegFailed indicates the ffmpeg process exited with an error.
var ErrFFmpegFailed = errors.New("audio: ffmpeg failed")
