package encode

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"github.com/maauso/voiceclip-api/internal/audio"
	"github.com/maauso/voiceclip-api/internal/tempfs"
)

// FFmpegEncoder implements Encoder using the ffmpeg CLI.
type FFmpegEncoder struct {
	ffmpegPath string
	temp       *tempfs.Store
	bitrate    string
}

// NewFFmpegEncoder creates a new FFmpegEncoder.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found in PATH).
func NewFFmpegEncoder(ffmpegPath string, temp *tempfs.Store) *FFmpegEncoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpegEncoder{
		ffmpegPath: ffmpegPath,
		temp:       temp,
		bitrate:    "128k",
	}
}

// Encode implements Encoder.
func (e *FFmpegEncoder) Encode(ctx context.Context, b audio.Blob, f Format) (audio.Blob, error) {
	codecArgs, err := codecArgs(f, e.bitrate)
	if err != nil {
		return audio.Blob{}, err
	}

	inputPath, err := e.temp.SaveTemp(ctx, "encode_in_*."+audio.ExtensionFor(b.MIMEType), bytes.NewReader(b.Data))
	if err != nil {
		return audio.Blob{}, fmt.Errorf("save input: %w", err)
	}
	outputPath, err := e.temp.ReserveTemp("encode_out_*." + f.Extension())
	if err != nil {
		_ = e.temp.CleanupTemp(inputPath)
		return audio.Blob{}, fmt.Errorf("reserve output: %w", err)
	}
	defer func() { _ = e.temp.CleanupTemp(inputPath, outputPath) }()

	args := []string{"-y", "-hide_banner", "-loglevel", "error", "-i", inputPath, "-vn"}
	args = append(args, codecArgs...)
	args = append(args, outputPath)

	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return audio.Blob{}, fmt.Errorf("%w: %v, stderr: %s", ErrEncodeFailed, err, stderr.String())
	}

	data, err := e.temp.LoadTemp(ctx, outputPath)
	if err != nil {
		return audio.Blob{}, fmt.Errorf("%w: %v", ErrEncodeFailed, err)
	}
	if len(data) == 0 {
		return audio.Blob{}, fmt.Errorf("%w: empty output", ErrEncodeFailed)
	}

	return audio.Blob{Data: data, MIMEType: f.MIMEType()}, nil
}

// codecArgs returns the ffmpeg output options for a format.
func codecArgs(f Format, bitrate string) ([]string, error) {
	switch f {
	case FormatMP3:
		return []string{"-c:a", "libmp3lame", "-b:a", bitrate, "-f", "mp3"}, nil
	case FormatOpus:
		return []string{"-c:a", "libopus", "-b:a", bitrate, "-f", "ogg"}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, string(f))
	}
}

// Verify interface implementation at compile time.
var _ Encoder = (*FFmpegEncoder)(nil)
