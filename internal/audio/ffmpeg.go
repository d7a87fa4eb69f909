package audio

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"github.com/maauso/voiceclip-api/internal/tempfs"
)

// FFmpegDecoder handles containers beep cannot read (webm/opus, ogg, m4a)
// by converting them to 16-bit PCM WAV with the ffmpeg CLI first.
type FFmpegDecoder struct {
	ffmpegPath string
	temp       *tempfs.Store
	wav        Decoder
}

// NewFFmpegDecoder creates a new FFmpegDecoder.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found in PATH).
func NewFFmpegDecoder(ffmpegPath string, temp *tempfs.Store) *FFmpegDecoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpegDecoder{
		ffmpegPath: ffmpegPath,
		temp:       temp,
		wav:        NewBeepDecoder(),
	}
}

// Decode implements Decoder.
func (d *FFmpegDecoder) Decode(ctx context.Context, b Blob) (*PCM, error) {
	if b.Empty() {
		return nil, ErrEmptySource
	}
	if _, err := exec.LookPath(d.ffmpegPath); err != nil {
		return nil, fmt.Errorf("%w: ffmpeg not available: %v", ErrUnsupportedFormat, err)
	}

	inputPath, err := d.temp.SaveTemp(ctx, "decode_in_*."+string(Sniff(b)), bytes.NewReader(b.Data))
	if err != nil {
		return nil, fmt.Errorf("save input: %w", err)
	}
	outputPath, err := d.temp.ReserveTemp("decode_out_*.wav")
	if err != nil {
		_ = d.temp.CleanupTemp(inputPath)
		return nil, fmt.Errorf("reserve output: %w", err)
	}
	defer func() { _ = d.temp.CleanupTemp(inputPath, outputPath) }()

	if err := d.toWAV(ctx, inputPath, outputPath); err != nil {
		return nil, err
	}

	data, err := d.temp.LoadTemp(ctx, outputPath)
	if err != nil {
		return nil, fmt.Errorf("load converted audio: %w", err)
	}

	return d.wav.Decode(ctx, Blob{Data: data, MIMEType: MIMETypeWAV})
}

// toWAV converts any ffmpeg-readable input to signed 16-bit PCM WAV.
func (d *FFmpegDecoder) toWAV(ctx context.Context, inputPath, outputPath string) error {
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", inputPath,
		"-vn",
		"-acodec", "pcm_s16le",
		"-f", "wav",
		outputPath,
	}

	cmd := exec.CommandContext(ctx, d.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %v, stderr: %s", ErrFFmpegFailed, err, stderr.String())
	}

	return nil
}

// Verify interface implementation at compile time.
var (
	_ Decoder = (*FFmpegDecoder)(nil)
	_ Decoder = (*BeepDecoder)(nil)
	_ Decoder = (*FallbackDecoder)(nil)
)
