package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/mp3"
	"github.com/gopxl/beep/wav"
)

// Decoder turns an encoded blob into a linear sample buffer.
type Decoder interface {
	// Decode decodes the whole blob. Implementations return an error
	// wrapping ErrUnsupportedFormat when they don't handle the container.
	Decode(ctx context.Context, b Blob) (*PCM, error)
}

// BeepDecoder decodes WAV and MP3 payloads in-process.
type BeepDecoder struct{}

// NewBeepDecoder creates a BeepDecoder.
func NewBeepDecoder() *BeepDecoder {
	return &BeepDecoder{}
}

// Decode implements Decoder.
func (d *BeepDecoder) Decode(ctx context.Context, b Blob) (*PCM, error) {
	if b.Empty() {
		return nil, ErrEmptySource
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		s      beep.StreamSeekCloser
		format beep.Format
		err    error
	)
	switch c := Sniff(b); c {
	case ContainerWAV:
		s, format, err = wav.Decode(bytes.NewReader(b.Data))
	case ContainerMP3:
		s, format, err = mp3.Decode(io.NopCloser(bytes.NewReader(b.Data)))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, b.MIMEType)
	}
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	defer func() { _ = s.Close() }()

	if format.SampleRate <= 0 {
		return nil, fmt.Errorf("decode: invalid sample rate %d", format.SampleRate)
	}

	pcm, err := newPCM(s, format)
	if err != nil {
		return nil, fmt.Errorf("decode samples: %w", err)
	}
	return pcm, ctx.Err()
}

// FallbackDecoder tries each decoder in order, moving on only when a
// decoder reports ErrUnsupportedFormat.
type FallbackDecoder struct {
	decoders []Decoder
}

// NewFallbackDecoder creates a decoder chain.
func NewFallbackDecoder(decoders ...Decoder) *FallbackDecoder {
	return &FallbackDecoder{decoders: decoders}
}

// Decode implements Decoder.
func (d *FallbackDecoder) Decode(ctx context.Context, b Blob) (*PCM, error) {
	lastErr := fmt.Errorf("%w: no decoder configured", ErrUnsupportedFormat)
	for _, dec := range d.decoders {
		pcm, err := dec.Decode(ctx, b)
		if err == nil {
			return pcm, nil
		}
		if !errors.Is(err, ErrUnsupportedFormat) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// Inspect decodes b and reports its authoritative duration and format.
func Inspect(ctx context.Context, dec Decoder, b Blob) (Info, error) {
	pcm, err := dec.Decode(ctx, b)
	if err != nil {
		return Info{}, fmt.Errorf("%w: %w", ErrUnplayableSource, err)
	}
	return Info{
		Seconds:     pcm.Seconds(),
		SampleRate:  int(pcm.Format.SampleRate),
		NumChannels: pcm.Format.NumChannels,
		Frames:      pcm.Len(),
	}, nil
}

// Info summarises a decoded blob.
type Info struct {
	Seconds     float64 `json:"seconds"`
	SampleRate  int     `json:"sample_rate"`
	NumChannels int     `json:"num_channels"`
	Frames      int     `json:"frames"`
}
