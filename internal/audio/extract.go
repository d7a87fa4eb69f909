package audio

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gopxl/beep"

	"github.com/maauso/voiceclip-api/internal/timerange"
)

// Extractor slices time ranges out of a source blob and concatenates them.
type Extractor struct {
	decoder Decoder
	logger  *slog.Logger
}

// NewExtractor creates an Extractor using dec to decode sources.
func NewExtractor(dec Decoder, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{decoder: dec, logger: logger}
}

// Extract decodes src once, copies every range in list order into one
// buffer and returns it as a PCM WAV blob.
//
// Ranges ending past the decoded duration are clamped; ranges entirely
// outside the audio contribute nothing. If every slice is empty the result
// is a valid WAV with no samples. A single range covering the whole source
// returns src unchanged. src is never modified.
func (e *Extractor) Extract(ctx context.Context, src Blob, ranges timerange.Set) (Blob, error) {
	if len(ranges) == 0 {
		return Blob{}, ErrNoRanges
	}
	if err := ranges.Validate(); err != nil {
		return Blob{}, err
	}

	pcm, err := e.decoder.Decode(ctx, src)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Blob{}, ctxErr
		}
		return Blob{}, fmt.Errorf("%w: %w", ErrUnplayableSource, err)
	}

	total := pcm.Seconds()
	if len(ranges) == 1 && ranges[0].Covers(total) {
		e.logger.Debug("selection covers the whole source, skipping re-encode",
			slog.Float64("duration_sec", total),
		)
		return src, nil
	}

	streamers := make([]beep.Streamer, 0, len(ranges))
	frames := 0
	for i, r := range ranges {
		from, to := pcm.Span(r)
		if from >= to {
			e.logger.Debug("range outside decoded audio",
				slog.Int("index", i),
				slog.String("range", r.String()),
				slog.Float64("duration_sec", total),
			)
			continue
		}
		streamers = append(streamers, pcm.Slice(from, to))
		frames += to - from
	}

	out := silence
	if len(streamers) > 0 {
		out = beep.Seq(streamers...)
	}

	if err := ctx.Err(); err != nil {
		return Blob{}, err
	}

	data, err := EncodeWAV(pcm.Format, out)
	if err != nil {
		return Blob{}, err
	}

	e.logger.Info("extracted audio segments",
		slog.Int("ranges", len(ranges)),
		slog.Int("frames", frames),
		slog.Float64("source_sec", total),
		slog.Float64("output_sec", float64(frames)/float64(pcm.Format.SampleRate)),
		slog.Int("bytes", len(data)),
	)

	return Blob{Data: data, MIMEType: MIMETypeWAV}, nil
}

// Decoder returns the decoder used by the extractor.
func (e *Extractor) Decoder() Decoder {
	return e.decoder
}
