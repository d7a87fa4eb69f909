package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/maauso/voiceclip-api/internal/audio"
	"github.com/maauso/voiceclip-api/internal/encode"
	"github.com/maauso/voiceclip-api/internal/timerange"
)

// ErrExportFailed is matched by every ExportError.
var ErrExportFailed = errors.New("session: export failed")

// Export stages reported by ExportError.
const (
	StageExtract = "extract"
	StageEncode  = "encode"
	StageStore   = "store"
)

// ExportError reports a recoverable export failure. The session returns to
// IDLE and the export may be retried.
type ExportError struct {
	Stage string
	Err   error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("session: export failed during %s: %v", e.Stage, e.Err)
}

// Unwrap exposes ErrExportFailed and the cause.
func (e *ExportError) Unwrap() []error {
	return []error{ErrExportFailed, e.Err}
}

// Extractor produces the export blob for a set of ranges.
type Extractor interface {
	Extract(ctx context.Context, src audio.Blob, ranges timerange.Set) (audio.Blob, error)
}

var _ Extractor = (*audio.Extractor)(nil)

// ExportOptions tunes one export.
type ExportOptions struct {
	// Format selects an encoder output. FormatNone keeps the WAV.
	Format encode.Format
	// StrictEncoding fails the export when encoding fails instead of
	// falling back to the unencoded output.
	StrictEncoding bool
}

// Exported is the outcome of an export.
type Exported struct {
	Blob    audio.Blob
	Origin  Origin
	Ranges  timerange.Set
	Encoded bool
	// EncodeErr is set when encoding failed and the unencoded output was kept.
	EncodeErr error
}

// exporter turns a plan into audio.
type exporter struct {
	extractor Extractor
	encoder   encode.Encoder
	logger    *slog.Logger
}

func (x *exporter) run(ctx context.Context, p plan, opts ExportOptions) (Exported, error) {
	out := Exported{Origin: p.origin, Ranges: p.ranges, Blob: p.source}

	// The whole-source path never decodes; rely on the decode check from Open.
	if p.origin == OriginSource && p.sourceErr != nil {
		return Exported{}, p.sourceErr
	}

	if p.origin != OriginSource {
		blob, err := x.extractor.Extract(ctx, p.source, p.ranges)
		switch {
		case err == nil:
			out.Blob = blob
		case errors.Is(err, audio.ErrUnplayableSource):
			return Exported{}, err
		case ctx.Err() != nil:
			return Exported{}, ctx.Err()
		default:
			return Exported{}, &ExportError{Stage: StageExtract, Err: err}
		}
	}

	if opts.Format == encode.FormatNone {
		return out, nil
	}

	if x.encoder == nil {
		err := fmt.Errorf("%w: no encoder configured", encode.ErrEncodeFailed)
		if opts.StrictEncoding {
			return Exported{}, &ExportError{Stage: StageEncode, Err: err}
		}
		out.EncodeErr = err
		return out, nil
	}

	encoded, err := x.encoder.Encode(ctx, out.Blob, opts.Format)
	if err != nil {
		if ctx.Err() != nil {
			return Exported{}, ctx.Err()
		}
		if opts.StrictEncoding {
			return Exported{}, &ExportError{Stage: StageEncode, Err: err}
		}
		x.logger.Warn("encoding failed, keeping unencoded export",
			slog.String("format", string(opts.Format)),
			slog.String("error", err.Error()),
		)
		out.EncodeErr = err
		return out, nil
	}

	out.Blob = encoded
	out.Encoded = true
	return out, nil
}
