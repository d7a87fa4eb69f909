package audio

import (
	"math"
	"time"

	"github.com/gopxl/beep"

	"github.com/maauso/voiceclip-api/internal/timerange"
)

// PCM is a fully decoded, linear sample buffer.
type PCM struct {
	Format beep.Format
	buf    *beep.Buffer
}

// newPCM drains s into a buffer using format f.
func newPCM(s beep.Streamer, f beep.Format) (*PCM, error) {
	f = normalizeFormat(f)
	buf := beep.NewBuffer(f)
	buf.Append(s)
	if err := s.Err(); err != nil {
		return nil, err
	}
	return &PCM{Format: f, buf: buf}, nil
}

// Len returns the number of sample frames.
func (p *PCM) Len() int {
	return p.buf.Len()
}

// Duration returns the decoded duration.
func (p *PCM) Duration() time.Duration {
	return p.Format.SampleRate.D(p.Len())
}

// Seconds returns the decoded duration in seconds.
func (p *PCM) Seconds() float64 {
	if p.Format.SampleRate <= 0 {
		return 0
	}
	return float64(p.Len()) / float64(p.Format.SampleRate)
}

// Span converts r into a frame interval [from, to) clamped to the buffer.
// An interval that lies outside the audio yields from == to.
func (p *PCM) Span(r timerange.Range) (from, to int) {
	sr := float64(p.Format.SampleRate)
	n := p.Len()
	from = clampInt(int(math.Round(r.Start*sr)), 0, n)
	to = clampInt(int(math.Round(r.End*sr)), from, n)
	return from, to
}

// Slice returns a streamer over frames [from, to).
func (p *PCM) Slice(from, to int) beep.StreamSeeker {
	return p.buf.Streamer(from, to)
}

// Streamer returns a streamer over the whole buffer.
func (p *PCM) Streamer() beep.StreamSeeker {
	return p.buf.Streamer(0, p.Len())
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// normalizeFormat keeps the precision within what the WAV encoder writes.
func normalizeFormat(f beep.Format) beep.Format {
	if f.Precision < 1 || f.Precision > 3 {
		f.Precision = 2
	}
	if f.NumChannels < 1 {
		f.NumChannels = 1
	}
	return f
}
