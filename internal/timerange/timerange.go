// Package timerange models the [start, end) time intervals that select
// segments of an audio recording.
package timerange

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidRange is returned when a range does not satisfy 0 <= start < end.
var ErrInvalidRange = errors.New("timerange: invalid range")

// Range is one selected segment of a recording, in seconds.
// End is exclusive.
type Range struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// New creates a Range, failing with ErrInvalidRange unless
// start >= 0, end > start and both values are finite.
func New(start, end float64) (Range, error) {
	r := Range{Start: start, End: end}
	if err := r.Validate(); err != nil {
		return Range{}, err
	}
	return r, nil
}

// MustNew is like New but panics on an invalid range.
// Intended for tests and constant ranges.
func MustNew(start, end float64) Range {
	r, err := New(start, end)
	if err != nil {
		panic(err)
	}
	return r
}

// Validate reports whether r satisfies the range invariant.
func (r Range) Validate() error {
	switch {
	case math.IsNaN(r.Start) || math.IsNaN(r.End) || math.IsInf(r.Start, 0) || math.IsInf(r.End, 0):
		return fmt.Errorf("%w: non-finite bound in %s", ErrInvalidRange, r)
	case r.Start < 0:
		return fmt.Errorf("%w: start %.3f is negative", ErrInvalidRange, r.Start)
	case r.End <= r.Start:
		return fmt.Errorf("%w: end %.3f must be after start %.3f", ErrInvalidRange, r.End, r.Start)
	}
	return nil
}

// Valid is shorthand for Validate() == nil.
func (r Range) Valid() bool {
	return r.Validate() == nil
}

// Duration returns End - Start, or 0 for an inverted range.
func (r Range) Duration() float64 {
	if r.End <= r.Start {
		return 0
	}
	return r.End - r.Start
}

// Clamp limits r to [0, total]. The result may be empty (Start == End)
// when r lies entirely beyond total; Clamp never fails.
func (r Range) Clamp(total float64) Range {
	if total < 0 {
		total = 0
	}
	start := math.Max(0, math.Min(r.Start, total))
	end := math.Max(start, math.Min(r.End, total))
	return Range{Start: start, End: end}
}

// Covers reports whether r spans the whole of [0, total].
func (r Range) Covers(total float64) bool {
	return r.Start <= 0 && r.End >= total
}

// String renders the range as "start-end" with millisecond precision.
func (r Range) String() string {
	return fmt.Sprintf("%.3f-%.3f", r.Start, r.End)
}

// Parse reads a range written as "start-end", e.g. "2-4.5".
func Parse(s string) (Range, error) {
	startStr, endStr, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		return Range{}, fmt.Errorf("%w: %q is not in start-end form", ErrInvalidRange, s)
	}
	start, err := strconv.ParseFloat(strings.TrimSpace(startStr), 64)
	if err != nil {
		return Range{}, fmt.Errorf("%w: start %q: %v", ErrInvalidRange, startStr, err)
	}
	end, err := strconv.ParseFloat(strings.TrimSpace(endStr), 64)
	if err != nil {
		return Range{}, fmt.Errorf("%w: end %q: %v", ErrInvalidRange, endStr, err)
	}
	return New(start, end)
}

// Set is an ordered list of ranges. Order defines output order, and
// overlapping or duplicate ranges are kept as-is.
type Set []Range

// Clone returns an independent copy of s.
func (s Set) Clone() Set {
	if s == nil {
		return nil
	}
	out := make(Set, len(s))
	copy(out, s)
	return out
}

// Validate checks every range in s and reports the first failure with its index.
func (s Set) Validate() error {
	for i, r := range s {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("range %d: %w", i, err)
		}
	}
	return nil
}

// TotalDuration sums each range's duration after clamping to limit.
func (s Set) TotalDuration(limit float64) float64 {
	var total float64
	for _, r := range s {
		total += r.Clamp(limit).Duration()
	}
	return total
}

// Remove returns s without the element at index i.
// An out-of-range index leaves s unchanged and reports false.
func (s Set) Remove(i int) (Set, bool) {
	if i < 0 || i >= len(s) {
		return s, false
	}
	out := make(Set, 0, len(s)-1)
	out = append(out, s[:i]...)
	out = append(out, s[i+1:]...)
	return out, true
}
