// Package session provides the audio editing session: the selection and
// committed segments of one editing pass over a source recording, with a
// state machine guarding export.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maauso/voiceclip-api/internal/audio"
	"github.com/maauso/voiceclip-api/internal/timerange"
)

// State represents the current state of a Session.
type State string

const (
	// StateIdle indicates no selection is in progress.
	StateIdle State = "IDLE"
	// StateHasSelection indicates an uncommitted selection is active.
	StateHasSelection State = "HAS_SELECTION"
	// StateExporting indicates an export is running.
	StateExporting State = "EXPORTING"
	// StateDone indicates the editing pass was exported.
	StateDone State = "DONE"
)

// Static errors for session operations.
var (
	// ErrInvalidTransition is returned when an invalid state transition is attempted.
	ErrInvalidTransition = errors.New("session: invalid state transition")
	// ErrSessionDone is returned when editing a session whose pass was exported.
	ErrSessionDone = errors.New("session: editing pass is done")
	// ErrExportInProgress is returned when editing or exporting during an export.
	ErrExportInProgress = errors.New("session: export in progress")
	// ErrSuperseded is returned for an export whose pass was reset or discarded
	// before it finished. Its result is dropped.
	ErrSuperseded = errors.New("session: export superseded")
	// ErrSourceRequired is returned when opening a session without audio.
	ErrSourceRequired = errors.New("session: source audio is required")
	// ErrUnplayableSource is returned when the source cannot be decoded.
	ErrUnplayableSource = audio.ErrUnplayableSource
)

// validTransitions defines which state transitions are allowed within one pass.
var validTransitions = map[State][]State{
	StateIdle:         {StateHasSelection, StateExporting},
	StateHasSelection: {StateIdle, StateExporting},
	StateExporting:    {StateDone, StateIdle},
	StateDone:         {},
}

// canTransition checks if a transition from one state to another is valid.
func canTransition(from, to State) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Origin tells which edits an export was built from.
type Origin string

// Export origins, in precedence order.
const (
	OriginSegments  Origin = "segments"
	OriginRegions   Origin = "regions"
	OriginSelection Origin = "selection"
	OriginSource    Origin = "source"
)

// Result describes the last successful export of a pass.
type Result struct {
	TrackID  string
	Locator  string
	Layer    string
	URL      string
	MIMEType string
	Size     int
	Origin   Origin
	Encoded  bool
}

// Session is the aggregate for one recording being edited.
type Session struct {
	mu sync.RWMutex

	// ID is the unique identifier for this session.
	ID string
	// TrackID is the id the export is stored under. Empty until assigned.
	TrackID string
	// Title, Username and Filename travel with the stored metadata.
	Title    string
	Username string
	Filename string
	// Source is the immutable recording of the current pass.
	Source audio.Blob
	// AdvisoryDuration is the duration reported by the producer of Source.
	AdvisoryDuration float64
	// Duration is the decoded duration, or AdvisoryDuration when unknown.
	Duration float64
	// SourceErr is set when Source was decoded on open and failed.
	// It wraps ErrUnplayableSource.
	SourceErr error
	// State is the current session state.
	State State
	// Selection is the in-progress range, nil when none.
	Selection *timerange.Range
	// Segments are the committed ranges, in output order.
	Segments timerange.Set
	// Regions are supplied by an external waveform editor.
	Regions timerange.Set
	// Generation counts editing passes; it changes on every Reset.
	Generation int
	// Error holds the message of the last failed export.
	Error string
	// Result is set once the pass reaches DONE.
	Result *Result
	// CreatedAt is when the session was created.
	CreatedAt time.Time
	// UpdatedAt is when the session was last updated.
	UpdatedAt time.Time
}

// New creates a new Session in IDLE state over source.
func New(source audio.Blob, advisoryDuration float64) *Session {
	now := time.Now()
	return &Session{
		ID:               uuid.NewString(),
		Source:           source,
		AdvisoryDuration: advisoryDuration,
		Duration:         advisoryDuration,
		State:            StateIdle,
		Generation:       1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// transitionTo changes the state. Callers hold the lock.
func (s *Session) transitionTo(state State) error {
	if !canTransition(s.State, state) {
		return ErrInvalidTransition
	}
	s.State = state
	s.UpdatedAt = time.Now()
	return nil
}

// editable reports why the session refuses edits. Callers hold the lock.
func (s *Session) editable() error {
	switch s.State {
	case StateDone:
		return ErrSessionDone
	case StateExporting:
		return ErrExportInProgress
	}
	return nil
}

// SetSelection records the in-progress range; nil clears it.
func (s *Session) SetSelection(r *timerange.Range) error {
	if r != nil {
		if err := r.Validate(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.editable(); err != nil {
		return err
	}

	target := StateIdle
	if r != nil {
		sel := *r
		s.Selection = &sel
		target = StateHasSelection
	} else {
		s.Selection = nil
	}
	if s.State != target {
		return s.transitionTo(target)
	}
	s.UpdatedAt = time.Now()
	return nil
}

// CommitSegment moves the selection into the committed segments.
// It reports false and changes nothing when no selection is active or the
// session does not accept edits.
func (s *Session) CommitSegment() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Selection == nil || s.editable() != nil {
		return false
	}

	s.Segments = append(s.Segments.Clone(), *s.Selection)
	s.Selection = nil
	if s.State == StateHasSelection {
		_ = s.transitionTo(StateIdle)
	}
	s.UpdatedAt = time.Now()
	return true
}

// RemoveSegment removes the committed segment at index. Out-of-range
// indices and sessions that do not accept edits are silent no-ops.
func (s *Session) RemoveSegment(index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.editable() != nil {
		return false
	}
	segments, ok := s.Segments.Remove(index)
	if !ok {
		return false
	}
	s.Segments = segments
	s.UpdatedAt = time.Now()
	return true
}

// SetRegions replaces the externally supplied regions.
func (s *Session) SetRegions(regions timerange.Set) error {
	if err := regions.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.editable(); err != nil {
		return err
	}
	s.Regions = regions.Clone()
	s.UpdatedAt = time.Now()
	return nil
}

// EffectiveRanges returns the ranges an export would extract, and where they
// come from. A nil set means the whole source.
func (s *Session) EffectiveRanges() (timerange.Set, Origin) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.effectiveRanges()
}

func (s *Session) effectiveRanges() (timerange.Set, Origin) {
	switch {
	case len(s.Segments) > 0:
		return s.Segments.Clone(), OriginSegments
	case len(s.Regions) > 0:
		return s.Regions.Clone(), OriginRegions
	case s.Selection != nil && s.Selection.Valid():
		return timerange.Set{*s.Selection}, OriginSelection
	default:
		return nil, OriginSource
	}
}

// SetDuration records the decoded duration of the source.
func (s *Session) SetDuration(seconds float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Duration = seconds
}

func (s *Session) setSourceErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SourceErr = err
}

// Reset starts a new editing pass over source. Any export still running for
// the previous pass is superseded.
func (s *Session) Reset(source audio.Blob, advisoryDuration float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Source = source
	s.AdvisoryDuration = advisoryDuration
	s.Duration = advisoryDuration
	s.SourceErr = nil
	s.State = StateIdle
	s.Selection = nil
	s.Segments = nil
	s.Regions = nil
	s.Error = ""
	s.Result = nil
	s.Generation++
	s.UpdatedAt = time.Now()
}

// plan is the snapshot an export works from.
type plan struct {
	generation int
	source     audio.Blob
	ranges     timerange.Set
	origin     Origin
	duration   float64
	sourceErr  error
}

// beginExport moves the session to EXPORTING and snapshots the edits.
func (s *Session) beginExport() (plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.State {
	case StateExporting:
		return plan{}, ErrExportInProgress
	case StateDone:
		return plan{}, ErrSessionDone
	}
	if err := s.transitionTo(StateExporting); err != nil {
		return plan{}, err
	}
	s.Error = ""

	ranges, origin := s.effectiveRanges()
	return plan{
		generation: s.Generation,
		source:     s.Source,
		ranges:     ranges,
		origin:     origin,
		duration:   s.Duration,
		sourceErr:  s.SourceErr,
	}, nil
}

// finishExport records a successful export of pass generation.
func (s *Session) finishExport(generation int, res Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Generation != generation {
		return ErrSuperseded
	}
	if err := s.transitionTo(StateDone); err != nil {
		return err
	}
	if res.TrackID != "" {
		s.TrackID = res.TrackID
	}
	s.Result = &res
	return nil
}

// failExport returns the session to IDLE after a failed export of pass
// generation. Selection, segments and regions are kept for a retry.
func (s *Session) failExport(generation int, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Generation != generation {
		return ErrSuperseded
	}
	if err := s.transitionTo(StateIdle); err != nil {
		return err
	}
	s.Error = cause.Error()
	return nil
}

// GetState returns the current state (thread-safe).
func (s *Session) GetState() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.State
}

// Clone creates a deep copy of the session for safe reads.
func (s *Session) Clone() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sel *timerange.Range
	if s.Selection != nil {
		r := *s.Selection
		sel = &r
	}
	var res *Result
	if s.Result != nil {
		r := *s.Result
		res = &r
	}

	return &Session{
		ID:               s.ID,
		TrackID:          s.TrackID,
		Title:            s.Title,
		Username:         s.Username,
		Filename:         s.Filename,
		Source:           s.Source,
		AdvisoryDuration: s.AdvisoryDuration,
		Duration:         s.Duration,
		SourceErr:        s.SourceErr,
		State:            s.State,
		Selection:        sel,
		Segments:         s.Segments.Clone(),
		Regions:          s.Regions.Clone(),
		Generation:       s.Generation,
		Error:            s.Error,
		Result:           res,
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
	}
}
