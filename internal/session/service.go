package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/google/uuid"

	"github.com/maauso/voiceclip-api/internal/audio"
	"github.com/maauso/voiceclip-api/internal/encode"
	"github.com/maauso/voiceclip-api/internal/publish"
	"github.com/maauso/voiceclip-api/internal/storage"
	"github.com/maauso/voiceclip-api/internal/timerange"
)

// ErrStoreRequired is returned by Publish when no store is configured.
var ErrStoreRequired = errors.New("session: no store configured")

// Store persists exported audio under a track id.
type Store interface {
	Store(ctx context.Context, id string, blob audio.Blob, meta storage.Metadata) (storage.StoreResult, error)
}

var _ Store = (*storage.Chain)(nil)

// OpenInput contains the parameters for opening a session.
type OpenInput struct {
	// Source is the recorded or uploaded audio.
	Source audio.Blob
	// Duration is the producer's duration estimate, in seconds. Advisory only.
	Duration float64
	// TrackID is the id to store the export under. Generated when empty.
	TrackID  string
	Title    string
	Username string
	Filename string
}

// PublishInput contains the parameters for Publish.
type PublishInput struct {
	ExportOptions
	// TrackID overrides the session's track id.
	TrackID string
	// Upload also hands the stored track to the configured publisher.
	Upload bool
}

// PublishOutput contains the result of Publish.
type PublishOutput struct {
	Session  *Session
	Exported Exported
	Stored   storage.StoreResult
	// URL is set when the track was uploaded.
	URL string
	// UploadErr is set when the upload failed. The track is stored regardless.
	UploadErr error
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithEncoder enables encoded exports.
func WithEncoder(enc encode.Encoder) ServiceOption {
	return func(s *Service) {
		s.exporter.encoder = enc
	}
}

// WithStore sets the store used by Publish.
func WithStore(store Store) ServiceOption {
	return func(s *Service) {
		s.store = store
	}
}

// WithPublisher sets the downstream publisher.
func WithPublisher(p publish.Publisher) ServiceOption {
	return func(s *Service) {
		s.publisher = p
	}
}

// WithInspector makes Open and Reset decode the source to learn its real duration.
func WithInspector(dec audio.Decoder) ServiceOption {
	return func(s *Service) {
		s.inspector = dec
	}
}

// Service is the editing use case. It loads sessions from the repository,
// applies edits and runs exports.
type Service struct {
	repo      Repository
	exporter  exporter
	store     Store
	publisher publish.Publisher
	inspector audio.Decoder
	logger    *slog.Logger

	// mu serializes load-modify-save cycles. Exports release it while
	// they run.
	mu sync.Mutex
}

// NewService creates a new Service.
func NewService(repo Repository, extractor Extractor, logger *slog.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		repo:     repo,
		exporter: exporter{extractor: extractor, logger: logger},
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open creates a session over a new source recording.
func (s *Service) Open(ctx context.Context, in OpenInput) (*Session, error) {
	if in.Source.Empty() {
		return nil, ErrSourceRequired
	}

	sess := New(in.Source, in.Duration)
	sess.TrackID = in.TrackID
	sess.Title = in.Title
	sess.Username = in.Username
	sess.Filename = in.Filename
	s.inspect(ctx, sess)

	s.logger.Info("session opened",
		slog.String("session_id", sess.ID),
		slog.String("mime_type", in.Source.MIMEType),
		slog.Int("size", in.Source.Size()),
		slog.Float64("duration", sess.Duration),
	)

	if err := s.repo.Save(ctx, sess); err != nil {
		s.logger.Error("failed to save session",
			slog.String("session_id", sess.ID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	return sess.Clone(), nil
}

// inspect replaces the advisory duration with the decoded one. A source that
// cannot be decoded keeps the advisory value and is marked unplayable, so
// that exporting it fails even when no edits require a decode.
func (s *Service) inspect(ctx context.Context, sess *Session) {
	if s.inspector == nil {
		return
	}
	info, err := audio.Inspect(ctx, s.inspector, sess.Source)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("source cannot be decoded",
			slog.String("session_id", sess.ID),
			slog.String("error", err.Error()),
		)
		sess.setSourceErr(err)
		return
	}
	sess.setSourceErr(nil)
	sess.SetDuration(info.Seconds)
}

// Get retrieves a session by ID.
func (s *Service) Get(ctx context.Context, id string) (*Session, error) {
	return s.repo.FindByID(ctx, id)
}

// List returns all sessions.
func (s *Service) List(ctx context.Context) ([]*Session, error) {
	return s.repo.List(ctx)
}

// update applies fn to the stored session and saves the result.
func (s *Service) update(ctx context.Context, id string, fn func(*Session) error) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(sess); err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// SetSelection records or clears (nil) the in-progress range.
func (s *Service) SetSelection(ctx context.Context, id string, r *timerange.Range) (*Session, error) {
	return s.update(ctx, id, func(sess *Session) error {
		return sess.SetSelection(r)
	})
}

// CommitSegment commits the current selection. Without a selection it is a no-op.
func (s *Service) CommitSegment(ctx context.Context, id string) (*Session, error) {
	return s.update(ctx, id, func(sess *Session) error {
		sess.CommitSegment()
		return nil
	})
}

// RemoveSegment removes a committed segment. Out-of-range indices are a no-op.
func (s *Service) RemoveSegment(ctx context.Context, id string, index int) (*Session, error) {
	return s.update(ctx, id, func(sess *Session) error {
		sess.RemoveSegment(index)
		return nil
	})
}

// SetRegions replaces the externally supplied regions.
func (s *Service) SetRegions(ctx context.Context, id string, regions timerange.Set) (*Session, error) {
	return s.update(ctx, id, func(sess *Session) error {
		return sess.SetRegions(regions)
	})
}

// Reset starts a fresh editing pass over a new source. An export still
// running for the previous pass is discarded when it finishes.
func (s *Service) Reset(ctx context.Context, id string, source audio.Blob, duration float64) (*Session, error) {
	if source.Empty() {
		return nil, ErrSourceRequired
	}
	return s.update(ctx, id, func(sess *Session) error {
		sess.Reset(source, duration)
		s.inspect(ctx, sess)
		return nil
	})
}

// Discard deletes a session. A running export is discarded when it finishes.
func (s *Service) Discard(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo.Delete(ctx, id)
}

// Export extracts (and optionally encodes) the session's effective ranges
// and moves it to DONE. The exported blob is returned to the caller and
// not retained by the session.
func (s *Service) Export(ctx context.Context, id string, opts ExportOptions) (Exported, *Session, error) {
	var out Exported
	sess, err := s.run(ctx, id, opts, func(_ context.Context, _ *Session, x Exported) (Result, error) {
		out = x
		return Result{
			MIMEType: x.Blob.MIMEType,
			Size:     x.Blob.Size(),
			Origin:   x.Origin,
			Encoded:  x.Encoded,
		}, nil
	})
	if err != nil {
		return Exported{}, nil, err
	}
	return out, sess, nil
}

// Publish exports the session, stores the result through the store under
// its track id and, when asked, uploads it. The session reaches DONE once
// the store succeeded; a failed store returns it to IDLE.
func (s *Service) Publish(ctx context.Context, id string, in PublishInput) (PublishOutput, error) {
	if s.store == nil {
		return PublishOutput{}, ErrStoreRequired
	}

	var out PublishOutput
	sess, err := s.run(ctx, id, in.ExportOptions, func(ctx context.Context, snap *Session, x Exported) (Result, error) {
		trackID := in.TrackID
		if trackID == "" {
			trackID = snap.TrackID
		}
		if trackID == "" {
			trackID = uuid.NewString()
		}

		duration := snap.Duration
		if x.Origin != OriginSource {
			limit := snap.Duration
			if limit <= 0 {
				limit = math.Inf(1)
			}
			duration = x.Ranges.TotalDuration(limit)
		}

		stored, err := s.store.Store(ctx, trackID, x.Blob, storage.Metadata{
			Title:    snap.Title,
			Duration: duration,
			Username: snap.Username,
			Filename: snap.Filename,
		})
		if err != nil {
			return Result{}, &ExportError{Stage: StageStore, Err: err}
		}

		res := Result{
			TrackID:  trackID,
			Locator:  stored.Locator,
			Layer:    stored.Layer,
			MIMEType: x.Blob.MIMEType,
			Size:     x.Blob.Size(),
			Origin:   x.Origin,
			Encoded:  x.Encoded,
		}

		if in.Upload && s.publisher != nil {
			url, err := s.publisher.Publish(ctx, trackID, x.Blob)
			if err != nil {
				s.logger.Warn("upload failed, track kept in storage",
					slog.String("track_id", trackID),
					slog.String("error", err.Error()),
				)
				out.UploadErr = err
			} else {
				res.URL = url
				out.URL = url
			}
		}

		out.Exported = x
		out.Stored = stored
		return res, nil
	})
	if err != nil {
		return PublishOutput{}, err
	}

	out.Session = sess
	return out, nil
}

type handoff func(ctx context.Context, snap *Session, x Exported) (Result, error)

// run drives one export: EXPORTING, extraction and encoding outside the
// lock, the handoff, then DONE or back to IDLE.
func (s *Service) run(ctx context.Context, id string, opts ExportOptions, next handoff) (*Session, error) {
	s.mu.Lock()
	sess, err := s.repo.FindByID(ctx, id)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	p, err := sess.beginExport()
	if err == nil {
		err = s.repo.Save(ctx, sess)
	}
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	s.logger.Info("export started",
		slog.String("session_id", id),
		slog.String("origin", string(p.origin)),
		slog.Int("ranges", len(p.ranges)),
		slog.String("format", string(opts.Format)),
	)

	x, err := s.exporter.run(ctx, p, opts)
	var res Result
	if err == nil {
		res, err = next(ctx, sess, x)
	}

	return s.settle(ctx, id, p.generation, res, err)
}

// settle records the outcome of an export of pass generation.
func (s *Service) settle(ctx context.Context, id string, generation int, res Result, cause error) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// The outcome must be recorded even when the caller gave up.
	ctx = context.WithoutCancel(ctx)

	sess, err := s.repo.FindByID(ctx, id)
	if errors.Is(err, ErrSessionNotFound) {
		s.logger.Info("export dropped, session discarded", slog.String("session_id", id))
		return nil, ErrSuperseded
	}
	if err != nil {
		return nil, err
	}

	if cause != nil {
		if err := sess.failExport(generation, cause); err != nil {
			return nil, s.dropped(id, err)
		}
		if err := s.repo.Save(ctx, sess); err != nil {
			return nil, err
		}
		s.logger.Error("export failed",
			slog.String("session_id", id),
			slog.String("error", cause.Error()),
		)
		return nil, cause
	}

	if err := sess.finishExport(generation, res); err != nil {
		return nil, s.dropped(id, err)
	}
	if err := s.repo.Save(ctx, sess); err != nil {
		return nil, err
	}

	s.logger.Info("export finished",
		slog.String("session_id", id),
		slog.String("track_id", res.TrackID),
		slog.String("layer", res.Layer),
		slog.Int("size", res.Size),
		slog.Bool("encoded", res.Encoded),
	)
	return sess.Clone(), nil
}

func (s *Service) dropped(id string, err error) error {
	if errors.Is(err, ErrSuperseded) {
		s.logger.Info("export dropped, session was reset", slog.String("session_id", id))
		return err
	}
	return fmt.Errorf("session: settle export: %w", err)
}
