package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/voiceclip-api/internal/audio"
	"github.com/maauso/voiceclip-api/internal/encode"
	"github.com/maauso/voiceclip-api/internal/session"
	"github.com/maauso/voiceclip-api/internal/storage"
	"github.com/maauso/voiceclip-api/internal/timerange"
)

// DefaultMaxBodyBytes bounds request bodies carrying base64 audio.
const DefaultMaxBodyBytes = 64 << 20

// Tracks is the storage surface used by the track endpoints.
type Tracks interface {
	Load(ctx context.Context, id string, opts ...storage.LoadOption) (storage.Entry, error)
	Repair(ctx context.Context, id string, opts ...storage.LoadOption) (storage.Entry, error)
	Remove(ctx context.Context, id string) storage.RemoveResult
	Layers() []string
}

var _ Tracks = (*storage.Chain)(nil)

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service      *session.Service
	tracks       Tracks
	validator    *validator.Validate
	logger       *slog.Logger
	maxBodyBytes int64
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithMaxBodyBytes bounds the size of request bodies.
func WithMaxBodyBytes(n int64) HandlerOption {
	return func(h *Handlers) {
		if n > 0 {
			h.maxBodyBytes = n
		}
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service *session.Service, tracks Tracks, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		service:      service,
		tracks:       tracks,
		validator:    validator.New(),
		logger:       logger,
		maxBodyBytes: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Layers: h.tracks.Layers()})
}

// OpenSession handles POST /sessions requests.
func (h *Handlers) OpenSession(w http.ResponseWriter, r *http.Request) {
	var req OpenSessionRequest
	if !h.decode(w, r, &req) {
		return
	}

	data, err := base64.StdEncoding.DecodeString(req.AudioBase64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "audio_base64 is not valid base64", "VALIDATION_ERROR")
		return
	}

	sess, err := h.service.Open(r.Context(), session.OpenInput{
		Source:   audio.Blob{Data: data, MIMEType: req.MIMEType},
		Duration: req.Duration,
		TrackID:  req.TrackID,
		Title:    req.Title,
		Username: req.Username,
		Filename: req.Filename,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toSessionResponse(sess))
}

// GetSession handles GET /sessions/{id} requests.
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.service.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(sess))
}

// DeleteSession handles DELETE /sessions/{id} requests.
func (h *Handlers) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Discard(r.Context(), r.PathValue("id")); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ResetSession handles POST /sessions/{id}/reset requests.
func (h *Handlers) ResetSession(w http.ResponseWriter, r *http.Request) {
	var req ResetSessionRequest
	if !h.decode(w, r, &req) {
		return
	}

	data, err := base64.StdEncoding.DecodeString(req.AudioBase64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "audio_base64 is not valid base64", "VALIDATION_ERROR")
		return
	}

	sess, err := h.service.Reset(r.Context(), r.PathValue("id"), audio.Blob{Data: data, MIMEType: req.MIMEType}, req.Duration)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(sess))
}

// SetSelection handles PUT /sessions/{id}/selection requests.
func (h *Handlers) SetSelection(w http.ResponseWriter, r *http.Request) {
	var req SelectionRequest
	if !h.decode(w, r, &req) {
		return
	}

	var sel *timerange.Range
	if req.Selection != nil {
		rng, err := timerange.New(req.Selection.Start, req.Selection.End)
		if err != nil {
			h.writeDomainError(w, r, err)
			return
		}
		sel = &rng
	}

	sess, err := h.service.SetSelection(r.Context(), r.PathValue("id"), sel)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(sess))
}

// CommitSegment handles POST /sessions/{id}/segments requests.
func (h *Handlers) CommitSegment(w http.ResponseWriter, r *http.Request) {
	sess, err := h.service.CommitSegment(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(sess))
}

// RemoveSegment handles DELETE /sessions/{id}/segments/{index} requests.
// Indices past the end are accepted and change nothing.
func (h *Handlers) RemoveSegment(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "segment index must be an integer", "INVALID_INDEX")
		return
	}

	sess, err := h.service.RemoveSegment(r.Context(), r.PathValue("id"), index)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(sess))
}

// SetRegions handles PUT /sessions/{id}/regions requests.
func (h *Handlers) SetRegions(w http.ResponseWriter, r *http.Request) {
	var req RegionsRequest
	if !h.decode(w, r, &req) {
		return
	}

	regions := make(timerange.Set, 0, len(req.Regions))
	for _, dto := range req.Regions {
		regions = append(regions, timerange.Range{Start: dto.Start, End: dto.End})
	}

	sess, err := h.service.SetRegions(r.Context(), r.PathValue("id"), regions)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(sess))
}

// ExportSession handles POST /sessions/{id}/export requests. The export is
// stored under the session's track id before the response is written.
func (h *Handlers) ExportSession(w http.ResponseWriter, r *http.Request) {
	var req ExportRequest
	if r.ContentLength != 0 {
		if !h.decode(w, r, &req) {
			return
		}
	}

	format, err := encode.ParseFormat(req.Format)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	out, err := h.service.Publish(r.Context(), r.PathValue("id"), session.PublishInput{
		ExportOptions: session.ExportOptions{Format: format, StrictEncoding: req.StrictEncoding},
		TrackID:       req.TrackID,
		Upload:        req.Upload,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	resp := ExportResponse{
		Session: toSessionResponse(out.Session),
		Layers:  toLayerDTOs(out.Stored.Outcomes),
	}
	if out.Exported.EncodeErr != nil {
		resp.EncodeError = out.Exported.EncodeErr.Error()
	}
	if out.UploadErr != nil {
		resp.UploadError = out.UploadErr.Error()
	}
	if req.IncludeAudio {
		resp.AudioBase64 = base64.StdEncoding.EncodeToString(out.Exported.Blob.Data)
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetTrack handles GET /tracks/{id} requests.
func (h *Handlers) GetTrack(w http.ResponseWriter, r *http.Request) {
	e, err := h.tracks.Load(r.Context(), r.PathValue("id"), hintFrom(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTrackResponse(e))
}

// GetTrackAudio handles GET /tracks/{id}/audio requests.
func (h *Handlers) GetTrackAudio(w http.ResponseWriter, r *http.Request) {
	e, err := h.tracks.Load(r.Context(), r.PathValue("id"), hintFrom(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	mimeType := e.Blob.MIMEType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Length", strconv.Itoa(e.Blob.Size()))
	w.Header().Set("X-Storage-Layer", e.Layer)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(e.Blob.Data); err != nil {
		h.logger.Warn("failed to write audio", slog.String("error", err.Error()))
	}
}

// RepairTrack handles POST /tracks/{id}/repair requests.
func (h *Handlers) RepairTrack(w http.ResponseWriter, r *http.Request) {
	e, err := h.tracks.Repair(r.Context(), r.PathValue("id"), hintFrom(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTrackResponse(e))
}

// DeleteTrack handles DELETE /tracks/{id} requests. Layer failures are
// reported in the body and never fail the request.
func (h *Handlers) DeleteTrack(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	res := h.tracks.Remove(r.Context(), id)
	writeJSON(w, http.StatusOK, RemoveTrackResponse{ID: id, Layers: toLayerDTOs(res.Outcomes)})
}

func hintFrom(r *http.Request) storage.LoadOption {
	q := r.URL.Query()
	return storage.WithHint(q.Get("username"), q.Get("filename"))
}

// decode reads and validates a JSON body, writing the error response itself.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large", "BODY_TOO_LARGE")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return false
	}

	if err := h.validator.Struct(dst); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return false
	}
	return true
}

// errorMapping translates domain errors into HTTP responses. Order matters:
// a failed store is both a persistence and an export failure.
var errorMapping = []struct {
	err    error
	status int
	code   string
}{
	{timerange.ErrInvalidRange, http.StatusBadRequest, "INVALID_RANGE"},
	{session.ErrSourceRequired, http.StatusBadRequest, "VALIDATION_ERROR"},
	{encode.ErrUnknownFormat, http.StatusBadRequest, "VALIDATION_ERROR"},
	{storage.ErrIDRequired, http.StatusBadRequest, "VALIDATION_ERROR"},
	{session.ErrSessionNotFound, http.StatusNotFound, "SESSION_NOT_FOUND"},
	{storage.ErrAudioNotFound, http.StatusNotFound, "AUDIO_NOT_FOUND"},
	{session.ErrExportInProgress, http.StatusConflict, "EXPORT_IN_PROGRESS"},
	{session.ErrSessionDone, http.StatusConflict, "SESSION_DONE"},
	{session.ErrSuperseded, http.StatusConflict, "EXPORT_SUPERSEDED"},
	{audio.ErrUnplayableSource, http.StatusUnprocessableEntity, "UNPLAYABLE_SOURCE"},
	{storage.ErrPersistence, http.StatusServiceUnavailable, "PERSISTENCE_FAILED"},
	{session.ErrExportFailed, http.StatusInternalServerError, "EXPORT_FAILED"},
}

func (h *Handlers) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	for _, m := range errorMapping {
		if errors.Is(err, m.err) {
			if m.status >= http.StatusInternalServerError {
				h.logger.Error("request failed",
					slog.String("path", r.URL.Path),
					slog.String("request_id", RequestIDFrom(r.Context())),
					slog.String("error", err.Error()),
				)
			}
			writeError(w, m.status, err.Error(), m.code)
			return
		}
	}

	h.logger.Error("unexpected error",
		slog.String("path", r.URL.Path),
		slog.String("request_id", RequestIDFrom(r.Context())),
		slog.String("error", err.Error()),
	)
	writeError(w, http.StatusInternalServerError, "internal server error", "INTERNAL_ERROR")
}

func toRangeDTOs(set timerange.Set) []RangeDTO {
	out := make([]RangeDTO, 0, len(set))
	for _, r := range set {
		out = append(out, RangeDTO{Start: r.Start, End: r.End})
	}
	return out
}

func toSessionResponse(s *session.Session) SessionResponse {
	_, origin := s.EffectiveRanges()
	resp := SessionResponse{
		ID:               s.ID,
		State:            string(s.State),
		TrackID:          s.TrackID,
		MIMEType:         s.Source.MIMEType,
		Size:             s.Source.Size(),
		Duration:         s.Duration,
		AdvisoryDuration: s.AdvisoryDuration,
		Segments:         toRangeDTOs(s.Segments),
		Regions:          toRangeDTOs(s.Regions),
		ExportOrigin:     string(origin),
		Generation:       s.Generation,
		Error:            s.Error,
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
	}
	if s.SourceErr != nil {
		resp.SourceError = s.SourceErr.Error()
	}
	if s.Selection != nil {
		resp.Selection = &RangeDTO{Start: s.Selection.Start, End: s.Selection.End}
	}
	if s.Result != nil {
		resp.Result = &ResultDTO{
			TrackID:  s.Result.TrackID,
			Locator:  s.Result.Locator,
			Layer:    s.Result.Layer,
			URL:      s.Result.URL,
			MIMEType: s.Result.MIMEType,
			Size:     s.Result.Size,
			Origin:   string(s.Result.Origin),
			Encoded:  s.Result.Encoded,
		}
	}
	return resp
}

func toLayerDTOs(outcomes []storage.LayerOutcome) []LayerDTO {
	out := make([]LayerDTO, 0, len(outcomes))
	for _, o := range outcomes {
		dto := LayerDTO{Layer: o.Layer, OK: o.OK(), DurationMS: o.Duration.Milliseconds()}
		if o.Err != nil {
			dto.Error = o.Err.Error()
		}
		out = append(out, dto)
	}
	return out
}

func toTrackResponse(e storage.Entry) TrackResponse {
	return TrackResponse{
		ID:        e.ID,
		Layer:     e.Layer,
		Locator:   e.Locator,
		MIMEType:  e.Blob.MIMEType,
		Size:      e.Blob.Size(),
		Title:     e.Metadata.Title,
		Duration:  e.Metadata.Duration,
		Username:  e.Metadata.Username,
		Filename:  e.Metadata.Filename,
		Checksum:  e.Metadata.Checksum,
		CreatedAt: e.Metadata.CreatedAt,
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
