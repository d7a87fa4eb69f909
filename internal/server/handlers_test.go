package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gopxl/beep"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/voiceclip-api/internal/audio"
	"github.com/maauso/voiceclip-api/internal/session"
	"github.com/maauso/voiceclip-api/internal/storage"
)

type testEnv struct {
	handler http.Handler
	chain   *storage.Chain
	service *session.Service
}

func newTestEnv(t *testing.T, layers ...storage.Backend) testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	if len(layers) == 0 {
		kv, err := storage.OpenKVBackend(storage.KVConfig{})
		require.NoError(t, err)
		t.Cleanup(func() { _ = kv.Close() })
		layers = []storage.Backend{storage.NewMemoryBackend(), storage.NewObjectURLBackend(""), kv}
	}
	chain := storage.NewChain(layers, storage.WithLogger(logger))

	extractor := audio.NewExtractor(audio.NewBeepDecoder(), logger)
	svc := session.NewService(session.NewMemoryRepository(), extractor, logger,
		session.WithStore(chain),
		session.WithInspector(audio.NewBeepDecoder()),
	)

	h := NewHandlers(svc, chain, logger)
	return testEnv{
		handler: NewRouter(h, logger, DefaultConfig()),
		chain:   chain,
		service: svc,
	}
}

func (e testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func toneWAV(t *testing.T, seconds float64) []byte {
	t.Helper()
	const rate = 8000
	format := beep.Format{SampleRate: rate, NumChannels: 1, Precision: 2}
	total := int(math.Round(seconds * rate))
	pos := 0
	s := beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		if pos >= total {
			return 0, false
		}
		n := 0
		for n < len(samples) && pos < total {
			v := float64(pos/rate+1) / 20
			samples[n] = [2]float64{v, v}
			n++
			pos++
		}
		return n, true
	})
	data, err := audio.EncodeWAV(format, s)
	require.NoError(t, err)
	return data
}

func (e testEnv) openSession(t *testing.T, seconds float64, trackID string) SessionResponse {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/sessions", OpenSessionRequest{
		AudioBase64: base64.StdEncoding.EncodeToString(toneWAV(t, seconds)),
		MIMEType:    audio.MIMETypeWAV,
		Duration:    seconds,
		TrackID:     trackID,
		Title:       "take",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[SessionResponse](t, rec)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[HealthResponse](t, rec)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, []string{"memory", "objecturl", "kv"}, resp.Layers)
}

func TestOpenSession(t *testing.T) {
	env := newTestEnv(t)

	resp := env.openSession(t, 3, "t1")

	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, "IDLE", resp.State)
	assert.Equal(t, "t1", resp.TrackID)
	assert.Equal(t, "source", resp.ExportOrigin)
	assert.InDelta(t, 3.0, resp.Duration, 0.001)
	assert.Equal(t, 1, resp.Generation)
}

func TestOpenSession_Validation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body any
		code string
	}{
		{"missing audio", OpenSessionRequest{MIMEType: audio.MIMETypeWAV}, "VALIDATION_ERROR"},
		{"not base64", OpenSessionRequest{AudioBase64: "%%%", MIMEType: audio.MIMETypeWAV}, "VALIDATION_ERROR"},
		{"missing mime type", OpenSessionRequest{AudioBase64: "AAAA"}, "VALIDATION_ERROR"},
		{"negative duration", OpenSessionRequest{AudioBase64: "AAAA", MIMEType: audio.MIMETypeWAV, Duration: -1}, "VALIDATION_ERROR"},
		{"bad track id", OpenSessionRequest{AudioBase64: "AAAA", MIMEType: audio.MIMETypeWAV, TrackID: "a/b"}, "VALIDATION_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/sessions", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.code, decodeBody[ErrorResponse](t, rec).Code)
		})
	}
}

func TestOpenSession_InvalidJSON(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/sessions", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()

	env.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_JSON", decodeBody[ErrorResponse](t, rec).Code)
}

func TestOpenSession_BodyTooLarge(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	chain := storage.NewChain([]storage.Backend{storage.NewMemoryBackend()}, storage.WithLogger(logger))
	svc := session.NewService(session.NewMemoryRepository(), audio.NewExtractor(audio.NewBeepDecoder(), logger), logger)
	h := NewHandlers(svc, chain, logger, WithMaxBodyBytes(16))

	body := `{"audio_base64":"` + strings.Repeat("A", 64) + `","mime_type":"audio/wav"}`
	req := httptest.NewRequest(http.MethodPost, "/sessions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	NewRouter(h, logger, DefaultConfig()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestGetSession_NotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/sessions/nope", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "SESSION_NOT_FOUND", decodeBody[ErrorResponse](t, rec).Code)
}

func TestSelectionAndSegments(t *testing.T) {
	env := newTestEnv(t)
	sess := env.openSession(t, 10, "")
	base := "/sessions/" + sess.ID

	rec := env.do(t, http.MethodPut, base+"/selection", SelectionRequest{Selection: &RangeDTO{Start: 2, End: 4}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeBody[SessionResponse](t, rec)
	assert.Equal(t, "HAS_SELECTION", resp.State)
	assert.Equal(t, "selection", resp.ExportOrigin)

	rec = env.do(t, http.MethodPost, base+"/segments", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decodeBody[SessionResponse](t, rec)
	assert.Equal(t, []RangeDTO{{Start: 2, End: 4}}, resp.Segments)
	assert.Nil(t, resp.Selection)
	assert.Equal(t, "segments", resp.ExportOrigin)

	rec = env.do(t, http.MethodDelete, base+"/segments/5", nil)
	require.Equal(t, http.StatusOK, rec.Code, "out-of-range removal is a no-op")
	assert.Len(t, decodeBody[SessionResponse](t, rec).Segments, 1)

	rec = env.do(t, http.MethodDelete, base+"/segments/x", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_INDEX", decodeBody[ErrorResponse](t, rec).Code)

	rec = env.do(t, http.MethodDelete, base+"/segments/0", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[SessionResponse](t, rec).Segments)

	rec = env.do(t, http.MethodPut, base+"/selection", SelectionRequest{})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "IDLE", decodeBody[SessionResponse](t, rec).State)
}

func TestSetSelection_InvalidRange(t *testing.T) {
	env := newTestEnv(t)
	sess := env.openSession(t, 2, "")

	rec := env.do(t, http.MethodPut, "/sessions/"+sess.ID+"/selection", SelectionRequest{Selection: &RangeDTO{Start: 3, End: 1}})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_RANGE", decodeBody[ErrorResponse](t, rec).Code)
}

func TestSetRegions(t *testing.T) {
	env := newTestEnv(t)
	sess := env.openSession(t, 5, "")
	path := "/sessions/" + sess.ID + "/regions"

	rec := env.do(t, http.MethodPut, path, RegionsRequest{Regions: []RangeDTO{{Start: 1, End: 2}, {Start: 0, End: 0.5}}})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[SessionResponse](t, rec)
	assert.Len(t, resp.Regions, 2)
	assert.Equal(t, "regions", resp.ExportOrigin)

	rec = env.do(t, http.MethodPut, path, RegionsRequest{Regions: []RangeDTO{{Start: 2, End: 2}}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_RANGE", decodeBody[ErrorResponse](t, rec).Code)
}

func TestExportAndTracks(t *testing.T) {
	env := newTestEnv(t)
	sess := env.openSession(t, 10, "t1")
	base := "/sessions/" + sess.ID

	for _, r := range []RangeDTO{{Start: 2, End: 4}, {Start: 6, End: 6.5}} {
		rec := env.do(t, http.MethodPut, base+"/selection", SelectionRequest{Selection: &r})
		require.Equal(t, http.StatusOK, rec.Code)
		rec = env.do(t, http.MethodPost, base+"/segments", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := env.do(t, http.MethodPost, base+"/export", ExportRequest{IncludeAudio: true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	exp := decodeBody[ExportResponse](t, rec)
	assert.Equal(t, "DONE", exp.Session.State)
	require.NotNil(t, exp.Session.Result)
	assert.Equal(t, "t1", exp.Session.Result.TrackID)
	assert.Equal(t, "memory", exp.Session.Result.Layer)
	assert.Equal(t, "segments", exp.Session.Result.Origin)
	assert.Len(t, exp.Layers, 3)
	for _, l := range exp.Layers {
		assert.True(t, l.OK, l.Layer)
	}

	exported, err := base64.StdEncoding.DecodeString(exp.AudioBase64)
	require.NoError(t, err)
	info, err := audio.Inspect(context.Background(), audio.NewBeepDecoder(), audio.Blob{Data: exported, MIMEType: audio.MIMETypeWAV})
	require.NoError(t, err)
	assert.InDelta(t, 2.5, info.Seconds, 0.001)

	rec = env.do(t, http.MethodPost, base+"/export", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "SESSION_DONE", decodeBody[ErrorResponse](t, rec).Code)

	rec = env.do(t, http.MethodGet, "/tracks/t1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	track := decodeBody[TrackResponse](t, rec)
	assert.Equal(t, "memory", track.Layer)
	assert.Equal(t, len(exported), track.Size)
	assert.Equal(t, "take", track.Title)
	assert.InDelta(t, 2.5, track.Duration, 0.001)

	rec = env.do(t, http.MethodGet, "/tracks/t1/audio", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, audio.MIMETypeWAV, rec.Header().Get("Content-Type"))
	assert.Equal(t, "memory", rec.Header().Get("X-Storage-Layer"))
	assert.Equal(t, exported, rec.Body.Bytes())
}

func TestExport_UnknownFormat(t *testing.T) {
	env := newTestEnv(t)
	sess := env.openSession(t, 1, "")

	rec := env.do(t, http.MethodPost, "/sessions/"+sess.ID+"/export", ExportRequest{Format: "flac"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeBody[ErrorResponse](t, rec).Code)
}

func TestExport_UnplayableSource(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/sessions", OpenSessionRequest{
		AudioBase64: base64.StdEncoding.EncodeToString([]byte("definitely not audio")),
		MIMEType:    audio.MIMETypeWAV,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	sess := decodeBody[SessionResponse](t, rec)
	assert.NotEmpty(t, sess.SourceError)

	rec = env.do(t, http.MethodPost, "/sessions/"+sess.ID+"/export", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, "whole-source export of undecodable audio")
	assert.Equal(t, "UNPLAYABLE_SOURCE", decodeBody[ErrorResponse](t, rec).Code)

	rec = env.do(t, http.MethodPut, "/sessions/"+sess.ID+"/selection", SelectionRequest{Selection: &RangeDTO{Start: 0, End: 1}})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/sessions/"+sess.ID+"/export", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "UNPLAYABLE_SOURCE", decodeBody[ErrorResponse](t, rec).Code)

	rec = env.do(t, http.MethodGet, "/sessions/"+sess.ID, nil)
	assert.Equal(t, "IDLE", decodeBody[SessionResponse](t, rec).State)
}

type brokenBackend struct{ name string }

func (b brokenBackend) Name() string { return b.name }
func (b brokenBackend) Put(context.Context, string, audio.Blob, storage.Metadata) (string, error) {
	return "", storage.ErrQuotaExceeded
}
func (b brokenBackend) Get(context.Context, string) (storage.Entry, error) {
	return storage.Entry{}, storage.ErrMiss
}
func (b brokenBackend) Delete(context.Context, string) error { return nil }

func TestExport_PersistenceFailed(t *testing.T) {
	env := newTestEnv(t, brokenBackend{name: "a"}, brokenBackend{name: "b"})
	sess := env.openSession(t, 1, "t1")

	rec := env.do(t, http.MethodPost, "/sessions/"+sess.ID+"/export", nil)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "PERSISTENCE_FAILED", decodeBody[ErrorResponse](t, rec).Code)

	rec = env.do(t, http.MethodGet, "/sessions/"+sess.ID, nil)
	assert.Equal(t, "IDLE", decodeBody[SessionResponse](t, rec).State)
}

func TestTracks_RepairAndDelete(t *testing.T) {
	env := newTestEnv(t)
	sess := env.openSession(t, 1, "t1")
	rec := env.do(t, http.MethodPost, "/sessions/"+sess.ID+"/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	env.chain.Reset()

	rec = env.do(t, http.MethodGet, "/tracks/t1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "kv", decodeBody[TrackResponse](t, rec).Layer)

	rec = env.do(t, http.MethodPost, "/tracks/t1/repair", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	repaired := decodeBody[TrackResponse](t, rec)
	assert.Equal(t, "memory", repaired.Layer)
	assert.Equal(t, "mem:t1", repaired.Locator)

	rec = env.do(t, http.MethodDelete, "/tracks/t1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	removed := decodeBody[RemoveTrackResponse](t, rec)
	assert.Equal(t, "t1", removed.ID)
	assert.Len(t, removed.Layers, 3)

	rec = env.do(t, http.MethodGet, "/tracks/t1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "AUDIO_NOT_FOUND", decodeBody[ErrorResponse](t, rec).Code)

	rec = env.do(t, http.MethodPost, "/tracks/t1/repair", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResetAndDeleteSession(t *testing.T) {
	env := newTestEnv(t)
	sess := env.openSession(t, 2, "")
	base := "/sessions/" + sess.ID

	rec := env.do(t, http.MethodPost, base+"/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, base+"/reset", ResetSessionRequest{
		AudioBase64: base64.StdEncoding.EncodeToString(toneWAV(t, 1)),
		MIMEType:    audio.MIMETypeWAV,
		Duration:    1,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeBody[SessionResponse](t, rec)
	assert.Equal(t, "IDLE", resp.State)
	assert.Equal(t, 2, resp.Generation)
	assert.Nil(t, resp.Result)

	rec = env.do(t, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWriteDomainError_Unexpected(t *testing.T) {
	env := newTestEnv(t)
	h := NewHandlers(env.service, env.chain, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)

	h.writeDomainError(rec, req, io.ErrUnexpectedEOF)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "INTERNAL_ERROR", resp.Code)
	assert.Equal(t, "internal server error", resp.Error)
}
