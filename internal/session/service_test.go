package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/gopxl/beep"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maauso/voiceclip-api/internal/audio"
	"github.com/maauso/voiceclip-api/internal/encode"
	"github.com/maauso/voiceclip-api/internal/storage"
	"github.com/maauso/voiceclip-api/internal/timerange"
)

const testSampleRate = 8000

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// toneWAV renders a mono WAV whose amplitude changes every second.
func toneWAV(t *testing.T, seconds float64) audio.Blob {
	t.Helper()
	format := beep.Format{SampleRate: testSampleRate, NumChannels: 1, Precision: 2}
	total := int(math.Round(seconds * testSampleRate))
	pos := 0
	s := beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		if pos >= total {
			return 0, false
		}
		n := 0
		for n < len(samples) && pos < total {
			v := float64(pos/testSampleRate+1) / 20
			samples[n] = [2]float64{v, v}
			n++
			pos++
		}
		return n, true
	})
	data, err := audio.EncodeWAV(format, s)
	require.NoError(t, err)
	return audio.Blob{Data: data, MIMEType: audio.MIMETypeWAV}
}

func decodedSeconds(t *testing.T, b audio.Blob) float64 {
	t.Helper()
	info, err := audio.Inspect(context.Background(), audio.NewBeepDecoder(), b)
	require.NoError(t, err)
	return info.Seconds
}

type mockEncoder struct {
	mock.Mock
}

func (m *mockEncoder) Encode(ctx context.Context, b audio.Blob, f encode.Format) (audio.Blob, error) {
	args := m.Called(ctx, b, f)
	return args.Get(0).(audio.Blob), args.Error(1)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, id string, b audio.Blob) (string, error) {
	args := m.Called(ctx, id, b)
	return args.String(0), args.Error(1)
}

type failingStore struct{}

func (failingStore) Store(_ context.Context, id string, _ audio.Blob, _ storage.Metadata) (storage.StoreResult, error) {
	return storage.StoreResult{}, &storage.PersistenceError{ID: id}
}

// blockingExtractor waits for release before delegating.
type blockingExtractor struct {
	started chan struct{}
	release chan struct{}
	next    Extractor
}

func (b *blockingExtractor) Extract(ctx context.Context, src audio.Blob, ranges timerange.Set) (audio.Blob, error) {
	close(b.started)
	<-b.release
	return b.next.Extract(ctx, src, ranges)
}

func newExtractor() *audio.Extractor {
	return audio.NewExtractor(audio.NewBeepDecoder(), discardLogger())
}

func newTestService(opts ...ServiceOption) *Service {
	return NewService(NewMemoryRepository(), newExtractor(), discardLogger(), opts...)
}

func newChain(t *testing.T) *storage.Chain {
	t.Helper()
	kv, err := storage.OpenKVBackend(storage.KVConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	return storage.NewChain([]storage.Backend{
		storage.NewMemoryBackend(),
		storage.NewObjectURLBackend(""),
		kv,
	}, storage.WithLogger(discardLogger()))
}

func TestNewService(t *testing.T) {
	repo := NewMemoryRepository()

	svc := NewService(repo, newExtractor(), nil)
	require.NotNil(t, svc)
	assert.Equal(t, repo, svc.repo)
	assert.NotNil(t, svc.logger)
	assert.Nil(t, svc.store)
}

func TestService_Open(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(WithInspector(audio.NewBeepDecoder()))

	_, err := svc.Open(ctx, OpenInput{})
	assert.ErrorIs(t, err, ErrSourceRequired)

	src := toneWAV(t, 3)
	sess, err := svc.Open(ctx, OpenInput{Source: src, Duration: 2.9, Title: "hello"})
	require.NoError(t, err)
	assert.Equal(t, StateIdle, sess.State)
	assert.Equal(t, 2.9, sess.AdvisoryDuration)
	assert.InDelta(t, 3.0, sess.Duration, 1.0/testSampleRate, "decoded duration replaces the advisory one")

	got, err := svc.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Title)
}

func TestService_Open_UndecodableKeepsAdvisoryDuration(t *testing.T) {
	svc := newTestService(WithInspector(audio.NewBeepDecoder()))
	sess, err := svc.Open(context.Background(), OpenInput{
		Source:   audio.Blob{Data: []byte("not audio"), MIMEType: audio.MIMETypeWAV},
		Duration: 4,
	})
	require.NoError(t, err)
	assert.Equal(t, 4.0, sess.Duration)
}

func TestService_EditsOnMissingSession(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	_, err := svc.SetSelection(ctx, "missing", rangePtr(0, 1))
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = svc.CommitSegment(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, _, err = svc.Export(ctx, "missing", ExportOptions{})
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, svc.Discard(ctx, "missing"), ErrSessionNotFound)
}

func TestService_EditFlow(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()
	sess, err := svc.Open(ctx, OpenInput{Source: toneWAV(t, 10), Duration: 10})
	require.NoError(t, err)

	_, err = svc.SetSelection(ctx, sess.ID, rangePtr(2, 4))
	require.NoError(t, err)
	_, err = svc.CommitSegment(ctx, sess.ID)
	require.NoError(t, err)
	_, err = svc.SetSelection(ctx, sess.ID, rangePtr(6, 6.5))
	require.NoError(t, err)
	got, err := svc.CommitSegment(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, timerange.Set{timerange.MustNew(2, 4), timerange.MustNew(6, 6.5)}, got.Segments)

	got, err = svc.RemoveSegment(ctx, sess.ID, 5)
	require.NoError(t, err, "out-of-range removal is a silent no-op")
	assert.Len(t, got.Segments, 2)

	_, err = svc.SetSelection(ctx, sess.ID, &timerange.Range{Start: 3, End: 1})
	assert.ErrorIs(t, err, timerange.ErrInvalidRange)
}

func TestService_Export_WholeSourceByDefault(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()
	src := toneWAV(t, 2)
	sess, err := svc.Open(ctx, OpenInput{Source: src})
	require.NoError(t, err)

	x, done, err := svc.Export(ctx, sess.ID, ExportOptions{})
	require.NoError(t, err)
	assert.Equal(t, OriginSource, x.Origin)
	assert.Equal(t, src.Data, x.Blob.Data)
	assert.Equal(t, StateDone, done.State)
	assert.Equal(t, OriginSource, done.Result.Origin)
}

func TestService_Export_Segments(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()
	sess, err := svc.Open(ctx, OpenInput{Source: toneWAV(t, 10), Duration: 10})
	require.NoError(t, err)

	for _, r := range []*timerange.Range{rangePtr(2, 4), rangePtr(6, 6.5)} {
		_, err = svc.SetSelection(ctx, sess.ID, r)
		require.NoError(t, err)
		_, err = svc.CommitSegment(ctx, sess.ID)
		require.NoError(t, err)
	}

	x, done, err := svc.Export(ctx, sess.ID, ExportOptions{})
	require.NoError(t, err)
	assert.Equal(t, OriginSegments, x.Origin)
	assert.Equal(t, audio.MIMETypeWAV, x.Blob.MIMEType)
	assert.InDelta(t, 2.5, decodedSeconds(t, x.Blob), 1.0/testSampleRate)
	assert.Equal(t, StateDone, done.State)

	_, _, err = svc.Export(ctx, sess.ID, ExportOptions{})
	assert.ErrorIs(t, err, ErrSessionDone)
}

func TestService_Export_RegionsAndSelection(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()
	sess, err := svc.Open(ctx, OpenInput{Source: toneWAV(t, 5)})
	require.NoError(t, err)

	_, err = svc.SetSelection(ctx, sess.ID, rangePtr(0, 1))
	require.NoError(t, err)
	_, err = svc.SetRegions(ctx, sess.ID, timerange.Set{timerange.MustNew(1, 3)})
	require.NoError(t, err)

	x, _, err := svc.Export(ctx, sess.ID, ExportOptions{})
	require.NoError(t, err)
	assert.Equal(t, OriginRegions, x.Origin)
	assert.InDelta(t, 2.0, decodedSeconds(t, x.Blob), 1.0/testSampleRate)
}

func TestService_Export_UnplayableSource(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()
	sess, err := svc.Open(ctx, OpenInput{Source: audio.Blob{Data: []byte("garbage"), MIMEType: audio.MIMETypeWAV}})
	require.NoError(t, err)
	_, err = svc.SetSelection(ctx, sess.ID, rangePtr(0, 1))
	require.NoError(t, err)

	_, _, err = svc.Export(ctx, sess.ID, ExportOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnplayableSource)
	assert.NotErrorIs(t, err, ErrExportFailed)

	got, err := svc.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, got.State)
	assert.NotEmpty(t, got.Error)
}

func TestService_Export_UnplayableSourceWithoutEdits(t *testing.T) {
	ctx := context.Background()
	chain := newChain(t)
	svc := newTestService(WithInspector(audio.NewBeepDecoder()), WithStore(chain))
	sess, err := svc.Open(ctx, OpenInput{
		Source:  audio.Blob{Data: []byte("garbage"), MIMEType: audio.MIMETypeWAV},
		TrackID: "t1",
	})
	require.NoError(t, err)
	assert.ErrorIs(t, sess.SourceErr, ErrUnplayableSource)

	_, _, err = svc.Export(ctx, sess.ID, ExportOptions{})
	assert.ErrorIs(t, err, ErrUnplayableSource)

	_, err = svc.Publish(ctx, sess.ID, PublishInput{})
	assert.ErrorIs(t, err, ErrUnplayableSource)

	got, err := svc.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, got.State)
	assert.NotEmpty(t, got.Error)

	_, err = chain.Load(ctx, "t1")
	assert.ErrorIs(t, err, storage.ErrAudioNotFound)
}

func TestService_Reset_ClearsSourceError(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(WithInspector(audio.NewBeepDecoder()))
	sess, err := svc.Open(ctx, OpenInput{Source: audio.Blob{Data: []byte("garbage"), MIMEType: audio.MIMETypeWAV}})
	require.NoError(t, err)
	require.Error(t, sess.SourceErr)

	src := toneWAV(t, 1)
	reset, err := svc.Reset(ctx, sess.ID, src, 1)
	require.NoError(t, err)
	assert.NoError(t, reset.SourceErr)

	x, _, err := svc.Export(ctx, sess.ID, ExportOptions{})
	require.NoError(t, err)
	assert.Equal(t, OriginSource, x.Origin)
	assert.Equal(t, src.Data, x.Blob.Data)
}

func TestService_Export_EncodeSuccess(t *testing.T) {
	ctx := context.Background()
	enc := &mockEncoder{}
	encoded := audio.Blob{Data: []byte("mp3 bytes"), MIMEType: audio.MIMETypeMP3}
	enc.On("Encode", mock.Anything, mock.Anything, encode.FormatMP3).Return(encoded, nil)

	svc := newTestService(WithEncoder(enc))
	sess, err := svc.Open(ctx, OpenInput{Source: toneWAV(t, 1)})
	require.NoError(t, err)

	x, done, err := svc.Export(ctx, sess.ID, ExportOptions{Format: encode.FormatMP3})
	require.NoError(t, err)
	assert.True(t, x.Encoded)
	assert.Equal(t, encoded, x.Blob)
	assert.True(t, done.Result.Encoded)
	enc.AssertExpectations(t)
}

func TestService_Export_EncodeFailureFallsBack(t *testing.T) {
	ctx := context.Background()
	enc := &mockEncoder{}
	enc.On("Encode", mock.Anything, mock.Anything, encode.FormatOpus).
		Return(audio.Blob{}, encode.ErrEncodeFailed)

	svc := newTestService(WithEncoder(enc))
	src := toneWAV(t, 1)
	sess, err := svc.Open(ctx, OpenInput{Source: src})
	require.NoError(t, err)

	x, done, err := svc.Export(ctx, sess.ID, ExportOptions{Format: encode.FormatOpus})
	require.NoError(t, err)
	assert.False(t, x.Encoded)
	assert.ErrorIs(t, x.EncodeErr, encode.ErrEncodeFailed)
	assert.Equal(t, src.Data, x.Blob.Data)
	assert.Equal(t, StateDone, done.State)
}

func TestService_Export_StrictEncoding(t *testing.T) {
	ctx := context.Background()
	enc := &mockEncoder{}
	enc.On("Encode", mock.Anything, mock.Anything, encode.FormatMP3).
		Return(audio.Blob{}, encode.ErrEncodeFailed)

	svc := newTestService(WithEncoder(enc))
	sess, err := svc.Open(ctx, OpenInput{Source: toneWAV(t, 1)})
	require.NoError(t, err)

	_, _, err = svc.Export(ctx, sess.ID, ExportOptions{Format: encode.FormatMP3, StrictEncoding: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExportFailed)
	assert.ErrorIs(t, err, encode.ErrEncodeFailed)

	var xerr *ExportError
	require.True(t, errors.As(err, &xerr))
	assert.Equal(t, StageEncode, xerr.Stage)

	got, _ := svc.Get(ctx, sess.ID)
	assert.Equal(t, StateIdle, got.State)

	_, _, err = svc.Export(ctx, sess.ID, ExportOptions{})
	assert.NoError(t, err, "retry without encoding succeeds")
}

func TestService_Export_NoEncoderConfigured(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()
	sess, err := svc.Open(ctx, OpenInput{Source: toneWAV(t, 1)})
	require.NoError(t, err)

	x, _, err := svc.Export(ctx, sess.ID, ExportOptions{Format: encode.FormatMP3})
	require.NoError(t, err)
	assert.False(t, x.Encoded)
	assert.ErrorIs(t, x.EncodeErr, encode.ErrEncodeFailed)
}

func TestService_Export_Concurrent(t *testing.T) {
	ctx := context.Background()
	blocker := &blockingExtractor{started: make(chan struct{}), release: make(chan struct{}), next: newExtractor()}
	svc := NewService(NewMemoryRepository(), blocker, discardLogger())
	sess, err := svc.Open(ctx, OpenInput{Source: toneWAV(t, 2)})
	require.NoError(t, err)
	_, err = svc.SetSelection(ctx, sess.ID, rangePtr(0, 1))
	require.NoError(t, err)

	var wg sync.WaitGroup
	var firstErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _, firstErr = svc.Export(ctx, sess.ID, ExportOptions{})
	}()
	<-blocker.started

	_, _, err = svc.Export(ctx, sess.ID, ExportOptions{})
	assert.ErrorIs(t, err, ErrExportInProgress)
	_, err = svc.SetSelection(ctx, sess.ID, nil)
	assert.ErrorIs(t, err, ErrExportInProgress)

	close(blocker.release)
	wg.Wait()
	assert.NoError(t, firstErr)
}

func TestService_ResetSupersedesRunningExport(t *testing.T) {
	ctx := context.Background()
	blocker := &blockingExtractor{started: make(chan struct{}), release: make(chan struct{}), next: newExtractor()}
	svc := NewService(NewMemoryRepository(), blocker, discardLogger())
	sess, err := svc.Open(ctx, OpenInput{Source: toneWAV(t, 2)})
	require.NoError(t, err)
	_, err = svc.SetSelection(ctx, sess.ID, rangePtr(0, 1))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, _, err := svc.Export(ctx, sess.ID, ExportOptions{})
		done <- err
	}()
	<-blocker.started

	next := toneWAV(t, 1)
	reset, err := svc.Reset(ctx, sess.ID, next, 1)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, reset.State)
	_, err = svc.SetSelection(ctx, sess.ID, rangePtr(0, 0.5))
	require.NoError(t, err)

	close(blocker.release)
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrSuperseded)
	case <-time.After(5 * time.Second):
		t.Fatal("export did not finish")
	}

	got, err := svc.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StateHasSelection, got.State, "new pass untouched by the stale export")
	assert.Equal(t, 2, got.Generation)
	assert.Nil(t, got.Result)
	assert.Equal(t, next.Data, got.Source.Data)
}

func TestService_DiscardSupersedesRunningExport(t *testing.T) {
	ctx := context.Background()
	blocker := &blockingExtractor{started: make(chan struct{}), release: make(chan struct{}), next: newExtractor()}
	svc := NewService(NewMemoryRepository(), blocker, discardLogger())
	sess, err := svc.Open(ctx, OpenInput{Source: toneWAV(t, 2)})
	require.NoError(t, err)
	_, err = svc.SetSelection(ctx, sess.ID, rangePtr(0, 1))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, _, err := svc.Export(ctx, sess.ID, ExportOptions{})
		done <- err
	}()
	<-blocker.started

	require.NoError(t, svc.Discard(ctx, sess.ID))
	close(blocker.release)
	assert.ErrorIs(t, <-done, ErrSuperseded)

	_, err = svc.Get(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestService_Publish(t *testing.T) {
	ctx := context.Background()
	chain := newChain(t)
	svc := newTestService(WithStore(chain))

	sess, err := svc.Open(ctx, OpenInput{Source: toneWAV(t, 4), TrackID: "t1", Title: "take", Username: "ana"})
	require.NoError(t, err)
	_, err = svc.SetSelection(ctx, sess.ID, rangePtr(1, 3))
	require.NoError(t, err)

	out, err := svc.Publish(ctx, sess.ID, PublishInput{})
	require.NoError(t, err)
	assert.Equal(t, "memory", out.Stored.Layer)
	assert.Equal(t, "mem:t1", out.Stored.Locator)
	assert.Empty(t, out.URL)
	assert.Equal(t, StateDone, out.Session.State)
	assert.Equal(t, "t1", out.Session.Result.TrackID)
	assert.Equal(t, "mem:t1", out.Session.Result.Locator)

	e, err := chain.Load(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, out.Exported.Blob.Data, e.Blob.Data)
	assert.Equal(t, "take", e.Metadata.Title)
	assert.Equal(t, "ana", e.Metadata.Username)
	assert.InDelta(t, 2.0, e.Metadata.Duration, 1e-9)
}

func TestService_Publish_GeneratesTrackID(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(WithStore(newChain(t)))
	sess, err := svc.Open(ctx, OpenInput{Source: toneWAV(t, 1)})
	require.NoError(t, err)

	out, err := svc.Publish(ctx, sess.ID, PublishInput{})
	require.NoError(t, err)
	assert.NotEmpty(t, out.Session.TrackID)
	assert.Equal(t, out.Session.TrackID, out.Session.Result.TrackID)
}

func TestService_Publish_RequiresStore(t *testing.T) {
	svc := newTestService()
	_, err := svc.Publish(context.Background(), "any", PublishInput{})
	assert.ErrorIs(t, err, ErrStoreRequired)
}

func TestService_Publish_PersistenceFailure(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(WithStore(failingStore{}))
	sess, err := svc.Open(ctx, OpenInput{Source: toneWAV(t, 1)})
	require.NoError(t, err)

	_, err = svc.Publish(ctx, sess.ID, PublishInput{TrackID: "t1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrPersistence)
	assert.ErrorIs(t, err, ErrExportFailed)

	got, _ := svc.Get(ctx, sess.ID)
	assert.Equal(t, StateIdle, got.State)
	assert.Empty(t, got.TrackID)
}

func TestService_Publish_Upload(t *testing.T) {
	ctx := context.Background()
	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, "t1", mock.Anything).Return("https://cdn.example/tracks/t1.wav", nil)

	svc := newTestService(WithStore(newChain(t)), WithPublisher(pub))
	sess, err := svc.Open(ctx, OpenInput{Source: toneWAV(t, 1), TrackID: "t1"})
	require.NoError(t, err)

	out, err := svc.Publish(ctx, sess.ID, PublishInput{Upload: true})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/tracks/t1.wav", out.URL)
	assert.Equal(t, out.URL, out.Session.Result.URL)
	pub.AssertExpectations(t)
}

func TestService_Publish_UploadFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, "t1", mock.Anything).Return("", errors.New("bucket offline"))

	svc := newTestService(WithStore(newChain(t)), WithPublisher(pub))
	sess, err := svc.Open(ctx, OpenInput{Source: toneWAV(t, 1), TrackID: "t1"})
	require.NoError(t, err)

	out, err := svc.Publish(ctx, sess.ID, PublishInput{Upload: true})
	require.NoError(t, err)
	assert.Error(t, out.UploadErr)
	assert.Equal(t, StateDone, out.Session.State)
	assert.Equal(t, "mem:t1", out.Stored.Locator)
}
