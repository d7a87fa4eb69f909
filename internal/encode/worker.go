package encode

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/maauso/voiceclip-api/internal/audio"
)

type request struct {
	ctx    context.Context
	blob   audio.Blob
	format Format
	resp   chan result
}

type result struct {
	blob audio.Blob
	err  error
}

// Worker runs encoding requests on a fixed pool of background goroutines.
// Callers talk to it through the Encoder interface; requests and results
// travel over channels.
type Worker struct {
	encoder Encoder
	workers int
	logger  *slog.Logger

	queue     chan request
	closed    chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	started   bool
	stopped   bool
	closeOnce sync.Once
}

// NewWorker creates a pool of n goroutines in front of enc.
// n below 1 is treated as 1.
func NewWorker(enc Encoder, n int, logger *slog.Logger) *Worker {
	if n < 1 {
		n = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		encoder: enc,
		workers: n,
		logger:  logger,
		queue:   make(chan request, n*2),
		closed:  make(chan struct{}),
	}
}

// Start launches the pool. When ctx is done the pool stops accepting
// requests and answers the queued ones with ErrWorkerStopped.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started || w.stopped {
		return
	}
	w.started = true
	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx)
	}

	go func() {
		select {
		case <-ctx.Done():
			w.close()
		case <-w.closed:
		}
	}()
}

// Stop closes the queue and waits for in-flight requests to finish.
func (w *Worker) Stop() {
	w.close()
	w.wg.Wait()
}

func (w *Worker) close() {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.stopped = true
		close(w.queue)
		close(w.closed)
		w.mu.Unlock()
	})
}

// Encode implements Encoder by queueing the request and waiting for its result.
func (w *Worker) Encode(ctx context.Context, b audio.Blob, f Format) (audio.Blob, error) {
	req := request{ctx: ctx, blob: b, format: f, resp: make(chan result, 1)}

	if err := w.submit(ctx, req); err != nil {
		return audio.Blob{}, err
	}

	select {
	case res := <-req.resp:
		return res.blob, res.err
	case <-ctx.Done():
		return audio.Blob{}, ctx.Err()
	}
}

func (w *Worker) submit(ctx context.Context, req request) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stopped || !w.started {
		return ErrWorkerStopped
	}
	select {
	case w.queue <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run serves the queue until it is closed. Once ctx is done the remaining
// requests are answered without encoding.
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	for req := range w.queue {
		if ctx.Err() != nil {
			req.resp <- result{err: ErrWorkerStopped}
			continue
		}
		w.handle(req)
	}
}

func (w *Worker) handle(req request) {
	if err := req.ctx.Err(); err != nil {
		req.resp <- result{err: err}
		return
	}

	start := time.Now()
	out, err := w.encoder.Encode(req.ctx, req.blob, req.format)
	if err != nil {
		w.logger.Warn("encode request failed",
			slog.String("format", string(req.format)),
			slog.Int("input_bytes", req.blob.Size()),
			slog.String("error", err.Error()),
		)
	} else {
		w.logger.Debug("encode request completed",
			slog.String("format", string(req.format)),
			slog.Int("input_bytes", req.blob.Size()),
			slog.Int("output_bytes", out.Size()),
			slog.Duration("duration", time.Since(start)),
		)
	}
	req.resp <- result{blob: out, err: err}
}

// Verify interface implementation at compile time.
var _ Encoder = (*Worker)(nil)
