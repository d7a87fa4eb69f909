package storage

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Default janitor settings.
const (
	DefaultRetention     = 7 * 24 * time.Hour
	DefaultPurgeInterval = time.Hour
)

// Purger deletes records created before a cutoff.
type Purger interface {
	Purge(ctx context.Context, before time.Time) (int, error)
}

var _ Purger = (*KVBackend)(nil)

// Janitor periodically purges records older than the retention window.
// It runs on its own goroutine and never on the Store or Load path.
type Janitor struct {
	purger    Purger
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewJanitor creates a janitor. Non-positive durations fall back to the defaults.
func NewJanitor(p Purger, retention, interval time.Duration, logger *slog.Logger) *Janitor {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if interval <= 0 {
		interval = DefaultPurgeInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		purger:    p,
		retention: retention,
		interval:  interval,
		logger:    logger,
		now:       time.Now,
	}
}

// Start launches the purge loop. Calling Start on a running janitor is a no-op.
func (j *Janitor) Start(ctx context.Context) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	j.cancel = cancel
	j.done = make(chan struct{})

	go j.loop(ctx, j.done)
}

// Stop ends the purge loop and waits for it to exit.
func (j *Janitor) Stop() {
	j.mu.Lock()
	cancel, done := j.cancel, j.done
	j.cancel, j.done = nil, nil
	j.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (j *Janitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = j.RunOnce(ctx)
		}
	}
}

// RunOnce purges immediately and returns the number of deleted records.
func (j *Janitor) RunOnce(ctx context.Context) (int, error) {
	cutoff := j.now().Add(-j.retention)
	n, err := j.purger.Purge(ctx, cutoff)
	if err != nil {
		j.logger.Error("purge failed", slog.String("error", err.Error()))
		return n, err
	}
	if n > 0 {
		j.logger.Info("purged expired audio",
			slog.Int("count", n),
			slog.Time("cutoff", cutoff),
		)
	}
	return n, nil
}
