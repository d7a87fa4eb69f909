package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/maauso/voiceclip-api/internal/audio"
	"github.com/maauso/voiceclip-api/internal/remote"
)

// DefaultLayerTimeout bounds a single layer operation.
const DefaultLayerTimeout = 2 * time.Second

// RemoteLayer is the name reported for entries served by the fallback server.
const RemoteLayer = "remote"

// Fallback is the server queried when every local layer misses.
type Fallback interface {
	Find(ctx context.Context, id string, hint remote.Hint) (string, error)
	Fetch(ctx context.Context, url string) (audio.Blob, error)
	Owns(locator string) bool
}

var _ Fallback = (*remote.Client)(nil)

// Chain drives an ordered list of backends, fastest first.
type Chain struct {
	layers        []Backend
	fallback      Fallback
	layerTimeout  time.Duration
	remoteTimeout time.Duration
	logger        *slog.Logger
	now           func() time.Time
}

// ChainOption configures a Chain.
type ChainOption func(*Chain)

// WithFallback sets the server queried after every layer missed.
func WithFallback(f Fallback) ChainOption {
	return func(c *Chain) {
		c.fallback = f
	}
}

// WithLayerTimeout bounds each layer operation.
func WithLayerTimeout(d time.Duration) ChainOption {
	return func(c *Chain) {
		c.layerTimeout = d
	}
}

// WithRemoteTimeout bounds the whole fallback lookup.
func WithRemoteTimeout(d time.Duration) ChainOption {
	return func(c *Chain) {
		c.remoteTimeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ChainOption {
	return func(c *Chain) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewChain creates a chain over layers, which are tried in the given order.
func NewChain(layers []Backend, opts ...ChainOption) *Chain {
	c := &Chain{
		layers:       append([]Backend(nil), layers...),
		layerTimeout: DefaultLayerTimeout,
		logger:       slog.Default(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.remoteTimeout <= 0 {
		c.remoteTimeout = 5 * c.layerTimeout
	}
	return c
}

// Layers returns the layer names in priority order.
func (c *Chain) Layers() []string {
	names := make([]string, len(c.layers))
	for i, l := range c.layers {
		names[i] = l.Name()
	}
	return names
}

// Store writes blob to every layer concurrently. Individual layer failures
// are recorded in the result; an error is returned only when every layer
// failed, as a *PersistenceError.
func (c *Chain) Store(ctx context.Context, id string, blob audio.Blob, meta Metadata) (StoreResult, error) {
	if id == "" {
		return StoreResult{}, ErrIDRequired
	}
	if blob.Empty() {
		return StoreResult{}, ErrEmptyBlob
	}

	meta = meta.complete(blob, c.now())
	outcomes := c.putAll(ctx, c.layers, id, blob, meta)

	result := StoreResult{Outcomes: outcomes}
	for _, o := range outcomes {
		if o.OK() {
			result.Locator = o.Locator
			result.Layer = o.Layer
			break
		}
	}
	if result.Layer == "" {
		return result, &PersistenceError{ID: id, Outcomes: outcomes}
	}

	c.logger.Info("audio stored",
		slog.String("track_id", id),
		slog.String("layer", result.Layer),
		slog.Int("size", blob.Size()),
		slog.Int("failed_layers", len(result.Failed())),
	)
	return result, nil
}

func (c *Chain) putAll(ctx context.Context, layers []Backend, id string, blob audio.Blob, meta Metadata) []LayerOutcome {
	outcomes := make([]LayerOutcome, len(layers))

	var g errgroup.Group
	for i, layer := range layers {
		g.Go(func() error {
			start := time.Now()
			loc, err := withTimeout(ctx, c.layerTimeout, func(ctx context.Context) (string, error) {
				return layer.Put(ctx, id, blob, meta)
			})
			outcomes[i] = LayerOutcome{Layer: layer.Name(), Locator: loc, Err: err, Duration: time.Since(start)}
			if err != nil {
				c.logger.Warn("storage layer write failed",
					slog.String("track_id", id),
					slog.String("layer", layer.Name()),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

// LoadOption tunes a single Load.
type LoadOption func(*loadOptions)

type loadOptions struct {
	hint remote.Hint
}

// WithHint supplies the owner details used by the fallback server's
// per-user upload path.
func WithHint(username, filename string) LoadOption {
	return func(o *loadOptions) {
		o.hint = remote.Hint{Username: username, Filename: filename}
	}
}

// Load returns the first layer hit in priority order, then tries the
// fallback server. It returns ErrAudioNotFound when everything missed.
// Errors, timeouts and checksum mismatches in a layer count as misses.
func (c *Chain) Load(ctx context.Context, id string, opts ...LoadOption) (Entry, error) {
	e, _, err := c.load(ctx, id, opts...)
	return e, err
}

// load also returns the index of the layer that hit, or len(c.layers) for
// the fallback server.
func (c *Chain) load(ctx context.Context, id string, opts ...LoadOption) (Entry, int, error) {
	if id == "" {
		return Entry{}, 0, ErrIDRequired
	}

	var o loadOptions
	for _, opt := range opts {
		opt(&o)
	}

	for i, layer := range c.layers {
		e, err := withTimeout(ctx, c.layerTimeout, func(ctx context.Context) (Entry, error) {
			return layer.Get(ctx, id)
		})
		if err == nil && !e.Metadata.verify(e.Blob) {
			err = ErrChecksumMismatch
		}
		if err == nil {
			return e, i, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Entry{}, 0, ctxErr
		}
		if !errors.Is(err, ErrMiss) {
			c.logger.Warn("storage layer read failed",
				slog.String("track_id", id),
				slog.String("layer", layer.Name()),
				slog.String("error", err.Error()),
			)
		}
	}

	if c.fallback != nil {
		e, err := withTimeout(ctx, c.remoteTimeout, func(ctx context.Context) (Entry, error) {
			return c.fetchRemote(ctx, id, o.hint)
		})
		if err == nil {
			return e, len(c.layers), nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Entry{}, 0, ctxErr
		}
		if !errors.Is(err, remote.ErrNotFound) {
			c.logger.Warn("remote fallback failed",
				slog.String("track_id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	return Entry{}, 0, fmt.Errorf("%w: %s", ErrAudioNotFound, id)
}

func (c *Chain) fetchRemote(ctx context.Context, id string, hint remote.Hint) (Entry, error) {
	url, err := c.fallback.Find(ctx, id, hint)
	if err != nil {
		return Entry{}, err
	}
	blob, err := c.fallback.Fetch(ctx, url)
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		ID:      id,
		Layer:   RemoteLayer,
		Locator: url,
		Blob:    blob,
		Metadata: Metadata{
			Size:      blob.Size(),
			MIMEType:  blob.MIMEType,
			CreatedAt: c.now(),
			Checksum:  Checksum(blob.Data),
			Username:  hint.Username,
			Filename:  hint.Filename,
		},
	}, nil
}

// Repair re-derives id through the same priority order as Load and writes
// the hit back into every faster layer. The returned entry carries the
// locator of the fastest layer now holding the audio. Repairing an entry
// already held by the first layer writes nothing.
func (c *Chain) Repair(ctx context.Context, id string, opts ...LoadOption) (Entry, error) {
	e, hit, err := c.load(ctx, id, opts...)
	if err != nil {
		return Entry{}, err
	}
	if hit == 0 {
		return e, nil
	}

	outcomes := c.putAll(ctx, c.layers[:hit], id, e.Blob, e.Metadata)
	for _, o := range outcomes {
		if o.OK() {
			e.Layer = o.Layer
			e.Locator = o.Locator
			break
		}
	}

	c.logger.Info("audio repaired",
		slog.String("track_id", id),
		slog.String("layer", e.Layer),
		slog.Int("repopulated", len(outcomes)-len(failed(outcomes))),
	)
	return e, nil
}

// Remove deletes id from every layer concurrently. It never fails; the
// per-layer outcomes are returned for inspection. The fallback server is
// read-only and is not addressed.
func (c *Chain) Remove(ctx context.Context, id string) RemoveResult {
	outcomes := make([]LayerOutcome, len(c.layers))

	var g errgroup.Group
	for i, layer := range c.layers {
		g.Go(func() error {
			start := time.Now()
			_, err := withTimeout(ctx, c.layerTimeout, func(ctx context.Context) (struct{}, error) {
				return struct{}{}, layer.Delete(ctx, id)
			})
			outcomes[i] = LayerOutcome{Layer: layer.Name(), Err: err, Duration: time.Since(start)}
			if err != nil {
				c.logger.Warn("storage layer delete failed",
					slog.String("track_id", id),
					slog.String("layer", layer.Name()),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	return RemoveResult{Outcomes: outcomes}
}

// Resolve turns a locator returned by Store, Load or Repair into audio.
// Data URLs are decoded inline; other locators go to the layer that issued
// them, or to the fallback server.
func (c *Chain) Resolve(ctx context.Context, locator string) (audio.Blob, error) {
	if isDataURL(locator) {
		return DecodeDataURL(locator)
	}

	for _, layer := range c.layers {
		r, ok := layer.(Resolver)
		if !ok || !r.Owns(locator) {
			continue
		}
		blob, err := withTimeout(ctx, c.layerTimeout, func(ctx context.Context) (audio.Blob, error) {
			return r.Resolve(ctx, locator)
		})
		if errors.Is(err, ErrMiss) {
			return audio.Blob{}, fmt.Errorf("%w: %s", ErrAudioNotFound, locator)
		}
		return blob, err
	}

	if c.fallback != nil && c.fallback.Owns(locator) {
		blob, err := withTimeout(ctx, c.remoteTimeout, func(ctx context.Context) (audio.Blob, error) {
			return c.fallback.Fetch(ctx, locator)
		})
		if errors.Is(err, remote.ErrNotFound) {
			return audio.Blob{}, fmt.Errorf("%w: %s", ErrAudioNotFound, locator)
		}
		return blob, err
	}

	return audio.Blob{}, fmt.Errorf("%w: %q", ErrInvalidLocator, locator)
}

// Reset clears every volatile layer, as a restart of the host would.
func (c *Chain) Reset() {
	for _, layer := range c.layers {
		if r, ok := layer.(Resetter); ok {
			r.Reset()
		}
	}
}

// withTimeout runs fn and gives up after d, even when fn ignores its context.
func withTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return fn(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w after %s", ErrLayerTimeout, d)
		}
		return zero, ctx.Err()
	}
}
