// Package bootstrap provides dependency initialization for the voiceclip API.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/maauso/voiceclip-api/internal/audio"
	"github.com/maauso/voiceclip-api/internal/config"
	"github.com/maauso/voiceclip-api/internal/encode"
	"github.com/maauso/voiceclip-api/internal/publish"
	"github.com/maauso/voiceclip-api/internal/remote"
	"github.com/maauso/voiceclip-api/internal/server"
	"github.com/maauso/voiceclip-api/internal/session"
	"github.com/maauso/voiceclip-api/internal/storage"
	"github.com/maauso/voiceclip-api/internal/tempfs"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	Service  *session.Service
	Chain    *storage.Chain
	Handlers *server.Handlers

	kv      *storage.KVBackend
	worker  *encode.Worker
	janitor *storage.Janitor
}

// NewDependencies creates and initializes all dependencies for the application.
// Background workers are not running until Start is called.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	temp, err := tempfs.New(cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("create temp store: %w", err)
	}

	// Decoding: native WAV/MP3 first, ffmpeg for everything else
	decoder := audio.NewFallbackDecoder(
		audio.NewBeepDecoder(),
		audio.NewFFmpegDecoder(cfg.FFmpegPath, temp),
	)
	extractor := audio.NewExtractor(decoder, logger)
	worker := encode.NewWorker(encode.NewFFmpegEncoder(cfg.FFmpegPath, temp), cfg.EncodeWorkers, logger)

	chain, kv, err := initStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	opts := []session.ServiceOption{
		session.WithEncoder(worker),
		session.WithStore(chain),
		session.WithInspector(decoder),
	}

	if cfg.S3Enabled() {
		pub, err := publish.NewS3Publisher(ctx, publish.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		})
		if err != nil {
			_ = kv.Close()
			return nil, fmt.Errorf("create S3 publisher: %w", err)
		}
		logger.Info("S3 publishing configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		opts = append(opts, session.WithPublisher(pub))
	}

	svc := session.NewService(session.NewMemoryRepository(), extractor, logger, opts...)

	return &Dependencies{
		Service:  svc,
		Chain:    chain,
		Handlers: server.NewHandlers(svc, chain, logger, server.WithMaxBodyBytes(cfg.MaxBodyBytes)),
		kv:       kv,
		worker:   worker,
		janitor:  storage.NewJanitor(kv, cfg.Retention, cfg.PurgeInterval, logger),
	}, nil
}

// initStorage builds the layer chain in priority order: memory, object
// URLs, then the durable key/value store, with the remote server behind them.
func initStorage(cfg *config.Config, logger *slog.Logger) (*storage.Chain, *storage.KVBackend, error) {
	kv, err := storage.OpenKVBackend(storage.KVConfig{
		Dir:        cfg.DataDir,
		Prefix:     cfg.KVPrefix,
		QuotaBytes: cfg.KVQuotaBytes,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open kv storage: %w", err)
	}
	logger.Info("kv storage configured",
		slog.String("data_dir", cfg.DataDir),
		slog.Bool("in_memory", cfg.DataDir == ""),
		slog.Int64("quota_bytes", cfg.KVQuotaBytes),
	)

	opts := []storage.ChainOption{
		storage.WithLayerTimeout(cfg.LayerTimeout),
		storage.WithLogger(logger),
	}

	if cfg.FallbackEnabled() {
		client, err := remote.NewClient(cfg.FallbackBaseURL, remote.WithExtensions(cfg.FallbackExtensions...))
		if err != nil {
			_ = kv.Close()
			return nil, nil, fmt.Errorf("create fallback client: %w", err)
		}
		logger.Info("remote fallback configured",
			slog.String("base_url", cfg.FallbackBaseURL),
		)
		opts = append(opts, storage.WithFallback(client))
	}

	layers := []storage.Backend{
		storage.NewMemoryBackend(),
		storage.NewObjectURLBackend(cfg.ObjectURLOrigin),
		kv,
	}
	return storage.NewChain(layers, opts...), kv, nil
}

// Start launches the encode workers and the retention janitor.
func (d *Dependencies) Start(ctx context.Context) {
	d.worker.Start(ctx)
	d.janitor.Start(ctx)
}

// Close stops background work and releases the key/value store.
func (d *Dependencies) Close() error {
	d.janitor.Stop()
	d.worker.Stop()
	d.Chain.Reset()
	if err := d.kv.Close(); err != nil {
		return fmt.Errorf("close kv storage: %w", err)
	}
	return nil
}
