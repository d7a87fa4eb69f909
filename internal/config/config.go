// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrInvalidPort is returned when PORT is outside 1-65535.
	ErrInvalidPort = errors.New("config: PORT must be between 1 and 65535")
	// ErrInvalidLayerTimeout is returned when LAYER_TIMEOUT is not positive.
	ErrInvalidLayerTimeout = errors.New("config: LAYER_TIMEOUT must be positive")
	// ErrInvalidEncodeWorkers is returned when ENCODE_WORKERS is below 1.
	ErrInvalidEncodeWorkers = errors.New("config: ENCODE_WORKERS must be at least 1")
	// ErrInvalidRetention is returned when RETENTION or PURGE_INTERVAL is negative.
	ErrInvalidRetention = errors.New("config: RETENTION and PURGE_INTERVAL must not be negative")
	// ErrInvalidQuota is returned when KV_QUOTA_BYTES is negative.
	ErrInvalidQuota = errors.New("config: KV_QUOTA_BYTES must not be negative")
	// ErrS3RegionRequired is returned when S3_BUCKET is set without S3_REGION.
	ErrS3RegionRequired = errors.New("config: S3_REGION is required when S3_BUCKET is set")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port           int      `env:"PORT, default=8080" json:"port"`
	MaxBodyBytes   int64    `env:"MAX_BODY_BYTES, default=67108864" json:"max_body_bytes"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS, default=*" json:"allowed_origins"`

	// Storage chain settings
	DataDir         string        `env:"DATA_DIR" json:"data_dir,omitempty"` // Empty keeps the KV layer in memory
	KVPrefix        string        `env:"KV_PREFIX, default=audio_" json:"kv_prefix"`
	KVQuotaBytes    int64         `env:"KV_QUOTA_BYTES, default=0" json:"kv_quota_bytes"`
	Retention       time.Duration `env:"RETENTION, default=168h" json:"retention"`
	PurgeInterval   time.Duration `env:"PURGE_INTERVAL, default=1h" json:"purge_interval"`
	LayerTimeout    time.Duration `env:"LAYER_TIMEOUT, default=2s" json:"layer_timeout"`
	ObjectURLOrigin string        `env:"OBJECT_URL_ORIGIN, default=http://localhost" json:"object_url_origin"`

	// Remote fallback settings
	FallbackBaseURL    string   `env:"FALLBACK_BASE_URL" json:"fallback_base_url,omitempty"`
	FallbackExtensions []string `env:"FALLBACK_EXTENSIONS, default=webm,wav,mp3,ogg,m4a" json:"fallback_extensions"`

	// Processing settings
	FFmpegPath    string `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`
	TempDir       string `env:"TEMP_DIR, default=/tmp/voiceclip" json:"temp_dir"`
	EncodeWorkers int    `env:"ENCODE_WORKERS, default=2" json:"encode_workers"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// FallbackEnabled returns true if a remote fallback server is configured.
func (c *Config) FallbackEnabled() bool {
	return c.FallbackBaseURL != ""
}

// Load reads configuration from environment variables using go-envconfig
// and validates the result.
func Load() (*Config, error) {
	return load(context.Background(), envconfig.OsLookuper())
}

func load(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}

	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that all configured values are in range.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return ErrInvalidPort
	}
	if c.LayerTimeout <= 0 {
		return ErrInvalidLayerTimeout
	}
	if c.EncodeWorkers < 1 {
		return ErrInvalidEncodeWorkers
	}
	if c.Retention < 0 || c.PurgeInterval < 0 {
		return ErrInvalidRetention
	}
	if c.KVQuotaBytes < 0 {
		return ErrInvalidQuota
	}
	if c.S3Bucket != "" && c.S3Region == "" {
		return ErrS3RegionRequired
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, DataDir: %s, KVPrefix: %s, LayerTimeout: %s, Retention: %s, FallbackBaseURL: %s, TempDir: %s, EncodeWorkers: %d, S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.DataDir,
		c.KVPrefix,
		c.LayerTimeout,
		c.Retention,
		c.FallbackBaseURL,
		c.TempDir,
		c.EncodeWorkers,
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
