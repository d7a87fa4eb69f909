package server

import (
	"log/slog"
	"net/http"
)

// Config contains server configuration options.
type Config struct {
	// AllowedOrigins is the list of allowed CORS origins.
	AllowedOrigins []string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins: []string{"*"},
	}
}

// NewRouter creates a new HTTP router with all routes configured.
// It uses Go 1.22+ ServeMux with method-based routing.
func NewRouter(h *Handlers, logger *slog.Logger, cfg Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)

	mux.HandleFunc("POST /sessions", h.OpenSession)
	mux.HandleFunc("GET /sessions/{id}", h.GetSession)
	mux.HandleFunc("DELETE /sessions/{id}", h.DeleteSession)
	mux.HandleFunc("POST /sessions/{id}/reset", h.ResetSession)
	mux.HandleFunc("PUT /sessions/{id}/selection", h.SetSelection)
	mux.HandleFunc("POST /sessions/{id}/segments", h.CommitSegment)
	mux.HandleFunc("DELETE /sessions/{id}/segments/{index}", h.RemoveSegment)
	mux.HandleFunc("PUT /sessions/{id}/regions", h.SetRegions)
	mux.HandleFunc("POST /sessions/{id}/export", h.ExportSession)

	mux.HandleFunc("GET /tracks/{id}", h.GetTrack)
	mux.HandleFunc("GET /tracks/{id}/audio", h.GetTrackAudio)
	mux.HandleFunc("POST /tracks/{id}/repair", h.RepairTrack)
	mux.HandleFunc("DELETE /tracks/{id}", h.DeleteTrack)

	// Apply middleware chain
	chain := ChainMiddleware(
		RecoveryMiddleware(logger),
		RequestIDMiddleware(),
		LoggingMiddleware(logger),
		CORSMiddleware(cfg.AllowedOrigins),
	)

	return chain(mux)
}
