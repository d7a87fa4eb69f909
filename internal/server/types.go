// Package server provides the HTTP server for the voiceclip API.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import "time"

// RangeDTO is a time range in seconds. Ranges are validated by the domain
// so that malformed ones are reported as INVALID_RANGE.
type RangeDTO struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// OpenSessionRequest is the HTTP request body for opening a session.
type OpenSessionRequest struct {
	// AudioBase64 is the base64-encoded source audio.
	AudioBase64 string `json:"audio_base64" validate:"required,base64"`
	// MIMEType is the MIME type of the source audio.
	MIMEType string `json:"mime_type" validate:"required,max=128"`
	// Duration is the producer's estimate in seconds. Advisory only.
	Duration float64 `json:"duration" validate:"gte=0"`
	// TrackID is the id the export is stored under. Generated when empty.
	TrackID  string `json:"track_id" validate:"omitempty,max=128,excludesall=/?#"`
	Title    string `json:"title" validate:"max=256"`
	Username string `json:"username" validate:"max=128"`
	Filename string `json:"filename" validate:"max=256"`
}

// ResetSessionRequest is the HTTP request body for starting a new editing pass.
type ResetSessionRequest struct {
	AudioBase64 string  `json:"audio_base64" validate:"required,base64"`
	MIMEType    string  `json:"mime_type" validate:"required,max=128"`
	Duration    float64 `json:"duration" validate:"gte=0"`
}

// SelectionRequest sets or clears (null) the in-progress selection.
type SelectionRequest struct {
	Selection *RangeDTO `json:"selection"`
}

// RegionsRequest replaces the externally supplied regions.
type RegionsRequest struct {
	Regions []RangeDTO `json:"regions" validate:"max=256"`
}

// ExportRequest is the HTTP request body for exporting a session.
type ExportRequest struct {
	// Format is an optional encoder output: mp3 or opus.
	Format string `json:"format" validate:"omitempty,oneof=mp3 opus ogg"`
	// StrictEncoding fails the export instead of keeping the WAV when encoding fails.
	StrictEncoding bool `json:"strict_encoding"`
	// TrackID overrides the session's track id.
	TrackID string `json:"track_id" validate:"omitempty,max=128,excludesall=/?#"`
	// Upload also publishes the stored track.
	Upload bool `json:"upload"`
	// IncludeAudio returns the exported audio inline.
	IncludeAudio bool `json:"include_audio"`
}

// ResultDTO describes a successful export.
type ResultDTO struct {
	TrackID  string `json:"track_id,omitempty"`
	Locator  string `json:"locator,omitempty"`
	Layer    string `json:"layer,omitempty"`
	URL      string `json:"url,omitempty"`
	MIMEType string `json:"mime_type"`
	Size     int    `json:"size"`
	Origin   string `json:"origin"`
	Encoded  bool   `json:"encoded"`
}

// SessionResponse is the HTTP response for session details.
type SessionResponse struct {
	ID               string     `json:"id"`
	State            string     `json:"state"`
	TrackID          string     `json:"track_id,omitempty"`
	MIMEType         string     `json:"mime_type"`
	Size             int        `json:"size"`
	Duration         float64    `json:"duration"`
	AdvisoryDuration float64    `json:"advisory_duration"`
	// SourceError is set when the source could not be decoded.
	SourceError      string     `json:"source_error,omitempty"`
	Selection        *RangeDTO  `json:"selection"`
	Segments         []RangeDTO `json:"segments"`
	Regions          []RangeDTO `json:"regions"`
	// ExportOrigin tells which edits an export would use right now.
	ExportOrigin string     `json:"export_origin"`
	Generation   int        `json:"generation"`
	Error        string     `json:"error,omitempty"`
	Result       *ResultDTO `json:"result,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// LayerDTO is the outcome of one storage layer.
type LayerDTO struct {
	Layer      string `json:"layer"`
	OK         bool   `json:"ok"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// ExportResponse is the HTTP response after exporting a session.
type ExportResponse struct {
	Session     SessionResponse `json:"session"`
	Layers      []LayerDTO      `json:"layers"`
	EncodeError string          `json:"encode_error,omitempty"`
	UploadError string          `json:"upload_error,omitempty"`
	AudioBase64 string          `json:"audio_base64,omitempty"`
}

// TrackResponse is the HTTP response for a stored track.
type TrackResponse struct {
	ID        string    `json:"id"`
	Layer     string    `json:"layer"`
	Locator   string    `json:"locator"`
	MIMEType  string    `json:"mime_type"`
	Size      int       `json:"size"`
	Title     string    `json:"title,omitempty"`
	Duration  float64   `json:"duration,omitempty"`
	Username  string    `json:"username,omitempty"`
	Filename  string    `json:"filename,omitempty"`
	Checksum  string    `json:"checksum,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// RemoveTrackResponse is the HTTP response after deleting a track.
type RemoveTrackResponse struct {
	ID     string     `json:"id"`
	Layers []LayerDTO `json:"layers"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
	// Layers lists the storage layers in priority order.
	Layers []string `json:"layers,omitempty"`
}
