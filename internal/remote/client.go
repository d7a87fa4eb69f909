// Package remote locates and downloads previously uploaded audio from the
// server's well-known upload paths. It is the last resort of the storage
// fallback chain.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/maauso/voiceclip-api/internal/audio"
)

// Static errors for remote client operations.
var (
	// ErrBaseURLRequired is returned when the base URL is not provided.
	ErrBaseURLRequired = errors.New("remote: base URL is required")
	// ErrIDRequired is returned when the track id is empty.
	ErrIDRequired = errors.New("remote: id is required")
	// ErrNotFound is returned when no candidate path holds the audio.
	ErrNotFound = errors.New("remote: audio not found")
	// ErrServerError is returned when the server returns a 5xx status code.
	ErrServerError = errors.New("remote: server error")
	// ErrRateLimited is returned when the server returns a 429 status code.
	ErrRateLimited = errors.New("remote: rate limited")
	// ErrRequestFailed is returned when the request fails with a non-2xx status code.
	ErrRequestFailed = errors.New("remote: request failed")
)

// Hint carries the optional owner information used by the
// /uploads/{username}/{filename} path pattern.
type Hint struct {
	Username string
	Filename string
}

// Client is an HTTP client for the upload server.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	extensions  []string
	maxRetries  int
	baseBackoff time.Duration
	maxBytes    int64
}

// ClientOption is a function that configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(rc *Client) {
		rc.httpClient = c
	}
}

// WithExtensions sets the file extensions tried for /uploads/{id}.{ext}.
func WithExtensions(exts ...string) ClientOption {
	return func(rc *Client) {
		rc.extensions = exts
	}
}

// WithMaxRetries sets the maximum number of retries for transient failures.
func WithMaxRetries(n int) ClientOption {
	return func(rc *Client) {
		rc.maxRetries = n
	}
}

// WithBaseBackoff sets the initial backoff duration for retries.
func WithBaseBackoff(d time.Duration) ClientOption {
	return func(rc *Client) {
		rc.baseBackoff = d
	}
}

// WithMaxBytes caps the size of a downloaded payload.
func WithMaxBytes(n int64) ClientOption {
	return func(rc *Client) {
		rc.maxBytes = n
	}
}

// NewClient creates a new Client for the server at baseURL.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	if baseURL == "" {
		return nil, ErrBaseURLRequired
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("remote: invalid base URL: %w", err)
	}

	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		extensions:  []string{"webm", "wav", "mp3", "ogg", "m4a"},
		maxRetries:  2,
		baseBackoff: 500 * time.Millisecond,
		maxBytes:    50 << 20,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Candidates lists the URLs tried for id, in order.
func (c *Client) Candidates(id string, hint Hint) []string {
	out := make([]string, 0, len(c.extensions)+1)
	for _, ext := range c.extensions {
		out = append(out, c.baseURL+"/uploads/"+url.PathEscape(id)+"."+ext)
	}
	if hint.Username != "" && hint.Filename != "" {
		out = append(out, c.baseURL+"/uploads/"+url.PathEscape(hint.Username)+"/"+url.PathEscape(path.Base(hint.Filename)))
	}
	return out
}

// Find checks each candidate URL with HEAD and returns the first one
// that exists. It returns ErrNotFound when none does.
func (c *Client) Find(ctx context.Context, id string, hint Hint) (string, error) {
	if id == "" {
		return "", ErrIDRequired
	}

	for _, candidate := range c.Candidates(id, hint) {
		_, err := c.doRequestWithRetry(ctx, http.MethodHead, candidate)
		if err == nil {
			return candidate, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("remote: context cancelled: %w", ctxErr)
		}
		if errors.Is(err, ErrNotFound) {
			continue
		}
		return "", err
	}

	return "", ErrNotFound
}

// Fetch downloads the audio at rawURL.
func (c *Client) Fetch(ctx context.Context, rawURL string) (audio.Blob, error) {
	resp, err := c.doRequestWithRetry(ctx, http.MethodGet, rawURL)
	if err != nil {
		return audio.Blob{}, err
	}

	mimeType := resp.contentType
	if mimeType == "" || strings.HasPrefix(mimeType, "application/octet-stream") {
		mimeType = audio.MIMETypeFor(audio.Sniff(audio.Blob{Data: resp.body}))
	}

	return audio.Blob{Data: resp.body, MIMEType: mimeType}, nil
}

// Owns reports whether locator points at this client's server.
func (c *Client) Owns(locator string) bool {
	return strings.HasPrefix(locator, c.baseURL+"/")
}

type response struct {
	body        []byte
	contentType string
}

// doRequestWithRetry performs an HTTP request with exponential backoff retry.
func (c *Client) doRequestWithRetry(ctx context.Context, method, rawURL string) (response, error) {
	var lastErr error
	backoff := c.baseBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return response{}, fmt.Errorf("remote: context cancelled: %w", ctx.Err())
			case <-time.After(backoff):
				backoff *= 2
			}
		}

		resp, err := c.doRequest(ctx, method, rawURL)
		if err == nil {
			return resp, nil
		}

		if !isRetryable(err) {
			return response{}, err
		}

		lastErr = err
	}

	return response{}, fmt.Errorf("remote: max retries exceeded: %w", lastErr)
}

// doRequest performs a single HTTP request.
func (c *Client) doRequest(ctx context.Context, method, rawURL string) (response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return response{}, fmt.Errorf("remote: create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return response{}, &retryableError{err: fmt.Errorf("remote: request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return response{}, ErrNotFound
	case resp.StatusCode >= 500:
		return response{}, &retryableError{err: fmt.Errorf("%w %d", ErrServerError, resp.StatusCode)}
	case resp.StatusCode == http.StatusTooManyRequests:
		return response{}, &retryableError{err: ErrRateLimited}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return response{}, fmt.Errorf("%w with status %d", ErrRequestFailed, resp.StatusCode)
	}

	out := response{contentType: resp.Header.Get("Content-Type")}
	if method == http.MethodHead {
		return out, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return response{}, &retryableError{err: fmt.Errorf("remote: read response: %w", err)}
	}
	if int64(len(body)) > c.maxBytes {
		return response{}, fmt.Errorf("%w: payload exceeds %d bytes", ErrRequestFailed, c.maxBytes)
	}
	out.body = body
	return out, nil
}

// retryableError wraps errors that should be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// isRetryable returns true if the error should be retried.
func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}
