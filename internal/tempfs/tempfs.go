// Package tempfs manages scratch files handed to external tools such as
// ffmpeg, which need real paths rather than in-memory payloads.
package tempfs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Store keeps temporary files in a single directory.
type Store struct {
	dir string
}

// New creates a Store rooted at dir.
// If dir is empty, a "voiceclip" directory under os.TempDir() is used.
// The directory is created if it doesn't exist.
func New(dir string) (*Store, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "voiceclip")
	}

	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create temp directory: %w", err)
	}

	return &Store{dir: dir}, nil
}

// Dir returns the directory path.
func (s *Store) Dir() string {
	return s.dir
}

// SaveTemp writes data to a new temporary file and returns its path.
// The pattern is passed to os.CreateTemp, so "clip_*.wav" keeps the extension.
func (s *Store) SaveTemp(ctx context.Context, pattern string, data io.Reader) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	f, err := os.CreateTemp(s.dir, pattern)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	fileName := f.Name()
	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		_ = os.Remove(fileName)
		return "", fmt.Errorf("write temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(fileName)
		return "", fmt.Errorf("close temp file: %w", err)
	}

	return fileName, nil
}

// ReserveTemp returns a fresh path inside the store without keeping the file
// open, for tools that insist on creating their own output file.
func (s *Store) ReserveTemp(pattern string) (string, error) {
	f, err := os.CreateTemp(s.dir, pattern)
	if err != nil {
		return "", fmt.Errorf("reserve temp file: %w", err)
	}
	name := f.Name()
	_ = f.Close()
	return name, nil
}

// LoadTemp reads a whole temporary file.
func (s *Store) LoadTemp(ctx context.Context, path string) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	data, err := os.ReadFile(path) // #nosec G304 - path comes from SaveTemp/ReserveTemp
	if err != nil {
		return nil, fmt.Errorf("read temp file: %w", err)
	}
	return data, nil
}

// CleanupTemp removes the given files. It keeps going when a removal fails
// and returns the first error. Missing files are ignored.
func (s *Store) CleanupTemp(paths ...string) error {
	var firstErr error
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			if firstErr == nil {
				firstErr = fmt.Errorf("remove temp file %s: %w", p, err)
			}
		}
	}
	return firstErr
}
