// Package cli implements the clipctl commands: offline trimming, inspecting
// and encoding of audio files with the same pipeline the API uses.
package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/maauso/voiceclip-api/internal/audio"
	"github.com/maauso/voiceclip-api/internal/encode"
	"github.com/maauso/voiceclip-api/internal/tempfs"
)

var (
	// ErrFileNotFound indicates the input file does not exist.
	ErrFileNotFound = errors.New("file not found")
	// ErrOutputExists indicates the output file already exists and --force was not given.
	ErrOutputExists = errors.New("output file already exists")
)

// Env holds injectable dependencies for CLI commands.
type Env struct {
	Stdout     io.Writer
	Stderr     io.Writer
	FFmpegPath string
	TempDir    string
	Logger     *slog.Logger
}

// DefaultEnv returns an Env for the current process. FFMPEG_PATH and
// TEMP_DIR override the defaults.
func DefaultEnv() *Env {
	env := &Env{
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
		FFmpegPath: "ffmpeg",
		TempDir:    filepath.Join(os.TempDir(), "clipctl"),
	}
	if v := os.Getenv("FFMPEG_PATH"); v != "" {
		env.FFmpegPath = v
	}
	if v := os.Getenv("TEMP_DIR"); v != "" {
		env.TempDir = v
	}
	env.Logger = slog.New(slog.NewTextHandler(env.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	return env
}

func (e *Env) tempStore() (*tempfs.Store, error) {
	return tempfs.New(e.TempDir)
}

// decoder tries the native decoders before handing off to ffmpeg.
func (e *Env) decoder() (audio.Decoder, error) {
	temp, err := e.tempStore()
	if err != nil {
		return nil, err
	}
	return audio.NewFallbackDecoder(audio.NewBeepDecoder(), audio.NewFFmpegDecoder(e.FFmpegPath, temp)), nil
}

func (e *Env) encoder() (encode.Encoder, error) {
	temp, err := e.tempStore()
	if err != nil {
		return nil, err
	}
	return encode.NewFFmpegEncoder(e.FFmpegPath, temp), nil
}

// readBlob loads path, taking the MIME type from its content and
// falling back to the extension.
func readBlob(path string) (audio.Blob, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return audio.Blob{}, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return audio.Blob{}, fmt.Errorf("read %s: %w", path, err)
	}

	c := audio.Sniff(audio.Blob{Data: data})
	if c == audio.ContainerUnknown {
		ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
		c = audio.Sniff(audio.Blob{MIMEType: "audio/" + ext})
	}
	return audio.Blob{Data: data, MIMEType: audio.MIMETypeFor(c)}, nil
}

func writeBlob(path string, b audio.Blob, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s (use --force to overwrite)", ErrOutputExists, path)
		}
	}
	if err := os.WriteFile(path, b.Data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// deriveOutputPath turns "take.webm" into "take.<suffix>.<ext>".
func deriveOutputPath(inputPath, suffix, ext string) string {
	base := strings.TrimSuffix(inputPath, filepath.Ext(inputPath))
	return base + "." + suffix + "." + ext
}
