// Package main provides clipctl, a command line front end to the voiceclip
// audio pipeline.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/maauso/voiceclip-api/internal/audio"
	"github.com/maauso/voiceclip-api/internal/cli"
	"github.com/maauso/voiceclip-api/internal/encode"
	"github.com/maauso/voiceclip-api/internal/timerange"
)

// Injected at build time via ldflags.
var version = "dev"

// Exit codes.
const (
	ExitGeneral    = 1
	ExitValidation = 2
	ExitDecode     = 3
	ExitEncode     = 4
	ExitInterrupt  = 130
)

func main() {
	// Load .env file if present (ignore error if missing).
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	env := cli.DefaultEnv()

	rootCmd := &cobra.Command{
		Use:           "clipctl",
		Short:         "Trim, inspect and encode audio recordings",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	rootCmd.AddCommand(cli.TrimCmd(env))
	rootCmd.AddCommand(cli.InfoCmd(env))
	rootCmd.AddCommand(cli.EncodeCmd(env))

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, context.Canceled):
		return ExitInterrupt
	case errors.Is(err, timerange.ErrInvalidRange), errors.Is(err, encode.ErrUnknownFormat),
		errors.Is(err, cli.ErrFileNotFound), errors.Is(err, cli.ErrOutputExists):
		return ExitValidation
	case errors.Is(err, audio.ErrUnplayableSource), errors.Is(err, audio.ErrUnsupportedFormat):
		return ExitDecode
	case errors.Is(err, encode.ErrEncodeFailed):
		return ExitEncode
	default:
		return ExitGeneral
	}
}
