package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/maauso/voiceclip-api/internal/audio"
)

type infoOutput struct {
	Path     string `json:"path"`
	MIMEType string `json:"mime_type"`
	Size     int    `json:"size"`
	audio.Info
}

// InfoCmd creates the info command.
func InfoCmd(env *Env) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "info <audio-file>",
		Short: "Decode an audio file and print its duration and format",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := readBlob(args[0])
			if err != nil {
				return err
			}
			dec, err := env.decoder()
			if err != nil {
				return err
			}
			info, err := audio.Inspect(cmd.Context(), dec, src)
			if err != nil {
				return err
			}

			out := infoOutput{Path: args[0], MIMEType: src.MIMEType, Size: src.Size(), Info: info}
			if asJSON {
				enc := json.NewEncoder(env.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}
			fmt.Fprintf(env.Stdout, "%s\n  type:     %s\n  size:     %d bytes\n  duration: %.3fs\n  format:   %d Hz, %d channel(s), %d frames\n",
				out.Path, out.MIMEType, out.Size, info.Seconds, info.SampleRate, info.NumChannels, info.Frames)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}
