package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/maauso/voiceclip-api/internal/encode"
)

// EncodeCmd creates the encode command.
func EncodeCmd(env *Env) *cobra.Command {
	var (
		output string
		format string
		force  bool
	)

	cmd := &cobra.Command{
		Use:     "encode <audio-file>",
		Short:   "Re-encode an audio file to mp3 or opus with ffmpeg",
		Example: `  clipctl encode take.wav --format opus`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := encode.ParseFormat(format)
			if err != nil {
				return err
			}
			if f == encode.FormatNone {
				return fmt.Errorf("%w: --format is required", encode.ErrUnknownFormat)
			}

			src, err := readBlob(args[0])
			if err != nil {
				return err
			}
			enc, err := env.encoder()
			if err != nil {
				return err
			}
			out, err := enc.Encode(cmd.Context(), src, f)
			if err != nil {
				return err
			}

			if output == "" {
				output = deriveOutputPath(args[0], "enc", f.Extension())
			}
			if err := writeBlob(output, out, force); err != nil {
				return err
			}
			fmt.Fprintf(env.Stdout, "%s: %s, %d bytes\n", output, out.MIMEType, out.Size())
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file path (default: <input>.enc.<ext>)")
	cmd.Flags().StringVarP(&format, "format", "f", "", "Target format: mp3, opus")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite the output file")
	return cmd
}
