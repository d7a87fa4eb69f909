package cli

import (
	"fmt"
	"math"

	"github.com/spf13/cobra"

	"github.com/maauso/voiceclip-api/internal/audio"
	"github.com/maauso/voiceclip-api/internal/encode"
	"github.com/maauso/voiceclip-api/internal/timerange"
)

// maxDuration is the clamp limit for ranges when no length is known.
var maxDuration = math.Inf(1)

// TrimCmd creates the trim command.
func TrimCmd(env *Env) *cobra.Command {
	var (
		output string
		ranges []string
		format string
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "trim <audio-file>",
		Short: "Cut and concatenate segments of an audio file",
		Long: `Cut the given time ranges out of an audio file and join them, in the
order given, into one WAV file. Ranges are written as start-end in seconds
and are clamped to the length of the recording.

With --format the result is re-encoded with ffmpeg.`,
		Example: `  clipctl trim take.webm --range 2-4 --range 6-6.5
  clipctl trim take.wav -r 0-10 -o intro.wav
  clipctl trim take.wav -r 1.5-3 --format mp3`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrim(cmd, env, args[0], output, ranges, format, force)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file path (default: <input>.trim.<ext>)")
	cmd.Flags().StringArrayVarP(&ranges, "range", "r", nil, "Time range start-end in seconds (repeatable)")
	cmd.Flags().StringVarP(&format, "format", "f", "", "Re-encode the result: mp3, opus")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite the output file")
	_ = cmd.MarkFlagRequired("range")

	return cmd
}

func runTrim(cmd *cobra.Command, env *Env, inputPath, output string, rawRanges []string, rawFormat string, force bool) error {
	ctx := cmd.Context()

	set := make(timerange.Set, 0, len(rawRanges))
	for _, raw := range rawRanges {
		r, err := timerange.Parse(raw)
		if err != nil {
			return err
		}
		set = append(set, r)
	}
	format, err := encode.ParseFormat(rawFormat)
	if err != nil {
		return err
	}

	src, err := readBlob(inputPath)
	if err != nil {
		return err
	}

	dec, err := env.decoder()
	if err != nil {
		return err
	}
	out, err := audio.NewExtractor(dec, env.Logger).Extract(ctx, src, set)
	if err != nil {
		return err
	}

	if format != encode.FormatNone {
		enc, err := env.encoder()
		if err != nil {
			return err
		}
		if out, err = enc.Encode(ctx, out, format); err != nil {
			return err
		}
	}

	if output == "" {
		output = deriveOutputPath(inputPath, "trim", audio.ExtensionFor(out.MIMEType))
	}
	if err := writeBlob(output, out, force); err != nil {
		return err
	}

	fmt.Fprintf(env.Stdout, "%s: %d range(s), %.3fs, %d bytes\n",
		output, len(set), set.TotalDuration(maxDuration), out.Size())
	return nil
}
