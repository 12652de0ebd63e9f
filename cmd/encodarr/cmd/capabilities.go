package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/encodarr/internal/ffmpeg"
)

var capabilitiesCmd = &cobra.Command{
	Use:   "capabilities",
	Short: "Detect the encoder and print its capabilities",
	Long: `Detect the ffmpeg and ffprobe binaries and print the encoders,
decoders and hardware accelerators they support.

Examples:
  encodarr capabilities
  encodarr capabilities --json > capabilities.json`,
	RunE: runCapabilities,
}

func init() {
	rootCmd.AddCommand(capabilitiesCmd)
	capabilitiesCmd.Flags().Bool("json", false, "output as JSON")
	capabilitiesCmd.Flags().Duration("timeout", 30*time.Second, "detection timeout")
}

func runCapabilities(cmd *cobra.Command, _ []string) error {
	timeout, _ := cmd.Flags().GetDuration("timeout")
	asJSON, _ := cmd.Flags().GetBool("json")

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	info, err := ffmpeg.NewBinaryDetector(appConfig.Encoding.EncoderPath, appConfig.Encoding.ProbePath).Detect(ctx)
	if err != nil {
		return fmt.Errorf("detecting encoder: %w", err)
	}

	out := cmd.OutOrStdout()
	if asJSON {
		fmt.Fprintln(out, info.JSON())
		return nil
	}
	printCapabilities(out, info)
	return nil
}

func printCapabilities(w io.Writer, info *ffmpeg.BinaryInfo) {
	probe := info.ProbePath
	if probe == "" {
		probe = "(not found)"
	}
	fmt.Fprintln(w, renderTable(
		[]string{"Property", "Value"},
		[][]string{
			{"Encoder", info.EncoderPath},
			{"Probe", probe},
			{"Version", info.Version},
			{"Encoders", fmt.Sprint(len(info.Encoders))},
			{"Decoders", fmt.Sprint(len(info.Decoders))},
			{"HW accels", strings.Join(info.HWAccels, ", ")},
		},
		nil,
	))
	fmt.Fprintf(w, "\nEncoders: %s\n", strings.Join(info.Encoders, " "))
	fmt.Fprintf(w, "\nDecoders: %s\n", strings.Join(info.Decoders, " "))
}
