package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jmylchreest/encodarr/internal/ffmpeg"
	"github.com/jmylchreest/encodarr/internal/models"
)

var probeCmd = &cobra.Command{
	Use:   "probe <input>",
	Short: "Probe a media file and print its streams",
	Long: `Probe a media file or URL with ffprobe and print the normalised
streams the transcoder selects from.`,
	Args: cobra.ExactArgs(1),
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().Bool("json", false, "output the media source as JSON")
	probeCmd.Flags().Duration("timeout", 30*time.Second, "probe timeout")
}

func runProbe(cmd *cobra.Command, args []string) error {
	timeout, _ := cmd.Flags().GetDuration("timeout")
	asJSON, _ := cmd.Flags().GetBool("json")

	detector := ffmpeg.NewBinaryDetector(appConfig.Encoding.EncoderPath, appConfig.Encoding.ProbePath)
	info, err := detector.Detect(cmd.Context())
	if err != nil {
		return fmt.Errorf("detecting ffprobe: %w", err)
	}
	if info.ProbePath == "" {
		return fmt.Errorf("ffprobe not found")
	}

	prober := ffmpeg.NewProber(info.ProbePath).
		WithTimeout(timeout).
		WithAnalysisLimits(appConfig.Encoding.ProbeSize.Bytes(), appConfig.Encoding.AnalyzeDuration)
	src, err := prober.ProbeMediaSource(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(src)
	}
	printMediaSource(out, src)
	return nil
}

func printMediaSource(w io.Writer, src *models.MediaSourceInfo) {
	fmt.Fprintf(w, "Path:      %s\n", src.Path)
	fmt.Fprintf(w, "Container: %s\n", src.Container)
	if src.RunTimeTicks != nil {
		fmt.Fprintf(w, "Duration:  %s\n", models.TicksToDuration(*src.RunTimeTicks).Round(time.Second))
	}
	if src.Bitrate != nil {
		fmt.Fprintf(w, "Bitrate:   %s/s\n", humanize.SI(float64(*src.Bitrate), "b"))
	}
	if src.IsoType != "" {
		fmt.Fprintf(w, "Disc:      %s\n", src.IsoType)
	}

	rows := make([][]string, 0, len(src.MediaStreams))
	for i := range src.MediaStreams {
		rows = append(rows, streamRow(&src.MediaStreams[i]))
	}
	fmt.Fprintln(w, renderTable(
		[]string{"#", "Type", "Codec", "Language", "Details", "Bitrate", "Flags"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	))
}

func streamRow(s *models.MediaStream) []string {
	var details []string
	switch s.Type {
	case models.MediaStreamTypeVideo:
		if s.Width != nil && s.Height != nil {
			details = append(details, fmt.Sprintf("%dx%d", *s.Width, *s.Height))
		}
		if s.AverageFrameRate != nil {
			details = append(details, ffmpeg.FormatFloat(*s.AverageFrameRate)+"fps")
		}
		if s.Profile != "" {
			details = append(details, s.Profile)
		}
		if s.IsInterlaced {
			details = append(details, "interlaced")
		}
	case models.MediaStreamTypeAudio:
		if s.Channels != nil {
			details = append(details, strconv.Itoa(*s.Channels)+"ch")
		}
		if s.SampleRate != nil {
			details = append(details, strconv.Itoa(*s.SampleRate)+"Hz")
		}
	case models.MediaStreamTypeSubtitle:
		if s.IsExternal {
			details = append(details, s.Path)
		}
	}

	bitrate := ""
	if s.BitRate != nil {
		bitrate = humanize.SI(float64(*s.BitRate), "b/s")
	}

	var flags []string
	if s.IsDefault {
		flags = append(flags, "default")
	}
	if s.IsForced {
		flags = append(flags, "forced")
	}
	if s.IsExternal {
		flags = append(flags, "external")
	}

	return []string{
		strconv.Itoa(s.Index),
		string(s.Type),
		s.Codec,
		s.Language,
		strings.Join(details, " "),
		bitrate,
		strings.Join(flags, ","),
	}
}
