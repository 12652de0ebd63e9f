package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jmylchreest/encodarr/internal/models"
	"github.com/jmylchreest/encodarr/internal/transcode"
)

var transcodeCmd = &cobra.Command{
	Use:   "transcode <input>",
	Short: "Run a single transcode in the foreground",
	Long: `Run a single transcode and wait for it to finish.

The input may be a file, a disc image or a live stream URL. Ctrl-C asks
the encoder to quit; the command then exits with a non-zero status, as it
does when the encoder fails.

Examples:
  encodarr transcode movie.mkv -o /tmp/out --vcodec h264 --acodec aac --max-width 1280
  encodarr transcode song.flac --kind audio --container mp3 --abitrate 192000
  encodarr transcode http://tuner/stream/5 --kind hls --copy`,
	Args: cobra.ExactArgs(1),
	RunE: runTranscode,
}

func init() {
	rootCmd.AddCommand(transcodeCmd)
	addTranscodeFlags(transcodeCmd.Flags())
}

func addTranscodeFlags(f *pflag.FlagSet) {
	f.StringP("output-dir", "o", "", "output directory (default: storage.transcode_dir)")
	f.String("kind", "video", "output layout (video, audio, hls)")
	f.String("container", "", "output container (default: mkv for video, mp3 for audio, ts for hls)")
	f.String("device", "", "device id the transcode is reported against")
	f.String("vcodec", "", "accepted video codecs, comma separated, preferred first")
	f.String("acodec", "", "accepted audio codecs, comma separated, preferred first")
	f.Int("width", 0, "fixed output width")
	f.Int("height", 0, "fixed output height")
	f.Int("max-width", 0, "maximum output width")
	f.Int("max-height", 0, "maximum output height")
	f.Int("vbitrate", 0, "video bitrate in bps")
	f.Int("abitrate", 0, "audio bitrate in bps")
	f.Int("channels", 0, "audio channels")
	f.Duration("start", 0, "seek offset, e.g. 1m30s")
	f.Int("video-stream", -1, "video stream index")
	f.Int("audio-stream", -1, "audio stream index")
	f.Int("subtitle-stream", -1, "subtitle stream index")
	f.String("subtitle-method", "", "subtitle delivery (encode, embed, external, hls)")
	f.Bool("deinterlace", false, "deinterlace video")
	f.Bool("copy", false, "allow stream copy of video and audio")
}

// defaultContainers is the output container used per kind when none is given.
var defaultContainers = map[transcode.Kind]string{
	transcode.KindVideo:     "mkv",
	transcode.KindAudio:     "mp3",
	transcode.KindSegmented: "ts",
}

// transcodeOptions builds job options from the command flags.
func transcodeOptions(flags *pflag.FlagSet, input string) (models.EncodingJobOptions, transcode.Kind, error) {
	kindName, _ := flags.GetString("kind")
	kind, err := transcode.ParseKind(kindName)
	if err != nil {
		return models.EncodingJobOptions{}, "", err
	}

	opts := models.EncodingJobOptions{MediaPath: input}
	opts.OutputDirectory, _ = flags.GetString("output-dir")
	opts.OutputContainer, _ = flags.GetString("container")
	if opts.OutputContainer == "" {
		opts.OutputContainer = defaultContainers[kind]
	}
	opts.DeviceID, _ = flags.GetString("device")
	opts.VideoCodec, _ = flags.GetString("vcodec")
	opts.AudioCodec, _ = flags.GetString("acodec")

	intFlag := func(name string) *int {
		if !flags.Changed(name) {
			return nil
		}
		v, _ := flags.GetInt(name)
		return &v
	}
	opts.Width = intFlag("width")
	opts.Height = intFlag("height")
	opts.MaxWidth = intFlag("max-width")
	opts.MaxHeight = intFlag("max-height")
	opts.VideoBitRate = intFlag("vbitrate")
	opts.AudioBitRate = intFlag("abitrate")
	opts.AudioChannels = intFlag("channels")
	opts.VideoStreamIndex = intFlag("video-stream")
	opts.AudioStreamIndex = intFlag("audio-stream")
	opts.SubtitleStreamIndex = intFlag("subtitle-stream")

	if flags.Changed("start") {
		start, _ := flags.GetDuration("start")
		opts.StartTimeTicks = models.Int64Ptr(models.DurationToTicks(start))
	}
	method, _ := flags.GetString("subtitle-method")
	opts.SubtitleMethod = models.SubtitleDeliveryMethod(method)
	opts.DeInterlace, _ = flags.GetBool("deinterlace")
	streamCopy, _ := flags.GetBool("copy")
	opts.AllowVideoStreamCopy = streamCopy
	opts.AllowAudioStreamCopy = streamCopy

	return opts, kind, nil
}

func runTranscode(cmd *cobra.Command, args []string) error {
	opts, kind, err := transcodeOptions(cmd.Flags(), args[0])
	if err != nil {
		return err
	}
	logger := slog.Default()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := newEngine(ctx, appConfig, nil, logger)
	if err != nil {
		return err
	}
	// Waits for the encoder to quit, including one whose startup was interrupted.
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = eng.manager.CancelAll(shutdownCtx)
	}()

	reporter := func(pct float64) {
		logger.Info("transcode progress", slog.String("percent", fmt.Sprintf("%.1f", pct)))
	}
	job, err := eng.manager.Start(ctx, opts, kind, reporter)
	if err != nil {
		return err
	}
	logger.Info("transcode started",
		slog.String("job_id", job.ID),
		slog.String("output", job.OutputPath),
		slog.String("log", job.LogPath))

	// Ctrl-C asks the encoder to quit; the job outcome is still awaited.
	go func() {
		select {
		case <-ctx.Done():
			job.Cancel()
		case <-job.Done():
		}
	}()

	err = job.Wait(context.Background())

	switch {
	case err == nil:
		fmt.Fprintln(cmd.OutOrStdout(), job.OutputPath)
		return nil
	case errors.Is(err, transcode.ErrCancelled):
		return fmt.Errorf("transcode %s cancelled", job.ID)
	default:
		return fmt.Errorf("transcode %s: %w (see %s)", job.ID, err, job.LogPath)
	}
}
