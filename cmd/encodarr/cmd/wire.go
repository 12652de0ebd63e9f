package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jmylchreest/encodarr/internal/config"
	"github.com/jmylchreest/encodarr/internal/ffmpeg"
	"github.com/jmylchreest/encodarr/internal/iso"
	"github.com/jmylchreest/encodarr/internal/livetv"
	"github.com/jmylchreest/encodarr/internal/observability"
	"github.com/jmylchreest/encodarr/internal/subtitles"
	"github.com/jmylchreest/encodarr/internal/transcode"
)

// storagePaths are the absolute working directories.
type storagePaths struct {
	transcodes string
	logs       string
	mounts     string
}

// resolveStorage makes the configured directories absolute and creates them.
func resolveStorage(cfg *config.StorageConfig) (storagePaths, error) {
	var paths storagePaths
	for _, d := range []struct {
		dst *string
		src string
	}{
		{&paths.transcodes, cfg.TranscodePath()},
		{&paths.logs, cfg.LogPath()},
		{&paths.mounts, cfg.MountPath()},
	} {
		abs, err := filepath.Abs(d.src)
		if err != nil {
			return paths, fmt.Errorf("resolving %s: %w", d.src, err)
		}
		if err := os.MkdirAll(abs, 0o750); err != nil {
			return paths, fmt.Errorf("creating %s: %w", abs, err)
		}
		*d.dst = abs
	}
	return paths, nil
}

// engine is the transcode pipeline shared by serve and the one-shot command.
type engine struct {
	paths    storagePaths
	detector *ffmpeg.BinaryDetector
	binary   *ffmpeg.BinaryInfo
	prober   *ffmpeg.Prober
	opener   *livetv.Opener
	manager  *transcode.Manager
}

// newEngine detects the encoder and wires the pipeline. registry may be nil.
func newEngine(ctx context.Context, cfg *config.Config, registry transcode.SessionRegistry, logger *slog.Logger) (*engine, error) {
	paths, err := resolveStorage(&cfg.Storage)
	if err != nil {
		return nil, err
	}

	detector := ffmpeg.NewBinaryDetector(cfg.Encoding.EncoderPath, cfg.Encoding.ProbePath)
	binary, err := detector.Detect(ctx)
	if err != nil {
		return nil, fmt.Errorf("detecting encoder: %w", err)
	}
	logger.Info("encoder detected",
		slog.String("path", binary.EncoderPath),
		slog.String("probe_path", binary.ProbePath),
		slog.String("version", binary.Version),
		slog.Int("encoders", len(binary.Encoders)))
	if binary.ProbePath == "" {
		logger.Warn("ffprobe not found; only disc images and live streams can be transcoded")
	}

	prober := ffmpeg.NewProber(binary.ProbePath).
		WithAnalysisLimits(cfg.Encoding.ProbeSize.Bytes(), cfg.Encoding.AnalyzeDuration)

	isoManager := iso.NewManager(iso.Config{
		Enabled:        cfg.ISO.Enabled,
		MountDir:       paths.mounts,
		MountCommand:   cfg.ISO.MountCommand,
		UnmountCommand: cfg.ISO.UnmountCommand,
	}, logger)
	opener := livetv.NewOpener(prober, logger)

	builder := ffmpeg.NewBuilder(ffmpeg.BuilderOptions{
		HardwareAccelerationType: cfg.Encoding.HardwareAccelerationType,
		DownmixAudioBoost:        cfg.Encoding.DownmixAudioBoost,
		ProbeSize:                cfg.Encoding.ProbeSize.Bytes(),
		AnalyzeDuration:          cfg.Encoding.AnalyzeDuration,
	}, detector)

	transcodeLogger := observability.WithComponent(logger, "transcode")
	acquirer := transcode.NewAcquirer(
		transcode.WithIsoMounter(isoMounter{manager: isoManager}),
		transcode.WithLiveStreamOpener(liveStreamOpener{opener: opener}),
		transcode.WithAcquirerLogger(transcodeLogger),
	)

	supOpts := []transcode.SupervisorOption{
		transcode.WithAcquirer(acquirer),
		transcode.WithLogger(transcodeLogger),
	}
	if registry != nil {
		supOpts = append(supOpts, transcode.WithSessionRegistry(registry))
	}
	supervisor := transcode.NewSupervisor(transcode.SupervisorConfig{
		EncoderPath:        binary.EncoderPath,
		TranscodeDir:       paths.transcodes,
		LogDir:             paths.logs,
		EnableDebugLogging: cfg.Encoding.EnableDebugLogging,
	}, builder, supOpts...)

	factory := transcode.NewFactory(
		transcode.NewProbeResolver(prober, nil),
		transcode.WithSubtitleService(subtitles.NewService(nil, logger)),
		transcode.WithSegmentLength(cfg.Encoding.SegmentLength),
		transcode.WithFactoryLogger(transcodeLogger),
	)

	manager := transcode.NewManager(transcode.ManagerConfig{
		MaxConcurrentJobs: cfg.Encoding.MaxConcurrentJobs,
	}, factory, supervisor, registry, transcodeLogger)

	return &engine{
		paths:    paths,
		detector: detector,
		binary:   binary,
		prober:   prober,
		opener:   opener,
		manager:  manager,
	}, nil
}
