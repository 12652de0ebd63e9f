package transcode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/jmylchreest/encodarr/internal/ffmpeg"
	"github.com/jmylchreest/encodarr/internal/models"
	"github.com/jmylchreest/encodarr/internal/observability"
)

// SupervisorConfig holds the process-wide settings of the supervisor.
type SupervisorConfig struct {
	// EncoderPath is the encoder binary to execute.
	EncoderPath string
	// TranscodeDir is the output directory used when a request names none.
	TranscodeDir string
	// LogDir receives one transcode-<uuid>.txt file per job.
	LogDir string
	// EnableDebugLogging prefixes the arguments with -loglevel debug.
	EnableDebugLogging bool

	PollInterval    time.Duration
	ReportInterval  time.Duration
	MonitorInterval time.Duration
}

// DefaultSupervisorConfig returns the default supervisor settings.
func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		EncoderPath:     "ffmpeg",
		TranscodeDir:    filepath.Join(os.TempDir(), "encodarr", "transcodes"),
		LogDir:          filepath.Join(os.TempDir(), "encodarr", "logs"),
		PollInterval:    100 * time.Millisecond,
		ReportInterval:  2 * time.Second,
		MonitorInterval: time.Second,
	}
}

// Supervisor starts encoder processes and handles their exit.
type Supervisor struct {
	cfg      SupervisorConfig
	builder  *ffmpeg.Builder
	acquirer *Acquirer
	registry SessionRegistry
	fs       billy.Filesystem
	logger   *slog.Logger
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithAcquirer sets the resource acquirer.
func WithAcquirer(a *Acquirer) SupervisorOption {
	return func(s *Supervisor) { s.acquirer = a }
}

// WithSessionRegistry sets the registry notified of progress and start failures.
func WithSessionRegistry(r SessionRegistry) SupervisorOption {
	return func(s *Supervisor) { s.registry = r }
}

// WithFilesystem sets the filesystem used for output and log paths. Paths are absolute,
// so it must be rooted at "/".
func WithFilesystem(fs billy.Filesystem) SupervisorOption {
	return func(s *Supervisor) { s.fs = fs }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) SupervisorOption {
	return func(s *Supervisor) { s.logger = l }
}

// NewSupervisor creates a supervisor.
func NewSupervisor(cfg SupervisorConfig, builder *ffmpeg.Builder, opts ...SupervisorOption) *Supervisor {
	def := DefaultSupervisorConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.ReportInterval <= 0 {
		cfg.ReportInterval = def.ReportInterval
	}
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = def.MonitorInterval
	}
	if builder == nil {
		builder = ffmpeg.NewBuilder(ffmpeg.DefaultBuilderOptions(), nil)
	}

	s := &Supervisor{
		cfg:     cfg,
		builder: builder,
		fs:      osfs.New("/"),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.acquirer == nil {
		s.acquirer = NewAcquirer(WithAcquirerLogger(s.logger))
	}
	return s
}

// OutputPath returns where a job with the given id writes its output.
func (s *Supervisor) OutputPath(state *models.EncodingState, kind Kind, id string) string {
	dir := state.Options.OutputDirectory
	if dir == "" {
		dir = s.cfg.TranscodeDir
	}
	ext := strings.ToLower("." + state.Options.OutputContainer)
	if kind == KindSegmented {
		ext = ".m3u8"
	}
	return filepath.Join(dir, id+ext)
}

// Start acquires the input, launches the encoder and returns once the output file
// exists or the process has already exited. A start failure is returned as a
// *LaunchError after the session registry has been told to clear the device.
// Once the process runs, cancelling ctx asks the encoder to quit; the outcome is then
// observed through the job. If ctx ends while waiting for the output, the running job
// is returned together with ctx's error.
func (s *Supervisor) Start(ctx context.Context, state *models.EncodingState, kind Kind, reporter ProgressReporter) (*Job, error) {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	logger := observability.WithJob(s.logger, id)

	j := newJob(id, kind, state, logger)
	j.reporter = reporter
	j.Binary = s.cfg.EncoderPath
	j.OutputPath = s.OutputPath(state, kind, id)

	if err := s.fs.MkdirAll(filepath.Dir(j.OutputPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	res, err := s.acquirer.Acquire(ctx, state)
	if err != nil {
		return nil, err
	}
	j.resources = res

	state.OutputFilePath = j.OutputPath
	args, err := s.builder.Build(state, kind.Layout())
	if err != nil {
		s.release(j)
		return nil, &PreconditionError{Err: err}
	}
	if s.cfg.EnableDebugLogging {
		args = append([]string{"-loglevel", "debug"}, args...)
	}
	j.Args = args

	// Report an empty record so the client shows a transcode in progress.
	s.reportProgress(j, nil, nil)

	if err := s.openLog(j); err != nil {
		s.release(j)
		return nil, err
	}

	streamer := NewLogStreamer(j.logFile, s.progressHandler(j), logger)
	if err := streamer.WriteHeader(j.CommandLine()); err != nil {
		logger.Warn("writing encoder log header", slog.String("error", err.Error()))
	}

	logger.Info("starting encoder",
		slog.String("kind", string(kind)),
		slog.String("input", state.InputPath()),
		slog.String("output", j.OutputPath),
		slog.String("command", j.CommandLine()))

	cmd := exec.Command(j.Binary, j.Args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, s.launchFailed(j, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, s.launchFailed(j, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, s.launchFailed(j, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, s.launchFailed(j, err)
	}

	j.cmd = cmd
	j.StartedAt = time.Now()
	j.mu.Lock()
	j.stdin = stdin
	j.mu.Unlock()

	j.monitor = ffmpeg.NewProcessMonitor(cmd.Process.Pid)
	j.monitor.SetInterval(s.cfg.MonitorInterval)
	j.monitor.Start()

	j.stopCancelHook = context.AfterFunc(ctx, j.Cancel)

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		_, _ = io.Copy(io.Discard, stdout)
	}()
	go func() {
		defer readers.Done()
		if err := streamer.Stream(stderr); err != nil {
			logger.Warn("reading encoder output", slog.String("error", err.Error()))
		}
	}()
	go func() {
		readers.Wait()
		s.handleExit(j, cmd.Wait())
	}()

	if err := s.waitForOutput(ctx, j); err != nil {
		// The process is running and has been asked to quit; the caller still owns it.
		return j, err
	}
	return j, nil
}

func (s *Supervisor) openLog(j *Job) error {
	if err := s.fs.MkdirAll(s.cfg.LogDir, 0o755); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}
	j.LogPath = filepath.Join(s.cfg.LogDir, "transcode-"+uuid.NewString()+".txt")
	f, err := s.fs.OpenFile(j.LogPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("opening transcode log: %w", err)
	}
	j.logFile = f
	return nil
}

func (s *Supervisor) launchFailed(j *Job, err error) error {
	j.logger.Error("encoder failed to start",
		slog.String("binary", j.Binary),
		slog.String("error", err.Error()))

	if deviceID := j.state.Options.DeviceID; deviceID != "" && s.registry != nil {
		if cerr := s.registry.ClearTranscodingInfo(context.Background(), deviceID); cerr != nil {
			j.logger.Warn("clearing transcoding info", slog.String("error", cerr.Error()))
		}
	}
	s.release(j)
	return &LaunchError{Binary: j.Binary, Err: err}
}

// waitForOutput polls until the output exists or the process has exited.
func (s *Supervisor) waitForOutput(ctx context.Context, j *Job) error {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := s.fs.Stat(j.OutputPath); err == nil || j.HasExited() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// handleExit runs once, after the process has exited and its output pipes are drained.
func (s *Supervisor) handleExit(j *Job, waitErr error) {
	j.markExited()
	if j.stopCancelHook != nil {
		j.stopCancelHook()
	}
	s.release(j)

	exitCode := 0
	if waitErr != nil {
		exitCode = -1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
	}

	elapsed := time.Since(j.StartedAt)
	switch {
	case j.IsCancelled():
		s.deleteOutput(j)
		j.finish(ErrCancelled)
		j.logger.Info("encoder cancelled", slog.Duration("elapsed", elapsed))
	case waitErr == nil:
		j.finish(nil)
		j.logger.Info("encoder finished", slog.Duration("elapsed", elapsed))
	default:
		s.deleteOutput(j)
		j.finish(&EncodingFailedError{ExitCode: exitCode})
		j.logger.Error("encoder failed",
			slog.Int("exit_code", exitCode),
			slog.Duration("elapsed", elapsed),
			slog.String("log", j.LogPath))
	}
}

// release closes everything the job owns. Errors are logged and never change the outcome.
func (s *Supervisor) release(j *Job) {
	if j.monitor != nil {
		j.monitor.Stop()
	}

	var result *multierror.Error
	j.mu.Lock()
	if j.stdin != nil {
		if err := j.stdin.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			result = multierror.Append(result, fmt.Errorf("closing encoder stdin: %w", err))
		}
	}
	j.mu.Unlock()
	if j.logFile != nil {
		if err := j.logFile.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("closing transcode log: %w", err))
		}
	}
	if err := j.resources.Close(); err != nil {
		result = multierror.Append(result, err)
	}

	if err := result.ErrorOrNil(); err != nil {
		j.logger.Warn("releasing transcode resources", slog.String("error", err.Error()))
	}
}

// deleteOutput removes the partial output, and for segmented jobs its segments.
func (s *Supervisor) deleteOutput(j *Job) {
	if err := s.fs.Remove(j.OutputPath); err != nil && !os.IsNotExist(err) {
		j.logger.Debug("deleting partial output", slog.String("error", err.Error()))
	}
	if j.Kind != KindSegmented {
		return
	}
	dir := filepath.Dir(j.OutputPath)
	entries, err := s.fs.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), j.ID) && strings.HasSuffix(e.Name(), ".ts") {
			_ = s.fs.Remove(filepath.Join(dir, e.Name()))
		}
	}
}

func (s *Supervisor) progressHandler(j *Job) func(ffmpeg.Progress) {
	return func(p ffmpeg.Progress) {
		pct, due := j.updateProgress(p, s.cfg.ReportInterval)
		if pct != nil && j.reporter != nil {
			j.reporter(*pct)
		}
		if due {
			s.reportProgress(j, &p, pct)
		}
	}
}

// reportProgress sends a progress record for the job's device. Jobs without a device
// are not tracked by the registry.
func (s *Supervisor) reportProgress(j *Job, p *ffmpeg.Progress, pct *float64) {
	if s.registry == nil || j.state.Options.DeviceID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.registry.ReportTranscodingProgress(ctx, newTranscodingInfo(j, p, pct)); err != nil {
		j.logger.Warn("reporting transcoding progress", slog.String("error", err.Error()))
	}
}

func newTranscodingInfo(j *Job, p *ffmpeg.Progress, pct *float64) *models.TranscodingInfo {
	st := j.state
	info := &models.TranscodingInfo{
		DeviceID:             st.Options.DeviceID,
		JobID:                j.ID,
		Path:                 j.OutputPath,
		Container:            st.Options.OutputContainer,
		VideoCodec:           st.OutputVideoCodec,
		AudioCodec:           st.OutputAudioCodec,
		IsVideoDirect:        st.IsVideoCopy(),
		IsAudioDirect:        st.IsAudioCopy(),
		AudioChannels:        st.OutputAudioChannels,
		CompletionPercentage: pct,
	}

	if st.VideoStream != nil && j.Kind.IsVideo() {
		if st.IsVideoCopy() {
			info.Width, info.Height = st.VideoStream.Width, st.VideoStream.Height
		} else if w, h, ok := ffmpeg.ComputeOutputSize(st.VideoStream, &st.Options); ok {
			info.Width, info.Height = &w, &h
		}
	}

	if p != nil {
		frame := p.Frame
		fps := p.FPS
		position := models.DurationToTicks(p.Time)
		if st.Options.StartTimeTicks != nil {
			position += *st.Options.StartTimeTicks
		}
		info.Frame = &frame
		info.Framerate = &fps
		info.PositionTicks = &position
		info.Bitrate = p.BitrateBps
	}
	return info
}
