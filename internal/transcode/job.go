package transcode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-git/go-billy/v5"

	"github.com/jmylchreest/encodarr/internal/ffmpeg"
	"github.com/jmylchreest/encodarr/internal/models"
)

// Kind selects the output layout of a job.
type Kind string

const (
	KindVideo     Kind = "video"
	KindAudio     Kind = "audio"
	KindSegmented Kind = "hls"
)

// ParseKind parses a kind name. An empty name is a progressive video job.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case "", KindVideo:
		return KindVideo, nil
	case KindAudio:
		return KindAudio, nil
	case KindSegmented, "segmented":
		return KindSegmented, nil
	default:
		return "", fmt.Errorf("unknown transcode kind %q", s)
	}
}

// IsVideo returns true for kinds that produce video.
func (k Kind) IsVideo() bool {
	return k != KindAudio
}

// Layout returns the argument layout for the kind.
func (k Kind) Layout() ffmpeg.Layout {
	switch k {
	case KindAudio:
		return ffmpeg.LayoutAudio
	case KindSegmented:
		return ffmpeg.LayoutSegmented
	default:
		return ffmpeg.LayoutVideo
	}
}

// Status is the externally visible lifecycle state of a job.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

const (
	jobRunning int32 = iota
	jobExited
)

// Job is one running encoder process and everything it owns: the log file, any mounted
// image or opened live stream, and the output file it writes.
type Job struct {
	ID         string
	Kind       Kind
	OutputPath string
	LogPath    string
	Binary     string
	Args       []string
	StartedAt  time.Time

	state     *models.EncodingState
	resources *Resources
	logFile   billy.File
	cmd       *exec.Cmd
	monitor   *ffmpeg.ProcessMonitor
	// stopCancelHook detaches the start context from the process once it has exited.
	stopCancelHook func() bool

	mu         sync.Mutex
	stdin      io.WriteCloser
	hasExited  bool
	progress   *ffmpeg.Progress
	percent    *float64
	lastReport time.Time
	finishedAt time.Time

	cancelled atomic.Bool
	exitState atomic.Int32
	done      chan struct{}
	err       error

	reporter ProgressReporter
	logger   *slog.Logger
}

func newJob(id string, kind Kind, state *models.EncodingState, logger *slog.Logger) *Job {
	return &Job{
		ID:     id,
		Kind:   kind,
		state:  state,
		done:   make(chan struct{}),
		logger: logger,
	}
}

// State returns the encoding state the job was built from.
func (j *Job) State() *models.EncodingState {
	return j.state
}

// CommandLine returns the encoder invocation as a single line.
func (j *Job) CommandLine() string {
	return j.Binary + " " + strings.Join(j.Args, " ")
}

// Cancel asks the encoder to quit gracefully by writing "q" to its standard input and
// marks the job cancelled. It is a no-op once the process has exited, including when
// the quit request can no longer be delivered. The process is
// never killed; an encoder that ignores the request keeps running.
func (j *Job) Cancel() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.hasExited || j.stdin == nil {
		return
	}

	j.logger.Info("stopping encoder")
	if _, err := io.WriteString(j.stdin, "q\n"); err != nil {
		// EPIPE or a closed pipe: the process exited before its pipes were drained.
		j.logger.Debug("writing quit to encoder", slog.String("error", err.Error()))
		return
	}
	j.cancelled.Store(true)
}

// IsCancelled reports whether cancellation was requested while the process was running.
func (j *Job) IsCancelled() bool {
	return j.cancelled.Load()
}

// HasExited reports whether the encoder process has exited.
func (j *Job) HasExited() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.hasExited
}

func (j *Job) markExited() {
	j.mu.Lock()
	j.hasExited = true
	j.mu.Unlock()
}

// Done is closed when the job's outcome has been resolved.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job completes or ctx is done. It returns nil on success,
// ErrCancelled, or an *EncodingFailedError.
func (j *Job) Wait(ctx context.Context) error {
	select {
	case <-j.done:
		return j.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the job outcome once it is done, and nil while it is running.
func (j *Job) Err() error {
	select {
	case <-j.done:
		return j.err
	default:
		return nil
	}
}

// finish resolves the outcome. Only the first call has any effect.
func (j *Job) finish(err error) bool {
	if !j.exitState.CompareAndSwap(jobRunning, jobExited) {
		return false
	}
	j.mu.Lock()
	j.finishedAt = time.Now()
	j.mu.Unlock()
	j.err = err
	close(j.done)
	return true
}

// Status returns the lifecycle state of the job.
func (j *Job) Status() Status {
	select {
	case <-j.done:
	default:
		return StatusRunning
	}
	switch {
	case j.err == nil:
		return StatusCompleted
	case errors.Is(j.err, ErrCancelled):
		return StatusCancelled
	default:
		return StatusFailed
	}
}

// Progress returns the last progress line parsed from the encoder and, when the
// runtime is known, the completion percentage.
func (j *Job) Progress() (*ffmpeg.Progress, *float64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.progress == nil {
		return nil, nil
	}
	p := *j.progress
	var pct *float64
	if j.percent != nil {
		v := *j.percent
		pct = &v
	}
	return &p, pct
}

// Stats returns the latest resource sample of the encoder process.
func (j *Job) Stats() *ffmpeg.ProcessStats {
	if j.monitor == nil {
		return nil
	}
	stats := j.monitor.Stats()
	return &stats
}

// FinishedAt returns when the outcome was resolved, or the zero time while running.
func (j *Job) FinishedAt() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.finishedAt
}

// updateProgress records a parsed progress line. It returns the completion percentage
// and whether a registry report is due.
func (j *Job) updateProgress(p ffmpeg.Progress, reportInterval time.Duration) (*float64, bool) {
	var pct *float64
	if rt := j.state.RunTimeTicks; rt != nil && *rt > 0 {
		start := int64(0)
		if j.state.Options.StartTimeTicks != nil {
			start = *j.state.Options.StartTimeTicks
		}
		v := float64(start+models.DurationToTicks(p.Time)) / float64(*rt) * 100
		v = min(max(v, 0), 100)
		pct = &v
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	j.progress = &p
	j.percent = pct

	now := time.Now()
	due := now.Sub(j.lastReport) >= reportInterval
	if due {
		j.lastReport = now
	}
	return pct, due
}

// Snapshot is a point-in-time view of a job for listing and inspection.
type Snapshot struct {
	ID                   string               `json:"id"`
	Kind                 Kind                 `json:"kind"`
	Status               Status               `json:"status"`
	Error                string               `json:"error,omitempty"`
	OutputPath           string               `json:"output_path"`
	LogPath              string               `json:"log_path"`
	CommandLine          string               `json:"command_line"`
	DeviceID             string               `json:"device_id,omitempty"`
	StartedAt            time.Time            `json:"started_at"`
	FinishedAt           *time.Time           `json:"finished_at,omitempty"`
	Progress             *ffmpeg.Progress     `json:"progress,omitempty"`
	CompletionPercentage *float64             `json:"completion_percentage,omitempty"`
	Process              *ffmpeg.ProcessStats `json:"process,omitempty"`
}

// Snapshot returns the current view of the job.
func (j *Job) Snapshot() Snapshot {
	progress, pct := j.Progress()
	snap := Snapshot{
		ID:                   j.ID,
		Kind:                 j.Kind,
		Status:               j.Status(),
		OutputPath:           j.OutputPath,
		LogPath:              j.LogPath,
		CommandLine:          j.CommandLine(),
		DeviceID:             j.state.Options.DeviceID,
		StartedAt:            j.StartedAt,
		Progress:             progress,
		CompletionPercentage: pct,
		Process:              j.Stats(),
	}
	if err := j.Err(); err != nil {
		snap.Error = err.Error()
	}
	if t := j.FinishedAt(); !t.IsZero() {
		snap.FinishedAt = &t
	}
	return snap
}
