package transcode

import (
	"context"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jmylchreest/encodarr/internal/models"
)

// DefaultRetainFinished is how many finished jobs are kept for inspection.
const DefaultRetainFinished = 100

// ManagerConfig holds the manager limits.
type ManagerConfig struct {
	// MaxConcurrentJobs limits running jobs; zero means unlimited.
	MaxConcurrentJobs int
	// RetainFinished bounds the finished jobs kept after they exit.
	RetainFinished int
}

type managedJob struct {
	job    *Job
	cancel context.CancelFunc
}

// Manager owns the jobs of the process: it creates them through the factory, starts them
// through the supervisor and keeps them addressable by id.
type Manager struct {
	cfg        ManagerConfig
	factory    *Factory
	supervisor *Supervisor
	registry   SessionRegistry
	logger     *slog.Logger

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu       sync.RWMutex
	jobs     map[string]*managedJob
	finished []string
	starting int
	closed   bool
}

// NewManager creates a manager. registry may be nil.
func NewManager(cfg ManagerConfig, factory *Factory, supervisor *Supervisor, registry SessionRegistry, logger *slog.Logger) *Manager {
	if cfg.RetainFinished <= 0 {
		cfg.RetainFinished = DefaultRetainFinished
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:        cfg,
		factory:    factory,
		supervisor: supervisor,
		registry:   registry,
		logger:     logger,
		baseCtx:    ctx,
		baseCancel: cancel,
		jobs:       make(map[string]*managedJob),
	}
}

// Start creates and launches a job. Cancelling ctx aborts the startup; once Start has
// returned the job runs until it exits or is cancelled through the manager. A job whose
// startup was aborted after launch is still tracked and retired, though Start returns
// the error.
func (m *Manager) Start(ctx context.Context, opts models.EncodingJobOptions, kind Kind, reporter ProgressReporter) (*Job, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	if m.cfg.MaxConcurrentJobs > 0 && m.runningLocked()+m.starting >= m.cfg.MaxConcurrentJobs {
		m.mu.Unlock()
		return nil, ErrCapacity
	}
	m.starting++
	m.mu.Unlock()

	job, cancel, err := m.start(ctx, opts, kind, reporter)

	m.mu.Lock()
	m.starting--
	if job != nil {
		m.jobs[job.ID] = &managedJob{job: job, cancel: cancel}
	}
	m.mu.Unlock()
	if job != nil {
		go m.watch(job, cancel)
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (m *Manager) start(ctx context.Context, opts models.EncodingJobOptions, kind Kind, reporter ProgressReporter) (*Job, context.CancelFunc, error) {
	state, err := m.factory.Create(ctx, opts, kind)
	if err != nil {
		return nil, nil, err
	}

	jobCtx, cancel := context.WithCancel(m.baseCtx)
	stop := context.AfterFunc(ctx, cancel)
	job, err := m.supervisor.Start(jobCtx, state, kind, reporter)
	stop()
	if job == nil {
		cancel()
		return nil, nil, err
	}
	if err != nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	return job, cancel, err
}

// watch retires a job once it has exited.
func (m *Manager) watch(job *Job, cancel context.CancelFunc) {
	<-job.Done()
	cancel()

	if deviceID := job.State().Options.DeviceID; deviceID != "" && m.registry != nil {
		ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
		if err := m.registry.ClearTranscodingInfo(ctx, deviceID); err != nil {
			m.logger.Warn("clearing transcoding info",
				slog.String("job_id", job.ID),
				slog.String("device_id", deviceID),
				slog.String("error", err.Error()))
		}
		done()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished = append(m.finished, job.ID)
	for len(m.finished) > m.cfg.RetainFinished {
		delete(m.jobs, m.finished[0])
		m.finished = m.finished[1:]
	}
}

func (m *Manager) runningLocked() int {
	n := 0
	for _, mj := range m.jobs {
		if !mj.job.HasExited() {
			n++
		}
	}
	return n
}

// ActiveCount returns the number of running jobs.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.runningLocked()
}

// Get returns a job by id.
func (m *Manager) Get(id string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mj, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return mj.job, nil
}

// List returns all known jobs, most recently started first.
func (m *Manager) List() []*Job {
	m.mu.RLock()
	jobs := make([]*Job, 0, len(m.jobs))
	for _, mj := range m.jobs {
		jobs = append(jobs, mj.job)
	}
	m.mu.RUnlock()

	slices.SortFunc(jobs, func(a, b *Job) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	return jobs
}

// Cancel asks a job to quit. Cancelling a job that has already exited does nothing.
func (m *Manager) Cancel(id string) error {
	job, err := m.Get(id)
	if err != nil {
		return err
	}
	job.Cancel()
	return nil
}

// CancelAll stops accepting jobs, asks every running job to quit and waits for them to
// exit or for ctx to end.
func (m *Manager) CancelAll(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	running := make([]*Job, 0, len(m.jobs))
	for _, mj := range m.jobs {
		if !mj.job.HasExited() {
			running = append(running, mj.job)
		}
	}
	m.mu.Unlock()

	if len(running) > 0 {
		m.logger.Info("cancelling running transcodes", slog.Int("count", len(running)))
	}
	m.baseCancel()
	for _, job := range running {
		job.Cancel()
	}
	for _, job := range running {
		select {
		case <-job.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// ReadPlaylist returns the playlist summary of a segmented job.
func (m *Manager) ReadPlaylist(id string) (*PlaylistInfo, error) {
	job, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	return m.supervisor.ReadPlaylist(job)
}

// IsActivePath reports whether path is written by a running job: its output, its log,
// or one of its segments.
func (m *Manager) IsActivePath(path string) bool {
	path = filepath.Clean(path)
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, mj := range m.jobs {
		j := mj.job
		if j.HasExited() {
			continue
		}
		if path == filepath.Clean(j.OutputPath) || path == filepath.Clean(j.LogPath) {
			return true
		}
		if j.Kind == KindSegmented && filepath.Dir(path) == filepath.Dir(j.OutputPath) &&
			strings.HasPrefix(filepath.Base(path), j.ID) {
			return true
		}
	}
	return false
}
