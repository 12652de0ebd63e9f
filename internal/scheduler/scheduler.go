// Package scheduler runs named maintenance tasks on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrAlreadyStarted is returned by Start on a running scheduler.
var ErrAlreadyStarted = errors.New("scheduler already started")

// Task is a unit of scheduled work.
type Task func(ctx context.Context) error

// Parser accepts standard 5-field cron expressions.
var Parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Scheduler runs tasks on cron schedules. A task still running when its next
// activation comes round is skipped for that activation.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]cron.EntryID
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a scheduler.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "scheduler"))
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(Parser),
			cron.WithChain(cron.Recover(cronLogger{logger}), cron.SkipIfStillRunning(cronLogger{logger})),
		),
		entries: make(map[string]cron.EntryID),
		logger:  logger,
	}
}

// Add registers task under name with a cron spec. Names are unique.
func (s *Scheduler) Add(name, spec string, task Task) error {
	schedule, err := Parser.Parse(spec)
	if err != nil {
		return fmt.Errorf("parsing schedule %q for %s: %w", spec, name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[name]; ok {
		return fmt.Errorf("task %s already scheduled", name)
	}
	s.entries[name] = s.cron.Schedule(schedule, cron.FuncJob(func() { s.run(name, task) }))
	return nil
}

// Start begins running scheduled tasks. Tasks receive a context derived from ctx
// that is cancelled by Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx != nil {
		return ErrAlreadyStarted
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.logger.Info("scheduler started", slog.Int("tasks", len(s.entries)))
	return nil
}

// Stop cancels running tasks and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return
	}

	cancel()
	<-s.cron.Stop().Done()

	s.mu.Lock()
	s.ctx, s.cancel = nil, nil
	s.mu.Unlock()
	s.logger.Info("scheduler stopped")
}

// Next returns the next activation of the named task, zero when unknown or not started.
func (s *Scheduler) Next(name string) time.Time {
	s.mu.Lock()
	id, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}
	}
	return s.cron.Entry(id).Next
}

func (s *Scheduler) run(name string, task Task) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		return
	}

	start := time.Now()
	if err := task(ctx); err != nil {
		s.logger.Error("scheduled task failed",
			slog.String("task", name),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("error", err.Error()))
		return
	}
	s.logger.Debug("scheduled task finished",
		slog.String("task", name),
		slog.Duration("elapsed", time.Since(start)))
}

// cronLogger adapts slog to cron's logger.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append(keysAndValues, slog.String("error", err.Error()))...)
}
