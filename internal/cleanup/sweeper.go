// Package cleanup removes stale transcode outputs and encoder logs.
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/hashicorp/go-multierror"
)

// ActivePaths reports whether a file belongs to a running job.
type ActivePaths interface {
	IsActivePath(path string) bool
}

// Result summarises one sweep.
type Result struct {
	Removed int
	Skipped int
	Bytes   int64
}

// Sweeper deletes files older than MaxAge from a set of directories. Subdirectories
// are left alone.
type Sweeper struct {
	fs     billy.Filesystem
	dirs   []string
	maxAge time.Duration
	active ActivePaths
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithFilesystem sets the filesystem swept.
func WithFilesystem(fs billy.Filesystem) Option {
	return func(s *Sweeper) { s.fs = fs }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sweeper) { s.logger = l }
}

// NewSweeper creates a sweeper. active may be nil.
func NewSweeper(dirs []string, maxAge time.Duration, active ActivePaths, opts ...Option) *Sweeper {
	s := &Sweeper{
		fs:     osfs.New("/"),
		dirs:   dirs,
		maxAge: maxAge,
		active: active,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("component", "cleanup"))
	return s
}

// Sweep removes stale files. Missing directories are skipped. Removal errors are
// collected and returned together once every directory has been visited.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	var (
		res    Result
		errs   *multierror.Error
		cutoff = s.now().Add(-s.maxAge)
	)

	for _, dir := range s.dirs {
		entries, err := s.fs.ReadDir(dir)
		if err != nil {
			if _, statErr := s.fs.Stat(dir); statErr != nil {
				continue
			}
			errs = multierror.Append(errs, fmt.Errorf("reading %s: %w", dir, err))
			continue
		}

		for _, e := range entries {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			if e.IsDir() || !e.ModTime().Before(cutoff) {
				continue
			}
			path := filepath.Join(dir, e.Name())
			if s.active != nil && s.active.IsActivePath(path) {
				res.Skipped++
				continue
			}
			if err := s.fs.Remove(path); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("removing %s: %w", path, err))
				continue
			}
			res.Removed++
			res.Bytes += e.Size()
		}
	}

	if res.Removed > 0 || res.Skipped > 0 {
		s.logger.InfoContext(ctx, "swept stale files",
			slog.Int("removed", res.Removed),
			slog.Int("skipped_active", res.Skipped),
			slog.String("freed", humanize.Bytes(uint64(res.Bytes))))
	}
	return res, errs.ErrorOrNil()
}

// Run sweeps and discards the summary. It has the shape of a scheduled task.
func (s *Sweeper) Run(ctx context.Context) error {
	_, err := s.Sweep(ctx)
	return err
}
