// Package iso mounts disc images so their video can be read by the encoder.
//
// Each image is mounted under a directory named after the SHA-1 of its path and
// guarded by an advisory file lock next to it, so two processes sharing the mount
// directory never mount the same image twice.
package iso

import (
	"context"
	"crypto/sha1" //nolint:gosec // mount keys, not security
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/gofrs/flock"

	"github.com/jmylchreest/encodarr/internal/models"
	"github.com/jmylchreest/encodarr/internal/util"
)

const defaultUnmountTimeout = 30 * time.Second

var (
	// ErrImageBusy is returned when the image is already mounted by another job or process.
	ErrImageBusy = errors.New("disc image is already mounted")
	// ErrNotAnImage is returned for paths that cannot be mounted.
	ErrNotAnImage = errors.New("not a mountable disc image")
)

// CommandRunner runs an external command.
type CommandRunner func(ctx context.Context, argv []string) error

// ExecRunner runs argv with os/exec and folds its output into the error.
func ExecRunner(ctx context.Context, argv []string) error {
	out, err := exec.CommandContext(ctx, argv[0], argv[1:]...).CombinedOutput() //nolint:gosec // operator configured
	if err != nil {
		if msg := strings.TrimSpace(string(out)); msg != "" {
			return fmt.Errorf("%s: %w: %s", argv[0], err, msg)
		}
		return fmt.Errorf("%s: %w", argv[0], err)
	}
	return nil
}

// Config holds mount settings.
type Config struct {
	Enabled        bool
	MountDir       string
	MountCommand   string // {source} and {target} are substituted
	UnmountCommand string // {target} is substituted
	UnmountTimeout time.Duration
}

// Manager mounts and unmounts disc images.
type Manager struct {
	cfg    Config
	run    CommandRunner
	fs     billy.Filesystem
	logger *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithCommandRunner replaces the runner used for mount and unmount commands.
func WithCommandRunner(r CommandRunner) Option {
	return func(m *Manager) { m.run = r }
}

// WithFilesystem sets the filesystem the disc layout is read from.
func WithFilesystem(fs billy.Filesystem) Option {
	return func(m *Manager) { m.fs = fs }
}

// NewManager creates a mount manager.
func NewManager(cfg Config, logger *slog.Logger, opts ...Option) *Manager {
	if cfg.UnmountTimeout <= 0 {
		cfg.UnmountTimeout = defaultUnmountTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		cfg:    cfg,
		run:    ExecRunner,
		fs:     osfs.New("/"),
		logger: logger.With(slog.String("component", "iso")),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CanMount reports whether path is a disc image and mounting is configured.
func (m *Manager) CanMount(path string) bool {
	return m.cfg.Enabled && m.cfg.MountCommand != "" && strings.EqualFold(filepath.Ext(path), ".iso")
}

// Mount mounts the image at path and inspects its layout. The returned Mount must be closed.
func (m *Manager) Mount(ctx context.Context, path string) (*Mount, error) {
	if !m.CanMount(path) {
		return nil, fmt.Errorf("%w: %s", ErrNotAnImage, path)
	}
	if err := os.MkdirAll(m.cfg.MountDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating mount directory: %w", err)
	}

	key := mountKey(path)
	lock := flock.New(filepath.Join(m.cfg.MountDir, key+".lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrImageBusy, path)
	}

	target := filepath.Join(m.cfg.MountDir, key)
	release := func() {
		_ = os.Remove(target)
		_ = lock.Unlock()
	}

	if err := os.MkdirAll(target, 0o755); err != nil {
		release()
		return nil, fmt.Errorf("creating mount point: %w", err)
	}

	argv, err := util.ExpandCommand(m.cfg.MountCommand, map[string]string{"source": path, "target": target})
	if err != nil {
		release()
		return nil, fmt.Errorf("mount command: %w", err)
	}
	if err := m.run(ctx, argv); err != nil {
		release()
		return nil, fmt.Errorf("mounting %s: %w", path, err)
	}

	isoType, playable := DetectLayout(m.fs, target)
	m.logger.Info("mounted disc image",
		slog.String("image", path),
		slog.String("target", target),
		slog.String("iso_type", string(isoType)),
		slog.Int("playable_files", len(playable)))

	return &Mount{
		manager:  m,
		lock:     lock,
		source:   path,
		path:     target,
		isoType:  isoType,
		playable: playable,
	}, nil
}

func mountKey(path string) string {
	sum := sha1.Sum([]byte(path)) //nolint:gosec // mount keys, not security
	return hex.EncodeToString(sum[:])
}

// Mount is a mounted disc image.
type Mount struct {
	manager  *Manager
	lock     *flock.Flock
	source   string
	path     string
	isoType  models.IsoType
	playable []string

	closeOnce sync.Once
	closeErr  error
}

// Source returns the image path.
func (mt *Mount) Source() string { return mt.source }

// Path returns the mount point.
func (mt *Mount) Path() string { return mt.path }

// IsoType returns the detected disc layout, empty when unrecognised.
func (mt *Mount) IsoType() models.IsoType { return mt.isoType }

// PlayableStreamFileNames returns the main title's stream files relative to Path, in play order.
func (mt *Mount) PlayableStreamFileNames() []string { return mt.playable }

// Close unmounts the image and releases its lock. Only the first call does any work.
func (mt *Mount) Close() error {
	mt.closeOnce.Do(func() {
		m := mt.manager
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.UnmountTimeout)
		defer cancel()

		argv, err := util.ExpandCommand(m.cfg.UnmountCommand, map[string]string{"source": mt.source, "target": mt.path})
		if err == nil {
			err = m.run(ctx, argv)
		}
		if err != nil {
			// The mount point stays locked so the image is not mounted over itself.
			mt.closeErr = fmt.Errorf("unmounting %s: %w", mt.path, err)
			return
		}
		if err := os.Remove(mt.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			m.logger.Warn("removing mount point", slog.String("path", mt.path), slog.String("error", err.Error()))
		}
		mt.closeErr = mt.lock.Unlock()
		m.logger.Debug("unmounted disc image", slog.String("image", mt.source))
	})
	return mt.closeErr
}
