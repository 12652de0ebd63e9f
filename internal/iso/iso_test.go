package iso

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/encodarr/internal/models"
)

type recordingRunner struct {
	mu        sync.Mutex
	calls     [][]string
	onMount   func(target string)
	mountErr  error
	umountErr error
}

func (r *recordingRunner) run(_ context.Context, argv []string) error {
	r.mu.Lock()
	r.calls = append(r.calls, argv)
	r.mu.Unlock()
	switch argv[0] {
	case "mount":
		if r.mountErr != nil {
			return r.mountErr
		}
		if r.onMount != nil {
			r.onMount(argv[len(argv)-1])
		}
	case "umount":
		return r.umountErr
	}
	return nil
}

func (r *recordingRunner) Calls() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.calls...)
}

func newTestManager(t *testing.T, r *recordingRunner) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	m := NewManager(Config{
		Enabled:        true,
		MountDir:       dir,
		MountCommand:   "mount -o loop,ro {source} {target}",
		UnmountCommand: "umount {target}",
	}, nil, WithCommandRunner(r.run))
	return m, dir
}

func writeSized(t *testing.T, name string, size int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(name), 0o755))
	require.NoError(t, os.WriteFile(name, make([]byte, size), 0o600))
}

func TestManager_CanMount(t *testing.T) {
	m, _ := newTestManager(t, &recordingRunner{})
	assert.True(t, m.CanMount("/media/Movie.ISO"))
	assert.True(t, m.CanMount("/media/movie.iso"))
	assert.False(t, m.CanMount("/media/movie.mkv"))

	disabled := NewManager(Config{MountCommand: "mount {source} {target}"}, nil)
	assert.False(t, disabled.CanMount("/media/movie.iso"))
}

func TestManager_MountBluRay(t *testing.T) {
	r := &recordingRunner{onMount: func(target string) {
		writeSized(t, filepath.Join(target, "BDMV", "STREAM", "00001.m2ts"), 10)
		writeSized(t, filepath.Join(target, "BDMV", "STREAM", "00002.m2ts"), 100)
	}}
	m, dir := newTestManager(t, r)

	mount, err := m.Mount(context.Background(), "/media/My Film.iso")
	require.NoError(t, err)

	assert.Equal(t, "/media/My Film.iso", mount.Source())
	assert.Equal(t, dir, filepath.Dir(mount.Path()))
	assert.Len(t, filepath.Base(mount.Path()), 40)
	assert.Equal(t, models.IsoTypeBluRay, mount.IsoType())
	assert.Equal(t, []string{"BDMV/STREAM/00002.m2ts"}, mount.PlayableStreamFileNames())

	calls := r.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"mount", "-o", "loop,ro", "/media/My Film.iso", mount.Path()}, calls[0])

	// The fake mount left files behind, so clear them before the mount point is removed.
	require.NoError(t, os.RemoveAll(filepath.Join(mount.Path(), "BDMV")))
	require.NoError(t, mount.Close())
	require.NoError(t, mount.Close())
	assert.Len(t, r.Calls(), 2, "unmount runs once")
	assert.Equal(t, []string{"umount", mount.Path()}, r.Calls()[1])
	assert.NoDirExists(t, mount.Path())
}

func TestManager_MountBusy(t *testing.T) {
	m, _ := newTestManager(t, &recordingRunner{})

	first, err := m.Mount(context.Background(), "/media/a.iso")
	require.NoError(t, err)

	_, err = m.Mount(context.Background(), "/media/a.iso")
	assert.ErrorIs(t, err, ErrImageBusy)

	other, err := m.Mount(context.Background(), "/media/b.iso")
	require.NoError(t, err, "other images are unaffected")
	require.NoError(t, other.Close())

	require.NoError(t, first.Close())
	again, err := m.Mount(context.Background(), "/media/a.iso")
	require.NoError(t, err, "the lock is released on close")
	require.NoError(t, again.Close())
}

func TestManager_MountFailureReleasesLock(t *testing.T) {
	r := &recordingRunner{mountErr: errors.New("permission denied")}
	m, _ := newTestManager(t, r)

	_, err := m.Mount(context.Background(), "/media/a.iso")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")

	r.mountErr = nil
	mount, err := m.Mount(context.Background(), "/media/a.iso")
	require.NoError(t, err)
	require.NoError(t, mount.Close())
}

func TestManager_UnmountFailureKeepsLock(t *testing.T) {
	r := &recordingRunner{umountErr: errors.New("target is busy")}
	m, _ := newTestManager(t, r)

	mount, err := m.Mount(context.Background(), "/media/a.iso")
	require.NoError(t, err)

	err = mount.Close()
	require.Error(t, err)
	assert.ErrorIs(t, mount.Close(), r.umountErr, "close reports the same error every time")

	_, err = m.Mount(context.Background(), "/media/a.iso")
	assert.ErrorIs(t, err, ErrImageBusy)
}

func TestManager_RejectsNonImages(t *testing.T) {
	m, _ := newTestManager(t, &recordingRunner{})
	_, err := m.Mount(context.Background(), "/media/a.mkv")
	assert.ErrorIs(t, err, ErrNotAnImage)
}
