package transcode

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/encodarr/internal/models"
)

type supervisorFixture struct {
	sup          *Supervisor
	registry     *fakeRegistry
	transcodeDir string
	logDir       string
}

func newSupervisorFixture(t *testing.T, encoderBody string) *supervisorFixture {
	t.Helper()
	f := &supervisorFixture{
		registry:     &fakeRegistry{},
		transcodeDir: t.TempDir(),
		logDir:       t.TempDir(),
	}
	cfg := DefaultSupervisorConfig()
	cfg.EncoderPath = writeEncoder(t, encoderBody)
	cfg.TranscodeDir = f.transcodeDir
	cfg.LogDir = f.logDir
	cfg.PollInterval = 10 * time.Millisecond
	f.sup = NewSupervisor(cfg, nil, WithSessionRegistry(f.registry))
	return f
}

func audioState() *models.EncodingState {
	opts := models.EncodingJobOptions{
		MediaPath:       "/media/song.flac",
		OutputContainer: "MP3",
		DeviceID:        "living-room",
		AudioCodec:      "mp3",
	}
	s := models.NewEncodingState(opts)
	s.OutputAudioCodec = "mp3"
	src := sampleSource()
	src.Path = opts.MediaPath
	AttachMediaSource(s, src)
	return s
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestSupervisor_Success(t *testing.T) {
	f := newSupervisorFixture(t, encoderSucceeds)

	var mu sync.Mutex
	var percents []float64
	reporter := func(p float64) {
		mu.Lock()
		percents = append(percents, p)
		mu.Unlock()
	}

	startCtx, cancelStart := context.WithCancel(context.Background())
	defer cancelStart()
	job, err := f.sup.Start(startCtx, audioState(), KindAudio, reporter)
	require.NoError(t, err)

	require.NoError(t, job.Wait(waitCtx(t)))
	assert.Equal(t, StatusCompleted, job.Status())

	assert.Len(t, job.ID, 32)
	assert.NotContains(t, job.ID, "-")
	assert.Equal(t, filepath.Join(f.transcodeDir, job.ID+".mp3"), job.OutputPath)
	assert.FileExists(t, job.OutputPath)

	assert.True(t, strings.HasPrefix(filepath.Base(job.LogPath), "transcode-"))
	logData, err := os.ReadFile(job.LogPath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(logData), job.CommandLine()+"\n\n"))
	assert.Contains(t, string(logData), "frame=  120")

	mu.Lock()
	assert.Equal(t, []float64{50}, percents)
	mu.Unlock()

	reports := f.registry.Reports()
	require.Len(t, reports, 2)
	assert.Equal(t, "living-room", reports[0].DeviceID)
	assert.Equal(t, job.ID, reports[0].JobID)
	assert.Nil(t, reports[0].CompletionPercentage, "the first report only announces the transcode")
	require.NotNil(t, reports[1].PositionTicks)
	assert.Equal(t, models.DurationToTicks(5*time.Second), *reports[1].PositionTicks)
	assert.Equal(t, models.IntPtr(838900), reports[1].Bitrate)
	assert.Equal(t, int64(120), *reports[1].Frame)
	assert.Empty(t, f.registry.Cleared())

	progress, pct := job.Progress()
	require.NotNil(t, progress)
	assert.Equal(t, 5*time.Second, progress.Time)
	assert.InDelta(t, 50, *pct, 0.001)

	cancelStart()
	job.Cancel()
	assert.NoError(t, job.Err(), "cancelling after exit does not change the outcome")
}

func TestSupervisor_Failure(t *testing.T) {
	f := newSupervisorFixture(t, encoderFails)

	job, err := f.sup.Start(context.Background(), audioState(), KindAudio, nil)
	require.NoError(t, err)

	err = job.Wait(waitCtx(t))
	var failed *EncodingFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, 3, failed.ExitCode)
	assert.Equal(t, StatusFailed, job.Status())
	assert.NoFileExists(t, job.OutputPath)

	logData, err := os.ReadFile(job.LogPath)
	require.NoError(t, err)
	assert.Contains(t, string(logData), "Conversion failed!")
}

func TestSupervisor_CancelDeletesOutput(t *testing.T) {
	f := newSupervisorFixture(t, encoderWaitsForQuit)

	job, err := f.sup.Start(context.Background(), audioState(), KindAudio, nil)
	require.NoError(t, err)
	assert.FileExists(t, job.OutputPath)
	assert.False(t, job.HasExited())

	job.Cancel()
	assert.ErrorIs(t, job.Wait(waitCtx(t)), ErrCancelled)
	assert.Equal(t, StatusCancelled, job.Status())
	assert.NoFileExists(t, job.OutputPath)
	assert.True(t, job.HasExited())
}

func TestSupervisor_StartContextCancelsJob(t *testing.T) {
	f := newSupervisorFixture(t, encoderWaitsForQuit)

	ctx, cancel := context.WithCancel(context.Background())
	job, err := f.sup.Start(ctx, audioState(), KindAudio, nil)
	require.NoError(t, err)

	cancel()
	assert.ErrorIs(t, job.Wait(waitCtx(t)), ErrCancelled)
	assert.True(t, job.IsCancelled())
}

func TestSupervisor_StartContextEndsBeforeOutput(t *testing.T) {
	f := newSupervisorFixture(t, "sleep 0.4\n"+encoderWaitsForQuit)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	job, err := f.sup.Start(ctx, audioState(), KindAudio, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, job, "the launched encoder is handed back to the caller")

	assert.ErrorIs(t, job.Wait(waitCtx(t)), ErrCancelled)
	assert.NoFileExists(t, job.OutputPath)
}

func TestSupervisor_CancelAfterExitBeforePipesDrain(t *testing.T) {
	// The encoder closes stdin and exits while a background child keeps its output
	// pipes open, so the job has not observed the exit when Cancel runs.
	f := newSupervisorFixture(t, `exec 0<&-
echo encoded > "$last"
(sleep 1) &
exit 0`)

	job, err := f.sup.Start(context.Background(), audioState(), KindAudio, nil)
	require.NoError(t, err)

	time.Sleep(300 * time.Millisecond)
	require.False(t, job.HasExited())
	job.Cancel()
	assert.False(t, job.IsCancelled(), "the quit request could not be delivered")

	require.NoError(t, job.Wait(waitCtx(t)))
	assert.Equal(t, StatusCompleted, job.Status())
	assert.FileExists(t, job.OutputPath)
}

func TestSupervisor_ReleasesResourcesOnEveryOutcome(t *testing.T) {
	tests := []struct {
		name    string
		encoder string
		cancel  bool
		wantErr func(t *testing.T, err error)
	}{
		{
			name:    "success",
			encoder: encoderSucceeds,
			wantErr: func(t *testing.T, err error) { assert.NoError(t, err) },
		},
		{
			name:    "failure",
			encoder: encoderFails,
			wantErr: func(t *testing.T, err error) {
				var failed *EncodingFailedError
				assert.ErrorAs(t, err, &failed)
			},
		},
		{
			name:    "cancel",
			encoder: encoderWaitsForQuit,
			cancel:  true,
			wantErr: func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrCancelled) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := &trackingFS{Filesystem: osfs.New("/")}
			mount := &fakeMount{path: "/mnt/disc", isoType: models.IsoTypeDvd}

			cfg := DefaultSupervisorConfig()
			cfg.EncoderPath = writeEncoder(t, tt.encoder)
			cfg.TranscodeDir = t.TempDir()
			cfg.LogDir = t.TempDir()
			cfg.PollInterval = 10 * time.Millisecond
			sup := NewSupervisor(cfg, nil,
				WithFilesystem(fs),
				WithAcquirer(NewAcquirer(WithIsoMounter(&fakeMounter{mount: mount}))))

			s := audioState()
			s.MediaPath = "/media/disc.iso"
			s.VideoType = models.VideoTypeIso

			job, err := sup.Start(context.Background(), s, KindAudio, nil)
			require.NoError(t, err)
			assert.Equal(t, "/mnt/disc", s.MountedPath)
			assert.Equal(t, int32(0), mount.closed.Load(), "resources are held while the encoder runs")

			if tt.cancel {
				job.Cancel()
			}
			tt.wantErr(t, job.Wait(waitCtx(t)))

			assert.Equal(t, int32(1), mount.closed.Load())
			opened := fs.Opened()
			require.Len(t, opened, 1, "only the log file is opened")
			assert.True(t, opened[0].closed.Load())
		})
	}
}

func TestSupervisor_SegmentedCancelRemovesSegments(t *testing.T) {
	f := newSupervisorFixture(t, `base="${last%.m3u8}"
echo seg > "${base}0.ts"
echo seg > "${base}1.ts"
`+encoderWaitsForQuit)

	opts := baseOptions()
	opts.OutputContainer = "ts"
	s := models.NewEncodingState(opts)
	s.IsVideoRequest = true
	s.SegmentLength = 3
	AttachMediaSource(s, sampleSource())

	job, err := f.sup.Start(context.Background(), s, KindSegmented, nil)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(job.OutputPath, ".m3u8"))
	assert.FileExists(t, filepath.Join(f.transcodeDir, job.ID+"0.ts"))

	job.Cancel()
	assert.ErrorIs(t, job.Wait(waitCtx(t)), ErrCancelled)

	entries, err := os.ReadDir(f.transcodeDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSupervisor_LaunchFailure(t *testing.T) {
	fs := &trackingFS{Filesystem: memfs.New()}
	registry := &fakeRegistry{}

	cfg := DefaultSupervisorConfig()
	cfg.EncoderPath = "/nonexistent/encodarr-ffmpeg"
	cfg.TranscodeDir = "/transcodes"
	cfg.LogDir = "/logs"
	cfg.EnableDebugLogging = true
	sup := NewSupervisor(cfg, nil, WithFilesystem(fs), WithSessionRegistry(registry))

	job, err := sup.Start(context.Background(), audioState(), KindAudio, nil)
	assert.Nil(t, job)

	var launch *LaunchError
	require.ErrorAs(t, err, &launch)
	assert.Equal(t, "/nonexistent/encodarr-ffmpeg", launch.Binary)

	assert.Equal(t, []string{"living-room"}, registry.Cleared())
	assert.Len(t, registry.Reports(), 1)

	opened := fs.Opened()
	require.Len(t, opened, 1, "only the log file is opened")
	assert.True(t, opened[0].closed.Load())

	entries, err := fs.ReadDir("/logs")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	data, err := util.ReadFile(fs, filepath.Join("/logs", entries[0].Name()))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "/nonexistent/encodarr-ffmpeg -loglevel debug "))
	assert.True(t, strings.HasSuffix(string(data), "\n\n"))
}

func TestSupervisor_BuildFailureIsPrecondition(t *testing.T) {
	fs := &trackingFS{Filesystem: memfs.New()}
	cfg := DefaultSupervisorConfig()
	cfg.TranscodeDir = "/transcodes"
	cfg.LogDir = "/logs"
	sup := NewSupervisor(cfg, nil, WithFilesystem(fs))

	s := models.NewEncodingState(baseOptions())
	_, err := sup.Start(context.Background(), s, KindVideo, nil)

	var pre *PreconditionError
	require.ErrorAs(t, err, &pre)
	assert.Empty(t, fs.Opened())
}

func TestSupervisor_AcquireFailure(t *testing.T) {
	fs := memfs.New()
	cfg := DefaultSupervisorConfig()
	cfg.TranscodeDir = "/transcodes"
	cfg.LogDir = "/logs"
	sup := NewSupervisor(cfg, nil,
		WithFilesystem(fs),
		WithAcquirer(NewAcquirer(WithIsoMounter(&fakeMounter{err: os.ErrPermission}))))

	_, err := sup.Start(context.Background(), isoState(), KindVideo, nil)
	var acq *AcquireError
	require.ErrorAs(t, err, &acq)
	assert.ErrorIs(t, err, os.ErrPermission)
}

func TestSupervisor_OutputPath(t *testing.T) {
	sup := NewSupervisor(SupervisorConfig{TranscodeDir: "/var/transcodes"}, nil)

	s := models.NewEncodingState(models.EncodingJobOptions{OutputContainer: "MKV"})
	assert.Equal(t, "/var/transcodes/abc.mkv", sup.OutputPath(s, KindVideo, "abc"))
	assert.Equal(t, "/var/transcodes/abc.m3u8", sup.OutputPath(s, KindSegmented, "abc"))

	s.Options.OutputDirectory = "/srv/out"
	assert.Equal(t, "/srv/out/abc.mkv", sup.OutputPath(s, KindVideo, "abc"))
}
