package transcode

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/encodarr/internal/ffmpeg"
	"github.com/jmylchreest/encodarr/internal/models"
)

func testJob(state *models.EncodingState) *Job {
	if state == nil {
		state = models.NewEncodingState(baseOptions())
	}
	return newJob("job1", KindVideo, state, slog.Default())
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in      string
		want    Kind
		wantErr bool
	}{
		{in: "", want: KindVideo},
		{in: "video", want: KindVideo},
		{in: "Audio", want: KindAudio},
		{in: "hls", want: KindSegmented},
		{in: "segmented", want: KindSegmented},
		{in: "dash", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseKind(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestKind_Layout(t *testing.T) {
	assert.Equal(t, ffmpeg.LayoutVideo, KindVideo.Layout())
	assert.Equal(t, ffmpeg.LayoutAudio, KindAudio.Layout())
	assert.Equal(t, ffmpeg.LayoutSegmented, KindSegmented.Layout())
	assert.True(t, KindSegmented.IsVideo())
	assert.False(t, KindAudio.IsVideo())
}

func TestJob_FinishOnlyOnce(t *testing.T) {
	j := testJob(nil)
	assert.Equal(t, StatusRunning, j.Status())
	assert.NoError(t, j.Err())

	assert.True(t, j.finish(&EncodingFailedError{ExitCode: 1}))
	assert.False(t, j.finish(nil))

	assert.Equal(t, StatusFailed, j.Status())
	var failed *EncodingFailedError
	assert.ErrorAs(t, j.Wait(context.Background()), &failed)
	assert.False(t, j.FinishedAt().IsZero())
}

func TestJob_Status(t *testing.T) {
	j := testJob(nil)
	j.finish(ErrCancelled)
	assert.Equal(t, StatusCancelled, j.Status())

	j = testJob(nil)
	j.finish(nil)
	assert.Equal(t, StatusCompleted, j.Status())
	assert.NoError(t, j.Wait(context.Background()))
}

func TestJob_WaitHonoursContext(t *testing.T) {
	j := testJob(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, j.Wait(ctx), context.DeadlineExceeded)
}

type recordingWriter struct {
	data   []byte
	closed bool
}

func (w *recordingWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, errors.New("write |1: file already closed")
	}
	w.data = append(w.data, p...)
	return len(p), nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestJob_Cancel(t *testing.T) {
	t.Run("before start", func(t *testing.T) {
		j := testJob(nil)
		j.Cancel()
		assert.False(t, j.IsCancelled())
	})

	t.Run("while running", func(t *testing.T) {
		j := testJob(nil)
		w := &recordingWriter{}
		j.stdin = w
		j.Cancel()
		assert.True(t, j.IsCancelled())
		assert.Equal(t, "q\n", string(w.data))
	})

	t.Run("after exit", func(t *testing.T) {
		j := testJob(nil)
		w := &recordingWriter{}
		j.stdin = w
		j.markExited()
		j.Cancel()
		assert.False(t, j.IsCancelled())
		assert.Empty(t, w.data)
	})
}

func TestJob_UpdateProgress(t *testing.T) {
	state := models.NewEncodingState(baseOptions())
	state.RunTimeTicks = models.Int64Ptr(models.DurationToTicks(100 * time.Second))
	state.Options.StartTimeTicks = models.Int64Ptr(models.DurationToTicks(20 * time.Second))
	j := testJob(state)

	pct, due := j.updateProgress(ffmpeg.Progress{Time: 30 * time.Second}, time.Hour)
	require.NotNil(t, pct)
	assert.InDelta(t, 50.0, *pct, 0.001)
	assert.True(t, due, "first report is always due")

	_, due = j.updateProgress(ffmpeg.Progress{Time: 31 * time.Second}, time.Hour)
	assert.False(t, due, "reports are throttled")

	pct, _ = j.updateProgress(ffmpeg.Progress{Time: 500 * time.Second}, time.Hour)
	assert.InDelta(t, 100.0, *pct, 0.001)

	p, got := j.Progress()
	require.NotNil(t, p)
	assert.Equal(t, 500*time.Second, p.Time)
	assert.InDelta(t, 100.0, *got, 0.001)
}

func TestJob_UpdateProgressUnknownRuntime(t *testing.T) {
	j := testJob(nil)
	pct, _ := j.updateProgress(ffmpeg.Progress{Time: time.Second}, 0)
	assert.Nil(t, pct)
}

func TestJob_Snapshot(t *testing.T) {
	opts := baseOptions()
	opts.DeviceID = "tv"
	j := testJob(models.NewEncodingState(opts))
	j.Binary = "ffmpeg"
	j.Args = []string{"-i", "file:/media/movie.mkv", "-y", "/out/job1.mkv"}
	j.finish(&EncodingFailedError{ExitCode: 2})

	snap := j.Snapshot()
	assert.Equal(t, "job1", snap.ID)
	assert.Equal(t, StatusFailed, snap.Status)
	assert.Equal(t, "Encoding failed (exit code 2)", snap.Error)
	assert.Equal(t, "ffmpeg -i file:/media/movie.mkv -y /out/job1.mkv", snap.CommandLine)
	assert.Equal(t, "tv", snap.DeviceID)
	assert.NotNil(t, snap.FinishedAt)
	assert.Nil(t, snap.Process)
}

func TestErrorTypes(t *testing.T) {
	assert.Equal(t, "Encoding failed", (&EncodingFailedError{ExitCode: -1}).Error())
	assert.Equal(t, "Encoding failed (exit code 1)", (&EncodingFailedError{ExitCode: 1}).Error())

	cause := errors.New("boom")
	assert.ErrorIs(t, &PreconditionError{Err: cause}, cause)
	assert.ErrorIs(t, &AcquireError{Err: cause}, cause)
	launch := &LaunchError{Binary: "/usr/bin/ffmpeg", Err: cause}
	assert.ErrorIs(t, launch, cause)
	assert.Contains(t, launch.Error(), "/usr/bin/ffmpeg")
}
