package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/encodarr/internal/models"
	"github.com/jmylchreest/encodarr/internal/transcode"
)

const (
	encoderSucceeds = `echo "size=     256kB time=00:00:05.00 bitrate= 838.9kbits/s speed=1.0x" >&2
echo encoded > "$last"
exit 0`

	encoderWaitsForQuit = `echo encoded > "$last"
while read line; do
  if [ "$line" = "q" ]; then exit 0; fi
done
exit 0`
)

type stubResolver struct {
	err error
}

func (r *stubResolver) ResolveMediaSource(_ context.Context, opts *models.EncodingJobOptions) (*models.MediaSourceInfo, error) {
	if r.err != nil {
		return nil, r.err
	}
	return &models.MediaSourceInfo{
		ID:           "song",
		Path:         opts.MediaPath,
		Protocol:     models.MediaProtocolFile,
		Container:    "flac",
		VideoType:    models.VideoTypeVideoFile,
		RunTimeTicks: models.Int64Ptr(100_000_000),
		MediaStreams: []models.MediaStream{{
			Type:       models.MediaStreamTypeAudio,
			Index:      0,
			Codec:      "flac",
			Channels:   models.IntPtr(2),
			SampleRate: models.IntPtr(44100),
		}},
	}, nil
}

// writeEncoder writes a shell script standing in for the encoder. The output path is
// its last argument.
func writeEncoder(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake encoder needs /bin/sh")
	}
	path := filepath.Join(t.TempDir(), "fake-ffmpeg")
	script := "#!/bin/sh\nfor last; do :; done\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

type managerOptions struct {
	encoderPath string
	maxJobs     int
	resolveErr  error
}

func newTestManager(t *testing.T, opts managerOptions) *transcode.Manager {
	t.Helper()
	cfg := transcode.DefaultSupervisorConfig()
	cfg.EncoderPath = opts.encoderPath
	cfg.TranscodeDir = t.TempDir()
	cfg.LogDir = t.TempDir()
	cfg.PollInterval = 10 * time.Millisecond

	sup := transcode.NewSupervisor(cfg, nil)
	factory := transcode.NewFactory(&stubResolver{err: opts.resolveErr})
	m := transcode.NewManager(transcode.ManagerConfig{MaxConcurrentJobs: opts.maxJobs}, factory, sup, nil, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.CancelAll(ctx)
	})
	return m
}

func newTestAPI(t *testing.T) (*chi.Mux, huma.API) {
	t.Helper()
	router := chi.NewRouter()
	api := humachi.New(router, huma.DefaultConfig("test", "1.0.0"))
	return router, api
}

func doRequest(t *testing.T, h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}
