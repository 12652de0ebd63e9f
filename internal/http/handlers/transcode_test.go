package handlers

import (
	"encoding/json"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/encodarr/internal/models"
	"github.com/jmylchreest/encodarr/internal/transcode"
)

const audioRequest = `{"path": "/media/song.flac", "kind": "audio", "output_container": "mp3", "audio_codec": "mp3", "device_id": "kitchen"}`

func newTranscodeRouter(t *testing.T, m *transcode.Manager) *chi.Mux {
	t.Helper()
	router, api := newTestAPI(t)
	h := NewTranscodeHandler(m)
	h.Register(api)
	h.RegisterChiRoutes(router)
	return router
}

func decodeSnapshot(t *testing.T, body []byte) transcode.Snapshot {
	t.Helper()
	var snap transcode.Snapshot
	require.NoError(t, json.Unmarshal(body, &snap))
	return snap
}

func TestTranscodeHandler_Lifecycle(t *testing.T) {
	m := newTestManager(t, managerOptions{encoderPath: writeEncoder(t, encoderSucceeds)})
	router := newTranscodeRouter(t, m)

	rec := doRequest(t, router, http.MethodPost, "/api/v1/transcodes", audioRequest)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeSnapshot(t, rec.Body.Bytes())
	require.NotEmpty(t, created.ID)
	assert.Equal(t, transcode.KindAudio, created.Kind)
	assert.Equal(t, "kitchen", created.DeviceID)
	assert.Equal(t, ".mp3", filepath.Ext(created.OutputPath))

	detail := "/api/v1/transcodes/" + created.ID
	assert.Eventually(t, func() bool {
		rec := doRequest(t, router, http.MethodGet, detail, "")
		return rec.Code == http.StatusOK && decodeSnapshot(t, rec.Body.Bytes()).Status == transcode.StatusCompleted
	}, 10*time.Second, 20*time.Millisecond)

	rec = doRequest(t, router, http.MethodGet, "/api/v1/transcodes", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Transcodes []transcode.Snapshot `json:"transcodes"`
		Active     int                  `json:"active"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Transcodes, 1)
	assert.Equal(t, created.ID, list.Transcodes[0].ID)
	assert.Zero(t, list.Active)

	rec = doRequest(t, router, http.MethodGet, "/api/v1/transcodes?status=running", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Empty(t, list.Transcodes)

	rec = doRequest(t, router, http.MethodGet, detail+"/output", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "encoded\n", rec.Body.String())

	rec = doRequest(t, router, http.MethodGet, detail+"/output", "", "Range", "bytes=0-2")
	require.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "enc", rec.Body.String())

	rec = doRequest(t, router, http.MethodGet, detail+"/log", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/media/song.flac")
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")

	rec = doRequest(t, router, http.MethodGet, detail+"/playlist", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "progressive jobs have no playlist")
}

func TestTranscodeHandler_CancelAndCapacity(t *testing.T) {
	m := newTestManager(t, managerOptions{encoderPath: writeEncoder(t, encoderWaitsForQuit), maxJobs: 1})
	router := newTranscodeRouter(t, m)

	rec := doRequest(t, router, http.MethodPost, "/api/v1/transcodes", audioRequest)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	first := decodeSnapshot(t, rec.Body.Bytes())
	assert.Equal(t, transcode.StatusRunning, first.Status)

	rec = doRequest(t, router, http.MethodPost, "/api/v1/transcodes", audioRequest)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(t, router, http.MethodDelete, "/api/v1/transcodes/"+first.ID, "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	assert.Eventually(t, func() bool {
		rec := doRequest(t, router, http.MethodGet, "/api/v1/transcodes/"+first.ID, "")
		return decodeSnapshot(t, rec.Body.Bytes()).Status == transcode.StatusCancelled
	}, 10*time.Second, 20*time.Millisecond)

	rec = doRequest(t, router, http.MethodGet, "/api/v1/transcodes/"+first.ID+"/output", "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "cancelled output is deleted")
}

func TestTranscodeHandler_StartErrors(t *testing.T) {
	tests := []struct {
		name   string
		opts   func(t *testing.T) managerOptions
		body   string
		status int
	}{
		{
			name: "no input",
			opts: func(t *testing.T) managerOptions {
				return managerOptions{encoderPath: writeEncoder(t, encoderSucceeds)}
			},
			body:   `{"kind": "audio", "output_container": "mp3"}`,
			status: http.StatusBadRequest,
		},
		{
			name: "missing media",
			opts: func(t *testing.T) managerOptions {
				return managerOptions{
					encoderPath: writeEncoder(t, encoderSucceeds),
					resolveErr:  models.ErrMediaSourceNotFound,
				}
			},
			body:   audioRequest,
			status: http.StatusNotFound,
		},
		{
			name: "encoder missing",
			opts: func(t *testing.T) managerOptions {
				return managerOptions{encoderPath: filepath.Join(t.TempDir(), "no-such-encoder")}
			},
			body:   audioRequest,
			status: http.StatusInternalServerError,
		},
		{
			name: "missing container",
			opts: func(t *testing.T) managerOptions {
				return managerOptions{encoderPath: writeEncoder(t, encoderSucceeds)}
			},
			body:   `{"path": "/media/song.flac"}`,
			status: http.StatusUnprocessableEntity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTranscodeRouter(t, newTestManager(t, tt.opts(t)))
			rec := doRequest(t, router, http.MethodPost, "/api/v1/transcodes", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestTranscodeHandler_UnknownJob(t *testing.T) {
	router := newTranscodeRouter(t, newTestManager(t, managerOptions{encoderPath: "ffmpeg"}))

	for _, path := range []string{
		"/api/v1/transcodes/missing",
		"/api/v1/transcodes/missing/playlist",
		"/api/v1/transcodes/missing/log",
		"/api/v1/transcodes/missing/output",
	} {
		rec := doRequest(t, router, http.MethodGet, path, "")
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}

	rec := doRequest(t, router, http.MethodDelete, "/api/v1/transcodes/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateTranscodeRequest_Options(t *testing.T) {
	req := CreateTranscodeRequest{
		Path:            "  /media/movie.mkv ",
		OutputContainer: "mkv",
		VideoCodec:      "hevc,h264",
		MaxWidth:        models.IntPtr(1280),
		SubtitleMethod:  "encode",
	}
	opts := req.Options()

	assert.Equal(t, "/media/movie.mkv", opts.MediaPath)
	assert.Equal(t, []string{"hevc", "h264"}, opts.VideoCodecs())
	assert.Equal(t, 1280, *opts.MaxWidth)
	assert.Equal(t, models.SubtitleDeliveryMethod("encode"), opts.SubtitleMethod)
	require.NoError(t, opts.Validate())
}
