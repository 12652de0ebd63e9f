package handlers

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"

	"github.com/jmylchreest/encodarr/internal/models"
	"github.com/jmylchreest/encodarr/internal/observability"
	"github.com/jmylchreest/encodarr/internal/transcode"
)

// TranscodeHandler handles transcode job endpoints.
type TranscodeHandler struct {
	manager *transcode.Manager
	fs      billy.Filesystem
}

// NewTranscodeHandler creates a new transcode handler.
func NewTranscodeHandler(manager *transcode.Manager) *TranscodeHandler {
	return &TranscodeHandler{
		manager: manager,
		fs:      osfs.New("/"),
	}
}

// WithFilesystem sets the filesystem log and output files are served from.
func (h *TranscodeHandler) WithFilesystem(fsys billy.Filesystem) *TranscodeHandler {
	h.fs = fsys
	return h
}

// Register registers the transcode routes with the API.
func (h *TranscodeHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "createTranscode",
		Method:        "POST",
		Path:          "/api/v1/transcodes",
		Summary:       "Start transcode",
		Description:   "Starts an encoder for the request and returns once its output exists",
		Tags:          []string{"Transcodes"},
		DefaultStatus: http.StatusCreated,
	}, h.Create)

	huma.Register(api, huma.Operation{
		OperationID: "listTranscodes",
		Method:      "GET",
		Path:        "/api/v1/transcodes",
		Summary:     "List transcodes",
		Description: "Returns running and recently finished transcodes, most recent first",
		Tags:        []string{"Transcodes"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getTranscode",
		Method:      "GET",
		Path:        "/api/v1/transcodes/{id}",
		Summary:     "Get transcode",
		Description: "Returns a transcode with its progress and encoder process statistics",
		Tags:        []string{"Transcodes"},
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID:   "cancelTranscode",
		Method:        "DELETE",
		Path:          "/api/v1/transcodes/{id}",
		Summary:       "Cancel transcode",
		Description:   "Asks the encoder to quit. The job is kept for inspection once it exits",
		Tags:          []string{"Transcodes"},
		DefaultStatus: http.StatusAccepted,
	}, h.Cancel)

	huma.Register(api, huma.Operation{
		OperationID: "getTranscodePlaylist",
		Method:      "GET",
		Path:        "/api/v1/transcodes/{id}/playlist",
		Summary:     "Get transcode playlist",
		Description: "Returns the segments written so far by a segmented transcode",
		Tags:        []string{"Transcodes"},
	}, h.Playlist)
}

// RegisterChiRoutes registers the raw file routes.
// These use Chi directly because Huma doesn't handle file streaming well.
func (h *TranscodeHandler) RegisterChiRoutes(r chi.Router) {
	r.Get("/api/v1/transcodes/{id}/log", h.ServeLog)
	r.Get("/api/v1/transcodes/{id}/output", h.ServeOutput)
}

// CreateTranscodeInput is the input for starting a transcode.
type CreateTranscodeInput struct {
	Body CreateTranscodeRequest
}

// TranscodeOutput is the output for a single transcode.
type TranscodeOutput struct {
	Body TranscodeResponse
}

// Create starts a transcode.
func (h *TranscodeHandler) Create(ctx context.Context, input *CreateTranscodeInput) (*TranscodeOutput, error) {
	kind, err := transcode.ParseKind(input.Body.Kind)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid kind", err)
	}

	job, err := h.manager.Start(ctx, input.Body.Options(), kind, nil)
	if err != nil {
		return nil, startError(ctx, err)
	}

	return &TranscodeOutput{Body: job.Snapshot()}, nil
}

func startError(ctx context.Context, err error) error {
	var precondition *transcode.PreconditionError
	switch {
	case errors.As(err, &precondition):
		return huma.Error400BadRequest(precondition.Err.Error())
	case errors.Is(err, models.ErrMediaSourceNotFound):
		return huma.Error404NotFound("media source not found", err)
	case errors.Is(err, transcode.ErrCapacity):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, transcode.ErrManagerClosed):
		return huma.Error503ServiceUnavailable(err.Error())
	}

	observability.LoggerFromContext(ctx).ErrorContext(ctx, "starting transcode",
		slog.String("error", err.Error()))

	var launch *transcode.LaunchError
	var acquire *transcode.AcquireError
	switch {
	case errors.As(err, &launch):
		return huma.Error500InternalServerError("failed to start encoder", err)
	case errors.As(err, &acquire):
		return huma.Error500InternalServerError("failed to acquire input", err)
	default:
		return huma.Error500InternalServerError("failed to start transcode", err)
	}
}

// ListTranscodesInput is the input for listing transcodes.
type ListTranscodesInput struct {
	Status string `query:"status" doc:"Only return jobs with this status" enum:"running,completed,cancelled,failed"`
}

// ListTranscodesOutput is the output for listing transcodes.
type ListTranscodesOutput struct {
	Body struct {
		Transcodes []TranscodeResponse `json:"transcodes"`
		Active     int                 `json:"active"`
	}
}

// List returns the known transcodes.
func (h *TranscodeHandler) List(_ context.Context, input *ListTranscodesInput) (*ListTranscodesOutput, error) {
	jobs := h.manager.List()

	resp := &ListTranscodesOutput{}
	resp.Body.Transcodes = make([]TranscodeResponse, 0, len(jobs))
	for _, j := range jobs {
		snap := j.Snapshot()
		if input.Status != "" && string(snap.Status) != input.Status {
			continue
		}
		resp.Body.Transcodes = append(resp.Body.Transcodes, snap)
	}
	resp.Body.Active = h.manager.ActiveCount()
	return resp, nil
}

// TranscodeIDInput identifies a transcode.
type TranscodeIDInput struct {
	ID string `path:"id" doc:"Transcode job ID"`
}

// Get returns one transcode.
func (h *TranscodeHandler) Get(_ context.Context, input *TranscodeIDInput) (*TranscodeOutput, error) {
	job, err := h.manager.Get(input.ID)
	if err != nil {
		return nil, lookupError(input.ID, err)
	}
	return &TranscodeOutput{Body: job.Snapshot()}, nil
}

// Cancel requests a graceful stop.
func (h *TranscodeHandler) Cancel(_ context.Context, input *TranscodeIDInput) (*TranscodeOutput, error) {
	job, err := h.manager.Get(input.ID)
	if err != nil {
		return nil, lookupError(input.ID, err)
	}
	job.Cancel()
	return &TranscodeOutput{Body: job.Snapshot()}, nil
}

// PlaylistOutput is the output for a segmented transcode's playlist.
type PlaylistOutput struct {
	Body *transcode.PlaylistInfo
}

// Playlist returns the playlist summary of a segmented transcode.
func (h *TranscodeHandler) Playlist(_ context.Context, input *TranscodeIDInput) (*PlaylistOutput, error) {
	info, err := h.manager.ReadPlaylist(input.ID)
	switch {
	case err == nil:
		return &PlaylistOutput{Body: info}, nil
	case errors.Is(err, transcode.ErrJobNotFound):
		return nil, lookupError(input.ID, err)
	case errors.Is(err, transcode.ErrNotSegmented):
		return nil, huma.Error400BadRequest(err.Error())
	case errors.Is(err, fs.ErrNotExist):
		return nil, huma.Error404NotFound("playlist not written yet")
	default:
		return nil, huma.Error500InternalServerError("failed to read playlist", err)
	}
}

func lookupError(id string, err error) error {
	if errors.Is(err, transcode.ErrJobNotFound) {
		return huma.Error404NotFound(fmt.Sprintf("transcode %s not found", id))
	}
	return huma.Error500InternalServerError("failed to get transcode", err)
}

// ServeLog streams the encoder log of a transcode as it is so far.
func (h *TranscodeHandler) ServeLog(w http.ResponseWriter, r *http.Request) {
	job, err := h.manager.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeJSONError(w, "transcode not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	h.serveFile(w, r, job.LogPath)
}

// ServeOutput serves the output file of a transcode with Range support.
func (h *TranscodeHandler) ServeOutput(w http.ResponseWriter, r *http.Request) {
	job, err := h.manager.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeJSONError(w, "transcode not found", http.StatusNotFound)
		return
	}
	if job.Kind == transcode.KindSegmented {
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	}
	h.serveFile(w, r, job.OutputPath)
}

func (h *TranscodeHandler) serveFile(w http.ResponseWriter, r *http.Request, path string) {
	f, err := h.fs.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			writeJSONError(w, "file not found", http.StatusNotFound)
			return
		}
		writeJSONError(w, "failed to open file", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	info, err := h.fs.Stat(path)
	if err != nil {
		writeJSONError(w, "failed to stat file", http.StatusInternalServerError)
		return
	}

	http.ServeContent(w, r, filepath.Base(path), info.ModTime(), f)
}

// writeJSONError writes an error response in JSON format for consistency with API clients.
func writeJSONError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, `{"title":%q,"status":%d}`, message, status)
}
