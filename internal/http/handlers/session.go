package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/encodarr/internal/session"
)

// SessionHandler exposes the per-device transcoding registry.
type SessionHandler struct {
	registry *session.Registry
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(registry *session.Registry) *SessionHandler {
	return &SessionHandler{registry: registry}
}

// Register registers the session routes with the API.
func (h *SessionHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listSessions",
		Method:      "GET",
		Path:        "/api/v1/sessions",
		Summary:     "List sessions",
		Description: "Returns the transcoding record of every device with a transcode in progress",
		Tags:        []string{"Sessions"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getSession",
		Method:      "GET",
		Path:        "/api/v1/sessions/{device_id}",
		Summary:     "Get session",
		Description: "Returns the transcoding record of a device",
		Tags:        []string{"Sessions"},
	}, h.Get)
}

// ListSessionsInput is the input for listing sessions.
type ListSessionsInput struct{}

// ListSessionsOutput is the output for listing sessions.
type ListSessionsOutput struct {
	Body struct {
		Sessions []SessionResponse `json:"sessions"`
	}
}

// List returns all registry rows, most recently updated first.
func (h *SessionHandler) List(ctx context.Context, _ *ListSessionsInput) (*ListSessionsOutput, error) {
	rows, err := h.registry.List(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list sessions", err)
	}

	resp := &ListSessionsOutput{}
	resp.Body.Sessions = make([]SessionResponse, 0, len(rows))
	resp.Body.Sessions = append(resp.Body.Sessions, rows...)
	return resp, nil
}

// GetSessionInput is the input for getting a session.
type GetSessionInput struct {
	DeviceID string `path:"device_id" doc:"Device ID"`
}

// GetSessionOutput is the output for getting a session.
type GetSessionOutput struct {
	Body SessionResponse
}

// Get returns the registry row of a device.
func (h *SessionHandler) Get(ctx context.Context, input *GetSessionInput) (*GetSessionOutput, error) {
	info, err := h.registry.Get(ctx, input.DeviceID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, huma.Error404NotFound(fmt.Sprintf("no session for device %s", input.DeviceID))
		}
		return nil, huma.Error500InternalServerError("failed to get session", err)
	}
	return &GetSessionOutput{Body: *info}, nil
}
