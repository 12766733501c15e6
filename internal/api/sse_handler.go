package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/phrazzld/taskstream/internal/api/shared"
	"github.com/phrazzld/taskstream/internal/events"
	"github.com/phrazzld/taskstream/internal/sse"
)

// Gateway callback actions.
const (
	CallbackConnect    = "connect"
	CallbackDisconnect = "disconnect"
)

// ConnectionRegistry is the part of the SSE registry the HTTP layer drives.
type ConnectionRegistry interface {
	OnConnect(ctx context.Context, sessionID, token, url string)
	OnDisconnect(token string)
	HasConnection(sessionID string) bool
	SendEvent(ctx context.Context, sessionID string, data any, eventName, channel string) bool
}

// CallbackRequest is the body the SSE gateway posts on connection changes
type CallbackRequest struct {
	Action  string         `json:"action" validate:"required,oneof=connect disconnect"`
	Token   string         `json:"token" validate:"required"`
	Reason  string         `json:"reason,omitempty"`
	Request CallbackOrigin `json:"request"`
}

// CallbackOrigin describes the client request the gateway accepted
type CallbackOrigin struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

// TaskEventRequest asks for one task event to be sent to one session
type TaskEventRequest struct {
	RequestID string           `json:"request_id" validate:"required"`
	TaskID    string           `json:"task_id" validate:"required"`
	EventType events.EventType `json:"event_type" validate:"required"`
	Data      any              `json:"data"`
}

// TaskEventResponse confirms delivery of a targeted task event
type TaskEventResponse struct {
	RequestID string           `json:"requestId"`
	TaskID    string           `json:"taskId"`
	EventType events.EventType `json:"eventType"`
	Delivered bool             `json:"delivered"`
}

// SSEHandler handles gateway callbacks and targeted event sends
type SSEHandler struct {
	registry ConnectionRegistry
	logger   *slog.Logger
}

// NewSSEHandler creates a new SSEHandler
func NewSSEHandler(registry ConnectionRegistry, logger *slog.Logger) *SSEHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SSEHandler{
		registry: registry,
		logger:   logger.With("component", "sse_handler"),
	}
}

// Routes mounts the SSE endpoints on r. The callback route is wrapped with
// callbackAuth.
func (h *SSEHandler) Routes(r chi.Router, callbackAuth func(http.Handler) http.Handler) {
	r.With(callbackAuth).Post("/callback", h.Callback)
	r.Post("/task-event", h.SendTaskEvent)
}

// Callback handles POST /api/sse/callback requests from the SSE gateway.
// On connect the session id is the request_id query parameter of the
// original client URL.
func (h *SSEHandler) Callback(w http.ResponseWriter, r *http.Request) {
	var req CallbackRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := shared.ValidateRequest(&req); err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	switch req.Action {
	case CallbackConnect:
		sessionID, err := sessionFromURL(req.Request.URL)
		if err != nil {
			h.logger.Warn("connect callback without request_id",
				"trace_id", shared.GetTraceID(r.Context()))
			HandleAPIError(w, r, err, "")
			return
		}
		h.registry.OnConnect(r.Context(), sessionID, req.Token, req.Request.URL)

	case CallbackDisconnect:
		h.registry.OnDisconnect(req.Token)
		h.logger.Debug("disconnect callback", "reason", req.Reason)

	default:
		HandleAPIError(w, r, ErrUnknownAction, "")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, struct{}{})
}

// SendTaskEvent handles POST /api/sse/task-event requests. The event is
// delivered only to the named session.
func (h *SSEHandler) SendTaskEvent(w http.ResponseWriter, r *http.Request) {
	var req TaskEventRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := shared.ValidateRequest(&req); err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	if !h.registry.HasConnection(req.RequestID) {
		shared.RespondWithErrorStatus(w, r, http.StatusBadRequest,
			"No SSE connection registered for request_id: "+req.RequestID, "not_found")
		return
	}

	event := events.Event{Type: req.EventType, TaskID: req.TaskID, Data: req.Data}
	if !h.registry.SendEvent(r.Context(), req.RequestID, event, sse.TaskEventName, sse.TaskEventChannel) {
		shared.RespondWithErrorStatus(w, r, http.StatusBadRequest,
			"Failed to send event to connection: "+req.RequestID, "send_failed")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, TaskEventResponse{
		RequestID: req.RequestID,
		TaskID:    req.TaskID,
		EventType: req.EventType,
		Delivered: true,
	})
}

func sessionFromURL(raw string) (string, error) {
	if raw == "" {
		return "", ErrMissingSession
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", errors.Join(ErrMissingSession, err)
	}
	sessionID := u.Query().Get("request_id")
	if sessionID == "" {
		return "", ErrMissingSession
	}
	return sessionID, nil
}

var _ ConnectionRegistry = (*sse.Registry)(nil)
