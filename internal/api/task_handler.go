package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/phrazzld/taskstream/internal/api/shared"
	"github.com/phrazzld/taskstream/internal/task"
	"github.com/phrazzld/taskstream/internal/task/demo"
)

// TaskRunner is the part of the executor the HTTP layer drives.
type TaskRunner interface {
	Start(unit task.UnitOfWork, params task.Params) (task.StartResponse, error)
	GetStatus(taskID string) (task.Info, bool)
	Cancel(taskID string) bool
	RemoveTask(taskID string) error
}

// UnitFactory builds units of work by kind name.
type UnitFactory interface {
	New(kind string) (task.UnitOfWork, error)
	Kinds() []string
}

// StartTaskRequest represents the request body for starting a task
type StartTaskRequest struct {
	TaskType string      `json:"task_type" validate:"required"`
	Params   task.Params `json:"params"`
}

// CancelTaskResponse reports the outcome of a cancel request
type CancelTaskResponse struct {
	TaskID    string `json:"task_id"`
	Cancelled bool   `json:"cancelled"`
}

// TaskTypesResponse lists the task kinds that can be started
type TaskTypesResponse struct {
	Types []string `json:"types"`
}

// TaskHandler handles task-related HTTP requests
type TaskHandler struct {
	runner      TaskRunner
	factory     UnitFactory
	taskTimeout time.Duration
	logger      *slog.Logger
}

// NewTaskHandler creates a new TaskHandler. A positive taskTimeout is added
// to each task's params under task.TimeoutParam unless the caller set it.
func NewTaskHandler(runner TaskRunner, factory UnitFactory, taskTimeout time.Duration, logger *slog.Logger) *TaskHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskHandler{
		runner:      runner,
		factory:     factory,
		taskTimeout: taskTimeout,
		logger:      logger.With("component", "task_handler"),
	}
}

// Routes mounts the task endpoints on r.
func (h *TaskHandler) Routes(r chi.Router) {
	r.Post("/", h.StartTask)
	r.Get("/types", h.ListTaskTypes)
	r.Get("/{id}", h.GetTask)
	r.Post("/{id}/cancel", h.CancelTask)
	r.Delete("/{id}", h.RemoveTask)
}

// StartTask handles POST /api/tasks requests
func (h *TaskHandler) StartTask(w http.ResponseWriter, r *http.Request) {
	var req StartTaskRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		if errors.Is(err, shared.ErrEmptyBody) {
			HandleAPIError(w, r, err, "")
			return
		}
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := shared.ValidateRequest(&req); err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	unit, err := h.factory.New(req.TaskType)
	if err != nil {
		HandleAPIError(w, r, err, fmt.Sprintf("Unknown task type: %s", req.TaskType))
		return
	}

	params := req.Params
	if params == nil {
		params = task.Params{}
	}
	if _, set := params[task.TimeoutParam]; !set && h.taskTimeout > 0 {
		params[task.TimeoutParam] = h.taskTimeout.Seconds()
	}

	resp, err := h.runner.Start(unit, params)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	h.logger.Info("task started",
		"task_id", resp.TaskID,
		"task_type", req.TaskType,
		"trace_id", shared.GetTraceID(r.Context()))

	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// ListTaskTypes handles GET /api/tasks/types requests
func (h *TaskHandler) ListTaskTypes(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, TaskTypesResponse{Types: h.factory.Kinds()})
}

// GetTask handles GET /api/tasks/{id} requests
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := h.pathTaskID(w, r)
	if !ok {
		return
	}

	info, found := h.runner.GetStatus(taskID)
	if !found {
		HandleAPIError(w, r, task.ErrTaskNotFound, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, info)
}

// CancelTask handles POST /api/tasks/{id}/cancel requests. Cancelling an
// unknown task is a 404; a task that already finished reports
// cancelled=false.
func (h *TaskHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := h.pathTaskID(w, r)
	if !ok {
		return
	}

	if _, found := h.runner.GetStatus(taskID); !found {
		HandleAPIError(w, r, task.ErrTaskNotFound, "")
		return
	}

	cancelled := h.runner.Cancel(taskID)
	h.logger.Info("task cancel requested", "task_id", taskID, "cancelled", cancelled)

	shared.RespondWithJSON(w, r, http.StatusOK, CancelTaskResponse{TaskID: taskID, Cancelled: cancelled})
}

// RemoveTask handles DELETE /api/tasks/{id} requests
func (h *TaskHandler) RemoveTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := h.pathTaskID(w, r)
	if !ok {
		return
	}

	if err := h.runner.RemoveTask(taskID); err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// pathTaskID extracts and validates the {id} path parameter, writing a 400
// response when it is not a UUID.
func (h *TaskHandler) pathTaskID(w http.ResponseWriter, r *http.Request) (string, bool) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		h.logger.Debug("invalid task id", "value", raw)
		HandleAPIError(w, r, ErrInvalidTaskID, "")
		return "", false
	}
	return id.String(), true
}

var (
	_ TaskRunner  = (*task.Executor)(nil)
	_ UnitFactory = (*demo.Registry)(nil)
)
