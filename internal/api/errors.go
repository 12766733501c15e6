package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/phrazzld/taskstream/internal/api/shared"
	"github.com/phrazzld/taskstream/internal/task"
	"github.com/phrazzld/taskstream/internal/task/demo"
)

// Request-level errors raised by the handlers themselves.
var (
	ErrInvalidTaskID  = errors.New("invalid task id")
	ErrMissingSession = errors.New("missing request_id")
	ErrUnknownAction  = errors.New("unknown callback action")
)

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	var validationErrs validator.ValidationErrors

	switch {
	case errors.Is(err, task.ErrServiceUnavailable),
		errors.Is(err, task.ErrQueueFull),
		errors.Is(err, task.ErrPoolClosed):
		return http.StatusServiceUnavailable

	case errors.Is(err, task.ErrTaskNotFound):
		return http.StatusNotFound

	case errors.Is(err, task.ErrTaskNotTerminal):
		return http.StatusConflict

	case errors.Is(err, demo.ErrUnknownKind),
		errors.Is(err, ErrInvalidTaskID),
		errors.Is(err, ErrMissingSession),
		errors.Is(err, ErrUnknownAction),
		errors.Is(err, shared.ErrEmptyBody),
		errors.As(err, &validationErrs):
		return http.StatusBadRequest

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message
// based on the error type. This prevents leaking sensitive internal details.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	var validationErrs validator.ValidationErrors

	switch {
	case errors.Is(err, task.ErrServiceUnavailable),
		errors.Is(err, task.ErrPoolClosed):
		return "Service is shutting down"

	case errors.Is(err, task.ErrQueueFull):
		return "Task queue is full"

	case errors.Is(err, task.ErrTaskNotFound):
		return "Task not found"

	case errors.Is(err, task.ErrTaskNotTerminal):
		return "Task is still active"

	case errors.Is(err, demo.ErrUnknownKind):
		return "Unknown task type"

	case errors.Is(err, ErrInvalidTaskID):
		return "Invalid task ID"

	case errors.Is(err, ErrMissingSession):
		return "Missing request_id in connection URL"

	case errors.Is(err, ErrUnknownAction):
		return "Unknown callback action"

	case errors.Is(err, shared.ErrEmptyBody):
		return "Request body is required"

	case errors.As(err, &validationErrs):
		return SanitizeValidationError(err)

	default:
		return "An unexpected error occurred"
	}
}

// HandleAPIError writes the status and safe message for err. A non-empty
// message replaces the safe message in the response.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, message string) {
	if message == "" {
		message = GetSafeErrorMessage(err)
	}
	shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), message, err)
}

// SanitizeValidationError removes sensitive details from validation errors
// and returns a user-friendly message.
func SanitizeValidationError(err error) string {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		first := validationErrs[0]
		return fmt.Sprintf("Invalid %s: %s", first.Field(), getValidationTagMessage(first.Tag()))
	}

	return "Validation error"
}

// getValidationTagMessage maps validation tags to user-friendly error messages
func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "min":
		return "too short"
	case "max":
		return "too long"
	case "oneof":
		return "invalid value"
	case "uuid", "uuid4":
		return "invalid identifier"
	default:
		return "validation failed"
	}
}
