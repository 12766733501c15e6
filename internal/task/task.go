package task

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Status represents the current state of a task.
type Status string

// Possible task status values.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no further transitions are expected.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsActive reports whether the task is pending or running.
func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusRunning
}

// Params carries task-specific parameters to a unit of work.
type Params map[string]any

// TimeoutParam is the advisory timeout hint, in seconds, the HTTP layer adds
// to Params. The executor does not enforce it.
const TimeoutParam = "timeout_seconds"

// UnitOfWork is a single piece of background work.
//
// Execute must check IsCancelled (or watch ctx) at safe points and return
// early once cancellation has been requested. The executor never interrupts
// a running unit of work.
type UnitOfWork interface {
	// Execute runs the work, reporting progress through progress.
	// The returned value is serialized to JSON as the task result.
	Execute(ctx context.Context, progress ProgressHandle, params Params) (any, error)

	// Cancel requests cooperative cancellation.
	Cancel()

	// IsCancelled reports whether Cancel has been called.
	IsCancelled() bool
}

// Kinded is implemented by units of work that name their own kind for logs
// and metrics. Others are labelled by their Go type.
type Kinded interface {
	Kind() string
}

// KindOf returns the kind label of a unit of work.
func KindOf(unit UnitOfWork) string {
	if k, ok := unit.(Kinded); ok {
		return k.Kind()
	}
	return fmt.Sprintf("%T", unit)
}

// Cancellation implements the Cancel/IsCancelled half of UnitOfWork.
// Embed it in concrete units of work. The zero value is ready to use.
type Cancellation struct {
	mu        sync.Mutex
	cancelled bool
	done      chan struct{}
}

// Cancel requests cancellation. It is safe to call more than once.
func (c *Cancellation) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelled {
		return
	}
	c.cancelled = true
	if c.done == nil {
		c.done = make(chan struct{})
	}
	close(c.done)
}

// IsCancelled reports whether Cancel has been called.
func (c *Cancellation) IsCancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}

// Done returns a channel that is closed by Cancel.
func (c *Cancellation) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done == nil {
		c.done = make(chan struct{})
	}
	return c.done
}

// Info is a snapshot of a task's state.
type Info struct {
	TaskID    string          `json:"task_id"`
	Kind      string          `json:"task_type"`
	Status    Status          `json:"status"`
	StartTime time.Time       `json:"start_time"`
	EndTime   *time.Time      `json:"end_time"`
	Result    json.RawMessage `json:"result"`
	Error     *string         `json:"error"`
}

// StartResponse is returned by Executor.Start.
type StartResponse struct {
	TaskID string `json:"task_id"`
	Status Status `json:"status"`
}
