package task

import "errors"

var (
	// ErrServiceUnavailable is returned by Start once shutdown has begun.
	ErrServiceUnavailable = errors.New("task executor is shutting down")

	// ErrTaskNotFound is returned when a task id is unknown.
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskNotTerminal is returned when removing a task that is still
	// pending or running.
	ErrTaskNotTerminal = errors.New("task is not in a terminal state")

	// ErrQueueFull is returned when the worker pool queue has no free slot.
	ErrQueueFull = errors.New("task queue is full")

	// ErrPoolClosed is returned when submitting to a pool that has shut down.
	ErrPoolClosed = errors.New("worker pool is closed")
)
