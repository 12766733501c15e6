// Package task runs units of work off the request path.
//
// An Executor owns an in-memory task table and a bounded worker pool. Each
// task moves PENDING -> RUNNING -> {COMPLETED, FAILED, CANCELLED} and its
// lifecycle events (started, progress, completed, failed) are pushed to an
// events.Broadcaster. Cancellation is cooperative: Cancel flips the status
// and sets a flag the unit of work is expected to observe.
//
// The executor takes part in graceful shutdown. On PREPARE_SHUTDOWN it stops
// accepting work, its waiter blocks until no task is pending or running, and
// on SHUTDOWN it drains the pool and clears the table.
package task
