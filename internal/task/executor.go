package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/taskstream/internal/events"
	"github.com/phrazzld/taskstream/internal/shutdown"
)

// WaiterName is the name the executor registers its shutdown waiter under.
const WaiterName = "task_executor"

// Outcome labels passed to Metrics.
const (
	outcomeSuccess   = "success"
	outcomeError     = "error"
	outcomeCancelled = "cancelled"
)

// Config holds executor settings.
type Config struct {
	// WorkerCount is the number of tasks that may run concurrently.
	WorkerCount int

	// QueueSize is the number of started tasks that may wait for a worker.
	QueueSize int

	// CleanupInterval is both the janitor period and the retention window
	// for terminal tasks.
	CleanupInterval time.Duration

	// PoolDrainTimeout bounds how long SHUTDOWN waits for submitted work.
	// Zero waits indefinitely.
	PoolDrainTimeout time.Duration
}

// DefaultConfig returns the default executor settings.
func DefaultConfig() Config {
	pool := DefaultWorkerPoolConfig()
	return Config{
		WorkerCount:      pool.WorkerCount,
		QueueSize:        pool.QueueSize,
		CleanupInterval:  10 * time.Minute,
		PoolDrainTimeout: 10 * time.Second,
	}
}

// Lifecycle is the part of the shutdown coordinator the executor uses.
type Lifecycle interface {
	RegisterNotification(fn shutdown.Notification)
	RegisterWaiter(name string, handler shutdown.Waiter)
}

// Metrics receives task execution measurements.
type Metrics interface {
	RecordTaskExecution(kind, outcome string, duration time.Duration)
	SetActiveTasks(n int)
}

type nopMetrics struct{}

func (nopMetrics) RecordTaskExecution(string, string, time.Duration) {}
func (nopMetrics) SetActiveTasks(int)                                {}

// entry is the executor's private record of one task.
type entry struct {
	info   Info
	unit   UnitOfWork
	params Params
	ctx    context.Context
	cancel context.CancelFunc
}

// Executor runs units of work on a bounded worker pool and tracks their
// state in memory.
type Executor struct {
	cfg         Config
	broadcaster events.Broadcaster
	metrics     Metrics
	logger      *slog.Logger
	pool        *WorkerPool
	now         func() time.Time

	// mu guards every field below.
	mu           sync.Mutex
	tasks        map[string]*entry
	shuttingDown bool
	drained      chan struct{}
	drainClosed  bool

	stopCleanup  chan struct{}
	cleanupDone  chan struct{}
	shutdownOnce sync.Once
}

// NewExecutor creates an executor, starts its worker pool and cleanup loop,
// and registers it with lifecycle. A nil broadcaster drops every event and
// a nil metrics records nothing.
func NewExecutor(
	cfg Config,
	broadcaster events.Broadcaster,
	lifecycle Lifecycle,
	metrics Metrics,
	logger *slog.Logger,
) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "task_executor")
	if broadcaster == nil {
		broadcaster = events.NullBroadcaster{}
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultConfig().CleanupInterval
	}

	e := &Executor{
		cfg:         cfg,
		broadcaster: broadcaster,
		metrics:     metrics,
		logger:      logger,
		pool: NewWorkerPool(WorkerPoolConfig{
			WorkerCount: cfg.WorkerCount,
			QueueSize:   cfg.QueueSize,
		}, logger),
		now:         time.Now,
		tasks:       make(map[string]*entry),
		drained:     make(chan struct{}),
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}

	if lifecycle != nil {
		lifecycle.RegisterNotification(e.onLifetimeEvent)
		lifecycle.RegisterWaiter(WaiterName, e.waitForTasks)
	}

	go e.cleanupLoop()

	logger.Info("task executor initialized",
		"worker_count", e.pool.WorkerCount(),
		"queue_size", cfg.QueueSize,
		"cleanup_interval", cfg.CleanupInterval)
	return e
}

// Start registers unit as a PENDING task and queues it. It never blocks on
// the work itself. Start fails with ErrServiceUnavailable once shutdown has
// begun and with ErrQueueFull when the queue has no free slot.
func (e *Executor) Start(unit UnitOfWork, params Params) (StartResponse, error) {
	if unit == nil {
		return StartResponse{}, errors.New("unit of work cannot be nil")
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	ent := &entry{
		info: Info{
			TaskID:    id,
			Kind:      KindOf(unit),
			Status:    StatusPending,
			StartTime: e.now(),
		},
		unit:   unit,
		params: params,
		ctx:    ctx,
		cancel: cancel,
	}

	e.mu.Lock()
	if e.shuttingDown {
		e.mu.Unlock()
		cancel()
		return StartResponse{}, ErrServiceUnavailable
	}
	e.tasks[id] = ent
	if err := e.pool.Submit(func() { e.execute(ent) }); err != nil {
		delete(e.tasks, id)
		e.mu.Unlock()
		cancel()
		if errors.Is(err, ErrPoolClosed) {
			return StartResponse{}, ErrServiceUnavailable
		}
		return StartResponse{}, fmt.Errorf("failed to submit task: %w", err)
	}
	e.mu.Unlock()

	e.logger.Info("started task", "task_id", id, "task_type", ent.info.Kind)
	return StartResponse{TaskID: id, Status: StatusPending}, nil
}

// GetStatus returns a snapshot of the task, or false if it is unknown.
func (e *Executor) GetStatus(taskID string) (Info, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ent, ok := e.tasks[taskID]
	if !ok {
		return Info{}, false
	}
	return ent.info.clone(), true
}

// Cancel requests cooperative cancellation and marks the task CANCELLED.
// It returns false for unknown or terminal tasks. The unit of work keeps
// running until it observes the request.
func (e *Executor) Cancel(taskID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	ent, ok := e.tasks[taskID]
	if !ok || ent.info.Status.IsTerminal() {
		return false
	}

	ent.unit.Cancel()
	ent.cancel()

	now := e.now()
	ent.info.Status = StatusCancelled
	ent.info.EndTime = &now
	e.signalDrainedLocked()

	e.logger.Info("cancelled task", "task_id", taskID)
	return true
}

// Remove evicts a terminal task. It returns false if the task is unknown
// or still pending or running.
func (e *Executor) Remove(taskID string) bool {
	return e.RemoveTask(taskID) == nil
}

// RemoveTask evicts a terminal task, returning ErrTaskNotFound or
// ErrTaskNotTerminal when it cannot.
func (e *Executor) RemoveTask(taskID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ent, ok := e.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	if !ent.info.Status.IsTerminal() {
		return ErrTaskNotTerminal
	}
	delete(e.tasks, taskID)

	e.logger.Debug("removed task", "task_id", taskID)
	return nil
}

// ActiveCount returns the number of pending or running tasks.
func (e *Executor) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeLocked()
}

// Len returns the number of tasks in the table.
func (e *Executor) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.tasks)
}

// IsShuttingDown reports whether the executor has stopped accepting work.
func (e *Executor) IsShuttingDown() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.shuttingDown
}

// CleanupExpired evicts terminal tasks that ended at least one cleanup
// interval before now. It returns the number evicted.
func (e *Executor) CleanupExpired(now time.Time) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	removed := 0
	for id, ent := range e.tasks {
		if !ent.info.Status.IsTerminal() || ent.info.EndTime == nil {
			continue
		}
		if now.Sub(*ent.info.EndTime) >= e.cfg.CleanupInterval {
			delete(e.tasks, id)
			removed++
		}
	}

	if removed > 0 {
		e.logger.Debug("cleaned up expired tasks", "count", removed)
	}
	return removed
}

// Shutdown stops the cleanup loop, drains the worker pool and clears the
// task table. It runs on the SHUTDOWN lifetime event and may also be called
// directly. Only the first call has an effect.
func (e *Executor) Shutdown() {
	e.shutdownOnce.Do(e.shutdown)
}

func (e *Executor) shutdown() {
	e.logger.Info("shutting down task executor")

	e.mu.Lock()
	e.shuttingDown = true
	e.mu.Unlock()

	close(e.stopCleanup)
	<-e.cleanupDone

	ctx := context.Background()
	if e.cfg.PoolDrainTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.PoolDrainTimeout)
		defer cancel()
	}
	if err := e.pool.Shutdown(ctx); err != nil {
		e.logger.Warn("worker pool drain interrupted", "error", err)
	}

	e.mu.Lock()
	active := e.activeLocked()
	cleared := len(e.tasks)
	for id, ent := range e.tasks {
		ent.cancel()
		delete(e.tasks, id)
	}
	e.signalDrainedLocked()
	e.mu.Unlock()

	if active > 0 {
		e.logger.Warn("forcibly cleared task table with unfinished tasks",
			"active_tasks", active,
			"cleared_tasks", cleared)
	}
	e.metrics.SetActiveTasks(0)
	e.logger.Info("task executor shutdown complete", "cleared_tasks", cleared)
}

func (e *Executor) onLifetimeEvent(event shutdown.LifetimeEvent) {
	switch event {
	case shutdown.PrepareShutdown:
		e.mu.Lock()
		e.shuttingDown = true
		active := e.activeLocked()
		e.signalDrainedLocked()
		e.mu.Unlock()

		e.metrics.SetActiveTasks(active)
		e.logger.Info("task executor shutdown initiated", "active_tasks", active)
	case shutdown.Shutdown:
		e.Shutdown()
	}
}

// waitForTasks blocks until no task is pending or running, or remaining
// elapses.
func (e *Executor) waitForTasks(remaining time.Duration) bool {
	e.mu.Lock()
	active := e.activeLocked()
	drained := e.drained
	e.mu.Unlock()

	if active == 0 {
		e.logger.Info("no active tasks to wait for")
		return true
	}

	e.logger.Info("waiting for active tasks",
		"active_tasks", active,
		"remaining", remaining)

	timer := time.NewTimer(remaining)
	defer timer.Stop()

	select {
	case <-drained:
		e.logger.Info("all tasks completed gracefully")
		return true
	case <-timer.C:
		e.logger.Warn("timed out waiting for tasks",
			"active_tasks", e.ActiveCount())
		return false
	}
}

// execute runs on a pool worker. All transitions of one task happen here,
// in order, so its events are ordered too.
func (e *Executor) execute(ent *entry) {
	defer ent.cancel()
	id := ent.info.TaskID

	e.mu.Lock()
	if ent.info.Status != StatusPending {
		e.signalDrainedLocked()
		e.mu.Unlock()
		e.logger.Info("skipping task cancelled before it started", "task_id", id)
		return
	}
	ent.info.Status = StatusRunning
	kind := ent.info.Kind
	e.mu.Unlock()

	e.broadcaster.BroadcastTaskEvent(context.Background(), id, events.TaskStarted, nil)

	progress := newBroadcastProgress(context.Background(), id, e.broadcaster)
	started := time.Now()
	res := e.invoke(ent, progress)

	var raw json.RawMessage
	if res.err == nil && res.value != nil {
		data, err := json.Marshal(res.value)
		if err != nil {
			res.err = fmt.Errorf("failed to serialize task result: %w", err)
			res.trace = errorTrace(res.err)
		} else {
			raw = data
		}
	}
	duration := time.Since(started)

	if res.err != nil {
		e.fail(ent, kind, res, duration)
	} else {
		e.complete(ent, kind, raw, duration)
	}
}

type invocation struct {
	value any
	err   error
	trace string
}

// invoke is the single execution boundary: errors and panics from the unit
// of work become data.
func (e *Executor) invoke(ent *entry, progress ProgressHandle) (res invocation) {
	defer func() {
		if r := recover(); r != nil {
			res = invocation{
				err:   fmt.Errorf("task panicked: %v", r),
				trace: string(debug.Stack()),
			}
		}
	}()

	value, err := ent.unit.Execute(ent.ctx, progress, ent.params)
	if err != nil {
		return invocation{err: err, trace: errorTrace(err)}
	}
	return invocation{value: value}
}

func (e *Executor) complete(ent *entry, kind string, raw json.RawMessage, duration time.Duration) {
	id := ent.info.TaskID
	now := e.now()

	e.mu.Lock()
	// A task cancelled mid-run that returns normally keeps its CANCELLED
	// status; the unit's result is still delivered as the final event.
	cancelled := ent.info.Status == StatusCancelled
	if !cancelled {
		ent.info.Status = StatusCompleted
		ent.info.EndTime = &now
		ent.info.Result = raw
	}
	e.signalDrainedLocked()
	e.mu.Unlock()

	outcome := outcomeSuccess
	if cancelled {
		outcome = outcomeCancelled
	}
	e.metrics.RecordTaskExecution(kind, outcome, duration)

	e.broadcaster.BroadcastTaskEvent(context.Background(), id, events.TaskCompleted, raw)
	e.logger.Info("task completed",
		"task_id", id,
		"task_type", kind,
		"cancelled", cancelled,
		"duration", duration)
}

func (e *Executor) fail(ent *entry, kind string, res invocation, duration time.Duration) {
	id := ent.info.TaskID
	now := e.now()
	msg := res.err.Error()

	e.mu.Lock()
	ent.info.Status = StatusFailed
	ent.info.EndTime = &now
	ent.info.Result = nil
	ent.info.Error = &msg
	e.signalDrainedLocked()
	e.mu.Unlock()

	e.metrics.RecordTaskExecution(kind, outcomeError, duration)

	e.broadcaster.BroadcastTaskEvent(context.Background(), id, events.TaskFailed, events.FailurePayload{
		Error:     msg,
		Traceback: res.trace,
	})
	e.logger.Error("task failed",
		"task_id", id,
		"task_type", kind,
		"error", msg,
		"duration", duration)
}

func (e *Executor) cleanupLoop() {
	defer close(e.cleanupDone)

	ticker := time.NewTicker(e.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCleanup:
			return
		case <-ticker.C:
			e.CleanupExpired(e.now())
		}
	}
}

func (e *Executor) activeLocked() int {
	n := 0
	for _, ent := range e.tasks {
		if ent.info.Status.IsActive() {
			n++
		}
	}
	return n
}

// signalDrainedLocked wakes the shutdown waiter once nothing is active.
func (e *Executor) signalDrainedLocked() {
	if !e.shuttingDown || e.drainClosed || e.activeLocked() > 0 {
		return
	}
	e.drainClosed = true
	close(e.drained)
	e.logger.Info("all tasks completed during shutdown")
}

// errorTrace renders the wrap chain of err, outermost first.
func errorTrace(err error) string {
	var b strings.Builder
	for depth := 0; err != nil; depth++ {
		if depth > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s%T: %v", strings.Repeat("  ", depth), err, err)
		err = errors.Unwrap(err)
	}
	return b.String()
}

func (i Info) clone() Info {
	out := i
	if i.EndTime != nil {
		end := *i.EndTime
		out.EndTime = &end
	}
	if i.Error != nil {
		msg := *i.Error
		out.Error = &msg
	}
	if i.Result != nil {
		out.Result = append(json.RawMessage(nil), i.Result...)
	}
	return out
}
