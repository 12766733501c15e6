package shutdown

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// LifetimeEvent identifies a notification fired during the shutdown sequence.
type LifetimeEvent int

// Lifetime events in the order they are fired.
const (
	PrepareShutdown LifetimeEvent = iota
	Shutdown
	AfterShutdown
)

// String returns the wire name of the event.
func (e LifetimeEvent) String() string {
	switch e {
	case PrepareShutdown:
		return "prepare-shutdown"
	case Shutdown:
		return "shutdown"
	case AfterShutdown:
		return "after-shutdown"
	default:
		return fmt.Sprintf("lifetime-event(%d)", int(e))
	}
}

// State is the coordinator's position in the shutdown sequence.
// Transitions only move forward.
type State int

// Coordinator states.
const (
	StateNormal State = iota
	StatePreparing
	StateDraining
	StateTerminated
)

// String returns a human readable state name.
func (s State) String() string {
	switch s {
	case StateNormal:
		return "normal"
	case StatePreparing:
		return "preparing"
	case StateDraining:
		return "draining"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Notification is called for every lifetime event.
type Notification func(event LifetimeEvent)

// Waiter blocks until its subsystem is drained or the remaining budget runs
// out. It reports whether the subsystem drained in time.
type Waiter func(remaining time.Duration) bool

// Result summarizes a completed shutdown sequence.
type Result struct {
	// Clean is true when every waiter reported ready within the budget.
	Clean bool

	// NotReady lists the waiters that timed out, failed, or were skipped.
	NotReady []string

	// Duration is the wall time of the whole sequence.
	Duration time.Duration
}

// registeredWaiter keeps a waiter with its diagnostic name.
type registeredWaiter struct {
	name    string
	handler Waiter
}

// Coordinator runs the phased shutdown sequence.
type Coordinator struct {
	timeout time.Duration
	logger  *slog.Logger

	mu            sync.Mutex
	state         State
	notifications []Notification
	waiters       []registeredWaiter

	done   chan struct{}
	result Result
}

// NewCoordinator creates a coordinator whose drain phase is bounded by timeout.
func NewCoordinator(timeout time.Duration, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		timeout: timeout,
		logger:  logger.With("component", "shutdown_coordinator"),
		done:    make(chan struct{}),
	}
}

// RegisterNotification adds a lifetime notification callback.
// Registration is a configuration-time operation: calls made after shutdown
// has started are logged and ignored.
func (c *Coordinator) RegisterNotification(fn Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateNormal {
		c.logger.Warn("ignoring notification registered after shutdown started",
			"state", c.state.String())
		return
	}
	c.notifications = append(c.notifications, fn)
	c.logger.Debug("registered shutdown notification",
		"notification_count", len(c.notifications))
}

// RegisterWaiter adds a named waiter. Registering the same name twice
// replaces the earlier handler but keeps its position in the sequence.
func (c *Coordinator) RegisterWaiter(name string, handler Waiter) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateNormal {
		c.logger.Warn("ignoring waiter registered after shutdown started",
			"waiter", name,
			"state", c.state.String())
		return
	}
	for i := range c.waiters {
		if c.waiters[i].name == name {
			c.waiters[i].handler = handler
			c.logger.Debug("replaced shutdown waiter", "waiter", name)
			return
		}
	}
	c.waiters = append(c.waiters, registeredWaiter{name: name, handler: handler})
	c.logger.Debug("registered shutdown waiter", "waiter", name)
}

// State returns the current coordinator state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsShuttingDown reports whether Initiate has been called.
func (c *Coordinator) IsShuttingDown() bool {
	return c.State() != StateNormal
}

// Done is closed once the sequence has reached StateTerminated and every
// AFTER_SHUTDOWN notification has returned.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Result returns the shutdown summary. It is only meaningful after Done is closed.
func (c *Coordinator) Result() Result {
	select {
	case <-c.done:
		return c.result
	default:
		return Result{}
	}
}

// Initiate runs the full shutdown sequence on the calling goroutine.
// Only the first call does anything; later calls are logged and return
// immediately without waiting for the first to finish.
func (c *Coordinator) Initiate() {
	c.mu.Lock()
	if c.state != StateNormal {
		state := c.state
		c.mu.Unlock()
		c.logger.Warn("shutdown already in progress, ignoring", "state", state.String())
		return
	}
	start := time.Now()
	c.state = StatePreparing
	notifications := make([]Notification, len(c.notifications))
	copy(notifications, c.notifications)
	waiters := make([]registeredWaiter, len(c.waiters))
	copy(waiters, c.waiters)
	c.mu.Unlock()

	c.logger.Info("initiating graceful shutdown",
		"timeout", c.timeout,
		"waiter_count", len(waiters))

	c.raise(notifications, PrepareShutdown)

	c.setState(StateDraining)
	notReady := c.drain(waiters, start)

	result := Result{
		Clean:    len(notReady) == 0,
		NotReady: notReady,
	}
	if !result.Clean {
		c.logger.Error("shutdown did not drain cleanly, forcing shutdown",
			"elapsed", time.Since(start),
			"not_ready", notReady)
	}

	c.setState(StateTerminated)
	c.raise(notifications, Shutdown)
	c.logger.Info("shutting down")
	c.raise(notifications, AfterShutdown)

	result.Duration = time.Since(start)
	c.result = result
	close(c.done)

	c.logger.Info("shutdown sequence complete",
		"clean", result.Clean,
		"duration", result.Duration)
}

// HandleSignals calls Initiate on SIGINT or SIGTERM. It returns once ctx is
// cancelled or a signal has been handled.
func (c *Coordinator) HandleSignals(ctx context.Context) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(signals)
		select {
		case sig := <-signals:
			c.logger.Info("received signal, initiating graceful shutdown", "signal", sig.String())
			c.Initiate()
		case <-ctx.Done():
		}
	}()
}

func (c *Coordinator) setState(state State) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

// drain calls each waiter in registration order with the remaining budget and
// returns the names of those that were not ready.
func (c *Coordinator) drain(waiters []registeredWaiter, start time.Time) []string {
	var notReady []string

	for i, w := range waiters {
		remaining := c.timeout - time.Since(start)
		if remaining <= 0 {
			c.logger.Error("shutdown timeout exceeded before checking waiter", "waiter", w.name)
			for _, skipped := range waiters[i:] {
				notReady = append(notReady, skipped.name)
			}
			break
		}

		c.logger.Info("waiting for waiter to drain", "waiter", w.name, "remaining", remaining)
		if !c.callWaiter(w, remaining) {
			notReady = append(notReady, w.name)
		}
	}

	return notReady
}

func (c *Coordinator) callWaiter(w registeredWaiter, remaining time.Duration) (ready bool) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("shutdown waiter panicked", "waiter", w.name, "panic", r)
			ready = false
		}
	}()

	ready = w.handler(remaining)
	if !ready {
		c.logger.Warn("waiter was not ready within timeout", "waiter", w.name)
	}
	return ready
}

func (c *Coordinator) raise(notifications []Notification, event LifetimeEvent) {
	c.logger.Info("raising lifetime event", "event", event.String())
	for i, fn := range notifications {
		c.notify(i, fn, event)
	}
}

func (c *Coordinator) notify(index int, fn Notification, event LifetimeEvent) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("lifetime notification panicked",
				"event", event.String(),
				"notification_index", index,
				"panic", r)
		}
	}()
	fn(event)
}
