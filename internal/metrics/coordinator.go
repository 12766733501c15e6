package metrics

import (
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/taskstream/internal/shutdown"
)

// Lifecycle is the part of the shutdown coordinator the update loop needs.
type Lifecycle interface {
	RegisterNotification(fn shutdown.Notification)
}

type namedUpdater struct {
	name string
	fn   func()
}

// UpdateCoordinator periodically runs registered gauge updaters on a
// background goroutine. It stops itself on the SHUTDOWN lifetime event.
type UpdateCoordinator struct {
	logger *slog.Logger

	mu       sync.Mutex
	updaters []namedUpdater
	stop     chan struct{}
	done     chan struct{}
}

// NewUpdateCoordinator creates an idle coordinator and subscribes it to lifecycle.
func NewUpdateCoordinator(lifecycle Lifecycle, logger *slog.Logger) *UpdateCoordinator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &UpdateCoordinator{logger: logger.With("component", "metrics_update_coordinator")}
	if lifecycle != nil {
		lifecycle.RegisterNotification(func(event shutdown.LifetimeEvent) {
			if event == shutdown.Shutdown {
				c.Stop()
			}
		})
	}
	return c
}

// RegisterUpdater adds an updater. Updaters should be cheap and idempotent.
func (c *UpdateCoordinator) RegisterUpdater(name string, fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updaters = append(c.updaters, namedUpdater{name: name, fn: fn})
	c.logger.Debug("registered metrics updater", "updater", name)
}

// Start launches the update loop. The loop waits one interval before the
// first run. Calling Start on a running coordinator is a no-op.
func (c *UpdateCoordinator) Start(interval time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stop != nil {
		c.logger.Warn("metrics update coordinator already running")
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}

	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go c.loop(interval, c.stop, c.done)

	c.logger.Info("started metrics update coordinator", "interval", interval)
}

// Stop halts the update loop and waits for it to exit.
func (c *UpdateCoordinator) Stop() {
	c.mu.Lock()
	stop, done := c.stop, c.done
	c.stop, c.done = nil, nil
	c.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
	c.logger.Info("stopped metrics update coordinator")
}

// RunOnce runs every updater immediately on the calling goroutine.
func (c *UpdateCoordinator) RunOnce() {
	c.mu.Lock()
	updaters := make([]namedUpdater, len(c.updaters))
	copy(updaters, c.updaters)
	c.mu.Unlock()

	for _, u := range updaters {
		c.run(u)
	}
}

func (c *UpdateCoordinator) loop(interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.RunOnce()
		}
	}
}

func (c *UpdateCoordinator) run(u namedUpdater) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("metrics updater failed", "updater", u.name, "panic", r)
		}
	}()
	u.fn()
}
