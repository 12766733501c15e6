package events

import (
	"context"
	"log/slog"
	"sync"
)

// Emitter fans a task event out to every registered broadcaster.
type Emitter struct {
	broadcasters []Broadcaster
	mu           sync.RWMutex
	logger       *slog.Logger
}

// NewEmitter creates an Emitter with the given initial broadcasters.
func NewEmitter(logger *slog.Logger, broadcasters ...Broadcaster) *Emitter {
	return &Emitter{
		broadcasters: append([]Broadcaster(nil), broadcasters...),
		logger:       logger.With("component", "event_emitter"),
	}
}

// Register adds a broadcaster to receive events.
func (e *Emitter) Register(b Broadcaster) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.broadcasters = append(e.broadcasters, b)
	e.logger.Debug("registered broadcaster", "broadcaster_count", len(e.broadcasters))
}

// BroadcastTaskEvent sends the event to every broadcaster, even when earlier
// ones fail, and reports whether any of them delivered it.
func (e *Emitter) BroadcastTaskEvent(ctx context.Context, taskID string, eventType EventType, data any) bool {
	e.mu.RLock()
	broadcasters := make([]Broadcaster, len(e.broadcasters))
	copy(broadcasters, e.broadcasters)
	e.mu.RUnlock()

	delivered := false
	for i, b := range broadcasters {
		if e.deliver(ctx, i, b, taskID, eventType, data) {
			delivered = true
		}
	}

	e.logger.Debug("emitted task event",
		"task_id", taskID,
		"event_type", eventType.Name(),
		"broadcaster_count", len(broadcasters),
		"delivered", delivered)
	return delivered
}

func (e *Emitter) deliver(
	ctx context.Context,
	index int,
	b Broadcaster,
	taskID string,
	eventType EventType,
	data any,
) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("broadcaster panicked",
				"panic", r,
				"broadcaster_index", index,
				"task_id", taskID,
				"event_type", eventType.Name())
			ok = false
		}
	}()
	return b.BroadcastTaskEvent(ctx, taskID, eventType, data)
}

// Recorder keeps every event it receives, in arrival order.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	result bool
}

// NewRecorder creates a Recorder whose BroadcastTaskEvent returns delivered.
func NewRecorder(delivered bool) *Recorder {
	return &Recorder{result: delivered}
}

// BroadcastTaskEvent records the event.
func (r *Recorder) BroadcastTaskEvent(_ context.Context, taskID string, eventType EventType, data any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Type: eventType, TaskID: taskID, Data: data})
	return r.result
}

// Events returns a copy of all recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// ForTask returns the recorded events for a single task.
func (r *Recorder) ForTask(taskID string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.TaskID == taskID {
			out = append(out, ev)
		}
	}
	return out
}

// Reset discards all recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

var (
	_ Broadcaster = (*Emitter)(nil)
	_ Broadcaster = (*Recorder)(nil)
)
