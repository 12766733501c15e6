package events

import (
	"context"
	"encoding/json"
	"fmt"
)

// EventType identifies the kind of a task event.
type EventType int

// Task event types. Per task they are emitted in the order
// TaskStarted, zero or more ProgressUpdate, then exactly one of
// TaskCompleted or TaskFailed.
const (
	TaskStarted EventType = iota + 1
	ProgressUpdate
	TaskCompleted
	TaskFailed
)

// Name returns the wire name of the event type.
func (t EventType) Name() string {
	switch t {
	case TaskStarted:
		return "task_started"
	case ProgressUpdate:
		return "progress_update"
	case TaskCompleted:
		return "task_completed"
	case TaskFailed:
		return "task_failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// String implements fmt.Stringer.
func (t EventType) String() string {
	return t.Name()
}

// ParseEventType maps a wire name back to its EventType.
func ParseEventType(name string) (EventType, bool) {
	for _, t := range []EventType{TaskStarted, ProgressUpdate, TaskCompleted, TaskFailed} {
		if t.Name() == name {
			return t, true
		}
	}
	return 0, false
}

// MarshalJSON encodes the event type as its wire name.
func (t EventType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Name())
}

// UnmarshalJSON decodes a wire name.
func (t *EventType) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, ok := ParseEventType(name)
	if !ok {
		return fmt.Errorf("unknown event type %q", name)
	}
	*t = parsed
	return nil
}

// Event is the wire form of a task event.
type Event struct {
	Type   EventType `json:"event_type"`
	TaskID string    `json:"task_id"`
	Data   any       `json:"data"`
}

// ProgressPayload is the data of a ProgressUpdate event.
type ProgressPayload struct {
	Text  string  `json:"text"`
	Value float64 `json:"value"`
}

// FailurePayload is the data of a TaskFailed event.
type FailurePayload struct {
	Error     string `json:"error"`
	Traceback string `json:"traceback"`
}

// Broadcaster publishes task events to real-time subscribers.
// Implementations must be safe for concurrent use and must never panic or
// block indefinitely; delivery is best-effort.
type Broadcaster interface {
	// BroadcastTaskEvent publishes an event for taskID and reports whether
	// at least one subscriber received it.
	BroadcastTaskEvent(ctx context.Context, taskID string, eventType EventType, data any) bool
}

// NullBroadcaster discards every event. It is used when real-time delivery
// is disabled so tasks still run identically.
type NullBroadcaster struct{}

// BroadcastTaskEvent always returns false and performs no I/O.
func (NullBroadcaster) BroadcastTaskEvent(context.Context, string, EventType, any) bool {
	return false
}

var _ Broadcaster = NullBroadcaster{}
