package task

import (
	"context"
	"math"
	"sync"

	"github.com/phrazzld/taskstream/internal/events"
)

// ProgressHandle lets a running unit of work report progress.
// Values are fractions in [0, 1].
type ProgressHandle interface {
	SendProgressText(text string)
	SendProgressValue(value float64)
	SendProgress(text string, value float64)
}

// broadcastProgress publishes progress_update events for one task. The value
// it publishes never decreases: a lower report keeps the previous maximum.
type broadcastProgress struct {
	ctx         context.Context
	taskID      string
	broadcaster events.Broadcaster

	mu    sync.Mutex
	text  string
	value float64
}

func newBroadcastProgress(ctx context.Context, taskID string, b events.Broadcaster) *broadcastProgress {
	return &broadcastProgress{ctx: ctx, taskID: taskID, broadcaster: b}
}

func (p *broadcastProgress) SendProgressText(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.publish(text, p.value)
}

func (p *broadcastProgress) SendProgressValue(value float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.publish(p.text, value)
}

func (p *broadcastProgress) SendProgress(text string, value float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.publish(text, value)
}

// publish must be called with p.mu held so events leave in report order.
func (p *broadcastProgress) publish(text string, value float64) {
	p.text = text
	if !math.IsNaN(value) {
		value = math.Min(math.Max(value, 0), 1)
		if value > p.value {
			p.value = value
		}
	}
	p.broadcaster.BroadcastTaskEvent(p.ctx, p.taskID, events.ProgressUpdate, events.ProgressPayload{
		Text:  p.text,
		Value: p.value,
	})
}

// SubProgress maps a child operation's [0, 1] range onto [Start, End] of a
// parent handle. Sub-handles nest.
type SubProgress struct {
	parent ProgressHandle
	start  float64
	end    float64
}

// NewSubProgress returns a handle that reports v as start + (end-start)*v
// on parent.
func NewSubProgress(parent ProgressHandle, start, end float64) *SubProgress {
	return &SubProgress{parent: parent, start: start, end: end}
}

// SendProgressText forwards text unchanged.
func (s *SubProgress) SendProgressText(text string) {
	s.parent.SendProgressText(text)
}

// SendProgressValue forwards the scaled value.
func (s *SubProgress) SendProgressValue(value float64) {
	s.parent.SendProgressValue(s.scale(value))
}

// SendProgress forwards text and the scaled value.
func (s *SubProgress) SendProgress(text string, value float64) {
	s.parent.SendProgress(text, s.scale(value))
}

func (s *SubProgress) scale(value float64) float64 {
	return s.start + (s.end-s.start)*value
}

var (
	_ ProgressHandle = (*broadcastProgress)(nil)
	_ ProgressHandle = (*SubProgress)(nil)
)
