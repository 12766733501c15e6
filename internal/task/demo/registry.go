// Package demo provides concrete units of work that exercise the task
// executor end to end: a stepped demo task, a task that always fails, a
// long-running cancellable task and a staged task built from sub-handles.
package demo

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/go-viper/mapstructure/v2"

	"github.com/phrazzld/taskstream/internal/task"
)

// Task kinds accepted by the default registry.
const (
	KindDemo        = "demo_task"
	KindFailing     = "failing_task"
	KindLongRunning = "long_running_task"
	KindStaged      = "staged_task"
)

var (
	// ErrUnknownKind is returned when no factory is registered for a kind.
	ErrUnknownKind = errors.New("unknown task type")

	// ErrInvalidParams is returned when params cannot be decoded.
	ErrInvalidParams = errors.New("invalid task params")
)

// Factory creates a fresh unit of work. Units are never shared between tasks.
type Factory func() task.UnitOfWork

// Registry maps task kinds to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry with the built-in kinds registered.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register(KindDemo, func() task.UnitOfWork { return &DemoTask{} })
	r.Register(KindFailing, func() task.UnitOfWork { return &FailingTask{} })
	r.Register(KindLongRunning, func() task.UnitOfWork { return &LongRunningTask{} })
	r.Register(KindStaged, func() task.UnitOfWork { return &StagedTask{} })
	return r
}

// Register adds or replaces the factory for kind.
func (r *Registry) Register(kind string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = factory
}

// New creates a unit of work of the given kind.
func (r *Registry) New(kind string) (task.UnitOfWork, error) {
	r.mu.RLock()
	factory, ok := r.factories[kind]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return factory(), nil
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.factories))
	for kind := range r.factories {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// decodeParams decodes params into out, converting JSON numbers and strings
// where the target type requires it.
func decodeParams(params task.Params, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "param",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create params decoder: %w", err)
	}
	if err := decoder.Decode(map[string]any(params)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return nil
}
