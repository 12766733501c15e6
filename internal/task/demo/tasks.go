package demo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/phrazzld/taskstream/internal/task"
)

// seconds converts a float number of seconds to a duration.
func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// CancelledResult is returned by tasks that stop early.
type CancelledResult struct {
	Status         string `json:"status"`
	CompletedSteps int    `json:"completed_steps"`
}

func cancelled(steps int) CancelledResult {
	return CancelledResult{Status: "cancelled", CompletedSteps: steps}
}

// DemoTask reports one progress update per step.
type DemoTask struct {
	task.Cancellation
}

type demoParams struct {
	Message string  `param:"message"`
	Delay   float64 `param:"delay"`
	Steps   int     `param:"steps"`
}

// DemoResult is the result of a DemoTask.
type DemoResult struct {
	Message        string `json:"message"`
	StepsCompleted int    `json:"steps_completed"`
	Status         string `json:"status"`
}

// Kind implements task.Kinded.
func (*DemoTask) Kind() string { return KindDemo }

// Execute runs the demo steps.
func (t *DemoTask) Execute(ctx context.Context, progress task.ProgressHandle, params task.Params) (any, error) {
	p := demoParams{Message: "default message", Delay: 0.1, Steps: 3}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Steps <= 0 {
		return nil, fmt.Errorf("%w: steps must be positive", ErrInvalidParams)
	}
	return runSteps(ctx, &t.Cancellation, progress, p)
}

func runSteps(ctx context.Context, c *task.Cancellation, progress task.ProgressHandle, p demoParams) (any, error) {
	progress.SendProgress("Starting demo task", 0)

	for i := 0; i < p.Steps; i++ {
		if c.IsCancelled() || !sleep(ctx, seconds(p.Delay)) {
			return cancelled(i), nil
		}
		progress.SendProgress(fmt.Sprintf("Step %d/%d", i+1, p.Steps), float64(i+1)/float64(p.Steps))
	}

	return DemoResult{Message: p.Message, StepsCompleted: p.Steps, Status: "success"}, nil
}

// FailingTask always fails after an optional delay.
type FailingTask struct {
	task.Cancellation
}

type failingParams struct {
	ErrorMessage string  `param:"error_message"`
	Delay        float64 `param:"delay"`
}

// Kind implements task.Kinded.
func (*FailingTask) Kind() string { return KindFailing }

// Execute reports one progress update and returns an error.
func (t *FailingTask) Execute(ctx context.Context, progress task.ProgressHandle, params task.Params) (any, error) {
	p := failingParams{ErrorMessage: "Test error", Delay: 0.1}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	progress.SendProgress("Starting failing task", 0)
	if !sleep(ctx, seconds(p.Delay)) {
		return cancelled(0), nil
	}
	return nil, errors.New(p.ErrorMessage)
}

// LongRunningTask reports elapsed-time progress until total_time passes or
// it is cancelled.
type LongRunningTask struct {
	task.Cancellation
}

type longRunningParams struct {
	TotalTime     float64 `param:"total_time"`
	CheckInterval float64 `param:"check_interval"`
}

// LongRunningResult is the result of a LongRunningTask.
type LongRunningResult struct {
	Status      string  `json:"status"`
	ElapsedTime float64 `json:"elapsed_time"`
	Completed   bool    `json:"completed"`
}

// Kind implements task.Kinded.
func (*LongRunningTask) Kind() string { return KindLongRunning }

// Execute polls the cancellation flag every check_interval.
func (t *LongRunningTask) Execute(ctx context.Context, progress task.ProgressHandle, params task.Params) (any, error) {
	p := longRunningParams{TotalTime: 5, CheckInterval: 0.1}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.TotalTime <= 0 || p.CheckInterval <= 0 {
		return nil, fmt.Errorf("%w: total_time and check_interval must be positive", ErrInvalidParams)
	}

	total := seconds(p.TotalTime)
	start := time.Now()
	progress.SendProgress("Starting long task", 0)

	for elapsed := time.Since(start); elapsed < total; elapsed = time.Since(start) {
		if t.IsCancelled() {
			return LongRunningResult{Status: "cancelled", ElapsedTime: elapsed.Seconds()}, nil
		}
		progress.SendProgress(fmt.Sprintf("Running... %.1fs", elapsed.Seconds()),
			min(elapsed.Seconds()/total.Seconds(), 1))
		// ctx is cancelled together with the flag; the next pass reports it
		sleep(ctx, seconds(p.CheckInterval))
	}

	return LongRunningResult{Status: "completed", ElapsedTime: p.TotalTime, Completed: true}, nil
}

// StagedTask splits its progress range evenly across stages, each of which
// runs the demo steps through a sub-handle.
type StagedTask struct {
	task.Cancellation
}

type stagedParams struct {
	Stages int     `param:"stages"`
	Steps  int     `param:"steps"`
	Delay  float64 `param:"delay"`
}

// StagedResult is the result of a StagedTask.
type StagedResult struct {
	Status          string `json:"status"`
	StagesCompleted int    `json:"stages_completed"`
}

// Kind implements task.Kinded.
func (*StagedTask) Kind() string { return KindStaged }

// Execute runs each stage on its own slice of the progress range.
func (t *StagedTask) Execute(ctx context.Context, progress task.ProgressHandle, params task.Params) (any, error) {
	p := stagedParams{Stages: 2, Steps: 2, Delay: 0.05}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Stages <= 0 || p.Steps <= 0 {
		return nil, fmt.Errorf("%w: stages and steps must be positive", ErrInvalidParams)
	}

	width := 1 / float64(p.Stages)
	for i := 0; i < p.Stages; i++ {
		sub := task.NewSubProgress(progress, float64(i)*width, float64(i+1)*width)
		sub.SendProgressText(fmt.Sprintf("Stage %d/%d", i+1, p.Stages))

		res, err := runSteps(ctx, &t.Cancellation, sub, demoParams{
			Message: fmt.Sprintf("stage %d", i+1),
			Delay:   p.Delay,
			Steps:   p.Steps,
		})
		if err != nil {
			return nil, fmt.Errorf("stage %d: %w", i+1, err)
		}
		if _, stopped := res.(CancelledResult); stopped {
			return StagedResult{Status: "cancelled", StagesCompleted: i}, nil
		}
	}

	return StagedResult{Status: "success", StagesCompleted: p.Stages}, nil
}

var (
	_ task.UnitOfWork = (*DemoTask)(nil)
	_ task.UnitOfWork = (*FailingTask)(nil)
	_ task.UnitOfWork = (*LongRunningTask)(nil)
	_ task.UnitOfWork = (*StagedTask)(nil)
)
