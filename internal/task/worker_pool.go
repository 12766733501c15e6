package task

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
)

// WorkerPool runs submitted jobs on a fixed number of goroutines fed by a
// bounded queue.
type WorkerPool struct {
	// jobs is the bounded queue shared by all workers
	jobs chan func()

	// workerCount is the number of concurrent workers
	workerCount int

	// wg tracks worker goroutines for Shutdown
	wg sync.WaitGroup

	// mu guards closed and the send on jobs
	mu     sync.RWMutex
	closed bool

	logger *slog.Logger
}

// WorkerPoolConfig holds configuration options for the worker pool.
type WorkerPoolConfig struct {
	// WorkerCount determines how many concurrent worker goroutines to start.
	// If zero or negative, defaults to 1.
	WorkerCount int

	// QueueSize is the number of jobs that may wait for a worker.
	// If negative, defaults to 0 (unbuffered hand-off).
	QueueSize int
}

// DefaultWorkerPoolConfig returns a WorkerPoolConfig with reasonable defaults.
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		WorkerCount: 4,
		QueueSize:   100,
	}
}

// NewWorkerPool creates a pool and starts its workers.
func NewWorkerPool(config WorkerPoolConfig, logger *slog.Logger) *WorkerPool {
	workerCount := config.WorkerCount
	if workerCount <= 0 {
		workerCount = 1
		logger.Warn("invalid worker count specified, using default",
			"specified_count", config.WorkerCount,
			"default_count", 1)
	}
	queueSize := config.QueueSize
	if queueSize < 0 {
		queueSize = 0
	}

	p := &WorkerPool{
		jobs:        make(chan func(), queueSize),
		workerCount: workerCount,
		logger:      logger,
	}

	for i := 0; i < workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	logger.Info("worker pool started",
		"worker_count", workerCount,
		"queue_size", queueSize)
	return p
}

// WorkerCount returns the number of worker goroutines.
func (p *WorkerPool) WorkerCount() int {
	return p.workerCount
}

// Submit queues job without blocking. It returns ErrQueueFull when no slot
// is free and ErrPoolClosed after Shutdown.
func (p *WorkerPool) Submit(job func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Shutdown stops accepting jobs and waits until every queued job has run or
// ctx is done, in which case it returns ctx.Err() and the remaining jobs keep
// running in the background. It is safe to call more than once.
func (p *WorkerPool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
		p.logger.Info("worker pool shutting down, waiting for queued jobs")
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped")
		return nil
	case <-ctx.Done():
		p.logger.Warn("worker pool did not drain before deadline", "error", ctx.Err())
		return ctx.Err()
	}
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	for job := range p.jobs {
		p.run(id, job)
	}
}

// run executes a single job; a panicking job does not take its worker down.
func (p *WorkerPool) run(id int, job func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker recovered from panic",
				"worker_id", id,
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	job()
}
