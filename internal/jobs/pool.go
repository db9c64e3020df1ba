package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

const (
	// minWorkers is the floor for the pool's concurrency.
	minWorkers = 1
	// DefaultBuffer is the task buffer used when none is configured.
	DefaultBuffer = 64
)

var (
	// ErrQueueFull is returned by Pool.Enqueue when the buffer is full.
	ErrQueueFull = errors.New("jobs: queue full")
	// ErrQueueClosed is returned by Pool.Enqueue after Stop.
	ErrQueueClosed = errors.New("jobs: queue closed")
)

// Executor runs one task to completion.
type Executor interface {
	Execute(ctx context.Context, task Task) error
}

// Pool is an in-process Queue: a bounded buffer drained by a fixed set of
// goroutines.
type Pool struct {
	workers int
	tasks   chan Task
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool

	wg sync.WaitGroup
}

// NewPool creates a pool without starting any workers.
func NewPool(workers, buffer int, logger *slog.Logger) *Pool {
	if workers < minWorkers {
		workers = minWorkers
	}

	if buffer < 1 {
		buffer = DefaultBuffer
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Pool{
		workers: workers,
		tasks:   make(chan Task, buffer),
		logger:  logger,
	}
}

// Start spawns the workers. Each task runs with ctx; canceling ctx cancels
// running handlers but queued tasks are still drained so every submitted
// job gets a result.
func (p *Pool) Start(ctx context.Context, exec Executor) {
	for range p.workers {
		p.wg.Add(1)

		go p.worker(ctx, exec)
	}

	p.logger.Info("job pool started",
		slog.Int("workers", p.workers),
		slog.Int("buffer", cap(p.tasks)),
	)
}

// Enqueue hands task to the pool without blocking.
func (p *Pool) Enqueue(_ context.Context, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrQueueClosed
	}

	select {
	case p.tasks <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop refuses new tasks, waits for queued and running ones to finish, and
// returns. Safe to call more than once.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *Pool) worker(ctx context.Context, exec Executor) {
	defer p.wg.Done()

	for task := range p.tasks {
		if err := exec.Execute(ctx, task); err != nil {
			p.logger.Error("job result not recorded",
				slog.String("key", task.Key),
				slog.String("kind", task.Kind),
				slog.String("error", err.Error()),
			)
		}
	}
}
