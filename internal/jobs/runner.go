package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tonimelisma/calbridge/internal/metrics"
)

// DefaultTimeout bounds one job execution when none is configured.
const DefaultTimeout = 10 * time.Minute

var (
	// ErrUnknownKind is returned by Submit for a kind with no handler.
	ErrUnknownKind = errors.New("jobs: unknown job kind")
	// ErrNoQueue is returned by Submit before a queue is attached.
	ErrNoQueue = errors.New("jobs: no queue configured")
	// ErrAbandoned is the failure recorded for a handler still running when
	// its context ended.
	ErrAbandoned = errors.New("jobs: handler abandoned")
)

// Task is one unit of background work as it travels through a queue.
type Task struct {
	Key         string          `json:"key"`
	UserID      string          `json:"user_id"`
	Kind        string          `json:"kind"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	SubmittedAt time.Time       `json:"submitted_at"`
}

// Handler performs a task. data, when non-nil, is JSON-encoded into the
// result whether or not err is nil, so partial outcomes stay visible.
type Handler func(ctx context.Context, task Task) (data any, err error)

// Queue carries tasks to whatever executes them.
type Queue interface {
	Enqueue(ctx context.Context, task Task) error
}

// Runner submits tasks and executes them with their registered handler.
type Runner struct {
	store    *Store
	handlers map[string]Handler
	queue    Queue
	timeout  time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
	nowFunc  func() time.Time
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithTimeout bounds each execution.
func WithTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithMetrics records job outcomes.
func WithMetrics(m *metrics.Metrics) RunnerOption {
	return func(r *Runner) {
		r.metrics = m
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) {
		r.nowFunc = now
	}
}

// NewRunner creates a Runner that writes results to store. Attach a queue
// with UseQueue or StartPool before submitting.
func NewRunner(store *Store, logger *slog.Logger, opts ...RunnerOption) *Runner {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Runner{
		store:    store,
		handlers: make(map[string]Handler),
		timeout:  DefaultTimeout,
		logger:   logger,
		nowFunc:  time.Now,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Register binds kind to h. Registering a kind twice replaces the handler.
func (r *Runner) Register(kind string, h Handler) {
	r.handlers[kind] = h
}

// UseQueue attaches q. Not safe to call concurrently with Submit.
func (r *Runner) UseQueue(q Queue) {
	r.queue = q
}

// StartPool starts an in-process pool executing on r and attaches it.
func (r *Runner) StartPool(ctx context.Context, workers, buffer int) *Pool {
	p := NewPool(workers, buffer, r.logger)
	p.Start(ctx, r)
	r.UseQueue(p)

	return p
}

// KeyPrefix is the job key prefix for kind, e.g. "import_result".
func KeyPrefix(kind string) string {
	return kind + "_result"
}

// Submit queues a task for userID and returns its key immediately.
func (r *Runner) Submit(ctx context.Context, userID, kind string, payload any) (string, error) {
	if _, ok := r.handlers[kind]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	if r.queue == nil {
		return "", ErrNoQueue
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("jobs: encoding %s payload: %w", kind, err)
	}

	now := r.nowFunc()
	task := Task{
		Key:         NewKey(KeyPrefix(kind), userID, now),
		UserID:      userID,
		Kind:        kind,
		Payload:     raw,
		SubmittedAt: now,
	}

	if err := r.queue.Enqueue(ctx, task); err != nil {
		return "", fmt.Errorf("jobs: submitting %s: %w", kind, err)
	}

	r.logger.Info("job submitted",
		slog.String("key", task.Key),
		slog.String("kind", kind),
		slog.String("user_id", userID),
	)

	return task.Key, nil
}

// Poll returns the job's result at most once.
func (r *Runner) Poll(ctx context.Context, key string) (Poll, error) {
	return r.store.Poll(ctx, key)
}

// Execute runs the task's handler under the configured timeout and records
// the terminal result. Handler errors and panics become failed results;
// the returned error only reports that the result could not be stored.
func (r *Runner) Execute(ctx context.Context, task Task) error {
	start := r.nowFunc()

	data, err := r.safeRun(ctx, task)

	res := Result{
		Kind:        task.Kind,
		Success:     err == nil,
		CompletedAt: r.nowFunc(),
	}

	if err != nil {
		res.Error = err.Error()
	}

	if data != nil {
		raw, encErr := json.Marshal(data)
		if encErr != nil {
			res.Success = false
			res.Error = errors.Join(err, fmt.Errorf("jobs: encoding result data: %w", encErr)).Error()
		} else {
			res.Data = raw
		}
	}

	r.metrics.RecordJob(task.Kind, res.Success)

	logAttrs := []any{
		slog.String("key", task.Key),
		slog.String("kind", task.Kind),
		slog.String("user_id", task.UserID),
		slog.Duration("elapsed", res.CompletedAt.Sub(start)),
	}

	if res.Success {
		r.logger.Info("job completed", logAttrs...)
	} else {
		r.logger.Warn("job failed", append(logAttrs, slog.String("error", res.Error))...)
	}

	// The result must land even when ctx was canceled during the run.
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	return r.store.Put(storeCtx, task.Key, res)
}

// outcome is what a handler goroutine reports back to safeRun.
type outcome struct {
	data any
	err  error
}

// safeRun runs the handler in its own goroutine under the timeout and
// recovers its panics. A handler that ignores its context is abandoned once
// the deadline passes, so the job still gets a result.
func (r *Runner) safeRun(ctx context.Context, task Task) (any, error) {
	h, ok := r.handlers[task.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, task.Kind)
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("jobs: panic in handler",
					slog.String("key", task.Key),
					slog.String("kind", task.Kind),
					slog.Any("panic", p),
				)

				done <- outcome{err: fmt.Errorf("panic: %v", p)}
			}
		}()

		data, err := h(runCtx, task)
		done <- outcome{data: data, err: err}
	}()

	select {
	case o := <-done:
		return o.data, o.err
	case <-runCtx.Done():
	}

	// A handler that finished right at the deadline still wins.
	select {
	case o := <-done:
		return o.data, o.err
	default:
	}

	r.logger.Warn("jobs: abandoning handler that outlived its context",
		slog.String("key", task.Key),
		slog.String("kind", task.Kind),
		slog.Duration("timeout", r.timeout),
	)

	return nil, fmt.Errorf("%w: %w", ErrAbandoned, runCtx.Err())
}
