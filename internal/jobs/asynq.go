package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// TaskType is the asynq task type every calbridge job is enqueued under.
const TaskType = "calbridge:job"

// DefaultQueueName is the asynq queue used when none is configured.
const DefaultQueueName = "calbridge"

// AsynqQueue is a Queue backed by Redis through asynq, for deployments where
// the submitting process and the workers are separate.
type AsynqQueue struct {
	client *asynq.Client
	queue  string
}

// NewAsynqQueue enqueues on queue through rdb. The queue owns nothing:
// rdb is closed by whoever opened it.
func NewAsynqQueue(rdb redis.UniversalClient, queue string) *AsynqQueue {
	if queue == "" {
		queue = DefaultQueueName
	}

	return &AsynqQueue{
		client: asynq.NewClientFromRedisClient(rdb),
		queue:  queue,
	}
}

// Enqueue sends task to Redis. The job key doubles as the asynq task ID so
// a task is never enqueued twice. Jobs are not retried: a failure is a
// result, not a reason to run the import again.
func (q *AsynqQueue) Enqueue(ctx context.Context, task Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("jobs: encoding task %s: %w", task.Key, err)
	}

	_, err = q.client.EnqueueContext(ctx, asynq.NewTask(TaskType, payload),
		asynq.Queue(q.queue),
		asynq.TaskID(task.Key),
		asynq.MaxRetry(0),
	)
	if err != nil {
		return fmt.Errorf("jobs: enqueuing %s: %w", task.Key, err)
	}

	return nil
}

// NewTaskHandler adapts exec to asynq. A malformed payload is dropped
// without retry because no result key can be recovered from it.
func NewTaskHandler(exec Executor) asynq.Handler {
	return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
		var task Task
		if err := json.Unmarshal(t.Payload(), &task); err != nil {
			return fmt.Errorf("jobs: decoding task payload: %v: %w", err, asynq.SkipRetry)
		}

		return exec.Execute(ctx, task)
	})
}

// NewServeMux routes TaskType to exec.
func NewServeMux(exec Executor) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(TaskType, NewTaskHandler(exec))

	return mux
}

// NewAsynqServer creates a worker server consuming queue with concurrency
// workers. Logging goes through logger.
func NewAsynqServer(rdb redis.UniversalClient, queue string, concurrency int, logger *slog.Logger) *asynq.Server {
	if queue == "" {
		queue = DefaultQueueName
	}

	return asynq.NewServerFromRedisClient(rdb, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{queue: 1},
		Logger:      asynqLogger{logger: logger},
	})
}

// asynqLogger routes asynq's printf-style logging into slog.
type asynqLogger struct {
	logger *slog.Logger
}

func (l asynqLogger) Debug(args ...any) { l.logger.Debug(fmt.Sprint(args...), slog.String("component", "asynq")) }
func (l asynqLogger) Info(args ...any)  { l.logger.Info(fmt.Sprint(args...), slog.String("component", "asynq")) }
func (l asynqLogger) Warn(args ...any)  { l.logger.Warn(fmt.Sprint(args...), slog.String("component", "asynq")) }
func (l asynqLogger) Error(args ...any) { l.logger.Error(fmt.Sprint(args...), slog.String("component", "asynq")) }

// Fatal logs at error level and leaves process exit to the caller.
func (l asynqLogger) Fatal(args ...any) {
	l.logger.Error(fmt.Sprint(args...), slog.String("component", "asynq"), slog.Bool("fatal", true))
}
