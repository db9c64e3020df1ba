package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/calbridge/internal/blobstore"
	"github.com/tonimelisma/calbridge/internal/metrics"
)

func newRunner(t *testing.T, opts ...RunnerOption) (*Runner, *blobstore.MemoryStore) {
	t.Helper()

	blobs := blobstore.NewMemoryStore()

	return NewRunner(NewStore(blobs), slog.Default(), opts...), blobs
}

// waitDone polls until the job completes or the deadline passes.
func waitDone(t *testing.T, r *Runner, key string) *Result {
	t.Helper()

	var res *Result

	require.Eventually(t, func() bool {
		p, err := r.Poll(context.Background(), key)
		require.NoError(t, err)

		if p.Done {
			res = p.Result
		}

		return p.Done
	}, 5*time.Second, 5*time.Millisecond)

	return res
}

func TestNewKey(t *testing.T) {
	now := time.Unix(1760000000, 0)

	k1 := NewKey("import_result", "42", now)
	k2 := NewKey("import_result", "42", now)

	assert.True(t, strings.HasPrefix(k1, "import_result:42:1760000000:"))
	assert.NotEqual(t, k1, k2, "same-second keys must differ")

	user, ok := KeyUser(k1)
	require.True(t, ok)
	assert.Equal(t, "42", user)

	_, ok = KeyUser("import_result:42")
	assert.False(t, ok)
}

func TestStore_PollSingleConsume(t *testing.T) {
	s := NewStore(blobstore.NewMemoryStore())
	ctx := context.Background()

	p, err := s.Poll(ctx, "k")
	require.NoError(t, err)
	assert.False(t, p.Done)

	require.NoError(t, s.Put(ctx, "k", Result{Kind: "import", Success: true, Data: json.RawMessage(`{"n":3}`)}))

	p, err = s.Poll(ctx, "k")
	require.NoError(t, err)
	require.True(t, p.Done)
	assert.True(t, p.Result.Success)
	assert.JSONEq(t, `{"n":3}`, string(p.Result.Data))

	p, err = s.Poll(ctx, "k")
	require.NoError(t, err)
	assert.False(t, p.Done, "second poll sees pending")
}

func TestRunner_SubmitAndPoll(t *testing.T) {
	m := metrics.New("test")
	r, _ := newRunner(t, WithMetrics(m))

	r.Register("import", func(_ context.Context, task Task) (any, error) {
		var in struct{ Rows int }
		if err := json.Unmarshal(task.Payload, &in); err != nil {
			return nil, err
		}

		return map[string]int{"created": in.Rows}, nil
	})

	pool := r.StartPool(context.Background(), 2, 4)
	t.Cleanup(pool.Stop)

	key, err := r.Submit(context.Background(), "u1", "import", map[string]int{"Rows": 3})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "import_result:u1:"))

	res := waitDone(t, r, key)
	assert.True(t, res.Success)
	assert.Equal(t, "import", res.Kind)
	assert.JSONEq(t, `{"created":3}`, string(res.Data))
	assert.False(t, res.CompletedAt.IsZero())

	p, err := r.Poll(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, p.Done)

	assert.InDelta(t, 1, testutil.ToFloat64(m.Jobs.WithLabelValues("import", "success")), 0)
}

func TestRunner_FailureIsAResult(t *testing.T) {
	r, _ := newRunner(t)
	r.Register("export", func(context.Context, Task) (any, error) {
		return map[string]int{"sent": 0}, errors.New("smtp down")
	})

	pool := r.StartPool(context.Background(), 1, 1)
	t.Cleanup(pool.Stop)

	key, err := r.Submit(context.Background(), "u1", "export", nil)
	require.NoError(t, err)

	res := waitDone(t, r, key)
	assert.False(t, res.Success)
	assert.Equal(t, "smtp down", res.Error)
	assert.JSONEq(t, `{"sent":0}`, string(res.Data))
}

func TestRunner_PanicIsAFailure(t *testing.T) {
	r, _ := newRunner(t)
	r.Register("boom", func(context.Context, Task) (any, error) {
		panic("handler exploded")
	})

	require.NoError(t, r.Execute(context.Background(), Task{Key: "k", Kind: "boom"}))

	p, err := r.Poll(context.Background(), "k")
	require.NoError(t, err)
	require.True(t, p.Done)
	assert.False(t, p.Result.Success)
	assert.Contains(t, p.Result.Error, "handler exploded")
}

func TestRunner_TimeoutIsAFailure(t *testing.T) {
	r, _ := newRunner(t, WithTimeout(20*time.Millisecond))
	r.Register("slow", func(ctx context.Context, _ Task) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	require.NoError(t, r.Execute(context.Background(), Task{Key: "k", Kind: "slow"}))

	p, err := r.Poll(context.Background(), "k")
	require.NoError(t, err)
	require.True(t, p.Done)
	assert.False(t, p.Result.Success)
	assert.Contains(t, p.Result.Error, context.DeadlineExceeded.Error())
}

func TestRunner_HandlerIgnoringContextIsAbandoned(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	r, _ := newRunner(t, WithTimeout(50*time.Millisecond))
	r.Register("stuck", func(context.Context, Task) (any, error) {
		<-release
		return "too late", nil
	})

	finished := make(chan error, 1)

	go func() {
		finished <- r.Execute(context.Background(), Task{Key: "k", Kind: "stuck"})
	}()

	select {
	case err := <-finished:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Execute still blocked on a handler that ignores its context")
	}

	p, err := r.Poll(context.Background(), "k")
	require.NoError(t, err)
	require.True(t, p.Done)
	assert.False(t, p.Result.Success)
	assert.Contains(t, p.Result.Error, ErrAbandoned.Error())
	assert.Contains(t, p.Result.Error, context.DeadlineExceeded.Error())
	assert.Empty(t, p.Result.Data)
}

func TestRunner_CanceledContextStillRecordsResult(t *testing.T) {
	r, _ := newRunner(t)
	r.Register("k", func(ctx context.Context, _ Task) (any, error) {
		return nil, ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, r.Execute(ctx, Task{Key: "key", Kind: "k"}))

	p, err := r.Poll(context.Background(), "key")
	require.NoError(t, err)
	assert.True(t, p.Done)
}

func TestRunner_SubmitErrors(t *testing.T) {
	r, _ := newRunner(t)

	_, err := r.Submit(context.Background(), "u1", "nope", nil)
	require.ErrorIs(t, err, ErrUnknownKind)

	r.Register("import", func(context.Context, Task) (any, error) { return nil, nil })

	_, err = r.Submit(context.Background(), "u1", "import", nil)
	require.ErrorIs(t, err, ErrNoQueue)
}

func TestPool_FullAndClosed(t *testing.T) {
	p := NewPool(1, 1, slog.Default())

	require.NoError(t, p.Enqueue(context.Background(), Task{Key: "a"}))
	require.ErrorIs(t, p.Enqueue(context.Background(), Task{Key: "b"}), ErrQueueFull)

	var ran atomic.Int32

	p.Start(context.Background(), executorFunc(func(context.Context, Task) error {
		ran.Add(1)
		return nil
	}))
	p.Stop()
	p.Stop()

	assert.Equal(t, int32(1), ran.Load(), "queued task drained on stop")
	require.ErrorIs(t, p.Enqueue(context.Background(), Task{Key: "c"}), ErrQueueClosed)
}

type executorFunc func(ctx context.Context, task Task) error

func (f executorFunc) Execute(ctx context.Context, task Task) error { return f(ctx, task) }

func TestTaskHandler(t *testing.T) {
	r, _ := newRunner(t)
	r.Register("import", func(context.Context, Task) (any, error) { return "ok", nil })

	h := NewTaskHandler(r)

	payload, err := json.Marshal(Task{Key: "import_result:u1:1:abc", UserID: "u1", Kind: "import"})
	require.NoError(t, err)

	require.NoError(t, h.ProcessTask(context.Background(), asynq.NewTask(TaskType, payload)))

	p, err := r.Poll(context.Background(), "import_result:u1:1:abc")
	require.NoError(t, err)
	require.True(t, p.Done)
	assert.True(t, p.Result.Success)

	err = h.ProcessTask(context.Background(), asynq.NewTask(TaskType, []byte("{not json")))
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestAsynqQueue_Enqueue(t *testing.T) {
	mr := miniredis.RunT(t)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	q := NewAsynqQueue(rdb, "")

	r, _ := newRunner(t)
	r.Register("import", func(context.Context, Task) (any, error) { return nil, nil })
	r.UseQueue(q)

	key, err := r.Submit(context.Background(), "u1", "import", map[string]string{"csv": "x"})
	require.NoError(t, err)

	insp := asynq.NewInspector(asynq.RedisClientOpt{Addr: mr.Addr()})
	t.Cleanup(func() { insp.Close() })

	info, err := insp.GetTaskInfo(DefaultQueueName, key)
	require.NoError(t, err)
	assert.Equal(t, TaskType, info.Type)
	assert.Equal(t, 0, info.MaxRetry)

	var task Task
	require.NoError(t, json.Unmarshal(info.Payload, &task))
	assert.Equal(t, key, task.Key)
	assert.Equal(t, "u1", task.UserID)

	// The job key is the task ID, so the same key cannot be queued twice.
	err = q.Enqueue(context.Background(), task)
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.ErrTaskIDConflict)

	// Nothing ran yet, so the result is still pending.
	p, err := r.Poll(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, p.Done)
}
