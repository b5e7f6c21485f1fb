package redispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"courier-dispatch/internal/apperr"
	testlog "courier-dispatch/internal/testutil"
)

type counterStub struct{ n int64 }

func (c *counterStub) Inc()         { atomic.AddInt64(&c.n, 1) }
func (c *counterStub) Count() int64 { return atomic.LoadInt64(&c.n) }

type failuresStub struct {
	mu     sync.Mutex
	stages []string
}

func (f *failuresStub) RedispatchFailed(stage string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stages = append(f.stages, stage)
}

func (f *failuresStub) Stages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.stages...)
}

func requireEventually(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func newQueue(t *testing.T, cfg Config, h HandleFunc) (*LocalQueue, *testlog.Recorder, *counterStub, *failuresStub) {
	t.Helper()
	rec := testlog.New()
	retries := &counterStub{}
	failures := &failuresStub{}
	q := NewLocalQueue(cfg, h, rec.Logger(), retries, failures)
	q.sleep = func(ctx context.Context, _ time.Duration) bool { return ctx.Err() == nil }
	return q, rec, retries, failures
}

func TestLocalQueue_RetriesTransientThenSucceeds(t *testing.T) {
	t.Parallel()

	var calls int32
	done := make(chan Task, 1)
	q, _, retries, failures := newQueue(t, Config{Workers: 1, QueueSize: 4, MaxAttempts: 5}, func(_ context.Context, task Task) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return apperr.Transient(errors.New("db down"))
		}
		done <- task
		return nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	q.Start(ctx)

	require.NoError(t, q.Enqueue(ctx, Task{DeliveryID: "d-1", Reason: ReasonDeclined}))

	select {
	case task := <-done:
		require.Equal(t, "d-1", task.DeliveryID)
		require.Equal(t, 3, task.Attempt)
		require.False(t, task.EnqueuedAt.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("task was not handled")
	}
	require.Equal(t, int64(2), retries.Count())
	require.Empty(t, failures.Stages())
	q.Close()
}

func TestLocalQueue_DropsAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	var calls int32
	q, rec, retries, failures := newQueue(t, Config{Workers: 2, QueueSize: 4, MaxAttempts: 3}, func(context.Context, Task) error {
		atomic.AddInt32(&calls, 1)
		return apperr.Transient(errors.New("still down"))
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	q.Start(ctx)

	require.NoError(t, q.Enqueue(ctx, Task{DeliveryID: "d-1"}))

	requireEventually(t, func() bool { return len(failures.Stages()) == 1 })
	require.Equal(t, int32(3), atomic.LoadInt32(&calls))
	require.Equal(t, int64(2), retries.Count())
	require.Equal(t, []string{"dropped"}, failures.Stages())

	var dropped bool
	for _, e := range rec.Entries() {
		if e.Level == "error" && e.Msg == "redispatch dropped" {
			dropped = true
		}
	}
	require.True(t, dropped)
	q.Close()
}

func TestLocalQueue_PermanentOutcomes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		err         error
		wantDropped bool
	}{
		{name: "conflict is settled", err: apperr.ErrConflict},
		{name: "not found is settled", err: apperr.ErrNotFound},
		{name: "unknown error is dropped without retry", err: errors.New("bug"), wantDropped: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var calls int32
			q, _, retries, failures := newQueue(t, Config{Workers: 1, QueueSize: 1, MaxAttempts: 5}, func(context.Context, Task) error {
				atomic.AddInt32(&calls, 1)
				return tt.err
			})
			ctx, cancel := context.WithCancel(context.Background())
			t.Cleanup(cancel)
			q.Start(ctx)

			require.NoError(t, q.Enqueue(ctx, Task{DeliveryID: "d"}))
			requireEventually(t, func() bool { return atomic.LoadInt32(&calls) == 1 })
			q.Close()

			require.Zero(t, retries.Count())
			if tt.wantDropped {
				require.Equal(t, []string{"dropped"}, failures.Stages())
			} else {
				require.Empty(t, failures.Stages())
			}
		})
	}
}

func TestLocalQueue_FullAndClosed(t *testing.T) {
	t.Parallel()

	q, _, _, _ := newQueue(t, Config{Workers: 1, QueueSize: 1, MaxAttempts: 1}, func(context.Context, Task) error { return nil })
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, Task{DeliveryID: "a"}))
	require.ErrorIs(t, q.Enqueue(ctx, Task{DeliveryID: "b"}), ErrQueueFull)
	require.Equal(t, 1, q.Len())

	q.Close()
	require.ErrorIs(t, q.Enqueue(ctx, Task{DeliveryID: "c"}), ErrClosed)
	q.Close()
}

func TestLocalQueue_CloseDrainsQueuedTasks(t *testing.T) {
	t.Parallel()

	var handled int32
	q, _, _, _ := newQueue(t, Config{Workers: 1, QueueSize: 8, MaxAttempts: 1}, func(context.Context, Task) error {
		atomic.AddInt32(&handled, 1)
		return nil
	})
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(ctx, Task{DeliveryID: id}))
	}
	q.Start(ctx)
	q.Close()
	require.Equal(t, int32(3), atomic.LoadInt32(&handled))
}

func TestInline_Enqueue(t *testing.T) {
	t.Parallel()

	var got Task
	in := NewInline(func(_ context.Context, task Task) error {
		got = task
		return apperr.ErrConflict
	})
	require.NoError(t, in.Enqueue(context.Background(), Task{DeliveryID: "x"}))
	require.Equal(t, 1, got.Attempt)

	boom := apperr.Transient(errors.New("boom"))
	failing := NewInline(func(context.Context, Task) error { return boom })
	require.ErrorIs(t, failing.Enqueue(context.Background(), Task{DeliveryID: "x"}), apperr.ErrTransient)

	require.NoError(t, Nop{}.Enqueue(context.Background(), Task{}))
}

func TestBackoff(t *testing.T) {
	t.Parallel()

	base, max := 100*time.Millisecond, time.Second
	require.Equal(t, 100*time.Millisecond, backoff(base, max, 1))
	require.Equal(t, 200*time.Millisecond, backoff(base, max, 2))
	require.Equal(t, 800*time.Millisecond, backoff(base, max, 4))
	require.Equal(t, max, backoff(base, max, 5))
	require.Equal(t, max, backoff(base, max, 70))
}

func TestSleepWithContext(t *testing.T) {
	t.Parallel()

	require.True(t, sleepWithContext(context.Background(), 0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.False(t, sleepWithContext(ctx, time.Hour))
	require.False(t, sleepWithContext(ctx, 0))
}
