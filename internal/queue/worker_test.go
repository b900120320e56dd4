package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchhub/searchhub/internal/testutil"
)

func TestWorkerProcessesJobs(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue("test")

	var handled atomic.Int64
	w := NewWorker(q, testutil.TestLogger(), 10*time.Millisecond, 2, time.Minute)
	w.Handle("work", func(ctx context.Context, job *Job) error {
		handled.Add(1)
		return nil
	})

	for _, id := range []string{"a", "b", "c"} {
		_, err := q.Add(ctx, "work", nil, Options{JobID: id, RemoveOnComplete: true})
		require.NoError(t, err)
	}

	w.Start(ctx)

	require.Eventually(t, func() bool {
		return handled.Load() == 3
	}, 5*time.Second, 10*time.Millisecond)

	drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	w.Drain(drainCtx)

	assert.Empty(t, q.Snapshots())
}

func TestWorkerFailsJobWithoutHandler(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue("test")

	w := NewWorker(q, testutil.TestLogger(), 10*time.Millisecond, 1, time.Minute)

	_, err := q.Add(ctx, "unknown-type", nil, Options{JobID: "j1", Attempts: 1})
	require.NoError(t, err)

	w.Start(ctx)

	require.Eventually(t, func() bool {
		return q.Snapshots()["j1"].State == "failed"
	}, 5*time.Second, 10*time.Millisecond)

	drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	w.Drain(drainCtx)
}

func TestWorkerRetriesFailedJob(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue("test")

	var calls atomic.Int64
	w := NewWorker(q, testutil.TestLogger(), 10*time.Millisecond, 1, time.Minute)
	w.Handle("work", func(ctx context.Context, job *Job) error {
		if calls.Add(1) == 1 {
			return errors.New("first attempt fails")
		}
		return nil
	})

	_, err := q.Add(ctx, "work", nil, Options{JobID: "j1", Attempts: 2, RemoveOnComplete: true})
	require.NoError(t, err)

	w.Start(ctx)

	require.Eventually(t, func() bool {
		return calls.Load() == 2 && len(q.Snapshots()) == 0
	}, 5*time.Second, 10*time.Millisecond)

	drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	w.Drain(drainCtx)
}

func TestWorkerDrainProcessesRemainingJobs(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue("test")

	var handled atomic.Int64
	// Long poll interval: the ticker won't fire before Drain, so the final
	// drain poll must pick the job up.
	w := NewWorker(q, testutil.TestLogger(), time.Hour, 1, time.Minute)
	w.Handle("work", func(ctx context.Context, job *Job) error {
		handled.Add(1)
		return nil
	})

	w.Start(ctx)

	_, err := q.Add(ctx, "work", nil, Options{JobID: "j1", RemoveOnComplete: true})
	require.NoError(t, err)

	drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	w.Drain(drainCtx)

	assert.Equal(t, int64(1), handled.Load())
}

func TestWorkerStartTwiceIsNoOp(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue("test")

	w := NewWorker(q, testutil.TestLogger(), 10*time.Millisecond, 1, time.Minute)
	w.Start(ctx)
	w.Start(ctx) // must not panic or spawn a second loop

	drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	w.Drain(drainCtx)
}
