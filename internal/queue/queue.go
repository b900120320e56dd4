// Package queue provides a named job queue with stable-id deduplication,
// delayed delivery, per-job retry policy, and failed-job retention.
//
// The production backend runs on Redis (RedisQueue); MemoryQueue mirrors the
// same semantics in-process for tests and single-node development. Both
// implement the same duplicate-id policy: re-adding a job id that is still
// pending atomically replaces its payload and due time (so a re-sync with a
// changed target time supersedes the old schedule); an id that is active or
// failed is left alone and the add is a no-op.
package queue

import (
	"context"
	"time"
)

// BackoffType selects how retry delays grow between attempts.
type BackoffType string

const (
	BackoffFixed       BackoffType = "fixed"
	BackoffExponential BackoffType = "exponential"
)

// Backoff is a job's retry delay policy.
type Backoff struct {
	Type  BackoffType
	Delay time.Duration
}

// Options controls a single Add call.
type Options struct {
	// JobID is the stable, deduplicating identifier. Required.
	JobID string
	// Delay defers the job's first execution.
	Delay time.Duration
	// Attempts is the total attempt budget (including the first run).
	// Zero means one attempt.
	Attempts int
	// Backoff spaces out retries after a failed attempt.
	Backoff Backoff
	// RemoveOnComplete drops the job entirely after success.
	RemoveOnComplete bool
	// RemoveOnFail drops the job after the attempt budget is exhausted.
	// When false, the exhausted job is retained in a failed set for
	// operator inspection and manual retry.
	RemoveOnFail bool
}

// Handle identifies an accepted job.
type Handle struct {
	ID string
}

// Job is a reserved unit of work handed to a worker.
type Job struct {
	ID      string
	Type    string
	Payload []byte
	// Attempt is the 1-based number of the current attempt.
	Attempt     int
	MaxAttempts int
	Opts        Options
}

// Queue is a single named job queue. Implementations must be safe for
// concurrent use and must deduplicate by Options.JobID.
type Queue interface {
	// Add submits a job. Duplicate pending ids are replaced (payload and
	// due time); duplicate active or failed ids no-op. The returned
	// handle carries the job id in all cases.
	Add(ctx context.Context, jobType string, payload []byte, opts Options) (Handle, error)

	// Reserve returns the next due job and leases it for the given
	// duration, or (nil, nil) when nothing is due. A job whose lease
	// expires without Complete/Fail becomes reservable again.
	Reserve(ctx context.Context, lease time.Duration) (*Job, error)

	// Complete acknowledges a successfully processed job.
	Complete(ctx context.Context, job *Job) error

	// Fail records a failed attempt: the job is rescheduled with backoff
	// while attempts remain, otherwise retained as failed (or dropped
	// when RemoveOnFail is set).
	Fail(ctx context.Context, job *Job, cause error) error

	// Depth returns the number of pending plus active jobs.
	Depth(ctx context.Context) (int64, error)

	// Name returns the queue's name.
	Name() string

	// Close releases backend resources.
	Close() error
}

// RetryDelay computes the delay before the next attempt under a backoff
// policy. attempt is the 1-based attempt that just failed.
func RetryDelay(b Backoff, attempt int) time.Duration {
	if b.Delay <= 0 {
		return 0
	}
	if b.Type != BackoffExponential {
		return b.Delay
	}
	d := b.Delay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d > 5*time.Minute {
			return 5 * time.Minute
		}
	}
	return d
}
