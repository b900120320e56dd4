package queue

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// jobState tracks where a job sits in its lifecycle.
type jobState string

const (
	statePending jobState = "pending"
	stateActive  jobState = "active"
	stateFailed  jobState = "failed"
	stateDone    jobState = "done"
)

type memJob struct {
	job     Job
	state   jobState
	runAt   time.Time // due time while pending
	leaseAt time.Time // lease expiry while active
	lastErr string
}

// MemoryQueue is an in-process Queue for tests and single-node development.
// It mirrors RedisQueue's semantics exactly, including the
// replace-while-pending duplicate-id policy and lease-based redelivery.
type MemoryQueue struct {
	name string

	mu   sync.Mutex
	jobs map[string]*memJob
	now  func() time.Time
}

// NewMemoryQueue creates an empty in-memory queue.
func NewMemoryQueue(name string) *MemoryQueue {
	return &MemoryQueue{
		name: name,
		jobs: make(map[string]*memJob),
		now:  time.Now,
	}
}

// SetNowFunc overrides the clock. Test helper.
func (q *MemoryQueue) SetNowFunc(now func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.now = now
}

// Add implements Queue.
func (q *MemoryQueue) Add(_ context.Context, jobType string, payload []byte, opts Options) (Handle, error) {
	if opts.JobID == "" {
		return Handle{}, fmt.Errorf("queue %s: job id is required", q.name)
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	if existing, ok := q.jobs[opts.JobID]; ok {
		switch existing.state {
		case statePending:
			// Replace-while-pending: supersede payload and due time.
			existing.job.Payload = payload
			existing.job.Type = jobType
			existing.job.Opts = opts
			existing.runAt = now.Add(opts.Delay)
			return Handle{ID: opts.JobID}, nil
		case stateActive, stateFailed:
			// In-flight or retained for inspection: the add no-ops.
			return Handle{ID: opts.JobID}, nil
		case stateDone:
			// Completed and retained (RemoveOnComplete=false): a fresh
			// add restarts the job.
		}
	}

	attempts := opts.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	q.jobs[opts.JobID] = &memJob{
		job: Job{
			ID:          opts.JobID,
			Type:        jobType,
			Payload:     payload,
			Attempt:     0,
			MaxAttempts: attempts,
			Opts:        opts,
		},
		state: statePending,
		runAt: now.Add(opts.Delay),
	}
	return Handle{ID: opts.JobID}, nil
}

// Reserve implements Queue.
func (q *MemoryQueue) Reserve(_ context.Context, lease time.Duration) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()

	// Expired leases go back to pending before selection.
	for _, j := range q.jobs {
		if j.state == stateActive && j.leaseAt.Before(now) {
			j.state = statePending
			j.runAt = now
		}
	}

	var pick *memJob
	for _, j := range q.jobs {
		if j.state != statePending || j.runAt.After(now) {
			continue
		}
		if pick == nil || j.runAt.Before(pick.runAt) {
			pick = j
		}
	}
	if pick == nil {
		return nil, nil
	}

	pick.state = stateActive
	pick.leaseAt = now.Add(lease)
	pick.job.Attempt++
	out := pick.job
	return &out, nil
}

// Complete implements Queue.
func (q *MemoryQueue) Complete(_ context.Context, job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.jobs[job.ID]
	if !ok || j.state != stateActive {
		return nil
	}
	if j.job.Opts.RemoveOnComplete {
		delete(q.jobs, job.ID)
		return nil
	}
	j.state = stateDone
	return nil
}

// Fail implements Queue.
func (q *MemoryQueue) Fail(_ context.Context, job *Job, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.jobs[job.ID]
	if !ok || j.state != stateActive {
		return nil
	}
	if cause != nil {
		j.lastErr = cause.Error()
	}
	if j.job.Attempt < j.job.MaxAttempts {
		j.state = statePending
		j.runAt = q.now().Add(RetryDelay(j.job.Opts.Backoff, j.job.Attempt))
		return nil
	}
	if j.job.Opts.RemoveOnFail {
		delete(q.jobs, job.ID)
		return nil
	}
	j.state = stateFailed
	return nil
}

// Depth implements Queue.
func (q *MemoryQueue) Depth(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var n int64
	for _, j := range q.jobs {
		if j.state == statePending || j.state == stateActive {
			n++
		}
	}
	return n, nil
}

// Name implements Queue.
func (q *MemoryQueue) Name() string { return q.name }

// Close implements Queue.
func (q *MemoryQueue) Close() error { return nil }

// Snapshot describes one job for test assertions.
type Snapshot struct {
	ID      string
	Type    string
	Payload []byte
	State   string
	RunAt   time.Time
	LastErr string
}

// Snapshots returns the current jobs keyed by id. Test helper.
func (q *MemoryQueue) Snapshots() map[string]Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make(map[string]Snapshot, len(q.jobs))
	for id, j := range q.jobs {
		out[id] = Snapshot{
			ID:      id,
			Type:    j.job.Type,
			Payload: j.job.Payload,
			State:   string(j.state),
			RunAt:   j.runAt,
			LastErr: j.lastErr,
		}
	}
	return out
}
