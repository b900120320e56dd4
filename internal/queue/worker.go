package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/searchhub/searchhub/internal/telemetry"
)

// HandlerFunc processes one reserved job. A nil return completes the job;
// an error records a failed attempt (the queue reschedules with backoff
// while attempts remain).
type HandlerFunc func(ctx context.Context, job *Job) error

// Worker polls a Queue and dispatches reserved jobs to per-type handlers
// with bounded concurrency. The queue backend supplies at-least-once
// execution: a worker crash mid-job surfaces as an expired lease and the
// job is reserved again.
type Worker struct {
	queue        Queue
	logger       *slog.Logger
	pollInterval time.Duration
	concurrency  int
	lease        time.Duration
	handlers     map[string]HandlerFunc

	started    atomic.Bool
	cancelLoop context.CancelFunc
	done       chan struct{}
	once       sync.Once
	drainCh    chan context.Context // carries the drain context to pollLoop for the final poll
}

// NewWorker creates a worker for the given queue.
func NewWorker(q Queue, logger *slog.Logger, pollInterval time.Duration, concurrency int, lease time.Duration) *Worker {
	return &Worker{
		queue:        q,
		logger:       logger,
		pollInterval: pollInterval,
		concurrency:  concurrency,
		lease:        lease,
		handlers:     make(map[string]HandlerFunc),
		done:         make(chan struct{}),
		drainCh:      make(chan context.Context, 1),
	}
}

// Handle registers the handler for a job type. Must be called before Start.
func (w *Worker) Handle(jobType string, fn HandlerFunc) {
	w.handlers[jobType] = fn
}

// Start begins the background poll loop. It is safe to call only once;
// subsequent calls are no-ops and log a warning.
func (w *Worker) Start(ctx context.Context) {
	if !w.started.CompareAndSwap(false, true) {
		w.logger.Warn("queue worker: Start called more than once, ignoring", "queue", w.queue.Name())
		return
	}
	w.registerMetrics()
	loopCtx, cancel := context.WithCancel(ctx)
	w.cancelLoop = cancel
	go w.pollLoop(loopCtx)
}

// Drain signals the poll loop to stop, processes remaining due jobs, and
// blocks until done or the context expires.
func (w *Worker) Drain(ctx context.Context) {
	// Send the drain context to pollLoop via channel (race-free).
	// Must be sent before cancelLoop so pollLoop can receive it on ctx.Done().
	select {
	case w.drainCh <- ctx:
	default:
	}
	if w.cancelLoop != nil {
		w.cancelLoop()
	}
	select {
	case <-w.done:
	case <-ctx.Done():
		w.logger.Warn("queue worker: drain timed out", "queue", w.queue.Name())
	}
}

func (w *Worker) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			var drainCtx context.Context
			select {
			case drainCtx = <-w.drainCh:
			default:
			}
			if drainCtx != nil {
				w.processBatch(drainCtx)
			} else {
				// Fallback for direct cancellation without Drain (e.g., tests).
				fallbackCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				w.processBatch(fallbackCtx)
				cancel()
			}
			w.once.Do(func() { close(w.done) })
			return
		case <-ticker.C:
			batchCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			w.processBatch(batchCtx)
			cancel()
		}
	}
}

// processBatch drains due jobs, at most concurrency at a time. Stops when
// Reserve comes up empty or the batch context expires.
func (w *Worker) processBatch(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)

	for {
		if gctx.Err() != nil {
			break
		}
		job, err := w.queue.Reserve(gctx, w.lease)
		if err != nil {
			w.logger.Error("queue worker: reserve", "queue", w.queue.Name(), "error", err)
			break
		}
		if job == nil {
			break
		}
		g.Go(func() error {
			w.runJob(gctx, job)
			return nil
		})
	}
	_ = g.Wait()
}

func (w *Worker) runJob(ctx context.Context, job *Job) {
	handler, ok := w.handlers[job.Type]
	if !ok {
		w.logger.Error("queue worker: no handler for job type",
			"queue", w.queue.Name(), "type", job.Type, "job_id", job.ID)
		_ = w.queue.Fail(ctx, job, fmt.Errorf("no handler for job type %q", job.Type))
		return
	}

	if err := handler(ctx, job); err != nil {
		w.logger.Warn("queue worker: job failed",
			"queue", w.queue.Name(), "type", job.Type, "job_id", job.ID,
			"attempt", job.Attempt, "max_attempts", job.MaxAttempts, "error", err)
		if ferr := w.queue.Fail(ctx, job, err); ferr != nil {
			w.logger.Error("queue worker: record failure", "queue", w.queue.Name(), "job_id", job.ID, "error", ferr)
		}
		return
	}

	if err := w.queue.Complete(ctx, job); err != nil {
		w.logger.Error("queue worker: complete", "queue", w.queue.Name(), "job_id", job.ID, "error", err)
	}
}

// registerMetrics registers an observable gauge for queue depth.
func (w *Worker) registerMetrics() {
	meter := telemetry.Meter("searchhub/queue")

	_, _ = meter.Int64ObservableGauge("searchhub.queue.depth",
		metric.WithDescription("Number of pending and active jobs in the queue"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			depth, err := w.queue.Depth(ctx)
			if err != nil {
				return nil // Non-fatal: just skip this observation.
			}
			o.Observe(depth, metric.WithAttributes(attribute.String("queue_name", w.queue.Name())))
			return nil
		}),
	)
}
