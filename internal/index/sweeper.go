package index

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/searchhub/searchhub/internal/apperr"
)

// Sweeper periodically pipes Detector results into the Dispatcher. It
// exists to catch documents whose index fell behind outside the mutation
// path: failed jobs, direct writes, enqueues lost to an outage.
type Sweeper struct {
	detector   *Detector
	dispatcher *Dispatcher
	logger     *slog.Logger
	interval   time.Duration
	batchSize  int

	started    atomic.Bool
	cancelLoop context.CancelFunc
	done       chan struct{}
	once       sync.Once
}

// NewSweeper creates a sweeper running every interval over at most
// batchSize documents per run.
func NewSweeper(detector *Detector, dispatcher *Dispatcher, logger *slog.Logger, interval time.Duration, batchSize int) *Sweeper {
	return &Sweeper{
		detector:   detector,
		dispatcher: dispatcher,
		logger:     logger,
		interval:   interval,
		batchSize:  batchSize,
		done:       make(chan struct{}),
	}
}

// Start begins the background sweep loop. Safe to call only once.
func (s *Sweeper) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		s.logger.Warn("staleness sweeper: Start called more than once, ignoring")
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancelLoop = cancel
	go s.loop(loopCtx)
}

// Stop halts the sweep loop and waits for the in-flight sweep, if any.
func (s *Sweeper) Stop(ctx context.Context) {
	if s.cancelLoop != nil {
		s.cancelLoop()
	}
	select {
	case <-s.done:
	case <-ctx.Done():
		s.logger.Warn("staleness sweeper: stop timed out")
	}
}

func (s *Sweeper) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.once.Do(func() { close(s.done) })
			return
		case <-ticker.C:
			sweepCtx, cancel := context.WithTimeout(ctx, s.interval)
			s.sweep(sweepCtx)
			cancel()
		}
	}
}

// sweep runs one detect-and-dispatch pass. The sweep itself has no side
// effects beyond dispatch: a transient failure just waits for the next
// tick, and a single document's enqueue failure doesn't stop the rest.
func (s *Sweeper) sweep(ctx context.Context) {
	stale, err := s.detector.FindStaleDocuments(ctx, s.batchSize, nil)
	if err != nil {
		if apperr.IsTransient(err) {
			s.logger.Warn("staleness sweep: transient failure, retrying next tick", "error", err)
		} else {
			s.logger.Error("staleness sweep: detect failed", "error", err)
		}
		return
	}
	if len(stale) == 0 {
		return
	}

	enqueued := 0
	for _, doc := range stale {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.dispatcher.EnqueueIndex(ctx, doc.TenantID, doc.DocumentID); err != nil {
			s.logger.Warn("staleness sweep: enqueue failed",
				"tenant_id", doc.TenantID, "document_id", doc.DocumentID,
				"reason", doc.Reason, "error", err)
			continue
		}
		enqueued++
	}
	s.logger.Info("staleness sweep: complete", "stale", len(stale), "enqueued", enqueued)
}
