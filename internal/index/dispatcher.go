package index

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/searchhub/searchhub/internal/apperr"
	"github.com/searchhub/searchhub/internal/model"
	"github.com/searchhub/searchhub/internal/queue"
	"github.com/searchhub/searchhub/internal/telemetry"
)

// JobTypeIndexDocument is the queue job type for document re-embedding.
const JobTypeIndexDocument = "index-document"

const (
	indexJobAttempts     = 3
	indexJobBackoffStart = time.Second
)

// DispatcherStore records enqueue facts. Implemented by *storage.DB.
type DispatcherStore interface {
	RecordIndexEnqueued(ctx context.Context, tenantID, documentID uuid.UUID) error
}

// Dispatcher enqueues re-embedding jobs with a stable, deduplicating id.
//
// The ordering is queue-first on purpose: the job is submitted before the
// enqueue fact is written to the database. If the queue rejects the job,
// no DB record claims "queued" for a job that doesn't exist. If the DB
// write fails after the queue accepted, the job still runs and the record
// heals on the next successful indexing run.
type Dispatcher struct {
	q      queue.Queue
	store  DispatcherStore
	logger *slog.Logger

	enqueued metric.Int64Counter
}

// NewDispatcher creates a dispatcher submitting to q.
func NewDispatcher(q queue.Queue, store DispatcherStore, logger *slog.Logger) *Dispatcher {
	meter := telemetry.Meter("searchhub/index")
	enqueued, _ := meter.Int64Counter("searchhub.queue.enqueued",
		metric.WithDescription("Index jobs accepted by the queue"),
	)
	return &Dispatcher{q: q, store: store, logger: logger, enqueued: enqueued}
}

// StableJobID derives the deduplicating queue job id for a document.
// Concurrent or repeated enqueues for one document collapse onto it.
func StableJobID(tenantID, documentID uuid.UUID) string {
	return fmt.Sprintf("%s-%s", tenantID, documentID)
}

// EnqueueIndex submits a re-embedding job for a document and records the
// enqueue fact. Payload validation failures reject before any side effect;
// queue unavailability surfaces as a transient error with no DB mutation.
func (d *Dispatcher) EnqueueIndex(ctx context.Context, tenantID, documentID uuid.UUID) (queue.Handle, error) {
	const op = "index.EnqueueIndex"

	payload := model.IndexDocumentJob{
		TenantID:   tenantID.String(),
		DocumentID: documentID.String(),
	}
	if err := payload.Validate(); err != nil {
		return queue.Handle{}, apperr.E(apperr.Validation, "index_job", op, err)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return queue.Handle{}, apperr.E(apperr.Internal, "index_job", op, err)
	}

	handle, err := d.q.Add(ctx, JobTypeIndexDocument, body, queue.Options{
		JobID:    StableJobID(tenantID, documentID),
		Attempts: indexJobAttempts,
		Backoff: queue.Backoff{
			Type:  queue.BackoffExponential,
			Delay: indexJobBackoffStart,
		},
		RemoveOnComplete: true,
		RemoveOnFail:     false, // failed jobs stay visible for operators
	})
	if err != nil {
		return queue.Handle{}, apperr.E(apperr.Transient, "index_job", op, err)
	}

	// Queue accepted; now write the enqueue fact. A failure here is
	// non-fatal: the queue job proceeds and the record self-heals on the
	// next successful indexing run.
	if err := d.store.RecordIndexEnqueued(ctx, tenantID, documentID); err != nil {
		d.logger.Warn("index dispatch: record enqueue failed (job still queued)",
			"tenant_id", tenantID, "document_id", documentID, "error", err)
	}

	d.enqueued.Add(ctx, 1, metric.WithAttributes(
		attribute.String("queue_name", d.q.Name()),
		attribute.String("tenant_id", tenantID.String()),
	))
	return handle, nil
}
