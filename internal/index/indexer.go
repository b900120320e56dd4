package index

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"go.opentelemetry.io/otel/metric"

	"github.com/searchhub/searchhub/internal/apperr"
	"github.com/searchhub/searchhub/internal/model"
	"github.com/searchhub/searchhub/internal/queue"
	"github.com/searchhub/searchhub/internal/service/embedding"
	"github.com/searchhub/searchhub/internal/storage"
	"github.com/searchhub/searchhub/internal/telemetry"
)

// IndexerStore is the storage surface the reindex handler needs.
// Implemented by *storage.DB.
type IndexerStore interface {
	GetDocument(ctx context.Context, tenantID, documentID uuid.UUID) (model.Document, error)
	GetIndexState(ctx context.Context, documentID uuid.UUID) (model.DocumentIndexState, error)
	ReplaceChunksWithEmbeddings(ctx context.Context, tenantID, documentID uuid.UUID, chunks []string, vectors []pgvector.Vector, checksum string) error
	MarkIndexProcessing(ctx context.Context, key string) error
	MarkIndexIndexed(ctx context.Context, key string) error
	MarkIndexFailed(ctx context.Context, key, cause string) error
}

// Indexer is the queue handler that turns an index job into a fresh chunk
// set: load, checksum, chunk, embed, replace. The chunk replacement is the
// only transactional step; embedding happens outside it.
type Indexer struct {
	store        IndexerStore
	embedder     embedding.Provider
	logger       *slog.Logger
	chunkSize    int
	chunkOverlap int

	embedDuration metric.Float64Histogram
}

// NewIndexer creates the reindex job handler.
func NewIndexer(store IndexerStore, embedder embedding.Provider, logger *slog.Logger, chunkSize, chunkOverlap int) *Indexer {
	meter := telemetry.Meter("searchhub/index")
	embedDur, _ := meter.Float64Histogram("searchhub.embedding.duration",
		metric.WithDescription("Time to embed a document's chunk set (ms)"),
		metric.WithUnit("ms"),
	)
	return &Indexer{
		store:         store,
		embedder:      embedder,
		logger:        logger,
		chunkSize:     chunkSize,
		chunkOverlap:  chunkOverlap,
		embedDuration: embedDur,
	}
}

// HandleIndexJob processes one index job. Returning an error triggers the
// queue's retry policy; permanent conditions (deleted document, malformed
// payload beyond repair) complete the job instead of burning retries.
func (ix *Indexer) HandleIndexJob(ctx context.Context, job *queue.Job) error {
	var payload model.IndexDocumentJob
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		ix.logger.Error("indexer: malformed payload, dropping job", "job_id", job.ID, "error", err)
		return nil
	}
	if err := payload.Validate(); err != nil {
		ix.logger.Error("indexer: invalid payload, dropping job", "job_id", job.ID, "error", err)
		return nil
	}
	tenantID := uuid.MustParse(payload.TenantID)
	documentID := uuid.MustParse(payload.DocumentID)
	key := storage.IndexJobKey(tenantID, documentID)

	if err := ix.store.MarkIndexProcessing(ctx, key); err != nil {
		// Visibility-only record; the reindex itself proceeds.
		ix.logger.Warn("indexer: mark processing failed", "key", key, "error", err)
	}

	doc, err := ix.store.GetDocument(ctx, tenantID, documentID)
	if err != nil {
		if apperr.IsNotFound(err) {
			// Deleted between enqueue and execution; nothing to index.
			ix.logger.Info("indexer: document gone, dropping job", "key", key)
			return nil
		}
		return ix.fail(ctx, key, err)
	}

	content := doc.ContentText()
	sum := Checksum(content)

	if state, err := ix.store.GetIndexState(ctx, documentID); err == nil {
		if state.LastChecksum == sum && state.LastIndexedAt != nil {
			ix.logger.Debug("indexer: checksum unchanged, skipping re-embed", "key", key)
			if err := ix.store.MarkIndexIndexed(ctx, key); err != nil {
				ix.logger.Warn("indexer: mark indexed failed", "key", key, "error", err)
			}
			return nil
		}
	} else if !apperr.IsNotFound(err) {
		return ix.fail(ctx, key, err)
	}

	chunks := SplitChunks(content, ix.chunkSize, ix.chunkOverlap)

	var vectors []pgvector.Vector
	if len(chunks) > 0 {
		start := time.Now()
		vectors, err = ix.embedder.EmbedBatch(ctx, chunks)
		ix.embedDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
		if err != nil {
			return ix.fail(ctx, key, err)
		}
	}

	if err := ix.store.ReplaceChunksWithEmbeddings(ctx, tenantID, documentID, chunks, vectors, sum); err != nil {
		if apperr.IsNotFound(err) {
			ix.logger.Info("indexer: document gone during replace, dropping job", "key", key)
			return nil
		}
		return ix.fail(ctx, key, err)
	}

	if err := ix.store.MarkIndexIndexed(ctx, key); err != nil {
		ix.logger.Warn("indexer: mark indexed failed", "key", key, "error", err)
	}
	ix.logger.Info("indexer: document indexed", "key", key, "chunks", len(chunks))
	return nil
}

// fail records the failure on the DB-side job record and propagates the
// error so the queue schedules a retry.
func (ix *Indexer) fail(ctx context.Context, key string, cause error) error {
	if err := ix.store.MarkIndexFailed(ctx, key, cause.Error()); err != nil {
		ix.logger.Warn("indexer: mark failed errored", "key", key, "error", err)
	}
	return cause
}
