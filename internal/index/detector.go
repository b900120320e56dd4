package index

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/searchhub/searchhub/internal/model"
)

// CandidateStore supplies joined document/index-state rows for
// classification. Implemented by *storage.DB.
type CandidateStore interface {
	ListStaleCandidates(ctx context.Context, limit int, tenantID *uuid.UUID) ([]model.StaleCandidate, error)
}

// Detector classifies documents that need (re-)indexing. It is read-only:
// the sweep pipes its results into the Dispatcher, which owns enqueueing.
type Detector struct {
	store CandidateStore
	// tolerance absorbs clock ordering inside the transaction that both
	// updates content and sets updated_at, so a document isn't flagged
	// stale the instant its own indexing run commits.
	tolerance time.Duration
	logger    *slog.Logger
}

// NewDetector creates a detector with the given timing-skew tolerance.
func NewDetector(store CandidateStore, tolerance time.Duration, logger *slog.Logger) *Detector {
	return &Detector{store: store, tolerance: tolerance, logger: logger}
}

// FindStaleDocuments returns up to limit stale documents, newest-updated
// first. tenantID restricts results to one tenant; documents with chunks
// but no index state are surfaced regardless of the filter.
func (d *Detector) FindStaleDocuments(ctx context.Context, limit int, tenantID *uuid.UUID) ([]model.StaleDocument, error) {
	candidates, err := d.store.ListStaleCandidates(ctx, limit, tenantID)
	if err != nil {
		return nil, err
	}

	stale := make([]model.StaleDocument, 0, len(candidates))
	for _, c := range candidates {
		reason, ok := Classify(c, d.tolerance)
		if !ok {
			continue
		}
		stale = append(stale, model.StaleDocument{
			DocumentID: c.DocumentID,
			TenantID:   c.TenantID,
			UpdatedAt:  c.UpdatedAt,
			Reason:     reason,
		})
		if len(stale) == limit {
			break
		}
	}
	return stale, nil
}

// Classify decides whether a candidate is stale and why. A document is
// stale if any of:
//
//  1. it has chunks recorded but no index-state row (inconsistent write)
//  2. it has non-empty content and was never indexed
//  3. it has non-empty content and was updated after the last indexing
//     run, beyond the timing-skew tolerance
func Classify(c model.StaleCandidate, tolerance time.Duration) (model.StaleReason, bool) {
	if c.ChunkCount > 0 && !c.HasIndexState {
		return model.StaleMissingIndexState, true
	}
	if !c.HasContent {
		return "", false
	}
	if c.LastIndexedAt == nil {
		return model.StaleNeverIndexed, true
	}
	if c.UpdatedAt.After(c.LastIndexedAt.Add(tolerance)) {
		return model.StaleContentChanged, true
	}
	return "", false
}
