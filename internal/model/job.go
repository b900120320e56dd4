package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// IndexJobStatus is the DB-side status of an index job, tracked for
// operational visibility independent of queue state.
type IndexJobStatus string

const (
	IndexJobQueued     IndexJobStatus = "queued"
	IndexJobProcessing IndexJobStatus = "processing"
	IndexJobIndexed    IndexJobStatus = "indexed"
	IndexJobFailed     IndexJobStatus = "failed"
)

// IndexJobRecord is the durable record of an index job. Keyed by the same
// stable key used as the queue job id, so repeated enqueues for one document
// collapse to a single row.
type IndexJobRecord struct {
	Key        string         `json:"key"`
	TenantID   uuid.UUID      `json:"tenant_id"`
	DocumentID uuid.UUID      `json:"document_id"`
	Status     IndexJobStatus `json:"status"`
	Attempts   int            `json:"attempts"`
	LastError  *string        `json:"last_error,omitempty"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// IndexDocumentJob is the queue payload for a document indexing job.
// Validated before enqueue; malformed payloads are rejected, never coerced.
type IndexDocumentJob struct {
	TenantID   string `json:"tenantId"`
	DocumentID string `json:"documentId"`
}

// Validate checks the payload against the job schema. The nil UUID parses
// but can never name a real tenant or document, so it is rejected too.
func (j IndexDocumentJob) Validate() error {
	tenantID, err := uuid.Parse(j.TenantID)
	if err != nil || tenantID == uuid.Nil {
		return fmt.Errorf("tenantId %q is not a valid UUID", j.TenantID)
	}
	documentID, err := uuid.Parse(j.DocumentID)
	if err != nil || documentID == uuid.Nil {
		return fmt.Errorf("documentId %q is not a valid UUID", j.DocumentID)
	}
	return nil
}
