package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/searchhub/searchhub/internal/apperr"
	"github.com/searchhub/searchhub/internal/model"
)

// IndexJobKey is the stable key shared by the queue job and its DB record.
func IndexJobKey(tenantID, documentID uuid.UUID) string {
	return fmt.Sprintf("%s-%s", tenantID, documentID)
}

// RecordIndexEnqueued writes the enqueue fact for an index job. Called only
// after the queue has accepted the job (queue-first ordering); repeated
// enqueues for one document collapse onto the same row.
func (db *DB) RecordIndexEnqueued(ctx context.Context, tenantID, documentID uuid.UUID) error {
	const op = "storage.RecordIndexEnqueued"
	_, err := db.pool.Exec(ctx,
		`INSERT INTO index_jobs (key, tenant_id, document_id, status, enqueued_at, updated_at)
		 VALUES ($1, $2, $3, 'queued', now(), now())
		 ON CONFLICT (key) DO UPDATE
		 SET status = 'queued', enqueued_at = now(), updated_at = now()`,
		IndexJobKey(tenantID, documentID), tenantID, documentID,
	)
	return classify("index_job", op, err)
}

// MarkIndexProcessing transitions a job record to processing and counts the attempt.
func (db *DB) MarkIndexProcessing(ctx context.Context, key string) error {
	const op = "storage.MarkIndexProcessing"
	_, err := db.pool.Exec(ctx,
		`UPDATE index_jobs
		 SET status = 'processing', attempts = attempts + 1, updated_at = now()
		 WHERE key = $1`,
		key,
	)
	return classify("index_job", op, err)
}

// MarkIndexIndexed transitions a job record to indexed and clears the last error.
func (db *DB) MarkIndexIndexed(ctx context.Context, key string) error {
	const op = "storage.MarkIndexIndexed"
	_, err := db.pool.Exec(ctx,
		`UPDATE index_jobs
		 SET status = 'indexed', last_error = NULL, updated_at = now()
		 WHERE key = $1`,
		key,
	)
	return classify("index_job", op, err)
}

// MarkIndexFailed records a failed run. The row is retained for operator
// inspection; the queue keeps its own failed copy of the job.
func (db *DB) MarkIndexFailed(ctx context.Context, key, cause string) error {
	const op = "storage.MarkIndexFailed"
	_, err := db.pool.Exec(ctx,
		`UPDATE index_jobs
		 SET status = 'failed', last_error = $2, updated_at = now()
		 WHERE key = $1`,
		key, cause,
	)
	return classify("index_job", op, err)
}

// GetIndexJob returns a job record by its stable key.
func (db *DB) GetIndexJob(ctx context.Context, key string) (model.IndexJobRecord, error) {
	const op = "storage.GetIndexJob"
	var r model.IndexJobRecord
	err := db.pool.QueryRow(ctx,
		`SELECT key, tenant_id, document_id, status, attempts, last_error, enqueued_at, updated_at
		 FROM index_jobs WHERE key = $1`,
		key,
	).Scan(&r.Key, &r.TenantID, &r.DocumentID, &r.Status, &r.Attempts, &r.LastError, &r.EnqueuedAt, &r.UpdatedAt)
	if err != nil {
		return model.IndexJobRecord{}, classify("index_job", op, err)
	}
	return r, nil
}

// ListIndexJobs returns a tenant's job records filtered by status
// (all statuses when status is empty), most recently updated first.
func (db *DB) ListIndexJobs(ctx context.Context, tenantID uuid.UUID, status model.IndexJobStatus, limit int) ([]model.IndexJobRecord, error) {
	const op = "storage.ListIndexJobs"
	if limit <= 0 {
		return nil, apperr.Errorf(apperr.Validation, "index_job", op, "limit must be positive, got %d", limit)
	}
	rows, err := db.pool.Query(ctx,
		`SELECT key, tenant_id, document_id, status, attempts, last_error, enqueued_at, updated_at
		 FROM index_jobs
		 WHERE tenant_id = $1 AND ($2 = '' OR status = $2)
		 ORDER BY updated_at DESC
		 LIMIT $3`,
		tenantID, string(status), limit,
	)
	if err != nil {
		return nil, classify("index_job", op, err)
	}
	defer rows.Close()

	var out []model.IndexJobRecord
	for rows.Next() {
		var r model.IndexJobRecord
		if err := rows.Scan(&r.Key, &r.TenantID, &r.DocumentID, &r.Status, &r.Attempts, &r.LastError, &r.EnqueuedAt, &r.UpdatedAt); err != nil {
			return nil, classify("index_job", op, err)
		}
		out = append(out, r)
	}
	return out, classify("index_job", op, rows.Err())
}
