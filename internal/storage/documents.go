package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/searchhub/searchhub/internal/apperr"
	"github.com/searchhub/searchhub/internal/model"
)

const documentColumns = `id, tenant_id, title, content, meta, created_by_id, updated_by_id, created_at, updated_at`

// CreateDocument inserts a document and returns it with storage-assigned
// identity and timestamps.
func (db *DB) CreateDocument(ctx context.Context, tenantID uuid.UUID, title string, content *string, meta model.DocumentMeta, createdBy uuid.UUID) (model.Document, error) {
	const op = "storage.CreateDocument"
	if meta.SchemaVersion == 0 {
		meta.SchemaVersion = 1
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return model.Document{}, apperr.E(apperr.Internal, "document", op, err)
	}

	row := db.pool.QueryRow(ctx,
		`INSERT INTO documents (tenant_id, title, content, meta, created_by_id, updated_by_id)
		 VALUES ($1, $2, $3, $4, $5, $5)
		 RETURNING `+documentColumns,
		tenantID, title, content, metaJSON, createdBy,
	)
	return scanDocument(row, op)
}

// GetDocument fetches a document scoped to a tenant. A document in another
// tenant is indistinguishable from an absent one.
func (db *DB) GetDocument(ctx context.Context, tenantID, documentID uuid.UUID) (model.Document, error) {
	const op = "storage.GetDocument"
	row := db.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE tenant_id = $1 AND id = $2`,
		tenantID, documentID,
	)
	return scanDocument(row, op)
}

// UpdateDocumentContent replaces a document's content and bumps updated_at.
func (db *DB) UpdateDocumentContent(ctx context.Context, tenantID, documentID uuid.UUID, content string, updatedBy uuid.UUID) (model.Document, error) {
	const op = "storage.UpdateDocumentContent"
	row := db.pool.QueryRow(ctx,
		`UPDATE documents
		 SET content = $3, updated_by_id = $4, updated_at = now()
		 WHERE tenant_id = $1 AND id = $2
		 RETURNING `+documentColumns,
		tenantID, documentID, content, updatedBy,
	)
	return scanDocument(row, op)
}

// UpdateDocumentTitle replaces a document's title and bumps updated_at.
func (db *DB) UpdateDocumentTitle(ctx context.Context, tenantID, documentID uuid.UUID, title string, updatedBy uuid.UUID) (model.Document, error) {
	const op = "storage.UpdateDocumentTitle"
	row := db.pool.QueryRow(ctx,
		`UPDATE documents
		 SET title = $3, updated_by_id = $4, updated_at = now()
		 WHERE tenant_id = $1 AND id = $2
		 RETURNING `+documentColumns,
		tenantID, documentID, title, updatedBy,
	)
	return scanDocument(row, op)
}

// UpdateDocumentMeta replaces the typed metadata sidecar. Does not bump
// updated_at: metadata changes don't invalidate the search index.
func (db *DB) UpdateDocumentMeta(ctx context.Context, tenantID, documentID uuid.UUID, meta model.DocumentMeta, updatedBy uuid.UUID) (model.Document, error) {
	const op = "storage.UpdateDocumentMeta"
	if meta.SchemaVersion == 0 {
		meta.SchemaVersion = 1
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return model.Document{}, apperr.E(apperr.Internal, "document", op, err)
	}
	row := db.pool.QueryRow(ctx,
		`UPDATE documents
		 SET meta = $3, updated_by_id = $4
		 WHERE tenant_id = $1 AND id = $2
		 RETURNING `+documentColumns,
		tenantID, documentID, metaJSON, updatedBy,
	)
	return scanDocument(row, op)
}

// DeleteDocument removes a document; chunks, index state, and commands
// cascade in the schema.
func (db *DB) DeleteDocument(ctx context.Context, tenantID, documentID uuid.UUID) error {
	const op = "storage.DeleteDocument"
	tag, err := db.pool.Exec(ctx,
		`DELETE FROM documents WHERE tenant_id = $1 AND id = $2`,
		tenantID, documentID,
	)
	if err != nil {
		return classify("document", op, err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Errorf(apperr.NotFound, "document", op, "document %s not found", documentID)
	}
	return nil
}

// ListDocuments returns a tenant's documents, newest-updated first.
func (db *DB) ListDocuments(ctx context.Context, tenantID uuid.UUID, limit int) ([]model.Document, error) {
	const op = "storage.ListDocuments"
	rows, err := db.pool.Query(ctx,
		`SELECT `+documentColumns+`
		 FROM documents
		 WHERE tenant_id = $1
		 ORDER BY updated_at DESC
		 LIMIT $2`,
		tenantID, limit,
	)
	if err != nil {
		return nil, classify("document", op, err)
	}
	defer rows.Close()

	var docs []model.Document
	for rows.Next() {
		d, err := scanDocument(rows, op)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, classify("document", op, rows.Err())
}

// ListStaleCandidates returns joined document/index-state/chunk-count rows
// for staleness classification, newest-updated first, capped at limit.
//
// The WHERE clause is a superset pre-filter: it keeps every row that could
// be stale (never indexed, updated after last index, or chunks without an
// index-state row) and leaves the tolerance-aware final classification to
// the detector. Documents with chunks but no index state are surfaced even
// when a tenant filter is set — that inconsistency is global.
func (db *DB) ListStaleCandidates(ctx context.Context, limit int, tenantID *uuid.UUID) ([]model.StaleCandidate, error) {
	const op = "storage.ListStaleCandidates"
	rows, err := db.pool.Query(ctx,
		`SELECT d.id, d.tenant_id,
		        COALESCE(d.content, '') <> '' AS has_content,
		        d.updated_at,
		        s.last_indexed_at,
		        s.document_id IS NOT NULL AS has_index_state,
		        COALESCE(c.n, 0) AS chunk_count
		 FROM documents d
		 LEFT JOIN document_index_state s ON s.document_id = d.id
		 LEFT JOIN (
		     SELECT document_id, COUNT(*) AS n
		     FROM document_chunks
		     GROUP BY document_id
		 ) c ON c.document_id = d.id
		 WHERE (s.last_indexed_at IS NULL
		        OR d.updated_at > s.last_indexed_at
		        OR (COALESCE(c.n, 0) > 0 AND s.document_id IS NULL))
		   AND ($1::uuid IS NULL
		        OR d.tenant_id = $1
		        OR (COALESCE(c.n, 0) > 0 AND s.document_id IS NULL))
		 ORDER BY d.updated_at DESC
		 LIMIT $2`,
		tenantID, limit,
	)
	if err != nil {
		return nil, classify("document", op, err)
	}
	defer rows.Close()

	var candidates []model.StaleCandidate
	for rows.Next() {
		var c model.StaleCandidate
		if err := rows.Scan(
			&c.DocumentID, &c.TenantID, &c.HasContent, &c.UpdatedAt,
			&c.LastIndexedAt, &c.HasIndexState, &c.ChunkCount,
		); err != nil {
			return nil, classify("document", op, fmt.Errorf("scan candidate: %w", err))
		}
		candidates = append(candidates, c)
	}
	return candidates, classify("document", op, rows.Err())
}

func scanDocument(row pgx.Row, op string) (model.Document, error) {
	var d model.Document
	var metaJSON []byte
	if err := row.Scan(
		&d.ID, &d.TenantID, &d.Title, &d.Content, &metaJSON,
		&d.CreatedByID, &d.UpdatedByID, &d.CreatedAt, &d.UpdatedAt,
	); err != nil {
		return model.Document{}, classify("document", op, err)
	}
	if err := json.Unmarshal(metaJSON, &d.Meta); err != nil {
		return model.Document{}, apperr.E(apperr.Internal, "document", op, fmt.Errorf("decode meta: %w", err))
	}
	return d, nil
}
