package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/searchhub/searchhub/internal/apperr"
	"github.com/searchhub/searchhub/internal/model"
)

// ReplaceChunksWithEmbeddings atomically replaces a document's chunk set and
// records the indexing run. One transaction covers: delete all chunks,
// insert the new set, refresh the document's search vector, and upsert the
// index state with the new checksum. Either everything lands or nothing
// does — a partial chunk set is never observable.
//
// chunks and vectors are parallel slices; an empty pair clears the index
// (empty-content document).
func (db *DB) ReplaceChunksWithEmbeddings(ctx context.Context, tenantID, documentID uuid.UUID, chunks []string, vectors []pgvector.Vector, checksum string) error {
	const op = "storage.ReplaceChunksWithEmbeddings"
	if len(chunks) != len(vectors) {
		return apperr.Errorf(apperr.Validation, "chunk", op, "%d chunks but %d vectors", len(chunks), len(vectors))
	}

	// Concurrent reindex runs and document writes can deadlock on the row
	// lock; serialization conflicts are retried rather than surfaced.
	return WithRetry(ctx, 3, 50*time.Millisecond, func() error {
		return db.replaceChunksTx(ctx, tenantID, documentID, chunks, vectors, checksum)
	})
}

func (db *DB) replaceChunksTx(ctx context.Context, tenantID, documentID uuid.UUID, chunks []string, vectors []pgvector.Vector, checksum string) error {
	const op = "storage.ReplaceChunksWithEmbeddings"

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return classify("chunk", op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Lock the document row for the duration of the replacement so two
	// concurrent reindex runs for the same document serialize.
	var exists bool
	if err := tx.QueryRow(ctx,
		`SELECT true FROM documents WHERE tenant_id = $1 AND id = $2 FOR UPDATE`,
		tenantID, documentID,
	).Scan(&exists); err != nil {
		return classify("document", op, err)
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM document_chunks WHERE document_id = $1`, documentID,
	); err != nil {
		return classify("chunk", op, err)
	}

	if len(chunks) > 0 {
		batch := &pgx.Batch{}
		for i, text := range chunks {
			batch.Queue(
				`INSERT INTO document_chunks (document_id, idx, text, embedding) VALUES ($1, $2, $3, $4)`,
				documentID, i, text, vectors[i],
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return classify("chunk", op, fmt.Errorf("insert chunks: %w", err))
		}
	}

	// Full-text search vector maintenance lives here, inside the same
	// transaction, so the tsvector always matches the chunked snapshot.
	if _, err := tx.Exec(ctx,
		`UPDATE documents
		 SET search_vector = setweight(to_tsvector('english', title), 'A') ||
		                     setweight(to_tsvector('english', COALESCE(content, '')), 'B')
		 WHERE id = $1`,
		documentID,
	); err != nil {
		return classify("document", op, fmt.Errorf("refresh search vector: %w", err))
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO document_index_state (document_id, last_checksum, last_indexed_at, updated_at)
		 VALUES ($1, $2, now(), now())
		 ON CONFLICT (document_id) DO UPDATE
		 SET last_checksum = EXCLUDED.last_checksum,
		     last_indexed_at = EXCLUDED.last_indexed_at,
		     updated_at = EXCLUDED.updated_at`,
		documentID, checksum,
	); err != nil {
		return classify("index_state", op, err)
	}

	return classify("chunk", op, tx.Commit(ctx))
}

// GetIndexState returns the index state for a document, or a not-found
// error when the document has never been indexed.
func (db *DB) GetIndexState(ctx context.Context, documentID uuid.UUID) (model.DocumentIndexState, error) {
	const op = "storage.GetIndexState"
	var s model.DocumentIndexState
	err := db.pool.QueryRow(ctx,
		`SELECT document_id, last_checksum, last_indexed_at, updated_at
		 FROM document_index_state
		 WHERE document_id = $1`,
		documentID,
	).Scan(&s.DocumentID, &s.LastChecksum, &s.LastIndexedAt, &s.UpdatedAt)
	if err != nil {
		return model.DocumentIndexState{}, classify("index_state", op, err)
	}
	return s, nil
}

// ListDocumentChunks returns a document's chunks in order.
func (db *DB) ListDocumentChunks(ctx context.Context, documentID uuid.UUID) ([]model.DocumentChunk, error) {
	const op = "storage.ListDocumentChunks"
	rows, err := db.pool.Query(ctx,
		`SELECT document_id, idx, text, embedding
		 FROM document_chunks
		 WHERE document_id = $1
		 ORDER BY idx`,
		documentID,
	)
	if err != nil {
		return nil, classify("chunk", op, err)
	}
	defer rows.Close()

	var out []model.DocumentChunk
	for rows.Next() {
		var c model.DocumentChunk
		if err := rows.Scan(&c.DocumentID, &c.Idx, &c.Text, &c.Embedding); err != nil {
			return nil, classify("chunk", op, err)
		}
		out = append(out, c)
	}
	return out, classify("chunk", op, rows.Err())
}
