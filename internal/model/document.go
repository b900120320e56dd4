package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// Role is a member's role within a tenant.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// CanEdit reports whether the role may create or mutate documents.
func (r Role) CanEdit() bool {
	return r == RoleOwner || r == RoleAdmin || r == RoleEditor
}

// CanDelete reports whether the role may delete documents.
func (r Role) CanDelete() bool {
	return r == RoleOwner || r == RoleAdmin
}

// DocumentMeta is the typed metadata sidecar stored alongside a document.
// Named, versioned fields instead of an open key-value map so pipeline code
// never does stringly-typed map access.
type DocumentMeta struct {
	SchemaVersion int    `json:"schema_version"`
	IconEmoji     string `json:"icon_emoji,omitempty"`
	Summary       string `json:"summary,omitempty"`
}

// Document is a tenant-owned document. Content is nullable: a freshly
// created document may have a title only.
type Document struct {
	ID          uuid.UUID    `json:"id"`
	TenantID    uuid.UUID    `json:"tenant_id"`
	Title       string       `json:"title"`
	Content     *string      `json:"content,omitempty"`
	Meta        DocumentMeta `json:"meta"`
	CreatedByID uuid.UUID    `json:"created_by_id"`
	UpdatedByID uuid.UUID    `json:"updated_by_id"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// ContentText returns the document content, or "" when content is null.
func (d Document) ContentText() string {
	if d.Content == nil {
		return ""
	}
	return *d.Content
}

// DocumentChunk is one ordered slice of a document's searchable
// representation. The chunk set for a document is always replaced whole
// (delete-then-insert) so chunk ordering can never drift from the content
// snapshot it was derived from.
type DocumentChunk struct {
	DocumentID uuid.UUID       `json:"document_id"`
	Idx        int             `json:"idx"`
	Text       string          `json:"text"`
	Embedding  pgvector.Vector `json:"-"`
}

// DocumentIndexState records the last successful indexing run for a
// document: the content fingerprint that was embedded and when.
type DocumentIndexState struct {
	DocumentID    uuid.UUID  `json:"document_id"`
	LastChecksum  string     `json:"last_checksum"`
	LastIndexedAt *time.Time `json:"last_indexed_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// StaleCandidate is a joined document/index-state/chunk-count row used by
// the staleness detector for classification.
type StaleCandidate struct {
	DocumentID    uuid.UUID
	TenantID      uuid.UUID
	HasContent    bool
	UpdatedAt     time.Time
	LastIndexedAt *time.Time
	HasIndexState bool
	ChunkCount    int
}

// StaleReason says why a document was classified stale.
type StaleReason string

const (
	// StaleNeverIndexed: non-empty content, no indexing run recorded.
	StaleNeverIndexed StaleReason = "never_indexed"
	// StaleContentChanged: content updated after the last indexing run.
	StaleContentChanged StaleReason = "content_changed"
	// StaleMissingIndexState: chunks exist but no index-state row does.
	// Indicates an inconsistent write; always surfaced.
	StaleMissingIndexState StaleReason = "missing_index_state"
)

// StaleDocument is a document that needs (re-)indexing.
type StaleDocument struct {
	DocumentID uuid.UUID
	TenantID   uuid.UUID
	UpdatedAt  time.Time
	Reason     StaleReason
}
