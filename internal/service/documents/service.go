// Package documents provides the shared business logic for document
// mutations.
//
// Every mutation follows the same shape: authorize against the caller's
// tenant role, persist, then trigger the asynchronous side of the pipeline
// (index job dispatch, and for content changes, reminder extraction and
// sync). Authorization and not-found failures abort the whole operation
// before any write; the asynchronous steps are best-effort — a failed
// dispatch is logged and the staleness sweep picks the document up later.
package documents

import (
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/searchhub/searchhub/internal/apperr"
	"github.com/searchhub/searchhub/internal/ctxutil"
	"github.com/searchhub/searchhub/internal/index"
	"github.com/searchhub/searchhub/internal/model"
	"github.com/searchhub/searchhub/internal/reminder"
)

const maxTitleLength = 512

// Store is the storage surface the document service needs.
// Implemented by *storage.DB.
type Store interface {
	GetMembershipRole(ctx context.Context, tenantID, userID uuid.UUID) (model.Role, error)
	CreateDocument(ctx context.Context, tenantID uuid.UUID, title string, content *string, meta model.DocumentMeta, createdBy uuid.UUID) (model.Document, error)
	GetDocument(ctx context.Context, tenantID, documentID uuid.UUID) (model.Document, error)
	UpdateDocumentContent(ctx context.Context, tenantID, documentID uuid.UUID, content string, updatedBy uuid.UUID) (model.Document, error)
	UpdateDocumentTitle(ctx context.Context, tenantID, documentID uuid.UUID, title string, updatedBy uuid.UUID) (model.Document, error)
	UpdateDocumentMeta(ctx context.Context, tenantID, documentID uuid.UUID, meta model.DocumentMeta, updatedBy uuid.UUID) (model.Document, error)
	DeleteDocument(ctx context.Context, tenantID, documentID uuid.UUID) error
	ListDocuments(ctx context.Context, tenantID uuid.UUID, limit int) ([]model.Document, error)
}

// Service ties authorization-checked document mutations to the index
// dispatcher and the reminder scheduler.
type Service struct {
	store      Store
	dispatcher *index.Dispatcher
	scheduler  *reminder.Scheduler
	logger     *slog.Logger
}

// New creates a document service.
func New(store Store, dispatcher *index.Dispatcher, scheduler *reminder.Scheduler, logger *slog.Logger) *Service {
	return &Service{store: store, dispatcher: dispatcher, scheduler: scheduler, logger: logger}
}

// CreateInput is the input for Create.
type CreateInput struct {
	Title   string
	Content *string
	Meta    model.DocumentMeta
}

// Create persists a new document, dispatches its first index job, and
// syncs any reminder directives already present in the content.
func (s *Service) Create(ctx context.Context, p ctxutil.Principal, input CreateInput) (model.Document, error) {
	const op = "documents.Create"
	if err := s.requireEditor(ctx, p, op); err != nil {
		return model.Document{}, err
	}
	if err := validateTitle(input.Title, op); err != nil {
		return model.Document{}, err
	}

	doc, err := s.store.CreateDocument(ctx, p.TenantID, input.Title, input.Content, input.Meta, p.UserID)
	if err != nil {
		return model.Document{}, err
	}

	s.dispatchIndex(ctx, doc)
	if doc.ContentText() != "" {
		s.syncReminders(ctx, doc, p)
	}
	return doc, nil
}

// UpdateContent replaces a document's content, dispatches a reindex, and
// reconciles the reminder directives in the new content.
func (s *Service) UpdateContent(ctx context.Context, p ctxutil.Principal, documentID uuid.UUID, content string) (model.Document, error) {
	const op = "documents.UpdateContent"
	if err := s.requireEditor(ctx, p, op); err != nil {
		return model.Document{}, err
	}

	doc, err := s.store.UpdateDocumentContent(ctx, p.TenantID, documentID, content, p.UserID)
	if err != nil {
		return model.Document{}, err
	}

	s.dispatchIndex(ctx, doc)
	s.syncReminders(ctx, doc, p)
	return doc, nil
}

// UpdateTitle replaces a document's title and dispatches a reindex (the
// title contributes to the search vector).
func (s *Service) UpdateTitle(ctx context.Context, p ctxutil.Principal, documentID uuid.UUID, title string) (model.Document, error) {
	const op = "documents.UpdateTitle"
	if err := s.requireEditor(ctx, p, op); err != nil {
		return model.Document{}, err
	}
	if err := validateTitle(title, op); err != nil {
		return model.Document{}, err
	}

	doc, err := s.store.UpdateDocumentTitle(ctx, p.TenantID, documentID, title, p.UserID)
	if err != nil {
		return model.Document{}, err
	}

	s.dispatchIndex(ctx, doc)
	return doc, nil
}

// UpdateMeta replaces the metadata sidecar. Metadata is not part of the
// searchable representation, so no reindex is dispatched.
func (s *Service) UpdateMeta(ctx context.Context, p ctxutil.Principal, documentID uuid.UUID, meta model.DocumentMeta) (model.Document, error) {
	const op = "documents.UpdateMeta"
	if err := s.requireEditor(ctx, p, op); err != nil {
		return model.Document{}, err
	}
	return s.store.UpdateDocumentMeta(ctx, p.TenantID, documentID, meta, p.UserID)
}

// Delete removes a document. Owners and admins only. Reminder delivery
// jobs already in the queue are not retracted; the delivery handler drops
// them when it finds the commands gone.
func (s *Service) Delete(ctx context.Context, p ctxutil.Principal, documentID uuid.UUID) error {
	const op = "documents.Delete"
	role, err := s.memberRole(ctx, p, op)
	if err != nil {
		return err
	}
	if !role.CanDelete() {
		return apperr.Errorf(apperr.Authorization, "document", op, "role %s may not delete documents", role)
	}
	return s.store.DeleteDocument(ctx, p.TenantID, documentID)
}

// Get fetches a document. Any tenant member may read.
func (s *Service) Get(ctx context.Context, p ctxutil.Principal, documentID uuid.UUID) (model.Document, error) {
	const op = "documents.Get"
	if _, err := s.memberRole(ctx, p, op); err != nil {
		return model.Document{}, err
	}
	return s.store.GetDocument(ctx, p.TenantID, documentID)
}

// List returns the tenant's documents, newest-updated first.
func (s *Service) List(ctx context.Context, p ctxutil.Principal, limit int) ([]model.Document, error) {
	const op = "documents.List"
	if _, err := s.memberRole(ctx, p, op); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListDocuments(ctx, p.TenantID, limit)
}

// dispatchIndex enqueues a re-embedding job. Best-effort: a failure here
// leaves the document stale until the next sweep, which is exactly what
// the sweep exists for.
func (s *Service) dispatchIndex(ctx context.Context, doc model.Document) {
	if _, err := s.dispatcher.EnqueueIndex(ctx, doc.TenantID, doc.ID); err != nil {
		s.logger.Warn("documents: index dispatch failed, sweep will recover",
			"document_id", doc.ID, "error", err)
	}
}

// syncReminders extracts directives from the document's current content
// and reconciles them. Best-effort for the same reason as dispatchIndex.
func (s *Service) syncReminders(ctx context.Context, doc model.Document, p ctxutil.Principal) {
	payloads := reminder.ExtractRemindCommands(doc.ContentText())
	if err := s.scheduler.SyncDocumentReminders(ctx, doc.ID, p, payloads); err != nil {
		s.logger.Warn("documents: reminder sync failed",
			"document_id", doc.ID, "error", err)
	}
}

// memberRole resolves the caller's role; a missing membership is an
// authorization failure, not a not-found.
func (s *Service) memberRole(ctx context.Context, p ctxutil.Principal, op string) (model.Role, error) {
	role, err := s.store.GetMembershipRole(ctx, p.TenantID, p.UserID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return "", apperr.Errorf(apperr.Authorization, "document", op, "user %s is not a member of tenant %s", p.UserID, p.TenantID)
		}
		return "", err
	}
	return role, nil
}

func (s *Service) requireEditor(ctx context.Context, p ctxutil.Principal, op string) error {
	role, err := s.memberRole(ctx, p, op)
	if err != nil {
		return err
	}
	if !role.CanEdit() {
		return apperr.Errorf(apperr.Authorization, "document", op, "role %s may not edit documents", role)
	}
	return nil
}

func validateTitle(title, op string) error {
	if strings.TrimSpace(title) == "" {
		return apperr.Errorf(apperr.Validation, "document", op, "title must not be empty")
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return apperr.Errorf(apperr.Validation, "document", op, "title exceeds %d characters", maxTitleLength)
	}
	return nil
}
