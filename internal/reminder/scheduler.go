package reminder

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/searchhub/searchhub/internal/apperr"
	"github.com/searchhub/searchhub/internal/ctxutil"
	"github.com/searchhub/searchhub/internal/model"
	"github.com/searchhub/searchhub/internal/queue"
)

// JobTypeDeliverReminder is the queue job type for reminder delivery.
const JobTypeDeliverReminder = "deliver-reminder"

// ReminderJobID derives the stable queue job id for a command. Because the
// id is stable per command, re-running sync after a content edit supersedes
// the prior scheduled delivery instead of duplicating it.
func ReminderJobID(commandID uuid.UUID) string {
	return "reminder-" + commandID.String()
}

// DeliverPayload is the queue payload for a reminder delivery job.
type DeliverPayload struct {
	CommandID string `json:"commandId"`
	TenantID  string `json:"tenantId"`
}

// Store is the storage surface the scheduler and deliverer need.
// Implemented by *storage.DB.
type Store interface {
	GetDocument(ctx context.Context, tenantID, documentID uuid.UUID) (model.Document, error)
	SyncDocumentReminders(ctx context.Context, tenantID, documentID, userID uuid.UUID, payloads []model.RemindPayload) error
	GetUserReminders(ctx context.Context, tenantID, userID uuid.UUID) ([]model.DocumentCommand, error)
	GetReminder(ctx context.Context, tenantID, id uuid.UUID) (model.DocumentCommand, error)
	UpdateReminderStatus(ctx context.Context, tenantID, id uuid.UUID, status model.ReminderStatus) error
	ListTenantReminders(ctx context.Context, tenantID uuid.UUID, limit int) ([]model.DocumentCommand, error)
	ListDocumentReminders(ctx context.Context, tenantID, documentID uuid.UUID) ([]model.DocumentCommand, error)
	DeleteDocumentReminders(ctx context.Context, tenantID, documentID uuid.UUID) error
}

// Scheduler reconciles the reminder directives present in a document
// against persisted commands and keeps exactly one scheduled delivery job
// per active reminder.
type Scheduler struct {
	store  Store
	q      queue.Queue
	logger *slog.Logger
	now    func() time.Time
}

// NewScheduler creates a scheduler submitting delivery jobs to q.
func NewScheduler(store Store, q queue.Queue, logger *slog.Logger) *Scheduler {
	return &Scheduler{store: store, q: q, logger: logger, now: time.Now}
}

// SyncDocumentReminders persists the extracted reminder set for a document
// and (re)schedules delivery jobs for every scheduled command with a
// resolved time. Document existence and tenant ownership are verified
// first; a cross-tenant document is not found.
//
// Per-command scheduling failures are logged and skipped — one
// unschedulable reminder must not abort the rest of the batch.
func (s *Scheduler) SyncDocumentReminders(ctx context.Context, documentID uuid.UUID, p ctxutil.Principal, payloads []model.RemindPayload) error {
	if _, err := s.store.GetDocument(ctx, p.TenantID, documentID); err != nil {
		return err
	}

	if err := s.store.SyncDocumentReminders(ctx, p.TenantID, documentID, p.UserID, payloads); err != nil {
		return err
	}

	// Re-fetch so scheduling sees storage-assigned command ids.
	commands, err := s.store.GetUserReminders(ctx, p.TenantID, p.UserID)
	if err != nil {
		return err
	}

	for _, cmd := range commands {
		if cmd.DocumentID != documentID || cmd.Body.Status != model.ReminderScheduled {
			continue
		}
		if cmd.Body.WhenISO == nil {
			// Not yet actionable; stays stored until a later edit
			// resolves the time.
			s.logger.Info("reminder sync: unresolved time, not scheduling",
				"command_id", cmd.ID, "when_text", cmd.Body.WhenText)
			continue
		}
		if err := s.scheduleDelivery(ctx, cmd); err != nil {
			s.logger.Warn("reminder sync: schedule failed, skipping command",
				"command_id", cmd.ID, "error", err)
		}
	}
	return nil
}

func (s *Scheduler) scheduleDelivery(ctx context.Context, cmd model.DocumentCommand) error {
	payload, err := json.Marshal(DeliverPayload{
		CommandID: cmd.ID.String(),
		TenantID:  cmd.TenantID.String(),
	})
	if err != nil {
		return err
	}

	delay := cmd.Body.WhenISO.Sub(s.now())
	if delay < 0 {
		delay = 0
	}

	_, err = s.q.Add(ctx, JobTypeDeliverReminder, payload, queue.Options{
		JobID:            ReminderJobID(cmd.ID),
		Delay:            delay,
		RemoveOnComplete: true,
		RemoveOnFail:     false,
	})
	return err
}

// DismissReminder marks a reminder done. Only the authoring user may
// dismiss. An already-queued delivery job is not retracted; the delivery
// handler re-checks status and treats a dismissed reminder as a no-op.
func (s *Scheduler) DismissReminder(ctx context.Context, reminderID uuid.UUID, p ctxutil.Principal) error {
	const op = "reminder.DismissReminder"

	cmd, err := s.store.GetReminder(ctx, p.TenantID, reminderID)
	if err != nil {
		return err
	}
	if cmd.UserID != p.UserID {
		return apperr.Errorf(apperr.Authorization, "reminder", op, "only the author may dismiss reminder %s", reminderID)
	}
	return s.store.UpdateReminderStatus(ctx, p.TenantID, reminderID, model.ReminderDone)
}

// ListUserReminders returns the caller's reminders across the tenant.
func (s *Scheduler) ListUserReminders(ctx context.Context, p ctxutil.Principal) ([]model.DocumentCommand, error) {
	return s.store.GetUserReminders(ctx, p.TenantID, p.UserID)
}

// ListTenantReminders returns the tenant's reminders, newest first.
func (s *Scheduler) ListTenantReminders(ctx context.Context, p ctxutil.Principal, limit int) ([]model.DocumentCommand, error) {
	return s.store.ListTenantReminders(ctx, p.TenantID, limit)
}

// ListDocumentReminders returns one document's reminders.
func (s *Scheduler) ListDocumentReminders(ctx context.Context, p ctxutil.Principal, documentID uuid.UUID) ([]model.DocumentCommand, error) {
	return s.store.ListDocumentReminders(ctx, p.TenantID, documentID)
}

// DeleteDocumentReminders removes a document's reminders. Requires an
// editing role. Already-enqueued delivery jobs are not cancelled; the
// delivery handler's status re-check makes them no-ops.
func (s *Scheduler) DeleteDocumentReminders(ctx context.Context, p ctxutil.Principal, documentID uuid.UUID) error {
	const op = "reminder.DeleteDocumentReminders"
	if !p.Role.CanEdit() {
		return apperr.Errorf(apperr.Authorization, "reminder", op, "role %s may not delete reminders", p.Role)
	}
	return s.store.DeleteDocumentReminders(ctx, p.TenantID, documentID)
}
