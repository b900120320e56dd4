package reminder

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/searchhub/searchhub/internal/apperr"
	"github.com/searchhub/searchhub/internal/model"
	"github.com/searchhub/searchhub/internal/queue"
)

// Notifier delivers a fired reminder to the user. The real transport
// (email, push, in-app inbox) lives in the surrounding application.
type Notifier interface {
	Notify(ctx context.Context, cmd model.DocumentCommand) error
}

// LogNotifier writes fired reminders to the log. Default when no transport
// is wired.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify implements Notifier.
func (n LogNotifier) Notify(_ context.Context, cmd model.DocumentCommand) error {
	n.Logger.Info("reminder fired",
		"command_id", cmd.ID,
		"document_id", cmd.DocumentID,
		"user_id", cmd.UserID,
		"when_text", cmd.Body.WhenText)
	return nil
}

// Deliverer is the queue handler for reminder delivery jobs.
//
// Scheduling never retracts queued jobs (dismissal, reminder deletion, and
// document deletion all leave the job in place), so the guard lives here:
// a job whose command is gone or no longer scheduled is a no-op.
type Deliverer struct {
	store    Store
	notifier Notifier
	logger   *slog.Logger
}

// NewDeliverer creates the delivery job handler.
func NewDeliverer(store Store, notifier Notifier, logger *slog.Logger) *Deliverer {
	return &Deliverer{store: store, notifier: notifier, logger: logger}
}

// HandleDeliverJob processes one reminder delivery job.
func (d *Deliverer) HandleDeliverJob(ctx context.Context, job *queue.Job) error {
	var payload DeliverPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		d.logger.Error("reminder delivery: malformed payload, dropping job", "job_id", job.ID, "error", err)
		return nil
	}
	commandID, err := uuid.Parse(payload.CommandID)
	if err != nil {
		d.logger.Error("reminder delivery: invalid command id, dropping job", "job_id", job.ID, "error", err)
		return nil
	}
	tenantID, err := uuid.Parse(payload.TenantID)
	if err != nil {
		d.logger.Error("reminder delivery: invalid tenant id, dropping job", "job_id", job.ID, "error", err)
		return nil
	}

	cmd, err := d.store.GetReminder(ctx, tenantID, commandID)
	if err != nil {
		if apperr.IsNotFound(err) {
			// Command or its document deleted after scheduling.
			d.logger.Info("reminder delivery: command gone, dropping job", "command_id", commandID)
			return nil
		}
		return err
	}

	if cmd.Body.Status != model.ReminderScheduled {
		// Dismissed or already done between scheduling and firing.
		d.logger.Info("reminder delivery: stale job, command no longer scheduled",
			"command_id", commandID, "status", cmd.Body.Status)
		return nil
	}

	if err := d.notifier.Notify(ctx, cmd); err != nil {
		return err
	}
	return d.store.UpdateReminderStatus(ctx, tenantID, commandID, model.ReminderDone)
}
