package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/searchhub/searchhub/internal/apperr"
	"github.com/searchhub/searchhub/internal/model"
)

const commandColumns = `id, tenant_id, document_id, user_id, kind, body, created_at, updated_at`

// SyncDocumentReminders reconciles the stored remind commands for
// (document, user) against the latest extraction. Directives are matched by
// their raw text:
//
//   - a payload with no stored counterpart is inserted as scheduled
//   - a payload matching a scheduled command updates its resolved time
//   - a scheduled command whose directive vanished is dismissed
//   - terminal commands (done, dismissed) are left untouched; a re-appearing
//     directive for a done command does not resurrect it
//
// The whole merge runs in one transaction with the command rows locked.
func (db *DB) SyncDocumentReminders(ctx context.Context, tenantID, documentID, userID uuid.UUID, payloads []model.RemindPayload) error {
	return WithRetry(ctx, 3, 50*time.Millisecond, func() error {
		return db.syncDocumentRemindersTx(ctx, tenantID, documentID, userID, payloads)
	})
}

func (db *DB) syncDocumentRemindersTx(ctx context.Context, tenantID, documentID, userID uuid.UUID, payloads []model.RemindPayload) error {
	const op = "storage.SyncDocumentReminders"

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return classify("reminder", op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx,
		`SELECT id, body FROM document_commands
		 WHERE tenant_id = $1 AND document_id = $2 AND user_id = $3 AND kind = $4
		 FOR UPDATE`,
		tenantID, documentID, userID, model.CommandKindRemind,
	)
	if err != nil {
		return classify("reminder", op, err)
	}

	type stored struct {
		id   uuid.UUID
		body model.RemindBody
	}
	existing := make(map[string]stored)
	for rows.Next() {
		var s stored
		var bodyJSON []byte
		if err := rows.Scan(&s.id, &bodyJSON); err != nil {
			rows.Close()
			return classify("reminder", op, err)
		}
		if err := json.Unmarshal(bodyJSON, &s.body); err != nil {
			rows.Close()
			return apperr.E(apperr.Internal, "reminder", op, fmt.Errorf("decode body: %w", err))
		}
		existing[s.body.WhenText] = s
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return classify("reminder", op, err)
	}

	seen := make(map[string]bool, len(payloads))
	for _, p := range payloads {
		seen[p.WhenText] = true

		s, ok := existing[p.WhenText]
		if !ok {
			body := model.RemindBody{Status: model.ReminderScheduled, WhenText: p.WhenText, WhenISO: p.WhenISO}
			if err := execCommandWrite(ctx, tx, op,
				`INSERT INTO document_commands (tenant_id, document_id, user_id, kind, body)
				 VALUES ($1, $2, $3, $4, $5)`,
				tenantID, documentID, userID, model.CommandKindRemind, mustBody(body),
			); err != nil {
				return err
			}
			continue
		}
		if s.body.Status.Terminal() {
			continue
		}
		if !equalTimes(s.body.WhenISO, p.WhenISO) {
			s.body.WhenISO = p.WhenISO
			if err := execCommandWrite(ctx, tx, op,
				`UPDATE document_commands SET body = $2, updated_at = now() WHERE id = $1`,
				s.id, mustBody(s.body),
			); err != nil {
				return err
			}
		}
	}

	for text, s := range existing {
		if seen[text] || s.body.Status != model.ReminderScheduled {
			continue
		}
		s.body.Status = model.ReminderDismissed
		if err := execCommandWrite(ctx, tx, op,
			`UPDATE document_commands SET body = $2, updated_at = now() WHERE id = $1`,
			s.id, mustBody(s.body),
		); err != nil {
			return err
		}
	}

	return classify("reminder", op, tx.Commit(ctx))
}

// GetUserReminders returns all remind commands authored by a user in a tenant.
func (db *DB) GetUserReminders(ctx context.Context, tenantID, userID uuid.UUID) ([]model.DocumentCommand, error) {
	const op = "storage.GetUserReminders"
	return db.queryCommands(ctx, op,
		`SELECT `+commandColumns+` FROM document_commands
		 WHERE tenant_id = $1 AND user_id = $2 AND kind = $3
		 ORDER BY created_at`,
		tenantID, userID, model.CommandKindRemind,
	)
}

// ListTenantReminders returns a tenant's remind commands, newest first.
func (db *DB) ListTenantReminders(ctx context.Context, tenantID uuid.UUID, limit int) ([]model.DocumentCommand, error) {
	const op = "storage.ListTenantReminders"
	return db.queryCommands(ctx, op,
		`SELECT `+commandColumns+` FROM document_commands
		 WHERE tenant_id = $1 AND kind = $2
		 ORDER BY created_at DESC
		 LIMIT $3`,
		tenantID, model.CommandKindRemind, limit,
	)
}

// ListDocumentReminders returns a document's remind commands in creation order.
func (db *DB) ListDocumentReminders(ctx context.Context, tenantID, documentID uuid.UUID) ([]model.DocumentCommand, error) {
	const op = "storage.ListDocumentReminders"
	return db.queryCommands(ctx, op,
		`SELECT `+commandColumns+` FROM document_commands
		 WHERE tenant_id = $1 AND document_id = $2 AND kind = $3
		 ORDER BY created_at`,
		tenantID, documentID, model.CommandKindRemind,
	)
}

// DeleteDocumentReminders removes all remind commands for a document.
// Already-enqueued delivery jobs are not retracted; the delivery consumer
// re-checks command state before acting.
func (db *DB) DeleteDocumentReminders(ctx context.Context, tenantID, documentID uuid.UUID) error {
	const op = "storage.DeleteDocumentReminders"
	_, err := db.pool.Exec(ctx,
		`DELETE FROM document_commands
		 WHERE tenant_id = $1 AND document_id = $2 AND kind = $3`,
		tenantID, documentID, model.CommandKindRemind,
	)
	return classify("reminder", op, err)
}

// GetReminder returns a remind command by id, tenant-scoped.
func (db *DB) GetReminder(ctx context.Context, tenantID, id uuid.UUID) (model.DocumentCommand, error) {
	const op = "storage.GetReminder"
	row := db.pool.QueryRow(ctx,
		`SELECT `+commandColumns+` FROM document_commands
		 WHERE tenant_id = $1 AND id = $2 AND kind = $3`,
		tenantID, id, model.CommandKindRemind,
	)
	return scanCommand(row, op)
}

// UpdateReminderStatus transitions a remind command's status.
func (db *DB) UpdateReminderStatus(ctx context.Context, tenantID, id uuid.UUID, status model.ReminderStatus) error {
	const op = "storage.UpdateReminderStatus"
	tag, err := db.pool.Exec(ctx,
		`UPDATE document_commands
		 SET body = jsonb_set(body, '{status}', to_jsonb($3::text)), updated_at = now()
		 WHERE tenant_id = $1 AND id = $2 AND kind = $4`,
		tenantID, id, string(status), model.CommandKindRemind,
	)
	if err != nil {
		return classify("reminder", op, err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Errorf(apperr.NotFound, "reminder", op, "reminder %s not found", id)
	}
	return nil
}

func (db *DB) queryCommands(ctx context.Context, op, sql string, args ...any) ([]model.DocumentCommand, error) {
	rows, err := db.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, classify("reminder", op, err)
	}
	defer rows.Close()

	var out []model.DocumentCommand
	for rows.Next() {
		c, err := scanCommand(rows, op)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, classify("reminder", op, rows.Err())
}

func scanCommand(row pgx.Row, op string) (model.DocumentCommand, error) {
	var c model.DocumentCommand
	var bodyJSON []byte
	if err := row.Scan(
		&c.ID, &c.TenantID, &c.DocumentID, &c.UserID, &c.Kind, &bodyJSON,
		&c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return model.DocumentCommand{}, classify("reminder", op, err)
	}
	if err := json.Unmarshal(bodyJSON, &c.Body); err != nil {
		return model.DocumentCommand{}, apperr.E(apperr.Internal, "reminder", op, fmt.Errorf("decode body: %w", err))
	}
	return c, nil
}

func execCommandWrite(ctx context.Context, tx pgx.Tx, op, sql string, args ...any) error {
	if _, err := tx.Exec(ctx, sql, args...); err != nil {
		return classify("reminder", op, err)
	}
	return nil
}

func mustBody(b model.RemindBody) []byte {
	out, err := json.Marshal(b)
	if err != nil {
		// RemindBody contains only marshalable fields; failure is a bug.
		panic(fmt.Sprintf("storage: marshal remind body: %v", err))
	}
	return out
}

func equalTimes(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
