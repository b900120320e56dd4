package model

import (
	"time"

	"github.com/google/uuid"
)

// ReminderStatus is the lifecycle state of a reminder command.
type ReminderStatus string

const (
	// ReminderScheduled: the reminder is active and has (or will get) a
	// delivery job in the queue.
	ReminderScheduled ReminderStatus = "scheduled"
	// ReminderDone: the reminder fired or was dismissed by its author.
	ReminderDone ReminderStatus = "done"
	// ReminderDismissed: the directive disappeared from document content.
	ReminderDismissed ReminderStatus = "dismissed"
)

// Terminal reports whether the status is a terminal state.
func (s ReminderStatus) Terminal() bool {
	return s == ReminderDone || s == ReminderDismissed
}

// RemindBody is the structured payload of a remind command.
type RemindBody struct {
	Status   ReminderStatus `json:"status"`
	WhenText string         `json:"when_text"`
	// WhenISO is the resolved absolute target time, or nil when the
	// human text could not be resolved. Unresolved reminders are stored
	// but never scheduled.
	WhenISO *time.Time `json:"when_iso,omitempty"`
}

// CommandKindRemind is the only command kind the pipeline owns.
const CommandKindRemind = "remind"

// DocumentCommand is a structured command extracted from document content.
// Belongs to exactly one document and one authoring user.
type DocumentCommand struct {
	ID         uuid.UUID  `json:"id"`
	TenantID   uuid.UUID  `json:"tenant_id"`
	DocumentID uuid.UUID  `json:"document_id"`
	UserID     uuid.UUID  `json:"user_id"`
	Kind       string     `json:"kind"`
	Body       RemindBody `json:"body"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// RemindPayload is an extracted reminder directive before persistence.
// Identity is assigned by storage when the payload is first synced.
type RemindPayload struct {
	Status   ReminderStatus `json:"status"`
	WhenText string         `json:"when_text"`
	WhenISO  *time.Time     `json:"when_iso,omitempty"`
}
