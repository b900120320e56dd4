package reminder

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchhub/searchhub/internal/apperr"
	"github.com/searchhub/searchhub/internal/ctxutil"
	"github.com/searchhub/searchhub/internal/model"
	"github.com/searchhub/searchhub/internal/queue"
	"github.com/searchhub/searchhub/internal/testutil"
)

// fakeStore mirrors the storage layer's reminder reconciliation semantics:
// commands match on when-text, existing ids are preserved across syncs,
// vanished scheduled commands are dismissed.
type fakeStore struct {
	docs     map[uuid.UUID]model.Document
	commands map[uuid.UUID]model.DocumentCommand
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		docs:     make(map[uuid.UUID]model.Document),
		commands: make(map[uuid.UUID]model.DocumentCommand),
	}
}

func (f *fakeStore) GetDocument(_ context.Context, tenantID, documentID uuid.UUID) (model.Document, error) {
	doc, ok := f.docs[documentID]
	if !ok || doc.TenantID != tenantID {
		return model.Document{}, apperr.Errorf(apperr.NotFound, "document", "test", "not found")
	}
	return doc, nil
}

func (f *fakeStore) SyncDocumentReminders(_ context.Context, tenantID, documentID, userID uuid.UUID, payloads []model.RemindPayload) error {
	seen := make(map[string]bool)
	for _, p := range payloads {
		seen[p.WhenText] = true
		var existing *model.DocumentCommand
		for id, cmd := range f.commands {
			if cmd.DocumentID == documentID && cmd.Body.WhenText == p.WhenText {
				c := f.commands[id]
				existing = &c
				break
			}
		}
		if existing == nil {
			id := uuid.New()
			f.commands[id] = model.DocumentCommand{
				ID: id, TenantID: tenantID, DocumentID: documentID, UserID: userID,
				Kind: model.CommandKindRemind,
				Body: model.RemindBody{Status: model.ReminderScheduled, WhenText: p.WhenText, WhenISO: p.WhenISO},
			}
			continue
		}
		if !existing.Body.Status.Terminal() {
			existing.Body.WhenISO = p.WhenISO
			f.commands[existing.ID] = *existing
		}
	}
	for id, cmd := range f.commands {
		if cmd.DocumentID == documentID && cmd.Body.Status == model.ReminderScheduled && !seen[cmd.Body.WhenText] {
			cmd.Body.Status = model.ReminderDismissed
			f.commands[id] = cmd
		}
	}
	return nil
}

func (f *fakeStore) GetUserReminders(_ context.Context, tenantID, userID uuid.UUID) ([]model.DocumentCommand, error) {
	var out []model.DocumentCommand
	for _, cmd := range f.commands {
		if cmd.TenantID == tenantID && cmd.UserID == userID {
			out = append(out, cmd)
		}
	}
	return out, nil
}

func (f *fakeStore) GetReminder(_ context.Context, tenantID, id uuid.UUID) (model.DocumentCommand, error) {
	cmd, ok := f.commands[id]
	if !ok || cmd.TenantID != tenantID {
		return model.DocumentCommand{}, apperr.Errorf(apperr.NotFound, "command", "test", "not found")
	}
	return cmd, nil
}

func (f *fakeStore) UpdateReminderStatus(_ context.Context, tenantID, id uuid.UUID, status model.ReminderStatus) error {
	cmd, ok := f.commands[id]
	if !ok || cmd.TenantID != tenantID {
		return apperr.Errorf(apperr.NotFound, "command", "test", "not found")
	}
	cmd.Body.Status = status
	f.commands[id] = cmd
	return nil
}

func (f *fakeStore) ListTenantReminders(_ context.Context, tenantID uuid.UUID, _ int) ([]model.DocumentCommand, error) {
	var out []model.DocumentCommand
	for _, cmd := range f.commands {
		if cmd.TenantID == tenantID {
			out = append(out, cmd)
		}
	}
	return out, nil
}

func (f *fakeStore) ListDocumentReminders(_ context.Context, tenantID, documentID uuid.UUID) ([]model.DocumentCommand, error) {
	var out []model.DocumentCommand
	for _, cmd := range f.commands {
		if cmd.TenantID == tenantID && cmd.DocumentID == documentID {
			out = append(out, cmd)
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteDocumentReminders(_ context.Context, tenantID, documentID uuid.UUID) error {
	for id, cmd := range f.commands {
		if cmd.TenantID == tenantID && cmd.DocumentID == documentID {
			delete(f.commands, id)
		}
	}
	return nil
}

func (f *fakeStore) commandByText(documentID uuid.UUID, whenText string) (model.DocumentCommand, bool) {
	for _, cmd := range f.commands {
		if cmd.DocumentID == documentID && cmd.Body.WhenText == whenText {
			return cmd, true
		}
	}
	return model.DocumentCommand{}, false
}

type schedulerFixture struct {
	store *fakeStore
	q     *queue.MemoryQueue
	s     *Scheduler

	tenantID   uuid.UUID
	documentID uuid.UUID
	principal  ctxutil.Principal
}

func newSchedulerFixture(t *testing.T) *schedulerFixture {
	t.Helper()
	store := newFakeStore()
	q := queue.NewMemoryQueue("reminders")

	tenantID := uuid.New()
	documentID := uuid.New()
	userID := uuid.New()
	store.docs[documentID] = model.Document{ID: documentID, TenantID: tenantID}

	return &schedulerFixture{
		store:      store,
		q:          q,
		s:          NewScheduler(store, q, testutil.TestLogger()),
		tenantID:   tenantID,
		documentID: documentID,
		principal:  ctxutil.Principal{UserID: userID, TenantID: tenantID, Role: model.RoleEditor},
	}
}

func TestSyncSchedulesResolvedReminder(t *testing.T) {
	fx := newSchedulerFixture(t)
	ctx := context.Background()

	now := time.Now()
	fx.s.now = func() time.Time { return now }
	when := now.Add(2 * time.Hour).UTC()

	err := fx.s.SyncDocumentReminders(ctx, fx.documentID, fx.principal, []model.RemindPayload{
		{Status: model.ReminderScheduled, WhenText: "in two hours", WhenISO: &when},
	})
	require.NoError(t, err)

	cmd, ok := fx.store.commandByText(fx.documentID, "in two hours")
	require.True(t, ok)

	snaps := fx.q.Snapshots()
	require.Len(t, snaps, 1)
	snap, ok := snaps[ReminderJobID(cmd.ID)]
	require.True(t, ok)
	assert.Equal(t, JobTypeDeliverReminder, snap.Type)
	assert.WithinDuration(t, when, snap.RunAt, time.Second)
}

func TestSyncDoesNotScheduleUnresolvedReminder(t *testing.T) {
	fx := newSchedulerFixture(t)
	ctx := context.Background()

	err := fx.s.SyncDocumentReminders(ctx, fx.documentID, fx.principal, []model.RemindPayload{
		{Status: model.ReminderScheduled, WhenText: "after the launch"},
	})
	require.NoError(t, err)

	// Stored but never queued.
	_, ok := fx.store.commandByText(fx.documentID, "after the launch")
	assert.True(t, ok)
	assert.Empty(t, fx.q.Snapshots())
}

func TestSyncPastTimeSchedulesImmediately(t *testing.T) {
	fx := newSchedulerFixture(t)
	ctx := context.Background()

	when := time.Now().Add(-time.Hour).UTC()
	err := fx.s.SyncDocumentReminders(ctx, fx.documentID, fx.principal, []model.RemindPayload{
		{Status: model.ReminderScheduled, WhenText: "overdue", WhenISO: &when},
	})
	require.NoError(t, err)

	job, err := fx.q.Reserve(ctx, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job)
}

func TestResyncSupersedesPendingDelivery(t *testing.T) {
	fx := newSchedulerFixture(t)
	ctx := context.Background()

	now := time.Now()
	fx.s.now = func() time.Time { return now }

	first := now.Add(time.Hour).UTC()
	err := fx.s.SyncDocumentReminders(ctx, fx.documentID, fx.principal, []model.RemindPayload{
		{Status: model.ReminderScheduled, WhenText: "review", WhenISO: &first},
	})
	require.NoError(t, err)

	// Same directive text, new target time: the command id is stable, so
	// the pending delivery job is replaced rather than duplicated.
	second := now.Add(3 * time.Hour).UTC()
	err = fx.s.SyncDocumentReminders(ctx, fx.documentID, fx.principal, []model.RemindPayload{
		{Status: model.ReminderScheduled, WhenText: "review", WhenISO: &second},
	})
	require.NoError(t, err)

	cmd, ok := fx.store.commandByText(fx.documentID, "review")
	require.True(t, ok)

	snaps := fx.q.Snapshots()
	require.Len(t, snaps, 1)
	assert.WithinDuration(t, second, snaps[ReminderJobID(cmd.ID)].RunAt, time.Second)
}

func TestSyncDismissesVanishedReminder(t *testing.T) {
	fx := newSchedulerFixture(t)
	ctx := context.Background()

	err := fx.s.SyncDocumentReminders(ctx, fx.documentID, fx.principal, []model.RemindPayload{
		{Status: model.ReminderScheduled, WhenText: "gone soon"},
	})
	require.NoError(t, err)

	err = fx.s.SyncDocumentReminders(ctx, fx.documentID, fx.principal, nil)
	require.NoError(t, err)

	cmd, ok := fx.store.commandByText(fx.documentID, "gone soon")
	require.True(t, ok)
	assert.Equal(t, model.ReminderDismissed, cmd.Body.Status)
}

func TestSyncCrossTenantDocumentNotFound(t *testing.T) {
	fx := newSchedulerFixture(t)
	ctx := context.Background()

	other := ctxutil.Principal{UserID: uuid.New(), TenantID: uuid.New(), Role: model.RoleEditor}
	err := fx.s.SyncDocumentReminders(ctx, fx.documentID, other, nil)
	require.Error(t, err)
	assert.True(t, apperr.IsNotFound(err))
	assert.Empty(t, fx.q.Snapshots())
}

func TestDismissReminderAuthorOnly(t *testing.T) {
	fx := newSchedulerFixture(t)
	ctx := context.Background()

	err := fx.s.SyncDocumentReminders(ctx, fx.documentID, fx.principal, []model.RemindPayload{
		{Status: model.ReminderScheduled, WhenText: "mine"},
	})
	require.NoError(t, err)
	cmd, ok := fx.store.commandByText(fx.documentID, "mine")
	require.True(t, ok)

	// Another member of the same tenant may not dismiss.
	stranger := ctxutil.Principal{UserID: uuid.New(), TenantID: fx.tenantID, Role: model.RoleAdmin}
	err = fx.s.DismissReminder(ctx, cmd.ID, stranger)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.Authorization))

	require.NoError(t, fx.s.DismissReminder(ctx, cmd.ID, fx.principal))
	got, err := fx.store.GetReminder(ctx, fx.tenantID, cmd.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReminderDone, got.Body.Status)
}

func TestDeleteDocumentRemindersRequiresEditor(t *testing.T) {
	fx := newSchedulerFixture(t)
	ctx := context.Background()

	err := fx.s.SyncDocumentReminders(ctx, fx.documentID, fx.principal, []model.RemindPayload{
		{Status: model.ReminderScheduled, WhenText: "to delete"},
	})
	require.NoError(t, err)

	viewer := ctxutil.Principal{UserID: uuid.New(), TenantID: fx.tenantID, Role: model.RoleViewer}
	err = fx.s.DeleteDocumentReminders(ctx, viewer, fx.documentID)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.Authorization))

	require.NoError(t, fx.s.DeleteDocumentReminders(ctx, fx.principal, fx.documentID))
	_, ok := fx.store.commandByText(fx.documentID, "to delete")
	assert.False(t, ok)
}
