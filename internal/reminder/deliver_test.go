package reminder

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchhub/searchhub/internal/model"
	"github.com/searchhub/searchhub/internal/queue"
	"github.com/searchhub/searchhub/internal/testutil"
)

type recordingNotifier struct {
	delivered []model.DocumentCommand
	err       error
}

func (n *recordingNotifier) Notify(_ context.Context, cmd model.DocumentCommand) error {
	if n.err != nil {
		return n.err
	}
	n.delivered = append(n.delivered, cmd)
	return nil
}

func deliverJob(t *testing.T, commandID, tenantID uuid.UUID) *queue.Job {
	t.Helper()
	payload, err := json.Marshal(DeliverPayload{
		CommandID: commandID.String(),
		TenantID:  tenantID.String(),
	})
	require.NoError(t, err)
	return &queue.Job{ID: ReminderJobID(commandID), Type: JobTypeDeliverReminder, Payload: payload}
}

func seedCommand(store *fakeStore, status model.ReminderStatus) model.DocumentCommand {
	cmd := model.DocumentCommand{
		ID:         uuid.New(),
		TenantID:   uuid.New(),
		DocumentID: uuid.New(),
		UserID:     uuid.New(),
		Kind:       model.CommandKindRemind,
		Body:       model.RemindBody{Status: status, WhenText: "now"},
	}
	store.commands[cmd.ID] = cmd
	return cmd
}

func TestDeliverFiresScheduledReminder(t *testing.T) {
	store := newFakeStore()
	cmd := seedCommand(store, model.ReminderScheduled)
	notifier := &recordingNotifier{}
	d := NewDeliverer(store, notifier, testutil.TestLogger())

	err := d.HandleDeliverJob(context.Background(), deliverJob(t, cmd.ID, cmd.TenantID))
	require.NoError(t, err)

	require.Len(t, notifier.delivered, 1)
	assert.Equal(t, cmd.ID, notifier.delivered[0].ID)

	got, err := store.GetReminder(context.Background(), cmd.TenantID, cmd.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReminderDone, got.Body.Status)
}

func TestDeliverSkipsDismissedReminder(t *testing.T) {
	store := newFakeStore()
	cmd := seedCommand(store, model.ReminderDismissed)
	notifier := &recordingNotifier{}
	d := NewDeliverer(store, notifier, testutil.TestLogger())

	// Dismissed between scheduling and firing: the job is a no-op.
	err := d.HandleDeliverJob(context.Background(), deliverJob(t, cmd.ID, cmd.TenantID))
	require.NoError(t, err)
	assert.Empty(t, notifier.delivered)

	got, err := store.GetReminder(context.Background(), cmd.TenantID, cmd.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReminderDismissed, got.Body.Status)
}

func TestDeliverDropsWhenCommandGone(t *testing.T) {
	store := newFakeStore()
	notifier := &recordingNotifier{}
	d := NewDeliverer(store, notifier, testutil.TestLogger())

	err := d.HandleDeliverJob(context.Background(), deliverJob(t, uuid.New(), uuid.New()))
	require.NoError(t, err)
	assert.Empty(t, notifier.delivered)
}

func TestDeliverDropsMalformedPayload(t *testing.T) {
	store := newFakeStore()
	notifier := &recordingNotifier{}
	d := NewDeliverer(store, notifier, testutil.TestLogger())

	err := d.HandleDeliverJob(context.Background(), &queue.Job{ID: "bad", Payload: []byte("{broken")})
	require.NoError(t, err)

	err = d.HandleDeliverJob(context.Background(), &queue.Job{
		ID:      "bad2",
		Payload: []byte(`{"commandId":"nope","tenantId":"nope"}`),
	})
	require.NoError(t, err)
	assert.Empty(t, notifier.delivered)
}

func TestDeliverNotifyFailureRetries(t *testing.T) {
	store := newFakeStore()
	cmd := seedCommand(store, model.ReminderScheduled)
	notifier := &recordingNotifier{err: errors.New("transport down")}
	d := NewDeliverer(store, notifier, testutil.TestLogger())

	err := d.HandleDeliverJob(context.Background(), deliverJob(t, cmd.ID, cmd.TenantID))
	require.Error(t, err)

	// Status untouched so the retry can still fire it.
	got, err := store.GetReminder(context.Background(), cmd.TenantID, cmd.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReminderScheduled, got.Body.Status)
}
