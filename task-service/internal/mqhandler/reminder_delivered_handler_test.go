package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	mqcontracts "taskloop/contracts/mq"
)

type fakeOutcomeRecorder struct {
	calls []struct {
		reminderID int64
		status     string
	}
	errs []error
}

func (f *fakeOutcomeRecorder) MarkReminderOutcome(ctx context.Context, reminderID int64, status string) error {
	f.calls = append(f.calls, struct {
		reminderID int64
		status     string
	}{reminderID, status})
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return err
	}
	return nil
}

type memDeduper struct {
	seen map[string]bool
}

func newMemDeduper() *memDeduper {
	return &memDeduper{seen: make(map[string]bool)}
}

func (m *memDeduper) AcquireOnce(ctx context.Context, handler, key string) bool {
	k := handler + ":" + key
	if m.seen[k] {
		return false
	}
	m.seen[k] = true
	return true
}

func (m *memDeduper) Release(ctx context.Context, handler, key string) {
	delete(m.seen, handler+":"+key)
}

func deliveredEvent(t *testing.T, status string, attempt int) json.RawMessage {
	t.Helper()
	evt := mqcontracts.ReminderDeliveredEvent{
		EventMeta:      mqcontracts.NewEventMeta(mqcontracts.TopicReminderDelivered, 1),
		ReminderID:     42,
		TaskID:         7,
		DeliveryStatus: status,
		AttemptNumber:  attempt,
	}
	raw, err := json.Marshal(evt)
	require.NoError(t, err)
	return raw
}

func TestHandleRecordsSentOutcome(t *testing.T) {
	rec := &fakeOutcomeRecorder{}
	h := NewReminderDeliveredHandler(rec, nil, zap.NewNop())

	require.NoError(t, h.Handle(context.Background(), deliveredEvent(t, mqcontracts.DeliveryStatusSent, 1)))
	require.Len(t, rec.calls, 1)
	assert.Equal(t, int64(42), rec.calls[0].reminderID)
	assert.Equal(t, "sent", rec.calls[0].status)
}

func TestHandleRecordsFailedOutcome(t *testing.T) {
	rec := &fakeOutcomeRecorder{}
	h := NewReminderDeliveredHandler(rec, nil, zap.NewNop())

	require.NoError(t, h.Handle(context.Background(), deliveredEvent(t, mqcontracts.DeliveryStatusFailed, 3)))
	require.Len(t, rec.calls, 1)
	assert.Equal(t, "failed", rec.calls[0].status)
}

func TestHandleDropsUnknownStatus(t *testing.T) {
	rec := &fakeOutcomeRecorder{}
	h := NewReminderDeliveredHandler(rec, nil, zap.NewNop())

	require.NoError(t, h.Handle(context.Background(), deliveredEvent(t, "bounced", 1)))
	assert.Empty(t, rec.calls)
}

func TestHandleDropsMalformedPayload(t *testing.T) {
	rec := &fakeOutcomeRecorder{}
	h := NewReminderDeliveredHandler(rec, nil, zap.NewNop())

	// Broken bytes are acked and dropped: an error here would make the
	// consumer requeue the same unparseable payload forever.
	require.NoError(t, h.Handle(context.Background(), json.RawMessage(`{"reminder_id": "not-a-number"}`)))
	assert.Empty(t, rec.calls)
}

func TestRedeliveryAfterTransientRecordFailure(t *testing.T) {
	rec := &fakeOutcomeRecorder{errs: []error{errors.New("dial tcp 10.0.0.5:5432: i/o timeout")}}
	h := NewReminderDeliveredHandler(rec, newMemDeduper(), zap.NewNop())

	raw := deliveredEvent(t, mqcontracts.DeliveryStatusSent, 1)

	// First delivery fails on the write and goes back to the broker; the
	// redelivery carries the same event_id and must still record the outcome.
	require.Error(t, h.Handle(context.Background(), raw))
	require.NoError(t, h.Handle(context.Background(), raw))
	require.Len(t, rec.calls, 2)
	assert.Equal(t, "sent", rec.calls[1].status)
}

func TestHandleDropsOutcomeForMissingReminder(t *testing.T) {
	rec := &fakeOutcomeRecorder{errs: []error{pgx.ErrNoRows}}
	h := NewReminderDeliveredHandler(rec, newMemDeduper(), zap.NewNop())

	// The reminder row is gone; redelivery cannot bring it back.
	require.NoError(t, h.Handle(context.Background(), deliveredEvent(t, mqcontracts.DeliveryStatusSent, 1)))
	require.Len(t, rec.calls, 1)
}
