package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	mqcontracts "taskloop/contracts/mq"
	"taskloop/notification-service/internal/repository"
	"taskloop/notification-service/internal/service"
)

type noopSender struct {
	mu   sync.Mutex
	sent int
}

func (n *noopSender) Send(to, subject, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent++
	return nil
}

type memStore struct {
	mu       sync.Mutex
	attempts []repository.DeliveryAttempt
}

func (m *memStore) RecordAttempt(ctx context.Context, a *repository.DeliveryAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, *a)
	return nil
}

func (m *memStore) HasSuccessfulDelivery(ctx context.Context, reminderID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.attempts {
		if a.ReminderID == reminderID && a.Status == "success" {
			return true, nil
		}
	}
	return false, nil
}

type noopPublisher struct{}

func (noopPublisher) Publish(ctx context.Context, routingKey string, event any) error { return nil }

type memDeduper struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMemDeduper() *memDeduper {
	return &memDeduper{seen: make(map[string]bool)}
}

func (m *memDeduper) AcquireOnce(ctx context.Context, handler, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := handler + ":" + key
	if m.seen[k] {
		return false
	}
	m.seen[k] = true
	return true
}

func (m *memDeduper) Release(ctx context.Context, handler, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, handler+":"+key)
}

// flakyStore fails the delivery-history check a configured number of times
// before behaving like memStore.
type flakyStore struct {
	memStore
	checkErrs []error
}

func (f *flakyStore) HasSuccessfulDelivery(ctx context.Context, reminderID int64) (bool, error) {
	if len(f.checkErrs) > 0 {
		err := f.checkErrs[0]
		f.checkErrs = f.checkErrs[1:]
		return false, err
	}
	return f.memStore.HasSuccessfulDelivery(ctx, reminderID)
}

func newHandlerForTest(store service.AttemptStore, sender service.EmailSender) (*ReminderScheduledHandler, *service.DeliveryWorker) {
	worker := service.NewDeliveryWorker(sender, store, noopPublisher{}, []time.Duration{0}, zap.NewNop())
	return NewReminderScheduledHandler(worker, store, nil, zap.NewNop()), worker
}

func scheduledEvent(t *testing.T, reminderID int64, email string) json.RawMessage {
	t.Helper()
	evt := mqcontracts.ReminderScheduledEvent{
		EventMeta: mqcontracts.NewEventMeta(mqcontracts.TopicReminderScheduled, 1),
		Reminder: mqcontracts.ReminderInfo{
			ID:            reminderID,
			TaskID:        7,
			TaskTitle:     "water the plants",
			ScheduledTime: time.Date(2026, 3, 10, 8, 45, 0, 0, time.UTC),
			ReminderType:  "15min",
			UserEmail:     email,
		},
	}
	raw, err := json.Marshal(evt)
	require.NoError(t, err)
	return raw
}

func TestHandleDispatchesDelivery(t *testing.T) {
	sender := &noopSender{}
	store := &memStore{}
	h, worker := newHandlerForTest(store, sender)

	require.NoError(t, h.Handle(context.Background(), scheduledEvent(t, 42, "user@example.com")))
	worker.Stop()

	assert.Equal(t, 1, sender.sent)
	require.Len(t, store.attempts, 1)
	assert.Equal(t, "success", store.attempts[0].Status)
}

func TestHandleDropsMalformedJSON(t *testing.T) {
	sender := &noopSender{}
	h, worker := newHandlerForTest(&memStore{}, sender)
	defer worker.Stop()

	// Broken bytes are acked and dropped: an error here would make the
	// consumer requeue the same unparseable payload forever.
	require.NoError(t, h.Handle(context.Background(), json.RawMessage(`{"reminder": {"id": "nope"}}`)))
	assert.Zero(t, sender.sent)
}

func TestRedeliveryAfterTransientCheckFailure(t *testing.T) {
	sender := &noopSender{}
	store := &flakyStore{checkErrs: []error{errors.New("dial tcp 10.0.0.5:5432: i/o timeout")}}
	worker := service.NewDeliveryWorker(sender, store, noopPublisher{}, []time.Duration{0}, zap.NewNop())
	h := NewReminderScheduledHandler(worker, store, newMemDeduper(), zap.NewNop())

	raw := scheduledEvent(t, 42, "user@example.com")

	// First delivery fails on the history check and goes back to the broker.
	require.Error(t, h.Handle(context.Background(), raw))
	assert.Zero(t, sender.sent)

	// The redelivery carries the same event_id and must still be dispatched.
	require.NoError(t, h.Handle(context.Background(), raw))
	worker.Stop()
	assert.Equal(t, 1, sender.sent)
}

func TestHandleDropsEventWithoutRecipient(t *testing.T) {
	sender := &noopSender{}
	h, worker := newHandlerForTest(&memStore{}, sender)
	defer worker.Stop()

	// Missing email: dropping beats requeueing a payload that can never send.
	require.NoError(t, h.Handle(context.Background(), scheduledEvent(t, 42, "")))
	assert.Zero(t, sender.sent)
}

func TestHandleSkipsAlreadyDeliveredReminder(t *testing.T) {
	sender := &noopSender{}
	store := &memStore{}
	store.attempts = append(store.attempts, repository.DeliveryAttempt{
		ReminderID:    42,
		AttemptNumber: 1,
		Status:        "success",
	})
	h, worker := newHandlerForTest(store, sender)
	defer worker.Stop()

	require.NoError(t, h.Handle(context.Background(), scheduledEvent(t, 42, "user@example.com")))
	assert.Zero(t, sender.sent)
}
