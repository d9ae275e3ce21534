package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	mqcontracts "taskloop/contracts/mq"
	"taskloop/notification-service/internal/repository"
)

type fakeSender struct {
	mu       sync.Mutex
	errs     []error // error per attempt, nil = success
	sent     []string
	subjects []string
}

func (f *fakeSender) Send(to, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	attempt := len(f.sent)
	f.sent = append(f.sent, to)
	f.subjects = append(f.subjects, subject)
	if attempt < len(f.errs) {
		return f.errs[attempt]
	}
	return nil
}

func (f *fakeSender) attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeStore struct {
	mu       sync.Mutex
	attempts []repository.DeliveryAttempt
}

func (f *fakeStore) RecordAttempt(ctx context.Context, a *repository.DeliveryAttempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, *a)
	return nil
}

func (f *fakeStore) HasSuccessfulDelivery(ctx context.Context, reminderID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.attempts {
		if a.ReminderID == reminderID && a.Status == "success" {
			return true, nil
		}
	}
	return false, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []mqcontracts.ReminderDeliveredEvent
}

func (f *fakePublisher) Publish(ctx context.Context, routingKey string, event any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	evt, ok := event.(mqcontracts.ReminderDeliveredEvent)
	if !ok {
		return errors.New("unexpected event type")
	}
	f.events = append(f.events, evt)
	return nil
}

func (f *fakePublisher) published() []mqcontracts.ReminderDeliveredEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]mqcontracts.ReminderDeliveredEvent, len(f.events))
	copy(out, f.events)
	return out
}

var testDelays = []time.Duration{0, time.Millisecond, time.Millisecond}

func testReminder() mqcontracts.ReminderInfo {
	return mqcontracts.ReminderInfo{
		ID:            42,
		TaskID:        7,
		TaskTitle:     "water the plants",
		ScheduledTime: time.Date(2026, 3, 10, 8, 45, 0, 0, time.UTC),
		ReminderType:  "15min",
		UserEmail:     "user@example.com",
	}
}

func TestDeliverySucceedsFirstAttempt(t *testing.T) {
	sender := &fakeSender{}
	store := &fakeStore{}
	pub := &fakePublisher{}
	w := NewDeliveryWorker(sender, store, pub, testDelays, zap.NewNop())

	w.Dispatch(testReminder(), 3)
	w.Stop()

	assert.Equal(t, 1, sender.attempts())
	assert.Equal(t, []string{"user@example.com"}, sender.sent)
	assert.Contains(t, sender.subjects[0], "water the plants")

	events := pub.published()
	require.Len(t, events, 1)
	assert.Equal(t, mqcontracts.DeliveryStatusSent, events[0].DeliveryStatus)
	assert.Equal(t, 1, events[0].AttemptNumber)
	assert.Equal(t, int64(42), events[0].ReminderID)
	assert.Equal(t, int64(3), events[0].UserID)
}

func TestDeliverySucceedsOnSecondAttempt(t *testing.T) {
	sender := &fakeSender{errs: []error{errors.New("smtp send failed: connection refused")}}
	store := &fakeStore{}
	pub := &fakePublisher{}
	w := NewDeliveryWorker(sender, store, pub, testDelays, zap.NewNop())

	w.Dispatch(testReminder(), 3)
	w.Stop()

	// Second attempt succeeded, so no third send.
	assert.Equal(t, 2, sender.attempts())

	events := pub.published()
	require.Len(t, events, 1)
	assert.Equal(t, mqcontracts.DeliveryStatusSent, events[0].DeliveryStatus)
	assert.Equal(t, 2, events[0].AttemptNumber)

	require.Len(t, store.attempts, 2)
	assert.Equal(t, "failed", store.attempts[0].Status)
	assert.Equal(t, "success", store.attempts[1].Status)
}

func TestDeliveryFailsAfterAllAttempts(t *testing.T) {
	sendErr := errors.New("smtp send failed: mailbox unavailable")
	sender := &fakeSender{errs: []error{sendErr, sendErr, sendErr}}
	store := &fakeStore{}
	pub := &fakePublisher{}
	w := NewDeliveryWorker(sender, store, pub, testDelays, zap.NewNop())

	w.Dispatch(testReminder(), 3)
	w.Stop()

	assert.Equal(t, 3, sender.attempts())

	events := pub.published()
	require.Len(t, events, 1)
	assert.Equal(t, mqcontracts.DeliveryStatusFailed, events[0].DeliveryStatus)
	assert.Equal(t, 3, events[0].AttemptNumber)
	assert.Contains(t, events[0].ErrorMessage, "mailbox unavailable")

	require.Len(t, store.attempts, 3)
	for i, a := range store.attempts {
		assert.Equal(t, i+1, a.AttemptNumber)
		assert.Equal(t, "failed", a.Status)
	}
}

func TestStopAbandonsPendingRetries(t *testing.T) {
	sendErr := errors.New("smtp send failed: connection refused")
	sender := &fakeSender{errs: []error{sendErr, sendErr, sendErr}}
	store := &fakeStore{}
	pub := &fakePublisher{}
	// Long retry delay: Stop must cut it short instead of waiting it out.
	w := NewDeliveryWorker(sender, store, pub, []time.Duration{0, time.Hour}, zap.NewNop())

	w.Dispatch(testReminder(), 3)

	require.Eventually(t, func() bool { return sender.attempts() == 1 }, time.Second, time.Millisecond)

	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return while a retry delay was pending")
	}

	// No terminal event: the reminder was neither sent nor exhausted.
	assert.Equal(t, 1, sender.attempts())
	assert.Empty(t, pub.published())
}

func TestConcurrentDeliveriesDoNotBlockEachOther(t *testing.T) {
	sender := &fakeSender{}
	store := &fakeStore{}
	pub := &fakePublisher{}
	w := NewDeliveryWorker(sender, store, pub, []time.Duration{0}, zap.NewNop())

	for i := int64(1); i <= 10; i++ {
		rem := testReminder()
		rem.ID = i
		w.Dispatch(rem, i)
	}
	w.Stop()

	assert.Equal(t, 10, sender.attempts())
	assert.Len(t, pub.published(), 10)
}
