package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	mqcontracts "taskloop/contracts/mq"
)

type fakeBroker struct {
	published []struct {
		routingKey string
		payload    any
	}
	err error
}

func (f *fakeBroker) Publish(routingKey string, payload any) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, struct {
		routingKey string
		payload    any
	}{routingKey, payload})
	return nil
}

func TestPublishSendsEnvelope(t *testing.T) {
	broker := &fakeBroker{}
	pub := NewPublisher(broker, zap.NewNop())

	evt := mqcontracts.TaskCompletedEvent{
		EventMeta: mqcontracts.NewEventMeta(mqcontracts.TopicTaskCompleted, 42),
		Task:      mqcontracts.TaskSnapshot{ID: 7, Title: "ship it"},
	}

	require.NoError(t, pub.Publish(context.Background(), mqcontracts.TopicTaskCompleted, evt))
	require.Len(t, broker.published, 1)
	assert.Equal(t, "task.completed", broker.published[0].routingKey)

	sent, ok := broker.published[0].payload.(mqcontracts.TaskCompletedEvent)
	require.True(t, ok)
	assert.NotEmpty(t, sent.EventID)
	assert.Equal(t, "task.completed", sent.EventType)
	assert.Equal(t, int64(42), sent.UserID)
	assert.False(t, sent.Timestamp.IsZero())
}

func TestPublishFreshEventIDPerCall(t *testing.T) {
	a := mqcontracts.NewEventMeta(mqcontracts.TopicTaskCompleted, 1)
	b := mqcontracts.NewEventMeta(mqcontracts.TopicTaskCompleted, 1)
	assert.NotEqual(t, a.EventID, b.EventID)
}

func TestPublishSurfacesBrokerError(t *testing.T) {
	broker := &fakeBroker{err: errors.New("broker down")}
	pub := NewPublisher(broker, zap.NewNop())

	err := pub.Publish(context.Background(), mqcontracts.TopicReminderScheduled, struct{}{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reminder.scheduled")
	assert.Contains(t, err.Error(), "broker down")
}
