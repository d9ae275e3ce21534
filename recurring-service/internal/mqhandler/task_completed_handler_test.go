package mqhandler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	mqcontracts "taskloop/contracts/mq"
	"taskloop/recurring-service/internal/client"
	"taskloop/recurring-service/internal/service"
)

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

type fakeTaskAPI struct {
	rule         client.Rule
	getRuleErrs  []error
	getRuleCalls int
	created      map[string]int64
	nextID       int64
	advanced     []time.Time
}

func newFakeTaskAPI(rule client.Rule) *fakeTaskAPI {
	return &fakeTaskAPI{rule: rule, created: make(map[string]int64), nextID: 100}
}

func (f *fakeTaskAPI) GetRule(ctx context.Context, ruleID int64) (*client.Rule, error) {
	f.getRuleCalls++
	if len(f.getRuleErrs) > 0 {
		err := f.getRuleErrs[0]
		f.getRuleErrs = f.getRuleErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	r := f.rule
	return &r, nil
}

func (f *fakeTaskAPI) CreateTask(ctx context.Context, req client.CreateTaskRequest) (*client.CreatedTask, bool, error) {
	key := fmt.Sprintf("%d/%s", *req.ParentTaskID, req.DueDate.Format(time.RFC3339))
	if id, ok := f.created[key]; ok {
		return &client.CreatedTask{ID: id}, false, nil
	}
	f.nextID++
	f.created[key] = f.nextID
	return &client.CreatedTask{ID: f.nextID}, true, nil
}

func (f *fakeTaskAPI) AdvanceRule(ctx context.Context, ruleID int64, generatedDueDate time.Time) error {
	f.advanced = append(f.advanced, generatedDueDate)
	return nil
}

type fakeDLQ struct {
	messages []string
}

func (f *fakeDLQ) PublishToDLQ(routingKey, svc string, payload []byte, originalError string) error {
	f.messages = append(f.messages, originalError)
	return nil
}

func weeklyRule(ruleID int64) client.Rule {
	end := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	return client.Rule{
		ID:        ruleID,
		UserID:    1,
		Frequency: "weekly",
		Interval:  1,
		EndDate:   &end,
	}
}

func completedEvent(t *testing.T, taskID, ruleID int64, due time.Time) json.RawMessage {
	t.Helper()
	evt := mqcontracts.TaskCompletedEvent{
		EventMeta: mqcontracts.NewEventMeta(mqcontracts.TopicTaskCompleted, 1),
		Task: mqcontracts.TaskSnapshot{
			ID:               taskID,
			Title:            "water the plants",
			Priority:         "MEDIUM",
			DueDate:          &due,
			Completed:        true,
			IsRecurring:      true,
			RecurrenceRuleID: &ruleID,
		},
	}
	raw, err := json.Marshal(evt)
	require.NoError(t, err)
	return raw
}

func TestRedeliveryAfterTransientFailureIsProcessed(t *testing.T) {
	api := newFakeTaskAPI(weeklyRule(3))
	api.getRuleErrs = []error{fmt.Errorf("task service 5xx: 503")}
	ded := newMemDeduper()
	h := NewTaskCompletedHandler(service.NewCoordinator(api, zap.NewNop()), ded, nil, nil, zap.NewNop())

	raw := completedEvent(t, 7, 3, time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))

	// First delivery hits the transient failure and goes back to the broker.
	require.Error(t, h.Handle(context.Background(), raw))

	// The redelivered message carries the same event_id; it must reach the
	// coordinator again instead of being skipped as a duplicate.
	require.NoError(t, h.Handle(context.Background(), raw))
	assert.Equal(t, 2, api.getRuleCalls)
	assert.Len(t, api.created, 1)
	require.Len(t, api.advanced, 1)
	assert.Equal(t, time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC), api.advanced[0])
}

func TestDuplicateDeliveryAfterSuccessIsSkipped(t *testing.T) {
	api := newFakeTaskAPI(weeklyRule(3))
	ded := newMemDeduper()
	h := NewTaskCompletedHandler(service.NewCoordinator(api, zap.NewNop()), ded, nil, nil, zap.NewNop())

	raw := completedEvent(t, 7, 3, time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))

	require.NoError(t, h.Handle(context.Background(), raw))
	require.NoError(t, h.Handle(context.Background(), raw))
	assert.Equal(t, 1, api.getRuleCalls)
	assert.Len(t, api.created, 1)
}

func TestMalformedPayloadIsAckedToDLQ(t *testing.T) {
	api := newFakeTaskAPI(weeklyRule(3))
	dlq := &fakeDLQ{}
	h := NewTaskCompletedHandler(service.NewCoordinator(api, zap.NewNop()), newMemDeduper(), nil, dlq, zap.NewNop())

	// Broken bytes must be acked (nil), not requeued in a hot loop.
	require.NoError(t, h.Handle(context.Background(), json.RawMessage(`{"task": {"id": "nope"}`)))
	assert.Zero(t, api.getRuleCalls)
	require.Len(t, dlq.messages, 1)
	assert.Contains(t, dlq.messages[0], "json_unmarshal_error")
}
