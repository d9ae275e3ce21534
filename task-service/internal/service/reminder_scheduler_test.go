package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"taskloop/pkg/scheduler"
	"taskloop/task-service/internal/model"
)

type fakeJobs struct {
	scheduled map[string]scheduler.JobRequest
	deleted   []string
	err       error
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{scheduled: map[string]scheduler.JobRequest{}}
}

func (f *fakeJobs) ScheduleJob(ctx context.Context, name string, job scheduler.JobRequest) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.scheduled[name] = job
	return name, nil
}

func (f *fakeJobs) DeleteJob(ctx context.Context, name string) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, name)
	return nil
}

func TestResolveScheduledTime(t *testing.T) {
	due := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	custom := time.Date(2026, 3, 9, 20, 30, 0, 0, time.UTC)

	tests := []struct {
		name         string
		reminderType string
		dueDate      *time.Time
		customTime   *time.Time
		want         time.Time
		wantErr      error
	}{
		{"15min before due", model.ReminderType15Min, &due, nil, due.Add(-15 * time.Minute), nil},
		{"1hr before due", model.ReminderType1Hr, &due, nil, due.Add(-time.Hour), nil},
		{"1day before due", model.ReminderType1Day, &due, nil, due.AddDate(0, 0, -1), nil},
		{"1week before due", model.ReminderType1Week, &due, nil, due.AddDate(0, 0, -7), nil},
		{"custom uses explicit time", model.ReminderTypeCustom, &due, &custom, custom, nil},
		{"custom without time", model.ReminderTypeCustom, &due, nil, time.Time{}, ErrCustomTimeRequired},
		{"offset without due date", model.ReminderType1Hr, nil, nil, time.Time{}, ErrReminderNeedsDueDate},
		{"unknown type", "30min", &due, nil, time.Time{}, ErrUnknownReminderType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveScheduledTime(tt.reminderType, tt.dueDate, tt.customTime)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(tt.want), "got %v, want %v", got, tt.want)
		})
	}
}

func TestScheduleRegistersOneShotJob(t *testing.T) {
	jobs := newFakeJobs()
	s := NewReminderScheduler(jobs, "http://task-service:8081", zap.NewNop())
	s.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	rem := &model.Reminder{
		ID:            42,
		TaskID:        7,
		UserID:        3,
		ScheduledTime: time.Date(2026, 3, 10, 8, 45, 0, 0, time.UTC),
		ReminderType:  model.ReminderType15Min,
	}

	jobID, err := s.Schedule(context.Background(), rem)
	require.NoError(t, err)
	assert.Equal(t, "reminder-42", jobID)

	job, ok := jobs.scheduled["reminder-42"]
	require.True(t, ok)
	assert.Equal(t, "2026-03-10T08:45:00Z", job.Schedule)
	assert.Equal(t, "http://task-service:8081/internal/reminders/trigger", job.CallbackURL)

	var data reminderCallbackData
	require.NoError(t, json.Unmarshal(job.Data, &data))
	assert.Equal(t, int64(7), data.TaskID)
	assert.Equal(t, int64(42), data.ReminderID)
	assert.Equal(t, int64(3), data.UserID)
}

func TestScheduleRejectsPastTime(t *testing.T) {
	jobs := newFakeJobs()
	s := NewReminderScheduler(jobs, "http://task-service:8081", zap.NewNop())
	s.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	rem := &model.Reminder{
		ID:            1,
		ScheduledTime: time.Date(2026, 2, 28, 12, 0, 0, 0, time.UTC),
	}
	_, err := s.Schedule(context.Background(), rem)
	require.ErrorIs(t, err, ErrScheduledTimeInPast)
	assert.Empty(t, jobs.scheduled)
}

func TestScheduleIsIdempotentPerReminder(t *testing.T) {
	jobs := newFakeJobs()
	s := NewReminderScheduler(jobs, "http://task-service:8081", zap.NewNop())
	s.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	rem := &model.Reminder{
		ID:            9,
		ScheduledTime: time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC),
	}
	_, err := s.Schedule(context.Background(), rem)
	require.NoError(t, err)

	rem.ScheduledTime = time.Date(2026, 3, 6, 10, 0, 0, 0, time.UTC)
	_, err = s.Schedule(context.Background(), rem)
	require.NoError(t, err)

	// Same name, so the second registration overwrote the first.
	require.Len(t, jobs.scheduled, 1)
	assert.Equal(t, "2026-03-06T10:00:00Z", jobs.scheduled["reminder-9"].Schedule)
}

func TestScheduleSurfacesSchedulerError(t *testing.T) {
	jobs := newFakeJobs()
	jobs.err = errors.New("scheduler 5xx: 503")
	s := NewReminderScheduler(jobs, "http://task-service:8081", zap.NewNop())
	s.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	rem := &model.Reminder{
		ID:            5,
		ScheduledTime: time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC),
	}
	_, err := s.Schedule(context.Background(), rem)
	require.Error(t, err)
}

func TestRecurringSafetyNetJob(t *testing.T) {
	jobs := newFakeJobs()
	s := NewReminderScheduler(jobs, "http://task-service:8081", zap.NewNop())

	due := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	task := &model.Task{ID: 11, UserID: 2, DueDate: &due, IsRecurring: true}

	jobID, err := s.ScheduleRecurringSafetyNet(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, "recurring-11", jobID)

	job := jobs.scheduled["recurring-11"]
	assert.Equal(t, "2026-04-01T09:00:00Z", job.Schedule)
	assert.Equal(t, "http://task-service:8081/internal/recurring/generate", job.CallbackURL)

	require.NoError(t, s.CancelRecurringSafetyNet(context.Background(), 11))
	assert.Equal(t, []string{"recurring-11"}, jobs.deleted)
}
