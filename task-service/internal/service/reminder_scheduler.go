package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"taskloop/pkg/scheduler"
	"taskloop/task-service/internal/model"

	"go.uber.org/zap"
)

var (
	ErrScheduledTimeInPast  = errors.New("reminder scheduled time is in the past")
	ErrUnknownReminderType  = errors.New("unknown reminder type")
	ErrCustomTimeRequired   = errors.New("custom reminder requires an explicit scheduled time")
	ErrReminderNeedsDueDate = errors.New("offset reminder requires a task due date")
)

// Offsets before the due date for the fixed reminder types.
var reminderOffsets = map[string]time.Duration{
	model.ReminderType15Min: 15 * time.Minute,
	model.ReminderType1Hr:   time.Hour,
	model.ReminderType1Day:  24 * time.Hour,
	model.ReminderType1Week: 7 * 24 * time.Hour,
}

// JobScheduler is the scheduler service's job API. One-shot jobs are keyed
// by name, so re-registering replaces rather than duplicates.
type JobScheduler interface {
	ScheduleJob(ctx context.Context, name string, job scheduler.JobRequest) (string, error)
	DeleteJob(ctx context.Context, name string) error
}

// ReminderScheduler turns reminders into one-shot scheduler jobs that call
// back into this service when they fire.
type ReminderScheduler struct {
	jobs        JobScheduler
	callbackURL string
	logger      *zap.Logger
	now         func() time.Time
}

func NewReminderScheduler(jobs JobScheduler, callbackBaseURL string, logger *zap.Logger) *ReminderScheduler {
	return &ReminderScheduler{
		jobs:        jobs,
		callbackURL: callbackBaseURL,
		logger:      logger,
		now:         time.Now,
	}
}

// ResolveScheduledTime computes when a reminder should fire. Fixed types
// subtract their offset from the due date; custom reminders use the explicit
// time supplied by the caller.
func ResolveScheduledTime(reminderType string, dueDate *time.Time, customTime *time.Time) (time.Time, error) {
	if reminderType == model.ReminderTypeCustom {
		if customTime == nil {
			return time.Time{}, ErrCustomTimeRequired
		}
		return *customTime, nil
	}
	offset, ok := reminderOffsets[reminderType]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %s", ErrUnknownReminderType, reminderType)
	}
	if dueDate == nil {
		return time.Time{}, ErrReminderNeedsDueDate
	}
	return dueDate.Add(-offset), nil
}

func reminderJobName(reminderID int64) string {
	return fmt.Sprintf("reminder-%d", reminderID)
}

func recurringJobName(taskID int64) string {
	return fmt.Sprintf("recurring-%d", taskID)
}

type reminderCallbackData struct {
	TaskID     int64 `json:"task_id"`
	ReminderID int64 `json:"reminder_id"`
	UserID     int64 `json:"user_id"`
}

type recurringCallbackData struct {
	TaskID int64 `json:"task_id"`
	UserID int64 `json:"user_id"`
}

// Schedule registers a one-shot job for the reminder and returns the job id.
// Times in the past are rejected rather than fired immediately.
func (s *ReminderScheduler) Schedule(ctx context.Context, rem *model.Reminder) (string, error) {
	if !rem.ScheduledTime.After(s.now()) {
		return "", ErrScheduledTimeInPast
	}

	data, err := json.Marshal(reminderCallbackData{
		TaskID:     rem.TaskID,
		ReminderID: rem.ID,
		UserID:     rem.UserID,
	})
	if err != nil {
		return "", err
	}

	name := reminderJobName(rem.ID)
	jobID, err := s.jobs.ScheduleJob(ctx, name, scheduler.JobRequest{
		Schedule:    rem.ScheduledTime.UTC().Format(time.RFC3339),
		CallbackURL: s.callbackURL + "/internal/reminders/trigger",
		Data:        data,
	})
	if err != nil {
		s.logger.Error("Failed to schedule reminder job",
			zap.Error(err),
			zap.Int64("reminder_id", rem.ID),
		)
		return "", err
	}
	s.logger.Info("Reminder job scheduled",
		zap.Int64("reminder_id", rem.ID),
		zap.String("job_id", jobID),
		zap.Time("scheduled_time", rem.ScheduledTime),
	)
	return jobID, nil
}

// Cancel removes the reminder's job. Unknown jobs are fine: the job may
// already have fired.
func (s *ReminderScheduler) Cancel(ctx context.Context, reminderID int64) error {
	if err := s.jobs.DeleteJob(ctx, reminderJobName(reminderID)); err != nil {
		s.logger.Warn("Failed to cancel reminder job",
			zap.Error(err),
			zap.Int64("reminder_id", reminderID),
		)
		return err
	}
	return nil
}

// ScheduleRecurringSafetyNet registers a one-shot job at the task's due date
// that generates the next instance even if the task is never completed.
func (s *ReminderScheduler) ScheduleRecurringSafetyNet(ctx context.Context, task *model.Task) (string, error) {
	if task.DueDate == nil {
		return "", ErrReminderNeedsDueDate
	}
	data, err := json.Marshal(recurringCallbackData{TaskID: task.ID, UserID: task.UserID})
	if err != nil {
		return "", err
	}

	name := recurringJobName(task.ID)
	jobID, err := s.jobs.ScheduleJob(ctx, name, scheduler.JobRequest{
		Schedule:    task.DueDate.UTC().Format(time.RFC3339),
		CallbackURL: s.callbackURL + "/internal/recurring/generate",
		Data:        data,
	})
	if err != nil {
		s.logger.Error("Failed to schedule recurring generation job",
			zap.Error(err),
			zap.Int64("task_id", task.ID),
		)
		return "", err
	}
	s.logger.Info("Recurring generation job scheduled",
		zap.Int64("task_id", task.ID),
		zap.String("job_id", jobID),
	)
	return jobID, nil
}

func (s *ReminderScheduler) CancelRecurringSafetyNet(ctx context.Context, taskID int64) error {
	if err := s.jobs.DeleteJob(ctx, recurringJobName(taskID)); err != nil {
		s.logger.Warn("Failed to cancel recurring generation job",
			zap.Error(err),
			zap.Int64("task_id", taskID),
		)
		return err
	}
	return nil
}
