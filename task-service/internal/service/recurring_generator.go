package service

import (
	"context"
	"errors"

	"taskloop/pkg/metrics"
	"taskloop/pkg/recurrence"
	"taskloop/task-service/internal/model"
	"taskloop/task-service/internal/repository"

	"go.uber.org/zap"
)

// Next-instance generation outcomes.
const (
	GenerateStatusSuccess   = "success"
	GenerateStatusCancelled = "cancelled"
	GenerateStatusSkipped   = "skipped"
)

// GenerateNextInstance creates the next occurrence of a recurring series.
// It is the shared engine behind the task.completed consumer and the
// scheduler's due-date safety-net job, and every step is idempotent: the
// instance create is keyed by (parent, due date) and the rule advance by
// last generated due date, so both triggers can fire for the same task.
//
// Returns the outcome plus the new instance id on success. "cancelled"
// means the series reached its end condition; "skipped" means this task
// has nothing to generate (not recurring, rule missing, no due date).
func (s *TaskService) GenerateNextInstance(ctx context.Context, taskID int64) (string, *int64, error) {
	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		if errors.Is(err, repository.ErrTaskNotFound) {
			s.logger.Info("Task gone, nothing to generate", zap.Int64("task_id", taskID))
			return GenerateStatusSkipped, nil, nil
		}
		return "", nil, err
	}

	if !task.IsRecurring || task.RecurrenceRuleID == nil {
		s.logger.Debug("Task is not recurring, nothing to generate", zap.Int64("task_id", taskID))
		metrics.RecordRecurrenceInstance("skipped")
		return GenerateStatusSkipped, nil, nil
	}

	rule, err := s.rules.GetByID(ctx, *task.RecurrenceRuleID)
	if err != nil {
		if errors.Is(err, repository.ErrRuleNotFound) {
			s.logger.Warn("Recurrence rule missing, nothing to generate",
				zap.Int64("task_id", taskID),
				zap.Int64("rule_id", *task.RecurrenceRuleID),
			)
			metrics.RecordRecurrenceInstance("skipped")
			return GenerateStatusSkipped, nil, nil
		}
		return "", nil, err
	}

	next, err := recurrence.NextOccurrence(
		recurrence.CompletedTask{
			ID:           task.ID,
			Title:        task.Title,
			Description:  task.Description,
			Priority:     task.Priority,
			DueDate:      task.DueDate,
			ParentTaskID: task.ParentTaskID,
		},
		recurrence.Rule{
			ID:              rule.ID,
			Frequency:       rule.Frequency,
			Interval:        rule.Interval,
			EndDate:         rule.EndDate,
			OccurrenceCount: rule.OccurrenceCount,
			CurrentCount:    rule.CurrentCount,
		},
	)
	if err != nil {
		return "", nil, err
	}
	if next == nil {
		if task.DueDate == nil {
			s.logger.Info("Task has no due date, cannot advance series", zap.Int64("task_id", taskID))
			metrics.RecordRecurrenceInstance("skipped")
			return GenerateStatusSkipped, nil, nil
		}
		s.logger.Info("Series complete, no further instances",
			zap.Int64("task_id", taskID),
			zap.Int64("rule_id", rule.ID),
		)
		metrics.RecordRecurrenceInstance("exhausted")
		return GenerateStatusCancelled, nil, nil
	}

	in := CreateTaskInput{
		UserID:           task.UserID,
		Title:            next.Title,
		Description:      next.Description,
		Priority:         next.Priority,
		DueDate:          &next.DueDate,
		IsRecurring:      true,
		ParentTaskID:     &next.ParentTaskID,
		RecurrenceRuleID: &next.RecurrenceRuleID,
		Reminder:         s.carriedReminder(ctx, task.ID),
	}
	instance, created, err := s.CreateTask(ctx, in)
	if err != nil {
		return "", nil, err
	}

	if _, err := s.rules.Advance(ctx, rule.ID, next.DueDate); err != nil {
		s.logger.Error("Instance created but rule advance failed",
			zap.Error(err),
			zap.Int64("rule_id", rule.ID),
			zap.Int64("new_task_id", instance.ID),
		)
		return "", nil, err
	}

	if created {
		metrics.RecordRecurrenceInstance("created")
		s.logger.Info("Next recurring instance created",
			zap.Int64("task_id", taskID),
			zap.Int64("new_task_id", instance.ID),
			zap.Time("due_date", next.DueDate),
		)
	} else {
		metrics.RecordRecurrenceInstance("skipped")
	}
	return GenerateStatusSuccess, &instance.ID, nil
}

// carriedReminder copies the completed instance's reminder preference onto
// the next instance. Custom reminders are absolute instants and are not
// carried.
func (s *TaskService) carriedReminder(ctx context.Context, taskID int64) *ReminderInput {
	rems, err := s.reminders.ListByTask(ctx, taskID)
	if err != nil || len(rems) == 0 {
		return nil
	}
	if rems[0].ReminderType == model.ReminderTypeCustom {
		return nil
	}
	return &ReminderInput{Type: rems[0].ReminderType}
}
