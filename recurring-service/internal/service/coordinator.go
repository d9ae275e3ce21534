package service

import (
	"context"
	"errors"

	mqcontracts "taskloop/contracts/mq"
	"taskloop/pkg/metrics"
	"taskloop/pkg/recurrence"
	"taskloop/recurring-service/internal/client"

	"go.uber.org/zap"
)

// Coordinator reacts to completed recurring tasks by deriving and creating
// the next instance through the task service's internal API.
//
// Every step tolerates redelivery: next-occurrence derivation is pure,
// instance creation is keyed by (parent, due date) on the task service side
// and the rule advance is keyed by the generated due date.
type Coordinator struct {
	api    client.TaskAPI
	logger *zap.Logger
}

func NewCoordinator(api client.TaskAPI, logger *zap.Logger) *Coordinator {
	return &Coordinator{api: api, logger: logger}
}

// HandleCompletedTask generates the next occurrence for a completed
// recurring task. Non-recurring tasks and tasks whose rule has vanished are
// dropped silently; a completed series just stops.
func (c *Coordinator) HandleCompletedTask(ctx context.Context, task mqcontracts.TaskSnapshot) error {
	if !task.IsRecurring || task.RecurrenceRuleID == nil {
		c.logger.Debug("Task is not recurring, ignoring", zap.Int64("task_id", task.ID))
		return nil
	}

	rule, err := c.api.GetRule(ctx, *task.RecurrenceRuleID)
	if err != nil {
		if errors.Is(err, client.ErrRuleNotFound) {
			c.logger.Warn("Recurrence rule missing, dropping event",
				zap.Int64("task_id", task.ID),
				zap.Int64("rule_id", *task.RecurrenceRuleID),
			)
			metrics.RecordRecurrenceInstance("skipped")
			return nil
		}
		return err
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
		// A rule the engine rejects will be rejected on every redelivery.
		c.logger.Error("Invalid recurrence rule, dropping event",
			zap.Error(err),
			zap.Int64("rule_id", rule.ID),
		)
		metrics.RecordRecurrenceInstance("skipped")
		return nil
	}
	if next == nil {
		c.logger.Info("Series complete, no further instances",
			zap.Int64("task_id", task.ID),
			zap.Int64("rule_id", rule.ID),
		)
		metrics.RecordRecurrenceInstance("exhausted")
		return nil
	}

	created, wasNew, err := c.api.CreateTask(ctx, client.CreateTaskRequest{
		UserID:           rule.UserID,
		Title:            next.Title,
		Description:      next.Description,
		Priority:         next.Priority,
		DueDate:          &next.DueDate,
		IsRecurring:      true,
		ParentTaskID:     &next.ParentTaskID,
		RecurrenceRuleID: &next.RecurrenceRuleID,
	})
	if err != nil {
		return err
	}

	if err := c.api.AdvanceRule(ctx, rule.ID, next.DueDate); err != nil {
		if errors.Is(err, client.ErrRuleNotFound) {
			c.logger.Warn("Rule deleted between create and advance",
				zap.Int64("rule_id", rule.ID),
			)
			return nil
		}
		return err
	}

	if wasNew {
		metrics.RecordRecurrenceInstance("created")
		c.logger.Info("Next recurring instance created",
			zap.Int64("completed_task_id", task.ID),
			zap.Int64("new_task_id", created.ID),
			zap.Time("due_date", next.DueDate),
		)
	} else {
		metrics.RecordRecurrenceInstance("skipped")
		c.logger.Info("Instance already existed, nothing created",
			zap.Int64("completed_task_id", task.ID),
			zap.Int64("task_id", created.ID),
		)
	}
	return nil
}
