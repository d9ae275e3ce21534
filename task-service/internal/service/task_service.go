package service

import (
	"context"
	"errors"
	"time"

	mqcontracts "taskloop/contracts/mq"
	"taskloop/pkg/events"
	"taskloop/pkg/outbox"
	"taskloop/pkg/recurrence"
	"taskloop/task-service/internal/model"
	"taskloop/task-service/internal/repository"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var (
	ErrTitleRequired          = errors.New("task title is required")
	ErrInvalidPriority        = errors.New("invalid task priority")
	ErrRecurrenceRuleRequired = errors.New("recurring task requires a recurrence rule")
	ErrDueDateRequired        = errors.New("recurring task requires a due date")
)

var validPriorities = map[string]bool{
	model.PriorityLow:    true,
	model.PriorityMedium: true,
	model.PriorityHigh:   true,
}

type RecurrenceInput struct {
	Frequency       string     `json:"frequency"`
	Interval        int        `json:"interval"`
	EndDate         *time.Time `json:"end_date,omitempty"`
	OccurrenceCount *int       `json:"occurrence_count,omitempty"`
}

type ReminderInput struct {
	Type          string     `json:"type"`
	ScheduledTime *time.Time `json:"scheduled_time,omitempty"`
}

type CreateTaskInput struct {
	UserID           int64            `json:"user_id"`
	Title            string           `json:"title"`
	Description      string           `json:"description"`
	Priority         string           `json:"priority"`
	DueDate          *time.Time       `json:"due_date,omitempty"`
	IsRecurring      bool             `json:"is_recurring"`
	Recurrence       *RecurrenceInput `json:"recurrence,omitempty"`
	Reminder         *ReminderInput   `json:"reminder,omitempty"`
	ParentTaskID     *int64           `json:"parent_task_id,omitempty"`
	RecurrenceRuleID *int64           `json:"recurrence_rule_id,omitempty"`
}

type UpdateTaskInput struct {
	Title       *string        `json:"title,omitempty"`
	Description *string        `json:"description,omitempty"`
	Priority    *string        `json:"priority,omitempty"`
	DueDate     *time.Time     `json:"due_date,omitempty"`
	DueDateSet  bool           `json:"-"`
	Reminder    *ReminderInput `json:"reminder,omitempty"`
}

// TaskService owns the task lifecycle: persistence, reminder jobs and the
// outbox events the other services react to.
type TaskService struct {
	db         *pgxpool.Pool
	tasks      *repository.TaskRepository
	rules      *repository.RecurrenceRuleRepository
	reminders  *repository.ReminderRepository
	users      *repository.UserRepository
	outboxRepo *outbox.Repository
	scheduler  *ReminderScheduler
	publisher  *events.Publisher
	logger     *zap.Logger
}

func NewTaskService(
	db *pgxpool.Pool,
	tasks *repository.TaskRepository,
	rules *repository.RecurrenceRuleRepository,
	reminders *repository.ReminderRepository,
	users *repository.UserRepository,
	scheduler *ReminderScheduler,
	publisher *events.Publisher,
	logger *zap.Logger,
) *TaskService {
	return &TaskService{
		db:         db,
		tasks:      tasks,
		rules:      rules,
		reminders:  reminders,
		users:      users,
		outboxRepo: outbox.NewRepository(db),
		scheduler:  scheduler,
		publisher:  publisher,
		logger:     logger,
	}
}

func taskSnapshot(t *model.Task) mqcontracts.TaskSnapshot {
	return mqcontracts.TaskSnapshot{
		ID:               t.ID,
		Title:            t.Title,
		Description:      t.Description,
		Priority:         t.Priority,
		DueDate:          t.DueDate,
		Completed:        t.Completed,
		IsRecurring:      t.IsRecurring,
		ParentTaskID:     t.ParentTaskID,
		RecurrenceRuleID: t.RecurrenceRuleID,
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func validateCreate(in *CreateTaskInput) error {
	if in.Title == "" {
		return ErrTitleRequired
	}
	if in.Priority == "" {
		in.Priority = model.PriorityMedium
	}
	if !validPriorities[in.Priority] {
		return ErrInvalidPriority
	}
	if in.IsRecurring {
		if in.DueDate == nil {
			return ErrDueDateRequired
		}
		if in.Recurrence == nil && in.RecurrenceRuleID == nil {
			return ErrRecurrenceRuleRequired
		}
	}
	return nil
}

// CreateTask creates a task, its recurrence rule and its reminder. The task
// and rule share a transaction with a task.created outbox event; reminder
// job registration happens after commit and never fails the create.
//
// When ParentTaskID and DueDate are both set the create is idempotent: an
// existing instance for the same (parent, due) pair is returned instead of
// a duplicate. Returns whether a new task was created.
func (s *TaskService) CreateTask(ctx context.Context, in CreateTaskInput) (*model.Task, bool, error) {
	if err := validateCreate(&in); err != nil {
		return nil, false, err
	}
	if in.Recurrence != nil {
		if err := recurrence.ValidateInterval(in.Recurrence.Frequency, in.Recurrence.Interval); err != nil {
			return nil, false, err
		}
	}

	if in.ParentTaskID != nil && in.DueDate != nil {
		existing, err := s.tasks.FindByParentAndDueDate(ctx, *in.ParentTaskID, *in.DueDate)
		if err == nil {
			s.logger.Info("Instance already exists for due date, skipping create",
				zap.Int64("parent_task_id", *in.ParentTaskID),
				zap.Int64("task_id", existing.ID),
			)
			return existing, false, nil
		}
		if !errors.Is(err, repository.ErrTaskNotFound) {
			return nil, false, err
		}
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		s.logger.Error("Failed to begin transaction", zap.Error(err))
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	ruleID := in.RecurrenceRuleID
	if in.Recurrence != nil {
		rule := &model.RecurrenceRule{
			UserID:          in.UserID,
			Frequency:       in.Recurrence.Frequency,
			Interval:        in.Recurrence.Interval,
			EndDate:         in.Recurrence.EndDate,
			OccurrenceCount: in.Recurrence.OccurrenceCount,
		}
		if _, err := s.rules.InsertTx(ctx, tx, rule); err != nil {
			return nil, false, err
		}
		ruleID = &rule.ID
	}

	task := &model.Task{
		UserID:           in.UserID,
		Title:            in.Title,
		Description:      in.Description,
		Priority:         in.Priority,
		DueDate:          in.DueDate,
		IsRecurring:      in.IsRecurring,
		RecurrenceRuleID: ruleID,
		ParentTaskID:     in.ParentTaskID,
	}
	if _, err := s.tasks.InsertTx(ctx, tx, task); err != nil {
		if isUniqueViolation(err) && in.ParentTaskID != nil && in.DueDate != nil {
			// Lost a race with a concurrent create for the same occurrence.
			tx.Rollback(ctx)
			existing, findErr := s.tasks.FindByParentAndDueDate(ctx, *in.ParentTaskID, *in.DueDate)
			if findErr != nil {
				return nil, false, findErr
			}
			return existing, false, nil
		}
		return nil, false, err
	}

	event := mqcontracts.TaskCreatedEvent{
		EventMeta: mqcontracts.NewEventMeta(mqcontracts.TopicTaskCreated, task.UserID),
		Task:      taskSnapshot(task),
	}
	if err := outbox.InsertEventInTx(ctx, tx, s.outboxRepo, "task", &task.ID, mqcontracts.TopicTaskCreated, event); err != nil {
		s.logger.Error("Failed to insert task.created to outbox", zap.Error(err))
		return nil, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		s.logger.Error("Failed to commit transaction", zap.Error(err))
		return nil, false, err
	}

	if in.Reminder != nil {
		s.attachReminder(ctx, task, in.Reminder)
	}
	if task.IsRecurring {
		if _, err := s.scheduler.ScheduleRecurringSafetyNet(ctx, task); err != nil {
			s.logger.Warn("Recurring generation job not registered",
				zap.Error(err),
				zap.Int64("task_id", task.ID),
			)
		}
	}

	return task, true, nil
}

// attachReminder persists and registers a reminder for the task. Failures
// are logged, not returned: the task itself is already committed.
func (s *TaskService) attachReminder(ctx context.Context, task *model.Task, in *ReminderInput) {
	scheduledTime, err := ResolveScheduledTime(in.Type, task.DueDate, in.ScheduledTime)
	if err != nil {
		s.logger.Warn("Reminder not attached",
			zap.Error(err),
			zap.Int64("task_id", task.ID),
			zap.String("reminder_type", in.Type),
		)
		return
	}

	rem := &model.Reminder{
		TaskID:        task.ID,
		UserID:        task.UserID,
		ScheduledTime: scheduledTime,
		ReminderType:  in.Type,
		Status:        model.ReminderStatusPending,
	}
	if !scheduledTime.After(time.Now()) {
		s.logger.Warn("Reminder time already passed, not scheduling",
			zap.Int64("task_id", task.ID),
			zap.Time("scheduled_time", scheduledTime),
		)
		return
	}
	if _, err := s.reminders.Insert(ctx, rem); err != nil {
		return
	}

	jobID, err := s.scheduler.Schedule(ctx, rem)
	if err != nil {
		s.logger.Error("Reminder persisted but job registration failed",
			zap.Error(err),
			zap.Int64("reminder_id", rem.ID),
		)
		return
	}
	if err := s.reminders.SetJobID(ctx, rem.ID, jobID); err == nil {
		rem.JobID = jobID
	}
}

func (s *TaskService) GetTask(ctx context.Context, id int64) (*model.Task, error) {
	return s.tasks.GetByID(ctx, id)
}

func (s *TaskService) ListTasks(ctx context.Context, userID int64) ([]model.Task, error) {
	return s.tasks.ListByUser(ctx, userID)
}

func (s *TaskService) GetRule(ctx context.Context, id int64) (*model.RecurrenceRule, error) {
	return s.rules.GetByID(ctx, id)
}

// AdvanceRule bumps a rule's occurrence counter for a generated due date.
// Idempotent per due date.
func (s *TaskService) AdvanceRule(ctx context.Context, id int64, generatedDueDate time.Time) (*model.RecurrenceRule, error) {
	return s.rules.Advance(ctx, id, generatedDueDate)
}

// CompleteTask marks the task done and emits task.completed through the
// outbox. Completing an already-completed task is a no-op and emits nothing.
// Pending reminder jobs and the recurring safety-net job are cancelled after
// commit.
func (s *TaskService) CompleteTask(ctx context.Context, id int64) (*model.Task, error) {
	task, err := s.tasks.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.Completed {
		s.logger.Info("Task already completed, skipping", zap.Int64("task_id", id))
		return task, nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		s.logger.Error("Failed to begin transaction", zap.Error(err))
		return nil, err
	}
	defer tx.Rollback(ctx)

	if err := s.tasks.SetCompletedTx(ctx, tx, id, true); err != nil {
		return nil, err
	}
	task.Completed = true

	event := mqcontracts.TaskCompletedEvent{
		EventMeta: mqcontracts.NewEventMeta(mqcontracts.TopicTaskCompleted, task.UserID),
		Task:      taskSnapshot(task),
	}
	if err := outbox.InsertEventInTx(ctx, tx, s.outboxRepo, "task", &task.ID, mqcontracts.TopicTaskCompleted, event); err != nil {
		s.logger.Error("Failed to insert task.completed to outbox", zap.Error(err))
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		s.logger.Error("Failed to commit transaction", zap.Error(err))
		return nil, err
	}

	s.cancelPendingReminderJobs(ctx, id)
	if task.IsRecurring {
		s.scheduler.CancelRecurringSafetyNet(ctx, id)
	}

	s.logger.Info("Task completed", zap.Int64("task_id", id))
	return task, nil
}

// ReopenTask flips a completed task back to open and emits task.updated.
func (s *TaskService) ReopenTask(ctx context.Context, id int64) (*model.Task, error) {
	task, err := s.tasks.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !task.Completed {
		return task, nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if err := s.tasks.SetCompletedTx(ctx, tx, id, false); err != nil {
		return nil, err
	}
	task.Completed = false

	event := mqcontracts.TaskUpdatedEvent{
		EventMeta: mqcontracts.NewEventMeta(mqcontracts.TopicTaskUpdated, task.UserID),
		Task:      taskSnapshot(task),
	}
	if err := outbox.InsertEventInTx(ctx, tx, s.outboxRepo, "task", &task.ID, mqcontracts.TopicTaskUpdated, event); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	s.logger.Info("Task reopened", zap.Int64("task_id", id))
	return task, nil
}

// UpdateTask applies a partial update. A due-date change invalidates the
// task's reminders: their jobs are cancelled and equivalent reminders are
// re-registered against the new due date.
func (s *TaskService) UpdateTask(ctx context.Context, id int64, in UpdateTaskInput) (*model.Task, error) {
	task, err := s.tasks.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.Title != nil {
		if *in.Title == "" {
			return nil, ErrTitleRequired
		}
		task.Title = *in.Title
	}
	if in.Description != nil {
		task.Description = *in.Description
	}
	if in.Priority != nil {
		if !validPriorities[*in.Priority] {
			return nil, ErrInvalidPriority
		}
		task.Priority = *in.Priority
	}

	dueChanged := in.DueDateSet && !equalTime(task.DueDate, in.DueDate)
	if dueChanged {
		if task.IsRecurring && in.DueDate == nil {
			return nil, ErrDueDateRequired
		}
		task.DueDate = in.DueDate
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if err := s.tasks.UpdateTx(ctx, tx, task); err != nil {
		return nil, err
	}

	var invalidated []model.Reminder
	if dueChanged {
		invalidated, err = s.reminders.DeleteByTaskTx(ctx, tx, id)
		if err != nil {
			return nil, err
		}
	}

	event := mqcontracts.TaskUpdatedEvent{
		EventMeta: mqcontracts.NewEventMeta(mqcontracts.TopicTaskUpdated, task.UserID),
		Task:      taskSnapshot(task),
	}
	if err := outbox.InsertEventInTx(ctx, tx, s.outboxRepo, "task", &task.ID, mqcontracts.TopicTaskUpdated, event); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	for _, rem := range invalidated {
		s.scheduler.Cancel(ctx, rem.ID)
		// Re-register offset reminders against the new due date. Custom
		// reminders are absolute instants and do not follow the task.
		if rem.ReminderType != model.ReminderTypeCustom && task.DueDate != nil {
			s.attachReminder(ctx, task, &ReminderInput{Type: rem.ReminderType})
		}
	}
	if in.Reminder != nil {
		s.attachReminder(ctx, task, in.Reminder)
	}
	if task.IsRecurring && dueChanged {
		if _, err := s.scheduler.ScheduleRecurringSafetyNet(ctx, task); err != nil {
			s.logger.Warn("Recurring generation job not re-registered",
				zap.Error(err),
				zap.Int64("task_id", task.ID),
			)
		}
	}

	s.logger.Info("Task updated", zap.Int64("task_id", id), zap.Bool("due_date_changed", dueChanged))
	return task, nil
}

// DeleteTask removes one task and its reminders, emitting task.deleted.
func (s *TaskService) DeleteTask(ctx context.Context, id int64) error {
	task, err := s.tasks.GetByID(ctx, id)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	deleted, err := s.reminders.DeleteByTaskTx(ctx, tx, id)
	if err != nil {
		return err
	}
	if err := s.tasks.DeleteTx(ctx, tx, id); err != nil {
		return err
	}

	event := mqcontracts.TaskDeletedEvent{
		EventMeta:    mqcontracts.NewEventMeta(mqcontracts.TopicTaskDeleted, task.UserID),
		TaskID:       id,
		DeleteSeries: false,
	}
	if err := outbox.InsertEventInTx(ctx, tx, s.outboxRepo, "task", &id, mqcontracts.TopicTaskDeleted, event); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	for _, rem := range deleted {
		s.scheduler.Cancel(ctx, rem.ID)
	}
	if task.IsRecurring {
		s.scheduler.CancelRecurringSafetyNet(ctx, id)
	}

	s.logger.Info("Task deleted", zap.Int64("task_id", id))
	return nil
}

// DeleteSeries removes a recurring series: the anchor task, every generated
// instance, their reminders and the rule itself. One task.deleted event with
// delete_series set covers the whole series.
func (s *TaskService) DeleteSeries(ctx context.Context, taskID int64) error {
	anchor, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		return err
	}
	parentID := anchor.SeriesParentID()

	seriesTasks, err := s.tasks.ListSeries(ctx, parentID)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var deletedReminders []model.Reminder
	for _, t := range seriesTasks {
		rems, err := s.reminders.DeleteByTaskTx(ctx, tx, t.ID)
		if err != nil {
			return err
		}
		deletedReminders = append(deletedReminders, rems...)
	}
	if _, err := s.tasks.DeleteSeriesTx(ctx, tx, parentID); err != nil {
		return err
	}
	if anchor.RecurrenceRuleID != nil {
		if err := s.rules.DeleteTx(ctx, tx, *anchor.RecurrenceRuleID); err != nil {
			return err
		}
	}

	event := mqcontracts.TaskDeletedEvent{
		EventMeta:    mqcontracts.NewEventMeta(mqcontracts.TopicTaskDeleted, anchor.UserID),
		TaskID:       parentID,
		DeleteSeries: true,
	}
	if err := outbox.InsertEventInTx(ctx, tx, s.outboxRepo, "task", &parentID, mqcontracts.TopicTaskDeleted, event); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	for _, rem := range deletedReminders {
		s.scheduler.Cancel(ctx, rem.ID)
	}
	for _, t := range seriesTasks {
		if t.IsRecurring {
			s.scheduler.CancelRecurringSafetyNet(ctx, t.ID)
		}
	}

	s.logger.Info("Task series deleted",
		zap.Int64("parent_task_id", parentID),
		zap.Int("tasks", len(seriesTasks)),
	)
	return nil
}

// TriggerReminder is the scheduler callback: the reminder's moment has
// arrived. It validates the reminder is still live and publishes
// reminder.scheduled for the notification service to deliver. Stale
// callbacks (deleted task, completed task, non-pending reminder) are
// dropped without error.
func (s *TaskService) TriggerReminder(ctx context.Context, reminderID int64) error {
	rem, err := s.reminders.GetByID(ctx, reminderID)
	if err != nil {
		if errors.Is(err, repository.ErrReminderNotFound) {
			s.logger.Info("Reminder gone, dropping trigger", zap.Int64("reminder_id", reminderID))
			return nil
		}
		return err
	}
	if rem.Status != model.ReminderStatusPending {
		s.logger.Info("Reminder no longer pending, dropping trigger",
			zap.Int64("reminder_id", reminderID),
			zap.String("status", rem.Status),
		)
		return nil
	}

	task, err := s.tasks.GetByID(ctx, rem.TaskID)
	if err != nil {
		if errors.Is(err, repository.ErrTaskNotFound) {
			s.logger.Info("Task gone, dropping reminder trigger", zap.Int64("reminder_id", reminderID))
			return nil
		}
		return err
	}
	if task.Completed {
		s.logger.Info("Task already completed, dropping reminder trigger",
			zap.Int64("task_id", task.ID),
			zap.Int64("reminder_id", reminderID),
		)
		return nil
	}

	email, err := s.users.GetEmail(ctx, rem.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			s.logger.Error("No such user for reminder, dropping",
				zap.Int64("user_id", rem.UserID),
				zap.Int64("reminder_id", reminderID),
			)
			return nil
		}
		return err
	}

	event := mqcontracts.ReminderScheduledEvent{
		EventMeta: mqcontracts.NewEventMeta(mqcontracts.TopicReminderScheduled, rem.UserID),
		Reminder: mqcontracts.ReminderInfo{
			ID:            rem.ID,
			TaskID:        task.ID,
			TaskTitle:     task.Title,
			ScheduledTime: rem.ScheduledTime,
			ReminderType:  rem.ReminderType,
			UserEmail:     email,
		},
	}
	return s.publisher.Publish(ctx, mqcontracts.TopicReminderScheduled, event)
}

// MarkReminderOutcome records the terminal delivery status reported back by
// the notification service.
func (s *TaskService) MarkReminderOutcome(ctx context.Context, reminderID int64, status string) error {
	if status != model.ReminderStatusSent && status != model.ReminderStatusFailed {
		s.logger.Warn("Ignoring unknown reminder delivery status",
			zap.Int64("reminder_id", reminderID),
			zap.String("status", status),
		)
		return nil
	}
	updated, err := s.reminders.MarkStatus(ctx, reminderID, status)
	if err != nil {
		return err
	}
	if !updated {
		s.logger.Info("Reminder already in terminal state, ignoring outcome",
			zap.Int64("reminder_id", reminderID),
			zap.String("status", status),
		)
	}
	return nil
}

func (s *TaskService) cancelPendingReminderJobs(ctx context.Context, taskID int64) {
	pending, err := s.reminders.ListPendingByTask(ctx, taskID)
	if err != nil {
		s.logger.Warn("Failed to list pending reminders, leaving jobs registered",
			zap.Int64("task_id", taskID),
			zap.Error(err),
		)
		return
	}
	for _, rem := range pending {
		s.scheduler.Cancel(ctx, rem.ID)
	}
}

func equalTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
