package repository

import (
	"context"
	"errors"

	"taskloop/task-service/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var ErrReminderNotFound = errors.New("reminder not found")

type ReminderRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewReminderRepository(db *pgxpool.Pool, logger *zap.Logger) *ReminderRepository {
	return &ReminderRepository{db: db, logger: logger}
}

const reminderColumns = `id, task_id, user_id, scheduled_time, reminder_type,
	offset_minutes, status, job_id, created_at`

func scanReminder(row pgx.Row) (*model.Reminder, error) {
	var rem model.Reminder
	err := row.Scan(
		&rem.ID,
		&rem.TaskID,
		&rem.UserID,
		&rem.ScheduledTime,
		&rem.ReminderType,
		&rem.OffsetMinutes,
		&rem.Status,
		&rem.JobID,
		&rem.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rem, nil
}

func (r *ReminderRepository) Insert(ctx context.Context, rem *model.Reminder) (int64, error) {
	r.logger.Debug("Inserting reminder",
		zap.Int64("task_id", rem.TaskID),
		zap.String("reminder_type", rem.ReminderType),
		zap.Time("scheduled_time", rem.ScheduledTime),
	)
	query := `
        INSERT INTO reminders (task_id, user_id, scheduled_time, reminder_type, offset_minutes, status, job_id)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING id, created_at
    `
	err := r.db.QueryRow(ctx, query,
		rem.TaskID,
		rem.UserID,
		rem.ScheduledTime,
		rem.ReminderType,
		rem.OffsetMinutes,
		rem.Status,
		rem.JobID,
	).Scan(&rem.ID, &rem.CreatedAt)
	if err != nil {
		r.logger.Error("Failed to insert reminder", zap.Error(err), zap.Int64("task_id", rem.TaskID))
		return 0, err
	}
	r.logger.Info("Reminder inserted",
		zap.Int64("reminder_id", rem.ID),
		zap.Int64("task_id", rem.TaskID),
	)
	return rem.ID, nil
}

func (r *ReminderRepository) GetByID(ctx context.Context, id int64) (*model.Reminder, error) {
	query := `SELECT ` + reminderColumns + ` FROM reminders WHERE id = $1`
	rem, err := scanReminder(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReminderNotFound
		}
		r.logger.Error("Failed to get reminder", zap.Error(err), zap.Int64("reminder_id", id))
		return nil, err
	}
	return rem, nil
}

func (r *ReminderRepository) ListPendingByTask(ctx context.Context, taskID int64) ([]model.Reminder, error) {
	query := `SELECT ` + reminderColumns + ` FROM reminders WHERE task_id = $1 AND status = 'pending'`
	rows, err := r.db.Query(ctx, query, taskID)
	if err != nil {
		r.logger.Error("Failed to query pending reminders", zap.Error(err), zap.Int64("task_id", taskID))
		return nil, err
	}
	defer rows.Close()

	reminders := []model.Reminder{}
	for rows.Next() {
		rem, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		reminders = append(reminders, *rem)
	}
	return reminders, nil
}

func (r *ReminderRepository) ListByTask(ctx context.Context, taskID int64) ([]model.Reminder, error) {
	query := `SELECT ` + reminderColumns + ` FROM reminders WHERE task_id = $1 ORDER BY id`
	rows, err := r.db.Query(ctx, query, taskID)
	if err != nil {
		r.logger.Error("Failed to query reminders", zap.Error(err), zap.Int64("task_id", taskID))
		return nil, err
	}
	defer rows.Close()

	reminders := []model.Reminder{}
	for rows.Next() {
		rem, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		reminders = append(reminders, *rem)
	}
	return reminders, nil
}

func (r *ReminderRepository) SetJobID(ctx context.Context, id int64, jobID string) error {
	_, err := r.db.Exec(ctx, `UPDATE reminders SET job_id = $2 WHERE id = $1`, id, jobID)
	if err != nil {
		r.logger.Error("Failed to set reminder job id", zap.Error(err), zap.Int64("reminder_id", id))
		return err
	}
	return nil
}

// MarkStatus records the terminal delivery outcome. The guard keeps the
// transition one-way: a reminder that already left pending is never
// rewritten, so redelivered status events are harmless.
func (r *ReminderRepository) MarkStatus(ctx context.Context, id int64, status string) (bool, error) {
	r.logger.Debug("Marking reminder status",
		zap.Int64("reminder_id", id),
		zap.String("status", status),
	)
	query := `UPDATE reminders SET status = $2 WHERE id = $1 AND status = 'pending'`
	result, err := r.db.Exec(ctx, query, id, status)
	if err != nil {
		r.logger.Error("Failed to mark reminder status", zap.Error(err), zap.Int64("reminder_id", id))
		return false, err
	}
	updated := result.RowsAffected() > 0
	if updated {
		r.logger.Info("Reminder status updated",
			zap.Int64("reminder_id", id),
			zap.String("status", status),
		)
	}
	return updated, nil
}

// DeleteByTaskTx removes a task's reminders and returns the deleted rows so
// the caller can cancel their scheduler jobs after commit.
func (r *ReminderRepository) DeleteByTaskTx(ctx context.Context, tx pgx.Tx, taskID int64) ([]model.Reminder, error) {
	query := `DELETE FROM reminders WHERE task_id = $1 RETURNING ` + reminderColumns
	rows, err := tx.Query(ctx, query, taskID)
	if err != nil {
		r.logger.Error("Failed to delete reminders for task", zap.Error(err), zap.Int64("task_id", taskID))
		return nil, err
	}
	defer rows.Close()

	deleted := []model.Reminder{}
	for rows.Next() {
		rem, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		deleted = append(deleted, *rem)
	}
	if len(deleted) > 0 {
		r.logger.Info("Reminders deleted for task",
			zap.Int64("task_id", taskID),
			zap.Int("count", len(deleted)),
		)
	}
	return deleted, nil
}
