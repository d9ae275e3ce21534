package repository

import (
	"context"
	"errors"
	"time"

	"taskloop/pkg/metrics"
	"taskloop/task-service/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var ErrTaskNotFound = errors.New("task not found")

type TaskRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewTaskRepository(db *pgxpool.Pool, logger *zap.Logger) *TaskRepository {
	return &TaskRepository{db: db, logger: logger}
}

const taskColumns = `id, user_id, title, description, priority, due_date, completed,
	is_recurring, recurrence_rule_id, parent_task_id, created_at, updated_at`

func scanTask(row pgx.Row) (*model.Task, error) {
	var t model.Task
	err := row.Scan(
		&t.ID,
		&t.UserID,
		&t.Title,
		&t.Description,
		&t.Priority,
		&t.DueDate,
		&t.Completed,
		&t.IsRecurring,
		&t.RecurrenceRuleID,
		&t.ParentTaskID,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// InsertTx inserts the task inside the caller's transaction so the write
// can share a commit with its outbox event.
func (r *TaskRepository) InsertTx(ctx context.Context, tx pgx.Tx, t *model.Task) (int64, error) {
	r.logger.Debug("Inserting task",
		zap.Int64("user_id", t.UserID),
		zap.String("title", t.Title),
		zap.Bool("is_recurring", t.IsRecurring),
	)
	start := time.Now()
	query := `
        INSERT INTO tasks (user_id, title, description, priority, due_date,
            is_recurring, recurrence_rule_id, parent_task_id)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING id, created_at, updated_at
    `
	err := tx.QueryRow(ctx, query,
		t.UserID,
		t.Title,
		t.Description,
		t.Priority,
		t.DueDate,
		t.IsRecurring,
		t.RecurrenceRuleID,
		t.ParentTaskID,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	metrics.RecordDBQueryDuration("insert", "tasks", time.Since(start))
	if err != nil {
		r.logger.Error("Failed to insert task",
			zap.Error(err),
			zap.Int64("user_id", t.UserID),
		)
		return 0, err
	}
	r.logger.Info("Task inserted successfully",
		zap.Int64("task_id", t.ID),
		zap.Int64("user_id", t.UserID),
	)
	return t.ID, nil
}

func (r *TaskRepository) GetByID(ctx context.Context, id int64) (*model.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`
	start := time.Now()
	t, err := scanTask(r.db.QueryRow(ctx, query, id))
	metrics.RecordDBQueryDuration("select", "tasks", time.Since(start))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		r.logger.Error("Failed to get task", zap.Error(err), zap.Int64("task_id", id))
		return nil, err
	}
	return t, nil
}

// FindByParentAndDueDate looks up a recurring instance by its series anchor
// and due date. Used to make next-instance creation idempotent: a second
// create for the same (parent, due) pair returns the existing row.
func (r *TaskRepository) FindByParentAndDueDate(ctx context.Context, parentTaskID int64, dueDate time.Time) (*model.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE parent_task_id = $1 AND due_date = $2`
	t, err := scanTask(r.db.QueryRow(ctx, query, parentTaskID, dueDate))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		r.logger.Error("Failed to find task by parent and due date",
			zap.Error(err),
			zap.Int64("parent_task_id", parentTaskID),
		)
		return nil, err
	}
	return t, nil
}

func (r *TaskRepository) ListByUser(ctx context.Context, userID int64) ([]model.Task, error) {
	r.logger.Debug("Listing tasks for user", zap.Int64("user_id", userID))
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE user_id = $1 ORDER BY created_at DESC`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		r.logger.Error("Failed to query tasks", zap.Error(err), zap.Int64("user_id", userID))
		return nil, err
	}
	defer rows.Close()

	tasks := []model.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			r.logger.Error("Failed to scan task row", zap.Error(err), zap.Int64("user_id", userID))
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, nil
}

// ListSeries returns every task in a recurring series: the anchor task plus
// all instances generated from it.
func (r *TaskRepository) ListSeries(ctx context.Context, parentTaskID int64) ([]model.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1 OR parent_task_id = $1 ORDER BY id`
	rows, err := r.db.Query(ctx, query, parentTaskID)
	if err != nil {
		r.logger.Error("Failed to query task series",
			zap.Error(err),
			zap.Int64("parent_task_id", parentTaskID),
		)
		return nil, err
	}
	defer rows.Close()

	tasks := []model.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, nil
}

func (r *TaskRepository) UpdateTx(ctx context.Context, tx pgx.Tx, t *model.Task) error {
	r.logger.Debug("Updating task", zap.Int64("task_id", t.ID))
	query := `
        UPDATE tasks
        SET title = $2, description = $3, priority = $4, due_date = $5, updated_at = NOW()
        WHERE id = $1
    `
	result, err := tx.Exec(ctx, query, t.ID, t.Title, t.Description, t.Priority, t.DueDate)
	if err != nil {
		r.logger.Error("Failed to update task", zap.Error(err), zap.Int64("task_id", t.ID))
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func (r *TaskRepository) SetCompletedTx(ctx context.Context, tx pgx.Tx, taskID int64, completed bool) error {
	r.logger.Debug("Setting task completion",
		zap.Int64("task_id", taskID),
		zap.Bool("completed", completed),
	)
	query := `UPDATE tasks SET completed = $2, updated_at = NOW() WHERE id = $1`
	result, err := tx.Exec(ctx, query, taskID, completed)
	if err != nil {
		r.logger.Error("Failed to set task completion", zap.Error(err), zap.Int64("task_id", taskID))
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	r.logger.Info("Task completion updated",
		zap.Int64("task_id", taskID),
		zap.Bool("completed", completed),
	)
	return nil
}

func (r *TaskRepository) DeleteTx(ctx context.Context, tx pgx.Tx, taskID int64) error {
	r.logger.Debug("Deleting task", zap.Int64("task_id", taskID))
	result, err := tx.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, taskID)
	if err != nil {
		r.logger.Error("Failed to delete task", zap.Error(err), zap.Int64("task_id", taskID))
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// DeleteSeriesTx removes the anchor task and every generated instance.
func (r *TaskRepository) DeleteSeriesTx(ctx context.Context, tx pgx.Tx, parentTaskID int64) (int64, error) {
	r.logger.Debug("Deleting task series", zap.Int64("parent_task_id", parentTaskID))
	result, err := tx.Exec(ctx,
		`DELETE FROM tasks WHERE id = $1 OR parent_task_id = $1`, parentTaskID)
	if err != nil {
		r.logger.Error("Failed to delete task series",
			zap.Error(err),
			zap.Int64("parent_task_id", parentTaskID),
		)
		return 0, err
	}
	deleted := result.RowsAffected()
	r.logger.Info("Task series deleted",
		zap.Int64("parent_task_id", parentTaskID),
		zap.Int64("tasks_deleted", deleted),
	)
	return deleted, nil
}
