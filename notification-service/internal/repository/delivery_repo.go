package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// DeliveryAttempt is one try at sending a reminder notification.
type DeliveryAttempt struct {
	ID            int64     `json:"id"`
	ReminderID    int64     `json:"reminder_id"`
	TaskID        int64     `json:"task_id"`
	UserEmail     string    `json:"user_email"`
	AttemptNumber int       `json:"attempt_number"`
	Status        string    `json:"status"` // success / failed
	ErrorMessage  string    `json:"error_message,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type DeliveryRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewDeliveryRepository(db *pgxpool.Pool, logger *zap.Logger) *DeliveryRepository {
	return &DeliveryRepository{db: db, logger: logger}
}

func (r *DeliveryRepository) RecordAttempt(ctx context.Context, a *DeliveryAttempt) error {
	r.logger.Debug("Recording delivery attempt",
		zap.Int64("reminder_id", a.ReminderID),
		zap.Int("attempt_number", a.AttemptNumber),
		zap.String("status", a.Status),
	)
	query := `
        INSERT INTO notification_deliveries (reminder_id, task_id, user_email, attempt_number, status, error_message)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING id, created_at
    `
	err := r.db.QueryRow(ctx, query,
		a.ReminderID,
		a.TaskID,
		a.UserEmail,
		a.AttemptNumber,
		a.Status,
		a.ErrorMessage,
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		r.logger.Error("Failed to record delivery attempt",
			zap.Error(err),
			zap.Int64("reminder_id", a.ReminderID),
		)
		return err
	}
	return nil
}

// HasSuccessfulDelivery reports whether the reminder was already delivered.
// Used to short-circuit redelivered reminder.scheduled events.
func (r *DeliveryRepository) HasSuccessfulDelivery(ctx context.Context, reminderID int64) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM notification_deliveries WHERE reminder_id = $1 AND status = 'success')`
	if err := r.db.QueryRow(ctx, query, reminderID).Scan(&exists); err != nil {
		r.logger.Error("Failed to check delivery history",
			zap.Error(err),
			zap.Int64("reminder_id", reminderID),
		)
		return false, err
	}
	return exists, nil
}

// ListByReminder returns the attempt history, oldest first.
func (r *DeliveryRepository) ListByReminder(ctx context.Context, reminderID int64) ([]DeliveryAttempt, error) {
	query := `
        SELECT id, reminder_id, task_id, user_email, attempt_number, status, error_message, created_at
        FROM notification_deliveries
        WHERE reminder_id = $1
        ORDER BY attempt_number
    `
	rows, err := r.db.Query(ctx, query, reminderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	attempts := []DeliveryAttempt{}
	for rows.Next() {
		var a DeliveryAttempt
		if err := rows.Scan(
			&a.ID,
			&a.ReminderID,
			&a.TaskID,
			&a.UserEmail,
			&a.AttemptNumber,
			&a.Status,
			&a.ErrorMessage,
			&a.CreatedAt,
		); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, nil
}
