package repository

import (
	"context"
	"errors"
	"time"

	"taskloop/task-service/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var ErrRuleNotFound = errors.New("recurrence rule not found")

type RecurrenceRuleRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewRecurrenceRuleRepository(db *pgxpool.Pool, logger *zap.Logger) *RecurrenceRuleRepository {
	return &RecurrenceRuleRepository{db: db, logger: logger}
}

const ruleColumns = `id, user_id, frequency, interval, end_date, occurrence_count,
	current_count, last_generated_due_date, created_at, updated_at`

func scanRule(row pgx.Row) (*model.RecurrenceRule, error) {
	var rule model.RecurrenceRule
	err := row.Scan(
		&rule.ID,
		&rule.UserID,
		&rule.Frequency,
		&rule.Interval,
		&rule.EndDate,
		&rule.OccurrenceCount,
		&rule.CurrentCount,
		&rule.LastGeneratedDueDate,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

func (r *RecurrenceRuleRepository) InsertTx(ctx context.Context, tx pgx.Tx, rule *model.RecurrenceRule) (int64, error) {
	r.logger.Debug("Inserting recurrence rule",
		zap.Int64("user_id", rule.UserID),
		zap.String("frequency", rule.Frequency),
		zap.Int("interval", rule.Interval),
	)
	query := `
        INSERT INTO recurrence_rules (user_id, frequency, interval, end_date, occurrence_count, current_count)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING id, created_at, updated_at
    `
	err := tx.QueryRow(ctx, query,
		rule.UserID,
		rule.Frequency,
		rule.Interval,
		rule.EndDate,
		rule.OccurrenceCount,
		rule.CurrentCount,
	).Scan(&rule.ID, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		r.logger.Error("Failed to insert recurrence rule",
			zap.Error(err),
			zap.Int64("user_id", rule.UserID),
		)
		return 0, err
	}
	r.logger.Info("Recurrence rule inserted", zap.Int64("rule_id", rule.ID))
	return rule.ID, nil
}

func (r *RecurrenceRuleRepository) GetByID(ctx context.Context, id int64) (*model.RecurrenceRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM recurrence_rules WHERE id = $1`
	rule, err := scanRule(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRuleNotFound
		}
		r.logger.Error("Failed to get recurrence rule", zap.Error(err), zap.Int64("rule_id", id))
		return nil, err
	}
	return rule, nil
}

// Advance bumps the rule's occurrence counter and records the due date the
// counter was bumped for. The WHERE guard makes redeliveries harmless: an
// advance for a due date at or before the last generated one matches no
// rows, and the current row is returned unchanged.
func (r *RecurrenceRuleRepository) Advance(ctx context.Context, id int64, generatedDueDate time.Time) (*model.RecurrenceRule, error) {
	r.logger.Debug("Advancing recurrence rule",
		zap.Int64("rule_id", id),
		zap.Time("generated_due_date", generatedDueDate),
	)
	query := `
        UPDATE recurrence_rules
        SET current_count = current_count + 1,
            last_generated_due_date = $2,
            updated_at = NOW()
        WHERE id = $1
          AND (last_generated_due_date IS NULL OR last_generated_due_date < $2)
        RETURNING ` + ruleColumns + `
    `
	rule, err := scanRule(r.db.QueryRow(ctx, query, id, generatedDueDate))
	if err == nil {
		r.logger.Info("Recurrence rule advanced",
			zap.Int64("rule_id", id),
			zap.Int("current_count", rule.CurrentCount),
		)
		return rule, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		r.logger.Error("Failed to advance recurrence rule", zap.Error(err), zap.Int64("rule_id", id))
		return nil, err
	}

	// Already advanced past this due date, or the rule is gone.
	rule, getErr := r.GetByID(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	r.logger.Info("Recurrence rule already advanced, skipping",
		zap.Int64("rule_id", id),
		zap.Time("generated_due_date", generatedDueDate),
	)
	return rule, nil
}

func (r *RecurrenceRuleRepository) DeleteTx(ctx context.Context, tx pgx.Tx, id int64) error {
	r.logger.Debug("Deleting recurrence rule", zap.Int64("rule_id", id))
	_, err := tx.Exec(ctx, `DELETE FROM recurrence_rules WHERE id = $1`, id)
	if err != nil {
		r.logger.Error("Failed to delete recurrence rule", zap.Error(err), zap.Int64("rule_id", id))
		return err
	}
	return nil
}
