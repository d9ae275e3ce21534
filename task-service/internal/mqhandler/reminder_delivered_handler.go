package mqhandler

import (
	"context"
	"encoding/json"

	mqcontracts "taskloop/contracts/mq"
	"taskloop/pkg/util"
	"taskloop/task-service/internal/model"

	"go.uber.org/zap"
)

// ReminderOutcomeRecorder records terminal delivery outcomes.
// *service.TaskService satisfies it.
type ReminderOutcomeRecorder interface {
	MarkReminderOutcome(ctx context.Context, reminderID int64, status string) error
}

// EventDeduper suppresses duplicate deliveries by event id. Release undoes
// an acquire so a retryable failure can be redelivered; *util.Deduper
// satisfies it.
type EventDeduper interface {
	AcquireOnce(ctx context.Context, handler, key string) bool
	Release(ctx context.Context, handler, key string)
}

// ReminderDeliveredHandler consumes reminder.delivered and records the
// terminal delivery outcome on the reminder row.
type ReminderDeliveredHandler struct {
	svc     ReminderOutcomeRecorder
	deduper EventDeduper
	logger  *zap.Logger
}

func NewReminderDeliveredHandler(svc ReminderOutcomeRecorder, deduper EventDeduper, logger *zap.Logger) *ReminderDeliveredHandler {
	return &ReminderDeliveredHandler{svc: svc, deduper: deduper, logger: logger}
}

func (h *ReminderDeliveredHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	var evt mqcontracts.ReminderDeliveredEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		// Broken payload: requeueing would redeliver the same bytes forever.
		h.logger.Error("Failed to unmarshal ReminderDeliveredEvent, dropping",
			zap.Error(err),
			zap.String("raw_payload", string(raw)),
		)
		return nil
	}

	if h.deduper != nil && evt.EventID != "" {
		if !h.deduper.AcquireOnce(ctx, "reminder_delivered", evt.EventID) {
			return nil
		}
	}

	h.logger.Info("Handling reminder.delivered event",
		zap.Int64("reminder_id", evt.ReminderID),
		zap.String("delivery_status", evt.DeliveryStatus),
		zap.Int("attempt_number", evt.AttemptNumber),
	)

	var status string
	switch evt.DeliveryStatus {
	case mqcontracts.DeliveryStatusSent:
		status = model.ReminderStatusSent
	case mqcontracts.DeliveryStatusFailed:
		status = model.ReminderStatusFailed
	default:
		h.logger.Warn("Unknown delivery status, dropping event",
			zap.String("delivery_status", evt.DeliveryStatus),
		)
		return nil
	}

	if err := h.svc.MarkReminderOutcome(ctx, evt.ReminderID, status); err != nil {
		isRetryable, errType := util.IsRetryableError(err)
		h.logger.Error("Failed to record reminder outcome",
			zap.Int64("reminder_id", evt.ReminderID),
			zap.String("error_type", errType),
			zap.Bool("retryable", isRetryable),
			zap.Error(err),
		)
		if !isRetryable {
			return nil
		}
		// Drop the dedup key so the redelivery is processed, not skipped.
		if h.deduper != nil && evt.EventID != "" {
			h.deduper.Release(ctx, "reminder_delivered", evt.EventID)
		}
		return err
	}
	return nil
}
