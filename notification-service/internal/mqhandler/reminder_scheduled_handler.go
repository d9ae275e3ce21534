package mqhandler

import (
	"context"
	"encoding/json"

	mqcontracts "taskloop/contracts/mq"
	"taskloop/notification-service/internal/service"
	"taskloop/pkg/util"

	"go.uber.org/zap"
)

// EventDeduper suppresses duplicate deliveries by event id. Release undoes
// an acquire so a retryable failure can be redelivered; *util.Deduper
// satisfies it.
type EventDeduper interface {
	AcquireOnce(ctx context.Context, handler, key string) bool
	Release(ctx context.Context, handler, key string)
}

// ReminderScheduledHandler consumes reminder.scheduled and hands delivery
// off to the worker. The message is acked as soon as the hand-off happens:
// retry pacing lives in the worker, not in MQ redelivery.
type ReminderScheduledHandler struct {
	worker  *service.DeliveryWorker
	store   service.AttemptStore
	deduper EventDeduper
	logger  *zap.Logger
}

func NewReminderScheduledHandler(
	worker *service.DeliveryWorker,
	store service.AttemptStore,
	deduper EventDeduper,
	logger *zap.Logger,
) *ReminderScheduledHandler {
	return &ReminderScheduledHandler{
		worker:  worker,
		store:   store,
		deduper: deduper,
		logger:  logger,
	}
}

func (h *ReminderScheduledHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	var evt mqcontracts.ReminderScheduledEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		// The payload itself is broken: requeueing would redeliver the same
		// bytes forever, so ack and drop.
		h.logger.Error("Failed to unmarshal ReminderScheduledEvent, dropping",
			zap.Error(err),
			zap.String("raw_payload", string(raw)),
		)
		return nil
	}

	if evt.Reminder.ID == 0 || evt.Reminder.UserEmail == "" {
		h.logger.Error("Malformed reminder.scheduled event, dropping",
			zap.String("event_id", evt.EventID),
			zap.Int64("reminder_id", evt.Reminder.ID),
		)
		return nil
	}

	if h.deduper != nil && evt.EventID != "" {
		if !h.deduper.AcquireOnce(ctx, "reminder_scheduled", evt.EventID) {
			return nil
		}
	}

	// Dedup fails open, so double-check the audit trail before sending the
	// same reminder twice.
	delivered, err := h.store.HasSuccessfulDelivery(ctx, evt.Reminder.ID)
	if err != nil {
		isRetryable, errType := util.IsRetryableError(err)
		h.logger.Error("Failed to check delivery history",
			zap.Error(err),
			zap.String("error_type", errType),
			zap.Int64("reminder_id", evt.Reminder.ID),
		)
		if isRetryable {
			if h.deduper != nil && evt.EventID != "" {
				h.deduper.Release(ctx, "reminder_scheduled", evt.EventID)
			}
			return err
		}
	}
	if delivered {
		h.logger.Info("Reminder already delivered, skipping",
			zap.Int64("reminder_id", evt.Reminder.ID),
		)
		return nil
	}

	h.logger.Info("Handling reminder.scheduled event",
		zap.String("event_id", evt.EventID),
		zap.Int64("reminder_id", evt.Reminder.ID),
		zap.Int64("task_id", evt.Reminder.TaskID),
		zap.String("user_email", evt.Reminder.UserEmail),
	)

	h.worker.Dispatch(evt.Reminder, evt.UserID)
	return nil
}
