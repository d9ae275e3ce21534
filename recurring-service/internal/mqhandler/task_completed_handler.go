package mqhandler

import (
	"context"
	"encoding/json"
	"fmt"

	mqcontracts "taskloop/contracts/mq"
	"taskloop/pkg/util"
	"taskloop/recurring-service/internal/service"

	"go.uber.org/zap"
)

const maxRetries = 5

// DLQPublisher receives messages this handler gives up on.
type DLQPublisher interface {
	PublishToDLQ(routingKey, service string, payload []byte, originalError string) error
}

// EventDeduper suppresses duplicate deliveries by event id. Release undoes
// an acquire so a retryable failure can be redelivered; *util.Deduper
// satisfies it.
type EventDeduper interface {
	AcquireOnce(ctx context.Context, handler, key string) bool
	Release(ctx context.Context, handler, key string)
}

// TaskCompletedHandler consumes task.completed and drives next-instance
// generation through the coordinator.
type TaskCompletedHandler struct {
	coordinator  *service.Coordinator
	deduper      EventDeduper
	retryCounter *util.RetryCounter
	dlq          DLQPublisher
	logger       *zap.Logger
}

func NewTaskCompletedHandler(
	coordinator *service.Coordinator,
	deduper EventDeduper,
	retryCounter *util.RetryCounter,
	dlq DLQPublisher,
	logger *zap.Logger,
) *TaskCompletedHandler {
	return &TaskCompletedHandler{
		coordinator:  coordinator,
		deduper:      deduper,
		retryCounter: retryCounter,
		dlq:          dlq,
		logger:       logger,
	}
}

func (h *TaskCompletedHandler) sendToDLQ(payload []byte, originalErr error) {
	if h.dlq == nil {
		return
	}
	if err := h.dlq.PublishToDLQ("task.completed", "recurring-service", payload, originalErr.Error()); err != nil {
		h.logger.Error("Failed to publish to DLQ", zap.Error(err))
	}
}

// Handle is idempotent: generation downstream is keyed by (parent, due date)
// so even when dedup fails open a redelivery creates nothing new. Returns an
// error only for retryable failures under the retry budget.
func (h *TaskCompletedHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("Panic in task.completed handler", zap.Any("panic", r))
		}
	}()

	var evt mqcontracts.TaskCompletedEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		h.logger.Error("Failed to unmarshal TaskCompletedEvent (non-retryable, sending to DLQ)",
			zap.Error(err),
			zap.String("raw_payload", string(raw)),
		)
		h.sendToDLQ(raw, fmt.Errorf("json_unmarshal_error: %w", err))
		return nil
	}

	if h.deduper != nil && evt.EventID != "" {
		if !h.deduper.AcquireOnce(ctx, "task_completed", evt.EventID) {
			return nil
		}
	}

	h.logger.Info("Handling task.completed event",
		zap.String("event_id", evt.EventID),
		zap.Int64("task_id", evt.Task.ID),
		zap.Bool("is_recurring", evt.Task.IsRecurring),
	)

	err := h.coordinator.HandleCompletedTask(ctx, evt.Task)
	if err == nil {
		if h.retryCounter != nil && evt.EventID != "" {
			h.retryCounter.Reset(ctx, util.FormatRetryKey("task_completed", evt.EventID))
		}
		return nil
	}

	isRetryable, errType := util.IsRetryableError(err)
	h.logger.Error("Failed to handle task.completed",
		zap.String("event_id", evt.EventID),
		zap.Int64("task_id", evt.Task.ID),
		zap.String("error_type", errType),
		zap.Bool("retryable", isRetryable),
		zap.Error(err),
	)
	if !isRetryable {
		return nil
	}

	if h.retryCounter != nil && evt.EventID != "" {
		retryKey := util.FormatRetryKey("task_completed", evt.EventID)
		retryCount, cntErr := h.retryCounter.IncrementAndGet(ctx, retryKey)
		if cntErr != nil {
			h.logger.Warn("Failed to get retry count, continuing anyway", zap.Error(cntErr))
			retryCount = 1
		}
		if retryCount > maxRetries {
			h.logger.Warn("Max retries exceeded for task.completed, sending to DLQ",
				zap.String("event_id", evt.EventID),
				zap.Int64("retry_count", retryCount),
			)
			h.sendToDLQ(raw, err)
			h.retryCounter.Reset(ctx, retryKey)
			return nil
		}
	}

	// The dedup key was set on the way in; drop it so the redelivery of
	// this event is processed instead of skipped as a duplicate.
	if h.deduper != nil && evt.EventID != "" {
		h.deduper.Release(ctx, "task_completed", evt.EventID)
	}
	return err
}
