package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqcontracts "taskloop/contracts/mq"
	"taskloop/notification-service/internal/repository"
	"taskloop/pkg/metrics"

	"go.uber.org/zap"
)

// DefaultRetryDelays spaces the delivery attempts: immediately, after five
// minutes, after fifteen more.
var DefaultRetryDelays = []time.Duration{0, 5 * time.Minute, 15 * time.Minute}

// AttemptStore persists the delivery audit trail.
// *repository.DeliveryRepository satisfies it.
type AttemptStore interface {
	RecordAttempt(ctx context.Context, a *repository.DeliveryAttempt) error
	HasSuccessfulDelivery(ctx context.Context, reminderID int64) (bool, error)
}

// EventPublisher reports terminal outcomes back to the task service.
// *events.Publisher satisfies it.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

// DeliveryWorker sends reminder emails with spaced retries. Each reminder
// gets its own goroutine so a reminder waiting out a retry delay never
// blocks the consumer or other reminders.
type DeliveryWorker struct {
	sender    EmailSender
	store     AttemptStore
	publisher EventPublisher
	delays    []time.Duration
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewDeliveryWorker(
	sender EmailSender,
	store AttemptStore,
	publisher EventPublisher,
	delays []time.Duration,
	logger *zap.Logger,
) *DeliveryWorker {
	if len(delays) == 0 {
		delays = DefaultRetryDelays
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &DeliveryWorker{
		sender:    sender,
		store:     store,
		publisher: publisher,
		delays:    delays,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Dispatch starts the delivery sequence for one reminder and returns
// immediately.
func (w *DeliveryWorker) Dispatch(rem mqcontracts.ReminderInfo, userID int64) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				w.logger.Error("Panic in delivery goroutine",
					zap.Any("panic", r),
					zap.Int64("reminder_id", rem.ID),
				)
			}
		}()
		w.deliver(rem, userID)
	}()
}

// Stop cancels in-flight retry waits and blocks until every delivery
// goroutine has finished.
func (w *DeliveryWorker) Stop() {
	w.cancel()
	w.wg.Wait()
}

func (w *DeliveryWorker) deliver(rem mqcontracts.ReminderInfo, userID int64) {
	subject := fmt.Sprintf("Reminder: %s", rem.TaskTitle)
	body := fmt.Sprintf(
		"This is your reminder for the task %q.\n\nScheduled reminder time: %s\n",
		rem.TaskTitle,
		rem.ScheduledTime.Format(time.RFC1123),
	)

	var lastErr error
	for attempt := 1; attempt <= len(w.delays); attempt++ {
		if !w.wait(w.delays[attempt-1]) {
			w.logger.Warn("Delivery abandoned during shutdown",
				zap.Int64("reminder_id", rem.ID),
				zap.Int("attempt_number", attempt),
			)
			return
		}

		lastErr = w.sender.Send(rem.UserEmail, subject, body)
		w.recordAttempt(rem, attempt, lastErr)

		if lastErr == nil {
			metrics.RecordDeliveryAttempt("success")
			metrics.RecordDeliveryOutcome("sent")
			w.logger.Info("Reminder delivered",
				zap.Int64("reminder_id", rem.ID),
				zap.Int("attempt_number", attempt),
				zap.String("user_email", rem.UserEmail),
			)
			w.publishOutcome(rem, userID, mqcontracts.DeliveryStatusSent, attempt, "")
			return
		}

		metrics.RecordDeliveryAttempt("failed")
		w.logger.Warn("Delivery attempt failed",
			zap.Int64("reminder_id", rem.ID),
			zap.Int("attempt_number", attempt),
			zap.Int("max_attempts", len(w.delays)),
			zap.Error(lastErr),
		)
	}

	metrics.RecordDeliveryOutcome("failed")
	w.logger.Error("Reminder delivery failed permanently",
		zap.Int64("reminder_id", rem.ID),
		zap.Int("attempts", len(w.delays)),
		zap.Error(lastErr),
	)
	w.publishOutcome(rem, userID, mqcontracts.DeliveryStatusFailed, len(w.delays), lastErr.Error())
}

// wait sleeps for the delay, returning false if the worker is stopping.
func (w *DeliveryWorker) wait(delay time.Duration) bool {
	if delay <= 0 {
		return w.ctx.Err() == nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-w.ctx.Done():
		return false
	}
}

func (w *DeliveryWorker) recordAttempt(rem mqcontracts.ReminderInfo, attempt int, sendErr error) {
	status := "success"
	errMsg := ""
	if sendErr != nil {
		status = "failed"
		errMsg = sendErr.Error()
	}
	a := &repository.DeliveryAttempt{
		ReminderID:    rem.ID,
		TaskID:        rem.TaskID,
		UserEmail:     rem.UserEmail,
		AttemptNumber: attempt,
		Status:        status,
		ErrorMessage:  errMsg,
	}
	if err := w.store.RecordAttempt(w.ctx, a); err != nil {
		// The audit row is best-effort, delivery itself already happened.
		w.logger.Error("Failed to record delivery attempt",
			zap.Error(err),
			zap.Int64("reminder_id", rem.ID),
		)
	}
}

func (w *DeliveryWorker) publishOutcome(rem mqcontracts.ReminderInfo, userID int64, status string, attempt int, errMsg string) {
	evt := mqcontracts.ReminderDeliveredEvent{
		EventMeta:      mqcontracts.NewEventMeta(mqcontracts.TopicReminderDelivered, userID),
		ReminderID:     rem.ID,
		TaskID:         rem.TaskID,
		DeliveryStatus: status,
		AttemptNumber:  attempt,
		ErrorMessage:   errMsg,
	}
	if err := w.publisher.Publish(w.ctx, mqcontracts.TopicReminderDelivered, evt); err != nil {
		w.logger.Error("Failed to publish reminder.delivered",
			zap.Error(err),
			zap.Int64("reminder_id", rem.ID),
			zap.String("delivery_status", status),
		)
	}
}
