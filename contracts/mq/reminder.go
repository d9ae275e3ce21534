package mq

import "time"

// ReminderInfo is everything the notification worker needs to deliver a
// reminder without calling back into the task service.
type ReminderInfo struct {
	ID            int64     `json:"id"`
	TaskID        int64     `json:"task_id"`
	TaskTitle     string    `json:"task_title"`
	ScheduledTime time.Time `json:"scheduled_time"`
	ReminderType  string    `json:"reminder_type"` // 15min / 1hr / 1day / 1week / custom
	UserEmail     string    `json:"user_email"`
}

type ReminderScheduledEvent struct {
	EventMeta
	Reminder ReminderInfo `json:"reminder"`
}

// Delivery statuses on ReminderDeliveredEvent.
const (
	DeliveryStatusSent   = "sent"
	DeliveryStatusFailed = "failed"
)

type ReminderDeliveredEvent struct {
	EventMeta
	ReminderID     int64  `json:"reminder_id"`
	TaskID         int64  `json:"task_id"`
	DeliveryStatus string `json:"delivery_status"`
	AttemptNumber  int    `json:"attempt_number"`
	ErrorMessage   string `json:"error_message,omitempty"`
}
