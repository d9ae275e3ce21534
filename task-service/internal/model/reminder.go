package model

import "time"

// Reminder statuses. Transitions are one-way: pending -> sent | failed.
const (
	ReminderStatusPending = "pending"
	ReminderStatusSent    = "sent"
	ReminderStatusFailed  = "failed"
)

// Reminder types.
const (
	ReminderType15Min  = "15min"
	ReminderType1Hr    = "1hr"
	ReminderType1Day   = "1day"
	ReminderType1Week  = "1week"
	ReminderTypeCustom = "custom"
)

type Reminder struct {
	ID            int64     `json:"id"`
	TaskID        int64     `json:"task_id"`
	UserID        int64     `json:"user_id"`
	ScheduledTime time.Time `json:"scheduled_time"`
	ReminderType  string    `json:"reminder_type"`
	OffsetMinutes int       `json:"offset_minutes,omitempty"`
	Status        string    `json:"status"`
	JobID         string    `json:"job_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
