package mq

import "time"

// TaskSnapshot is the full task state carried on task lifecycle events.
// The recurring coordinator derives the next occurrence from this snapshot
// alone plus the rule it fetches, so the fields must stay complete.
type TaskSnapshot struct {
	ID               int64      `json:"id"`
	Title            string     `json:"title"`
	Description      string     `json:"description"`
	Priority         string     `json:"priority"` // LOW / MEDIUM / HIGH
	DueDate          *time.Time `json:"due_date,omitempty"`
	Completed        bool       `json:"completed"`
	IsRecurring      bool       `json:"is_recurring"`
	ParentTaskID     *int64     `json:"parent_task_id,omitempty"`
	RecurrenceRuleID *int64     `json:"recurrence_rule_id,omitempty"`
}

type TaskCreatedEvent struct {
	EventMeta
	Task TaskSnapshot `json:"task"`
}

type TaskUpdatedEvent struct {
	EventMeta
	Task TaskSnapshot `json:"task"`
}

type TaskCompletedEvent struct {
	EventMeta
	Task TaskSnapshot `json:"task"`
}

type TaskDeletedEvent struct {
	EventMeta
	TaskID       int64 `json:"task_id"`
	DeleteSeries bool  `json:"delete_series"`
}
