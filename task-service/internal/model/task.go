package model

import "time"

// Task priorities.
const (
	PriorityLow    = "LOW"
	PriorityMedium = "MEDIUM"
	PriorityHigh   = "HIGH"
)

type Task struct {
	ID               int64      `json:"id"`
	UserID           int64      `json:"user_id"`
	Title            string     `json:"title"`
	Description      string     `json:"description"`
	Priority         string     `json:"priority"`
	DueDate          *time.Time `json:"due_date,omitempty"`
	Completed        bool       `json:"completed"`
	IsRecurring      bool       `json:"is_recurring"`
	RecurrenceRuleID *int64     `json:"recurrence_rule_id,omitempty"`
	ParentTaskID     *int64     `json:"parent_task_id,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// SeriesParentID returns the id anchoring this task's recurring series:
// the original task's id, carried on every generated instance.
func (t *Task) SeriesParentID() int64 {
	if t.ParentTaskID != nil {
		return *t.ParentTaskID
	}
	return t.ID
}
