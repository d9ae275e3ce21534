package model

import "time"

// RecurrenceRule governs how a recurring series regenerates. CurrentCount
// only ever grows, and LastGeneratedDueDate is the idempotency marker for
// the advance operation: an advance for a due date that was already
// generated is a no-op.
type RecurrenceRule struct {
	ID                   int64      `json:"id"`
	UserID               int64      `json:"user_id"`
	Frequency            string     `json:"frequency"` // daily / weekly / monthly / yearly
	Interval             int        `json:"interval"`
	EndDate              *time.Time `json:"end_date,omitempty"`
	OccurrenceCount      *int       `json:"occurrence_count,omitempty"`
	CurrentCount         int        `json:"current_count"`
	LastGeneratedDueDate *time.Time `json:"last_generated_due_date,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}
