package mq

import (
	"time"

	"github.com/google/uuid"
)

// Routing keys for every event this system publishes or consumes.
const (
	TopicTaskCreated       = "task.created"
	TopicTaskUpdated       = "task.updated"
	TopicTaskCompleted     = "task.completed"
	TopicTaskDeleted       = "task.deleted"
	TopicReminderScheduled = "reminder.scheduled"
	TopicReminderDelivered = "reminder.delivered"
)

// EventMeta is the envelope shared by every domain event. EventID is unique
// per publish and is the consumer-side dedup key; the same logical fact
// re-published gets a fresh EventID, a redelivered message keeps its own.
type EventMeta struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	UserID    int64     `json:"user_id"`
}

// NewEventMeta stamps a fresh event id and a UTC timestamp.
func NewEventMeta(eventType string, userID int64) EventMeta {
	return EventMeta{
		EventID:   uuid.NewString(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		UserID:    userID,
	}
}
