package events

import (
	"time"

	"courier-dispatch/internal/redispatch"
)

// Event types
const (
	TypeCreated    = "created"
	TypeRedispatch = "redispatch"
	TypeCancelled  = "cancelled"
	TypeCompleted  = "completed"
)

// Event is a single delivery event
type Event struct {
	Type       string
	DeliveryID string
	Reason     string
	Attempt    int
	OccurredAt time.Time
}

// FromTask turns a redispatch task into the event published for it.
func FromTask(t redispatch.Task) Event {
	return Event{
		Type:       TypeRedispatch,
		DeliveryID: t.DeliveryID,
		Reason:     t.Reason,
		Attempt:    t.Attempt,
		OccurredAt: t.EnqueuedAt,
	}
}

// Task is the redispatch task carried by a redispatch event.
func (e Event) Task() redispatch.Task {
	return redispatch.Task{
		DeliveryID: e.DeliveryID,
		Reason:     e.Reason,
		Attempt:    e.Attempt,
		EnqueuedAt: e.OccurredAt,
	}
}
