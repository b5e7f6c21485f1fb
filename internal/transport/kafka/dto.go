package kafka

import (
	"strings"
	"time"

	"courier-dispatch/internal/service/events"
)

// EventDTO is a data transfer object for events.Event
type EventDTO struct {
	EventType  string    `json:"event_type"`
	DeliveryID string    `json:"delivery_id"`
	Reason     string    `json:"reason,omitempty"`
	Attempt    int       `json:"attempt,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ToDomain converts EventDTO to events.Event
func ToDomain(dto EventDTO) events.Event {
	return events.Event{
		Type:       strings.TrimSpace(dto.EventType),
		DeliveryID: strings.TrimSpace(dto.DeliveryID),
		Reason:     strings.TrimSpace(dto.Reason),
		Attempt:    dto.Attempt,
		OccurredAt: dto.OccurredAt,
	}
}

// FromDomain converts events.Event to EventDTO
func FromDomain(e events.Event) EventDTO {
	return EventDTO{
		EventType:  e.Type,
		DeliveryID: e.DeliveryID,
		Reason:     e.Reason,
		Attempt:    e.Attempt,
		OccurredAt: e.OccurredAt.UTC(),
	}
}
