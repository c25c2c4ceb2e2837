// Package events announces committed booking changes to other services.
package events

import (
	"context"
	"time"

	"slotkeeper/pkg/model"

	"github.com/google/uuid"
)

const (
	TypeBookingCreated   = "booking.created"
	TypeBookingCancelled = "booking.cancelled"

	SchemaVersion = "1"
	Source        = "slotkeeper-bookings"
)

type Event struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	OccurredAt time.Time      `json:"occurred_at"`
	ActorID    string         `json:"actor_id"`
	Booking    *model.Booking `json:"booking"`
}

func New(eventType, actorID string, booking *model.Booking, at time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: at.UTC(),
		ActorID:    actorID,
		Booking:    booking.Clone(),
	}
}

// Key partitions events by resource so consumers see one resource in order.
func (e Event) Key() string {
	if e.Booking == nil {
		return ""
	}
	return e.Booking.ResourceID
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

type nopPublisher struct{}

// Nop discards every event.
func Nop() Publisher { return nopPublisher{} }

func (nopPublisher) Publish(context.Context, Event) error { return nil }
func (nopPublisher) Close() error                         { return nil }
