package model

import (
	"errors"
	"time"
)

type BookingStatus string

const (
	BookingStatusActive    BookingStatus = "active"
	BookingStatusCancelled BookingStatus = "cancelled"
)

var ErrAlreadyCancelled = errors.New("booking is already cancelled")

// bookingTransitions is the only place status changes are allowed.
var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingStatusActive: {BookingStatusCancelled},
}

func (s BookingStatus) Valid() bool {
	return s == BookingStatusActive || s == BookingStatusCancelled
}

func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	for _, allowed := range bookingTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Booking occupies the half-open interval [StartAt, EndAt) on a resource.
type Booking struct {
	ID          string        `json:"id" bson:"_id"`
	ResourceID  string        `json:"resource_id" bson:"resource_id"`
	UserID      string        `json:"user_id" bson:"user_id"`
	StartAt     time.Time     `json:"start_at" bson:"start_at"`
	EndAt       time.Time     `json:"end_at" bson:"end_at"`
	Status      BookingStatus `json:"status" bson:"status"`
	CreatedAt   time.Time     `json:"created_at" bson:"created_at"`
	CancelledAt *time.Time    `json:"cancelled_at" bson:"cancelled_at,omitempty"`
}

func (b *Booking) IsActive() bool {
	return b.Status == BookingStatusActive
}

// OwnedBy reports whether userID created the booking.
func (b *Booking) OwnedBy(userID string) bool {
	return userID != "" && b.UserID == userID
}

// Cancel moves the booking to cancelled and stamps CancelledAt. It fails with
// ErrAlreadyCancelled instead of acting as a no-op.
func (b *Booking) Cancel(at time.Time) error {
	if !b.Status.CanTransitionTo(BookingStatusCancelled) {
		return ErrAlreadyCancelled
	}
	at = at.UTC()
	b.Status = BookingStatusCancelled
	b.CancelledAt = &at
	return nil
}

func (b *Booking) Clone() *Booking {
	if b == nil {
		return nil
	}
	c := *b
	if b.CancelledAt != nil {
		at := *b.CancelledAt
		c.CancelledAt = &at
	}
	return &c
}

// BookingFilter narrows listings. Zero values mean "no filter".
type BookingFilter struct {
	ResourceID string
	DateFrom   *time.Time
	DateTo     *time.Time
	Status     BookingStatus
}

// Matches applies the listing predicate in memory: end_at > DateFrom and
// start_at < DateTo.
func (f BookingFilter) Matches(b *Booking) bool {
	if f.ResourceID != "" && b.ResourceID != f.ResourceID {
		return false
	}
	if f.Status != "" && b.Status != f.Status {
		return false
	}
	if f.DateFrom != nil && !b.EndAt.After(*f.DateFrom) {
		return false
	}
	if f.DateTo != nil && !b.StartAt.Before(*f.DateTo) {
		return false
	}
	return true
}
