package model

import "time"

// CreateBookingRequest is the body of POST /api/v1/bookings.
type CreateBookingRequest struct {
	ResourceID string     `json:"resource_id" validate:"required,max=64,resource_id"`
	StartAt    *time.Time `json:"start_at" validate:"required"`
	EndAt      *time.Time `json:"end_at" validate:"required"`
}

// BookingQuery carries listing filters after the transport has parsed them.
type BookingQuery struct {
	ResourceID string     `json:"resource" validate:"omitempty,max=64,resource_id"`
	DateFrom   *time.Time `json:"date_from"`
	DateTo     *time.Time `json:"date_to"`
	Status     string     `json:"status" validate:"omitempty,oneof=active cancelled"`
}

func (q BookingQuery) Filter() BookingFilter {
	return BookingFilter{
		ResourceID: q.ResourceID,
		DateFrom:   q.DateFrom,
		DateTo:     q.DateTo,
		Status:     BookingStatus(q.Status),
	}
}
