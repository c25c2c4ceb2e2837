package service

import (
	"context"
	"errors"
	"time"

	bookingserrors "slotkeeper/internal/bookings/errors"
	"slotkeeper/internal/bookings/events"
	"slotkeeper/internal/bookings/overlap"
	"slotkeeper/internal/bookings/repository"
	"slotkeeper/internal/bookings/validator"
	"slotkeeper/pkg/auth"
	"slotkeeper/pkg/clock"
	apperrors "slotkeeper/pkg/errors"
	"slotkeeper/pkg/logger"
	"slotkeeper/pkg/model"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	MsgOverlap          = "This resource already has an active booking in the given time range."
	MsgForbiddenCancel  = "You don't have permission to cancel this booking."
	MsgAlreadyCancelled = "Booking is already cancelled."
	MsgResourceNotFound = "Resource not found"
	MsgLockTimeout      = "Resource is busy, please retry"
	MsgInvalidPage      = "Invalid pagination window"

	DefaultMinDuration    = 15 * time.Minute
	DefaultPublishTimeout = 2 * time.Second
)

type BookingService interface {
	Create(ctx context.Context, caller auth.Identity, req *model.CreateBookingRequest) (*model.Booking, error)
	Cancel(ctx context.Context, caller auth.Identity, id string) (*model.Booking, error)
	GetByID(ctx context.Context, id string) (*model.Booking, error)
	List(ctx context.Context, q *model.BookingQuery, limit int, offset int64) ([]*model.Booking, int64, error)
}

// Options tune the booking rules. Zero values fall back to defaults.
type Options struct {
	MinDuration time.Duration
	// PublishTimeout bounds the post-commit event publish, which runs on the
	// request path after the booking is already durable.
	PublishTimeout time.Duration
}

type bookingService struct {
	repo           repository.BookingRepository
	validator      *validator.BookingValidator
	publisher      events.Publisher
	publishTimeout time.Duration
	clock          clock.Clock
	log            *logger.Logger
}

func NewBookingService(
	repo repository.BookingRepository,
	publisher events.Publisher,
	clk clock.Clock,
	log *logger.Logger,
	opts Options,
) BookingService {
	if opts.MinDuration <= 0 {
		opts.MinDuration = DefaultMinDuration
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = DefaultPublishTimeout
	}
	if publisher == nil {
		publisher = events.Nop()
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &bookingService{
		repo:           repo,
		validator:      validator.NewBookingValidator(log, opts.MinDuration),
		publisher:      publisher,
		publishTimeout: opts.PublishTimeout,
		clock:          clk,
		log:            log,
	}
}

// normalize stores instants in UTC at millisecond precision.
func normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

func (s *bookingService) Create(ctx context.Context, caller auth.Identity, req *model.CreateBookingRequest) (*model.Booking, error) {
	if caller.ID == "" {
		return nil, apperrors.Auth(auth.MsgMissingCredentials)
	}
	if req == nil {
		return nil, apperrors.Validation(validator.MsgInvalidRequest, nil)
	}
	if err := s.validator.ValidateCreate(req); err != nil {
		s.log.Warn("Booking validation failed", "user_id", caller.ID, "error", err)
		return nil, err
	}

	// Rules apply to the instants as sent; truncating first could stretch a
	// sub-millisecond short interval up to the minimum.
	if err := s.validator.ValidateInterval(*req.StartAt, *req.EndAt, s.clock.Now()); err != nil {
		s.log.Warn("Booking validation failed", "user_id", caller.ID, "error", err)
		return nil, err
	}
	start, end := normalize(*req.StartAt), normalize(*req.EndAt)

	booking := &model.Booking{
		ID:         uuid.NewString(),
		ResourceID: req.ResourceID,
		UserID:     caller.ID,
		StartAt:    start,
		EndAt:      end,
		Status:     model.BookingStatusActive,
	}

	err := s.repo.WithResourceLock(ctx, booking.ResourceID, func(ctx context.Context, tx repository.Tx) error {
		conflict, err := overlap.FindConflict(ctx, tx, booking.ResourceID, overlap.Of(booking))
		if err != nil {
			return err
		}
		if conflict != nil {
			return overlapError(booking)
		}
		booking.CreatedAt = normalize(s.clock.Now())
		return tx.Insert(ctx, booking)
	})
	if err != nil {
		return nil, s.mapStoreError(err, booking, "Failed to create booking")
	}

	s.log.Info("Booking created successfully",
		"id", booking.ID,
		"resource_id", booking.ResourceID,
		"user_id", booking.UserID,
		"start_at", booking.StartAt,
		"end_at", booking.EndAt,
	)
	s.publish(ctx, events.TypeBookingCreated, caller.ID, booking)
	return booking, nil
}

func (s *bookingService) Cancel(ctx context.Context, caller auth.Identity, id string) (*model.Booking, error) {
	if caller.ID == "" {
		return nil, apperrors.Auth(auth.MsgMissingCredentials)
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperrors.NotFoundWithID("Booking", id)
	}

	var cancelled *model.Booking
	err := s.repo.WithBookingLock(ctx, id, func(ctx context.Context, tx repository.Tx, booking *model.Booking) error {
		if !caller.CanActOnBehalfOf(booking.UserID) {
			return apperrors.Forbidden(MsgForbiddenCancel)
		}
		at := normalize(s.clock.Now())
		if err := booking.Cancel(at); err != nil {
			return err
		}
		if err := tx.MarkCancelled(ctx, booking.ID, at); err != nil {
			return err
		}
		cancelled = booking
		return nil
	})
	if err != nil {
		if apperrors.HasCode(err, apperrors.CodeForbidden) {
			s.log.Warn("Cancel denied", "id", id, "user_id", caller.ID)
		}
		return nil, s.mapStoreError(err, &model.Booking{ID: id}, "Failed to cancel booking")
	}

	s.log.Info("Booking cancelled",
		"id", cancelled.ID,
		"resource_id", cancelled.ResourceID,
		"cancelled_by", caller.ID,
		"admin", caller.IsAdmin && caller.ID != cancelled.UserID,
	)
	s.publish(ctx, events.TypeBookingCancelled, caller.ID, cancelled)
	return cancelled, nil
}

func (s *bookingService) GetByID(ctx context.Context, id string) (*model.Booking, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperrors.NotFoundWithID("Booking", id)
	}

	booking, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, bookingserrors.ErrNotFound) {
			return nil, apperrors.NotFoundWithID("Booking", id)
		}
		s.log.Error("Failed to retrieve booking", "id", id, "error", err)
		return nil, apperrors.Internal("Failed to retrieve booking", err)
	}
	return booking, nil
}

// List runs the count and the page fetch concurrently.
func (s *bookingService) List(ctx context.Context, q *model.BookingQuery, limit int, offset int64) ([]*model.Booking, int64, error) {
	if q == nil {
		q = &model.BookingQuery{}
	}
	if limit < 0 || offset < 0 {
		return nil, 0, apperrors.Validation(MsgInvalidPage, map[string]any{"limit": limit, "offset": offset})
	}
	if err := s.validator.ValidateQuery(q); err != nil {
		return nil, 0, err
	}
	filter := q.Filter()

	var (
		count    int64
		bookings []*model.Booking
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if count, err = s.repo.Count(gctx, filter); err != nil {
			s.log.Error("Failed to count bookings", "error", err)
			return apperrors.Internal("Failed to count bookings", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if bookings, err = s.repo.Search(gctx, filter, limit, offset); err != nil {
			s.log.Error("Failed to list bookings", "error", err)
			return apperrors.Internal("Failed to retrieve bookings", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	return bookings, count, nil
}

func overlapError(b *model.Booking) *apperrors.AppError {
	return apperrors.BusinessRule(MsgOverlap, map[string]any{
		"resource_id": b.ResourceID,
		"start_at":    b.StartAt.Format(time.RFC3339),
		"end_at":      b.EndAt.Format(time.RFC3339),
	})
}

// mapStoreError turns repository sentinels into client-facing errors. AppErrors
// raised inside the critical section pass through untouched.
func (s *bookingService) mapStoreError(err error, b *model.Booking, internalMsg string) error {
	var appErr *apperrors.AppError
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, bookingserrors.ErrResourceNotFound):
		return apperrors.Validation(MsgResourceNotFound, map[string]any{"resource_id": b.ResourceID})
	case errors.Is(err, bookingserrors.ErrTimeConflict):
		return overlapError(b)
	case errors.Is(err, bookingserrors.ErrNotFound):
		return apperrors.NotFoundWithID("Booking", b.ID)
	case errors.Is(err, model.ErrAlreadyCancelled):
		return apperrors.BusinessRule(MsgAlreadyCancelled, nil)
	case errors.Is(err, bookingserrors.ErrLockTimeout):
		s.log.Warn("Lock wait timed out", "id", b.ID, "resource_id", b.ResourceID, "error", err)
		return apperrors.LockTimeout(MsgLockTimeout, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return apperrors.RequestTimeout()
	default:
		s.log.Error(internalMsg, "id", b.ID, "resource_id", b.ResourceID, "error", err)
		return apperrors.Internal(internalMsg, err)
	}
}

// publish runs after commit, detached from the request's cancellation but
// bounded by publishTimeout. Failures are logged and never reach the caller.
func (s *bookingService) publish(ctx context.Context, eventType, actorID string, booking *model.Booking) {
	event := events.New(eventType, actorID, booking, s.clock.Now())

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishTimeout)
	defer cancel()

	if err := s.publisher.Publish(pctx, event); err != nil {
		s.log.Warn("Failed to publish booking event",
			"event_id", event.ID,
			"event_type", eventType,
			"booking_id", booking.ID,
			"error", err,
		)
	}
}
