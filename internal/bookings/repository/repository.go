package repository

import (
	"context"
	"fmt"
	"sort"
	"time"

	"slotkeeper/pkg/config"
	"slotkeeper/pkg/model"
)

// Tx is the view of the store available inside a locked critical section.
// Writes made through it commit together when the callback returns nil.
type Tx interface {
	ActiveInRange(ctx context.Context, resourceID string, start, end time.Time) ([]*model.Booking, error)
	Insert(ctx context.Context, booking *model.Booking) error
	MarkCancelled(ctx context.Context, id string, at time.Time) error
}

// ResourceTxFunc runs while the resource is exclusively locked.
type ResourceTxFunc func(ctx context.Context, tx Tx) error

// BookingTxFunc runs while the booking row is exclusively locked. booking is
// the locked row as read inside the transaction.
type BookingTxFunc func(ctx context.Context, tx Tx, booking *model.Booking) error

type BookingRepository interface {
	// WithResourceLock fails with ErrResourceNotFound before calling fn when
	// the resource does not exist.
	WithResourceLock(ctx context.Context, resourceID string, fn ResourceTxFunc) error
	// WithBookingLock fails with ErrNotFound before calling fn when the
	// booking does not exist.
	WithBookingLock(ctx context.Context, bookingID string, fn BookingTxFunc) error
	FindByID(ctx context.Context, id string) (*model.Booking, error)
	Search(ctx context.Context, filter model.BookingFilter, limit int, offset int64) ([]*model.Booking, error)
	Count(ctx context.Context, filter model.BookingFilter) (int64, error)
	Ping(ctx context.Context) error
}

type ResourceRepository interface {
	CreateResource(ctx context.Context, resource *model.Resource) error
	FindResource(ctx context.Context, id string) (*model.Resource, error)
}

// Store is what a backend provides to the service and the migrate tool.
type Store interface {
	BookingRepository
	ResourceRepository
}

// sortBookings applies the listing order: start_at, created_at, id.
func sortBookings(bookings []*model.Booking) {
	sort.Slice(bookings, func(i, j int) bool {
		a, b := bookings[i], bookings[j]
		if !a.StartAt.Equal(b.StartAt) {
			return a.StartAt.Before(b.StartAt)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// Open returns the store selected by cfg.StoreDriver. Connections must already
// be established through cfg.ConnectStore.
func Open(cfg *config.Config) (Store, error) {
	switch cfg.StoreDriver {
	case config.StoreMemory:
		return NewMemoryStore(cfg.LockTimeout), nil
	case config.StoreMongo:
		if cfg.Client.Mongo == nil {
			return nil, fmt.Errorf("mongo store selected but no client is connected")
		}
		return NewMongoStore(cfg), nil
	case config.StorePostgres, config.StoreMySQL:
		if cfg.Client.SQL == nil {
			return nil, fmt.Errorf("%s store selected but no database is connected", cfg.StoreDriver)
		}
		return NewSQLStore(cfg.Client.SQL, cfg.Client.SQLDriver, cfg.LockTimeout)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
