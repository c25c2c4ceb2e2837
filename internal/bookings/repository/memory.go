package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	bookingserrors "slotkeeper/internal/bookings/errors"
	"slotkeeper/pkg/keylock"
	"slotkeeper/pkg/model"
)

// MemoryStore keeps everything in process. Critical sections are serialized
// per key through a keylock.Table and their writes are staged until the
// callback succeeds.
type MemoryStore struct {
	locks       *keylock.Table
	lockTimeout time.Duration

	mu        sync.RWMutex
	bookings  map[string]*model.Booking
	resources map[string]*model.Resource
}

func NewMemoryStore(lockTimeout time.Duration) *MemoryStore {
	return &MemoryStore{
		locks:       keylock.New(),
		lockTimeout: lockTimeout,
		bookings:    make(map[string]*model.Booking),
		resources:   make(map[string]*model.Resource),
	}
}

func resourceKey(id string) string { return "resource:" + id }
func bookingKey(id string) string  { return "booking:" + id }

func (s *MemoryStore) acquire(ctx context.Context, key string) (func(), error) {
	lockCtx := ctx
	if s.lockTimeout > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, s.lockTimeout)
		defer cancel()
	}

	unlock, err := s.locks.Lock(lockCtx, key)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", bookingserrors.ErrLockTimeout, key)
		}
		return nil, err
	}
	return unlock, nil
}

func (s *MemoryStore) WithResourceLock(ctx context.Context, resourceID string, fn ResourceTxFunc) error {
	unlock, err := s.acquire(ctx, resourceKey(resourceID))
	if err != nil {
		return err
	}
	defer unlock()

	s.mu.RLock()
	_, exists := s.resources[resourceID]
	s.mu.RUnlock()
	if !exists {
		return bookingserrors.ErrResourceNotFound
	}

	tx := newMemoryTx(s)
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.commit()
}

func (s *MemoryStore) WithBookingLock(ctx context.Context, bookingID string, fn BookingTxFunc) error {
	unlock, err := s.acquire(ctx, bookingKey(bookingID))
	if err != nil {
		return err
	}
	defer unlock()

	s.mu.RLock()
	current, exists := s.bookings[bookingID]
	locked := current.Clone()
	s.mu.RUnlock()
	if !exists {
		return bookingserrors.ErrNotFound
	}

	tx := newMemoryTx(s)
	if err := fn(ctx, tx, locked); err != nil {
		return err
	}
	return tx.commit()
}

func (s *MemoryStore) FindByID(_ context.Context, id string) (*model.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bookings[id]
	if !ok {
		return nil, bookingserrors.ErrNotFound
	}
	return b.Clone(), nil
}

func (s *MemoryStore) Search(_ context.Context, filter model.BookingFilter, limit int, offset int64) ([]*model.Booking, error) {
	if offset < 0 || limit < 0 {
		return nil, fmt.Errorf("invalid page window: limit=%d offset=%d", limit, offset)
	}
	matched := s.matching(filter)
	sortBookings(matched)

	if offset >= int64(len(matched)) {
		return []*model.Booking{}, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *MemoryStore) Count(_ context.Context, filter model.BookingFilter) (int64, error) {
	return int64(len(s.matching(filter))), nil
}

func (s *MemoryStore) matching(filter model.BookingFilter) []*model.Booking {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Booking
	for _, b := range s.bookings {
		if filter.Matches(b) {
			out = append(out, b.Clone())
		}
	}
	return out
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

func (s *MemoryStore) CreateResource(_ context.Context, resource *model.Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.resources[resource.ID]; exists {
		return fmt.Errorf("%w: %s", bookingserrors.ErrResourceExists, resource.ID)
	}
	r := *resource
	s.resources[resource.ID] = &r
	return nil
}

func (s *MemoryStore) FindResource(_ context.Context, id string) (*model.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.resources[id]
	if !ok {
		return nil, bookingserrors.ErrResourceNotFound
	}
	c := *r
	return &c, nil
}

type memoryTx struct {
	store   *MemoryStore
	inserts []*model.Booking
	cancels map[string]time.Time
}

func newMemoryTx(s *MemoryStore) *memoryTx {
	return &memoryTx{store: s, cancels: make(map[string]time.Time)}
}

// ActiveInRange sees committed bookings plus this transaction's own inserts.
func (t *memoryTx) ActiveInRange(_ context.Context, resourceID string, start, end time.Time) ([]*model.Booking, error) {
	var out []*model.Booking
	inRange := func(b *model.Booking) bool {
		if b.ResourceID != resourceID || !b.IsActive() {
			return false
		}
		if _, cancelled := t.cancels[b.ID]; cancelled {
			return false
		}
		return b.StartAt.Before(end) && b.EndAt.After(start)
	}

	t.store.mu.RLock()
	for _, b := range t.store.bookings {
		if inRange(b) {
			out = append(out, b.Clone())
		}
	}
	t.store.mu.RUnlock()

	for _, b := range t.inserts {
		if inRange(b) {
			out = append(out, b.Clone())
		}
	}
	return out, nil
}

func (t *memoryTx) Insert(_ context.Context, booking *model.Booking) error {
	t.store.mu.RLock()
	_, exists := t.store.bookings[booking.ID]
	t.store.mu.RUnlock()
	if exists {
		return fmt.Errorf("%w: %s", bookingserrors.ErrDuplicateID, booking.ID)
	}
	for _, staged := range t.inserts {
		if staged.ID == booking.ID {
			return fmt.Errorf("%w: %s", bookingserrors.ErrDuplicateID, booking.ID)
		}
	}
	t.inserts = append(t.inserts, booking.Clone())
	return nil
}

func (t *memoryTx) MarkCancelled(_ context.Context, id string, at time.Time) error {
	t.store.mu.RLock()
	b, ok := t.store.bookings[id]
	active := ok && b.IsActive()
	t.store.mu.RUnlock()
	if !ok {
		return bookingserrors.ErrNotFound
	}
	if _, staged := t.cancels[id]; staged || !active {
		return model.ErrAlreadyCancelled
	}
	t.cancels[id] = at
	return nil
}

func (t *memoryTx) commit() error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	for id := range t.cancels {
		if b, ok := t.store.bookings[id]; !ok || !b.IsActive() {
			return model.ErrAlreadyCancelled
		}
	}
	for id, at := range t.cancels {
		_ = t.store.bookings[id].Cancel(at)
	}
	for _, b := range t.inserts {
		t.store.bookings[b.ID] = b
	}
	return nil
}
