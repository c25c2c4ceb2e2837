package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	bookingserrors "slotkeeper/internal/bookings/errors"
	"slotkeeper/pkg/config"
	mongotx "slotkeeper/pkg/db/mongo"
	"slotkeeper/pkg/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	BookingsCollection  = "Bookings"
	ResourcesCollection = "Resources"
)

type mongoStore struct {
	cfg       *config.Config
	client    *mongo.Client
	bookings  *mongo.Collection
	resources *mongo.Collection
	txManager mongotx.TransactionManager
}

func NewMongoStore(cfg *config.Config) Store {
	db := cfg.Client.Mongo.Database(cfg.MongoDatabaseName)
	return &mongoStore{
		cfg:       cfg,
		client:    cfg.Client.Mongo,
		bookings:  db.Collection(BookingsCollection),
		resources: db.Collection(ResourcesCollection),
		txManager: mongotx.NewTransactionManager(cfg.Client.Mongo),
	}
}

// withTimeout wraps the context with a timeout if not already in a transaction.
// When inside a transaction (SessionContext), returns the original context unchanged
// with a no-op cancel function, as we cannot wrap SessionContext without breaking
// transaction semantics.
func (r *mongoStore) withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.(mongo.SessionContext); ok {
		return ctx, func() {}
	}

	deadline, hasDeadline := ctx.Deadline()
	if !hasDeadline {
		return context.WithTimeout(ctx, timeout)
	}

	remaining := time.Until(deadline)
	if remaining < timeout {
		return context.WithTimeout(ctx, remaining)
	}

	return context.WithTimeout(ctx, timeout)
}

// lockedTransaction runs fn in a transaction bounded by LockTimeout. Running
// out of time while the driver retries write conflicts is a lock timeout.
func (r *mongoStore) lockedTransaction(ctx context.Context, key string, fn mongotx.TransactionFunc) error {
	txCtx, cancel := context.WithTimeout(ctx, r.cfg.LockTimeout)
	defer cancel()

	err := r.txManager.ExecuteTransaction(txCtx, fn)
	if err == nil {
		return nil
	}
	if ctx.Err() == nil && (errors.Is(err, context.DeadlineExceeded) || mongotx.IsTransient(err)) {
		return fmt.Errorf("%w: %s: %w", bookingserrors.ErrLockTimeout, key, err)
	}
	return err
}

// WithResourceLock bumps lock_version on the resource document first, which
// takes its write lock for the rest of the transaction.
func (r *mongoStore) WithResourceLock(ctx context.Context, resourceID string, fn ResourceTxFunc) error {
	return r.lockedTransaction(ctx, resourceKey(resourceID), func(sc mongo.SessionContext) error {
		err := r.resources.FindOneAndUpdate(sc,
			bson.M{"_id": resourceID},
			bson.M{"$inc": bson.M{"lock_version": 1}},
		).Err()
		if err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				return bookingserrors.ErrResourceNotFound
			}
			return fmt.Errorf("failed to lock resource: %w", err)
		}
		return fn(sc, &mongoTx{store: r})
	})
}

func (r *mongoStore) WithBookingLock(ctx context.Context, bookingID string, fn BookingTxFunc) error {
	return r.lockedTransaction(ctx, bookingKey(bookingID), func(sc mongo.SessionContext) error {
		var booking model.Booking
		err := r.bookings.FindOneAndUpdate(sc,
			bson.M{"_id": bookingID},
			bson.M{"$inc": bson.M{"lock_version": 1}},
			options.FindOneAndUpdate().SetReturnDocument(options.After),
		).Decode(&booking)
		if err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				return bookingserrors.ErrNotFound
			}
			return fmt.Errorf("failed to lock booking: %w", err)
		}
		return fn(sc, &mongoTx{store: r}, &booking)
	})
}

func (r *mongoStore) FindByID(ctx context.Context, id string) (*model.Booking, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	var booking model.Booking
	err := r.bookings.FindOne(ctx, bson.M{"_id": id}).Decode(&booking)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, bookingserrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find booking: %w", err)
	}

	return &booking, nil
}

func (r *mongoStore) Search(ctx context.Context, filter model.BookingFilter, limit int, offset int64) ([]*model.Booking, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	opts := options.Find().
		SetSort(bson.D{
			{Key: "start_at", Value: 1},
			{Key: "created_at", Value: 1},
			{Key: "_id", Value: 1},
		}).
		SetLimit(int64(limit)).
		SetSkip(offset)

	cursor, err := r.bookings.Find(ctx, buildSearchFilter(filter), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find bookings: %w", err)
	}
	defer cursor.Close(ctx)

	bookings := []*model.Booking{}
	if err = cursor.All(ctx, &bookings); err != nil {
		return nil, fmt.Errorf("failed to decode bookings: %w", err)
	}

	return bookings, nil
}

func (r *mongoStore) Count(ctx context.Context, filter model.BookingFilter) (int64, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	count, err := r.bookings.CountDocuments(ctx, buildSearchFilter(filter))
	if err != nil {
		return 0, fmt.Errorf("failed to count bookings: %w", err)
	}
	return count, nil
}

func buildSearchFilter(f model.BookingFilter) bson.M {
	filter := bson.M{}
	if f.ResourceID != "" {
		filter["resource_id"] = f.ResourceID
	}
	if f.Status != "" {
		filter["status"] = f.Status
	}
	if f.DateFrom != nil {
		filter["end_at"] = bson.M{"$gt": *f.DateFrom}
	}
	if f.DateTo != nil {
		filter["start_at"] = bson.M{"$lt": *f.DateTo}
	}
	return filter
}

func (r *mongoStore) Ping(ctx context.Context) error {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()
	return r.client.Ping(ctx, readpref.Primary())
}

func (r *mongoStore) CreateResource(ctx context.Context, resource *model.Resource) error {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	if _, err := r.resources.InsertOne(ctx, resource); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s", bookingserrors.ErrResourceExists, resource.ID)
		}
		return fmt.Errorf("failed to create resource: %w", err)
	}
	return nil
}

func (r *mongoStore) FindResource(ctx context.Context, id string) (*model.Resource, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	var resource model.Resource
	if err := r.resources.FindOne(ctx, bson.M{"_id": id}).Decode(&resource); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, bookingserrors.ErrResourceNotFound
		}
		return nil, fmt.Errorf("failed to find resource: %w", err)
	}
	return &resource, nil
}

// mongoTx issues every statement on the session context it was handed.
type mongoTx struct {
	store *mongoStore
}

func (t *mongoTx) ActiveInRange(ctx context.Context, resourceID string, start, end time.Time) ([]*model.Booking, error) {
	cursor, err := t.store.bookings.Find(ctx, bson.M{
		"resource_id": resourceID,
		"status":      model.BookingStatusActive,
		"start_at":    bson.M{"$lt": end},
		"end_at":      bson.M{"$gt": start},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find overlapping bookings: %w", err)
	}
	defer cursor.Close(ctx)

	var bookings []*model.Booking
	if err := cursor.All(ctx, &bookings); err != nil {
		return nil, fmt.Errorf("failed to decode bookings: %w", err)
	}
	return bookings, nil
}

func (t *mongoTx) Insert(ctx context.Context, booking *model.Booking) error {
	if _, err := t.store.bookings.InsertOne(ctx, booking); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s", bookingserrors.ErrDuplicateID, booking.ID)
		}
		return fmt.Errorf("failed to create booking: %w", err)
	}
	return nil
}

func (t *mongoTx) MarkCancelled(ctx context.Context, id string, at time.Time) error {
	result, err := t.store.bookings.UpdateOne(ctx,
		bson.M{"_id": id, "status": model.BookingStatusActive},
		bson.M{"$set": bson.M{
			"status":       model.BookingStatusCancelled,
			"cancelled_at": at.UTC(),
		}},
	)
	if err != nil {
		return fmt.Errorf("failed to cancel booking: %w", err)
	}
	if result.MatchedCount == 0 {
		return model.ErrAlreadyCancelled
	}
	return nil
}
