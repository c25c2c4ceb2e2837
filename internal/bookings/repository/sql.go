package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	bookingserrors "slotkeeper/internal/bookings/errors"
	"slotkeeper/pkg/client"
	"slotkeeper/pkg/model"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
)

const bookingColumns = "id, resource_id, user_id, start_at, end_at, status, created_at, cancelled_at"

// dialect covers the differences between the supported SQL servers.
type dialect struct {
	name string
	// numbered placeholders ($1, $2, ...) instead of ?
	numbered bool
	// lockTimeout returns the statement that bounds lock waits for the
	// current transaction.
	lockTimeout func(d time.Duration) string
}

var (
	postgresDialect = dialect{
		name:     client.DriverPostgres,
		numbered: true,
		lockTimeout: func(d time.Duration) string {
			return fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", d.Milliseconds())
		},
	}
	mysqlDialect = dialect{
		name: client.DriverMySQL,
		lockTimeout: func(d time.Duration) string {
			secs := int64(d / time.Second)
			if secs < 1 {
				secs = 1
			}
			return fmt.Sprintf("SET SESSION innodb_lock_wait_timeout = %d", secs)
		},
	}
)

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case client.DriverPostgres:
		return postgresDialect, nil
	case client.DriverMySQL:
		return mysqlDialect, nil
	default:
		return dialect{}, fmt.Errorf("unsupported sql driver %q", driver)
	}
}

// rebind rewrites ? placeholders for dialects that number them.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// classify maps server errors onto the repository sentinels, keeping the
// original error in the chain.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1205, 1213: // lock wait timeout, deadlock
			return fmt.Errorf("%w: %w", bookingserrors.ErrLockTimeout, err)
		case 1062:
			return fmt.Errorf("%w: %w", bookingserrors.ErrDuplicateID, err)
		}
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03", "40P01", "40001": // lock_not_available, deadlock_detected, serialization_failure
			return fmt.Errorf("%w: %w", bookingserrors.ErrLockTimeout, err)
		case "23P01": // exclusion_violation
			return fmt.Errorf("%w: %w", bookingserrors.ErrTimeConflict, err)
		case "23505":
			return fmt.Errorf("%w: %w", bookingserrors.ErrDuplicateID, err)
		}
	}
	return err
}

type sqlStore struct {
	db          *sql.DB
	dialect     dialect
	lockTimeout time.Duration
}

// NewSQLStore serves bookings from a database/sql pool opened with one of the
// drivers in pkg/client.
func NewSQLStore(db *sql.DB, driver string, lockTimeout time.Duration) (Store, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	return &sqlStore{db: db, dialect: d, lockTimeout: lockTimeout}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (*model.Booking, error) {
	var (
		b           model.Booking
		status      string
		cancelledAt sql.NullTime
	)
	if err := row.Scan(&b.ID, &b.ResourceID, &b.UserID, &b.StartAt, &b.EndAt, &status, &b.CreatedAt, &cancelledAt); err != nil {
		return nil, err
	}
	b.Status = model.BookingStatus(status)
	b.StartAt = b.StartAt.UTC()
	b.EndAt = b.EndAt.UTC()
	b.CreatedAt = b.CreatedAt.UTC()
	if cancelledAt.Valid {
		at := cancelledAt.Time.UTC()
		b.CancelledAt = &at
	}
	return &b, nil
}

// inLockedTx begins a transaction and bounds its lock waits before running fn.
// Any error rolls everything back.
func (s *sqlStore) inLockedTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if s.lockTimeout > 0 {
		if _, err = tx.ExecContext(ctx, s.dialect.lockTimeout(s.lockTimeout)); err != nil {
			return fmt.Errorf("failed to set lock timeout: %w", err)
		}
	}

	if err = fn(tx); err != nil {
		return classify(err)
	}

	if err = tx.Commit(); err != nil {
		return classify(fmt.Errorf("failed to commit: %w", err))
	}
	return nil
}

func (s *sqlStore) WithResourceLock(ctx context.Context, resourceID string, fn ResourceTxFunc) error {
	return s.inLockedTx(ctx, func(tx *sql.Tx) error {
		var id string
		err := tx.QueryRowContext(ctx,
			s.dialect.rebind("SELECT id FROM resources WHERE id = ? FOR UPDATE"), resourceID,
		).Scan(&id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return bookingserrors.ErrResourceNotFound
			}
			return fmt.Errorf("failed to lock resource: %w", err)
		}
		return fn(ctx, &sqlTx{tx: tx, dialect: s.dialect})
	})
}

func (s *sqlStore) WithBookingLock(ctx context.Context, bookingID string, fn BookingTxFunc) error {
	return s.inLockedTx(ctx, func(tx *sql.Tx) error {
		booking, err := scanBooking(tx.QueryRowContext(ctx,
			s.dialect.rebind("SELECT "+bookingColumns+" FROM bookings WHERE id = ? FOR UPDATE"), bookingID,
		))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return bookingserrors.ErrNotFound
			}
			return fmt.Errorf("failed to lock booking: %w", err)
		}
		return fn(ctx, &sqlTx{tx: tx, dialect: s.dialect}, booking)
	})
}

func (s *sqlStore) FindByID(ctx context.Context, id string) (*model.Booking, error) {
	booking, err := scanBooking(s.db.QueryRowContext(ctx,
		s.dialect.rebind("SELECT "+bookingColumns+" FROM bookings WHERE id = ?"), id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, bookingserrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find booking: %w", err)
	}
	return booking, nil
}

func buildWhere(f model.BookingFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if f.ResourceID != "" {
		clauses = append(clauses, "resource_id = ?")
		args = append(args, f.ResourceID)
	}
	if f.DateFrom != nil {
		clauses = append(clauses, "end_at > ?")
		args = append(args, f.DateFrom.UTC())
	}
	if f.DateTo != nil {
		clauses = append(clauses, "start_at < ?")
		args = append(args, f.DateTo.UTC())
	}
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(f.Status))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (s *sqlStore) Search(ctx context.Context, filter model.BookingFilter, limit int, offset int64) ([]*model.Booking, error) {
	where, args := buildWhere(filter)
	query := "SELECT " + bookingColumns + " FROM bookings" + where +
		" ORDER BY start_at ASC, created_at ASC, id ASC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find bookings: %w", err)
	}
	defer rows.Close()

	bookings := []*model.Booking{}
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to decode booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate bookings: %w", err)
	}
	return bookings, nil
}

func (s *sqlStore) Count(ctx context.Context, filter model.BookingFilter) (int64, error) {
	where, args := buildWhere(filter)
	var count int64
	if err := s.db.QueryRowContext(ctx, s.dialect.rebind("SELECT COUNT(*) FROM bookings"+where), args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count bookings: %w", err)
	}
	return count, nil
}

func (s *sqlStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqlStore) CreateResource(ctx context.Context, resource *model.Resource) error {
	_, err := s.db.ExecContext(ctx,
		s.dialect.rebind("INSERT INTO resources (id, name, owner_id, created_at) VALUES (?, ?, ?, ?)"),
		resource.ID, resource.Name, resource.OwnerID, resource.CreatedAt.UTC(),
	)
	if err != nil {
		err = classify(err)
		if errors.Is(err, bookingserrors.ErrDuplicateID) {
			return fmt.Errorf("%w: %s", bookingserrors.ErrResourceExists, resource.ID)
		}
		return fmt.Errorf("failed to create resource: %w", err)
	}
	return nil
}

func (s *sqlStore) FindResource(ctx context.Context, id string) (*model.Resource, error) {
	var r model.Resource
	err := s.db.QueryRowContext(ctx,
		s.dialect.rebind("SELECT id, name, owner_id, created_at FROM resources WHERE id = ?"), id,
	).Scan(&r.ID, &r.Name, &r.OwnerID, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, bookingserrors.ErrResourceNotFound
		}
		return nil, fmt.Errorf("failed to find resource: %w", err)
	}
	r.CreatedAt = r.CreatedAt.UTC()
	return &r, nil
}

type sqlTx struct {
	tx      *sql.Tx
	dialect dialect
}

func (t *sqlTx) ActiveInRange(ctx context.Context, resourceID string, start, end time.Time) ([]*model.Booking, error) {
	rows, err := t.tx.QueryContext(ctx, t.dialect.rebind(
		"SELECT "+bookingColumns+" FROM bookings WHERE resource_id = ? AND status = ? AND start_at < ? AND end_at > ?"),
		resourceID, string(model.BookingStatusActive), end.UTC(), start.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find overlapping bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to decode booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

func (t *sqlTx) Insert(ctx context.Context, b *model.Booking) error {
	_, err := t.tx.ExecContext(ctx, t.dialect.rebind(
		"INSERT INTO bookings ("+bookingColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)"),
		b.ID, b.ResourceID, b.UserID, b.StartAt.UTC(), b.EndAt.UTC(), string(b.Status), b.CreatedAt.UTC(), nullTime(b.CancelledAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create booking: %w", err)
	}
	return nil
}

func (t *sqlTx) MarkCancelled(ctx context.Context, id string, at time.Time) error {
	result, err := t.tx.ExecContext(ctx, t.dialect.rebind(
		"UPDATE bookings SET status = ?, cancelled_at = ? WHERE id = ? AND status = ?"),
		string(model.BookingStatusCancelled), at.UTC(), id, string(model.BookingStatusActive),
	)
	if err != nil {
		return fmt.Errorf("failed to cancel booking: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to cancel booking: %w", err)
	}
	if affected == 0 {
		return model.ErrAlreadyCancelled
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
