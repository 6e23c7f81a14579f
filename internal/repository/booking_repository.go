package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/transit-booking/internal/model"
)

const bookingColumns = `id, user_id, trip_id, seats_count, seat_numbers, reservation_id,
	reservation_expires_at, order_id, payment_url, status, cancel_reason, created_at, updated_at`

// BookingRepo provides data access to the bookings table.
type BookingRepo struct {
	db *sqlx.DB
}

// NewBookingRepo returns a new BookingRepo bound to the provided database.
func NewBookingRepo(db *sqlx.DB) *BookingRepo { return &BookingRepo{db: db} }

// DB exposes the underlying handle so the saga can open a unit of work.
func (r *BookingRepo) DB() *sqlx.DB { return r.db }

// BookingUpdate lists the optional columns written together with a status
// transition.  Nil fields are left unchanged.
type BookingUpdate struct {
	ReservationID        *string
	ReservationExpiresAt *time.Time
	OrderID              *string
	PaymentURL           *string
	CancelReason         *string
}

// CreateTx inserts a new booking.  CreatedAt and UpdatedAt must be set.
func (r *BookingRepo) CreateTx(ctx context.Context, tx *sqlx.Tx, b *model.Booking) error {
	_, err := tx.ExecContext(ctx, tx.Rebind(
		`INSERT INTO bookings (id, user_id, trip_id, seats_count, seat_numbers, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		b.ID, b.UserID, b.TripID, b.SeatsCount, b.SeatNumbers, b.Status, b.CreatedAt.UTC(), b.UpdatedAt.UTC())
	return err
}

// GetByID returns the booking with the given id or ErrNotFound.
func (r *BookingRepo) GetByID(ctx context.Context, id string) (*model.Booking, error) {
	return r.getBy(ctx, "id", id)
}

// GetByOrderID returns the booking linked to an order or ErrNotFound.
func (r *BookingRepo) GetByOrderID(ctx context.Context, orderID string) (*model.Booking, error) {
	return r.getBy(ctx, "order_id", orderID)
}

// GetByReservationID returns the booking holding a reservation or ErrNotFound.
func (r *BookingRepo) GetByReservationID(ctx context.Context, reservationID string) (*model.Booking, error) {
	return r.getBy(ctx, "reservation_id", reservationID)
}

func (r *BookingRepo) getBy(ctx context.Context, column, value string) (*model.Booking, error) {
	var b model.Booking
	err := r.db.GetContext(ctx, &b, r.db.Rebind(
		`SELECT `+bookingColumns+` FROM bookings WHERE `+column+` = ?`), value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// TransitionTx moves a booking to status `to` only if it is currently in
// one of `from`, writing the non-nil fields of upd in the same statement.
// It reports whether the row changed; false means another writer moved
// the booking first.
func (r *BookingRepo) TransitionTx(ctx context.Context, tx *sqlx.Tx, id string, from []model.BookingStatus, to model.BookingStatus, upd BookingUpdate, now time.Time) (bool, error) {
	sets := []string{"status = ?", "updated_at = ?"}
	args := []interface{}{to, now.UTC()}
	if upd.ReservationID != nil {
		sets = append(sets, "reservation_id = ?")
		args = append(args, *upd.ReservationID)
	}
	if upd.ReservationExpiresAt != nil {
		sets = append(sets, "reservation_expires_at = ?")
		args = append(args, upd.ReservationExpiresAt.UTC())
	}
	if upd.OrderID != nil {
		sets = append(sets, "order_id = ?")
		args = append(args, *upd.OrderID)
	}
	if upd.PaymentURL != nil {
		sets = append(sets, "payment_url = ?")
		args = append(args, *upd.PaymentURL)
	}
	if upd.CancelReason != nil {
		sets = append(sets, "cancel_reason = ?")
		args = append(args, *upd.CancelReason)
	}
	args = append(args, id, from)

	q, a, err := expandIn(tx,
		`UPDATE bookings SET `+strings.Join(sets, ", ")+` WHERE id = ? AND status IN (?)`, args...)
	if err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx, q, a...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListStale returns open bookings that can no longer complete: those whose
// hold expired before reservationCutoff, and CREATED bookings older than
// createdCutoff that never obtained a hold.
func (r *BookingRepo) ListStale(ctx context.Context, reservationCutoff, createdCutoff time.Time, limit int) ([]model.Booking, error) {
	q, args, err := expandIn(r.db,
		`SELECT `+bookingColumns+` FROM bookings
		 WHERE status IN (?)
		   AND ((reservation_expires_at IS NOT NULL AND reservation_expires_at < ?)
		     OR (status = 'CREATED' AND created_at < ?))
		 ORDER BY created_at
		 LIMIT ?`,
		model.OpenBookingStatuses, reservationCutoff.UTC(), createdCutoff.UTC(), limit)
	if err != nil {
		return nil, err
	}
	var out []model.Booking
	if err := r.db.SelectContext(ctx, &out, q, args...); err != nil {
		return nil, err
	}
	return out, nil
}
