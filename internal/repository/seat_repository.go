package repository

import (
	"context"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/transit-booking/internal/model"
)

const seatColumns = `id, trip_id, seat_number, status, reservation_id, last_status_update`

// SeatRepo provides data access to the seats table.  Every status change
// is a conditional update keyed by reservation id, so a request for a
// hold that no longer owns its seats changes nothing.
type SeatRepo struct {
	db *sqlx.DB
}

// NewSeatRepo returns a new SeatRepo bound to the provided database.
func NewSeatRepo(db *sqlx.DB) *SeatRepo { return &SeatRepo{db: db} }

// DB exposes the underlying handle so callers can open a unit of work.
func (r *SeatRepo) DB() *sqlx.DB { return r.db }

// LockSeatsTx selects the requested seats of a trip with row locks held
// until the transaction ends.  Rows are locked in id order so that two
// overlapping requests always acquire their locks in the same sequence.
// Seat numbers that do not exist are simply absent from the result.
func (r *SeatRepo) LockSeatsTx(ctx context.Context, tx *sqlx.Tx, tripID int64, seatNumbers []int) ([]model.Seat, error) {
	q, args, err := expandIn(tx,
		`SELECT `+seatColumns+` FROM seats
		 WHERE trip_id = ? AND seat_number IN (?)
		 ORDER BY id FOR UPDATE`, tripID, seatNumbers)
	if err != nil {
		return nil, err
	}
	var seats []model.Seat
	if err := sqlx.SelectContext(ctx, tx, &seats, q, args...); err != nil {
		return nil, err
	}
	return seats, nil
}

// ReserveSeatsTx moves the given locked seats to RESERVED for
// reservationID.  It returns the number of rows changed.
func (r *SeatRepo) ReserveSeatsTx(ctx context.Context, tx *sqlx.Tx, seatIDs []int64, reservationID string, now time.Time) (int64, error) {
	if len(seatIDs) == 0 {
		return 0, nil
	}
	q, args, err := expandIn(tx,
		`UPDATE seats SET status = 'RESERVED', reservation_id = ?, last_status_update = ?
		 WHERE id IN (?) AND status = 'AVAILABLE'`, reservationID, now.UTC(), seatIDs)
	if err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MarkSoldTx moves the seats held by reservationID to SOLD.  Only seats
// that are still RESERVED under that id are touched; the caller compares
// the count against the size of the hold.
func (r *SeatRepo) MarkSoldTx(ctx context.Context, tx *sqlx.Tx, reservationID string, seatNumbers []int, now time.Time) (int64, error) {
	if len(seatNumbers) == 0 {
		return 0, nil
	}
	q, args, err := expandIn(tx,
		`UPDATE seats SET status = 'SOLD', last_status_update = ?
		 WHERE reservation_id = ? AND status = 'RESERVED' AND seat_number IN (?)`,
		now.UTC(), reservationID, seatNumbers)
	if err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ReleaseTx returns every seat still RESERVED under reservationID to
// AVAILABLE and clears its owner.  Zero rows is not an error.
func (r *SeatRepo) ReleaseTx(ctx context.Context, tx *sqlx.Tx, reservationID string, now time.Time) (int64, error) {
	res, err := tx.ExecContext(ctx, tx.Rebind(
		`UPDATE seats SET status = 'AVAILABLE', reservation_id = NULL, last_status_update = ?
		 WHERE reservation_id = ? AND status = 'RESERVED'`), now.UTC(), reservationID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ReleaseStale resets RESERVED seats whose last status change is older
// than cutoff.  It does not look at who holds them.
func (r *SeatRepo) ReleaseStale(ctx context.Context, cutoff, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(
		`UPDATE seats SET status = 'AVAILABLE', reservation_id = NULL, last_status_update = ?
		 WHERE status = 'RESERVED' AND last_status_update < ?`), now.UTC(), cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MarkTripCancelled moves every seat of a trip to CANCELLED.
func (r *SeatRepo) MarkTripCancelled(ctx context.Context, tripID int64, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(
		`UPDATE seats SET status = 'CANCELLED', reservation_id = NULL, last_status_update = ?
		 WHERE trip_id = ? AND status <> 'CANCELLED'`), now.UTC(), tripID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MarkTripSold moves every seat of a departed trip to SOLD, leaving
// cancelled seats alone.
func (r *SeatRepo) MarkTripSold(ctx context.Context, tripID int64, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(
		`UPDATE seats SET status = 'SOLD', last_status_update = ?
		 WHERE trip_id = ? AND status NOT IN ('SOLD', 'CANCELLED')`), now.UTC(), tripID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountByTripTx returns the number of seat rows that exist for a trip.
func (r *SeatRepo) CountByTripTx(ctx context.Context, tx *sqlx.Tx, tripID int64) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, tx, &n, tx.Rebind(`SELECT COUNT(*) FROM seats WHERE trip_id = ?`), tripID)
	return n, err
}

// CreateSeatsTx inserts seats 1..capacity for a trip as AVAILABLE in a
// single multi-row statement.  Passing a capacity below one has no
// effect.
func (r *SeatRepo) CreateSeatsTx(ctx context.Context, tx *sqlx.Tx, tripID int64, capacity int, now time.Time) error {
	if capacity < 1 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString(`INSERT INTO seats (trip_id, seat_number, status, last_status_update) VALUES `)
	args := make([]interface{}, 0, capacity*3)
	for n := 1; n <= capacity; n++ {
		if n > 1 {
			sb.WriteString(",")
		}
		sb.WriteString("(?, ?, 'AVAILABLE', ?)")
		args = append(args, tripID, n, now.UTC())
	}
	_, err := tx.ExecContext(ctx, tx.Rebind(sb.String()), args...)
	return err
}

// ListByTrip returns all seats of a trip ordered by seat number.
func (r *SeatRepo) ListByTrip(ctx context.Context, tripID int64) ([]model.Seat, error) {
	seats := []model.Seat{}
	err := r.db.SelectContext(ctx, &seats, r.db.Rebind(
		`SELECT `+seatColumns+` FROM seats WHERE trip_id = ? ORDER BY seat_number`), tripID)
	if err != nil {
		return nil, err
	}
	return seats, nil
}
