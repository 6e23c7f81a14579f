package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/transit-booking/internal/model"
)

const orderColumns = `id, user_id, trip_id, seats_count, total_price, reservation_id, status, created_at, updated_at`

// OrderRepo provides data access to the orders table.  reservation_id is
// unique, which makes it the idempotency key for order creation.
type OrderRepo struct {
	db *sqlx.DB
}

// NewOrderRepo returns a new OrderRepo bound to the provided database.
func NewOrderRepo(db *sqlx.DB) *OrderRepo { return &OrderRepo{db: db} }

// DB exposes the underlying handle so the order service can open a unit of work.
func (r *OrderRepo) DB() *sqlx.DB { return r.db }

// CreateTx inserts a new order.
func (r *OrderRepo) CreateTx(ctx context.Context, tx *sqlx.Tx, o *model.Order) error {
	_, err := tx.ExecContext(ctx, tx.Rebind(
		`INSERT INTO orders (id, user_id, trip_id, seats_count, total_price, reservation_id, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		o.ID, o.UserID, o.TripID, o.SeatsCount, o.TotalPrice, o.ReservationID, o.Status,
		o.CreatedAt.UTC(), o.UpdatedAt.UTC())
	return err
}

// GetByID returns the order with the given id or ErrNotFound.
func (r *OrderRepo) GetByID(ctx context.Context, id string) (*model.Order, error) {
	return getOrder(ctx, r.db, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
}

// GetByReservationID returns the order created for a reservation or ErrNotFound.
func (r *OrderRepo) GetByReservationID(ctx context.Context, reservationID string) (*model.Order, error) {
	return getOrder(ctx, r.db, `SELECT `+orderColumns+` FROM orders WHERE reservation_id = ?`, reservationID)
}

// GetByReservationIDTx is GetByReservationID inside a transaction.
func (r *OrderRepo) GetByReservationIDTx(ctx context.Context, tx *sqlx.Tx, reservationID string) (*model.Order, error) {
	return getOrder(ctx, tx, `SELECT `+orderColumns+` FROM orders WHERE reservation_id = ?`, reservationID)
}

// GetForUpdateTx reads an order and locks its row until tx ends.
func (r *OrderRepo) GetForUpdateTx(ctx context.Context, tx *sqlx.Tx, id string) (*model.Order, error) {
	return getOrder(ctx, tx, `SELECT `+orderColumns+` FROM orders WHERE id = ? FOR UPDATE`, id)
}

func getOrder(ctx context.Context, q sqlx.ExtContext, query, arg string) (*model.Order, error) {
	var o model.Order
	err := sqlx.GetContext(ctx, q, &o, q.Rebind(query), arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// UpdateStatusTx moves an order from one status to another.  It reports
// whether the row changed.
func (r *OrderRepo) UpdateStatusTx(ctx context.Context, tx *sqlx.Tx, id string, from, to model.OrderStatus, now time.Time) (bool, error) {
	res, err := tx.ExecContext(ctx, tx.Rebind(
		`UPDATE orders SET status = ?, updated_at = ? WHERE id = ? AND status = ?`),
		to, now.UTC(), id, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
