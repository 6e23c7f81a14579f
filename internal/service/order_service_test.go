package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/transit-booking/internal/model"
	"github.com/iliyamo/transit-booking/internal/queue"
	"github.com/iliyamo/transit-booking/internal/repository"
)

var orderCols = []string{"id", "user_id", "trip_id", "seats_count", "total_price", "reservation_id", "status", "created_at", "updated_at"}

func newTestOrderService(t *testing.T) (*OrderService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newMockDB(t)
	return NewOrderService(repository.NewOrderRepo(db), repository.NewOutboxRepo(db), quietLogger()), mock
}

func orderRow(id, reservationID string, status model.OrderStatus) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows(orderCols).AddRow(id, "u-1", 7, 2, 5000, reservationID, string(status), now, now)
}

func TestCreateOrder(t *testing.T) {
	ctx := context.Background()
	in := CreateOrderInput{UserID: "u-1", TripID: 7, ReservationID: "r-1", SeatsCount: 2, UnitPrice: 2500}

	t.Run("New", func(t *testing.T) {
		svc, mock := newTestOrderService(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT (.+) FROM orders WHERE reservation_id = \?`).WithArgs("r-1").WillReturnError(sql.ErrNoRows)
		mock.ExpectExec(`INSERT INTO orders`).
			WithArgs(sqlmock.AnyArg(), "u-1", int64(7), 2, int64(5000), "r-1", model.OrderPending, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO outbox_events`).
			WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), queue.TypeOrderCreated, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		o, err := svc.CreateOrder(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, int64(5000), o.TotalPrice)
		assert.Equal(t, model.OrderPending, o.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Idempotent Per Reservation", func(t *testing.T) {
		svc, mock := newTestOrderService(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT (.+) FROM orders WHERE reservation_id = \?`).WithArgs("r-1").
			WillReturnRows(orderRow("o-1", "r-1", model.OrderPending))
		mock.ExpectCommit()

		o, err := svc.CreateOrder(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, "o-1", o.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Lost Insert Race", func(t *testing.T) {
		svc, mock := newTestOrderService(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT (.+) FROM orders WHERE reservation_id = \?`).WillReturnError(sql.ErrNoRows)
		mock.ExpectExec(`INSERT INTO orders`).WillReturnError(assert.AnError)
		mock.ExpectRollback()
		mock.ExpectQuery(`SELECT (.+) FROM orders WHERE reservation_id = \?`).WithArgs("r-1").
			WillReturnRows(orderRow("o-other", "r-1", model.OrderPending))

		o, err := svc.CreateOrder(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, "o-other", o.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Invalid", func(t *testing.T) {
		svc, _ := newTestOrderService(t)
		_, err := svc.CreateOrder(ctx, CreateOrderInput{TripID: 7, SeatsCount: 1})
		assert.ErrorIs(t, err, ErrInvalidOrder)
	})
}

func TestConfirmAndCancelOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("Confirm Pending", func(t *testing.T) {
		svc, mock := newTestOrderService(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT (.+) FROM orders WHERE id = \? FOR UPDATE`).WithArgs("o-1").
			WillReturnRows(orderRow("o-1", "r-1", model.OrderPending))
		mock.ExpectExec(`UPDATE orders SET status = \?`).
			WithArgs(model.OrderConfirmed, sqlmock.AnyArg(), "o-1", model.OrderPending).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO outbox_events`).
			WithArgs(sqlmock.AnyArg(), "o-1", queue.TypeOrderConfirmed, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		o, err := svc.ConfirmOrder(ctx, "o-1")
		require.NoError(t, err)
		assert.Equal(t, model.OrderConfirmed, o.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Confirm Twice", func(t *testing.T) {
		svc, mock := newTestOrderService(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT (.+) FROM orders WHERE id = \? FOR UPDATE`).
			WillReturnRows(orderRow("o-1", "r-1", model.OrderConfirmed))
		mock.ExpectCommit()

		_, err := svc.ConfirmOrder(ctx, "o-1")
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Cancel Confirmed", func(t *testing.T) {
		svc, mock := newTestOrderService(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT (.+) FROM orders WHERE id = \? FOR UPDATE`).
			WillReturnRows(orderRow("o-1", "r-1", model.OrderConfirmed))
		mock.ExpectRollback()

		_, err := svc.CancelOrder(ctx, "o-1", "user request")
		assert.ErrorIs(t, err, ErrOrderNotPending)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Unknown", func(t *testing.T) {
		svc, mock := newTestOrderService(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT (.+) FROM orders WHERE id = \? FOR UPDATE`).WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		_, err := svc.CancelOrder(ctx, "o-9", "x")
		assert.ErrorIs(t, err, repository.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestOrderHandleEvent(t *testing.T) {
	ctx := context.Background()

	t.Run("Payment For Cancelled Order", func(t *testing.T) {
		svc, mock := newTestOrderService(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT (.+) FROM orders WHERE id = \? FOR UPDATE`).
			WillReturnRows(orderRow("o-1", "r-1", model.OrderCancelled))
		mock.ExpectRollback()
		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO outbox_events`).
			WithArgs(sqlmock.AnyArg(), "o-1", queue.TypeBookingFailed,
				[]byte(`{"orderId":"o-1","reason":"order_cancelled_before_payment"}`), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, svc.HandleEvent(ctx, &queue.PaymentSucceeded{OrderID: "o-1"}))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Payment Failed Cancels", func(t *testing.T) {
		svc, mock := newTestOrderService(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT (.+) FROM orders WHERE id = \? FOR UPDATE`).
			WillReturnRows(orderRow("o-1", "r-1", model.OrderPending))
		mock.ExpectExec(`UPDATE orders SET status = \?`).
			WithArgs(model.OrderCancelled, sqlmock.AnyArg(), "o-1", model.OrderPending).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO outbox_events`).
			WithArgs(sqlmock.AnyArg(), "o-1", queue.TypeOrderCancelled,
				[]byte(`{"orderId":"o-1","reservationId":"r-1","reason":"payment_failed"}`), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, svc.HandleEvent(ctx, &queue.PaymentFailed{OrderID: "o-1"}))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Reservation Expired After Confirmation", func(t *testing.T) {
		svc, mock := newTestOrderService(t)
		mock.ExpectQuery(`SELECT (.+) FROM orders WHERE reservation_id = \?`).WithArgs("r-1").
			WillReturnRows(orderRow("o-1", "r-1", model.OrderConfirmed))
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT (.+) FROM orders WHERE id = \? FOR UPDATE`).
			WillReturnRows(orderRow("o-1", "r-1", model.OrderConfirmed))
		mock.ExpectRollback()

		require.NoError(t, svc.HandleEvent(ctx, &queue.ReservationExpired{ReservationID: "r-1", TripID: 7}))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Reservation Without Order", func(t *testing.T) {
		svc, mock := newTestOrderService(t)
		mock.ExpectQuery(`SELECT (.+) FROM orders WHERE reservation_id = \?`).WillReturnError(sql.ErrNoRows)

		require.NoError(t, svc.HandleEvent(ctx, &queue.ReservationExpired{ReservationID: "r-2"}))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Booking Cancelled Without Order", func(t *testing.T) {
		svc, mock := newTestOrderService(t)
		require.NoError(t, svc.HandleEvent(ctx, &queue.BookingCancelled{BookingID: "b-1", Reason: "seats_unavailable"}))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Booking Cancelled Before Order Id Was Recorded", func(t *testing.T) {
		svc, mock := newTestOrderService(t)
		mock.ExpectQuery(`SELECT (.+) FROM orders WHERE reservation_id = \?`).WithArgs("r-1").
			WillReturnRows(orderRow("o-1", "r-1", model.OrderPending))
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT (.+) FROM orders WHERE id = \? FOR UPDATE`).WithArgs("o-1").
			WillReturnRows(orderRow("o-1", "r-1", model.OrderPending))
		mock.ExpectExec(`UPDATE orders SET status = \?`).
			WithArgs(model.OrderCancelled, sqlmock.AnyArg(), "o-1", model.OrderPending).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO outbox_events`).
			WithArgs(sqlmock.AnyArg(), "o-1", queue.TypeOrderCancelled,
				[]byte(`{"orderId":"o-1","reservationId":"r-1","reason":"order_creation_failed"}`), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := svc.HandleEvent(ctx, &queue.BookingCancelled{
			BookingID:     "b-1",
			ReservationID: "r-1",
			Reason:        "order_creation_failed",
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Booking Cancelled With Reservation But No Order", func(t *testing.T) {
		svc, mock := newTestOrderService(t)
		mock.ExpectQuery(`SELECT (.+) FROM orders WHERE reservation_id = \?`).WithArgs("r-3").
			WillReturnError(sql.ErrNoRows)

		require.NoError(t, svc.HandleEvent(ctx, &queue.BookingCancelled{BookingID: "b-3", ReservationID: "r-3", Reason: "order_creation_failed"}))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
