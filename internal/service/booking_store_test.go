package service

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/transit-booking/internal/model"
	"github.com/iliyamo/transit-booking/internal/queue"
	"github.com/iliyamo/transit-booking/internal/repository"
)

func newTestBookingStore(t *testing.T) (*SQLBookingStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newMockDB(t)
	return NewSQLBookingStore(repository.NewBookingRepo(db), repository.NewOutboxRepo(db)), mock
}

func TestSQLBookingStoreCreate(t *testing.T) {
	store, mock := newTestBookingStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO bookings`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO outbox_events`).
		WithArgs(sqlmock.AnyArg(), "b-1", queue.TypeBookingCreated, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.Create(context.Background(), &model.Booking{
		ID: "b-1", UserID: "u-1", TripID: 7, SeatsCount: 1, SeatNumbers: model.IntList{3},
		Status: model.BookingCreated, CreatedAt: now, UpdatedAt: now,
	}, queue.BookingCreated{BookingID: "b-1", UserID: "u-1", TripID: 7, SeatsCount: 1})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLBookingStoreTransition(t *testing.T) {
	ctx := context.Background()
	reason := ReasonPaymentFailed
	ev := queue.BookingCancelled{BookingID: "b-1", Reason: reason}

	t.Run("Applied Writes Event", func(t *testing.T) {
		store, mock := newTestBookingStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE bookings SET status = \?`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO outbox_events`).
			WithArgs(sqlmock.AnyArg(), "b-1", queue.TypeBookingCancelled, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		ok, err := store.Transition(ctx, "b-1", model.OpenBookingStatuses, model.BookingCancelled,
			repository.BookingUpdate{CancelReason: &reason}, ev)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Lost Race Writes Nothing", func(t *testing.T) {
		store, mock := newTestBookingStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE bookings SET status = \?`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		ok, err := store.Transition(ctx, "b-1", model.OpenBookingStatuses, model.BookingCancelled,
			repository.BookingUpdate{CancelReason: &reason}, ev)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Outbox Failure Rolls Back", func(t *testing.T) {
		store, mock := newTestBookingStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE bookings SET status = \?`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO outbox_events`).WillReturnError(assert.AnError)
		mock.ExpectRollback()

		ok, err := store.Transition(ctx, "b-1", model.OpenBookingStatuses, model.BookingCancelled,
			repository.BookingUpdate{CancelReason: &reason}, ev)
		assert.Error(t, err)
		assert.False(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
