package service

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/transit-booking/internal/database"
	"github.com/iliyamo/transit-booking/internal/model"
	"github.com/iliyamo/transit-booking/internal/queue"
	"github.com/iliyamo/transit-booking/internal/repository"
)

// BookingStore persists bookings together with the events their changes
// emit.  Lookups return repository.ErrNotFound for unknown rows.
type BookingStore interface {
	Create(ctx context.Context, b *model.Booking, ev queue.Event) error
	Get(ctx context.Context, id string) (*model.Booking, error)
	GetByOrderID(ctx context.Context, orderID string) (*model.Booking, error)
	GetByReservationID(ctx context.Context, reservationID string) (*model.Booking, error)
	// Transition applies a conditional status change and, only when the
	// row changed, records ev.  ev may be nil.
	Transition(ctx context.Context, id string, from []model.BookingStatus, to model.BookingStatus, upd repository.BookingUpdate, ev queue.Event) (bool, error)
	ListStale(ctx context.Context, reservationCutoff, createdCutoff time.Time, limit int) ([]model.Booking, error)
}

// SQLBookingStore is the BookingStore backed by the bookings and
// outbox_events tables.
type SQLBookingStore struct {
	bookings *repository.BookingRepo
	outbox   *repository.OutboxRepo
	now      func() time.Time
}

// NewSQLBookingStore combines the two repositories.
func NewSQLBookingStore(bookings *repository.BookingRepo, outbox *repository.OutboxRepo) *SQLBookingStore {
	return &SQLBookingStore{
		bookings: bookings,
		outbox:   outbox,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create implements BookingStore.
func (s *SQLBookingStore) Create(ctx context.Context, b *model.Booking, ev queue.Event) error {
	return database.WithTx(ctx, s.bookings.DB(), func(tx *sqlx.Tx) error {
		if err := s.bookings.CreateTx(ctx, tx, b); err != nil {
			return err
		}
		if ev == nil {
			return nil
		}
		_, err := s.outbox.InsertTx(ctx, tx, b.ID, ev)
		return err
	})
}

// Get implements BookingStore.
func (s *SQLBookingStore) Get(ctx context.Context, id string) (*model.Booking, error) {
	return s.bookings.GetByID(ctx, id)
}

// GetByOrderID implements BookingStore.
func (s *SQLBookingStore) GetByOrderID(ctx context.Context, orderID string) (*model.Booking, error) {
	return s.bookings.GetByOrderID(ctx, orderID)
}

// GetByReservationID implements BookingStore.
func (s *SQLBookingStore) GetByReservationID(ctx context.Context, reservationID string) (*model.Booking, error) {
	return s.bookings.GetByReservationID(ctx, reservationID)
}

// Transition implements BookingStore.
func (s *SQLBookingStore) Transition(ctx context.Context, id string, from []model.BookingStatus, to model.BookingStatus, upd repository.BookingUpdate, ev queue.Event) (bool, error) {
	applied := false
	err := database.WithTx(ctx, s.bookings.DB(), func(tx *sqlx.Tx) error {
		ok, err := s.bookings.TransitionTx(ctx, tx, id, from, to, upd, s.now())
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		applied = true
		if ev == nil {
			return nil
		}
		_, err = s.outbox.InsertTx(ctx, tx, id, ev)
		return err
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// ListStale implements BookingStore.
func (s *SQLBookingStore) ListStale(ctx context.Context, reservationCutoff, createdCutoff time.Time, limit int) ([]model.Booking, error) {
	return s.bookings.ListStale(ctx, reservationCutoff, createdCutoff, limit)
}
