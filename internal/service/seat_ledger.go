package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/transit-booking/internal/database"
	"github.com/iliyamo/transit-booking/internal/model"
	"github.com/iliyamo/transit-booking/internal/queue"
	"github.com/iliyamo/transit-booking/internal/repository"
)

// ReservationStore keeps the active holds.  repository.ReservationCache
// is the production implementation.
type ReservationStore interface {
	Put(ctx context.Context, res *model.Reservation, holdWindow time.Duration) error
	Get(ctx context.Context, id string) (*model.Reservation, error)
	Delete(ctx context.Context, id string) error
}

// SeatLedger is the single authority over seat status.  Holds are taken
// under row locks and recorded in the reservation store; a hold is active
// exactly as long as its store entry exists.
type SeatLedger struct {
	db     *sqlx.DB
	seats  *repository.SeatRepo
	outbox *repository.OutboxRepo
	cache  ReservationStore
	hold   time.Duration
	logger *logrus.Logger
	now    func() time.Time
}

// NewSeatLedger wires a ledger.  hold is the lifetime of a reservation.
func NewSeatLedger(seats *repository.SeatRepo, outbox *repository.OutboxRepo, cache ReservationStore, hold time.Duration, logger *logrus.Logger) *SeatLedger {
	return &SeatLedger{
		db:     seats.DB(),
		seats:  seats,
		outbox: outbox,
		cache:  cache,
		hold:   hold,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Reserve places a hold on the given seats of a trip.  Either every seat
// becomes RESERVED under a new reservation id or nothing changes.
func (l *SeatLedger) Reserve(ctx context.Context, tripID int64, seatNumbers []int) (*model.Reservation, error) {
	if tripID <= 0 {
		return nil, fmt.Errorf("%w: trip id %d", ErrInvalidSeats, tripID)
	}
	nums, err := normalizeSeats(seatNumbers)
	if err != nil {
		return nil, err
	}

	var res *model.Reservation
	cached := false
	err = database.WithTx(ctx, l.db, func(tx *sqlx.Tx) error {
		locked, err := l.seats.LockSeatsTx(ctx, tx, tripID, nums)
		if err != nil {
			return fmt.Errorf("lock seats: %w", err)
		}
		if len(locked) != len(nums) {
			return ErrSeatsUnavailable
		}
		ids := make([]int64, 0, len(locked))
		for _, s := range locked {
			if s.Status != model.SeatAvailable {
				return ErrSeatsUnavailable
			}
			ids = append(ids, s.ID)
		}

		now := l.now()
		id := uuid.NewString()
		n, err := l.seats.ReserveSeatsTx(ctx, tx, ids, id, now)
		if err != nil {
			return fmt.Errorf("reserve seats: %w", err)
		}
		if n != int64(len(ids)) {
			return ErrSeatsUnavailable
		}

		res = &model.Reservation{
			ReservationID: id,
			TripID:        tripID,
			SeatNumbers:   nums,
			ExpiresAt:     now.Add(l.hold),
		}
		if err := l.cache.Put(ctx, res, l.hold); err != nil {
			return err
		}
		cached = true
		return nil
	})
	if err != nil {
		if cached {
			// The commit failed after the hold was cached.
			if derr := l.cache.Delete(context.WithoutCancel(ctx), res.ReservationID); derr != nil {
				l.logger.WithError(derr).WithField("reservation_id", res.ReservationID).Warn("Failed to drop cached hold after commit failure")
			}
		}
		return nil, err
	}

	l.logger.WithFields(logrus.Fields{
		"reservation_id": res.ReservationID,
		"trip_id":        tripID,
		"seats":          nums,
	}).Info("Seats reserved")
	return res, nil
}

// Confirm turns a live hold into sold seats.  It fails with
// ErrReservationNotFound when the hold expired or lost any of its seats.
func (l *SeatLedger) Confirm(ctx context.Context, reservationID string) error {
	res, err := l.cache.Get(ctx, reservationID)
	if err != nil {
		return err
	}
	if res == nil {
		return ErrReservationNotFound
	}
	err = database.WithTx(ctx, l.db, func(tx *sqlx.Tx) error {
		n, err := l.seats.MarkSoldTx(ctx, tx, reservationID, res.SeatNumbers, l.now())
		if err != nil {
			return fmt.Errorf("mark sold: %w", err)
		}
		if n < int64(len(res.SeatNumbers)) {
			return ErrReservationNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}
	l.dropHold(ctx, reservationID)
	l.logger.WithField("reservation_id", reservationID).Info("Reservation confirmed")
	return nil
}

// Release returns the seats of a hold to AVAILABLE.  Releasing a hold that
// no longer exists is not an error.
func (l *SeatLedger) Release(ctx context.Context, reservationID string) error {
	res, err := l.cache.Get(ctx, reservationID)
	if err != nil {
		return err
	}
	if res == nil {
		return nil
	}
	var n int64
	err = database.WithTx(ctx, l.db, func(tx *sqlx.Tx) error {
		n, err = l.seats.ReleaseTx(ctx, tx, reservationID, l.now())
		return err
	})
	if err != nil {
		return fmt.Errorf("release seats: %w", err)
	}
	l.dropHold(ctx, reservationID)
	l.logger.WithFields(logrus.Fields{"reservation_id": reservationID, "seats": n}).Info("Reservation released")
	return nil
}

// Expire handles the end of a hold window.  Seats still held are returned
// to AVAILABLE and a reservation.expired event is recorded in the same
// transaction; a hold that was already confirmed or released changes
// nothing and emits nothing.
func (l *SeatLedger) Expire(ctx context.Context, reservationID string) error {
	res, err := l.cache.Get(ctx, reservationID)
	if err != nil {
		return err
	}
	if res == nil {
		l.logger.WithField("reservation_id", reservationID).Debug("Expired hold already gone")
		return nil
	}
	var n int64
	err = database.WithTx(ctx, l.db, func(tx *sqlx.Tx) error {
		n, err = l.seats.ReleaseTx(ctx, tx, reservationID, l.now())
		if err != nil {
			return fmt.Errorf("release seats: %w", err)
		}
		if n == 0 {
			return nil
		}
		_, err = l.outbox.InsertTx(ctx, tx, reservationID, queue.ReservationExpired{
			ReservationID: reservationID,
			TripID:        res.TripID,
		})
		return err
	})
	if err != nil {
		return err
	}
	l.dropHold(ctx, reservationID)
	if n > 0 {
		l.logger.WithFields(logrus.Fields{"reservation_id": reservationID, "seats": n}).Info("Reservation expired")
	}
	return nil
}

// dropHold deletes both cache keys of a hold.  The database is already
// authoritative at this point, so a failure is only logged.
func (l *SeatLedger) dropHold(ctx context.Context, reservationID string) {
	if err := l.cache.Delete(context.WithoutCancel(ctx), reservationID); err != nil {
		l.logger.WithError(err).WithField("reservation_id", reservationID).Warn("Failed to delete cached hold")
	}
}

// MarkCancelled moves every seat of a cancelled trip to CANCELLED.
func (l *SeatLedger) MarkCancelled(ctx context.Context, tripID int64) error {
	n, err := l.seats.MarkTripCancelled(ctx, tripID, l.now())
	if err != nil {
		return fmt.Errorf("cancel seats of trip %d: %w", tripID, err)
	}
	l.logger.WithFields(logrus.Fields{"trip_id": tripID, "seats": n}).Info("Trip seats cancelled")
	return nil
}

// MarkSold closes the seat map of a departed trip.
func (l *SeatLedger) MarkSold(ctx context.Context, tripID int64) error {
	n, err := l.seats.MarkTripSold(ctx, tripID, l.now())
	if err != nil {
		return fmt.Errorf("close seats of trip %d: %w", tripID, err)
	}
	l.logger.WithFields(logrus.Fields{"trip_id": tripID, "seats": n}).Info("Trip seats closed")
	return nil
}

// CreateSeats creates seats 1..capacity for a new trip.  A trip that
// already has seats is left untouched, so redelivered trip.created events
// are harmless.
func (l *SeatLedger) CreateSeats(ctx context.Context, tripID int64, capacity int) (bool, error) {
	if tripID <= 0 || capacity < 1 {
		return false, fmt.Errorf("%w: trip %d capacity %d", ErrInvalidSeats, tripID, capacity)
	}
	created := false
	err := database.WithTx(ctx, l.db, func(tx *sqlx.Tx) error {
		existing, err := l.seats.CountByTripTx(ctx, tx, tripID)
		if err != nil {
			return err
		}
		if existing > 0 {
			return nil
		}
		if err := l.seats.CreateSeatsTx(ctx, tx, tripID, capacity, l.now()); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("create seats of trip %d: %w", tripID, err)
	}
	if created {
		l.logger.WithFields(logrus.Fields{"trip_id": tripID, "capacity": capacity}).Info("Trip seats created")
	}
	return created, nil
}

// ListSeats returns the seat map of a trip.
func (l *SeatLedger) ListSeats(ctx context.Context, tripID int64) ([]model.Seat, error) {
	seats, err := l.seats.ListByTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	return seats, nil
}

