package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/transit-booking/internal/queue"
)

// TripEventTypes are the event types the seat service consumes.
var TripEventTypes = []string{
	queue.TypeTripCreated,
	queue.TypeTripCancelled,
	queue.TypeTripDeparted,
}

// SeatInventory is the part of the seat ledger driven by trip events.
type SeatInventory interface {
	CreateSeats(ctx context.Context, tripID int64, capacity int) (bool, error)
	MarkCancelled(ctx context.Context, tripID int64) error
	MarkSold(ctx context.Context, tripID int64) error
}

// TripLifecycle keeps the seat map in step with the trip service.
type TripLifecycle struct {
	seats  SeatInventory
	trips  TripClient
	logger *logrus.Logger
}

// NewTripLifecycle wires the trip event consumer.
func NewTripLifecycle(seats SeatInventory, trips TripClient, logger *logrus.Logger) *TripLifecycle {
	return &TripLifecycle{seats: seats, trips: trips, logger: logger}
}

// HandleEvent applies a trip event to the seat map.
func (t *TripLifecycle) HandleEvent(ctx context.Context, ev queue.Event) error {
	switch e := ev.(type) {
	case *queue.TripCreated:
		capacity := e.Capacity
		if capacity <= 0 {
			trip, err := t.trips.GetTrip(ctx, e.TripID)
			if errors.Is(err, ErrTripNotFound) {
				t.logger.WithField("trip_id", e.TripID).Warn("Created trip not found, skipping seat creation")
				return nil
			}
			if err != nil {
				return fmt.Errorf("look up trip %d: %w", e.TripID, err)
			}
			capacity = trip.Capacity
		}
		_, err := t.seats.CreateSeats(ctx, e.TripID, capacity)
		if errors.Is(err, ErrInvalidSeats) {
			t.logger.WithError(err).WithField("trip_id", e.TripID).Warn("Unusable trip capacity")
			return nil
		}
		return err
	case *queue.TripCancelled:
		return t.seats.MarkCancelled(ctx, e.TripID)
	case *queue.TripDeparted:
		return t.seats.MarkSold(ctx, e.TripID)
	default:
		t.logger.WithField("event_type", ev.EventType()).Debug("Ignoring event")
		return nil
	}
}
