// Package service implements the booking saga and the services around
// it: the seat ledger and its expiry handling, the order aggregate, the
// trip lifecycle consumer and the outbox dispatcher shared by all three
// processes.
package service

import "errors"

var (
	// ErrInvalidSeats is returned when a seat list is empty or holds a
	// non-positive seat number.
	ErrInvalidSeats = errors.New("invalid seat selection")
	// ErrSeatsUnavailable is returned when at least one requested seat
	// does not exist or is not AVAILABLE.
	ErrSeatsUnavailable = errors.New("seats unavailable")
	// ErrReservationNotFound is returned when a hold no longer exists or
	// no longer owns all of its seats.
	ErrReservationNotFound = errors.New("reservation not found")
	// ErrInvalidBooking marks a booking request the client must fix.
	ErrInvalidBooking = errors.New("invalid booking request")
	// ErrBookingClosed is returned when a booking left the open states
	// while the saga was still working on it.
	ErrBookingClosed = errors.New("booking is no longer open")
	// ErrTripNotFound is returned by trip lookups for an unknown trip.
	ErrTripNotFound = errors.New("trip not found")
	// ErrInvalidOrder marks an order request with missing or negative values.
	ErrInvalidOrder = errors.New("invalid order request")
	// ErrOrderNotPending is returned when an order cannot move because it
	// already reached the opposite final state.
	ErrOrderNotPending = errors.New("order is not pending")
)
