package model

import "time"

// Reservation is a temporary hold on a set of seats.  It is not stored
// relationally: it lives only in the reservation cache, and the existence
// of the cache entry is what makes the hold active.
type Reservation struct {
	ReservationID string    `json:"reservation_id"`
	TripID        int64     `json:"trip_id"`
	SeatNumbers   []int     `json:"seat_numbers"`
	ExpiresAt     time.Time `json:"expires_at"`
}
