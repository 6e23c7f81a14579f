package model

import "time"

// SeatStatus is the lifecycle state of one seat on one trip.
type SeatStatus string

const (
	SeatAvailable SeatStatus = "AVAILABLE"
	SeatReserved  SeatStatus = "RESERVED"
	SeatSold      SeatStatus = "SOLD"
	SeatCancelled SeatStatus = "CANCELLED"
)

// Seat represents a physical seat on a specific trip.  One row exists per
// seat per trip; rows are created in bulk when the trip is announced and
// are never deleted, only moved through the status machine:
//
//	AVAILABLE -> RESERVED -> SOLD | AVAILABLE
//	any       -> CANCELLED (trip cancelled, terminal)
//
// Fields:
//
//	ID               – primary key identifier.
//	TripID           – trip the seat belongs to.
//	SeatNumber       – seat number within the bus, starting at 1.
//	Status           – current status.
//	ReservationID    – hold that reserved (or bought) the seat, nil when free.
//	LastStatusUpdate – when Status last changed; drives the sweeper.
type Seat struct {
	ID               int64      `db:"id" json:"id"`
	TripID           int64      `db:"trip_id" json:"trip_id"`
	SeatNumber       int        `db:"seat_number" json:"seat_number"`
	Status           SeatStatus `db:"status" json:"status"`
	ReservationID    *string    `db:"reservation_id" json:"reservation_id,omitempty"`
	LastStatusUpdate time.Time  `db:"last_status_update" json:"last_status_update"`
}
