package model

import "time"

// BookingStatus is the saga state of a booking.
type BookingStatus string

const (
	BookingCreated        BookingStatus = "CREATED"         // row inserted, nothing reserved yet
	BookingSeatsReserved  BookingStatus = "SEATS_RESERVED"  // hold taken in the seat ledger
	BookingWaitingPayment BookingStatus = "WAITING_PAYMENT" // order created, payment link issued
	BookingConfirmed      BookingStatus = "CONFIRMED"       // paid, seats sold
	BookingCancelled      BookingStatus = "CANCELLED"       // failed or compensated
	BookingExpired        BookingStatus = "EXPIRED"         // hold ran out before payment
)

// IsTerminal reports whether no further transition is allowed.
func (s BookingStatus) IsTerminal() bool {
	switch s {
	case BookingConfirmed, BookingCancelled, BookingExpired:
		return true
	}
	return false
}

// OpenBookingStatuses lists the states a booking can still leave.
var OpenBookingStatuses = []BookingStatus{BookingCreated, BookingSeatsReserved, BookingWaitingPayment}

// Booking is one booking attempt by a user.  It is owned and mutated only
// by the booking saga.
type Booking struct {
	ID                   string        `db:"id" json:"id"`
	UserID               string        `db:"user_id" json:"user_id"`
	TripID               int64         `db:"trip_id" json:"trip_id"`
	SeatsCount           int           `db:"seats_count" json:"seats_count"`
	SeatNumbers          IntList       `db:"seat_numbers" json:"seat_numbers"`
	ReservationID        *string       `db:"reservation_id" json:"reservation_id,omitempty"`
	ReservationExpiresAt *time.Time    `db:"reservation_expires_at" json:"reservation_expires_at,omitempty"`
	OrderID              *string       `db:"order_id" json:"order_id,omitempty"`
	PaymentURL           *string       `db:"payment_url" json:"payment_url,omitempty"`
	Status               BookingStatus `db:"status" json:"status"`
	CancelReason         *string       `db:"cancel_reason" json:"cancel_reason,omitempty"`
	CreatedAt            time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time     `db:"updated_at" json:"updated_at"`
}
