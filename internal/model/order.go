package model

import "time"

// OrderStatus is the monetary state of an order.
type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderConfirmed OrderStatus = "CONFIRMED"
	OrderCancelled OrderStatus = "CANCELLED"
)

// Order is the monetary side of a booking.  Exactly one order exists per
// reservation; the reservation id is the correlation key that makes order
// creation idempotent.  TotalPrice is in minor currency units.
type Order struct {
	ID            string      `db:"id" json:"id"`
	UserID        string      `db:"user_id" json:"user_id"`
	TripID        int64       `db:"trip_id" json:"trip_id"`
	SeatsCount    int         `db:"seats_count" json:"seats_count"`
	TotalPrice    int64       `db:"total_price" json:"total_price"`
	ReservationID string      `db:"reservation_id" json:"reservation_id"`
	Status        OrderStatus `db:"status" json:"status"`
	CreatedAt     time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time   `db:"updated_at" json:"updated_at"`
}
