// Package queue defines the domain events exchanged over the message
// broker and the RabbitMQ publisher and consumer that carry them.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Event types double as routing keys on the topic exchange.
const (
	TypeReservationExpired = "reservation.expired"
	TypeBookingCreated     = "booking.created"
	TypeBookingCancelled   = "booking.cancelled"
	TypeBookingFailed      = "booking.failed"
	TypeOrderCreated       = "order.created"
	TypeOrderConfirmed     = "order.confirmed"
	TypeOrderCancelled     = "order.cancelled"
	TypePaymentSucceeded   = "payment.succeeded"
	TypePaymentFailed      = "payment.failed"
	TypeTripCreated        = "trip.created"
	TypeTripCancelled      = "trip.cancelled"
	TypeTripDeparted       = "trip.departed"
)

var (
	// ErrUnknownEventType is returned by Decode for a type it has no
	// variant for.  Consumers log and drop such messages.
	ErrUnknownEventType = errors.New("unknown event type")
	// ErrMalformedEvent is returned when the payload does not decode into
	// its declared type or lacks its correlation key.
	ErrMalformedEvent = errors.New("malformed event")
)

// Event is the closed set of domain events.  Key returns the primary
// correlation id, used as the message key and the dead-letter key.
type Event interface {
	EventType() string
	Key() string
}

// ReservationExpired is emitted by the seat ledger when a hold ran out
// before it was confirmed or released.
type ReservationExpired struct {
	ReservationID string `json:"reservationId"`
	TripID        int64  `json:"tripId"`
}

func (ReservationExpired) EventType() string { return TypeReservationExpired }
func (e ReservationExpired) Key() string     { return e.ReservationID }

// BookingCreated is emitted when a booking row is first inserted.
type BookingCreated struct {
	BookingID  string `json:"bookingId"`
	UserID     string `json:"userId"`
	TripID     int64  `json:"tripId"`
	SeatsCount int    `json:"seatsCount"`
}

func (BookingCreated) EventType() string { return TypeBookingCreated }
func (e BookingCreated) Key() string     { return e.BookingID }

// BookingCancelled is emitted when a booking reaches CANCELLED or EXPIRED.
type BookingCancelled struct {
	BookingID     string `json:"bookingId"`
	OrderID       string `json:"orderId,omitempty"`
	ReservationID string `json:"reservationId,omitempty"`
	Reason        string `json:"reason"`
}

func (BookingCancelled) EventType() string { return TypeBookingCancelled }
func (e BookingCancelled) Key() string     { return e.BookingID }

// BookingFailed reports an upstream failure for a booking.  Either the
// booking id or the order id identifies the booking.
type BookingFailed struct {
	BookingID     string `json:"bookingId,omitempty"`
	OrderID       string `json:"orderId,omitempty"`
	ReservationID string `json:"reservationId,omitempty"`
	Reason        string `json:"reason"`
}

func (BookingFailed) EventType() string { return TypeBookingFailed }

func (e BookingFailed) Key() string {
	if e.BookingID != "" {
		return e.BookingID
	}
	return e.OrderID
}

// OrderCreated, OrderConfirmed and OrderCancelled track the order lifecycle.
type OrderCreated struct {
	OrderID       string `json:"orderId"`
	ReservationID string `json:"reservationId,omitempty"`
}

func (OrderCreated) EventType() string { return TypeOrderCreated }
func (e OrderCreated) Key() string     { return e.OrderID }

type OrderConfirmed struct {
	OrderID       string `json:"orderId"`
	ReservationID string `json:"reservationId,omitempty"`
}

func (OrderConfirmed) EventType() string { return TypeOrderConfirmed }
func (e OrderConfirmed) Key() string     { return e.OrderID }

type OrderCancelled struct {
	OrderID       string `json:"orderId"`
	ReservationID string `json:"reservationId,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

func (OrderCancelled) EventType() string { return TypeOrderCancelled }
func (e OrderCancelled) Key() string     { return e.OrderID }

// PaymentSucceeded and PaymentFailed are produced by the payment service.
type PaymentSucceeded struct {
	OrderID   string `json:"orderId"`
	PaymentID string `json:"paymentId,omitempty"`
}

func (PaymentSucceeded) EventType() string { return TypePaymentSucceeded }
func (e PaymentSucceeded) Key() string     { return e.OrderID }

type PaymentFailed struct {
	OrderID   string `json:"orderId"`
	PaymentID string `json:"paymentId,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

func (PaymentFailed) EventType() string { return TypePaymentFailed }
func (e PaymentFailed) Key() string     { return e.OrderID }

// TripCreated, TripCancelled and TripDeparted are produced by the trip
// service.  Capacity is optional on TripCreated; when zero the seat
// service asks the trip service.
type TripCreated struct {
	TripID   int64  `json:"tripId"`
	BusType  string `json:"busType,omitempty"`
	Capacity int    `json:"capacity,omitempty"`
}

func (TripCreated) EventType() string { return TypeTripCreated }
func (e TripCreated) Key() string     { return tripKey(e.TripID) }

type TripCancelled struct {
	TripID int64 `json:"tripId"`
}

func (TripCancelled) EventType() string { return TypeTripCancelled }
func (e TripCancelled) Key() string     { return tripKey(e.TripID) }

type TripDeparted struct {
	TripID int64 `json:"tripId"`
}

func (TripDeparted) EventType() string { return TypeTripDeparted }
func (e TripDeparted) Key() string     { return tripKey(e.TripID) }

func tripKey(id int64) string {
	if id <= 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}

// Decode turns a payload into the variant named by eventType.  The result
// is always a pointer to one of the structs above.
func Decode(eventType string, payload []byte) (Event, error) {
	var ev Event
	switch eventType {
	case TypeReservationExpired:
		ev = &ReservationExpired{}
	case TypeBookingCreated:
		ev = &BookingCreated{}
	case TypeBookingCancelled:
		ev = &BookingCancelled{}
	case TypeBookingFailed:
		ev = &BookingFailed{}
	case TypeOrderCreated:
		ev = &OrderCreated{}
	case TypeOrderConfirmed:
		ev = &OrderConfirmed{}
	case TypeOrderCancelled:
		ev = &OrderCancelled{}
	case TypePaymentSucceeded:
		ev = &PaymentSucceeded{}
	case TypePaymentFailed:
		ev = &PaymentFailed{}
	case TypeTripCreated:
		ev = &TripCreated{}
	case TypeTripCancelled:
		ev = &TripCancelled{}
	case TypeTripDeparted:
		ev = &TripDeparted{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
	}
	if err := json.Unmarshal(payload, ev); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, eventType, err)
	}
	if ev.Key() == "" {
		return nil, fmt.Errorf("%w: %s: missing correlation id", ErrMalformedEvent, eventType)
	}
	return ev, nil
}

// Message is an encoded event ready for the broker.
type Message struct {
	ID   string // outbox row id, used as the AMQP message id
	Type string
	Key  string
	Body []byte
}

// NewMessage encodes ev into a Message with the given id.
func NewMessage(id string, ev Event) (Message, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s: %w", ev.EventType(), err)
	}
	return Message{ID: id, Type: ev.EventType(), Key: ev.Key(), Body: body}, nil
}

// deadLetter is the body written to a service's dead-letter queue.
type deadLetter struct {
	Key        string          `json:"key"`
	RawPayload json.RawMessage `json:"raw_payload"`
}

// encodeDeadLetter wraps a raw payload for the dead-letter queue.  Payloads
// that are not valid JSON are carried as a JSON string.
func encodeDeadLetter(key string, raw []byte) ([]byte, error) {
	payload := json.RawMessage(raw)
	if !json.Valid(raw) {
		quoted, err := json.Marshal(string(raw))
		if err != nil {
			return nil, err
		}
		payload = quoted
	}
	return json.Marshal(deadLetter{Key: key, RawPayload: payload})
}
