package service

import (
	"context"

	"github.com/iliyamo/transit-booking/internal/queue"
)

// BookingEventTypes are the event types the booking service consumes.
var BookingEventTypes = []string{
	queue.TypePaymentSucceeded,
	queue.TypePaymentFailed,
	queue.TypeOrderCancelled,
	queue.TypeBookingFailed,
	queue.TypeReservationExpired,
}

// HandleEvent routes a consumed event to the saga.  Other event types are
// acknowledged and ignored.
func (s *BookingSaga) HandleEvent(ctx context.Context, ev queue.Event) error {
	switch e := ev.(type) {
	case *queue.PaymentSucceeded:
		return s.OnPaymentSucceeded(ctx, e.OrderID)
	case *queue.PaymentFailed:
		return s.OnPaymentFailed(ctx, e.OrderID, e.Reason)
	case *queue.OrderCancelled:
		return s.OnOrderCancelled(ctx, e.OrderID)
	case *queue.BookingFailed:
		return s.OnBookingFailed(ctx, *e)
	case *queue.ReservationExpired:
		return s.OnReservationExpired(ctx, e.ReservationID)
	default:
		s.logger.WithField("event_type", ev.EventType()).Debug("Ignoring event")
		return nil
	}
}
