package service

import (
	"context"
	"errors"
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

// ReasonCancelledBeforePayment marks a payment that arrived for an order
// that had already been cancelled.
const ReasonCancelledBeforePayment = "order_cancelled_before_payment"

// OrderEventTypes are the event types the order service consumes.
var OrderEventTypes = []string{
	queue.TypePaymentSucceeded,
	queue.TypePaymentFailed,
	queue.TypeReservationExpired,
	queue.TypeBookingCancelled,
}

// CreateOrderInput describes the order for one reservation.  UnitPrice is
// the per-seat price in minor currency units.
type CreateOrderInput struct {
	UserID        string `json:"user_id"`
	TripID        int64  `json:"trip_id"`
	ReservationID string `json:"reservation_id"`
	SeatsCount    int    `json:"seats_count"`
	UnitPrice     int64  `json:"unit_price"`
}

// OrderService owns the order aggregate.  Every state change writes its
// event to the outbox in the same transaction.
type OrderService struct {
	db     *sqlx.DB
	orders *repository.OrderRepo
	outbox *repository.OutboxRepo
	logger *logrus.Logger
	now    func() time.Time
}

// NewOrderService wires an order service.
func NewOrderService(orders *repository.OrderRepo, outbox *repository.OutboxRepo, logger *logrus.Logger) *OrderService {
	return &OrderService{
		db:     orders.DB(),
		orders: orders,
		outbox: outbox,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// CreateOrder creates the PENDING order for a reservation, or returns the
// one that already exists for it.
func (s *OrderService) CreateOrder(ctx context.Context, in CreateOrderInput) (*model.Order, error) {
	if in.ReservationID == "" || in.TripID <= 0 || in.SeatsCount < 1 || in.UnitPrice < 0 {
		return nil, ErrInvalidOrder
	}
	var order *model.Order
	err := database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		existing, err := s.orders.GetByReservationIDTx(ctx, tx, in.ReservationID)
		if err == nil {
			order = existing
			return nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return err
		}

		now := s.now()
		o := &model.Order{
			ID:            uuid.NewString(),
			UserID:        in.UserID,
			TripID:        in.TripID,
			SeatsCount:    in.SeatsCount,
			TotalPrice:    in.UnitPrice * int64(in.SeatsCount),
			ReservationID: in.ReservationID,
			Status:        model.OrderPending,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := s.orders.CreateTx(ctx, tx, o); err != nil {
			return err
		}
		if _, err := s.outbox.InsertTx(ctx, tx, o.ID, queue.OrderCreated{OrderID: o.ID, ReservationID: o.ReservationID}); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		// A concurrent request for the same reservation may have won the
		// unique key; hand back its order.
		if existing, gerr := s.orders.GetByReservationID(ctx, in.ReservationID); gerr == nil {
			return existing, nil
		}
		return nil, fmt.Errorf("create order: %w", err)
	}
	s.logger.WithFields(logrus.Fields{
		"order_id":       order.ID,
		"reservation_id": order.ReservationID,
		"total_price":    order.TotalPrice,
	}).Info("Order ready")
	return order, nil
}

// GetOrder returns an order by id.
func (s *OrderService) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	return s.orders.GetByID(ctx, id)
}

// ConfirmOrder moves a PENDING order to CONFIRMED.  Confirming twice is a
// no-op; confirming a cancelled order fails with ErrOrderNotPending.
func (s *OrderService) ConfirmOrder(ctx context.Context, id string) (*model.Order, error) {
	return s.move(ctx, id, model.OrderConfirmed, func(o *model.Order) queue.Event {
		return queue.OrderConfirmed{OrderID: o.ID, ReservationID: o.ReservationID}
	})
}

// CancelOrder moves a PENDING order to CANCELLED.  Cancelling twice is a
// no-op; cancelling a confirmed order fails with ErrOrderNotPending.
func (s *OrderService) CancelOrder(ctx context.Context, id, reason string) (*model.Order, error) {
	return s.move(ctx, id, model.OrderCancelled, func(o *model.Order) queue.Event {
		return queue.OrderCancelled{OrderID: o.ID, ReservationID: o.ReservationID, Reason: reason}
	})
}

func (s *OrderService) move(ctx context.Context, id string, to model.OrderStatus, event func(*model.Order) queue.Event) (*model.Order, error) {
	var order *model.Order
	changed := false
	err := database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		o, err := s.orders.GetForUpdateTx(ctx, tx, id)
		if err != nil {
			return err
		}
		order = o
		if o.Status == to {
			return nil
		}
		if o.Status != model.OrderPending {
			return ErrOrderNotPending
		}
		now := s.now()
		ok, err := s.orders.UpdateStatusTx(ctx, tx, id, model.OrderPending, to, now)
		if err != nil {
			return err
		}
		if !ok {
			return ErrOrderNotPending
		}
		o.Status, o.UpdatedAt = to, now
		changed = true
		_, err = s.outbox.InsertTx(ctx, tx, o.ID, event(o))
		return err
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.logger.WithFields(logrus.Fields{"order_id": id, "status": to}).Info("Order status changed")
	}
	return order, nil
}

// HandleEvent applies consumed events to orders.  Events for unknown
// orders and transitions that were already made elsewhere are acked.
func (s *OrderService) HandleEvent(ctx context.Context, ev queue.Event) error {
	switch e := ev.(type) {
	case *queue.PaymentSucceeded:
		return s.onPaymentSucceeded(ctx, e.OrderID)
	case *queue.PaymentFailed:
		reason := e.Reason
		if reason == "" {
			reason = ReasonPaymentFailed
		}
		return s.cancelQuietly(ctx, e.OrderID, reason)
	case *queue.ReservationExpired:
		o, err := s.orders.GetByReservationID(ctx, e.ReservationID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return s.cancelQuietly(ctx, o.ID, ReasonReservationExpired)
	case *queue.BookingCancelled:
		if e.OrderID != "" {
			return s.cancelQuietly(ctx, e.OrderID, e.Reason)
		}
		if e.ReservationID == "" {
			return nil
		}
		// The booking never learned its order id, e.g. CreateOrder timed
		// out after the order was stored.
		o, err := s.orders.GetByReservationID(ctx, e.ReservationID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return s.cancelQuietly(ctx, o.ID, e.Reason)
	default:
		return nil
	}
}

func (s *OrderService) onPaymentSucceeded(ctx context.Context, orderID string) error {
	_, err := s.ConfirmOrder(ctx, orderID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		s.logger.WithField("order_id", orderID).Warn("Payment for unknown order")
		return nil
	case errors.Is(err, ErrOrderNotPending):
		s.logger.WithField("order_id", orderID).Warn("Payment for cancelled order, refund required")
		return database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
			_, err := s.outbox.InsertTx(ctx, tx, orderID, queue.BookingFailed{
				OrderID: orderID,
				Reason:  ReasonCancelledBeforePayment,
			})
			return err
		})
	default:
		return err
	}
}

func (s *OrderService) cancelQuietly(ctx context.Context, orderID, reason string) error {
	_, err := s.CancelOrder(ctx, orderID, reason)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return nil
	case errors.Is(err, ErrOrderNotPending):
		s.logger.WithFields(logrus.Fields{"order_id": orderID, "reason": reason}).Warn("Cannot cancel confirmed order")
		return nil
	default:
		return err
	}
}
