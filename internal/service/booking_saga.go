package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/transit-booking/internal/model"
	"github.com/iliyamo/transit-booking/internal/queue"
	"github.com/iliyamo/transit-booking/internal/repository"
)

// Cancellation reasons recorded on bookings and carried in
// booking.cancelled events.
const (
	ReasonSeatsUnavailable   = "seats_unavailable"
	ReasonReservationFailed  = "reservation_failed"
	ReasonOrderFailed        = "order_creation_failed"
	ReasonPaymentLinkFailed  = "payment_link_failed"
	ReasonPaymentFailed      = "payment_failed"
	ReasonOrderCancelled     = "order_cancelled"
	ReasonReservationExpired = "reservation_expired"
	ReasonBookingTimeout     = "booking_timeout"
)

// SeatLedgerClient reaches the seat service.  *SeatLedger satisfies it
// in-process; client.SeatClient over HTTP.
type SeatLedgerClient interface {
	Reserve(ctx context.Context, tripID int64, seatNumbers []int) (*model.Reservation, error)
	Confirm(ctx context.Context, reservationID string) error
	Release(ctx context.Context, reservationID string) error
}

// OrderClient reaches the order service.
type OrderClient interface {
	CreateOrder(ctx context.Context, in CreateOrderInput) (*model.Order, error)
	CancelOrder(ctx context.Context, orderID, reason string) error
}

// PaymentClient asks the payment provider for a checkout link.
type PaymentClient interface {
	CreatePaymentLink(ctx context.Context, order *model.Order) (string, error)
}

// TripClient reads trips from the trip service.
type TripClient interface {
	GetTrip(ctx context.Context, tripID int64) (*model.Trip, error)
}

// CreateBookingInput is a user's booking request.
type CreateBookingInput struct {
	UserID      string
	TripID      int64
	SeatNumbers []int
}

// BookingResult is returned to the user once a payment link exists.
type BookingResult struct {
	BookingID            string    `json:"booking_id"`
	PaymentURL           string    `json:"payment_url"`
	ReservationExpiresAt time.Time `json:"reservation_expires_at"`
}

// BookingSaga coordinates seats, orders and payments for one booking.
// Steps that already committed are undone by explicit compensation when a
// later step fails; asynchronous outcomes arrive as events.
type BookingSaga struct {
	store    BookingStore
	seats    SeatLedgerClient
	orders   OrderClient
	payments PaymentClient
	trips    TripClient
	logger   *logrus.Logger

	compensationTimeout time.Duration
	now                 func() time.Time
}

// NewBookingSaga wires a saga.  compensationTimeout bounds each undo step,
// which runs even when the caller's context is already cancelled.
func NewBookingSaga(store BookingStore, seats SeatLedgerClient, orders OrderClient, payments PaymentClient, trips TripClient, compensationTimeout time.Duration, logger *logrus.Logger) *BookingSaga {
	return &BookingSaga{
		store:               store,
		seats:               seats,
		orders:              orders,
		payments:            payments,
		trips:               trips,
		logger:              logger,
		compensationTimeout: compensationTimeout,
		now:                 func() time.Time { return time.Now().UTC() },
	}
}

// CreateBooking runs the synchronous part of the saga: record the
// booking, hold the seats, create the order and obtain a payment link.
// The booking then waits for a payment event.
func (s *BookingSaga) CreateBooking(ctx context.Context, in CreateBookingInput) (*BookingResult, error) {
	if in.UserID == "" {
		return nil, fmt.Errorf("%w: missing user", ErrInvalidBooking)
	}
	if in.TripID <= 0 {
		return nil, fmt.Errorf("%w: trip id %d", ErrInvalidBooking, in.TripID)
	}
	seats, err := normalizeSeats(in.SeatNumbers)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBooking, err)
	}

	trip, err := s.trips.GetTrip(ctx, in.TripID)
	if err != nil {
		if errors.Is(err, ErrTripNotFound) {
			return nil, fmt.Errorf("%w: trip %d does not exist", ErrInvalidBooking, in.TripID)
		}
		return nil, fmt.Errorf("get trip: %w", err)
	}
	if seats[len(seats)-1] > trip.Capacity {
		return nil, fmt.Errorf("%w: trip %d has %d seats", ErrInvalidBooking, trip.ID, trip.Capacity)
	}

	now := s.now()
	b := &model.Booking{
		ID:          uuid.NewString(),
		UserID:      in.UserID,
		TripID:      trip.ID,
		SeatsCount:  len(seats),
		SeatNumbers: model.IntList(seats),
		Status:      model.BookingCreated,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = s.store.Create(ctx, b, queue.BookingCreated{
		BookingID:  b.ID,
		UserID:     b.UserID,
		TripID:     b.TripID,
		SeatsCount: b.SeatsCount,
	})
	if err != nil {
		return nil, fmt.Errorf("create booking: %w", err)
	}
	log := s.logger.WithFields(logrus.Fields{"booking_id": b.ID, "trip_id": b.TripID})
	log.Info("Booking created")

	// Step 1: hold the seats.  Reserve is sent once.  If it times out after
	// the seat service committed, the reservation id never reaches us and
	// the hold stays until its trigger key expires.
	res, err := s.seats.Reserve(ctx, trip.ID, seats)
	if err != nil {
		if errors.Is(err, ErrSeatsUnavailable) {
			s.compensate(ctx, b, "", "", ReasonSeatsUnavailable)
			return nil, err
		}
		s.compensate(ctx, b, "", "", ReasonReservationFailed)
		return nil, fmt.Errorf("reserve seats: %w", err)
	}
	ok, err := s.store.Transition(ctx, b.ID, []model.BookingStatus{model.BookingCreated}, model.BookingSeatsReserved,
		repository.BookingUpdate{ReservationID: &res.ReservationID, ReservationExpiresAt: &res.ExpiresAt}, nil)
	if err != nil || !ok {
		s.compensate(ctx, b, res.ReservationID, "", ReasonReservationFailed)
		return nil, stepError("record reservation", err)
	}
	log = log.WithField("reservation_id", res.ReservationID)

	// Step 2: create the order.
	order, err := s.orders.CreateOrder(ctx, CreateOrderInput{
		UserID:        b.UserID,
		TripID:        b.TripID,
		ReservationID: res.ReservationID,
		SeatsCount:    b.SeatsCount,
		UnitPrice:     trip.PriceCents,
	})
	if err != nil {
		log.WithError(err).Warn("Order creation failed")
		s.compensate(ctx, b, res.ReservationID, "", ReasonOrderFailed)
		return nil, fmt.Errorf("create order: %w", err)
	}
	ok, err = s.store.Transition(ctx, b.ID, []model.BookingStatus{model.BookingSeatsReserved}, model.BookingWaitingPayment,
		repository.BookingUpdate{OrderID: &order.ID}, nil)
	if err != nil || !ok {
		s.compensate(ctx, b, res.ReservationID, order.ID, ReasonOrderFailed)
		return nil, stepError("record order", err)
	}
	log = log.WithField("order_id", order.ID)

	// Step 3: obtain the payment link.
	url, err := s.payments.CreatePaymentLink(ctx, order)
	if err != nil {
		log.WithError(err).Warn("Payment link creation failed")
		s.compensate(ctx, b, res.ReservationID, order.ID, ReasonPaymentLinkFailed)
		return nil, fmt.Errorf("create payment link: %w", err)
	}
	ok, err = s.store.Transition(ctx, b.ID, []model.BookingStatus{model.BookingWaitingPayment}, model.BookingWaitingPayment,
		repository.BookingUpdate{PaymentURL: &url}, nil)
	if err != nil {
		s.compensate(ctx, b, res.ReservationID, order.ID, ReasonPaymentLinkFailed)
		return nil, fmt.Errorf("record payment link: %w", err)
	}
	if !ok {
		// A payment event already moved the booking on; nothing to undo.
		return nil, ErrBookingClosed
	}

	log.Info("Booking waiting for payment")
	return &BookingResult{
		BookingID:            b.ID,
		PaymentURL:           url,
		ReservationExpiresAt: res.ExpiresAt,
	}, nil
}

// stepError wraps a failed bookkeeping step.  A nil err means the
// conditional update matched no row.
func stepError(step string, err error) error {
	if err == nil {
		return fmt.Errorf("%s: %w", step, ErrBookingClosed)
	}
	return fmt.Errorf("%s: %w", step, err)
}

// compensate undoes the completed steps of a failed booking and cancels
// it.  It runs detached from ctx's cancellation so a caller that gave up
// still leaves nothing behind; each step has its own timeout.  Failures
// are logged: holds expire and orders are cancelled by events anyway.
func (s *BookingSaga) compensate(ctx context.Context, b *model.Booking, reservationID, orderID, reason string) {
	base := context.WithoutCancel(ctx)
	log := s.logger.WithFields(logrus.Fields{"booking_id": b.ID, "reason": reason})

	if reservationID != "" {
		cctx, cancel := context.WithTimeout(base, s.compensationTimeout)
		if err := s.seats.Release(cctx, reservationID); err != nil {
			log.WithError(err).WithField("reservation_id", reservationID).Error("Compensation: release failed")
		}
		cancel()
	}
	if orderID != "" {
		cctx, cancel := context.WithTimeout(base, s.compensationTimeout)
		if err := s.orders.CancelOrder(cctx, orderID, reason); err != nil {
			log.WithError(err).WithField("order_id", orderID).Error("Compensation: order cancel failed")
		}
		cancel()
	}

	cctx, cancel := context.WithTimeout(base, s.compensationTimeout)
	defer cancel()
	ok, err := s.store.Transition(cctx, b.ID, model.OpenBookingStatuses, model.BookingCancelled,
		repository.BookingUpdate{CancelReason: &reason},
		queue.BookingCancelled{BookingID: b.ID, OrderID: orderID, ReservationID: reservationID, Reason: reason})
	if err != nil {
		log.WithError(err).Error("Compensation: cancel booking failed")
		return
	}
	if ok {
		log.Info("Booking cancelled")
	}
}

// OnPaymentSucceeded confirms the seats and the booking of a paid order.
// Seats are confirmed before the booking moves, so a CONFIRMED booking
// always had its sale attempted; a transport failure is returned and the
// event is redelivered.
func (s *BookingSaga) OnPaymentSucceeded(ctx context.Context, orderID string) error {
	b, err := s.store.GetByOrderID(ctx, orderID)
	if errors.Is(err, repository.ErrNotFound) {
		s.logger.WithField("order_id", orderID).Warn("Payment for unknown order")
		return nil
	}
	if err != nil {
		return err
	}
	log := s.logger.WithFields(logrus.Fields{"booking_id": b.ID, "order_id": orderID})

	switch b.Status {
	case model.BookingConfirmed:
		return nil
	case model.BookingCancelled, model.BookingExpired:
		log.WithField("status", b.Status).Warn("Payment received for closed booking, refund required")
		return nil
	}

	if b.ReservationID != nil {
		err := s.seats.Confirm(ctx, *b.ReservationID)
		switch {
		case errors.Is(err, ErrReservationNotFound):
			log.WithField("reservation_id", *b.ReservationID).Warn("Hold lost before payment confirmation")
		case err != nil:
			return fmt.Errorf("confirm seats: %w", err)
		}
	}

	ok, err := s.store.Transition(ctx, b.ID,
		[]model.BookingStatus{model.BookingSeatsReserved, model.BookingWaitingPayment},
		model.BookingConfirmed, repository.BookingUpdate{}, nil)
	if err != nil {
		return err
	}
	if ok {
		log.Info("Booking confirmed")
	}
	return nil
}

// OnPaymentFailed cancels the booking of an order whose payment failed.
func (s *BookingSaga) OnPaymentFailed(ctx context.Context, orderID, reason string) error {
	if reason == "" {
		reason = ReasonPaymentFailed
	}
	return s.cancelByOrder(ctx, orderID, reason)
}

// OnOrderCancelled cancels the booking of a cancelled order.
func (s *BookingSaga) OnOrderCancelled(ctx context.Context, orderID string) error {
	return s.cancelByOrder(ctx, orderID, ReasonOrderCancelled)
}

// OnBookingFailed cancels a booking reported failed by another service.
// The event identifies the booking directly or through its order.
func (s *BookingSaga) OnBookingFailed(ctx context.Context, ev queue.BookingFailed) error {
	var (
		b   *model.Booking
		err error
	)
	if ev.BookingID != "" {
		b, err = s.store.Get(ctx, ev.BookingID)
	} else {
		b, err = s.store.GetByOrderID(ctx, ev.OrderID)
	}
	if errors.Is(err, repository.ErrNotFound) {
		s.logger.WithField("key", ev.Key()).Warn("Failure reported for unknown booking")
		return nil
	}
	if err != nil {
		return err
	}
	return s.cancel(ctx, b, ev.Reason)
}

func (s *BookingSaga) cancelByOrder(ctx context.Context, orderID, reason string) error {
	b, err := s.store.GetByOrderID(ctx, orderID)
	if errors.Is(err, repository.ErrNotFound) {
		s.logger.WithField("order_id", orderID).Warn("Event for unknown order")
		return nil
	}
	if err != nil {
		return err
	}
	return s.cancel(ctx, b, reason)
}

// cancel releases the hold and then cancels the booking.  A release
// failure is returned so the triggering event is redelivered.
func (s *BookingSaga) cancel(ctx context.Context, b *model.Booking, reason string) error {
	if b.Status.IsTerminal() {
		return nil
	}
	var reservationID, orderID string
	if b.ReservationID != nil {
		reservationID = *b.ReservationID
		if err := s.seats.Release(ctx, reservationID); err != nil {
			return fmt.Errorf("release seats: %w", err)
		}
	}
	if b.OrderID != nil {
		orderID = *b.OrderID
	}
	ok, err := s.store.Transition(ctx, b.ID, model.OpenBookingStatuses, model.BookingCancelled,
		repository.BookingUpdate{CancelReason: &reason},
		queue.BookingCancelled{BookingID: b.ID, OrderID: orderID, ReservationID: reservationID, Reason: reason})
	if err != nil {
		return err
	}
	if ok {
		s.logger.WithFields(logrus.Fields{"booking_id": b.ID, "reason": reason}).Info("Booking cancelled")
	}
	return nil
}

// OnReservationExpired expires the booking whose hold ran out.
func (s *BookingSaga) OnReservationExpired(ctx context.Context, reservationID string) error {
	b, err := s.store.GetByReservationID(ctx, reservationID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.expire(ctx, b, ReasonReservationExpired)
}

func (s *BookingSaga) expire(ctx context.Context, b *model.Booking, reason string) error {
	if b.Status.IsTerminal() {
		return nil
	}
	var reservationID, orderID string
	if b.ReservationID != nil {
		reservationID = *b.ReservationID
	}
	if b.OrderID != nil {
		orderID = *b.OrderID
	}
	ok, err := s.store.Transition(ctx, b.ID, model.OpenBookingStatuses, model.BookingExpired,
		repository.BookingUpdate{CancelReason: &reason},
		queue.BookingCancelled{BookingID: b.ID, OrderID: orderID, ReservationID: reservationID, Reason: reason})
	if err != nil {
		return err
	}
	if ok {
		s.logger.WithFields(logrus.Fields{"booking_id": b.ID, "reason": reason}).Info("Booking expired")
	}
	return nil
}

// GetBooking returns a booking to its owner.
func (s *BookingSaga) GetBooking(ctx context.Context, id, userID string) (*model.Booking, error) {
	b, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.UserID != userID {
		return nil, repository.ErrForbidden
	}
	return b, nil
}
