package service

import (
	"context"
	"sync"
	"time"

	"github.com/iliyamo/transit-booking/internal/model"
	"github.com/iliyamo/transit-booking/internal/queue"
	"github.com/iliyamo/transit-booking/internal/repository"
)

// memoryBookingStore is an in-memory BookingStore that applies the same
// conditional transition rules as the SQL store.
type memoryBookingStore struct {
	mu       sync.Mutex
	bookings map[string]*model.Booking
	events   []queue.Event
	err      error
}

func newMemoryBookingStore() *memoryBookingStore {
	return &memoryBookingStore{bookings: map[string]*model.Booking{}}
}

func (m *memoryBookingStore) Create(ctx context.Context, b *model.Booking, ev queue.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	cp := *b
	m.bookings[b.ID] = &cp
	if ev != nil {
		m.events = append(m.events, ev)
	}
	return nil
}

func (m *memoryBookingStore) find(match func(*model.Booking) bool) (*model.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.bookings {
		if match(b) {
			cp := *b
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memoryBookingStore) Get(ctx context.Context, id string) (*model.Booking, error) {
	return m.find(func(b *model.Booking) bool { return b.ID == id })
}

func (m *memoryBookingStore) GetByOrderID(ctx context.Context, orderID string) (*model.Booking, error) {
	return m.find(func(b *model.Booking) bool { return b.OrderID != nil && *b.OrderID == orderID })
}

func (m *memoryBookingStore) GetByReservationID(ctx context.Context, id string) (*model.Booking, error) {
	return m.find(func(b *model.Booking) bool { return b.ReservationID != nil && *b.ReservationID == id })
}

func (m *memoryBookingStore) Transition(ctx context.Context, id string, from []model.BookingStatus, to model.BookingStatus, upd repository.BookingUpdate, ev queue.Event) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	b, ok := m.bookings[id]
	if !ok {
		return false, nil
	}
	allowed := false
	for _, s := range from {
		if b.Status == s {
			allowed = true
		}
	}
	if !allowed {
		return false, nil
	}
	b.Status = to
	if upd.ReservationID != nil {
		b.ReservationID = upd.ReservationID
	}
	if upd.ReservationExpiresAt != nil {
		b.ReservationExpiresAt = upd.ReservationExpiresAt
	}
	if upd.OrderID != nil {
		b.OrderID = upd.OrderID
	}
	if upd.PaymentURL != nil {
		b.PaymentURL = upd.PaymentURL
	}
	if upd.CancelReason != nil {
		b.CancelReason = upd.CancelReason
	}
	if ev != nil {
		m.events = append(m.events, ev)
	}
	return true, nil
}

func (m *memoryBookingStore) ListStale(ctx context.Context, reservationCutoff, createdCutoff time.Time, limit int) ([]model.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Booking
	for _, b := range m.bookings {
		if b.Status.IsTerminal() {
			continue
		}
		if (b.ReservationExpiresAt != nil && b.ReservationExpiresAt.Before(reservationCutoff)) ||
			(b.Status == model.BookingCreated && b.CreatedAt.Before(createdCutoff)) {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (m *memoryBookingStore) put(b model.Booking) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bookings[b.ID] = &b
}

func (m *memoryBookingStore) status(id string) model.BookingStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bookings[id].Status
}

type fakeSeats struct {
	mu          sync.Mutex
	reserveErr  error
	confirmErr  error
	releaseErr  error
	reservation *model.Reservation
	confirmed   []string
	released    []string
	releaseCtx  context.Context
}

func (f *fakeSeats) Reserve(ctx context.Context, tripID int64, seats []int) (*model.Reservation, error) {
	if f.reserveErr != nil {
		return nil, f.reserveErr
	}
	if f.reservation != nil {
		return f.reservation, nil
	}
	return &model.Reservation{
		ReservationID: "r-1",
		TripID:        tripID,
		SeatNumbers:   seats,
		ExpiresAt:     time.Date(2026, 3, 1, 9, 15, 0, 0, time.UTC),
	}, nil
}

func (f *fakeSeats) Confirm(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmed = append(f.confirmed, id)
	return f.confirmErr
}

func (f *fakeSeats) Release(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, id)
	f.releaseCtx = ctx
	return f.releaseErr
}

type fakeOrders struct {
	createErr error
	cancelErr error
	created   []CreateOrderInput
	cancelled []string
}

func (f *fakeOrders) CreateOrder(ctx context.Context, in CreateOrderInput) (*model.Order, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, in)
	return &model.Order{
		ID:            "o-1",
		UserID:        in.UserID,
		TripID:        in.TripID,
		SeatsCount:    in.SeatsCount,
		TotalPrice:    in.UnitPrice * int64(in.SeatsCount),
		ReservationID: in.ReservationID,
		Status:        model.OrderPending,
	}, nil
}

func (f *fakeOrders) CancelOrder(ctx context.Context, id, reason string) error {
	f.cancelled = append(f.cancelled, id)
	return f.cancelErr
}

type fakePayments struct {
	url string
	err error
}

func (f *fakePayments) CreatePaymentLink(ctx context.Context, o *model.Order) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.url + o.ID, nil
}

type fakeTrips struct {
	trip *model.Trip
	err  error
}

func (f *fakeTrips) GetTrip(ctx context.Context, id int64) (*model.Trip, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.trip != nil {
		return f.trip, nil
	}
	return &model.Trip{ID: id, Capacity: 40, PriceCents: 2500}, nil
}
