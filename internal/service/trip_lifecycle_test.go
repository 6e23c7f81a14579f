package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/transit-booking/internal/model"
	"github.com/iliyamo/transit-booking/internal/queue"
)

type fakeInventory struct {
	created   map[int64]int
	cancelled []int64
	sold      []int64
	createErr error
}

func (f *fakeInventory) CreateSeats(ctx context.Context, tripID int64, capacity int) (bool, error) {
	if f.createErr != nil {
		return false, f.createErr
	}
	if f.created == nil {
		f.created = map[int64]int{}
	}
	f.created[tripID] = capacity
	return true, nil
}

func (f *fakeInventory) MarkCancelled(ctx context.Context, tripID int64) error {
	f.cancelled = append(f.cancelled, tripID)
	return nil
}

func (f *fakeInventory) MarkSold(ctx context.Context, tripID int64) error {
	f.sold = append(f.sold, tripID)
	return nil
}

func TestTripLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("Capacity From Event", func(t *testing.T) {
		inv := &fakeInventory{}
		tl := NewTripLifecycle(inv, &fakeTrips{err: errors.New("must not be called")}, quietLogger())

		require.NoError(t, tl.HandleEvent(ctx, &queue.TripCreated{TripID: 3, Capacity: 52}))
		assert.Equal(t, 52, inv.created[3])
	})

	t.Run("Capacity From Trip Service", func(t *testing.T) {
		inv := &fakeInventory{}
		tl := NewTripLifecycle(inv, &fakeTrips{trip: &model.Trip{ID: 3, Capacity: 30}}, quietLogger())

		require.NoError(t, tl.HandleEvent(ctx, &queue.TripCreated{TripID: 3}))
		assert.Equal(t, 30, inv.created[3])
	})

	t.Run("Trip Vanished", func(t *testing.T) {
		inv := &fakeInventory{}
		tl := NewTripLifecycle(inv, &fakeTrips{err: ErrTripNotFound}, quietLogger())

		require.NoError(t, tl.HandleEvent(ctx, &queue.TripCreated{TripID: 3}))
		assert.Empty(t, inv.created)
	})

	t.Run("Trip Service Down", func(t *testing.T) {
		tl := NewTripLifecycle(&fakeInventory{}, &fakeTrips{err: errors.New("timeout")}, quietLogger())
		assert.Error(t, tl.HandleEvent(ctx, &queue.TripCreated{TripID: 3}))
	})

	t.Run("Cancelled And Departed", func(t *testing.T) {
		inv := &fakeInventory{}
		tl := NewTripLifecycle(inv, &fakeTrips{}, quietLogger())

		require.NoError(t, tl.HandleEvent(ctx, &queue.TripCancelled{TripID: 4}))
		require.NoError(t, tl.HandleEvent(ctx, &queue.TripDeparted{TripID: 5}))
		require.NoError(t, tl.HandleEvent(ctx, &queue.PaymentSucceeded{OrderID: "o-1"}))
		assert.Equal(t, []int64{4}, inv.cancelled)
		assert.Equal(t, []int64{5}, inv.sold)
	})
}
