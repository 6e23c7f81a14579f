package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/transit-booking/internal/model"
	"github.com/iliyamo/transit-booking/internal/repository"
	"github.com/iliyamo/transit-booking/internal/service"
	"github.com/iliyamo/transit-booking/internal/utils"
)

var testOpts = Options{Timeout: time.Second, Attempts: 3, Backoff: time.Millisecond}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func TestSeatClientReserve(t *testing.T) {
	expires := time.Date(2026, 3, 1, 9, 15, 0, 0, time.UTC)

	t.Run("Created", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/internal/trips/7/reservations", r.URL.Path)
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			var body ReserveRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, []int{3, 4}, body.SeatNumbers)
			writeJSON(w, http.StatusCreated, model.Reservation{
				ReservationID: "r-1", TripID: 7, SeatNumbers: body.SeatNumbers, ExpiresAt: expires,
			})
		}))
		defer srv.Close()

		c := NewSeatClient(srv.URL, testOpts, quietLogger())
		res, err := c.Reserve(utils.WithToken(context.Background(), "tok"), 7, []int{3, 4})
		require.NoError(t, err)
		assert.Equal(t, "r-1", res.ReservationID)
		assert.True(t, expires.Equal(res.ExpiresAt))
	})

	t.Run("Conflict", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "seats unavailable"})
		}))
		defer srv.Close()

		_, err := NewSeatClient(srv.URL, testOpts, quietLogger()).Reserve(context.Background(), 7, []int{3})
		assert.ErrorIs(t, err, service.ErrSeatsUnavailable)
		assert.Contains(t, err.Error(), "seats unavailable")
	})

	t.Run("Server Error Not Retried", func(t *testing.T) {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		_, err := NewSeatClient(srv.URL, testOpts, quietLogger()).Reserve(context.Background(), 7, []int{3})
		assert.Equal(t, http.StatusInternalServerError, statusCode(err))
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})
}

func TestSeatClientConfirmRelease(t *testing.T) {
	var releases int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/internal/reservations/r-1/confirm":
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodPost && r.URL.Path == "/internal/reservations/gone/confirm":
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "reservation not found"})
		case r.Method == http.MethodDelete && r.URL.Path == "/internal/reservations/r-1":
			// First attempt fails, the retry succeeds.
			if atomic.AddInt32(&releases, 1) == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusTeapot)
		}
	}))
	defer srv.Close()
	c := NewSeatClient(srv.URL, testOpts, quietLogger())
	ctx := context.Background()

	require.NoError(t, c.Confirm(ctx, "r-1"))
	assert.ErrorIs(t, c.Confirm(ctx, "gone"), service.ErrReservationNotFound)
	require.NoError(t, c.Release(ctx, "r-1"))
	assert.Equal(t, int32(2), atomic.LoadInt32(&releases))
}

func TestOrderClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/internal/orders":
			var in service.CreateOrderInput
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&in))
			if in.SeatsCount == 0 {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order"})
				return
			}
			writeJSON(w, http.StatusCreated, model.Order{
				ID: "o-1", ReservationID: in.ReservationID, TotalPrice: in.UnitPrice * int64(in.SeatsCount), Status: model.OrderPending,
			})
		case "/internal/orders/o-1/cancel":
			var body CancelRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "payment_failed", body.Reason)
			writeJSON(w, http.StatusOK, model.Order{ID: "o-1", Status: model.OrderCancelled})
		case "/internal/orders/o-2/cancel":
			writeJSON(w, http.StatusConflict, map[string]string{"error": "order is not pending"})
		default:
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
		}
	}))
	defer srv.Close()
	c := NewOrderClient(srv.URL, testOpts, quietLogger())
	ctx := context.Background()

	o, err := c.CreateOrder(ctx, service.CreateOrderInput{UserID: "u-1", TripID: 7, ReservationID: "r-1", SeatsCount: 2, UnitPrice: 2500})
	require.NoError(t, err)
	assert.Equal(t, "o-1", o.ID)
	assert.Equal(t, int64(5000), o.TotalPrice)

	_, err = c.CreateOrder(ctx, service.CreateOrderInput{ReservationID: "r-1"})
	assert.ErrorIs(t, err, service.ErrInvalidOrder)

	require.NoError(t, c.CancelOrder(ctx, "o-1", "payment_failed"))
	assert.ErrorIs(t, c.CancelOrder(ctx, "o-2", "x"), service.ErrOrderNotPending)
	assert.ErrorIs(t, c.CancelOrder(ctx, "o-3", "x"), repository.ErrNotFound)
}

func TestPaymentClient(t *testing.T) {
	t.Run("Link", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "o-1", r.Header.Get("Idempotency-Key"))
			var body paymentRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, int64(5000), body.Amount)
			writeJSON(w, http.StatusCreated, paymentResponse{PaymentURL: "https://pay.example/o-1"})
		}))
		defer srv.Close()

		url, err := NewPaymentClient(srv.URL, testOpts, quietLogger()).
			CreatePaymentLink(context.Background(), &model.Order{ID: "o-1", UserID: "u-1", TotalPrice: 5000})
		require.NoError(t, err)
		assert.Equal(t, "https://pay.example/o-1", url)
	})

	t.Run("Gives Up", func(t *testing.T) {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		_, err := NewPaymentClient(srv.URL, testOpts, quietLogger()).
			CreatePaymentLink(context.Background(), &model.Order{ID: "o-1"})
		assert.Equal(t, http.StatusServiceUnavailable, statusCode(err))
		assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	})

	t.Run("Empty Link", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusCreated, paymentResponse{})
		}))
		defer srv.Close()

		_, err := NewPaymentClient(srv.URL, testOpts, quietLogger()).
			CreatePaymentLink(context.Background(), &model.Order{ID: "o-1"})
		assert.Error(t, err)
	})
}

func TestTripClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/trips/7" {
			writeJSON(w, http.StatusOK, model.Trip{ID: 7, Capacity: 40, PriceCents: 2500})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()
	c := NewTripClient(srv.URL, testOpts, quietLogger())

	trip, err := c.GetTrip(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 40, trip.Capacity)

	_, err = c.GetTrip(context.Background(), 8)
	assert.ErrorIs(t, err, service.ErrTripNotFound)
}

func TestRetryStopsOnCancel(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newHTTPClient(srv.URL, Options{Timeout: time.Second, Attempts: 5, Backoff: time.Hour}, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := time.AfterFunc(50*time.Millisecond, cancel)
	defer stop.Stop()

	err := c.do(ctx, request{method: http.MethodGet, path: "/x"})
	assert.Equal(t, http.StatusInternalServerError, statusCode(err))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
