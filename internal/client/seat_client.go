package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/transit-booking/internal/model"
	"github.com/iliyamo/transit-booking/internal/service"
)

// SeatClient calls the seat service's internal reservation API.
type SeatClient struct {
	http *httpClient
}

// NewSeatClient returns a client for the seat service at baseURL.
func NewSeatClient(baseURL string, opts Options, logger *logrus.Logger) *SeatClient {
	return &SeatClient{http: newHTTPClient(baseURL, opts, logger)}
}

// ReserveRequest is the body of a reservation call.
type ReserveRequest struct {
	SeatNumbers []int `json:"seat_numbers"`
}

// Reserve holds seats on a trip.  The call is not retried: a lost
// response may still have taken the hold, and a retry would then see the
// seats as taken.  Such a hold is reclaimed by its TTL.
func (c *SeatClient) Reserve(ctx context.Context, tripID int64, seatNumbers []int) (*model.Reservation, error) {
	var res model.Reservation
	err := c.http.do(ctx, request{
		method: http.MethodPost,
		path:   fmt.Sprintf("/internal/trips/%d/reservations", tripID),
		body:   ReserveRequest{SeatNumbers: seatNumbers},
		out:    &res,
		once:   true,
	})
	switch statusCode(err) {
	case 0:
		if err != nil {
			return nil, err
		}
		return &res, nil
	case http.StatusConflict:
		return nil, fmt.Errorf("%w: %v", service.ErrSeatsUnavailable, err)
	case http.StatusBadRequest:
		return nil, fmt.Errorf("%w: %v", service.ErrInvalidSeats, err)
	default:
		return nil, err
	}
}

// Confirm turns a hold into sold seats.
func (c *SeatClient) Confirm(ctx context.Context, reservationID string) error {
	err := c.http.do(ctx, request{
		method: http.MethodPost,
		path:   "/internal/reservations/" + url.PathEscape(reservationID) + "/confirm",
	})
	if statusCode(err) == http.StatusNotFound {
		return fmt.Errorf("%w: %v", service.ErrReservationNotFound, err)
	}
	return err
}

// Release drops a hold.  Releasing an unknown reservation succeeds.
func (c *SeatClient) Release(ctx context.Context, reservationID string) error {
	return c.http.do(ctx, request{
		method: http.MethodDelete,
		path:   "/internal/reservations/" + url.PathEscape(reservationID),
	})
}

var _ service.SeatLedgerClient = (*SeatClient)(nil)
