package client

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/transit-booking/internal/model"
	"github.com/iliyamo/transit-booking/internal/service"
)

// TripClient reads trips from the trip service.
type TripClient struct {
	http *httpClient
}

// NewTripClient returns a client for the trip service at baseURL.
func NewTripClient(baseURL string, opts Options, logger *logrus.Logger) *TripClient {
	return &TripClient{http: newHTTPClient(baseURL, opts, logger)}
}

// GetTrip returns a trip or service.ErrTripNotFound.
func (c *TripClient) GetTrip(ctx context.Context, tripID int64) (*model.Trip, error) {
	var t model.Trip
	err := c.http.do(ctx, request{
		method: http.MethodGet,
		path:   fmt.Sprintf("/v1/trips/%d", tripID),
		out:    &t,
	})
	if statusCode(err) == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %d", service.ErrTripNotFound, tripID)
	}
	if err != nil {
		return nil, err
	}
	if t.ID == 0 {
		t.ID = tripID
	}
	return &t, nil
}

var _ service.TripClient = (*TripClient)(nil)
