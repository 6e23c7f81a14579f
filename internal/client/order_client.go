package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/transit-booking/internal/model"
	"github.com/iliyamo/transit-booking/internal/repository"
	"github.com/iliyamo/transit-booking/internal/service"
)

// OrderClient calls the order service.  Both calls are idempotent on the
// server side, so they are retried freely.
type OrderClient struct {
	http *httpClient
}

// NewOrderClient returns a client for the order service at baseURL.
func NewOrderClient(baseURL string, opts Options, logger *logrus.Logger) *OrderClient {
	return &OrderClient{http: newHTTPClient(baseURL, opts, logger)}
}

// CreateOrder creates, or returns the existing, order for a reservation.
func (c *OrderClient) CreateOrder(ctx context.Context, in service.CreateOrderInput) (*model.Order, error) {
	var o model.Order
	err := c.http.do(ctx, request{
		method: http.MethodPost,
		path:   "/internal/orders",
		body:   in,
		out:    &o,
	})
	if statusCode(err) == http.StatusBadRequest {
		return nil, fmt.Errorf("%w: %v", service.ErrInvalidOrder, err)
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// CancelRequest is the body of a cancel call.
type CancelRequest struct {
	Reason string `json:"reason"`
}

// CancelOrder cancels a pending order.
func (c *OrderClient) CancelOrder(ctx context.Context, orderID, reason string) error {
	err := c.http.do(ctx, request{
		method: http.MethodPost,
		path:   "/internal/orders/" + url.PathEscape(orderID) + "/cancel",
		body:   CancelRequest{Reason: reason},
	})
	switch statusCode(err) {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %v", repository.ErrNotFound, err)
	case http.StatusConflict:
		return fmt.Errorf("%w: %v", service.ErrOrderNotPending, err)
	}
	return err
}

var _ service.OrderClient = (*OrderClient)(nil)
