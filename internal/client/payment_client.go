package client

import (
	"context"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/transit-booking/internal/model"
	"github.com/iliyamo/transit-booking/internal/service"
)

// PaymentClient asks the payment service for a checkout link.
type PaymentClient struct {
	http *httpClient
}

// NewPaymentClient returns a client for the payment service at baseURL.
func NewPaymentClient(baseURL string, opts Options, logger *logrus.Logger) *PaymentClient {
	return &PaymentClient{http: newHTTPClient(baseURL, opts, logger)}
}

type paymentRequest struct {
	OrderID string `json:"order_id"`
	UserID  string `json:"user_id"`
	Amount  int64  `json:"amount"`
}

type paymentResponse struct {
	PaymentURL string `json:"payment_url"`
}

// CreatePaymentLink returns the URL the user pays the order at.  The
// order id is sent as the idempotency key so retries reuse one payment.
func (c *PaymentClient) CreatePaymentLink(ctx context.Context, order *model.Order) (string, error) {
	var out paymentResponse
	err := c.http.do(ctx, request{
		method: http.MethodPost,
		path:   "/v1/payments",
		body:   paymentRequest{OrderID: order.ID, UserID: order.UserID, Amount: order.TotalPrice},
		out:    &out,
		header: map[string]string{"Idempotency-Key": order.ID},
	})
	if err != nil {
		return "", err
	}
	if out.PaymentURL == "" {
		return "", errors.New("payment service returned no payment url")
	}
	return out.PaymentURL, nil
}

var _ service.PaymentClient = (*PaymentClient)(nil)
