package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/transit-booking/internal/model"
	"github.com/iliyamo/transit-booking/internal/service"
)

// OrderService is the part of service.OrderService exposed over HTTP.
type OrderService interface {
	CreateOrder(ctx context.Context, in service.CreateOrderInput) (*model.Order, error)
	GetOrder(ctx context.Context, id string) (*model.Order, error)
	ConfirmOrder(ctx context.Context, id string) (*model.Order, error)
	CancelOrder(ctx context.Context, id, reason string) (*model.Order, error)
}

// OrderHandler serves the order service's internal RPC.
type OrderHandler struct {
	orders OrderService
	logger *logrus.Logger
}

// NewOrderHandler constructs an OrderHandler.
func NewOrderHandler(orders OrderService, logger *logrus.Logger) *OrderHandler {
	if orders == nil {
		panic("nil order service passed to NewOrderHandler")
	}
	return &OrderHandler{orders: orders, logger: logger}
}

// Create handles POST /internal/orders.  Repeating the call for the same
// reservation returns the same order.
func (h *OrderHandler) Create(c echo.Context) error {
	var in service.CreateOrderInput
	if err := c.Bind(&in); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	o, err := h.orders.CreateOrder(c.Request().Context(), in)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, o)
}

// Get handles GET /internal/orders/:id.
func (h *OrderHandler) Get(c echo.Context) error {
	o, err := h.orders.GetOrder(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, o)
}

// Confirm handles POST /internal/orders/:id/confirm.
func (h *OrderHandler) Confirm(c echo.Context) error {
	o, err := h.orders.ConfirmOrder(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, o)
}

// Cancel handles POST /internal/orders/:id/cancel with an optional
// {"reason": ".."} body.
func (h *OrderHandler) Cancel(c echo.Context) error {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	o, err := h.orders.CancelOrder(c.Request().Context(), c.Param("id"), body.Reason)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *OrderHandler) fail(c echo.Context, err error) error {
	code, msg := errorStatus(err)
	if code >= http.StatusInternalServerError {
		h.logger.WithError(err).WithField("path", c.Path()).Error("Order request failed")
	}
	return c.JSON(code, echo.Map{"error": msg})
}
