package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/transit-booking/internal/model"
	"github.com/iliyamo/transit-booking/internal/service"
)

// BookingService is the part of service.BookingSaga exposed over HTTP.
type BookingService interface {
	CreateBooking(ctx context.Context, in service.CreateBookingInput) (*service.BookingResult, error)
	GetBooking(ctx context.Context, id, userID string) (*model.Booking, error)
}

// BookingHandler serves the user-facing booking API.  Routes are expected
// behind JWTAuth.
type BookingHandler struct {
	saga   BookingService
	logger *logrus.Logger
}

// NewBookingHandler constructs a BookingHandler.
func NewBookingHandler(saga BookingService, logger *logrus.Logger) *BookingHandler {
	if saga == nil {
		panic("nil saga passed to NewBookingHandler")
	}
	return &BookingHandler{saga: saga, logger: logger}
}

type createBookingRequest struct {
	TripID      int64 `json:"trip_id"`
	SeatNumbers []int `json:"seat_numbers"`
}

// Create handles POST /v1/bookings.  On success it answers 201 with the
// booking id, the payment url and the hold expiry.  Taken seats answer
// 409; failures of a collaborating service answer 502.
func (h *BookingHandler) Create(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body createBookingRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	res, err := h.saga.CreateBooking(c.Request().Context(), service.CreateBookingInput{
		UserID:      userID,
		TripID:      body.TripID,
		SeatNumbers: body.SeatNumbers,
	})
	if err != nil {
		code, msg := errorStatus(err)
		if code >= http.StatusInternalServerError {
			h.logger.WithError(err).WithField("user_id", userID).Error("Booking failed")
			code, msg = http.StatusBadGateway, "booking could not be completed"
		}
		return c.JSON(code, echo.Map{"error": msg})
	}
	return c.JSON(http.StatusCreated, res)
}

// Get handles GET /v1/bookings/:id.  Only the owner may read a booking.
func (h *BookingHandler) Get(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	b, err := h.saga.GetBooking(c.Request().Context(), c.Param("id"), userID)
	if err != nil {
		code, msg := errorStatus(err)
		if code >= http.StatusInternalServerError {
			h.logger.WithError(err).Error("Booking lookup failed")
		}
		return c.JSON(code, echo.Map{"error": msg})
	}
	return c.JSON(http.StatusOK, b)
}
