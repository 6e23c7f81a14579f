package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/transit-booking/internal/model"
)

// SeatLedger is the part of service.SeatLedger exposed over HTTP.
type SeatLedger interface {
	Reserve(ctx context.Context, tripID int64, seatNumbers []int) (*model.Reservation, error)
	Confirm(ctx context.Context, reservationID string) error
	Release(ctx context.Context, reservationID string) error
	ListSeats(ctx context.Context, tripID int64) ([]model.Seat, error)
}

// SeatHandler serves the seat service's internal reservation RPC and the
// public seat map.
type SeatHandler struct {
	ledger SeatLedger
	logger *logrus.Logger
}

// NewSeatHandler constructs a SeatHandler.
func NewSeatHandler(ledger SeatLedger, logger *logrus.Logger) *SeatHandler {
	if ledger == nil {
		panic("nil ledger passed to NewSeatHandler")
	}
	return &SeatHandler{ledger: ledger, logger: logger}
}

// Reserve handles POST /internal/trips/:tripId/reservations.  The body is
// {"seat_numbers": [..]}.  It answers 201 with the reservation, or 409
// when any seat is not available.
func (h *SeatHandler) Reserve(c echo.Context) error {
	tripID, ok := tripIDParam(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid trip id"})
	}
	var body struct {
		SeatNumbers []int `json:"seat_numbers"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	res, err := h.ledger.Reserve(c.Request().Context(), tripID, body.SeatNumbers)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, res)
}

// Confirm handles POST /internal/reservations/:id/confirm.  It answers 204,
// or 404 when the hold is gone.
func (h *SeatHandler) Confirm(c echo.Context) error {
	if err := h.ledger.Confirm(c.Request().Context(), c.Param("id")); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Release handles DELETE /internal/reservations/:id.  Releasing an unknown
// reservation also answers 204.
func (h *SeatHandler) Release(c echo.Context) error {
	if err := h.ledger.Release(c.Request().Context(), c.Param("id")); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ListSeats handles GET /v1/trips/:tripId/seats.
func (h *SeatHandler) ListSeats(c echo.Context) error {
	tripID, ok := tripIDParam(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid trip id"})
	}
	seats, err := h.ledger.ListSeats(c.Request().Context(), tripID)
	if err != nil {
		return h.fail(c, err)
	}
	if seats == nil {
		seats = []model.Seat{}
	}
	return c.JSON(http.StatusOK, echo.Map{"trip_id": tripID, "seats": seats})
}

func (h *SeatHandler) fail(c echo.Context, err error) error {
	code, msg := errorStatus(err)
	if code >= http.StatusInternalServerError {
		h.logger.WithError(err).WithField("path", c.Path()).Error("Seat request failed")
	}
	return c.JSON(code, echo.Map{"error": msg})
}
