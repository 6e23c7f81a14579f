// Package handler contains the echo handlers of the seat, booking and
// order services.
package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/transit-booking/internal/repository"
	"github.com/iliyamo/transit-booking/internal/service"
)

// getUserID returns the subject JWTAuth stored in the context.
func getUserID(c echo.Context) (string, error) {
	if v, ok := c.Get("user_id").(string); ok && v != "" {
		return v, nil
	}
	return "", errors.New("invalid user_id in context")
}

// tripIDParam parses the :tripId path parameter.
func tripIDParam(c echo.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("tripId"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// errorStatus maps a domain error to an HTTP status and a message safe to
// return to the caller.  Unrecognised errors map to 500.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrInvalidSeats),
		errors.Is(err, service.ErrInvalidBooking),
		errors.Is(err, service.ErrInvalidOrder):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, service.ErrSeatsUnavailable):
		return http.StatusConflict, "seats unavailable"
	case errors.Is(err, service.ErrOrderNotPending):
		return http.StatusConflict, "order is not pending"
	case errors.Is(err, service.ErrBookingClosed):
		return http.StatusConflict, "booking is no longer open"
	case errors.Is(err, service.ErrReservationNotFound):
		return http.StatusNotFound, "reservation not found"
	case errors.Is(err, service.ErrTripNotFound):
		return http.StatusNotFound, "trip not found"
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, repository.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	}
	return http.StatusInternalServerError, "internal error"
}
