// Package router registers the HTTP routes of each service.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/transit-booking/internal/handler"
	"github.com/iliyamo/transit-booking/internal/middleware"
)

// RegisterRoutes registers the probes every service exposes.
func RegisterRoutes(e *echo.Echo, checks map[string]handler.Check) {
	e.GET("/healthz", handler.Health)
	e.GET("/readyz", handler.Ready(checks))
}

// RegisterSeatRoutes registers the seat service API.  The /internal group
// is reachable only from inside the cluster and carries no user token on
// event-driven calls, so it is not behind JWTAuth.
func RegisterSeatRoutes(e *echo.Echo, h *handler.SeatHandler) {
	in := e.Group("/internal")
	in.POST("/trips/:tripId/reservations", h.Reserve)
	in.POST("/reservations/:id/confirm", h.Confirm)
	in.DELETE("/reservations/:id", h.Release)

	// The seat map is public.
	e.GET("/v1/trips/:tripId/seats", h.ListSeats)
}

// RegisterBookingRoutes registers the booking API behind JWTAuth.  limit
// guards booking creation only.
func RegisterBookingRoutes(e *echo.Echo, h *handler.BookingHandler, jwtSecret string, limit echo.MiddlewareFunc) {
	g := e.Group("/v1/bookings", middleware.JWTAuth(jwtSecret))
	g.POST("", h.Create, limit)
	g.GET("/:id", h.Get)
}

// RegisterOrderRoutes registers the order service's internal RPC.
func RegisterOrderRoutes(e *echo.Echo, h *handler.OrderHandler) {
	g := e.Group("/internal/orders")
	g.POST("", h.Create)
	g.GET("/:id", h.Get)
	g.POST("/:id/confirm", h.Confirm)
	g.POST("/:id/cancel", h.Cancel)
}
