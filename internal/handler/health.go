package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Health is a liveness probe.  It returns a plain text "ok" with status 200.
func Health(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

// Check probes one dependency.
type Check func(ctx context.Context) error

// Ready returns a readiness probe that runs every check with a short
// timeout and answers 503 naming the first dependency that failed.
func Ready(checks map[string]Check) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		for name, check := range checks {
			if err := check(ctx); err != nil {
				return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": name + " unavailable"})
			}
		}
		return c.String(http.StatusOK, "ready")
	}
}
