package router

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/transit-booking/internal/middleware"
)

// NewEcho returns an echo instance with panic recovery and request logging.
func NewEcho(logger *logrus.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger(logger))
	return e
}

// Serve runs e on addr until ctx is cancelled, then shuts it down with a
// 30 second grace period.
func Serve(ctx context.Context, e *echo.Echo, addr string, logger *logrus.Logger) error {
	errc := make(chan error, 1)
	go func() {
		logger.WithField("addr", addr).Info("HTTP server listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down HTTP server")
	sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.Shutdown(sctx); err != nil {
		return err
	}
	return <-errc
}
