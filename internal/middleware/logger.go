package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// RequestLogger logs one line per request.  Server errors are logged at
// error level, client errors at warn.
func RequestLogger(logger *logrus.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				// Let echo render the error so the status below is final.
				c.Error(err)
			}

			req, res := c.Request(), c.Response()
			entry := logger.WithFields(logrus.Fields{
				"method":     req.Method,
				"path":       c.Path(),
				"uri":        req.RequestURI,
				"status":     res.Status,
				"latency_ms": time.Since(start).Milliseconds(),
				"remote_ip":  c.RealIP(),
			})
			if uid, ok := c.Get("user_id").(string); ok && uid != "" {
				entry = entry.WithField("user_id", uid)
			}
			switch {
			case res.Status >= 500:
				entry.WithError(err).Error("Request failed")
			case res.Status >= 400:
				entry.Warn("Request rejected")
			default:
				entry.Info("Request handled")
			}
			return nil
		}
	}
}
