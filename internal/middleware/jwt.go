// Package middleware contains the echo middleware shared by the services.
package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/transit-booking/internal/utils"
)

// JWTAuth validates a Bearer access token signed with secret.  The token's
// subject is stored under "user_id" in the echo context, and the raw token
// is put on the request context so outbound service calls can forward it.
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			raw := strings.TrimPrefix(auth, "Bearer ")

			sub, err := utils.ParseAccessToken(secret, raw)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}
			c.Set("user_id", sub)
			req := c.Request()
			c.SetRequest(req.WithContext(utils.WithToken(req.Context(), raw)))
			return next(c)
		}
	}
}
