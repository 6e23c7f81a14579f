package middleware

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/transit-booking/internal/config"
)

// limiterScript takes one token from the bucket in KEYS[1] after adding
// the refills due since its last update.
// ARGV: now_ms, capacity, refill, refill_every_ms, ttl_ms.
// Returns {allowed, tokens_left, wait_ms}.
var limiterScript = redis.NewScript(`
local now, cap, refill, every, ttl =
	tonumber(ARGV[1]), tonumber(ARGV[2]), tonumber(ARGV[3]), tonumber(ARGV[4]), tonumber(ARGV[5])
local b = redis.call('HMGET', KEYS[1], 'n', 'at')
local n, at = tonumber(b[1]), tonumber(b[2])
if not n or not at then
	n, at = cap, now
elseif every > 0 and refill > 0 and now > at then
	local due = math.floor((now - at) / every)
	n = math.min(cap, n + due * refill)
	at = at + due * every
end
local ok, wait = 0, 0
if n >= 1 then
	ok, n = 1, n - 1
elseif every > 0 then
	wait = math.max(0, every - (now - at))
end
redis.call('HSET', KEYS[1], 'n', n, 'at', at)
redis.call('PEXPIRE', KEYS[1], ttl)
return {ok, n, wait}
`)

// RateLimit returns a token bucket middleware backed by Redis.  It runs
// after JWTAuth so buckets can be keyed by user.  Redis failures let the
// request through.
func RateLimit(cfg config.RateLimitConfig, rdb *redis.Client, logger *logrus.Logger) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := rateKey(cfg, c)
			args := []interface{}{
				time.Now().UnixMilli(),
				cfg.Capacity,
				cfg.RefillTokens,
				cfg.RefillInterval.Milliseconds(),
				cfg.TTL.Milliseconds(),
			}
			vals, err := limiterScript.Run(c.Request().Context(), rdb, []string{key}, args...).Int64Slice()
			if err != nil || len(vals) != 3 {
				logger.WithError(err).WithField("key", key).Warn("Rate limiter unavailable")
				return next(c)
			}
			allowed, remaining, waitMs := vals[0] == 1, vals[1], vals[2]

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(cfg.Capacity))
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
			if !allowed {
				secs := int(math.Max(1, math.Ceil(float64(waitMs)/1000)))
				h.Set("Retry-After", strconv.Itoa(secs))
				return c.JSON(http.StatusTooManyRequests, echo.Map{
					"error":       "rate limit exceeded",
					"retry_after": secs,
				})
			}
			return next(c)
		}
	}
}

func rateKey(cfg config.RateLimitConfig, c echo.Context) string {
	uid, _ := c.Get("user_id").(string)
	if uid == "" {
		uid = "anon"
	}
	ip := c.RealIP()
	if ip == "" {
		ip = "unknown"
	}
	parts := []string{cfg.Prefix}
	switch strings.ToLower(cfg.KeyStrategy) {
	case "ip":
		parts = append(parts, "ip", ip)
	case "user_route":
		parts = append(parts, "user", uid, "route", fmt.Sprintf("%s %s", c.Request().Method, c.Path()))
	default:
		parts = append(parts, "user", uid)
	}
	return strings.Join(parts, ":")
}
