package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/set-night/memochat/internal/i18n"
)

type RateLimiter interface {
	CheckAndIncrementRateLimit(ctx context.Context, key string) (int, error)
}

// RateLimit allows limit requests per client and minute. Counters live in the
// database so every instance shares them. Failures to count let the request through.
func RateLimit(limiter RateLimiter, limit int) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if limit <= 0 {
				return next(c)
			}
			key := "ip:" + c.RealIP()
			ctx := c.Request().Context()

			count, err := limiter.CheckAndIncrementRateLimit(ctx, key)
			if err != nil {
				slog.Error("rate limit check failed", "error", err, "key", key)
				return next(c)
			}
			if count > limit {
				slog.Debug("rate limited", "key", key, "count", count, "limit", limit)
				return fail(c, http.StatusTooManyRequests, i18n.Tc(ctx, "rate_limited"))
			}
			return next(c)
		}
	}
}
