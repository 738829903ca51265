package middleware

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// Logging logs every request with its status and duration.
func Logging() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()

			id := req.Header.Get(echo.HeaderXRequestID)
			if id == "" {
				id = uuid.NewString()
			}
			c.Response().Header().Set(echo.HeaderXRequestID, id)

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			attrs := []any{
				"request_id", id,
				"method", req.Method,
				"path", req.URL.Path,
				"status", c.Response().Status,
				"remote_ip", c.RealIP(),
				"duration", time.Since(start),
			}
			if err != nil {
				attrs = append(attrs, "error", err)
				slog.Warn("request failed", attrs...)
				return nil
			}
			slog.Debug("request processed", attrs...)
			return nil
		}
	}
}
