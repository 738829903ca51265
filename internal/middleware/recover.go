package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/labstack/echo/v4"

	"github.com/set-night/memochat/internal/i18n"
)

// Recover turns a handler panic into a failed response.
func Recover() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("panic recovered in handler",
						"panic", fmt.Sprint(r),
						"path", c.Request().URL.Path,
						"stack", string(debug.Stack()),
					)
					err = fail(c, http.StatusInternalServerError, i18n.Tc(c.Request().Context(), "backend_processing_failed"))
				}
			}()
			return next(c)
		}
	}
}

func fail(c echo.Context, status int, info string) error {
	return c.JSON(status, map[string]string{"status": "failed", "info": info})
}
