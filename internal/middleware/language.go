package middleware

import (
	"github.com/labstack/echo/v4"

	"github.com/set-night/memochat/internal/i18n"
)

// HeaderAcceptLanguage is not among echo's header constants.
const HeaderAcceptLanguage = "Accept-Language"

// Language stores the request language, taken from Accept-Language, in the
// request context.
func Language() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			lang := i18n.Normalize(req.Header.Get(HeaderAcceptLanguage))
			c.SetRequest(req.WithContext(i18n.WithLang(req.Context(), lang)))
			return next(c)
		}
	}
}
