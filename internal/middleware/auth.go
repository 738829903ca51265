package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/set-night/memochat/internal/domain"
	"github.com/set-night/memochat/internal/i18n"
)

const userKey = "user"

type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*domain.User, error)
}

// GetUser returns the authenticated user, or nil.
func GetUser(c echo.Context) *domain.User {
	u, ok := c.Get(userKey).(*domain.User)
	if !ok {
		return nil
	}
	return u
}

// BearerToken extracts the token of an "Authorization: Token <t>" or
// "Authorization: Bearer <t>" header.
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok {
		return ""
	}
	if !strings.EqualFold(scheme, "token") && !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// TokenAuth loads the user of the request token. A request without a token
// is rejected only when required; an invalid token is always rejected.
func TokenAuth(auth Authenticator, required bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			token := BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if token == "" {
				if required {
					return fail(c, http.StatusUnauthorized, i18n.Tc(ctx, "authentication_required"))
				}
				return next(c)
			}

			u, err := auth.Authenticate(ctx, token)
			if err != nil {
				if !errors.Is(err, domain.ErrInvalidToken) {
					slog.Error("authenticate token", "error", err)
					return fail(c, http.StatusInternalServerError, i18n.Tc(ctx, "backend_processing_failed"))
				}
				return fail(c, http.StatusUnauthorized, i18n.Tc(ctx, "invalid_token"))
			}
			c.Set(userKey, u)
			return next(c)
		}
	}
}
