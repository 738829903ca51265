package handler

import (
	"log/slog"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/set-night/memochat/internal/i18n"
	"github.com/set-night/memochat/internal/middleware"
)

// username accepts both the "username" and the legacy "user_id" field.
func username(c echo.Context) string {
	if v := strings.TrimSpace(c.FormValue("username")); v != "" {
		return v
	}
	return strings.TrimSpace(c.FormValue("user_id"))
}

// Register creates an account.
// POST /api/auth/register/
func (h *Handler) Register(c echo.Context) error {
	ctx := c.Request().Context()
	ok, info := h.userAgent.Register(ctx, i18n.FromContext(ctx), username(c), c.FormValue("password"))
	if !ok {
		return failedText(c, info)
	}
	return success(c, info)
}

// Login exchanges credentials for a token.
// POST /api/auth/login/
func (h *Handler) Login(c echo.Context) error {
	ctx := c.Request().Context()
	res, info := h.userAgent.Login(ctx, i18n.FromContext(ctx), username(c), c.FormValue("password"))
	if res == nil {
		return failedText(c, info)
	}
	return successJSON(c, res)
}

// Logout revokes the request token.
// POST /api/auth/logout/
func (h *Handler) Logout(c echo.Context) error {
	ctx := c.Request().Context()
	token := middleware.BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
	if err := h.tokens.Revoke(ctx, token); err != nil {
		slog.Error("revoke token", "error", err)
		return failed(c, "backend_processing_failed")
	}
	return success(c, i18n.Tc(ctx, "logout_successful"))
}

// LogoutAll revokes every token of the user.
// POST /api/auth/logoutall/
func (h *Handler) LogoutAll(c echo.Context) error {
	ctx := c.Request().Context()
	user := middleware.GetUser(c)
	n, err := h.tokens.RevokeAll(ctx, user.ID)
	if err != nil {
		slog.Error("revoke all tokens", "username", user.Username, "error", err)
		return failed(c, "backend_processing_failed")
	}
	slog.Info("tokens revoked", "username", user.Username, "count", n)
	return success(c, i18n.Tc(ctx, "logout_successful"))
}

// ChangePassword changes the password of the token user.
// POST /api/auth/password/
func (h *Handler) ChangePassword(c echo.Context) error {
	ctx := c.Request().Context()
	user := middleware.GetUser(c)
	ok, info := h.userAgent.ChangePassword(ctx, i18n.FromContext(ctx),
		user.Username, c.FormValue("password_old"), c.FormValue("password_new"))
	if !ok {
		return failedText(c, info)
	}
	return success(c, info)
}
