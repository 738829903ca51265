package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/set-night/memochat/internal/i18n"
)

// Responses keep HTTP 200 and carry the outcome in "status".

func success(c echo.Context, info any) error {
	return c.JSON(http.StatusOK, map[string]any{"status": "success", "info": info})
}

func successJSON(c echo.Context, content any) error {
	return c.JSON(http.StatusOK, map[string]any{"status": "success", "type": "json", "content": content})
}

func failedText(c echo.Context, info string) error {
	return c.JSON(http.StatusOK, map[string]any{"status": "failed", "info": info})
}

// failed answers with the translation of key.
func failed(c echo.Context, key string) error {
	return failedText(c, i18n.Tc(c.Request().Context(), key))
}
