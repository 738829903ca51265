package handler

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/set-night/memochat/internal/domain"
	"github.com/set-night/memochat/internal/i18n"
	"github.com/set-night/memochat/internal/middleware"
	"github.com/set-night/memochat/internal/service"
)

type ttsSettings struct {
	Current string   `json:"current"`
	Options []string `json:"options"`
}

// GetTTS lists the text-to-speech options and the user's choice.
// GET /api/settings/tts/
func (h *Handler) GetTTS(c echo.Context) error {
	user := middleware.GetUser(c)
	cur, err := h.tts.Current(c.Request().Context(), user.Username)
	if err != nil {
		slog.Error("get tts setting", "username", user.Username, "error", err)
		return failed(c, "backend_processing_failed")
	}

	out := ttsSettings{Current: cur.String(), Options: make([]string, len(service.TTSOptions))}
	for i, o := range service.TTSOptions {
		out.Options[i] = o.String()
	}
	return successJSON(c, out)
}

// SetTTS selects an engine, or engine:voice, for the user.
// POST /api/settings/tts/
func (h *Handler) SetTTS(c echo.Context) error {
	ctx := c.Request().Context()
	user := middleware.GetUser(c)
	option := strings.TrimSpace(c.FormValue("option"))

	o, err := h.tts.Set(ctx, user.Username, option)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownTTSOption) {
			return failedText(c, i18n.Tc(ctx, "tts_unknown", "option", option))
		}
		if errors.Is(err, domain.ErrPermissionDenied) {
			return failed(c, "permission_denied")
		}
		slog.Error("set tts", "username", user.Username, "error", err)
		return failed(c, "backend_processing_failed")
	}
	return success(c, i18n.Tc(ctx, "tts_set_success", "option", o.String()))
}
