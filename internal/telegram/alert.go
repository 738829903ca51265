package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/go-telegram/bot"

	"github.com/set-night/memochat/internal/config"
)

const alertTimeout = 10 * time.Second

// AlertHandler passes records to the wrapped handler and also posts
// error-level records to a Telegram chat.
type AlertHandler struct {
	slog.Handler
	api    API
	chatID int64
	attrs  []slog.Attr
}

func NewAlertHandler(next slog.Handler, api API, chatID int64) *AlertHandler {
	return &AlertHandler{Handler: next, api: api, chatID: chatID}
}

func (h *AlertHandler) Handle(ctx context.Context, r slog.Record) error {
	err := h.Handler.Handle(ctx, r)
	if r.Level >= slog.LevelError && h.chatID != 0 {
		h.post(r)
	}
	return err
}

func (h *AlertHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *h
	cp.Handler = h.Handler.WithAttrs(attrs)
	cp.attrs = append(slices.Clip(h.attrs), attrs...)
	return &cp
}

func (h *AlertHandler) WithGroup(name string) slog.Handler {
	cp := *h
	cp.Handler = h.Handler.WithGroup(name)
	return &cp
}

func (h *AlertHandler) post(r slog.Record) {
	ctx, cancel := context.WithTimeout(context.Background(), alertTimeout)
	defer cancel()

	// Errors here are not logged: logging them would recurse.
	_, _ = h.api.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: h.chatID,
		Text:   formatAlert(r, h.attrs),
	})
}

func formatAlert(r slog.Record, attrs []slog.Attr) string {
	var b strings.Builder
	fmt.Fprintf(&b, "❌ %s\n\n%s\n", r.Message, r.Time.UTC().Format("2006-01-02 15:04:05"))
	for _, a := range attrs {
		fmt.Fprintf(&b, "\n%s: %v", a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&b, "\n%s: %v", a.Key, a.Value)
		return true
	})

	text := b.String()
	if runes := []rune(text); len(runes) > config.MaxTelegramMessageLen {
		text = string(runes[:config.MaxTelegramMessageLen-20]) + "\n\n... (truncated)"
	}
	return text
}
