package telegram

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// Recover keeps a panicking handler from stopping the bot.
func Recover() bot.Middleware {
	return func(next bot.HandlerFunc) bot.HandlerFunc {
		return func(ctx context.Context, b *bot.Bot, update *models.Update) {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("panic recovered in telegram handler",
						"panic", r,
						"update_id", update.ID,
						"stack", string(debug.Stack()),
					)
				}
			}()
			next(ctx, b, update)
		}
	}
}

// Logging logs every update with its processing time.
func Logging() bot.Middleware {
	return func(next bot.HandlerFunc) bot.HandlerFunc {
		return func(ctx context.Context, b *bot.Bot, update *models.Update) {
			start := time.Now()
			kind, chatID, userID := describe(update)

			next(ctx, b, update)

			slog.Info("telegram update",
				"type", kind,
				"chat_id", chatID,
				"user_id", userID,
				"duration", time.Since(start),
			)
		}
	}
}

func describe(update *models.Update) (kind string, chatID, userID int64) {
	switch {
	case update.Message != nil:
		kind, chatID = "message", update.Message.Chat.ID
		if update.Message.From != nil {
			userID = update.Message.From.ID
		}
		if update.Message.Document != nil {
			kind = "document"
		}
	case update.CallbackQuery != nil:
		kind, userID = "callback_query", update.CallbackQuery.From.ID
		if m := update.CallbackQuery.Message.Message; m != nil {
			chatID = m.Chat.ID
		}
	default:
		kind = "other"
	}
	return kind, chatID, userID
}
