package telegram

import (
	"strings"

	"github.com/go-telegram/bot/models"

	"github.com/set-night/memochat/internal/domain"
	"github.com/set-night/memochat/internal/session"
)

// Callback data prefixes.
const (
	ttsPrefix     = "tts:"
	sessionPrefix = "sid:"
)

// Telegram caps callback data at 64 bytes.
const maxCallbackData = 64

func button(text, data string) models.InlineKeyboardButton {
	return models.InlineKeyboardButton{Text: text, CallbackData: data}
}

// TTSKeyboard offers every option, two per row, marking the current one.
func TTSKeyboard(options []domain.TTSOption, current domain.TTSOption) *models.InlineKeyboardMarkup {
	var rows [][]models.InlineKeyboardButton
	var row []models.InlineKeyboardButton
	for _, o := range options {
		label := o.String()
		if o == current {
			label = "✅ " + label
		}
		row = append(row, button(label, ttsPrefix+o.String()))
		if len(row) == 2 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	return &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}

// SessionsKeyboard has one row per session. Sessions whose id does not fit
// in callback data are left out.
func SessionsKeyboard(list []session.Info, current string) *models.InlineKeyboardMarkup {
	var rows [][]models.InlineKeyboardButton
	for _, s := range list {
		data := sessionPrefix + s.SID
		if len(data) > maxCallbackData {
			continue
		}
		label := strings.TrimSpace(s.SName)
		if label == "" {
			label = s.SID
		}
		if s.SID == current {
			label = "✅ " + label
		}
		rows = append(rows, []models.InlineKeyboardButton{button(label, data)})
	}
	return &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}
