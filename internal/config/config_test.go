package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/memochat")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8005", cfg.HTTPAddr)
	assert.Equal(t, "en-US", cfg.LanguageCode)
	assert.Equal(t, 72*time.Hour, cfg.TokenTTL)
	assert.Equal(t, 100, cfg.ChatShowCount)
	assert.Equal(t, "default", cfg.DefaultUser)
	assert.Equal(t, []string{"*"}, cfg.CORSAllowedOrigins)
	assert.False(t, cfg.TelegramEnabled())
}

func TestLoad_MissingDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/memochat")
	t.Setenv("LANGUAGE_CODE", "zh-CN")
	t.Setenv("TOKEN_TTL", "1h")
	t.Setenv("CORS_ALLOWED_ORIGINS", "app://obsidian.md,http://localhost:8005")
	t.Setenv("DEFAULT_CHAT_LLM_SHOW_COUNT", "0")
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "zh", cfg.Language())
	assert.Equal(t, time.Hour, cfg.TokenTTL)
	assert.Equal(t, []string{"app://obsidian.md", "http://localhost:8005"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, DefaultChatShowCount, cfg.ChatShowCount)
	assert.True(t, cfg.TelegramEnabled())
}

func TestMediaDir(t *testing.T) {
	cfg := &Config{MediaRoot: "/tmp/", MediaFileDir: "files"}
	assert.Equal(t, "/tmp/files", cfg.MediaDir())
}

func TestSlogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"unknown": slog.LevelInfo,
	}
	for in, want := range tests {
		cfg := &Config{LogLevel: in}
		assert.Equal(t, want, cfg.SlogLevel(), in)
	}
}
