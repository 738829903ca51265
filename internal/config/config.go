package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	// Core
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8005"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// Locale
	LanguageCode string `env:"LANGUAGE_CODE" envDefault:"en-US"`

	// LLM (OpenAI compatible endpoint)
	LLMBaseURL       string `env:"LLM_BASE_URL" envDefault:"https://openrouter.ai/api/v1"`
	LLMAPIKey        string `env:"LLM_API_KEY"`
	DefaultChatModel string `env:"DEFAULT_CHAT_LLM" envDefault:"openai/gpt-4o-mini"`
	ChatShowCount    int    `env:"DEFAULT_CHAT_LLM_SHOW_COUNT" envDefault:"100"`

	// Auth
	TokenTTL    time.Duration `env:"TOKEN_TTL" envDefault:"72h"`
	DefaultUser string        `env:"DEFAULT_USER" envDefault:"default"`

	// Uploads
	MediaRoot    string        `env:"MEDIA_ROOT" envDefault:"/tmp/"`
	MediaFileDir string        `env:"MEDIA_FILE_DIR" envDefault:"files"`
	FileCacheTTL time.Duration `env:"FILE_CACHE_TTL" envDefault:"24h"`

	// HTTP
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
	RateLimitPerMinute int      `env:"RATE_LIMIT_PER_MINUTE" envDefault:"30"`

	// Telegram channel, disabled when empty
	TelegramBotToken    string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramAlertChatID int64  `env:"TELEGRAM_ALERT_CHAT_ID"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.ChatShowCount <= 0 {
		cfg.ChatShowCount = DefaultChatShowCount
	}
	return cfg, nil
}

// MediaDir is the directory uploaded files are cached in.
func (c *Config) MediaDir() string {
	return filepath.Join(c.MediaRoot, c.MediaFileDir)
}

// Language returns the lowercased primary subtag of LANGUAGE_CODE ("en-US" -> "en").
func (c *Config) Language() string {
	code := strings.ToLower(strings.TrimSpace(c.LanguageCode))
	if i := strings.IndexAny(code, "-_"); i > 0 {
		code = code[:i]
	}
	if code == "" {
		return "en"
	}
	return code
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (c *Config) TelegramEnabled() bool {
	return c.TelegramBotToken != ""
}
