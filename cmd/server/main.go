package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-telegram/bot"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	memochat "github.com/set-night/memochat"
	"github.com/set-night/memochat/internal/agent"
	"github.com/set-night/memochat/internal/config"
	"github.com/set-night/memochat/internal/handler"
	"github.com/set-night/memochat/internal/i18n"
	"github.com/set-night/memochat/internal/llm"
	"github.com/set-night/memochat/internal/middleware"
	"github.com/set-night/memochat/internal/repository"
	"github.com/set-night/memochat/internal/service"
	"github.com/set-night/memochat/internal/session"
	"github.com/set-night/memochat/internal/telegram"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	jsonHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})
	slog.SetDefault(slog.New(jsonHandler))
	i18n.SetDefault(cfg.Language())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	migrationsFS, err := fs.Sub(memochat.MigrationsFS, "migrations")
	if err != nil {
		slog.Error("failed to load embedded migrations", "error", err)
		os.Exit(1)
	}
	if err := repository.RunMigrations(cfg.DatabaseURL, migrationsFS); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	queries := repository.New(pool)

	users := service.NewUserService(queries).WithDefaultShowCount(cfg.ChatShowCount)
	tokens := service.NewTokenService(queries, cfg.TokenTTL)
	resources := service.NewResourceService(queries)
	tts := service.NewTTSService(queries)

	files, err := service.NewFileCache(cfg.MediaDir(), cfg.FileCacheTTL)
	if err != nil {
		slog.Error("failed to prepare file cache", "dir", cfg.MediaDir(), "error", err)
		os.Exit(1)
	}

	client := llm.NewClient(cfg.LLMBaseURL, cfg.LLMAPIKey, config.RequestTimeout, config.ModelCacheDuration)
	if m, err := client.GetModel(ctx, cfg.DefaultChatModel); err != nil {
		slog.Warn("default chat model not verified", "model", cfg.DefaultChatModel, "error", err)
	} else {
		slog.Info("default chat model", "model", m.ID, "context_length", m.ContextLength)
	}
	assistant := service.NewAssistant(client, cfg.DefaultChatModel, cfg.Language(), resources)

	sessions := session.NewManager(session.Env{
		Store:        queries,
		Titler:       assistant,
		Preferences:  users,
		NewEngine:    assistant.NewEngine,
		DefaultModel: assistant.Model(),
		Limits:       session.Limits{ShowCount: cfg.ChatShowCount},
	})
	sessions.Start(ctx)

	messages := service.NewMessageService(sessions, assistant, service.NewPageReader(config.RequestTimeout), resources, users)
	userAgent := agent.NewUserAgent(users, tokens)
	agents := agent.NewManager(assistant, userAgent.Agent(), agent.NewSettingAgent(users, resources, tts).Agent())

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.Logging())
	e.Use(middleware.Language())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{AllowOrigins: cfg.CORSAllowedOrigins}))
	e.Use(echomw.BodyLimit("32M"))

	handler.New(handler.Deps{
		Cfg:       cfg,
		Sessions:  sessions,
		Messages:  messages,
		Users:     users,
		Tokens:    tokens,
		TTS:       tts,
		Files:     files,
		UserAgent: userAgent,
		Agents:    agents,
		Limiter:   queries,
		DB:        pool,
	}).RegisterRoutes(e)

	if cfg.TelegramEnabled() {
		ch := telegram.New(telegram.Deps{
			Sessions: sessions,
			Messages: messages,
			Users:    users,
			TTS:      tts,
			Files:    files,
			Agents:   agents,
		})
		b, err := bot.New(cfg.TelegramBotToken, ch.Options()...)
		if err != nil {
			slog.Error("failed to create bot", "error", err)
			os.Exit(1)
		}
		ch.Attach(b)

		if cfg.TelegramAlertChatID != 0 {
			slog.SetDefault(slog.New(telegram.NewAlertHandler(jsonHandler, b, cfg.TelegramAlertChatID)))
		}

		me, err := b.GetMe(ctx)
		if err != nil {
			slog.Error("failed to get bot info", "error", err)
			os.Exit(1)
		}
		slog.Info("telegram channel started", "id", me.ID, "username", me.Username)
		go b.Start(ctx)
	}

	go runEvery(ctx, config.FileCacheCleanup, func() {
		n, err := files.Cleanup()
		if err != nil {
			slog.Error("file cache cleanup failed", "error", err)
			return
		}
		if n > 0 {
			slog.Info("file cache cleaned", "removed", n)
		}
	})
	go runEvery(ctx, config.TokenPurgeInterval, func() {
		n, err := tokens.PurgeExpired(ctx)
		if err != nil {
			slog.Error("token purge failed", "error", err)
			return
		}
		if n > 0 {
			slog.Info("expired tokens purged", "removed", n)
		}
	})

	go func() {
		slog.Info("http server starting", "addr", cfg.HTTPAddr)
		if err := e.Start(cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown failed", "error", err)
	}
	sessions.Stop()
	sessions.FlushAll(shutdownCtx)

	slog.Info("stopped")
}

func runEvery(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}
