// Package handler serves the HTTP API of the chat backend.
package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/set-night/memochat/internal/agent"
	"github.com/set-night/memochat/internal/config"
	"github.com/set-night/memochat/internal/middleware"
	"github.com/set-night/memochat/internal/service"
	"github.com/set-night/memochat/internal/session"
)

// Pinger reports whether the database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all dependencies needed by the HTTP handlers.
type Handler struct {
	cfg       *config.Config
	sessions  *session.Manager
	messages  *service.MessageService
	users     *service.UserService
	tokens    *service.TokenService
	tts       *service.TTSService
	files     *service.FileCache
	userAgent *agent.UserAgent
	agents    *agent.Manager
	limiter   middleware.RateLimiter
	db        Pinger
}

// Deps contains all dependencies required to construct a Handler.
type Deps struct {
	Cfg       *config.Config
	Sessions  *session.Manager
	Messages  *service.MessageService
	Users     *service.UserService
	Tokens    *service.TokenService
	TTS       *service.TTSService
	Files     *service.FileCache
	UserAgent *agent.UserAgent
	Agents    *agent.Manager
	Limiter   middleware.RateLimiter
	DB        Pinger
}

// New creates a new Handler from the provided dependencies.
func New(deps Deps) *Handler {
	return &Handler{
		cfg:       deps.Cfg,
		sessions:  deps.Sessions,
		messages:  deps.Messages,
		users:     deps.Users,
		tokens:    deps.Tokens,
		tts:       deps.TTS,
		files:     deps.Files,
		userAgent: deps.UserAgent,
		agents:    deps.Agents,
		limiter:   deps.Limiter,
		db:        deps.DB,
	}
}

// RegisterRoutes registers the API routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	required := middleware.TokenAuth(h.tokens, true)
	optional := middleware.TokenAuth(h.tokens, false)

	api := e.Group("/api")
	if h.limiter != nil {
		api.Use(middleware.RateLimit(h.limiter, h.cfg.RateLimitPerMinute))
	}

	// Chat
	api.POST("/message/session/", h.SessionAPI, required)
	api.POST("/message/", h.MessageAPI, optional)

	// Accounts
	api.POST("/auth/register/", h.Register)
	api.POST("/auth/login/", h.Login)
	api.POST("/auth/logout/", h.Logout, required)
	api.POST("/auth/logoutall/", h.LogoutAll, required)
	api.POST("/auth/password/", h.ChangePassword, required)

	// Settings
	api.GET("/settings/tts/", h.GetTTS, required)
	api.POST("/settings/tts/", h.SetTTS, required)

	e.GET("/api/health", h.Health)
}

// Health reports service and database status.
func (h *Handler) Health(c echo.Context) error {
	status, code := "healthy", http.StatusOK
	if h.db != nil {
		if err := h.db.Ping(c.Request().Context()); err != nil {
			status, code = "unhealthy", http.StatusServiceUnavailable
		}
	}
	return c.JSON(code, map[string]any{
		"status":   status,
		"sessions": h.sessions.Len(),
	})
}
