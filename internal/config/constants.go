package config

import "time"

const (
	// Session cache limits
	MaxMessages = 200
	MaxSessions = 1000

	// Session cache sweep
	SweepInterval = 30 * time.Minute
	IdleTimeout   = time.Hour

	// A user's latest session is reused only within this window
	RecentWindow = 24 * time.Hour

	// Unsynced messages tolerated before a session is written back
	SyncThreshold = 10

	// Rows returned by get_sessions
	SessionListLimit = 20

	// Session title generation
	TitleLength          = 30
	ContentPreviewLength = 100
	TitleSourceLimit     = 500

	// Messages shown when a stored session is reloaded
	DefaultChatShowCount = 100

	// LLM request timeout
	RequestTimeout = 90 * time.Second

	// Model cache duration
	ModelCacheDuration = time.Hour

	// Uploads
	MaxUploadSize    = 32 << 20
	MaxFileTextBytes = 64 << 10

	// Web pages read for URL messages
	MaxPageBytes = 2 << 20
	MaxPageText  = 8000

	// File cache cleanup interval
	FileCacheCleanup = time.Hour

	// Expired auth token purge interval
	TokenPurgeInterval = 6 * time.Hour

	// Telegram limits
	MaxTelegramMessageLen  = 4096
	TelegramTypingInterval = 4 * time.Second
	TelegramMaxFileSize    = 20 << 20
)
