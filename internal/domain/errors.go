package domain

import "errors"

var (
	ErrUserNotFound     = errors.New("user not found")
	ErrUserExists       = errors.New("user already exists")
	ErrInvalidToken     = errors.New("invalid or expired token")
	ErrEntryNotFound    = errors.New("entry not found")
	ErrSessionNotFound  = errors.New("session not found")
	ErrEmptyContent     = errors.New("empty content")
	ErrUnsupportedFile  = errors.New("unsupported file")
	ErrUnknownTTSOption = errors.New("unknown text-to-speech option")
	ErrRateLimited      = errors.New("rate limit exceeded")
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotGroupUser     = errors.New("not a group user")
)
