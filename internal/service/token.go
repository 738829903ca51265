package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/set-night/memochat/internal/domain"
)

const (
	tokenBytes     = 32
	tokenKeyLength = 8
)

type TokenStore interface {
	CreateAuthToken(ctx context.Context, t domain.AuthToken) error
	GetAuthToken(ctx context.Context, digest string) (*domain.AuthToken, error)
	DeleteAuthToken(ctx context.Context, digest string) error
	DeleteUserAuthTokens(ctx context.Context, userID int64) (int64, error)
	DeleteExpiredAuthTokens(ctx context.Context, now time.Time) (int64, error)
	GetUserByID(ctx context.Context, id int64) (*domain.User, error)
}

// TokenService issues opaque login tokens. Only a digest of each token is stored.
type TokenService struct {
	store TokenStore
	ttl   time.Duration
	now   func() time.Time
}

func NewTokenService(store TokenStore, ttl time.Duration) *TokenService {
	return &TokenService{store: store, ttl: ttl, now: time.Now}
}

func digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Issue creates a token for the user and returns it with its expiry.
func (s *TokenService) Issue(ctx context.Context, user *domain.User) (string, time.Time, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", time.Time{}, fmt.Errorf("generate token: %w", err)
	}
	token := hex.EncodeToString(buf)

	now := s.now()
	t := domain.AuthToken{
		Digest:    digest(token),
		TokenKey:  token[:tokenKeyLength],
		UserID:    user.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.store.CreateAuthToken(ctx, t); err != nil {
		return "", time.Time{}, fmt.Errorf("issue token: %w", err)
	}
	slog.Info("token issued", "username", user.Username, "token_key", t.TokenKey)
	return token, t.ExpiresAt, nil
}

// Authenticate resolves a token to its active user.
func (s *TokenService) Authenticate(ctx context.Context, token string) (*domain.User, error) {
	if len(token) != tokenBytes*2 {
		return nil, domain.ErrInvalidToken
	}
	d := digest(token)
	t, err := s.store.GetAuthToken(ctx, d)
	if err != nil {
		return nil, err
	}
	if t.Expired(s.now()) {
		if err := s.store.DeleteAuthToken(ctx, d); err != nil {
			slog.Warn("delete expired token", "token_key", t.TokenKey, "error", err)
		}
		return nil, domain.ErrInvalidToken
	}

	u, err := s.store.GetUserByID(ctx, t.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, domain.ErrInvalidToken
		}
		return nil, fmt.Errorf("authenticate: %w", err)
	}
	if !u.IsActive {
		return nil, domain.ErrInvalidToken
	}
	return u, nil
}

func (s *TokenService) Revoke(ctx context.Context, token string) error {
	return s.store.DeleteAuthToken(ctx, digest(token))
}

// RevokeAll deletes every token of the user and returns how many there were.
func (s *TokenService) RevokeAll(ctx context.Context, userID int64) (int64, error) {
	return s.store.DeleteUserAuthTokens(ctx, userID)
}

func (s *TokenService) PurgeExpired(ctx context.Context) (int64, error) {
	return s.store.DeleteExpiredAuthTokens(ctx, s.now())
}
