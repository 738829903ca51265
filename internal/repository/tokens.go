package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/set-night/memochat/internal/domain"
)

func (q *Queries) CreateAuthToken(ctx context.Context, t domain.AuthToken) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO auth_tokens (digest, token_key, user_id, expires_at)
		VALUES ($1, $2, $3, $4)`,
		t.Digest, t.TokenKey, t.UserID, t.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("create auth token: %w", err)
	}
	return nil
}

func (q *Queries) GetAuthToken(ctx context.Context, digest string) (*domain.AuthToken, error) {
	var t domain.AuthToken
	err := q.db.QueryRow(ctx, `
		SELECT digest, token_key, user_id, created_at, expires_at
		FROM auth_tokens WHERE digest = $1`, digest,
	).Scan(&t.Digest, &t.TokenKey, &t.UserID, &t.CreatedAt, &t.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrInvalidToken
		}
		return nil, fmt.Errorf("get auth token: %w", err)
	}
	return &t, nil
}

func (q *Queries) DeleteAuthToken(ctx context.Context, digest string) error {
	_, err := q.db.Exec(ctx, `DELETE FROM auth_tokens WHERE digest = $1`, digest)
	if err != nil {
		return fmt.Errorf("delete auth token: %w", err)
	}
	return nil
}

func (q *Queries) DeleteUserAuthTokens(ctx context.Context, userID int64) (int64, error) {
	tag, err := q.db.Exec(ctx, `DELETE FROM auth_tokens WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete user auth tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) DeleteExpiredAuthTokens(ctx context.Context, now time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, `DELETE FROM auth_tokens WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired auth tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}
