package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/set-night/memochat/internal/domain"
)

const userColumns = `id, username, password_hash, is_active, level, is_group, tts_engine, tts_voice, chat_show_count, created_at, updated_at`

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	var level int32
	var showCount int32
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.IsActive, &level, &u.IsGroup,
		&u.TTSEngine, &u.TTSVoice, &showCount, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.Level = domain.UserLevel(level)
	u.ChatShowCount = int(showCount)
	return &u, nil
}

func (q *Queries) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	row := q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
	return scanUser(row)
}

func (q *Queries) GetUserByID(ctx context.Context, id int64) (*domain.User, error) {
	row := q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (q *Queries) UserExists(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE username = $1)`, username).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check user exists: %w", err)
	}
	return exists, nil
}

type CreateUserParams struct {
	Username     string
	PasswordHash string
	Level        domain.UserLevel
	IsGroup      bool
}

// CreateUser inserts a user. ErrUserExists is returned on a username conflict.
func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) (*domain.User, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO users (username, password_hash, level, is_group)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (username) DO NOTHING
		RETURNING `+userColumns,
		arg.Username, arg.PasswordHash, int32(arg.Level), arg.IsGroup,
	)
	u, err := scanUser(row)
	if errors.Is(err, domain.ErrUserNotFound) {
		return nil, domain.ErrUserExists
	}
	return u, err
}

func (q *Queries) UpdateUserPassword(ctx context.Context, username, passwordHash string) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE users SET password_hash = $2, updated_at = NOW()
		WHERE username = $1`, username, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func (q *Queries) UpdateUserTTS(ctx context.Context, username, engine, voice string) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE users SET tts_engine = $2, tts_voice = $3, updated_at = NOW()
		WHERE username = $1`, username, engine, voice)
	if err != nil {
		return fmt.Errorf("update tts: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}
