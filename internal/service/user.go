package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/set-night/memochat/internal/config"
	"github.com/set-night/memochat/internal/domain"
	"github.com/set-night/memochat/internal/repository"
)

// UserStore is the part of the repository the user service needs.
type UserStore interface {
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	UserExists(ctx context.Context, username string) (bool, error)
	CreateUser(ctx context.Context, arg repository.CreateUserParams) (*domain.User, error)
	UpdateUserPassword(ctx context.Context, username, passwordHash string) error
}

type UserService struct {
	store            UserStore
	hashCost         int
	defaultShowCount int
}

func NewUserService(store UserStore) *UserService {
	return &UserService{store: store, hashCost: bcrypt.DefaultCost, defaultShowCount: config.DefaultChatShowCount}
}

// WithDefaultShowCount sets the show count used for users without a preference.
func (s *UserService) WithDefaultShowCount(n int) *UserService {
	if n > 0 {
		s.defaultShowCount = n
	}
	return s
}

func (s *UserService) CheckUserExist(ctx context.Context, username string) (bool, error) {
	return s.store.UserExists(ctx, username)
}

func (s *UserService) hash(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}

func (s *UserService) CreateUser(ctx context.Context, username, password string) (*domain.User, error) {
	return s.create(ctx, username, password, false)
}

func (s *UserService) create(ctx context.Context, username, password string, isGroup bool) (*domain.User, error) {
	hash, err := s.hash(password)
	if err != nil {
		return nil, err
	}
	u, err := s.store.CreateUser(ctx, repository.CreateUserParams{
		Username:     username,
		PasswordHash: hash,
		Level:        domain.LevelRegular,
		IsGroup:      isGroup,
	})
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	slog.Info("user created", "username", username, "is_group", isGroup)
	return u, nil
}

// CheckUserPassword reports whether password matches. Unknown users never match.
func (s *UserService) CheckUserPassword(ctx context.Context, username, password string) (bool, error) {
	u, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("check password: %w", err)
	}
	if !u.IsActive {
		return false, nil
	}
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil, nil
}

func (s *UserService) ChangeUserPassword(ctx context.Context, username, password string) error {
	hash, err := s.hash(password)
	if err != nil {
		return err
	}
	if err := s.store.UpdateUserPassword(ctx, username, hash); err != nil {
		return fmt.Errorf("change password: %w", err)
	}
	return nil
}

func (s *UserService) GetUser(ctx context.Context, username string) (*domain.User, error) {
	return s.store.GetUserByUsername(ctx, username)
}

// EnsureDefaultUser returns the user, creating it with a random password on
// first use. The configured default user and Telegram private chats get their
// users this way.
func (s *UserService) EnsureDefaultUser(ctx context.Context, username string) (*domain.User, error) {
	return s.ensure(ctx, username, false)
}

// EnsureGroupUser returns the shared identity of a group chat, creating it on
// first use. A name taken by an ordinary user yields ErrNotGroupUser.
func (s *UserService) EnsureGroupUser(ctx context.Context, name string) (*domain.User, error) {
	u, err := s.ensure(ctx, name, true)
	if err != nil {
		return nil, err
	}
	if !u.IsGroup {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotGroupUser, name)
	}
	return u, nil
}

func (s *UserService) ensure(ctx context.Context, username string, isGroup bool) (*domain.User, error) {
	u, err := s.store.GetUserByUsername(ctx, username)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, domain.ErrUserNotFound) {
		return nil, fmt.Errorf("get default user: %w", err)
	}

	u, err = s.create(ctx, username, uuid.NewString(), isGroup)
	if errors.Is(err, domain.ErrUserExists) {
		return s.store.GetUserByUsername(ctx, username)
	}
	return u, err
}

// Privilege returns what the user may do. Unknown users are guests.
func (s *UserService) Privilege(ctx context.Context, username string) domain.Privilege {
	u, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		if !errors.Is(err, domain.ErrUserNotFound) {
			slog.Warn("get privilege", "username", username, "error", err)
		}
		return domain.GuestPrivilege
	}
	return u.Privilege()
}

// ShowCount is the number of messages restored with a session: the user's
// preference or the default, capped by the chat history of the user's level.
// Zero means the store could not be read.
func (s *UserService) ShowCount(ctx context.Context, username string) int {
	n := s.defaultShowCount
	limit := domain.GuestPrivilege.ChatHistory
	u, err := s.store.GetUserByUsername(ctx, username)
	switch {
	case err == nil:
		if u.ChatShowCount > 0 {
			n = u.ChatShowCount
		}
		limit = u.Privilege().ChatHistory
	case !errors.Is(err, domain.ErrUserNotFound):
		slog.Warn("get show count", "username", username, "error", err)
		return 0
	}
	return min(n, limit)
}
