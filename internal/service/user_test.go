package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/set-night/memochat/internal/domain"
)

func newTestUserService(store *memUsers) *UserService {
	s := NewUserService(store)
	s.hashCost = bcrypt.MinCost
	return s
}

func TestUserService_CreateAndCheck(t *testing.T) {
	ctx := context.Background()
	store := newMemUsers()
	s := newTestUserService(store)

	u, err := s.CreateUser(ctx, "alice", "secret")
	require.NoError(t, err)
	assert.Equal(t, domain.LevelRegular, u.Level)
	assert.NotEqual(t, "secret", u.PasswordHash)

	exists, err := s.CheckUserExist(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, exists)

	ok, err := s.CheckUserPassword(ctx, "alice", "secret")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.CheckUserPassword(ctx, "alice", "wrong")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.CheckUserPassword(ctx, "nobody", "secret")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.CreateUser(ctx, "alice", "other")
	assert.ErrorIs(t, err, domain.ErrUserExists)
}

func TestUserService_InactiveUserCannotLogIn(t *testing.T) {
	ctx := context.Background()
	store := newMemUsers()
	s := newTestUserService(store)

	_, err := s.CreateUser(ctx, "alice", "secret")
	require.NoError(t, err)
	store.byName["alice"].IsActive = false

	ok, err := s.CheckUserPassword(ctx, "alice", "secret")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUserService_ChangePassword(t *testing.T) {
	ctx := context.Background()
	s := newTestUserService(newMemUsers())

	_, err := s.CreateUser(ctx, "alice", "old")
	require.NoError(t, err)
	require.NoError(t, s.ChangeUserPassword(ctx, "alice", "new"))

	ok, err := s.CheckUserPassword(ctx, "alice", "new")
	require.NoError(t, err)
	assert.True(t, ok)

	err = s.ChangeUserPassword(ctx, "nobody", "x")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestUserService_EnsureDefaultUser(t *testing.T) {
	ctx := context.Background()
	store := newMemUsers()
	s := newTestUserService(store)

	first, err := s.EnsureDefaultUser(ctx, "default")
	require.NoError(t, err)
	second, err := s.EnsureDefaultUser(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, store.byName, 1)
}

func TestUserService_ShowCount(t *testing.T) {
	ctx := context.Background()
	store := newMemUsers()
	s := newTestUserService(store)

	_, err := s.CreateUser(ctx, "alice", "secret")
	require.NoError(t, err)
	store.byName["alice"].ChatShowCount = 25

	assert.Equal(t, 25, s.ShowCount(ctx, "alice"))
	assert.Equal(t, domain.GuestPrivilege.ChatHistory, s.ShowCount(ctx, "nobody"))

	// capped by the level's chat history
	store.byName["alice"].ChatShowCount = 5000
	assert.Equal(t, 200, s.ShowCount(ctx, "alice"))
	store.byName["alice"].Level = domain.LevelPremium
	assert.Equal(t, 1000, s.ShowCount(ctx, "alice"))

	store.byName["alice"].ChatShowCount = 0
	assert.Equal(t, 100, s.ShowCount(ctx, "alice"))
	s.WithDefaultShowCount(300)
	assert.Equal(t, 300, s.ShowCount(ctx, "alice"))
	store.byName["alice"].Level = domain.LevelGuest
	assert.Equal(t, 50, s.ShowCount(ctx, "alice"))
}

func TestUserService_EnsureGroupUser(t *testing.T) {
	ctx := context.Background()
	store := newMemUsers()
	s := newTestUserService(store)

	room, err := s.EnsureGroupUser(ctx, "room-7")
	require.NoError(t, err)
	assert.True(t, room.IsGroup)
	again, err := s.EnsureGroupUser(ctx, "room-7")
	require.NoError(t, err)
	assert.Equal(t, room.ID, again.ID)

	_, err = s.CreateUser(ctx, "alice", "secret")
	require.NoError(t, err)
	_, err = s.EnsureGroupUser(ctx, "alice")
	assert.ErrorIs(t, err, domain.ErrNotGroupUser)

	u, err := s.EnsureDefaultUser(ctx, "tg_42")
	require.NoError(t, err)
	assert.False(t, u.IsGroup)
}

func TestUserService_Privilege(t *testing.T) {
	ctx := context.Background()
	store := newMemUsers()
	s := newTestUserService(store)

	assert.Equal(t, domain.GuestPrivilege, s.Privilege(ctx, "nobody"))

	_, err := s.CreateUser(ctx, "alice", "secret")
	require.NoError(t, err)
	p := s.Privilege(ctx, "alice")
	assert.True(t, p.UploadFiles)
	assert.True(t, p.ReadWebPages)
	assert.True(t, p.TextToSpeech)
	assert.Equal(t, 200, p.ChatHistory)

	store.byName["alice"].Level = domain.LevelGuest
	p = s.Privilege(ctx, "alice")
	assert.False(t, p.UploadFiles)
	assert.False(t, p.ReadWebPages)
	assert.False(t, p.TextToSpeech)
}

func TestTokenService(t *testing.T) {
	ctx := context.Background()
	store := newMemUsers()
	users := newTestUserService(store)
	alice, err := users.CreateUser(ctx, "alice", "secret")
	require.NoError(t, err)

	now := time.Date(2024, 11, 28, 12, 0, 0, 0, time.UTC)
	tokens := NewTokenService(store, 72*time.Hour)
	tokens.now = func() time.Time { return now }

	token, expiry, err := tokens.Issue(ctx, alice)
	require.NoError(t, err)
	assert.Len(t, token, 64)
	assert.Equal(t, now.Add(72*time.Hour), expiry)
	assert.NotContains(t, store.tokens, token, "raw token is never stored")

	u, err := tokens.Authenticate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)

	_, err = tokens.Authenticate(ctx, "short")
	assert.ErrorIs(t, err, domain.ErrInvalidToken)

	now = now.Add(73 * time.Hour)
	_, err = tokens.Authenticate(ctx, token)
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
	assert.Empty(t, store.tokens, "expired token removed on use")
}

func TestTokenService_Revoke(t *testing.T) {
	ctx := context.Background()
	store := newMemUsers()
	alice, err := newTestUserService(store).CreateUser(ctx, "alice", "secret")
	require.NoError(t, err)
	tokens := NewTokenService(store, time.Hour)

	first, _, err := tokens.Issue(ctx, alice)
	require.NoError(t, err)
	_, _, err = tokens.Issue(ctx, alice)
	require.NoError(t, err)
	_, _, err = tokens.Issue(ctx, alice)
	require.NoError(t, err)

	require.NoError(t, tokens.Revoke(ctx, first))
	_, err = tokens.Authenticate(ctx, first)
	assert.ErrorIs(t, err, domain.ErrInvalidToken)

	n, err := tokens.RevokeAll(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestTokenService_PurgeExpired(t *testing.T) {
	ctx := context.Background()
	store := newMemUsers()
	alice, err := newTestUserService(store).CreateUser(ctx, "alice", "secret")
	require.NoError(t, err)

	now := time.Now()
	tokens := NewTokenService(store, time.Hour)
	tokens.now = func() time.Time { return now }
	_, _, err = tokens.Issue(ctx, alice)
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	_, _, err = tokens.Issue(ctx, alice)
	require.NoError(t, err)

	n, err := tokens.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Len(t, store.tokens, 1)
}
