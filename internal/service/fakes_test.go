package service

import (
	"context"
	"sync"
	"time"

	"github.com/set-night/memochat/internal/domain"
	"github.com/set-night/memochat/internal/llm"
	"github.com/set-night/memochat/internal/repository"
)

type memUsers struct {
	mu     sync.Mutex
	byName map[string]*domain.User
	tokens map[string]domain.AuthToken
	usage  []domain.UsageRecord
	totals []domain.UsageTotal
	seq    int64
}

func newMemUsers() *memUsers {
	return &memUsers{byName: map[string]*domain.User{}, tokens: map[string]domain.AuthToken{}}
}

func (m *memUsers) GetUserByUsername(_ context.Context, username string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byName[username]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) GetUserByID(_ context.Context, id int64) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byName {
		if u.ID == id {
			cp := *u
			return &cp, nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (m *memUsers) UserExists(_ context.Context, username string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.byName[username]
	return ok, nil
}

func (m *memUsers) CreateUser(_ context.Context, arg repository.CreateUserParams) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byName[arg.Username]; ok {
		return nil, domain.ErrUserExists
	}
	m.seq++
	u := &domain.User{ID: m.seq, Username: arg.Username, PasswordHash: arg.PasswordHash, Level: arg.Level, IsGroup: arg.IsGroup, IsActive: true}
	m.byName[arg.Username] = u
	cp := *u
	return &cp, nil
}

func (m *memUsers) UpdateUserPassword(_ context.Context, username, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byName[username]
	if !ok {
		return domain.ErrUserNotFound
	}
	u.PasswordHash = hash
	return nil
}

func (m *memUsers) UpdateUserTTS(_ context.Context, username, engine, voice string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byName[username]
	if !ok {
		return domain.ErrUserNotFound
	}
	u.TTSEngine, u.TTSVoice = engine, voice
	return nil
}

func (m *memUsers) CreateAuthToken(_ context.Context, t domain.AuthToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[t.Digest] = t
	return nil
}

func (m *memUsers) GetAuthToken(_ context.Context, digest string) (*domain.AuthToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[digest]
	if !ok {
		return nil, domain.ErrInvalidToken
	}
	return &t, nil
}

func (m *memUsers) DeleteAuthToken(_ context.Context, digest string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, digest)
	return nil
}

func (m *memUsers) DeleteUserAuthTokens(_ context.Context, userID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for d, t := range m.tokens {
		if t.UserID == userID {
			delete(m.tokens, d)
			n++
		}
	}
	return n, nil
}

func (m *memUsers) DeleteExpiredAuthTokens(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for d, t := range m.tokens {
		if t.Expired(now) {
			delete(m.tokens, d)
			n++
		}
	}
	return n, nil
}

func (m *memUsers) CreateUsage(_ context.Context, r domain.UsageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage = append(m.usage, r)
	return nil
}

func (m *memUsers) SumUsage(context.Context, string, time.Time) ([]domain.UsageTotal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totals, nil
}

func (m *memUsers) usageRecords() []domain.UsageRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.UsageRecord(nil), m.usage...)
}

// stubCompleter answers every request with reply, or fails with err.
type stubCompleter struct {
	mu       sync.Mutex
	reply    string
	err      error
	usage    llm.Usage
	requests []llm.ChatRequest
}

func (c *stubCompleter) Chat(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	if c.err != nil {
		return nil, c.err
	}
	return &llm.ChatResponse{
		Model:   req.Model,
		Choices: []llm.Choice{{Message: llm.ChatMessage{Role: "assistant", Content: c.reply}}},
		Usage:   c.usage,
	}, nil
}

func (c *stubCompleter) lastPrompt() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.requests) == 0 {
		return ""
	}
	msgs := c.requests[len(c.requests)-1].Messages
	return msgs[len(msgs)-1].Content
}

// chatStore keeps chat entries in memory.
type chatStore struct {
	mu      sync.Mutex
	entries map[string]domain.ChatEntry
}

func newChatStore() *chatStore {
	return &chatStore{entries: map[string]domain.ChatEntry{}}
}

func (s *chatStore) GetChatEntry(_ context.Context, userID, sid string) (*domain.ChatEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[userID+"|"+sid]
	if !ok {
		return nil, domain.ErrEntryNotFound
	}
	return &e, nil
}

func (s *chatStore) LatestChatEntry(context.Context, string, string) (*domain.ChatEntry, error) {
	return nil, domain.ErrEntryNotFound
}

func (s *chatStore) ListChatEntries(context.Context, string, int) ([]domain.ChatSummary, error) {
	return nil, nil
}

func (s *chatStore) CreateChatEntry(_ context.Context, e *domain.ChatEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.UserID+"|"+e.Addr] = *e
	return nil
}

func (s *chatStore) UpdateChatEntry(_ context.Context, userID, sid string, meta domain.ChatMeta, raw string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[userID+"|"+sid]
	e.Meta, e.Raw = meta, raw
	s.entries[userID+"|"+sid] = e
	return nil
}

func (s *chatStore) DeleteChatEntries(_ context.Context, userID, sid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, userID+"|"+sid)
	return nil
}
