// Package memorytest is an in-memory fake of the repository queries for
// tests. It is not used by the server.
package memorytest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/set-night/memochat/internal/domain"
	"github.com/set-night/memochat/internal/repository"
)

type storedEntry struct {
	entry domain.ChatEntry
	seq   int64
}

type rateWindow struct {
	start time.Time
	count int
}

// Store keeps users, tokens, chat entries and usage records in maps.
type Store struct {
	mu      sync.RWMutex
	now     func() time.Time
	nextID  int64
	seq     int64
	users   map[string]*domain.User
	tokens  map[string]domain.AuthToken
	entries []*storedEntry
	usage   []domain.UsageRecord
	limits  map[string]*rateWindow
}

func New() *Store {
	return &Store{
		now:    time.Now,
		users:  make(map[string]*domain.User),
		tokens: make(map[string]domain.AuthToken),
		limits: make(map[string]*rateWindow),
	}
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// Users

func (s *Store) GetUserByUsername(_ context.Context, username string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[username]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *Store) GetUserByID(_ context.Context, id int64) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.ID == id {
			cp := *u
			return &cp, nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (s *Store) UserExists(_ context.Context, username string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.users[username]
	return ok, nil
}

func (s *Store) CreateUser(_ context.Context, arg repository.CreateUserParams) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[arg.Username]; ok {
		return nil, domain.ErrUserExists
	}
	now := s.now()
	u := &domain.User{
		ID:           s.id(),
		Username:     arg.Username,
		PasswordHash: arg.PasswordHash,
		IsActive:     true,
		Level:        arg.Level,
		IsGroup:      arg.IsGroup,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.users[u.Username] = u
	cp := *u
	return &cp, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username, passwordHash string) error {
	return s.updateUser(username, func(u *domain.User) { u.PasswordHash = passwordHash })
}

func (s *Store) UpdateUserTTS(_ context.Context, username, engine, voice string) error {
	return s.updateUser(username, func(u *domain.User) {
		u.TTSEngine = engine
		u.TTSVoice = voice
	})
}

// SetUserActive toggles the is_active flag of a user.
func (s *Store) SetUserActive(username string, active bool) error {
	return s.updateUser(username, func(u *domain.User) { u.IsActive = active })
}

func (s *Store) updateUser(username string, fn func(*domain.User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[username]
	if !ok {
		return domain.ErrUserNotFound
	}
	fn(u)
	u.UpdatedAt = s.now()
	return nil
}

// Tokens

func (s *Store) CreateAuthToken(_ context.Context, t domain.AuthToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}
	s.tokens[t.Digest] = t
	return nil
}

func (s *Store) GetAuthToken(_ context.Context, digest string) (*domain.AuthToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tokens[digest]
	if !ok {
		return nil, domain.ErrInvalidToken
	}
	return &t, nil
}

func (s *Store) DeleteAuthToken(_ context.Context, digest string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tokens, digest)
	return nil
}

func (s *Store) DeleteUserAuthTokens(_ context.Context, userID int64) (int64, error) {
	return s.deleteTokens(func(t domain.AuthToken) bool { return t.UserID == userID }), nil
}

func (s *Store) DeleteExpiredAuthTokens(_ context.Context, now time.Time) (int64, error) {
	return s.deleteTokens(func(t domain.AuthToken) bool { return t.Expired(now) }), nil
}

func (s *Store) deleteTokens(match func(domain.AuthToken) bool) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for k, t := range s.tokens {
		if match(t) {
			delete(s.tokens, k)
			n++
		}
	}
	return n
}

// SetUserLevel changes a user's level.
func (s *Store) SetUserLevel(username string, level domain.UserLevel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok {
		return domain.ErrUserNotFound
	}
	u.Level = level
	return nil
}

// TokenCount reports how many tokens are stored.
func (s *Store) TokenCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens)
}

// Entries

// ListEntries returns matching entries, most recently updated first.
func (s *Store) ListEntries(_ context.Context, f repository.EntryFilter) ([]domain.ChatEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*storedEntry
	for _, se := range s.entries {
		e := se.entry
		if (f.UserID != "" && e.UserID != f.UserID) ||
			(f.EType != "" && e.EType != f.EType) ||
			(f.Source != "" && e.Source != f.Source) ||
			(f.Addr != "" && e.Addr != f.Addr) {
			continue
		}
		matched = append(matched, se)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].seq > matched[j].seq })
	if f.Limit > 0 && uint64(len(matched)) > f.Limit {
		matched = matched[:f.Limit]
	}

	out := make([]domain.ChatEntry, len(matched))
	for i, se := range matched {
		out[i] = se.entry
		out[i].Meta.Messages = append([]domain.EntryMessage(nil), se.entry.Meta.Messages...)
	}
	return out, nil
}

func (s *Store) firstEntry(ctx context.Context, f repository.EntryFilter) (*domain.ChatEntry, error) {
	f.Limit = 1
	entries, err := s.ListEntries(ctx, f)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, domain.ErrEntryNotFound
	}
	return &entries[0], nil
}

func (s *Store) GetChatEntry(ctx context.Context, userID, sid string) (*domain.ChatEntry, error) {
	return s.firstEntry(ctx, repository.EntryFilter{UserID: userID, EType: domain.EntryTypeChat, Addr: sid})
}

func (s *Store) LatestChatEntry(ctx context.Context, userID, source string) (*domain.ChatEntry, error) {
	return s.firstEntry(ctx, repository.EntryFilter{UserID: userID, EType: domain.EntryTypeChat, Source: source})
}

func (s *Store) ListChatEntries(ctx context.Context, userID string, limit int) ([]domain.ChatSummary, error) {
	entries, err := s.ListEntries(ctx, repository.EntryFilter{
		UserID: userID, EType: domain.EntryTypeChat, Limit: uint64(limit),
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.ChatSummary, len(entries))
	for i, e := range entries {
		out[i] = domain.ChatSummary{Addr: e.Addr, Title: e.Title, UpdatedAt: e.UpdatedAt}
	}
	return out, nil
}

func (s *Store) CreateChatEntry(_ context.Context, e *domain.ChatEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.seq++
	for _, se := range s.entries {
		if se.entry.UserID == e.UserID && se.entry.Addr == e.Addr {
			se.entry.Meta = e.Meta
			se.entry.Meta.Messages = append([]domain.EntryMessage(nil), e.Meta.Messages...)
			se.entry.Raw = e.Raw
			se.entry.UpdatedAt = now
			se.seq = s.seq
			e.ID, e.CreatedAt, e.UpdatedAt = se.entry.ID, se.entry.CreatedAt, now
			return nil
		}
	}
	e.ID = s.id()
	e.CreatedAt, e.UpdatedAt = now, now
	cp := *e
	cp.Meta.Messages = append([]domain.EntryMessage(nil), e.Meta.Messages...)
	s.entries = append(s.entries, &storedEntry{entry: cp, seq: s.seq})
	return nil
}

func (s *Store) UpdateChatEntry(_ context.Context, userID, sid string, meta domain.ChatMeta, raw string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta.Messages = append([]domain.EntryMessage(nil), meta.Messages...)
	for _, se := range s.entries {
		if se.entry.UserID == userID && se.entry.Addr == sid {
			s.seq++
			se.seq = s.seq
			se.entry.Meta = meta
			se.entry.Raw = raw
			se.entry.UpdatedAt = s.now()
		}
	}
	return nil
}

func (s *Store) DeleteChatEntries(_ context.Context, userID, sid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.entries[:0]
	for _, se := range s.entries {
		if se.entry.UserID == userID && se.entry.Addr == sid {
			continue
		}
		kept = append(kept, se)
	}
	s.entries = kept
	return nil
}

// Usage

func (s *Store) CreateUsage(_ context.Context, r domain.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r.ID = s.id()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	s.usage = append(s.usage, r)
	return nil
}

// SumUsage totals a user's usage per kind, ordered by kind.
func (s *Store) SumUsage(_ context.Context, userID string, since time.Time) ([]domain.UsageTotal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byKind := make(map[domain.UsageKind]*domain.UsageTotal)
	for _, r := range s.usage {
		if r.UserID != userID || (!since.IsZero() && r.CreatedAt.Before(since)) {
			continue
		}
		t, ok := byKind[r.Kind]
		if !ok {
			t = &domain.UsageTotal{Kind: r.Kind, Cost: decimal.Zero}
			byKind[r.Kind] = t
		}
		t.Requests++
		t.PromptTokens += int64(r.PromptTokens)
		t.CompletionTokens += int64(r.CompletionTokens)
		t.Cost = t.Cost.Add(r.Cost)
	}

	totals := make([]domain.UsageTotal, 0, len(byKind))
	for _, t := range byKind {
		totals = append(totals, *t)
	}
	sort.Slice(totals, func(i, j int) bool {
		return strings.Compare(string(totals[i].Kind), string(totals[j].Kind)) < 0
	})
	return totals, nil
}

// Rate limits

// CheckAndIncrementRateLimit bumps the counter of key in the current
// one-minute window and returns the new count.
func (s *Store) CheckAndIncrementRateLimit(_ context.Context, key string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := s.now().Truncate(time.Minute)
	w, ok := s.limits[key]
	if !ok || !w.start.Equal(start) {
		w = &rateWindow{start: start}
		s.limits[key] = w
	}
	w.count++
	return w.count, nil
}
