package session

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/set-night/memochat/internal/config"
	"github.com/set-night/memochat/internal/domain"
)

type Limits struct {
	MaxSessions    int
	MaxMessages    int
	SyncThreshold  int
	ListLimit      int
	TitleLength    int
	ContentPreview int
	TitleSource    int
	ShowCount      int
	SweepInterval  time.Duration
	IdleTimeout    time.Duration
	RecentWindow   time.Duration
}

func DefaultLimits() Limits {
	return Limits{
		MaxSessions:    config.MaxSessions,
		MaxMessages:    config.MaxMessages,
		SyncThreshold:  config.SyncThreshold,
		ListLimit:      config.SessionListLimit,
		TitleLength:    config.TitleLength,
		ContentPreview: config.ContentPreviewLength,
		TitleSource:    config.TitleSourceLimit,
		ShowCount:      config.DefaultChatShowCount,
		SweepInterval:  config.SweepInterval,
		IdleTimeout:    config.IdleTimeout,
		RecentWindow:   config.RecentWindow,
	}
}

// Env carries what every session of a Manager shares.
type Env struct {
	Store        Store
	Titler       Titler
	Preferences  Preferences
	NewEngine    EngineFactory
	DefaultModel string
	Limits       Limits
	Now          func() time.Time
}

func (e *Env) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Env) showCount(ctx context.Context, userID string) int {
	if e.Preferences != nil {
		if n := e.Preferences.ShowCount(ctx, userID); n > 0 {
			return n
		}
	}
	return e.Limits.ShowCount
}

// Info is a listing row returned by Manager.List.
type Info struct {
	SID   string `json:"sid"`
	SName string `json:"sname"`
}

// Manager caches sessions by id. When full, the least recently used session
// is closed and dropped. A background sweep closes idle sessions.
type Manager struct {
	env *Env

	mu    sync.Mutex
	order *list.List // *Session, front is least recently used
	index map[string]*list.Element

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewManager(env Env) *Manager {
	def := DefaultLimits()
	l := &env.Limits
	if l.MaxSessions <= 0 {
		l.MaxSessions = def.MaxSessions
	}
	if l.MaxMessages <= 0 {
		l.MaxMessages = def.MaxMessages
	}
	if l.SyncThreshold <= 0 {
		l.SyncThreshold = def.SyncThreshold
	}
	if l.ListLimit <= 0 {
		l.ListLimit = def.ListLimit
	}
	if l.TitleLength <= 0 {
		l.TitleLength = def.TitleLength
	}
	if l.ContentPreview <= 0 {
		l.ContentPreview = def.ContentPreview
	}
	if l.TitleSource <= 0 {
		l.TitleSource = def.TitleSource
	}
	if l.ShowCount <= 0 {
		l.ShowCount = def.ShowCount
	}
	if l.SweepInterval <= 0 {
		l.SweepInterval = def.SweepInterval
	}
	if l.IdleTimeout <= 0 {
		l.IdleTimeout = def.IdleTimeout
	}
	if l.RecentWindow <= 0 {
		l.RecentWindow = def.RecentWindow
	}
	return &Manager{
		env:   &env,
		order: list.New(),
		index: make(map[string]*list.Element),
	}
}

// New creates an uncached session with a fresh id.
func (m *Manager) New(userID string, isGroup bool, source string) *Session {
	if userID == "" {
		userID = anonymousUser
	}
	return newSession(m.env, NewID(userID, m.env.now()), userID, isGroup, source)
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}

func (m *Manager) cached(sid string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.index[sid]; ok {
		return el.Value.(*Session)
	}
	return nil
}

// Get resolves the session a request refers to and caches it. A sid owned by
// another user, or whose group flag differs from isGroup, is reported as
// ErrSessionNotFound.
func (m *Manager) Get(ctx context.Context, sid, userID string, isGroup bool, source string, forceCreate bool) (*Session, error) {
	if userID == "" {
		userID = anonymousUser
	}
	var sess *Session
	switch {
	case forceCreate:
		sess = m.New(userID, isGroup, source)
	case sid == "" || sid == "null":
		s, err := m.GetByUser(ctx, userID, isGroup, source)
		if err != nil {
			return nil, err
		}
		sess = s
	default:
		if Owner(sid) != userID {
			return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sid)
		}
		sess = m.cached(sid)
		if sess == nil {
			sess = newSession(m.env, sid, userID, isGroup, source)
			if err := sess.LoadFromDB(ctx); err != nil {
				return nil, err
			}
		}
		if sess.UserID() != userID || sess.IsGroup() != isGroup {
			return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sid)
		}
	}
	return m.Add(ctx, sess), nil
}

// GetByUser returns the most recently active session of a user on a source.
// Sessions inactive for longer than the recent window are closed and a new
// session is returned instead.
func (m *Manager) GetByUser(ctx context.Context, userID string, isGroup bool, source string) (*Session, error) {
	slog.Info("get session by user", "user_id", userID, "is_group", isGroup, "source", source)

	latest, err := m.env.Store.LatestChatEntry(ctx, userID, source)
	switch {
	case err == nil:
		if m.cached(latest.Addr) == nil {
			s := newSession(m.env, latest.Addr, userID, isGroup, source)
			if err := s.LoadFromDB(ctx); err != nil {
				return nil, err
			}
			if s.IsGroup() == isGroup {
				m.Add(ctx, s)
			}
		}
	case !errors.Is(err, domain.ErrEntryNotFound):
		return nil, fmt.Errorf("latest session: %w", err)
	}

	var current *Session
	var mostRecent time.Time
	for _, s := range m.all() {
		if s.UserID() != userID || s.Source() != source || s.IsGroup() != isGroup {
			continue
		}
		t, ok := s.lastActivity()
		if !ok {
			continue
		}
		if current == nil || t.After(mostRecent) {
			current, mostRecent = s, t
		}
	}

	if current != nil && m.env.now().Sub(mostRecent) > m.env.Limits.RecentWindow {
		if err := current.Close(ctx); err != nil {
			slog.Warn("close stale session", "sid", current.ID(), "error", err)
		}
		m.Remove(current.ID())
		current = nil
	}
	if current != nil {
		return current, nil
	}
	return m.New(userID, isGroup, source), nil
}

// Add caches a session and marks it most recently used. The least recently
// used session is closed when the cache is full. When a session with the same
// id is already cached, that one is kept and returned.
func (m *Manager) Add(ctx context.Context, s *Session) *Session {
	var evicted *Session

	m.mu.Lock()
	if el, ok := m.index[s.ID()]; ok {
		m.order.MoveToBack(el)
		m.mu.Unlock()
		return el.Value.(*Session)
	}
	if m.order.Len() >= m.env.Limits.MaxSessions {
		if front := m.order.Front(); front != nil {
			evicted = m.order.Remove(front).(*Session)
			delete(m.index, evicted.ID())
		}
	}
	m.index[s.ID()] = m.order.PushBack(s)
	m.mu.Unlock()

	if evicted != nil {
		slog.Info("session evicted", "sid", evicted.ID())
		if err := evicted.Close(ctx); err != nil {
			slog.Error("close evicted session", "sid", evicted.ID(), "error", err)
		}
	}
	return s
}

// touch marks a cached session as most recently used.
func (m *Manager) touch(sid string) {
	m.mu.Lock()
	if el, ok := m.index[sid]; ok {
		m.order.MoveToBack(el)
	}
	m.mu.Unlock()
}

func (m *Manager) Remove(sid string) {
	m.mu.Lock()
	if el, ok := m.index[sid]; ok {
		m.order.Remove(el)
		delete(m.index, sid)
	}
	m.mu.Unlock()
}

// all returns the cached sessions from least to most recently used.
func (m *Manager) all() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, m.order.Len())
	for el := m.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*Session))
	}
	return out
}

// List returns the user's stored sessions, newest first, followed by cached
// sessions not stored yet.
func (m *Manager) List(ctx context.Context, userID string) ([]Info, error) {
	rows, err := m.env.Store.ListChatEntries(ctx, userID, m.env.Limits.ListLimit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	seen := make(map[string]bool, len(rows))
	out := make([]Info, 0, len(rows))
	for _, r := range rows {
		if seen[r.Addr] {
			continue
		}
		seen[r.Addr] = true
		out = append(out, Info{SID: r.Addr, SName: r.Title})
	}
	for _, s := range m.all() {
		if s.UserID() != userID || seen[s.ID()] {
			continue
		}
		seen[s.ID()] = true
		out = append(out, Info{SID: s.ID(), SName: s.Name()})
	}
	for i := range out {
		if out[i].SName == "" {
			out[i].SName = out[i].SID
		}
	}
	return out, nil
}

// SendMessage records an exchange. A session holding more than MaxMessages is
// closed and the exchange goes to a new session, which is returned.
func (m *Manager) SendMessage(ctx context.Context, userMsg, answer string, s *Session) (*Session, error) {
	if s.Len() > m.env.Limits.MaxMessages {
		if err := s.Close(ctx); err != nil {
			slog.Error("close full session", "sid", s.ID(), "error", err)
		}
		m.Remove(s.ID())
		s = m.Add(ctx, m.New(s.UserID(), s.IsGroup(), s.Source()))
		slog.Info("session rolled over", "sid", s.ID())
	}
	if err := s.SendMessage(ctx, userMsg, answer); err != nil {
		return s, err
	}
	m.touch(s.ID())
	return s, nil
}

// Clear drops the session from the cache and deletes it from storage.
func (m *Manager) Clear(ctx context.Context, s *Session) error {
	m.Remove(s.ID())
	return s.Clear(ctx)
}

// Sweep closes and drops sessions idle longer than IdleTimeout and syncs the rest.
func (m *Manager) Sweep(ctx context.Context) int {
	now := m.env.now()
	removed := 0
	for _, s := range m.all() {
		if now.Sub(s.LastChat()) > m.env.Limits.IdleTimeout {
			if err := s.Close(ctx); err != nil {
				slog.Error("close idle session", "sid", s.ID(), "error", err)
				continue
			}
			m.Remove(s.ID())
			removed++
			slog.Info("removed inactive session", "sid", s.ID())
			continue
		}
		if err := s.Sync(ctx); err != nil {
			slog.Error("sync session", "sid", s.ID(), "error", err)
		}
	}
	return removed
}

// FlushAll saves every cached session.
func (m *Manager) FlushAll(ctx context.Context) {
	for _, s := range m.all() {
		if err := s.Sync(ctx); err != nil {
			slog.Error("flush session", "sid", s.ID(), "error", err)
		}
	}
}

// Start runs Sweep every SweepInterval until Stop is called or ctx ends.
func (m *Manager) Start(ctx context.Context) {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)

		ticker := time.NewTicker(m.env.Limits.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				slog.Info("check session cache", "cached", m.Len())
				if n := m.Sweep(ctx); n > 0 {
					slog.Info("session sweep finished", "removed", n, "cached", m.Len())
				}
			}
		}
	}(m.done)
}

// Stop halts the sweep and waits for it to exit. Safe to call without Start.
func (m *Manager) Stop() {
	m.runMu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.runMu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}
