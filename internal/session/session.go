// Package session keeps chat sessions in memory and mirrors them to storage.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/set-night/memochat/internal/domain"
)

const (
	// MessageTimeLayout is the layout of Message.CreatedTime.
	MessageTimeLayout = "2006-01-02 15:04:05"

	sidTimeLayout = "20060102150405"
	anonymousUser = "tmp"
)

// Engine is a chat model conversation with memory.
type Engine interface {
	Predict(ctx context.Context, input string) (string, error)
	ClearMemory()
}

// EngineFactory builds an Engine for a user and model.
type EngineFactory func(userID, model string) Engine

// Store persists sessions as chat entries.
type Store interface {
	GetChatEntry(ctx context.Context, userID, sid string) (*domain.ChatEntry, error)
	LatestChatEntry(ctx context.Context, userID, source string) (*domain.ChatEntry, error)
	ListChatEntries(ctx context.Context, userID string, limit int) ([]domain.ChatSummary, error)
	CreateChatEntry(ctx context.Context, e *domain.ChatEntry) error
	UpdateChatEntry(ctx context.Context, userID, sid string, meta domain.ChatMeta, raw string) error
	DeleteChatEntries(ctx context.Context, userID, sid string) error
}

// Titler turns a conversation excerpt into a title.
type Titler interface {
	Title(ctx context.Context, userID, excerpt string) (string, error)
}

// Preferences reports how many messages a user wants to see on reload.
type Preferences interface {
	ShowCount(ctx context.Context, userID string) int
}

type Message struct {
	Index       int    `json:"-"`
	Sender      string `json:"sender"`
	Content     string `json:"content"`
	CreatedTime string `json:"created_time"`
}

// Raw renders the message as stored in the entry raw text.
func (m Message) Raw() string {
	return m.Sender + "\n" + m.Content + "\n" + m.CreatedTime + "\n"
}

type chatHandle struct {
	engine Engine
	model  string
}

type Session struct {
	env *Env

	id     string
	userID string

	// saveMu serializes SaveToDB so the first save creates one entry.
	saveMu sync.Mutex

	mu             sync.Mutex
	name           string
	isGroup        bool
	source         string
	messages       []Message
	cache          map[string]any
	args           map[string]string
	currentContent string
	syncIdx        int
	lastChat       time.Time
	chat           *chatHandle
}

func newSession(env *Env, sid, userID string, isGroup bool, source string) *Session {
	return &Session{
		env:      env,
		id:       sid,
		userID:   userID,
		isGroup:  isGroup,
		source:   source,
		cache:    map[string]any{},
		args:     map[string]string{},
		syncIdx:  -1,
		lastChat: env.now(),
	}
}

// NewID builds a session id: "<user>_<YYYYMMDDhhmmss><microseconds>".
func NewID(userID string, now time.Time) string {
	if userID == "" {
		userID = anonymousUser
	}
	now = now.UTC()
	return fmt.Sprintf("%s_%s%06d", userID, now.Format(sidTimeLayout), now.Nanosecond()/1000)
}

// Owner returns the user part of a session id.
func Owner(sid string) string {
	if i := strings.LastIndex(sid, "_"); i > 0 {
		return sid[:i]
	}
	return ""
}

// idTime extracts the creation time encoded in a session id.
func idTime(sid string) (time.Time, bool) {
	i := strings.LastIndex(sid, "_")
	if i < 0 {
		return time.Time{}, false
	}
	stamp := sid[i+1:]
	if len(stamp) < len(sidTimeLayout) {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(sidTimeLayout, stamp[:len(sidTimeLayout)], time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func (s *Session) ID() string     { return s.id }
func (s *Session) UserID() string { return s.userID }

func (s *Session) IsGroup() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isGroup
}

func (s *Session) Source() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source
}

// Name is the stored title, else the creation time from the id, else the id.
func (s *Session) Name() string {
	s.mu.Lock()
	name := s.name
	s.mu.Unlock()
	if name != "" {
		return name
	}
	if t, ok := idTime(s.id); ok {
		return t.Format(MessageTimeLayout)
	}
	return s.id
}

func (s *Session) SetCache(key string, value any) {
	s.mu.Lock()
	s.cache[key] = value
	s.mu.Unlock()
}

func (s *Session) GetCache(key string, def any) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.cache[key]; ok {
		return v
	}
	return def
}

// SetRequest records the arguments and content of the request being served.
func (s *Session) SetRequest(args map[string]string, content string) {
	s.mu.Lock()
	s.args = args
	s.currentContent = content
	s.mu.Unlock()
}

func (s *Session) Arg(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.args[key]
}

func (s *Session) CurrentContent() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentContent
}

func (s *Session) LastChat() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastChat
}

func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// Snapshot returns a copy of the messages.
func (s *Session) Snapshot() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

// ChatEngine returns the session engine for model, creating it on first use.
// Switching model clears the previous engine's memory.
func (s *Session) ChatEngine(model string) Engine {
	if model == "" {
		model = s.env.DefaultModel
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.chat != nil && s.chat.model == model {
		return s.chat.engine
	}
	if s.chat != nil {
		slog.Debug("session model changed", "sid", s.id, "from", s.chat.model, "to", model)
		s.chat.engine.ClearMemory()
	}
	s.chat = &chatHandle{engine: s.env.NewEngine(s.userID, model), model: model}
	return s.chat.engine
}

func (s *Session) clearChat() {
	s.mu.Lock()
	chat := s.chat
	s.mu.Unlock()
	if chat != nil {
		chat.engine.ClearMemory()
	}
}

// LoadFromDB replaces the session state with the stored entry, keeping only
// the last show-count messages.
func (s *Session) LoadFromDB(ctx context.Context) error {
	showCount := s.env.showCount(ctx, s.userID)

	entry, err := s.env.Store.GetChatEntry(ctx, s.userID, s.id)
	if err != nil && !errors.Is(err, domain.ErrEntryNotFound) {
		return fmt.Errorf("load session: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = nil
	if entry == nil {
		slog.Warn("session not found in storage", "sid", s.id, "user_id", s.userID)
		return nil
	}

	s.name = entry.Title
	s.isGroup = entry.Meta.IsGroup
	s.source = entry.Source
	msgs := entry.Meta.Messages
	if showCount > 0 && len(msgs) > showCount {
		msgs = msgs[len(msgs)-showCount:]
	}
	s.messages = make([]Message, len(msgs))
	for i, m := range msgs {
		s.messages[i] = Message{Index: i, Sender: m.Sender, Content: m.Content, CreatedTime: m.CreatedTime}
	}
	s.syncIdx = len(s.messages)
	slog.Debug("session loaded", "sid", s.id, "messages", len(s.messages))
	return nil
}

func (s *Session) meta(msgs []Message) domain.ChatMeta {
	out := make([]domain.EntryMessage, len(msgs))
	for i, m := range msgs {
		out[i] = domain.EntryMessage{Sender: m.Sender, Content: m.Content, CreatedTime: m.CreatedTime}
	}
	return domain.ChatMeta{SID: s.id, IsGroup: s.IsGroup(), Messages: out}
}

func rawText(msgs []Message) string {
	parts := make([]string, len(msgs))
	for i, m := range msgs {
		parts[i] = m.Raw()
	}
	return strings.Join(parts, "\n")
}

// Raw renders all messages as plain text.
func (s *Session) Raw() string {
	return rawText(s.Snapshot())
}

// SaveToDB writes the session to storage. The first save creates the entry
// with a generated title.
func (s *Session) SaveToDB(ctx context.Context) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	msgs := s.Snapshot()
	if len(msgs) == 0 {
		return nil
	}

	store := s.env.Store
	_, err := store.GetChatEntry(ctx, s.userID, s.id)
	switch {
	case errors.Is(err, domain.ErrEntryNotFound):
		abstract := s.calcName(ctx, msgs)
		title := truncate(abstract, s.env.Limits.TitleLength)
		entry := &domain.ChatEntry{
			UserID:   s.userID,
			EType:    domain.EntryTypeChat,
			AType:    domain.AbstractSubject,
			Status:   domain.StatusCollect,
			Title:    title,
			Abstract: abstract,
			Raw:      rawText(msgs),
			Source:   s.Source(),
			Addr:     s.id,
			Meta:     s.meta(msgs),
		}
		if err := store.CreateChatEntry(ctx, entry); err != nil {
			return fmt.Errorf("save session: %w", err)
		}
		s.mu.Lock()
		if s.name == "" {
			s.name = title
		}
		s.mu.Unlock()
		slog.Info("session stored", "sid", s.id, "messages", len(msgs))
	case err != nil:
		return fmt.Errorf("save session: %w", err)
	default:
		if err := store.UpdateChatEntry(ctx, s.userID, s.id, s.meta(msgs), rawText(msgs)); err != nil {
			return fmt.Errorf("save session: %w", err)
		}
		slog.Debug("session updated", "sid", s.id, "messages", len(msgs))
	}

	s.mu.Lock()
	if s.syncIdx < len(msgs) {
		s.syncIdx = len(msgs)
	}
	s.mu.Unlock()
	return nil
}

func (s *Session) unsynced() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages) - s.syncIdx
}

// Sync saves the session when it holds messages not yet written.
func (s *Session) Sync(ctx context.Context) error {
	if s.unsynced() > 0 {
		return s.SaveToDB(ctx)
	}
	return nil
}

// Close saves the session and drops the engine memory.
func (s *Session) Close(ctx context.Context) error {
	err := s.SaveToDB(ctx)
	s.clearChat()
	return err
}

// Clear deletes the stored session and forgets its messages.
func (s *Session) Clear(ctx context.Context) error {
	if err := s.env.Store.DeleteChatEntries(ctx, s.userID, s.id); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	s.clearChat()
	s.mu.Lock()
	s.messages = nil
	s.syncIdx = 0
	s.mu.Unlock()
	return nil
}

// Messages returns the messages, reloading from storage when the session is
// empty or force is set.
func (s *Session) Messages(ctx context.Context, force bool) ([]Message, error) {
	if force || s.Len() == 0 {
		if err := s.LoadFromDB(ctx); err != nil {
			return nil, err
		}
	}
	return s.Snapshot(), nil
}

// SendMessage appends a user message and its answer with one timestamp and
// saves once enough messages are pending.
func (s *Session) SendMessage(ctx context.Context, userMsg, answer string) error {
	now := s.env.now().UTC()
	s.AddMessage(domain.RoleUser, userMsg, now)
	s.AddMessage(domain.RoleAssistant, answer, now)
	if s.unsynced() > s.env.Limits.SyncThreshold {
		return s.SaveToDB(ctx)
	}
	return nil
}

func (s *Session) AddMessage(sender, content string, created time.Time) {
	s.mu.Lock()
	s.messages = append(s.messages, Message{
		Index:       len(s.messages),
		Sender:      sender,
		Content:     content,
		CreatedTime: created.UTC().Format(MessageTimeLayout),
	})
	s.lastChat = s.env.now()
	n := len(s.messages)
	s.mu.Unlock()
	slog.Debug("message added", "sid", s.id, "messages", n)
}

// lastActivity is the time of the last message, or the creation time of an
// empty session.
func (s *Session) lastActivity() (time.Time, bool) {
	s.mu.Lock()
	var last string
	if n := len(s.messages); n > 0 {
		last = s.messages[n-1].CreatedTime
	}
	s.mu.Unlock()

	if last == "" {
		return idTime(s.id)
	}
	t, err := time.ParseInLocation(MessageTimeLayout, last, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// CalcName asks the model for a title built from the user side of the chat.
func (s *Session) CalcName(ctx context.Context) string {
	return s.calcName(ctx, s.Snapshot())
}

func (s *Session) calcName(ctx context.Context, msgs []Message) string {
	excerpt := titleExcerpt(msgs, s.env.Limits.ContentPreview, s.env.Limits.TitleSource)
	if excerpt == "" || s.env.Titler == nil {
		return ""
	}
	title, err := s.env.Titler.Title(ctx, s.userID, excerpt)
	if err != nil {
		slog.Warn("session title failed", "sid", s.id, "error", err)
		return ""
	}
	return strings.TrimSpace(title)
}

func titleExcerpt(msgs []Message, preview, limit int) string {
	var b strings.Builder
	for _, m := range msgs {
		if m.Sender == domain.RoleAssistant {
			continue
		}
		content := m.Content
		if len([]rune(content)) > preview {
			content = truncate(strings.TrimSpace(content), preview)
		}
		b.WriteString(content)
		b.WriteString("\n")
		if b.Len() > limit {
			break
		}
	}
	return b.String()
}

// truncate cuts s to n runes and appends "..." when it was longer.
func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
