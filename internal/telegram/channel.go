// Package telegram feeds Telegram chats into the session layer.
package telegram

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/set-night/memochat/internal/agent"
	"github.com/set-night/memochat/internal/config"
	"github.com/set-night/memochat/internal/domain"
	"github.com/set-night/memochat/internal/i18n"
	"github.com/set-night/memochat/internal/service"
	"github.com/set-night/memochat/internal/session"
)

// Channel answers Telegram updates. Each chat has a current session.
type Channel struct {
	api        API
	sessions   *session.Manager
	messages   *service.MessageService
	users      *service.UserService
	tts        *service.TTSService
	files      *service.FileCache
	agents     *agent.Manager
	httpClient *http.Client

	mu      sync.Mutex
	current map[int64]string // chat id -> sid
	busy    map[int64]bool
	known   map[string]bool
}

type Deps struct {
	Sessions *session.Manager
	Messages *service.MessageService
	Users    *service.UserService
	TTS      *service.TTSService
	Files    *service.FileCache
	Agents   *agent.Manager
}

func New(deps Deps) *Channel {
	return &Channel{
		sessions:   deps.Sessions,
		messages:   deps.Messages,
		users:      deps.Users,
		tts:        deps.TTS,
		files:      deps.Files,
		agents:     deps.Agents,
		httpClient: &http.Client{Timeout: config.RequestTimeout},
		current:    make(map[int64]string),
		busy:       make(map[int64]bool),
		known:      make(map[string]bool),
	}
}

// Options routes updates no command matches to the channel.
func (c *Channel) Options() []bot.Option {
	return []bot.Option{
		bot.WithMiddlewares(Recover(), Logging()),
		bot.WithDefaultHandler(c.handleDefault),
	}
}

// Attach makes the channel answer through b and registers its commands.
func (c *Channel) Attach(b *bot.Bot) {
	c.api = b

	b.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypePrefix, c.handleStart)
	b.RegisterHandler(bot.HandlerTypeMessageText, "/help", bot.MatchTypePrefix, c.handleStart)
	b.RegisterHandler(bot.HandlerTypeMessageText, "/new", bot.MatchTypePrefix, c.handleNew)
	b.RegisterHandler(bot.HandlerTypeMessageText, "/clear", bot.MatchTypePrefix, c.handleClear)
	b.RegisterHandler(bot.HandlerTypeMessageText, "/sessions", bot.MatchTypePrefix, c.handleSessions)
	b.RegisterHandler(bot.HandlerTypeMessageText, "/tts", bot.MatchTypePrefix, c.handleTTS)

	b.RegisterHandler(bot.HandlerTypeCallbackQueryData, ttsPrefix, bot.MatchTypePrefix, c.handleTTSSelect)
	b.RegisterHandler(bot.HandlerTypeCallbackQueryData, sessionPrefix, bot.MatchTypePrefix, c.handleSessionSelect)
}

// chatUser maps a chat onto a user: the sender in private chats, the chat
// itself in groups.
func chatUser(chat models.Chat, from *models.User) (userID string, isGroup bool) {
	if chat.Type == "private" {
		id := chat.ID
		if from != nil {
			id = from.ID
		}
		return "tg_" + strconv.FormatInt(id, 10), false
	}
	return "tg_" + strconv.FormatInt(chat.ID, 10), true
}

// withLang carries the sender's language in ctx.
func withLang(ctx context.Context, from *models.User) context.Context {
	code := ""
	if from != nil {
		code = from.LanguageCode
	}
	return i18n.WithLang(ctx, i18n.Normalize(code))
}

// command splits "/cmd@bot args" into "/cmd" and "args".
func command(text string) (string, string) {
	name, args, _ := strings.Cut(strings.TrimSpace(text), " ")
	if i := strings.IndexByte(name, '@'); i > 0 {
		name = name[:i]
	}
	return strings.ToLower(name), strings.TrimSpace(args)
}

// ensureUser provisions the chat's user: a group user for group chats.
func (c *Channel) ensureUser(ctx context.Context, userID string, isGroup bool) error {
	c.mu.Lock()
	ok := c.known[userID]
	c.mu.Unlock()
	if ok {
		return nil
	}
	ensure := c.users.EnsureDefaultUser
	if isGroup {
		ensure = c.users.EnsureGroupUser
	}
	if _, err := ensure(ctx, userID); err != nil {
		return err
	}
	c.mu.Lock()
	c.known[userID] = true
	c.mu.Unlock()
	return nil
}

func (c *Channel) acquire(chatID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy[chatID] {
		return false
	}
	c.busy[chatID] = true
	return true
}

func (c *Channel) release(chatID int64) {
	c.mu.Lock()
	delete(c.busy, chatID)
	c.mu.Unlock()
}

func (c *Channel) currentSID(chatID int64) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current[chatID]
}

func (c *Channel) setCurrent(chatID int64, sid string) {
	c.mu.Lock()
	c.current[chatID] = sid
	c.mu.Unlock()
}

// session resolves the chat's current session and records content on it.
func (c *Channel) session(ctx context.Context, msg *models.Message, content string, create bool) (*session.Session, error) {
	userID, isGroup := chatUser(msg.Chat, msg.From)
	if err := c.ensureUser(ctx, userID, isGroup); err != nil {
		return nil, err
	}
	sess, err := c.sessions.Get(ctx, c.currentSID(msg.Chat.ID), userID, isGroup, domain.SourceTelegram, create)
	if err != nil {
		return nil, err
	}
	c.setCurrent(msg.Chat.ID, sess.ID())

	args := map[string]string{"source": domain.SourceTelegram, "user_id": userID}
	if isGroup {
		args["is_group"] = "true"
	}
	if content != "" {
		args["content"] = content
	}
	sess.SetRequest(args, content)
	return sess, nil
}

func (c *Channel) reply(ctx context.Context, msg *models.Message, text string, markup models.ReplyMarkup) {
	if err := SendLongMessage(ctx, c.api, msg.Chat.ID, text, msg.ID, markup); err != nil {
		slog.Error("telegram reply failed", "chat_id", msg.Chat.ID, "error", err)
	}
}

func (c *Channel) fail(ctx context.Context, msg *models.Message, what string, err error) {
	slog.Error("telegram "+what+" failed", "chat_id", msg.Chat.ID, "error", err)
	c.reply(ctx, msg, i18n.Tc(ctx, "backend_processing_failed"), nil)
}

func (c *Channel) handleDefault(ctx context.Context, _ *bot.Bot, update *models.Update) {
	msg := update.Message
	if msg == nil {
		return
	}
	switch {
	case msg.Document != nil:
		c.handleDocument(ctx, msg)
	case strings.HasPrefix(msg.Text, "/"):
		c.runCommand(ctx, msg, msg.Text)
	case strings.TrimSpace(msg.Text) != "":
		c.handleText(ctx, msg)
	}
}

func (c *Channel) handleText(ctx context.Context, msg *models.Message) {
	ctx = withLang(ctx, msg.From)
	if !c.acquire(msg.Chat.ID) {
		if msg.Chat.Type == "private" {
			c.reply(ctx, msg, i18n.Tc(ctx, "tg_please_wait"), nil)
		}
		return
	}
	defer c.release(msg.Chat.ID)

	sess, err := c.session(ctx, msg, msg.Text, false)
	if err != nil {
		c.fail(ctx, msg, "session", err)
		return
	}

	stop := StartTyping(ctx, c.api, msg.Chat.ID)
	out, err := c.messages.DoMessage(ctx, sess)
	stop()
	if err != nil {
		c.fail(ctx, msg, "message", err)
		return
	}
	c.setCurrent(msg.Chat.ID, out.SID)
	c.reply(ctx, msg, out.Info, nil)
}

func (c *Channel) handleDocument(ctx context.Context, msg *models.Message) {
	ctx = withLang(ctx, msg.From)
	doc := msg.Document
	name := doc.FileName
	if name == "" {
		name = doc.FileID
	}
	if doc.FileSize > config.TelegramMaxFileSize {
		c.reply(ctx, msg, i18n.Tc(ctx, "tg_file_too_large", "name", name), nil)
		return
	}
	if !c.acquire(msg.Chat.ID) {
		c.reply(ctx, msg, i18n.Tc(ctx, "tg_please_wait"), nil)
		return
	}
	defer c.release(msg.Chat.ID)

	sess, err := c.session(ctx, msg, "", false)
	if err != nil {
		c.fail(ctx, msg, "session", err)
		return
	}

	path, err := DownloadFile(ctx, c.api, c.httpClient, c.files, doc.FileID, name)
	if err != nil {
		if errors.Is(err, service.ErrFileTooLarge) {
			c.reply(ctx, msg, i18n.Tc(ctx, "tg_file_too_large", "name", name), nil)
			return
		}
		c.fail(ctx, msg, "download", err)
		return
	}

	stop := StartTyping(ctx, c.api, msg.Chat.ID)
	out, err := c.messages.ReceiveFile(ctx, sess, path, name)
	stop()
	if errors.Is(err, domain.ErrPermissionDenied) {
		c.reply(ctx, msg, i18n.Tc(ctx, "permission_denied"), nil)
		return
	}
	if err != nil {
		c.fail(ctx, msg, "receive file", err)
		return
	}
	c.setCurrent(msg.Chat.ID, out.SID)
	c.reply(ctx, msg, out.Info, nil)
}

func (c *Channel) handleStart(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	ctx = withLang(ctx, update.Message.From)
	c.reply(ctx, update.Message, i18n.Tc(ctx, "tg_help"), nil)
}

func (c *Channel) handleNew(ctx context.Context, _ *bot.Bot, update *models.Update) {
	msg := update.Message
	if msg == nil {
		return
	}
	ctx = withLang(ctx, msg.From)
	if _, err := c.session(ctx, msg, "", true); err != nil {
		c.fail(ctx, msg, "new session", err)
		return
	}
	c.reply(ctx, msg, i18n.Tc(ctx, "tg_new_session"), nil)
}

func (c *Channel) handleClear(ctx context.Context, _ *bot.Bot, update *models.Update) {
	msg := update.Message
	if msg == nil {
		return
	}
	ctx = withLang(ctx, msg.From)
	sess, err := c.session(ctx, msg, "", false)
	if err != nil {
		c.fail(ctx, msg, "session", err)
		return
	}
	if err := c.sessions.Clear(ctx, sess); err != nil {
		c.fail(ctx, msg, "clear session", err)
		return
	}
	c.reply(ctx, msg, i18n.Tc(ctx, "session_cleared"), nil)
}

func (c *Channel) handleSessions(ctx context.Context, _ *bot.Bot, update *models.Update) {
	msg := update.Message
	if msg == nil {
		return
	}
	ctx = withLang(ctx, msg.From)
	userID, _ := chatUser(msg.Chat, msg.From)

	list, err := c.sessions.List(ctx, userID)
	if err != nil {
		c.fail(ctx, msg, "list sessions", err)
		return
	}
	if len(list) == 0 {
		c.reply(ctx, msg, i18n.Tc(ctx, "tg_no_sessions"), nil)
		return
	}
	c.reply(ctx, msg, i18n.Tc(ctx, "tg_sessions_header"), SessionsKeyboard(list, c.currentSID(msg.Chat.ID)))
}

// handleTTS shows the option keyboard. "/tts <option>" is run as an agent command.
func (c *Channel) handleTTS(ctx context.Context, _ *bot.Bot, update *models.Update) {
	msg := update.Message
	if msg == nil {
		return
	}
	if _, args := command(msg.Text); args != "" {
		c.runCommand(ctx, msg, msg.Text)
		return
	}

	ctx = withLang(ctx, msg.From)
	userID, isGroup := chatUser(msg.Chat, msg.From)
	if err := c.ensureUser(ctx, userID, isGroup); err != nil {
		c.fail(ctx, msg, "ensure user", err)
		return
	}
	cur, err := c.tts.Current(ctx, userID)
	if err != nil {
		c.fail(ctx, msg, "tts", err)
		return
	}
	c.reply(ctx, msg, i18n.Tc(ctx, "tts_select"), TTSKeyboard(service.TTSOptions, cur))
}

// runCommand hands a slash command to the agents.
func (c *Channel) runCommand(ctx context.Context, msg *models.Message, text string) {
	ctx = withLang(ctx, msg.From)
	name, args := command(text)
	content := strings.TrimSpace(name + " " + args)

	sess, err := c.session(ctx, msg, content, false)
	if err != nil {
		c.fail(ctx, msg, "session", err)
		return
	}
	info, err := c.agents.DoCommand(ctx, sess)
	if err != nil {
		c.fail(ctx, msg, "command", err)
		return
	}
	c.reply(ctx, msg, info, nil)
}

// callbackMessage returns the message a callback button belongs to.
func callbackMessage(update *models.Update) *models.Message {
	if update.CallbackQuery == nil {
		return nil
	}
	return update.CallbackQuery.Message.Message
}

func (c *Channel) answer(ctx context.Context, cq *models.CallbackQuery, text string) {
	_, err := c.api.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: cq.ID,
		Text:            text,
	})
	if err != nil {
		slog.Warn("answer callback failed", "error", err)
	}
}

func (c *Channel) handleTTSSelect(ctx context.Context, _ *bot.Bot, update *models.Update) {
	msg := callbackMessage(update)
	if msg == nil {
		return
	}
	cq := update.CallbackQuery
	ctx = withLang(ctx, &cq.From)
	userID, isGroup := chatUser(msg.Chat, &cq.From)

	err := c.ensureUser(ctx, userID, isGroup)
	text := ""
	if err == nil {
		text, err = c.tts.Apply(ctx, i18n.FromContext(ctx), userID, strings.TrimPrefix(cq.Data, ttsPrefix))
	}
	if err != nil {
		slog.Error("telegram tts failed", "user_id", userID, "error", err)
		text = i18n.Tc(ctx, "backend_processing_failed")
	}
	c.answer(ctx, cq, text)
	c.reply(ctx, msg, text, nil)
}

func (c *Channel) handleSessionSelect(ctx context.Context, _ *bot.Bot, update *models.Update) {
	msg := callbackMessage(update)
	if msg == nil {
		return
	}
	cq := update.CallbackQuery
	ctx = withLang(ctx, &cq.From)
	userID, isGroup := chatUser(msg.Chat, &cq.From)

	sid := strings.TrimPrefix(cq.Data, sessionPrefix)
	sess, err := c.sessions.Get(ctx, sid, userID, isGroup, domain.SourceTelegram, false)
	if err != nil {
		c.answer(ctx, cq, "")
		c.fail(ctx, msg, "switch session", err)
		return
	}
	c.setCurrent(msg.Chat.ID, sess.ID())

	text := i18n.Tc(ctx, "tg_session_switched", "name", sess.Name())
	c.answer(ctx, cq, text)
	c.reply(ctx, msg, text, nil)
}
