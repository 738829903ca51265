package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/set-night/memochat/internal/agent"
	"github.com/set-night/memochat/internal/config"
	"github.com/set-night/memochat/internal/domain"
	"github.com/set-night/memochat/internal/i18n"
	"github.com/set-night/memochat/internal/llm"
	"github.com/set-night/memochat/internal/middleware"
	"github.com/set-night/memochat/internal/repository/memorytest"
	"github.com/set-night/memochat/internal/service"
	"github.com/set-night/memochat/internal/session"
)

const modelReply = "hello there"

type stubLLM struct {
	mu    sync.Mutex
	calls int
}

func (s *stubLLM) Chat(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return &llm.ChatResponse{
		Model:   req.Model,
		Choices: []llm.Choice{{Message: llm.ChatMessage{Role: "assistant", Content: modelReply}}},
	}, nil
}

type downDB struct{}

func (downDB) Ping(context.Context) error { return errors.New("connection refused") }

type testServer struct {
	e        *echo.Echo
	store    *memorytest.Store
	sessions *session.Manager
}

func newTestServer(t *testing.T, mutate ...func(*config.Config, *Deps)) *testServer {
	t.Helper()

	cfg := &config.Config{DefaultUser: "default", RateLimitPerMinute: 100, TokenTTL: time.Hour}
	store := memorytest.New()

	users := service.NewUserService(store)
	tokens := service.NewTokenService(store, cfg.TokenTTL)
	resources := service.NewResourceService(store)
	tts := service.NewTTSService(store)
	assistant := service.NewAssistant(&stubLLM{}, "test-model", "en", resources)

	sessions := session.NewManager(session.Env{
		Store:        store,
		Titler:       assistant,
		Preferences:  users,
		NewEngine:    assistant.NewEngine,
		DefaultModel: assistant.Model(),
	})
	files, err := service.NewFileCache(t.TempDir(), time.Hour)
	require.NoError(t, err)

	userAgent := agent.NewUserAgent(users, tokens)
	settingAgent := agent.NewSettingAgent(users, resources, tts)

	deps := Deps{
		Cfg:       cfg,
		Sessions:  sessions,
		Messages:  service.NewMessageService(sessions, assistant, service.NewPageReader(time.Second), resources, users),
		Users:     users,
		Tokens:    tokens,
		TTS:       tts,
		Files:     files,
		UserAgent: userAgent,
		Agents:    agent.NewManager(assistant, userAgent.Agent(), settingAgent.Agent()),
		Limiter:   store,
		DB:        store,
	}
	for _, fn := range mutate {
		fn(cfg, &deps)
	}

	e := echo.New()
	e.Use(middleware.Language())
	New(deps).RegisterRoutes(e)
	return &testServer{e: e, store: store, sessions: sessions}
}

func (s *testServer) do(req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)

	var body map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	return rec, body
}

func (s *testServer) post(t *testing.T, path, token string, form url.Values) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Token "+token)
	}
	return s.do(req)
}

func (s *testServer) get(t *testing.T, path, token string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	return s.do(req)
}

// login registers username and returns a fresh token.
func (s *testServer) login(t *testing.T, username string) string {
	t.Helper()
	form := url.Values{"username": {username}, "password": {"secret"}}
	_, body := s.post(t, "/api/auth/register/", "", form)
	require.Equal(t, "success", body["status"], body)

	_, body = s.post(t, "/api/auth/login/", "", form)
	require.Equal(t, "success", body["status"], body)
	content := body["content"].(map[string]any)
	return content["token"].(string)
}

func content(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	require.Equal(t, "success", body["status"], body)
	require.Equal(t, "json", body["type"], body)
	c, ok := body["content"].(map[string]any)
	require.True(t, ok, body)
	return c
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec, body := s.get(t, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.EqualValues(t, 0, body["sessions"])

	down := newTestServer(t, func(_ *config.Config, d *Deps) { d.DB = downDB{} })
	rec, body = down.get(t, "/api/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unhealthy", body["status"])
}

func TestRegisterAndLogin(t *testing.T) {
	s := newTestServer(t)
	form := url.Values{"username": {"alice"}, "password": {"secret"}}

	_, body := s.post(t, "/api/auth/register/", "", form)
	assert.Equal(t, map[string]any{"status": "success", "info": "Registration successful."}, body)

	_, body = s.post(t, "/api/auth/register/", "", form)
	assert.Equal(t, map[string]any{"status": "failed", "info": "Username already exists."}, body)

	_, body = s.post(t, "/api/auth/register/", "", url.Values{"username": {"bob"}})
	assert.Equal(t, "User or password are empty.", body["info"])

	_, body = s.post(t, "/api/auth/login/", "", url.Values{"username": {"alice"}, "password": {"wrong"}})
	assert.Equal(t, map[string]any{"status": "failed", "info": "Incorrect username or password."}, body)

	rec, body := s.post(t, "/api/auth/login/", "", url.Values{"user_id": {"alice"}, "password": {"secret"}})
	assert.Equal(t, http.StatusOK, rec.Code)
	c := content(t, body)
	assert.Equal(t, "alice", c["user_id"])
	assert.Len(t, c["token"], 64)
	assert.Equal(t, "Login successful.", c["info"])
	assert.NotEmpty(t, c["expiry"])
}

func TestLogout(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "alice")

	_, body := s.post(t, "/api/auth/logout/", token, nil)
	assert.Equal(t, map[string]any{"status": "success", "info": "Logout successful."}, body)

	rec, body := s.post(t, "/api/message/session/", token, url.Values{"rtype": {"get_current_session"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, map[string]any{"status": "failed", "info": "Invalid token."}, body)
}

func TestLogoutAll(t *testing.T) {
	s := newTestServer(t)
	first := s.login(t, "alice")

	_, body := s.post(t, "/api/auth/login/", "", url.Values{"username": {"alice"}, "password": {"secret"}})
	second := content(t, body)["token"].(string)
	assert.Equal(t, 2, s.store.TokenCount())

	_, body = s.post(t, "/api/auth/logoutall/", second, nil)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, 0, s.store.TokenCount())

	rec, _ := s.get(t, "/api/settings/tts/", first)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChangePassword(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "alice")

	_, body := s.post(t, "/api/auth/password/", token, url.Values{"password_old": {"secret"}, "password_new": {"secret"}})
	assert.Equal(t, "Old and new passwords are identical.", body["info"])

	_, body = s.post(t, "/api/auth/password/", token, url.Values{"password_old": {"nope"}, "password_new": {"fresh"}})
	assert.Equal(t, "Original password error.", body["info"])

	_, body = s.post(t, "/api/auth/password/", token, url.Values{"password_old": {"secret"}, "password_new": {"fresh"}})
	assert.Equal(t, map[string]any{"status": "success", "info": "Change successful."}, body)

	_, body = s.post(t, "/api/auth/login/", "", url.Values{"username": {"alice"}, "password": {"fresh"}})
	assert.Equal(t, "success", body["status"])
}

func TestSessionAPI_RequiresToken(t *testing.T) {
	s := newTestServer(t)

	rec, body := s.post(t, "/api/message/session/", "", url.Values{"rtype": {"get_sessions"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Authentication credentials were not provided.", body["info"])

	rec, _ = s.post(t, "/api/message/session/", strings.Repeat("0", 64), url.Values{"rtype": {"get_sessions"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMessageAPI_ChatAndSessionOps(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "alice")

	_, body := s.post(t, "/api/message/", token, url.Values{"content": {"hi"}})
	reply := content(t, body)
	assert.Equal(t, modelReply, reply["info"])
	sid, _ := reply["sid"].(string)
	require.NotEmpty(t, sid)

	_, body = s.post(t, "/api/message/session/", token, url.Values{"sid": {sid}, "rtype": {"get_current_session"}})
	assert.Equal(t, sid, body["info"])

	_, body = s.post(t, "/api/message/session/", token, url.Values{"sid": {sid}, "rtype": {"get_messages"}})
	require.Equal(t, "success", body["status"])
	msgs := body["info"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hi", msgs[0].(map[string]any)["content"])
	assert.Equal(t, "assistant", msgs[1].(map[string]any)["sender"])

	_, body = s.post(t, "/api/message/session/", token, url.Values{"sid": {sid}, "rtype": {"save_session"}})
	assert.Equal(t, map[string]any{"status": "success", "info": "session saved"}, body)

	_, body = s.post(t, "/api/message/session/", token, url.Values{"sid": {sid}, "rtype": {"get_sessions"}})
	list := body["info"].([]any)
	require.NotEmpty(t, list)
	assert.Equal(t, sid, list[0].(map[string]any)["sid"])
	assert.Equal(t, modelReply, list[0].(map[string]any)["sname"])

	_, body = s.post(t, "/api/message/session/", token, url.Values{"sid": {sid}, "rtype": {"clear_session"}})
	assert.Equal(t, map[string]any{"status": "success", "info": "session cleared"}, body)

	_, err := s.store.GetChatEntry(context.Background(), "alice", sid)
	assert.Error(t, err)

	_, body = s.post(t, "/api/message/session/", token, url.Values{"sid": {sid}, "rtype": {"bogus"}})
	assert.Equal(t, map[string]any{"status": "failed", "info": "Backend processing failed."}, body)
}

func TestSessionAPI_OtherUsersSession(t *testing.T) {
	s := newTestServer(t)
	alice := s.login(t, "alice")
	bob := s.login(t, "bob")

	_, body := s.post(t, "/api/message/", alice, url.Values{"content": {"alice secret"}})
	sid := content(t, body)["sid"].(string)
	_, body = s.post(t, "/api/message/session/", alice, url.Values{"sid": {sid}, "rtype": {"save_session"}})
	require.Equal(t, "success", body["status"])

	for _, rtype := range []string{"get_messages", "clear_session", "save_session", "get_current_session"} {
		_, body = s.post(t, "/api/message/session/", bob, url.Values{"sid": {sid}, "rtype": {rtype}})
		assert.Equal(t, map[string]any{"status": "failed", "info": "Backend processing failed."}, body, rtype)
	}
	_, body = s.post(t, "/api/message/", bob, url.Values{"sid": {sid}, "content": {"hi"}})
	assert.Equal(t, "failed", body["status"])

	_, body = s.post(t, "/api/message/session/", alice, url.Values{"sid": {sid}, "rtype": {"get_messages"}})
	require.Equal(t, "success", body["status"])
	msgs := body["info"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "alice secret", msgs[0].(map[string]any)["content"])

	_, err := s.store.GetChatEntry(context.Background(), "alice", sid)
	assert.NoError(t, err)
}

func TestMessageAPI_Create(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "alice")

	_, body := s.post(t, "/api/message/", token, url.Values{"content": {"hi"}})
	first := content(t, body)["sid"]

	_, body = s.post(t, "/api/message/", token, url.Values{"content": {"hi"}})
	assert.Equal(t, first, content(t, body)["sid"])

	_, body = s.post(t, "/api/message/", token, url.Values{"content": {"hi"}, "create": {"true"}})
	assert.NotEqual(t, first, content(t, body)["sid"])
}

func TestMessageAPI_EmptyContent(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "alice")

	_, body := s.post(t, "/api/message/", token, url.Values{"content": {"   "}})
	assert.Equal(t, "failed", body["status"])
}

func TestMessageAPI_Anonymous(t *testing.T) {
	s := newTestServer(t)

	_, body := s.post(t, "/api/message/", "", url.Values{"rtype": {"text"}})
	assert.Equal(t, map[string]any{"status": "failed", "info": "Please sign up or log in first."}, body)

	req := httptest.NewRequest(http.MethodPost, "/api/message/", nil)
	req.Header.Set(middleware.HeaderAcceptLanguage, "zh-CN,zh;q=0.9")
	_, body = s.do(req)
	assert.Equal(t, i18n.T("zh", "please_sign_up_or_log_in_first"), body["info"])

	_, body = s.post(t, "/api/message/", "", url.Values{"content": {"/register bob pw"}})
	reply := content(t, body)
	assert.Equal(t, "Registration successful.", reply["info"])
	assert.NotEmpty(t, reply["sid"])

	exists, err := s.store.UserExists(context.Background(), "bob")
	require.NoError(t, err)
	assert.True(t, exists)

	_, body = s.post(t, "/api/message/", "", url.Values{"content": {"what can you do?"}})
	assert.Equal(t, modelReply, content(t, body)["info"])
}

func TestMessageAPI_AnonymousEmptyContent(t *testing.T) {
	s := newTestServer(t)

	_, body := s.post(t, "/api/message/", "", url.Values{"content": {""}})
	reply := content(t, body)
	assert.Equal(t, "Unknown command. Try /register, /login, /passwd or /logout.", reply["info"])
	assert.NotEmpty(t, reply["sid"])
}

func TestMessageAPI_Group(t *testing.T) {
	s := newTestServer(t)

	_, body := s.post(t, "/api/message/", "", url.Values{"is_group": {"true"}, "content": {"hi"}})
	assert.Equal(t, modelReply, content(t, body)["info"])

	exists, err := s.store.UserExists(context.Background(), "default")
	require.NoError(t, err)
	assert.True(t, exists)

	_, body = s.post(t, "/api/message/", "", url.Values{"is_group": {"true"}, "user_id": {"room-7"}, "content": {"hi"}})
	sid := content(t, body)["sid"].(string)
	assert.True(t, strings.HasPrefix(sid, "room-7"), sid)

	_, body = s.post(t, "/api/message/", "", url.Values{"is_group": {"true"}, "rtype": {"get_messages"}})
	assert.Equal(t, "failed", body["status"])

	room, err := s.store.GetUserByUsername(context.Background(), "room-7")
	require.NoError(t, err)
	assert.True(t, room.IsGroup)
}

func TestMessageAPI_GroupCannotActAsUser(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "alice")

	_, body := s.post(t, "/api/message/", token, url.Values{"content": {"alice secret"}})
	sid := content(t, body)["sid"].(string)

	_, body = s.post(t, "/api/message/", "", url.Values{"is_group": {"true"}, "user_id": {"alice"}, "content": {"hi"}})
	assert.Equal(t, map[string]any{"status": "failed", "info": "Please sign up or log in first."}, body)

	_, body = s.post(t, "/api/message/", "", url.Values{"is_group": {"true"}, "user_id": {"alice"}, "sid": {sid}, "content": {"hi"}})
	assert.Equal(t, "failed", body["status"])

	// a group identity cannot reach a personal sid either
	_, body = s.post(t, "/api/message/", "", url.Values{"is_group": {"true"}, "user_id": {"room-7"}, "sid": {sid}, "content": {"hi"}})
	assert.Equal(t, "failed", body["status"])

	_, body = s.post(t, "/api/message/session/", token, url.Values{"sid": {sid}, "rtype": {"get_messages"}})
	require.Equal(t, "success", body["status"])
	assert.Len(t, body["info"].([]any), 2)
}

func TestMessageAPI_File(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "alice")

	upload := func(name, data string) map[string]any {
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		require.NoError(t, w.WriteField("rtype", "file"))
		fw, err := w.CreateFormFile("file", name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(data))
		require.NoError(t, err)
		require.NoError(t, w.Close())

		req := httptest.NewRequest(http.MethodPost, "/api/message/", &buf)
		req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
		req.Header.Set(echo.HeaderAuthorization, "Token "+token)
		_, body := s.do(req)
		return body
	}

	body := upload("notes.txt", "buy milk")
	assert.Equal(t, "Summary of notes.txt:\n"+modelReply, content(t, body)["info"])

	body = upload("photo.png", "\x89PNG")
	assert.Equal(t, "File photo.png was saved, but its type cannot be read.", content(t, body)["info"])

	_, body = s.post(t, "/api/message/", token, url.Values{"rtype": {"file"}})
	assert.Equal(t, "failed", body["status"])
}

func TestMessageAPI_GuestPrivileges(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "alice")
	require.NoError(t, s.store.SetUserLevel("alice", domain.LevelGuest))

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("rtype", "file"))
	fw, err := w.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte("buy milk"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/message/", &buf)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	req.Header.Set(echo.HeaderAuthorization, "Token "+token)
	_, body := s.do(req)
	assert.Equal(t, map[string]any{"status": "failed", "info": "Your user level does not allow this."}, body)

	_, body = s.post(t, "/api/settings/tts/", token, url.Values{"option": {"openai"}})
	assert.Equal(t, map[string]any{"status": "failed", "info": "Your user level does not allow this."}, body)

	_, body = s.post(t, "/api/settings/tts/", token, url.Values{"option": {"none"}})
	assert.Equal(t, "success", body["status"])
}

func TestTTSSettings(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "alice")

	_, body := s.get(t, "/api/settings/tts/", token)
	c := content(t, body)
	assert.Equal(t, "edge:en-US-AriaNeural", c["current"])
	assert.Len(t, c["options"], len(service.TTSOptions))

	_, body = s.post(t, "/api/settings/tts/", token, url.Values{"option": {"OpenAI"}})
	assert.Equal(t, map[string]any{"status": "success", "info": "Text-to-speech set to openai:alloy."}, body)

	_, body = s.get(t, "/api/settings/tts/", token)
	assert.Equal(t, "openai:alloy", content(t, body)["current"])

	_, body = s.post(t, "/api/settings/tts/", token, url.Values{"option": {"bogus"}})
	assert.Equal(t, map[string]any{"status": "failed", "info": "Unknown text-to-speech option: bogus"}, body)
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config, _ *Deps) { cfg.RateLimitPerMinute = 2 })

	for i := 0; i < 2; i++ {
		rec, _ := s.post(t, "/api/auth/login/", "", url.Values{"username": {"x"}, "password": {"y"}})
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec, body := s.post(t, "/api/auth/login/", "", url.Values{"username": {"x"}, "password": {"y"}})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "Too many requests, please wait a moment.", body["info"])

	rec, _ = s.get(t, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
