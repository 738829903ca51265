package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/set-night/memochat/internal/config"
	"github.com/set-night/memochat/internal/domain"
	"github.com/set-night/memochat/internal/i18n"
	"github.com/set-night/memochat/internal/llm"
	"github.com/set-night/memochat/internal/session"
)

// textFileTypes are uploads whose content is read and summarized.
var textFileTypes = map[string]bool{
	".txt": true, ".md": true, ".csv": true, ".json": true, ".log": true,
	".html": true, ".htm": true,
}

type Reply struct {
	Info string `json:"info"`
	SID  string `json:"sid"`
}

// PrivilegeSource tells what a user's level allows.
type PrivilegeSource interface {
	Privilege(ctx context.Context, username string) domain.Privilege
}

// MessageService answers chat messages and uploads and records them in the session.
type MessageService struct {
	sessions   *session.Manager
	assistant  *Assistant
	pages      *PageReader
	resources  *ResourceService
	privileges PrivilegeSource
}

// NewMessageService builds the service. A nil privileges source allows everything.
func NewMessageService(sessions *session.Manager, assistant *Assistant, pages *PageReader, resources *ResourceService, privileges PrivilegeSource) *MessageService {
	return &MessageService{sessions: sessions, assistant: assistant, pages: pages, resources: resources, privileges: privileges}
}

func (s *MessageService) privilege(ctx context.Context, userID string) domain.Privilege {
	if s.privileges == nil {
		return domain.Privilege{UploadFiles: true, ReadWebPages: true, TextToSpeech: true}
	}
	return s.privileges.Privilege(ctx, userID)
}

// DoMessage answers the session's current content. A lone URL is read and
// summarized when the user may read web pages. Anything else goes to the
// session chat engine.
func (s *MessageService) DoMessage(ctx context.Context, sess *session.Session) (Reply, error) {
	content := strings.TrimSpace(sess.CurrentContent())
	if content == "" {
		return Reply{}, domain.ErrEmptyContent
	}

	var answer string
	if IsURL(content) && s.privilege(ctx, sess.UserID()).ReadWebPages {
		answer = s.readPage(ctx, sess.UserID(), content)
	} else {
		out, err := sess.ChatEngine("").Predict(ctx, content)
		if err != nil {
			return Reply{}, fmt.Errorf("do message: %w", err)
		}
		answer = out
	}

	return s.record(ctx, sess, content, answer), nil
}

func (s *MessageService) record(ctx context.Context, sess *session.Session, userMsg, answer string) Reply {
	next, err := s.sessions.SendMessage(ctx, userMsg, answer, sess)
	if err != nil {
		slog.Error("failed to save session", "sid", next.ID(), "error", err)
	}
	return Reply{Info: answer, SID: next.ID()}
}

func (s *MessageService) readPage(ctx context.Context, userID, rawURL string) string {
	lang := i18n.FromContext(ctx)
	failed := i18n.T(lang, "page_failed", "url", rawURL)

	page, err := s.pages.Read(ctx, rawURL)
	if err != nil {
		slog.Warn("read page failed", "url", rawURL, "error", err)
		return failed
	}
	if s.resources != nil {
		if err := s.resources.Record(ctx, userID, domain.UsageWeb, "", llm.Usage{}); err != nil {
			slog.Error("failed to record web usage", "user_id", userID, "error", err)
		}
	}
	if strings.TrimSpace(page.Text) == "" {
		return failed
	}

	summary, err := s.assistant.Summarize(ctx, lang, userID, "web page", page.Title+"\n"+page.Text)
	if err != nil {
		slog.Warn("summarize page failed", "url", rawURL, "error", err)
		return failed
	}
	title := page.Title
	if title == "" {
		title = rawURL
	}
	return i18n.T(lang, "page_summary", "title", title, "summary", summary)
}

// ReceiveFile acknowledges an uploaded file, summarizing text-like files.
// Users not allowed to upload get ErrPermissionDenied.
func (s *MessageService) ReceiveFile(ctx context.Context, sess *session.Session, path, filename string) (Reply, error) {
	if !s.CanUpload(ctx, sess.UserID()) {
		return Reply{}, fmt.Errorf("receive file: %w", domain.ErrPermissionDenied)
	}
	lang := i18n.FromContext(ctx)
	ext := strings.ToLower(filepath.Ext(filename))

	if !textFileTypes[ext] {
		slog.Info("file stored without reading", "sid", sess.ID(), "name", filename)
		return s.record(ctx, sess, filename, i18n.T(lang, "file_unsupported", "name", filename)), nil
	}

	text, err := readText(path, ext)
	if err != nil {
		return Reply{}, fmt.Errorf("receive file: %w", err)
	}

	answer := i18n.T(lang, "file_received", "name", filename)
	if strings.TrimSpace(text) != "" {
		summary, err := s.assistant.Summarize(ctx, lang, sess.UserID(), "file", text)
		if err != nil {
			slog.Warn("summarize file failed", "name", filename, "error", err)
		} else {
			answer = i18n.T(lang, "file_summary", "name", filename, "summary", summary)
		}
	}
	return s.record(ctx, sess, filename, answer), nil
}

// CanUpload reports whether the user may send files.
func (s *MessageService) CanUpload(ctx context.Context, userID string) bool {
	return s.privilege(ctx, userID).UploadFiles
}

func readText(path, ext string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	r := io.LimitReader(f, config.MaxFileTextBytes)
	if ext == ".html" || ext == ".htm" {
		title, text, err := ExtractHTML(r)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(title + "\n" + text), nil
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return string(data), nil
}
