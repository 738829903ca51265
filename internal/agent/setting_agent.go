package agent

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/set-night/memochat/internal/domain"
	"github.com/set-night/memochat/internal/i18n"
)

type Usage interface {
	Summary(ctx context.Context, lang, userID string) (string, error)
}

type TTS interface {
	Menu(ctx context.Context, lang, username string) (string, error)
	Apply(ctx context.Context, lang, username, option string) (string, error)
}

// SettingAgent reports privileges and usage and changes text-to-speech.
type SettingAgent struct {
	users Users
	usage Usage
	tts   TTS
}

func NewSettingAgent(users Users, usage Usage, tts TTS) *SettingAgent {
	return &SettingAgent{users: users, usage: usage, tts: tts}
}

func yesNo(lang string, v bool) string {
	if v {
		return i18n.T(lang, "yes")
	}
	return i18n.T(lang, "no")
}

// DescribePrivileges renders the user's level and what it allows.
func DescribePrivileges(lang string, u *domain.User) string {
	p := u.Privilege()
	lines := []string{
		i18n.T(lang, "user_level", "level", i18n.T(lang, u.LevelKey())),
		i18n.T(lang, "privilege_chat_history", "count", strconv.Itoa(p.ChatHistory)),
		i18n.T(lang, "privilege_upload_files", "value", yesNo(lang, p.UploadFiles)),
		i18n.T(lang, "privilege_read_web", "value", yesNo(lang, p.ReadWebPages)),
		i18n.T(lang, "privilege_tts", "value", yesNo(lang, p.TextToSpeech)),
	}
	return strings.Join(lines, "\n")
}

func (a *SettingAgent) Agent() *Agent {
	return &Agent{
		NameKey: "system_settings",
		Functions: []Function{
			{
				Name:        "query_user_privileges",
				TitleKey:    "query_user_privileges",
				Description: "Query user privileges",
				Run:         a.runPrivileges,
			},
			{
				Name:        "query_resource_usage",
				TitleKey:    "query_resource_usage",
				Description: "Query resource usage",
				Run:         a.runUsage,
			},
			{
				Name:        "set_text_to_speech",
				TitleKey:    "set_text_to_speech",
				Description: "Set text-to-speech. content is the engine or engine:voice to use; leave it empty to list the options.",
				Params: []Param{
					{Name: "content", Description: "engine or engine:voice", Optional: true},
				},
				Run: a.runTTS,
			},
		},
	}
}

func (a *SettingAgent) runPrivileges(ctx context.Context, req Request, _ map[string]string) (string, error) {
	u, err := a.users.GetUser(ctx, req.Session.UserID())
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return i18n.T(req.Lang, "user_does_not_exist"), nil
		}
		return "", err
	}
	return DescribePrivileges(req.Lang, u), nil
}

func (a *SettingAgent) runUsage(ctx context.Context, req Request, _ map[string]string) (string, error) {
	summary, err := a.usage.Summary(ctx, req.Lang, req.Session.UserID())
	if err != nil {
		return "", err
	}
	return "\n" + summary, nil
}

func (a *SettingAgent) runTTS(ctx context.Context, req Request, args map[string]string) (string, error) {
	content, ok := args["content"]
	if !ok {
		content = req.Session.CurrentContent()
	}
	content = strings.TrimSpace(content)

	out, err := a.ttsReply(ctx, req, content)
	if errors.Is(err, domain.ErrUserNotFound) {
		return i18n.T(req.Lang, "user_does_not_exist"), nil
	}
	return out, err
}

func (a *SettingAgent) ttsReply(ctx context.Context, req Request, content string) (string, error) {
	if content == "" {
		return a.tts.Menu(ctx, req.Lang, req.Session.UserID())
	}
	return a.tts.Apply(ctx, req.Lang, req.Session.UserID(), content)
}
