package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/set-night/memochat/internal/i18n"
	"github.com/set-night/memochat/internal/llm"
	"github.com/set-night/memochat/internal/session"
)

// Completer runs a chat request on behalf of a user.
type Completer interface {
	Complete(ctx context.Context, userID string, req llm.ChatRequest) (*llm.ChatResponse, error)
}

type command struct {
	function string
	params   []string
}

// The last parameter of a command takes the rest of the line.
var commands = map[string]command{
	"/register":  {function: "register", params: []string{"user_id", "password"}},
	"/login":     {function: "login", params: []string{"user_id", "password"}},
	"/passwd":    {function: "change_password", params: []string{"user_id", "password_old", "password_new"}},
	"/logout":    {function: "logout"},
	"/privilege": {function: "query_user_privileges"},
	"/usage":     {function: "query_resource_usage"},
	"/tts":       {function: "set_text_to_speech", params: []string{"content"}},
}

// Manager routes messages of users without a token to agent functions.
type Manager struct {
	agents    []*Agent
	completer Completer
}

func NewManager(c Completer, agents ...*Agent) *Manager {
	return &Manager{agents: agents, completer: c}
}

func (m *Manager) lookup(name string) (Function, bool) {
	for _, a := range m.agents {
		if f, ok := a.Lookup(name); ok {
			return f, true
		}
	}
	return Function{}, false
}

func (m *Manager) tools() []llm.Tool {
	var out []llm.Tool
	for _, a := range m.agents {
		for _, f := range a.Functions {
			out = append(out, f.Tool())
		}
	}
	return out
}

// DoCommand answers the session's current content. Slash commands run
// directly; other text lets the model pick a function.
func (m *Manager) DoCommand(ctx context.Context, sess *session.Session) (string, error) {
	req := Request{Session: sess, Lang: i18n.FromContext(ctx)}
	content := strings.TrimSpace(sess.CurrentContent())

	if strings.HasPrefix(content, "/") {
		return m.runCommand(ctx, req, content)
	}
	if m.completer == nil || content == "" {
		return i18n.T(req.Lang, "unknown_command"), nil
	}
	return m.runModel(ctx, req, content)
}

func (m *Manager) runCommand(ctx context.Context, req Request, line string) (string, error) {
	fields := strings.Fields(line)
	cmd, ok := commands[strings.ToLower(fields[0])]
	if !ok {
		return i18n.T(req.Lang, "unknown_command"), nil
	}
	f, ok := m.lookup(cmd.function)
	if !ok {
		return i18n.T(req.Lang, "unknown_command"), nil
	}

	rest := fields[1:]
	args := make(map[string]string, len(cmd.params))
	for i, p := range cmd.params {
		switch {
		case i >= len(rest):
			args[p] = ""
		case i == len(cmd.params)-1:
			args[p] = strings.Join(rest[i:], " ")
		default:
			args[p] = rest[i]
		}
	}
	slog.Info("agent command", "sid", req.Session.ID(), "function", f.Name)
	return f.Run(ctx, req, args)
}

func (m *Manager) runModel(ctx context.Context, req Request, content string) (string, error) {
	resp, err := m.completer.Complete(ctx, req.Session.UserID(), llm.ChatRequest{
		Messages: []llm.ChatMessage{
			{Role: "system", Content: i18n.T(req.Lang, "prompt_agent", "language", i18n.T(req.Lang, "language_name"))},
			{Role: "user", Content: content},
		},
		Tools: m.tools(),
	})
	if err != nil {
		return "", fmt.Errorf("agent: %w", err)
	}
	msg, err := resp.Message()
	if err != nil {
		return "", fmt.Errorf("agent: %w", err)
	}
	if len(msg.ToolCalls) == 0 {
		return msg.Content, nil
	}

	call := msg.ToolCalls[0]
	f, ok := m.lookup(call.Function.Name)
	if !ok {
		slog.Warn("model chose unknown tool", "tool", call.Function.Name)
		if msg.Content != "" {
			return msg.Content, nil
		}
		return i18n.T(req.Lang, "unknown_command"), nil
	}
	args, err := parseArguments(call.Function.Arguments)
	if err != nil {
		return "", fmt.Errorf("agent %s: %w", f.Name, err)
	}
	slog.Info("agent tool call", "sid", req.Session.ID(), "function", f.Name)
	return f.Run(ctx, req, args)
}

func parseArguments(raw string) (map[string]string, error) {
	out := map[string]string{}
	if strings.TrimSpace(raw) == "" {
		return out, nil
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, fmt.Errorf("parse tool arguments: %w", err)
	}
	for k, v := range decoded {
		switch v := v.(type) {
		case nil:
			out[k] = ""
		case string:
			out[k] = v
		default:
			out[k] = fmt.Sprint(v)
		}
	}
	return out, nil
}
