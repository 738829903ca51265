package service

import (
	"context"
	"fmt"

	"github.com/set-night/memochat/internal/i18n"
	"github.com/set-night/memochat/internal/llm"
	"github.com/set-night/memochat/internal/session"
)

// Assistant wraps the chat model for titles, summaries and conversations,
// recording the usage of every call.
type Assistant struct {
	completer llm.Completer
	model     string
	lang      string
	resources *ResourceService
}

func NewAssistant(c llm.Completer, model, lang string, resources *ResourceService) *Assistant {
	return &Assistant{completer: c, model: model, lang: lang, resources: resources}
}

func (a *Assistant) Model() string {
	return a.model
}

func (a *Assistant) record(ctx context.Context, userID, model string, usage llm.Usage) {
	if a.resources != nil {
		a.resources.RecordLLM(ctx, userID, model, usage)
	}
}

func (a *Assistant) query(ctx context.Context, userID, prompt string) (string, error) {
	out, usage, err := llm.Query(ctx, a.completer, a.model, "", prompt)
	a.record(ctx, userID, a.model, usage)
	if err != nil {
		return "", err
	}
	return out, nil
}

// Title names a conversation in the configured language.
func (a *Assistant) Title(ctx context.Context, userID, excerpt string) (string, error) {
	prompt := i18n.T(a.lang, "prompt_title",
		"language", i18n.T(a.lang, "language_name"),
		"content", excerpt,
	)
	title, err := a.query(ctx, userID, prompt)
	if err != nil {
		return "", fmt.Errorf("title: %w", err)
	}
	return title, nil
}

// Summarize condenses content, described by kind ("web page", "file"), in lang.
func (a *Assistant) Summarize(ctx context.Context, lang, userID, kind, content string) (string, error) {
	prompt := i18n.T(lang, "prompt_summary",
		"kind", kind,
		"language", i18n.T(lang, "language_name"),
		"content", content,
	)
	out, err := a.query(ctx, userID, prompt)
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	return out, nil
}

// NewEngine builds a conversation engine whose usage is charged to userID.
func (a *Assistant) NewEngine(userID, model string) session.Engine {
	if model == "" {
		model = a.model
	}
	return llm.NewEngine(a.completer, model, llm.WithUsage(func(ctx context.Context, model string, usage llm.Usage) {
		a.record(ctx, userID, model, usage)
	}))
}

// Complete runs a raw chat request with the default model when none is set.
func (a *Assistant) Complete(ctx context.Context, userID string, req llm.ChatRequest) (*llm.ChatResponse, error) {
	if req.Model == "" {
		req.Model = a.model
	}
	resp, err := a.completer.Chat(ctx, req)
	if err != nil {
		return nil, err
	}
	a.record(ctx, userID, req.Model, resp.Usage)
	return resp, nil
}
