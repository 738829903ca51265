package llm

import (
	"context"
	"fmt"
	"sync"
)

// DefaultMemory is the number of past messages an Engine replays.
const DefaultMemory = 40

// UsageFunc receives the token usage of every completion an Engine makes.
type UsageFunc func(ctx context.Context, model string, usage Usage)

// Engine is a conversation with memory bound to one model.
type Engine struct {
	completer Completer
	model     string
	system    string
	maxMemory int
	onUsage   UsageFunc

	mu     sync.Mutex
	memory []ChatMessage
}

type EngineOption func(*Engine)

func WithSystemPrompt(prompt string) EngineOption {
	return func(e *Engine) { e.system = prompt }
}

func WithMemory(n int) EngineOption {
	return func(e *Engine) { e.maxMemory = n }
}

func WithUsage(fn UsageFunc) EngineOption {
	return func(e *Engine) { e.onUsage = fn }
}

func NewEngine(c Completer, model string, opts ...EngineOption) *Engine {
	e := &Engine{completer: c, model: model, maxMemory: DefaultMemory}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Model() string {
	return e.model
}

// Predict sends input with the remembered conversation and stores the exchange.
func (e *Engine) Predict(ctx context.Context, input string) (string, error) {
	e.mu.Lock()
	history := make([]ChatMessage, 0, len(e.memory)+2)
	if e.system != "" {
		history = append(history, ChatMessage{Role: "system", Content: e.system})
	}
	history = append(history, e.memory...)
	e.mu.Unlock()

	history = append(history, ChatMessage{Role: "user", Content: input})

	resp, err := e.completer.Chat(ctx, ChatRequest{Model: e.model, Messages: history})
	if err != nil {
		return "", fmt.Errorf("predict: %w", err)
	}
	msg, err := resp.Message()
	if err != nil {
		return "", fmt.Errorf("predict: %w", err)
	}
	if e.onUsage != nil {
		e.onUsage(ctx, e.model, resp.Usage)
	}

	e.mu.Lock()
	e.memory = append(e.memory,
		ChatMessage{Role: "user", Content: input},
		ChatMessage{Role: "assistant", Content: msg.Content},
	)
	if over := len(e.memory) - e.maxMemory; e.maxMemory > 0 && over > 0 {
		e.memory = append([]ChatMessage(nil), e.memory[over:]...)
	}
	e.mu.Unlock()

	return msg.Content, nil
}

func (e *Engine) ClearMemory() {
	e.mu.Lock()
	e.memory = nil
	e.mu.Unlock()
}

// MemoryLen reports how many messages are remembered.
func (e *Engine) MemoryLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.memory)
}

// Query runs a single prompt without memory.
func Query(ctx context.Context, c Completer, model, system, prompt string) (string, Usage, error) {
	msgs := make([]ChatMessage, 0, 2)
	if system != "" {
		msgs = append(msgs, ChatMessage{Role: "system", Content: system})
	}
	msgs = append(msgs, ChatMessage{Role: "user", Content: prompt})

	resp, err := c.Chat(ctx, ChatRequest{Model: model, Messages: msgs})
	if err != nil {
		return "", Usage{}, err
	}
	msg, err := resp.Message()
	if err != nil {
		return "", resp.Usage, err
	}
	return msg.Content, resp.Usage, nil
}
