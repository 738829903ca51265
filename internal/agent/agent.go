// Package agent implements the account and settings assistants that answer
// users who are not logged in, either through slash commands or through model
// tool calls.
package agent

import (
	"context"
	"encoding/json"

	"github.com/set-night/memochat/internal/llm"
	"github.com/set-night/memochat/internal/session"
)

// Request is what a function sees of the message being handled.
type Request struct {
	Session *session.Session
	Lang    string
}

type Param struct {
	Name        string
	Description string
	Optional    bool
}

// Function is an operation an agent exposes as a model tool.
type Function struct {
	Name        string
	TitleKey    string
	Description string
	Params      []Param
	Run         func(ctx context.Context, req Request, args map[string]string) (string, error)
}

// Tool describes the function to the model.
func (f Function) Tool() llm.Tool {
	props := make(map[string]any, len(f.Params))
	required := make([]string, 0, len(f.Params))
	for _, p := range f.Params {
		props[p.Name] = map[string]any{"type": "string", "description": p.Description}
		if !p.Optional {
			required = append(required, p.Name)
		}
	}
	return llm.Tool{
		Type: "function",
		Function: llm.FunctionSpec{
			Name:        f.Name,
			Description: f.Description,
			Parameters: map[string]any{
				"type":       "object",
				"properties": props,
				"required":   required,
			},
		},
	}
}

type Agent struct {
	NameKey   string
	Functions []Function
}

func (a *Agent) Lookup(name string) (Function, bool) {
	for _, f := range a.Functions {
		if f.Name == name {
			return f, true
		}
	}
	return Function{}, false
}

func jsonText(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}
