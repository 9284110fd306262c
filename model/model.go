package model

import (
	"context"
	"errors"

	"github.com/hupe1980/bankmesh/core"
)

// ErrNoResponse is returned by Complete when a model closed its channels
// without emitting a final response.
var ErrNoResponse = errors.New("model: no final response")

// ToolDefinition declaratively exposes a callable function to the model.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes an individual function (tool) exposed to the model.
// Parameters is a JSON Schema object (draft agnostic, minimal subset expected).
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request captures the normalized model input built by the agent runtime.
type Request struct {
	Instructions string           `json:"instructions"` // System directive, rendered by the caller
	Contents     []core.Content   `json:"contents"`
	Tools        []ToolDefinition `json:"tools,omitempty"`
}

// TokenUsage is shared with the message model.
type TokenUsage = core.TokenUsage

// Response is a (partial or final) completion chunk.
type Response struct {
	ID           string       `json:"id"`
	Partial      bool         `json:"partial"`
	Content      core.Content `json:"content"`
	FinishReason string       `json:"finish_reason"` // "stop", "length", "tool_calls", ...
	Usage        *TokenUsage  `json:"usage,omitempty"`
	ModelName    string       `json:"model_name,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "openai", "anthropic", "scripted"
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the minimal interface required by agents and classifiers.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// Complete drains Generate and returns the last non-partial response.
// The first error reported by the model wins.
func Complete(ctx context.Context, m Model, req Request) (Response, error) {
	respCh, errCh := m.Generate(ctx, req)

	var (
		final Response
		got   bool
	)
	for respCh != nil || errCh != nil {
		select {
		case r, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if !r.Partial {
				final = r
				got = true
			}
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return Response{}, err
			}
		case <-ctx.Done():
			return Response{}, ctx.Err()
		}
	}

	if !got {
		return Response{}, ErrNoResponse
	}
	if final.ModelName == "" {
		final.ModelName = m.Info().Name
	}
	return final, nil
}

// Event converts a final response into a core.Event authored by author.
func (r Response) Event(author string) core.Event {
	ev := core.NewEvent(author)
	content := r.Content
	if content.Role == "" {
		content.Role = core.RoleAssistant
	}
	ev.Content = &content
	ev.FinishReason = r.FinishReason
	ev.Usage = r.Usage
	ev.ModelName = r.ModelName
	return ev
}
