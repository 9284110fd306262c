package core

import (
	"time"

	"github.com/google/uuid"
)

// TokenUsage captures token usage statistics for one model completion.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Event is the raw unit produced while an agent runs: a user turn, a model
// completion or a tool response. Events are the input of Serialize, which
// turns them into Messages. After emission an Event should be treated as
// immutable.
type Event struct {
	ID           string      `json:"id"`
	Author       string      `json:"author"`
	Timestamp    time.Time   `json:"timestamp"`
	Content      *Content    `json:"content,omitempty"`
	FinishReason string      `json:"finish_reason,omitempty"` // "stop", "length", "tool_calls", ...
	Usage        *TokenUsage `json:"usage,omitempty"`
	ModelName    string      `json:"model_name,omitempty"`
}

// NewEvent creates a bare event authored by 'author'.
func NewEvent(author string) Event {
	return Event{
		ID:        NewID(),
		Author:    author,
		Timestamp: time.Now().UTC(),
	}
}

// NewUserMessageEvent creates a user-authored text message event.
func NewUserMessageEvent(message string) Event {
	e := NewEvent(RoleUser)
	e.Content = &Content{Role: RoleUser, Parts: []Part{TextPart{Text: message}}}
	return e
}

// NewMessageEvent creates a final assistant message event with a single text part.
func NewMessageEvent(author, message string) Event {
	e := NewEvent(author)
	e.Content = &Content{Role: RoleAssistant, Parts: []Part{TextPart{Text: message}}}
	e.FinishReason = FinishReasonStop
	return e
}

// NewFunctionCallEvent represents an agent requesting execution of a named tool.
func NewFunctionCallEvent(author, callID, functionName, args string) Event {
	e := NewEvent(author)
	e.Content = &Content{
		Role: RoleAssistant,
		Parts: []Part{
			FunctionCallPart{FunctionCall: FunctionCall{ID: callID, Name: functionName, Arguments: args}},
		},
	}
	e.FinishReason = FinishReasonToolCalls
	return e
}

// NewFunctionResponseEvent records the result (or error) of a tool invocation.
// If err is non-nil its message is copied into the response Error field.
func NewFunctionResponseEvent(author, callID, functionName string, result any, err error) Event {
	e := NewEvent(author)
	fr := FunctionResponse{ID: callID, Name: functionName, Response: result}
	if err != nil {
		fr.Error = err.Error()
	}
	e.Content = &Content{Role: RoleTool, Parts: []Part{FunctionResponsePart{FunctionResponse: fr}}}
	return e
}

// NewID generates a new unique identifier for events, messages and traces.
func NewID() string { return uuid.NewString() }

// Role returns the content role or an empty string for content-less events.
func (e Event) Role() string {
	if e.Content == nil {
		return ""
	}
	return e.Content.Role
}

// GetFunctionCalls returns any FunctionCall parts contained within the event
// content preserving their original order.
func (e Event) GetFunctionCalls() []FunctionCall {
	if e.Content == nil {
		return nil
	}
	var calls []FunctionCall
	for _, p := range e.Content.Parts {
		if fc, ok := p.(FunctionCallPart); ok {
			calls = append(calls, fc.FunctionCall)
		}
	}
	return calls
}

// GetFunctionResponses returns any FunctionResponse parts contained within the
// event content preserving their original order.
func (e Event) GetFunctionResponses() []FunctionResponse {
	if e.Content == nil {
		return nil
	}
	var responses []FunctionResponse
	for _, p := range e.Content.Parts {
		if fr, ok := p.(FunctionResponsePart); ok {
			responses = append(responses, fr.FunctionResponse)
		}
	}
	return responses
}

// IsFinalResponse reports whether the event is an assistant completion with
// no pending tool calls.
func (e Event) IsFinalResponse() bool {
	return e.Role() == RoleAssistant && ClassifyFinish(e) == FinishFinal
}
