package testutil

import (
	"strings"

	"github.com/hupe1980/bankmesh/core"
)

// MessageBuilder constructs the message batch of one hop.
// Example:
//
//	msgs := NewMessageBuilder("account_agent").
//		ToolCall("abc", "get_user_accounts_tool", `{}`).
//		ToolResult("abc", "get_user_accounts_tool", `{"status":"success"}`).
//		AI("Your balance is 1200.50.").
//		Build()
//
// Message ids are random unless set with ID before the next message.
type MessageBuilder struct {
	agent    string
	nextID   string
	usage    core.TokenUsage
	model    string
	messages []core.Message
}

// NewMessageBuilder creates a builder attributing assistant messages to agent.
func NewMessageBuilder(agent string) *MessageBuilder {
	return &MessageBuilder{agent: agent}
}

// ID fixes the id of the next message (chainable).
func (b *MessageBuilder) ID(id string) *MessageBuilder { b.nextID = id; return b }

// Usage sets the token usage of subsequent assistant messages (chainable).
func (b *MessageBuilder) Usage(prompt, completion int) *MessageBuilder {
	b.usage = core.TokenUsage{PromptTokens: prompt, CompletionTokens: completion, TotalTokens: prompt + completion}
	return b
}

// Model sets the model name of subsequent assistant messages (chainable).
func (b *MessageBuilder) Model(name string) *MessageBuilder { b.model = name; return b }

// Human appends a user message (chainable).
func (b *MessageBuilder) Human(text string) *MessageBuilder {
	b.messages = append(b.messages, core.Human{ID: b.id(), Content: text})
	return b
}

// AI appends a final assistant answer (chainable).
func (b *MessageBuilder) AI(text string) *MessageBuilder {
	b.messages = append(b.messages, core.AgentResponse{
		ID:           b.id(),
		Content:      text,
		AgentName:    b.agent,
		Usage:        b.usage,
		FinishReason: core.FinishReasonStop,
		ModelName:    b.model,
	})
	return b
}

// ToolCall appends a tool request (chainable).
func (b *MessageBuilder) ToolCall(callID, tool, args string) *MessageBuilder {
	b.messages = append(b.messages, core.ToolCall{
		ID:        b.id(),
		CallID:    callID,
		ToolName:  tool,
		Arguments: args,
		AgentName: b.agent,
		Usage:     b.usage,
		ModelName: b.model,
	})
	return b
}

// ToolResult appends the output of the call callID (chainable). The status
// is error when output is a JSON error payload.
func (b *MessageBuilder) ToolResult(callID, tool, output string) *MessageBuilder {
	status := core.ToolResultSuccess
	if strings.Contains(output, `"status":"error"`) {
		status = core.ToolResultError
	}
	b.messages = append(b.messages, core.ToolResult{
		ID:       b.id(),
		CallID:   callID,
		ToolName: tool,
		Output:   output,
		Status:   status,
	})
	return b
}

// Build returns the batch.
func (b *MessageBuilder) Build() []core.Message {
	out := make([]core.Message, len(b.messages))
	copy(out, b.messages)
	return out
}

func (b *MessageBuilder) id() string {
	if b.nextID != "" {
		id := b.nextID
		b.nextID = ""
		return id
	}
	return core.NewID()
}
