package core

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Finish reasons with meaning to the runtime. Providers may report others
// ("length", "content_filter", ...); every value except FinishReasonToolCalls
// classifies as a final answer.
const (
	FinishReasonStop      = "stop"
	FinishReasonToolCalls = "tool_calls"
)

// FinishClass is the outcome of ClassifyFinish.
type FinishClass string

const (
	// FinishToolCall marks a completion that requests a tool invocation.
	FinishToolCall FinishClass = "tool_call"
	// FinishFinal marks a completed answer.
	FinishFinal FinishClass = "final"
)

// ClassifyFinish decides whether an assistant event is a pending tool
// invocation or a final answer by inspecting its finish reason only.
func ClassifyFinish(ev Event) FinishClass {
	if ev.FinishReason == FinishReasonToolCalls {
		return FinishToolCall
	}
	return FinishFinal
}

// MessageKind discriminates the Message variants. The values double as the
// message_type column of persisted chat records.
type MessageKind string

const (
	KindHuman         MessageKind = "human"
	KindAgentResponse MessageKind = "ai"
	KindSystem        MessageKind = "system"
	KindToolCall      MessageKind = "tool_call"
	KindToolResult    MessageKind = "tool_result"
)

// Message is one immutable entry of a conversation. The set of variants is
// closed: Human, AgentResponse, ToolCall and ToolResult.
type Message interface {
	MessageID() string
	Kind() MessageKind
	isMessage()
}

// Human is a user turn.
type Human struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// AgentResponse is a final assistant completion.
type AgentResponse struct {
	ID           string     `json:"id"`
	Content      string     `json:"content"`
	AgentName    string     `json:"agent_name"`
	Usage        TokenUsage `json:"token_usage"`
	FinishReason string     `json:"finish_reason"`
	ModelName    string     `json:"model_name,omitempty"`
}

// ToolCall is an assistant completion that requested a tool. Only the first
// requested call of a completion is represented; Skipped counts the others.
type ToolCall struct {
	ID        string     `json:"id"`
	CallID    string     `json:"call_id"`
	ToolName  string     `json:"tool_name"`
	Arguments string     `json:"arguments"`
	AgentName string     `json:"agent_name"`
	Content   string     `json:"content,omitempty"`
	Usage     TokenUsage `json:"token_usage"`
	ModelName string     `json:"model_name,omitempty"`
	Skipped   int        `json:"skipped,omitempty"`
}

// ToolResultStatus is the outcome reported by the tool executor.
type ToolResultStatus string

const (
	ToolResultSuccess ToolResultStatus = "success"
	ToolResultError   ToolResultStatus = "error"
)

// ToolResult carries the serialized output of a tool invocation.
type ToolResult struct {
	ID       string           `json:"id"`
	CallID   string           `json:"call_id"`
	ToolName string           `json:"tool_name"`
	Output   string           `json:"output"`
	Status   ToolResultStatus `json:"status"`
}

func (m Human) MessageID() string         { return m.ID }
func (m AgentResponse) MessageID() string { return m.ID }
func (m ToolCall) MessageID() string      { return m.ID }
func (m ToolResult) MessageID() string    { return m.ID }

func (Human) Kind() MessageKind         { return KindHuman }
func (AgentResponse) Kind() MessageKind { return KindAgentResponse }
func (ToolCall) Kind() MessageKind      { return KindToolCall }
func (ToolResult) Kind() MessageKind    { return KindToolResult }

func (Human) isMessage()         {}
func (AgentResponse) isMessage() {}
func (ToolCall) isMessage()      {}
func (ToolResult) isMessage()    {}

// ErrUnknownEvent is returned by Serialize for events it cannot classify.
var ErrUnknownEvent = errors.New("core: unknown event")

// Serialize converts a runtime event into one of the Message variants using
// the content role as discriminant. Assistant events are further split by
// ClassifyFinish; a tool-call completion keeps only its first call.
func Serialize(ev Event) (Message, error) {
	if ev.Content == nil {
		return nil, fmt.Errorf("%w: event %s has no content", ErrUnknownEvent, ev.ID)
	}

	switch ev.Content.Role {
	case RoleUser:
		return Human{ID: ev.ID, Content: ev.Content.Text()}, nil
	case RoleAssistant:
		var usage TokenUsage
		if ev.Usage != nil {
			usage = *ev.Usage
		}

		if ClassifyFinish(ev) == FinishToolCall {
			tc := ToolCall{
				ID:        ev.ID,
				AgentName: ev.Author,
				Content:   ev.Content.Text(),
				Usage:     usage,
				ModelName: ev.ModelName,
			}
			// A missing call still classifies; the registry resolves the
			// empty name to a placeholder.
			if calls := ev.GetFunctionCalls(); len(calls) > 0 {
				tc.CallID = calls[0].ID
				tc.ToolName = calls[0].Name
				tc.Arguments = calls[0].Arguments
				tc.Skipped = len(calls) - 1
			}
			if tc.CallID == "" {
				tc.CallID = ev.ID
			}
			return tc, nil
		}

		return AgentResponse{
			ID:           ev.ID,
			Content:      ev.Content.Text(),
			AgentName:    ev.Author,
			Usage:        usage,
			FinishReason: ev.FinishReason,
			ModelName:    ev.ModelName,
		}, nil
	case RoleTool:
		responses := ev.GetFunctionResponses()
		if len(responses) == 0 {
			return nil, fmt.Errorf("%w: tool event %s has no response", ErrUnknownEvent, ev.ID)
		}
		fr := responses[0]
		tr := ToolResult{
			ID:       ev.ID,
			CallID:   fr.ID,
			ToolName: fr.Name,
			Status:   ToolResultSuccess,
		}
		if fr.Error != "" {
			tr.Status = ToolResultError
			tr.Output = ErrorPayload(fr.Error)
		} else {
			tr.Output = Stringify(fr.Response)
		}
		return tr, nil
	default:
		return nil, fmt.Errorf("%w: role %q", ErrUnknownEvent, ev.Content.Role)
	}
}

// ToContent renders a message as model input content.
func ToContent(m Message) Content {
	switch v := m.(type) {
	case Human:
		return Content{Role: RoleUser, Parts: []Part{TextPart{Text: v.Content}}}
	case AgentResponse:
		return Content{Role: RoleAssistant, Parts: []Part{TextPart{Text: v.Content}}}
	case ToolCall:
		parts := make([]Part, 0, 2)
		if v.Content != "" {
			parts = append(parts, TextPart{Text: v.Content})
		}
		parts = append(parts, FunctionCallPart{FunctionCall: FunctionCall{
			ID:        v.CallID,
			Name:      v.ToolName,
			Arguments: v.Arguments,
		}})
		return Content{Role: RoleAssistant, Parts: parts}
	case ToolResult:
		return Content{Role: RoleTool, Parts: []Part{FunctionResponsePart{FunctionResponse: FunctionResponse{
			ID:       v.CallID,
			Name:     v.ToolName,
			Response: v.Output,
		}}}}
	default:
		return Content{}
	}
}

// Stringify renders a tool result as text: strings pass through, everything
// else is JSON encoded.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// ErrorPayload renders msg as the JSON error object tools report.
func ErrorPayload(msg string) string {
	b, _ := json.Marshal(map[string]string{"status": "error", "message": msg})
	return string(b)
}
