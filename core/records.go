package core

import "time"

// ToolHealth is the derived status of a ToolUsage row.
type ToolHealth string

const (
	ToolHealthy ToolHealth = "Healthy"
	ToolErrored ToolHealth = "Errored"
)

// ChatRecord is one persisted chat history row. Human and AI messages,
// tool calls and tool results share the table; unused columns stay empty.
type ChatRecord struct {
	MessageID            string      `db:"message_id" json:"message_id"`
	SessionID            string      `db:"session_id" json:"session_id"`
	TraceID              string      `db:"trace_id" json:"trace_id"`
	UserID               string      `db:"user_id" json:"user_id"`
	AgentID              string      `db:"agent_id" json:"agent_id,omitempty"`
	AgentName            string      `db:"agent_name" json:"agent_name,omitempty"`
	MessageType          MessageKind `db:"message_type" json:"message_type"`
	Content              string      `db:"content" json:"content"`
	ModelName            string      `db:"model_name" json:"model_name,omitempty"`
	ContentFilterResults string      `db:"content_filter_results" json:"content_filter_results,omitempty"`
	TotalTokens          int         `db:"total_tokens" json:"total_tokens"`
	CompletionTokens     int         `db:"completion_tokens" json:"completion_tokens"`
	PromptTokens         int         `db:"prompt_tokens" json:"prompt_tokens"`
	ToolID               string      `db:"tool_id" json:"tool_id,omitempty"`
	ToolName             string      `db:"tool_name" json:"tool_name,omitempty"`
	ToolInput            string      `db:"tool_input" json:"tool_input,omitempty"`
	ToolOutput           string      `db:"tool_output" json:"tool_output,omitempty"`
	ToolCallID           string      `db:"tool_call_id" json:"tool_call_id,omitempty"`
	FinishReason         string      `db:"finish_reason" json:"finish_reason,omitempty"`
	ResponseTimeMS       int64       `db:"response_time_ms" json:"response_time_ms"`
	RoutingStep          int         `db:"routing_step" json:"routing_step"`
	TraceEnd             time.Time   `db:"-" json:"trace_end"`
}

// AgentTraceRecord is one hop of a trace: which agent ran, who handed over
// to it and how long it took.
type AgentTraceRecord struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id"`
	TraceID      string    `json:"trace_id"`
	StepOrder    int       `json:"step_order"`
	FromAgent    string    `json:"from_agent"`
	CurrentAgent string    `json:"current_agent"`
	AgentID      string    `json:"agent_id"`
	TaskType     string    `json:"task_type,omitempty"`
	DurationMS   int64     `json:"duration_ms"`
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// ToolUsageRecord holds per-call tool metrics keyed by CallID.
type ToolUsageRecord struct {
	CallID     string     `json:"call_id"`
	SessionID  string     `json:"session_id"`
	TraceID    string     `json:"trace_id"`
	ToolID     string     `json:"tool_id"`
	ToolName   string     `json:"tool_name"`
	AgentID    string     `json:"agent_id"`
	AgentName  string     `json:"agent_name"`
	Input      string     `json:"input"`
	Output     string     `json:"output"`
	Status     ToolHealth `json:"status"`
	TokensUsed int        `json:"tokens_used"`
	CreatedAt  time.Time  `json:"created_at"`
}

// AgentDefinition is a registry record describing an agent.
type AgentDefinition struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Description    string         `json:"description"`
	AgentType      string         `json:"agent_type"`
	PromptTemplate string         `json:"prompt_template,omitempty"`
	LLMConfig      map[string]any `json:"llm_config,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// ToolDefinition is a registry record describing a tool.
type ToolDefinition struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	Description      string         `json:"description"`
	InputSchema      map[string]any `json:"input_schema,omitempty"`
	CostPerCallCents int            `json:"cost_per_call_cents"`
	Version          string         `json:"version"`
	Active           bool           `json:"active"`
	CreatedAt        time.Time      `json:"created_at"`
}
