package core

import "context"

// TraceWriter appends trace records inside one transaction.
type TraceWriter interface {
	// InsertChatRecord stores rec unless a record with the same trace,
	// message id and type exists. It reports whether a row was written.
	InsertChatRecord(ctx context.Context, rec *ChatRecord) (bool, error)
	// InsertAgentTrace stores rec; a record with the same ID is kept as is.
	InsertAgentTrace(ctx context.Context, rec *AgentTraceRecord) error
	// UpsertToolUsage inserts rec or merges its non-empty fields into the
	// existing row with the same CallID.
	UpsertToolUsage(ctx context.Context, rec *ToolUsageRecord) error
}

// TraceStore persists reconciled traces.
type TraceStore interface {
	SessionStore
	// WithinTx runs fn in a transaction committed only if fn returns nil.
	WithinTx(ctx context.Context, fn func(TraceWriter) error) error
	// MessageIDs returns the ids of human and ai records already stored
	// for the trace.
	MessageIDs(ctx context.Context, traceID string) ([]string, error)
	// ToolUsage returns ErrNotFound when no row exists for callID.
	ToolUsage(ctx context.Context, callID string) (*ToolUsageRecord, error)
}

// RegistryStore persists agent and tool definitions. Insert methods return
// ErrConflict when the name already exists.
type RegistryStore interface {
	FindAgentByName(ctx context.Context, name string) (*AgentDefinition, error)
	InsertAgent(ctx context.Context, def *AgentDefinition) error
	FindToolByName(ctx context.Context, name string) (*ToolDefinition, error)
	InsertTool(ctx context.Context, def *ToolDefinition) error
}
