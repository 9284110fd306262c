package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/hupe1980/bankmesh/core"
)

const chatColumns = `message_id, session_id, trace_id, user_id, agent_id, agent_name,
message_type, content, model_name, content_filter_results, total_tokens,
completion_tokens, prompt_tokens, tool_id, tool_name, tool_input, tool_output,
tool_call_id, finish_reason, response_time_ms, routing_step, trace_end`

type chatRow struct {
	core.ChatRecord
	TraceEnd int64 `db:"trace_end"`
}

func (r chatRow) record() core.ChatRecord {
	rec := r.ChatRecord
	rec.TraceEnd = fromMillis(r.TraceEnd)
	return rec
}

type agentTraceRow struct {
	ID           string `db:"id"`
	SessionID    string `db:"session_id"`
	TraceID      string `db:"trace_id"`
	StepOrder    int    `db:"step_order"`
	FromAgent    string `db:"from_agent"`
	CurrentAgent string `db:"current_agent"`
	AgentID      string `db:"agent_id"`
	TaskType     string `db:"task_type"`
	DurationMS   int64  `db:"duration_ms"`
	Success      int    `db:"success"`
	ErrorMessage string `db:"error_message"`
	CreatedAt    int64  `db:"created_at"`
}

func (r agentTraceRow) record() core.AgentTraceRecord {
	return core.AgentTraceRecord{
		ID:           r.ID,
		SessionID:    r.SessionID,
		TraceID:      r.TraceID,
		StepOrder:    r.StepOrder,
		FromAgent:    r.FromAgent,
		CurrentAgent: r.CurrentAgent,
		AgentID:      r.AgentID,
		TaskType:     r.TaskType,
		DurationMS:   r.DurationMS,
		Success:      r.Success != 0,
		ErrorMessage: r.ErrorMessage,
		CreatedAt:    fromMillis(r.CreatedAt),
	}
}

type toolUsageRow struct {
	CallID     string `db:"call_id"`
	SessionID  string `db:"session_id"`
	TraceID    string `db:"trace_id"`
	ToolID     string `db:"tool_id"`
	ToolName   string `db:"tool_name"`
	AgentID    string `db:"agent_id"`
	AgentName  string `db:"agent_name"`
	Input      string `db:"input"`
	Output     string `db:"output"`
	Status     string `db:"status"`
	TokensUsed int    `db:"tokens_used"`
	CreatedAt  int64  `db:"created_at"`
}

func (r toolUsageRow) record() *core.ToolUsageRecord {
	return &core.ToolUsageRecord{
		CallID:     r.CallID,
		SessionID:  r.SessionID,
		TraceID:    r.TraceID,
		ToolID:     r.ToolID,
		ToolName:   r.ToolName,
		AgentID:    r.AgentID,
		AgentName:  r.AgentName,
		Input:      r.Input,
		Output:     r.Output,
		Status:     core.ToolHealth(r.Status),
		TokensUsed: r.TokensUsed,
		CreatedAt:  fromMillis(r.CreatedAt),
	}
}

// WithinTx implements core.TraceStore. fn must only use the writer it is
// given; on SQLite the transaction holds the only connection.
func (s *Store) WithinTx(ctx context.Context, fn func(core.TraceWriter) error) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		return fn(&txWriter{tx: tx})
	})
}

// MessageIDs implements core.TraceStore.
func (s *Store) MessageIDs(ctx context.Context, traceID string) ([]string, error) {
	var ids []string
	query := s.db.Rebind(`SELECT message_id FROM chat_history
WHERE trace_id = ? AND message_type IN (?, ?) ORDER BY id`)
	if err := s.db.SelectContext(ctx, &ids, query, traceID, core.KindHuman, core.KindAgentResponse); err != nil {
		return nil, fmt.Errorf("storage: message ids: %w", err)
	}
	return ids, nil
}

// ToolUsage implements core.TraceStore.
func (s *Store) ToolUsage(ctx context.Context, callID string) (*core.ToolUsageRecord, error) {
	var row toolUsageRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT * FROM tool_usage WHERE call_id = ?`), callID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: tool usage: %w", err)
	}
	return row.record(), nil
}

// TraceRecords returns every chat record of a trace in insertion order.
func (s *Store) TraceRecords(ctx context.Context, traceID string) ([]core.ChatRecord, error) {
	var rows []chatRow
	query := s.db.Rebind(`SELECT ` + chatColumns + ` FROM chat_history WHERE trace_id = ? ORDER BY id`)
	if err := s.db.SelectContext(ctx, &rows, query, traceID); err != nil {
		return nil, fmt.Errorf("storage: trace records: %w", err)
	}
	return chatRecords(rows), nil
}

// AgentTraces returns the hops of a trace ordered by step.
func (s *Store) AgentTraces(ctx context.Context, traceID string) ([]core.AgentTraceRecord, error) {
	var rows []agentTraceRow
	query := s.db.Rebind(`SELECT * FROM agent_traces WHERE trace_id = ? ORDER BY step_order, created_at`)
	if err := s.db.SelectContext(ctx, &rows, query, traceID); err != nil {
		return nil, fmt.Errorf("storage: agent traces: %w", err)
	}
	out := make([]core.AgentTraceRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.record())
	}
	return out, nil
}

func chatRecords(rows []chatRow) []core.ChatRecord {
	out := make([]core.ChatRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.record())
	}
	return out
}

type txWriter struct {
	tx *sqlx.Tx
}

func (w *txWriter) InsertChatRecord(ctx context.Context, rec *core.ChatRecord) (bool, error) {
	if rec.MessageID == "" {
		rec.MessageID = uuid.NewString()
	}
	rec.TraceEnd = nowOr(rec.TraceEnd)

	query := w.tx.Rebind(`INSERT INTO chat_history (` + chatColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (trace_id, message_id, message_type) DO NOTHING`)

	res, err := w.tx.ExecContext(ctx, query,
		rec.MessageID, rec.SessionID, rec.TraceID, rec.UserID, rec.AgentID, rec.AgentName,
		string(rec.MessageType), rec.Content, rec.ModelName, rec.ContentFilterResults, rec.TotalTokens,
		rec.CompletionTokens, rec.PromptTokens, rec.ToolID, rec.ToolName, rec.ToolInput, rec.ToolOutput,
		rec.ToolCallID, rec.FinishReason, rec.ResponseTimeMS, rec.RoutingStep, millis(rec.TraceEnd),
	)
	if err != nil {
		return false, fmt.Errorf("storage: insert chat record: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("storage: insert chat record: %w", err)
	}

	return n > 0, nil
}

func (w *txWriter) InsertAgentTrace(ctx context.Context, rec *core.AgentTraceRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.CreatedAt = nowOr(rec.CreatedAt)

	query := w.tx.Rebind(`INSERT INTO agent_traces (id, session_id, trace_id, step_order, from_agent,
current_agent, agent_id, task_type, duration_ms, success, error_message, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO NOTHING`)

	_, err := w.tx.ExecContext(ctx, query,
		rec.ID, rec.SessionID, rec.TraceID, rec.StepOrder, rec.FromAgent,
		rec.CurrentAgent, rec.AgentID, rec.TaskType, rec.DurationMS, boolInt(rec.Success),
		rec.ErrorMessage, millis(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("storage: insert agent trace: %w", err)
	}

	return nil
}

func (w *txWriter) UpsertToolUsage(ctx context.Context, rec *core.ToolUsageRecord) error {
	rec.CreatedAt = nowOr(rec.CreatedAt)

	query := w.tx.Rebind(`INSERT INTO tool_usage (call_id, session_id, trace_id, tool_id, tool_name,
agent_id, agent_name, input, output, status, tokens_used, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (call_id) DO UPDATE SET
tool_id = COALESCE(NULLIF(excluded.tool_id, ''), tool_usage.tool_id),
tool_name = COALESCE(NULLIF(excluded.tool_name, ''), tool_usage.tool_name),
agent_id = COALESCE(NULLIF(excluded.agent_id, ''), tool_usage.agent_id),
agent_name = COALESCE(NULLIF(excluded.agent_name, ''), tool_usage.agent_name),
input = COALESCE(NULLIF(excluded.input, ''), tool_usage.input),
output = COALESCE(NULLIF(excluded.output, ''), tool_usage.output),
status = COALESCE(NULLIF(excluded.status, ''), tool_usage.status),
tokens_used = CASE WHEN excluded.tokens_used > 0 THEN excluded.tokens_used ELSE tool_usage.tokens_used END`)

	_, err := w.tx.ExecContext(ctx, query,
		rec.CallID, rec.SessionID, rec.TraceID, rec.ToolID, rec.ToolName,
		rec.AgentID, rec.AgentName, rec.Input, rec.Output, string(rec.Status), rec.TokensUsed,
		millis(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("storage: upsert tool usage: %w", err)
	}

	return nil
}
