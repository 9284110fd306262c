package trace

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/bankmesh/core"
	"github.com/hupe1980/bankmesh/logging"
	"github.com/hupe1980/bankmesh/registry"
)

// SystemAgent is the from_agent of the first hop of every trace.
const SystemAgent = "system"

// ErrInvalidInput is returned for an Input without trace or session id.
var ErrInvalidInput = errors.New("trace: trace id and session id are required")

// Hop is the batch of messages one agent produced, in append order.
type Hop struct {
	Agent    string         `json:"agent"`
	Duration time.Duration  `json:"duration"`
	Messages []core.Message `json:"messages"`
	// Error is set when the hop failed; the hop is then recorded as
	// unsuccessful.
	Error string `json:"error,omitempty"`
}

// Input describes one completed or failed turn.
type Input struct {
	TraceID   string `json:"trace_id"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	TaskType  string `json:"task_type,omitempty"`
	Hops      []Hop  `json:"hops"`
}

// UserMessage returns the content of the first human message of the turn.
func (in Input) UserMessage() string {
	for _, h := range in.Hops {
		for _, m := range h.Messages {
			if hm, ok := m.(core.Human); ok {
				return hm.Content
			}
		}
	}
	return ""
}

// Registry resolves agent and tool names to definition ids.
// *registry.Registry implements it.
type Registry interface {
	GetOrCreateAgent(ctx context.Context, name string, opts ...registry.Option) (string, error)
	GetOrCreateTool(ctx context.Context, name string, opts ...registry.Option) (string, error)
	CanonicalToolName(name string) string
}

// Status derives the health of a tool call from its output. Any mention of
// "error", in any case, marks the call as errored.
func Status(output string) core.ToolHealth {
	if strings.Contains(strings.ToLower(output), "error") {
		return core.ToolErrored
	}
	return core.ToolHealthy
}

// Options configures a Reconciler.
type Options struct {
	Publisher Publisher
	Logger    logging.Logger
	Tracer    oteltrace.Tracer
	// Now stamps trace_end and the session duration. Defaults to time.Now.
	Now func() time.Time
}

// Reconciler persists traces.
type Reconciler struct {
	store     core.TraceStore
	registry  Registry
	publisher Publisher
	logger    logging.Logger
	tracer    oteltrace.Tracer
	now       func() time.Time
}

// NewReconciler creates a Reconciler writing to store.
func NewReconciler(store core.TraceStore, reg Registry, optFns ...func(o *Options)) *Reconciler {
	opts := Options{
		Now: time.Now,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("github.com/hupe1980/bankmesh/trace")
	}

	return &Reconciler{
		store:     store,
		registry:  reg,
		publisher: opts.Publisher,
		logger:    logging.OrNoOp(opts.Logger),
		tracer:    opts.Tracer,
		now:       opts.Now,
	}
}

// callContext is what a tool result inherits from its tool call.
type callContext struct {
	toolID    string
	toolName  string
	input     string
	tokens    int
	agentID   string
	agentName string
}

// ids holds the registry ids resolved for one input.
type ids struct {
	agents map[string]string
	tools  map[string]string
}

// Reconcile persists in. Each hop commits in its own transaction; a failing
// hop aborts the reconcile and leaves earlier hops committed. Reconciling
// the same input again writes no new chat records.
func (r *Reconciler) Reconcile(ctx context.Context, in Input) error {
	if in.TraceID == "" || in.SessionID == "" {
		return ErrInvalidInput
	}

	ctx, span := r.tracer.Start(ctx, "trace.reconcile", oteltrace.WithAttributes(
		attribute.String("trace.id", in.TraceID),
		attribute.String("session.id", in.SessionID),
		attribute.Int("trace.hops", len(in.Hops)),
	))
	defer span.End()

	err := r.reconcile(ctx, in)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reconcile")
		r.logger.Error("trace.reconcile.failed", "trace_id", in.TraceID, "session_id", in.SessionID, "error", err)
	}

	return err
}

func (r *Reconciler) reconcile(ctx context.Context, in Input) error {
	if _, err := r.store.EnsureSession(ctx, in.SessionID, in.UserID); err != nil {
		return fmt.Errorf("trace: ensure session: %w", err)
	}

	// Registry lookups and reads run before any transaction is opened: on
	// SQLite the transaction owns the only connection.
	resolved, err := r.resolveIDs(ctx, in)
	if err != nil {
		return err
	}

	known, err := r.store.MessageIDs(ctx, in.TraceID)
	if err != nil {
		return fmt.Errorf("trace: load message ids: %w", err)
	}

	seen := make(map[string]bool, len(known))
	for _, id := range known {
		seen[id] = true
	}

	pending, err := r.storedCalls(ctx, in)
	if err != nil {
		return err
	}

	end := r.now().UTC()
	from := SystemAgent

	var events []Event

	for i, hop := range in.Hops {
		step := i + 1

		// The transaction may be retried, so per-hop state is only merged
		// into seen and pending once it committed.
		var (
			hopSeen    map[string]bool
			hopPending map[string]callContext
			written    []core.Message
		)

		err := r.store.WithinTx(ctx, func(w core.TraceWriter) error {
			hopSeen = map[string]bool{}
			hopPending = map[string]callContext{}
			written = written[:0]

			if err := w.InsertAgentTrace(ctx, &core.AgentTraceRecord{
				ID:           HopID(in.TraceID, step),
				SessionID:    in.SessionID,
				TraceID:      in.TraceID,
				StepOrder:    step,
				FromAgent:    from,
				CurrentAgent: hop.Agent,
				AgentID:      resolved.agents[hop.Agent],
				TaskType:     in.TaskType,
				DurationMS:   hop.Duration.Milliseconds(),
				Success:      hop.Error == "",
				ErrorMessage: hop.Error,
				CreatedAt:    end,
			}); err != nil {
				return err
			}

			for _, m := range hop.Messages {
				base := core.ChatRecord{
					MessageID:   m.MessageID(),
					SessionID:   in.SessionID,
					TraceID:     in.TraceID,
					UserID:      in.UserID,
					MessageType: m.Kind(),
					RoutingStep: step,
					TraceEnd:    end,
				}

				switch msg := m.(type) {
				case core.Human:
					if seen[msg.ID] || hopSeen[msg.ID] {
						continue
					}
					rec := base
					rec.Content = msg.Content
					ok, err := w.InsertChatRecord(ctx, &rec)
					if err != nil {
						return err
					}
					hopSeen[msg.ID] = true
					if ok {
						written = append(written, m)
					}

				case core.AgentResponse:
					if seen[msg.ID] || hopSeen[msg.ID] {
						continue
					}
					agentName := orDefault(msg.AgentName, hop.Agent)
					rec := base
					rec.Content = msg.Content
					rec.AgentName = agentName
					rec.AgentID = resolved.agents[agentName]
					rec.ModelName = msg.ModelName
					rec.FinishReason = msg.FinishReason
					rec.PromptTokens = msg.Usage.PromptTokens
					rec.CompletionTokens = msg.Usage.CompletionTokens
					rec.TotalTokens = msg.Usage.TotalTokens
					rec.ResponseTimeMS = hop.Duration.Milliseconds()
					ok, err := w.InsertChatRecord(ctx, &rec)
					if err != nil {
						return err
					}
					hopSeen[msg.ID] = true
					if ok {
						written = append(written, m)
					}

				case core.ToolCall:
					agentName := orDefault(msg.AgentName, hop.Agent)
					toolName := r.registry.CanonicalToolName(msg.ToolName)
					call := callContext{
						toolID:    resolved.tools[toolName],
						toolName:  toolName,
						input:     msg.Arguments,
						tokens:    msg.Usage.TotalTokens,
						agentID:   resolved.agents[agentName],
						agentName: agentName,
					}

					rec := base
					rec.Content = msg.Content
					rec.AgentName = agentName
					rec.AgentID = call.agentID
					rec.ModelName = msg.ModelName
					rec.FinishReason = core.FinishReasonToolCalls
					rec.PromptTokens = msg.Usage.PromptTokens
					rec.CompletionTokens = msg.Usage.CompletionTokens
					rec.TotalTokens = msg.Usage.TotalTokens
					rec.ToolID = call.toolID
					rec.ToolName = toolName
					rec.ToolInput = msg.Arguments
					rec.ToolCallID = msg.CallID
					ok, err := w.InsertChatRecord(ctx, &rec)
					if err != nil {
						return err
					}
					if ok {
						written = append(written, m)
					}

					if msg.CallID == "" {
						r.logger.Warn("trace.tool_call.no_call_id", "trace_id", in.TraceID, "tool", toolName)
						continue
					}
					hopPending[msg.CallID] = call

					if err := w.UpsertToolUsage(ctx, &core.ToolUsageRecord{
						CallID:     msg.CallID,
						SessionID:  in.SessionID,
						TraceID:    in.TraceID,
						ToolID:     call.toolID,
						ToolName:   call.toolName,
						AgentID:    call.agentID,
						AgentName:  call.agentName,
						Input:      call.input,
						TokensUsed: call.tokens,
						CreatedAt:  end,
					}); err != nil {
						return err
					}

				case core.ToolResult:
					call, ok := hopPending[msg.CallID]
					if !ok {
						call, ok = pending[msg.CallID]
					}
					if !ok {
						r.logger.Warn("trace.tool_result.unpaired", "trace_id", in.TraceID, "call_id", msg.CallID)
						name := r.registry.CanonicalToolName(msg.ToolName)
						call = callContext{toolName: name, toolID: resolved.tools[name]}
					}

					rec := base
					rec.AgentName = call.agentName
					rec.AgentID = call.agentID
					rec.ToolID = call.toolID
					rec.ToolName = call.toolName
					rec.ToolOutput = msg.Output
					rec.ToolCallID = msg.CallID
					inserted, err := w.InsertChatRecord(ctx, &rec)
					if err != nil {
						return err
					}
					if inserted {
						written = append(written, m)
					}

					if msg.CallID == "" {
						continue
					}

					if err := w.UpsertToolUsage(ctx, &core.ToolUsageRecord{
						CallID:     msg.CallID,
						SessionID:  in.SessionID,
						TraceID:    in.TraceID,
						ToolID:     call.toolID,
						ToolName:   call.toolName,
						AgentID:    call.agentID,
						AgentName:  call.agentName,
						Input:      call.input,
						Output:     msg.Output,
						Status:     Status(msg.Output),
						TokensUsed: call.tokens,
						CreatedAt:  end,
					}); err != nil {
						return err
					}
				}
			}

			return nil
		})
		if err != nil {
			return fmt.Errorf("trace: hop %d (%s): %w", step, hop.Agent, err)
		}

		for id := range hopSeen {
			seen[id] = true
		}
		for id, call := range hopPending {
			pending[id] = call
		}

		r.logger.Debug("trace.hop.committed", "trace_id", in.TraceID, "step", step, "agent", hop.Agent, "written", len(written))

		for _, m := range written {
			events = append(events, newEvent(in, hop.Agent, m, end))
		}

		from = hop.Agent
	}

	agents := make([]string, 0, len(in.Hops))
	for _, h := range in.Hops {
		agents = append(agents, h.Agent)
	}
	_, added, err := r.store.RecordSessionActivity(ctx, in.SessionID, agents, end)
	if err != nil {
		return fmt.Errorf("trace: update session: %w", err)
	}

	r.logger.Info("trace.reconciled", "trace_id", in.TraceID, "session_id", in.SessionID,
		"hops", len(in.Hops), "written", len(events), "new_agents", added)

	r.publish(ctx, events)

	return nil
}

func (r *Reconciler) publish(ctx context.Context, events []Event) {
	if r.publisher == nil || len(events) == 0 {
		return
	}
	if err := r.publisher.Publish(ctx, events...); err != nil {
		r.logger.Warn("trace.publish.error", "trace_id", events[0].TraceID, "error", err)
	}
}

func (r *Reconciler) resolveIDs(ctx context.Context, in Input) (ids, error) {
	out := ids{agents: map[string]string{}, tools: map[string]string{}}

	agent := func(name string) error {
		if name == "" {
			return nil
		}
		if _, ok := out.agents[name]; ok {
			return nil
		}
		id, err := r.registry.GetOrCreateAgent(ctx, name)
		if err != nil {
			return fmt.Errorf("trace: resolve agent %q: %w", name, err)
		}
		out.agents[name] = id
		return nil
	}

	tool := func(raw string) error {
		name := r.registry.CanonicalToolName(raw)
		if _, ok := out.tools[name]; ok {
			return nil
		}
		id, err := r.registry.GetOrCreateTool(ctx, name)
		if err != nil {
			return fmt.Errorf("trace: resolve tool %q: %w", name, err)
		}
		out.tools[name] = id
		return nil
	}

	for _, h := range in.Hops {
		if err := agent(h.Agent); err != nil {
			return out, err
		}
		for _, m := range h.Messages {
			var err error
			switch msg := m.(type) {
			case core.AgentResponse:
				err = agent(msg.AgentName)
			case core.ToolCall:
				if err = agent(msg.AgentName); err == nil {
					err = tool(msg.ToolName)
				}
			case core.ToolResult:
				err = tool(msg.ToolName)
			}
			if err != nil {
				return out, err
			}
		}
	}

	return out, nil
}

// storedCalls loads the call context of results whose tool call is not part
// of in, i.e. was reconciled by an earlier call.
func (r *Reconciler) storedCalls(ctx context.Context, in Input) (map[string]callContext, error) {
	out := map[string]callContext{}
	calls := map[string]bool{}

	for _, h := range in.Hops {
		for _, m := range h.Messages {
			switch msg := m.(type) {
			case core.ToolCall:
				calls[msg.CallID] = true
			case core.ToolResult:
				if msg.CallID == "" || calls[msg.CallID] {
					continue
				}
				if _, ok := out[msg.CallID]; ok {
					continue
				}
				usage, err := r.store.ToolUsage(ctx, msg.CallID)
				if errors.Is(err, core.ErrNotFound) {
					continue
				}
				if err != nil {
					return nil, fmt.Errorf("trace: load tool usage %s: %w", msg.CallID, err)
				}
				out[msg.CallID] = callContext{
					toolID:    usage.ToolID,
					toolName:  usage.ToolName,
					input:     usage.Input,
					tokens:    usage.TokensUsed,
					agentID:   usage.AgentID,
					agentName: usage.AgentName,
				}
			}
		}
	}

	return out, nil
}

// HopID is the stable id of hop step of a trace, so replays of a trace
// never duplicate its hops.
func HopID(traceID string, step int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(traceID+"#"+strconv.Itoa(step))).String()
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
