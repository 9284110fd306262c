package agent

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/bankmesh/core"
	"github.com/hupe1980/bankmesh/logging"
	"github.com/hupe1980/bankmesh/model"
	"github.com/hupe1980/bankmesh/tool"
)

// DefaultMaxIterations bounds the model calls of one Invoke.
const DefaultMaxIterations = 10

// FinishReasonIterationLimit marks the synthesized answer of a truncated run.
const FinishReasonIterationLimit = "iteration_limit"

// TruncatedNotice is the answer of a truncated run that produced no text.
const TruncatedNotice = "I'm sorry, I couldn't complete your request. Please try again or rephrase your question."

// Options configures an Agent.
type Options struct {
	Instruction   Instruction
	Tools         []tool.Tool
	MaxIterations int
	// UserID is exposed to tools and to the directive template.
	UserID string
	Logger logging.Logger
	Tracer trace.Tracer
}

// Agent is one conversational role: a model, a directive and the tools
// bound for the current user.
type Agent struct {
	name          string
	llm           model.Model
	instruction   Instruction
	tools         tool.Set
	maxIterations int
	userID        string
	logger        logging.Logger
	tracer        trace.Tracer
}

// New creates an agent named name that completes with llm.
func New(name string, llm model.Model, optFns ...func(o *Options)) *Agent {
	opts := Options{
		Instruction:   NewInstructionFromText(fmt.Sprintf("You are %s, a helpful banking assistant.", name)),
		MaxIterations: DefaultMaxIterations,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}

	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("github.com/hupe1980/bankmesh/agent")
	}

	return &Agent{
		name:          name,
		llm:           llm,
		instruction:   opts.Instruction,
		tools:         tool.NewSet(opts.Tools...),
		maxIterations: opts.MaxIterations,
		userID:        opts.UserID,
		logger:        logging.OrNoOp(opts.Logger),
		tracer:        opts.Tracer,
	}
}

// Name returns the role name.
func (a *Agent) Name() string { return a.name }

// Tools returns the bound tool set.
func (a *Agent) Tools() tool.Set { return a.tools }

// Result is the outcome of Invoke.
type Result struct {
	// History is the input history followed by NewMessages.
	History []core.Message
	// NewMessages holds what this invocation appended, in order.
	NewMessages []core.Message
	FinalText   string
	// Truncated is set when the iteration budget ran out before the model
	// produced a final answer.
	Truncated  bool
	Iterations int
}

// Invoke runs the call-and-splice loop over history. threadKey scopes the
// run (it is the session id for tools and logs). Model errors, including
// *model.PolicyError, are returned with the messages appended so far.
// Tool failures never abort the loop; they become the ToolResult output.
func (a *Agent) Invoke(ctx context.Context, history []core.Message, threadKey string) (Result, error) {
	ctx, span := a.tracer.Start(ctx, "agent.invoke", trace.WithAttributes(
		attribute.String("agent.name", a.name),
		attribute.String("session.id", threadKey),
	))
	defer span.End()

	res := Result{History: slices.Clone(history)}

	scope := Scope{AgentName: a.name, UserID: a.userID, SessionID: threadKey, ThreadKey: threadKey}
	directive, err := a.instruction.Resolve(ctx, scope)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "directive")
		return res, fmt.Errorf("agent %s: resolve directive: %w", a.name, err)
	}

	a.logger.Debug("agent.invoke.start", "agent", a.name, "session_id", threadKey, "history", len(history))

	budget := core.NewIterationBudget(a.maxIterations)
	lastText := ""

	for {
		if !budget.Spend() {
			a.logger.Warn("agent.invoke.truncated", "agent", a.name, "session_id", threadKey, "iterations", res.Iterations)
			res.Truncated = true
			res.FinalText = lastText
			if res.FinalText == "" {
				res.FinalText = TruncatedNotice
			}
			a.append(&res, core.AgentResponse{
				ID:           core.NewID(),
				Content:      res.FinalText,
				AgentName:    a.name,
				FinishReason: FinishReasonIterationLimit,
			})
			span.SetAttributes(attribute.Bool("agent.truncated", true), attribute.Int("agent.iterations", res.Iterations))
			return res, nil
		}

		start := time.Now()
		resp, err := model.Complete(ctx, a.llm, model.Request{
			Instructions: directive,
			Contents:     contents(res.History),
			Tools:        a.tools.Definitions(),
		})
		res.Iterations++
		if err != nil {
			a.logger.Error("agent.model.error", "agent", a.name, "session_id", threadKey, "error", err, "duration", time.Since(start))
			span.RecordError(err)
			span.SetStatus(codes.Error, "model")
			return res, err
		}

		msg, err := core.Serialize(resp.Event(a.name))
		if err != nil {
			span.RecordError(err)
			return res, fmt.Errorf("agent %s: %w", a.name, err)
		}
		a.append(&res, msg)

		switch m := msg.(type) {
		case core.AgentResponse:
			res.FinalText = m.Content
			a.logger.Debug("agent.invoke.done", "agent", a.name, "session_id", threadKey, "iterations", res.Iterations)
			span.SetAttributes(attribute.Int("agent.iterations", res.Iterations))
			return res, nil
		case core.ToolCall:
			if m.Content != "" {
				lastText = m.Content
			}
			if m.Skipped > 0 {
				a.logger.Warn("agent.tool_calls.dropped", "agent", a.name, "tool", m.ToolName, "dropped", m.Skipped)
			}
			a.append(&res, a.runTool(ctx, m, threadKey))
		}
	}
}

func (a *Agent) runTool(ctx context.Context, call core.ToolCall, threadKey string) core.Message {
	ctx, span := a.tracer.Start(ctx, "agent.tool", trace.WithAttributes(
		attribute.String("tool.name", call.ToolName),
		attribute.String("tool.call_id", call.CallID),
	))
	defer span.End()

	toolCtx := core.NewToolContext(ctx, call.CallID, func(o *core.ToolContextOptions) {
		o.AgentName = a.name
		o.UserID = a.userID
		o.SessionID = threadKey
		o.Logger = a.logger
	})

	start := time.Now()
	out, err := tool.Execute(toolCtx, a.tools, core.FunctionCall{
		ID:        call.CallID,
		Name:      call.ToolName,
		Arguments: call.Arguments,
	})
	if err != nil {
		a.logger.Warn("tool.call.error", "agent", a.name, "tool", call.ToolName, "call_id", call.CallID, "error", err)
		span.RecordError(err)
	} else {
		a.logger.Debug("tool.call.done", "agent", a.name, "tool", call.ToolName, "call_id", call.CallID, "duration", time.Since(start))
	}

	msg, serr := core.Serialize(core.NewFunctionResponseEvent(a.name, call.CallID, call.ToolName, out, err))
	if serr != nil {
		return core.ToolResult{ID: core.NewID(), CallID: call.CallID, ToolName: call.ToolName, Output: core.ErrorPayload(serr.Error()), Status: core.ToolResultError}
	}
	return msg
}

func (a *Agent) append(res *Result, m core.Message) {
	res.History = append(res.History, m)
	res.NewMessages = append(res.NewMessages, m)
}

func contents(history []core.Message) []core.Content {
	out := make([]core.Content, 0, len(history))
	for _, m := range history {
		out = append(out, core.ToContent(m))
	}
	return out
}
