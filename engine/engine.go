package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/hupe1980/bankmesh/agent"
	"github.com/hupe1980/bankmesh/core"
	"github.com/hupe1980/bankmesh/graph"
	"github.com/hupe1980/bankmesh/logging"
	"github.com/hupe1980/bankmesh/model"
	"github.com/hupe1980/bankmesh/safety"
	"github.com/hupe1980/bankmesh/search"
	"github.com/hupe1980/bankmesh/tool"
	"github.com/hupe1980/bankmesh/tool/banking"
	"github.com/hupe1980/bankmesh/tool/dbquery"
	"github.com/hupe1980/bankmesh/tool/supportdocs"
	"github.com/hupe1980/bankmesh/trace"
)

var (
	// ErrNoSession is returned for an empty session id.
	ErrNoSession = errors.New("engine: session id is required")
	// ErrNoMessage is returned when the history does not end with a human
	// message.
	ErrNoMessage = errors.New("engine: history must end with a human message")
)

// DefaultHistoryLimit bounds the records loaded to rebuild a conversation.
const DefaultHistoryLimit = 50

// Store is everything the engine persists to or reads from.
// *storage.Store implements it.
type Store interface {
	core.TraceStore
	core.HistoryStore
	banking.Ledger
	dbquery.Querier
}

// Options configures an Engine.
type Options struct {
	// Rules default to the two-way preset.
	Rules    []graph.Rule
	Fallback graph.Route
	// Classifier replaces keyword routing, e.g. a *graph.ModelClassifier.
	Classifier  graph.Classifier
	Prompts     Prompts
	RefusalText string

	MaxIterations int
	HistoryLimit  int
	// MaxConcurrentTurns bounds the turns in flight; zero means unbounded.
	MaxConcurrentTurns int

	// Searcher backs search_support_documents. Without it the support
	// agent answers from its directive alone.
	Searcher          search.Searcher
	SearchK           int
	SearchMaxDistance float32

	Publisher trace.Publisher
	Metrics   *Metrics
	Logger    logging.Logger
	Tracer    oteltrace.Tracer
	Now       func() time.Time
}

// Response is the outcome of a turn.
type Response struct {
	Text      string
	TraceID   string
	Agent     string
	TaskType  string
	Truncated bool
	// Refused is set when the model rejected the turn on content policy
	// grounds; Text is then the refusal.
	Refused bool
	// Trace is what was handed to the reconciler.
	Trace trace.Input
}

// Engine runs turns.
type Engine struct {
	store      Store
	registry   trace.Registry
	llm        model.Model
	graph      *graph.Graph
	reconciler *trace.Reconciler
	safety     *safety.Handler

	prompts       Prompts
	maxIterations int
	historyLimit  int
	sem           *semaphore.Weighted

	searcher          search.Searcher
	searchK           int
	searchMaxDistance float32

	metrics *Metrics
	logger  logging.Logger
	tracer  oteltrace.Tracer
	now     func() time.Time
}

// New creates an Engine answering with llm.
func New(store Store, reg trace.Registry, llm model.Model, optFns ...func(o *Options)) (*Engine, error) {
	opts := Options{
		MaxIterations: agent.DefaultMaxIterations,
		HistoryLimit:  DefaultHistoryLimit,
		Now:           time.Now,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if len(opts.Rules) == 0 {
		rules, err := graph.Preset(graph.VariantTwoWay)
		if err != nil {
			return nil, err
		}
		opts.Rules = rules
	}

	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}

	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("github.com/hupe1980/bankmesh/engine")
	}

	logger := logging.OrNoOp(opts.Logger)

	e := &Engine{
		store:             store,
		registry:          reg,
		llm:               llm,
		prompts:           opts.Prompts.withDefaults(),
		maxIterations:     opts.MaxIterations,
		historyLimit:      opts.HistoryLimit,
		searcher:          opts.Searcher,
		searchK:           opts.SearchK,
		searchMaxDistance: opts.SearchMaxDistance,
		metrics:           opts.Metrics,
		logger:            logger,
		tracer:            opts.Tracer,
		now:               opts.Now,
	}

	if opts.MaxConcurrentTurns > 0 {
		e.sem = semaphore.NewWeighted(int64(opts.MaxConcurrentTurns))
	}

	e.graph = graph.New(graph.NewRouter(opts.Rules, opts.Fallback), e.node, func(o *graph.Options) {
		o.Classifier = opts.Classifier
		o.Logger = logger
	})

	e.reconciler = trace.NewReconciler(store, reg, func(o *trace.Options) {
		o.Publisher = opts.Publisher
		o.Logger = logger
		o.Now = opts.Now
	})

	e.safety = safety.NewHandler(store, reg, func(o *safety.Options) {
		o.RefusalText = opts.RefusalText
		o.Publisher = opts.Publisher
		o.Logger = logger
		o.Now = opts.Now
	})

	return e, nil
}

// Chat answers text as a new turn of the session. Prior turns are loaded
// from the store.
func (e *Engine) Chat(ctx context.Context, userID, sessionID, text string) (Response, error) {
	return e.RouteAndRespond(ctx, userID, sessionID, []core.Message{core.Human{ID: core.NewID(), Content: text}})
}

// RouteAndRespond runs one turn. history ends with the new human message;
// when it holds nothing else the prior conversation is rebuilt from the
// store.
//
// A content-policy rejection is not an error: the refusal is recorded and
// returned with Refused set. When the answer was computed but its trace
// could not be persisted, the Response is returned together with the error.
func (e *Engine) RouteAndRespond(ctx context.Context, userID, sessionID string, history []core.Message) (Response, error) {
	if sessionID == "" {
		return Response{}, ErrNoSession
	}

	history, err := e.prepare(ctx, sessionID, history)
	if err != nil {
		return Response{}, err
	}

	if e.sem != nil {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			return Response{}, fmt.Errorf("engine: wait for turn slot: %w", err)
		}
		defer e.sem.Release(1)
	}

	traceID := core.NewID()

	ctx, span := e.tracer.Start(ctx, "engine.turn", oteltrace.WithAttributes(
		attribute.String("session.id", sessionID),
		attribute.String("trace.id", traceID),
	))
	defer span.End()

	start := e.now()
	log := logging.ForTurn(e.logger, sessionID, traceID)
	e.metrics.turnStarted()

	exec, runErr := e.graph.Run(ctx, graph.State{
		Messages:  history,
		UserID:    userID,
		SessionID: sessionID,
	})

	resp := Response{
		TraceID:   traceID,
		Agent:     exec.State.CurrentAgent,
		TaskType:  exec.State.TaskType,
		Truncated: exec.Truncated,
		Trace:     e.traceInput(traceID, userID, sessionID, exec, runErr),
	}
	e.countTools(resp.Trace)

	span.SetAttributes(attribute.String("engine.agent", resp.Agent))

	if runErr != nil {
		if _, ok := model.AsPolicyError(runErr); ok {
			return e.refuse(ctx, span, log, resp, history, runErr, start)
		}

		span.RecordError(runErr)
		span.SetStatus(codes.Error, "run")
		log.Error("engine.turn.failed", "agent", resp.Agent, "error", runErr)

		if len(resp.Trace.Hops) > 0 {
			if err := e.reconciler.Reconcile(ctx, resp.Trace); err != nil {
				e.metrics.reconcileFailed()
			}
		}

		e.metrics.turnDone(resp.Agent, OutcomeFailed, e.now().Sub(start))
		return resp, fmt.Errorf("engine: run turn: %w", runErr)
	}

	resp.Text = exec.State.FinalResult

	if err := e.reconciler.Reconcile(ctx, resp.Trace); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reconcile")
		e.metrics.reconcileFailed()
		e.metrics.turnDone(resp.Agent, OutcomeAnswered, e.now().Sub(start))
		return resp, fmt.Errorf("engine: persist trace: %w", err)
	}

	e.metrics.turnDone(resp.Agent, OutcomeAnswered, e.now().Sub(start))
	log.Info("engine.turn.done", "agent", resp.Agent, "task_type", resp.TaskType, "truncated", resp.Truncated)

	return resp, nil
}

func (e *Engine) refuse(ctx context.Context, span oteltrace.Span, log logging.Logger, resp Response, history []core.Message, cause error, start time.Time) (Response, error) {
	agentName := resp.Agent
	if n := len(resp.Trace.Hops); n > 0 {
		agentName = resp.Trace.Hops[n-1].Agent
	}

	var userMessage, messageID string
	if h, ok := (graph.State{Messages: history}).LastHuman(); ok {
		userMessage, messageID = h.Content, h.ID
	}

	out, err := e.safety.HandlePolicyRejection(ctx, safety.Rejection{
		SessionID:   resp.Trace.SessionID,
		UserID:      resp.Trace.UserID,
		TraceID:     resp.TraceID,
		Err:         cause,
		UserMessage: userMessage,
		MessageID:   messageID,
		AgentName:   agentName,
	})

	resp.Text = out.Text
	resp.Agent = out.Agent
	resp.Refused = true

	span.SetAttributes(attribute.Bool("engine.refused", true))
	e.metrics.turnDone(resp.Agent, OutcomeRefused, e.now().Sub(start))

	if err != nil {
		span.RecordError(err)
		e.metrics.reconcileFailed()
		log.Error("engine.rejection.failed", "agent", resp.Agent, "error", err)
		return resp, fmt.Errorf("engine: record rejection: %w", err)
	}

	log.Warn("engine.turn.refused", "agent", resp.Agent, "categories", out.Categories)

	return resp, nil
}

// prepare validates history, fills missing message ids and prepends the
// stored conversation when history only holds the new message.
func (e *Engine) prepare(ctx context.Context, sessionID string, history []core.Message) ([]core.Message, error) {
	if len(history) == 0 {
		return nil, ErrNoMessage
	}
	if _, ok := history[len(history)-1].(core.Human); !ok {
		return nil, ErrNoMessage
	}

	out := make([]core.Message, 0, len(history))
	for _, m := range history {
		switch v := m.(type) {
		case core.Human:
			if v.ID == "" {
				v.ID = core.NewID()
			}
			m = v
		case core.AgentResponse:
			if v.ID == "" {
				v.ID = core.NewID()
			}
			m = v
		}
		out = append(out, m)
	}

	if len(out) > 1 {
		return out, nil
	}

	prior, err := e.History(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	return append(prior, out...), nil
}

func (e *Engine) traceInput(traceID, userID, sessionID string, exec graph.Execution, runErr error) trace.Input {
	in := trace.Input{
		TraceID:   traceID,
		SessionID: sessionID,
		UserID:    userID,
		TaskType:  exec.State.TaskType,
		Hops:      make([]trace.Hop, 0, len(exec.Hops)),
	}

	for _, h := range exec.Hops {
		in.Hops = append(in.Hops, trace.Hop{
			Agent:    h.Agent,
			Duration: h.Duration,
			Messages: h.Messages,
		})
	}

	if runErr != nil && len(in.Hops) > 0 {
		in.Hops[len(in.Hops)-1].Error = safety.Summary(runErr)
	}

	return in
}

func (e *Engine) countTools(in trace.Input) {
	for _, h := range in.Hops {
		for _, m := range h.Messages {
			if r, ok := m.(core.ToolResult); ok {
				e.metrics.toolCall(e.registry.CanonicalToolName(r.ToolName), string(trace.Status(r.Output)))
			}
		}
	}
}

// node builds the specialist for name with tools bound to the state's user.
func (e *Engine) node(name string, state graph.State) (graph.Node, error) {
	var tools []tool.Tool

	switch name {
	case graph.NodeAccount, graph.NodeTransaction:
		tools = e.bankingTools(state.UserID)
	case graph.NodeSupport:
		tools = e.supportTools()
	case graph.NodeCoordinator, "":
		return nil, fmt.Errorf("%w: %q", graph.ErrUnknownNode, name)
	default:
		tools = append(e.bankingTools(state.UserID), e.supportTools()...)
	}

	return agent.New(name, e.llm, func(o *agent.Options) {
		o.Instruction = agent.NewInstructionFromText(e.prompts.directive(name))
		o.Tools = tools
		o.MaxIterations = e.maxIterations
		o.UserID = state.UserID
		o.Logger = e.logger
	}), nil
}

func (e *Engine) bankingTools(userID string) []tool.Tool {
	tools := banking.NewTools(e.store, userID, func(o *banking.Options) {
		o.Now = func() time.Time { return e.now().UTC() }
	})
	return append(tools, dbquery.New(e.store))
}

func (e *Engine) supportTools() []tool.Tool {
	if e.searcher == nil {
		return nil
	}
	return []tool.Tool{supportdocs.New(e.searcher, func(o *supportdocs.Options) {
		if e.searchK > 0 {
			o.K = e.searchK
		}
		if e.searchMaxDistance > 0 {
			o.MaxDistance = e.searchMaxDistance
		}
	})}
}

// ConversationHistory returns up to limit human and ai records of the
// session, oldest first. A non-positive limit uses the configured one.
func (e *Engine) ConversationHistory(ctx context.Context, sessionID string, limit int) ([]core.ChatRecord, error) {
	if limit <= 0 {
		limit = e.historyLimit
	}
	recs, err := e.store.ChatHistory(ctx, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("engine: load history: %w", err)
	}
	return recs, nil
}

// History rebuilds the stored conversation as messages. Records are grouped
// by trace in the order the traces were written; within a trace the human
// message comes first.
func (e *Engine) History(ctx context.Context, sessionID string) ([]core.Message, error) {
	recs, err := e.ConversationHistory(ctx, sessionID, 0)
	if err != nil {
		return nil, err
	}
	return Rebuild(recs), nil
}

// Rebuild converts human and ai records into messages, see History.
func Rebuild(recs []core.ChatRecord) []core.Message {
	var order []string
	byTrace := map[string][]core.ChatRecord{}
	for _, r := range recs {
		if r.TraceID == "" {
			continue
		}
		if _, ok := byTrace[r.TraceID]; !ok {
			order = append(order, r.TraceID)
		}
		byTrace[r.TraceID] = append(byTrace[r.TraceID], r)
	}

	priority := func(k core.MessageKind) int {
		switch k {
		case core.KindHuman:
			return 1
		case core.KindAgentResponse:
			return 2
		default:
			return 5
		}
	}

	out := make([]core.Message, 0, len(recs))
	for _, id := range order {
		group := byTrace[id]
		slices.SortStableFunc(group, func(a, b core.ChatRecord) int {
			if d := priority(a.MessageType) - priority(b.MessageType); d != 0 {
				return d
			}
			return a.TraceEnd.Compare(b.TraceEnd)
		})

		for _, r := range group {
			switch r.MessageType {
			case core.KindHuman:
				out = append(out, core.Human{ID: r.MessageID, Content: r.Content})
			case core.KindAgentResponse:
				out = append(out, core.AgentResponse{ID: r.MessageID, Content: r.Content, AgentName: r.AgentName})
			}
		}
	}

	return out
}

// ClearChatHistory deletes the chat records, hops and tool usage of a
// session. The session itself is kept.
func (e *Engine) ClearChatHistory(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrNoSession
	}
	if err := e.store.ClearChatHistory(ctx, sessionID); err != nil {
		return fmt.Errorf("engine: clear history: %w", err)
	}
	e.logger.Info("engine.history.cleared", "session_id", sessionID)
	return nil
}

// PurgeSession deletes the session and everything recorded for it.
func (e *Engine) PurgeSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrNoSession
	}
	if err := e.store.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("engine: purge session: %w", err)
	}
	e.logger.Info("engine.session.purged", "session_id", sessionID)
	return nil
}
