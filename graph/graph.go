package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/bankmesh/agent"
	"github.com/hupe1980/bankmesh/core"
	"github.com/hupe1980/bankmesh/logging"
)

// ErrUnknownNode is returned when a route names a node the graph cannot build.
var ErrUnknownNode = errors.New("graph: unknown node")

// State is shared by the nodes of one run.
type State struct {
	Messages     []core.Message
	CurrentAgent string
	TaskType     string
	UserID       string
	SessionID    string
	FinalResult  string
}

// LastHuman returns the most recent human message.
func (s State) LastHuman() (core.Human, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if h, ok := s.Messages[i].(core.Human); ok {
			return h, true
		}
	}
	return core.Human{}, false
}

// Node is a terminal specialist. *agent.Agent implements it.
type Node interface {
	Name() string
	Invoke(ctx context.Context, history []core.Message, threadKey string) (agent.Result, error)
}

// NodeFunc builds the node for name. Nodes are built per run because their
// tools are bound to the state's user.
type NodeFunc func(name string, state State) (Node, error)

// Static serves prebuilt nodes by name.
func Static(nodes ...Node) NodeFunc {
	byName := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		byName[n.Name()] = n
	}
	return func(name string, _ State) (Node, error) {
		n, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownNode, name)
		}
		return n, nil
	}
}

// Hop is one node visit of a run.
type Hop struct {
	Agent    string
	Duration time.Duration
	// Messages holds what the node contributed: the routed human message for
	// the coordinator, the appended messages for a specialist.
	Messages []core.Message
}

// Execution is the outcome of Run.
type Execution struct {
	State     State
	Hops      []Hop
	Truncated bool
}

// Options configures a Graph.
type Options struct {
	// Classifier replaces the keyword router when set.
	Classifier Classifier
	Logger     logging.Logger
	Tracer     trace.Tracer
}

// Graph dispatches a turn from the coordinator to one specialist.
type Graph struct {
	router     *Router
	classifier Classifier
	nodes      NodeFunc
	logger     logging.Logger
	tracer     trace.Tracer
}

// New creates a Graph routing with router and building nodes with nodes.
func New(router *Router, nodes NodeFunc, optFns ...func(o *Options)) *Graph {
	opts := Options{}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Classifier == nil {
		opts.Classifier = router
	}

	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("github.com/hupe1980/bankmesh/graph")
	}

	return &Graph{
		router:     router,
		classifier: opts.Classifier,
		nodes:      nodes,
		logger:     logging.OrNoOp(opts.Logger),
		tracer:     opts.Tracer,
	}
}

// ThreadKey scopes a specialist's run within a session, e.g. account_s1.
func ThreadKey(node, sessionID string) string {
	return strings.TrimSuffix(node, "_agent") + "_" + sessionID
}

// Run executes the coordinator and then exactly one specialist. On a
// specialist error the returned Execution still holds both hops, the second
// with whatever the specialist appended before failing.
func (g *Graph) Run(ctx context.Context, state State) (Execution, error) {
	ctx, span := g.tracer.Start(ctx, "graph.run", trace.WithAttributes(attribute.String("session.id", state.SessionID)))
	defer span.End()

	exec := Execution{State: state}

	start := time.Now()
	human, _ := state.LastHuman()

	route, err := g.classifier.Classify(ctx, human.Content)
	if err != nil {
		exec.Hops = append(exec.Hops, Hop{Agent: NodeCoordinator, Duration: time.Since(start), Messages: humanOnly(human)})
		span.RecordError(err)
		return exec, err
	}

	exec.State.CurrentAgent = route.Target
	exec.State.TaskType = route.TaskType
	exec.Hops = append(exec.Hops, Hop{Agent: NodeCoordinator, Duration: time.Since(start), Messages: humanOnly(human)})

	g.logger.Info("graph.route", "session_id", state.SessionID, "target", route.Target, "task_type", route.TaskType)
	span.SetAttributes(attribute.String("graph.target", route.Target), attribute.String("graph.task_type", route.TaskType))

	node, err := g.nodes(route.Target, exec.State)
	if err != nil {
		span.RecordError(err)
		return exec, err
	}

	start = time.Now()
	res, err := node.Invoke(ctx, exec.State.Messages, ThreadKey(route.Target, state.SessionID))
	exec.Hops = append(exec.Hops, Hop{Agent: route.Target, Duration: time.Since(start), Messages: res.NewMessages})
	if err != nil {
		span.RecordError(err)
		return exec, err
	}

	exec.State.Messages = res.History
	exec.State.FinalResult = res.FinalText
	exec.Truncated = res.Truncated

	return exec, nil
}

func humanOnly(h core.Human) []core.Message {
	if h.ID == "" && h.Content == "" {
		return nil
	}
	return []core.Message{h}
}

// Router returns the keyword router.
func (g *Graph) Router() *Router { return g.router }
