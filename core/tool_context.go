package core

import (
	"context"

	"github.com/hupe1980/bankmesh/logging"
)

// ToolContext is handed to every tool invocation. It carries the request
// context, the call identity and the conversation the call belongs to.
type ToolContext struct {
	ctx            context.Context
	functionCallID string
	agentName      string
	userID         string
	sessionID      string
	logger         logging.Logger
}

// ToolContextOptions configures NewToolContext.
type ToolContextOptions struct {
	AgentName string
	UserID    string
	SessionID string
	Logger    logging.Logger
}

// NewToolContext constructs a tool context for one function call.
func NewToolContext(ctx context.Context, functionCallID string, optFns ...func(o *ToolContextOptions)) *ToolContext {
	opts := ToolContextOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	return &ToolContext{
		ctx:            ctx,
		functionCallID: functionCallID,
		agentName:      opts.AgentName,
		userID:         opts.UserID,
		sessionID:      opts.SessionID,
		logger:         opts.Logger,
	}
}

// Context returns the context associated with the tool invocation.
func (tc *ToolContext) Context() context.Context { return tc.ctx }

// FunctionCallID returns the provider call id of the invocation.
func (tc *ToolContext) FunctionCallID() string { return tc.functionCallID }

// AgentName returns the agent executing the tool.
func (tc *ToolContext) AgentName() string { return tc.agentName }

// UserID returns the user the conversation belongs to.
func (tc *ToolContext) UserID() string { return tc.userID }

// SessionID returns the conversation session.
func (tc *ToolContext) SessionID() string { return tc.sessionID }

// Logger returns the logger associated with the tool invocation.
func (tc *ToolContext) Logger() logging.Logger { return tc.logger }
