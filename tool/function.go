package tool

import (
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/bankmesh/core"
	"github.com/hupe1980/bankmesh/internal/util"
)

// FunctionTool exposes a plain Go function as a Tool. Arguments are
// validated against the declared schema before fn runs; failures come back
// as *ToolError (VALIDATION_ERROR, EXECUTION_ERROR, or the code of a
// *ToolError returned by fn). A FunctionTool holds no mutable state and is
// safe for concurrent use.
type FunctionTool struct {
	name        string
	description string
	parameters  map[string]any
	fn          func(toolCtx *core.ToolContext, args map[string]any) (any, error)
}

// NewFunctionTool constructs a FunctionTool from explicit schema and function.
//
// Example:
//
//	balance := NewFunctionTool(
//	  "get_balance",
//	  "Return the balance of one account",
//	  map[string]any{
//	    "type": "object",
//	    "properties": map[string]any{
//	      "account_name": map[string]any{"type": "string"},
//	    },
//	    "required": []string{"account_name"},
//	  },
//	  func(tc *core.ToolContext, args map[string]any) (any, error) {
//	    return lookup(tc.Context(), tc.UserID(), args["account_name"].(string))
//	  },
//	)
func NewFunctionTool(
	name, description string,
	parameters map[string]any,
	fn func(toolCtx *core.ToolContext, args map[string]any) (any, error),
) *FunctionTool {
	return &FunctionTool{
		name:        name,
		description: description,
		parameters:  parameters,
		fn:          fn,
	}
}

// Name returns the tool name.
func (t *FunctionTool) Name() string { return t.name }

// Description returns the description exposed to models.
func (t *FunctionTool) Description() string { return t.description }

// Parameters returns the JSON schema of the arguments.
func (t *FunctionTool) Parameters() map[string]any { return t.parameters }

// Call validates args then invokes the wrapped function.
func (t *FunctionTool) Call(toolCtx *core.ToolContext, args map[string]any) (any, error) {
	logger := toolCtx.Logger()
	start := time.Now()
	fields := []any{"tool", t.name, "agent", toolCtx.AgentName(), "fc_id", toolCtx.FunctionCallID()}

	logger.Debug("tool.call.start", fields...)

	if err := util.ValidateParameters(args, t.parameters); err != nil {
		logger.Warn("tool.call.invalid_args", append(fields, "error", err.Error())...)
		return nil, &ToolError{
			Tool:    t.name,
			Message: fmt.Sprintf("parameter validation failed: %v", err),
			Code:    CodeValidation,
			Details: err,
		}
	}

	result, err := t.fn(toolCtx, args)

	var toolErr *ToolError
	switch {
	case err == nil:
		logger.Info("tool.call.done", append(fields, "duration_ms", time.Since(start).Milliseconds())...)
		return result, nil
	case errors.As(err, &toolErr):
	default:
		toolErr = &ToolError{Tool: t.name, Message: err.Error(), Code: CodeExecution}
	}

	logger.Warn("tool.call.failed", append(fields, "code", toolErr.Code, "error", toolErr.Message,
		"duration_ms", time.Since(start).Milliseconds())...)

	return nil, toolErr
}
