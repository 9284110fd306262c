package tool

import (
	"encoding/json"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/hupe1980/bankmesh/core"
)

// Execute resolves call against tools, decodes its JSON arguments and runs
// it. It never panics: a panicking tool is reported as a PANIC ToolError.
// Unknown tools yield NOT_FOUND and undecodable arguments VALIDATION_ERROR.
func Execute(toolCtx *core.ToolContext, tools Set, call core.FunctionCall) (result any, err error) {
	impl, ok := tools[call.Name]
	if !ok {
		return nil, NewToolError(call.Name, fmt.Sprintf("tool %s not found", call.Name), CodeNotFound)
	}

	args := map[string]any{}
	if raw := strings.TrimSpace(call.Arguments); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return nil, NewToolError(call.Name, fmt.Sprintf("failed to unmarshal args: %v", err), CodeValidation)
		}
		if args == nil {
			args = map[string]any{}
		}
	}

	defer func() {
		if r := recover(); r != nil {
			toolCtx.Logger().Error("tool.call.panic", "tool", call.Name, "recover", r, "stack", string(debug.Stack()))
			result = nil
			err = NewToolError(call.Name, fmt.Sprintf("panic recovered: %v", r), CodePanic)
		}
	}()

	return impl.Call(toolCtx, args)
}
