// Package tool implements the tool calling subsystem: the Tool interface,
// a FunctionTool adapter with schema validated arguments, and a panic-safe
// executor that resolves a model requested call against a tool Set.
package tool

import (
	"fmt"
	"sort"

	"github.com/hupe1980/bankmesh/core"
	"github.com/hupe1980/bankmesh/internal/util"
	"github.com/hupe1980/bankmesh/model"
)

// Error codes carried by ToolError.
const (
	CodeValidation = "VALIDATION_ERROR"
	CodeExecution  = "EXECUTION_ERROR"
	CodeNotFound   = "NOT_FOUND"
	CodePanic      = "PANIC"
)

// Tool is a capability an agent can invoke through the model's function
// calling. Implementations must be safe for concurrent use; one Set is shared
// by every turn of a process.
type Tool interface {
	// Name returns the identifier exposed to the model (snake_case).
	Name() string

	// Description tells the model when and how to use the tool.
	Description() string

	// Parameters returns a JSON schema describing the expected arguments.
	Parameters() map[string]any

	// Call executes the tool with decoded arguments.
	Call(toolCtx *core.ToolContext, args map[string]any) (any, error)
}

// ValidationError represents parameter validation errors with detailed information.
type ValidationError = util.ValidationError

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}

// Set indexes tools by name.
type Set map[string]Tool

// NewSet builds a Set. Later tools replace earlier ones of the same name.
func NewSet(tools ...Tool) Set {
	s := make(Set, len(tools))
	for _, t := range tools {
		s[t.Name()] = t
	}
	return s
}

// Names returns the sorted tool names.
func (s Set) Names() []string {
	names := make([]string, 0, len(s))
	for n := range s {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Definitions renders the set as model tool declarations, sorted by name so
// requests are stable.
func (s Set) Definitions() []model.ToolDefinition {
	defs := make([]model.ToolDefinition, 0, len(s))
	for _, n := range s.Names() {
		t := s[n]
		defs = append(defs, model.ToolDefinition{
			Type: "function",
			Function: model.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}
