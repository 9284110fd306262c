// Package util holds the argument validation and directive rendering shared
// by the tool and agent runtimes.
package util

import (
	"fmt"
	"slices"
)

// ValidationError reports the first argument that does not match a tool
// schema.
type ValidationError struct {
	Field   string `json:"field"`
	Value   any    `json:"value,omitempty"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidateParameters checks params against the subset of JSON schema the
// banking tools declare: required, type, enum and minimum. Properties the
// schema does not mention are accepted.
func ValidateParameters(params map[string]any, schema map[string]any) error {
	for _, name := range RequiredFields(schema) {
		if v, ok := params[name]; !ok || v == nil {
			return &ValidationError{Field: name, Message: "required field is missing"}
		}
	}

	props, _ := schema["properties"].(map[string]any)

	for name, value := range params {
		prop, ok := props[name].(map[string]any)
		if !ok || value == nil {
			continue
		}

		if typ, _ := prop["type"].(string); !matchesType(value, typ) {
			return &ValidationError{Field: name, Value: value, Message: fmt.Sprintf("expected type %s, got %T", typ, value)}
		}

		if enum := stringList(prop["enum"]); len(enum) > 0 {
			if s, _ := value.(string); !slices.Contains(enum, s) {
				return &ValidationError{Field: name, Value: value, Message: fmt.Sprintf("must be one of %v", enum)}
			}
		}

		if floor, ok := number(prop["minimum"]); ok {
			if n, isNum := number(value); isNum && n < floor {
				return &ValidationError{Field: name, Value: value, Message: fmt.Sprintf("must be at least %v", floor)}
			}
		}
	}

	return nil
}

// RequiredFields returns the "required" list of a schema. Both []string
// (schemas built in Go) and []any (schemas decoded from JSON) are accepted.
func RequiredFields(schema map[string]any) []string {
	return stringList(schema["required"])
}

func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}

func matchesType(value any, typ string) bool {
	switch typ {
	case "string":
		_, ok := value.(string)
		return ok
	case "integer":
		n, ok := number(value)
		return ok && n == float64(int64(n))
	case "number":
		_, ok := number(value)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	}
	return true
}
