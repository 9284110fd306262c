package tool

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// String returns args[key] as a trimmed string, or def when absent or empty.
func String(args map[string]any, key, def string) string {
	v, ok := args[key]
	if !ok || v == nil {
		return def
	}
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case json.Number:
		s = t.String()
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return def
		}
		s = string(b)
	}
	if s = strings.TrimSpace(s); s == "" {
		return def
	}
	return s
}

// Float returns args[key] as float64. Numeric strings are parsed; anything
// else yields def.
func Float(args map[string]any, key string, def float64) float64 {
	switch t := args[key].(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return f
		}
	}
	return def
}

// Int returns args[key] truncated to int, or def.
func Int(args map[string]any, key string, def int) int {
	f := Float(args, key, math.NaN())
	if math.IsNaN(f) {
		return def
	}
	return int(f)
}

// Object returns args[key] when it is a JSON object.
func Object(args map[string]any, key string) map[string]any {
	m, _ := args[key].(map[string]any)
	return m
}
