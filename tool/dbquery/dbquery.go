// Package dbquery provides the query_database tool: read-only SQL access
// for agents with a describe action for table structure and a read action
// guarded to single SELECT statements with a row limit.
package dbquery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/hupe1980/bankmesh/core"
	"github.com/hupe1980/bankmesh/tool"
)

// ToolName is the name exposed to the model.
const ToolName = "query_database"

const (
	defaultLimit = 100
	maxLimit     = 1000
)

var prohibited = []string{"DROP", "DELETE", "INSERT", "UPDATE", "ALTER", "CREATE", "TRUNCATE"}

// ErrNotSelect is returned by GuardQuery for statements not starting with SELECT.
var ErrNotSelect = errors.New("Only SELECT queries are allowed.")

// Column describes one table column.
type Column struct {
	Name         string  `json:"name"`
	Type         string  `json:"type"`
	MaxLength    *int64  `json:"max_length"`
	Nullable     bool    `json:"nullable"`
	Default      *string `json:"default"`
	IsPrimaryKey bool    `json:"is_primary_key"`
}

// Querier is the database access the tool needs.
type Querier interface {
	// DefaultSchema is used when the model does not name one.
	DefaultSchema() string
	// DescribeTable returns no columns when the table does not exist.
	DescribeTable(ctx context.Context, schema, table string) ([]Column, error)
	CountRows(ctx context.Context, schema, table string) (int64, error)
	// ReadQuery runs a guarded SELECT and returns rows keyed by column.
	ReadQuery(ctx context.Context, query string) ([]string, []map[string]any, error)
}

// GuardQuery validates a read query and appends a LIMIT clause when absent.
// limit is clamped to [1, 1000].
func GuardQuery(query string, limit int) (string, error) {
	q := strings.TrimSpace(query)
	upper := strings.ToUpper(q)
	if !strings.HasPrefix(upper, "SELECT") {
		return "", ErrNotSelect
	}

	tokens := strings.FieldsFunc(upper, func(r rune) bool {
		return unicode.IsSpace(r) || r == ';' || r == '(' || r == ')'
	})
	seen := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		seen[t] = struct{}{}
	}
	for _, kw := range prohibited {
		if _, ok := seen[kw]; ok {
			return "", fmt.Errorf("Query contains prohibited keyword: %s", kw)
		}
	}

	limit = min(max(1, limit), maxLimit)
	if !strings.Contains(upper, "LIMIT") {
		q = strings.TrimRight(q, "; \t\n")
		q = fmt.Sprintf("%s LIMIT %d", q, limit)
	}
	return q, nil
}

// New returns the query_database tool.
func New(q Querier) tool.Tool {
	return tool.NewFunctionTool(
		ToolName,
		"Query the database directly. Use action 'describe' with table_name (and optional schema) "+
			"to inspect a table, or action 'read' with a SELECT query and optional limit (1-1000, default 100).",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"action":     map[string]any{"type": "string", "description": "describe or read"},
				"table_name": map[string]any{"type": "string"},
				"schema":     map[string]any{"type": "string"},
				"query":      map[string]any{"type": "string"},
				"limit":      map[string]any{"type": "integer"},
			},
			"required": []string{"action"},
		},
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			var result map[string]any
			switch action := tool.String(args, "action", ""); action {
			case "describe":
				table := tool.String(args, "table_name", "")
				if table == "" {
					return render(statusError("table_name required for describe"))
				}
				result = describe(tc.Context(), q, tool.String(args, "schema", q.DefaultSchema()), table)
			case "read":
				query := tool.String(args, "query", "")
				if query == "" {
					return render(statusError("query required for read"))
				}
				result = read(tc.Context(), q, query, tool.Int(args, "limit", defaultLimit))
			default:
				result = statusError(fmt.Sprintf("Unknown action: %s. Use 'describe' or 'read'", action))
			}
			return render(result)
		},
	)
}

func describe(ctx context.Context, q Querier, schema, table string) map[string]any {
	columns, err := q.DescribeTable(ctx, schema, table)
	if err != nil {
		return statusError(fmt.Sprintf("Database error: %v", err))
	}
	if len(columns) == 0 {
		return statusError(fmt.Sprintf("Table %s.%s not found or you don't have permission.", schema, table))
	}

	var rowCount any = "Unknown"
	if n, err := q.CountRows(ctx, schema, table); err == nil {
		rowCount = n
	}

	return map[string]any{
		"status":     "success",
		"schema":     schema,
		"table_name": table,
		"columns":    columns,
		"row_count":  rowCount,
	}
}

func read(ctx context.Context, q Querier, query string, limit int) map[string]any {
	guarded, err := GuardQuery(query, limit)
	if err != nil {
		return statusError(err.Error())
	}

	columns, rows, err := q.ReadQuery(ctx, guarded)
	if err != nil {
		return statusError(fmt.Sprintf("Query failed: %v", err))
	}
	if rows == nil {
		rows = []map[string]any{}
	}

	return map[string]any{
		"status":    "success",
		"columns":   columns,
		"row_count": len(rows),
		"rows":      rows,
		"message":   fmt.Sprintf("Retrieved %d rows", len(rows)),
	}
}

func statusError(msg string) map[string]any {
	return map[string]any{"status": "error", "message": msg}
}

func render(v map[string]any) (any, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
