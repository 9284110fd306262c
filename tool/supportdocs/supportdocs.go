// Package supportdocs provides the search_support_documents tool which
// answers customer support questions from the indexed knowledge base.
package supportdocs

import (
	"strings"
	"time"

	"github.com/hupe1980/bankmesh/core"
	"github.com/hupe1980/bankmesh/search"
	"github.com/hupe1980/bankmesh/tool"
)

// ToolName is the name exposed to the model.
const ToolName = "search_support_documents"

const (
	msgNoResults = "No relevant support documents found to answer this question."
	msgFailed    = "An error occurred while searching for support documents."
	separator    = "\n\n---\n\n"
)

// Options configures New.
type Options struct {
	K           int     // documents to fetch, default 3
	MaxDistance float32 // keep results strictly closer than this, default 0.5
	MaxRetries  int
	RetryDelay  time.Duration
}

// New returns the search_support_documents tool backed by s.
func New(s search.Searcher, optFns ...func(o *Options)) tool.Tool {
	opts := Options{K: 3, MaxDistance: 0.5, MaxRetries: 2, RetryDelay: 200 * time.Millisecond}
	for _, fn := range optFns {
		fn(&opts)
	}

	return tool.NewFunctionTool(
		ToolName,
		"Searches the knowledge base for answers to customer support questions using vector search.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"user_question": map[string]any{"type": "string", "description": "The customer's question"},
			},
			"required": []string{"user_question"},
		},
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			question := tool.String(args, "user_question", "")

			var results []search.Result
			err := search.WithRetry(tc.Context(), opts.MaxRetries, opts.RetryDelay, func() error {
				var err error
				results, err = s.Search(tc.Context(), question, opts.K)
				return err
			})
			if err != nil {
				tc.Logger().Error("supportdocs.search.error", "error", err.Error())
				return msgFailed, nil
			}

			var docs []string
			for _, r := range results {
				if r.Distance < opts.MaxDistance {
					docs = append(docs, r.Document.Content)
				}
			}
			if len(docs) == 0 {
				return msgNoResults, nil
			}
			return strings.Join(docs, separator), nil
		},
	)
}
