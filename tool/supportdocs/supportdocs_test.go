package supportdocs

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/bankmesh/core"
	"github.com/hupe1980/bankmesh/search"
	"github.com/hupe1980/bankmesh/tool"
)

type stubSearcher struct {
	results []search.Result
	err     error
	calls   int
}

func (s *stubSearcher) Search(context.Context, string, int) ([]search.Result, error) {
	s.calls++
	return s.results, s.err
}

func (s *stubSearcher) Add(context.Context, []search.Document) error { return nil }
func (s *stubSearcher) Count(context.Context) (int, error)           { return len(s.results), nil }

func ask(t *testing.T, s search.Searcher, question string) string {
	t.Helper()
	tools := tool.NewSet(New(s, func(o *Options) { o.RetryDelay = 0 }))
	out, err := tool.Execute(core.NewToolContext(context.Background(), "c1"), tools, core.FunctionCall{
		ID: "c1", Name: ToolName, Arguments: `{"user_question":"` + question + `"}`,
	})
	require.NoError(t, err)
	return out.(string)
}

func TestSearchSupportDocuments_FiltersByDistance(t *testing.T) {
	s := &stubSearcher{results: []search.Result{
		{Document: search.Document{Content: "Reset your PIN in the app."}, Distance: 0.2},
		{Document: search.Document{Content: "Call us to reset your PIN."}, Distance: 0.49},
		{Document: search.Document{Content: "Opening hours."}, Distance: 0.5},
	}}
	out := ask(t, s, "How do I reset my PIN?")
	assert.Equal(t, "Reset your PIN in the app.\n\n---\n\nCall us to reset your PIN.", out)
}

func TestSearchSupportDocuments_NoResults(t *testing.T) {
	s := &stubSearcher{results: []search.Result{{Document: search.Document{Content: "far"}, Distance: 0.9}}}
	assert.Equal(t, "No relevant support documents found to answer this question.", ask(t, s, "quantum?"))
}

func TestSearchSupportDocuments_Error(t *testing.T) {
	s := &stubSearcher{err: errors.New("unavailable")}
	assert.Equal(t, "An error occurred while searching for support documents.", ask(t, s, "hi"))
	assert.Equal(t, 3, s.calls)
}

func TestSearchSupportDocuments_Chromem(t *testing.T) {
	idx, err := search.NewChromemIndex(search.ChromemConfig{}, search.HashingEmbedder{})
	require.NoError(t, err)
	require.NoError(t, idx.Add(context.Background(), []search.Document{
		{ID: "pin", Content: "How do I reset my PIN? Open the app and choose Reset PIN."},
	}))
	assert.Contains(t, ask(t, idx, "How do I reset my PIN?"), "Reset PIN")
}
