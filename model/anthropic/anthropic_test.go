package anthropic

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/bankmesh/core"
	"github.com/hupe1980/bankmesh/model"
)

func newTestModel(t *testing.T, body string) *Model {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	client := anthropic.NewClient(option.WithAPIKey("test"), option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	return NewModelFromClient(&client)
}

func TestFinishReason(t *testing.T) {
	tests := []struct {
		stop string
		want string
	}{
		{"tool_use", core.FinishReasonToolCalls},
		{"end_turn", core.FinishReasonStop},
		{"", core.FinishReasonStop},
		{"max_tokens", "length"},
	}
	for _, tt := range tests {
		got, err := finishReason(tt.stop)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.stop)
	}

	_, err := finishReason("refusal")
	_, ok := model.AsPolicyError(err)
	assert.True(t, ok)
}

func TestBuildMessages_ToolResultsInUserTurn(t *testing.T) {
	msgs := buildMessages([]core.Content{
		core.ToContent(core.Human{Content: "balance?"}),
		core.ToContent(core.ToolCall{CallID: "toolu_1", ToolName: "get_user_accounts_tool", Arguments: "{}"}),
		core.ToContent(core.ToolResult{CallID: "toolu_1", ToolName: "get_user_accounts_tool", Output: "[]"}),
	})

	require.Len(t, msgs, 3)
	assert.Equal(t, anthropic.MessageParamRoleUser, msgs[0].Role)
	assert.Equal(t, anthropic.MessageParamRoleAssistant, msgs[1].Role)
	assert.Equal(t, anthropic.MessageParamRoleUser, msgs[2].Role)
	require.Len(t, msgs[2].Content, 1)
	assert.NotNil(t, msgs[2].Content[0].OfToolResult)
}

func TestGenerate_ToolUse(t *testing.T) {
	m := newTestModel(t, `{"id":"msg_1","type":"message","role":"assistant","model":"claude-3-5-sonnet-20241022",
		"content":[{"type":"tool_use","id":"toolu_1","name":"transfer_money_tool","input":{"amount":50}}],
		"stop_reason":"tool_use","stop_sequence":null,"usage":{"input_tokens":12,"output_tokens":8}}`)

	resp, err := model.Complete(context.Background(), m, model.Request{
		Instructions: "You are a banking assistant.",
		Contents:     []core.Content{core.ToContent(core.Human{Content: "send 50"})},
	})
	require.NoError(t, err)
	assert.Equal(t, core.FinishReasonToolCalls, resp.FinishReason)
	assert.Equal(t, 20, resp.Usage.TotalTokens)

	calls := resp.Event("transaction_agent").GetFunctionCalls()
	require.Len(t, calls, 1)
	assert.JSONEq(t, `{"amount":50}`, calls[0].Arguments)
}
