package model

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/bankmesh/core"
)

func userReq(text string) Request {
	return Request{Contents: []core.Content{{Role: core.RoleUser, Parts: []core.Part{core.TextPart{Text: text}}}}}
}

func TestComplete_ScriptedSteps(t *testing.T) {
	m := NewScriptedModel("scripted",
		CallStep("call_1", "get_user_accounts_tool", "{}"),
		TextStep("Your balance is $1200.50."),
	)

	resp, err := Complete(context.Background(), m, userReq("balance?"))
	require.NoError(t, err)
	assert.Equal(t, core.FinishReasonToolCalls, resp.FinishReason)
	ev := resp.Event("account_agent")
	calls := ev.GetFunctionCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "call_1", calls[0].ID)
	assert.Equal(t, "scripted", ev.ModelName)

	resp, err = Complete(context.Background(), m, userReq("balance?"))
	require.NoError(t, err)
	assert.Equal(t, "Your balance is $1200.50.", resp.Content.Text())
	assert.Len(t, m.Requests(), 2)
	assert.Zero(t, m.Remaining())
}

func TestComplete_Fallback(t *testing.T) {
	m := NewScriptedModel("scripted")
	resp, err := Complete(context.Background(), m, userReq("hi"))
	require.NoError(t, err)
	assert.Equal(t, "Mock response to: hi", resp.Content.Text())
}

func TestComplete_Error(t *testing.T) {
	m := NewScriptedModel("scripted", ErrorStep(&PolicyError{Provider: "openai", Code: "content_filter"}))
	_, err := Complete(context.Background(), m, userReq("hi"))
	require.Error(t, err)
	pe, ok := AsPolicyError(err)
	require.True(t, ok)
	assert.Equal(t, "content_filter", pe.Code)
}

func TestComplete_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Complete(ctx, NewScriptedModel("scripted"), userReq("hi"))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestParseFilterPayload(t *testing.T) {
	raw := `{"error":{"message":"The response was filtered","type":null,"param":"prompt","code":"content_filter","status":400,
	"innererror":{"code":"ResponsibleAIPolicyViolation","content_filter_result":{
	"hate":{"filtered":false,"severity":"safe"},
	"jailbreak":{"filtered":true,"detected":true},
	"violence":{"filtered":true,"severity":"medium"}}}}}`

	pe, err := ParseFilterPayload([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "content_filter", pe.Code)
	assert.Equal(t, "ResponsibleAIPolicyViolation", pe.InnerCode)
	assert.Equal(t, []string{"jailbreak", "violence"}, pe.FilteredCategories())
	assert.Equal(t, "medium", pe.FilterResults["violence"].Severity)
	assert.Contains(t, pe.FilterResultsJSON(), `"jailbreak"`)
}

func TestParseFilterPayload_Bare(t *testing.T) {
	pe, err := ParseFilterPayload([]byte(`{"code":"content_filter","message":"blocked"}`))
	require.NoError(t, err)
	assert.Equal(t, "blocked", pe.Message)
	assert.Empty(t, pe.FilteredCategories())
	assert.Empty(t, pe.FilterResultsJSON())

	_, err = ParseFilterPayload([]byte(`not json`))
	assert.Error(t, err)
}
