package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvent_ConstructorsAndMethods(t *testing.T) {
	e := NewEvent("agentA")
	assert.Equal(t, "agentA", e.Author)
	assert.NotEmpty(t, e.ID)
	assert.False(t, e.Timestamp.IsZero())
	assert.Equal(t, "", e.Role())

	user := NewUserMessageEvent("hi")
	assert.Equal(t, RoleUser, user.Role())
	assert.Equal(t, "hi", user.Content.Text())

	call := NewFunctionCallEvent("account_agent", "call-1", "get_user_accounts_tool", "{}")
	calls := call.GetFunctionCalls()
	if assert.Len(t, calls, 1) {
		assert.Equal(t, "get_user_accounts_tool", calls[0].Name)
		assert.Equal(t, "call-1", calls[0].ID)
	}
	assert.False(t, call.IsFinalResponse())

	ok := NewFunctionResponseEvent("account_agent", "call-1", "do_stuff", 42, nil)
	resps := ok.GetFunctionResponses()
	if assert.Len(t, resps, 1) {
		assert.Equal(t, 42, resps[0].Response)
		assert.Empty(t, resps[0].Error)
	}

	failed := NewFunctionResponseEvent("account_agent", "call-2", "do_stuff", nil, errors.New("boom"))
	assert.Equal(t, "boom", failed.GetFunctionResponses()[0].Error)
}

func TestEvent_IsFinalResponse(t *testing.T) {
	assert.True(t, NewMessageEvent("support_agent", "done").IsFinalResponse())
	assert.False(t, NewUserMessageEvent("hello").IsFinalResponse())

	length := NewMessageEvent("support_agent", "cut off")
	length.FinishReason = "length"
	assert.True(t, length.IsFinalResponse())
}
