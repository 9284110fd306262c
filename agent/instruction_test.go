package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockProvider struct {
	text string
	err  error
}

func (m mockProvider) Instruction(context.Context, Scope) (string, error) { return m.text, m.err }

func TestInstruction_Static(t *testing.T) {
	inst := NewInstructionFromText("static instruction")
	assert.True(t, inst.IsStatic())

	got, err := inst.Resolve(context.Background(), Scope{})
	require.NoError(t, err)
	assert.Equal(t, "static instruction", got)
}

func TestInstruction_TemplateVars(t *testing.T) {
	inst := NewInstructionFromText("You help user {{.user_id}} as {{.agent_name}}.")

	got, err := inst.Resolve(context.Background(), Scope{AgentName: "account_agent", UserID: "user_5"})
	require.NoError(t, err)
	assert.Equal(t, "You help user user_5 as account_agent.", got)
}

func TestInstruction_NewInstructionFromFunc(t *testing.T) {
	inst := NewInstructionFromFunc(func(_ context.Context, s Scope) (string, error) {
		return "dynamic for {{.session_id}}", nil
	})
	assert.False(t, inst.IsStatic())

	got, err := inst.Resolve(context.Background(), Scope{SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, "dynamic for s1", got)
}

func TestInstruction_ProviderError(t *testing.T) {
	boom := errors.New("provider failed")
	inst := NewInstructionFromProvider(mockProvider{err: boom})

	_, err := inst.Resolve(context.Background(), Scope{})
	assert.ErrorIs(t, err, boom)
}

func TestInstruction_BadTemplate(t *testing.T) {
	inst := NewInstructionFromProvider(mockProvider{text: "broken {{.user_id"})

	_, err := inst.Resolve(context.Background(), Scope{})
	assert.Error(t, err)
}
