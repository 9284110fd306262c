package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSession_RecordAgents(t *testing.T) {
	s := NewSession("s1", "user_1")

	assert.Equal(t, 2, s.RecordAgents("coordinator", "account_agent"))
	assert.Equal(t, 1, s.RecordAgents("coordinator", "support_agent", ""))
	assert.Equal(t, []string{"coordinator", "account_agent", "support_agent"}, s.AgentsUsed)
	assert.Equal(t, 3, s.TotalAgentsUsed)
}

func TestSession_Touch(t *testing.T) {
	s := NewSession("s1", "user_1")
	s.Touch(s.CreatedAt.Add(1500 * time.Millisecond))
	assert.Equal(t, int64(1500), s.DurationMS)
}

func TestIterationBudget(t *testing.T) {
	b := NewIterationBudget(2)
	assert.True(t, b.Spend())
	assert.True(t, b.Spend())
	assert.False(t, b.Spend())
	assert.Equal(t, 3, b.Used())

	unbounded := NewIterationBudget(0)
	for range 100 {
		assert.True(t, unbounded.Spend())
	}
}
