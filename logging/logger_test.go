package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStructuredLogger_KeyValues(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&LoggerConfig{Level: LogLevelDebug, Format: "json", Output: &buf}).
		WithComponent("reconciler").
		WithSession("s1", "t1")

	l.Info("trace.hop.committed", "step", 2, "agent", "account_agent")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "trace.hop.committed", entry["msg"])
	assert.Equal(t, "reconciler", entry["component"])
	assert.Equal(t, "s1", entry["session_id"])
	assert.Equal(t, "t1", entry["trace_id"])
	assert.Equal(t, "account_agent", entry["agent"])
	assert.EqualValues(t, 2, entry["step"])
}

func TestStructuredLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&LoggerConfig{Level: LogLevelWarn, Output: &buf})

	l.Info("ignored")
	assert.Zero(t, buf.Len())

	l.Error("tool.call.failed", "error", errors.New("insufficient funds").Error())
	assert.Contains(t, buf.String(), "tool.call.failed")
	assert.Contains(t, buf.String(), "insufficient funds")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LogLevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, LogLevelWarn, ParseLevel("warning"))
	assert.Equal(t, LogLevelInfo, ParseLevel("nope"))
}

func TestOrNoOp(t *testing.T) {
	assert.IsType(t, NoOpLogger{}, OrNoOp(nil))
}

type recordingLogger struct {
	NoOpLogger
	args []any
}

func (r *recordingLogger) Info(_ string, args ...any) { r.args = args }

func TestForTurn(t *testing.T) {
	var buf bytes.Buffer
	base := NewLogger(&LoggerConfig{Output: &buf})

	ForTurn(base, "s1", "t1").Info("engine.turn.done")
	assert.Contains(t, buf.String(), `"session_id":"s1"`)
	assert.Contains(t, buf.String(), `"trace_id":"t1"`)

	rec := &recordingLogger{}
	ForTurn(rec, "s1", "t1").Info("engine.turn.done", "agent", "support_agent")
	assert.Equal(t, []any{"agent", "support_agent", "session_id", "s1", "trace_id", "t1"}, rec.args)

	assert.IsType(t, NoOpLogger{}, ForTurn(nil, "s1", "t1"))
}
