package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/bankmesh/graph"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 50*time.Millisecond, cfg.Database.RetryDelay)
	assert.Equal(t, ProviderOpenAI, cfg.Model.Provider)
	assert.Equal(t, 10, cfg.Agent.MaxIterations)
	assert.Equal(t, 50, cfg.Engine.HistoryLimit)
	assert.Equal(t, ClassifierKeyword, cfg.Routing.Classifier)
	assert.Equal(t, graph.DefaultFallback, cfg.Routing.Fallback)
	assert.Equal(t, 3, cfg.Search.K)
	assert.InDelta(t, 0.5, cfg.Search.MaxDistance, 1e-6)
	assert.True(t, cfg.Metrics.Enabled)

	rules, err := cfg.RoutingRules()
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, graph.NodeAccount, rules[0].Target)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	path := filepath.Join(dir, "bankmesh.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
model:
  provider: anthropic
  name: claude-3-5-sonnet-latest
routing:
  rules:
    - target: fraud_agent
      task_type: fraud
      keywords: [stolen, fraud]
    - target: account_agent
      task_type: account_management
      keywords: [balance]
registry:
  aliases_version: "3"
  aliases:
    lookup_balance: get_user_accounts
`), 0o600))

	t.Setenv("BANKMESH_DATABASE__DSN", "file:override.db")
	t.Setenv("BANKMESH_AGENT__MAX_ITERATIONS", "4")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ProviderAnthropic, cfg.Model.Provider)
	assert.Equal(t, "claude-3-5-sonnet-latest", cfg.Model.Name)
	assert.Equal(t, "file:override.db", cfg.Database.DSN)
	assert.Equal(t, 4, cfg.Agent.MaxIterations)
	assert.Equal(t, "get_user_accounts", cfg.Registry.Aliases["lookup_balance"])

	rules, err := cfg.RoutingRules()
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "fraud_agent", rules[0].Target)
	assert.Equal(t, []string{"stolen", "fraud"}, rules[0].Keywords)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("BANKMESH_LOG__LEVEL=debug\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("BANKMESH_LOG__LEVEL") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadMissingFile(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := Load("does-not-exist.yaml")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Database.Driver = "mysql"
	cfg.Model.Provider = "llama"
	cfg.Agent.MaxIterations = 0
	cfg.Routing.Classifier = "dice"
	cfg.Routing.Rules = []graph.Rule{{Target: "", Keywords: []string{"x"}}}
	cfg.Search.Backend = "faiss"
	cfg.Telemetry.Exporter = "zipkin"

	err = cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"mysql", "llama", "max_iterations", "dice", "no target", "faiss", "zipkin"} {
		assert.Contains(t, err.Error(), want)
	}

	cfg.Routing.Rules = nil
	cfg.Routing.Variant = "four_way"
	_, err = cfg.RoutingRules()
	assert.Error(t, err)
}
