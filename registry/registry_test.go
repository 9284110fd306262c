package registry

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/bankmesh/core"
)

type mockStore struct{ mock.Mock }

func (m *mockStore) FindAgentByName(ctx context.Context, name string) (*core.AgentDefinition, error) {
	args := m.Called(ctx, name)
	def, _ := args.Get(0).(*core.AgentDefinition)
	return def, args.Error(1)
}

func (m *mockStore) InsertAgent(ctx context.Context, def *core.AgentDefinition) error {
	return m.Called(ctx, def).Error(0)
}

func (m *mockStore) FindToolByName(ctx context.Context, name string) (*core.ToolDefinition, error) {
	args := m.Called(ctx, name)
	def, _ := args.Get(0).(*core.ToolDefinition)
	return def, args.Error(1)
}

func (m *mockStore) InsertTool(ctx context.Context, def *core.ToolDefinition) error {
	return m.Called(ctx, def).Error(0)
}

// memStore is a minimal thread-safe RegistryStore.
type memStore struct {
	mu      sync.Mutex
	agents  map[string]*core.AgentDefinition
	tools   map[string]*core.ToolDefinition
	inserts int
}

func newMemStore() *memStore {
	return &memStore{agents: map[string]*core.AgentDefinition{}, tools: map[string]*core.ToolDefinition{}}
}

func (s *memStore) FindAgentByName(_ context.Context, name string) (*core.AgentDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.agents[name]; ok {
		return d, nil
	}
	return nil, core.ErrNotFound
}

func (s *memStore) InsertAgent(_ context.Context, def *core.AgentDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[def.Name]; ok {
		return core.ErrConflict
	}
	s.inserts++
	s.agents[def.Name] = def
	return nil
}

func (s *memStore) FindToolByName(_ context.Context, name string) (*core.ToolDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.tools[name]; ok {
		return d, nil
	}
	return nil, core.ErrNotFound
}

func (s *memStore) InsertTool(_ context.Context, def *core.ToolDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tools[def.Name]; ok {
		return core.ErrConflict
	}
	s.inserts++
	s.tools[def.Name] = def
	return nil
}

func TestGetOrCreateToolConflictRefetches(t *testing.T) {
	store := new(mockStore)
	ctx := context.Background()

	winner := &core.ToolDefinition{ID: "tool-winner", Name: "brand_new_tool"}
	store.On("FindToolByName", mock.Anything, "brand_new_tool").Return(nil, core.ErrNotFound).Once()
	store.On("InsertTool", mock.Anything, mock.MatchedBy(func(d *core.ToolDefinition) bool {
		return d.Name == "brand_new_tool" && d.Active && d.Version == "1.0.0"
	})).Return(core.ErrConflict).Once()
	store.On("FindToolByName", mock.Anything, "brand_new_tool").Return(winner, nil).Once()

	r := New(store)
	id, err := r.GetOrCreateTool(ctx, "brand_new_tool")
	require.NoError(t, err)
	assert.Equal(t, "tool-winner", id)

	// Served from cache.
	id, err = r.GetOrCreateTool(ctx, "brand_new_tool")
	require.NoError(t, err)
	assert.Equal(t, "tool-winner", id)

	store.AssertExpectations(t)
}

func TestGetOrCreateAgentInsertsWithFallbacks(t *testing.T) {
	store := new(mockStore)
	ctx := context.Background()

	store.On("FindAgentByName", mock.Anything, "fraud_agent").Return(nil, core.ErrNotFound).Once()
	store.On("InsertAgent", mock.Anything, mock.MatchedBy(func(d *core.AgentDefinition) bool {
		return d.ID != "" && d.Description == "Detects fraud" && d.LLMConfig["model"] == "gpt-4.1"
	})).Return(nil).Once()

	r := New(store)
	id, err := r.GetOrCreateAgent(ctx, "fraud_agent",
		WithDescription("Detects fraud"),
		WithLLMConfig(map[string]any{"model": "gpt-4.1"}),
	)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	store.AssertExpectations(t)
}

func TestGetOrCreateStoreErrorPropagates(t *testing.T) {
	store := new(mockStore)
	boom := errors.New("db down")
	store.On("FindAgentByName", mock.Anything, "coordinator").Return(nil, boom)

	_, err := New(store).GetOrCreateAgent(context.Background(), "coordinator")
	assert.ErrorIs(t, err, boom)
}

func TestEmptyNamesUsePlaceholders(t *testing.T) {
	store := newMemStore()
	r := New(store)
	ctx := context.Background()

	_, err := r.GetOrCreateTool(ctx, "  ")
	require.NoError(t, err)
	_, err = r.GetOrCreateAgent(ctx, "")
	require.NoError(t, err)

	assert.Contains(t, store.tools, UnknownTool)
	assert.Contains(t, store.agents, UnknownAgent)
}

func TestToolAliasesResolveToCanonicalName(t *testing.T) {
	store := newMemStore()
	r := New(store)
	ctx := context.Background()

	a, err := r.GetOrCreateTool(ctx, "get_user_accounts_for_current_user")
	require.NoError(t, err)
	b, err := r.GetOrCreateTool(ctx, "get_user_accounts_tool")
	require.NoError(t, err)
	c, err := r.GetOrCreateTool(ctx, "get_user_accounts")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, a, c)
	assert.Len(t, store.tools, 1)
	assert.Equal(t, "query_database", r.CanonicalToolName("query_database"))
}

func TestConcurrentAutoRegistrationYieldsOneRecord(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()

	// Separate registries model separate processes sharing one store.
	regs := []*Registry{New(store), New(store)}

	var wg sync.WaitGroup
	ids := make([]string, 16)
	errs := make([]error, 16)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], errs[i] = regs[i%2].GetOrCreateTool(ctx, "brand_new_tool")
		}(i)
	}
	wg.Wait()

	for i := range ids {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	assert.Equal(t, 1, store.inserts)
}

func TestSeed(t *testing.T) {
	store := newMemStore()
	r := New(store)
	ctx := context.Background()

	require.NoError(t, r.Seed(ctx, "gpt-4.1"))
	require.NoError(t, r.Seed(ctx, "gpt-4.1"))

	assert.Len(t, store.tools, 6)
	assert.Len(t, store.agents, 5)
	assert.Equal(t, 2, store.tools["search_support_documents"].CostPerCallCents)
	assert.Equal(t, 1, store.tools["query_database"].CostPerCallCents)
	assert.Equal(t, "1.0.0", store.tools["transfer_money"].Version)
	assert.Equal(t, "gpt-4.1", store.agents[AgentBankingV1].LLMConfig["model"])

	id, err := r.GetOrCreateTool(ctx, "transfer_money_tool")
	require.NoError(t, err)
	assert.Equal(t, store.tools["transfer_money"].ID, id)
}

func TestParseAliases(t *testing.T) {
	a, err := ParseAliases([]byte("version: \"7\"\ntools:\n  foo_wrapper: foo\n"))
	require.NoError(t, err)
	assert.Equal(t, "7", a.Version)
	assert.Equal(t, "foo", a.Canonical("foo_wrapper"))
	assert.Equal(t, "bar", a.Canonical("bar"))

	merged := DefaultAliases().Merge("8", map[string]string{"foo_wrapper": "foo"})
	assert.Equal(t, "8", merged.Version)
	assert.Equal(t, "foo", merged.Canonical("foo_wrapper"))
	assert.Equal(t, "transfer_money", merged.Canonical("transfer_money_for_current_user"))
	assert.NotContains(t, DefaultAliases().Tools, "foo_wrapper")
}
