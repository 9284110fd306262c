package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/bankmesh/core"
	"github.com/hupe1980/bankmesh/tool/banking"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	s, err := Open(context.Background(), Config{Driver: "sqlite", DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestParseDialect(t *testing.T) {
	tests := []struct {
		in   string
		want Dialect
		err  bool
	}{
		{"sqlite", SQLite, false},
		{"", SQLite, false},
		{"pgx", Postgres, false},
		{"Postgres", Postgres, false},
		{"mysql", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			d, err := ParseDialect(tt.in)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, d)
		})
	}
}

func TestInsertChatRecordDedup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := func() *core.ChatRecord {
		return &core.ChatRecord{
			MessageID:   "m1",
			SessionID:   "s1",
			TraceID:     "t1",
			UserID:      "u1",
			MessageType: core.KindHuman,
			Content:     "hello",
			RoutingStep: 1,
		}
	}

	var first, second bool
	require.NoError(t, s.WithinTx(ctx, func(w core.TraceWriter) error {
		var err error
		first, err = w.InsertChatRecord(ctx, rec())
		return err
	}))
	require.NoError(t, s.WithinTx(ctx, func(w core.TraceWriter) error {
		var err error
		second, err = w.InsertChatRecord(ctx, rec())
		return err
	}))

	assert.True(t, first)
	assert.False(t, second)

	ids, err := s.MessageIDs(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, ids)
}

func TestWithinTxRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithinTx(ctx, func(w core.TraceWriter) error {
		_, err := w.InsertChatRecord(ctx, &core.ChatRecord{
			MessageID: "m1", SessionID: "s1", TraceID: "t1", MessageType: core.KindAgentResponse,
		})
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	recs, err := s.TraceRecords(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestUpsertToolUsageMerges(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WithinTx(ctx, func(w core.TraceWriter) error {
		if err := w.UpsertToolUsage(ctx, &core.ToolUsageRecord{
			CallID: "abc", SessionID: "s1", TraceID: "t1", ToolName: "transfer_money",
			Input: `{"amount":10}`, Status: core.ToolHealthy,
		}); err != nil {
			return err
		}
		return w.UpsertToolUsage(ctx, &core.ToolUsageRecord{
			CallID: "abc", SessionID: "s1", TraceID: "t1",
			Output: `{"status":"error","message":"insufficient funds"}`, Status: core.ToolErrored,
		})
	}))

	got, err := s.ToolUsage(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "transfer_money", got.ToolName)
	assert.Equal(t, `{"amount":10}`, got.Input)
	assert.Contains(t, got.Output, "insufficient funds")
	assert.Equal(t, core.ToolErrored, got.Status)

	_, err = s.ToolUsage(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestAgentTraces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WithinTx(ctx, func(w core.TraceWriter) error {
		for i, name := range []string{"coordinator", "account_agent"} {
			if err := w.InsertAgentTrace(ctx, &core.AgentTraceRecord{
				SessionID: "s1", TraceID: "t1", StepOrder: i + 1, FromAgent: "user",
				CurrentAgent: name, DurationMS: 12, Success: i == 1, ErrorMessage: "",
			}); err != nil {
				return err
			}
		}
		return nil
	}))

	hops, err := s.AgentTraces(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, hops, 2)
	assert.Equal(t, "coordinator", hops[0].CurrentAgent)
	assert.False(t, hops[0].Success)
	assert.True(t, hops[1].Success)
	assert.NotEmpty(t, hops[1].ID)
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetSession(ctx, "s1")
	assert.ErrorIs(t, err, core.ErrNotFound)

	sess, err := s.EnsureSession(ctx, "s1", "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", sess.UserID)
	assert.Empty(t, sess.AgentsUsed)

	sess.RecordAgents("coordinator", "account_agent")
	sess.Touch(sess.CreatedAt.Add(1500 * time.Millisecond))
	require.NoError(t, s.UpdateSession(ctx, sess))

	again, err := s.EnsureSession(ctx, "s1", "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"coordinator", "account_agent"}, again.AgentsUsed)
	assert.Equal(t, 2, again.TotalAgentsUsed)
	assert.Equal(t, int64(1500), again.DurationMS)

	list, err := s.ListSessions(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.DeleteSession(ctx, "s1"))
	_, err = s.GetSession(ctx, "s1")
	assert.ErrorIs(t, err, core.ErrNotFound)

	assert.ErrorIs(t, s.UpdateSession(ctx, sess), core.ErrNotFound)
}

func TestRecordSessionActivityConcurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, _, err := s.RecordSessionActivity(ctx, "missing", []string{"a"}, time.Now())
	assert.ErrorIs(t, err, core.ErrNotFound)

	sess, err := s.EnsureSession(ctx, "s1", "u1")
	require.NoError(t, err)

	const n = 20

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := s.RecordSessionActivity(ctx, "s1", []string{fmt.Sprintf("agent_%02d", i)}, sess.CreatedAt.Add(time.Second))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, got.AgentsUsed, n)
	assert.Equal(t, n, got.TotalAgentsUsed)
	assert.Equal(t, int64(1000), got.DurationMS)

	_, added, err := s.RecordSessionActivity(ctx, "s1", []string{"agent_00", "agent_new"}, sess.CreatedAt.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, added)
}

func TestChatHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	kinds := []core.MessageKind{core.KindHuman, core.KindToolCall, core.KindToolResult, core.KindAgentResponse, core.KindHuman}
	require.NoError(t, s.WithinTx(ctx, func(w core.TraceWriter) error {
		for i, k := range kinds {
			if _, err := w.InsertChatRecord(ctx, &core.ChatRecord{
				MessageID: fmt.Sprintf("m%d", i), SessionID: "s1", TraceID: "t1",
				MessageType: k, Content: fmt.Sprintf("c%d", i),
			}); err != nil {
				return err
			}
		}
		return nil
	}))

	all, err := s.ChatHistory(ctx, "s1", 50)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"c0", "c3", "c4"}, []string{all[0].Content, all[1].Content, all[2].Content})

	last, err := s.ChatHistory(ctx, "s1", 2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, "c3", last[0].Content)
	assert.False(t, last[0].TraceEnd.IsZero())

	require.NoError(t, s.ClearChatHistory(ctx, "s1"))
	all, err = s.ChatHistory(ctx, "s1", 50)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestRegistryConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	def := &core.ToolDefinition{
		Name:             "search",
		InputSchema:      map[string]any{"type": "object"},
		CostPerCallCents: 2,
		Version:          "1.0.0",
		Active:           true,
	}
	require.NoError(t, s.InsertTool(ctx, def))

	err := s.InsertTool(ctx, &core.ToolDefinition{Name: "search"})
	assert.ErrorIs(t, err, core.ErrConflict)

	got, err := s.FindToolByName(ctx, "search")
	require.NoError(t, err)
	assert.Equal(t, def.ID, got.ID)
	assert.Equal(t, 2, got.CostPerCallCents)
	assert.True(t, got.Active)
	assert.Equal(t, "object", got.InputSchema["type"])

	agent := &core.AgentDefinition{Name: "banking_agent_v1", LLMConfig: map[string]any{"rate_limit": 50}}
	require.NoError(t, s.InsertAgent(ctx, agent))
	assert.ErrorIs(t, s.InsertAgent(ctx, &core.AgentDefinition{Name: "banking_agent_v1"}), core.ErrConflict)

	a, err := s.FindAgentByName(ctx, "banking_agent_v1")
	require.NoError(t, err)
	assert.InDelta(t, 50.0, a.LLMConfig["rate_limit"], 0.001)

	_, err = s.FindAgentByName(ctx, "nobody")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestConcurrentInsertAgent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.InsertAgent(ctx, &core.AgentDefinition{Name: "racer"})
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, core.ErrConflict)
	}
	assert.Equal(t, 1, ok)
}

func TestLedger(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnsureUser(ctx, &User{ID: "u1", Name: "Ada"}))
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	checking := &banking.Account{UserID: "u1", AccountNumber: "000000000001", AccountType: "checking", Balance: 1000, Name: "Checking", CreatedAt: base}
	savings := &banking.Account{UserID: "u1", AccountNumber: "000000000002", AccountType: "savings", Balance: 50, Name: "Savings", CreatedAt: base.Add(time.Minute)}
	require.NoError(t, s.CreateAccount(ctx, checking))
	require.NoError(t, s.CreateAccount(ctx, savings))

	accounts, err := s.Accounts(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "Checking", accounts[0].Name)

	_, err = s.AccountByName(ctx, "u1", "Vacation")
	assert.ErrorIs(t, err, core.ErrNotFound)

	require.NoError(t, s.Transfer(ctx, &banking.Transaction{
		FromAccountID: checking.ID, ToAccountID: savings.ID, Amount: 100,
		Type: banking.TxTypeTransfer, Category: banking.CategoryTransfer, Status: banking.TxStatusCompleted,
	}))
	err = s.Transfer(ctx, &banking.Transaction{FromAccountID: savings.ID, Amount: 1000, Type: banking.TxTypeTransfer})
	assert.ErrorIs(t, err, banking.ErrInsufficientFunds)

	c, err := s.AccountByName(ctx, "u1", "Checking")
	require.NoError(t, err)
	assert.InDelta(t, 900.0, c.Balance, 0.001)
	sv, err := s.AccountByName(ctx, "u1", "Savings")
	require.NoError(t, err)
	assert.InDelta(t, 150.0, sv.Balance, 0.001)

	for _, p := range []struct {
		cat string
		amt float64
		at  time.Time
	}{
		{"Groceries", 40, base.Add(24 * time.Hour)},
		{"Groceries", 10.5, base.Add(48 * time.Hour)},
		{"Dining", 30, base.Add(72 * time.Hour)},
		{"Dining", 99, base.AddDate(0, -2, 0)},
	} {
		require.NoError(t, s.RecordTransaction(ctx, &banking.Transaction{
			FromAccountID: checking.ID, Amount: p.amt, Type: banking.TxTypePayment,
			Category: p.cat, Status: banking.TxStatusCompleted, CreatedAt: p.at,
		}))
	}

	totals, err := s.SpendingByCategory(ctx, []string{checking.ID, savings.ID}, base, base.AddDate(0, 1, 0))
	require.NoError(t, err)
	require.Len(t, totals, 2)
	assert.Equal(t, "Groceries", totals[0].Category)
	assert.InDelta(t, 50.5, totals[0].Total, 0.001)
	assert.InDelta(t, 30.0, totals[1].Total, 0.001)

	none, err := s.SpendingByCategory(ctx, nil, base, base)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestTransferNeverOverdraws(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnsureUser(ctx, &User{ID: "u1", Name: "Ada"}))
	from := &banking.Account{UserID: "u1", AccountNumber: "000000000001", AccountType: "checking", Balance: 100, Name: "Checking"}
	require.NoError(t, s.CreateAccount(ctx, from))

	assertConcurrentTransfersBounded(t, s, from.ID, 100, 30)
}

// assertConcurrentTransfersBounded debits 10 from the account n times in
// parallel and checks that only as many succeed as the balance covers.
func assertConcurrentTransfersBounded(t *testing.T, s *Store, accountID string, balance float64, n int) {
	t.Helper()
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.Transfer(ctx, &banking.Transaction{
				FromAccountID: accountID, Amount: 10,
				Type: banking.TxTypePayment, Status: banking.TxStatusCompleted,
			})
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, banking.ErrInsufficientFunds)
	}
	assert.Equal(t, int(balance/10), ok)

	accounts, err := s.Accounts(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.InDelta(t, 0.0, accounts[0].Balance, 0.001)
}

func TestQuerier(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnsureUser(ctx, &User{ID: "u1", Name: "Ada", Email: "ada@example.com"}))

	assert.Equal(t, "main", s.DefaultSchema())

	cols, err := s.DescribeTable(ctx, "main", "users")
	require.NoError(t, err)
	require.Len(t, cols, 4)
	assert.Equal(t, "id", cols[0].Name)
	assert.True(t, cols[0].IsPrimaryKey)
	assert.False(t, cols[1].Nullable)
	require.NotNil(t, cols[2].Default)

	missing, err := s.DescribeTable(ctx, "main", "nope")
	require.NoError(t, err)
	assert.Empty(t, missing)

	n, err := s.CountRows(ctx, "main", "users")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.CountRows(ctx, "main", "users; DROP TABLE users")
	assert.Error(t, err)

	columns, rows, err := s.ReadQuery(ctx, "SELECT id, name FROM users LIMIT 10")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name"}, columns)
	require.Len(t, rows, 1)
	assert.Equal(t, "Ada", rows[0]["name"])
}

func TestWithRetry(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return errors.New("permanent")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)

	calls = 0
	err = WithRetry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}
