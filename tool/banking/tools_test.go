package banking

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/bankmesh/core"
	"github.com/hupe1980/bankmesh/tool"
)

type memLedger struct {
	mu       sync.Mutex
	accounts []*Account
	txs      []*Transaction
}

func (l *memLedger) Accounts(_ context.Context, userID string) ([]Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Account
	for _, a := range l.accounts {
		if a.UserID == userID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (l *memLedger) AccountByName(_ context.Context, userID, name string) (*Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, a := range l.accounts {
		if a.UserID == userID && a.Name == name {
			cp := *a
			return &cp, nil
		}
	}
	return nil, core.ErrNotFound
}

func (l *memLedger) CreateAccount(_ context.Context, acc *Account) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := *acc
	l.accounts = append(l.accounts, &cp)
	return nil
}

func (l *memLedger) find(id string) *Account {
	for _, a := range l.accounts {
		if a.ID == id {
			return a
		}
	}
	return nil
}

func (l *memLedger) Transfer(_ context.Context, tx *Transaction) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	from := l.find(tx.FromAccountID)
	if from.Balance < tx.Amount {
		return ErrInsufficientFunds
	}
	from.Balance -= tx.Amount
	if to := l.find(tx.ToAccountID); to != nil {
		to.Balance += tx.Amount
	}
	cp := *tx
	l.txs = append(l.txs, &cp)
	return nil
}

func (l *memLedger) SpendingByCategory(_ context.Context, ids []string, from, to time.Time) ([]CategoryTotal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sums := map[string]float64{}
	for _, tx := range l.txs {
		if tx.Type != TxTypePayment || tx.CreatedAt.Before(from) || tx.CreatedAt.After(to) {
			continue
		}
		for _, id := range ids {
			if tx.FromAccountID == id {
				sums[tx.Category] += tx.Amount
			}
		}
	}
	var out []CategoryTotal
	for c, s := range sums {
		out = append(out, CategoryTotal{Category: c, Total: s})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Total > out[j].Total })
	return out, nil
}

var fixedNow = time.Date(2025, time.March, 15, 12, 0, 0, 0, time.UTC)

func newBanking(t *testing.T) (*memLedger, tool.Set) {
	t.Helper()
	l := &memLedger{}
	l.accounts = []*Account{
		{ID: "acc_1", UserID: "user_5", Name: "Checking", AccountType: "checking", Balance: 1200.50},
		{ID: "acc_2", UserID: "user_5", Name: "Savings", AccountType: "savings", Balance: 50},
		{ID: "acc_3", UserID: "user_9", Name: "Other", AccountType: "checking", Balance: 10},
	}
	return l, tool.NewSet(NewTools(l, "user_5", func(o *Options) { o.Now = func() time.Time { return fixedNow } })...)
}

func call(t *testing.T, tools tool.Set, name, args string) map[string]any {
	t.Helper()
	out, err := tool.Execute(core.NewToolContext(context.Background(), "c1"), tools, core.FunctionCall{ID: "c1", Name: name, Arguments: args})
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(out.(string)), &m), out)
	return m
}

func TestGetUserAccounts(t *testing.T) {
	_, tools := newBanking(t)
	out, err := tool.Execute(core.NewToolContext(context.Background(), "c1"), tools, core.FunctionCall{Name: GetUserAccountsTool})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"name":"Checking","account_type":"checking","balance":1200.5},{"name":"Savings","account_type":"savings","balance":50}]`, out.(string))

	empty := tool.NewSet(NewTools(&memLedger{}, "nobody")...)
	out, err = tool.Execute(core.NewToolContext(context.Background(), "c2"), empty, core.FunctionCall{Name: GetUserAccountsTool})
	require.NoError(t, err)
	assert.Equal(t, "No accounts found for this user.", out)
}

func TestTransferMoney(t *testing.T) {
	l, tools := newBanking(t)

	tests := []struct {
		name    string
		args    string
		status  string
		message string
	}{
		{"missing details", `{"from_account_name":"Checking"}`, "error", "Missing required transfer details."},
		{"non positive", `{"from_account_name":"Checking","to_account_name":"Savings","amount":0}`, "error", "Missing required transfer details."},
		{"unknown source", `{"from_account_name":"Gold","to_account_name":"Savings","amount":5}`, "error", "Account 'Gold' not found."},
		{"insufficient", `{"from_account_name":"Savings","to_account_name":"Checking","amount":500}`, "error", "Insufficient funds."},
		{"unknown recipient", `{"from_account_name":"Checking","to_account_name":"Other","amount":5}`, "error", "Recipient account 'Other' not found."},
		{"internal", `{"from_account_name":"Checking","to_account_name":"Savings","amount":200.5}`, "success", "Successfully transferred $200.50."},
		{"external", `{"from_account_name":"Checking","amount":100,"to_external_details":{"name":"Landlord"}}`, "success", "Successfully transferred $100.00."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := call(t, tools, TransferMoneyTool, tt.args)
			assert.Equal(t, tt.status, m["status"])
			assert.Equal(t, tt.message, m["message"])
		})
	}

	checking, _ := l.AccountByName(context.Background(), "user_5", "Checking")
	savings, _ := l.AccountByName(context.Background(), "user_5", "Savings")
	assert.InDelta(t, 900.0, checking.Balance, 0.001)
	assert.InDelta(t, 250.5, savings.Balance, 0.001)

	require.Len(t, l.txs, 2)
	assert.Equal(t, TxTypeTransfer, l.txs[0].Type)
	assert.Equal(t, CategoryTransfer, l.txs[0].Category)
	assert.Equal(t, TxStatusCompleted, l.txs[0].Status)
	assert.Equal(t, "Transfer to Landlord", l.txs[1].Description)
	assert.Empty(t, l.txs[1].ToAccountID)
}

func TestCreateNewAccount(t *testing.T) {
	l, tools := newBanking(t)

	m := call(t, tools, CreateNewAccountTool, `{}`)
	assert.Equal(t, "An account name is required.", m["message"])

	m = call(t, tools, CreateNewAccountTool, `{"name":"Vacation","account_type":"savings","balance":25}`)
	assert.Equal(t, "success", m["status"])
	assert.Equal(t, "Successfully created new savings account 'Vacation' with balance $25.00.", m["message"])
	assert.Equal(t, "Vacation", m["account_name"])

	acc, err := l.AccountByName(context.Background(), "user_5", "Vacation")
	require.NoError(t, err)
	assert.Len(t, acc.AccountNumber, 12)
}

func TestGetTransactionsSummary(t *testing.T) {
	l, tools := newBanking(t)
	pay := func(cat string, amt float64, at time.Time) {
		l.txs = append(l.txs, &Transaction{FromAccountID: "acc_1", Amount: amt, Type: TxTypePayment, Category: cat, CreatedAt: at})
	}
	inMonth := fixedNow.AddDate(0, 0, -3)
	pay("Groceries", 120.25, inMonth)
	pay("Dining", 80, inMonth)
	pay("Rent", 900, inMonth)
	pay("Travel", 10, inMonth)
	pay("Old", 5000, fixedNow.AddDate(0, -2, 0))

	m := call(t, tools, GetTransactionsSummaryTool, `{}`)
	require.Equal(t, "success", m["status"])
	summary := m["summary"].(map[string]any)
	assert.Equal(t, "this month", summary["period"])
	assert.Equal(t, "All Accounts", summary["account_filter"])
	assert.InDelta(t, 1110.25, summary["total_spending"], 0.001)
	top := summary["top_categories"].([]any)
	require.Len(t, top, 3)
	assert.Equal(t, "Rent", top[0].(map[string]any)["category"])

	m = call(t, tools, GetTransactionsSummaryTool, `{"time_period":"last 6 months"}`)
	assert.InDelta(t, 6110.25, m["summary"].(map[string]any)["total_spending"], 0.001)

	m = call(t, tools, GetTransactionsSummaryTool, `{"account_name":"Savings"}`)
	assert.Equal(t, "You have no spending for the period 'this month' in account 'Savings'.", m["summary"])

	m = call(t, tools, GetTransactionsSummaryTool, `{"account_name":"Gold"}`)
	assert.Equal(t, "error", m["status"])
	assert.Equal(t, "Account 'Gold' not found.", m["message"])
}

func TestPeriodStart(t *testing.T) {
	assert.Equal(t, time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC), PeriodStart("this month", fixedNow))
	assert.Equal(t, time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC), PeriodStart("This Year", fixedNow))
	assert.Equal(t, fixedNow.AddDate(0, -6, 0), PeriodStart("last 6 months", fixedNow))
}
