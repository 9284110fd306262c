package banking

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/bankmesh/core"
	"github.com/hupe1980/bankmesh/tool"
)

// Tool names exposed to the model.
const (
	GetUserAccountsTool        = "get_user_accounts_tool"
	GetTransactionsSummaryTool = "get_transactions_summary_tool"
	CreateNewAccountTool       = "create_new_account_tool"
	TransferMoneyTool          = "transfer_money_tool"
)

const (
	msgNoAccounts      = "No accounts found for this user."
	msgNameRequired    = "An account name is required."
	msgMissingTransfer = "Missing required transfer details."
	msgInsufficient    = "Insufficient funds."
	msgSummaryFailed   = "An error occurred while generating the transaction summary."
	allAccounts        = "All Accounts"
	defaultPeriod      = "this month"
	defaultAccountType = "checking"
	topCategories      = 3
)

// Options configures NewTools.
type Options struct {
	// Now is the clock used for summary periods.
	Now func() time.Time
}

type banker struct {
	ledger Ledger
	userID string
	now    func() time.Time
}

// NewTools returns the four banking tools bound to userID.
func NewTools(ledger Ledger, userID string, optFns ...func(o *Options)) []tool.Tool {
	opts := Options{Now: func() time.Time { return time.Now().UTC() }}
	for _, fn := range optFns {
		fn(&opts)
	}

	b := &banker{ledger: ledger, userID: userID, now: opts.Now}

	return []tool.Tool{
		tool.NewFunctionTool(
			GetUserAccountsTool,
			"Retrieves all accounts of the current user with name, type and balance.",
			map[string]any{"type": "object", "properties": map[string]any{}},
			b.getUserAccounts,
		),
		tool.NewFunctionTool(
			GetTransactionsSummaryTool,
			"Provides a summary of the user's spending. Can be filtered by a time period "+
				"('this month', 'this year', 'last 6 months') and a specific account.",
			map[string]any{
				"type": "object",
				"properties": map[string]any{
					"time_period":  map[string]any{"type": "string", "description": "Period to summarize, defaults to 'this month'"},
					"account_name": map[string]any{"type": "string", "description": "Restrict the summary to one account"},
				},
			},
			b.getTransactionsSummary,
		),
		tool.NewFunctionTool(
			CreateNewAccountTool,
			"Creates a new bank account for the user.",
			map[string]any{
				"type": "object",
				"properties": map[string]any{
					"account_type": map[string]any{"type": "string", "description": "checking or savings, defaults to checking"},
					"name":         map[string]any{"type": "string", "description": "Display name of the new account"},
					"balance":      map[string]any{"type": "number", "description": "Opening balance"},
				},
			},
			b.createNewAccount,
		),
		tool.NewFunctionTool(
			TransferMoneyTool,
			"Transfers money between the user's accounts or to an external account.",
			map[string]any{
				"type": "object",
				"properties": map[string]any{
					"from_account_name":   map[string]any{"type": "string"},
					"to_account_name":     map[string]any{"type": "string"},
					"amount":              map[string]any{"type": "number"},
					"to_external_details": map[string]any{"type": "object", "description": "Recipient details for external transfers, e.g. {\"name\": ...}"},
				},
			},
			b.transferMoney,
		),
	}
}

func (b *banker) getUserAccounts(tc *core.ToolContext, _ map[string]any) (any, error) {
	accounts, err := b.ledger.Accounts(tc.Context(), b.userID)
	if err != nil {
		return nil, fmt.Errorf("error retrieving accounts: %w", err)
	}
	if len(accounts) == 0 {
		return msgNoAccounts, nil
	}

	type view struct {
		Name        string  `json:"name"`
		AccountType string  `json:"account_type"`
		Balance     float64 `json:"balance"`
	}
	out := make([]view, len(accounts))
	for i, a := range accounts {
		out[i] = view{Name: a.Name, AccountType: a.AccountType, Balance: a.Balance}
	}
	return marshal(out)
}

type categoryAmount struct {
	Category string  `json:"category"`
	Amount   float64 `json:"amount"`
}

type spendingSummary struct {
	TotalSpending float64          `json:"total_spending"`
	Period        string           `json:"period"`
	AccountFilter string           `json:"account_filter"`
	TopCategories []categoryAmount `json:"top_categories"`
}

func (b *banker) getTransactionsSummary(tc *core.ToolContext, args map[string]any) (any, error) {
	ctx := tc.Context()
	period := tool.String(args, "time_period", defaultPeriod)
	accountName := tool.String(args, "account_name", "")

	var accountIDs []string
	if accountName != "" {
		acc, err := b.ledger.AccountByName(ctx, b.userID, accountName)
		if errors.Is(err, core.ErrNotFound) {
			return statusError(fmt.Sprintf("Account '%s' not found.", accountName))
		}
		if err != nil {
			tc.Logger().Error("banking.summary.error", "error", err.Error())
			return statusError(msgSummaryFailed)
		}
		accountIDs = []string{acc.ID}
	} else {
		accounts, err := b.ledger.Accounts(ctx, b.userID)
		if err != nil {
			tc.Logger().Error("banking.summary.error", "error", err.Error())
			return statusError(msgSummaryFailed)
		}
		for _, a := range accounts {
			accountIDs = append(accountIDs, a.ID)
		}
	}

	end := b.now()
	start := PeriodStart(period, end)

	totals, err := b.ledger.SpendingByCategory(ctx, accountIDs, start, end)
	if err != nil {
		tc.Logger().Error("banking.summary.error", "error", err.Error())
		return statusError(msgSummaryFailed)
	}

	filter := accountName
	if filter == "" {
		filter = allAccounts
	}
	if len(totals) == 0 {
		return marshal(map[string]any{
			"status":  "success",
			"summary": fmt.Sprintf("You have no spending for the period '%s' in account '%s'.", period, filter),
		})
	}

	s := spendingSummary{Period: period, AccountFilter: filter}
	var total float64
	for i, ct := range totals {
		total += ct.Total
		if i < topCategories {
			s.TopCategories = append(s.TopCategories, categoryAmount{Category: ct.Category, Amount: round2(ct.Total)})
		}
	}
	s.TotalSpending = round2(total)

	return marshal(map[string]any{"status": "success", "summary": s})
}

// PeriodStart maps a free-form period onto its start time relative to end.
// "last 6 months" and "this year" are recognized; anything else means the
// current month.
func PeriodStart(period string, end time.Time) time.Time {
	p := strings.ToLower(period)
	switch {
	case strings.Contains(p, "last 6 months"):
		return end.AddDate(0, -6, 0)
	case strings.Contains(p, "this year"):
		return time.Date(end.Year(), time.January, 1, 0, 0, 0, 0, end.Location())
	default:
		return time.Date(end.Year(), end.Month(), 1, 0, 0, 0, 0, end.Location())
	}
}

func (b *banker) createNewAccount(tc *core.ToolContext, args map[string]any) (any, error) {
	name := tool.String(args, "name", "")
	if name == "" {
		return statusError(msgNameRequired)
	}
	accountType := tool.String(args, "account_type", defaultAccountType)
	balance := tool.Float(args, "balance", 0)

	acc := &Account{
		ID:            "acc_" + uuid.NewString(),
		UserID:        b.userID,
		AccountNumber: NewAccountNumber(),
		AccountType:   accountType,
		Balance:       balance,
		Name:          name,
		CreatedAt:     b.now(),
	}
	if err := b.ledger.CreateAccount(tc.Context(), acc); err != nil {
		return nil, fmt.Errorf("error creating account: %w", err)
	}

	return marshal(map[string]any{
		"status":       "success",
		"message":      fmt.Sprintf("Successfully created new %s account '%s' with balance $%.2f.", accountType, name, balance),
		"account_id":   acc.ID,
		"account_name": acc.Name,
	})
}

func (b *banker) transferMoney(tc *core.ToolContext, args map[string]any) (any, error) {
	ctx := tc.Context()
	fromName := tool.String(args, "from_account_name", "")
	toName := tool.String(args, "to_account_name", "")
	amount := tool.Float(args, "amount", 0)
	external := tool.Object(args, "to_external_details")

	if fromName == "" || (toName == "" && external == nil) || amount <= 0 {
		return statusError(msgMissingTransfer)
	}

	from, err := b.ledger.AccountByName(ctx, b.userID, fromName)
	if errors.Is(err, core.ErrNotFound) {
		return statusError(fmt.Sprintf("Account '%s' not found.", fromName))
	}
	if err != nil {
		return nil, fmt.Errorf("error during transfer: %w", err)
	}
	if from.Balance < amount {
		return statusError(msgInsufficient)
	}

	tx := &Transaction{
		ID:            "txn_" + uuid.NewString(),
		FromAccountID: from.ID,
		Amount:        amount,
		Type:          TxTypeTransfer,
		Category:      CategoryTransfer,
		Status:        TxStatusCompleted,
		CreatedAt:     b.now(),
	}

	recipient := toName
	if toName != "" {
		to, err := b.ledger.AccountByName(ctx, b.userID, toName)
		if errors.Is(err, core.ErrNotFound) {
			return statusError(fmt.Sprintf("Recipient account '%s' not found.", toName))
		}
		if err != nil {
			return nil, fmt.Errorf("error during transfer: %w", err)
		}
		tx.ToAccountID = to.ID
	} else {
		recipient = tool.String(external, "name", "External")
	}
	tx.Description = "Transfer to " + recipient

	if err := b.ledger.Transfer(ctx, tx); err != nil {
		if errors.Is(err, ErrInsufficientFunds) {
			return statusError(msgInsufficient)
		}
		return nil, fmt.Errorf("error during transfer: %w", err)
	}

	return marshal(map[string]any{
		"status":  "success",
		"message": fmt.Sprintf("Successfully transferred $%.2f.", amount),
	})
}

// NewAccountNumber returns a 12 digit account number derived from a random UUID.
func NewAccountNumber() string {
	u := uuid.New()
	digits := new(big.Int).SetBytes(u[:]).String()
	for len(digits) < 12 {
		digits += "0"
	}
	return digits[:12]
}

func statusError(msg string) (any, error) {
	return marshal(map[string]any{"status": "error", "message": msg})
}

func marshal(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func round2(f float64) float64 { return math.Round(f*100) / 100 }
