// Package banking exposes a user's accounts to agents: listing accounts,
// summarizing spending, opening accounts and moving money. Every tool is
// bound to one user at construction time so the model can never act on
// another user's data.
package banking

import (
	"context"
	"errors"
	"time"
)

// Transaction types and statuses written by the ledger.
const (
	TxTypePayment  = "payment"
	TxTypeTransfer = "transfer"
	TxTypeDeposit  = "deposit"

	TxStatusCompleted = "completed"

	CategoryTransfer = "Transfer"
)

// ErrInsufficientFunds is returned by Ledger.Transfer when the source balance
// is below the amount at commit time.
var ErrInsufficientFunds = errors.New("banking: insufficient funds")

// Account is one bank account owned by a user.
type Account struct {
	ID            string    `db:"id" json:"id"`
	UserID        string    `db:"user_id" json:"user_id"`
	AccountNumber string    `db:"account_number" json:"account_number"`
	AccountType   string    `db:"account_type" json:"account_type"`
	Balance       float64   `db:"balance" json:"balance"`
	Name          string    `db:"name" json:"name"`
	CreatedAt     time.Time `db:"-" json:"created_at"`
}

// Transaction moves Amount out of FromAccountID and, for internal
// transfers, into ToAccountID.
type Transaction struct {
	ID            string    `db:"id" json:"id"`
	FromAccountID string    `db:"from_account_id" json:"from_account_id,omitempty"`
	ToAccountID   string    `db:"to_account_id" json:"to_account_id,omitempty"`
	Amount        float64   `db:"amount" json:"amount"`
	Type          string    `db:"type" json:"type"`
	Description   string    `db:"description" json:"description,omitempty"`
	Category      string    `db:"category" json:"category,omitempty"`
	Status        string    `db:"status" json:"status"`
	CreatedAt     time.Time `db:"-" json:"created_at"`
}

// CategoryTotal is the spending sum of one category.
type CategoryTotal struct {
	Category string  `db:"category" json:"category"`
	Total    float64 `db:"total" json:"amount"`
}

// Ledger is the persistence the banking tools need.
type Ledger interface {
	// Accounts lists the user's accounts ordered by creation.
	Accounts(ctx context.Context, userID string) ([]Account, error)
	// AccountByName returns core.ErrNotFound when the user has no such account.
	AccountByName(ctx context.Context, userID, name string) (*Account, error)
	CreateAccount(ctx context.Context, acc *Account) error
	// Transfer debits tx.FromAccountID, credits tx.ToAccountID when set and
	// records tx, all in one transaction.
	Transfer(ctx context.Context, tx *Transaction) error
	// SpendingByCategory sums payments out of accountIDs created within
	// [from, to], largest total first.
	SpendingByCategory(ctx context.Context, accountIDs []string, from, to time.Time) ([]CategoryTotal, error)
}
