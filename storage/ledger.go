package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/hupe1980/bankmesh/core"
	"github.com/hupe1980/bankmesh/tool/banking"
)

type accountRow struct {
	banking.Account
	CreatedAt int64 `db:"created_at"`
}

func (r accountRow) account() banking.Account {
	acc := r.Account
	acc.CreatedAt = fromMillis(r.CreatedAt)
	return acc
}

// User is a bank customer.
type User struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Email     string    `db:"email" json:"email"`
	CreatedAt time.Time `db:"-" json:"created_at"`
}

// EnsureUser creates the user unless it exists.
func (s *Store) EnsureUser(ctx context.Context, u *User) error {
	u.CreatedAt = nowOr(u.CreatedAt)
	query := s.db.Rebind(`INSERT INTO users (id, name, email, created_at) VALUES (?, ?, ?, ?)
ON CONFLICT (id) DO NOTHING`)
	if _, err := s.db.ExecContext(ctx, query, u.ID, u.Name, u.Email, millis(u.CreatedAt)); err != nil {
		return fmt.Errorf("storage: ensure user %q: %w", u.ID, err)
	}
	return nil
}

// Accounts implements banking.Ledger.
func (s *Store) Accounts(ctx context.Context, userID string) ([]banking.Account, error) {
	var rows []accountRow
	query := s.db.Rebind(`SELECT * FROM accounts WHERE user_id = ? ORDER BY created_at, id`)
	if err := s.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, fmt.Errorf("storage: accounts: %w", err)
	}
	out := make([]banking.Account, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.account())
	}
	return out, nil
}

// AccountByName implements banking.Ledger.
func (s *Store) AccountByName(ctx context.Context, userID, name string) (*banking.Account, error) {
	var row accountRow
	query := s.db.Rebind(`SELECT * FROM accounts WHERE user_id = ? AND name = ? ORDER BY created_at LIMIT 1`)
	err := s.db.GetContext(ctx, &row, query, userID, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: account %q: %w", name, err)
	}
	acc := row.account()
	return &acc, nil
}

// CreateAccount implements banking.Ledger.
func (s *Store) CreateAccount(ctx context.Context, acc *banking.Account) error {
	if acc.ID == "" {
		acc.ID = "acc_" + uuid.NewString()
	}
	acc.CreatedAt = nowOr(acc.CreatedAt)

	query := s.db.Rebind(`INSERT INTO accounts (id, user_id, account_number, account_type, balance, name, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query, acc.ID, acc.UserID, acc.AccountNumber, acc.AccountType,
		acc.Balance, acc.Name, millis(acc.CreatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("storage: create account: %w", core.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("storage: create account: %w", err)
	}
	return nil
}

// Transfer implements banking.Ledger.
func (s *Store) Transfer(ctx context.Context, t *banking.Transaction) error {
	if t.ID == "" {
		t.ID = "txn_" + uuid.NewString()
	}
	t.CreatedAt = nowOr(t.CreatedAt)

	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		var balance float64
		err := tx.GetContext(ctx, &balance,
			tx.Rebind(`SELECT balance FROM accounts WHERE id = ?`+s.dialect.forUpdate()), t.FromAccountID)
		if errors.Is(err, sql.ErrNoRows) {
			return core.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("storage: read balance: %w", err)
		}
		if balance < t.Amount {
			return banking.ErrInsufficientFunds
		}

		// The guard keeps the debit safe even where the row lock is absent.
		res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE accounts SET balance = balance - ? WHERE id = ? AND balance >= ?`),
			t.Amount, t.FromAccountID, t.Amount)
		if err != nil {
			return fmt.Errorf("storage: debit: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return banking.ErrInsufficientFunds
		}

		if t.ToAccountID != "" {
			res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE accounts SET balance = balance + ? WHERE id = ?`),
				t.Amount, t.ToAccountID)
			if err != nil {
				return fmt.Errorf("storage: credit: %w", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return core.ErrNotFound
			}
		}

		return insertTransaction(ctx, tx, t)
	})
}

// RecordTransaction stores a transaction without touching balances. Used to
// load statement history.
func (s *Store) RecordTransaction(ctx context.Context, t *banking.Transaction) error {
	if t.ID == "" {
		t.ID = "txn_" + uuid.NewString()
	}
	t.CreatedAt = nowOr(t.CreatedAt)
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		return insertTransaction(ctx, tx, t)
	})
}

func insertTransaction(ctx context.Context, tx *sqlx.Tx, t *banking.Transaction) error {
	query := tx.Rebind(`INSERT INTO transactions (id, from_account_id, to_account_id, amount, type,
description, category, status, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if _, err := tx.ExecContext(ctx, query, t.ID, t.FromAccountID, t.ToAccountID, t.Amount, t.Type,
		t.Description, t.Category, t.Status, millis(t.CreatedAt)); err != nil {
		return fmt.Errorf("storage: insert transaction: %w", err)
	}
	return nil
}

// SpendingByCategory implements banking.Ledger.
func (s *Store) SpendingByCategory(ctx context.Context, accountIDs []string, from, to time.Time) ([]banking.CategoryTotal, error) {
	if len(accountIDs) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(`SELECT category, SUM(amount) AS total FROM transactions
WHERE from_account_id IN (?) AND type = ? AND created_at BETWEEN ? AND ?
GROUP BY category ORDER BY total DESC`, accountIDs, banking.TxTypePayment, millis(from), millis(to))
	if err != nil {
		return nil, fmt.Errorf("storage: spending query: %w", err)
	}

	var totals []banking.CategoryTotal
	if err := s.db.SelectContext(ctx, &totals, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("storage: spending by category: %w", err)
	}
	return totals, nil
}
