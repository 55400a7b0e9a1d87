// Package ledger owns account balances and expense entries.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

var (
	// ErrAccountNotFound indicates the account does not exist or is inactive.
	ErrAccountNotFound = errors.New("ledger: account not found")
	// ErrInvalidAmount indicates a non-positive posting amount.
	ErrInvalidAmount = errors.New("ledger: amount must be positive")
)

// Querier is satisfied by pgx.Tx, pgx.Conn and pgxpool.Pool.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store reads and mutates ledger rows through q. Bound to a transaction it
// commits together with the caller's other writes.
type Store struct {
	q Querier
}

// NewStore constructs a Store.
func NewStore(q Querier) *Store {
	return &Store{q: q}
}

// Expense is an outflow booked against an account.
type Expense struct {
	PurchaseOrderID int64
	AccountID       int64
	CategoryID      int64
	Amount          decimal.Decimal
	Date            time.Time
	Description     string
	CreatedBy       int64
}

// Debit subtracts amount from the account balance and returns the new balance.
// The UPDATE holds the row lock until the surrounding transaction ends.
func (s *Store) Debit(ctx context.Context, accountID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	const query = `UPDATE accounts
		SET current_balance = current_balance - $2, updated_at = NOW()
		WHERE id = $1 AND is_active
		RETURNING current_balance`
	var balance decimal.Decimal
	if err := s.q.QueryRow(ctx, query, accountID, amount).Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, fmt.Errorf("%w: %d", ErrAccountNotFound, accountID)
		}
		return decimal.Zero, fmt.Errorf("ledger: debit account %d: %w", accountID, err)
	}
	return balance, nil
}

// Balance returns the current balance of an account.
func (s *Store) Balance(ctx context.Context, accountID int64) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := s.q.QueryRow(ctx, `SELECT current_balance FROM accounts WHERE id = $1 AND is_active`, accountID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, fmt.Errorf("%w: %d", ErrAccountNotFound, accountID)
		}
		return decimal.Zero, fmt.Errorf("ledger: balance of account %d: %w", accountID, err)
	}
	return balance, nil
}

// RecordExpense inserts an expense row and returns its id.
func (s *Store) RecordExpense(ctx context.Context, e Expense) (int64, error) {
	if !e.Amount.IsPositive() {
		return 0, ErrInvalidAmount
	}
	const query = `INSERT INTO expenses (purchase_order_id, account_id, category_id, amount, date, description, created_by)
		VALUES (NULLIF($1::bigint, 0), $2, NULLIF($3::bigint, 0), $4, $5, $6, $7)
		RETURNING id`
	var id int64
	err := s.q.QueryRow(ctx, query, e.PurchaseOrderID, e.AccountID, e.CategoryID, e.Amount, e.Date, e.Description, e.CreatedBy).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("ledger: record expense: %w", err)
	}
	return id, nil
}
