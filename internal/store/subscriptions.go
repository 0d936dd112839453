// subscriptions.go -- subscription tier, balance and transaction history queries.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// subscriptionPeriod is how long an upgrade lasts, in days.
const subscriptionPeriod = 30

// GetCurrentTier returns the user's tier, or TierFree when the user is missing.
func (s *PostgresStore) GetCurrentTier(ctx context.Context, id uuid.UUID) (string, error) {
	var tier string
	err := s.pool.QueryRow(ctx, "SELECT subscription_tier FROM users WHERE id = $1", id).Scan(&tier)
	if errors.Is(err, pgx.ErrNoRows) {
		return TierFree, nil
	}
	if err != nil {
		return "", fmt.Errorf("reading tier: %w", err)
	}
	return tier, nil
}

// UpgradeTier sets a new tier with a fresh 30-day expiry and appends the change to history.
func (s *PostgresStore) UpgradeTier(ctx context.Context, id uuid.UUID, tier string) error {
	if !ValidTier(tier) {
		return ErrInvalidTier
	}

	return s.WithTx(ctx, func(tx pgx.Tx) error {
		var old string
		err := tx.QueryRow(ctx,
			"SELECT subscription_tier FROM users WHERE id = $1 FOR UPDATE", id,
		).Scan(&old)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("reading tier: %w", err)
		}

		_, err = tx.Exec(ctx,
			`UPDATE users SET subscription_tier = $1,
			 subscription_expires_at = now() + make_interval(days => $2)
			 WHERE id = $3`,
			tier, subscriptionPeriod, id)
		if err != nil {
			return fmt.Errorf("updating tier: %w", err)
		}

		_, err = tx.Exec(ctx,
			"INSERT INTO subscription_history (user_id, old_tier, new_tier) VALUES ($1, $2, $3)",
			id, old, tier)
		if err != nil {
			return fmt.Errorf("recording tier change: %w", err)
		}
		return nil
	})
}

// GetBalance returns the user's balance. ErrNotFound when the user is missing.
func (s *PostgresStore) GetBalance(ctx context.Context, id uuid.UUID) (decimal.Decimal, error) {
	var bal decimal.Decimal
	err := s.pool.QueryRow(ctx, "SELECT balance FROM users WHERE id = $1", id).Scan(&bal)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, ErrNotFound
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("reading balance: %w", err)
	}
	return bal, nil
}

// AddBalance credits amount and records a transaction of txType.
func (s *PostgresStore) AddBalance(ctx context.Context, id uuid.UUID, amount decimal.Decimal, txType, description string) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}

	return s.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, "UPDATE users SET balance = balance + $1 WHERE id = $2", amount, id)
		if err != nil {
			return fmt.Errorf("crediting balance: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return insertTransaction(ctx, tx, id, amount, txType, description)
	})
}

// DeductBalance debits amount and records a transaction of txType.
// ErrInsufficientBalance leaves the balance untouched.
func (s *PostgresStore) DeductBalance(ctx context.Context, id uuid.UUID, amount decimal.Decimal, txType, description string) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}

	return s.WithTx(ctx, func(tx pgx.Tx) error {
		var bal decimal.Decimal
		err := tx.QueryRow(ctx, "SELECT balance FROM users WHERE id = $1 FOR UPDATE", id).Scan(&bal)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("reading balance: %w", err)
		}
		if amount.GreaterThan(bal) {
			return ErrInsufficientBalance
		}

		if _, err := tx.Exec(ctx, "UPDATE users SET balance = balance - $1 WHERE id = $2", amount, id); err != nil {
			return fmt.Errorf("debiting balance: %w", err)
		}
		return insertTransaction(ctx, tx, id, amount.Neg(), txType, description)
	})
}

func insertTransaction(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount decimal.Decimal, txType, description string) error {
	var desc *string
	if description != "" {
		desc = &description
	}
	_, err := tx.Exec(ctx,
		"INSERT INTO transactions (user_id, amount, type, description) VALUES ($1, $2, $3, $4)",
		id, amount, txType, desc)
	if err != nil {
		return fmt.Errorf("recording transaction: %w", err)
	}
	return nil
}

// GetTransactionHistory returns up to limit transactions, newest first.
func (s *PostgresStore) GetTransactionHistory(ctx context.Context, id uuid.UUID, limit int) ([]Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, amount, type, description, created_at
		 FROM transactions WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`,
		id, limit)
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	defer rows.Close()

	txs := []Transaction{}
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Amount, &t.Type, &t.Description, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning transaction: %w", err)
		}
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating transactions: %w", err)
	}
	return txs, nil
}
