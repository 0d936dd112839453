// users.go -- user, preferences and failed-attempt queries.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrConflict is returned when an insert or update hits a unique constraint.
var ErrConflict = errors.New("unique constraint violation")

const userColumns = "id, username, email, password_hash, provider, provider_id, " +
	"subscription_tier, failed_attempts, last_attempt, locked_until, balance, " +
	"subscription_expires_at, created_at, updated_at"

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(
		&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Provider, &u.ProviderID,
		&u.SubscriptionTier, &u.FailedAttempts, &u.LastAttempt, &u.LockedUntil, &u.Balance,
		&u.SubscriptionExpiresAt, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// findOne runs a single-user query. Returns nil, nil when no row matches.
func findOne(ctx context.Context, q querier, what, sql string, args ...any) (*User, error) {
	u, err := scanUser(q.QueryRow(ctx, sql, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding user by %s: %w", what, err)
	}
	return u, nil
}

// FindByID returns the user with id, or nil if none.
func (s *PostgresStore) FindByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return findOne(ctx, s.pool, "id",
		"SELECT "+userColumns+" FROM users WHERE id = $1", id)
}

// FindByUsernameOrEmail matches identifier against username or email.
func (s *PostgresStore) FindByUsernameOrEmail(ctx context.Context, identifier string) (*User, error) {
	return findOne(ctx, s.pool, "username or email",
		"SELECT "+userColumns+" FROM users WHERE username = $1 OR email = $1 LIMIT 1", identifier)
}

// FindByEmail returns the user with email, or nil if none.
func (s *PostgresStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	return findOne(ctx, s.pool, "email",
		"SELECT "+userColumns+" FROM users WHERE email = $1 LIMIT 1", email)
}

// FindByProvider returns the user linked to an OAuth identity, or nil if none.
func (s *PostgresStore) FindByProvider(ctx context.Context, provider, providerID string) (*User, error) {
	return findOne(ctx, s.pool, "provider",
		"SELECT "+userColumns+" FROM users WHERE provider = $1 AND provider_id = $2", provider, providerID)
}

// UsernameExists reports whether username is taken.
func (s *PostgresStore) UsernameExists(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM users WHERE username = $1)", username,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking username: %w", err)
	}
	return exists, nil
}

// CreateUser inserts a user and their default preferences in one transaction.
// Returns ErrConflict when username, email or provider identity is taken.
func (s *PostgresStore) CreateUser(ctx context.Context, nu NewUser) (uuid.UUID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("generating user id: %w", err)
	}

	err = s.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO users (id, username, email, password_hash, provider, provider_id)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			id, nu.Username, nu.Email, nu.PasswordHash, nu.Provider, nu.ProviderID)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, "INSERT INTO user_preferences (user_id) VALUES ($1)", id)
		return err
	})
	if isUniqueViolation(err) {
		return uuid.Nil, ErrConflict
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("creating user: %w", err)
	}
	return id, nil
}

// UpdateUser applies the non-nil fields of upd. A no-op update touches nothing.
func (s *PostgresStore) UpdateUser(ctx context.Context, id uuid.UUID, upd UserUpdate) error {
	if upd.Empty() {
		return nil
	}

	var (
		sets []string
		args []any
	)
	add := func(col string, v *string) {
		if v == nil {
			return
		}
		args = append(args, *v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	add("username", upd.Username)
	add("email", upd.Email)
	add("password_hash", upd.PasswordHash)
	args = append(args, id)

	sql := fmt.Sprintf("UPDATE users SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))
	tag, err := s.pool.Exec(ctx, sql, args...)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("updating user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertPreferences writes a user's preferences, creating the row if needed.
func (s *PostgresStore) UpsertPreferences(ctx context.Context, id uuid.UUID, prefs UserPreferences) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO user_preferences (user_id, theme, language) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id) DO UPDATE SET theme = EXCLUDED.theme, language = EXCLUDED.language`,
		id, prefs.Theme, prefs.Language)
	if err != nil {
		return fmt.Errorf("upserting preferences: %w", err)
	}
	return nil
}

// DeleteUser removes a user. Preferences, transactions and history cascade.
func (s *PostgresStore) DeleteUser(ctx context.Context, id uuid.UUID) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM users WHERE id = $1", id); err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	return nil
}

// ListRecent returns up to limit users, newest first.
func (s *PostgresStore) ListRecent(ctx context.Context, limit int) ([]User, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+userColumns+" FROM users ORDER BY created_at DESC LIMIT $1", limit)
	if err != nil {
		return nil, fmt.Errorf("listing recent users: %w", err)
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating users: %w", err)
	}
	return users, nil
}

// GetUserWithPreferences reads a user and their preferences in one transaction.
// Missing preferences fall back to DefaultPreferences. ErrNotFound when the user is missing.
func (s *PostgresStore) GetUserWithPreferences(ctx context.Context, id uuid.UUID) (*UserWithPreferences, error) {
	var out *UserWithPreferences
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		u, err := findOne(ctx, tx, "id", "SELECT "+userColumns+" FROM users WHERE id = $1", id)
		if err != nil {
			return err
		}
		if u == nil {
			return ErrNotFound
		}

		prefs := DefaultPreferences
		err = tx.QueryRow(ctx,
			"SELECT theme, language FROM user_preferences WHERE user_id = $1", id,
		).Scan(&prefs.Theme, &prefs.Language)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("reading preferences: %w", err)
		}

		out = &UserWithPreferences{User: *u, Preferences: prefs}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetUserWithSubscription reads a user and their transaction count in one transaction.
func (s *PostgresStore) GetUserWithSubscription(ctx context.Context, id uuid.UUID) (*UserWithSubscription, error) {
	var out *UserWithSubscription
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		u, err := findOne(ctx, tx, "id", "SELECT "+userColumns+" FROM users WHERE id = $1", id)
		if err != nil {
			return err
		}
		if u == nil {
			return ErrNotFound
		}

		var count int
		if err := tx.QueryRow(ctx,
			"SELECT COUNT(*) FROM transactions WHERE user_id = $1", id,
		).Scan(&count); err != nil {
			return fmt.Errorf("counting transactions: %w", err)
		}

		out = &UserWithSubscription{User: *u, TransactionCount: count}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// IncrementFailedAttempt bumps the failed-login counter. Bookkeeping only; nothing enforces lockout.
func (s *PostgresStore) IncrementFailedAttempt(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		"UPDATE users SET failed_attempts = failed_attempts + 1, last_attempt = now() WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("incrementing failed attempts: %w", err)
	}
	return nil
}

// ResetFailedAttempts zeroes the failed-login counter.
func (s *PostgresStore) ResetFailedAttempts(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, "UPDATE users SET failed_attempts = 0 WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("resetting failed attempts: %w", err)
	}
	return nil
}
