// models.go -- Shared domain types for the store package.
// Used by Postgres (durable store), Redis (cache layer) and the services above them.
package store

import (
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/shopspring/decimal"
)

// ErrCacheMiss is returned by RedisStore reads when the key is absent.
// Callers use errors.Is to distinguish a true miss from a Redis infrastructure failure.
var ErrCacheMiss = errors.New("cache miss")

// ErrNotFound is returned when a required row does not exist.
var ErrNotFound = errors.New("not found")

// ErrInsufficientBalance is returned by DeductBalance when amount exceeds the balance.
var ErrInsufficientBalance = errors.New("insufficient balance")

// ErrInvalidTier is returned for a tier outside free/basic/pro/enterprise.
var ErrInvalidTier = errors.New("invalid subscription tier")

// ErrInvalidAmount is returned for zero or negative balance changes.
var ErrInvalidAmount = errors.New("amount must be positive")

// Subscription tiers, as constrained by the users table CHECK.
const (
	TierFree       = "free"
	TierBasic      = "basic"
	TierPro        = "pro"
	TierEnterprise = "enterprise"
)

// ValidTier reports whether tier is one of the known tiers.
func ValidTier(tier string) bool {
	switch tier {
	case TierFree, TierBasic, TierPro, TierEnterprise:
		return true
	}
	return false
}

// Transaction types, as constrained by the transactions table CHECK.
const (
	TxDeposit             = "deposit"
	TxWithdrawal          = "withdrawal"
	TxSubscriptionPayment = "subscription_payment"
)

// User represents a row in the users table.
// Nullable columns are pointers -- nil means SQL NULL. PasswordHash never leaves the process.
type User struct {
	ID                    uuid.UUID       `json:"id"`
	Username              string          `json:"username"`
	Email                 *string         `json:"email"`
	PasswordHash          *string         `json:"-"`
	Provider              *string         `json:"provider"`
	ProviderID            *string         `json:"provider_id,omitempty"`
	SubscriptionTier      string          `json:"subscription_tier"`
	FailedAttempts        int             `json:"-"`
	LastAttempt           *time.Time      `json:"-"`
	LockedUntil           *time.Time      `json:"-"`
	Balance               decimal.Decimal `json:"balance"`
	SubscriptionExpiresAt *time.Time      `json:"subscription_expires_at,omitempty"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

// NewUser is the input to CreateUser. Exactly one of PasswordHash or Provider is normally set.
type NewUser struct {
	Username     string
	Email        *string
	PasswordHash *string
	Provider     *string
	ProviderID   *string
}

// UserUpdate holds optional column changes. Nil fields are left alone.
type UserUpdate struct {
	Username     *string
	Email        *string
	PasswordHash *string
}

// Empty reports whether the update changes nothing.
func (u UserUpdate) Empty() bool {
	return u.Username == nil && u.Email == nil && u.PasswordHash == nil
}

// UserPreferences is a row in user_preferences.
type UserPreferences struct {
	Theme    string `json:"theme"`
	Language string `json:"language"`
}

// DefaultPreferences applies when a user has no preferences row.
var DefaultPreferences = UserPreferences{Theme: "dark", Language: "en"}

// UserWithPreferences joins a user to their preferences.
type UserWithPreferences struct {
	User
	Preferences UserPreferences `json:"preferences"`
}

// UserWithSubscription joins a user to their subscription summary.
type UserWithSubscription struct {
	User
	TransactionCount int `json:"transaction_count"`
}

// Transaction is a row in the append-only transactions table.
type Transaction struct {
	ID          int64           `json:"id"`
	UserID      uuid.UUID       `json:"user_id"`
	Amount      decimal.Decimal `json:"amount"`
	Type        string          `json:"type"`
	Description *string         `json:"description,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}
