// session.go

// Package session manages server-side sessions and one-shot OAuth state tokens.
//
// A session lives at session:<id> as one flat JSON object {userId, ...data, created}
// with a rolling TTL. There is no per-user index and no cap on concurrent sessions.
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/MGallo-Code/obol/internal/store"
)

const (
	sessionPrefix = "session:"
	statePrefix   = "oauth_state:"

	// DefaultTTL is the rolling session lifetime.
	DefaultTTL = 24 * time.Hour
	// DefaultStateTTL is how long an OAuth state token stays valid.
	DefaultStateTTL = 10 * time.Minute

	keyUserID  = "userId"
	keyCreated = "created"
)

// ErrMalformed is returned when a stored session lacks a usable user id.
var ErrMalformed = errors.New("malformed session")

// Cache is the subset of the cache facade the manager needs.
type Cache interface {
	Get(ctx context.Context, key string, dst any) bool
	Set(ctx context.Context, key string, value any, opts store.CacheOptions) error
	GetDel(ctx context.Context, key string, dst any) bool
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// Session is a logged-in user's server-side state.
type Session struct {
	ID        string
	UserID    uuid.UUID
	Data      map[string]any
	CreatedAt time.Time
}

// Manager creates, loads and destroys sessions.
type Manager struct {
	cache    Cache
	ttl      time.Duration
	stateTTL time.Duration
}

// NewManager returns a Manager. Zero TTLs fall back to the defaults.
func NewManager(cache Cache, ttl, stateTTL time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if stateTTL <= 0 {
		stateTTL = DefaultStateTTL
	}
	return &Manager{cache: cache, ttl: ttl, stateTTL: stateTTL}
}

// TTL returns the session lifetime, used for cookie Max-Age.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// NewID returns a 256-bit random value, base64url without padding.
func NewID() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generating id with rand: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b[:]), nil
}

// Create stores a new session for userID and returns its id.
// userId and created always win over same-named keys in data.
func (m *Manager) Create(ctx context.Context, userID uuid.UUID, data map[string]any) (string, error) {
	id, err := NewID()
	if err != nil {
		return "", err
	}

	record := make(map[string]any, len(data)+2)
	for k, v := range data {
		record[k] = v
	}
	record[keyUserID] = userID.String()
	record[keyCreated] = time.Now().UnixMilli()

	if err := m.cache.Set(ctx, sessionPrefix+id, record, store.CacheOptions{TTL: m.ttl}); err != nil {
		return "", fmt.Errorf("storing session: %w", err)
	}
	return id, nil
}

// Get loads a session and slides its TTL forward. Returns nil, nil when absent or expired.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, nil
	}

	key := sessionPrefix + id
	var record map[string]any
	if !m.cache.Get(ctx, key, &record) {
		return nil, nil
	}

	rawID, _ := record[keyUserID].(string)
	userID, err := uuid.FromString(rawID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var created time.Time
	if ms, ok := record[keyCreated].(float64); ok {
		created = time.UnixMilli(int64(ms))
	}

	delete(record, keyUserID)
	delete(record, keyCreated)

	// A failed refresh leaves the old expiry in place; the session is still valid now.
	if err := m.cache.Expire(ctx, key, m.ttl); err != nil {
		slog.Warn("session ttl refresh failed", "error", err)
	}

	return &Session{ID: id, UserID: userID, Data: record, CreatedAt: created}, nil
}

// Destroy removes a session. Destroying an absent session is not an error.
func (m *Manager) Destroy(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if err := m.cache.Del(ctx, sessionPrefix+id); err != nil {
		return fmt.Errorf("destroying session: %w", err)
	}
	return nil
}
