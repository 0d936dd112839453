// stores.go
//
// Shared in-memory user repository and miniredis-backed stores.
// Imported by test files across packages to avoid duplicate fake definitions.
package testutil

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofrs/uuid/v5"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/MGallo-Code/obol/internal/store"
)

// MockUserRepo implements user.Repository and the billing reads for tests.

// Always stateful...Users is a map keyed by id, like a real table.
// Use *Err fields to inject errors for specific operations.
type MockUserRepo struct {
	// Error injection...zero value means no error
	FindErr       error
	CreateUserErr error
	UpdateUserErr error
	DeleteUserErr error
	ListRecentErr error

	Users        map[uuid.UUID]*store.User
	Preferences  map[uuid.UUID]store.UserPreferences
	Transactions map[uuid.UUID][]store.Transaction

	// ListRecentCalls counts repository hits, to observe cache behaviour.
	ListRecentCalls int

	mu sync.Mutex
}

// NewMockUserRepo returns a MockUserRepo seeded with the given users.
func NewMockUserRepo(users ...*store.User) *MockUserRepo {
	m := &MockUserRepo{
		Users:        make(map[uuid.UUID]*store.User),
		Preferences:  make(map[uuid.UUID]store.UserPreferences),
		Transactions: make(map[uuid.UUID][]store.Transaction),
	}
	for _, u := range users {
		m.Users[u.ID] = u
	}
	return m
}

func (m *MockUserRepo) find(match func(*store.User) bool) (*store.User, error) {
	if m.FindErr != nil {
		return nil, m.FindErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.Users {
		if match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MockUserRepo) FindByID(_ context.Context, id uuid.UUID) (*store.User, error) {
	return m.find(func(u *store.User) bool { return u.ID == id })
}

func (m *MockUserRepo) FindByUsernameOrEmail(_ context.Context, identifier string) (*store.User, error) {
	return m.find(func(u *store.User) bool {
		return u.Username == identifier || (u.Email != nil && *u.Email == identifier)
	})
}

func (m *MockUserRepo) FindByEmail(_ context.Context, email string) (*store.User, error) {
	return m.find(func(u *store.User) bool { return u.Email != nil && *u.Email == email })
}

func (m *MockUserRepo) FindByProvider(_ context.Context, provider, providerID string) (*store.User, error) {
	return m.find(func(u *store.User) bool {
		return u.Provider != nil && *u.Provider == provider &&
			u.ProviderID != nil && *u.ProviderID == providerID
	})
}

func (m *MockUserRepo) UsernameExists(ctx context.Context, username string) (bool, error) {
	u, err := m.find(func(u *store.User) bool { return u.Username == username })
	return u != nil, err
}

func (m *MockUserRepo) CreateUser(_ context.Context, nu store.NewUser) (uuid.UUID, error) {
	if m.CreateUserErr != nil {
		return uuid.Nil, m.CreateUserErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.Users {
		if u.Username == nu.Username || (nu.Email != nil && u.Email != nil && *u.Email == *nu.Email) {
			return uuid.Nil, store.ErrConflict
		}
	}
	id := uuid.Must(uuid.NewV7())
	now := time.Now()
	m.Users[id] = &store.User{
		ID:               id,
		Username:         nu.Username,
		Email:            nu.Email,
		PasswordHash:     nu.PasswordHash,
		Provider:         nu.Provider,
		ProviderID:       nu.ProviderID,
		SubscriptionTier: store.TierFree,
		Balance:          decimal.Zero,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	m.Preferences[id] = store.DefaultPreferences
	return id, nil
}

func (m *MockUserRepo) UpdateUser(_ context.Context, id uuid.UUID, upd store.UserUpdate) error {
	if m.UpdateUserErr != nil {
		return m.UpdateUserErr
	}
	if upd.Empty() {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.Users[id]
	if !ok {
		return store.ErrNotFound
	}
	if upd.Username != nil {
		u.Username = *upd.Username
	}
	if upd.Email != nil {
		u.Email = upd.Email
	}
	if upd.PasswordHash != nil {
		u.PasswordHash = upd.PasswordHash
	}
	u.UpdatedAt = time.Now()
	return nil
}

func (m *MockUserRepo) UpsertPreferences(_ context.Context, id uuid.UUID, prefs store.UserPreferences) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Preferences[id] = prefs
	return nil
}

func (m *MockUserRepo) DeleteUser(_ context.Context, id uuid.UUID) error {
	if m.DeleteUserErr != nil {
		return m.DeleteUserErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Users, id)
	delete(m.Preferences, id)
	return nil
}

func (m *MockUserRepo) ListRecent(_ context.Context, limit int) ([]store.User, error) {
	if m.ListRecentErr != nil {
		return nil, m.ListRecentErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ListRecentCalls++
	users := make([]store.User, 0, len(m.Users))
	for _, u := range m.Users {
		users = append(users, *u)
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].CreatedAt.After(users[j].CreatedAt)
	})
	if len(users) > limit {
		users = users[:limit]
	}
	return users, nil
}

func (m *MockUserRepo) GetUserWithPreferences(ctx context.Context, id uuid.UUID) (*store.UserWithPreferences, error) {
	u, err := m.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, store.ErrNotFound
	}
	m.mu.Lock()
	prefs, ok := m.Preferences[id]
	m.mu.Unlock()
	if !ok {
		prefs = store.DefaultPreferences
	}
	return &store.UserWithPreferences{User: *u, Preferences: prefs}, nil
}

func (m *MockUserRepo) GetUserWithSubscription(ctx context.Context, id uuid.UUID) (*store.UserWithSubscription, error) {
	u, err := m.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, store.ErrNotFound
	}
	m.mu.Lock()
	n := len(m.Transactions[id])
	m.mu.Unlock()
	return &store.UserWithSubscription{User: *u, TransactionCount: n}, nil
}

func (m *MockUserRepo) IncrementFailedAttempt(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.Users[id]; ok {
		u.FailedAttempts++
		now := time.Now()
		u.LastAttempt = &now
	}
	return nil
}

func (m *MockUserRepo) ResetFailedAttempts(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.Users[id]; ok {
		u.FailedAttempts = 0
		u.LastAttempt = nil
	}
	return nil
}

func (m *MockUserRepo) GetCurrentTier(_ context.Context, id uuid.UUID) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.Users[id]; ok {
		return u.SubscriptionTier, nil
	}
	return store.TierFree, nil
}

func (m *MockUserRepo) GetBalance(_ context.Context, id uuid.UUID) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.Users[id]
	if !ok {
		return decimal.Zero, store.ErrNotFound
	}
	return u.Balance, nil
}

func (m *MockUserRepo) GetTransactionHistory(_ context.Context, id uuid.UUID, limit int) ([]store.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	txs := m.Transactions[id]
	if len(txs) > limit {
		txs = txs[:limit]
	}
	return append([]store.Transaction(nil), txs...), nil
}

// Redis bundles a miniredis server with the store wrappers built on it.
type Redis struct {
	Server *miniredis.Miniredis
	Client *redis.Client
	KV     *store.RedisStore
	Cache  *store.Cache
}

// NewRedis starts a miniredis server for the lifetime of t.
func NewRedis(t *testing.T) *Redis {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return &Redis{
		Server: mr,
		Client: rdb,
		KV:     store.NewRedisStore(rdb),
		Cache:  store.NewCache(rdb),
	}
}
