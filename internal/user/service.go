// service.go -- user lifecycle on top of the relational store and the cache facade.
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/MGallo-Code/obol/internal/store"
)

const (
	userCacheTTL   = time.Hour
	recentCacheTTL = time.Hour
	recentListKey  = "users:recent:list"

	// maxUsernameSuffix bounds the base1..baseN search for a free OAuth username.
	maxUsernameSuffix = 100
)

var (
	// ErrInvalidCredentials covers both unknown identifier and wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserExists is returned when username or email is already registered.
	ErrUserExists = errors.New("user already exists")
	// ErrUsernameUnavailable is returned when no free username is left for an OAuth signup.
	ErrUsernameUnavailable = errors.New("could not generate unique username")
	// ErrNotFound is returned when the target user does not exist.
	ErrNotFound = store.ErrNotFound
)

// Repository is the relational surface the service needs. Satisfied by *store.PostgresStore.
type Repository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*store.User, error)
	FindByUsernameOrEmail(ctx context.Context, identifier string) (*store.User, error)
	FindByEmail(ctx context.Context, email string) (*store.User, error)
	FindByProvider(ctx context.Context, provider, providerID string) (*store.User, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
	CreateUser(ctx context.Context, nu store.NewUser) (uuid.UUID, error)
	UpdateUser(ctx context.Context, id uuid.UUID, upd store.UserUpdate) error
	UpsertPreferences(ctx context.Context, id uuid.UUID, prefs store.UserPreferences) error
	DeleteUser(ctx context.Context, id uuid.UUID) error
	ListRecent(ctx context.Context, limit int) ([]store.User, error)
	GetUserWithPreferences(ctx context.Context, id uuid.UUID) (*store.UserWithPreferences, error)
	GetUserWithSubscription(ctx context.Context, id uuid.UUID) (*store.UserWithSubscription, error)
	IncrementFailedAttempt(ctx context.Context, id uuid.UUID) error
	ResetFailedAttempts(ctx context.Context, id uuid.UUID) error
}

// Cache is the subset of the cache facade the service needs. Satisfied by *store.Cache.
type Cache interface {
	Get(ctx context.Context, key string, dst any) bool
	Set(ctx context.Context, key string, value any, opts store.CacheOptions) error
	InvalidateByTag(ctx context.Context, tags ...string) error
	LRange(ctx context.Context, key string, start, stop int64, dst any) bool
	Multi() *store.CacheTx
}

// OAuthIdentity is what a provider tells us about a signing-in user.
type OAuthIdentity struct {
	Provider      string
	ProviderID    string
	Email         string
	EmailVerified bool
	// Login is the preferred username base (GitHub login, Google name).
	Login string
}

// Service implements user lookups, registration and credential checks.
type Service struct {
	repo  Repository
	cache Cache
}

// NewService wires a Service.
func NewService(repo Repository, cache Cache) *Service {
	return &Service{repo: repo, cache: cache}
}

func cacheKey(id uuid.UUID) string {
	return "user:" + id.String()
}

// Get returns the user with preferences, read through user:<id> for an hour.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*store.UserWithPreferences, error) {
	key := cacheKey(id)

	var cached store.UserWithPreferences
	if s.cache.Get(ctx, key, &cached) {
		return &cached, nil
	}

	u, err := s.repo.GetUserWithPreferences(ctx, id)
	if err != nil {
		return nil, err
	}

	// A failed fill only costs the next reader a database hit.
	if err := s.cache.Set(ctx, key, u, store.CacheOptions{TTL: userCacheTTL, Tags: []string{key}}); err != nil {
		slog.Warn("user cache fill failed", "user_id", id, "error", err)
	}
	return u, nil
}

// Create registers a password user. ErrUserExists when the username or email is taken.
func (s *Service) Create(ctx context.Context, username, email, password string) (*store.User, error) {
	existing, err := s.repo.FindByUsernameOrEmail(ctx, username)
	if err != nil {
		return nil, err
	}
	if existing == nil && email != "" {
		if existing, err = s.repo.FindByEmail(ctx, email); err != nil {
			return nil, err
		}
	}
	if existing != nil {
		return nil, ErrUserExists
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	var emailPtr *string
	if email != "" {
		emailPtr = &email
	}

	id, err := s.repo.CreateUser(ctx, store.NewUser{
		Username:     username,
		Email:        emailPtr,
		PasswordHash: &hash,
	})
	// Lost a race with a concurrent registration.
	if errors.Is(err, store.ErrConflict) {
		return nil, ErrUserExists
	}
	if err != nil {
		return nil, err
	}

	return &store.User{
		ID:               id,
		Username:         username,
		Email:            emailPtr,
		SubscriptionTier: store.TierFree,
		CreatedAt:        time.Now(),
	}, nil
}

// Authenticate checks identifier (username or email) and password.
// Unknown identifiers, OAuth-only accounts and wrong passwords all return
// ErrInvalidCredentials after the same hashing work.
func (s *Service) Authenticate(ctx context.Context, identifier, password string) (*store.User, error) {
	u, err := s.repo.FindByUsernameOrEmail(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if u == nil || u.PasswordHash == nil {
		verifyDummy(password)
		return nil, ErrInvalidCredentials
	}

	ok, err := VerifyPassword(password, *u.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verifying password for %s: %w", u.ID, err)
	}
	if !ok {
		if err := s.repo.IncrementFailedAttempt(ctx, u.ID); err != nil {
			slog.Warn("recording failed attempt", "user_id", u.ID, "error", err)
		}
		return nil, ErrInvalidCredentials
	}

	if u.FailedAttempts > 0 {
		if err := s.repo.ResetFailedAttempts(ctx, u.ID); err != nil {
			slog.Warn("resetting failed attempts", "user_id", u.ID, "error", err)
		}
	}
	return u, nil
}

// ChangePassword replaces the password after checking the current one.
// ErrNotFound when the user is gone; ErrInvalidCredentials on a wrong current password.
func (s *Service) ChangePassword(ctx context.Context, id uuid.UUID, current, next string) error {
	u, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if u == nil {
		return ErrNotFound
	}
	if u.PasswordHash == nil {
		verifyDummy(current)
		return ErrInvalidCredentials
	}

	ok, err := VerifyPassword(current, *u.PasswordHash)
	if err != nil {
		return fmt.Errorf("verifying password for %s: %w", id, err)
	}
	if !ok {
		return ErrInvalidCredentials
	}

	hash, err := HashPassword(next)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateUser(ctx, id, store.UserUpdate{PasswordHash: &hash}); err != nil {
		return err
	}
	s.invalidate(ctx, id)
	return nil
}

// Update applies profile changes and optional preferences, then drops cached copies.
func (s *Service) Update(ctx context.Context, id uuid.UUID, upd store.UserUpdate, prefs *store.UserPreferences) error {
	err := s.repo.UpdateUser(ctx, id, upd)
	if errors.Is(err, store.ErrConflict) {
		return ErrUserExists
	}
	if err != nil {
		return err
	}
	if prefs != nil {
		if err := s.repo.UpsertPreferences(ctx, id, *prefs); err != nil {
			return err
		}
	}
	s.invalidate(ctx, id)
	return nil
}

// Delete removes the user and drops cached copies.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.DeleteUser(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, id)
	return nil
}

func (s *Service) invalidate(ctx context.Context, id uuid.UUID) {
	if err := s.cache.InvalidateByTag(ctx, cacheKey(id)); err != nil {
		slog.Warn("user cache invalidation failed", "user_id", id, "error", err)
	}
}

// ListRecent returns up to limit users, newest first, cached as a list for an hour.
func (s *Service) ListRecent(ctx context.Context, limit int) ([]store.User, error) {
	if limit <= 0 {
		limit = 10
	}

	var cached []store.User
	if s.cache.LRange(ctx, recentListKey, 0, int64(limit-1), &cached) && len(cached) > 0 {
		return cached, nil
	}

	users, err := s.repo.ListRecent(ctx, limit)
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return users, nil
	}

	// LPUSH prepends, so push oldest first to keep newest at the head.
	vals := make([]any, len(users))
	for i, u := range users {
		vals[len(users)-1-i] = u
	}
	err = s.cache.Multi().
		Del(ctx, recentListKey).
		LPush(ctx, recentListKey, vals...).
		Expire(ctx, recentListKey, recentCacheTTL).
		Exec(ctx)
	if err != nil {
		slog.Warn("recent users cache fill failed", "error", err)
	}
	return users, nil
}

// GetWithSubscription returns the user with a transaction count.
func (s *Service) GetWithSubscription(ctx context.Context, id uuid.UUID) (*store.UserWithSubscription, error) {
	return s.repo.GetUserWithSubscription(ctx, id)
}

// FindOrCreateOAuthUser resolves a provider identity to a local user.
// Lookup order: provider identity, then verified email, else a new account
// under the first free username of login, login1 .. login100.
func (s *Service) FindOrCreateOAuthUser(ctx context.Context, id OAuthIdentity) (*store.User, error) {
	u, err := s.repo.FindByProvider(ctx, id.Provider, id.ProviderID)
	if err != nil || u != nil {
		return u, err
	}

	if id.Email != "" && id.EmailVerified {
		u, err := s.repo.FindByEmail(ctx, id.Email)
		if err != nil || u != nil {
			return u, err
		}
	}

	username, err := s.uniqueUsername(ctx, id.Login)
	if err != nil {
		return nil, err
	}

	var email *string
	if id.Email != "" && id.EmailVerified {
		email = &id.Email
	}
	provider, providerID := id.Provider, id.ProviderID

	newID, err := s.repo.CreateUser(ctx, store.NewUser{
		Username:   username,
		Email:      email,
		Provider:   &provider,
		ProviderID: &providerID,
	})
	if errors.Is(err, store.ErrConflict) {
		return nil, ErrUserExists
	}
	if err != nil {
		return nil, err
	}

	slog.Info("created oauth user", "user_id", newID, "provider", provider, "username", username)
	return &store.User{
		ID:               newID,
		Username:         username,
		Email:            email,
		Provider:         &provider,
		ProviderID:       &providerID,
		SubscriptionTier: store.TierFree,
		CreatedAt:        time.Now(),
	}, nil
}

func (s *Service) uniqueUsername(ctx context.Context, base string) (string, error) {
	if base == "" {
		base = "user"
	}
	for i := 0; i <= maxUsernameSuffix; i++ {
		candidate := base
		if i > 0 {
			candidate = base + strconv.Itoa(i)
		}
		taken, err := s.repo.UsernameExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", ErrUsernameUnavailable
}
