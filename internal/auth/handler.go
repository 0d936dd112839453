// handler.go -- HTTP handlers for the /api/auth/* password endpoints.
package auth

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/shopspring/decimal"

	"github.com/MGallo-Code/obol/internal/billing"
	"github.com/MGallo-Code/obol/internal/oauth"
	"github.com/MGallo-Code/obol/internal/ratelimit"
	"github.com/MGallo-Code/obol/internal/session"
	"github.com/MGallo-Code/obol/internal/store"
	"github.com/MGallo-Code/obol/internal/user"
)

// UserService defines the user operations needed by handlers.
// Satisfied by *user.Service -- defined here (at consumer) per Go convention.
type UserService interface {
	Get(ctx context.Context, id uuid.UUID) (*store.UserWithPreferences, error)
	Create(ctx context.Context, username, email, password string) (*store.User, error)
	Authenticate(ctx context.Context, identifier, password string) (*store.User, error)
	ChangePassword(ctx context.Context, id uuid.UUID, current, next string) error
	ListRecent(ctx context.Context, limit int) ([]store.User, error)
	FindOrCreateOAuthUser(ctx context.Context, id user.OAuthIdentity) (*store.User, error)
}

// SessionStore defines session operations needed by handlers.
// Satisfied by *session.Manager.
type SessionStore interface {
	Create(ctx context.Context, userID uuid.UUID, data map[string]any) (string, error)
	Get(ctx context.Context, id string) (*session.Session, error)
	Destroy(ctx context.Context, id string) error
	IssueState(ctx context.Context, verifier string) (string, error)
	ConsumeState(ctx context.Context, state string) (string, bool)
	TTL() time.Duration
}

// RateLimiter defines the programmatic limiter operations needed by handlers.
// Satisfied by *ratelimit.Limiter.
type RateLimiter interface {
	IsAllowed(ctx context.Context, key string, opts ratelimit.Options) ratelimit.Info
	Reset(ctx context.Context, keys ...string) error
}

// Billing defines the Stripe operations needed by handlers.
// Satisfied by *billing.Service.
type Billing interface {
	CreateCheckoutSession(ctx context.Context, userID, email string) (string, error)
	GetCustomerSubscription(ctx context.Context, userID string) (*billing.SubscriptionCache, error)
	HandleWebhookEvent(ctx context.Context, body []byte, signature string) error
}

// Accounts defines the subscription reads needed by billing handlers.
// Satisfied by *store.PostgresStore.
type Accounts interface {
	GetCurrentTier(ctx context.Context, id uuid.UUID) (string, error)
	GetBalance(ctx context.Context, id uuid.UUID) (decimal.Decimal, error)
	GetTransactionHistory(ctx context.Context, id uuid.UUID, limit int) ([]store.Transaction, error)
}

// HealthChecker is a dependency reported by GET /health.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// AuthHandler holds dependencies for HTTP handlers.
type AuthHandler struct {
	Users    UserService
	Sessions SessionStore
	Limiter  RateLimiter
	Guards   *Guards
	Accounts Accounts
	// Billing is nil when Stripe is not configured.
	Billing Billing
	// OAuth maps provider name (github, google) to its client. Unconfigured providers are absent.
	OAuth map[string]oauth.Provider
	// Health maps dependency name to its checker.
	Health map[string]HealthChecker
	// CookieDomain is the session cookie's Domain attribute. Empty means host-only.
	CookieDomain string
}

// publicUser is the user shape returned by register, login and me.
type publicUser struct {
	Username  string     `json:"username"`
	Email     *string    `json:"email,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	Provider  *string    `json:"provider,omitempty"`
}

// --- Register ---

type registerRequest struct {
	Username string `json:"username" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Register handles POST /api/auth/register.
// Creates the user, signs them in and returns 201.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if details, missing := fieldErrors(&req, "username", "email", "password"); details != nil {
		msg := "Invalid email format"
		if missing {
			msg = "Missing fields"
		}
		logWarn(r, "register rejected", "reason", "validation", "missing", missing)
		writeErrorDetails(w, http.StatusBadRequest, msg, details)
		return
	}

	if msg := user.ValidatePassword(req.Password); msg != "" {
		logWarn(r, "register rejected", "reason", "weak_password")
		BadRequest(w, msg)
		return
	}

	u, err := h.Users.Create(r.Context(), req.Username, req.Email, req.Password)
	if errors.Is(err, user.ErrUserExists) {
		logWarn(r, "register rejected", "reason", "user_exists")
		Conflict(w, "User already exists")
		return
	}
	if err != nil {
		InternalServerError(w, r, err)
		return
	}

	if err := h.startSession(w, r, u, map[string]any{"username": u.Username}); err != nil {
		InternalServerError(w, r, err)
		return
	}

	logInfo(r, "user registered", "user_id", u.ID)
	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"message": "Registration successful",
		"user":    publicUser{Username: u.Username, Email: u.Email},
	})
}

// --- Login ---

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// Login handles POST /api/auth/login. username may also be an email address.
// Unknown users and wrong passwords get the same 401.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if details, _ := fieldErrors(&req, "username", "password"); details != nil {
		logWarn(r, "login rejected", "reason", "missing_credentials")
		writeErrorDetails(w, http.StatusBadRequest, "Missing credentials", details)
		return
	}

	u, err := h.Users.Authenticate(r.Context(), req.Username, req.Password)
	if errors.Is(err, user.ErrInvalidCredentials) {
		logWarn(r, "login failed", "reason", "invalid_credentials")
		Unauthorized(w, "Invalid credentials")
		return
	}
	if err != nil {
		InternalServerError(w, r, err)
		return
	}

	// Clear the login counters so a successful sign-in isn't penalised by earlier typos.
	if h.Guards != nil {
		keys := []string{
			h.Guards.LoginIP.KeyFor(ratelimit.ClientIP(r)),
			h.Guards.LoginAccount.KeyFor(u.ID.String()),
			h.Guards.LoginAccount.Key(r),
		}
		if err := h.Limiter.Reset(r.Context(), keys...); err != nil {
			logWarn(r, "login limit reset failed", "error", err)
		}
	}

	data := map[string]any{
		"username":  u.Username,
		"ip":        ratelimit.ClientIP(r),
		"userAgent": r.UserAgent(),
	}
	if err := h.startSession(w, r, u, data); err != nil {
		InternalServerError(w, r, err)
		return
	}

	logInfo(r, "user logged in", "user_id", u.ID)
	OK(w, map[string]any{
		"success": true,
		"message": "Login successful",
		"user":    publicUser{Username: u.Username, Email: u.Email},
	})
}

// --- Me ---

// Me handles GET /api/auth/me. Always 200; anonymous callers get authenticated=false.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	sess, ok := SessionFromContext(r.Context())
	if !ok {
		OK(w, map[string]any{"success": false, "authenticated": false})
		return
	}

	u, err := h.Users.Get(r.Context(), sess.UserID)
	if errors.Is(err, user.ErrNotFound) {
		logWarn(r, "session for missing user", "user_id", sess.UserID)
		OK(w, map[string]any{"success": false, "authenticated": false, "error": "User not found"})
		return
	}
	if err != nil {
		InternalServerError(w, r, err)
		return
	}

	created := u.CreatedAt
	OK(w, map[string]any{
		"success":       true,
		"authenticated": true,
		"user": publicUser{
			Username:  u.Username,
			Email:     u.Email,
			CreatedAt: &created,
			Provider:  u.Provider,
		},
	})
}

// --- Logout ---

// Logout handles POST /api/auth/logout. Succeeds whether or not a session existed.
// Cookies are cleared even when the store fails to drop the session.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var id string
	if sess, ok := SessionFromContext(r.Context()); ok {
		id = sess.ID
	} else if c, err := r.Cookie(SessionCookie); err == nil {
		id = c.Value
	}

	h.clearCookie(w, r, SessionCookie)
	h.clearCookie(w, r, "csrf_token")

	if err := h.Sessions.Destroy(r.Context(), id); err != nil {
		InternalServerError(w, r, err)
		return
	}

	logInfo(r, "user logged out", "user_id", SessionAccount(r))
	OK(w, map[string]any{"success": true, "message": "Logged out successfully"})
}

// --- Change password ---

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required"`
}

// ChangePassword handles POST /api/auth/change-password. Requires a session.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	sess, ok := SessionFromContext(r.Context())
	if !ok {
		Unauthorized(w, "Unauthorized")
		return
	}

	var req changePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if details, _ := fieldErrors(&req, "currentPassword", "newPassword"); details != nil {
		writeErrorDetails(w, http.StatusBadRequest, "Missing password fields", details)
		return
	}
	if msg := user.ValidatePassword(req.NewPassword); msg != "" {
		BadRequest(w, msg)
		return
	}

	err := h.Users.ChangePassword(r.Context(), sess.UserID, req.CurrentPassword, req.NewPassword)
	switch {
	case errors.Is(err, user.ErrNotFound):
		NotFound(w, "User not found")
		return
	case errors.Is(err, user.ErrInvalidCredentials):
		logWarn(r, "password change failed", "reason", "wrong_current_password", "user_id", sess.UserID)
		Unauthorized(w, "Current password is incorrect")
		return
	case err != nil:
		InternalServerError(w, r, err)
		return
	}

	logInfo(r, "password changed", "user_id", sess.UserID)
	OK(w, map[string]any{"success": true, "message": "Password updated successfully"})
}
