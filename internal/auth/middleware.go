// middleware.go

// Session loading middleware.
package auth

import (
	"context"
	"net/http"

	"github.com/MGallo-Code/obol/internal/session"
)

// contextKey is unexported to prevent collisions with other packages using the same context.
type contextKey string

const sessionKey contextKey = "session"

// SessionCookie is the cookie carrying the session id.
const SessionCookie = "sid"

// SessionFromContext returns the session attached by LoadSession.
// Returns nil and false for anonymous requests.
func SessionFromContext(ctx context.Context) (*session.Session, bool) {
	s, ok := ctx.Value(sessionKey).(*session.Session)
	return s, ok && s != nil
}

// withSession returns a copy of ctx carrying s.
func withSession(ctx context.Context, s *session.Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// LoadSession attaches the session named by the sid cookie, if any.
// Never rejects: a missing, expired or unreadable session leaves the request anonymous.
func (h *AuthHandler) LoadSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(SessionCookie)
		if err != nil || c.Value == "" {
			next.ServeHTTP(w, r)
			return
		}

		sess, err := h.Sessions.Get(r.Context(), c.Value)
		if err != nil {
			logWarn(r, "session load failed", "error", err)
			next.ServeHTTP(w, r)
			return
		}
		if sess == nil {
			logDebug(r, "session cookie without session")
			next.ServeHTTP(w, r)
			return
		}

		next.ServeHTTP(w, r.WithContext(withSession(r.Context(), sess)))
	})
}

// RequireSession rejects anonymous requests with 401. Must run after LoadSession.
func RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := SessionFromContext(r.Context()); !ok {
			logWarn(r, "require session failed", "reason", "no_session")
			Unauthorized(w, "Unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SessionAccount returns the signed-in user id, or "" when anonymous.
// Used as the account discriminator for rate-limit guards.
func SessionAccount(r *http.Request) string {
	if s, ok := SessionFromContext(r.Context()); ok {
		return s.UserID.String()
	}
	return ""
}
