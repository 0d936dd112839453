// session.go

// Session cookie management.
package auth

import (
	"net/http"

	"github.com/MGallo-Code/obol/internal/store"
)

// setSessionCookie writes the sid cookie for a new session.
func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, r *http.Request, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    id,
		Path:     "/",
		Domain:   h.CookieDomain,
		MaxAge:   int(h.Sessions.TTL().Seconds()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}

// clearCookie expires name on the client.
func (h *AuthHandler) clearCookie(w http.ResponseWriter, r *http.Request, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   h.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}

// startSession creates a session for u and sets its cookie.
func (h *AuthHandler) startSession(w http.ResponseWriter, r *http.Request, u *store.User, data map[string]any) error {
	id, err := h.Sessions.Create(r.Context(), u.ID, data)
	if err != nil {
		return err
	}
	h.setSessionCookie(w, r, id)
	return nil
}
