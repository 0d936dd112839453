// oauth_handler.go -- Generic OAuth2 redirect and callback handlers.
// Provider-specific logic lives in internal/oauth/*.go.
// Adding a new provider: implement oauth.Provider, register it in the OAuth map in main.go.
package auth

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MGallo-Code/obol/internal/oauth"
	"github.com/MGallo-Code/obol/internal/ratelimit"
	"github.com/MGallo-Code/obol/internal/user"
)

// OAuthRedirect handles GET /api/auth/{provider} -- mints a PKCE verifier and a one-shot
// state token that carries it, then redirects the browser to the provider's consent page.
func (h *AuthHandler) OAuthRedirect(w http.ResponseWriter, r *http.Request) {
	provider, ok := h.oauthProvider(r, w)
	if !ok {
		return
	}

	verifier := oauth.NewVerifier()
	state, err := h.Sessions.IssueState(r.Context(), verifier)
	if err != nil {
		logError(r, "oauth redirect: state generation failed", "error", err, "provider", provider.Name())
		writeError(w, http.StatusInternalServerError, "Failed to initialize OAuth flow")
		return
	}

	http.Redirect(w, r, provider.AuthCodeURL(state, verifier), http.StatusFound)
}

// OAuthCallback handles GET /api/auth/{provider}/callback -- consumes the state,
// exchanges the code, resolves the local user and starts a session.
// Provider-side failures redirect home with an error flag rather than returning JSON,
// since the browser arrives here by navigation.
func (h *AuthHandler) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	provider, ok := h.oauthProvider(r, w)
	if !ok {
		return
	}

	q := r.URL.Query()
	code, state := q.Get("code"), q.Get("state")
	if code == "" || state == "" {
		logWarn(r, "oauth callback: invalid state", "provider", provider.Name())
		BadRequest(w, "Invalid OAuth state")
		return
	}
	verifier, ok := h.Sessions.ConsumeState(r.Context(), state)
	if !ok {
		logWarn(r, "oauth callback: invalid state", "provider", provider.Name())
		BadRequest(w, "Invalid OAuth state")
		return
	}

	claims, err := provider.Exchange(r.Context(), code, verifier)
	if err != nil {
		logWarn(r, "oauth callback: exchange failed", "error", err, "provider", provider.Name())
		http.Redirect(w, r, "/?error=oauth_failed", http.StatusFound)
		return
	}

	u, err := h.Users.FindOrCreateOAuthUser(r.Context(), user.OAuthIdentity{
		Provider:      provider.Name(),
		ProviderID:    claims.Sub,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		Login:         claims.Username,
	})
	if err != nil {
		logError(r, "oauth callback: find or create user failed", "error", err, "provider", provider.Name())
		http.Redirect(w, r, "/?error=oauth_failed", http.StatusFound)
		return
	}

	data := map[string]any{
		"username":  u.Username,
		"provider":  provider.Name(),
		"ip":        ratelimit.ClientIP(r),
		"userAgent": r.UserAgent(),
	}
	if err := h.startSession(w, r, u, data); err != nil {
		logError(r, "oauth callback: session creation failed", "error", err)
		http.Redirect(w, r, "/?error=oauth_failed", http.StatusFound)
		return
	}

	logInfo(r, "oauth login", "user_id", u.ID, "provider", provider.Name())
	http.Redirect(w, r, "/?auth=success", http.StatusFound)
}

// oauthProvider reads the {provider} URL param and looks it up in OAuth.
// Writes 404 and returns (nil, false) when the provider is not configured.
func (h *AuthHandler) oauthProvider(r *http.Request, w http.ResponseWriter) (oauth.Provider, bool) {
	name := chi.URLParam(r, "provider")
	p, ok := h.OAuth[name]
	if !ok {
		NotFound(w, "Not Found")
		return nil, false
	}
	return p, true
}
