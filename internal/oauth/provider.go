// provider.go -- OAuth provider interface and shared types.
package oauth

import (
	"context"

	"golang.org/x/oauth2"
)

// Claims holds the normalized identity returned by an OAuth provider.
// All fields come from the provider server-side; never trust client-supplied values.
type Claims struct {
	Sub           string // provider-specific stable user ID (GitHub numeric id, Google "sub")
	Email         string
	EmailVerified bool
	// Username is the provider's suggestion for a local username (GitHub login, Google name).
	Username string
	Picture  string // avatar URL
}

// Provider is an OAuth2 identity provider.
// Implementations handle provider-specific auth URLs, code exchange and profile lookup.
// State and the PKCE verifier are minted and stored by the caller; providers only carry them through.
type Provider interface {
	// Name returns the provider identifier used as the URL param and stored in the DB.
	Name() string

	// AuthCodeURL returns the provider consent URL with state and the S256 challenge for verifier.
	AuthCodeURL(state, verifier string) string

	// Exchange trades the authorization code and its PKCE verifier for identity claims.
	Exchange(ctx context.Context, code, verifier string) (*Claims, error)
}

// NewVerifier returns a fresh PKCE code verifier.
func NewVerifier() string {
	return oauth2.GenerateVerifier()
}
