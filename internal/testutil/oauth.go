// oauth.go
//
// Scripted OAuth provider for handler tests.
package testutil

import (
	"context"
	"net/url"

	"golang.org/x/oauth2"

	"github.com/MGallo-Code/obol/internal/oauth"
)

// MockProvider implements oauth.Provider. Exchange returns Claims, or ExchangeErr when set.
type MockProvider struct {
	ProviderName string
	AuthURL      string
	Claims       *oauth.Claims
	ExchangeErr  error

	// Codes and Verifiers record the arguments of every Exchange call.
	Codes     []string
	Verifiers []string
}

func (m *MockProvider) Name() string { return m.ProviderName }

func (m *MockProvider) AuthCodeURL(state, verifier string) string {
	q := url.Values{}
	q.Set("state", state)
	q.Set("code_challenge", oauth2.S256ChallengeFromVerifier(verifier))
	q.Set("code_challenge_method", "S256")
	return m.AuthURL + "?" + q.Encode()
}

func (m *MockProvider) Exchange(_ context.Context, code, verifier string) (*oauth.Claims, error) {
	m.Codes = append(m.Codes, code)
	m.Verifiers = append(m.Verifiers, verifier)
	if m.ExchangeErr != nil {
		return nil, m.ExchangeErr
	}
	return m.Claims, nil
}
