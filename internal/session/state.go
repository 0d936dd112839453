// state.go

// One-shot OAuth state tokens. Each state can carry the PKCE verifier for its flow.
package session

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid/v5"

	"github.com/MGallo-Code/obol/internal/store"
)

// stateEntry is the value stored under oauth_state:<state>.
type stateEntry struct {
	Verifier string `json:"verifier,omitempty"`
}

// GenerateState stores a fresh state token with no verifier and returns it.
func (m *Manager) GenerateState(ctx context.Context) (string, error) {
	return m.IssueState(ctx, "")
}

// IssueState stores a fresh state token bound to a PKCE verifier and returns it.
func (m *Manager) IssueState(ctx context.Context, verifier string) (string, error) {
	state, err := uuid.NewV4()
	if err != nil {
		return "", fmt.Errorf("generating state: %w", err)
	}
	entry := stateEntry{Verifier: verifier}
	if err := m.cache.Set(ctx, statePrefix+state.String(), entry, store.CacheOptions{TTL: m.stateTTL}); err != nil {
		return "", fmt.Errorf("storing state: %w", err)
	}
	return state.String(), nil
}

// VerifyState consumes a state token.
func (m *Manager) VerifyState(ctx context.Context, state string) bool {
	_, ok := m.ConsumeState(ctx, state)
	return ok
}

// ConsumeState consumes a state token and returns its verifier. The read and delete
// are one GETDEL, so two concurrent callbacks with the same state can't both succeed.
func (m *Manager) ConsumeState(ctx context.Context, state string) (string, bool) {
	if state == "" {
		return "", false
	}
	var entry stateEntry
	if !m.cache.GetDel(ctx, statePrefix+state, &entry) {
		return "", false
	}
	return entry.Verifier, true
}
