// ratelimits.go -- Route guard configuration.
package auth

import (
	"fmt"
	"net/http"

	"github.com/MGallo-Code/obol/internal/ratelimit"
)

// Guards holds the rate-limit guards mounted on the router.
type Guards struct {
	// API covers every /api request, counted per path.
	API *ratelimit.Guard
	// Register limits account creation per IP.
	Register *ratelimit.Guard
	// LoginIP limits login attempts per IP.
	LoginIP *ratelimit.Guard
	// LoginAccount limits login attempts per signed-in account, per IP when anonymous.
	LoginAccount *ratelimit.Guard
}

// NewGuards builds the standard guard set. account supplies the session user id.
func NewGuards(kv ratelimit.Store, account func(*http.Request) string) (*Guards, error) {
	var g Guards
	var err error

	build := func(cfg ratelimit.GuardConfig) *ratelimit.Guard {
		if err != nil {
			return nil
		}
		var guard *ratelimit.Guard
		if guard, err = ratelimit.NewGuard(kv, cfg); err != nil {
			err = fmt.Errorf("building %s guard: %w", cfg.KeyPrefix, err)
		}
		return guard
	}

	g.API = build(ratelimit.GuardConfig{Window: "1h", Max: 1000, KeyPrefix: "rl", Strategy: ratelimit.StrategyEndpoint})
	g.Register = build(ratelimit.GuardConfig{Window: "1h", Max: 5, KeyPrefix: "auth:register", Strategy: ratelimit.StrategyIP})
	g.LoginIP = build(ratelimit.GuardConfig{Window: "5m", Max: 11, KeyPrefix: "auth:login:ip", Strategy: ratelimit.StrategyIP})
	g.LoginAccount = build(ratelimit.GuardConfig{
		Window:    "1h",
		Max:       30,
		KeyPrefix: "auth:login:account",
		Strategy:  ratelimit.StrategyAccount,
		Account:   account,
	})
	if err != nil {
		return nil, err
	}
	return &g, nil
}
