// guard.go -- HTTP middleware that rejects requests over a fixed-window limit.
//
// The check (GET) and the count (INCR) are separate round trips, so concurrent
// requests at the threshold can each pass before any of them increments. The
// limit is soft by that margin.
package ratelimit

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MGallo-Code/obol/internal/metrics"
	"github.com/MGallo-Code/obol/internal/store"
)

// Strategy selects which request attribute joins the guard key.
type Strategy string

const (
	// StrategyNone keys on the prefix alone: one shared bucket.
	StrategyNone     Strategy = ""
	StrategyIP       Strategy = "ip"
	StrategyAccount  Strategy = "account"
	StrategyEndpoint Strategy = "endpoint"
)

const defaultGuardPrefix = "rl"

// GuardConfig describes one guard. Window is whole seconds or <int><s|m|h|d>.
type GuardConfig struct {
	Window    string
	Max       int64
	KeyPrefix string
	Strategy  Strategy
	// Account returns the signed-in user id, or "" when anonymous.
	// Only consulted by StrategyAccount.
	Account func(r *http.Request) string
}

// Guard is a configured rate-limit middleware.
type Guard struct {
	kv       Store
	window   time.Duration
	max      int64
	prefix   string
	strategy Strategy
	account  func(r *http.Request) string
	now      func() time.Time
}

// NewGuard validates cfg and returns a Guard. A malformed window fails here, not per request.
func NewGuard(kv Store, cfg GuardConfig) (*Guard, error) {
	window, err := ParseWindow(cfg.Window)
	if err != nil {
		return nil, err
	}
	if cfg.Max <= 0 {
		return nil, fmt.Errorf("guard %q: max must be positive", cfg.KeyPrefix)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultGuardPrefix
	}
	return &Guard{
		kv:       kv,
		window:   window,
		max:      cfg.Max,
		prefix:   prefix,
		strategy: cfg.Strategy,
		account:  cfg.Account,
		now:      time.Now,
	}, nil
}

// Window returns the parsed window.
func (g *Guard) Window() time.Duration {
	return g.window
}

// KeyFor builds this guard's key from an explicit discriminator,
// e.g. to clear a login counter after success.
func (g *Guard) KeyFor(part string) string {
	return joinKey(g.prefix, part)
}

// Key builds the counter key for r from the prefix and the strategy's attribute.
func (g *Guard) Key(r *http.Request) string {
	var part string
	switch g.strategy {
	case StrategyIP:
		part = ClientIP(r)
	case StrategyAccount:
		if g.account != nil {
			part = g.account(r)
		}
		// Anonymous callers are counted per IP rather than sharing one bucket.
		if part == "" {
			part = ClientIP(r)
		}
	case StrategyEndpoint:
		part = r.URL.Path
	}
	return joinKey(g.prefix, part)
}

func joinKey(parts ...string) string {
	nonEmpty := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, ":")
}

// Handler wraps next with the guard.
func (g *Guard) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		key := g.Key(r)
		windowSecs := int64(g.window / time.Second)

		var count int64
		raw, err := g.kv.Get(ctx, key)
		absent := errors.Is(err, store.ErrCacheMiss)
		switch {
		case absent:
		case err != nil:
			g.fail(w, r, key, err)
			return
		default:
			if count, err = strconv.ParseInt(raw, 10, 64); err != nil {
				g.fail(w, r, key, err)
				return
			}
		}

		if count >= g.max {
			metrics.RateLimitRejections.WithLabelValues(g.prefix).Inc()
			slog.Warn("rate limit exceeded", "key", key, "path", r.URL.Path)
			w.Header().Set("Retry-After", strconv.FormatInt(windowSecs, 10))
			writeJSON(w, http.StatusTooManyRequests, map[string]string{
				"error":   "Too many requests",
				"message": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", windowSecs),
			})
			return
		}

		if _, err := g.kv.Incr(ctx, key); err != nil {
			g.fail(w, r, key, err)
			return
		}
		if absent {
			if _, err := g.kv.Expire(ctx, key, g.window); err != nil {
				g.fail(w, r, key, err)
				return
			}
		}

		w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(g.max, 10))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(g.max-count-1, 10))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(g.now().Unix()+windowSecs, 10))

		next.ServeHTTP(w, r)
	})
}

func (g *Guard) fail(w http.ResponseWriter, r *http.Request, key string, err error) {
	slog.Error("rate limit guard failed", "key", key, "path", r.URL.Path, "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// ClientIP returns the request's client address without port.
// chi's RealIP middleware has already folded X-Forwarded-For / X-Real-IP into RemoteAddr.
func ClientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
