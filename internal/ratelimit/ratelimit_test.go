package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MGallo-Code/obol/internal/store"
)

func newTestStore(t *testing.T) (*store.RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return store.NewRedisStore(rdb), mr
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func serve(h http.Handler, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// --- ParseWindow ---

func TestParseWindow(t *testing.T) {
	valid := map[string]time.Duration{
		"90":  90 * time.Second,
		"30s": 30 * time.Second,
		"5m":  5 * time.Minute,
		"1h":  time.Hour,
		"2d":  48 * time.Hour,
	}
	for in, want := range valid {
		t.Run(in, func(t *testing.T) {
			got, err := ParseWindow(in)
			if err != nil {
				t.Fatalf("ParseWindow(%q) returned error: %v", in, err)
			}
			if got != want {
				t.Errorf("ParseWindow(%q): expected %v, got %v", in, want, got)
			}
		})
	}

	for _, in := range []string{"", "1x", "h", "1.5h", "-5", "0", "0m", " 5m", "5m "} {
		t.Run("rejects "+strconv.Quote(in), func(t *testing.T) {
			_, err := ParseWindow(in)
			if !errors.Is(err, ErrInvalidWindow) {
				t.Errorf("ParseWindow(%q): expected ErrInvalidWindow, got %v", in, err)
			}
		})
	}
}

// --- Limiter.IsAllowed ---

func TestIsAllowed(t *testing.T) {
	ctx := context.Background()

	t.Run("first call starts a window", func(t *testing.T) {
		kv, mr := newTestStore(t)
		l := NewLimiter(kv)

		info := l.IsAllowed(ctx, "1.2.3.4", Options{})
		if info.Remaining != DefaultMaxRequests-1 {
			t.Errorf("Remaining: expected %d, got %d", DefaultMaxRequests-1, info.Remaining)
		}
		if info.Total != DefaultMaxRequests {
			t.Errorf("Total: expected %d, got %d", DefaultMaxRequests, info.Total)
		}
		if got := mr.TTL("rate:1.2.3.4"); got != DefaultWindow {
			t.Errorf("TTL: expected %v, got %v", DefaultWindow, got)
		}
	})

	t.Run("counts down then hits zero", func(t *testing.T) {
		kv, _ := newTestStore(t)
		l := NewLimiter(kv)
		opts := Options{MaxRequests: 3, Window: time.Minute}

		wants := []int64{2, 1, 0, 0, 0}
		for i, want := range wants {
			info := l.IsAllowed(ctx, "k", opts)
			if info.Remaining != want {
				t.Errorf("call %d: expected remaining %d, got %d", i+1, want, info.Remaining)
			}
		}
	})

	t.Run("window expiry starts fresh", func(t *testing.T) {
		kv, mr := newTestStore(t)
		l := NewLimiter(kv)
		opts := Options{MaxRequests: 1, Window: time.Minute}

		l.IsAllowed(ctx, "k", opts)
		if info := l.IsAllowed(ctx, "k", opts); info.Remaining != 0 {
			t.Fatalf("expected limit reached, got remaining %d", info.Remaining)
		}

		mr.FastForward(61 * time.Second)
		if info := l.IsAllowed(ctx, "k", opts); info.Remaining != 0 {
			t.Errorf("fresh window with max 1: expected remaining 0, got %d", info.Remaining)
		}
		if !mr.Exists("rate:k") {
			t.Error("expected counter recreated after expiry")
		}
	})

	t.Run("key without expiry resets from window", func(t *testing.T) {
		kv, mr := newTestStore(t)
		l := NewLimiter(kv)
		fixed := time.Unix(1_700_000_000, 0)
		l.now = func() time.Time { return fixed }
		mr.Set("rate:k", "5")

		info := l.IsAllowed(ctx, "k", Options{MaxRequests: 10, Window: time.Minute})
		if info.Reset != fixed.Unix()+60 {
			t.Errorf("Reset: expected %d, got %d", fixed.Unix()+60, info.Reset)
		}
		if info.Remaining != 4 {
			t.Errorf("Remaining: expected 4, got %d", info.Remaining)
		}
	})

	t.Run("custom prefix", func(t *testing.T) {
		kv, mr := newTestStore(t)
		l := NewLimiter(kv)
		l.IsAllowed(ctx, "k", Options{KeyPrefix: "custom:"})
		if !mr.Exists("custom:k") {
			t.Error("expected counter under custom prefix")
		}
	})

	t.Run("store failure fails open", func(t *testing.T) {
		kv, mr := newTestStore(t)
		l := NewLimiter(kv)
		mr.Close()

		info := l.IsAllowed(ctx, "k", Options{MaxRequests: 5})
		if info.Remaining != 1 {
			t.Errorf("Remaining: expected 1, got %d", info.Remaining)
		}
		if info.Total != 5 {
			t.Errorf("Total: expected 5, got %d", info.Total)
		}
	})
}

// --- Limiter.ResetLimit / Reset ---

func TestReset(t *testing.T) {
	ctx := context.Background()
	kv, mr := newTestStore(t)
	l := NewLimiter(kv)

	l.IsAllowed(ctx, "k", Options{})
	if err := l.ResetLimit(ctx, "k"); err != nil {
		t.Fatalf("ResetLimit failed: %v", err)
	}
	if mr.Exists("rate:k") {
		t.Error("expected rate:k deleted")
	}

	mr.Set("auth:login:ip:1.2.3.4", "3")
	mr.Set("auth:login:account:u1", "3")
	if err := l.Reset(ctx, "auth:login:ip:1.2.3.4", "auth:login:account:u1"); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if mr.Exists("auth:login:ip:1.2.3.4") || mr.Exists("auth:login:account:u1") {
		t.Error("expected guard keys deleted")
	}
}

// --- NewGuard ---

func TestNewGuard(t *testing.T) {
	kv, _ := newTestStore(t)

	t.Run("rejects malformed window", func(t *testing.T) {
		_, err := NewGuard(kv, GuardConfig{Window: "5 minutes", Max: 3})
		if !errors.Is(err, ErrInvalidWindow) {
			t.Errorf("expected ErrInvalidWindow, got %v", err)
		}
	})

	t.Run("rejects non-positive max", func(t *testing.T) {
		if _, err := NewGuard(kv, GuardConfig{Window: "1m", Max: 0}); err == nil {
			t.Error("expected error for max 0")
		}
	})
}

// --- Guard.Key ---

func TestGuardKey(t *testing.T) {
	kv, _ := newTestStore(t)
	req := httptest.NewRequest(http.MethodGet, "/api/thing", nil)
	req.RemoteAddr = "10.0.0.1:5555"

	cases := []struct {
		name string
		cfg  GuardConfig
		want string
	}{
		{"prefix only", GuardConfig{Window: "1m", Max: 1}, "rl"},
		{"ip", GuardConfig{Window: "1m", Max: 1, KeyPrefix: "auth:register", Strategy: StrategyIP}, "auth:register:10.0.0.1"},
		{"endpoint", GuardConfig{Window: "1m", Max: 1, Strategy: StrategyEndpoint}, "rl:/api/thing"},
		{"account", GuardConfig{Window: "1m", Max: 1, KeyPrefix: "a", Strategy: StrategyAccount,
			Account: func(*http.Request) string { return "user-1" }}, "a:user-1"},
		{"account falls back to ip", GuardConfig{Window: "1m", Max: 1, KeyPrefix: "a", Strategy: StrategyAccount,
			Account: func(*http.Request) string { return "" }}, "a:10.0.0.1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g, err := NewGuard(kv, tc.cfg)
			if err != nil {
				t.Fatalf("NewGuard failed: %v", err)
			}
			if got := g.Key(req); got != tc.want {
				t.Errorf("Key: expected %q, got %q", tc.want, got)
			}
		})
	}
}

// --- Guard.Handler ---

func TestGuardHandler(t *testing.T) {
	t.Run("allows max requests then rejects until window passes", func(t *testing.T) {
		kv, mr := newTestStore(t)
		g, err := NewGuard(kv, GuardConfig{Window: "1m", Max: 3, KeyPrefix: "t", Strategy: StrategyIP})
		if err != nil {
			t.Fatalf("NewGuard failed: %v", err)
		}
		h := g.Handler(okHandler)

		for i := 1; i <= 3; i++ {
			rec := serve(h, "1.1.1.1:1000")
			if rec.Code != http.StatusOK {
				t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
			}
			wantRemaining := strconv.Itoa(3 - i)
			if got := rec.Header().Get("X-RateLimit-Remaining"); got != wantRemaining {
				t.Errorf("request %d: X-RateLimit-Remaining expected %s, got %s", i, wantRemaining, got)
			}
			if got := rec.Header().Get("X-RateLimit-Limit"); got != "3" {
				t.Errorf("X-RateLimit-Limit: expected 3, got %s", got)
			}
		}

		rec := serve(h, "1.1.1.1:1000")
		if rec.Code != http.StatusTooManyRequests {
			t.Fatalf("4th request: expected 429, got %d", rec.Code)
		}
		if got := rec.Header().Get("Retry-After"); got != "60" {
			t.Errorf("Retry-After: expected 60, got %q", got)
		}
		var body map[string]string
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("decoding 429 body: %v", err)
		}
		if body["error"] != "Too many requests" {
			t.Errorf("error: expected %q, got %q", "Too many requests", body["error"])
		}

		// A different IP has its own bucket.
		if rec := serve(h, "2.2.2.2:1000"); rec.Code != http.StatusOK {
			t.Errorf("other ip: expected 200, got %d", rec.Code)
		}

		mr.FastForward(61 * time.Second)
		if rec := serve(h, "1.1.1.1:1000"); rec.Code != http.StatusOK {
			t.Errorf("after window: expected 200, got %d", rec.Code)
		}
	})

	t.Run("sets expiry only on first hit", func(t *testing.T) {
		kv, mr := newTestStore(t)
		g, _ := NewGuard(kv, GuardConfig{Window: "1m", Max: 10, KeyPrefix: "t", Strategy: StrategyIP})
		h := g.Handler(okHandler)

		serve(h, "1.1.1.1:1")
		mr.FastForward(30 * time.Second)
		serve(h, "1.1.1.1:1")

		if got := mr.TTL("t:1.1.1.1"); got != 30*time.Second {
			t.Errorf("TTL: expected 30s, got %v", got)
		}
	})

	t.Run("reset header is unix seconds", func(t *testing.T) {
		kv, _ := newTestStore(t)
		g, _ := NewGuard(kv, GuardConfig{Window: "5m", Max: 10})
		fixed := time.Unix(1_700_000_000, 0)
		g.now = func() time.Time { return fixed }

		rec := serve(g.Handler(okHandler), "1.1.1.1:1")
		if got := rec.Header().Get("X-RateLimit-Reset"); got != strconv.FormatInt(fixed.Unix()+300, 10) {
			t.Errorf("X-RateLimit-Reset: got %s", got)
		}
	})

	t.Run("store failure returns 500", func(t *testing.T) {
		kv, mr := newTestStore(t)
		g, _ := NewGuard(kv, GuardConfig{Window: "1m", Max: 10})
		mr.Close()

		rec := serve(g.Handler(okHandler), "1.1.1.1:1")
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("expected 500, got %d", rec.Code)
		}
	})
}

// --- ClientIP ---

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	req.RemoteAddr = "192.168.1.5:4321"
	if got := ClientIP(req); got != "192.168.1.5" {
		t.Errorf("expected 192.168.1.5, got %s", got)
	}

	// RealIP rewrites RemoteAddr without a port.
	req.RemoteAddr = "203.0.113.9"
	if got := ClientIP(req); got != "203.0.113.9" {
		t.Errorf("expected 203.0.113.9, got %s", got)
	}
}
