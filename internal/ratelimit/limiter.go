// Package ratelimit implements fixed-window request counting on the shared key-value store.
//
// limiter.go -- direct allowance checks. Store faults fail open.
package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/MGallo-Code/obol/internal/store"
)

// Defaults for IsAllowed.
const (
	DefaultMaxRequests = 100
	DefaultWindow      = 60 * time.Second
	DefaultKeyPrefix   = "rate:"
)

// Store is the key-value surface the limiter and guards need.
// Satisfied by *store.RedisStore.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
	Del(ctx context.Context, keys ...string) error
}

// Options tune one IsAllowed call. Zero fields take the defaults.
type Options struct {
	MaxRequests int64
	Window      time.Duration
	KeyPrefix   string
}

func (o Options) withDefaults() Options {
	if o.MaxRequests <= 0 {
		o.MaxRequests = DefaultMaxRequests
	}
	if o.Window <= 0 {
		o.Window = DefaultWindow
	}
	if o.KeyPrefix == "" {
		o.KeyPrefix = DefaultKeyPrefix
	}
	return o
}

// Info reports the state of a window after a check. Reset is unix seconds.
type Info struct {
	Remaining int64 `json:"remaining"`
	Reset     int64 `json:"reset"`
	Total     int64 `json:"total"`
}

// Limiter performs direct allowance checks.
type Limiter struct {
	kv  Store
	now func() time.Time
}

// NewLimiter returns a Limiter over kv.
func NewLimiter(kv Store) *Limiter {
	return &Limiter{kv: kv, now: time.Now}
}

// IsAllowed counts one request against key and reports what is left.
// Remaining 0 means the caller is over the limit. Store faults are logged and
// treated as allowed (remaining 1).
func (l *Limiter) IsAllowed(ctx context.Context, key string, opts Options) Info {
	opts = opts.withDefaults()
	k := opts.KeyPrefix + key
	now := l.now().Unix()
	window := int64(opts.Window / time.Second)

	failOpen := func(err error) Info {
		slog.Error("rate limit check failed, allowing", "key", k, "error", err)
		return Info{Remaining: 1, Reset: now + window, Total: opts.MaxRequests}
	}

	raw, err := l.kv.Get(ctx, k)
	if err != nil && !errors.Is(err, store.ErrCacheMiss) {
		return failOpen(err)
	}
	ttl, ttlErr := l.kv.TTL(ctx, k)
	if ttlErr != nil {
		return failOpen(ttlErr)
	}

	if errors.Is(err, store.ErrCacheMiss) || raw == "" || ttl == store.TTLMissing {
		if err := l.kv.Set(ctx, k, 1, opts.Window); err != nil {
			return failOpen(err)
		}
		return Info{Remaining: opts.MaxRequests - 1, Reset: now + window, Total: opts.MaxRequests}
	}

	count, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return failOpen(err)
	}

	reset := now + window
	if ttl != store.TTLNoExpiry {
		reset = now + int64(ttl/time.Second)
	}

	if count >= opts.MaxRequests {
		return Info{Remaining: 0, Reset: reset, Total: opts.MaxRequests}
	}

	if _, err := l.kv.Incr(ctx, k); err != nil {
		return failOpen(err)
	}
	return Info{Remaining: opts.MaxRequests - count - 1, Reset: reset, Total: opts.MaxRequests}
}

// ResetLimit clears the IsAllowed counter for key under the default prefix.
func (l *Limiter) ResetLimit(ctx context.Context, key string) error {
	return l.kv.Del(ctx, DefaultKeyPrefix+key)
}

// Reset deletes raw counter keys, such as guard keys built by Guard.KeyFor.
func (l *Limiter) Reset(ctx context.Context, keys ...string) error {
	return l.kv.Del(ctx, keys...)
}
