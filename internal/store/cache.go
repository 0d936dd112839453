// cache.go -- JSON cache facade over the shared Redis client.
//
// Values are JSON on write and JSON on read. Reads never fail: a store error or a
// value that won't parse is logged and reported as a miss (or empty / zero).
// Mutations log and return their error. Nothing here retries.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// scanBatch is the COUNT hint passed to SCAN.
const scanBatch = 100

// CacheOptions controls a Set.
// Tags are accepted for the caller's bookkeeping but are not indexed; InvalidateByTag
// works by key-name substring instead.
type CacheOptions struct {
	TTL  time.Duration
	Tags []string
}

// Cache is the JSON facade used by the session manager, user service and handlers.
type Cache struct {
	rdb *redis.Client
}

// NewCache wraps the shared Redis client.
func NewCache(rdb *redis.Client) *Cache {
	return &Cache{rdb: rdb}
}

func logRead(op, key string, err error) {
	slog.Warn("cache read failed", "op", op, "key", key, "error", err)
}

func logWrite(op, key string, err error) error {
	slog.Error("cache write failed", "op", op, "key", key, "error", err)
	return fmt.Errorf("cache %s %s: %w", op, key, err)
}

// decode unmarshals raw into dst, logging on failure.
func decode(op, key, raw string, dst any) bool {
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		logRead(op, key, err)
		return false
	}
	return true
}

// decodeList joins raw JSON elements into an array and unmarshals it into dst (pointer to slice).
func decodeList(op, key string, raws []string, dst any) bool {
	return decode(op, key, "["+strings.Join(raws, ",")+"]", dst)
}

func encodeAll(vals []any) ([]any, error) {
	out := make([]any, len(vals))
	for i, v := range vals {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		out[i] = string(b)
	}
	return out, nil
}

// --- Strings ---

// Get loads key into dst. Reports false on miss or any read failure.
func (c *Cache) Get(ctx context.Context, key string, dst any) bool {
	raw, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false
	}
	if err != nil {
		logRead("get", key, err)
		return false
	}
	return decode("get", key, raw, dst)
}

// Set stores value at key as JSON. SET and EXPIRE run in one MULTI/EXEC.
func (c *Cache) Set(ctx context.Context, key string, value any, opts CacheOptions) error {
	b, err := json.Marshal(value)
	if err != nil {
		return logWrite("set", key, err)
	}

	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, key, b, 0)
	if opts.TTL > 0 {
		pipe.Expire(ctx, key, opts.TTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return logWrite("set", key, err)
	}
	return nil
}

// GetDel atomically loads and removes key. Reports false when absent.
func (c *Cache) GetDel(ctx context.Context, key string, dst any) bool {
	raw, err := c.rdb.GetDel(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false
	}
	if err != nil {
		logRead("getdel", key, err)
		return false
	}
	return decode("getdel", key, raw, dst)
}

// --- Keys ---

// Invalidate removes a single key.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	return c.Del(ctx, key)
}

// InvalidateByPattern removes every key matching the glob pattern.
func (c *Cache) InvalidateByPattern(ctx context.Context, pattern string) error {
	keys, err := c.scanKeys(ctx, pattern)
	if err != nil {
		return logWrite("invalidate", pattern, err)
	}
	return c.Del(ctx, keys...)
}

// InvalidateByTag removes every key whose name contains any of the tags.
// Cost is a walk of the whole keyspace per tag.
func (c *Cache) InvalidateByTag(ctx context.Context, tags ...string) error {
	for _, tag := range tags {
		if err := c.InvalidateByPattern(ctx, "*"+tag+"*"); err != nil {
			return err
		}
	}
	return nil
}

// Del removes keys. Absent keys are ignored.
func (c *Cache) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return logWrite("del", strings.Join(keys, ","), err)
	}
	return nil
}

// Expire sets a TTL on key.
func (c *Cache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := c.rdb.Expire(ctx, key, ttl).Err(); err != nil {
		return logWrite("expire", key, err)
	}
	return nil
}

// TTL returns the remaining lifetime of key, TTLNoExpiry or TTLMissing.
// Read failures report TTLMissing.
func (c *Cache) TTL(ctx context.Context, key string) time.Duration {
	d, err := c.rdb.TTL(ctx, key).Result()
	if err != nil {
		logRead("ttl", key, err)
		return TTLMissing
	}
	return d
}

// Type returns the Redis type name of key ("none" when absent or on failure).
func (c *Cache) Type(ctx context.Context, key string) string {
	t, err := c.rdb.Type(ctx, key).Result()
	if err != nil {
		logRead("type", key, err)
		return "none"
	}
	return t
}

// Scan returns all keys matching pattern. Empty on failure.
func (c *Cache) Scan(ctx context.Context, pattern string) []string {
	keys, err := c.scanKeys(ctx, pattern)
	if err != nil {
		logRead("scan", pattern, err)
		return []string{}
	}
	return keys
}

func (c *Cache) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := c.rdb.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

// --- Lists ---

// LPush prepends values to the list at key.
func (c *Cache) LPush(ctx context.Context, key string, values ...any) error {
	enc, err := encodeAll(values)
	if err != nil {
		return logWrite("lpush", key, err)
	}
	if err := c.rdb.LPush(ctx, key, enc...).Err(); err != nil {
		return logWrite("lpush", key, err)
	}
	return nil
}

// LRange loads list elements start..stop into dst, a pointer to a slice.
func (c *Cache) LRange(ctx context.Context, key string, start, stop int64, dst any) bool {
	raws, err := c.rdb.LRange(ctx, key, start, stop).Result()
	if err != nil {
		logRead("lrange", key, err)
		return false
	}
	return decodeList("lrange", key, raws, dst)
}

// LTrim keeps only elements start..stop.
func (c *Cache) LTrim(ctx context.Context, key string, start, stop int64) error {
	if err := c.rdb.LTrim(ctx, key, start, stop).Err(); err != nil {
		return logWrite("ltrim", key, err)
	}
	return nil
}

// --- Sorted sets ---

// ZAdd adds member with score.
func (c *Cache) ZAdd(ctx context.Context, key string, score float64, member any) error {
	b, err := json.Marshal(member)
	if err != nil {
		return logWrite("zadd", key, err)
	}
	if err := c.rdb.ZAdd(ctx, key, redis.Z{Score: score, Member: string(b)}).Err(); err != nil {
		return logWrite("zadd", key, err)
	}
	return nil
}

// ZRange loads members by rank start..stop into dst, a pointer to a slice.
func (c *Cache) ZRange(ctx context.Context, key string, start, stop int64, dst any) bool {
	raws, err := c.rdb.ZRange(ctx, key, start, stop).Result()
	if err != nil {
		logRead("zrange", key, err)
		return false
	}
	return decodeList("zrange", key, raws, dst)
}

// ZRem removes member.
func (c *Cache) ZRem(ctx context.Context, key string, member any) error {
	b, err := json.Marshal(member)
	if err != nil {
		return logWrite("zrem", key, err)
	}
	if err := c.rdb.ZRem(ctx, key, string(b)).Err(); err != nil {
		return logWrite("zrem", key, err)
	}
	return nil
}

// --- Hashes ---

// HSet stores value under field of the hash at key.
func (c *Cache) HSet(ctx context.Context, key, field string, value any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return logWrite("hset", key, err)
	}
	if err := c.rdb.HSet(ctx, key, field, string(b)).Err(); err != nil {
		return logWrite("hset", key, err)
	}
	return nil
}

// HGet loads field of the hash at key into dst.
func (c *Cache) HGet(ctx context.Context, key, field string, dst any) bool {
	raw, err := c.rdb.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return false
	}
	if err != nil {
		logRead("hget", key, err)
		return false
	}
	return decode("hget", key, raw, dst)
}

// HGetAll returns every field of the hash as raw JSON. Empty on miss or failure.
func (c *Cache) HGetAll(ctx context.Context, key string) map[string]json.RawMessage {
	out := map[string]json.RawMessage{}
	fields, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		logRead("hgetall", key, err)
		return out
	}
	for f, raw := range fields {
		if !json.Valid([]byte(raw)) {
			logRead("hgetall", key, fmt.Errorf("field %s: invalid json", f))
			continue
		}
		out[f] = json.RawMessage(raw)
	}
	return out
}

// --- Sets ---

// SAdd adds members to the set at key.
func (c *Cache) SAdd(ctx context.Context, key string, members ...any) error {
	enc, err := encodeAll(members)
	if err != nil {
		return logWrite("sadd", key, err)
	}
	if err := c.rdb.SAdd(ctx, key, enc...).Err(); err != nil {
		return logWrite("sadd", key, err)
	}
	return nil
}

// SMembers loads every member into dst, a pointer to a slice. Order is unspecified.
func (c *Cache) SMembers(ctx context.Context, key string, dst any) bool {
	raws, err := c.rdb.SMembers(ctx, key).Result()
	if err != nil {
		logRead("smembers", key, err)
		return false
	}
	return decodeList("smembers", key, raws, dst)
}

// SIsMember reports whether member is in the set. False on failure.
func (c *Cache) SIsMember(ctx context.Context, key string, member any) bool {
	b, err := json.Marshal(member)
	if err != nil {
		logRead("sismember", key, err)
		return false
	}
	ok, err := c.rdb.SIsMember(ctx, key, string(b)).Result()
	if err != nil {
		logRead("sismember", key, err)
		return false
	}
	return ok
}

// --- Pipelines ---

// CacheTx queues commands for one MULTI/EXEC. Encoding errors are held until Exec.
type CacheTx struct {
	pipe redis.Pipeliner
	err  error
}

// Multi starts a transactional pipeline.
func (c *Cache) Multi() *CacheTx {
	return &CacheTx{pipe: c.rdb.TxPipeline()}
}

// Del queues a delete.
func (t *CacheTx) Del(ctx context.Context, keys ...string) *CacheTx {
	if len(keys) > 0 {
		t.pipe.Del(ctx, keys...)
	}
	return t
}

// LPush queues a list prepend.
func (t *CacheTx) LPush(ctx context.Context, key string, values ...any) *CacheTx {
	enc, err := encodeAll(values)
	if err != nil {
		t.err = errors.Join(t.err, fmt.Errorf("encoding %s: %w", key, err))
		return t
	}
	t.pipe.LPush(ctx, key, enc...)
	return t
}

// Expire queues a TTL change.
func (t *CacheTx) Expire(ctx context.Context, key string, ttl time.Duration) *CacheTx {
	t.pipe.Expire(ctx, key, ttl)
	return t
}

// Exec runs the queued commands. Nothing runs if any value failed to encode.
func (t *CacheTx) Exec(ctx context.Context) error {
	if t.err != nil {
		t.pipe.Discard()
		return logWrite("multi", "", t.err)
	}
	if _, err := t.pipe.Exec(ctx); err != nil {
		return logWrite("multi", "", err)
	}
	return nil
}
