package extract

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores raw extraction payloads so unchanged messages skip the model.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, payload []byte) error
}

// cacheKeyPrefix namespaces extraction keys in Redis.
const cacheKeyPrefix = "inboxevents:extract:"

// CacheKey derives the cache key for one request. Any change to the model,
// the timezone or the message text produces a new key.
func CacheKey(model, timezone, messageID, text string) string {
	h := sha256.New()
	for _, part := range []string{model, timezone, messageID, text} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// redisKV is the part of *redis.Client the cache needs.
type redisKV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// RedisCache is a Cache backed by Redis string keys with a TTL.
type RedisCache struct {
	rdb redisKV
	ttl time.Duration
}

// NewRedisCache creates a cache on rdb. Entries expire after ttl.
func NewRedisCache(rdb redisKV, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

// DialRedisCache parses a redis:// URL and returns a cache on a new client.
// The caller closes the returned client.
func DialRedisCache(url string, ttl time.Duration) (*RedisCache, *redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	return NewRedisCache(rdb, ttl), rdb, nil
}

// Get returns the cached payload for key. A missing key is not an error.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := c.rdb.Get(ctx, cacheKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("extract cache GET: %w", err)
	}
	return v, true, nil
}

// Set stores payload under key.
func (c *RedisCache) Set(ctx context.Context, key string, payload []byte) error {
	if err := c.rdb.Set(ctx, cacheKeyPrefix+key, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("extract cache SET: %w", err)
	}
	return nil
}
