package database

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

const (
	// Cache key prefixes
	CacheKeyAccountQuotas = "genstudio:accounts:quotas"
	CacheKeyAccount       = "genstudio:account:"
	cacheKeyTokenRevoked  = "genstudio:token:revoked:"

	// Cache TTLs
	CacheTTLAccountQuotas = 30 * time.Second
	CacheTTLAccount       = 2 * time.Minute
)

// ErrCacheDisabled is returned by cache reads when Redis is not connected.
var ErrCacheDisabled = errors.New("cache disabled")

// CacheGet retrieves a value from Redis cache and unmarshals it into dest
func CacheGet(key string, dest interface{}) error {
	if Redis == nil {
		return ErrCacheDisabled
	}
	ctx := context.Background()
	data, err := Redis.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// CacheSet stores a value in Redis cache with TTL
func CacheSet(key string, value interface{}, ttl time.Duration) error {
	if Redis == nil {
		return ErrCacheDisabled
	}
	ctx := context.Background()
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return Redis.Set(ctx, key, data, ttl).Err()
}

// CacheDelete removes a key from Redis cache
func CacheDelete(keys ...string) error {
	if Redis == nil || len(keys) == 0 {
		return nil
	}
	ctx := context.Background()
	return Redis.Del(ctx, keys...).Err()
}

// CacheDeletePattern deletes all keys matching a pattern (use with caution)
func CacheDeletePattern(pattern string) error {
	if Redis == nil {
		return nil
	}
	ctx := context.Background()
	iter := Redis.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) > 0 {
		return Redis.Del(ctx, keys...).Err()
	}
	return nil
}

// InvalidateAccountCache clears account snapshot caches. Called whenever an
// account is written or its ledger state changes.
func InvalidateAccountCache() {
	CacheDelete(CacheKeyAccountQuotas)
	CacheDeletePattern(CacheKeyAccount + "*")
}

// BlacklistToken marks a JWT as revoked until it would have expired anyway.
func BlacklistToken(token string, ttl time.Duration) error {
	if Redis == nil || ttl <= 0 {
		return nil
	}
	ctx := context.Background()
	return Redis.Set(ctx, cacheKeyTokenRevoked+token, "1", ttl).Err()
}

// IsTokenBlacklisted reports whether a JWT has been revoked by logout.
func IsTokenBlacklisted(token string) bool {
	if Redis == nil {
		return false
	}
	ctx := context.Background()
	n, err := Redis.Exists(ctx, cacheKeyTokenRevoked+token).Result()
	return err == nil && n > 0
}
