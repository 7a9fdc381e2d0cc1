// Package cache provides a small Redis-backed read cache. A nil *Cache is
// valid and disables caching, so callers never branch on configuration.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/storyloft/studio_layer/pkg/logger"
)

// Cache wraps a Redis client for JSON value caching.
type Cache struct {
	client *redis.Client
	log    *logger.Logger
}

// New connects to Redis at addr. Returns an error when the server is
// unreachable so callers can degrade to no caching.
func New(ctx context.Context, addr, password string, db int, log *logger.Logger) (*Cache, error) {
	if log == nil {
		log = logger.NewDefault("cache")
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Cache{client: client, log: log}, nil
}

// KeyCurrentVersion is the cache key for an asset's current version.
func KeyCurrentVersion(assetID string) string { return "asset:current:" + assetID }

// KeyWalletBalance is the cache key for a user's wallet account.
func KeyWalletBalance(userID string) string { return "wallet:balance:" + userID }

// GetJSON loads a cached JSON value into dst. Returns false on miss, decode
// failure or when the cache is disabled.
func (c *Cache) GetJSON(ctx context.Context, key string, dst interface{}) bool {
	if c == nil {
		return false
	}
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		c.log.WithError(err).WithField("key", key).Warn("cache decode failed; dropping entry")
		c.client.Del(ctx, key)
		return false
	}
	return true
}

// SetJSON stores a JSON value with a TTL. Failures are logged, not returned;
// the cache is best-effort.
func (c *Cache) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	if c == nil {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		c.log.WithError(err).WithField("key", key).Warn("cache encode failed")
		return
	}
	if err := c.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		c.log.WithError(err).WithField("key", key).Warn("cache set failed")
	}
}

// Delete removes a key.
func (c *Cache) Delete(ctx context.Context, key string) {
	if c == nil {
		return
	}
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.log.WithError(err).WithField("key", key).Warn("cache delete failed")
	}
}

// Close releases the underlying client.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}
