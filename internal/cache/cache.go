package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/campusbridge/campusbridge/internal/logger"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "campusbridge:"

// Cache is a thin JSON cache over Redis. Read errors are logged and reported
// as misses so callers fall back to the database.
type Cache struct {
	client *redis.Client
	log    *logger.Logger
}

func New(ctx context.Context, addr string) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	c := NewWithClient(client)
	c.log.Info(ctx, "connected to redis", map[string]interface{}{"addr": addr})
	return c, nil
}

func NewWithClient(client *redis.Client) *Cache {
	return &Cache{client: client, log: logger.Default().WithComponent("cache")}
}

func (c *Cache) Close() error {
	return c.client.Close()
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// GetJSON decodes the cached value for key into dst and reports whether it
// was found.
func (c *Cache) GetJSON(ctx context.Context, key string, dst any) bool {
	val, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		c.log.Debug(ctx, "cache miss", map[string]interface{}{"key": key})
		return false
	}
	if err != nil {
		c.log.Warn(ctx, "cache read failed", map[string]interface{}{"key": key, "error": err.Error()})
		return false
	}
	if err := json.Unmarshal(val, dst); err != nil {
		c.log.Warn(ctx, "cache entry undecodable", map[string]interface{}{"key": key, "error": err.Error()})
		return false
	}
	c.log.Debug(ctx, "cache hit", map[string]interface{}{"key": key})
	return true
}

func (c *Cache) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, keyPrefix+key, data, ttl).Err(); err != nil {
		c.log.Warn(ctx, "cache write failed", map[string]interface{}{"key": key, "error": err.Error()})
		return err
	}
	return nil
}

func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = keyPrefix + k
	}
	if err := c.client.Del(ctx, prefixed...).Err(); err != nil {
		c.log.Warn(ctx, "cache invalidation failed", map[string]interface{}{"keys": keys, "error": err.Error()})
		return err
	}
	return nil
}
