package thresholds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mbd888/securityguard/internal/chain"
)

// Cache is a read-through cache for resolutions. Failures are never fatal;
// the Service falls back to the Store.
type Cache interface {
	Get(ctx context.Context, key chain.Address) (Resolution, bool, error)
	Put(ctx context.Context, key chain.Address, r Resolution) error
	Invalidate(ctx context.Context, keys ...chain.Address) error
	// Flush drops every cached resolution.
	Flush(ctx context.Context) error
}

const defaultCacheTTL = 5 * time.Minute

// RedisCache stores resolutions in Redis as JSON.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache connects to url (redis://...) and verifies the connection.
func NewRedisCache(ctx context.Context, url string) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisCache{client: client, prefix: "sg:thresholds:", ttl: defaultCacheTTL}, nil
}

var _ Cache = (*RedisCache)(nil)

func (c *RedisCache) key(addr chain.Address) string {
	if addr == "" {
		return c.prefix + "global"
	}
	return c.prefix + string(addr)
}

func (c *RedisCache) Get(ctx context.Context, addr chain.Address) (Resolution, bool, error) {
	val, err := c.client.Get(ctx, c.key(addr)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Resolution{}, false, nil
	}
	if err != nil {
		return Resolution{}, false, err
	}
	var r Resolution
	if err := json.Unmarshal(val, &r); err != nil {
		return Resolution{}, false, err
	}
	return r, true, nil
}

func (c *RedisCache) Put(ctx context.Context, addr chain.Address, r Resolution) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(addr), data, c.ttl).Err()
}

func (c *RedisCache) Invalidate(ctx context.Context, addrs ...chain.Address) error {
	keys := make([]string, len(addrs))
	for i, a := range addrs {
		keys[i] = c.key(a)
	}
	return c.client.Del(ctx, keys...).Err()
}

// Flush scans and deletes every key under the cache prefix.
func (c *RedisCache) Flush(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

// Ping checks connectivity for health reporting.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
