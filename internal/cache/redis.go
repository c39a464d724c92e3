package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache stores results under "harrier:<tenant>:<key>" so instances
// behind a load balancer share work.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache dials addr and fails fast when Redis does not answer a PING
// within five seconds.
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return &RedisCache{client: client}, nil
}

func (c *RedisCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	fullKey, err := c.tenantKey(tenantID, key)
	if err != nil {
		return nil, err
	}
	val, err := c.client.Get(ctx, fullKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return val, err
}

func (c *RedisCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	fullKey, err := c.tenantKey(tenantID, key)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, fullKey, value, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, tenantID string, key string) error {
	fullKey, err := c.tenantKey(tenantID, key)
	if err != nil {
		return err
	}
	return c.client.Del(ctx, fullKey).Err()
}

// PurgePrefix removes every tenant's keys starting with prefix, scanning in
// batches so large keyspaces do not block Redis.
func (c *RedisCache) PurgePrefix(ctx context.Context, prefix string) (int, error) {
	if prefix == "" {
		return 0, fmt.Errorf("prefix is required")
	}

	pattern := keyPrefix + "*:" + escapeGlob(prefix) + "*"
	var (
		cursor uint64
		n      int
	)
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, purgeBatch).Result()
		if err != nil {
			return n, fmt.Errorf("failed to scan keys: %w", err)
		}
		if len(keys) > 0 {
			removed, err := c.client.Unlink(ctx, keys...).Result()
			if err != nil {
				return n, fmt.Errorf("failed to unlink keys: %w", err)
			}
			n += int(removed)
		}
		if next == 0 {
			return n, nil
		}
		cursor = next
	}
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

const (
	keyPrefix  = "harrier:"
	purgeBatch = 500
)

func (c *RedisCache) tenantKey(tenantID, key string) (string, error) {
	if tenantID == "" {
		return "", fmt.Errorf("tenantID is required")
	}
	return keyPrefix + tenantID + ":" + key, nil
}

// escapeGlob quotes the characters Redis MATCH treats as pattern syntax.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
