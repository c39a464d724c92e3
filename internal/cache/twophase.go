package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/opensource-finance/harrier/internal/domain"
)

const defaultL1TTL = 5 * time.Minute

// TwoPhaseCache reads through a local LRU (L1) to Redis (L2). Concurrent
// L1 misses for one key share a single Redis round trip, and an unreachable
// Redis degrades reads to misses rather than failing the assessment.
type TwoPhaseCache struct {
	local  *LRUCache
	remote *RedisCache
	l1TTL  time.Duration
	loads  singleflight.Group
}

// NewTwoPhaseCache connects to Redis and sizes L1 from cfg.
func NewTwoPhaseCache(cfg domain.CacheConfig) (*TwoPhaseCache, error) {
	remote, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis cache: %w", err)
	}

	ttl := cfg.LocalTTL
	if ttl <= 0 {
		ttl = defaultL1TTL
	}
	return &TwoPhaseCache{
		local:  NewLRUCacheWithBudget(cfg.LocalMaxSize, cfg.LocalMaxBytes),
		remote: remote,
		l1TTL:  ttl,
	}, nil
}

func (c *TwoPhaseCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	val, err := c.local.Get(ctx, tenantID, key)
	if err != nil || val != nil {
		return val, err
	}

	v, err, _ := c.loads.Do(tenantID+"\x00"+key, func() (any, error) {
		remote, err := c.remote.Get(ctx, tenantID, key)
		if err != nil {
			return nil, err
		}
		if remote != nil {
			_ = c.local.Set(ctx, tenantID, key, remote, c.l1TTL)
		}
		return remote, nil
	})
	if err != nil {
		slog.Warn("redis read failed, treating as miss", "tenant_id", tenantID, "error", err)
		return nil, nil
	}
	if v == nil {
		return nil, nil
	}
	return v.([]byte), nil
}

// Set writes L1 with min(ttl, L1 TTL) and L2 with the full ttl.
func (c *TwoPhaseCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if err := c.local.Set(ctx, tenantID, key, value, min(ttl, c.l1TTL)); err != nil {
		return err
	}
	return c.remote.Set(ctx, tenantID, key, value, ttl)
}

func (c *TwoPhaseCache) Delete(ctx context.Context, tenantID string, key string) error {
	if err := c.local.Delete(ctx, tenantID, key); err != nil {
		return err
	}
	return c.remote.Delete(ctx, tenantID, key)
}

// Ping only probes L2; L1 is always available.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("L2 ping failed: %w", err)
	}
	return nil
}

func (c *TwoPhaseCache) Close() error {
	_ = c.local.Close()
	return c.remote.Close()
}

// PurgePrefix clears both levels and reports the L2 count, L1 being a
// subset of L2.
func (c *TwoPhaseCache) PurgePrefix(ctx context.Context, prefix string) (int, error) {
	if _, err := c.local.PurgePrefix(ctx, prefix); err != nil {
		return 0, err
	}
	return c.remote.PurgePrefix(ctx, prefix)
}

// CacheStats describes L1 only.
func (c *TwoPhaseCache) CacheStats() domain.CacheStats {
	return c.local.CacheStats()
}
