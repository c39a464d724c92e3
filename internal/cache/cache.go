package cache

import (
	"context"
	"fmt"

	"github.com/opensource-finance/harrier/internal/domain"
)

// New builds the cache for cfg: an LRU for "memory", Redis for "redis",
// and Redis behind an LRU when two-phase caching is enabled.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "", "memory":
		return NewLRUCacheWithBudget(cfg.LocalMaxSize, cfg.LocalMaxBytes), nil
	case "redis":
		if cfg.EnableTwoPhase {
			return NewTwoPhaseCache(cfg)
		}
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	}
	return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
}

// Purger drops one key prefix for every tenant. Result keys start with the
// profile version, so this is how a retired profile's results go away.
type Purger interface {
	PurgePrefix(ctx context.Context, prefix string) (int, error)
}

// StatsReporter exposes in-process occupancy counters for metrics.
type StatsReporter interface {
	CacheStats() domain.CacheStats
}
