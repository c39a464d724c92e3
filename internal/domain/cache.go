package domain

import (
	"context"
	"time"
)

// Cache stores serialized assessment results keyed per tenant. A miss is
// reported as (nil, nil).
type Cache interface {
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, tenantID string, key string) error
	Ping(ctx context.Context) error
	Close() error
}

// CacheConfig picks an in-process LRU ("memory") or Redis ("redis"),
// optionally fronted by an LRU when EnableTwoPhase is set.
type CacheConfig struct {
	Type string

	// LocalMaxBytes bounds the summed size of cached values; 0 bounds only
	// the entry count.
	LocalMaxSize  int
	LocalMaxBytes int64
	LocalTTL      time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	EnableTwoPhase bool
}

// CacheStats reports the occupancy and effectiveness of a cache.
type CacheStats struct {
	Entries   int    `json:"entries"`
	Capacity  int    `json:"capacity"`
	Bytes     int64  `json:"bytes"`
	MaxBytes  int64  `json:"maxBytes,omitempty"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
}
