package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// DefaultResultTTL is how long an assessment stays cached.
const DefaultResultTTL = 10 * time.Minute

// ResultKey derives the cache key of an assessment. The profile version is
// part of the key, so a reconfiguration never serves results computed under
// the previous thresholds.
func ResultKey(operation string, profileVersion int64, payload ...[]byte) string {
	h := sha256.New()
	for _, p := range payload {
		h.Write(p)
		h.Write([]byte{0})
	}
	return VersionPrefix(profileVersion) + operation + ":" + hex.EncodeToString(h.Sum(nil))
}

// VersionPrefix is the key prefix shared by every result computed under one
// profile version.
func VersionPrefix(profileVersion int64) string {
	return "result:v" + strconv.FormatInt(profileVersion, 10) + ":"
}

// PurgeVersion drops the results of a retired profile version when the cache
// supports prefix purges. Other caches simply let the entries expire.
func PurgeVersion(ctx context.Context, c domain.Cache, profileVersion int64) {
	p, ok := c.(Purger)
	if !ok {
		return
	}
	n, err := p.PurgePrefix(ctx, VersionPrefix(profileVersion))
	if err != nil {
		slog.Warn("failed to purge retired results", "profile_version", profileVersion, "error", err)
		return
	}
	slog.Debug("retired results purged", "profile_version", profileVersion, "count", n)
}

// Lookup reads a JSON-encoded value. Misses, cache errors and undecodable
// entries all report false.
func Lookup[T any](ctx context.Context, c domain.Cache, tenantID, key string) (T, bool) {
	var v T
	if c == nil {
		return v, false
	}
	raw, err := c.Get(ctx, tenantID, key)
	if err != nil {
		slog.Debug("cache read failed", "key", key, "error", err)
		return v, false
	}
	if raw == nil {
		return v, false
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		slog.Warn("dropping undecodable cache entry", "key", key, "error", err)
		_ = c.Delete(ctx, tenantID, key)
		return v, false
	}
	return v, true
}

// Store writes v as JSON. Failures are logged and otherwise ignored.
func Store(ctx context.Context, c domain.Cache, tenantID, key string, v any, ttl time.Duration) {
	if c == nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		slog.Warn("cache encode failed", "key", key, "error", err)
		return
	}
	if err := c.Set(ctx, tenantID, key, raw, ttl); err != nil {
		slog.Debug("cache write failed", "key", key, "error", err)
	}
}
