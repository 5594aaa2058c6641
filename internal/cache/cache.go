// Package cache implements the tiered cache: a local in-memory tier, a remote
// store-backed tier and a persistent disk tier composed behind one surface,
// plus the hotspot detector, adaptive eviction policy and optimizer that
// maintain it.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/renderflow/renderflow/pkg/types"
)

// Tier names used for selection, stats and metrics labels.
const (
	TierLocal  = "local"
	TierRemote = "remote"
	TierDisk   = "disk"
)

// Tier is a single cache backing store. A tier never returns errors to the
// read path: an unreachable backend degrades to a miss, and write failures are
// returned so the tiered cache can surface partial writes.
type Tier interface {
	Name() string
	Get(ctx context.Context, key string) (interface{}, bool)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration, tags []string) error
	Delete(ctx context.Context, key string) bool
	DeleteByTags(ctx context.Context, tags []string) int
	Stats() types.CacheStats
	Close() error
}

// estimateSize approximates the in-memory footprint of a cache value: byte and
// string lengths directly, everything else by JSON length with a flat fallback.
func estimateSize(value interface{}) int64 {
	switch v := value.(type) {
	case nil:
		return 0
	case []byte:
		return int64(len(v))
	case string:
		return int64(len(v))
	default:
		if data, err := json.Marshal(v); err == nil {
			return int64(len(data))
		}
		return 100
	}
}

func hasAnyTag(entryTags, wanted []string) bool {
	for _, tag := range wanted {
		for _, have := range entryTags {
			if have == tag {
				return true
			}
		}
	}
	return false
}
