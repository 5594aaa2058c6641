package cache

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/renderflow/renderflow/pkg/errors"
	"github.com/renderflow/renderflow/pkg/types"
)

// TieredConfig bounds the TTLs the tiered cache will accept.
type TieredConfig struct {
	DefaultTTL time.Duration `yaml:"default_ttl"`
	MinTTL     time.Duration `yaml:"min_ttl"`
	MaxTTL     time.Duration `yaml:"max_ttl"`
}

// TieredCache layers fast tiers over slow ones. Reads walk the tiers in order
// and backfill faster tiers on a hit; writes fan out to every tier and report
// which ones failed without rolling back the ones that succeeded.
type TieredCache struct {
	tiers  []Tier
	config TieredConfig
	sink   types.MetricsSink
	logger *slog.Logger
}

// NewTieredCache layers the given tiers, fastest first.
func NewTieredCache(config TieredConfig, sink types.MetricsSink, logger *slog.Logger, tiers ...Tier) *TieredCache {
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = 5 * time.Minute
	}
	if config.MinTTL <= 0 {
		config.MinTTL = time.Minute
	}
	if config.MaxTTL <= 0 {
		config.MaxTTL = time.Hour
	}
	if sink == nil {
		sink = types.NoopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TieredCache{
		tiers:  tiers,
		config: config,
		sink:   sink,
		logger: logger.With("component", "cache"),
	}
}

// clampTTL keeps a requested TTL inside the configured bounds. Zero means the
// default.
func (c *TieredCache) clampTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		ttl = c.config.DefaultTTL
	}
	if ttl < c.config.MinTTL {
		return c.config.MinTTL
	}
	if ttl > c.config.MaxTTL {
		return c.config.MaxTTL
	}
	return ttl
}

// Get walks the tiers fastest-first and backfills faster tiers on a hit.
func (c *TieredCache) Get(ctx context.Context, key string) (interface{}, bool) {
	for i, tier := range c.tiers {
		value, ok := tier.Get(ctx, key)
		if !ok {
			c.sink.RecordCacheMiss(tier.Name())
			continue
		}
		c.sink.RecordCacheHit(tier.Name())

		// promote into the tiers the lookup fell through
		for j := 0; j < i; j++ {
			if err := c.tiers[j].Set(ctx, key, value, c.config.DefaultTTL, nil); err != nil {
				c.logger.Debug("backfill failed", "tier", c.tiers[j].Name(), "key", key, "error", err)
			}
		}
		return value, true
	}
	return nil, false
}

// Set writes to every tier. If some tiers fail and at least one succeeds the
// returned error carries the failed tier names; the successful writes stand.
func (c *TieredCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration, tags ...string) error {
	ttl = c.clampTTL(ttl)

	var failed []string
	var firstErr error
	for _, tier := range c.tiers {
		if err := tier.Set(ctx, key, value, ttl, tags); err != nil {
			failed = append(failed, tier.Name())
			if firstErr == nil {
				firstErr = err
			}
			c.logger.Warn("tier write failed", "tier", tier.Name(), "key", key, "error", err)
		}
	}

	if len(failed) == 0 {
		return nil
	}
	if len(failed) == len(c.tiers) {
		return errors.WrapError(firstErr, errors.ErrCodeStorageWrite,
			fmt.Sprintf("all tiers rejected key %s", key)).
			WithComponent("cache").WithOperation("set")
	}
	return errors.WrapError(firstErr, errors.ErrCodePartialWrite,
		fmt.Sprintf("key %s written to %d of %d tiers", key, len(c.tiers)-len(failed), len(c.tiers))).
		WithComponent("cache").WithOperation("set").
		WithDetail("failed_tiers", strings.Join(failed, ","))
}

// Delete removes the key from every tier, reporting whether any held it.
func (c *TieredCache) Delete(ctx context.Context, key string) bool {
	found := false
	for _, tier := range c.tiers {
		if tier.Delete(ctx, key) {
			found = true
		}
	}
	return found
}

// DeleteByTags removes tagged entries from every tier and returns the total
// number of entries dropped.
func (c *TieredCache) DeleteByTags(ctx context.Context, tags ...string) int {
	total := 0
	for _, tier := range c.tiers {
		total += tier.DeleteByTags(ctx, tags)
	}
	return total
}

// Stats returns per-tier snapshots keyed by tier name.
func (c *TieredCache) Stats() map[string]types.CacheStats {
	out := make(map[string]types.CacheStats, len(c.tiers))
	for _, tier := range c.tiers {
		out[tier.Name()] = tier.Stats()
	}
	return out
}

// Close shuts down every tier, returning the first failure.
func (c *TieredCache) Close() error {
	var firstErr error
	for _, tier := range c.tiers {
		if err := tier.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
