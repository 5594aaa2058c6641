package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/renderflow/renderflow/pkg/errors"
	"github.com/renderflow/renderflow/pkg/retry"
	"github.com/renderflow/renderflow/pkg/types"
)

// RemoteConfig represents the networked tier configuration
type RemoteConfig struct {
	DefaultTTL time.Duration `yaml:"default_ttl"`
	KeyPrefix  string        `yaml:"key_prefix"`
	Retry      retry.Config  `yaml:"retry"`
}

// RemoteTier fronts an opaque networked key/value store. Read failures degrade
// to misses; write failures are retried, then returned to the caller so the
// tiered cache can report a partial write. Tags are kept in a local index only,
// so tag deletion covers keys written by this instance (cross-instance
// staleness is bounded by TTL, by contract).
type RemoteTier struct {
	store      types.RemoteStore
	serializer types.Serializer
	config     RemoteConfig
	retryer    *retry.Retryer
	logger     *slog.Logger

	mu        sync.Mutex
	tagIndex  map[string][]string // key -> tags
	hits      uint64
	misses    uint64
	evictions uint64
}

// NewRemoteTier creates the remote tier over store.
func NewRemoteTier(store types.RemoteStore, serializer types.Serializer, config RemoteConfig, logger *slog.Logger) *RemoteTier {
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = time.Hour
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "renderflow:cache:"
	}
	if serializer == nil {
		serializer = JSONSerializer{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &RemoteTier{
		store:      store,
		serializer: serializer,
		config:     config,
		retryer:    retry.New(config.Retry),
		logger:     logger.With("tier", TierRemote),
		tagIndex:   make(map[string][]string),
	}
}

func (t *RemoteTier) Name() string { return TierRemote }

func (t *RemoteTier) storeKey(key string) string {
	return t.config.KeyPrefix + key
}

// Get fetches and decodes a value. Any store or decode failure is a miss.
func (t *RemoteTier) Get(ctx context.Context, key string) (interface{}, bool) {
	data, err := t.store.Get(ctx, t.storeKey(key))
	if err != nil {
		if !errors.IsCode(err, errors.ErrCodeObjectNotFound) {
			t.logger.Warn("remote get failed, treating as miss", "key", key, "error", err)
		}
		t.recordMiss()
		return nil, false
	}
	if data == nil {
		t.recordMiss()
		return nil, false
	}

	value, err := t.serializer.Decode(data)
	if err != nil {
		t.logger.Warn("remote decode failed, treating as miss", "key", key, "error", err)
		t.recordMiss()
		return nil, false
	}

	t.recordHit()
	return value, true
}

// Set encodes and writes a value with the given TTL, retrying transient
// failures.
func (t *RemoteTier) Set(ctx context.Context, key string, value interface{}, ttl time.Duration, tags []string) error {
	if ttl <= 0 {
		ttl = t.config.DefaultTTL
	}

	data, err := t.serializer.Encode(value)
	if err != nil {
		return err
	}

	err = t.retryer.DoWithContext(ctx, func(ctx context.Context) error {
		if err := t.store.Set(ctx, t.storeKey(key), data, ttl); err != nil {
			return errors.WrapError(err, errors.ErrCodeStorageWrite, "remote set failed").
				WithComponent("cache").WithOperation("set")
		}
		return nil
	})
	if err != nil {
		return err
	}

	t.mu.Lock()
	if len(tags) > 0 {
		t.tagIndex[key] = append([]string(nil), tags...)
	} else {
		delete(t.tagIndex, key)
	}
	t.mu.Unlock()

	return nil
}

// Delete removes a key from the store.
func (t *RemoteTier) Delete(ctx context.Context, key string) bool {
	deleted, err := t.store.Delete(ctx, t.storeKey(key))
	if err != nil {
		t.logger.Warn("remote delete failed", "key", key, "error", err)
		return false
	}

	t.mu.Lock()
	delete(t.tagIndex, key)
	t.mu.Unlock()

	return deleted
}

// DeleteByTags removes keys this instance tagged with any of the given tags.
func (t *RemoteTier) DeleteByTags(ctx context.Context, tags []string) int {
	t.mu.Lock()
	var victims []string
	for key, entryTags := range t.tagIndex {
		if hasAnyTag(entryTags, tags) {
			victims = append(victims, key)
		}
	}
	t.mu.Unlock()

	count := 0
	for _, key := range victims {
		if t.Delete(ctx, key) {
			count++
		}
	}
	return count
}

// Stats returns hit/miss counters. Entry counts and sizes live in the remote
// store and are not tracked here.
func (t *RemoteTier) Stats() types.CacheStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := types.CacheStats{
		Hits:      t.hits,
		Misses:    t.misses,
		Evictions: t.evictions,
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}

func (t *RemoteTier) Close() error { return nil }

func (t *RemoteTier) recordHit() {
	t.mu.Lock()
	t.hits++
	t.mu.Unlock()
}

func (t *RemoteTier) recordMiss() {
	t.mu.Lock()
	t.misses++
	t.mu.Unlock()
}

var _ Tier = (*RemoteTier)(nil)
