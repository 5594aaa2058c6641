package cache

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/renderflow/renderflow/pkg/types"
)

// LocalConfig represents the in-memory tier configuration
type LocalConfig struct {
	MaxBytes        int64         `yaml:"max_bytes"`
	MaxEntries      int           `yaml:"max_entries"`
	DefaultTTL      time.Duration `yaml:"default_ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// localEntry holds a live value plus eviction bookkeeping.
type localEntry struct {
	value        interface{}
	size         int64
	createdAt    time.Time
	lastAccessed time.Time
	accessCount  int64
	ttl          time.Duration
	tags         []string
}

func (e *localEntry) expired(now time.Time) bool {
	return e.ttl > 0 && now.Sub(e.createdAt) > e.ttl
}

// LocalTier is an LRU-with-TTL store bounded by a byte budget. Values are held
// live, never serialized. Expired entries are reaped by the background pass,
// not eagerly on read.
type LocalTier struct {
	mu      sync.Mutex
	entries map[string]*localEntry
	size    int64
	config  LocalConfig
	logger  *slog.Logger

	hits      uint64
	misses    uint64
	evictions uint64

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewLocalTier creates the in-memory tier and starts its maintenance pass.
func NewLocalTier(config LocalConfig, logger *slog.Logger) *LocalTier {
	if config.MaxBytes <= 0 {
		config.MaxBytes = 100 << 20
	}
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = 5 * time.Minute
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}

	t := &LocalTier{
		entries: make(map[string]*localEntry),
		config:  config,
		logger:  logger.With("tier", TierLocal),
		stopCh:  make(chan struct{}),
	}

	go t.maintenanceLoop()

	return t
}

func (t *LocalTier) Name() string { return TierLocal }

// Get returns the value if present and inside its TTL, updating access
// bookkeeping. Expired entries read as misses but stay until the next pass.
func (t *LocalTier) Get(ctx context.Context, key string) (interface{}, bool) {
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[key]
	if !ok || entry.expired(now) {
		t.misses++
		return nil, false
	}

	entry.lastAccessed = now
	entry.accessCount++
	t.hits++
	return entry.value, true
}

// Set stores a value, evicting by ascending (accessCount, lastAccessed) until
// the byte budget has room.
func (t *LocalTier) Set(ctx context.Context, key string, value interface{}, ttl time.Duration, tags []string) error {
	if ttl <= 0 {
		ttl = t.config.DefaultTTL
	}
	size := estimateSize(value)
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if old, ok := t.entries[key]; ok {
		t.size -= old.size
		delete(t.entries, key)
	}

	for t.size+size > t.config.MaxBytes && len(t.entries) > 0 {
		t.evictOneLocked()
	}
	if t.config.MaxEntries > 0 {
		for len(t.entries) >= t.config.MaxEntries {
			t.evictOneLocked()
		}
	}

	t.entries[key] = &localEntry{
		value:        value,
		size:         size,
		createdAt:    now,
		lastAccessed: now,
		accessCount:  1,
		ttl:          ttl,
		tags:         append([]string(nil), tags...),
	}
	t.size += size

	return nil
}

// Delete removes a single key.
func (t *LocalTier) Delete(ctx context.Context, key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry, ok := t.entries[key]; ok {
		t.size -= entry.size
		delete(t.entries, key)
		return true
	}
	return false
}

// DeleteByTags removes every entry carrying any of the given tags and returns
// the number removed.
func (t *LocalTier) DeleteByTags(ctx context.Context, tags []string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	var victims []string
	for key, entry := range t.entries {
		if hasAnyTag(entry.tags, tags) {
			victims = append(victims, key)
		}
	}
	for _, key := range victims {
		t.size -= t.entries[key].size
		delete(t.entries, key)
	}
	return len(victims)
}

// Stats returns a snapshot of tier counters.
func (t *LocalTier) Stats() types.CacheStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := types.CacheStats{
		Hits:      t.hits,
		Misses:    t.misses,
		Evictions: t.evictions,
		Entries:   len(t.entries),
		Size:      t.size,
		Capacity:  t.config.MaxBytes,
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	if stats.Capacity > 0 {
		stats.Utilization = float64(stats.Size) / float64(stats.Capacity)
	}
	return stats
}

// Close stops the maintenance loop.
func (t *LocalTier) Close() error {
	t.stopOnce.Do(func() { close(t.stopCh) })
	return nil
}

// evictOneLocked removes the entry with the lowest (accessCount, lastAccessed).
func (t *LocalTier) evictOneLocked() {
	var victim string
	var victimEntry *localEntry
	for key, entry := range t.entries {
		if victimEntry == nil ||
			entry.accessCount < victimEntry.accessCount ||
			(entry.accessCount == victimEntry.accessCount && entry.lastAccessed.Before(victimEntry.lastAccessed)) {
			victim = key
			victimEntry = entry
		}
	}
	if victimEntry != nil {
		t.size -= victimEntry.size
		delete(t.entries, victim)
		t.evictions++
	}
}

func (t *LocalTier) maintenanceLoop() {
	ticker := time.NewTicker(t.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C:
			t.maintain()
		}
	}
}

// maintain removes TTL-expired entries, then evicts by ascending
// (accessCount, lastAccessed) while still over the byte budget.
func (t *LocalTier) maintain() {
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	for key, entry := range t.entries {
		if entry.expired(now) {
			t.size -= entry.size
			delete(t.entries, key)
			t.evictions++
		}
	}

	if t.size <= t.config.MaxBytes {
		return
	}

	type candidate struct {
		key   string
		entry *localEntry
	}
	candidates := make([]candidate, 0, len(t.entries))
	for key, entry := range t.entries {
		candidates = append(candidates, candidate{key, entry})
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i].entry, candidates[j].entry
		if a.accessCount != b.accessCount {
			return a.accessCount < b.accessCount
		}
		return a.lastAccessed.Before(b.lastAccessed)
	})

	for _, c := range candidates {
		if t.size <= t.config.MaxBytes {
			break
		}
		t.size -= c.entry.size
		delete(t.entries, c.key)
		t.evictions++
	}
}

var _ Tier = (*LocalTier)(nil)
