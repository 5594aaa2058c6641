package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/renderflow/renderflow/pkg/types"
)

const hotspotTTLFactor = 2.0

// OptimizerConfig tunes the eviction cycle.
type OptimizerConfig struct {
	MaxEntries       int           `yaml:"max_entries"`
	EvictionInterval time.Duration `yaml:"eviction_interval"`
	DefaultTTL       time.Duration `yaml:"default_ttl"`
	MinTTL           time.Duration `yaml:"min_ttl"`
	MaxTTL           time.Duration `yaml:"max_ttl"`
	Hotspot          HotspotConfig `yaml:"hotspot"`
}

// CacheOptimizer fronts a TieredCache with access-pattern tracking. Reads feed
// the hotspot detector and eviction policy; writes get TTLs adapted to each
// key's rhythm, with hot keys held longer. A background cycle drops expired
// entries, evicts the coldest tenth when over capacity, and runs any warm-ups
// that have come due.
type CacheOptimizer struct {
	cache     *TieredCache
	policy    *AdaptiveEvictionPolicy
	detector  *HotspotDetector
	preheater *Preheater
	sink      types.MetricsSink
	logger    *slog.Logger
	config    OptimizerConfig

	mu      sync.Mutex
	expiry  map[string]time.Time
	started bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewCacheOptimizer wraps the given tiered cache.
func NewCacheOptimizer(config OptimizerConfig, cache *TieredCache, sink types.MetricsSink, logger *slog.Logger) *CacheOptimizer {
	if config.MaxEntries <= 0 {
		config.MaxEntries = 1000
	}
	if config.EvictionInterval <= 0 {
		config.EvictionInterval = time.Minute
	}
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
	return &CacheOptimizer{
		cache:     cache,
		policy:    NewAdaptiveEvictionPolicy(config.MinTTL, config.MaxTTL),
		detector:  NewHotspotDetector(config.Hotspot),
		preheater: NewPreheater(cache, logger),
		sink:      sink,
		logger:    logger.With("component", "optimizer"),
		config:    config,
		expiry:    make(map[string]time.Time),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start launches the eviction cycle. Calling Start twice is a no-op.
func (o *CacheOptimizer) Start() {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return
	}
	o.started = true
	o.mu.Unlock()

	go o.evictionLoop()
	o.logger.Info("cache optimizer started", "eviction_interval", o.config.EvictionInterval)
}

// Stop halts the eviction cycle and waits for it to drain.
func (o *CacheOptimizer) Stop() {
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return
	}
	o.started = false
	o.mu.Unlock()

	close(o.stopCh)
	<-o.doneCh
}

// Get reads through the tiers, recording the access for pattern tracking.
func (o *CacheOptimizer) Get(ctx context.Context, key string) (interface{}, bool) {
	start := time.Now()
	value, ok := o.cache.Get(ctx, key)
	if ok {
		o.policy.RecordAccess(key)
		o.detector.Record(key)
	}
	o.sink.RecordOperation("cache_get", time.Since(start), ok, map[string]string{"key": key})
	return value, ok
}

// Set writes through the tiers with a TTL adapted to the key's access rhythm.
// Hot keys get double the adapted TTL, capped at the configured maximum.
func (o *CacheOptimizer) Set(ctx context.Context, key string, value interface{}, ttl time.Duration, tags ...string) error {
	start := time.Now()
	if ttl <= 0 {
		ttl = o.config.DefaultTTL
	}

	o.policy.Track(key)
	ttl = o.policy.AdaptTTL(key, ttl)
	if o.detector.IsHotspot(key) {
		ttl = time.Duration(float64(ttl) * hotspotTTLFactor)
		if ttl > o.config.MaxTTL {
			ttl = o.config.MaxTTL
		}
	}

	err := o.cache.Set(ctx, key, value, ttl, tags...)
	if err == nil {
		o.mu.Lock()
		o.expiry[key] = time.Now().Add(ttl)
		o.mu.Unlock()
	}
	o.sink.RecordOperation("cache_set", time.Since(start), err == nil, map[string]string{"key": key})
	return err
}

// Delete removes the key from every tier and drops its tracking state.
func (o *CacheOptimizer) Delete(ctx context.Context, key string) bool {
	found := o.cache.Delete(ctx, key)
	o.policy.Forget(key)
	o.mu.Lock()
	delete(o.expiry, key)
	o.mu.Unlock()
	return found
}

// DeleteByTags invalidates tagged entries across every tier.
func (o *CacheOptimizer) DeleteByTags(ctx context.Context, tags ...string) int {
	return o.cache.DeleteByTags(ctx, tags...)
}

// Warmup reads the given keys through the tiers so slower-tier hits are
// promoted into the faster ones. Reads here bypass access tracking so warm-ups
// do not skew hotspot or eviction scoring.
func (o *CacheOptimizer) Warmup(ctx context.Context, keys []string) int {
	return o.preheater.Warm(ctx, keys)
}

// AddPreheatPattern registers related keys warmed together with any scheduled
// key matching the prefix.
func (o *CacheOptimizer) AddPreheatPattern(prefix string, related []string) {
	o.preheater.AddPattern(prefix, related)
}

// SchedulePreheat queues key for warm-up at the given time; a zero time means
// five minutes from now. The background cycle runs due warm-ups.
func (o *CacheOptimizer) SchedulePreheat(key string, at time.Time) {
	o.preheater.Schedule(key, at)
}

// IsHotspot reports whether the key is currently flagged hot.
func (o *CacheOptimizer) IsHotspot(key string) bool {
	return o.detector.IsHotspot(key)
}

// Hotspots returns the currently hot keys.
func (o *CacheOptimizer) Hotspots() []string {
	return o.detector.Hotspots()
}

// Stats returns per-tier snapshots from the underlying cache.
func (o *CacheOptimizer) Stats() map[string]types.CacheStats {
	return o.cache.Stats()
}

// Close stops the cycle if running and shuts down the tiers.
func (o *CacheOptimizer) Close() error {
	o.Stop()
	return o.cache.Close()
}

func (o *CacheOptimizer) evictionLoop() {
	defer close(o.doneCh)
	ticker := time.NewTicker(o.config.EvictionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.stopCh:
			return
		case <-ticker.C:
			o.RunEvictionCycle(context.Background())
			o.preheater.RunDue(context.Background(), time.Now())
		}
	}
}

// RunEvictionCycle drops expired entries, then if the tracked set still
// exceeds the entry budget evicts the lowest-scored tenth, at least one.
func (o *CacheOptimizer) RunEvictionCycle(ctx context.Context) int {
	now := time.Now()

	o.mu.Lock()
	var expired []string
	for key, at := range o.expiry {
		if now.After(at) {
			expired = append(expired, key)
			delete(o.expiry, key)
		}
	}
	remaining := len(o.expiry)
	o.mu.Unlock()

	for _, key := range expired {
		o.cache.Delete(ctx, key)
		o.policy.Forget(key)
	}

	evicted := len(expired)
	if remaining > o.config.MaxEntries {
		n := remaining / 10
		if n < 1 {
			n = 1
		}
		for _, key := range o.policy.Coldest(n) {
			if o.Delete(ctx, key) {
				evicted++
			} else {
				o.policy.Forget(key)
			}
		}
	}

	if evicted > 0 {
		o.sink.RecordEviction("optimizer", evicted)
		o.logger.Debug("eviction cycle complete", "expired", len(expired), "evicted", evicted)
	}
	return evicted
}
