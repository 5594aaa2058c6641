package cache

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// defaultPreheatDelay is how far ahead a schedule entry lands when no time is
// given.
const defaultPreheatDelay = 5 * time.Minute

// Preheater warms keys ahead of expected demand. A warm-up is a read through
// the tiers, so a key resident in a slower tier gets promoted into the faster
// ones before callers ask for it. Patterns associate a key prefix with related
// keys that are warmed together whenever a scheduled key matches the prefix.
type Preheater struct {
	cache  *TieredCache
	logger *slog.Logger

	mu       sync.Mutex
	patterns map[string][]string
	schedule map[string]time.Time
}

// NewPreheater creates a preheater reading through the given cache.
func NewPreheater(cache *TieredCache, logger *slog.Logger) *Preheater {
	if logger == nil {
		logger = slog.Default()
	}
	return &Preheater{
		cache:    cache,
		logger:   logger.With("component", "preheater"),
		patterns: make(map[string][]string),
		schedule: make(map[string]time.Time),
	}
}

// AddPattern registers related keys to warm alongside any scheduled key that
// starts with prefix. Registering the same prefix again replaces the set.
func (p *Preheater) AddPattern(prefix string, related []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.patterns[prefix] = related
}

// Schedule queues key for warm-up at the given time. A zero time schedules it
// defaultPreheatDelay from now. Rescheduling a pending key moves it.
func (p *Preheater) Schedule(key string, at time.Time) {
	if at.IsZero() {
		at = time.Now().Add(defaultPreheatDelay)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.schedule[key] = at
}

// Pending returns the number of scheduled warm-ups not yet run.
func (p *Preheater) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.schedule)
}

// Warm reads each key through the tiers so slower-tier hits backfill the
// faster ones. Misses are not errors; the count of resident keys is returned.
func (p *Preheater) Warm(ctx context.Context, keys []string) int {
	warmed := 0
	for _, key := range keys {
		if _, ok := p.cache.Get(ctx, key); ok {
			warmed++
		}
	}
	return warmed
}

// RunDue pops every schedule entry due at now and warms it together with the
// related keys of each matching pattern. Returns the number of keys warmed.
func (p *Preheater) RunDue(ctx context.Context, now time.Time) int {
	p.mu.Lock()
	var due []string
	for key, at := range p.schedule {
		if !at.After(now) {
			due = append(due, key)
			delete(p.schedule, key)
		}
	}
	p.mu.Unlock()

	warmed := 0
	for _, key := range due {
		keys := []string{key}
		p.mu.Lock()
		for prefix, related := range p.patterns {
			if strings.HasPrefix(key, prefix) {
				keys = append(keys, related...)
			}
		}
		p.mu.Unlock()

		n := p.Warm(ctx, keys)
		warmed += n
		p.logger.Debug("preheated", "key", key, "warmed", n)
	}
	return warmed
}
