package cache

import (
	"sync"
	"time"
)

const (
	recencyWeight   = 0.6
	frequencyWeight = 0.4

	// adaptive TTL interval thresholds
	fastAccessInterval = time.Minute
	slowAccessInterval = 30 * time.Minute
	ttlGrowFactor      = 1.5
	ttlShrinkFactor    = 0.8

	patternSamples = 10
	minSamples     = 3
)

// entryMeta is the per-key bookkeeping the eviction policy scores against.
type entryMeta struct {
	createdAt    time.Time
	lastAccessed time.Time
	accessCount  int64
	recent       []time.Time
}

// AdaptiveEvictionPolicy scores entries by recency and frequency and adapts
// TTLs to each key's observed access rhythm. Keys touched more often than once
// a minute get longer TTLs; keys idle beyond half an hour get shorter ones.
type AdaptiveEvictionPolicy struct {
	mu      sync.Mutex
	entries map[string]*entryMeta
	minTTL  time.Duration
	maxTTL  time.Duration
}

// NewAdaptiveEvictionPolicy creates a policy with the given TTL bounds.
func NewAdaptiveEvictionPolicy(minTTL, maxTTL time.Duration) *AdaptiveEvictionPolicy {
	if minTTL <= 0 {
		minTTL = time.Minute
	}
	if maxTTL <= 0 {
		maxTTL = time.Hour
	}
	return &AdaptiveEvictionPolicy{
		entries: make(map[string]*entryMeta),
		minTTL:  minTTL,
		maxTTL:  maxTTL,
	}
}

// Track registers a key the first time it is written.
func (p *AdaptiveEvictionPolicy) Track(key string) {
	now := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.entries[key]; !ok {
		p.entries[key] = &entryMeta{createdAt: now, lastAccessed: now}
	}
}

// RecordAccess notes a read of key, keeping the last few timestamps for
// interval analysis.
func (p *AdaptiveEvictionPolicy) RecordAccess(key string) {
	now := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()

	m, ok := p.entries[key]
	if !ok {
		m = &entryMeta{createdAt: now}
		p.entries[key] = m
	}
	m.lastAccessed = now
	m.accessCount++
	m.recent = append(m.recent, now)
	if len(m.recent) > patternSamples {
		m.recent = m.recent[len(m.recent)-patternSamples:]
	}
}

// Forget drops bookkeeping for an evicted or deleted key.
func (p *AdaptiveEvictionPolicy) Forget(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, key)
}

// Score rates how much an entry deserves to stay. Higher is stickier; unknown
// keys score zero.
func (p *AdaptiveEvictionPolicy) Score(key string) float64 {
	now := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()

	m, ok := p.entries[key]
	if !ok {
		return 0
	}
	return p.scoreLocked(m, now)
}

func (p *AdaptiveEvictionPolicy) scoreLocked(m *entryMeta, now time.Time) float64 {
	recency := 1.0 / (now.Sub(m.lastAccessed).Seconds() + 1)
	frequency := float64(m.accessCount) / (now.Sub(m.createdAt).Seconds() + 1)
	return recencyWeight*recency + frequencyWeight*frequency
}

// AdaptTTL stretches or shrinks a TTL based on the key's mean access interval.
// Keys without enough history keep the TTL unchanged.
func (p *AdaptiveEvictionPolicy) AdaptTTL(key string, ttl time.Duration) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	m, ok := p.entries[key]
	if !ok || len(m.recent) < minSamples {
		return ttl
	}

	var total time.Duration
	for i := 1; i < len(m.recent); i++ {
		total += m.recent[i].Sub(m.recent[i-1])
	}
	mean := total / time.Duration(len(m.recent)-1)

	switch {
	case mean < fastAccessInterval:
		ttl = time.Duration(float64(ttl) * ttlGrowFactor)
		if ttl > p.maxTTL {
			ttl = p.maxTTL
		}
	case mean > slowAccessInterval:
		ttl = time.Duration(float64(ttl) * ttlShrinkFactor)
		if ttl < p.minTTL {
			ttl = p.minTTL
		}
	}
	return ttl
}

// Coldest returns up to n tracked keys ordered by ascending score.
func (p *AdaptiveEvictionPolicy) Coldest(n int) []string {
	now := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()

	type scored struct {
		key   string
		score float64
	}
	all := make([]scored, 0, len(p.entries))
	for key, m := range p.entries {
		all = append(all, scored{key: key, score: p.scoreLocked(m, now)})
	}

	// selection by repeated minimum keeps this simple; eviction batches are
	// small relative to the tracked set
	keys := make([]string, 0, n)
	for len(keys) < n && len(all) > 0 {
		min := 0
		for i := 1; i < len(all); i++ {
			if all[i].score < all[min].score {
				min = i
			}
		}
		keys = append(keys, all[min].key)
		all = append(all[:min], all[min+1:]...)
	}
	return keys
}

// Tracked returns how many keys the policy is currently scoring.
func (p *AdaptiveEvictionPolicy) Tracked() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
