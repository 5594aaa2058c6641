package cache

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func newTestOptimizer(t *testing.T, cfg OptimizerConfig) *CacheOptimizer {
	t.Helper()
	local := newTestLocalTier(t, LocalConfig{MaxBytes: 1 << 20})
	tiered := NewTieredCache(TieredConfig{
		DefaultTTL: time.Minute,
		MinTTL:     time.Millisecond,
		MaxTTL:     time.Hour,
	}, nil, nil, local)
	o := NewCacheOptimizer(cfg, tiered, nil, nil)
	t.Cleanup(func() { o.Close() })
	return o
}

func TestOptimizerGetSet(t *testing.T) {
	o := newTestOptimizer(t, OptimizerConfig{})
	ctx := context.Background()

	if err := o.Set(ctx, "project:1", "metadata", time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	value, ok := o.Get(ctx, "project:1")
	if !ok || value != "metadata" {
		t.Fatalf("expected hit, got %v %v", value, ok)
	}
}

func TestOptimizerHotspotThroughReads(t *testing.T) {
	o := newTestOptimizer(t, OptimizerConfig{
		Hotspot: HotspotConfig{WindowSize: 10, Threshold: 5, RecentFraction: 1.0},
	})
	ctx := context.Background()

	o.Set(ctx, "clip:9", "frames", time.Minute)
	for i := 0; i < 6; i++ {
		o.Get(ctx, "clip:9")
	}

	if !o.IsHotspot("clip:9") {
		t.Error("expected clip:9 flagged hot after repeated reads")
	}
	if got := o.Hotspots(); len(got) != 1 {
		t.Errorf("expected one hotspot, got %v", got)
	}
}

func TestOptimizerEvictionCycleDropsExpired(t *testing.T) {
	o := newTestOptimizer(t, OptimizerConfig{
		MinTTL:           time.Millisecond,
		EvictionInterval: time.Hour,
	})
	ctx := context.Background()

	o.Set(ctx, "short", "v", 10*time.Millisecond)
	o.Set(ctx, "long", "v", time.Hour)

	time.Sleep(30 * time.Millisecond)

	if n := o.RunEvictionCycle(ctx); n != 1 {
		t.Errorf("expected 1 eviction, got %d", n)
	}
	if _, ok := o.Get(ctx, "long"); !ok {
		t.Error("expected unexpired entry to survive the cycle")
	}
}

func TestOptimizerEvictionCycleOverCapacity(t *testing.T) {
	o := newTestOptimizer(t, OptimizerConfig{
		MaxEntries:       10,
		EvictionInterval: time.Hour,
	})
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		o.Set(ctx, fmt.Sprintf("k:%d", i), i, time.Hour)
	}
	// make most keys warmer than the rest
	for i := 5; i < 20; i++ {
		o.Get(ctx, fmt.Sprintf("k:%d", i))
	}

	evicted := o.RunEvictionCycle(ctx)
	if evicted < 1 {
		t.Fatalf("expected coldest tenth evicted, got %d", evicted)
	}

	o.mu.Lock()
	remaining := len(o.expiry)
	o.mu.Unlock()
	if remaining != 20-evicted {
		t.Errorf("expected %d tracked entries, got %d", 20-evicted, remaining)
	}
}

func TestOptimizerHotKeyTTL(t *testing.T) {
	o := newTestOptimizer(t, OptimizerConfig{
		Hotspot: HotspotConfig{WindowSize: 10, Threshold: 5, RecentFraction: 1.0},
	})
	ctx := context.Background()
	base := 10 * time.Minute

	o.Set(ctx, "cold", "v", base)

	o.Set(ctx, "hot", "v", base)
	for i := 0; i < 6; i++ {
		o.Get(ctx, "hot")
	}
	// rapid re-access stretches the TTL and the hot flag doubles it again
	o.Set(ctx, "hot", "v", base)

	o.mu.Lock()
	coldExpiry := o.expiry["cold"]
	hotExpiry := o.expiry["hot"]
	o.mu.Unlock()

	if gap := hotExpiry.Sub(coldExpiry); gap < 15*time.Minute {
		t.Errorf("expected hot key held at least 15m longer, gap %v", gap)
	}
}

func TestOptimizerDeleteForgetsTracking(t *testing.T) {
	o := newTestOptimizer(t, OptimizerConfig{})
	ctx := context.Background()

	o.Set(ctx, "k", "v", time.Minute)
	if !o.Delete(ctx, "k") {
		t.Fatal("expected delete to find the key")
	}
	if _, ok := o.Get(ctx, "k"); ok {
		t.Error("key survived deletion")
	}
	if o.policy.Tracked() != 0 {
		t.Error("expected tracking state dropped with the entry")
	}
}

func TestOptimizerStartStopIdempotent(t *testing.T) {
	o := newTestOptimizer(t, OptimizerConfig{EvictionInterval: 10 * time.Millisecond})
	o.Start()
	o.Start()
	time.Sleep(30 * time.Millisecond)
	o.Stop()
	o.Stop()
}
