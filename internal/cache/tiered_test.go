package cache

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/renderflow/renderflow/pkg/errors"
	"github.com/renderflow/renderflow/pkg/types"
)

// failingTier rejects every write, for partial-write coverage.
type failingTier struct {
	name string
}

func (f *failingTier) Name() string { return f.name }
func (f *failingTier) Get(ctx context.Context, key string) (interface{}, bool) {
	return nil, false
}
func (f *failingTier) Set(ctx context.Context, key string, value interface{}, ttl time.Duration, tags []string) error {
	return fmt.Errorf("tier %s unavailable", f.name)
}
func (f *failingTier) Delete(ctx context.Context, key string) bool         { return false }
func (f *failingTier) DeleteByTags(ctx context.Context, tags []string) int { return 0 }
func (f *failingTier) Stats() types.CacheStats                             { return types.CacheStats{} }
func (f *failingTier) Close() error                                        { return nil }

func newTestTieredCache(t *testing.T, tiers ...Tier) *TieredCache {
	t.Helper()
	c := NewTieredCache(TieredConfig{
		DefaultTTL: time.Minute,
		MinTTL:     time.Second,
		MaxTTL:     time.Hour,
	}, nil, nil, tiers...)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestTieredFallthroughAndBackfill(t *testing.T) {
	fast := newTestLocalTier(t, LocalConfig{MaxBytes: 1 << 20})
	slow := newTestLocalTier(t, LocalConfig{MaxBytes: 1 << 20})
	c := newTestTieredCache(t, fast, slow)
	ctx := context.Background()

	// seed only the slow tier
	if err := slow.Set(ctx, "clip:7", "frames", time.Minute, nil); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	value, ok := c.Get(ctx, "clip:7")
	if !ok || value != "frames" {
		t.Fatalf("expected hit from slow tier, got %v %v", value, ok)
	}

	// the hit must have been promoted into the fast tier
	if _, ok := fast.Get(ctx, "clip:7"); !ok {
		t.Error("expected backfill into the faster tier")
	}
}

func TestTieredPartialWrite(t *testing.T) {
	good := newTestLocalTier(t, LocalConfig{MaxBytes: 1 << 20})
	bad := &failingTier{name: "remote"}
	c := newTestTieredCache(t, good, bad)
	ctx := context.Background()

	err := c.Set(ctx, "k", "v", time.Minute)
	if !errors.IsCode(err, errors.ErrCodePartialWrite) {
		t.Fatalf("expected partial write error, got %v", err)
	}

	// the successful write stands
	if _, ok := good.Get(ctx, "k"); !ok {
		t.Error("expected successful tier to keep the value")
	}

	var fe *errors.FlowError
	if !stderrors.As(err, &fe) {
		t.Fatal("expected a FlowError")
	}
	if fe.Details["failed_tiers"] != "remote" {
		t.Errorf("expected failed_tiers detail, got %v", fe.Details)
	}
}

func TestTieredAllTiersFail(t *testing.T) {
	c := newTestTieredCache(t, &failingTier{name: "a"}, &failingTier{name: "b"})

	err := c.Set(context.Background(), "k", "v", time.Minute)
	if !errors.IsCode(err, errors.ErrCodeStorageWrite) {
		t.Fatalf("expected storage write error when every tier fails, got %v", err)
	}
}

func TestTieredTTLClamp(t *testing.T) {
	c := NewTieredCache(TieredConfig{
		DefaultTTL: time.Minute,
		MinTTL:     time.Minute,
		MaxTTL:     10 * time.Minute,
	}, nil, nil)

	tests := []struct {
		in   time.Duration
		want time.Duration
	}{
		{0, time.Minute},
		{time.Second, time.Minute},
		{5 * time.Minute, 5 * time.Minute},
		{time.Hour, 10 * time.Minute},
	}
	for _, tt := range tests {
		if got := c.clampTTL(tt.in); got != tt.want {
			t.Errorf("clampTTL(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestTieredDeleteAcrossTiers(t *testing.T) {
	fast := newTestLocalTier(t, LocalConfig{MaxBytes: 1 << 20})
	slow := newTestLocalTier(t, LocalConfig{MaxBytes: 1 << 20})
	c := newTestTieredCache(t, fast, slow)
	ctx := context.Background()

	c.Set(ctx, "k", "v", time.Minute)
	if !c.Delete(ctx, "k") {
		t.Fatal("expected delete to find the key")
	}
	if _, ok := fast.Get(ctx, "k"); ok {
		t.Error("key survived in fast tier")
	}
	if _, ok := slow.Get(ctx, "k"); ok {
		t.Error("key survived in slow tier")
	}
}
