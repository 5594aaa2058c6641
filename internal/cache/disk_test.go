package cache

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func newTestDiskTier(t *testing.T, cfg DiskConfig) *DiskTier {
	t.Helper()
	if cfg.Directory == "" {
		cfg.Directory = t.TempDir()
	}
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = 1 << 20
	}
	cfg.CleanupInterval = time.Hour
	cfg.SyncInterval = time.Hour
	tier, err := NewDiskTier(cfg, nil, nil)
	if err != nil {
		t.Fatalf("NewDiskTier failed: %v", err)
	}
	t.Cleanup(func() { tier.Close() })
	return tier
}

func TestDiskTierRoundTrip(t *testing.T) {
	for _, compression := range []bool{false, true} {
		t.Run(fmt.Sprintf("compression=%v", compression), func(t *testing.T) {
			tier := newTestDiskTier(t, DiskConfig{Compression: compression})
			ctx := context.Background()

			if err := tier.Set(ctx, "render:out", "frame-data", time.Minute, nil); err != nil {
				t.Fatalf("Set failed: %v", err)
			}
			value, ok := tier.Get(ctx, "render:out")
			if !ok || value != "frame-data" {
				t.Fatalf("expected round trip, got %v %v", value, ok)
			}
		})
	}
}

func TestDiskTierExpiry(t *testing.T) {
	tier := newTestDiskTier(t, DiskConfig{})
	ctx := context.Background()

	tier.Set(ctx, "short", "v", 20*time.Millisecond, nil)
	time.Sleep(50 * time.Millisecond)

	if _, ok := tier.Get(ctx, "short"); ok {
		t.Error("expected miss after TTL elapsed")
	}
}

func TestDiskTierIndexSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first, err := NewDiskTier(DiskConfig{Directory: dir, MaxBytes: 1 << 20, CleanupInterval: time.Hour, SyncInterval: time.Hour}, nil, nil)
	if err != nil {
		t.Fatalf("NewDiskTier failed: %v", err)
	}
	if err := first.Set(ctx, "persists", "value", time.Hour, []string{"project:1"}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	second, err := NewDiskTier(DiskConfig{Directory: dir, MaxBytes: 1 << 20, CleanupInterval: time.Hour, SyncInterval: time.Hour}, nil, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer second.Close()

	value, ok := second.Get(ctx, "persists")
	if !ok || value != "value" {
		t.Fatalf("expected entry after reopen, got %v %v", value, ok)
	}
	if n := second.DeleteByTags(ctx, []string{"project:1"}); n != 1 {
		t.Errorf("expected tags to survive reopen, deleted %d", n)
	}
}

func TestDiskTierTrimsToBudget(t *testing.T) {
	tier := newTestDiskTier(t, DiskConfig{MaxBytes: 2000})
	ctx := context.Background()

	payload := make([]byte, 500)
	for i := 0; i < 8; i++ {
		if err := tier.Set(ctx, fmt.Sprintf("k:%d", i), payload, time.Hour, nil); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	stats := tier.Stats()
	if stats.Size > 2000 {
		t.Errorf("size %d exceeds budget 2000", stats.Size)
	}
	if stats.Evictions == 0 {
		t.Error("expected trims to register as evictions")
	}

	// oldest entries go first
	if _, ok := tier.Get(ctx, "k:0"); ok {
		t.Error("expected the oldest entry trimmed")
	}
}

func TestDiskTierDelete(t *testing.T) {
	tier := newTestDiskTier(t, DiskConfig{})
	ctx := context.Background()

	tier.Set(ctx, "k", "v", time.Minute, nil)
	if !tier.Delete(ctx, "k") {
		t.Fatal("expected delete to find the key")
	}
	if tier.Delete(ctx, "k") {
		t.Error("expected second delete to miss")
	}
}
