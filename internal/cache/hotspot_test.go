package cache

import (
	"fmt"
	"testing"
)

func TestHotspotDetection(t *testing.T) {
	d := NewHotspotDetector(HotspotConfig{WindowSize: 10, Threshold: 5, RecentFraction: 1.0})

	// six hits on one key among ten accesses crosses the threshold
	for i := 0; i < 6; i++ {
		d.Record("render:42")
	}
	for i := 0; i < 4; i++ {
		d.Record(fmt.Sprintf("other:%d", i))
	}

	if !d.IsHotspot("render:42") {
		t.Error("expected render:42 flagged hot")
	}
	if d.IsHotspot("other:0") {
		t.Error("did not expect other:0 flagged hot")
	}

	hot := d.Hotspots()
	if len(hot) != 1 || hot[0] != "render:42" {
		t.Errorf("expected [render:42], got %v", hot)
	}
}

func TestHotspotCoolsAsWindowSlides(t *testing.T) {
	d := NewHotspotDetector(HotspotConfig{WindowSize: 10, Threshold: 5, RecentFraction: 1.0})

	for i := 0; i < 6; i++ {
		d.Record("burst")
	}
	if !d.IsHotspot("burst") {
		t.Fatal("expected burst hot after repeated accesses")
	}

	// push the burst out of the window
	for i := 0; i < 10; i++ {
		d.Record(fmt.Sprintf("new:%d", i))
	}
	if d.IsHotspot("burst") {
		t.Error("expected burst to cool once its accesses aged out")
	}
}

func TestHotspotWindowBounded(t *testing.T) {
	d := NewHotspotDetector(HotspotConfig{WindowSize: 20, Threshold: 3})

	for i := 0; i < 100; i++ {
		d.Record(fmt.Sprintf("k:%d", i))
	}
	if got := d.WindowLen(); got != 20 {
		t.Errorf("expected window capped at 20, got %d", got)
	}
}

func TestHotspotRecentFraction(t *testing.T) {
	// with a 30% recent slice of a 10-wide window only the last 3 accesses count
	d := NewHotspotDetector(HotspotConfig{WindowSize: 10, Threshold: 3, RecentFraction: 0.3})

	for i := 0; i < 5; i++ {
		d.Record("old")
	}
	for i := 0; i < 3; i++ {
		d.Record("fresh")
	}

	if d.IsHotspot("old") {
		t.Error("old accesses fell outside the recent slice")
	}
	if !d.IsHotspot("fresh") {
		t.Error("expected fresh flagged hot within the recent slice")
	}
}
