package cache

import (
	"sync"
	"time"
)

// HotspotConfig tunes frequent-key detection.
type HotspotConfig struct {
	WindowSize     int     `yaml:"window_size"`
	Threshold      int     `yaml:"threshold"`
	RecentFraction float64 `yaml:"recent_fraction"`
}

type hotAccess struct {
	key string
	at  time.Time
}

// HotspotDetector tracks a sliding window of key accesses and flags keys that
// repeat often within the most recent slice of the window.
type HotspotDetector struct {
	mu     sync.Mutex
	window []hotAccess
	hot    map[string]struct{}
	config HotspotConfig
}

// NewHotspotDetector creates a detector with the given window and threshold.
func NewHotspotDetector(config HotspotConfig) *HotspotDetector {
	if config.WindowSize <= 0 {
		config.WindowSize = 100
	}
	if config.Threshold <= 0 {
		config.Threshold = 5
	}
	if config.RecentFraction <= 0 || config.RecentFraction > 1 {
		config.RecentFraction = 0.3
	}
	return &HotspotDetector{
		window: make([]hotAccess, 0, config.WindowSize),
		hot:    make(map[string]struct{}),
		config: config,
	}
}

// Record notes an access and recomputes the hot set over the recent slice.
func (d *HotspotDetector) Record(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.window = append(d.window, hotAccess{key: key, at: time.Now()})
	if len(d.window) > d.config.WindowSize {
		d.window = d.window[len(d.window)-d.config.WindowSize:]
	}

	recent := int(float64(d.config.WindowSize) * d.config.RecentFraction)
	if recent > len(d.window) {
		recent = len(d.window)
	}

	counts := make(map[string]int)
	for _, a := range d.window[len(d.window)-recent:] {
		counts[a.key]++
	}

	hot := make(map[string]struct{})
	for k, n := range counts {
		if n >= d.config.Threshold {
			hot[k] = struct{}{}
		}
	}
	d.hot = hot
}

// IsHotspot reports whether the key is currently flagged hot.
func (d *HotspotDetector) IsHotspot(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.hot[key]
	return ok
}

// Hotspots returns the currently hot keys.
func (d *HotspotDetector) Hotspots() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	keys := make([]string, 0, len(d.hot))
	for k := range d.hot {
		keys = append(keys, k)
	}
	return keys
}

// WindowLen returns how many accesses the window currently holds.
func (d *HotspotDetector) WindowLen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.window)
}
