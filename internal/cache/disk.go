package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/renderflow/renderflow/pkg/errors"
	"github.com/renderflow/renderflow/pkg/types"
)

// DiskConfig represents the persistent tier configuration
type DiskConfig struct {
	Directory       string        `yaml:"directory"`
	MaxBytes        int64         `yaml:"max_bytes"`
	DefaultTTL      time.Duration `yaml:"default_ttl"`
	Compression     bool          `yaml:"compression"`
	IndexFile       string        `yaml:"index_file"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	SyncInterval    time.Duration `yaml:"sync_interval"`
}

// diskItem is the on-disk index record for one entry.
type diskItem struct {
	Key        string        `json:"key"`
	FilePath   string        `json:"file_path"`
	Size       int64         `json:"size"`
	CreatedAt  time.Time     `json:"created_at"`
	TTL        time.Duration `json:"ttl"`
	Tags       []string      `json:"tags,omitempty"`
	Compressed bool          `json:"compressed"`
}

func (it *diskItem) expired(now time.Time) bool {
	return it.TTL > 0 && now.Sub(it.CreatedAt) > it.TTL
}

// DiskTier is a file-per-entry persistent store with a JSON index, optional
// zstd compression and TTL plus oldest-first size trimming. The index survives
// restarts; orphaned files without index records are ignored.
type DiskTier struct {
	mu     sync.Mutex
	index  map[string]*diskItem
	size   int64
	config DiskConfig

	serializer types.Serializer
	logger     *slog.Logger
	encoder    *zstd.Encoder
	decoder    *zstd.Decoder

	hits      uint64
	misses    uint64
	evictions uint64

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewDiskTier creates the persistent tier rooted at config.Directory.
func NewDiskTier(config DiskConfig, serializer types.Serializer, logger *slog.Logger) (*DiskTier, error) {
	if config.Directory == "" {
		config.Directory = "/var/cache/renderflow"
	}
	if config.MaxBytes <= 0 {
		config.MaxBytes = 10 << 30
	}
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = time.Hour
	}
	if config.IndexFile == "" {
		config.IndexFile = "cache-index.json"
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 10 * time.Minute
	}
	if config.SyncInterval <= 0 {
		config.SyncInterval = time.Minute
	}
	if serializer == nil {
		serializer = JSONSerializer{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(config.Directory, 0750); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	t := &DiskTier{
		index:      make(map[string]*diskItem),
		config:     config,
		serializer: serializer,
		logger:     logger.With("tier", TierDisk),
		stopCh:     make(chan struct{}),
	}

	if config.Compression {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
		t.encoder = enc
		t.decoder = dec
	}

	if err := t.loadIndex(); err != nil {
		return nil, fmt.Errorf("failed to load cache index: %w", err)
	}

	t.wg.Add(2)
	go t.cleanupLoop()
	go t.syncLoop()

	return t, nil
}

func (t *DiskTier) Name() string { return TierDisk }

// filePath fans entries out under two-level hash directories to keep any one
// directory small.
func (t *DiskTier) filePath(key string) string {
	sum := sha256.Sum256([]byte(key))
	name := hex.EncodeToString(sum[:])
	return filepath.Join(t.config.Directory, name[:2], name)
}

// Get reads and decodes an entry. I/O failures degrade to misses.
func (t *DiskTier) Get(ctx context.Context, key string) (interface{}, bool) {
	now := time.Now()

	t.mu.Lock()
	item, ok := t.index[key]
	if !ok || item.expired(now) {
		t.misses++
		t.mu.Unlock()
		return nil, false
	}
	path := item.FilePath
	compressed := item.Compressed
	t.mu.Unlock()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.logger.Warn("disk read failed, treating as miss", "key", key, "error", err)
		t.mu.Lock()
		t.misses++
		t.mu.Unlock()
		return nil, false
	}

	if compressed && t.decoder != nil {
		raw, err = t.decoder.DecodeAll(raw, nil)
		if err != nil {
			t.logger.Warn("disk decompress failed, treating as miss", "key", key, "error", err)
			t.mu.Lock()
			t.misses++
			t.mu.Unlock()
			return nil, false
		}
	}

	value, err := t.serializer.Decode(raw)
	if err != nil {
		t.logger.Warn("disk decode failed, treating as miss", "key", key, "error", err)
		t.mu.Lock()
		t.misses++
		t.mu.Unlock()
		return nil, false
	}

	t.mu.Lock()
	t.hits++
	t.mu.Unlock()
	return value, true
}

// Set encodes and writes an entry, then trims the tier if over budget.
func (t *DiskTier) Set(ctx context.Context, key string, value interface{}, ttl time.Duration, tags []string) error {
	if ttl <= 0 {
		ttl = t.config.DefaultTTL
	}

	data, err := t.serializer.Encode(value)
	if err != nil {
		return err
	}

	compressed := false
	if t.encoder != nil {
		data = t.encoder.EncodeAll(data, nil)
		compressed = true
	}

	path := t.filePath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return errors.WrapError(err, errors.ErrCodeStorageWrite, "disk mkdir failed").
			WithComponent("cache").WithOperation("set")
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return errors.WrapError(err, errors.ErrCodeStorageWrite, "disk write failed").
			WithComponent("cache").WithOperation("set")
	}

	t.mu.Lock()
	if old, ok := t.index[key]; ok {
		t.size -= old.Size
	}
	t.index[key] = &diskItem{
		Key:        key,
		FilePath:   path,
		Size:       int64(len(data)),
		CreatedAt:  time.Now(),
		TTL:        ttl,
		Tags:       append([]string(nil), tags...),
		Compressed: compressed,
	}
	t.size += int64(len(data))
	over := t.size > t.config.MaxBytes
	t.mu.Unlock()

	if over {
		t.cleanup()
	}
	return nil
}

// Delete removes an entry and its backing file.
func (t *DiskTier) Delete(ctx context.Context, key string) bool {
	t.mu.Lock()
	item, ok := t.index[key]
	if ok {
		t.size -= item.Size
		delete(t.index, key)
	}
	t.mu.Unlock()

	if !ok {
		return false
	}
	if err := os.Remove(item.FilePath); err != nil && !os.IsNotExist(err) {
		t.logger.Warn("disk remove failed", "key", key, "error", err)
	}
	return true
}

// DeleteByTags removes every entry carrying any of the given tags.
func (t *DiskTier) DeleteByTags(ctx context.Context, tags []string) int {
	t.mu.Lock()
	var victims []string
	for key, item := range t.index {
		if hasAnyTag(item.Tags, tags) {
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

// Stats returns a snapshot of tier counters.
func (t *DiskTier) Stats() types.CacheStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := types.CacheStats{
		Hits:      t.hits,
		Misses:    t.misses,
		Evictions: t.evictions,
		Entries:   len(t.index),
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

// Close stops background loops and persists the index.
func (t *DiskTier) Close() error {
	t.stopOnce.Do(func() { close(t.stopCh) })
	t.wg.Wait()
	return t.saveIndex()
}

func (t *DiskTier) cleanupLoop() {
	defer t.wg.Done()
	ticker := time.NewTicker(t.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C:
			t.cleanup()
		}
	}
}

func (t *DiskTier) syncLoop() {
	defer t.wg.Done()
	ticker := time.NewTicker(t.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C:
			if err := t.saveIndex(); err != nil {
				t.logger.Warn("index sync failed", "error", err)
			}
		}
	}
}

// cleanup drops expired entries, then trims oldest-first to 80% of the budget.
func (t *DiskTier) cleanup() {
	now := time.Now()

	t.mu.Lock()
	var expired []*diskItem
	for key, item := range t.index {
		if item.expired(now) {
			expired = append(expired, item)
			t.size -= item.Size
			delete(t.index, key)
			t.evictions++
		}
	}

	var trimmed []*diskItem
	if t.size > t.config.MaxBytes {
		items := make([]*diskItem, 0, len(t.index))
		for _, item := range t.index {
			items = append(items, item)
		}
		sort.Slice(items, func(i, j int) bool {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		})

		target := int64(float64(t.config.MaxBytes) * 0.8)
		for _, item := range items {
			if t.size <= target {
				break
			}
			trimmed = append(trimmed, item)
			t.size -= item.Size
			delete(t.index, item.Key)
			t.evictions++
		}
	}
	t.mu.Unlock()

	for _, item := range append(expired, trimmed...) {
		if err := os.Remove(item.FilePath); err != nil && !os.IsNotExist(err) {
			t.logger.Warn("cleanup remove failed", "key", item.Key, "error", err)
		}
	}
}

func (t *DiskTier) indexPath() string {
	return filepath.Join(t.config.Directory, t.config.IndexFile)
}

func (t *DiskTier) loadIndex() error {
	data, err := os.ReadFile(t.indexPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var items map[string]*diskItem
	if err := json.Unmarshal(data, &items); err != nil {
		// a corrupt index means a cold cache, not a failure
		t.logger.Warn("discarding corrupt cache index", "error", err)
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for key, item := range items {
		if _, err := os.Stat(item.FilePath); err != nil {
			continue
		}
		t.index[key] = item
		t.size += item.Size
	}
	return nil
}

func (t *DiskTier) saveIndex() error {
	t.mu.Lock()
	data, err := json.Marshal(t.index)
	t.mu.Unlock()
	if err != nil {
		return err
	}
	return os.WriteFile(t.indexPath(), data, 0600)
}

var _ Tier = (*DiskTier)(nil)
