// Package manager assembles the cache, scheduler, monitor and autoscaler into
// one component with a single lifecycle.
package manager

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/renderflow/renderflow/internal/cache"
	"github.com/renderflow/renderflow/internal/config"
	"github.com/renderflow/renderflow/internal/metrics"
	"github.com/renderflow/renderflow/internal/monitor"
	"github.com/renderflow/renderflow/internal/sched"
	"github.com/renderflow/renderflow/pkg/errors"
	"github.com/renderflow/renderflow/pkg/retry"
	"github.com/renderflow/renderflow/pkg/types"
)

// Option overrides a collaborator the manager would otherwise build itself.
type Option func(*options)

type options struct {
	logger     *slog.Logger
	sink       types.MetricsSink
	probe      types.ResourceProbe
	store      types.RemoteStore
	serializer types.Serializer
}

// WithLogger sets the logger all components derive theirs from.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetricsSink replaces the built-in Prometheus collector.
func WithMetricsSink(sink types.MetricsSink) Option {
	return func(o *options) { o.sink = sink }
}

// WithProbe replaces the system resource probe.
func WithProbe(probe types.ResourceProbe) Option {
	return func(o *options) { o.probe = probe }
}

// WithRemoteStore supplies the backing store for the remote cache tier. The
// tier stays disabled without one.
func WithRemoteStore(store types.RemoteStore) Option {
	return func(o *options) { o.store = store }
}

// WithSerializer replaces the cache value serializer.
func WithSerializer(s types.Serializer) Option {
	return func(o *options) { o.serializer = s }
}

// Stats aggregates a snapshot across all components.
type Stats struct {
	Cache     map[string]types.CacheStats `json:"cache"`
	Scheduler types.SchedulerStats        `json:"scheduler"`
	Hotspots  []string                    `json:"hotspots"`
}

// Manager owns the optimization layer: the tiered cache with its optimizer,
// the resource monitor, the scheduler and the autoscaler.
type Manager struct {
	config    *config.Configuration
	logger    *slog.Logger
	collector *metrics.Collector
	sink      types.MetricsSink

	monitor   *monitor.ResourceMonitor
	cache     *cache.CacheOptimizer
	queue     *sched.TaskQueue
	scheduler *sched.ResourceScheduler
	scaler    *sched.AutoScaler

	mu      sync.Mutex
	started bool
	stopped bool
}

// New builds a manager from configuration. The remote cache tier is only
// assembled when a RemoteStore is supplied and the tier is enabled.
func New(cfg *config.Configuration, opts ...Option) (*Manager, error) {
	if cfg == nil {
		cfg = config.NewDefault()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = newLogger(cfg.Global)
	}

	m := &Manager{config: cfg, logger: logger}

	sink := o.sink
	if sink == nil {
		collector, err := metrics.NewCollector(metrics.Config{
			Enabled:   cfg.Metrics.Enabled,
			Port:      cfg.Metrics.Port,
			Path:      cfg.Metrics.Path,
			Namespace: cfg.Metrics.Namespace,
		}, logger)
		if err != nil {
			return nil, err
		}
		m.collector = collector
		sink = collector
	}
	m.sink = sink

	probe := o.probe
	if probe == nil {
		probe = monitor.NewSystemProbe(cfg.Monitor.DiskPath)
	}
	m.monitor = monitor.New(probe, monitor.Config{
		SamplingInterval: cfg.Monitor.SamplingInterval,
		HistorySize:      cfg.Monitor.HistorySize,
	}, logger)

	serializer := o.serializer
	if serializer == nil {
		serializer = cache.JSONSerializer{}
	}

	tiers, err := m.buildTiers(o.store, serializer)
	if err != nil {
		return nil, err
	}
	tiered := cache.NewTieredCache(cache.TieredConfig{
		DefaultTTL: cfg.Cache.DefaultTTL,
		MinTTL:     cfg.Cache.MinTTL,
		MaxTTL:     cfg.Cache.MaxTTL,
	}, sink, logger, tiers...)

	m.cache = cache.NewCacheOptimizer(cache.OptimizerConfig{
		MaxEntries:       cfg.Cache.Optimizer.MaxEntries,
		EvictionInterval: cfg.Cache.Optimizer.EvictionInterval,
		DefaultTTL:       cfg.Cache.DefaultTTL,
		MinTTL:           cfg.Cache.MinTTL,
		MaxTTL:           cfg.Cache.MaxTTL,
		Hotspot: cache.HotspotConfig{
			WindowSize: cfg.Cache.Optimizer.HotspotWindowSize,
			Threshold:  cfg.Cache.Optimizer.HotspotThreshold,
		},
	}, tiered, sink, logger)

	m.queue = sched.NewTaskQueue()
	m.scheduler = sched.NewResourceScheduler(sched.Config{
		MaxConcurrentTasks: cfg.Scheduler.MaxConcurrentTasks,
		TickInterval:       cfg.Scheduler.TickInterval,
	}, m.queue, m.monitor, sink, logger)

	m.scaler = sched.NewAutoScaler(sched.ScalingConfig{
		Enabled:             cfg.Scaling.Enabled,
		Interval:            cfg.Scaling.Interval,
		CPUThresholdHigh:    cfg.Scaling.CPUThresholdHigh,
		CPUThresholdLow:     cfg.Scaling.CPUThresholdLow,
		MemoryThresholdHigh: cfg.Scaling.MemoryThresholdHigh,
		MemoryThresholdLow:  cfg.Scaling.MemoryThresholdLow,
		QueueSizeThreshold:  cfg.Scaling.QueueSizeThreshold,
		ScaleUpFactor:       cfg.Scaling.ScaleUpFactor,
		ScaleDownFactor:     cfg.Scaling.ScaleDownFactor,
		MinConcurrent:       cfg.Scaling.MinConcurrent,
		MaxConcurrent:       cfg.Scaling.MaxConcurrent,
	}, m.scheduler, m.monitor, sink, logger)

	return m, nil
}

func (m *Manager) buildTiers(store types.RemoteStore, serializer types.Serializer) ([]cache.Tier, error) {
	cfg := m.config.Cache
	var tiers []cache.Tier

	if cfg.Local.Enabled {
		maxBytes, err := config.ParseSize(cfg.Local.MaxSize)
		if err != nil {
			return nil, err
		}
		tiers = append(tiers, cache.NewLocalTier(cache.LocalConfig{
			MaxBytes:        maxBytes,
			DefaultTTL:      cfg.DefaultTTL,
			CleanupInterval: cfg.Local.CleanupInterval,
		}, m.logger))
	}

	if cfg.Remote.Enabled && store != nil {
		tiers = append(tiers, cache.NewRemoteTier(store, serializer, cache.RemoteConfig{
			DefaultTTL: cfg.Remote.DefaultTTL,
			KeyPrefix:  cfg.Remote.KeyPrefix,
			Retry:      retry.DefaultConfig(),
		}, m.logger))
	}

	if cfg.Disk.Enabled {
		maxBytes, err := config.ParseSize(cfg.Disk.MaxSize)
		if err != nil {
			return nil, err
		}
		disk, err := cache.NewDiskTier(cache.DiskConfig{
			Directory:       cfg.Disk.Directory,
			MaxBytes:        maxBytes,
			DefaultTTL:      cfg.Disk.DefaultTTL,
			Compression:     cfg.Disk.Compression,
			CleanupInterval: cfg.Disk.CleanupInterval,
			SyncInterval:    cfg.Disk.SyncInterval,
		}, serializer, m.logger)
		if err != nil {
			return nil, err
		}
		tiers = append(tiers, disk)
	}

	return tiers, nil
}

// Start brings every component up. A stopped manager cannot be restarted.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return errors.NewError(errors.ErrCodeComponentStopped, "manager already stopped").
			WithComponent("manager")
	}
	if m.started {
		return errors.NewError(errors.ErrCodeAlreadyStarted, "manager already started").
			WithComponent("manager")
	}

	if m.collector != nil {
		if err := m.collector.Start(ctx); err != nil {
			return err
		}
	}
	m.monitor.Start()
	m.cache.Start()
	m.scheduler.Start()
	m.scaler.Start()

	m.started = true
	m.logger.Info("optimization layer started")
	return nil
}

// Stop shuts every component down in reverse start order.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started || m.stopped {
		return nil
	}
	m.stopped = true

	m.scaler.Stop()
	m.scheduler.Stop()
	var firstErr error
	if err := m.cache.Close(); err != nil {
		firstErr = err
	}
	m.monitor.Stop()
	if m.collector != nil {
		if err := m.collector.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	m.logger.Info("optimization layer stopped")
	return firstErr
}

// Cache returns the optimized tiered cache.
func (m *Manager) Cache() *cache.CacheOptimizer { return m.cache }

// Scheduler returns the resource scheduler.
func (m *Manager) Scheduler() *sched.ResourceScheduler { return m.scheduler }

// Monitor returns the resource monitor.
func (m *Manager) Monitor() *monitor.ResourceMonitor { return m.monitor }

// Stats returns a combined snapshot of the whole layer.
func (m *Manager) Stats() Stats {
	return Stats{
		Cache:     m.cache.Stats(),
		Scheduler: m.scheduler.Stats(),
		Hotspots:  m.cache.Hotspots(),
	}
}

func newLogger(cfg config.GlobalConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	out := os.Stderr
	if cfg.LogFile != "" {
		if f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640); err == nil {
			out = f
		}
	}
	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level}))
}
