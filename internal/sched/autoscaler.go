package sched

import (
	"log/slog"
	"sync"
	"time"

	"github.com/renderflow/renderflow/pkg/types"
)

// ScalingConfig represents auto-scaler configuration. Thresholds are
// percentages of capacity.
type ScalingConfig struct {
	Enabled             bool          `yaml:"enabled"`
	Interval            time.Duration `yaml:"interval"`
	CPUThresholdHigh    float64       `yaml:"cpu_threshold_high"`
	CPUThresholdLow     float64       `yaml:"cpu_threshold_low"`
	MemoryThresholdHigh float64       `yaml:"memory_threshold_high"`
	MemoryThresholdLow  float64       `yaml:"memory_threshold_low"`
	QueueSizeThreshold  int           `yaml:"queue_size_threshold"`
	ScaleUpFactor       float64       `yaml:"scale_up_factor"`
	ScaleDownFactor     float64       `yaml:"scale_down_factor"`
	MinConcurrent       int           `yaml:"min_concurrent"`
	MaxConcurrent       int           `yaml:"max_concurrent"`
}

// AutoScaler periodically sizes the scheduler's concurrency cap to demand.
// CPU or memory above the high threshold grows the cap, below the low
// threshold shrinks it, and a backed-up queue grows it; the factors compose
// multiplicatively. The cap only moves when a cycle actually changes it.
type AutoScaler struct {
	scheduler *ResourceScheduler
	avail     Availability
	sink      types.MetricsSink
	logger    *slog.Logger
	config    ScalingConfig

	mu        sync.Mutex
	started   bool
	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewAutoScaler creates an auto-scaler driving the given scheduler.
func NewAutoScaler(config ScalingConfig, scheduler *ResourceScheduler, avail Availability, sink types.MetricsSink, logger *slog.Logger) *AutoScaler {
	if config.Interval <= 0 {
		config.Interval = 30 * time.Second
	}
	if config.CPUThresholdHigh <= 0 {
		config.CPUThresholdHigh = 70
	}
	if config.CPUThresholdLow <= 0 {
		config.CPUThresholdLow = 20
	}
	if config.MemoryThresholdHigh <= 0 {
		config.MemoryThresholdHigh = 75
	}
	if config.MemoryThresholdLow <= 0 {
		config.MemoryThresholdLow = 25
	}
	if config.QueueSizeThreshold <= 0 {
		config.QueueSizeThreshold = 10
	}
	if config.ScaleUpFactor <= 1 {
		config.ScaleUpFactor = 1.5
	}
	if config.ScaleDownFactor <= 0 || config.ScaleDownFactor >= 1 {
		config.ScaleDownFactor = 0.8
	}
	if config.MinConcurrent <= 0 {
		config.MinConcurrent = 2
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = maxConcurrentTasks
	}
	if sink == nil {
		sink = types.NoopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AutoScaler{
		scheduler: scheduler,
		avail:     avail,
		sink:      sink,
		logger:    logger.With("component", "autoscaler"),
		config:    config,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start launches the scaling loop. A disabled scaler does nothing.
func (a *AutoScaler) Start() {
	a.startOnce.Do(func() {
		if !a.config.Enabled {
			return
		}
		a.mu.Lock()
		a.started = true
		a.mu.Unlock()
		go a.loop()
		a.logger.Info("autoscaler started", "interval", a.config.Interval)
	})
}

// Stop halts the scaling loop. Stopping a disabled or never-started scaler is
// a no-op.
func (a *AutoScaler) Stop() {
	a.stopOnce.Do(func() {
		a.mu.Lock()
		started := a.started
		a.mu.Unlock()
		if !started {
			return
		}
		close(a.stopCh)
		<-a.doneCh
	})
}

func (a *AutoScaler) loop() {
	defer close(a.doneCh)
	ticker := time.NewTicker(a.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			a.Evaluate()
		}
	}
}

// Evaluate runs one scaling decision and returns the cap it settled on.
func (a *AutoScaler) Evaluate() int {
	usage := a.avail.Current()
	capacity := a.avail.Capacity()
	current := a.scheduler.MaxConcurrent()
	queueLen := a.scheduler.QueueLen()

	cpuPct := usage.CPUPercent
	memPct := 0.0
	if capacity.MemoryMB > 0 {
		memPct = float64(usage.MemoryMB) / float64(capacity.MemoryMB) * 100
	}

	factor := 1.0
	switch {
	case cpuPct > a.config.CPUThresholdHigh:
		factor *= a.config.ScaleUpFactor
	case cpuPct < a.config.CPUThresholdLow:
		factor *= a.config.ScaleDownFactor
	}
	switch {
	case memPct > a.config.MemoryThresholdHigh:
		factor *= a.config.ScaleUpFactor
	case memPct < a.config.MemoryThresholdLow:
		factor *= a.config.ScaleDownFactor
	}
	if queueLen > a.config.QueueSizeThreshold {
		factor *= a.config.ScaleUpFactor
	}

	target := int(float64(current) * factor)

	if target < a.config.MinConcurrent {
		target = a.config.MinConcurrent
	}
	if target > a.config.MaxConcurrent {
		target = a.config.MaxConcurrent
	}

	if target != current {
		applied := a.scheduler.AdjustConcurrency(target)
		a.logger.Info("scaling decision",
			"cpu_pct", cpuPct,
			"mem_pct", memPct,
			"queue", queueLen,
			"from", current,
			"to", applied)
		a.sink.SetGauge("autoscaler_target", float64(applied))
		return applied
	}
	return current
}
