// Package monitor samples system resource usage on a fixed interval and serves
// availability and trend queries to the scheduler and auto-scaler.
package monitor

import (
	"log/slog"
	"sync"
	"time"

	"github.com/renderflow/renderflow/pkg/types"
)

// Floors applied to availability so a requirement can never be satisfied by a
// zero or negative pool.
const (
	minAvailableCPUCores = 0.1
	minAvailableMemoryMB = 100
	minAvailableDiskMB   = 50
)

// Config represents resource monitor configuration
type Config struct {
	SamplingInterval time.Duration `yaml:"sampling_interval"`
	HistorySize      int           `yaml:"history_size"`
}

// ResourceMonitor periodically samples the probe into a bounded history ring.
// Sampling errors are logged and the previous snapshot keeps being served.
type ResourceMonitor struct {
	probe  types.ResourceProbe
	config Config
	logger *slog.Logger

	mu       sync.Mutex
	current  types.ResourceUsage
	history  []types.ResourceUsage
	capacity types.ResourceRequirement
	capOK    bool

	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// New creates a resource monitor reading from probe.
func New(probe types.ResourceProbe, config Config, logger *slog.Logger) *ResourceMonitor {
	if config.SamplingInterval <= 0 {
		config.SamplingInterval = 5 * time.Second
	}
	if config.HistorySize <= 0 {
		config.HistorySize = 1000
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &ResourceMonitor{
		probe:  probe,
		config: config,
		logger: logger.With("component", "monitor"),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins the sampling loop. Subsequent calls are no-ops. An initial
// sample is taken synchronously so Available never serves an empty snapshot.
func (m *ResourceMonitor) Start() {
	m.startOnce.Do(func() {
		m.mu.Lock()
		m.started = true
		m.mu.Unlock()
		m.sample()
		go m.loop()
	})
}

// Stop signals the loop and waits for it to exit. Stopping a monitor that
// never started is a no-op.
func (m *ResourceMonitor) Stop() {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		started := m.started
		m.mu.Unlock()
		if !started {
			return
		}
		close(m.stopCh)
		<-m.doneCh
	})
}

func (m *ResourceMonitor) loop() {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.config.SamplingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sample()
		}
	}
}

func (m *ResourceMonitor) sample() {
	usage, err := m.probe.Usage()
	if err != nil {
		// stale data keeps being served until the next successful sample
		m.logger.Warn("resource sampling failed", "error", err)
		return
	}

	m.mu.Lock()
	m.current = usage
	m.history = append(m.history, usage)
	if len(m.history) > m.config.HistorySize {
		m.history = m.history[len(m.history)-m.config.HistorySize:]
	}
	if !m.capOK {
		if cap, err := m.probe.Capacity(); err == nil {
			m.capacity = cap
			m.capOK = true
		}
	}
	m.mu.Unlock()
}

// Current returns the latest usage snapshot.
func (m *ResourceMonitor) Current() types.ResourceUsage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Capacity returns total system capacity as last observed.
func (m *ResourceMonitor) Capacity() types.ResourceRequirement {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.capacity
}

// Available returns capacity minus the latest usage, floored at small positive
// minimums per component.
func (m *ResourceMonitor) Available() types.ResourceRequirement {
	m.mu.Lock()
	usage := m.current
	capacity := m.capacity
	m.mu.Unlock()

	availCPU := capacity.CPUCores * (1 - usage.CPUPercent/100)
	if availCPU < minAvailableCPUCores {
		availCPU = minAvailableCPUCores
	}

	availMem := capacity.MemoryMB - usage.MemoryMB
	if availMem < minAvailableMemoryMB {
		availMem = minAvailableMemoryMB
	}

	availDisk := capacity.DiskMB - usage.DiskMB
	if availDisk < minAvailableDiskMB {
		availDisk = minAvailableDiskMB
	}

	return types.ResourceRequirement{
		CPUCores: availCPU,
		MemoryMB: availMem,
		DiskMB:   availDisk,
	}
}

// Trend reports the delta between the oldest and newest samples within the
// trailing window and a coarse direction keyed off the CPU delta.
func (m *ResourceMonitor) Trend(window time.Duration) types.UsageTrend {
	cutoff := time.Now().Add(-window)

	m.mu.Lock()
	var recent []types.ResourceUsage
	for _, u := range m.history {
		if u.Timestamp.After(cutoff) {
			recent = append(recent, u)
		}
	}
	m.mu.Unlock()

	if len(recent) < 2 {
		return types.UsageTrend{Direction: "flat", Samples: len(recent)}
	}

	oldest := recent[0]
	newest := recent[len(recent)-1]
	trend := types.UsageTrend{
		CPUDelta:    newest.CPUPercent - oldest.CPUPercent,
		MemoryDelta: newest.MemoryMB - oldest.MemoryMB,
		Samples:     len(recent),
	}
	if trend.CPUDelta > 0 {
		trend.Direction = "increasing"
	} else {
		trend.Direction = "decreasing"
	}
	return trend
}

// History returns a copy of the retained usage samples, oldest first.
func (m *ResourceMonitor) History() []types.ResourceUsage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.ResourceUsage, len(m.history))
	copy(out, m.history)
	return out
}
