// Package metrics implements Prometheus-backed metrics collection with an
// optional HTTP exposition endpoint.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/renderflow/renderflow/pkg/types"
)

// Config represents metrics configuration.
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// OperationMetrics tracks aggregate counters for one operation type.
type OperationMetrics struct {
	Count         int64         `json:"count"`
	TotalDuration time.Duration `json:"total_duration"`
	Errors        int64         `json:"errors"`
	LastOperation time.Time     `json:"last_operation"`
	AvgDuration   time.Duration `json:"avg_duration"`
}

// Collector implements types.MetricsSink on a private Prometheus registry.
// A disabled collector swallows every record cheaply.
type Collector struct {
	mu       sync.RWMutex
	config   Config
	registry *prometheus.Registry
	logger   *slog.Logger

	operationCounter  *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	cacheCounter      *prometheus.CounterVec
	evictionCounter   *prometheus.CounterVec
	gauges            *prometheus.GaugeVec

	operations map[string]*OperationMetrics

	server *http.Server
}

// NewCollector creates a collector. When config.Enabled is false every method
// is a no-op.
func NewCollector(config Config, logger *slog.Logger) (*Collector, error) {
	if config.Port == 0 {
		config.Port = 9090
	}
	if config.Path == "" {
		config.Path = "/metrics"
	}
	if config.Namespace == "" {
		config.Namespace = "renderflow"
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Collector{
		config:     config,
		logger:     logger.With("component", "metrics"),
		operations: make(map[string]*OperationMetrics),
	}
	if !config.Enabled {
		return c, nil
	}

	c.registry = prometheus.NewRegistry()
	if err := c.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}
	return c, nil
}

func (c *Collector) initMetrics() error {
	ns := c.config.Namespace

	c.operationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "operations_total",
		Help:      "Total operations by name and status",
	}, []string{"operation", "status"})

	c.operationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns,
		Name:      "operation_duration_seconds",
		Help:      "Operation latency distribution",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
	}, []string{"operation"})

	c.cacheCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "cache_requests_total",
		Help:      "Cache lookups by tier and outcome",
	}, []string{"tier", "result"})

	c.evictionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "cache_evictions_total",
		Help:      "Cache entries evicted by tier",
	}, []string{"tier"})

	c.gauges = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "gauge",
		Help:      "Named runtime gauges",
	}, []string{"name"})

	for _, col := range []prometheus.Collector{
		c.operationCounter, c.operationDuration, c.cacheCounter, c.evictionCounter, c.gauges,
	} {
		if err := c.registry.Register(col); err != nil {
			return err
		}
	}
	return nil
}

// Start launches the exposition endpoint. With metrics disabled it does
// nothing.
func (c *Collector) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			c.logger.Error("metrics server failed", "error", err)
		}
	}()

	c.logger.Info("metrics endpoint started", "port", c.config.Port, "path", c.config.Path)
	return nil
}

// Stop shuts the exposition endpoint down.
func (c *Collector) Stop(ctx context.Context) error {
	if c.server != nil {
		return c.server.Shutdown(ctx)
	}
	return nil
}

// RecordOperation records one operation outcome.
func (c *Collector) RecordOperation(operation string, duration time.Duration, success bool, metadata map[string]string) {
	c.mu.Lock()
	m, exists := c.operations[operation]
	if !exists {
		m = &OperationMetrics{}
		c.operations[operation] = m
	}
	m.Count++
	m.TotalDuration += duration
	if !success {
		m.Errors++
	}
	m.LastOperation = time.Now()
	m.AvgDuration = time.Duration(int64(m.TotalDuration) / m.Count)
	c.mu.Unlock()

	if !c.config.Enabled {
		return
	}

	status := "success"
	if !success {
		status = "error"
	}
	c.operationCounter.With(prometheus.Labels{"operation": operation, "status": status}).Inc()
	c.operationDuration.With(prometheus.Labels{"operation": operation}).Observe(duration.Seconds())
}

// RecordCacheHit counts a hit on the named tier.
func (c *Collector) RecordCacheHit(tier string) {
	if !c.config.Enabled {
		return
	}
	c.cacheCounter.With(prometheus.Labels{"tier": tier, "result": "hit"}).Inc()
}

// RecordCacheMiss counts a miss on the named tier.
func (c *Collector) RecordCacheMiss(tier string) {
	if !c.config.Enabled {
		return
	}
	c.cacheCounter.With(prometheus.Labels{"tier": tier, "result": "miss"}).Inc()
}

// RecordEviction counts evicted entries on the named tier.
func (c *Collector) RecordEviction(tier string, count int) {
	if !c.config.Enabled {
		return
	}
	c.evictionCounter.With(prometheus.Labels{"tier": tier}).Add(float64(count))
}

// SetGauge sets a named gauge.
func (c *Collector) SetGauge(name string, value float64) {
	if !c.config.Enabled {
		return
	}
	c.gauges.With(prometheus.Labels{"name": name}).Set(value)
}

// Operations returns a snapshot of per-operation aggregates.
func (c *Collector) Operations() map[string]OperationMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]OperationMetrics, len(c.operations))
	for name, m := range c.operations {
		out[name] = *m
	}
	return out
}

var _ types.MetricsSink = (*Collector)(nil)
