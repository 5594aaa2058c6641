package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Configuration represents the complete optimization-layer configuration
type Configuration struct {
	Global    GlobalConfig    `yaml:"global"`
	Cache     CacheConfig     `yaml:"cache"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Scaling   ScalingConfig   `yaml:"scaling"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// GlobalConfig represents global settings
type GlobalConfig struct {
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

// CacheConfig represents tiered cache configuration
type CacheConfig struct {
	DefaultTTL time.Duration    `yaml:"default_ttl"`
	MinTTL     time.Duration    `yaml:"min_ttl"`
	MaxTTL     time.Duration    `yaml:"max_ttl"`
	Local      LocalTierConfig  `yaml:"local"`
	Remote     RemoteTierConfig `yaml:"remote"`
	Disk       DiskTierConfig   `yaml:"disk"`
	Optimizer  OptimizerConfig  `yaml:"optimizer"`
}

// LocalTierConfig represents the in-memory tier settings
type LocalTierConfig struct {
	Enabled         bool          `yaml:"enabled"`
	MaxSize         string        `yaml:"max_size"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// RemoteTierConfig represents the networked tier settings
type RemoteTierConfig struct {
	Enabled    bool          `yaml:"enabled"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
	KeyPrefix  string        `yaml:"key_prefix"`
}

// DiskTierConfig represents the persistent tier settings
type DiskTierConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Directory       string        `yaml:"directory"`
	MaxSize         string        `yaml:"max_size"`
	DefaultTTL      time.Duration `yaml:"default_ttl"`
	Compression     bool          `yaml:"compression"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	SyncInterval    time.Duration `yaml:"sync_interval"`
}

// OptimizerConfig represents eviction-cycle and hotspot settings
type OptimizerConfig struct {
	MaxEntries        int           `yaml:"max_entries"`
	EvictionInterval  time.Duration `yaml:"eviction_interval"`
	HotspotWindowSize int           `yaml:"hotspot_window_size"`
	HotspotThreshold  int           `yaml:"hotspot_threshold"`
}

// SchedulerConfig represents task scheduling settings
type SchedulerConfig struct {
	MaxConcurrentTasks int           `yaml:"max_concurrent_tasks"`
	TickInterval       time.Duration `yaml:"tick_interval"`
}

// ScalingConfig represents auto-scaler settings
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

// MonitorConfig represents resource monitor settings
type MonitorConfig struct {
	SamplingInterval time.Duration `yaml:"sampling_interval"`
	HistorySize      int           `yaml:"history_size"`
	DiskPath         string        `yaml:"disk_path"`
}

// MetricsConfig represents metrics exposition settings
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel: "INFO",
			LogFile:  "",
		},
		Cache: CacheConfig{
			DefaultTTL: 5 * time.Minute,
			MinTTL:     time.Minute,
			MaxTTL:     time.Hour,
			Local: LocalTierConfig{
				Enabled:         true,
				MaxSize:         "100MB",
				CleanupInterval: time.Minute,
			},
			Remote: RemoteTierConfig{
				Enabled:    false,
				DefaultTTL: time.Hour,
				KeyPrefix:  "renderflow:cache:",
			},
			Disk: DiskTierConfig{
				Enabled:         false,
				Directory:       "/var/cache/renderflow",
				MaxSize:         "10GB",
				DefaultTTL:      time.Hour,
				Compression:     true,
				CleanupInterval: 10 * time.Minute,
				SyncInterval:    time.Minute,
			},
			Optimizer: OptimizerConfig{
				MaxEntries:        1000,
				EvictionInterval:  time.Minute,
				HotspotWindowSize: 100,
				HotspotThreshold:  5,
			},
		},
		Scheduler: SchedulerConfig{
			MaxConcurrentTasks: 10,
			TickInterval:       time.Second,
		},
		Scaling: ScalingConfig{
			Enabled:             true,
			Interval:            30 * time.Second,
			CPUThresholdHigh:    70.0,
			CPUThresholdLow:     20.0,
			MemoryThresholdHigh: 75.0,
			MemoryThresholdLow:  25.0,
			QueueSizeThreshold:  10,
			ScaleUpFactor:       1.5,
			ScaleDownFactor:     0.8,
			MinConcurrent:       2,
			MaxConcurrent:       50,
		},
		Monitor: MonitorConfig{
			SamplingInterval: 5 * time.Second,
			HistorySize:      1000,
			DiskPath:         "/",
		},
		Metrics: MetricsConfig{
			Enabled:   false,
			Port:      9090,
			Path:      "/metrics",
			Namespace: "renderflow",
		},
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv loads configuration overrides from environment variables
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv("RENDERFLOW_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := os.Getenv("RENDERFLOW_LOG_FILE"); val != "" {
		c.Global.LogFile = val
	}

	if val := os.Getenv("RENDERFLOW_LOCAL_CACHE_MAX_SIZE"); val != "" {
		c.Cache.Local.MaxSize = val
	}
	if val := os.Getenv("RENDERFLOW_CACHE_TTL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Cache.DefaultTTL = d
		}
	}
	if val := os.Getenv("RENDERFLOW_DISK_CACHE_DIR"); val != "" {
		c.Cache.Disk.Directory = val
	}
	if val := os.Getenv("RENDERFLOW_DISK_CACHE_ENABLED"); val != "" {
		c.Cache.Disk.Enabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("RENDERFLOW_REMOTE_CACHE_ENABLED"); val != "" {
		c.Cache.Remote.Enabled = strings.ToLower(val) == "true"
	}

	if val := os.Getenv("RENDERFLOW_MAX_CONCURRENT_TASKS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Scheduler.MaxConcurrentTasks = n
		}
	}
	if val := os.Getenv("RENDERFLOW_AUTO_SCALING"); val != "" {
		c.Scaling.Enabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("RENDERFLOW_METRICS_ENABLED"); val != "" {
		c.Metrics.Enabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("RENDERFLOW_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Metrics.Port = port
		}
	}

	return nil
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	if c.Scheduler.MaxConcurrentTasks <= 0 {
		return fmt.Errorf("max_concurrent_tasks must be greater than 0")
	}
	if c.Scheduler.TickInterval <= 0 {
		return fmt.Errorf("tick_interval must be positive")
	}

	if c.Cache.MinTTL <= 0 || c.Cache.MaxTTL <= 0 {
		return fmt.Errorf("min_ttl and max_ttl must be positive")
	}
	if c.Cache.MinTTL > c.Cache.MaxTTL {
		return fmt.Errorf("min_ttl (%v) cannot exceed max_ttl (%v)", c.Cache.MinTTL, c.Cache.MaxTTL)
	}
	if _, err := ParseSize(c.Cache.Local.MaxSize); err != nil {
		return fmt.Errorf("invalid local cache max_size: %w", err)
	}
	if c.Cache.Disk.Enabled {
		if _, err := ParseSize(c.Cache.Disk.MaxSize); err != nil {
			return fmt.Errorf("invalid disk cache max_size: %w", err)
		}
	}
	if c.Cache.Optimizer.HotspotWindowSize <= 0 {
		return fmt.Errorf("hotspot_window_size must be positive")
	}
	if c.Cache.Optimizer.HotspotThreshold <= 0 {
		return fmt.Errorf("hotspot_threshold must be positive")
	}

	if c.Scaling.MinConcurrent < 1 {
		return fmt.Errorf("min_concurrent must be at least 1")
	}
	if c.Scaling.MinConcurrent > c.Scaling.MaxConcurrent {
		return fmt.Errorf("min_concurrent (%d) cannot exceed max_concurrent (%d)",
			c.Scaling.MinConcurrent, c.Scaling.MaxConcurrent)
	}
	if c.Scaling.ScaleUpFactor <= 1.0 {
		return fmt.Errorf("scale_up_factor must be greater than 1.0")
	}
	if c.Scaling.ScaleDownFactor <= 0 || c.Scaling.ScaleDownFactor >= 1.0 {
		return fmt.Errorf("scale_down_factor must be in (0, 1)")
	}

	if c.Monitor.SamplingInterval <= 0 {
		return fmt.Errorf("sampling_interval must be positive")
	}
	if c.Monitor.HistorySize <= 0 {
		return fmt.Errorf("history_size must be positive")
	}

	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if c.Global.LogLevel == level {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		return fmt.Errorf("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}

	return nil
}

// ParseSize converts a human-readable size string like "100MB" to bytes.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	multipliers := []struct {
		suffix string
		factor int64
	}{
		{"TB", 1 << 40},
		{"GB", 1 << 30},
		{"MB", 1 << 20},
		{"KB", 1 << 10},
		{"B", 1},
	}

	for _, m := range multipliers {
		if strings.HasSuffix(s, m.suffix) {
			numStr := strings.TrimSpace(strings.TrimSuffix(s, m.suffix))
			num, err := strconv.ParseFloat(numStr, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid size %q: %w", s, err)
			}
			if num < 0 {
				return 0, fmt.Errorf("size cannot be negative: %q", s)
			}
			return int64(num * float64(m.factor)), nil
		}
	}

	num, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return num, nil
}
