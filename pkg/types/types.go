package types

import (
	"time"
)

// Priority orders task admission preference. Lower values are scheduled first.
type Priority int

const (
	PriorityCritical Priority = iota + 1
	PriorityHigh
	PriorityNormal
	PriorityLow
	PriorityBackground
)

// String returns the priority name.
func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "CRITICAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityNormal:
		return "NORMAL"
	case PriorityLow:
		return "LOW"
	case PriorityBackground:
		return "BACKGROUND"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether p is one of the defined priority tiers.
func (p Priority) Valid() bool {
	return p >= PriorityCritical && p <= PriorityBackground
}

// Priorities lists all tiers from most to least urgent.
func Priorities() []Priority {
	return []Priority{
		PriorityCritical,
		PriorityHigh,
		PriorityNormal,
		PriorityLow,
		PriorityBackground,
	}
}

// ResourceRequirement describes what a task needs to run, and doubles as the
// monitor's "available" snapshot.
type ResourceRequirement struct {
	CPUCores    float64 `json:"cpu_cores" yaml:"cpu_cores"`
	MemoryMB    int64   `json:"memory_mb" yaml:"memory_mb"`
	DiskMB      int64   `json:"disk_mb" yaml:"disk_mb"`
	GPUMemoryMB int64   `json:"gpu_memory_mb" yaml:"gpu_memory_mb"` // reserved, not scheduled yet
}

// Satisfies reports whether r covers req componentwise. GPU memory is carried
// but not checked; GPU scheduling is not implemented.
func (r ResourceRequirement) Satisfies(req ResourceRequirement) bool {
	return r.CPUCores >= req.CPUCores &&
		r.MemoryMB >= req.MemoryMB &&
		r.DiskMB >= req.DiskMB
}

// ResourceUsage is a timestamped snapshot of system utilization.
type ResourceUsage struct {
	CPUPercent   float64   `json:"cpu_percent"`
	MemoryMB     int64     `json:"memory_mb"`
	DiskMB       int64     `json:"disk_mb"`
	NetworkBytes uint64    `json:"network_bytes"`
	Timestamp    time.Time `json:"timestamp"`
}

// TaskFunc is the work a task performs. The error is recorded via the metrics
// sink and logged; it does not affect scheduler completion bookkeeping.
type TaskFunc func(task *Task) error

// Task is a schedulable unit of work.
type Task struct {
	ID                string                 `json:"id"`
	Type              string                 `json:"type"`
	Priority          Priority               `json:"priority"`
	Requirement       ResourceRequirement    `json:"requirement"`
	CreatedAt         time.Time              `json:"created_at"`
	EstimatedDuration time.Duration          `json:"estimated_duration"`
	Dependencies      []string               `json:"dependencies,omitempty"`
	Callback          TaskFunc               `json:"-"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
}

// CacheStats holds cumulative per-tier cache counters. Counters are monotonic
// for the process lifetime of the owning tier.
type CacheStats struct {
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	Evictions   uint64  `json:"evictions"`
	Entries     int     `json:"entries"`
	Size        int64   `json:"size"`
	Capacity    int64   `json:"capacity"`
	HitRate     float64 `json:"hit_rate"`
	Utilization float64 `json:"utilization"`
}

// QueueStats reports task queue depths.
type QueueStats struct {
	Ready   map[string]int `json:"ready"`
	Waiting int            `json:"waiting"`
	Total   int            `json:"total"`
}

// SchedulerStats is a point-in-time snapshot read by the auto-scaler. It is a
// plain value; readers never observe scheduler internals.
type SchedulerStats struct {
	ActiveTasks    int                 `json:"active_tasks"`
	MaxConcurrent  int                 `json:"max_concurrent"`
	CompletedTasks int                 `json:"completed_tasks"`
	Queue          QueueStats          `json:"queue"`
	Available      ResourceRequirement `json:"available_resources"`
	Usage          ResourceUsage       `json:"system_usage"`
}

// UsageTrend is the coarse direction signal from the resource monitor.
type UsageTrend struct {
	CPUDelta    float64 `json:"cpu_trend_percent"`
	MemoryDelta int64   `json:"memory_trend_mb"`
	Direction   string  `json:"trend_direction"`
	Samples     int     `json:"samples"`
}
