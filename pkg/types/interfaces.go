package types

import (
	"context"
	"time"
)

// MetricsSink receives operation timings from the scheduler and cache layers.
// Storage and exposition of the metrics live behind this interface; the
// subsystem only calls it.
type MetricsSink interface {
	RecordOperation(name string, duration time.Duration, success bool, metadata map[string]string)
	RecordCacheHit(tier string)
	RecordCacheMiss(tier string)
	RecordEviction(tier string, count int)
	SetGauge(name string, value float64)
}

// ResourceProbe returns current system utilization and total capacity. It must
// be cheap and synchronous; the monitor calls it on every sampling tick.
type ResourceProbe interface {
	Usage() (ResourceUsage, error)
	Capacity() (ResourceRequirement, error)
}

// RemoteStore is the opaque networked key/value service behind the remote
// cache tier. Its wire protocol is out of scope here.
type RemoteStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// Serializer encodes cache values for the remote and disk tiers. The local
// tier holds live values and never serializes.
type Serializer interface {
	Encode(value interface{}) ([]byte, error)
	Decode(data []byte) (interface{}, error)
}

// NoopSink discards all metrics. It is the default sink when none is injected.
type NoopSink struct{}

func (NoopSink) RecordOperation(string, time.Duration, bool, map[string]string) {}
func (NoopSink) RecordCacheHit(string)                                          {}
func (NoopSink) RecordCacheMiss(string)                                         {}
func (NoopSink) RecordEviction(string, int)                                     {}
func (NoopSink) SetGauge(string, float64)                                       {}

var _ MetricsSink = NoopSink{}
