package blockcache

import (
	"sync/atomic"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Example Prometheus integration:
//
//	type PrometheusCollector struct {
//	    lookups *prometheus.CounterVec
//	}
//
//	func (p *PrometheusCollector) RecordLookup(hit bool) {
//	    p.lookups.WithLabelValues(strconv.FormatBool(hit)).Inc()
//	}
type MetricsCollector interface {
	// RecordInit is called after a handle provisions a cache.
	// err is nil if successful.
	RecordInit(capacity int64, err error)

	// RecordReplace is called after the reference slot is swapped.
	// A capacity of -1 means the slot was empty on that side.
	RecordReplace(oldCapacity, newCapacity int64)

	// RecordRelease is called when the last reference to a cache is dropped.
	RecordRelease(capacity int64)

	// RecordLookup is called after every cache Get.
	RecordLookup(hit bool)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordInit(int64, error)    {}
func (NoopMetricsCollector) RecordReplace(int64, int64) {}
func (NoopMetricsCollector) RecordRelease(int64)        {}
func (NoopMetricsCollector) RecordLookup(bool)          {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	InitCount    atomic.Int64
	InitErrors   atomic.Int64
	ReplaceCount atomic.Int64
	ReleaseCount atomic.Int64
	Hits         atomic.Int64
	Misses       atomic.Int64
}

// RecordInit implements MetricsCollector.
func (b *BasicMetricsCollector) RecordInit(_ int64, err error) {
	b.InitCount.Add(1)
	if err != nil {
		b.InitErrors.Add(1)
	}
}

// RecordReplace implements MetricsCollector.
func (b *BasicMetricsCollector) RecordReplace(_, _ int64) {
	b.ReplaceCount.Add(1)
}

// RecordRelease implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRelease(int64) {
	b.ReleaseCount.Add(1)
}

// RecordLookup implements MetricsCollector.
func (b *BasicMetricsCollector) RecordLookup(hit bool) {
	if hit {
		b.Hits.Add(1)
	} else {
		b.Misses.Add(1)
	}
}

// HitRatio returns hits / (hits + misses), or 0 before the first lookup.
func (b *BasicMetricsCollector) HitRatio() float64 {
	hits, misses := b.Hits.Load(), b.Misses.Load()
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}
