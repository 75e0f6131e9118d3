package blockcache

import (
	"github.com/hupe1980/blockcache/internal/cache"
	"github.com/hupe1980/blockcache/resource"
)

type options struct {
	logger           *Logger
	metricsCollector MetricsCollector
	rc               *resource.Controller
	shardBits        int
	disk             *DiskCacheOptions
}

// DiskCacheOptions configures an optional second cache tier on local disk.
//
// Blocks missed in memory are looked up on disk and promoted on a hit.
// Files survive a restart and are re-indexed when the next cache opens Dir.
type DiskCacheOptions struct {
	// Dir holds the cache files. Required.
	Dir string
	// MaxSizeBytes bounds the bytes stored on disk after compression.
	MaxSizeBytes int64
	// Compression is applied to every block written to disk.
	Compression Compression
	// MaxConcurrentWrites bounds background writes. Defaults to 16.
	MaxConcurrentWrites int64
}

// Option configures a Cache or Handle.
//
// A Handle keeps the options it was initialized with and reuses them for
// Resize.
type Option func(*options)

func applyOptions(opts []Option) options {
	o := options{
		logger:           NoopLogger(),
		metricsCollector: NoopMetricsCollector{},
		shardBits:        cache.DefaultShardBits,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// metrics never returns nil, so a zero-value Handle can record.
func (o *options) metrics() MetricsCollector {
	if o.metricsCollector == nil {
		return NoopMetricsCollector{}
	}
	return o.metricsCollector
}

// WithLogger sets the logger for cache lifecycle events.
//
// If nil is passed, logging is disabled.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l == nil {
			l = NoopLogger()
		}
		o.logger = l
	}
}

// WithMetricsCollector sets the metrics collector.
//
// If nil is passed, NoopMetricsCollector is used.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithResourceController makes every cache reserve its memory against rc.
//
// Blocks that would exceed the controller's memory limit are not cached.
// Disk tier writes are throttled by the controller's IO limit.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.rc = rc
	}
}

// WithShards sets the maximum number of shard bits. The cache is split into
// up to 1<<bits shards, each with its own lock and an equal share of the
// capacity. Fewer bits are used when a shard would hold less than 512 KiB,
// so small caches get a single shard.
//
// Default: 4 (up to 16 shards).
func WithShards(bits int) Option {
	return func(o *options) {
		o.shardBits = bits
	}
}

// WithDiskCache adds a disk tier below the in-memory cache.
func WithDiskCache(d DiskCacheOptions) Option {
	return func(o *options) {
		o.disk = &d
	}
}
