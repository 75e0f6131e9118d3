package blockcache

import (
	"context"
	"sync/atomic"

	"github.com/hupe1980/blockcache/internal/cache"
)

type (
	// CacheKey identifies an immutable block.
	CacheKey = cache.CacheKey
	// CacheKind separates the key spaces of different block types.
	CacheKind = cache.CacheKind
	// Compression selects the algorithm for blocks stored on disk.
	Compression = cache.Compression
	// ShardStats holds per-shard statistics.
	ShardStats = cache.ShardStats
)

const (
	CacheKindUnknown = cache.CacheKindUnknown
	CacheKindData    = cache.CacheKindData
	CacheKindIndex   = cache.CacheKindIndex
	CacheKindFilter  = cache.CacheKindFilter
	CacheKindBlob    = cache.CacheKindBlob
)

const (
	CompressionNone = cache.CompressionNone
	CompressionLZ4  = cache.CompressionLZ4
	CompressionZSTD = cache.CompressionZSTD
)

// ParseCompression maps "none", "lz4" or "zstd" to a Compression.
func ParseCompression(name string) (Compression, error) {
	return cache.ParseCompression(name)
}

// CacheStats is a point-in-time view of a cache.
type CacheStats struct {
	Capacity   int64
	Size       int64
	Hits       int64
	Misses     int64
	DiskSize   int64
	DiskHits   int64
	DiskMisses int64
	Refs       int64
}

// Cache is a reference-counted, byte-bounded block cache.
//
// A new Cache holds one reference. Every Ref must be paired with a Release.
// When the last reference is released the cache drops its entries and
// returns their memory to the resource controller. A released cache misses
// on every Get and ignores Set.
//
// Cache operations are safe for concurrent use and need no external locking.
type Cache struct {
	refs     atomic.Int64
	released atomic.Bool
	capacity int64

	mem  *cache.ShardedLRUBlockCache
	disk *diskTier

	logger  *Logger
	metrics MetricsCollector
}

// NewCache creates a cache bounded by capacity bytes.
// It returns an error matching ErrInvalidArgument if capacity is negative.
func NewCache(capacity int64, opts ...Option) (*Cache, error) {
	if capacity < 0 {
		return nil, newInvalidCapacity(capacity)
	}

	o := applyOptions(opts)

	var disk *diskTier
	if o.disk != nil {
		var err error
		if disk, err = openDiskTier(*o.disk, o.rc); err != nil {
			return nil, err
		}
	}
	return newCache(capacity, o, disk)
}

// newCache takes over the caller's reference to disk, releasing it on error.
func newCache(capacity int64, o options, disk *diskTier) (*Cache, error) {
	if capacity < 0 {
		_ = disk.release()
		return nil, newInvalidCapacity(capacity)
	}

	c := &Cache{
		capacity: capacity,
		mem:      cache.NewShardedLRUBlockCacheWithBits(capacity, cache.ShardBitsFor(capacity, o.shardBits), o.rc),
		disk:     disk,
		logger:   o.logger,
		metrics:  o.metrics(),
	}

	c.refs.Store(1)
	return c, nil
}

// Get returns the block for key.
func (c *Cache) Get(ctx context.Context, key CacheKey) ([]byte, bool) {
	if c.released.Load() {
		c.metrics.RecordLookup(false)
		return nil, false
	}

	if b, ok := c.mem.Get(ctx, key); ok {
		c.metrics.RecordLookup(true)
		return b, true
	}

	if c.disk != nil {
		if b, ok := c.disk.Get(ctx, key); ok {
			c.mem.Set(ctx, key, b)
			c.metrics.RecordLookup(true)
			return b, true
		}
	}

	c.metrics.RecordLookup(false)
	return nil, false
}

// Set inserts a block. Blocks larger than one shard's share of the capacity
// are not cached. Below 1 MiB the cache has one shard, so the bound is the
// capacity itself; larger caches keep shards of at least 512 KiB.
// The cache keeps b; callers must not modify it afterwards.
func (c *Cache) Set(ctx context.Context, key CacheKey, b []byte) {
	if c.released.Load() {
		return
	}

	c.mem.Set(ctx, key, b)
	if c.disk != nil {
		c.disk.Set(ctx, key, b)
	}

	// A concurrent final Release may have purged before our insert landed.
	if c.released.Load() {
		c.mem.Erase(key)
	}
}

// Erase removes a single block.
func (c *Cache) Erase(key CacheKey) {
	c.mem.Erase(key)
	if c.disk != nil {
		c.disk.Erase(key)
	}
}

// EraseBlob removes every block cached for the blob at path.
func (c *Cache) EraseBlob(kind CacheKind, path string) {
	c.mem.EraseBlob(kind, path)
	if c.disk != nil {
		c.disk.Invalidate(func(k CacheKey) bool {
			return k.Kind == kind && k.Path == path
		})
	}
}

// CachedOffsets returns the offsets of the in-memory blocks of the blob at path.
func (c *Cache) CachedOffsets(kind CacheKind, path string) []uint64 {
	return c.mem.CachedOffsets(kind, path)
}

// Invalidate removes every block for which predicate returns true.
func (c *Cache) Invalidate(predicate func(key CacheKey) bool) {
	c.mem.Invalidate(predicate)
	if c.disk != nil {
		c.disk.Invalidate(predicate)
	}
}

// Flush waits for pending disk tier writes.
func (c *Cache) Flush() {
	if c.disk != nil {
		c.disk.Flush()
	}
}

// Capacity returns the byte bound the cache was created with.
func (c *Cache) Capacity() int64 {
	return c.capacity
}

// Size returns the bytes currently held in memory.
func (c *Cache) Size() int64 {
	return c.mem.Size()
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() CacheStats {
	hits, misses := c.mem.Stats()
	s := CacheStats{
		Capacity: c.capacity,
		Size:     c.mem.Size(),
		Hits:     hits,
		Misses:   misses,
		Refs:     c.refs.Load(),
	}
	if c.disk != nil {
		s.DiskHits, s.DiskMisses = c.disk.Stats()
		s.DiskSize = c.disk.Size()
	}
	return s
}

// ShardStats returns per-shard statistics of the in-memory tier.
func (c *Cache) ShardStats() []ShardStats {
	return c.mem.ShardStats()
}

// Ref takes a new reference and returns c.
// It returns nil if the cache was already released.
func (c *Cache) Ref() *Cache {
	for {
		n := c.refs.Load()
		if n <= 0 {
			return nil
		}
		if c.refs.CompareAndSwap(n, n+1) {
			return c
		}
	}
}

// Release drops one reference. The last release frees the cache.
func (c *Cache) Release() error {
	n := c.refs.Add(-1)
	if n > 0 {
		return nil
	}
	if n < 0 {
		c.refs.Add(1)
		c.logger.LogRelease(c.capacity, 0, ErrReleased)
		return ErrReleased
	}

	c.released.Store(true)
	freed := c.mem.Size()
	err := c.mem.Close()
	if derr := c.disk.release(); err == nil {
		err = derr
	}

	c.logger.LogRelease(c.capacity, freed, err)
	c.metrics.RecordRelease(c.capacity)
	return err
}

// Released reports whether the last reference was dropped.
func (c *Cache) Released() bool {
	return c.released.Load()
}
