package cache

import (
	"context"
	"encoding/binary"
	"hash/maphash"
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/hupe1980/blockcache/resource"
)

// DefaultShardBits is the number of shard bits used by NewShardedLRUBlockCache.
const DefaultShardBits = 4

const maxShardBits = 8

// MinShardCapacity is the smallest per-shard capacity ShardBitsFor allows.
const MinShardCapacity = 512 << 10

// ShardBitsFor returns the largest shard bits, at most maxBits, that keep
// every shard at MinShardCapacity or more. Caches below twice the minimum
// get a single shard.
func ShardBitsFor(capacity int64, maxBits int) int {
	maxBits = min(maxBits, maxShardBits)
	bits := 0
	for n := capacity / MinShardCapacity; n > 1 && bits < maxBits; n >>= 1 {
		bits++
	}
	return bits
}

// blobRef identifies the blob a cached block belongs to.
type blobRef struct {
	kind   CacheKind
	blobID uint64
	path   string
}

// ShardedLRUBlockCache is a sharded LRU cache for high-concurrency workloads.
// It distributes entries across 1<<shardBits shards to reduce lock contention.
type ShardedLRUBlockCache struct {
	shards   []*LRUBlockCache
	seed     maphash.Seed
	capacity int64

	// blobs maps each blob path to the offsets cached for it.
	blobsMu sync.Mutex
	blobs   map[blobRef]*roaring64.Bitmap
}

// NewShardedLRUBlockCache creates a new sharded LRU cache with DefaultShardBits.
// The capacity is divided evenly across all shards.
func NewShardedLRUBlockCache(capacity int64, rc *resource.Controller) *ShardedLRUBlockCache {
	return NewShardedLRUBlockCacheWithBits(capacity, DefaultShardBits, rc)
}

// NewShardedLRUBlockCacheWithBits creates a sharded LRU cache with 1<<shardBits shards.
// shardBits is clamped to [0, 8].
func NewShardedLRUBlockCacheWithBits(capacity int64, shardBits int, rc *resource.Controller) *ShardedLRUBlockCache {
	shardBits = min(max(shardBits, 0), maxShardBits)
	numShards := int64(1) << shardBits

	s := &ShardedLRUBlockCache{
		shards:   make([]*LRUBlockCache, numShards),
		seed:     maphash.MakeSeed(),
		capacity: capacity,
		blobs:    make(map[blobRef]*roaring64.Bitmap),
	}

	// Spread the remainder over the first shards so the per-shard
	// capacities add up to exactly capacity.
	base, rem := capacity/numShards, capacity%numShards
	for i := range numShards {
		shardCapacity := base
		if i < rem {
			shardCapacity++
		}
		shard := NewLRUBlockCache(shardCapacity, rc)
		shard.onRemove = s.unindex
		s.shards[i] = shard
	}

	return s
}

// shard returns the shard for a given key.
func (s *ShardedLRUBlockCache) shard(key CacheKey) *LRUBlockCache {
	var h maphash.Hash
	h.SetSeed(s.seed)

	var buf [17]byte
	buf[0] = byte(key.Kind)
	binary.LittleEndian.PutUint64(buf[1:], key.BlobID)
	binary.LittleEndian.PutUint64(buf[9:], key.Offset)
	_, _ = h.Write(buf[:])
	_, _ = h.WriteString(key.Path)

	idx := h.Sum64() % uint64(len(s.shards))
	return s.shards[idx]
}

// Get returns a cached block.
func (s *ShardedLRUBlockCache) Get(ctx context.Context, key CacheKey) ([]byte, bool) {
	return s.shard(key).Get(ctx, key)
}

// Set caches a block.
func (s *ShardedLRUBlockCache) Set(ctx context.Context, key CacheKey, b []byte) {
	shard := s.shard(key)
	if key.Path == "" {
		shard.Set(ctx, key, b)
		return
	}

	// Index under the shard lock so an eviction racing with this insert
	// cannot leave a stale offset behind.
	shard.mu.Lock()
	defer shard.mu.Unlock()
	shard.setLocked(key, b)
	if _, ok := shard.items[key]; ok {
		s.index(key)
	}
}

// Erase removes a single entry.
func (s *ShardedLRUBlockCache) Erase(key CacheKey) {
	s.shard(key).Erase(key)
}

// EraseBlob removes every cached block of the blob at path.
func (s *ShardedLRUBlockCache) EraseBlob(kind CacheKind, path string) {
	var keys []CacheKey

	s.blobsMu.Lock()
	for ref, bm := range s.blobs {
		if ref.kind != kind || ref.path != path {
			continue
		}
		it := bm.Iterator()
		for it.HasNext() {
			keys = append(keys, CacheKey{Kind: kind, BlobID: ref.blobID, Offset: it.Next(), Path: path})
		}
	}
	s.blobsMu.Unlock()

	for _, key := range keys {
		s.Erase(key)
	}
}

// CachedOffsets returns the cached block offsets of the blob at path.
func (s *ShardedLRUBlockCache) CachedOffsets(kind CacheKind, path string) []uint64 {
	s.blobsMu.Lock()
	defer s.blobsMu.Unlock()

	all := roaring64.New()
	for ref, bm := range s.blobs {
		if ref.kind == kind && ref.path == path {
			all.Or(bm)
		}
	}
	if all.IsEmpty() {
		return nil
	}
	return all.ToArray()
}

// Invalidate removes entries matching the predicate.
// This iterates all shards, which is expensive but rare.
func (s *ShardedLRUBlockCache) Invalidate(predicate func(key CacheKey) bool) {
	var wg sync.WaitGroup
	wg.Add(len(s.shards))

	for _, shard := range s.shards {
		go func(shard *LRUBlockCache) {
			defer wg.Done()
			shard.Invalidate(predicate)
		}(shard)
	}

	wg.Wait()
}

// Purge drops every entry in every shard.
func (s *ShardedLRUBlockCache) Purge() {
	for _, shard := range s.shards {
		shard.Purge()
	}
}

// Close closes all shards.
func (s *ShardedLRUBlockCache) Close() error {
	for _, shard := range s.shards {
		if err := shard.Close(); err != nil {
			return err
		}
	}
	return nil
}

// Stats returns aggregated hit/miss statistics.
func (s *ShardedLRUBlockCache) Stats() (hits, misses int64) {
	for _, shard := range s.shards {
		h, m := shard.Stats()
		hits += h
		misses += m
	}
	return hits, misses
}

// Size returns the total size across all shards.
func (s *ShardedLRUBlockCache) Size() int64 {
	var total int64
	for _, shard := range s.shards {
		total += shard.Size()
	}
	return total
}

// Capacity returns the total byte capacity.
func (s *ShardedLRUBlockCache) Capacity() int64 {
	return s.capacity
}

// NumShards returns the number of shards.
func (s *ShardedLRUBlockCache) NumShards() int {
	return len(s.shards)
}

// ShardStats holds per-shard statistics for debugging.
type ShardStats struct {
	ShardID  int
	Size     int64
	Capacity int64
	Hits     int64
	Misses   int64
}

// ShardStats returns per-shard statistics.
func (s *ShardedLRUBlockCache) ShardStats() []ShardStats {
	stats := make([]ShardStats, len(s.shards))
	for i, shard := range s.shards {
		h, m := shard.Stats()
		stats[i] = ShardStats{
			ShardID:  i,
			Size:     shard.Size(),
			Capacity: shard.Capacity(),
			Hits:     h,
			Misses:   m,
		}
	}
	return stats
}

func (s *ShardedLRUBlockCache) index(key CacheKey) {
	ref := blobRef{kind: key.Kind, blobID: key.BlobID, path: key.Path}

	s.blobsMu.Lock()
	defer s.blobsMu.Unlock()

	bm, ok := s.blobs[ref]
	if !ok {
		bm = roaring64.New()
		s.blobs[ref] = bm
	}
	bm.Add(key.Offset)
}

// unindex runs with the owning shard's lock held.
func (s *ShardedLRUBlockCache) unindex(key CacheKey) {
	if key.Path == "" {
		return
	}
	ref := blobRef{kind: key.Kind, blobID: key.BlobID, path: key.Path}

	s.blobsMu.Lock()
	defer s.blobsMu.Unlock()

	bm, ok := s.blobs[ref]
	if !ok {
		return
	}
	bm.Remove(key.Offset)
	if bm.IsEmpty() {
		delete(s.blobs, ref)
	}
}
