// Package cache provides LRU caching for block data.
//
// # Block Cache (RAM)
//
// The ShardedLRUBlockCache stores recently accessed data blocks read from
// blobs. It uses 16-way sharding (4 shard bits) for concurrency.
//
// Key features:
//   - Shard selection using a seeded maphash
//   - Per-shard mutex for minimal contention
//   - Roaring bitmap index of cached offsets per blob for cheap EraseBlob
//   - Integrated with resource.Controller for memory limits
//
// # Disk Cache (L2)
//
// For cloud storage backends, DiskBlockCache provides a persistent L2 cache:
//   - Async writes to avoid blocking the read path
//   - Optional lz4 / zstd block compression
//   - LRU eviction with configurable size limits
//   - Rebuilds index from disk on startup
package cache
