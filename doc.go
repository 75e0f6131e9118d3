// Package blockcache provides a shared, reference-counted block cache behind
// a lock-protected handle.
//
// A Handle owns one reference to a Cache. Readers call Get to take their own
// reference, use the cache without holding any lock, and Release it when
// done. Replacing the cache (for example to change its capacity) swaps the
// handle's slot; readers that still hold the old cache keep using it until
// they release it.
//
// # Quick Start
//
//	h, err := blockcache.NewHandle(64 << 20)
//	if err != nil {
//	    return err
//	}
//	defer h.Close()
//
//	c := h.Get()
//	defer c.Release()
//
//	key := blockcache.CacheKey{Kind: blockcache.CacheKindData, Path: "a.bin", Offset: 0}
//	c.Set(ctx, key, block)
//	data, ok := c.Get(ctx, key)
//
// # Resizing
//
// Capacity is fixed per cache. Resize builds a new cache and swaps it in:
//
//	if err := h.Resize(128 << 20); err != nil {
//	    return err
//	}
//
// # Tiers
//
// The in-memory tier is a sharded LRU with up to 16 shards of at least
// 512 KiB each. WithDiskCache adds a disk tier with optional lz4 or zstd
// compression; the caches a Handle builds share it across Resize.
// WithResourceController makes all caches share one memory budget and IO
// rate limit.
//
// Blob stores in the blobstore package read through a Handle.
package blockcache
