// Package resource implements the Controller for global limits shared by
// block caches.
//
// The Controller provides centralized management of three resource types:
//
//   - Memory: Track and limit bytes held by caches (fail-fast)
//   - Concurrency: Limit background workers (disk cache writes, prefetch)
//   - IO: Rate-limit background IO to avoid starving foreground reads
//
// # Memory Management
//
// Memory tracking uses a weighted semaphore for hard limits and atomic counters
// for usage tracking. Several caches can share one Controller so that a
// resized cache and the cache it replaces never exceed the global budget
// together:
//
//	rc := resource.NewController(resource.Config{
//	    MemoryLimitBytes: 1 << 30, // 1GB limit
//	})
//
//	if !rc.TryAcquireMemory(4096) {
//	    // over budget: skip caching this block
//	}
//	defer rc.ReleaseMemory(4096)
//
// # IO Rate Limiting
//
// Token bucket rate limiter for background IO:
//
//	rc := resource.NewController(resource.Config{
//	    IOLimitBytesPerSec: 100 * 1024 * 1024, // 100MB/s
//	})
//
//	writer := resource.NewRateLimitedWriter(ctx, file, rc)
//	reader := resource.NewRateLimitedReader(ctx, file, rc)
//
// # Nil Safety
//
// All methods handle a nil Controller gracefully - they become no-ops.
// This allows optional resource limiting without nil checks everywhere.
package resource
