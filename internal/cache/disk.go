package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/blockcache/resource"
	"golang.org/x/sync/semaphore"
)

// DiskCacheConfig holds configuration for the disk cache.
type DiskCacheConfig struct {
	// RootDir is the directory where cache files are stored.
	RootDir string
	// MaxSizeBytes is the maximum size of the cache in bytes (on disk, after compression).
	MaxSizeBytes int64
	// MaxConcurrentWrites limits background disk writes to prevent unbounded goroutines.
	// Defaults to 16 if <= 0.
	MaxConcurrentWrites int64
	// Compression is applied to every block written to disk.
	Compression Compression
	// Controller optionally rate-limits background writes and bounds them
	// with its background worker slots.
	Controller *resource.Controller
}

// DiskBlockCache is a block cache backed by the local filesystem.
// It maintains an in-memory LRU index of the files on disk.
type DiskBlockCache struct {
	mu          sync.Mutex
	rootDir     string
	maxSize     int64
	currentSize int64
	compression Compression
	rc          *resource.Controller

	// writeSem limits this cache's background writes; the controller's
	// background slots bound them across caches.
	writeSem *semaphore.Weighted

	// Index
	items   map[CacheKey]*lruEntry
	lruHead *lruEntry
	lruTail *lruEntry

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool

	// Stats
	hits   atomic.Int64
	misses atomic.Int64
}

type lruEntry struct {
	key        CacheKey
	size       int64
	filePath   string
	next, prev *lruEntry
}

// NewDiskBlockCache creates a new disk-backed block cache.
// It scans the directory to rebuild the index on startup.
func NewDiskBlockCache(config DiskCacheConfig) (*DiskBlockCache, error) {
	if config.RootDir == "" {
		return nil, fmt.Errorf("cache: disk cache requires a root directory")
	}
	if err := os.MkdirAll(config.RootDir, 0755); err != nil {
		return nil, err
	}

	maxWrites := config.MaxConcurrentWrites
	if maxWrites <= 0 {
		maxWrites = 16
	}

	ctx, cancel := context.WithCancel(context.Background())

	c := &DiskBlockCache{
		rootDir:     config.RootDir,
		maxSize:     config.MaxSizeBytes,
		compression: config.Compression,
		rc:          config.Controller,
		items:       make(map[CacheKey]*lruEntry),
		writeSem:    semaphore.NewWeighted(maxWrites),
		ctx:         ctx,
		cancel:      cancel,
	}

	// Synchronous scan: a Get must not miss a block that is already on disk.
	c.scanExistingFiles()

	return c, nil
}

func (c *DiskBlockCache) scanExistingFiles() {
	// Layout: root/<Path>/<Kind>-<BlobID>-<Offset>.blk
	_ = filepath.Walk(c.rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil //nolint:nilerr // intentionally ignore walk errors to continue scanning
		}
		if info.IsDir() {
			return nil
		}

		key, ok := c.parsePathToKey(path)
		if !ok {
			// Leftover temp files from an interrupted write.
			if strings.HasPrefix(info.Name(), "tmp-blk-") {
				_ = os.Remove(path)
			}
			return nil
		}

		c.addToLRU(key, path, info.Size())
		return nil
	})

	// A smaller MaxSizeBytes than the previous run shrinks the cache now.
	for c.currentSize > c.maxSize && c.lruTail != nil {
		c.evictOne()
	}
}

// encodeKeyToRelPath creates a relative path string from a key.
// Format: <Path>/<Kind>-<BlobID>-<Offset>.blk
// The <Path> part is preserved as directory structure.
func (c *DiskBlockCache) encodeKeyToRelPath(key CacheKey) string {
	fileName := fmt.Sprintf("%d-%d-%d.blk", key.Kind, key.BlobID, key.Offset)
	if key.Path != "" {
		return filepath.Join(key.Path, fileName)
	}
	return filepath.Join("_misc", fileName)
}

func (c *DiskBlockCache) parsePathToKey(absPath string) (CacheKey, bool) {
	relPath, err := filepath.Rel(c.rootDir, absPath)
	if err != nil {
		return CacheKey{}, false
	}

	dir, file := filepath.Split(relPath)

	var (
		kind   int
		blobID uint64
		off    uint64
	)
	n, err := fmt.Sscanf(file, "%d-%d-%d.blk", &kind, &blobID, &off)
	if err != nil || n != 3 {
		return CacheKey{}, false
	}

	k := CacheKey{
		Kind:   CacheKind(kind),
		BlobID: blobID,
		Offset: off,
	}

	if dir != "" {
		dir = strings.TrimSuffix(dir, string(filepath.Separator))
		if dir != "_misc" {
			k.Path = filepath.ToSlash(dir)
		}
	}

	return k, true
}

// Get returns a cached block, reading it from disk.
func (c *DiskBlockCache) Get(_ context.Context, key CacheKey) ([]byte, bool) {
	c.mu.Lock()
	ent, ok := c.items[key]
	if ok {
		c.moveToFront(ent)
	}
	c.mu.Unlock()

	if !ok {
		c.misses.Add(1)
		return nil, false
	}

	raw, err := os.ReadFile(ent.filePath)
	if err == nil {
		var data []byte
		if data, err = decompressBlock(raw, c.compression, c.maxSize); err == nil {
			c.hits.Add(1)
			return data, true
		}
	}

	// Missing or corrupt file: drop it from the index.
	c.mu.Lock()
	if cur, ok := c.items[key]; ok && cur == ent {
		_ = os.Remove(ent.filePath)
		c.removeEntry(ent)
	}
	c.mu.Unlock()
	c.misses.Add(1)
	return nil, false
}

// Set writes a block to disk in the background. Blocks larger than
// MaxSizeBytes are skipped, as are writes while all writers are busy.
func (c *DiskBlockCache) Set(_ context.Context, key CacheKey, b []byte) {
	if int64(len(b)) > c.maxSize {
		return
	}

	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		return
	}
	if ent, ok := c.items[key]; ok {
		// Blocks are immutable; a second write only refreshes recency.
		c.moveToFront(ent)
		c.mu.Unlock()
		return
	}
	if !c.writeSem.TryAcquire(1) {
		c.mu.Unlock()
		return
	}
	if !c.rc.TryAcquireBackground() {
		c.writeSem.Release(1)
		c.mu.Unlock()
		return
	}
	// Added under mu so Close never waits on a counter that can still grow.
	c.wg.Add(1)
	c.mu.Unlock()

	absPath := filepath.Join(c.rootDir, c.encodeKeyToRelPath(key))

	// The index is only updated once the write completes. Concurrent Gets
	// miss and hit the backend during the write, which is fine for warm-up.
	go func() {
		defer c.wg.Done()
		defer c.writeSem.Release(1)
		defer c.rc.ReleaseBackground()

		data, err := compressBlock(b, c.compression)
		if err != nil {
			return
		}
		size := int64(len(data))
		if size > c.maxSize {
			return
		}

		if err := writeFileAtomic(c.ctx, c.rc, absPath, data); err != nil {
			return
		}

		c.mu.Lock()
		defer c.mu.Unlock()

		if _, ok := c.items[key]; ok {
			return
		}

		for c.currentSize+size > c.maxSize && c.lruTail != nil {
			c.evictOne()
		}

		c.addToLRU(key, absPath, size)
	}()
}

// writeFileAtomic writes data to a temp file next to absPath and renames it
// into place. Writes are charged against the controller's IO budget.
func writeFileAtomic(ctx context.Context, rc *resource.Controller, absPath string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
		return err
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(absPath), "tmp-blk-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()

	defer func() {
		if _, err := os.Stat(tmpName); err == nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := resource.NewRateLimitedWriter(ctx, tmpFile, rc).Write(data); err != nil {
		_ = tmpFile.Close() // Intentionally ignore: cleanup path
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}

	return os.Rename(tmpName, absPath)
}

// Erase removes a single entry and its file.
func (c *DiskBlockCache) Erase(key CacheKey) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ent, ok := c.items[key]; ok {
		_ = os.Remove(ent.filePath)
		c.removeEntry(ent)
	}
}

// Invalidate removes entries matching the predicate.
func (c *DiskBlockCache) Invalidate(predicate func(key CacheKey) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var toRemove []*lruEntry
	for k, ent := range c.items {
		if predicate(k) {
			toRemove = append(toRemove, ent)
		}
	}

	for _, ent := range toRemove {
		_ = os.Remove(ent.filePath)
		c.removeEntry(ent)
	}
}

// Flush waits for all pending background writes.
func (c *DiskBlockCache) Flush() {
	c.wg.Wait()
}

// Close stops accepting writes and waits for pending ones to finish.
// Files on disk are kept for the next run.
func (c *DiskBlockCache) Close() error {
	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		return nil
	}
	c.closed.Store(true)
	c.mu.Unlock()

	c.wg.Wait()
	c.cancel()
	return nil
}

// Stats returns hit/miss counters.
func (c *DiskBlockCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Size returns the bytes currently stored on disk.
func (c *DiskBlockCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentSize
}

// Internal LRU helpers (must hold lock)

func (c *DiskBlockCache) addToLRU(key CacheKey, path string, size int64) {
	ent := &lruEntry{
		key:      key,
		filePath: path,
		size:     size,
	}
	c.items[key] = ent
	c.currentSize += size

	if c.lruHead == nil {
		c.lruHead = ent
		c.lruTail = ent
	} else {
		ent.next = c.lruHead
		c.lruHead.prev = ent
		c.lruHead = ent
	}
}

func (c *DiskBlockCache) moveToFront(ent *lruEntry) {
	if c.lruHead == ent {
		return
	}

	// Detach
	if ent.prev != nil {
		ent.prev.next = ent.next
	}
	if ent.next != nil {
		ent.next.prev = ent.prev
	}
	if c.lruTail == ent {
		c.lruTail = ent.prev
	}

	// Attach Front
	ent.next = c.lruHead
	ent.prev = nil
	if c.lruHead != nil {
		c.lruHead.prev = ent
	}
	c.lruHead = ent
	if c.lruTail == nil {
		c.lruTail = ent
	}
}

func (c *DiskBlockCache) removeEntry(ent *lruEntry) {
	if ent.prev != nil {
		ent.prev.next = ent.next
	} else {
		c.lruHead = ent.next
	}

	if ent.next != nil {
		ent.next.prev = ent.prev
	} else {
		c.lruTail = ent.prev
	}

	ent.next, ent.prev = nil, nil
	delete(c.items, ent.key)
	c.currentSize -= ent.size
}

func (c *DiskBlockCache) evictOne() {
	if c.lruTail == nil {
		return
	}
	_ = os.Remove(c.lruTail.filePath)
	c.removeEntry(c.lruTail)
}
