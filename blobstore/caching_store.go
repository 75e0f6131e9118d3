package blobstore

import (
	"context"
	"errors"
	"io"

	"github.com/hupe1980/blockcache"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultBlockSize is used when NewCachingStore gets a non-positive block size.
	DefaultBlockSize = 4096

	maxParallelFetches = 16
)

// CachingStore wraps a BlobStore and adds block-level caching.
type CachingStore struct {
	inner     BlobStore
	handle    *blockcache.Handle
	blockSize int64
}

// NewCachingStore creates a new CachingStore reading through the cache held by h.
// blockSize defaults to DefaultBlockSize if <= 0.
func NewCachingStore(inner BlobStore, h *blockcache.Handle, blockSize int64) *CachingStore {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &CachingStore{
		inner:     inner,
		handle:    h,
		blockSize: blockSize,
	}
}

// BlockSize returns the cache block size in bytes.
func (s *CachingStore) BlockSize() int64 {
	return s.blockSize
}

// Open opens a blob whose reads go through the cache.
func (s *CachingStore) Open(ctx context.Context, name string) (Blob, error) {
	b, err := s.inner.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return &CachingBlob{
		inner:     b,
		handle:    s.handle,
		name:      name,
		blockSize: s.blockSize,
	}, nil
}

// Create writes through to the inner store. The blob's cached blocks are
// dropped up front so an overwrite is never served stale data.
func (s *CachingStore) Create(ctx context.Context, name string) (WritableBlob, error) {
	s.evict(name)
	return s.inner.Create(ctx, name)
}

// Put writes through to the inner store and drops the blob's cached blocks.
func (s *CachingStore) Put(ctx context.Context, name string, data []byte) error {
	s.evict(name)
	return s.inner.Put(ctx, name, data)
}

// Delete removes the blob and its cached blocks.
func (s *CachingStore) Delete(ctx context.Context, name string) error {
	s.evict(name)
	return s.inner.Delete(ctx, name)
}

// List returns the inner store's listing.
func (s *CachingStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}

func (s *CachingStore) evict(name string) {
	c := s.handle.Get()
	if c == nil {
		return
	}
	defer c.Release()
	c.EraseBlob(blockcache.CacheKindBlob, name)
}

// CachingBlob wraps a Blob and uses the block cache for reads.
// Blocks are keyed by blob name and block start offset.
type CachingBlob struct {
	inner     Blob
	handle    *blockcache.Handle
	name      string
	blockSize int64
}

// Close closes the inner blob.
func (b *CachingBlob) Close() error {
	return b.inner.Close()
}

// Size returns the inner blob's size.
func (b *CachingBlob) Size() int64 {
	return b.inner.Size()
}

func (b *CachingBlob) key(blk int64) blockcache.CacheKey {
	return blockcache.CacheKey{
		Kind:   blockcache.CacheKindBlob,
		Path:   b.name,
		Offset: uint64(blk * b.blockSize),
	}
}

// ReadAt reads len(p) bytes at off, serving whole blocks from the cache
// and fetching missing ones from the inner blob.
func (b *CachingBlob) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if off < 0 {
		return 0, ErrInvalidOffset
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	size := b.Size()
	if off >= size {
		return 0, io.EOF
	}

	// The reference pins this cache for the whole read, even if the
	// handle is resized meanwhile.
	c := b.handle.Get()
	if c == nil {
		return b.inner.ReadAt(ctx, p, off)
	}
	defer c.Release()

	end := min(off+int64(len(p)), size)
	startBlock := off / b.blockSize
	endBlock := (end - 1) / b.blockSize

	blocks, err := b.loadBlocks(ctx, c, startBlock, endBlock)
	if err != nil {
		return 0, err
	}

	total := 0
	for i, data := range blocks {
		blkStart := (startBlock + int64(i)) * b.blockSize

		from := max(blkStart, off)
		to := min(blkStart+b.blockSize, end)

		src := from - blkStart
		if src >= int64(len(data)) {
			break
		}
		n := copy(p[from-off:to-off], data[src:])
		total += n
	}

	if total < len(p) {
		return total, io.EOF
	}
	return total, nil
}

type blockRun struct {
	start, count int64
}

// loadBlocks returns the blocks in [startBlock, endBlock], indexed from
// startBlock. Each block is looked up in c once. Contiguous missing blocks
// are fetched with one backend read per run, runs are fetched in parallel,
// and fetched blocks are added to c.
func (b *CachingBlob) loadBlocks(ctx context.Context, c *blockcache.Cache, startBlock, endBlock int64) ([][]byte, error) {
	blocks := make([][]byte, endBlock-startBlock+1)

	var runs []blockRun
	for blk := startBlock; blk <= endBlock; blk++ {
		if data, ok := c.Get(ctx, b.key(blk)); ok {
			blocks[blk-startBlock] = data
			continue
		}
		if n := len(runs); n > 0 && runs[n-1].start+runs[n-1].count == blk {
			runs[n-1].count++
			continue
		}
		runs = append(runs, blockRun{start: blk, count: 1})
	}

	if len(runs) == 0 {
		return blocks, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelFetches)

	size := b.Size()
	for _, run := range runs {
		g.Go(func() error {
			byteStart := run.start * b.blockSize
			byteSize := min(run.count*b.blockSize, size-byteStart)
			if byteSize <= 0 {
				return nil
			}

			buf := make([]byte, byteSize)
			n, err := b.inner.ReadAt(gctx, buf, byteStart)
			if err != nil && !errors.Is(err, io.EOF) {
				return err
			}
			buf = buf[:n]

			// Each run owns a disjoint slice of blocks.
			for i := range run.count {
				lo := i * b.blockSize
				if lo >= int64(len(buf)) {
					break
				}
				hi := min(lo+b.blockSize, int64(len(buf)))

				// Copy so a cached block does not pin the whole run buffer.
				block := make([]byte, hi-lo)
				copy(block, buf[lo:hi])
				blocks[run.start+i-startBlock] = block
				c.Set(gctx, b.key(run.start+i), block)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return blocks, nil
}

// ReadRange streams a range through ReadAt, so it shares the block cache.
func (b *CachingBlob) ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error) {
	end, err := clipRange(off, length, b.Size())
	if err != nil {
		return nil, err
	}
	return io.NopCloser(&contextSectionReader{blob: b, ctx: ctx, off: off, limit: end}), nil
}

// contextSectionReader wraps CachingBlob to implement io.Reader with context.
type contextSectionReader struct {
	blob  *CachingBlob
	ctx   context.Context
	off   int64
	limit int64
}

func (r *contextSectionReader) Read(p []byte) (int, error) {
	if r.off >= r.limit {
		return 0, io.EOF
	}
	if remaining := r.limit - r.off; int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := r.blob.ReadAt(r.ctx, p, r.off)
	r.off += int64(n)
	if errors.Is(err, io.EOF) && n > 0 {
		err = nil
	}
	return n, err
}
