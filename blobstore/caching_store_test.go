package blobstore

import (
	"context"
	"io"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/hupe1980/blockcache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingStore wraps a MemoryStore and counts backend reads.
type countingStore struct {
	*MemoryStore
	reads     atomic.Int64
	readBytes atomic.Int64
}

func newCountingStore() *countingStore {
	return &countingStore{MemoryStore: NewMemoryStore()}
}

func (s *countingStore) Open(ctx context.Context, name string) (Blob, error) {
	b, err := s.MemoryStore.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return &countingBlob{Blob: b, store: s}, nil
}

type countingBlob struct {
	Blob
	store *countingStore
}

func (b *countingBlob) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	n, err := b.Blob.ReadAt(ctx, p, off)
	b.store.reads.Add(1)
	b.store.readBytes.Add(int64(n))
	return n, err
}

func testData(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func newTestHandle(t *testing.T, capacity int64) *blockcache.Handle {
	t.Helper()
	h, err := blockcache.NewHandle(capacity)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func TestCachingStore_ReadAt(t *testing.T) {
	ctx := context.Background()
	data := testData(1024)

	inner := newCountingStore()
	require.NoError(t, inner.Put(ctx, "test", data))

	store := NewCachingStore(inner, newTestHandle(t, 1<<20), 256)

	blob, err := store.Open(ctx, "test")
	require.NoError(t, err)
	defer blob.Close()

	// First block is fetched whole.
	buf := make([]byte, 100)
	n, err := blob.ReadAt(ctx, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 100, n)
	assert.Equal(t, data[:100], buf)
	assert.Equal(t, int64(1), inner.reads.Load())
	assert.Equal(t, int64(256), inner.readBytes.Load())

	// Same range again is a cache hit.
	_, err = blob.ReadAt(ctx, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), inner.reads.Load())

	// Spanning blocks 0 and 1: only block 1 is fetched.
	n, err = blob.ReadAt(ctx, buf, 200)
	require.NoError(t, err)
	assert.Equal(t, 100, n)
	assert.Equal(t, data[200:300], buf)
	assert.Equal(t, int64(2), inner.reads.Load())
	assert.Equal(t, int64(512), inner.readBytes.Load())

	_, err = blob.ReadAt(ctx, buf, 260)
	require.NoError(t, err)
	assert.Equal(t, int64(2), inner.reads.Load())
}

func TestCachingStore_SmallFile(t *testing.T) {
	ctx := context.Background()

	inner := NewMemoryStore()
	require.NoError(t, inner.Put(ctx, "small", []byte("hello")))

	store := NewCachingStore(inner, newTestHandle(t, 1024), 256)
	blob, err := store.Open(ctx, "small")
	require.NoError(t, err)

	buf := make([]byte, 10)
	n, err := blob.ReadAt(ctx, buf, 0)
	assert.Equal(t, 5, n)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []byte("hello"), buf[:n])

	n, err = blob.ReadAt(ctx, buf, 5)
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, io.EOF)

	_, err = blob.ReadAt(ctx, buf, -1)
	assert.ErrorIs(t, err, ErrInvalidOffset)
}

func TestCachingStore_Coalescing(t *testing.T) {
	ctx := context.Background()

	inner := newCountingStore()
	require.NoError(t, inner.Put(ctx, "test", testData(16*1024)))

	store := NewCachingStore(inner, newTestHandle(t, 1<<20), 1024)
	blob, err := store.Open(ctx, "test")
	require.NoError(t, err)

	// Ten missing blocks form one run.
	buf := make([]byte, 10*1024)
	_, err = blob.ReadAt(ctx, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), inner.reads.Load())

	// Block 10 is missing, 0-9 are cached: a second single read.
	_, err = blob.ReadAt(ctx, buf, 1024)
	require.NoError(t, err)
	assert.Equal(t, int64(2), inner.reads.Load())
}

func TestCachingStore_PutAndDeleteEvict(t *testing.T) {
	ctx := context.Background()

	h := newTestHandle(t, 1<<20)
	store := NewCachingStore(NewMemoryStore(), h, 4)
	require.NoError(t, store.Put(ctx, "obj", []byte("aaaaaaaa")))

	read := func() string {
		blob, err := store.Open(ctx, "obj")
		require.NoError(t, err)
		defer blob.Close()
		buf := make([]byte, blob.Size())
		_, err = blob.ReadAt(ctx, buf, 0)
		require.NoError(t, err)
		return string(buf)
	}

	assert.Equal(t, "aaaaaaaa", read())

	c := h.Get()
	assert.Equal(t, []uint64{0, 4}, c.CachedOffsets(blockcache.CacheKindBlob, "obj"))
	require.NoError(t, c.Release())

	require.NoError(t, store.Put(ctx, "obj", []byte("bbbbbbbb")))
	assert.Equal(t, "bbbbbbbb", read())

	require.NoError(t, store.Delete(ctx, "obj"))
	c = h.Get()
	assert.Empty(t, c.CachedOffsets(blockcache.CacheKindBlob, "obj"))
	require.NoError(t, c.Release())

	_, err := store.Open(ctx, "obj")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCachingStore_CreateEvicts(t *testing.T) {
	ctx := context.Background()

	store := NewCachingStore(NewMemoryStore(), newTestHandle(t, 1<<20), 4)
	require.NoError(t, store.Put(ctx, "obj", []byte("old!")))

	blob, err := store.Open(ctx, "obj")
	require.NoError(t, err)
	buf := make([]byte, 4)
	_, err = blob.ReadAt(ctx, buf, 0)
	require.NoError(t, err)

	w, err := store.Create(ctx, "obj")
	require.NoError(t, err)
	_, err = w.Write([]byte("new!"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	blob, err = store.Open(ctx, "obj")
	require.NoError(t, err)
	_, err = blob.ReadAt(ctx, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "new!", string(buf))
}

func TestCachingStore_EmptyHandlePassesThrough(t *testing.T) {
	ctx := context.Background()

	inner := newCountingStore()
	require.NoError(t, inner.Put(ctx, "obj", testData(100)))

	var h blockcache.Handle
	store := NewCachingStore(inner, &h, 16)
	blob, err := store.Open(ctx, "obj")
	require.NoError(t, err)

	buf := make([]byte, 10)
	for range 3 {
		_, err = blob.ReadAt(ctx, buf, 20)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(3), inner.reads.Load())
	assert.NoError(t, store.Delete(ctx, "obj"))
}

func TestCachingStore_TinyCacheStillCorrect(t *testing.T) {
	ctx := context.Background()
	data := testData(4096)

	inner := NewMemoryStore()
	require.NoError(t, inner.Put(ctx, "obj", data))

	// Smaller than one block: nothing is ever cached.
	store := NewCachingStore(inner, newTestHandle(t, 8), 64)
	blob, err := store.Open(ctx, "obj")
	require.NoError(t, err)

	buf := make([]byte, 1000)
	n, err := blob.ReadAt(ctx, buf, 1500)
	require.NoError(t, err)
	assert.Equal(t, 1000, n)
	assert.Equal(t, data[1500:2500], buf)
}

func TestCachingStore_OneLookupPerBlock(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		capacity int64
		hits     int64
	}{
		{"cached", 1 << 20, 1},
		{"zero capacity", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inner := newCountingStore()
			require.NoError(t, inner.Put(ctx, "obj", testData(4096)))

			mc := &blockcache.BasicMetricsCollector{}
			h, err := blockcache.NewHandle(tt.capacity, blockcache.WithMetricsCollector(mc))
			require.NoError(t, err)
			defer h.Close()

			store := NewCachingStore(inner, h, 4096)
			blob, err := store.Open(ctx, "obj")
			require.NoError(t, err)
			defer blob.Close()

			// A cold read does one lookup and one backend read.
			buf := make([]byte, 4096)
			_, err = blob.ReadAt(ctx, buf, 0)
			require.NoError(t, err)
			assert.Equal(t, int64(1), inner.reads.Load())
			assert.Equal(t, int64(0), mc.Hits.Load())
			assert.Equal(t, int64(1), mc.Misses.Load())

			_, err = blob.ReadAt(ctx, buf, 0)
			require.NoError(t, err)
			assert.Equal(t, tt.hits, mc.Hits.Load())
			assert.Equal(t, 2-tt.hits, inner.reads.Load())
		})
	}
}

func TestCachingStore_ReadRange(t *testing.T) {
	ctx := context.Background()
	data := testData(1000)

	inner := NewMemoryStore()
	require.NoError(t, inner.Put(ctx, "obj", data))

	store := NewCachingStore(inner, newTestHandle(t, 1<<20), 128)
	blob, err := store.Open(ctx, "obj")
	require.NoError(t, err)

	r, err := blob.ReadRange(ctx, 100, 500)
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, data[100:600], got)

	r, err = blob.ReadRange(ctx, 900, 500)
	require.NoError(t, err)
	got, err = io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, data[900:], got)

	_, err = blob.ReadRange(ctx, 1000, 1)
	assert.ErrorIs(t, err, io.EOF)

	got, err = io.ReadAll(NewReader(ctx, blob))
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestCachingStore_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	inner := NewMemoryStore()
	require.NoError(t, inner.Put(ctx, "obj", testData(100)))

	store := NewCachingStore(inner, newTestHandle(t, 1<<20), 16)
	blob, err := store.Open(ctx, "obj")
	require.NoError(t, err)

	cancel()
	_, err = blob.ReadAt(ctx, make([]byte, 10), 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCachingStore_ConcurrentReadsDuringResize(t *testing.T) {
	ctx := context.Background()
	data := testData(64 * 1024)

	inner := NewMemoryStore()
	require.NoError(t, inner.Put(ctx, "obj", data))

	h := newTestHandle(t, 32*1024)
	store := NewCachingStore(inner, h, 512)

	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func(seed uint64) {
			defer wg.Done()
			rng := rand.New(rand.NewPCG(seed, seed+1))

			blob, err := store.Open(ctx, "obj")
			if !assert.NoError(t, err) {
				return
			}
			defer blob.Close()

			for range 200 {
				off := rng.IntN(len(data) - 1)
				n := 1 + rng.IntN(min(4096, len(data)-off))
				buf := make([]byte, n)
				got, err := blob.ReadAt(ctx, buf, int64(off))
				if !assert.NoError(t, err) {
					return
				}
				assert.Equal(t, n, got)
				assert.Equal(t, data[off:off+n], buf)
			}
		}(uint64(g))
	}

	for i := range 20 {
		require.NoError(t, h.Resize(int64(16*1024*(1+i%4))))
	}
	wg.Wait()
}
