package blockcache

import (
	"fmt"
	"sync/atomic"

	"github.com/hupe1980/blockcache/internal/cache"
	"github.com/hupe1980/blockcache/resource"
)

// diskTier is a reference-counted disk cache shared by every Cache a Handle
// builds on the same directory. A directory must have exactly one open index:
// two indexes over the same files do not see each other's erasures, and the
// stale copy is picked up again on the next open.
type diskTier struct {
	*cache.DiskBlockCache

	refs atomic.Int64
	opts DiskCacheOptions
	rc   *resource.Controller
}

func openDiskTier(opts DiskCacheOptions, rc *resource.Controller) (*diskTier, error) {
	dc, err := cache.NewDiskBlockCache(cache.DiskCacheConfig{
		RootDir:             opts.Dir,
		MaxSizeBytes:        opts.MaxSizeBytes,
		MaxConcurrentWrites: opts.MaxConcurrentWrites,
		Compression:         opts.Compression,
		Controller:          rc,
	})
	if err != nil {
		return nil, fmt.Errorf("open disk cache: %w", err)
	}

	t := &diskTier{DiskBlockCache: dc, opts: opts, rc: rc}
	t.refs.Store(1)
	return t, nil
}

// matches reports whether t was opened with the same settings.
func (t *diskTier) matches(opts *DiskCacheOptions, rc *resource.Controller) bool {
	return t != nil && opts != nil && t.opts == *opts && t.rc == rc
}

// ref takes a new reference. It is nil-safe.
func (t *diskTier) ref() *diskTier {
	if t == nil {
		return nil
	}
	t.refs.Add(1)
	return t
}

// release drops one reference and closes the disk cache on the last one.
func (t *diskTier) release() error {
	if t == nil {
		return nil
	}
	if t.refs.Add(-1) > 0 {
		return nil
	}
	return t.DiskBlockCache.Close()
}
