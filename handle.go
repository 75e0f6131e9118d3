package blockcache

import (
	"sync"
)

// Handle is a lock-protected slot holding one reference to a Cache.
//
// The mutex guards only the slot. It is never held while calling into the
// cache or while a replaced cache is torn down, so readers of the cache
// never wait on each other. The zero value is an empty handle.
//
// With a disk tier configured, every cache the handle builds shares one
// index over the directory, so a Resize keeps the disk contents and an
// erase through any generation reaches the files.
type Handle struct {
	mu   sync.Mutex
	rep  *Cache
	opts options
	disk *diskTier

	// diskMu serializes opening the disk tier.
	diskMu sync.Mutex
}

// NewHandle returns a handle holding a new cache of capacity bytes.
func NewHandle(capacity int64, opts ...Option) (*Handle, error) {
	h := &Handle{}
	if err := h.Init(capacity, opts...); err != nil {
		return nil, err
	}
	return h, nil
}

// Init builds a cache of capacity bytes and stores it in the slot.
//
// A negative capacity returns an error matching ErrInvalidArgument and
// leaves the slot untouched. If the slot already holds a cache, it is
// replaced. The options are kept for later calls to Resize.
func (h *Handle) Init(capacity int64, opts ...Option) error {
	o := applyOptions(opts)

	c, err := h.build(capacity, o)
	o.logger.LogInit(capacity, err)
	o.metrics().RecordInit(capacity, err)
	if err != nil {
		return err
	}

	var oldDisk *diskTier
	h.mu.Lock()
	h.opts = o
	if o.disk == nil {
		oldDisk, h.disk = h.disk, nil
	}
	h.mu.Unlock()

	h.Replace(c)
	_ = oldDisk.release()
	return nil
}

// build creates a cache on the handle's disk tier.
func (h *Handle) build(capacity int64, o options) (*Cache, error) {
	if capacity < 0 {
		return nil, newInvalidCapacity(capacity)
	}

	disk, err := h.diskRef(o)
	if err != nil {
		return nil, err
	}
	return newCache(capacity, o, disk)
}

// diskRef returns a new reference to the disk tier o asks for. The handle's
// tier is reused when its settings match; otherwise a tier is opened and
// becomes the handle's.
func (h *Handle) diskRef(o options) (*diskTier, error) {
	if o.disk == nil {
		return nil, nil
	}

	h.diskMu.Lock()
	defer h.diskMu.Unlock()

	h.mu.Lock()
	if h.disk.matches(o.disk, o.rc) {
		t := h.disk.ref()
		h.mu.Unlock()
		return t, nil
	}
	h.mu.Unlock()

	t, err := openDiskTier(*o.disk, o.rc)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	old := h.disk
	h.disk = t
	h.mu.Unlock()

	_ = old.release()
	return t.ref(), nil
}

// Get returns a new reference to the current cache, or nil if the slot is
// empty. The caller must Release it. The reference stays valid across later
// calls to Replace.
func (h *Handle) Get() *Cache {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rep == nil {
		return nil
	}
	return h.rep.Ref()
}

// Replace stores c in the slot, taking over the caller's reference to it.
// The previous cache is released after the lock is dropped.
// Replace(nil) empties the slot.
func (h *Handle) Replace(c *Cache) {
	h.mu.Lock()
	old := h.rep
	h.rep = c
	o := h.opts
	h.mu.Unlock()

	oldCap, newCap := int64(-1), int64(-1)
	if old != nil {
		oldCap = old.Capacity()
	}
	if c != nil {
		newCap = c.Capacity()
	}
	o.logger.LogReplace(oldCap, newCap)
	o.metrics().RecordReplace(oldCap, newCap)

	if old != nil {
		_ = old.Release()
	}
}

// Resize builds a cache of capacity bytes with the handle's options and
// swaps it in. In-memory entries are not carried over; the disk tier is
// shared with the previous cache. References handed out before keep the old
// cache alive until they are released.
func (h *Handle) Resize(capacity int64) error {
	h.mu.Lock()
	o := h.opts
	h.mu.Unlock()

	c, err := h.build(capacity, o)
	if err != nil {
		o.logger.LogInit(capacity, err)
		o.metrics().RecordInit(capacity, err)
		return err
	}

	h.Replace(c)
	return nil
}

// Capacity returns the capacity of the current cache, or 0 if the slot is empty.
func (h *Handle) Capacity() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rep == nil {
		return 0
	}
	return h.rep.Capacity()
}

// Ref returns a new handle sharing the current cache.
// Each handle owns its own reference and must be closed separately.
func (h *Handle) Ref() *Handle {
	h.mu.Lock()
	defer h.mu.Unlock()

	dup := &Handle{opts: h.opts, disk: h.disk.ref()}
	if h.rep != nil {
		dup.rep = h.rep.Ref()
	}
	return dup
}

// Close empties the slot and releases its reference. It is idempotent.
// The disk tier closes once no cache built on it is referenced.
func (h *Handle) Close() error {
	h.mu.Lock()
	empty := h.rep == nil
	disk := h.disk
	h.disk = nil
	h.mu.Unlock()

	if !empty {
		h.Replace(nil)
	}
	return disk.release()
}
