// Package mmap provides read-only memory-mapped files.
//
// Local blobs are mapped once and served with ReadAt or Slice, so block
// reads that miss the cache do not go through a read syscall.
//
//	m, err := mmap.Open("blob.bin")
//	if err != nil { ... }
//	defer m.Close()
//
//	_ = m.Advise(mmap.AccessRandom)
//	block, err := m.Slice(4096, 4096)
//
// Unix uses mmap(2) and madvise(2). Windows uses CreateFileMapping and
// MapViewOfFile; access hints are ignored there.
//
// A Mapping is safe for concurrent reads. Close is idempotent, but slices
// returned by Bytes or Slice must not be used after it.
package mmap
