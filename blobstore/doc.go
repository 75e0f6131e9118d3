// Package blobstore provides storage backends for immutable blobs and a
// caching layer that reads them block by block through a blockcache.Handle.
//
// BlobStore is the interface for reading and writing blobs.
// Implementations must be safe for concurrent use.
//
// # Built-in Implementations
//
//   - MemoryStore: in-memory, for tests
//   - LocalStore: local filesystem with mmap reads
//   - s3.Store: Amazon S3 with range reads and multipart uploads
//   - minio.Store: any S3-compatible endpoint through minio-go
//
// # Caching
//
// CachingStore wraps any BlobStore. Reads are split into fixed-size blocks.
// Each read takes a reference to the handle's current cache and releases it
// when done, so a concurrent Resize never disturbs an in-flight read.
//
//	h, _ := blockcache.NewHandle(256 << 20)
//	store := blobstore.NewCachingStore(s3Store, h, 64<<10)
//	blob, _ := store.Open(ctx, "segments/0001.bin")
//	n, err := blob.ReadAt(ctx, buf, off)
//
// Put and Delete drop the blob's cached blocks.
package blobstore
