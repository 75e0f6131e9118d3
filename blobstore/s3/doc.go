// Package s3 provides an S3 implementation of the blobstore.BlobStore interface.
//
// # Usage
//
//	store, err := s3.New(ctx, "my-bucket",
//	    s3.WithPrefix("blocks/"),
//	    s3.WithRegion("us-east-1"),
//	)
//
//	h, _ := blockcache.NewHandle(256 << 20)
//	cached := blobstore.NewCachingStore(store, h, 64<<10)
//
// # Features
//
//   - Range reads for block fetches
//   - Multipart uploads for large blobs, single PUT with CRC32C for small ones
//   - Automatic pagination for listing
//   - Configurable prefix for multi-tenant isolation
//   - Custom endpoints for S3-compatible services
package s3
