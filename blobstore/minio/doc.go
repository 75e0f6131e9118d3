// Package minio provides a BlobStore implementation using the MinIO client.
//
// It works with MinIO and other S3-compatible systems such as Ceph,
// SeaweedFS and Garage, without pulling in the AWS SDK.
//
// # Basic Usage
//
//	store, err := minioblob.New(minioblob.Config{
//	    Endpoint:  "localhost:9000",
//	    AccessKey: "minioadmin",
//	    SecretKey: "minioadmin",
//	    Bucket:    "my-bucket",
//	    Prefix:    "blocks/",
//	})
//
//	h, _ := blockcache.NewHandle(256 << 20)
//	cached := blobstore.NewCachingStore(store, h, 64<<10)
//
// An existing *minio.Client can be wrapped with NewStore.
//
// Blocks are read with ranged GETs. Create buffers a blob in memory and
// uploads it on Close.
package minio
