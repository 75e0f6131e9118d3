// Command blockcache reads a blob through the block cache and reports how the
// cache behaved.
//
// Configuration comes from BLOCKCACHE_* environment variables, optionally
// loaded from a .env file in the working directory:
//
//	BLOCKCACHE_BACKEND=minio
//	BLOCKCACHE_ENDPOINT=localhost:9000
//	BLOCKCACHE_BUCKET=data
//	BLOCKCACHE_BLOB=segments/000001.bin
//	BLOCKCACHE_CACHE_BYTES=67108864
//	BLOCKCACHE_RESIZE_TO=134217728
//
// The blob is read PASSES times. Every pass after the first should be served
// from the cache when it fits.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hupe1980/blockcache"
	"github.com/hupe1980/blockcache/blobstore"
	minioblob "github.com/hupe1980/blockcache/blobstore/minio"
	s3blob "github.com/hupe1980/blockcache/blobstore/s3"
	"github.com/hupe1980/blockcache/resource"
)

func main() {
	cfg, err := loadConfig(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "blockcache: %v\n", err)
		os.Exit(2)
	}

	logger, err := cfg.logger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "blockcache: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, os.Stdout); err != nil {
		logger.Error("run failed", "error", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg Config, logger *blockcache.Logger, out io.Writer) error {
	rc := resource.NewController(resource.Config{
		MemoryLimitBytes:   cfg.MemoryLimit,
		IOLimitBytesPerSec: cfg.IOLimit,
	})
	metrics := &blockcache.BasicMetricsCollector{}

	opts := []blockcache.Option{
		blockcache.WithLogger(logger),
		blockcache.WithMetricsCollector(metrics),
		blockcache.WithResourceController(rc),
		blockcache.WithShards(cfg.ShardBits),
	}
	if cfg.DiskDir != "" {
		compression, err := blockcache.ParseCompression(cfg.DiskCompression)
		if err != nil {
			return err
		}
		opts = append(opts, blockcache.WithDiskCache(blockcache.DiskCacheOptions{
			Dir:          cfg.DiskDir,
			MaxSizeBytes: cfg.DiskBytes,
			Compression:  compression,
		}))
	}

	h, err := blockcache.NewHandle(cfg.CacheBytes, opts...)
	if err != nil {
		return err
	}
	defer h.Close()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s backend: %w", cfg.Backend, err)
	}
	cached := blobstore.NewCachingStore(store, h, cfg.BlockSize)

	blob, err := cached.Open(ctx, cfg.Blob)
	if err != nil {
		return fmt.Errorf("open blob %q: %w", cfg.Blob, err)
	}
	defer blob.Close()

	for pass := 1; pass <= cfg.Passes; pass++ {
		start := time.Now()

		var r io.Reader = blobstore.NewReader(ctx, blob)
		if cfg.IOLimit > 0 {
			r = resource.NewRateLimitedReader(ctx, r, rc)
		}
		n, err := io.Copy(io.Discard, r)
		if err != nil {
			return fmt.Errorf("read pass %d: %w", pass, err)
		}

		logger.Info("read pass finished",
			"pass", pass,
			"bytes", n,
			"duration", time.Since(start),
		)
	}

	report(out, h, rc, metrics)

	if cfg.ResizeTo > 0 {
		if err := h.Resize(cfg.ResizeTo); err != nil {
			return err
		}
		logger.Info("cache resized", "capacity", h.Capacity())
		report(out, h, rc, metrics)
	}

	return nil
}

func openStore(ctx context.Context, cfg Config) (blobstore.BlobStore, error) {
	switch cfg.Backend {
	case "s3":
		var opts []s3blob.Option
		if cfg.Prefix != "" {
			opts = append(opts, s3blob.WithPrefix(cfg.Prefix))
		}
		if cfg.Region != "" {
			opts = append(opts, s3blob.WithRegion(cfg.Region))
		}
		if cfg.Endpoint != "" {
			opts = append(opts, s3blob.WithEndpoint(cfg.Endpoint))
		}
		return s3blob.New(ctx, cfg.Bucket, opts...)
	case "minio":
		return minioblob.New(minioblob.Config{
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			UseSSL:    cfg.UseSSL,
			Region:    cfg.Region,
			Bucket:    cfg.Bucket,
			Prefix:    cfg.Prefix,
		})
	default:
		return blobstore.NewLocalStore(cfg.Root), nil
	}
}

func report(out io.Writer, h *blockcache.Handle, rc *resource.Controller, metrics *blockcache.BasicMetricsCollector) {
	c := h.Get()
	if c == nil {
		return
	}
	defer c.Release()

	st := c.Stats()
	fmt.Fprintf(out, "capacity=%d size=%d hits=%d misses=%d disk_hits=%d hit_ratio=%.2f memory=%d\n",
		st.Capacity, st.Size, st.Hits, st.Misses, st.DiskHits, metrics.HitRatio(), rc.MemoryUsage())
}
