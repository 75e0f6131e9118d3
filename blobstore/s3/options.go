package s3

// Options configures a Store.
type Options struct {
	// Prefix is prepended to every blob name (e.g. "tenant-a/").
	Prefix string
	// Region overrides the region from the shared AWS config. Used by New.
	Region string
	// Endpoint points the client at an S3-compatible service. Used by New.
	Endpoint string
	// UsePathStyle selects path-style addressing. Used by New.
	UsePathStyle bool
	// Upload tunes multipart uploads.
	Upload UploadConfig
}

// Option configures a Store.
type Option func(*Options)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(o *Options) {
		o.Prefix = prefix
	}
}

// WithRegion sets the AWS region.
func WithRegion(region string) Option {
	return func(o *Options) {
		o.Region = region
	}
}

// WithEndpoint sets a custom endpoint and enables path-style addressing,
// which most S3-compatible services expect.
func WithEndpoint(endpoint string) Option {
	return func(o *Options) {
		o.Endpoint = endpoint
		o.UsePathStyle = true
	}
}

// WithUploadConfig overrides the upload settings.
func WithUploadConfig(cfg UploadConfig) Option {
	return func(o *Options) {
		o.Upload = cfg
	}
}
