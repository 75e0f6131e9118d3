package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/hupe1980/blockcache"
)

const envPrefix = "BLOCKCACHE_"

// Config is read from BLOCKCACHE_* environment variables.
type Config struct {
	Backend  string `env:"BACKEND" envDefault:"local"`
	Root     string `env:"ROOT" envDefault:"."`
	Bucket   string `env:"BUCKET"`
	Prefix   string `env:"PREFIX"`
	Endpoint string `env:"ENDPOINT"`
	Region   string `env:"REGION"`
	UseSSL   bool   `env:"USE_SSL" envDefault:"true"`

	AccessKey string `env:"ACCESS_KEY"`
	SecretKey string `env:"SECRET_KEY"`

	Blob string `env:"BLOB,required"`

	CacheBytes int64 `env:"CACHE_BYTES" envDefault:"268435456"`
	ResizeTo   int64 `env:"RESIZE_TO"`
	BlockSize  int64 `env:"BLOCK_SIZE" envDefault:"65536"`
	ShardBits  int   `env:"SHARD_BITS" envDefault:"4"`

	DiskDir         string `env:"DISK_DIR"`
	DiskBytes       int64  `env:"DISK_BYTES" envDefault:"1073741824"`
	DiskCompression string `env:"DISK_COMPRESSION" envDefault:"lz4"`

	MemoryLimit int64 `env:"MEMORY_LIMIT"`
	IOLimit     int64 `env:"IO_LIMIT"`

	Passes int `env:"PASSES" envDefault:"2"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogJSON  bool   `env:"LOG_JSON"`
}

// loadConfig loads an optional .env file and parses the environment.
// environ overrides the process environment when non-nil.
func loadConfig(environ map[string]string) (Config, error) {
	var cfg Config

	opts := env.Options{Prefix: envPrefix}
	if environ != nil {
		opts.Environment = environ
	} else if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}

	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return cfg, err
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.Backend {
	case "local":
	case "s3", "minio":
		if c.Bucket == "" {
			return fmt.Errorf("%sBUCKET is required for backend %q", envPrefix, c.Backend)
		}
		if c.Backend == "minio" && c.Endpoint == "" {
			return fmt.Errorf("%sENDPOINT is required for backend %q", envPrefix, c.Backend)
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}

	if c.CacheBytes < 0 || c.ResizeTo < 0 {
		return blockcache.ErrInvalidArgument
	}
	if c.Passes < 1 {
		return fmt.Errorf("%sPASSES must be at least 1", envPrefix)
	}
	return nil
}

func (c Config) logger() (*blockcache.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return nil, err
	}
	if c.LogJSON {
		return blockcache.NewJSONLogger(level), nil
	}
	return blockcache.NewTextLogger(level), nil
}
