package compose

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pixelstack/compose/internal/store"
)

// Compression selects how stored pixel blobs are compressed on disk.
type Compression uint8

const (
	// CompressionLZ4 is the default: fast block compression with a
	// store-uncompressed fallback when it does not shrink the payload.
	CompressionLZ4 Compression = iota

	// CompressionZstd trades CPU for better ratios.
	CompressionZstd

	// CompressionNone stores raw pixel bytes.
	CompressionNone
)

func (c Compression) tag() store.Tag {
	switch c {
	case CompressionZstd:
		return store.TagZstd
	case CompressionNone:
		return store.TagNone
	default:
		return store.TagLZ4
	}
}

// sessionOptions holds optional configuration for Session creation.
type sessionOptions struct {
	storeRoot         string
	workers           int
	parallelThreshold int
	compression       Compression
	janitor           store.JanitorConfig
	sweepOnRender     bool
}

// defaultSessionOptions returns the default session options.
func defaultSessionOptions() sessionOptions {
	return sessionOptions{
		storeRoot:         filepath.Join(os.TempDir(), "compose-store"),
		parallelThreshold: 5,
		compression:       CompressionLZ4,
		janitor:           store.DefaultJanitorConfig(),
		sweepOnRender:     true,
	}
}

// Option configures a Session during creation.
type Option func(*sessionOptions)

// WithStoreRoot sets the directory backing the session's content store.
// The directory may be shared between sessions; each session only ever
// evicts content it created itself.
func WithStoreRoot(dir string) Option {
	return func(o *sessionOptions) {
		o.storeRoot = dir
	}
}

// WithWorkers bounds the worker pool used for the per-layer stage.
// Zero or negative means GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(o *sessionOptions) {
		o.workers = n
	}
}

// WithParallelThreshold sets the layer count above which the per-layer
// stage is dispatched to the worker pool. At or below the threshold the
// stage runs sequentially, avoiding pool overhead for small renders.
func WithParallelThreshold(n int) Option {
	return func(o *sessionOptions) {
		o.parallelThreshold = n
	}
}

// WithCompression selects the blob compression for stored content.
func WithCompression(c Compression) Option {
	return func(o *sessionOptions) {
		o.compression = c
	}
}

// WithCacheLimits overrides the janitor thresholds. Zero values disable the
// corresponding threshold.
func WithCacheLimits(maxAge time.Duration, maxTotalBytes int64, maxCount int) Option {
	return func(o *sessionOptions) {
		o.janitor = store.JanitorConfig{
			MaxAge:       maxAge,
			MaxTotalSize: maxTotalBytes,
			MaxCount:     maxCount,
		}
	}
}

// WithoutSweep disables the opportunistic janitor sweep at the end of each
// render. Sweep can still be triggered explicitly via [Session.Sweep].
func WithoutSweep() Option {
	return func(o *sessionOptions) {
		o.sweepOnRender = false
	}
}

// fileConfig is the YAML schema for LoadOptions.
type fileConfig struct {
	StoreRoot         string `yaml:"store_root"`
	Workers           int    `yaml:"workers"`
	ParallelThreshold *int   `yaml:"parallel_threshold"`
	Compression       string `yaml:"compression"`
	Cache             *struct {
		MaxAgeHours   float64 `yaml:"max_age_hours"`
		MaxTotalMiB   int64   `yaml:"max_total_mib"`
		MaxCount      int     `yaml:"max_count"`
		SweepOnRender *bool   `yaml:"sweep_on_render"`
	} `yaml:"cache"`
}

// LoadOptions reads session options from a YAML config file. Only the keys
// present in the file produce options; everything else keeps its default.
func LoadOptions(path string) ([]Option, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // path is user-provided intentionally
	if err != nil {
		return nil, err
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	var opts []Option
	if fc.StoreRoot != "" {
		opts = append(opts, WithStoreRoot(fc.StoreRoot))
	}
	if fc.Workers != 0 {
		opts = append(opts, WithWorkers(fc.Workers))
	}
	if fc.ParallelThreshold != nil {
		opts = append(opts, WithParallelThreshold(*fc.ParallelThreshold))
	}
	switch fc.Compression {
	case "":
	case "lz4":
		opts = append(opts, WithCompression(CompressionLZ4))
	case "zstd":
		opts = append(opts, WithCompression(CompressionZstd))
	case "none":
		opts = append(opts, WithCompression(CompressionNone))
	default:
		return nil, fmt.Errorf("config %s: unknown compression %q", path, fc.Compression)
	}
	if fc.Cache != nil {
		opts = append(opts, WithCacheLimits(
			time.Duration(fc.Cache.MaxAgeHours*float64(time.Hour)),
			fc.Cache.MaxTotalMiB<<20,
			fc.Cache.MaxCount,
		))
		if fc.Cache.SweepOnRender != nil && !*fc.Cache.SweepOnRender {
			opts = append(opts, WithoutSweep())
		}
	}
	return opts, nil
}
