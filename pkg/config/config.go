// Package config provides the configuration system for prositlmdb.
// It defines a single Config structure shared by the CLI, the driver and
// the conversion pipeline.
//
// The configuration is organized into logical sections:
//   - Input: where the columnar prediction files live and how they are named
//   - Output: where stores are written and how large they may grow
//   - Conversion: batch sizing
//   - Logging, Metrics, Tracing: observability
//
// Example usage:
//
//	cfg := config.DefaultConfig()
//	cfg.Conversion.BatchSize = 50_000
//
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"fmt"
	"strings"

	"github.com/ajitpratap0/prositlmdb/pkg/errors"
)

// Config is the single configuration structure for a conversion run.
type Config struct {
	// Input describes the source datasets
	Input InputConfig `mapstructure:"input" yaml:"input"`

	// Output describes the destination stores
	Output OutputConfig `mapstructure:"output" yaml:"output"`

	// Conversion controls batching
	Conversion ConversionConfig `mapstructure:"conversion" yaml:"conversion"`

	// Logging controls the global zap logger
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Metrics controls the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Tracing controls OpenTelemetry span export
	Tracing TracingConfig `mapstructure:"tracing" yaml:"tracing"`
}

// InputConfig locates the prediction datasets.
type InputConfig struct {
	// Root is the directory (or s3:// / gs:// prefix) holding the datasets
	Root string `mapstructure:"root" yaml:"root"`
	// PathTemplate builds an input path; {root}, {datatype} and {split} are replaced
	PathTemplate string `mapstructure:"path_template" yaml:"path_template"`
	// CacheDir receives remote datasets before conversion
	CacheDir string `mapstructure:"cache_dir" yaml:"cache_dir"`
	// DataTypes lists the fragmentation methods to convert
	DataTypes []string `mapstructure:"data_types" yaml:"data_types"`
	// Splits lists the dataset splits to convert
	Splits []string `mapstructure:"splits" yaml:"splits"`
}

// OutputConfig locates and sizes the destination stores.
type OutputConfig struct {
	// Root is the directory under which stores are created
	Root string `mapstructure:"root" yaml:"root"`
	// SplitAliases renames splits in output paths (e.g. ho: test). Empty by default.
	SplitAliases map[string]string `mapstructure:"split_aliases" yaml:"split_aliases"`
	// MaxStoreSize caps a store's size in bytes
	MaxStoreSize int64 `mapstructure:"max_store_size" yaml:"max_store_size"`
	// NoSync skips the fsync after every record; the store syncs on close
	NoSync bool `mapstructure:"no_sync" yaml:"no_sync"`
}

// ConversionConfig controls how the source is windowed.
type ConversionConfig struct {
	// BatchSize is the number of records loaded per window
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size"`
}

// LoggingConfig mirrors logger.Config.
type LoggingConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Encoding    string `mapstructure:"encoding" yaml:"encoding"`
	Development bool   `mapstructure:"development" yaml:"development"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// Enabled serves /metrics while the CLI runs
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Address is the listen address of the metrics server
	Address string `mapstructure:"address" yaml:"address"`
}

// TracingConfig controls span export.
type TracingConfig struct {
	Enabled    bool    `mapstructure:"enabled" yaml:"enabled"`
	SampleRate float64 `mapstructure:"sample_rate" yaml:"sample_rate"`
}

// DefaultPathTemplate follows the naming of the published prediction files.
const DefaultPathTemplate = "{root}/{datatype}/prediction_{datatype}_{split}.arrow"

// DefaultConfig returns a Config matching the layout of the published
// dataset: cid and hcd predictions, split into ho/train/val.
func DefaultConfig() *Config {
	return &Config{
		Input: InputConfig{
			Root:         "./hdf5",
			PathTemplate: DefaultPathTemplate,
			CacheDir:     "./.cache/prositlmdb",
			DataTypes:    []string{"cid", "hcd"},
			Splits:       []string{"ho", "train", "val"},
		},
		Output: OutputConfig{
			Root:         "./lmdb",
			SplitAliases: map[string]string{},
			MaxStoreSize: 1_000_000_000_000,
		},
		Conversion: ConversionConfig{
			BatchSize: 100_000,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Encoding: "json",
		},
		Metrics: MetricsConfig{
			Address: ":9090",
		},
		Tracing: TracingConfig{
			SampleRate: 1.0,
		},
	}
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.Input.Root == "" {
		return errors.New(errors.ErrorTypeConfig, "input.root is required")
	}
	if !strings.Contains(c.Input.PathTemplate, "{datatype}") || !strings.Contains(c.Input.PathTemplate, "{split}") {
		return errors.New(errors.ErrorTypeConfig, "input.path_template must contain {datatype} and {split}").
			WithDetail("path_template", c.Input.PathTemplate)
	}
	if len(c.Input.DataTypes) == 0 {
		return errors.New(errors.ErrorTypeConfig, "input.data_types must not be empty")
	}
	if len(c.Input.Splits) == 0 {
		return errors.New(errors.ErrorTypeConfig, "input.splits must not be empty")
	}
	if c.Output.Root == "" {
		return errors.New(errors.ErrorTypeConfig, "output.root is required")
	}
	if c.Output.MaxStoreSize <= 0 {
		return errors.New(errors.ErrorTypeConfig, "output.max_store_size must be positive")
	}
	if c.Conversion.BatchSize <= 0 {
		return errors.New(errors.ErrorTypeConfig, "conversion.batch_size must be positive").
			WithDetail("batch_size", c.Conversion.BatchSize)
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("tracing.sample_rate %v outside [0, 1]", c.Tracing.SampleRate))
	}
	return nil
}

// OutputSplit returns the name used for split in output paths.
func (o *OutputConfig) OutputSplit(split string) string {
	if alias, ok := o.SplitAliases[split]; ok && alias != "" {
		return alias
	}
	return split
}
