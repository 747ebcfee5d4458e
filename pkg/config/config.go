// config.go
// =============================================================================
// Configuration Management for the Latency Analyzer
// =============================================================================
//
// This module handles:
// - TOML configuration file parsing
// - Default value management
// - Configuration validation
//
// The configuration is split between:
// - TOML file: loader tuning, storage tuning, aggregation thresholds
// - Command line: runtime controls (stat name, log directory, CSV output,
//   store mode flags) — see the stat-latency entry point
//
// =============================================================================

package config

import (
	"os"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/conflux-perf/chain-latency-analyzer/pkg/loader"
	"github.com/conflux-perf/chain-latency-analyzer/pkg/storage"
)

// =============================================================================
// TOML Configuration Structures
// =============================================================================

// Config represents the complete TOML configuration file structure.
type Config struct {
	Loader     LoaderConfig     `toml:"loader"`
	Storage    StorageConfig    `toml:"storage"`
	Thresholds ThresholdsConfig `toml:"thresholds"`
}

// LoaderConfig tunes the log directory loading phase.
type LoaderConfig struct {
	// MaxWorkers bounds the number of hosts mapped/reduced concurrently.
	// Each worker holds one host's entities in memory while it runs, so
	// total loading RAM scales with this value.
	//
	// Default: 8
	MaxWorkers int `toml:"max_workers"`

	// RawLogName is the file name of raw node logs inside each host
	// directory. Archived variants (.gz/.zst) are recognized too.
	//
	// Default: "conflux.log"
	RawLogName string `toml:"raw_log_name"`

	// DumpFileName is the file name of serialized per-host reducer dumps.
	// A directory holding one is loaded directly, skipping the map phase.
	//
	// Default: "blocks.log"
	DumpFileName string `toml:"dump_file_name"`

	// RAMWarningThresholdGB triggers a one-shot warning when process RSS
	// exceeds it during loading.
	//
	// Default: 16
	RAMWarningThresholdGB float64 `toml:"ram_warning_threshold_gb"`
}

// StorageConfig tunes the durable entity store used in store-backed runs.
type StorageConfig struct {
	// Path is the RocksDB directory. Created on first open.
	Path string `toml:"path"`

	// BatchSize is the number of queued writes applied per write batch.
	//
	// Default: 100
	BatchSize int `toml:"batch_size"`

	// CommitThreshold is the number of applied writes between WAL flushes.
	//
	// Default: 10000
	CommitThreshold int `toml:"commit_threshold"`

	// SyncWAL fsyncs the WAL on every commit. Durable but slow; analysis
	// data is reproducible from the logs, so this defaults off.
	//
	// Default: false
	SyncWAL bool `toml:"sync_wal"`

	// BlockCacheMB sizes the RocksDB block cache.
	//
	// Default: 256
	BlockCacheMB int `toml:"block_cache_mb"`

	// WriteBufferMB sizes each RocksDB MemTable.
	//
	// Default: 64
	WriteBufferMB int `toml:"write_buffer_mb"`
}

// ThresholdsConfig tunes aggregation cut-offs.
type ThresholdsConfig struct {
	// PivotCompleteness is the fraction of nodes that must report a
	// pivot-only or custom latency key on a block before the key counts.
	//
	// Default: 0.9
	PivotCompleteness float64 `toml:"pivot_completeness"`
}

// =============================================================================
// Defaults, Loading, Validation
// =============================================================================

// DefaultConfig returns the configuration used when no TOML file is given.
func DefaultConfig() *Config {
	return &Config{
		Loader: LoaderConfig{
			MaxWorkers:            loader.DefaultMaxWorkers,
			RawLogName:            "conflux.log",
			DumpFileName:          "blocks.log",
			RAMWarningThresholdGB: 16,
		},
		Storage: StorageConfig{
			Path:            "",
			BatchSize:       100,
			CommitThreshold: 10000,
			SyncWAL:         false,
			BlockCacheMB:    256,
			WriteBufferMB:   64,
		},
		Thresholds: ThresholdsConfig{
			PivotCompleteness: 0.9,
		},
	}
}

// LoadConfig reads a TOML file over the defaults. Absent keys keep their
// default values.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", path)
	}
	if _, err := toml.Decode(string(data), config); err != nil {
		return nil, errors.Wrapf(err, "failed to parse config file %s", path)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the configuration for out-of-range values.
func (c *Config) Validate() error {
	if c.Loader.MaxWorkers <= 0 {
		return errors.Errorf("loader.max_workers must be positive, got %d", c.Loader.MaxWorkers)
	}
	if c.Loader.RawLogName == "" {
		return errors.New("loader.raw_log_name must not be empty")
	}
	if c.Loader.DumpFileName == "" {
		return errors.New("loader.dump_file_name must not be empty")
	}
	if c.Storage.BatchSize <= 0 {
		return errors.Errorf("storage.batch_size must be positive, got %d", c.Storage.BatchSize)
	}
	if c.Storage.CommitThreshold <= 0 {
		return errors.Errorf("storage.commit_threshold must be positive, got %d", c.Storage.CommitThreshold)
	}
	if c.Thresholds.PivotCompleteness < 0 || c.Thresholds.PivotCompleteness > 1 {
		return errors.Errorf("thresholds.pivot_completeness must be in [0, 1], got %v", c.Thresholds.PivotCompleteness)
	}
	return nil
}

// StorageSettings converts the storage section into store open settings for
// the given path (the config path is used when override is empty).
func (c *Config) StorageSettings(override string) storage.Settings {
	path := override
	if path == "" {
		path = c.Storage.Path
	}
	settings := storage.DefaultSettings(path)
	settings.BatchSize = c.Storage.BatchSize
	settings.CommitThreshold = c.Storage.CommitThreshold
	settings.SyncWAL = c.Storage.SyncWAL
	settings.BlockCacheMB = c.Storage.BlockCacheMB
	settings.WriteBufferMB = c.Storage.WriteBufferMB
	return settings
}
