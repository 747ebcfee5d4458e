package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "analyzer.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 8, cfg.Loader.MaxWorkers)
	assert.Equal(t, "conflux.log", cfg.Loader.RawLogName)
	assert.Equal(t, "blocks.log", cfg.Loader.DumpFileName)
	assert.Equal(t, 0.9, cfg.Thresholds.PivotCompleteness)
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
[loader]
max_workers = 2

[storage]
path = "/tmp/analyzer-db"
batch_size = 50
sync_wal = true

[thresholds]
pivot_completeness = 0.8
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Loader.MaxWorkers)
	// absent keys keep defaults
	assert.Equal(t, "conflux.log", cfg.Loader.RawLogName)
	assert.Equal(t, 10000, cfg.Storage.CommitThreshold)

	assert.Equal(t, "/tmp/analyzer-db", cfg.Storage.Path)
	assert.Equal(t, 50, cfg.Storage.BatchSize)
	assert.True(t, cfg.Storage.SyncWAL)
	assert.Equal(t, 0.8, cfg.Thresholds.PivotCompleteness)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	path := writeConfig(t, `
[loader]
max_workers = 0
`)
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_workers")

	path = writeConfig(t, `
[thresholds]
pivot_completeness = 1.5
`)
	_, err = LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pivot_completeness")
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestStorageSettings(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.Path = "/tmp/from-config"
	cfg.Storage.BatchSize = 7

	settings := cfg.StorageSettings("")
	assert.Equal(t, "/tmp/from-config", settings.Path)
	assert.Equal(t, 7, settings.BatchSize)

	settings = cfg.StorageSettings("/tmp/override")
	assert.Equal(t, "/tmp/override", settings.Path)
}
