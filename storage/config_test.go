package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, uint32(128), cfg.BufferPoolSize)
	assert.Equal(t, ReplacerLRU, cfg.Replacer)
	assert.Equal(t, StorageFile, cfg.Storage)
	assert.Equal(t, "none", cfg.Compression)
	assert.Equal(t, time.Duration(0), cfg.FlushInterval)
	assert.True(t, cfg.EnableMetrics)
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"zero pool", func(c *Config) { c.BufferPoolSize = 0 }, true},
		{"unknown replacer", func(c *Config) { c.Replacer = "arc" }, true},
		{"replacer case", func(c *Config) { c.Replacer = "2Q" }, false},
		{"unknown storage", func(c *Config) { c.Storage = "s3" }, true},
		{"file without path", func(c *Config) { c.DataFile = "" }, true},
		{"memory without path", func(c *Config) { c.Storage = StorageMemory; c.DataFile = "" }, false},
		{"bad compression", func(c *Config) { c.Compression = "zstd" }, true},
		{"compressed file", func(c *Config) { c.Compression = "lz4" }, false},
		{"compressed mmap", func(c *Config) { c.Storage = StorageMmap; c.Compression = "snappy" }, true},
		{"negative interval", func(c *Config) { c.FlushInterval = -time.Second }, true},
		{"negative rate", func(c *Config) { c.FlushRatePerSec = -1 }, true},
		{"flusher ratio", func(c *Config) { c.FlushInterval = time.Second; c.TargetDirtyRatio = 1.5 }, true},
		{"ratio ignored without flusher", func(c *Config) { c.TargetDirtyRatio = 1.5 }, false},
		{"bad log level", func(c *Config) { c.LogLevel = "trace" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			if tt.wantErr {
				assert.Error(t, cfg.Validate())
			} else {
				assert.NoError(t, cfg.Validate())
			}
		})
	}
}

func TestLoadConfigFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hexpool.yaml")
	yamlDoc := `
buffer_pool_size: 64
replacer: clock
storage: memory
flush_interval: 250ms
target_dirty_ratio: 0.5
log_level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0644))

	cfg, err := LoadConfigFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, uint32(64), cfg.BufferPoolSize)
	assert.Equal(t, ReplacerClock, cfg.Replacer)
	assert.Equal(t, StorageMemory, cfg.Storage)
	assert.Equal(t, 250*time.Millisecond, cfg.FlushInterval)
	assert.Equal(t, 0.5, cfg.TargetDirtyRatio)
	assert.Equal(t, "debug", cfg.LogLevel)
	// Missing keys keep their defaults
	assert.True(t, cfg.EnableMetrics)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoadConfigFromJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hexpool.json")
	jsonDoc := `{"buffer_pool_size": 16, "replacer": "lfu", "compression": "snappy"}`
	require.NoError(t, os.WriteFile(path, []byte(jsonDoc), 0644))

	cfg, err := LoadConfigFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(16), cfg.BufferPoolSize)
	assert.Equal(t, ReplacerLFU, cfg.Replacer)
	assert.Equal(t, "snappy", cfg.Compression)
}

func TestLoadConfigFromFileErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadConfigFromFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("buffer_pool_size: [1, 2"), 0644))
	_, err = LoadConfigFromFile(bad)
	assert.Error(t, err)

	invalid := filepath.Join(dir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("buffer_pool_size: 0"), 0644))
	_, err = LoadConfigFromFile(invalid)
	assert.ErrorContains(t, err, "invalid configuration")
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("HEXPOOL_BUFFER_POOL_SIZE", "256")
	t.Setenv("HEXPOOL_REPLACER", "2q")
	t.Setenv("HEXPOOL_ENABLE_PREFETCHING", "true")
	t.Setenv("HEXPOOL_STORAGE", "mmap")
	t.Setenv("HEXPOOL_DATA_FILE", "/tmp/pool.db")
	t.Setenv("HEXPOOL_FLUSH_INTERVAL", "1s")
	t.Setenv("HEXPOOL_FLUSH_RATE_PER_SEC", "500")
	t.Setenv("HEXPOOL_TARGET_DIRTY_RATIO", "0.4")
	t.Setenv("HEXPOOL_ENABLE_METRICS", "0")
	t.Setenv("HEXPOOL_POOL_NAME", "orders")
	t.Setenv("HEXPOOL_LOG_LEVEL", "warn")

	cfg := LoadConfigFromEnv()

	assert.Equal(t, uint32(256), cfg.BufferPoolSize)
	assert.Equal(t, Replacer2Q, cfg.Replacer)
	assert.True(t, cfg.EnablePrefetching)
	assert.Equal(t, StorageMmap, cfg.Storage)
	assert.Equal(t, "/tmp/pool.db", cfg.DataFile)
	assert.Equal(t, time.Second, cfg.FlushInterval)
	assert.Equal(t, 500.0, cfg.FlushRatePerSec)
	assert.Equal(t, 0.4, cfg.TargetDirtyRatio)
	assert.False(t, cfg.EnableMetrics)
	assert.Equal(t, "orders", cfg.PoolName)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigFromEnvIgnoresGarbage(t *testing.T) {
	t.Setenv("HEXPOOL_BUFFER_POOL_SIZE", "lots")
	t.Setenv("HEXPOOL_FLUSH_INTERVAL", "soon")

	cfg := LoadConfigFromEnv()
	assert.Equal(t, DefaultConfig().BufferPoolSize, cfg.BufferPoolSize)
	assert.Equal(t, DefaultConfig().FlushInterval, cfg.FlushInterval)
}

func TestConfigSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saved.yaml")

	cfg := DefaultConfig()
	cfg.BufferPoolSize = 32
	cfg.Replacer = ReplacerLFU
	cfg.FlushInterval = 2 * time.Second
	require.NoError(t, cfg.SaveToFile(path))

	loaded, err := LoadConfigFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestConfigClone(t *testing.T) {
	cfg := DefaultConfig()
	clone := cfg.Clone()
	clone.BufferPoolSize = 1

	assert.Equal(t, uint32(128), cfg.BufferPoolSize)
	assert.Equal(t, LoggerConfig{Level: "info", Format: "json", OutputFile: "stderr"}, cfg.LoggerConfig())
}
