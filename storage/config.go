package storage

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage back-end names
const (
	StorageFile   = "file"
	StorageMmap   = "mmap"
	StorageMemory = "memory"
)

// Config holds buffer pool configuration
type Config struct {
	// Buffer Pool Configuration
	BufferPoolSize    uint32 `yaml:"buffer_pool_size" json:"buffer_pool_size"` // Number of frames
	Replacer          string `yaml:"replacer" json:"replacer"`                 // lru, clock, lfu or 2q
	EnablePrefetching bool   `yaml:"enable_prefetching" json:"enable_prefetching"`

	// Disk Configuration
	Storage     string `yaml:"storage" json:"storage"`         // file, mmap or memory
	DataFile    string `yaml:"data_file" json:"data_file"`     // Path of the page file
	Compression string `yaml:"compression" json:"compression"` // none, lz4 or snappy (file storage only)

	// Background flushing, off when FlushInterval is 0
	FlushInterval    time.Duration `yaml:"flush_interval" json:"flush_interval"`
	FlushRatePerSec  float64       `yaml:"flush_rate_per_sec" json:"flush_rate_per_sec"` // 0 for unlimited
	TargetDirtyRatio float64       `yaml:"target_dirty_ratio" json:"target_dirty_ratio"`

	// Observability
	EnableMetrics bool   `yaml:"enable_metrics" json:"enable_metrics"`
	PoolName      string `yaml:"pool_name" json:"pool_name"` // Metrics label, random when empty
	LogLevel      string `yaml:"log_level" json:"log_level"` // debug, info, warn or error
	LogFormat     string `yaml:"log_format" json:"log_format"`
	LogOutput     string `yaml:"log_output" json:"log_output"` // stdout, stderr or a file path
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		BufferPoolSize:    128,
		Replacer:          ReplacerLRU,
		EnablePrefetching: false,
		Storage:           StorageFile,
		DataFile:          "./data/hexpool.db",
		Compression:       "none",
		FlushInterval:     0,
		FlushRatePerSec:   0,
		TargetDirtyRatio:  0.60,
		EnableMetrics:     true,
		LogLevel:          "info",
		LogFormat:         "json",
		LogOutput:         "stderr",
	}
}

// LoadConfigFromFile loads configuration from a YAML file. JSON files are
// valid YAML and load too. Missing keys keep their default values.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// LoadConfigFromEnv loads configuration from HEXPOOL_* environment variables.
// Unset or unparsable variables keep their default values.
func LoadConfigFromEnv() *Config {
	config := DefaultConfig()
	config.applyEnv()
	return config
}

func (c *Config) applyEnv() {
	if val := os.Getenv("HEXPOOL_BUFFER_POOL_SIZE"); val != "" {
		if size, err := strconv.ParseUint(val, 10, 32); err == nil {
			c.BufferPoolSize = uint32(size)
		}
	}
	if val := os.Getenv("HEXPOOL_REPLACER"); val != "" {
		c.Replacer = val
	}
	if val := os.Getenv("HEXPOOL_ENABLE_PREFETCHING"); val != "" {
		c.EnablePrefetching = envBool(val)
	}

	if val := os.Getenv("HEXPOOL_STORAGE"); val != "" {
		c.Storage = val
	}
	if val := os.Getenv("HEXPOOL_DATA_FILE"); val != "" {
		c.DataFile = val
	}
	if val := os.Getenv("HEXPOOL_COMPRESSION"); val != "" {
		c.Compression = val
	}

	if val := os.Getenv("HEXPOOL_FLUSH_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.FlushInterval = d
		}
	}
	if val := os.Getenv("HEXPOOL_FLUSH_RATE_PER_SEC"); val != "" {
		if r, err := strconv.ParseFloat(val, 64); err == nil {
			c.FlushRatePerSec = r
		}
	}
	if val := os.Getenv("HEXPOOL_TARGET_DIRTY_RATIO"); val != "" {
		if r, err := strconv.ParseFloat(val, 64); err == nil {
			c.TargetDirtyRatio = r
		}
	}

	if val := os.Getenv("HEXPOOL_ENABLE_METRICS"); val != "" {
		c.EnableMetrics = envBool(val)
	}
	if val := os.Getenv("HEXPOOL_POOL_NAME"); val != "" {
		c.PoolName = val
	}
	if val := os.Getenv("HEXPOOL_LOG_LEVEL"); val != "" {
		c.LogLevel = val
	}
	if val := os.Getenv("HEXPOOL_LOG_FORMAT"); val != "" {
		c.LogFormat = val
	}
	if val := os.Getenv("HEXPOOL_LOG_OUTPUT"); val != "" {
		c.LogOutput = val
	}
}

func envBool(val string) bool {
	return val == "true" || val == "1"
}

// SaveToFile saves the configuration as YAML
func (c *Config) SaveToFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.BufferPoolSize == 0 {
		return fmt.Errorf("buffer pool size must be greater than 0")
	}

	if !IsKnownReplacer(c.Replacer) {
		return fmt.Errorf("invalid replacer: %s (must be lru, clock, lfu, or 2q)", c.Replacer)
	}

	switch c.Storage {
	case StorageFile, StorageMmap:
		if c.DataFile == "" {
			return fmt.Errorf("data file cannot be empty for %s storage", c.Storage)
		}
	case StorageMemory:
	default:
		return fmt.Errorf("invalid storage: %s (must be file, mmap, or memory)", c.Storage)
	}

	compression, err := ParseCompressionType(c.Compression)
	if err != nil {
		return err
	}
	if compression != CompressionNone && c.Storage != StorageFile {
		return fmt.Errorf("compression requires file storage, got %s", c.Storage)
	}

	if c.FlushInterval < 0 {
		return fmt.Errorf("flush interval cannot be negative")
	}
	if c.FlushRatePerSec < 0 {
		return fmt.Errorf("flush rate cannot be negative")
	}
	if c.FlushInterval > 0 && (c.TargetDirtyRatio <= 0 || c.TargetDirtyRatio >= 1) {
		return fmt.Errorf("target dirty ratio must be between 0 and 1, got %f", c.TargetDirtyRatio)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// Clone creates a copy of the configuration
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// LoggerConfig returns the logging part of the configuration
func (c *Config) LoggerConfig() LoggerConfig {
	return LoggerConfig{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		OutputFile: c.LogOutput,
	}
}
