package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Engine is a buffer pool wired to its store, logger, metrics and
// optional background flusher, as described by a Config
type Engine struct {
	Pool     *BufferPoolManager
	Store    PageStore
	Flusher  *AdaptiveFlusher // nil when background flushing is off
	Metrics  *Metrics
	Registry *prometheus.Registry // nil when metrics are off
	Logger   *zap.Logger

	closeLog func()
}

// Open validates cfg and builds an Engine from it. Whatever was opened is
// released again when a later step fails.
func Open(cfg *Config) (_ *Engine, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, NewStorageError(ErrCodeInvalidArgument, "Open", "invalid configuration", err)
	}

	logger, closeLog, err := NewLogger(cfg.LoggerConfig())
	if err != nil {
		return nil, NewStorageError(ErrCodeInvalidArgument, "Open", "failed to build logger", err)
	}
	defer func() {
		if err != nil {
			logger.Error("failed to open buffer pool", zap.Error(err))
			_ = logger.Sync()
			closeLog()
		}
	}()

	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			store.Close()
		}
	}()

	metrics := NewMetrics(cfg.PoolName)
	var registry *prometheus.Registry
	if cfg.EnableMetrics {
		registry = prometheus.NewRegistry()
		if err := metrics.Register(registry); err != nil {
			return nil, NewStorageError(ErrCodeInternal, "Open", "failed to register metrics", err)
		}
	}

	pool, err := NewBufferPoolManagerWithOptions(cfg.BufferPoolSize, store, BufferPoolOptions{
		Replacer:       NewReplacer(cfg.Replacer, cfg.BufferPoolSize),
		Logger:         logger.With(zap.String("pool", metrics.PoolName())),
		Metrics:        metrics,
		EnablePrefetch: cfg.EnablePrefetching,
	})
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		Pool:     pool,
		Store:    store,
		Metrics:  metrics,
		Registry: registry,
		Logger:   logger,
		closeLog: closeLog,
	}

	if cfg.FlushInterval > 0 {
		flushCfg := DefaultAdaptiveFlushConfig()
		flushCfg.CheckInterval = cfg.FlushInterval
		flushCfg.TargetDirtyRatio = cfg.TargetDirtyRatio
		flushCfg.FlushRatePerSec = cfg.FlushRatePerSec
		flushCfg.MinFlushPages = max(1, int(cfg.BufferPoolSize)/16)
		flushCfg.MaxFlushPages = max(flushCfg.MinFlushPages, int(cfg.BufferPoolSize)/2)

		engine.Flusher = NewAdaptiveFlusher(pool, flushCfg, logger)
		if err := engine.Flusher.Start(); err != nil {
			return nil, NewStorageError(ErrCodeInternal, "Open", "failed to start flusher", err)
		}
	}

	logger.Info("buffer pool opened",
		zap.String("pool", metrics.PoolName()),
		zap.Uint32("frames", cfg.BufferPoolSize),
		zap.String("replacer", cfg.Replacer),
		zap.String("storage", cfg.Storage),
		zap.String("compression", cfg.Compression),
		zap.Duration("flush_interval", cfg.FlushInterval),
	)

	return engine, nil
}

func openStore(cfg *Config) (PageStore, error) {
	if cfg.Storage == StorageMemory {
		return NewMemoryDiskManager(), nil
	}

	if dir := filepath.Dir(cfg.DataFile); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, NewStorageError(ErrCodeIO, "Open", fmt.Sprintf("failed to create directory %s", dir), err)
		}
	}

	if cfg.Storage == StorageMmap {
		return NewMmapDiskManager(cfg.DataFile)
	}

	compression, err := ParseCompressionType(cfg.Compression)
	if err != nil {
		return nil, ErrInvalidArgument("Open", err.Error())
	}
	return NewDiskManagerWithOptions(cfg.DataFile, DiskManagerOptions{Compression: compression})
}

// Close stops the flusher, flushes and closes the pool, then closes the
// store. Every failure is reported.
func (e *Engine) Close() error {
	start := time.Now()
	var errs error

	if e.Flusher != nil {
		errs = multierr.Append(errs, e.Flusher.Stop())
	}
	errs = multierr.Append(errs, e.Pool.Close())
	errs = multierr.Append(errs, e.Store.Close())

	e.Metrics.LogMetrics(e.Logger)
	e.Logger.Info("buffer pool closed", zap.Duration("elapsed", time.Since(start)), zap.Error(errs))
	// Sync fails on stdout/stderr on some systems
	_ = e.Logger.Sync()
	if e.closeLog != nil {
		e.closeLog()
	}

	return errs
}
