package storage

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// FlushableBufferPool is what the adaptive flusher needs from a pool
type FlushableBufferPool interface {
	GetDirtyPageCount() int
	GetCapacity() int
	DirtyPages(maxPages int) []PageID
	FlushPage(pageID PageID) (bool, error)
}

// AdaptiveFlusher writes dirty pages back in the background so eviction
// rarely has to. Every CheckInterval it compares the dirty ratio with the
// target and lets a PID controller size the next batch. Page writes are
// throttled by a token bucket.
type AdaptiveFlusher struct {
	bufferPool FlushableBufferPool
	logger     *zap.Logger
	limiter    *rate.Limiter

	config AdaptiveFlushConfig

	running       atomic.Bool
	flushesIssued atomic.Uint64
	pagesFlushed  atomic.Uint64
	flushErrors   atomic.Uint64

	// PID controller state
	mu            sync.Mutex
	integral      float64
	lastError     float64
	lastFlushRate float64

	stats AdaptiveFlushStats

	ctx    context.Context
	cancel context.CancelFunc
	doneCh chan struct{}
}

// AdaptiveFlushConfig contains configuration for adaptive flushing
type AdaptiveFlushConfig struct {
	// Target dirty page ratio (0.0 - 1.0)
	TargetDirtyRatio float64

	// Dirty ratio at which every batch is MaxFlushPages
	MaxDirtyRatio float64

	CheckInterval time.Duration

	MinFlushPages int
	MaxFlushPages int

	// Page writes per second, 0 for no limit
	FlushRatePerSec float64

	// PID controller gains
	Kp float64
	Ki float64
	Kd float64
}

// AdaptiveFlushStats contains statistics about adaptive flushing
type AdaptiveFlushStats struct {
	FlushesIssued  uint64
	PagesFlushed   uint64
	FlushErrors    uint64
	CurrentRate    float64 // Pages per batch
	DirtyRatio     float64
	AvgFlushTime   time.Duration
	LastAdjustment time.Time
}

// DefaultAdaptiveFlushConfig returns default configuration
func DefaultAdaptiveFlushConfig() AdaptiveFlushConfig {
	return AdaptiveFlushConfig{
		TargetDirtyRatio: 0.60,
		MaxDirtyRatio:    0.80,
		CheckInterval:    100 * time.Millisecond,
		MinFlushPages:    10,
		MaxFlushPages:    100,
		FlushRatePerSec:  0,
		Kp:               2.0,
		Ki:               0.5,
		Kd:               0.1,
	}
}

// NewAdaptiveFlusher creates a new adaptive flusher. Out of range settings
// are replaced with defaults.
func NewAdaptiveFlusher(bp FlushableBufferPool, config AdaptiveFlushConfig, logger *zap.Logger) *AdaptiveFlusher {
	defaults := DefaultAdaptiveFlushConfig()
	if config.TargetDirtyRatio <= 0 || config.TargetDirtyRatio >= 1 {
		config.TargetDirtyRatio = defaults.TargetDirtyRatio
	}
	if config.MaxDirtyRatio <= config.TargetDirtyRatio || config.MaxDirtyRatio >= 1 {
		config.MaxDirtyRatio = max(defaults.MaxDirtyRatio, (config.TargetDirtyRatio+1)/2)
	}
	if config.CheckInterval < 10*time.Millisecond {
		config.CheckInterval = defaults.CheckInterval
	}
	if config.MinFlushPages <= 0 {
		config.MinFlushPages = 1
	}
	if config.MaxFlushPages < config.MinFlushPages {
		config.MaxFlushPages = config.MinFlushPages
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	limit := rate.Inf
	burst := config.MaxFlushPages
	if config.FlushRatePerSec > 0 {
		limit = rate.Limit(config.FlushRatePerSec)
		burst = max(1, int(config.FlushRatePerSec))
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &AdaptiveFlusher{
		bufferPool:    bp,
		logger:        logger,
		limiter:       rate.NewLimiter(limit, burst),
		config:        config,
		lastFlushRate: float64(config.MinFlushPages),
		ctx:           ctx,
		cancel:        cancel,
		doneCh:        make(chan struct{}),
	}
}

// Start starts the background goroutine. A stopped flusher can not be restarted.
func (af *AdaptiveFlusher) Start() error {
	if af.ctx.Err() != nil {
		return fmt.Errorf("adaptive flusher already stopped")
	}
	if !af.running.CompareAndSwap(false, true) {
		return fmt.Errorf("adaptive flusher already running")
	}

	go af.flushLoop()
	return nil
}

// Stop stops the background goroutine and waits for it to exit
func (af *AdaptiveFlusher) Stop() error {
	af.cancel()
	if !af.running.Load() {
		return nil
	}

	<-af.doneCh
	af.running.Store(false)
	return nil
}

func (af *AdaptiveFlusher) flushLoop() {
	defer close(af.doneCh)

	ticker := time.NewTicker(af.GetConfig().CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-af.ctx.Done():
			return
		case <-ticker.C:
			af.performAdaptiveFlush()
		}
	}
}

// performAdaptiveFlush performs one iteration of adaptive flushing
func (af *AdaptiveFlusher) performAdaptiveFlush() {
	totalPages := af.bufferPool.GetCapacity()
	if totalPages == 0 {
		return
	}

	dirtyRatio := float64(af.bufferPool.GetDirtyPageCount()) / float64(totalPages)

	flushPages := af.calculateFlushRate(dirtyRatio)
	if flushPages == 0 {
		return
	}

	start := time.Now()
	flushed := af.flushDirtyPages(flushPages)
	elapsed := time.Since(start)

	af.flushesIssued.Add(1)

	af.mu.Lock()
	af.stats.CurrentRate = af.lastFlushRate
	af.stats.DirtyRatio = dirtyRatio
	af.stats.LastAdjustment = time.Now()
	if af.stats.AvgFlushTime == 0 {
		af.stats.AvgFlushTime = elapsed
	} else {
		af.stats.AvgFlushTime = time.Duration(0.9*float64(af.stats.AvgFlushTime) + 0.1*float64(elapsed))
	}
	af.mu.Unlock()

	af.logger.Debug("adaptive flush",
		zap.Float64("dirty_ratio", dirtyRatio),
		zap.Int("requested", flushPages),
		zap.Int("flushed", flushed),
		zap.Duration("elapsed", elapsed),
	)
}

// calculateFlushRate returns how many pages to flush this round. Nothing is
// flushed below the target ratio.
func (af *AdaptiveFlusher) calculateFlushRate(dirtyRatio float64) int {
	af.mu.Lock()
	defer af.mu.Unlock()

	cfg := af.config
	errTerm := dirtyRatio - cfg.TargetDirtyRatio

	// Integral with anti-windup
	af.integral = min(max(af.integral+errTerm, -10.0), 10.0)
	derivative := errTerm - af.lastError
	af.lastError = errTerm

	pidOutput := cfg.Kp*errTerm + cfg.Ki*af.integral + cfg.Kd*derivative

	minPages := float64(cfg.MinFlushPages)
	maxPages := float64(cfg.MaxFlushPages)
	flushRate := min(max(minPages+pidOutput*(maxPages-minPages), minPages), maxPages)

	if dirtyRatio >= cfg.MaxDirtyRatio {
		flushRate = maxPages
	}
	if dirtyRatio < cfg.TargetDirtyRatio {
		flushRate = 0
	}

	af.lastFlushRate = flushRate
	return int(flushRate)
}

// flushDirtyPages flushes up to maxPages dirty pages, waiting on the rate
// limiter before each write
func (af *AdaptiveFlusher) flushDirtyPages(maxPages int) int {
	flushed := 0

	for _, pageID := range af.bufferPool.DirtyPages(maxPages) {
		if err := af.limiter.Wait(af.ctx); err != nil {
			break // stopped
		}

		ok, err := af.bufferPool.FlushPage(pageID)
		if err != nil {
			af.flushErrors.Add(1)
			af.logger.Warn("background flush failed", zap.Uint32("page_id", uint32(pageID)), zap.Error(err))
			continue
		}
		if ok {
			flushed++
		}
	}

	af.pagesFlushed.Add(uint64(flushed))
	return flushed
}

// GetStats returns current statistics
func (af *AdaptiveFlusher) GetStats() AdaptiveFlushStats {
	af.mu.Lock()
	defer af.mu.Unlock()

	stats := af.stats
	stats.FlushesIssued = af.flushesIssued.Load()
	stats.PagesFlushed = af.pagesFlushed.Load()
	stats.FlushErrors = af.flushErrors.Load()
	return stats
}

// SetTargetDirtyRatio dynamically adjusts the target dirty ratio
func (af *AdaptiveFlusher) SetTargetDirtyRatio(ratio float64) error {
	if ratio <= 0 || ratio >= 1 {
		return fmt.Errorf("invalid dirty ratio: %f (must be between 0 and 1)", ratio)
	}

	af.mu.Lock()
	defer af.mu.Unlock()

	if ratio >= af.config.MaxDirtyRatio {
		return fmt.Errorf("target ratio %f must be less than max ratio %f", ratio, af.config.MaxDirtyRatio)
	}

	af.config.TargetDirtyRatio = ratio
	return nil
}

// SetMaxDirtyRatio dynamically adjusts the maximum dirty ratio
func (af *AdaptiveFlusher) SetMaxDirtyRatio(ratio float64) error {
	if ratio <= 0 || ratio >= 1 {
		return fmt.Errorf("invalid max dirty ratio: %f (must be between 0 and 1)", ratio)
	}

	af.mu.Lock()
	defer af.mu.Unlock()

	if ratio <= af.config.TargetDirtyRatio {
		return fmt.Errorf("max ratio %f must be greater than target ratio %f", ratio, af.config.TargetDirtyRatio)
	}

	af.config.MaxDirtyRatio = ratio
	return nil
}

// TriggerFlush runs one flush batch immediately and returns the number of
// pages written
func (af *AdaptiveFlusher) TriggerFlush(maxPages int) int {
	if maxPages <= 0 {
		maxPages = af.GetConfig().MaxFlushPages
	}
	return af.flushDirtyPages(maxPages)
}

// IsRunning returns whether the flusher is currently running
func (af *AdaptiveFlusher) IsRunning() bool {
	return af.running.Load()
}

// GetConfig returns the current configuration
func (af *AdaptiveFlusher) GetConfig() AdaptiveFlushConfig {
	af.mu.Lock()
	defer af.mu.Unlock()
	return af.config
}
