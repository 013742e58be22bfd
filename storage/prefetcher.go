package storage

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// strideState tracks the stride between consecutive fetch misses
type strideState struct {
	lastPageID   PageID
	stride       int64 // Distance between consecutive misses
	matchCount   int   // Consecutive misses with this stride
	lastMissTime time.Time
}

// Prefetcher detects strided fetch misses and loads the pages that follow
// in the background. Prefetched pages are fetched and unpinned at once, so
// they are resident and evictable when the caller gets to them.
type Prefetcher struct {
	bpm *BufferPoolManager

	mu    sync.Mutex
	state strideState

	// Configuration
	detectionThreshold int           // Equal strides needed before prefetching
	prefetchDistance   int           // Number of pages to load ahead
	idleReset          time.Duration // A gap longer than this starts a new pattern

	wg      sync.WaitGroup
	stopped bool

	stats PrefetchStats
}

// PrefetchStats tracks prefetching effectiveness
type PrefetchStats struct {
	PatternsDetected uint64
	PagesPrefetched  uint64
	PagesSkipped     uint64 // Already resident or never allocated
	PrefetchErrors   uint64
}

// NewPrefetcher creates a new prefetcher for the given buffer pool
func NewPrefetcher(bpm *BufferPoolManager) *Prefetcher {
	return &Prefetcher{
		bpm:                bpm,
		detectionThreshold: 3, // Trigger after 3 equal strides
		prefetchDistance:   8, // Prefetch 8 pages ahead
		idleReset:          time.Second,
	}
}

// Configure sets prefetcher parameters. Non-positive values are ignored.
func (p *Prefetcher) Configure(detectionThreshold, prefetchDistance int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if detectionThreshold > 0 {
		p.detectionThreshold = detectionThreshold
	}
	if prefetchDistance > 0 {
		p.prefetchDistance = prefetchDistance
	}
}

// RecordMiss records a fetch miss and starts a prefetch once the same
// stride has been seen detectionThreshold times in a row
func (p *Prefetcher) RecordMiss(pageID PageID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return
	}

	now := time.Now()
	s := &p.state

	if s.lastPageID == InvalidPageID || now.Sub(s.lastMissTime) > p.idleReset {
		*s = strideState{lastPageID: pageID, lastMissTime: now}
		return
	}

	stride := int64(pageID) - int64(s.lastPageID)
	switch {
	case stride == 0:
		// Same page again; not a pattern
	case stride == s.stride:
		s.matchCount++
	default:
		s.stride = stride
		s.matchCount = 1
	}
	s.lastPageID = pageID
	s.lastMissTime = now

	if s.stride != 0 && s.matchCount >= p.detectionThreshold {
		p.stats.PatternsDetected++
		p.wg.Add(1)
		go p.doPrefetch(pageID, s.stride, p.prefetchDistance)
		// Start counting again so one run does not trigger on every miss
		s.matchCount = 0
	}
}

// doPrefetch loads count pages after start, stopping at the first error
func (p *Prefetcher) doPrefetch(start PageID, stride int64, count int) {
	defer p.wg.Done()

	var limit PageID
	if alloc, ok := p.bpm.store.(pageAllocator); ok {
		limit = alloc.NextPageID()
	}

	for i := 1; i <= count; i++ {
		next := int64(start) + int64(i)*stride
		if next <= 0 || next > int64(^uint32(0)) {
			return
		}
		pageID := PageID(next)

		if (limit != InvalidPageID && pageID >= limit) || p.bpm.IsPageInPool(pageID) {
			p.mu.Lock()
			p.stats.PagesSkipped++
			p.mu.Unlock()
			continue
		}

		if _, _, err := p.bpm.fetchPage(pageID); err != nil {
			p.mu.Lock()
			p.stats.PrefetchErrors++
			p.mu.Unlock()
			p.bpm.logger.Debug("prefetch stopped", zap.Uint32("page_id", uint32(pageID)), zap.Error(err))
			return
		}
		p.bpm.UnpinPage(pageID, false)

		p.mu.Lock()
		p.stats.PagesPrefetched++
		p.mu.Unlock()
	}
}

// Stop prevents new prefetches and waits for running ones
func (p *Prefetcher) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()

	p.wg.Wait()
}

// GetStats returns current prefetching statistics
func (p *Prefetcher) GetStats() PrefetchStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.stats
}

// ResetStats resets prefetching statistics
func (p *Prefetcher) ResetStats() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats = PrefetchStats{}
}
