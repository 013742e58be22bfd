package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap"
)

const metricsNamespace = "hexpool"

// Metrics tracks buffer pool performance as Prometheus collectors. Every
// series carries a "pool" label so several pools can share a registry.
type Metrics struct {
	poolName string

	cacheHits        prometheus.Counter
	cacheMisses      prometheus.Counter
	pageEvictions    prometheus.Counter
	dirtyPageFlushes prometheus.Counter
	flushErrors      prometheus.Counter
	poolExhausted    prometheus.Counter

	pageFetchLatency prometheus.Histogram // seconds
	pageFlushLatency prometheus.Histogram // seconds

	startTime time.Time
}

// NewMetrics creates unregistered collectors for a pool. An empty name is
// replaced with a random uuid.
func NewMetrics(poolName string) *Metrics {
	if poolName == "" {
		poolName = uuid.NewString()
	}
	labels := prometheus.Labels{"pool": poolName}

	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Subsystem:   "buffer_pool",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}
	histogram := func(name, help string) prometheus.Histogram {
		return prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   metricsNamespace,
			Subsystem:   "buffer_pool",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(1e-6, 4, 12), // 1us .. ~4s
		})
	}

	return &Metrics{
		poolName:         poolName,
		cacheHits:        counter("cache_hits_total", "Page fetches served from the pool."),
		cacheMisses:      counter("cache_misses_total", "Page fetches that had to read the page store."),
		pageEvictions:    counter("page_evictions_total", "Pages evicted to make room for another page."),
		dirtyPageFlushes: counter("dirty_page_flushes_total", "Dirty pages written back to the page store."),
		flushErrors:      counter("flush_errors_total", "Page writes that failed."),
		poolExhausted:    counter("pool_exhausted_total", "Requests refused because every frame was pinned."),
		pageFetchLatency: histogram("page_fetch_seconds", "Latency of FetchPage."),
		pageFlushLatency: histogram("page_flush_seconds", "Latency of a single page write back."),
		startTime:        time.Now(),
	}
}

// PoolName returns the value of the pool label
func (m *Metrics) PoolName() string {
	return m.poolName
}

// Collectors returns every collector owned by m
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.cacheHits,
		m.cacheMisses,
		m.pageEvictions,
		m.dirtyPageFlushes,
		m.flushErrors,
		m.poolExhausted,
		m.pageFetchLatency,
		m.pageFlushLatency,
	}
}

// Register registers all collectors with reg
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Buffer Pool Metrics

func (m *Metrics) RecordCacheHit() {
	m.cacheHits.Inc()
}

func (m *Metrics) RecordCacheMiss() {
	m.cacheMisses.Inc()
}

func (m *Metrics) RecordPageEviction() {
	m.pageEvictions.Inc()
}

func (m *Metrics) RecordDirtyPageFlush() {
	m.dirtyPageFlushes.Inc()
}

func (m *Metrics) RecordFlushError() {
	m.flushErrors.Inc()
}

func (m *Metrics) RecordPoolExhausted() {
	m.poolExhausted.Inc()
}

// RecordPageFetchLatency records the latency of a page fetch operation
func (m *Metrics) RecordPageFetchLatency(duration time.Duration) {
	m.pageFetchLatency.Observe(duration.Seconds())
}

// RecordPageFlushLatency records the latency of a page flush operation
func (m *Metrics) RecordPageFlushLatency(duration time.Duration) {
	m.pageFlushLatency.Observe(duration.Seconds())
}

// Getters

func (m *Metrics) GetCacheHits() uint64 {
	return counterValue(m.cacheHits)
}

func (m *Metrics) GetCacheMisses() uint64 {
	return counterValue(m.cacheMisses)
}

func (m *Metrics) GetCacheHitRate() float64 {
	hits := m.GetCacheHits()
	total := hits + m.GetCacheMisses()
	if total == 0 {
		return 0.0
	}
	return float64(hits) / float64(total)
}

func (m *Metrics) GetPageEvictions() uint64 {
	return counterValue(m.pageEvictions)
}

func (m *Metrics) GetDirtyPageFlushes() uint64 {
	return counterValue(m.dirtyPageFlushes)
}

func (m *Metrics) GetFlushErrors() uint64 {
	return counterValue(m.flushErrors)
}

func (m *Metrics) GetPoolExhausted() uint64 {
	return counterValue(m.poolExhausted)
}

func (m *Metrics) GetUptime() time.Duration {
	return time.Since(m.startTime)
}

// LatencySnapshot summarizes a latency histogram
type LatencySnapshot struct {
	Count uint64
	Sum   time.Duration
	Mean  time.Duration
}

// GetPageFetchLatency returns a summary of page fetch latencies
func (m *Metrics) GetPageFetchLatency() LatencySnapshot {
	return histogramSnapshot(m.pageFetchLatency)
}

// GetPageFlushLatency returns a summary of page flush latencies
func (m *Metrics) GetPageFlushLatency() LatencySnapshot {
	return histogramSnapshot(m.pageFlushLatency)
}

// LogMetrics logs a summary of all metrics
func (m *Metrics) LogMetrics(logger *zap.Logger) {
	fetch := m.GetPageFetchLatency()
	flush := m.GetPageFlushLatency()

	logger.Info("Buffer pool metrics",
		zap.String("pool", m.poolName),
		zap.Uint64("cache_hits", m.GetCacheHits()),
		zap.Uint64("cache_misses", m.GetCacheMisses()),
		zap.Float64("cache_hit_rate", m.GetCacheHitRate()),
		zap.Uint64("page_evictions", m.GetPageEvictions()),
		zap.Uint64("dirty_page_flushes", m.GetDirtyPageFlushes()),
		zap.Uint64("flush_errors", m.GetFlushErrors()),
		zap.Uint64("pool_exhausted", m.GetPoolExhausted()),
		zap.Uint64("fetch_count", fetch.Count),
		zap.Duration("fetch_mean", fetch.Mean),
		zap.Uint64("flush_count", flush.Count),
		zap.Duration("flush_mean", flush.Mean),
		zap.Duration("uptime", m.GetUptime()),
	)
}

func counterValue(c prometheus.Counter) uint64 {
	var out dto.Metric
	if err := c.Write(&out); err != nil {
		return 0
	}
	return uint64(out.GetCounter().GetValue())
}

func histogramSnapshot(h prometheus.Histogram) LatencySnapshot {
	var out dto.Metric
	if err := h.Write(&out); err != nil {
		return LatencySnapshot{}
	}
	hist := out.GetHistogram()
	snap := LatencySnapshot{
		Count: hist.GetSampleCount(),
		Sum:   time.Duration(hist.GetSampleSum() * float64(time.Second)),
	}
	if snap.Count > 0 {
		snap.Mean = snap.Sum / time.Duration(snap.Count)
	}
	return snap
}
