package storage

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestMetricsStartAtZero(t *testing.T) {
	m := NewMetrics("zero")

	assert.Equal(t, "zero", m.PoolName())
	assert.Equal(t, uint64(0), m.GetCacheHits())
	assert.Equal(t, uint64(0), m.GetCacheMisses())
	assert.Equal(t, 0.0, m.GetCacheHitRate())
	assert.Equal(t, LatencySnapshot{}, m.GetPageFetchLatency())
}

func TestMetricsRandomPoolName(t *testing.T) {
	a := NewMetrics("")
	b := NewMetrics("")

	assert.NotEmpty(t, a.PoolName())
	assert.NotEqual(t, a.PoolName(), b.PoolName())
}

func TestCacheMetrics(t *testing.T) {
	m := NewMetrics("cache")

	m.RecordCacheHit()
	m.RecordCacheHit()
	m.RecordCacheMiss()

	assert.Equal(t, uint64(2), m.GetCacheHits())
	assert.Equal(t, uint64(1), m.GetCacheMisses())
	assert.InDelta(t, 2.0/3.0, m.GetCacheHitRate(), 0.001)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.cacheHits))
}

func TestEvictionAndFlushMetrics(t *testing.T) {
	m := NewMetrics("evict")

	m.RecordPageEviction()
	m.RecordDirtyPageFlush()
	m.RecordDirtyPageFlush()
	m.RecordFlushError()
	m.RecordPoolExhausted()

	assert.Equal(t, uint64(1), m.GetPageEvictions())
	assert.Equal(t, uint64(2), m.GetDirtyPageFlushes())
	assert.Equal(t, uint64(1), m.GetFlushErrors())
	assert.Equal(t, uint64(1), m.GetPoolExhausted())
}

func TestLatencyMetrics(t *testing.T) {
	m := NewMetrics("latency")

	m.RecordPageFetchLatency(10 * time.Millisecond)
	m.RecordPageFetchLatency(30 * time.Millisecond)
	m.RecordPageFlushLatency(5 * time.Millisecond)

	fetch := m.GetPageFetchLatency()
	assert.Equal(t, uint64(2), fetch.Count)
	assert.InDelta(t, float64(40*time.Millisecond), float64(fetch.Sum), float64(time.Microsecond))
	assert.InDelta(t, float64(20*time.Millisecond), float64(fetch.Mean), float64(time.Microsecond))

	assert.Equal(t, uint64(1), m.GetPageFlushLatency().Count)
}

func TestMetricsRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("registered")
	require.NoError(t, m.Register(reg))

	m.RecordCacheMiss()

	count, err := testutil.GatherAndCount(reg, "hexpool_buffer_pool_cache_misses_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Same names and labels collide
	assert.Error(t, NewMetrics("registered").Register(reg))
	// A different pool label does not
	assert.NoError(t, NewMetrics("other").Register(reg))
}

func TestPoolRecordsMetrics(t *testing.T) {
	bpm := newTestPool(t, 1, NewMemoryDiskManager())

	first := newDirtyPage(t, bpm, "x")
	second := newDirtyPage(t, bpm, "y")

	_, err := bpm.FetchPage(first)
	require.NoError(t, err)
	_, err = bpm.FetchPage(first)
	require.NoError(t, err)

	m := bpm.GetMetrics()
	assert.Equal(t, uint64(1), m.GetCacheMisses())
	assert.Equal(t, uint64(1), m.GetCacheHits())
	assert.Equal(t, uint64(2), m.GetPageEvictions(), "first, then second")
	assert.Equal(t, uint64(2), m.GetDirtyPageFlushes())
	assert.Equal(t, uint64(2), m.GetPageFetchLatency().Count)
	assert.False(t, bpm.IsPageInPool(second))
}

func TestLogMetrics(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	m := NewMetrics("logged")
	m.RecordCacheHit()

	m.LogMetrics(zap.New(core))

	entries := logs.FilterMessage("Buffer pool metrics").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "logged", fields["pool"])
	assert.Equal(t, uint64(1), fields["cache_hits"])
}
