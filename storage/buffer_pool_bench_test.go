package storage

import (
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"
)

// setupBufferPool builds a pool over a file store in a temp dir
func setupBufferPool(b *testing.B, poolSize uint32, replacer string) *BufferPoolManager {
	b.Helper()

	dm, err := NewDiskManager(filepath.Join(b.TempDir(), "bench.db"))
	if err != nil {
		b.Fatal(err)
	}

	bpm, err := NewBufferPoolManagerWithReplacer(poolSize, dm, replacer)
	if err != nil {
		b.Fatal(err)
	}

	b.Cleanup(func() {
		bpm.Close()
		dm.Close()
	})
	return bpm
}

// preparePages writes count pages to disk and leaves them unpinned
func preparePages(b *testing.B, bpm *BufferPoolManager, count int) []PageID {
	b.Helper()

	pageIds := make([]PageID, count)
	for i := range pageIds {
		page, err := bpm.NewPage()
		if err != nil {
			b.Fatal(err)
		}
		pageIds[i] = page.GetPageId()
		bpm.UnpinPage(pageIds[i], true)
	}
	if err := bpm.FlushAll(); err != nil {
		b.Fatal(err)
	}
	return pageIds
}

func BenchmarkBufferPoolNewPage(b *testing.B) {
	bpm := setupBufferPool(b, 100, ReplacerLRU)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		page, err := bpm.NewPage()
		if err != nil {
			b.Fatal(err)
		}
		bpm.UnpinPage(page.GetPageId(), false)
	}
}

func BenchmarkBufferPoolFetchPageCacheHit(b *testing.B) {
	bpm := setupBufferPool(b, 100, ReplacerLRU)
	pageId := preparePages(b, bpm, 1)[0]

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := bpm.FetchPage(pageId); err != nil {
			b.Fatal(err)
		}
		bpm.UnpinPage(pageId, false)
	}
}

// Small pool to force evictions
func BenchmarkBufferPoolFetchPageCacheMiss(b *testing.B) {
	bpm := setupBufferPool(b, 10, ReplacerLRU)
	pageIds := preparePages(b, bpm, 100)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		pageId := pageIds[i%len(pageIds)]
		if _, err := bpm.FetchPage(pageId); err != nil {
			b.Fatal(err)
		}
		bpm.UnpinPage(pageId, false)
	}
}

func BenchmarkBufferPoolFlushAll(b *testing.B) {
	bpm := setupBufferPool(b, 100, ReplacerLRU)
	pageIds := preparePages(b, bpm, 50)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		for _, pageId := range pageIds {
			bpm.FetchPage(pageId)
			bpm.UnpinPage(pageId, true)
		}
		b.StartTimer()

		if err := bpm.FlushAll(); err != nil {
			b.Fatal(err)
		}
	}
}

// Random access over five times more pages than frames, per replacer
func BenchmarkBufferPoolRandomAccess(b *testing.B) {
	for _, alg := range []string{ReplacerLRU, ReplacerClock, ReplacerLFU, Replacer2Q} {
		b.Run(alg, func(b *testing.B) {
			bpm := setupBufferPool(b, 100, alg)
			pageIds := preparePages(b, bpm, 500)
			r := rand.New(rand.NewSource(42))

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				pageId := pageIds[r.Intn(len(pageIds))]
				if _, err := bpm.FetchPage(pageId); err != nil {
					b.Fatal(err)
				}
				bpm.UnpinPage(pageId, false)
			}
			b.ReportMetric(bpm.GetMetrics().GetCacheHitRate(), "hit-rate")
		})
	}
}

func BenchmarkBufferPoolSequentialAccess(b *testing.B) {
	for _, size := range []uint32{10, 100, 500} {
		b.Run(fmt.Sprintf("PoolSize%d", size), func(b *testing.B) {
			bpm := setupBufferPool(b, size, ReplacerLRU)
			pageIds := preparePages(b, bpm, 500)

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				pageId := pageIds[i%len(pageIds)]
				if _, err := bpm.FetchPage(pageId); err != nil {
					b.Fatal(err)
				}
				bpm.UnpinPage(pageId, false)
			}
		})
	}
}

func BenchmarkBufferPoolParallelFetch(b *testing.B) {
	bpm := setupBufferPool(b, 256, ReplacerLRU)
	pageIds := preparePages(b, bpm, 1024)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		r := rand.New(rand.NewSource(rand.Int63()))
		for pb.Next() {
			pageId := pageIds[r.Intn(len(pageIds))]
			if _, err := bpm.FetchPage(pageId); err != nil {
				b.Error(err)
				return
			}
			bpm.UnpinPage(pageId, false)
		}
	})
}
