package storage

import (
	"container/heap"
	"sync"
)

// LFUReplacer implements LFU (Least Frequently Used) replacement policy.
// Every Pin counts as an access. The victim is the evictable page with the
// lowest count; ties go to the page unpinned longest ago.
type LFUReplacer struct {
	entries map[PageID]*lfuEntry
	heap    lfuHeap
	clock   uint64
	mutex   sync.Mutex
}

type lfuEntry struct {
	pageID    PageID
	frequency uint64
	stamp     uint64
	index     int // position in the heap, -1 when not evictable
}

// lfuHeap is a min-heap of evictable entries ordered by (frequency, stamp)
type lfuHeap []*lfuEntry

func (h lfuHeap) Len() int { return len(h) }

func (h lfuHeap) Less(i, j int) bool {
	if h[i].frequency != h[j].frequency {
		return h[i].frequency < h[j].frequency
	}
	return h[i].stamp < h[j].stamp
}

func (h lfuHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *lfuHeap) Push(x any) {
	entry := x.(*lfuEntry)
	entry.index = len(*h)
	*h = append(*h, entry)
}

func (h *lfuHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	entry.index = -1
	*h = old[:n-1]
	return entry
}

// NewLFUReplacer creates a new LFU replacer
func NewLFUReplacer(capacity int) *LFUReplacer {
	if capacity < 1 {
		capacity = 1
	}
	return &LFUReplacer{
		entries: make(map[PageID]*lfuEntry, capacity),
		heap:    make(lfuHeap, 0, capacity),
	}
}

// Victim removes and returns the least frequently used evictable page
func (lfu *LFUReplacer) Victim() (PageID, bool) {
	lfu.mutex.Lock()
	defer lfu.mutex.Unlock()

	if lfu.heap.Len() == 0 {
		return InvalidPageID, false
	}

	entry := heap.Pop(&lfu.heap).(*lfuEntry)
	delete(lfu.entries, entry.pageID)
	return entry.pageID, true
}

// Pin counts an access and takes the page out of the evictable set
func (lfu *LFUReplacer) Pin(pageID PageID) {
	lfu.mutex.Lock()
	defer lfu.mutex.Unlock()

	entry, ok := lfu.entries[pageID]
	if !ok {
		return
	}
	entry.frequency++
	if entry.index >= 0 {
		heap.Remove(&lfu.heap, entry.index)
	}
}

// Unpin makes the page evictable. A page seen for the first time starts
// with a frequency of one.
func (lfu *LFUReplacer) Unpin(pageID PageID) {
	lfu.mutex.Lock()
	defer lfu.mutex.Unlock()

	lfu.clock++

	entry, ok := lfu.entries[pageID]
	if !ok {
		entry = &lfuEntry{pageID: pageID, frequency: 1, index: -1}
		lfu.entries[pageID] = entry
	}
	entry.stamp = lfu.clock

	if entry.index >= 0 {
		heap.Fix(&lfu.heap, entry.index)
		return
	}
	heap.Push(&lfu.heap, entry)
}

// Remove forgets the page and its access history
func (lfu *LFUReplacer) Remove(pageID PageID) {
	lfu.mutex.Lock()
	defer lfu.mutex.Unlock()

	entry, ok := lfu.entries[pageID]
	if !ok {
		return
	}
	if entry.index >= 0 {
		heap.Remove(&lfu.heap, entry.index)
	}
	delete(lfu.entries, pageID)
}

// Frequency returns the access count recorded for a page
func (lfu *LFUReplacer) Frequency(pageID PageID) (uint64, bool) {
	lfu.mutex.Lock()
	defer lfu.mutex.Unlock()

	entry, ok := lfu.entries[pageID]
	if !ok {
		return 0, false
	}
	return entry.frequency, true
}

// Size returns the number of evictable pages
func (lfu *LFUReplacer) Size() int {
	lfu.mutex.Lock()
	defer lfu.mutex.Unlock()

	return lfu.heap.Len()
}
