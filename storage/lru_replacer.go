package storage

import (
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// LRUReplacer implements LRU (Least Recently Used) replacement policy.
// Each Unpin stamps the page with a strictly increasing counter and the
// victim is always the page with the smallest stamp.
type LRUReplacer struct {
	capacity int
	entries  *simplelru.LRU[PageID, uint64] // page -> unpin stamp, oldest first
	clock    uint64
	mutex    sync.Mutex
}

// NewLRUReplacer creates a new LRU replacer
func NewLRUReplacer(capacity int) *LRUReplacer {
	if capacity < 1 {
		capacity = 1
	}
	// Only fails for a non-positive size
	entries, _ := simplelru.NewLRU[PageID, uint64](capacity, nil)
	return &LRUReplacer{
		capacity: capacity,
		entries:  entries,
	}
}

// Victim selects the page unpinned longest ago
func (lru *LRUReplacer) Victim() (PageID, bool) {
	lru.mutex.Lock()
	defer lru.mutex.Unlock()

	pageID, _, ok := lru.entries.RemoveOldest()
	if !ok {
		return InvalidPageID, false
	}
	return pageID, true
}

// Pin removes a page from the evictable set
func (lru *LRUReplacer) Pin(pageID PageID) {
	lru.mutex.Lock()
	defer lru.mutex.Unlock()

	lru.entries.Remove(pageID)
}

// Unpin stamps the page and makes it evictable. Unpinning an evictable
// page restamps it.
func (lru *LRUReplacer) Unpin(pageID PageID) {
	lru.mutex.Lock()
	defer lru.mutex.Unlock()

	// simplelru drops its oldest entry when full; grow instead
	if !lru.entries.Contains(pageID) && lru.entries.Len() >= lru.capacity {
		lru.capacity *= 2
		lru.entries.Resize(lru.capacity)
	}

	lru.clock++
	lru.entries.Add(pageID, lru.clock)
}

// Remove forgets the page
func (lru *LRUReplacer) Remove(pageID PageID) {
	lru.Pin(pageID)
}

// Stamp returns the unpin stamp of an evictable page
func (lru *LRUReplacer) Stamp(pageID PageID) (uint64, bool) {
	lru.mutex.Lock()
	defer lru.mutex.Unlock()

	return lru.entries.Peek(pageID)
}

// Size returns the number of evictable pages
func (lru *LRUReplacer) Size() int {
	lru.mutex.Lock()
	defer lru.mutex.Unlock()

	return lru.entries.Len()
}
