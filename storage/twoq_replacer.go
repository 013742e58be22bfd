package storage

import (
	"container/list"
	"sync"
)

// TwoQReplacer implements the 2Q replacement algorithm.
// It keeps resident pages in two queues:
// - A1: pages referenced once since they were loaded (FIFO, probationary)
// - Am: pages referenced again (LRU, protected)
// plus a ghost list A1out of pages recently evicted from A1. A page loaded
// again while it still has a ghost entry goes straight to Am.
//
// Only pages marked evictable through Unpin are victim candidates. A1 is
// drained before Am is touched.
type TwoQReplacer struct {
	mu sync.Mutex

	a1    *list.List // front = newest
	am    *list.List // front = most recently used
	a1out *list.List // ghost ids, front = newest

	entries  map[PageID]*list.Element
	ghostMap map[PageID]*list.Element

	a1outMaxSize int
	evictable    int
	capacity     int
}

// twoQEntry is a resident page tracked by the replacer
type twoQEntry struct {
	pageID    PageID
	inAm      bool
	evictable bool
}

// NewTwoQReplacer creates a new 2Q replacer for a pool of the given size.
// The ghost list holds up to half the capacity (from the 2Q paper).
func NewTwoQReplacer(capacity int) *TwoQReplacer {
	if capacity < 4 {
		capacity = 4 // Minimum size
	}

	return &TwoQReplacer{
		a1:           list.New(),
		am:           list.New(),
		a1out:        list.New(),
		entries:      make(map[PageID]*list.Element),
		ghostMap:     make(map[PageID]*list.Element),
		a1outMaxSize: capacity / 2,
		capacity:     capacity,
	}
}

// Pin records a reference and takes the page out of the evictable set.
// A second reference promotes a page from A1 to Am.
func (r *TwoQReplacer) Pin(pageID PageID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	elem, exists := r.entries[pageID]
	if !exists {
		return
	}

	entry := elem.Value.(*twoQEntry)
	if entry.evictable {
		entry.evictable = false
		r.evictable--
	}

	if entry.inAm {
		r.am.MoveToFront(elem)
		return
	}

	// Second reference: promote to Am
	r.a1.Remove(elem)
	entry.inAm = true
	r.entries[pageID] = r.am.PushFront(entry)
}

// Unpin makes the page evictable. A page the replacer has not seen yet
// enters A1, or Am if it has a ghost entry.
func (r *TwoQReplacer) Unpin(pageID PageID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if elem, exists := r.entries[pageID]; exists {
		entry := elem.Value.(*twoQEntry)
		if !entry.evictable {
			entry.evictable = true
			r.evictable++
		}
		return
	}

	entry := &twoQEntry{pageID: pageID, evictable: true}
	if ghost, wasGhost := r.ghostMap[pageID]; wasGhost {
		// Came back soon after eviction
		r.a1out.Remove(ghost)
		delete(r.ghostMap, pageID)
		entry.inAm = true
		r.entries[pageID] = r.am.PushFront(entry)
	} else {
		r.entries[pageID] = r.a1.PushFront(entry)
	}
	r.evictable++
}

// Victim evicts the oldest evictable page of A1, else the least recently
// used evictable page of Am
func (r *TwoQReplacer) Victim() (PageID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.evictable == 0 {
		return InvalidPageID, false
	}

	if elem := oldestEvictable(r.a1); elem != nil {
		entry := elem.Value.(*twoQEntry)
		r.a1.Remove(elem)
		delete(r.entries, entry.pageID)
		r.evictable--
		r.addToA1out(entry.pageID)
		return entry.pageID, true
	}

	if elem := oldestEvictable(r.am); elem != nil {
		entry := elem.Value.(*twoQEntry)
		r.am.Remove(elem)
		delete(r.entries, entry.pageID)
		r.evictable--
		return entry.pageID, true
	}

	return InvalidPageID, false
}

// oldestEvictable walks a queue from its back
func oldestEvictable(queue *list.List) *list.Element {
	for elem := queue.Back(); elem != nil; elem = elem.Prev() {
		if elem.Value.(*twoQEntry).evictable {
			return elem
		}
	}
	return nil
}

// addToA1out adds a page to the ghost list, dropping the oldest ghost when full
func (r *TwoQReplacer) addToA1out(pageID PageID) {
	if r.a1outMaxSize == 0 {
		return
	}
	if r.a1out.Len() >= r.a1outMaxSize {
		elem := r.a1out.Back()
		r.a1out.Remove(elem)
		delete(r.ghostMap, elem.Value.(PageID))
	}
	r.ghostMap[pageID] = r.a1out.PushFront(pageID)
}

// Remove explicitly removes a page from all queues, ghost list included
func (r *TwoQReplacer) Remove(pageID PageID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if elem, exists := r.entries[pageID]; exists {
		entry := elem.Value.(*twoQEntry)
		if entry.inAm {
			r.am.Remove(elem)
		} else {
			r.a1.Remove(elem)
		}
		if entry.evictable {
			r.evictable--
		}
		delete(r.entries, pageID)
	}

	if elem, exists := r.ghostMap[pageID]; exists {
		r.a1out.Remove(elem)
		delete(r.ghostMap, pageID)
	}
}

// Size returns the number of evictable pages
func (r *TwoQReplacer) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.evictable
}

// GetStats returns statistics about the 2Q queues
func (r *TwoQReplacer) GetStats() TwoQStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	return TwoQStats{
		A1Size:       r.a1.Len(),
		AmSize:       r.am.Len(),
		A1outSize:    r.a1out.Len(),
		A1outMaxSize: r.a1outMaxSize,
		Evictable:    r.evictable,
		Capacity:     r.capacity,
	}
}

// TwoQStats contains statistics about the 2Q replacer state
type TwoQStats struct {
	A1Size       int // Pages in A1 (probationary)
	AmSize       int // Pages in Am (protected)
	A1outSize    int // Current ghost entries
	A1outMaxSize int // Max ghost entries
	Evictable    int
	Capacity     int
}
