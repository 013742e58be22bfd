package storage

import "sync"

// ClockReplacer implements the Clock (second chance) replacement policy.
// Pages sit in a fixed ring of slots. Unpin sets a page's reference bit and
// the clock hand clears bits as it sweeps, evicting the first evictable page
// it finds with the bit already clear.
type ClockReplacer struct {
	slots     []clockSlot
	slotOf    map[PageID]int
	freeSlots []int
	hand      int
	evictable int
	mutex     sync.Mutex
}

// clockSlot is one position of the ring
type clockSlot struct {
	pageID    PageID
	used      bool
	refBit    bool
	evictable bool
}

// NewClockReplacer creates a new Clock replacer with one slot per frame
func NewClockReplacer(capacity int) *ClockReplacer {
	if capacity < 1 {
		capacity = 1
	}
	cr := &ClockReplacer{
		slots:     make([]clockSlot, capacity),
		slotOf:    make(map[PageID]int, capacity),
		freeSlots: make([]int, 0, capacity),
	}
	for i := capacity - 1; i >= 0; i-- {
		cr.freeSlots = append(cr.freeSlots, i)
	}
	return cr
}

// Victim sweeps the ring for a page to evict
func (cr *ClockReplacer) Victim() (PageID, bool) {
	cr.mutex.Lock()
	defer cr.mutex.Unlock()

	if cr.evictable == 0 {
		return InvalidPageID, false
	}

	// Two full turns are enough: the first clears every reference bit
	for i := 0; i < 2*len(cr.slots)+1; i++ {
		slot := &cr.slots[cr.hand]
		idx := cr.hand
		cr.hand = (cr.hand + 1) % len(cr.slots)

		if !slot.used || !slot.evictable {
			continue
		}
		if slot.refBit {
			// Second chance
			slot.refBit = false
			continue
		}

		pageID := slot.pageID
		cr.release(idx)
		return pageID, true
	}

	return InvalidPageID, false
}

// Pin records an access and takes the page out of the evictable set
func (cr *ClockReplacer) Pin(pageID PageID) {
	cr.mutex.Lock()
	defer cr.mutex.Unlock()

	idx, ok := cr.slotOf[pageID]
	if !ok {
		return
	}
	slot := &cr.slots[idx]
	if slot.evictable {
		slot.evictable = false
		cr.evictable--
	}
	slot.refBit = true
}

// Unpin makes the page evictable and sets its reference bit
func (cr *ClockReplacer) Unpin(pageID PageID) {
	cr.mutex.Lock()
	defer cr.mutex.Unlock()

	idx, ok := cr.slotOf[pageID]
	if !ok {
		if len(cr.freeSlots) == 0 {
			cr.grow()
		}
		idx = cr.freeSlots[len(cr.freeSlots)-1]
		cr.freeSlots = cr.freeSlots[:len(cr.freeSlots)-1]
		cr.slots[idx] = clockSlot{pageID: pageID, used: true}
		cr.slotOf[pageID] = idx
	}

	slot := &cr.slots[idx]
	slot.refBit = true
	if !slot.evictable {
		slot.evictable = true
		cr.evictable++
	}
}

// Remove forgets the page and frees its slot
func (cr *ClockReplacer) Remove(pageID PageID) {
	cr.mutex.Lock()
	defer cr.mutex.Unlock()

	if idx, ok := cr.slotOf[pageID]; ok {
		cr.release(idx)
	}
}

// Size returns the number of evictable pages
func (cr *ClockReplacer) Size() int {
	cr.mutex.Lock()
	defer cr.mutex.Unlock()

	return cr.evictable
}

// release frees a slot. Caller must hold the mutex.
func (cr *ClockReplacer) release(idx int) {
	slot := &cr.slots[idx]
	if slot.evictable {
		cr.evictable--
	}
	delete(cr.slotOf, slot.pageID)
	cr.slots[idx] = clockSlot{}
	cr.freeSlots = append(cr.freeSlots, idx)
}

// grow doubles the ring. Caller must hold the mutex.
func (cr *ClockReplacer) grow() {
	old := len(cr.slots)
	cr.slots = append(cr.slots, make([]clockSlot, old)...)
	for i := len(cr.slots) - 1; i >= old; i-- {
		cr.freeSlots = append(cr.freeSlots, i)
	}
}
