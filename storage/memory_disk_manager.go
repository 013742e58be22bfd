package storage

import (
	"fmt"
	"sync"
)

// MemoryDiskManager keeps pages in process memory. Useful for tests and
// pools whose contents do not need to outlive the process.
type MemoryDiskManager struct {
	pages      map[PageID][]byte
	nextPageId PageID
	closed     bool
	mutex      sync.RWMutex
}

// NewMemoryDiskManager creates an empty in-memory page store
func NewMemoryDiskManager() *MemoryDiskManager {
	return &MemoryDiskManager{
		pages:      make(map[PageID][]byte),
		nextPageId: 1,
	}
}

// AllocatePage allocates a new page and returns its page ID
func (dm *MemoryDiskManager) AllocatePage() (PageID, error) {
	dm.mutex.Lock()
	defer dm.mutex.Unlock()

	if dm.closed {
		return InvalidPageID, ErrClosed
	}
	pageId := dm.nextPageId
	dm.nextPageId++
	return pageId, nil
}

// NextPageID returns the id the next AllocatePage call will hand out
func (dm *MemoryDiskManager) NextPageID() PageID {
	dm.mutex.RLock()
	defer dm.mutex.RUnlock()
	return dm.nextPageId
}

// ReadPage returns a copy of the stored page
func (dm *MemoryDiskManager) ReadPage(pageId PageID) ([]byte, error) {
	if !pageId.IsValid() {
		return nil, ErrBadPageID("MemoryDiskManager.ReadPage", pageId)
	}

	dm.mutex.RLock()
	defer dm.mutex.RUnlock()

	if dm.closed {
		return nil, ErrClosed
	}

	data := make([]byte, PageSize)
	copy(data, dm.pages[pageId])
	return data, nil
}

// WritePage stores a zero padded copy of data
func (dm *MemoryDiskManager) WritePage(pageId PageID, data []byte) error {
	if !pageId.IsValid() {
		return ErrBadPageID("MemoryDiskManager.WritePage", pageId)
	}
	if len(data) > PageSize {
		return ErrInvalidArgument("MemoryDiskManager.WritePage", fmt.Sprintf("page data must be at most %d bytes, got %d", PageSize, len(data)))
	}

	page := make([]byte, PageSize)
	copy(page, data)

	dm.mutex.Lock()
	defer dm.mutex.Unlock()

	if dm.closed {
		return ErrClosed
	}
	dm.pages[pageId] = page
	if pageId >= dm.nextPageId {
		dm.nextPageId = pageId + 1
	}
	return nil
}

// PageCount returns the number of pages that were written at least once
func (dm *MemoryDiskManager) PageCount() int {
	dm.mutex.RLock()
	defer dm.mutex.RUnlock()
	return len(dm.pages)
}

// Close drops all pages
func (dm *MemoryDiskManager) Close() error {
	dm.mutex.Lock()
	defer dm.mutex.Unlock()

	dm.closed = true
	dm.pages = nil
	return nil
}
