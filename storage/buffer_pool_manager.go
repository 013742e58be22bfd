package storage

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// BufferPoolOptions configures a BufferPoolManager
type BufferPoolOptions struct {
	Replacer       Replacer    // defaults to LRU
	Logger         *zap.Logger // defaults to a no-op logger
	Metrics        *Metrics    // defaults to private, unregistered metrics
	EnablePrefetch bool
}

// BufferPoolManager manages a fixed set of frames caching pages of a PageStore.
//
// One mutex guards the frames, the page table, the free list and every
// replacer call. Disk I/O runs with the mutex released. While it does, the
// frame involved is marked busy and other operations on it wait on cond.
type BufferPoolManager struct {
	poolSize   uint32
	frames     []*frame
	pageTable  *PageTable
	freeList   []FrameID // indices of free frames
	store      PageStore
	replacer   Replacer
	logger     *zap.Logger
	metrics    *Metrics
	prefetcher *Prefetcher

	mutex sync.Mutex
	cond  *sync.Cond

	// Pages being read into a frame that is not yet in the page table
	loading map[PageID]struct{}
	closed  bool
}

// NewBufferPoolManager creates a new buffer pool manager with an LRU replacer
func NewBufferPoolManager(poolSize uint32, store PageStore) (*BufferPoolManager, error) {
	return NewBufferPoolManagerWithOptions(poolSize, store, BufferPoolOptions{})
}

// NewBufferPoolManagerWithReplacer creates a buffer pool with a specific replacement policy
func NewBufferPoolManagerWithReplacer(poolSize uint32, store PageStore, replacerAlg string) (*BufferPoolManager, error) {
	return NewBufferPoolManagerWithOptions(poolSize, store, BufferPoolOptions{
		Replacer: NewReplacer(replacerAlg, poolSize),
	})
}

// NewBufferPoolManagerWithOptions creates a buffer pool from explicit options
func NewBufferPoolManagerWithOptions(poolSize uint32, store PageStore, opts BufferPoolOptions) (*BufferPoolManager, error) {
	if poolSize == 0 {
		return nil, ErrInvalidArgument("NewBufferPoolManager", "pool size must be greater than 0")
	}
	if store == nil {
		return nil, ErrInvalidArgument("NewBufferPoolManager", "page store is required")
	}

	bpm := &BufferPoolManager{
		poolSize:  poolSize,
		frames:    make([]*frame, poolSize),
		pageTable: NewPageTable(poolSize),
		freeList:  make([]FrameID, 0, poolSize),
		store:     store,
		replacer:  opts.Replacer,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		loading:   make(map[PageID]struct{}),
	}
	bpm.cond = sync.NewCond(&bpm.mutex)

	if bpm.replacer == nil {
		bpm.replacer = NewLRUReplacer(int(poolSize))
	}
	if bpm.logger == nil {
		bpm.logger = zap.NewNop()
	}
	if bpm.metrics == nil {
		bpm.metrics = NewMetrics("")
	}

	for i := uint32(0); i < poolSize; i++ {
		bpm.frames[i] = newFrame()
		bpm.freeList = append(bpm.freeList, FrameID(i))
	}

	if opts.EnablePrefetch {
		bpm.prefetcher = NewPrefetcher(bpm)
	}

	return bpm, nil
}

// NewPage allocates a fresh page id and installs it, pinned and zeroed, in a frame
func (bpm *BufferPoolManager) NewPage() (*Page, error) {
	pageId, err := bpm.store.AllocatePage()
	if err != nil {
		return nil, wrapStoreError("NewPage", InvalidPageID, err)
	}

	bpm.mutex.Lock()
	defer bpm.mutex.Unlock()

	if bpm.closed {
		return nil, ErrClosed
	}

	frameId, err := bpm.acquireFrame("NewPage")
	if err != nil {
		return nil, err
	}

	f := bpm.frames[frameId]
	clear(f.data)
	f.pageId = pageId
	f.pinCount = 1
	f.isDirty = false
	bpm.pageTable.Put(pageId, frameId)

	bpm.logger.Debug("new page", zap.Uint32("page_id", uint32(pageId)), zap.Uint32("frame_id", uint32(frameId)))

	return newPageHandle(pageId, f.data), nil
}

// FetchPage pins a page, reading it from the store if it is not resident
func (bpm *BufferPoolManager) FetchPage(pageId PageID) (*Page, error) {
	page, missed, err := bpm.fetchPage(pageId)
	if err == nil && missed && bpm.prefetcher != nil {
		bpm.prefetcher.RecordMiss(pageId)
	}
	return page, err
}

// fetchPage reports whether the page had to be read from the store
func (bpm *BufferPoolManager) fetchPage(pageId PageID) (*Page, bool, error) {
	if !pageId.IsValid() {
		return nil, false, ErrBadPageID("FetchPage", pageId)
	}

	start := time.Now()
	defer func() {
		bpm.metrics.RecordPageFetchLatency(time.Since(start))
	}()

	bpm.mutex.Lock()
	defer bpm.mutex.Unlock()

	for {
		if bpm.closed {
			return nil, false, ErrClosed
		}

		if frameId, exists := bpm.pageTable.Get(pageId); exists {
			f := bpm.frames[frameId]
			if f.busy {
				bpm.cond.Wait()
				continue
			}

			f.pinCount++
			bpm.replacer.Pin(pageId)
			bpm.metrics.RecordCacheHit()
			bpm.logger.Debug("page hit", zap.Uint32("page_id", uint32(pageId)), zap.Int32("pin_count", f.pinCount))
			return newPageHandle(pageId, f.data), false, nil
		}

		// Another caller is loading this page; pin it once installed
		if _, isLoading := bpm.loading[pageId]; isLoading {
			bpm.cond.Wait()
			continue
		}
		break
	}

	bpm.metrics.RecordCacheMiss()
	bpm.loading[pageId] = struct{}{}
	defer func() {
		delete(bpm.loading, pageId)
		bpm.cond.Broadcast()
	}()

	frameId, err := bpm.acquireFrame("FetchPage")
	if err != nil {
		return nil, false, err
	}

	// The frame is neither free nor in the page table, so nobody else can see it
	f := bpm.frames[frameId]
	f.busy = true
	bpm.mutex.Unlock()
	data, err := bpm.store.ReadPage(pageId)
	bpm.mutex.Lock()
	f.busy = false

	if err != nil {
		f.reset()
		bpm.freeList = append(bpm.freeList, frameId)
		bpm.logger.Error("failed to read page", zap.Uint32("page_id", uint32(pageId)), zap.Error(err))
		return nil, false, wrapStoreError("FetchPage", pageId, err)
	}

	clear(f.data)
	copy(f.data, data)
	f.pageId = pageId
	f.pinCount = 1
	f.isDirty = false
	bpm.pageTable.Put(pageId, frameId)

	bpm.logger.Debug("page miss", zap.Uint32("page_id", uint32(pageId)), zap.Uint32("frame_id", uint32(frameId)))

	return newPageHandle(pageId, f.data), true, nil
}

// acquireFrame returns a frame that is neither free nor in the page table.
// It prefers the free list and otherwise evicts the replacer's victim,
// writing it back first when dirty. Caller must hold the mutex, which is
// released while the victim is written.
func (bpm *BufferPoolManager) acquireFrame(op string) (FrameID, error) {
	// Victims whose frame is mid-write go back to the replacer afterwards
	var skipped []PageID
	defer func() {
		bpm.restoreEvictable(skipped)
	}()

	for {
		if n := len(bpm.freeList); n > 0 {
			frameId := bpm.freeList[n-1]
			bpm.freeList = bpm.freeList[:n-1]
			return frameId, nil
		}

		victimId, ok := bpm.replacer.Victim()
		if !ok {
			if len(skipped) > 0 {
				bpm.restoreEvictable(skipped)
				skipped = nil
				bpm.cond.Wait()
				continue
			}
			bpm.metrics.RecordPoolExhausted()
			return 0, ErrNoFreeFrames(op)
		}

		frameId, exists := bpm.pageTable.Get(victimId)
		if !exists {
			bpm.logger.Warn("replacer returned a page that is not resident", zap.Uint32("page_id", uint32(victimId)))
			continue
		}

		f := bpm.frames[frameId]
		if f.busy {
			skipped = append(skipped, victimId)
			continue
		}

		if f.isDirty {
			// Skipped pages must be evictable again before the mutex is released
			bpm.restoreEvictable(skipped)
			skipped = nil

			if err := bpm.writeBack(f, op); err != nil {
				// Victim keeps its page and stays evictable
				bpm.replacer.Unpin(victimId)
				return 0, err
			}
		}

		bpm.pageTable.Delete(victimId)
		f.reset()
		bpm.metrics.RecordPageEviction()
		bpm.logger.Debug("evicted page", zap.Uint32("page_id", uint32(victimId)), zap.Uint32("frame_id", uint32(frameId)))

		return frameId, nil
	}
}

// restoreEvictable hands pages back to the replacer if they are still
// resident and unpinned. Caller must hold the mutex.
func (bpm *BufferPoolManager) restoreEvictable(pageIds []PageID) {
	for _, pageId := range pageIds {
		if frameId, exists := bpm.pageTable.Get(pageId); exists && bpm.frames[frameId].pinCount == 0 {
			bpm.replacer.Unpin(pageId)
		}
	}
}

// writeBack writes a frame's page to the store with the mutex released and
// clears the dirty flag on success. Caller must hold the mutex and the
// frame must not be busy.
func (bpm *BufferPoolManager) writeBack(f *frame, op string) error {
	pageId := f.pageId
	data := make([]byte, PageSize)
	copy(data, f.data)

	f.busy = true
	bpm.mutex.Unlock()

	start := time.Now()
	err := bpm.store.WritePage(pageId, data)
	bpm.metrics.RecordPageFlushLatency(time.Since(start))

	bpm.mutex.Lock()
	f.busy = false
	bpm.cond.Broadcast()

	if err != nil {
		bpm.metrics.RecordFlushError()
		bpm.logger.Error("failed to write page", zap.String("op", op), zap.Uint32("page_id", uint32(pageId)), zap.Error(err))
		return wrapStoreError(op, pageId, err)
	}

	if f.isDirty {
		f.isDirty = false
		bpm.metrics.RecordDirtyPageFlush()
	}
	return nil
}

// settledFrame looks up a resident page, waiting out loads and in-flight
// writes. Caller must hold the mutex.
func (bpm *BufferPoolManager) settledFrame(pageId PageID) (*frame, bool) {
	for {
		if frameId, exists := bpm.pageTable.Get(pageId); exists {
			f := bpm.frames[frameId]
			if !f.busy {
				return f, true
			}
		} else if _, isLoading := bpm.loading[pageId]; !isLoading {
			return nil, false
		}
		bpm.cond.Wait()
	}
}

// UnpinPage drops one pin. Returns false if the page is not resident or
// not pinned. The dirty flag is sticky.
func (bpm *BufferPoolManager) UnpinPage(pageId PageID, isDirty bool) bool {
	bpm.mutex.Lock()
	defer bpm.mutex.Unlock()

	f, ok := bpm.settledFrame(pageId)
	if !ok {
		return false
	}

	if f.pinCount <= 0 {
		bpm.logger.Warn("unpin of a page that is not pinned", zap.Uint32("page_id", uint32(pageId)))
		return false
	}

	if isDirty {
		f.isDirty = true
	}

	f.pinCount--
	if f.pinCount == 0 {
		bpm.replacer.Unpin(pageId)
	}

	return true
}

// WritePage copies data into a pinned page at offset and marks it dirty
func (bpm *BufferPoolManager) WritePage(pageId PageID, offset int, data []byte) error {
	if offset < 0 || offset > PageSize || len(data) > PageSize-offset {
		return ErrInvalidArgument("WritePage", fmt.Sprintf("write of %d bytes at offset %d exceeds page size %d", len(data), offset, PageSize))
	}

	bpm.mutex.Lock()
	defer bpm.mutex.Unlock()

	f, ok := bpm.settledFrame(pageId)
	if !ok {
		return ErrPageNotFound("WritePage", pageId)
	}
	if f.pinCount <= 0 {
		return ErrNotPinned("WritePage", pageId)
	}

	copy(f.data[offset:], data)
	f.isDirty = true
	return nil
}

// ReadPage returns a fresh copy of a pinned page
func (bpm *BufferPoolManager) ReadPage(pageId PageID) (*Page, error) {
	bpm.mutex.Lock()
	defer bpm.mutex.Unlock()

	f, ok := bpm.settledFrame(pageId)
	if !ok {
		return nil, ErrPageNotFound("ReadPage", pageId)
	}
	if f.pinCount <= 0 {
		return nil, ErrNotPinned("ReadPage", pageId)
	}
	return newPageHandle(pageId, f.data), nil
}

// FlushPage writes a resident page to the store whatever its pin count.
// Returns false, nil if the page is not resident.
func (bpm *BufferPoolManager) FlushPage(pageId PageID) (bool, error) {
	bpm.mutex.Lock()
	defer bpm.mutex.Unlock()

	f, ok := bpm.settledFrame(pageId)
	if !ok {
		return false, nil
	}

	if err := bpm.writeBack(f, "FlushPage"); err != nil {
		return false, err
	}
	return true, nil
}

// DeletePage drops a page from the pool. Returns false if it is pinned.
// A page that is not resident counts as deleted. The on-disk slot is left alone.
func (bpm *BufferPoolManager) DeletePage(pageId PageID) bool {
	bpm.mutex.Lock()
	defer bpm.mutex.Unlock()

	if err := bpm.deletePage(pageId); err != nil {
		bpm.logger.Warn("refusing to delete a pinned page", zap.Error(err))
		return false
	}
	return true
}

// deletePage returns an ErrCodePagePinned error when the page is in use.
// Caller must hold the mutex.
func (bpm *BufferPoolManager) deletePage(pageId PageID) error {
	f, ok := bpm.settledFrame(pageId)
	if !ok {
		return nil
	}

	if f.pinCount > 0 {
		return ErrPagePinned("DeletePage", pageId, f.pinCount)
	}

	frameId, _ := bpm.pageTable.Get(pageId)
	bpm.pageTable.Delete(pageId)
	bpm.replacer.Remove(pageId)
	f.reset()
	bpm.freeList = append(bpm.freeList, frameId)

	bpm.logger.Debug("deleted page", zap.Uint32("page_id", uint32(pageId)))
	return nil
}

// batchWriter is implemented by stores that can write many pages with one sync
type batchWriter interface {
	WritePagesV(writes []PageWrite) error
}

// FlushAll writes back every dirty resident page. It keeps going after a
// failure; all failures are returned together, the first one leading.
func (bpm *BufferPoolManager) FlushAll() error {
	if bw, ok := bpm.store.(batchWriter); ok {
		if bpm.flushAllBatched(bw) == nil {
			return nil
		}
		// Fall through to find out which pages failed
	}

	var errs error
	for _, pageId := range bpm.DirtyPages(int(bpm.poolSize)) {
		if _, err := bpm.FlushPage(pageId); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// flushAllBatched writes every dirty page in one batch
func (bpm *BufferPoolManager) flushAllBatched(bw batchWriter) error {
	bpm.mutex.Lock()
	defer bpm.mutex.Unlock()

	var (
		writes []PageWrite
		dirty  []*frame
	)
	for _, f := range bpm.frames {
		if f.pageId.IsValid() && f.isDirty && !f.busy {
			data := make([]byte, PageSize)
			copy(data, f.data)
			writes = append(writes, PageWrite{PageID: f.pageId, Data: data})
			dirty = append(dirty, f)
		}
	}
	if len(writes) == 0 {
		return nil
	}

	for _, f := range dirty {
		f.busy = true
	}
	bpm.mutex.Unlock()

	start := time.Now()
	err := bw.WritePagesV(writes)
	bpm.metrics.RecordPageFlushLatency(time.Since(start))

	bpm.mutex.Lock()
	for _, f := range dirty {
		f.busy = false
		if err == nil {
			f.isDirty = false
			bpm.metrics.RecordDirtyPageFlush()
		}
	}
	bpm.cond.Broadcast()

	if err != nil {
		bpm.logger.Warn("batch flush failed, retrying page by page", zap.Int("pages", len(writes)), zap.Error(err))
	}
	return err
}

// Close stops the prefetcher and flushes every dirty page. The store is
// left open.
func (bpm *BufferPoolManager) Close() error {
	if bpm.prefetcher != nil {
		bpm.prefetcher.Stop()
	}

	err := bpm.FlushAll()

	bpm.mutex.Lock()
	bpm.closed = true
	bpm.cond.Broadcast()
	bpm.mutex.Unlock()

	return err
}

// wrapStoreError keeps StorageErrors from the store and wraps anything else as I/O
func wrapStoreError(op string, pageId PageID, err error) error {
	var se *StorageError
	if errors.As(err, &se) {
		return NewStorageError(se.Code, op, fmt.Sprintf("page %d", pageId), err)
	}
	return ErrDiskOperation(op, pageId, err)
}

// GetPoolSize returns the number of frames
func (bpm *BufferPoolManager) GetPoolSize() uint32 {
	return bpm.poolSize
}

// GetCapacity returns the total capacity of the buffer pool
func (bpm *BufferPoolManager) GetCapacity() int {
	return int(bpm.poolSize)
}

// FreeFrameCount returns the number of empty frames
func (bpm *BufferPoolManager) FreeFrameCount() int {
	bpm.mutex.Lock()
	defer bpm.mutex.Unlock()
	return len(bpm.freeList)
}

// ResidentPageCount returns the number of pages in the page table
func (bpm *BufferPoolManager) ResidentPageCount() int {
	bpm.mutex.Lock()
	defer bpm.mutex.Unlock()
	return bpm.pageTable.Size()
}

// IsPageInPool checks if a page is resident or being loaded
func (bpm *BufferPoolManager) IsPageInPool(pageId PageID) bool {
	bpm.mutex.Lock()
	defer bpm.mutex.Unlock()

	if bpm.pageTable.Contains(pageId) {
		return true
	}
	_, isLoading := bpm.loading[pageId]
	return isLoading
}

// PinCount returns the pin count of a resident page
func (bpm *BufferPoolManager) PinCount(pageId PageID) (int32, bool) {
	bpm.mutex.Lock()
	defer bpm.mutex.Unlock()

	frameId, exists := bpm.pageTable.Get(pageId)
	if !exists {
		return 0, false
	}
	return bpm.frames[frameId].pinCount, true
}

// IsDirty reports whether a resident page has unwritten changes
func (bpm *BufferPoolManager) IsDirty(pageId PageID) bool {
	bpm.mutex.Lock()
	defer bpm.mutex.Unlock()

	frameId, exists := bpm.pageTable.Get(pageId)
	return exists && bpm.frames[frameId].isDirty
}

// GetDirtyPageCount returns the number of dirty pages in the buffer pool
func (bpm *BufferPoolManager) GetDirtyPageCount() int {
	bpm.mutex.Lock()
	defer bpm.mutex.Unlock()

	count := 0
	bpm.pageTable.ForEach(func(_ PageID, frameId FrameID) bool {
		if bpm.frames[frameId].isDirty {
			count++
		}
		return true
	})
	return count
}

// DirtyPages returns up to maxPages dirty page IDs
func (bpm *BufferPoolManager) DirtyPages(maxPages int) []PageID {
	bpm.mutex.Lock()
	defer bpm.mutex.Unlock()

	dirtyPages := make([]PageID, 0, min(maxPages, int(bpm.poolSize)))
	for _, f := range bpm.frames {
		if len(dirtyPages) >= maxPages {
			break
		}
		if f.pageId.IsValid() && f.isDirty {
			dirtyPages = append(dirtyPages, f.pageId)
		}
	}
	return dirtyPages
}

// GetMetrics returns the buffer pool metrics
func (bpm *BufferPoolManager) GetMetrics() *Metrics {
	return bpm.metrics
}

// GetPrefetcher returns the prefetcher, or nil when prefetching is off
func (bpm *BufferPoolManager) GetPrefetcher() *Prefetcher {
	return bpm.prefetcher
}
