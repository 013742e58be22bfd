package storage

const (
	// PageSize is the size of every page on disk and of every frame in memory
	PageSize = 8192

	// InvalidPageID marks an empty frame. Allocation starts at 1, so slot 0 of
	// a data file is never used by a page.
	InvalidPageID PageID = 0
)

// PageID identifies a logical page. IDs are allocated monotonically by a
// PageStore and never reused by it.
type PageID uint32

// IsValid reports whether the id can name a page
func (id PageID) IsValid() bool {
	return id != InvalidPageID
}

// FrameID is the index of a frame inside the buffer pool
type FrameID uint32

// Page is the handle returned to callers of the buffer pool. It holds a copy
// of the page bytes taken while the page was pinned, plus the PageID the
// caller must later hand back to UnpinPage. It never aliases a frame, so
// eviction of another page can not change what the caller sees.
type Page struct {
	pageId PageID
	data   []byte
}

// newPageHandle copies src into a fresh handle
func newPageHandle(pageId PageID, src []byte) *Page {
	data := make([]byte, PageSize)
	copy(data, src)
	return &Page{
		pageId: pageId,
		data:   data,
	}
}

// GetPageId returns the page ID
func (p *Page) GetPageId() PageID {
	return p.pageId
}

// GetData returns the caller's copy of the page bytes. Changes to it are not
// seen by the pool until written back with BufferPoolManager.WritePage.
func (p *Page) GetData() []byte {
	return p.data
}

// frame is one slot of the buffer pool
type frame struct {
	pageId   PageID
	data     []byte
	pinCount int32
	isDirty  bool

	// busy is set while disk I/O is in flight for this frame. Every other
	// operation on the frame waits for it to clear.
	busy bool
}

func newFrame() *frame {
	return &frame{
		pageId: InvalidPageID,
		data:   make([]byte, PageSize),
	}
}

// reset empties the frame
func (f *frame) reset() {
	f.pageId = InvalidPageID
	f.pinCount = 0
	f.isDirty = false
	f.busy = false
	clear(f.data)
}
