package storage

// PageTable maps resident pages to the frames holding them.
// It is not safe for concurrent use; the buffer pool guards it with its own
// mutex together with the frames and the replacer.
type PageTable struct {
	frames map[PageID]FrameID
}

// NewPageTable creates a page table sized for a pool of the given capacity
func NewPageTable(capacity uint32) *PageTable {
	return &PageTable{
		frames: make(map[PageID]FrameID, capacity),
	}
}

// Get returns the frame holding a page
func (pt *PageTable) Get(pageId PageID) (FrameID, bool) {
	frameId, exists := pt.frames[pageId]
	return frameId, exists
}

// Put records that a frame holds a page
func (pt *PageTable) Put(pageId PageID, frameId FrameID) {
	pt.frames[pageId] = frameId
}

// Delete removes a page from the table
func (pt *PageTable) Delete(pageId PageID) {
	delete(pt.frames, pageId)
}

// Contains reports whether a page is resident
func (pt *PageTable) Contains(pageId PageID) bool {
	_, exists := pt.frames[pageId]
	return exists
}

// Size returns the number of resident pages
func (pt *PageTable) Size() int {
	return len(pt.frames)
}

// ForEach calls fn for each resident page until fn returns false
func (pt *PageTable) ForEach(fn func(pageId PageID, frameId FrameID) bool) {
	for pageId, frameId := range pt.frames {
		if !fn(pageId, frameId) {
			return
		}
	}
}
