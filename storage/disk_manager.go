package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// PageStore is the durable home of pages. Implementations must be safe for
// concurrent use.
type PageStore interface {
	// AllocatePage returns a fresh page id. Ids start at 1 and are never reused.
	AllocatePage() (PageID, error)

	// ReadPage returns exactly PageSize bytes. Never written pages read as zeros.
	ReadPage(pageId PageID) ([]byte, error)

	// WritePage durably stores up to PageSize bytes, zero padded.
	WritePage(pageId PageID, data []byte) error

	// Close releases the store
	Close() error
}

// pageAllocator is implemented by stores that can report how far allocation got
type pageAllocator interface {
	NextPageID() PageID
}

// DiskManagerOptions configures a file backed page store
type DiskManagerOptions struct {
	// Compression selects the page codec. A file must always be reopened
	// with the setting it was created with.
	Compression CompressionType
}

// DiskManager stores pages in a single flat file. Page id N lives at byte
// offset N*PageSize (N*CompressedSlotSize when compression is on), so the
// first slot of the file is never used.
type DiskManager struct {
	file        *os.File
	fileName    string
	nextPageId  PageID
	compression CompressionType
	slotSize    int64
	closed      bool
	mutex       sync.Mutex
}

// NewDiskManager creates a new disk manager that manages pages in a file
func NewDiskManager(fileName string) (*DiskManager, error) {
	return NewDiskManagerWithOptions(fileName, DiskManagerOptions{})
}

// NewDiskManagerWithOptions opens or creates the data file. Allocation
// resumes after the last slot already present in the file.
func NewDiskManagerWithOptions(fileName string, opts DiskManagerOptions) (*DiskManager, error) {
	if opts.Compression > CompressionSnappy {
		return nil, ErrInvalidArgument("NewDiskManager", fmt.Sprintf("unsupported compression type: %d", opts.Compression))
	}

	file, err := os.OpenFile(fileName, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, NewStorageError(ErrCodeIO, "NewDiskManager", fmt.Sprintf("failed to open/create file %s", fileName), err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, NewStorageError(ErrCodeIO, "NewDiskManager", fmt.Sprintf("failed to stat file %s", fileName), err)
	}

	slotSize := int64(PageSize)
	if opts.Compression != CompressionNone {
		slotSize = CompressedSlotSize
	}

	return &DiskManager{
		file:        file,
		fileName:    fileName,
		nextPageId:  firstFreePageID(info.Size(), slotSize),
		compression: opts.Compression,
		slotSize:    slotSize,
	}, nil
}

// firstFreePageID is max(1, ceil(size/slotSize))
func firstFreePageID(size, slotSize int64) PageID {
	slots := (size + slotSize - 1) / slotSize
	if slots < 1 {
		return 1
	}
	return PageID(slots)
}

// AllocatePage allocates a new page and returns its page ID
func (dm *DiskManager) AllocatePage() (PageID, error) {
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
func (dm *DiskManager) NextPageID() PageID {
	dm.mutex.Lock()
	defer dm.mutex.Unlock()

	return dm.nextPageId
}

// ReadPage reads a page from disk given its page ID. Reads past the end of
// the file come back zero filled.
func (dm *DiskManager) ReadPage(pageId PageID) ([]byte, error) {
	if !pageId.IsValid() {
		return nil, ErrBadPageID("DiskManager.ReadPage", pageId)
	}

	dm.mutex.Lock()
	defer dm.mutex.Unlock()

	if dm.closed {
		return nil, ErrClosed
	}

	buf := make([]byte, dm.slotSize)
	_, err := dm.file.ReadAt(buf, int64(pageId)*dm.slotSize)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, ErrDiskOperation("DiskManager.ReadPage", pageId, err)
	}

	if dm.compression == CompressionNone {
		return buf, nil
	}

	data, err := DecodePageSlot(buf)
	if err != nil {
		return nil, ErrPageCorrupted("DiskManager.ReadPage", pageId, err.Error())
	}
	return data, nil
}

// WritePage writes a page to disk at the specified page ID and syncs the
// file before returning
func (dm *DiskManager) WritePage(pageId PageID, data []byte) error {
	slot, err := dm.encode("DiskManager.WritePage", pageId, data)
	if err != nil {
		return err
	}

	dm.mutex.Lock()
	defer dm.mutex.Unlock()

	if dm.closed {
		return ErrClosed
	}

	if err := dm.writeSlot(pageId, slot); err != nil {
		return ErrDiskOperation("DiskManager.WritePage", pageId, err)
	}

	if err := dm.file.Sync(); err != nil {
		return ErrDiskOperation("DiskManager.WritePage", pageId, err)
	}
	return nil
}

// PageWrite represents a single page write operation
type PageWrite struct {
	PageID PageID
	Data   []byte
}

// WritePagesV writes multiple pages in a single batch with one fsync.
// Nothing is written if any page in the batch is invalid.
func (dm *DiskManager) WritePagesV(writes []PageWrite) error {
	if len(writes) == 0 {
		return nil
	}

	slots := make([][]byte, len(writes))
	for i, pw := range writes {
		slot, err := dm.encode("DiskManager.WritePagesV", pw.PageID, pw.Data)
		if err != nil {
			return err
		}
		slots[i] = slot
	}

	dm.mutex.Lock()
	defer dm.mutex.Unlock()

	if dm.closed {
		return ErrClosed
	}

	for i, pw := range writes {
		if err := dm.writeSlot(pw.PageID, slots[i]); err != nil {
			return ErrDiskOperation("DiskManager.WritePagesV", pw.PageID, err)
		}
	}

	// Single fsync for all pages
	if err := dm.file.Sync(); err != nil {
		return NewStorageError(ErrCodeIO, "DiskManager.WritePagesV", "fsync failed", err)
	}
	return nil
}

// encode validates and pads the page, then applies the codec
func (dm *DiskManager) encode(op string, pageId PageID, data []byte) ([]byte, error) {
	if !pageId.IsValid() {
		return nil, ErrBadPageID(op, pageId)
	}
	if len(data) > PageSize {
		return nil, ErrInvalidArgument(op, fmt.Sprintf("page data must be at most %d bytes, got %d", PageSize, len(data)))
	}

	page := data
	if len(data) < PageSize {
		page = make([]byte, PageSize)
		copy(page, data)
	}

	if dm.compression == CompressionNone {
		return page, nil
	}

	slot, err := EncodePageSlot(page, dm.compression)
	if err != nil {
		return nil, NewStorageError(ErrCodeInternal, op, "page compression failed", err)
	}
	return slot, nil
}

// writeSlot writes an encoded page. Caller must hold the mutex.
func (dm *DiskManager) writeSlot(pageId PageID, slot []byte) error {
	if _, err := dm.file.WriteAt(slot, int64(pageId)*dm.slotSize); err != nil {
		return err
	}
	// Keep allocation ahead of anything present in the file
	if pageId >= dm.nextPageId {
		dm.nextPageId = pageId + 1
	}
	return nil
}

// FileName returns the path of the data file
func (dm *DiskManager) FileName() string {
	return dm.fileName
}

// Close closes the disk manager and its underlying file
func (dm *DiskManager) Close() error {
	dm.mutex.Lock()
	defer dm.mutex.Unlock()

	if dm.closed {
		return nil
	}
	dm.closed = true
	if err := dm.file.Close(); err != nil {
		return NewStorageError(ErrCodeIO, "DiskManager.Close", "failed to close data file", err)
	}
	return nil
}
