//go:build unix

package storage

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

const (
	// MmapInitialPages is the number of page slots mapped for a new file
	MmapInitialPages = 256
	// MmapGrowPages is the minimum number of slots added when the file grows
	MmapGrowPages = 1024
)

// MmapDiskManager serves pages from a memory-mapped data file. The on-disk
// format matches DiskManager in raw mode, so either can open the other's file.
// The file is grown ahead of allocation, and reopening resumes allocation
// after the mapped region.
type MmapDiskManager struct {
	file       *os.File
	mmapData   []byte
	fileSize   int64
	nextPageId PageID
	closed     bool
	mutex      sync.RWMutex // write lock for remapping, read lock for page copies
}

// NewMmapDiskManager creates a new memory-mapped disk manager
func NewMmapDiskManager(fileName string) (*MmapDiskManager, error) {
	file, err := os.OpenFile(fileName, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, NewStorageError(ErrCodeIO, "NewMmapDiskManager", fmt.Sprintf("failed to open/create file %s", fileName), err)
	}

	fileInfo, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, NewStorageError(ErrCodeIO, "NewMmapDiskManager", "failed to stat file", err)
	}

	existing := fileInfo.Size()
	dm := &MmapDiskManager{
		file:       file,
		nextPageId: firstFreePageID(existing, PageSize),
	}

	// Round up to whole slots and to the initial mapping size
	size := int64(dm.nextPageId) * PageSize
	if size < MmapInitialPages*PageSize {
		size = MmapInitialPages * PageSize
	}

	if err := dm.remap(size); err != nil {
		file.Close()
		return nil, err
	}

	return dm, nil
}

// remap grows the file to size bytes and maps all of it. Caller must hold
// the write lock or own dm exclusively.
func (dm *MmapDiskManager) remap(size int64) error {
	if dm.mmapData != nil {
		if err := unix.Munmap(dm.mmapData); err != nil {
			return NewStorageError(ErrCodeIO, "MmapDiskManager.remap", "failed to unmap file", err)
		}
		dm.mmapData = nil
	}

	if size > dm.fileSize {
		if err := dm.file.Truncate(size); err != nil {
			return NewStorageError(ErrCodeIO, "MmapDiskManager.remap", "failed to grow file", err)
		}
	}

	data, err := unix.Mmap(int(dm.file.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return NewStorageError(ErrCodeIO, "MmapDiskManager.remap", "failed to map file", err)
	}

	dm.mmapData = data
	dm.fileSize = size
	return nil
}

// ensureMapped grows the mapping so it covers pageId
func (dm *MmapDiskManager) ensureMapped(pageId PageID) error {
	required := (int64(pageId) + 1) * PageSize

	dm.mutex.RLock()
	covered := required <= dm.fileSize
	dm.mutex.RUnlock()
	if covered {
		return nil
	}

	dm.mutex.Lock()
	defer dm.mutex.Unlock()

	if dm.closed {
		return ErrClosed
	}
	if required <= dm.fileSize {
		return nil
	}

	newSize := dm.fileSize + MmapGrowPages*PageSize
	if newSize < required {
		newSize = required
	}
	return dm.remap(newSize)
}

// AllocatePage allocates a new page and returns its page ID
func (dm *MmapDiskManager) AllocatePage() (PageID, error) {
	dm.mutex.Lock()
	if dm.closed {
		dm.mutex.Unlock()
		return InvalidPageID, ErrClosed
	}
	pageId := dm.nextPageId
	dm.nextPageId++
	dm.mutex.Unlock()

	if err := dm.ensureMapped(pageId); err != nil {
		return InvalidPageID, err
	}
	return pageId, nil
}

// NextPageID returns the id the next AllocatePage call will hand out
func (dm *MmapDiskManager) NextPageID() PageID {
	dm.mutex.RLock()
	defer dm.mutex.RUnlock()
	return dm.nextPageId
}

// ReadPage copies a page out of the mapping. Pages beyond the mapped
// region read as zeros.
func (dm *MmapDiskManager) ReadPage(pageId PageID) ([]byte, error) {
	if !pageId.IsValid() {
		return nil, ErrBadPageID("MmapDiskManager.ReadPage", pageId)
	}

	dm.mutex.RLock()
	defer dm.mutex.RUnlock()

	if dm.closed {
		return nil, ErrClosed
	}

	data := make([]byte, PageSize)
	offset := int64(pageId) * PageSize
	if offset+PageSize <= dm.fileSize {
		copy(data, dm.mmapData[offset:offset+PageSize])
	}
	return data, nil
}

// WritePage copies a page into the mapping and msyncs it before returning
func (dm *MmapDiskManager) WritePage(pageId PageID, data []byte) error {
	if !pageId.IsValid() {
		return ErrBadPageID("MmapDiskManager.WritePage", pageId)
	}
	if len(data) > PageSize {
		return ErrInvalidArgument("MmapDiskManager.WritePage", fmt.Sprintf("page data must be at most %d bytes, got %d", PageSize, len(data)))
	}

	if err := dm.ensureMapped(pageId); err != nil {
		return err
	}

	dm.mutex.Lock()
	if pageId >= dm.nextPageId {
		dm.nextPageId = pageId + 1
	}
	dm.mutex.Unlock()

	dm.mutex.RLock()
	defer dm.mutex.RUnlock()

	if dm.closed {
		return ErrClosed
	}

	offset := int64(pageId) * PageSize
	region := dm.mmapData[offset : offset+PageSize]
	n := copy(region, data)
	clear(region[n:])

	if err := dm.syncRange(offset, PageSize); err != nil {
		return ErrDiskOperation("MmapDiskManager.WritePage", pageId, err)
	}
	return nil
}

// syncRange msyncs [offset, offset+length) widened to OS page boundaries.
// Caller must hold a lock.
func (dm *MmapDiskManager) syncRange(offset, length int64) error {
	osPage := int64(os.Getpagesize())
	start := offset - offset%osPage
	end := offset + length
	if rem := end % osPage; rem != 0 {
		end += osPage - rem
	}
	if end > dm.fileSize {
		end = dm.fileSize
	}
	return unix.Msync(dm.mmapData[start:end], unix.MS_SYNC)
}

// Flush msyncs the whole mapping
func (dm *MmapDiskManager) Flush() error {
	dm.mutex.RLock()
	defer dm.mutex.RUnlock()

	if dm.closed || dm.mmapData == nil {
		return nil
	}
	if err := unix.Msync(dm.mmapData, unix.MS_SYNC); err != nil {
		return NewStorageError(ErrCodeIO, "MmapDiskManager.Flush", "msync failed", err)
	}
	return nil
}

// GetFileSize returns the current file size
func (dm *MmapDiskManager) GetFileSize() int64 {
	dm.mutex.RLock()
	defer dm.mutex.RUnlock()
	return dm.fileSize
}

// Close flushes, unmaps memory and closes the file
func (dm *MmapDiskManager) Close() error {
	flushErr := dm.Flush()

	dm.mutex.Lock()
	defer dm.mutex.Unlock()

	if dm.closed {
		return nil
	}
	dm.closed = true

	if dm.mmapData != nil {
		if err := unix.Munmap(dm.mmapData); err != nil {
			dm.file.Close()
			return NewStorageError(ErrCodeIO, "MmapDiskManager.Close", "failed to unmap file", err)
		}
		dm.mmapData = nil
	}

	if err := dm.file.Close(); err != nil {
		return NewStorageError(ErrCodeIO, "MmapDiskManager.Close", "failed to close file", err)
	}
	return flushErr
}
