//go:build !unix

package storage

// MmapDiskManager is only available on unix systems
type MmapDiskManager struct {
	PageStore
}

// NewMmapDiskManager reports that memory-mapped storage is unsupported here
func NewMmapDiskManager(fileName string) (*MmapDiskManager, error) {
	return nil, NewStorageError(ErrCodeInvalidArgument, "NewMmapDiskManager", "mmap storage requires a unix system", nil)
}
