package storage

import (
	"errors"
	"fmt"
)

// ErrorCode represents different types of storage errors
type ErrorCode int

const (
	// Generic errors
	ErrCodeUnknown ErrorCode = iota
	ErrCodeInternal
	ErrCodeInvalidArgument
	ErrCodeClosed

	// Page errors
	ErrCodePageNotFound
	ErrCodeInvalidPageID
	ErrCodePageCorrupted

	// Buffer pool errors
	ErrCodePoolExhausted
	ErrCodePagePinned
	ErrCodeInvalidPin

	// Disk errors
	ErrCodeIO
)

var errorCodeNames = map[ErrorCode]string{
	ErrCodeUnknown:         "unknown",
	ErrCodeInternal:        "internal",
	ErrCodeInvalidArgument: "invalid argument",
	ErrCodeClosed:          "closed",
	ErrCodePageNotFound:    "page not found",
	ErrCodeInvalidPageID:   "invalid page id",
	ErrCodePageCorrupted:   "page corrupted",
	ErrCodePoolExhausted:   "pool exhausted",
	ErrCodePagePinned:      "page pinned",
	ErrCodeInvalidPin:      "invalid pin",
	ErrCodeIO:              "io error",
}

// String returns a readable name for the code
func (c ErrorCode) String() string {
	if name, ok := errorCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// StorageError represents a storage engine error with context
type StorageError struct {
	Code    ErrorCode
	Message string
	Op      string // Operation that failed
	Err     error  // Underlying error (if any)
}

// Error implements the error interface
func (e *StorageError) Error() string {
	if e.Op != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is matches any StorageError carrying the same code, so the sentinels
// below work with errors.Is.
func (e *StorageError) Is(target error) bool {
	if t, ok := target.(*StorageError); ok {
		return e.Code == t.Code
	}
	return false
}

// NewStorageError creates a new storage error
func NewStorageError(code ErrorCode, op, message string, err error) *StorageError {
	return &StorageError{
		Code:    code,
		Message: message,
		Op:      op,
		Err:     err,
	}
}

// Sentinels for errors.Is
var (
	ErrPoolExhausted = &StorageError{Code: ErrCodePoolExhausted, Message: "pool exhausted"}
	ErrIO            = &StorageError{Code: ErrCodeIO, Message: "io error"}
	ErrInvalidPageID = &StorageError{Code: ErrCodeInvalidPageID, Message: "invalid page id"}
	ErrCorrupted     = &StorageError{Code: ErrCodePageCorrupted, Message: "page corrupted"}
	ErrClosed        = &StorageError{Code: ErrCodeClosed, Message: "closed"}
)

// Helper functions for common errors

func ErrPageNotFound(op string, pageID PageID) *StorageError {
	return NewStorageError(
		ErrCodePageNotFound,
		op,
		fmt.Sprintf("page %d not found in buffer pool", pageID),
		nil,
	)
}

func ErrNoFreeFrames(op string) *StorageError {
	return NewStorageError(
		ErrCodePoolExhausted,
		op,
		"no free frames available in buffer pool, every page is pinned",
		nil,
	)
}

func ErrPagePinned(op string, pageID PageID, pinCount int32) *StorageError {
	return NewStorageError(
		ErrCodePagePinned,
		op,
		fmt.Sprintf("page %d is pinned (pin count: %d)", pageID, pinCount),
		nil,
	)
}

func ErrNotPinned(op string, pageID PageID) *StorageError {
	return NewStorageError(
		ErrCodeInvalidPin,
		op,
		fmt.Sprintf("page %d is not pinned", pageID),
		nil,
	)
}

func ErrBadPageID(op string, pageID PageID) *StorageError {
	return NewStorageError(
		ErrCodeInvalidPageID,
		op,
		fmt.Sprintf("page id %d is not a valid page", pageID),
		nil,
	)
}

func ErrInvalidArgument(op, message string) *StorageError {
	return NewStorageError(ErrCodeInvalidArgument, op, message, nil)
}

func ErrDiskOperation(op string, pageID PageID, err error) *StorageError {
	return NewStorageError(
		ErrCodeIO,
		op,
		fmt.Sprintf("disk operation on page %d failed", pageID),
		err,
	)
}

func ErrPageCorrupted(op string, pageID PageID, message string) *StorageError {
	return NewStorageError(
		ErrCodePageCorrupted,
		op,
		fmt.Sprintf("page %d: %s", pageID, message),
		nil,
	)
}

// IsErrorCode checks if any error in the tree has a specific error code
func IsErrorCode(err error, code ErrorCode) bool {
	return errors.Is(err, &StorageError{Code: code})
}

// GetErrorCode returns the code of the outermost StorageError, or ErrCodeUnknown
func GetErrorCode(err error) ErrorCode {
	var se *StorageError
	if errors.As(err, &se) {
		return se.Code
	}
	return ErrCodeUnknown
}
