package storage

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/golang/snappy"
	"github.com/pierrec/lz4/v4"
)

// CompressionType represents the compression algorithm used for a page slot
type CompressionType uint8

const (
	CompressionNone   CompressionType = 0
	CompressionLZ4    CompressionType = 1
	CompressionSnappy CompressionType = 2
)

// Compressed slot layout:
// [0-1]: Magic number (0xC0DE)
// [2]:   Compression type (0=none, 1=LZ4, 2=Snappy)
// [3]:   Reserved
// [4-7]: Payload length
// [8+]:  Payload
//
// A compressed data file stores page id at offset id*CompressedSlotSize so
// an incompressible page still fits next to its header.
const (
	CompressedPageMagic       = 0xC0DE
	CompressedHeaderSize      = 8
	CompressedSlotSize        = PageSize + CompressedHeaderSize
	MinCompressionSavings     = 64 // Minimum bytes saved to keep the compressed form
	compressionTypeNameNone   = "none"
	compressionTypeNameLZ4    = "lz4"
	compressionTypeNameSnappy = "snappy"
)

// String returns the configuration name of the compression type
func (ct CompressionType) String() string {
	switch ct {
	case CompressionNone:
		return compressionTypeNameNone
	case CompressionLZ4:
		return compressionTypeNameLZ4
	case CompressionSnappy:
		return compressionTypeNameSnappy
	default:
		return fmt.Sprintf("compression(%d)", uint8(ct))
	}
}

// ParseCompressionType maps a configuration name to a CompressionType
func ParseCompressionType(name string) (CompressionType, error) {
	switch strings.ToLower(name) {
	case "", compressionTypeNameNone:
		return CompressionNone, nil
	case compressionTypeNameLZ4:
		return CompressionLZ4, nil
	case compressionTypeNameSnappy:
		return CompressionSnappy, nil
	default:
		return CompressionNone, fmt.Errorf("unsupported compression type: %q", name)
	}
}

// EncodePageSlot compresses a page and returns header plus payload, ready to
// be written at the start of the page's slot.
func EncodePageSlot(data []byte, compressionType CompressionType) ([]byte, error) {
	if len(data) != PageSize {
		return nil, fmt.Errorf("page data must be exactly %d bytes, got %d", PageSize, len(data))
	}

	var payload []byte

	switch compressionType {
	case CompressionNone:
		payload = data

	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, fmt.Errorf("LZ4 compression failed: %w", err)
		}
		// n == 0 means the block is incompressible
		payload = buf[:n]

	case CompressionSnappy:
		payload = snappy.Encode(nil, data)

	default:
		return nil, fmt.Errorf("unsupported compression type: %d", compressionType)
	}

	// Fall back to the raw form when compression does not pay off
	if compressionType != CompressionNone {
		if len(payload) == 0 || len(data)-len(payload) < MinCompressionSavings {
			compressionType = CompressionNone
			payload = data
		}
	}

	slot := make([]byte, CompressedHeaderSize+len(payload))
	binary.LittleEndian.PutUint16(slot[0:2], CompressedPageMagic)
	slot[2] = uint8(compressionType)
	slot[3] = 0
	binary.LittleEndian.PutUint32(slot[4:8], uint32(len(payload)))
	copy(slot[CompressedHeaderSize:], payload)

	return slot, nil
}

// DecodePageSlot restores a page from a slot image. A slot whose header is
// all zeros was never written and decodes to a zero page.
func DecodePageSlot(slot []byte) ([]byte, error) {
	if len(slot) < CompressedHeaderSize {
		return nil, fmt.Errorf("slot too short for header: %d bytes", len(slot))
	}

	magic := binary.LittleEndian.Uint16(slot[0:2])
	if magic == 0 && slot[2] == 0 && binary.LittleEndian.Uint32(slot[4:8]) == 0 {
		return make([]byte, PageSize), nil
	}
	if magic != CompressedPageMagic {
		return nil, fmt.Errorf("invalid magic number: got %04x, expected %04x", magic, CompressedPageMagic)
	}

	compressionType := CompressionType(slot[2])
	payloadLen := int(binary.LittleEndian.Uint32(slot[4:8]))
	if CompressedHeaderSize+payloadLen > len(slot) {
		return nil, fmt.Errorf("insufficient data for slot payload: need %d bytes, have %d",
			CompressedHeaderSize+payloadLen, len(slot))
	}
	payload := slot[CompressedHeaderSize : CompressedHeaderSize+payloadLen]

	page := make([]byte, PageSize)

	switch compressionType {
	case CompressionNone:
		if payloadLen != PageSize {
			return nil, fmt.Errorf("raw payload size mismatch: got %d, expected %d", payloadLen, PageSize)
		}
		copy(page, payload)

	case CompressionLZ4:
		n, err := lz4.UncompressBlock(payload, page)
		if err != nil {
			return nil, fmt.Errorf("LZ4 decompression failed: %w", err)
		}
		if n != PageSize {
			return nil, fmt.Errorf("LZ4 decompression size mismatch: got %d, expected %d", n, PageSize)
		}

	case CompressionSnappy:
		decoded, err := snappy.Decode(page, payload)
		if err != nil {
			return nil, fmt.Errorf("snappy decompression failed: %w", err)
		}
		if len(decoded) != PageSize {
			return nil, fmt.Errorf("snappy decompression size mismatch: got %d, expected %d", len(decoded), PageSize)
		}
		page = decoded

	default:
		return nil, fmt.Errorf("unsupported compression type: %d", compressionType)
	}

	return page, nil
}
