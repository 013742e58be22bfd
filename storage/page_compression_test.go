package storage

import (
	"crypto/rand"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func patternedPage() []byte {
	data := make([]byte, PageSize)
	for i := range data {
		data[i] = byte(i % 100)
	}
	return data
}

func TestEncodeDecodePageSlot(t *testing.T) {
	for _, ct := range []CompressionType{CompressionNone, CompressionLZ4, CompressionSnappy} {
		t.Run(ct.String(), func(t *testing.T) {
			data := patternedPage()

			slot, err := EncodePageSlot(data, ct)
			require.NoError(t, err)
			assert.LessOrEqual(t, len(slot), CompressedSlotSize)
			assert.Equal(t, uint16(CompressedPageMagic), binary.LittleEndian.Uint16(slot[0:2]))
			assert.Equal(t, uint8(ct), slot[2])
			if ct != CompressionNone {
				assert.Less(t, len(slot), PageSize/2, "patterned page should shrink")
			}

			// Slot images are read back at full slot length
			full := make([]byte, CompressedSlotSize)
			copy(full, slot)

			decoded, err := DecodePageSlot(full)
			require.NoError(t, err)
			assert.Equal(t, data, decoded)
		})
	}
}

func TestEncodePageSlotFallsBackToRaw(t *testing.T) {
	data := make([]byte, PageSize)
	_, err := rand.Read(data)
	require.NoError(t, err)

	for _, ct := range []CompressionType{CompressionLZ4, CompressionSnappy} {
		slot, err := EncodePageSlot(data, ct)
		require.NoError(t, err)

		assert.Equal(t, uint8(CompressionNone), slot[2], "random data is stored raw")
		assert.Len(t, slot, CompressedSlotSize)

		decoded, err := DecodePageSlot(slot)
		require.NoError(t, err)
		assert.Equal(t, data, decoded)
	}
}

func TestDecodePageSlotZeroHeader(t *testing.T) {
	decoded, err := DecodePageSlot(make([]byte, CompressedSlotSize))
	require.NoError(t, err)
	assert.Equal(t, make([]byte, PageSize), decoded)
}

func TestDecodePageSlotRejectsGarbage(t *testing.T) {
	slot := make([]byte, CompressedSlotSize)
	binary.LittleEndian.PutUint16(slot[0:2], 0xBEEF)
	slot[4] = 1

	_, err := DecodePageSlot(slot)
	assert.Error(t, err)

	// Payload length past the end of the slot
	binary.LittleEndian.PutUint16(slot[0:2], CompressedPageMagic)
	binary.LittleEndian.PutUint32(slot[4:8], CompressedSlotSize)
	_, err = DecodePageSlot(slot)
	assert.Error(t, err)

	_, err = DecodePageSlot(slot[:4])
	assert.Error(t, err)
}

func TestEncodePageSlotValidates(t *testing.T) {
	_, err := EncodePageSlot(make([]byte, 100), CompressionLZ4)
	assert.Error(t, err)

	_, err = EncodePageSlot(make([]byte, PageSize), CompressionType(9))
	assert.Error(t, err)
}

func TestParseCompressionType(t *testing.T) {
	tests := map[string]CompressionType{
		"":       CompressionNone,
		"none":   CompressionNone,
		"LZ4":    CompressionLZ4,
		"snappy": CompressionSnappy,
	}
	for name, want := range tests {
		got, err := ParseCompressionType(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	_, err := ParseCompressionType("zstd")
	assert.Error(t, err)
}
