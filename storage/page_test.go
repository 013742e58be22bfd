package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageHandleIsACopy(t *testing.T) {
	src := make([]byte, PageSize)
	copy(src, "original")

	page := newPageHandle(7, src)
	assert.Equal(t, PageID(7), page.GetPageId())
	require.Len(t, page.GetData(), PageSize)

	src[0] = 'X'
	assert.Equal(t, byte('o'), page.GetData()[0])

	page.GetData()[1] = 'Y'
	assert.Equal(t, byte('r'), src[1])
}

func TestPageHandleFromPool(t *testing.T) {
	bpm := newTestPool(t, 2, NewMemoryDiskManager())

	page, err := bpm.NewPage()
	require.NoError(t, err)

	// Local edits stay local until written back
	copy(page.GetData(), "local")
	read, err := bpm.ReadPage(page.GetPageId())
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 5), read.GetData()[:5])

	require.NoError(t, bpm.WritePage(page.GetPageId(), 0, page.GetData()))
	read, err = bpm.ReadPage(page.GetPageId())
	require.NoError(t, err)
	assert.Equal(t, []byte("local"), read.GetData()[:5])
}

func TestFrameReset(t *testing.T) {
	f := newFrame()
	f.pageId = 3
	f.pinCount = 2
	f.isDirty = true
	f.data[10] = 1

	f.reset()

	assert.Equal(t, InvalidPageID, f.pageId)
	assert.Equal(t, int32(0), f.pinCount)
	assert.False(t, f.isDirty)
	assert.Equal(t, make([]byte, PageSize), f.data)
	assert.False(t, PageID(0).IsValid())
	assert.True(t, PageID(1).IsValid())
}
