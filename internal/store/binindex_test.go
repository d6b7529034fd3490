package store

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestIndex(t *testing.T, width int) (*BinaryIndex, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), BinaryIndexFileName)
	x, err := OpenBinaryIndex(path, width)
	require.NoError(t, err)
	t.Cleanup(func() { _ = x.Close() })
	return x, path
}

func TestBinaryIndexAppendAndCount(t *testing.T) {
	x, _ := openTestIndex(t, 8)

	for i := uint64(0); i < 10; i++ {
		require.NoError(t, x.Append(i, []byte{byte(i), 0, 0, 0, 0, 0, 0, 0}))
	}
	assert.Equal(t, 10, x.LiveCount())
	assert.True(t, x.Contains(3))
	assert.False(t, x.Contains(99))
}

func TestBinaryIndexTombstone(t *testing.T) {
	x, _ := openTestIndex(t, 8)
	code := make([]byte, 8)

	require.NoError(t, x.Append(1, code))
	require.NoError(t, x.Append(2, code))
	require.NoError(t, x.Tombstone(1))

	assert.Equal(t, 1, x.LiveCount())
	assert.False(t, x.Contains(1))
	assert.True(t, x.Contains(2))

	hits, err := x.SearchTopK(code, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, uint64(2), hits[0].IDHash)
}

func TestBinaryIndexSearchOrdering(t *testing.T) {
	x, _ := openTestIndex(t, 1)

	// Distances from query 0x00: 0, 1, 2, 8 bits.
	require.NoError(t, x.Append(10, []byte{0x00}))
	require.NoError(t, x.Append(11, []byte{0x01}))
	require.NoError(t, x.Append(12, []byte{0x03}))
	require.NoError(t, x.Append(13, []byte{0xFF}))

	hits, err := x.SearchTopK([]byte{0x00}, 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, uint64(10), hits[0].IDHash)
	assert.Equal(t, uint64(11), hits[1].IDHash)
	assert.Equal(t, uint64(12), hits[2].IDHash)
	assert.Equal(t, []int{0, 1, 2}, []int{hits[0].Distance, hits[1].Distance, hits[2].Distance})
}

func TestBinaryIndexPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), BinaryIndexFileName)
	x, err := OpenBinaryIndex(path, 2)
	require.NoError(t, err)
	require.NoError(t, x.Append(7, []byte{0xAA, 0xBB}))
	require.NoError(t, x.Append(8, []byte{0xCC, 0xDD}))
	require.NoError(t, x.Tombstone(7))
	require.NoError(t, x.Close())

	y, err := OpenBinaryIndex(path, 2)
	require.NoError(t, err)
	defer func() { _ = y.Close() }()

	assert.Equal(t, 1, y.LiveCount())
	assert.False(t, y.Contains(7))
	assert.True(t, y.Contains(8))
}

func TestBinaryIndexIgnoresTruncatedTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), BinaryIndexFileName)
	x, err := OpenBinaryIndex(path, 4)
	require.NoError(t, err)
	require.NoError(t, x.Append(1, []byte{1, 2, 3, 4}))
	require.NoError(t, x.Append(2, []byte{5, 6, 7, 8}))
	require.NoError(t, x.Close())

	// Simulate a crash mid-append: bump the header count past the data.
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	require.NoError(t, err)
	var cnt [8]byte
	binary.LittleEndian.PutUint64(cnt[:], 5)
	_, err = f.WriteAt(cnt[:], 12)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	y, err := OpenBinaryIndex(path, 4)
	require.NoError(t, err)
	defer func() { _ = y.Close() }()
	assert.Equal(t, 2, y.LiveCount())
}

func TestBinaryIndexRejectsWrongWidth(t *testing.T) {
	x, _ := openTestIndex(t, 8)
	assert.Error(t, x.Append(1, []byte{1, 2}))
	_, err := x.SearchTopK([]byte{1, 2}, 5)
	assert.Error(t, err)
}

func TestHammingDistance(t *testing.T) {
	assert.Equal(t, 0, hammingDistance([]byte{0xFF}, []byte{0xFF}))
	assert.Equal(t, 8, hammingDistance([]byte{0x00}, []byte{0xFF}))
	assert.Equal(t, 1, hammingDistance([]byte{0x01, 0x00}, []byte{0x00, 0x00}))
}
