package msf

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func encodeDirectory(sizes []uint32, blocks [][]uint32) []byte {
	var dir []byte
	put := func(v uint32) {
		var tmp [4]byte
		binary.LittleEndian.PutUint32(tmp[:], v)
		dir = append(dir, tmp[:]...)
	}
	put(uint32(len(sizes)))
	for _, size := range sizes {
		put(size)
	}
	for _, list := range blocks {
		for _, blk := range list {
			put(blk)
		}
	}
	return dir
}

// TestDirectoryCursorMonotonicity checks the single left-to-right pass
// over the block-index region: each stream's recorded range starts
// exactly where the previous stream's range ends.
func TestDirectoryCursorMonotonicity(t *testing.T) {
	sizes := []uint32{0, 600, 512, 10}
	blocks := [][]uint32{nil, {3, 6}, {4}, {5}}
	dir := encodeDirectory(sizes, blocks)

	f := &RawFile{
		superBlock: &SuperBlock{BlockSize: 512, NumBlocks: 100},
		directory:  &CoalescedStream{data: dir, size: uint32(len(dir))},
	}
	require.NoError(t, f.parseDirectory())
	require.Len(t, f.streams, 4)

	// The block-index region starts after the count and the size
	// table.
	tableEnd := uint32(4 + 4*len(sizes))
	cursor := tableEnd
	for i, e := range f.streams {
		if sizes[i] == 0 {
			continue
		}
		require.Equal(t, cursor, e.indexOff, "stream %d", i)
		require.Equal(t, BlockCountForSize(sizes[i], 512), e.blockCount, "stream %d", i)
		cursor += 4 * e.blockCount
	}
	require.Equal(t, uint32(len(dir)), cursor)
}

func TestParseDirectoryRejectsWildBlockIndex(t *testing.T) {
	dir := encodeDirectory([]uint32{100}, [][]uint32{{42}})
	f := &RawFile{
		superBlock: &SuperBlock{BlockSize: 512, NumBlocks: 10},
		directory:  &CoalescedStream{data: dir, size: uint32(len(dir))},
	}
	err := f.parseDirectory()
	require.True(t, ErrBlockOutOfRange.Is(err))
}

// TestCoalescedAliasesContiguousRuns checks that a stream whose blocks
// are consecutive in the file is served without copying, while a
// scattered stream is materialized into its own buffer.
func TestCoalescedAliasesContiguousRuns(t *testing.T) {
	const blockSize = 512
	base := make([]byte, 4*blockSize)
	for i := range base {
		base[i] = byte(i)
	}

	indices := func(list ...uint32) blockIndices {
		var buf []byte
		for _, v := range list {
			var tmp [4]byte
			binary.LittleEndian.PutUint32(tmp[:], v)
			buf = append(buf, tmp[:]...)
		}
		return blockIndices{buf: buf, count: uint32(len(list))}
	}

	contiguous := newCoalescedStream(base, blockSize, indices(1, 2), 700)
	base[blockSize] = 0xAB
	require.Equal(t, byte(0xAB), contiguous.Data()[0], "contiguous view should alias the base buffer")

	scattered := newCoalescedStream(base, blockSize, indices(2, 1), 700)
	before := scattered.Data()[0]
	base[2*blockSize] ^= 0xFF
	require.Equal(t, before, scattered.Data()[0], "scattered view should own its copy")
}
