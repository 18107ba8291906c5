package msf_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pdbtools/gopdb/pkg/pdb/msf"
	"github.com/pdbtools/gopdb/pkg/pdb/msf/msftest"
)

// pattern fills a deterministic, position-dependent byte sequence so
// misplaced blocks show up as content mismatches.
func pattern(seed byte, n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = seed + byte(i*7)
	}
	return data
}

// buildInterleaved lays out four streams with sizes {0, 600, 512, 10}
// over block size 512, with stream 1's two blocks separated by the
// other streams' blocks.
func buildInterleaved(t *testing.T) (*msf.RawFile, [][]byte) {
	t.Helper()

	contents := [][]byte{
		nil,
		pattern(1, 600),
		pattern(2, 512),
		pattern(3, 10),
	}

	builder := msftest.NewBuilder(512)
	builder.AddStreamAt(contents[0], nil)
	builder.AddStreamAt(contents[1], []uint32{3, 6})
	builder.AddStreamAt(contents[2], []uint32{4})
	builder.AddStreamAt(contents[3], []uint32{5})

	file, err := msf.NewRawFile(builder.Build())
	require.NoError(t, err)
	return file, contents
}

func TestRawFileInterleavedRoundTrip(t *testing.T) {
	file, contents := buildInterleaved(t)

	require.Equal(t, uint32(4), file.StreamCount())

	wantBlockCounts := []int{0, 2, 1, 1}
	for i := uint32(0); i < file.StreamCount(); i++ {
		size, err := file.StreamSize(i)
		require.NoError(t, err)
		require.Equal(t, uint32(len(contents[i])), size, "stream %d size", i)

		blocks, err := file.StreamBlocks(i)
		require.NoError(t, err)
		require.Len(t, blocks, wantBlockCounts[i], "stream %d block count", i)

		direct, err := file.OpenDirect(i)
		require.NoError(t, err)
		got, err := msf.ReadAll(direct)
		require.NoError(t, err)
		require.Equal(t, len(contents[i]), len(got))
		if len(contents[i]) > 0 {
			require.Equal(t, contents[i], got, "stream %d via direct view", i)
		}

		coalesced, err := file.OpenCoalesced(i)
		require.NoError(t, err)
		require.Equal(t, len(contents[i]), len(coalesced.Data()))
		if len(contents[i]) > 0 {
			require.Equal(t, contents[i], coalesced.Data(), "stream %d via coalesced view", i)
		}
	}
}

func TestRawFileStreamOutOfRange(t *testing.T) {
	file, _ := buildInterleaved(t)

	_, err := file.StreamSize(4)
	require.True(t, msf.ErrStreamOutOfRange.Is(err))
	_, err = file.OpenDirect(100)
	require.True(t, msf.ErrStreamOutOfRange.Is(err))
	_, err = file.OpenCoalesced(100)
	require.True(t, msf.ErrStreamOutOfRange.Is(err))
}

func TestRawFilePrefixViews(t *testing.T) {
	file, contents := buildInterleaved(t)

	coalesced, err := file.OpenCoalescedSize(1, 100)
	require.NoError(t, err)
	require.Equal(t, uint32(100), coalesced.Size())
	require.Equal(t, contents[1][:100], coalesced.Data())

	direct, err := file.OpenDirectSize(1, 550)
	require.NoError(t, err)
	got, err := msf.ReadAll(direct)
	require.NoError(t, err)
	require.Equal(t, contents[1][:550], got)

	_, err = file.OpenCoalescedSize(1, 601)
	require.True(t, msf.ErrStreamSizeTooLarge.Is(err))
	_, err = file.OpenDirectSize(3, 11)
	require.True(t, msf.ErrStreamSizeTooLarge.Is(err))
}

func TestRawFileDeletedStream(t *testing.T) {
	builder := msftest.NewBuilder(512)
	builder.AddStream(pattern(9, 40))
	deleted := builder.AddDeletedStream()
	after := builder.AddStream(pattern(8, 700))

	file, err := msf.NewRawFile(builder.Build())
	require.NoError(t, err)
	require.Equal(t, uint32(3), file.StreamCount())

	size, err := file.StreamSize(deleted)
	require.NoError(t, err)
	require.Equal(t, uint32(0), size)

	view, err := file.OpenCoalesced(deleted)
	require.NoError(t, err)
	require.Empty(t, view.Data())

	// The deleted slot consumes no block indices; the next stream's
	// layout must be unaffected.
	got, err := file.OpenCoalesced(after)
	require.NoError(t, err)
	require.Equal(t, pattern(8, 700), got.Data())
}

func TestRawFileValueCopyKeepsViewsValid(t *testing.T) {
	file, contents := buildInterleaved(t)

	view, err := file.OpenDirect(1)
	require.NoError(t, err)

	// Reassigning or dropping the constructing value must not
	// invalidate a derived view.
	copied := *file
	file = nil
	_ = file

	got, err := msf.ReadAll(view)
	require.NoError(t, err)
	require.Equal(t, contents[1], got)

	size, err := copied.StreamSize(2)
	require.NoError(t, err)
	require.Equal(t, uint32(512), size)
}

// directoryOffset resolves the file offset of the directory stream's
// first block by following the super block's block map.
func directoryOffset(data []byte) int64 {
	le := binary.LittleEndian
	blockSize := le.Uint32(data[32:])
	blockMapAddr := le.Uint32(data[52:])
	firstDirBlock := le.Uint32(data[msf.FileOffsetForBlock(blockMapAddr, blockSize):])
	return msf.FileOffsetForBlock(firstDirBlock, blockSize)
}

func TestRawFileTruncatedDirectory(t *testing.T) {
	builder := msftest.NewBuilder(512)
	builder.AddStream(pattern(1, 100))
	data := builder.Build()

	// Claim a huge size for stream 0: its block-index array can no
	// longer fit in the directory.
	dirOff := directoryOffset(data)
	binary.LittleEndian.PutUint32(data[dirOff+4:], 0x7FFFFF00)

	_, err := msf.NewRawFile(data)
	require.True(t, msf.ErrDirectoryTooShort.Is(err))
}

func TestRawFileAbsurdStreamCount(t *testing.T) {
	builder := msftest.NewBuilder(512)
	builder.AddStream(pattern(1, 100))
	data := builder.Build()

	dirOff := directoryOffset(data)
	binary.LittleEndian.PutUint32(data[dirOff:], 0xFFFFFF)

	_, err := msf.NewRawFile(data)
	require.True(t, msf.ErrDirectoryTooShort.Is(err))
}

func TestRawFileBlockIndexOutOfRange(t *testing.T) {
	builder := msftest.NewBuilder(512)
	builder.AddStream(pattern(1, 100))
	data := builder.Build()

	// One stream, so its single block index sits right after the
	// count and the one-entry size table.
	dirOff := directoryOffset(data)
	binary.LittleEndian.PutUint32(data[dirOff+8:], 9999)

	_, err := msf.NewRawFile(data)
	require.True(t, msf.ErrBlockOutOfRange.Is(err))
}

func TestRawFileBufferShorterThanDeclared(t *testing.T) {
	builder := msftest.NewBuilder(512)
	builder.AddStream(pattern(1, 2000))
	data := builder.Build()

	_, err := msf.NewRawFile(data[:len(data)-512])
	require.True(t, msf.ErrBufferTooShort.Is(err))
}
