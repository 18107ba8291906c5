package msf

import (
	"encoding/binary"

	"gopkg.in/src-d/go-errors.v1"
)

var (
	// ErrStreamOutOfRange is returned for stream indices outside the
	// directory.
	ErrStreamOutOfRange = errors.NewKind("stream index %d out of range [0, %d)")

	// ErrStreamSizeTooLarge is returned when an explicit view size
	// exceeds the stream's recorded size.
	ErrStreamSizeTooLarge = errors.NewKind("requested size %d exceeds stream %d size %d")

	// ErrDirectoryTooShort is returned when the stream directory's
	// declared contents do not fit its own byte size.
	ErrDirectoryTooShort = errors.NewKind("stream directory truncated: need %d bytes, have %d")

	// ErrBlockOutOfRange is returned when a block index points outside
	// the file.
	ErrBlockOutOfRange = errors.NewKind("block index %d outside file with %d blocks")
)

// DeletedStreamSize marks an unused directory slot. Such streams read
// as empty and occupy no blocks.
const DeletedStreamSize = 0xFFFFFFFF

// streamEntry records where one stream's block-index array lives inside
// the directory arena. Arrays are addressed as ranges rather than
// interior pointers so the RawFile value can be copied freely without
// invalidating derived views.
type streamEntry struct {
	size       uint32 // logical byte size, 0 for deleted streams
	indexOff   uint32 // byte offset of the block-index array in the arena
	blockCount uint32
}

// RawFile is the parsed MSF container. It borrows the base buffer and
// owns exactly one materialized stream: the directory, whose arena
// backs every stream's block-index array. The base buffer must stay
// alive and unmodified for as long as the RawFile or any stream view
// derived from it is in use.
type RawFile struct {
	data       []byte
	superBlock *SuperBlock
	directory  *CoalescedStream
	streams    []streamEntry
}

// NewRawFile parses the super block and the stream directory of the
// container held in data. Construction is strict: a truncated buffer,
// a directory whose declared contents overflow its size, or a block
// index pointing outside the file all yield typed errors.
func NewRawFile(data []byte) (*RawFile, error) {
	sb, err := ParseSuperBlock(data)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) < sb.FileSize() {
		return nil, ErrBufferTooShort.New(len(data), sb.FileSize())
	}
	if sb.BlockMapAddr >= sb.NumBlocks {
		return nil, ErrBlockOutOfRange.New(sb.BlockMapAddr, sb.NumBlocks)
	}

	// The directory's own block-index array lives in the block named by
	// BlockMapAddr.
	dirBlockCount := sb.NumDirectoryBlocks()
	mapOffset := FileOffsetForBlock(sb.BlockMapAddr, sb.BlockSize)
	if int64(dirBlockCount)*4 > int64(sb.BlockSize) {
		return nil, ErrDirectoryTooShort.New(dirBlockCount*4, sb.BlockSize)
	}
	dirIndices := blockIndices{buf: data, off: mapOffset, count: dirBlockCount}
	for i := uint32(0); i < dirBlockCount; i++ {
		if idx := dirIndices.at(i); idx >= sb.NumBlocks {
			return nil, ErrBlockOutOfRange.New(idx, sb.NumBlocks)
		}
	}

	// The directory is the one stream the container always coalesces:
	// its layout is needed before any other stream can be interpreted.
	f := &RawFile{
		data:       data,
		superBlock: sb,
		directory:  newCoalescedStream(data, sb.BlockSize, dirIndices, sb.NumDirectoryBytes),
	}
	if err := f.parseDirectory(); err != nil {
		return nil, err
	}
	return f, nil
}

// parseDirectory decodes the materialized directory stream:
//
//	uint32 streamCount
//	uint32 streamSizes[streamCount]
//	uint32 streamBlocks[streamCount][]
//
// The block-index arrays carry no explicit lengths; each one's length
// is derived from its own stream's size, so the region is walked once
// left to right, in directory order.
func (f *RawFile) parseDirectory() error {
	head, err := f.directory.DataAt(0, 4)
	if err != nil {
		return ErrDirectoryTooShort.New(4, f.directory.Size())
	}
	count := binary.LittleEndian.Uint32(head)

	tableLen := uint64(count) * 4
	if 4+tableLen > uint64(f.directory.Size()) {
		return ErrDirectoryTooShort.New(4+tableLen, f.directory.Size())
	}
	sizeTable, _ := f.directory.DataAt(4, uint32(tableLen))

	f.streams = make([]streamEntry, count)
	cursor := uint32(4) + uint32(tableLen)
	for i := range f.streams {
		size := binary.LittleEndian.Uint32(sizeTable[4*i:])
		if size == DeletedStreamSize {
			// Deleted slot: no blocks, the cursor does not advance.
			continue
		}

		blockCount := BlockCountForSize(size, f.superBlock.BlockSize)
		if uint64(cursor)+uint64(blockCount)*4 > uint64(f.directory.Size()) {
			return ErrDirectoryTooShort.New(uint64(cursor)+uint64(blockCount)*4, f.directory.Size())
		}

		entry := streamEntry{size: size, indexOff: cursor, blockCount: blockCount}
		indices := f.blockIndicesFor(entry)
		for j := uint32(0); j < blockCount; j++ {
			if idx := indices.at(j); idx >= f.superBlock.NumBlocks {
				return ErrBlockOutOfRange.New(idx, f.superBlock.NumBlocks)
			}
		}

		f.streams[i] = entry
		cursor += blockCount * 4
	}
	return nil
}

func (f *RawFile) blockIndicesFor(e streamEntry) blockIndices {
	return blockIndices{buf: f.directory.data, off: int64(e.indexOff), count: e.blockCount}
}

func (f *RawFile) stream(index uint32) (streamEntry, error) {
	if index >= uint32(len(f.streams)) {
		return streamEntry{}, ErrStreamOutOfRange.New(index, len(f.streams))
	}
	return f.streams[index], nil
}

// SuperBlock returns the parsed super block.
func (f *RawFile) SuperBlock() *SuperBlock {
	return f.superBlock
}

// BlockSize returns the container's block size in bytes.
func (f *RawFile) BlockSize() uint32 {
	return f.superBlock.BlockSize
}

// StreamCount returns the number of directory entries, deleted slots
// included.
func (f *RawFile) StreamCount() uint32 {
	return uint32(len(f.streams))
}

// StreamSize returns the byte size of the stream at index. Deleted
// streams report size 0.
func (f *RawFile) StreamSize(index uint32) (uint32, error) {
	e, err := f.stream(index)
	if err != nil {
		return 0, err
	}
	return e.size, nil
}

// StreamBlocks returns a copy of the ordered block-index list for the
// stream at index.
func (f *RawFile) StreamBlocks(index uint32) ([]uint32, error) {
	e, err := f.stream(index)
	if err != nil {
		return nil, err
	}
	indices := f.blockIndicesFor(e)
	blocks := make([]uint32, e.blockCount)
	for i := range blocks {
		blocks[i] = indices.at(uint32(i))
	}
	return blocks, nil
}

// OpenDirect returns a lazily-addressed view of the stream at index.
func (f *RawFile) OpenDirect(index uint32) (*DirectStream, error) {
	e, err := f.stream(index)
	if err != nil {
		return nil, err
	}
	return newDirectStream(f.data, f.superBlock.BlockSize, f.blockIndicesFor(e), e.size), nil
}

// OpenDirectSize returns a lazily-addressed view of the first size
// bytes of the stream at index, for consumers that only care about a
// prefix of the stream.
func (f *RawFile) OpenDirectSize(index, size uint32) (*DirectStream, error) {
	e, err := f.stream(index)
	if err != nil {
		return nil, err
	}
	if size > e.size {
		return nil, ErrStreamSizeTooLarge.New(size, index, e.size)
	}
	return newDirectStream(f.data, f.superBlock.BlockSize, f.blockIndicesFor(e), size), nil
}

// OpenCoalesced returns a materialized, contiguous view of the stream
// at index.
func (f *RawFile) OpenCoalesced(index uint32) (*CoalescedStream, error) {
	e, err := f.stream(index)
	if err != nil {
		return nil, err
	}
	return newCoalescedStream(f.data, f.superBlock.BlockSize, f.blockIndicesFor(e), e.size), nil
}

// OpenCoalescedSize returns a materialized view of the first size bytes
// of the stream at index.
func (f *RawFile) OpenCoalescedSize(index, size uint32) (*CoalescedStream, error) {
	e, err := f.stream(index)
	if err != nil {
		return nil, err
	}
	if size > e.size {
		return nil, ErrStreamSizeTooLarge.New(size, index, e.size)
	}
	return newCoalescedStream(f.data, f.superBlock.BlockSize, f.blockIndicesFor(e), size), nil
}
