package msf

import (
	"encoding/binary"
	"io"

	"gopkg.in/src-d/go-errors.v1"
)

// ErrReadOutOfBounds is returned when a read range exceeds a stream's
// logical size.
var ErrReadOutOfBounds = errors.NewKind("read of %d bytes at offset %d exceeds stream size %d")

// Stream provides random access to a logical MSF stream. Reads behave
// as if the stream were one contiguous byte range, regardless of how
// its blocks are scattered through the file.
type Stream interface {
	// Size returns the logical size of the stream in bytes.
	Size() uint32

	// ReadAt implements io.ReaderAt over the logical stream.
	io.ReaderAt
}

// blockIndices locates one stream's block-index array: count uint32s
// starting at byte offset off within buf. For ordinary streams buf is
// the directory arena owned by a RawFile; for the directory stream
// itself it is the base buffer.
type blockIndices struct {
	buf   []byte
	off   int64
	count uint32
}

func (b blockIndices) at(i uint32) uint32 {
	return binary.LittleEndian.Uint32(b.buf[b.off+int64(i)*4:])
}

// DirectStream is the lazily-addressed stream view: it holds no copy
// of the stream's bytes and resolves block indices on every read.
type DirectStream struct {
	data      []byte
	blockSize uint32
	blocks    blockIndices
	size      uint32
}

func newDirectStream(data []byte, blockSize uint32, blocks blockIndices, size uint32) *DirectStream {
	return &DirectStream{
		data:      data,
		blockSize: blockSize,
		blocks:    blocks,
		size:      size,
	}
}

// Size returns the logical size of the stream in bytes.
func (s *DirectStream) Size() uint32 {
	return s.size
}

// ReadAt reads len(p) bytes starting at the logical stream offset off,
// crossing block boundaries as needed. It returns io.EOF when the read
// extends past the end of the stream.
func (s *DirectStream) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, ErrReadOutOfBounds.New(len(p), off, s.size)
	}

	size := int64(s.size)
	if off >= size {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}

	total := 0
	blockSize := int64(s.blockSize)
	for len(p) > 0 && off < size {
		posInBlock := off % blockSize
		n := blockSize - posInBlock
		if remaining := size - off; n > remaining {
			n = remaining
		}
		if int64(len(p)) < n {
			n = int64(len(p))
		}

		blockIndex := s.blocks.at(uint32(off / blockSize))
		fileOffset := FileOffsetForBlock(blockIndex, s.blockSize) + posInBlock
		copy(p[:n], s.data[fileOffset:fileOffset+n])

		p = p[n:]
		off += n
		total += int(n)
	}

	if len(p) > 0 {
		return total, io.EOF
	}
	return total, nil
}

// CoalescedStream is the materialized stream view: construction
// resolves the block list once into a single contiguous range, after
// which every access is a plain slice operation. When the stream's
// blocks happen to be consecutive in the file, the view aliases the
// base buffer directly instead of copying.
type CoalescedStream struct {
	// data holds whole blocks, so len(data) is the block count times
	// the block size; the logical stream is the first size bytes.
	data []byte
	size uint32
}

func newCoalescedStream(data []byte, blockSize uint32, blocks blockIndices, size uint32) *CoalescedStream {
	count := BlockCountForSize(size, blockSize)
	if count == 0 {
		return &CoalescedStream{}
	}

	first := blocks.at(0)
	contiguous := true
	for i := uint32(1); i < count; i++ {
		if blocks.at(i) != first+i {
			contiguous = false
			break
		}
	}

	if contiguous {
		offset := FileOffsetForBlock(first, blockSize)
		return &CoalescedStream{
			data: data[offset : offset+int64(count)*int64(blockSize)],
			size: size,
		}
	}

	buf := make([]byte, int64(count)*int64(blockSize))
	for i := uint32(0); i < count; i++ {
		offset := FileOffsetForBlock(blocks.at(i), blockSize)
		copy(buf[int64(i)*int64(blockSize):], data[offset:offset+int64(blockSize)])
	}
	return &CoalescedStream{data: buf, size: size}
}

// Size returns the logical size of the stream in bytes.
func (s *CoalescedStream) Size() uint32 {
	return s.size
}

// Data returns the stream's bytes as one contiguous slice. The slice
// must not be modified.
func (s *CoalescedStream) Data() []byte {
	return s.data[:s.size]
}

// DataAt returns n bytes starting at off without copying.
func (s *CoalescedStream) DataAt(off, n uint32) ([]byte, error) {
	if uint64(off)+uint64(n) > uint64(s.size) {
		return nil, ErrReadOutOfBounds.New(n, off, s.size)
	}
	return s.data[off : off+n], nil
}

// ReadAt implements io.ReaderAt over the logical stream.
func (s *CoalescedStream) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, ErrReadOutOfBounds.New(len(p), off, s.size)
	}
	size := int64(s.size)
	if off >= size {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	n := copy(p, s.data[off:size])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// StreamReader adapts any Stream for sequential consumers, implementing
// io.Reader and io.Seeker.
type StreamReader struct {
	stream Stream
	offset int64
}

// NewStreamReader creates a reader positioned at the start of s.
func NewStreamReader(s Stream) *StreamReader {
	return &StreamReader{stream: s}
}

// Read implements io.Reader.
func (r *StreamReader) Read(p []byte) (int, error) {
	n, err := r.stream.ReadAt(p, r.offset)
	r.offset += int64(n)
	return n, err
}

// Seek implements io.Seeker. The position is clamped to the stream
// bounds.
func (r *StreamReader) Seek(offset int64, whence int) (int64, error) {
	var newOffset int64
	switch whence {
	case io.SeekStart:
		newOffset = offset
	case io.SeekCurrent:
		newOffset = r.offset + offset
	case io.SeekEnd:
		newOffset = int64(r.stream.Size()) + offset
	}

	if newOffset < 0 {
		newOffset = 0
	}
	if max := int64(r.stream.Size()); newOffset > max {
		newOffset = max
	}

	r.offset = newOffset
	return r.offset, nil
}

// ReadAll reads the entire stream into a new byte slice.
func ReadAll(s Stream) ([]byte, error) {
	data := make([]byte, s.Size())
	if _, err := io.ReadFull(NewStreamReader(s), data); err != nil {
		return nil, err
	}
	return data, nil
}
