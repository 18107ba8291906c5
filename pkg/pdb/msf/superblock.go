// Package msf implements in-place reading of Microsoft's Multi-Stream
// Format (MSF) container, the block-structured file layout underlying PDB.
//
// An MSF file is divided into fixed-size blocks. Logical streams are
// stored as ordered lists of (possibly non-contiguous) blocks, described
// by a stream directory that is itself a stream. The package parses the
// directory over one already-loaded byte buffer and hands out stream
// views that read the scattered blocks as if they were contiguous.
package msf

import (
	"bytes"
	"encoding/binary"

	"gopkg.in/src-d/go-errors.v1"
)

// Magic is the MSF 7.00 signature at the start of every PDB file.
var Magic = []byte("Microsoft C/C++ MSF 7.00\r\n\x1aDS\x00\x00\x00")

var (
	// ErrInvalidSignature is returned when the buffer does not start
	// with the MSF 7.00 magic.
	ErrInvalidSignature = errors.NewKind("invalid MSF magic: not a PDB file")

	// ErrInvalidBlockSize is returned for block sizes other than
	// 512, 1024, 2048 or 4096.
	ErrInvalidBlockSize = errors.NewKind("invalid block size: %d")

	// ErrInvalidFreeBlockMap is returned when the free block map index
	// is neither 1 nor 2.
	ErrInvalidFreeBlockMap = errors.NewKind("invalid free block map index: %d (must be 1 or 2)")

	// ErrBufferTooShort is returned when the buffer cannot hold the
	// structure being parsed.
	ErrBufferTooShort = errors.NewKind("buffer too short: have %d bytes, need %d")
)

const (
	// MagicSize is the length of the MSF signature.
	MagicSize = 32

	// SuperBlockSize is the size of the SuperBlock structure in bytes.
	SuperBlockSize = MagicSize + 6*4
)

// SuperBlock is the fixed header at the beginning of an MSF file. All
// fields are little-endian uint32s following the 32-byte magic.
type SuperBlock struct {
	BlockSize         uint32 // bytes per block (512, 1024, 2048 or 4096)
	FreeBlockMapBlock uint32 // index of the active free block map (1 or 2)
	NumBlocks         uint32 // total number of blocks in the file
	NumDirectoryBytes uint32 // byte size of the stream directory
	Reserved          uint32
	BlockMapAddr      uint32 // block holding the directory's block-index array
}

// ValidBlockSizes are the block sizes an MSF file may use.
var ValidBlockSizes = []uint32{512, 1024, 2048, 4096}

// ParseSuperBlock interprets the first SuperBlockSize bytes of data as
// a SuperBlock and validates the magic, the block size and the free
// block map index.
func ParseSuperBlock(data []byte) (*SuperBlock, error) {
	if len(data) < SuperBlockSize {
		return nil, ErrBufferTooShort.New(len(data), SuperBlockSize)
	}
	if !bytes.Equal(data[:MagicSize], Magic) {
		return nil, ErrInvalidSignature.New()
	}

	sb := &SuperBlock{
		BlockSize:         binary.LittleEndian.Uint32(data[32:]),
		FreeBlockMapBlock: binary.LittleEndian.Uint32(data[36:]),
		NumBlocks:         binary.LittleEndian.Uint32(data[40:]),
		NumDirectoryBytes: binary.LittleEndian.Uint32(data[44:]),
		Reserved:          binary.LittleEndian.Uint32(data[48:]),
		BlockMapAddr:      binary.LittleEndian.Uint32(data[52:]),
	}

	if !isValidBlockSize(sb.BlockSize) {
		return nil, ErrInvalidBlockSize.New(sb.BlockSize)
	}
	if sb.FreeBlockMapBlock != 1 && sb.FreeBlockMapBlock != 2 {
		return nil, ErrInvalidFreeBlockMap.New(sb.FreeBlockMapBlock)
	}

	return sb, nil
}

// BlockCountForSize returns the number of blocks needed to hold size
// bytes, i.e. ceil(size/blockSize). A size of 0 needs 0 blocks.
func BlockCountForSize(size, blockSize uint32) uint32 {
	return (size + blockSize - 1) / blockSize
}

// FileOffsetForBlock returns the byte offset of a block within the
// file. No bounds checking is performed here; RawFile validates block
// indices against NumBlocks before any view can read through them.
func FileOffsetForBlock(blockIndex, blockSize uint32) int64 {
	return int64(blockIndex) * int64(blockSize)
}

// NumDirectoryBlocks returns the number of blocks occupied by the
// stream directory.
func (sb *SuperBlock) NumDirectoryBlocks() uint32 {
	return BlockCountForSize(sb.NumDirectoryBytes, sb.BlockSize)
}

// FileSize returns the expected file size based on the block count.
func (sb *SuperBlock) FileSize() int64 {
	return int64(sb.NumBlocks) * int64(sb.BlockSize)
}

func isValidBlockSize(size uint32) bool {
	for _, valid := range ValidBlockSizes {
		if size == valid {
			return true
		}
	}
	return false
}
