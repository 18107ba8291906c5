// Package msftest assembles synthetic MSF containers in memory, for
// tests that need full control over stream sizes and block placement.
package msftest

import (
	"encoding/binary"
	"fmt"

	"github.com/pdbtools/gopdb/pkg/pdb/msf"
)

// DeletedStream is the directory size marker for an unused stream slot.
const DeletedStream = 0xFFFFFFFF

// Builder accumulates streams and lays them out as a valid MSF file.
// Blocks 0 (super block), 1 and 2 (free block maps) are reserved; the
// directory and its block map are placed after the highest block in
// use.
type Builder struct {
	blockSize uint32
	sizes     []uint32
	data      [][]byte
	blocks    [][]uint32
	next      uint32
}

// NewBuilder creates a builder for containers with the given block
// size.
func NewBuilder(blockSize uint32) *Builder {
	return &Builder{blockSize: blockSize, next: 3}
}

// BlockSize returns the builder's block size.
func (b *Builder) BlockSize() uint32 {
	return b.blockSize
}

// AddStream appends a stream laid out on the next free sequential
// blocks and returns its index.
func (b *Builder) AddStream(data []byte) uint32 {
	count := blockCount(uint32(len(data)), b.blockSize)
	blocks := make([]uint32, count)
	for i := range blocks {
		blocks[i] = b.next
		b.next++
	}
	return b.AddStreamAt(data, blocks)
}

// AddStreamAt appends a stream with an explicit block placement and
// returns its index. The caller is responsible for not overlapping
// other streams' blocks.
func (b *Builder) AddStreamAt(data []byte, blocks []uint32) uint32 {
	if need := blockCount(uint32(len(data)), b.blockSize); uint32(len(blocks)) != need {
		panic(fmt.Sprintf("msftest: stream of %d bytes needs %d blocks, got %d", len(data), need, len(blocks)))
	}
	for _, blk := range blocks {
		if blk >= b.next {
			b.next = blk + 1
		}
	}
	b.sizes = append(b.sizes, uint32(len(data)))
	b.data = append(b.data, data)
	b.blocks = append(b.blocks, blocks)
	return uint32(len(b.sizes) - 1)
}

// AddDeletedStream appends an unused directory slot and returns its
// index.
func (b *Builder) AddDeletedStream() uint32 {
	b.sizes = append(b.sizes, DeletedStream)
	b.data = append(b.data, nil)
	b.blocks = append(b.blocks, nil)
	return uint32(len(b.sizes) - 1)
}

// Build assembles the container bytes.
func (b *Builder) Build() []byte {
	dir := b.directory()

	dirBlockCount := blockCount(uint32(len(dir)), b.blockSize)
	dirFirst := b.next
	blockMapAddr := dirFirst + dirBlockCount
	numBlocks := blockMapAddr + 1

	data := make([]byte, int64(numBlocks)*int64(b.blockSize))

	copy(data, msf.Magic)
	le := binary.LittleEndian
	le.PutUint32(data[32:], b.blockSize)
	le.PutUint32(data[36:], 1) // active free block map
	le.PutUint32(data[40:], numBlocks)
	le.PutUint32(data[44:], uint32(len(dir)))
	le.PutUint32(data[52:], blockMapAddr)

	writeBlocks(data, b.blockSize, sequential(dirFirst, dirBlockCount), dir)
	for i := uint32(0); i < dirBlockCount; i++ {
		le.PutUint32(data[msf.FileOffsetForBlock(blockMapAddr, b.blockSize)+int64(i)*4:], dirFirst+i)
	}

	for i, streamData := range b.data {
		writeBlocks(data, b.blockSize, b.blocks[i], streamData)
	}

	return data
}

// directory serializes the stream directory: count, size table, then
// the concatenated block-index arrays.
func (b *Builder) directory() []byte {
	var dir []byte
	dir = appendUint32(dir, uint32(len(b.sizes)))
	for _, size := range b.sizes {
		dir = appendUint32(dir, size)
	}
	for _, blocks := range b.blocks {
		for _, blk := range blocks {
			dir = appendUint32(dir, blk)
		}
	}
	return dir
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func blockCount(size, blockSize uint32) uint32 {
	if size == DeletedStream {
		return 0
	}
	return (size + blockSize - 1) / blockSize
}

func sequential(first, count uint32) []uint32 {
	blocks := make([]uint32, count)
	for i := range blocks {
		blocks[i] = first + uint32(i)
	}
	return blocks
}

func writeBlocks(file []byte, blockSize uint32, blocks []uint32, data []byte) {
	for i, blk := range blocks {
		start := i * int(blockSize)
		end := start + int(blockSize)
		if end > len(data) {
			end = len(data)
		}
		copy(file[msf.FileOffsetForBlock(blk, blockSize):], data[start:end])
	}
}
