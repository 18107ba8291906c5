// Package streams provides decoders for the well-known PDB streams and
// the per-module line-info walker built on top of the msf container.
package streams

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"gopkg.in/src-d/go-errors.v1"
)

// PDB info stream versions.
const (
	PDBVersionVC70  = 20000404
	PDBVersionVC80  = 20030901
	PDBVersionVC110 = 20091201
	PDBVersionVC140 = 20140508
)

// InfoStreamIndex is the fixed index of the PDB info stream.
const InfoStreamIndex = 1

// ErrInfoTooShort is returned when the info stream cannot hold its
// fixed header.
var ErrInfoTooShort = errors.NewKind("PDB info stream truncated: have %d bytes, need %d")

const infoHeaderSize = 28

// Info is the decoded PDB info stream: the identity of the PDB plus the
// named-stream map.
type Info struct {
	Version      uint32
	Signature    uint32 // creation timestamp
	Age          uint32
	GUID         [16]byte
	NamedStreams map[string]uint32
}

// ReadInfo decodes the PDB info stream from its raw bytes.
//
// The fixed header is followed by a serialized string table and hash
// table mapping stream names to indices. Older PDBs may omit the map
// entirely; decoding stops gracefully at the first missing piece, the
// way consumers have always treated this stream.
func ReadInfo(data []byte) (*Info, error) {
	if len(data) < infoHeaderSize {
		return nil, ErrInfoTooShort.New(len(data), infoHeaderSize)
	}

	info := &Info{
		Version:      binary.LittleEndian.Uint32(data[0:]),
		Signature:    binary.LittleEndian.Uint32(data[4:]),
		Age:          binary.LittleEndian.Uint32(data[8:]),
		NamedStreams: make(map[string]uint32),
	}
	copy(info.GUID[:], data[12:28])

	cur := cursor{data: data, off: infoHeaderSize}

	strBufSize, ok := cur.uint32()
	if !ok {
		return info, nil
	}
	strBuf, ok := cur.bytes(strBufSize)
	if !ok {
		return info, nil
	}

	// Serialized hash table: size, capacity, present/deleted bit
	// vectors, then one (name offset, stream index) pair per present
	// bucket.
	if _, ok = cur.uint32(); !ok { // entry count, implied by the bit vector
		return info, nil
	}
	capacity, ok := cur.uint32()
	if !ok {
		return info, nil
	}
	present, ok := cur.bitVector()
	if !ok {
		return info, nil
	}
	if _, ok = cur.bitVector(); !ok { // deleted buckets
		return info, nil
	}

	for i := uint32(0); i < capacity; i++ {
		if !bitSet(present, i) {
			continue
		}
		nameOffset, ok := cur.uint32()
		if !ok {
			break
		}
		streamIndex, ok := cur.uint32()
		if !ok {
			break
		}
		if nameOffset < strBufSize {
			info.NamedStreams[cStringAt(strBuf, nameOffset)] = streamIndex
		}
	}

	return info, nil
}

// GUIDString formats the GUID the way debuggers print it.
func (p *Info) GUIDString() string {
	return fmt.Sprintf("%08X%04X%04X%02X%02X%02X%02X%02X%02X%02X%02X",
		binary.LittleEndian.Uint32(p.GUID[0:4]),
		binary.LittleEndian.Uint16(p.GUID[4:6]),
		binary.LittleEndian.Uint16(p.GUID[6:8]),
		p.GUID[8], p.GUID[9], p.GUID[10], p.GUID[11],
		p.GUID[12], p.GUID[13], p.GUID[14], p.GUID[15])
}

// cursor is a bounds-checked little-endian reader over a byte slice.
type cursor struct {
	data []byte
	off  int
}

func (c *cursor) uint32() (uint32, bool) {
	if c.off+4 > len(c.data) {
		return 0, false
	}
	v := binary.LittleEndian.Uint32(c.data[c.off:])
	c.off += 4
	return v, true
}

func (c *cursor) bytes(n uint32) ([]byte, bool) {
	if uint64(c.off)+uint64(n) > uint64(len(c.data)) {
		return nil, false
	}
	b := c.data[c.off : c.off+int(n)]
	c.off += int(n)
	return b, true
}

func (c *cursor) bitVector() ([]uint32, bool) {
	count, ok := c.uint32()
	if !ok {
		return nil, false
	}
	// The word count is untrusted; widen before multiplying so it
	// cannot wrap the bounds check.
	if uint64(count)*4 > uint64(len(c.data)-c.off) {
		return nil, false
	}
	raw, _ := c.bytes(count * 4)
	words := make([]uint32, count)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(raw[i*4:])
	}
	return words, true
}

func bitSet(words []uint32, n uint32) bool {
	word := n / 32
	if word >= uint32(len(words)) {
		return false
	}
	return words[word]&(1<<(n%32)) != 0
}

func cStringAt(data []byte, off uint32) string {
	data = data[off:]
	if i := bytes.IndexByte(data, 0); i >= 0 {
		return string(data[:i])
	}
	return string(data)
}
