// Package codeview provides the CodeView debug record layouts stored
// inside PDB streams: C13 line-info subsections and symbol records.
// All multi-byte fields are little-endian; subsection and nested record
// boundaries are padded to 4-byte multiples.
package codeview

import (
	"encoding/binary"
	"fmt"

	"gopkg.in/src-d/go-errors.v1"
)

// ErrRecordTooShort is returned when a record's fixed header does not
// fit in the remaining bytes.
var ErrRecordTooShort = errors.NewKind("%s record truncated: have %d bytes, need %d")

// DebugSubsectionKind discriminates the payload layout of a C13 debug
// subsection.
type DebugSubsectionKind uint32

const (
	// SubsectionIgnore is OR'd into the kind of subsections that
	// consumers must skip.
	SubsectionIgnore DebugSubsectionKind = 0x80000000

	SubsectionSymbols           DebugSubsectionKind = 0xf1
	SubsectionLines             DebugSubsectionKind = 0xf2
	SubsectionStringTable       DebugSubsectionKind = 0xf3
	SubsectionFileChecksums     DebugSubsectionKind = 0xf4
	SubsectionFrameData         DebugSubsectionKind = 0xf5
	SubsectionInlineeLines      DebugSubsectionKind = 0xf6
	SubsectionCrossScopeImports DebugSubsectionKind = 0xf7
	SubsectionCrossScopeExports DebugSubsectionKind = 0xf8
	SubsectionILLines           DebugSubsectionKind = 0xf9
)

// String returns the canonical name of the subsection kind.
func (k DebugSubsectionKind) String() string {
	switch k &^ SubsectionIgnore {
	case SubsectionSymbols:
		return "symbols"
	case SubsectionLines:
		return "lines"
	case SubsectionStringTable:
		return "string table"
	case SubsectionFileChecksums:
		return "file checksums"
	case SubsectionFrameData:
		return "frame data"
	case SubsectionInlineeLines:
		return "inlinee lines"
	case SubsectionCrossScopeImports:
		return "cross-scope imports"
	case SubsectionCrossScopeExports:
		return "cross-scope exports"
	case SubsectionILLines:
		return "IL lines"
	default:
		return fmt.Sprintf("0x%x", uint32(k))
	}
}

// DebugSubsectionHeader prefixes every C13 debug subsection. Size
// counts the payload only, not the header itself.
type DebugSubsectionHeader struct {
	Kind DebugSubsectionKind
	Size uint32
}

// DebugSubsectionHeaderSize is the encoded size of DebugSubsectionHeader.
const DebugSubsectionHeaderSize = 8

// ParseDebugSubsectionHeader decodes a subsection header from the start
// of data.
func ParseDebugSubsectionHeader(data []byte) (DebugSubsectionHeader, error) {
	if len(data) < DebugSubsectionHeaderSize {
		return DebugSubsectionHeader{}, ErrRecordTooShort.New("subsection header", len(data), DebugSubsectionHeaderSize)
	}
	return DebugSubsectionHeader{
		Kind: DebugSubsectionKind(binary.LittleEndian.Uint32(data)),
		Size: binary.LittleEndian.Uint32(data[4:]),
	}, nil
}

// LinesHeader is the fixed header of a lines subsection, describing the
// code range the line records cover.
type LinesHeader struct {
	SectionOffset uint32 // offset of the code within its section
	SectionIndex  uint16
	Flags         uint16
	CodeSize      uint32 // byte size of the covered code range
}

// LinesHeaderSize is the encoded size of LinesHeader.
const LinesHeaderSize = 12

// LinesHaveColumns is set in LinesHeader.Flags when column records
// follow each run of line records.
const LinesHaveColumns = 0x0001

// ParseLinesHeader decodes a LinesHeader from the start of data.
func ParseLinesHeader(data []byte) (LinesHeader, error) {
	if len(data) < LinesHeaderSize {
		return LinesHeader{}, ErrRecordTooShort.New("lines header", len(data), LinesHeaderSize)
	}
	return LinesHeader{
		SectionOffset: binary.LittleEndian.Uint32(data),
		SectionIndex:  binary.LittleEndian.Uint16(data[4:]),
		Flags:         binary.LittleEndian.Uint16(data[6:]),
		CodeSize:      binary.LittleEndian.Uint32(data[8:]),
	}, nil
}

// LinesFileBlockHeader prefixes the run of line records for one source
// file. Size counts the whole block, this header included.
type LinesFileBlockHeader struct {
	FileChecksumOffset uint32 // offset of the file's entry in the checksums subsection
	NumLines           uint32
	Size               uint32
}

// LinesFileBlockHeaderSize is the encoded size of LinesFileBlockHeader.
const LinesFileBlockHeaderSize = 12

// ParseLinesFileBlockHeader decodes a LinesFileBlockHeader from the
// start of data.
func ParseLinesFileBlockHeader(data []byte) (LinesFileBlockHeader, error) {
	if len(data) < LinesFileBlockHeaderSize {
		return LinesFileBlockHeader{}, ErrRecordTooShort.New("lines file block header", len(data), LinesFileBlockHeaderSize)
	}
	return LinesFileBlockHeader{
		FileChecksumOffset: binary.LittleEndian.Uint32(data),
		NumLines:           binary.LittleEndian.Uint32(data[4:]),
		Size:               binary.LittleEndian.Uint32(data[8:]),
	}, nil
}

// Line maps one code offset to a source line. The line numbers and the
// statement flag are packed into the second word of the record.
type Line struct {
	Offset       uint32 // code offset relative to the lines header
	LineNumStart uint32 // starting line number (24 bits)
	DeltaLineEnd uint32 // lines spanned beyond LineNumStart (7 bits)
	IsStatement  bool
}

// LineSize is the encoded size of one line record.
const LineSize = 8

// ParseLine decodes one line record from the start of data.
func ParseLine(data []byte) (Line, error) {
	if len(data) < LineSize {
		return Line{}, ErrRecordTooShort.New("line", len(data), LineSize)
	}
	packed := binary.LittleEndian.Uint32(data[4:])
	return Line{
		Offset:       binary.LittleEndian.Uint32(data),
		LineNumStart: packed & 0x00ffffff,
		DeltaLineEnd: (packed >> 24) & 0x7f,
		IsStatement:  packed&0x80000000 != 0,
	}, nil
}

// ChecksumKind identifies the hash algorithm of a file checksum entry.
type ChecksumKind uint8

const (
	ChecksumNone   ChecksumKind = 0
	ChecksumMD5    ChecksumKind = 1
	ChecksumSHA1   ChecksumKind = 2
	ChecksumSHA256 ChecksumKind = 3
)

// String returns the algorithm name.
func (k ChecksumKind) String() string {
	switch k {
	case ChecksumNone:
		return "none"
	case ChecksumMD5:
		return "MD5"
	case ChecksumSHA1:
		return "SHA1"
	case ChecksumSHA256:
		return "SHA256"
	default:
		return fmt.Sprintf("0x%x", uint8(k))
	}
}

// FileChecksumHeader prefixes one variable-length entry of the file
// checksums subsection; ChecksumSize bytes of hash follow it.
type FileChecksumHeader struct {
	FilenameOffset uint32 // offset of the file name in the /names string table
	ChecksumSize   uint8
	ChecksumKind   ChecksumKind
}

// FileChecksumHeaderSize is the encoded size of FileChecksumHeader.
const FileChecksumHeaderSize = 6

// ParseFileChecksumHeader decodes a FileChecksumHeader from the start
// of data.
func ParseFileChecksumHeader(data []byte) (FileChecksumHeader, error) {
	if len(data) < FileChecksumHeaderSize {
		return FileChecksumHeader{}, ErrRecordTooShort.New("file checksum header", len(data), FileChecksumHeaderSize)
	}
	return FileChecksumHeader{
		FilenameOffset: binary.LittleEndian.Uint32(data),
		ChecksumSize:   data[4],
		ChecksumKind:   ChecksumKind(data[5]),
	}, nil
}
