package streams

import (
	"gopkg.in/src-d/go-errors.v1"

	"github.com/pdbtools/gopdb/pkg/pdb/codeview"
	"github.com/pdbtools/gopdb/pkg/pdb/msf"
)

var (
	// ErrWrongSubsectionKind is returned when a kind-specific walker is
	// invoked on a subsection of another kind.
	ErrWrongSubsectionKind = errors.NewKind("subsection kind is %s, expected %s")

	// ErrSubsectionSizeMismatch is returned when a subsection's nested
	// records do not consume exactly its declared size. It signals a
	// corrupted length field somewhere in the subsection.
	ErrSubsectionSizeMismatch = errors.NewKind("subsection contents end at offset %d, declared end is %d")

	// ErrInvalidBlockLength is returned when a nested record declares a
	// length smaller than its own fixed header, which would stall the
	// walk.
	ErrInvalidBlockLength = errors.NewKind("lines file block declares %d bytes, minimum is %d")

	// ErrLineInfoOffsetOutOfRange is returned when the configured line
	// info offset lies beyond the module stream.
	ErrLineInfoOffsetOutOfRange = errors.NewKind("line info offset %d beyond stream size %d")
)

// Subsection is one C13 debug subsection: its header, its payload, and
// the byte offset of the header within the module stream. Nested
// walkers use the offset to recompute the subsection's end, so a
// Subsection stays usable after the walk that produced it has moved on.
type Subsection struct {
	Header codeview.DebugSubsectionHeader
	Offset uint32
	Data   []byte // payload, Header.Size bytes
}

// LinesBlock is the run of line records for one source file inside a
// lines subsection.
type LinesBlock struct {
	Header codeview.LinesFileBlockHeader
	Offset uint32
	rest   []byte // line (and optional column) records after the header
}

// Lines decodes the block's line records.
func (b *LinesBlock) Lines() ([]codeview.Line, error) {
	if uint64(b.Header.NumLines)*codeview.LineSize > uint64(len(b.rest)) {
		return nil, codeview.ErrRecordTooShort.New("line", len(b.rest), b.Header.NumLines*codeview.LineSize)
	}
	lines := make([]codeview.Line, b.Header.NumLines)
	for i := range lines {
		line, err := codeview.ParseLine(b.rest[i*codeview.LineSize:])
		if err != nil {
			return nil, err
		}
		lines[i] = line
	}
	return lines, nil
}

// FileChecksum is one entry of the file checksums subsection.
type FileChecksum struct {
	Header   codeview.FileChecksumHeader
	Offset   uint32
	Checksum []byte
}

// ModuleLineStream walks the C13 line-info portion of one module's
// debug stream: a sequence of length-prefixed, 4-byte-aligned debug
// subsections, with nested length-prefixed records inside the lines and
// file-checksums kinds. Every walk shares one shape: consume a fixed
// header, derive the payload length from a field inside it, round the
// cursor up to the next 4-byte boundary, repeat until a precomputed end
// offset, and verify exact arrival there.
type ModuleLineStream struct {
	stream    *msf.CoalescedStream
	c13Offset uint32
}

// NewModuleLineStream opens the module debug stream at streamIndex,
// restricted to streamSize bytes, and positions the walker at
// c13Offset, the first byte past the symbol and C11 substreams.
func NewModuleLineStream(file *msf.RawFile, streamIndex uint16, streamSize, c13Offset uint32) (*ModuleLineStream, error) {
	stream, err := file.OpenCoalescedSize(uint32(streamIndex), streamSize)
	if err != nil {
		return nil, err
	}
	return NewModuleLineStreamOn(stream, c13Offset)
}

// NewModuleLineStreamOn builds the walker over an already-opened
// module stream view.
func NewModuleLineStreamOn(stream *msf.CoalescedStream, c13Offset uint32) (*ModuleLineStream, error) {
	if c13Offset > stream.Size() {
		return nil, ErrLineInfoOffsetOutOfRange.New(c13Offset, stream.Size())
	}
	return &ModuleLineStream{stream: stream, c13Offset: c13Offset}, nil
}

// ForEachSubsection walks the debug subsections from the configured
// line info offset to the end of the stream, invoking fn for each. The
// traversal is single-pass and allocates nothing per step; fn returning
// a non-nil error stops the walk and the error is propagated.
func (s *ModuleLineStream) ForEachSubsection(fn func(*Subsection) error) error {
	offset := uint64(s.c13Offset)
	size := uint64(s.stream.Size())

	for offset < size {
		raw, err := s.stream.DataAt(uint32(offset), codeview.DebugSubsectionHeaderSize)
		if err != nil {
			return err
		}
		header, err := codeview.ParseDebugSubsectionHeader(raw)
		if err != nil {
			return err
		}

		payload, err := s.stream.DataAt(uint32(offset)+codeview.DebugSubsectionHeaderSize, header.Size)
		if err != nil {
			return err
		}

		err = fn(&Subsection{Header: header, Offset: uint32(offset), Data: payload})
		if err != nil {
			return err
		}

		offset = roundUp4(offset + codeview.DebugSubsectionHeaderSize + uint64(header.Size))
	}
	return nil
}

// ForEachLinesBlock walks the nested per-file blocks of a lines
// subsection. The subsection's declared size must be consumed exactly
// by the fixed lines header plus the 4-aligned file blocks; any
// mismatch is reported as ErrSubsectionSizeMismatch.
func (s *ModuleLineStream) ForEachLinesBlock(section *Subsection, fn func(*LinesBlock) error) error {
	if kind := section.Header.Kind; kind != codeview.SubsectionLines {
		return ErrWrongSubsectionKind.New(kind, codeview.SubsectionLines)
	}

	offset := uint64(section.Offset)
	headerEnd := roundUp4(offset + codeview.DebugSubsectionHeaderSize + uint64(section.Header.Size))

	// Skip the fixed LinesHeader; the file blocks follow it.
	offset = roundUp4(offset + codeview.DebugSubsectionHeaderSize + codeview.LinesHeaderSize)

	for offset < headerEnd {
		raw, err := s.stream.DataAt(uint32(offset), codeview.LinesFileBlockHeaderSize)
		if err != nil {
			return err
		}
		header, err := codeview.ParseLinesFileBlockHeader(raw)
		if err != nil {
			return err
		}
		if header.Size < codeview.LinesFileBlockHeaderSize {
			return ErrInvalidBlockLength.New(header.Size, codeview.LinesFileBlockHeaderSize)
		}

		rest, err := s.stream.DataAt(uint32(offset)+codeview.LinesFileBlockHeaderSize, header.Size-codeview.LinesFileBlockHeaderSize)
		if err != nil {
			return err
		}

		err = fn(&LinesBlock{Header: header, Offset: uint32(offset), rest: rest})
		if err != nil {
			return err
		}

		offset = roundUp4(offset + uint64(header.Size))
	}

	if offset != headerEnd {
		return ErrSubsectionSizeMismatch.New(offset, headerEnd)
	}
	return nil
}

// ForEachFileChecksum walks the variable-length entries of a file
// checksums subsection, with the same alignment and exact-arrival rules
// as ForEachLinesBlock.
func (s *ModuleLineStream) ForEachFileChecksum(section *Subsection, fn func(*FileChecksum) error) error {
	if kind := section.Header.Kind; kind != codeview.SubsectionFileChecksums {
		return ErrWrongSubsectionKind.New(kind, codeview.SubsectionFileChecksums)
	}

	offset := uint64(section.Offset)
	headerEnd := roundUp4(offset + codeview.DebugSubsectionHeaderSize + uint64(section.Header.Size))

	offset = roundUp4(offset + codeview.DebugSubsectionHeaderSize)

	for offset < headerEnd {
		raw, err := s.stream.DataAt(uint32(offset), codeview.FileChecksumHeaderSize)
		if err != nil {
			return err
		}
		header, err := codeview.ParseFileChecksumHeader(raw)
		if err != nil {
			return err
		}

		checksum, err := s.stream.DataAt(uint32(offset)+codeview.FileChecksumHeaderSize, uint32(header.ChecksumSize))
		if err != nil {
			return err
		}

		err = fn(&FileChecksum{Header: header, Offset: uint32(offset), Checksum: checksum})
		if err != nil {
			return err
		}

		offset = roundUp4(offset + codeview.FileChecksumHeaderSize + uint64(header.ChecksumSize))
	}

	if offset != headerEnd {
		return ErrSubsectionSizeMismatch.New(offset, headerEnd)
	}
	return nil
}

// Size returns the size of the underlying module stream view.
func (s *ModuleLineStream) Size() uint32 {
	return s.stream.Size()
}

// roundUp4 rounds v up to the next multiple of 4. CodeView debug
// subsections and their nested records are independently 4-byte
// aligned.
func roundUp4(v uint64) uint64 {
	return (v + 3) &^ 3
}
