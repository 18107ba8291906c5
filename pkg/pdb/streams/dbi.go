package streams

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"gopkg.in/src-d/go-errors.v1"
)

// DBI stream versions.
const (
	DBIVersionVC41 = 930803
	DBIVersionV50  = 19960307
	DBIVersionV60  = 19970606
	DBIVersionV70  = 19990903
	DBIVersionV110 = 20091201
)

// DBIStreamIndex is the fixed index of the DBI stream.
const DBIStreamIndex = 3

// NilStreamIndex marks a uint16 stream index field with no stream
// behind it.
const NilStreamIndex = 0xFFFF

var (
	// ErrDBITooShort is returned when the DBI stream cannot hold its
	// fixed header.
	ErrDBITooShort = errors.NewKind("DBI stream truncated: have %d bytes, need %d")

	// ErrDBIBadSignature is returned when the DBI version signature is
	// not -1.
	ErrDBIBadSignature = errors.NewKind("invalid DBI version signature: %d")
)

const dbiHeaderSize = 64

// DBIHeader is the fixed 64-byte header of the DBI stream.
type DBIHeader struct {
	VersionSignature        int32 // always -1
	VersionHeader           uint32
	Age                     uint32
	GlobalStreamIndex       uint16
	BuildNumber             uint16
	PublicStreamIndex       uint16
	PdbDllVersion           uint16
	SymRecordStream         uint16 // stream holding the symbol records
	PdbDllRbld              uint16
	ModInfoSize             int32
	SectionContributionSize int32
	SectionMapSize          int32
	SourceInfoSize          int32
	TypeServerMapSize       int32
	MFCTypeServerIndex      uint32
	OptionalDbgHeaderSize   int32
	ECSubstreamSize         int32
	Flags                   uint16
	Machine                 uint16
	Padding                 uint32
}

// DBI is the decoded DBI stream: the header plus the module-info and
// section-contribution substreams.
type DBI struct {
	Header          DBIHeader
	Modules         []Module
	SectionContribs []SectionContrib
}

// Module describes one compiled module (one object file's worth of
// debug data) and where its symbol and line info live.
type Module struct {
	SectionContrib  SectionContrib
	Flags           uint16
	SymStream       uint16 // module debug stream index, NilStreamIndex if none
	SymByteSize     uint32 // symbol substream size within that stream
	C11ByteSize     uint32 // legacy C11 line info size
	C13ByteSize     uint32 // C13 line info size
	SourceFileCount uint16
	Name            string
	ObjFileName     string
}

// HasSymbols reports whether the module carries a symbol substream.
func (m *Module) HasSymbols() bool {
	return m.SymStream != NilStreamIndex && m.SymByteSize > 0
}

// HasLineInfo reports whether the module carries C13 line info.
func (m *Module) HasLineInfo() bool {
	return m.SymStream != NilStreamIndex && m.C13ByteSize > 0
}

// LineInfoOffset returns the offset of the C13 line info within the
// module's debug stream, which holds the symbol substream, then C11
// line info, then C13 line info.
func (m *Module) LineInfoOffset() uint32 {
	return m.SymByteSize + m.C11ByteSize
}

// LineInfoEnd returns the offset one past the module's C13 line info.
func (m *Module) LineInfoEnd() uint32 {
	return m.LineInfoOffset() + m.C13ByteSize
}

// SectionContrib describes one module's contribution to an image
// section.
type SectionContrib struct {
	Section         uint16
	Offset          int32
	Size            int32
	Characteristics uint32
	ModuleIndex     uint16
	DataCrc         uint32
	RelocCrc        uint32
}

const sectionContribSize = 28

// sectionContribV2 adds a trailing ISectCoff field.
const sectionContribV2Signature = 0xeffe0000 + 20140516

// ReadDBI decodes the DBI stream from its raw bytes.
func ReadDBI(data []byte) (*DBI, error) {
	if len(data) < dbiHeaderSize {
		return nil, ErrDBITooShort.New(len(data), dbiHeaderSize)
	}

	header := DBIHeader{
		VersionSignature:        int32(binary.LittleEndian.Uint32(data[0:])),
		VersionHeader:           binary.LittleEndian.Uint32(data[4:]),
		Age:                     binary.LittleEndian.Uint32(data[8:]),
		GlobalStreamIndex:       binary.LittleEndian.Uint16(data[12:]),
		BuildNumber:             binary.LittleEndian.Uint16(data[14:]),
		PublicStreamIndex:       binary.LittleEndian.Uint16(data[16:]),
		PdbDllVersion:           binary.LittleEndian.Uint16(data[18:]),
		SymRecordStream:         binary.LittleEndian.Uint16(data[20:]),
		PdbDllRbld:              binary.LittleEndian.Uint16(data[22:]),
		ModInfoSize:             int32(binary.LittleEndian.Uint32(data[24:])),
		SectionContributionSize: int32(binary.LittleEndian.Uint32(data[28:])),
		SectionMapSize:          int32(binary.LittleEndian.Uint32(data[32:])),
		SourceInfoSize:          int32(binary.LittleEndian.Uint32(data[36:])),
		TypeServerMapSize:       int32(binary.LittleEndian.Uint32(data[40:])),
		MFCTypeServerIndex:      binary.LittleEndian.Uint32(data[44:]),
		OptionalDbgHeaderSize:   int32(binary.LittleEndian.Uint32(data[48:])),
		ECSubstreamSize:         int32(binary.LittleEndian.Uint32(data[52:])),
		Flags:                   binary.LittleEndian.Uint16(data[56:]),
		Machine:                 binary.LittleEndian.Uint16(data[58:]),
		Padding:                 binary.LittleEndian.Uint32(data[60:]),
	}
	if header.VersionSignature != -1 {
		return nil, ErrDBIBadSignature.New(header.VersionSignature)
	}

	dbi := &DBI{Header: header}

	// Substreams follow the header back to back, each sized by a
	// header field.
	modInfoEnd := dbiHeaderSize + int(header.ModInfoSize)
	if header.ModInfoSize > 0 && modInfoEnd <= len(data) {
		dbi.Modules = parseModules(data[dbiHeaderSize:modInfoEnd])
	}

	secContribEnd := modInfoEnd + int(header.SectionContributionSize)
	if header.SectionContributionSize > 0 && secContribEnd <= len(data) {
		dbi.SectionContribs = parseSectionContribs(data[modInfoEnd:secContribEnd])
	}

	return dbi, nil
}

// parseModules decodes the module-info substream: 64 fixed bytes per
// entry, two null-terminated names, then padding to a 4-byte boundary.
func parseModules(data []byte) []Module {
	var modules []Module
	offset := 0

	for offset+64 <= len(data) {
		var m Module
		m.SectionContrib = decodeSectionContrib(data[offset+4:]) // after the opened-module pointer
		m.Flags = binary.LittleEndian.Uint16(data[offset+32:])
		m.SymStream = binary.LittleEndian.Uint16(data[offset+34:])
		m.SymByteSize = binary.LittleEndian.Uint32(data[offset+36:])
		m.C11ByteSize = binary.LittleEndian.Uint32(data[offset+40:])
		m.C13ByteSize = binary.LittleEndian.Uint32(data[offset+44:])
		m.SourceFileCount = binary.LittleEndian.Uint16(data[offset+48:])
		offset += 64

		var ok bool
		if m.Name, offset, ok = takeCString(data, offset); !ok {
			break
		}
		if m.ObjFileName, offset, ok = takeCString(data, offset); !ok {
			break
		}
		offset = (offset + 3) &^ 3

		modules = append(modules, m)
	}

	return modules
}

func decodeSectionContrib(data []byte) SectionContrib {
	return SectionContrib{
		Section:         binary.LittleEndian.Uint16(data[0:]),
		Offset:          int32(binary.LittleEndian.Uint32(data[4:])),
		Size:            int32(binary.LittleEndian.Uint32(data[8:])),
		Characteristics: binary.LittleEndian.Uint32(data[12:]),
		ModuleIndex:     binary.LittleEndian.Uint16(data[16:]),
		DataCrc:         binary.LittleEndian.Uint32(data[20:]),
		RelocCrc:        binary.LittleEndian.Uint32(data[24:]),
	}
}

// parseSectionContribs decodes the section-contribution substream: a
// version word followed by fixed-size entries.
func parseSectionContribs(data []byte) []SectionContrib {
	if len(data) < 4 {
		return nil
	}
	version := binary.LittleEndian.Uint32(data)
	entrySize := sectionContribSize
	if version == sectionContribV2Signature {
		entrySize = sectionContribSize + 4
	}

	data = data[4:]
	contribs := make([]SectionContrib, 0, len(data)/entrySize)
	for offset := 0; offset+entrySize <= len(data); offset += entrySize {
		contribs = append(contribs, decodeSectionContrib(data[offset:]))
	}
	return contribs
}

func takeCString(data []byte, offset int) (string, int, bool) {
	if offset >= len(data) {
		return "", offset, false
	}
	end := bytes.IndexByte(data[offset:], 0)
	if end == -1 {
		return "", offset, false
	}
	return string(data[offset : offset+end]), offset + end + 1, true
}

// MachineName returns the human-readable CPU name for a DBI machine
// type.
func MachineName(machine uint16) string {
	switch machine {
	case 0x014c:
		return "x86"
	case 0x8664:
		return "x64"
	case 0x01c0:
		return "ARM"
	case 0xAA64:
		return "ARM64"
	case 0x0200:
		return "IA64"
	default:
		return fmt.Sprintf("0x%04x", machine)
	}
}
