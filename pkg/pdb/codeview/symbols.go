package codeview

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// CVSignatureC13 is the version word at the start of C13 symbol
// substreams.
const CVSignatureC13 = 4

// Symbol record kinds (S_* values). Only the kinds this package parses
// are listed; unknown kinds are passed through raw.
const (
	S_END = 0x0006

	S_LDATA32 = 0x110c
	S_GDATA32 = 0x110d
	S_PUB32   = 0x110e
	S_LPROC32 = 0x110f
	S_GPROC32 = 0x1110

	S_LTHREAD32 = 0x1112
	S_GTHREAD32 = 0x1113

	S_LPROC32_ID = 0x1146
	S_GPROC32_ID = 0x1147
)

// SymbolRecord is one raw symbol record: a kind tag, the payload after
// it, and the record's byte offset within its stream. Offsets are how
// records reference each other (a proc's End field, for example).
type SymbolRecord struct {
	Kind   uint16
	Offset uint32
	Data   []byte
}

// ForEachSymbol walks the length-prefixed symbol records in data and
// invokes fn for each. Every record is a uint16 length (counting the
// kind but not the length field itself), a uint16 kind, and a payload.
// A leading C13 signature word, if present, is skipped. The walk is
// single-pass; fn returning a non-nil error stops it and the error is
// propagated.
func ForEachSymbol(data []byte, fn func(SymbolRecord) error) error {
	offset := 0
	if len(data) >= 4 && binary.LittleEndian.Uint32(data) == CVSignatureC13 {
		offset = 4
	}

	for offset+4 <= len(data) {
		recLen := int(binary.LittleEndian.Uint16(data[offset:]))
		if recLen < 2 || offset+2+recLen > len(data) {
			return ErrRecordTooShort.New("symbol", len(data)-offset-2, recLen)
		}
		kind := binary.LittleEndian.Uint16(data[offset+2:])

		err := fn(SymbolRecord{
			Kind:   kind,
			Offset: uint32(offset),
			Data:   data[offset+4 : offset+2+recLen],
		})
		if err != nil {
			return err
		}

		offset += 2 + recLen
	}
	return nil
}

// ProcSym is a procedure symbol (S_GPROC32, S_LPROC32 and their _ID
// variants).
type ProcSym struct {
	Parent    uint32
	End       uint32
	Next      uint32
	Length    uint32 // byte length of the procedure's code
	DbgStart  uint32
	DbgEnd    uint32
	TypeIndex uint32
	Offset    uint32
	Segment   uint16
	Flags     uint8
	Name      string
}

// ParseProcSym decodes a procedure symbol payload.
func ParseProcSym(data []byte) (*ProcSym, error) {
	if len(data) < 35 {
		return nil, ErrRecordTooShort.New("proc symbol", len(data), 35)
	}
	return &ProcSym{
		Parent:    binary.LittleEndian.Uint32(data[0:]),
		End:       binary.LittleEndian.Uint32(data[4:]),
		Next:      binary.LittleEndian.Uint32(data[8:]),
		Length:    binary.LittleEndian.Uint32(data[12:]),
		DbgStart:  binary.LittleEndian.Uint32(data[16:]),
		DbgEnd:    binary.LittleEndian.Uint32(data[20:]),
		TypeIndex: binary.LittleEndian.Uint32(data[24:]),
		Offset:    binary.LittleEndian.Uint32(data[28:]),
		Segment:   binary.LittleEndian.Uint16(data[32:]),
		Flags:     data[34],
		Name:      cString(data[35:]),
	}, nil
}

// DataSym is a global or file-static data symbol (S_GDATA32, S_LDATA32,
// S_GTHREAD32, S_LTHREAD32).
type DataSym struct {
	TypeIndex uint32
	Offset    uint32
	Segment   uint16
	Name      string
}

// ParseDataSym decodes a data symbol payload.
func ParseDataSym(data []byte) (*DataSym, error) {
	if len(data) < 10 {
		return nil, ErrRecordTooShort.New("data symbol", len(data), 10)
	}
	return &DataSym{
		TypeIndex: binary.LittleEndian.Uint32(data[0:]),
		Offset:    binary.LittleEndian.Uint32(data[4:]),
		Segment:   binary.LittleEndian.Uint16(data[8:]),
		Name:      cString(data[10:]),
	}, nil
}

// PubSym is a public symbol (S_PUB32).
type PubSym struct {
	Flags   uint32
	Offset  uint32
	Segment uint16
	Name    string
}

// ParsePubSym decodes a public symbol payload.
func ParsePubSym(data []byte) (*PubSym, error) {
	if len(data) < 10 {
		return nil, ErrRecordTooShort.New("public symbol", len(data), 10)
	}
	return &PubSym{
		Flags:   binary.LittleEndian.Uint32(data[0:]),
		Offset:  binary.LittleEndian.Uint32(data[4:]),
		Segment: binary.LittleEndian.Uint16(data[8:]),
		Name:    cString(data[10:]),
	}, nil
}

// IsProcSymbol reports whether kind is a procedure symbol.
func IsProcSymbol(kind uint16) bool {
	switch kind {
	case S_GPROC32, S_LPROC32, S_GPROC32_ID, S_LPROC32_ID:
		return true
	}
	return false
}

// IsDataSymbol reports whether kind is a data symbol.
func IsDataSymbol(kind uint16) bool {
	switch kind {
	case S_GDATA32, S_LDATA32, S_GTHREAD32, S_LTHREAD32:
		return true
	}
	return false
}

// IsGlobalSymbol reports whether kind has module-external visibility.
func IsGlobalSymbol(kind uint16) bool {
	switch kind {
	case S_GPROC32, S_GPROC32_ID, S_GDATA32, S_GTHREAD32, S_PUB32:
		return true
	}
	return false
}

// SymbolKindName returns a printable name for a symbol kind.
func SymbolKindName(kind uint16) string {
	switch kind {
	case S_END:
		return "S_END"
	case S_LDATA32:
		return "S_LDATA32"
	case S_GDATA32:
		return "S_GDATA32"
	case S_PUB32:
		return "S_PUB32"
	case S_LPROC32:
		return "S_LPROC32"
	case S_GPROC32:
		return "S_GPROC32"
	case S_LTHREAD32:
		return "S_LTHREAD32"
	case S_GTHREAD32:
		return "S_GTHREAD32"
	case S_LPROC32_ID:
		return "S_LPROC32_ID"
	case S_GPROC32_ID:
		return "S_GPROC32_ID"
	default:
		return fmt.Sprintf("0x%04x", kind)
	}
}

// cString extracts a null-terminated string; unterminated data is taken
// whole.
func cString(data []byte) string {
	if i := bytes.IndexByte(data, 0); i >= 0 {
		return string(data[:i])
	}
	return string(data)
}
