package codeview

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func appendRecord(buf []byte, kind uint16, payload []byte) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint16(tmp[:], uint16(2+len(payload)))
	binary.LittleEndian.PutUint16(tmp[2:], kind)
	buf = append(buf, tmp[:]...)
	return append(buf, payload...)
}

func procPayload(name string) []byte {
	payload := make([]byte, 35)
	le := binary.LittleEndian
	le.PutUint32(payload[4:], 0x70)    // end
	le.PutUint32(payload[12:], 0x42)   // code length
	le.PutUint32(payload[24:], 0x1003) // type index
	le.PutUint32(payload[28:], 0x1000) // offset
	le.PutUint16(payload[32:], 1)      // segment
	payload = append(payload, name...)
	payload = append(payload, 0)
	for len(payload)%4 != 0 { // keeps the whole record 4-aligned
		payload = append(payload, 0)
	}
	return payload
}

func pubPayload(name string) []byte {
	payload := make([]byte, 10)
	le := binary.LittleEndian
	le.PutUint32(payload[0:], 2)      // flags, function
	le.PutUint32(payload[4:], 0x2040) // offset
	le.PutUint16(payload[8:], 1)      // segment
	payload = append(payload, name...)
	payload = append(payload, 0)
	for len(payload)%4 != 0 {
		payload = append(payload, 0)
	}
	return payload
}

func TestForEachSymbol(t *testing.T) {
	var buf []byte
	buf = binary.LittleEndian.AppendUint32(buf, CVSignatureC13)
	buf = appendRecord(buf, S_GPROC32, procPayload("main"))
	buf = appendRecord(buf, S_END, nil)
	buf = appendRecord(buf, S_PUB32, pubPayload("_main"))

	var records []SymbolRecord
	err := ForEachSymbol(buf, func(rec SymbolRecord) error {
		records = append(records, rec)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, records, 3)

	require.Equal(t, uint16(S_GPROC32), records[0].Kind)
	require.Equal(t, uint32(4), records[0].Offset)
	require.Equal(t, uint16(S_END), records[1].Kind)
	require.Equal(t, uint16(S_PUB32), records[2].Kind)

	// Each record's offset is the previous record's offset plus the
	// length prefix plus the declared length.
	for i := 1; i < len(records); i++ {
		want := records[i-1].Offset + 4 + uint32(len(records[i-1].Data))
		require.Equal(t, want, records[i].Offset, "record %d offset", i)
	}

	proc, err := ParseProcSym(records[0].Data)
	require.NoError(t, err)
	require.Equal(t, "main", proc.Name)
	require.Equal(t, uint32(0x42), proc.Length)
	require.Equal(t, uint32(0x1000), proc.Offset)
	require.Equal(t, uint16(1), proc.Segment)

	pub, err := ParsePubSym(records[2].Data)
	require.NoError(t, err)
	require.Equal(t, "_main", pub.Name)
	require.Equal(t, uint32(0x2040), pub.Offset)
}

func TestForEachSymbolNoSignature(t *testing.T) {
	buf := appendRecord(nil, S_END, nil)

	var kinds []uint16
	err := ForEachSymbol(buf, func(rec SymbolRecord) error {
		kinds = append(kinds, rec.Kind)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []uint16{S_END}, kinds)
}

func TestForEachSymbolTruncatedRecord(t *testing.T) {
	buf := appendRecord(nil, S_GPROC32, procPayload("f"))
	err := ForEachSymbol(buf[:len(buf)-4], func(SymbolRecord) error {
		return nil
	})
	require.True(t, ErrRecordTooShort.Is(err))
}

func TestForEachSymbolCallbackError(t *testing.T) {
	var buf []byte
	buf = appendRecord(buf, S_END, nil)
	buf = appendRecord(buf, S_END, nil)

	want := ErrRecordTooShort.New("sentinel", 0, 0)
	calls := 0
	err := ForEachSymbol(buf, func(SymbolRecord) error {
		calls++
		return want
	})
	require.Equal(t, want, err)
	require.Equal(t, 1, calls)
}

func TestParseDataSym(t *testing.T) {
	payload := make([]byte, 10)
	le := binary.LittleEndian
	le.PutUint32(payload[0:], 0x1010) // type index
	le.PutUint32(payload[4:], 0x80)   // offset
	le.PutUint16(payload[8:], 3)      // segment
	payload = append(payload, "counter"...)
	payload = append(payload, 0)

	sym, err := ParseDataSym(payload)
	require.NoError(t, err)
	require.Equal(t, uint32(0x1010), sym.TypeIndex)
	require.Equal(t, uint32(0x80), sym.Offset)
	require.Equal(t, uint16(3), sym.Segment)
	require.Equal(t, "counter", sym.Name)

	_, err = ParseDataSym(payload[:8])
	require.True(t, ErrRecordTooShort.Is(err))
}

func TestSymbolKindPredicates(t *testing.T) {
	require.True(t, IsProcSymbol(S_GPROC32))
	require.True(t, IsProcSymbol(S_LPROC32_ID))
	require.False(t, IsProcSymbol(S_PUB32))

	require.True(t, IsDataSymbol(S_LDATA32))
	require.True(t, IsDataSymbol(S_GTHREAD32))
	require.False(t, IsDataSymbol(S_GPROC32))

	require.True(t, IsGlobalSymbol(S_PUB32))
	require.True(t, IsGlobalSymbol(S_GDATA32))
	require.False(t, IsGlobalSymbol(S_LPROC32))

	require.Equal(t, "S_GPROC32", SymbolKindName(S_GPROC32))
	require.Equal(t, "0xbeef", SymbolKindName(0xbeef))
}
