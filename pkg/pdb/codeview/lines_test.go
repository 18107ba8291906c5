package codeview

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDebugSubsectionHeader(t *testing.T) {
	data := make([]byte, DebugSubsectionHeaderSize)
	binary.LittleEndian.PutUint32(data, uint32(SubsectionLines))
	binary.LittleEndian.PutUint32(data[4:], 0x40)

	header, err := ParseDebugSubsectionHeader(data)
	require.NoError(t, err)
	require.Equal(t, SubsectionLines, header.Kind)
	require.Equal(t, uint32(0x40), header.Size)

	_, err = ParseDebugSubsectionHeader(data[:6])
	require.True(t, ErrRecordTooShort.Is(err))
}

func TestParseLinesHeader(t *testing.T) {
	data := make([]byte, LinesHeaderSize)
	binary.LittleEndian.PutUint32(data, 0x1000)
	binary.LittleEndian.PutUint16(data[4:], 2)
	binary.LittleEndian.PutUint16(data[6:], LinesHaveColumns)
	binary.LittleEndian.PutUint32(data[8:], 0x80)

	header, err := ParseLinesHeader(data)
	require.NoError(t, err)
	require.Equal(t, uint32(0x1000), header.SectionOffset)
	require.Equal(t, uint16(2), header.SectionIndex)
	require.Equal(t, uint16(LinesHaveColumns), header.Flags)
	require.Equal(t, uint32(0x80), header.CodeSize)
}

func TestParseLine(t *testing.T) {
	data := make([]byte, LineSize)
	binary.LittleEndian.PutUint32(data, 0x24)
	// line 1234, spanning 3 lines, statement bit set
	binary.LittleEndian.PutUint32(data[4:], 1234|3<<24|1<<31)

	line, err := ParseLine(data)
	require.NoError(t, err)
	require.Equal(t, uint32(0x24), line.Offset)
	require.Equal(t, uint32(1234), line.LineNumStart)
	require.Equal(t, uint32(3), line.DeltaLineEnd)
	require.True(t, line.IsStatement)

	binary.LittleEndian.PutUint32(data[4:], 99)
	line, err = ParseLine(data)
	require.NoError(t, err)
	require.Equal(t, uint32(99), line.LineNumStart)
	require.Zero(t, line.DeltaLineEnd)
	require.False(t, line.IsStatement)

	_, err = ParseLine(data[:4])
	require.True(t, ErrRecordTooShort.Is(err))
}

func TestParseFileChecksumHeader(t *testing.T) {
	data := make([]byte, FileChecksumHeaderSize)
	binary.LittleEndian.PutUint32(data, 0x88)
	data[4] = 16
	data[5] = byte(ChecksumMD5)

	header, err := ParseFileChecksumHeader(data)
	require.NoError(t, err)
	require.Equal(t, uint32(0x88), header.FilenameOffset)
	require.Equal(t, uint8(16), header.ChecksumSize)
	require.Equal(t, ChecksumMD5, header.ChecksumKind)
}

func TestKindStrings(t *testing.T) {
	require.Equal(t, "lines", SubsectionLines.String())
	require.Equal(t, "file checksums", SubsectionFileChecksums.String())
	require.Equal(t, "lines", (SubsectionLines | SubsectionIgnore).String())
	require.Equal(t, "0xdead", DebugSubsectionKind(0xdead).String())

	require.Equal(t, "MD5", ChecksumMD5.String())
	require.Equal(t, "SHA256", ChecksumSHA256.String())
	require.Equal(t, "0x7f", ChecksumKind(0x7f).String())
}
