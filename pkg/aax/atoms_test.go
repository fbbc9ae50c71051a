package aax

import (
	"bytes"
	"testing"

	"github.com/listenupapp/aaxconv/pkg/aax/internal/binary"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bytesReader(data []byte) *bytes.Reader {
	return bytes.NewReader(data)
}

func newTestReader(data []byte) *binary.SafeReader {
	return binary.NewSafeReader(bytes.NewReader(data), int64(len(data)), "test")
}

func TestReadAtomHeader_Plain(t *testing.T) {
	data := atom("moov", make([]byte, 16))
	sr := newTestReader(data)

	a, err := readAtomHeader(sr, 0)
	require.NoError(t, err)
	assert.Equal(t, "moov", a.Type)
	assert.Equal(t, uint64(24), a.Size)
	assert.Equal(t, int64(8), a.DataOffset())
	assert.Equal(t, uint64(16), a.DataSize())
	assert.False(t, a.Extended)
}

func TestReadAtomHeader_ExtendedSize(t *testing.T) {
	payload := make([]byte, 16)
	data := append(u32(1), []byte("mdat")...)
	data = append(data, u64(uint64(16+len(payload)))...)
	data = append(data, payload...)
	sr := newTestReader(data)

	a, err := readAtomHeader(sr, 0)
	require.NoError(t, err)
	assert.True(t, a.Extended)
	assert.Equal(t, uint64(32), a.Size)
	assert.Equal(t, int64(16), a.DataOffset())
	assert.Equal(t, uint64(16), a.DataSize())
}

func TestReadAtomHeader_ZeroSizeExtendsToEOF(t *testing.T) {
	data := append(u32(0), []byte("mdat")...)
	data = append(data, make([]byte, 100)...)
	sr := newTestReader(data)

	a, err := readAtomHeader(sr, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(108), a.Size)
}

func TestReadAtomHeader_RejectsTinySize(t *testing.T) {
	data := append(u32(4), []byte("free")...)
	sr := newTestReader(data)

	_, err := readAtomHeader(sr, 0)
	var corrupted *CorruptedFileError
	require.ErrorAs(t, err, &corrupted)
}

func TestReadAtomHeader_RejectsSizePastEOF(t *testing.T) {
	data := append(u32(4096), []byte("moov")...)
	sr := newTestReader(data)

	_, err := readAtomHeader(sr, 0)
	var corrupted *CorruptedFileError
	require.ErrorAs(t, err, &corrupted)
}

func TestFindAtom_SkipsSiblings(t *testing.T) {
	data := append(atom("free", make([]byte, 4)), atom("moov", make([]byte, 4))...)
	sr := newTestReader(data)

	a, err := findAtom(sr, 0, int64(len(data)), "moov")
	require.NoError(t, err)
	assert.Equal(t, "moov", a.Type)
	assert.Equal(t, int64(12), a.Offset)
}

func TestFindAtom_NotFound(t *testing.T) {
	data := atom("free", make([]byte, 4))
	sr := newTestReader(data)

	_, err := findAtom(sr, 0, int64(len(data)), "moov")
	require.Error(t, err)
}
