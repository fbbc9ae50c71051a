package mux

import (
	"bytes"
	"encoding/binary"
)

// boxBuffer builds an ISO-BMFF box tree in memory. Container boxes are
// opened with push and closed with pop, which back-patches the 32-bit size
// field. Leaf data goes through the fixed-width writers.
type boxBuffer struct {
	buf   bytes.Buffer
	stack []int // offsets of open boxes' size fields
}

// push opens a box: a placeholder size and the fourcc.
func (b *boxBuffer) push(fourcc string) {
	b.stack = append(b.stack, b.buf.Len())
	b.u32(0) // patched by pop
	b.str(fourcc)
}

// pushFull opens a full box: version and 24-bit flags follow the header.
func (b *boxBuffer) pushFull(fourcc string, version byte, flags uint32) {
	b.push(fourcc)
	b.u8(version)
	b.u8(byte(flags >> 16))
	b.u8(byte(flags >> 8))
	b.u8(byte(flags))
}

// pop closes the innermost open box.
func (b *boxBuffer) pop() {
	start := b.stack[len(b.stack)-1]
	b.stack = b.stack[:len(b.stack)-1]

	size := uint32(b.buf.Len() - start)
	binary.BigEndian.PutUint32(b.buf.Bytes()[start:start+4], size)
}

func (b *boxBuffer) u8(v byte) {
	b.buf.WriteByte(v)
}

func (b *boxBuffer) u16(v uint16) {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	b.buf.Write(tmp[:])
}

func (b *boxBuffer) u32(v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	b.buf.Write(tmp[:])
}

func (b *boxBuffer) u64(v uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	b.buf.Write(tmp[:])
}

func (b *boxBuffer) str(s string) {
	b.buf.WriteString(s)
}

func (b *boxBuffer) raw(p []byte) {
	b.buf.Write(p)
}

// zero writes n zero bytes.
func (b *boxBuffer) zero(n int) {
	b.buf.Write(make([]byte, n))
}

func (b *boxBuffer) len() int {
	return b.buf.Len()
}

func (b *boxBuffer) bytes() []byte {
	return b.buf.Bytes()
}
