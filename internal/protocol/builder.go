package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// PacketBuilder writes little-endian frame fields into a buffer.
type PacketBuilder struct {
	buf bytes.Buffer
}

// NewPacketBuilder creates a builder with room for a frame of the given size.
func NewPacketBuilder(capacity int) *PacketBuilder {
	b := &PacketBuilder{}
	b.buf.Grow(capacity)
	return b
}

// Reset clears the builder for reuse.
func (b *PacketBuilder) Reset() {
	b.buf.Reset()
}

// WriteInt32 writes an int32 in little-endian order.
func (b *PacketBuilder) WriteInt32(v int32) *PacketBuilder {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(v))
	b.buf.Write(tmp[:])
	return b
}

// WriteBytes writes raw bytes.
func (b *PacketBuilder) WriteBytes(data []byte) *PacketBuilder {
	b.buf.Write(data)
	return b
}

// WriteTerminator writes the body NUL and the trailing pad NUL.
func (b *PacketBuilder) WriteTerminator() *PacketBuilder {
	b.buf.Write([]byte{0, 0})
	return b
}

// Build returns the constructed bytes.
func (b *PacketBuilder) Build() []byte {
	return b.buf.Bytes()
}

// Len returns the number of bytes written so far.
func (b *PacketBuilder) Len() int {
	return b.buf.Len()
}

// String returns a hex dump of the current frame for debugging.
func (b *PacketBuilder) String() string {
	data := b.buf.Bytes()
	return fmt.Sprintf("PacketBuilder[%d bytes]: %x", len(data), data)
}
