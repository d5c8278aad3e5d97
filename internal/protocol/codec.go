package protocol

import (
	"encoding/binary"
	"io"
)

// Encode builds the wire form of a packet. Bodies that do not fit in a
// single outbound frame are rejected, never truncated.
func Encode(id, packetType int32, body []byte) ([]byte, error) {
	size := len(body) + WrapperSize
	if size > MaxPacketSize {
		return nil, NewProtocolError(KindEncoding,
			"body of %d bytes exceeds the %d byte limit", len(body), MaxBodySize)
	}

	return NewPacketBuilder(SizeFieldLength+size).
		WriteInt32(int32(size)).
		WriteInt32(id).
		WriteInt32(packetType).
		WriteBytes(body).
		WriteTerminator().
		Build(), nil
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (p Packet) MarshalBinary() ([]byte, error) {
	return Encode(p.ID, p.Type, p.Body)
}

// WriteTo writes the encoded packet to w in a single Write call.
func (p Packet) WriteTo(w io.Writer) (int64, error) {
	data, err := p.MarshalBinary()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(data)
	return int64(n), err
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler. The data must hold
// exactly one frame.
func (p *Packet) UnmarshalBinary(data []byte) error {
	pkt, n, err := TryDecode(data)
	if err != nil {
		return err
	}
	if n != len(data) {
		return NewProtocolError(KindCorruptFrame, "%d trailing bytes after frame", len(data)-n)
	}
	*p = pkt
	return nil
}

// TryDecode extracts the first frame from buf. It returns the packet and
// the number of bytes consumed. When buf does not hold a whole frame yet
// it returns ErrIncomplete and consumes nothing. A frame with an invalid
// size or a non-zero terminator yields a KindCorruptFrame error.
func TryDecode(buf []byte) (Packet, int, error) {
	if len(buf) < SizeFieldLength {
		return Packet{}, 0, ErrIncomplete
	}

	size := int32(binary.LittleEndian.Uint32(buf[:SizeFieldLength]))
	if size < WrapperSize {
		return Packet{}, 0, NewProtocolError(KindCorruptFrame, "frame size %d below minimum %d", size, WrapperSize)
	}
	if size > MaxInboundPacketSize {
		return Packet{}, 0, NewProtocolError(KindCorruptFrame, "frame size %d above maximum %d", size, MaxInboundPacketSize)
	}

	total := SizeFieldLength + int(size)
	if len(buf) < total {
		return Packet{}, 0, ErrIncomplete
	}

	frame := buf[SizeFieldLength:total]
	if frame[len(frame)-2] != 0 || frame[len(frame)-1] != 0 {
		return Packet{}, 0, NewProtocolError(KindCorruptFrame,
			"frame not terminated by two NUL bytes (got %#02x %#02x)", frame[len(frame)-2], frame[len(frame)-1])
	}

	p := Packet{
		ID:   int32(binary.LittleEndian.Uint32(frame[0:4])),
		Type: int32(binary.LittleEndian.Uint32(frame[4:8])),
	}
	body := frame[8 : len(frame)-2]
	p.Body = make([]byte, len(body))
	copy(p.Body, body)

	return p, total, nil
}
