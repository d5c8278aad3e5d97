package protocol

import (
	"errors"
	"fmt"
	"io"
)

// readChunkSize holds a largest command frame plus its probe, so a peer
// that writes both in one call over an unbuffered pipe is drained by a
// single read.
const readChunkSize = 2 * (MaxInboundPacketSize + SizeFieldLength)

// Reader decodes frames from a byte stream. It keeps unconsumed bytes
// between calls, so a frame split across reads, or several frames in a
// single read, are handled without loss.
type Reader struct {
	r   io.Reader
	buf []byte
	tmp []byte
}

// NewReader creates a frame reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{
		r:   r,
		buf: make([]byte, 0, MaxInboundPacketSize+SizeFieldLength),
		tmp: make([]byte, readChunkSize),
	}
}

// Buffered returns the number of bytes read from the stream but not yet
// returned as part of a packet.
func (r *Reader) Buffered() int {
	return len(r.buf)
}

// ReadPacket returns the next frame. Errors from the underlying reader are
// returned as-is (io.EOF when the stream ends on a frame boundary,
// io.ErrUnexpectedEOF when it ends mid-frame) so callers can inspect
// deadlines and closed sockets.
func (r *Reader) ReadPacket() (Packet, error) {
	for {
		p, n, err := TryDecode(r.buf)
		if err == nil {
			r.consume(n)
			return p, nil
		}
		if !errors.Is(err, ErrIncomplete) {
			return Packet{}, err
		}

		m, rerr := r.r.Read(r.tmp)
		if m > 0 {
			r.buf = append(r.buf, r.tmp[:m]...)
		}
		if rerr != nil {
			if m > 0 {
				// Decode what arrived before reporting the error.
				continue
			}
			if errors.Is(rerr, io.EOF) && len(r.buf) > 0 {
				return Packet{}, fmt.Errorf("stream ended with %d bytes of a partial frame: %w", len(r.buf), io.ErrUnexpectedEOF)
			}
			return Packet{}, rerr
		}
	}
}

func (r *Reader) consume(n int) {
	remaining := copy(r.buf, r.buf[n:])
	r.buf = r.buf[:remaining]
}
