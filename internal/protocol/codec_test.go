package protocol_test

import (
	"bytes"
	"encoding/hex"
	"errors"
	"io"
	"math"
	"strings"
	"testing"

	"github.com/energizer-project/rconsole/internal/protocol"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	ps := []protocol.Packet{
		{},
		{ID: 1, Type: protocol.TypeAuth, Body: []byte("password")},
		{ID: 2, Type: protocol.TypeAuthResponse, Body: []byte{}},
		{ID: -1, Type: protocol.TypeAuthResponse, Body: []byte{}},
		{ID: 3, Type: protocol.TypeExecCommand, Body: []byte("time set day")},
		{ID: 4, Type: protocol.TypeResponseValue, Body: []byte("Set the time to 1000")},
		{ID: math.MaxInt32, Type: math.MaxInt32, Body: make([]byte, protocol.MaxBodySize)},
	}

	for _, p := range ps {
		b, err := protocol.Encode(p.ID, p.Type, p.Body)
		if err != nil {
			t.Fatalf("Encode(%v) failed unexpectedly: %s", p, err)
		}
		if len(b) != p.Size()+protocol.SizeFieldLength {
			t.Fatalf("Encode(%v) produced %d bytes, want %d", p, len(b), p.Size()+protocol.SizeFieldLength)
		}

		got, n, err := protocol.TryDecode(b)
		if err != nil {
			t.Fatalf("TryDecode(%x) failed unexpectedly: %s", b, err)
		}
		if n != len(b) {
			t.Fatalf("TryDecode consumed %d bytes, want %d", n, len(b))
		}
		if got.ID != p.ID || got.Type != p.Type || !bytes.Equal(got.Body, p.Body) {
			t.Fatalf("round trip mismatch, got %v want %v", got, p)
		}
	}
}

func TestEncodeWireLayout(t *testing.T) {
	b, err := protocol.Encode(7, protocol.TypeExecCommand, []byte("list"))
	if err != nil {
		t.Fatal(err)
	}
	want := "0e000000" + "07000000" + "02000000" + hex.EncodeToString([]byte("list")) + "0000"
	if got := hex.EncodeToString(b); got != want {
		t.Fatalf("wire layout mismatch\n got: %s\nwant: %s", got, want)
	}
}

func TestEncodeRejectsOversizedBody(t *testing.T) {
	_, err := protocol.Encode(1, protocol.TypeExecCommand, make([]byte, protocol.MaxBodySize+1))
	if err == nil {
		t.Fatal("Encode succeeded for an oversized body")
	}
	if !protocol.IsKind(err, protocol.KindEncoding) {
		t.Fatalf("expected encoding error, got %v", err)
	}
}

func TestTryDecodeIncomplete(t *testing.T) {
	full, err := protocol.Encode(9, protocol.TypeResponseValue, []byte("There are 0 of a max of 20 players online:"))
	if err != nil {
		t.Fatal(err)
	}

	for cut := 0; cut < len(full); cut++ {
		p, n, err := protocol.TryDecode(full[:cut])
		if !errors.Is(err, protocol.ErrIncomplete) {
			t.Fatalf("TryDecode(%d of %d bytes) err = %v, want ErrIncomplete", cut, len(full), err)
		}
		if n != 0 {
			t.Fatalf("TryDecode(%d of %d bytes) consumed %d bytes", cut, len(full), n)
		}
		if p.Body != nil || p.ID != 0 {
			t.Fatalf("TryDecode returned a partial packet: %v", p)
		}
	}
}

func TestTryDecodeCorrupt(t *testing.T) {
	cases := map[string]string{
		"negative size":        "d6ffffff",
		"size below minimum":   "09000000",
		"size above maximum":   "0b100000",
		"missing terminator":   "0a000000111111112222222233333333",
		"non-zero pad byte":    "0a00000011111111222222220001",
		"non-zero body ending": "0b0000001111111122222222410100",
	}

	for name, bs := range cases {
		t.Run(name, func(t *testing.T) {
			b, err := hex.DecodeString(bs)
			if err != nil {
				t.Fatalf("invalid hex in test table: %s", err)
			}
			_, n, err := protocol.TryDecode(b)
			if !protocol.IsKind(err, protocol.KindCorruptFrame) {
				t.Fatalf("TryDecode(%s) err = %v, want corrupt frame", bs, err)
			}
			if n != 0 {
				t.Fatalf("TryDecode(%s) consumed %d bytes on error", bs, n)
			}
		})
	}
}

func TestTryDecodeSlidesOverMultipleFrames(t *testing.T) {
	var stream []byte
	for i, body := range []string{"first", "", "third"} {
		b, err := protocol.Encode(int32(i), protocol.TypeResponseValue, []byte(body))
		if err != nil {
			t.Fatal(err)
		}
		stream = append(stream, b...)
	}

	var bodies []string
	for len(stream) > 0 {
		p, n, err := protocol.TryDecode(stream)
		if err != nil {
			t.Fatalf("TryDecode failed: %s", err)
		}
		bodies = append(bodies, string(p.Body))
		stream = stream[n:]
	}
	if got := strings.Join(bodies, ","); got != "first,,third" {
		t.Fatalf("decoded bodies = %q", got)
	}
}

func TestTryDecodeAcceptsFullServerFragment(t *testing.T) {
	body := bytes.Repeat([]byte{'a'}, 4096)
	b := protocol.NewPacketBuilder(0).
		WriteInt32(int32(len(body) + protocol.WrapperSize)).
		WriteInt32(5).
		WriteInt32(protocol.TypeResponseValue).
		WriteBytes(body).
		WriteTerminator().
		Build()

	p, _, err := protocol.TryDecode(b)
	if err != nil {
		t.Fatalf("TryDecode rejected a 4096 byte server fragment: %s", err)
	}
	if len(p.Body) != 4096 {
		t.Fatalf("body length = %d", len(p.Body))
	}
}

func TestUnmarshalBinaryRejectsTrailingBytes(t *testing.T) {
	b, err := protocol.Packet{ID: 1, Body: []byte("x")}.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	var p protocol.Packet
	if err := p.UnmarshalBinary(append(b, 0)); err == nil {
		t.Fatal("UnmarshalBinary accepted trailing bytes")
	}
	if err := p.UnmarshalBinary(b); err != nil {
		t.Fatalf("UnmarshalBinary failed: %s", err)
	}
	if p.ID != 1 || string(p.Body) != "x" {
		t.Fatalf("unexpected packet %v", p)
	}
}

// trickleReader returns at most one byte per Read call.
type trickleReader struct {
	data []byte
}

func (r *trickleReader) Read(b []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	b[0] = r.data[0]
	r.data = r.data[1:]
	return 1, nil
}

func TestReaderReassemblesSplitFrames(t *testing.T) {
	var stream []byte
	for i := int32(0); i < 3; i++ {
		b, err := protocol.Encode(i, protocol.TypeResponseValue, bytes.Repeat([]byte{'z'}, int(i)*100))
		if err != nil {
			t.Fatal(err)
		}
		stream = append(stream, b...)
	}

	r := protocol.NewReader(&trickleReader{data: stream})
	for i := int32(0); i < 3; i++ {
		p, err := r.ReadPacket()
		if err != nil {
			t.Fatalf("ReadPacket #%d failed: %s", i, err)
		}
		if p.ID != i || len(p.Body) != int(i)*100 {
			t.Fatalf("ReadPacket #%d = %v", i, p)
		}
	}
	if _, err := r.ReadPacket(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF at end of stream, got %v", err)
	}
}

func TestReaderPartialFrameAtEOF(t *testing.T) {
	b, err := protocol.Encode(1, protocol.TypeResponseValue, []byte("cut short"))
	if err != nil {
		t.Fatal(err)
	}
	r := protocol.NewReader(bytes.NewReader(b[:len(b)-3]))
	if _, err := r.ReadPacket(); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected io.ErrUnexpectedEOF, got %v", err)
	}
}

func TestReaderKeepsFollowingFrameBuffered(t *testing.T) {
	first, _ := protocol.Encode(1, protocol.TypeExecCommand, []byte("seed"))
	second, _ := protocol.Encode(2, protocol.TypeResponseValue, nil)
	r := protocol.NewReader(bytes.NewReader(append(first, second...)))

	if _, err := r.ReadPacket(); err != nil {
		t.Fatalf("ReadPacket failed: %s", err)
	}
	if got := r.Buffered(); got != len(second) {
		t.Fatalf("Buffered() = %d after the first frame, want %d", got, len(second))
	}
	if p, err := r.ReadPacket(); err != nil || p.ID != 2 {
		t.Fatalf("second ReadPacket = %v, %v", p, err)
	}
	if got := r.Buffered(); got != 0 {
		t.Fatalf("Buffered() = %d after both frames, want 0", got)
	}
}

func BenchmarkEncode(b *testing.B) {
	body := make([]byte, protocol.MaxBodySize)
	for n := 0; n < b.N; n++ {
		bs, err := protocol.Encode(1, protocol.TypeExecCommand, body)
		if err != nil {
			b.Fatal(err)
		}
		b.SetBytes(int64(len(bs)))
	}
}
