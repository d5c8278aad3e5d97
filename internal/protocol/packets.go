// Package protocol implements the RCON binary frame format: a 4-byte
// little-endian size, a 4-byte request id, a 4-byte packet type, the body,
// and two NUL bytes. The size counts every byte after the size field.
package protocol

import "fmt"

// Packet types. Servers answer both Auth and ExecCommand with type 2.
const (
	TypeAuth          int32 = 3
	TypeAuthResponse  int32 = 2
	TypeExecCommand   int32 = 2
	TypeResponseValue int32 = 0
)

const (
	// SizeFieldLength is the length of the size prefix.
	SizeFieldLength = 4

	// WrapperSize is the non-body part of the size: id, type and the two NULs.
	WrapperSize = 4 + 4 + 2

	// MaxPacketSize is the largest size value a client may send.
	MaxPacketSize = 4096

	// MaxBodySize is the largest body that fits in an outbound packet.
	MaxBodySize = MaxPacketSize - WrapperSize

	// MaxInboundPacketSize is the largest size value accepted from a server.
	// Minecraft fragments responses into 4096-byte bodies, which is more
	// than MaxPacketSize allows for outbound packets.
	MaxInboundPacketSize = 4096 + WrapperSize
)

// AuthFailedID is the request id a server answers with when the password is wrong.
const AuthFailedID int32 = -1

// Packet is a single RCON frame, either a client request or a server response.
type Packet struct {
	ID   int32
	Type int32
	Body []byte
}

// Size returns the value of the size field for this packet.
func (p Packet) Size() int {
	return len(p.Body) + WrapperSize
}

// String renders the packet header for debugging. The body is not included.
func (p Packet) String() string {
	return fmt.Sprintf("Packet[id=%d type=%s size=%d]", p.ID, TypeName(p.Type), p.Size())
}

// TypeName returns a readable name for a packet type. Type 2 is ambiguous
// on the wire and is reported as exec/auth_response.
func TypeName(t int32) string {
	switch t {
	case TypeAuth:
		return "auth"
	case TypeExecCommand:
		return "exec/auth_response"
	case TypeResponseValue:
		return "response_value"
	default:
		return fmt.Sprintf("unknown(%d)", t)
	}
}
