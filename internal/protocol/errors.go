package protocol

import (
	"errors"
	"fmt"
)

// ErrIncomplete is returned by TryDecode when the buffer does not yet hold
// a whole frame. Nothing is consumed; read more bytes and retry.
var ErrIncomplete = errors.New("rcon: incomplete frame")

// ProtocolErrorKind classifies a ProtocolError.
type ProtocolErrorKind int

const (
	// KindCorruptFrame means the byte stream is out of sync and the
	// connection must be torn down.
	KindCorruptFrame ProtocolErrorKind = iota
	// KindMismatched means a response arrived for a request id that is
	// neither the in-flight command nor its probe.
	KindMismatched
	// KindEncoding means an outbound packet could not be encoded.
	KindEncoding
	// KindNotReady means the session is not authenticated or has failed.
	KindNotReady
)

var protocolErrorKindNames = map[ProtocolErrorKind]string{
	KindCorruptFrame: "corrupt_frame",
	KindMismatched:   "mismatched",
	KindEncoding:     "encoding",
	KindNotReady:     "not_ready",
}

func (k ProtocolErrorKind) String() string {
	if name, ok := protocolErrorKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(k))
}

// ProtocolError is a framing or correlation failure.
type ProtocolError struct {
	Kind   ProtocolErrorKind
	Detail string
	Err    error
}

func (e *ProtocolError) Error() string {
	msg := "rcon protocol error (" + e.Kind.String() + ")"
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// NewProtocolError creates a ProtocolError with a formatted detail message.
func NewProtocolError(kind ProtocolErrorKind, format string, args ...any) *ProtocolError {
	return &ProtocolError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// AsProtocolError extracts a *ProtocolError from an error chain.
func AsProtocolError(err error) (*ProtocolError, bool) {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// IsKind reports whether err carries a ProtocolError of the given kind.
func IsKind(err error, kind ProtocolErrorKind) bool {
	pe, ok := AsProtocolError(err)
	return ok && pe.Kind == kind
}
