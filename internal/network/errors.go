package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
)

// ConnectReason classifies why a dial failed.
type ConnectReason string

const (
	ReasonTimeout ConnectReason = "timeout"
	ReasonRefused ConnectReason = "refused"
	ReasonDNS     ConnectReason = "dns"
	ReasonOther   ConnectReason = "other"
)

// ConnectError is returned by Open when the socket could not be established.
type ConnectError struct {
	Reason ConnectReason
	Addr   string
	Err    error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect to %s failed (%s): %v", e.Addr, e.Reason, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// IOErrorKind classifies read and write failures.
type IOErrorKind string

const (
	IOTimeout IOErrorKind = "timeout"
	IOClosed  IOErrorKind = "closed"
	IOOther   IOErrorKind = "other"
)

// ReadError is returned by ReadPacket for transport failures.
type ReadError struct {
	Kind IOErrorKind
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read failed (%s): %v", e.Kind, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// WriteError is returned by WritePacket for transport failures.
type WriteError struct {
	Kind IOErrorKind
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write failed (%s): %v", e.Kind, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// ErrClosed is the cause carried by errors on a locally closed connection.
var ErrClosed = errors.New("connection is closed")

// ErrInterrupted is the cause carried by a read cut short by Interrupt.
var ErrInterrupted = errors.New("read interrupted")

// AsConnectError extracts a *ConnectError from an error chain.
func AsConnectError(err error) (*ConnectError, bool) {
	var ce *ConnectError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// AsReadError extracts a *ReadError from an error chain.
func AsReadError(err error) (*ReadError, bool) {
	var re *ReadError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// AsWriteError extracts a *WriteError from an error chain.
func AsWriteError(err error) (*WriteError, bool) {
	var we *WriteError
	if errors.As(err, &we) {
		return we, true
	}
	return nil, false
}

// IsTimeout reports whether err is a read or write timeout.
func IsTimeout(err error) bool {
	if re, ok := AsReadError(err); ok {
		return re.Kind == IOTimeout
	}
	if we, ok := AsWriteError(err); ok {
		return we.Kind == IOTimeout
	}
	return false
}

// IsClosed reports whether err means the peer or the local side closed the socket.
func IsClosed(err error) bool {
	if re, ok := AsReadError(err); ok {
		return re.Kind == IOClosed
	}
	if we, ok := AsWriteError(err); ok {
		return we.Kind == IOClosed
	}
	return false
}

func classifyDialError(err error) ConnectReason {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return ReasonTimeout
		}
		return ReasonDNS
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return ReasonTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ReasonTimeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return ReasonRefused
	}
	return ReasonOther
}

func classifyIOError(err error) IOErrorKind {
	switch {
	case errors.Is(err, ErrInterrupted):
		return IOTimeout
	case errors.Is(err, os.ErrDeadlineExceeded):
		return IOTimeout
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.ErrClosedPipe), errors.Is(err, net.ErrClosed),
		errors.Is(err, ErrClosed), errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE):
		return IOClosed
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return IOTimeout
	}
	return IOOther
}
