package rcon

import (
	"errors"
	"fmt"

	"github.com/energizer-project/rconsole/internal/network"
	"github.com/energizer-project/rconsole/internal/protocol"
)

// AuthErrorKind classifies an authentication failure.
type AuthErrorKind string

const (
	// AuthRejected means the server refused the password, either with
	// request id -1 or by closing the socket.
	AuthRejected AuthErrorKind = "rejected"
	// AuthUnexpected means the server answered with an id that matches
	// neither the auth request nor the failure marker.
	AuthUnexpected AuthErrorKind = "unexpected"
)

// AuthError is returned when the handshake does not end in success.
type AuthError struct {
	Kind AuthErrorKind
	ID   int32
	Err  error
}

func (e *AuthError) Error() string {
	msg := fmt.Sprintf("rcon authentication %s", e.Kind)
	if e.Kind == AuthUnexpected {
		msg += fmt.Sprintf(" (response id %d)", e.ID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// AsAuthError extracts an *AuthError from an error chain.
func AsAuthError(err error) (*AuthError, bool) {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// IsRetryable reports whether a fresh connection might succeed where err
// failed. Rejected credentials and oversized commands will fail again.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if ae, ok := AsAuthError(err); ok {
		return ae.Kind != AuthRejected
	}
	if pe, ok := protocol.AsProtocolError(err); ok {
		return pe.Kind != protocol.KindEncoding
	}
	if _, ok := network.AsConnectError(err); ok {
		return true
	}
	if _, ok := network.AsReadError(err); ok {
		return true
	}
	if _, ok := network.AsWriteError(err); ok {
		return true
	}
	return false
}
