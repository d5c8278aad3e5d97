// Package rcon implements the RCON session layer (authentication, request
// correlation, fragmented response reassembly) and the client API built on
// top of it.
//
// End of a multi-packet response is detected with a probe: right after the
// command the session sends an empty ResponseValue packet with its own id.
// Servers answer requests in order, so the probe's echo marks the point
// where every fragment of the command's output has arrived.
package rcon

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/rconsole/internal/network"
	"github.com/energizer-project/rconsole/internal/protocol"
)

// DefaultReadTimeout bounds a whole authentication or command round trip
// when SessionConfig.ReadTimeout is zero.
const DefaultReadTimeout = 15 * time.Second

// Transport is the send/receive capability a Session needs.
// *network.Connection implements it.
type Transport interface {
	WritePacket(p protocol.Packet) error
	WritePackets(ps ...protocol.Packet) error
	ReadPacket(timeout time.Duration) (protocol.Packet, error)
	Interrupt()
	Resume()
	Fail(reason error)
	Close() error
	State() network.ConnState
	SetState(s network.ConnState)
}

// SessionConfig controls a Session.
type SessionConfig struct {
	// ReadTimeout bounds each round trip. A context deadline that ends
	// sooner wins.
	ReadTimeout time.Duration

	// StartingSeq is the first request id. Negative values start at zero.
	StartingSeq int32

	Logger *zerolog.Logger
}

// Session runs the protocol over a single Transport. It is safe for
// concurrent use: commands are queued in arrival order and only one is on
// the wire at a time.
type Session struct {
	transport   Transport
	readTimeout time.Duration
	logger      zerolog.Logger

	// gate admits one round trip at a time. Blocked senders on a channel
	// are woken in FIFO order, which keeps submission order.
	gate chan struct{}
	seq  atomic.Int32

	mu            sync.Mutex
	authenticated bool
	closed        bool
	pending       *PendingRequest
	lastProbeID   int32
	hasLastProbe  bool
	lastErr       error
}

// NewSession creates a session over an open transport.
func NewSession(t Transport, cfg SessionConfig) *Session {
	timeout := cfg.ReadTimeout
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}

	var logger zerolog.Logger
	if cfg.Logger != nil {
		logger = cfg.Logger.With().Str("component", "session").Logger()
	} else {
		logger = log.With().Str("component", "session").Logger()
	}

	s := &Session{
		transport:   t,
		readTimeout: timeout,
		logger:      logger,
		gate:        make(chan struct{}, 1),
	}
	s.seq.Store(cfg.StartingSeq)
	return s
}

// Authenticate performs the login handshake. On success the transport is
// Ready; on any failure it is Failed and closed, since servers do not
// accept a second attempt on the same socket.
func (s *Session) Authenticate(ctx context.Context, password string) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	s.mu.Lock()
	if s.authenticated {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if st := s.transport.State(); st != network.StateReady {
		return protocol.NewProtocolError(protocol.KindNotReady, "cannot authenticate, connection is %s", st)
	}

	id := s.nextID()
	s.transport.SetState(network.StateAuthenticating)

	stop := s.watch(ctx)
	defer stop()

	if err := s.transport.WritePacket(protocol.Packet{ID: id, Type: protocol.TypeAuth, Body: []byte(password)}); err != nil {
		s.fail(err)
		return fmt.Errorf("failed to send auth packet: %w", err)
	}

	deadline := s.deadline(ctx)
	for {
		p, err := s.read(ctx, deadline)
		if err != nil {
			if network.IsClosed(err) {
				err = &AuthError{Kind: AuthRejected, ID: id, Err: err}
			}
			s.fail(err)
			return err
		}

		switch {
		case p.ID == protocol.AuthFailedID:
			err := &AuthError{Kind: AuthRejected, ID: p.ID}
			s.fail(err)
			return err

		case p.ID == id && p.Type == protocol.TypeAuthResponse:
			s.mu.Lock()
			s.authenticated = true
			s.mu.Unlock()
			s.transport.SetState(network.StateReady)
			s.logger.Debug().Int32("id", id).Msg("authenticated")
			return nil

		case p.ID == id:
			// Source servers send an empty ResponseValue before the
			// AuthResponse.
			s.logger.Trace().Int32("id", id).Msg("skipping pre-auth response value")

		default:
			err := &AuthError{Kind: AuthUnexpected, ID: p.ID}
			s.fail(err)
			return err
		}
	}
}

// Execute sends command and returns the full response text. Calls from
// several goroutines are serialized in arrival order.
//
// Any failure after the command has been written (timeout, cancellation,
// transport error, mismatched id) leaves the session Failed: the position
// in the response stream is unknown, so the caller must reconnect.
func (s *Session) Execute(ctx context.Context, command string) (string, error) {
	if err := s.checkReady(); err != nil {
		return "", err
	}

	if err := s.acquire(ctx); err != nil {
		return "", err
	}
	defer s.release()

	// A command ahead of us in the queue may have failed the session.
	if err := s.checkReady(); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id := s.nextID()
	probeID := s.nextID()
	req := newPendingRequest(id, probeID, command)

	s.mu.Lock()
	s.pending = req
	lastProbe, hasLastProbe := s.lastProbeID, s.hasLastProbe
	s.mu.Unlock()
	defer s.clearPending(req)

	stop := s.watch(ctx)
	defer stop()

	err := s.transport.WritePackets(
		protocol.Packet{ID: id, Type: protocol.TypeExecCommand, Body: []byte(command)},
		protocol.Packet{ID: probeID, Type: protocol.TypeResponseValue},
	)
	if err != nil {
		if protocol.IsKind(err, protocol.KindEncoding) {
			s.mu.Lock()
			req.fail()
			s.mu.Unlock()
			// Nothing reached the wire.
			return "", err
		}
		s.fail(err)
		return "", fmt.Errorf("failed to send command: %w", err)
	}

	deadline := s.deadline(ctx)
	for {
		p, err := s.read(ctx, deadline)
		if err != nil {
			s.fail(err)
			return "", err
		}

		switch {
		case p.ID == id:
			s.mu.Lock()
			req.append(p.Body)
			s.mu.Unlock()

		case p.ID == probeID:
			s.mu.Lock()
			resp := req.complete()
			s.lastProbeID, s.hasLastProbe = probeID, true
			fragments := req.fragments
			s.mu.Unlock()

			s.logger.Debug().
				Int32("id", id).
				Int("fragments", fragments).
				Int("bytes", len(resp)).
				Dur("took", time.Since(req.SubmittedAt)).
				Msg("command complete")
			return resp, nil

		case hasLastProbe && p.ID == lastProbe:
			// Source answers a probe with two packets; the second one
			// shows up at the start of the next exchange.
			s.logger.Trace().Int32("id", p.ID).Msg("dropping trailing probe reply")

		case p.ID == protocol.AuthFailedID:
			err := &AuthError{Kind: AuthRejected, ID: p.ID}
			s.fail(err)
			return "", err

		default:
			err := protocol.NewProtocolError(protocol.KindMismatched,
				"response id %d matches neither command %d nor probe %d", p.ID, id, probeID)
			s.fail(err)
			return "", err
		}
	}
}

// Close fails any in-flight request and closes the transport. It is safe
// to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.authenticated = false
	if s.pending != nil {
		s.pending.fail()
	}
	s.mu.Unlock()

	return s.transport.Close()
}

// Ready reports whether the session is authenticated over a Ready transport.
func (s *Session) Ready() bool {
	s.mu.Lock()
	authed := s.authenticated
	s.mu.Unlock()
	return authed && s.transport.State() == network.StateReady
}

// State returns the transport state.
func (s *Session) State() network.ConnState {
	return s.transport.State()
}

// Pending returns a snapshot of the in-flight request, if any.
func (s *Session) Pending() (PendingInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return PendingInfo{}, false
	}
	return s.pending.info(), true
}

// Err returns the error that failed the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Session) checkReady() error {
	s.mu.Lock()
	authed, closed, lastErr := s.authenticated, s.closed, s.lastErr
	s.mu.Unlock()

	switch {
	case closed:
		return &protocol.ProtocolError{Kind: protocol.KindNotReady, Detail: "session is closed", Err: lastErr}
	case lastErr != nil:
		return &protocol.ProtocolError{Kind: protocol.KindNotReady, Detail: "session has failed", Err: lastErr}
	case !authed:
		return protocol.NewProtocolError(protocol.KindNotReady, "session is not authenticated")
	}
	if st := s.transport.State(); st != network.StateReady {
		return protocol.NewProtocolError(protocol.KindNotReady, "connection is %s", st)
	}
	return nil
}

func (s *Session) acquire(ctx context.Context) error {
	select {
	case s.gate <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) release() {
	<-s.gate
}

// watch interrupts the transport when ctx ends and clears any interrupt
// left over from an earlier round trip. The returned stop function does
// not return while the interrupt is still running, so a cancellation that
// lands as a round trip completes cannot leak into the next one.
func (s *Session) watch(ctx context.Context) (stop func()) {
	s.transport.Resume()
	fired := make(chan struct{})
	stopAfter := context.AfterFunc(ctx, func() {
		defer close(fired)
		s.transport.Interrupt()
	})
	return func() {
		if !stopAfter() {
			<-fired
		}
	}
}

func (s *Session) clearPending(req *PendingRequest) {
	s.mu.Lock()
	if s.pending == req {
		s.pending = nil
	}
	s.mu.Unlock()
}

// fail records err, marks the session unusable and fails the transport.
func (s *Session) fail(err error) {
	s.mu.Lock()
	s.authenticated = false
	if s.lastErr == nil {
		s.lastErr = err
	}
	if s.pending != nil {
		s.pending.fail()
	}
	s.mu.Unlock()

	s.logger.Warn().Err(err).Msg("session failed")
	s.transport.Fail(err)
}

func (s *Session) deadline(ctx context.Context) time.Time {
	d := time.Now().Add(s.readTimeout)
	if cd, ok := ctx.Deadline(); ok && cd.Before(d) {
		return cd
	}
	return d
}

// read waits for the next packet until deadline. If ctx ended the wait,
// the returned error matches both ctx.Err() and the transport error.
func (s *Session) read(ctx context.Context, deadline time.Time) (protocol.Packet, error) {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		err := &network.ReadError{Kind: network.IOTimeout, Err: errors.New("response deadline exceeded")}
		if ctx.Err() != nil {
			return protocol.Packet{}, fmt.Errorf("%w: %w", ctx.Err(), err)
		}
		return protocol.Packet{}, err
	}

	p, err := s.transport.ReadPacket(remaining)
	if err != nil && ctx.Err() != nil {
		return protocol.Packet{}, fmt.Errorf("%w: %w", ctx.Err(), err)
	}
	return p, err
}

// nextID returns the current sequence value and advances it, wrapping to
// zero after math.MaxInt32 so ids never collide with the -1 failure marker.
func (s *Session) nextID() int32 {
	for {
		seq := s.seq.Load()
		switch {
		case seq < 0:
			if s.seq.CompareAndSwap(seq, 1) {
				return 0
			}
		case seq == math.MaxInt32:
			if s.seq.CompareAndSwap(seq, 0) {
				return seq
			}
		default:
			if s.seq.CompareAndSwap(seq, seq+1) {
				return seq
			}
		}
	}
}
