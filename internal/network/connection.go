// Package network owns the RCON byte stream: dialing, framed packet
// exchange and the connection state machine. It has no knowledge of
// authentication or request correlation.
package network

import (
	"context"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/rconsole/internal/protocol"
)

const (
	// DefaultConnectTimeout bounds Open when Options.ConnectTimeout is zero.
	DefaultConnectTimeout = 10 * time.Second
	// DefaultWriteTimeout bounds WritePacket when Options.WriteTimeout is zero.
	DefaultWriteTimeout = 10 * time.Second
)

// Options controls how a Connection is dialed and logged.
type Options struct {
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration

	// UseTLS wraps the socket in TLS. Stock game servers speak plain TCP;
	// this is for RCON behind a TLS terminating proxy.
	UseTLS      bool
	TLSInsecure bool

	// LogAuthPackets disables scrubbing of Auth packet bodies in trace logs.
	// Leave it off unless the password may end up in log files.
	LogAuthPackets bool

	// Logger overrides the default component logger.
	Logger *zerolog.Logger
}

// Connection is a single RCON socket carrying whole packets.
//
// Writes are serialized by an internal lock. Reads are serialized too, but
// the protocol is half-duplex per connection so the Session above is the
// only reader.
type Connection struct {
	mu      sync.Mutex
	writeMu sync.Mutex
	readMu  sync.Mutex

	conn   net.Conn
	reader *protocol.Reader
	opts   Options
	logger zerolog.Logger

	state       ConnState
	closed      bool
	interrupted atomic.Bool

	connectedAt  time.Time
	lastActivity time.Time
}

// Open dials host:port and returns a Connection in the Ready state.
// Authentication is left to the caller.
func Open(ctx context.Context, host string, port int, opts Options) (*Connection, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	logger := componentLogger(opts).With().Str("addr", addr).Logger()

	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	logger.Debug().
		Str("state", StateConnecting.String()).
		Dur("timeout", timeout).
		Bool("tls", opts.UseTLS).
		Msg("dialing")

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		raw net.Conn
		err error
	)
	dialer := &net.Dialer{KeepAlive: 30 * time.Second}
	if opts.UseTLS {
		tlsDialer := &tls.Dialer{
			NetDialer: dialer,
			Config: &tls.Config{
				ServerName:         host,
				InsecureSkipVerify: opts.TLSInsecure,
				MinVersion:         tls.VersionTLS12,
			},
		}
		raw, err = tlsDialer.DialContext(dialCtx, "tcp", addr)
	} else {
		raw, err = dialer.DialContext(dialCtx, "tcp", addr)
	}
	if err != nil {
		ce := &ConnectError{Reason: classifyDialError(err), Addr: addr, Err: err}
		logger.Debug().Err(err).Str("reason", string(ce.Reason)).Msg("dial failed")
		return nil, ce
	}

	c := newConnection(raw, opts, logger)
	logger.Info().Str("state", c.State().String()).Msg("connection established")
	return c, nil
}

// NewConnection wraps an existing stream. The connection starts Ready.
func NewConnection(conn net.Conn, opts Options) *Connection {
	logger := componentLogger(opts)
	if ra := conn.RemoteAddr(); ra != nil {
		logger = logger.With().Str("addr", ra.String()).Logger()
	}
	return newConnection(conn, opts, logger)
}

func newConnection(conn net.Conn, opts Options, logger zerolog.Logger) *Connection {
	now := time.Now()
	return &Connection{
		conn:         conn,
		reader:       protocol.NewReader(conn),
		opts:         opts,
		logger:       logger,
		state:        StateReady,
		connectedAt:  now,
		lastActivity: now,
	}
}

func componentLogger(opts Options) zerolog.Logger {
	if opts.Logger != nil {
		return opts.Logger.With().Str("component", "connection").Logger()
	}
	return log.With().Str("component", "connection").Logger()
}

// WritePacket encodes p and writes it in a single call. An encoding error
// leaves the connection untouched; a transport error moves it to Failed.
func (c *Connection) WritePacket(p protocol.Packet) error {
	return c.WritePackets(p)
}

// WritePackets encodes every packet and writes them in a single call. A
// peer that answers the first packet before reading the next cannot stall
// the write on an unbuffered stream. If any packet fails to encode,
// nothing is written.
func (c *Connection) WritePackets(ps ...protocol.Packet) error {
	var data []byte
	for _, p := range ps {
		frame, err := protocol.Encode(p.ID, p.Type, p.Body)
		if err != nil {
			return err
		}
		data = append(data, frame...)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.isClosed() {
		return &WriteError{Kind: IOClosed, Err: ErrClosed}
	}

	timeout := c.opts.WriteTimeout
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil && !errors.Is(err, net.ErrClosed) {
		c.logger.Debug().Err(err).Msg("set write deadline failed")
	}

	for _, p := range ps {
		c.logPacket(true, p)
	}
	if _, err := c.conn.Write(data); err != nil {
		we := &WriteError{Kind: classifyIOError(err), Err: err}
		c.Fail(we)
		return we
	}

	c.touch()
	return nil
}

// ReadPacket blocks until a whole packet has arrived, the timeout elapses,
// or the socket closes. A zero timeout waits indefinitely. Partial frames
// stay buffered across calls.
func (c *Connection) ReadPacket(timeout time.Duration) (protocol.Packet, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	if c.isClosed() {
		return protocol.Packet{}, &ReadError{Kind: IOClosed, Err: ErrClosed}
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil && !errors.Is(err, net.ErrClosed) {
		c.logger.Debug().Err(err).Msg("set read deadline failed")
	}
	if c.interrupted.Load() {
		return protocol.Packet{}, &ReadError{Kind: IOTimeout, Err: ErrInterrupted}
	}

	p, err := c.reader.ReadPacket()
	if err != nil {
		return protocol.Packet{}, c.readFailure(err)
	}

	c.touch()
	c.logPacket(false, p)
	return p, nil
}

func (c *Connection) readFailure(err error) error {
	if protocol.IsKind(err, protocol.KindCorruptFrame) {
		c.logger.Error().Err(err).Msg("corrupt frame, tearing down connection")
		c.Fail(err)
		return err
	}

	if c.interrupted.Load() {
		return &ReadError{Kind: IOTimeout, Err: ErrInterrupted}
	}

	kind := classifyIOError(err)
	re := &ReadError{Kind: kind, Err: err}
	if kind == IOTimeout {
		return re
	}

	if c.isClosed() {
		re.Kind = IOClosed
		return re
	}
	c.Fail(re)
	return re
}

// Interrupt makes the current and every later ReadPacket return a timeout
// ReadError until Resume is called. Used to honour context cancellation.
func (c *Connection) Interrupt() {
	c.interrupted.Store(true)
	if err := c.conn.SetReadDeadline(time.Now()); err != nil && !errors.Is(err, net.ErrClosed) {
		c.logger.Debug().Err(err).Msg("interrupt: set read deadline failed")
	}
}

// Resume clears an earlier Interrupt. Call it only when no cancellation
// watcher of a previous round trip can still fire.
func (c *Connection) Resume() {
	c.interrupted.Store(false)
}

// Fail moves the connection to the terminal Failed state and releases the
// socket. The state stays Failed until a new connection is opened. It does
// nothing on a connection that is already closed.
func (c *Connection) Fail(reason error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	prev := c.state
	c.state = StateFailed
	c.closed = true
	c.mu.Unlock()

	c.logger.Warn().
		Err(reason).
		Str("from", prev.String()).
		Msg("connection failed")

	c.conn.Close()
}

// Close releases the socket. Calling it more than once is a no-op.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.state != StateFailed {
		c.state = StateClosing
	}
	c.mu.Unlock()

	err := c.conn.Close()

	c.mu.Lock()
	if c.state == StateClosing {
		c.state = StateDisconnected
	}
	c.mu.Unlock()

	c.logger.Info().Msg("connection closed")
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("failed to close connection: %w", err)
	}
	return nil
}

// State returns the current lifecycle state.
func (c *Connection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetState records a state decided by the layer above (Authenticating,
// Ready, Failed). It has no effect once the socket has been released,
// except that Failed always sticks.
func (c *Connection) SetState(s ConnState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed && s != StateFailed {
		return
	}
	if c.state != s {
		c.logger.Debug().
			Str("from", c.state.String()).
			Str("to", s.String()).
			Msg("state change")
	}
	c.state = s
}

func (c *Connection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Connection) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// LastActivity returns the time of the last successful read or write.
func (c *Connection) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// ConnectedAt returns the time the socket was established.
func (c *Connection) ConnectedAt() time.Time {
	return c.connectedAt
}

// RemoteAddr returns the remote address of the connection.
func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// logPacket writes a hex dump of p at trace level. Outbound Auth bodies
// are replaced so the password never reaches the log.
func (c *Connection) logPacket(outbound bool, p protocol.Packet) {
	e := c.logger.Trace()
	if !e.Enabled() {
		return
	}
	msg := "received packet"
	if outbound {
		msg = "sending packet"
		if p.Type == protocol.TypeAuth && !c.opts.LogAuthPackets {
			p.Body = []byte("xxxxx")
		}
	}
	data, err := protocol.Encode(p.ID, p.Type, p.Body)
	if err != nil {
		e.Discard()
		return
	}
	if !outbound {
		e.Int("buffered", c.reader.Buffered())
	}
	e.Int32("id", p.ID).
		Str("type", protocol.TypeName(p.Type)).
		Str("packet", hex.EncodeToString(data)).
		Msg(msg)
}
