// Package mockserver is a loopback RCON server used by tests and by the
// `rconsole mock` command. It behaves like a Minecraft server by default
// and can imitate Source servers, slow commands and broken peers.
package mockserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/rconsole/internal/network"
	"github.com/energizer-project/rconsole/internal/protocol"
)

// Handler produces the response text for a command.
type Handler func(command string) string

// ProbeStyle selects how the server answers packets of type ResponseValue.
type ProbeStyle int

const (
	// ProbeMinecraft answers with a single "Unknown request 0" packet.
	ProbeMinecraft ProbeStyle = iota
	// ProbeSource mirrors the packet and follows it with a short trailer
	// packet carrying the same id.
	ProbeSource
)

// Options configures a Server. The zero value is a Minecraft-like server
// with an empty password and a World handler.
type Options struct {
	Addr     string
	Password string
	Handler  Handler

	// FragmentSize is the largest body per response packet. Zero means 4096,
	// which is what Minecraft uses.
	FragmentSize int

	Probe ProbeStyle

	// SourceAuth sends an empty ResponseValue before the AuthResponse.
	SourceAuth bool

	// CloseOnBadAuth drops the socket instead of answering with id -1.
	CloseOnBadAuth bool

	// Delay is consulted before each command is answered.
	Delay func(command string) time.Duration

	// Misroute answers the matching command with a foreign request id.
	Misroute func(command string) bool
}

// Server is a running mock RCON server.
type Server struct {
	opts     Options
	logger   zerolog.Logger
	listener net.Listener

	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	commands []string

	received atomic.Int64
	sent     atomic.Int64
	wg       sync.WaitGroup
}

// New creates a server. Call Start or Serve to accept connections.
func New(opts Options) *Server {
	if opts.Addr == "" {
		opts.Addr = "127.0.0.1:0"
	}
	if opts.FragmentSize <= 0 {
		opts.FragmentSize = 4096
	}
	if opts.Handler == nil {
		opts.Handler = NewWorld().Handle
	}
	return &Server{
		opts:   opts,
		logger: log.With().Str("component", "mockserver").Logger(),
		conns:  make(map[net.Conn]struct{}),
	}
}

// Start binds the listener and accepts connections in the background
// until ctx ends or Close is called.
func (s *Server) Start(ctx context.Context) error {
	lc := network.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to start mock server on %s: %w", s.opts.Addr, err)
	}
	s.listener = ln
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("mock rcon server listening")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop(ctx)
	}()

	go func() {
		<-ctx.Done()
		s.Close()
	}()
	return nil
}

// Serve is Start followed by a wait for ctx to end.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	s.wg.Wait()
	return nil
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return
			}
			s.logger.Error().Err(err).Msg("failed to accept connection")
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.ServeConn(conn)
		}()
	}
}

// ServeConn runs the protocol on a single stream until it closes.
func (s *Server) ServeConn(conn net.Conn) {
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	logger := s.logger.With().Str("remote", remoteString(conn)).Logger()
	logger.Debug().Msg("client connected")

	reader := protocol.NewReader(conn)
	authed := false

	for {
		p, err := reader.ReadPacket()
		if err != nil {
			logger.Debug().Err(err).Msg("client gone")
			return
		}
		s.received.Add(1)

		switch p.Type {
		case protocol.TypeAuth:
			if string(p.Body) != s.opts.Password {
				logger.Debug().Int32("id", p.ID).Msg("bad password")
				if s.opts.CloseOnBadAuth {
					return
				}
				if !s.write(conn, protocol.AuthFailedID, protocol.TypeAuthResponse, nil) {
					return
				}
				continue
			}
			if s.opts.SourceAuth && !s.write(conn, p.ID, protocol.TypeResponseValue, nil) {
				return
			}
			if !s.write(conn, p.ID, protocol.TypeAuthResponse, nil) {
				return
			}
			authed = true

		case protocol.TypeExecCommand:
			if !authed {
				if !s.write(conn, protocol.AuthFailedID, protocol.TypeAuthResponse, nil) {
					return
				}
				continue
			}
			if !s.answerCommand(conn, p) {
				return
			}

		case protocol.TypeResponseValue:
			if !s.answerProbe(conn, p) {
				return
			}

		default:
			if !s.write(conn, p.ID, protocol.TypeAuthResponse, []byte(fmt.Sprintf("Unknown request %x", p.Type))) {
				return
			}
		}
	}
}

func (s *Server) answerCommand(conn net.Conn, p protocol.Packet) bool {
	command := string(p.Body)

	s.mu.Lock()
	s.commands = append(s.commands, command)
	s.mu.Unlock()

	if s.opts.Delay != nil {
		if d := s.opts.Delay(command); d > 0 {
			time.Sleep(d)
		}
	}

	id := p.ID
	if s.opts.Misroute != nil && s.opts.Misroute(command) {
		id += 1000
	}

	resp := []byte(s.opts.Handler(command))
	for {
		n := len(resp)
		if n > s.opts.FragmentSize {
			n = s.opts.FragmentSize
		}
		if !s.write(conn, id, protocol.TypeResponseValue, resp[:n]) {
			return false
		}
		resp = resp[n:]
		if len(resp) == 0 {
			return true
		}
	}
}

func (s *Server) answerProbe(conn net.Conn, p protocol.Packet) bool {
	if s.opts.Probe == ProbeSource {
		return s.write(conn, p.ID, protocol.TypeResponseValue, nil) &&
			s.write(conn, p.ID, protocol.TypeResponseValue, []byte{0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00})
	}
	return s.write(conn, p.ID, protocol.TypeAuthResponse, []byte("Unknown request 0"))
}

// write sends a frame without the outbound size limit, since servers send
// bodies of up to 4096 bytes.
func (s *Server) write(conn net.Conn, id, typ int32, body []byte) bool {
	frame := protocol.NewPacketBuilder(protocol.SizeFieldLength+len(body)+protocol.WrapperSize).
		WriteInt32(int32(len(body)+protocol.WrapperSize)).
		WriteInt32(id).
		WriteInt32(typ).
		WriteBytes(body).
		WriteTerminator().
		Build()
	if _, err := conn.Write(frame); err != nil {
		s.logger.Debug().Err(err).Msg("write failed")
		return false
	}
	s.sent.Add(1)
	return true
}

// Close stops accepting and drops every open connection.
func (s *Server) Close() error {
	var err error
	if s.listener != nil {
		err = s.listener.Close()
		if errors.Is(err, net.ErrClosed) {
			err = nil
		}
	}

	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
	return err
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.opts.Addr
	}
	return s.listener.Addr().String()
}

// Host returns the listen host.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.Addr())
	return host
}

// Port returns the listen port.
func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.Addr())
	n, _ := strconv.Atoi(port)
	return n
}

// PacketsReceived returns how many frames the server has decoded.
func (s *Server) PacketsReceived() int64 {
	return s.received.Load()
}

// PacketsSent returns how many frames the server has written.
func (s *Server) PacketsSent() int64 {
	return s.sent.Load()
}

// Commands returns every command received, in order.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func remoteString(conn net.Conn) string {
	if ra := conn.RemoteAddr(); ra != nil {
		return ra.String()
	}
	return "pipe"
}
