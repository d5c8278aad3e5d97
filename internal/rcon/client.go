package rcon

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/rconsole/internal/network"
)

// DefaultPort is the conventional Minecraft RCON port.
const DefaultPort = 25575

// Config holds everything needed to open an authenticated client.
type Config struct {
	Host     string
	Port     int
	Password string

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration

	UseTLS      bool
	TLSInsecure bool

	StartingSeq    int32
	LogAuthPackets bool

	Logger *zerolog.Logger
}

// Addr returns host:port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c Config) networkOptions() network.Options {
	return network.Options{
		ConnectTimeout: c.ConnectTimeout,
		WriteTimeout:   c.WriteTimeout,
		UseTLS:         c.UseTLS,
		TLSInsecure:    c.TLSInsecure,
		LogAuthPackets: c.LogAuthPackets,
		Logger:         c.Logger,
	}
}

func (c Config) sessionConfig() SessionConfig {
	return SessionConfig{
		ReadTimeout: c.ReadTimeout,
		StartingSeq: c.StartingSeq,
		Logger:      c.Logger,
	}
}

// Client is an authenticated RCON connection. Run may be called from
// several goroutines; commands execute one at a time in arrival order.
//
// A Client never reconnects on its own. After a failure IsConnected
// returns false and the caller decides whether to Connect again, since
// replaying a command that may already have run is not safe in general.
type Client struct {
	addr    string
	conn    *network.Connection
	session *Session
	logger  zerolog.Logger

	mu           sync.Mutex
	disconnected bool
}

// Connect dials the server and authenticates. The error is a
// *network.ConnectError when the socket could not be opened, or an
// *AuthError or transport error when the handshake failed.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}

	conn, err := network.Open(ctx, cfg.Host, cfg.Port, cfg.networkOptions())
	if err != nil {
		return nil, err
	}
	return authenticate(ctx, conn, cfg.Addr(), cfg)
}

// NewClient authenticates over an already established stream, for
// transports the caller manages (pipes, tunnels, unix sockets).
func NewClient(ctx context.Context, raw net.Conn, cfg Config) (*Client, error) {
	conn := network.NewConnection(raw, cfg.networkOptions())
	addr := cfg.Addr()
	if ra := raw.RemoteAddr(); ra != nil && cfg.Host == "" {
		addr = ra.String()
	}
	return authenticate(ctx, conn, addr, cfg)
}

func authenticate(ctx context.Context, conn *network.Connection, addr string, cfg Config) (*Client, error) {
	session := NewSession(conn, cfg.sessionConfig())
	if err := session.Authenticate(ctx, cfg.Password); err != nil {
		_ = session.Close()
		return nil, err
	}

	var logger zerolog.Logger
	if cfg.Logger != nil {
		logger = cfg.Logger.With().Str("component", "rcon").Str("addr", addr).Logger()
	} else {
		logger = log.With().Str("component", "rcon").Str("addr", addr).Logger()
	}
	logger.Info().Msg("rcon session ready")

	return &Client{
		addr:    addr,
		conn:    conn,
		session: session,
		logger:  logger,
	}, nil
}

// Run executes command and returns the server's full response.
func (c *Client) Run(ctx context.Context, command string) (string, error) {
	start := time.Now()
	resp, err := c.session.Execute(ctx, command)
	if err != nil {
		c.logger.Debug().Err(err).Str("command", commandName(command)).Msg("command failed")
		return "", err
	}
	c.logger.Debug().
		Str("command", commandName(command)).
		Dur("took", time.Since(start)).
		Int("bytes", len(resp)).
		Msg("command executed")
	return resp, nil
}

// Disconnect closes the session. Calling it more than once is a no-op.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if c.disconnected {
		c.mu.Unlock()
		return nil
	}
	c.disconnected = true
	c.mu.Unlock()

	c.logger.Info().Msg("disconnecting")
	return c.session.Close()
}

// IsConnected reports whether the client can run commands.
func (c *Client) IsConnected() bool {
	return c.session.Ready()
}

// State returns the underlying connection state.
func (c *Client) State() network.ConnState {
	return c.session.State()
}

// Addr returns the server address.
func (c *Client) Addr() string {
	return c.addr
}

// ConnectedAt returns when the socket was established.
func (c *Client) ConnectedAt() time.Time {
	return c.conn.ConnectedAt()
}

// LastActivity returns the time of the last packet in either direction.
func (c *Client) LastActivity() time.Time {
	return c.conn.LastActivity()
}

// Pending returns the in-flight command, if any.
func (c *Client) Pending() (PendingInfo, bool) {
	return c.session.Pending()
}

// Err returns the failure that ended the session, if any.
func (c *Client) Err() error {
	return c.session.Err()
}

// commandName returns the first word of a command for logging. Arguments
// may hold player names or messages and stay out of the log.
func commandName(command string) string {
	for i, r := range command {
		if r == ' ' {
			return command[:i]
		}
	}
	return command
}
