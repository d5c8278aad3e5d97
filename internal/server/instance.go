package server

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/rconsole/internal/config"
	"github.com/energizer-project/rconsole/internal/db"
	"github.com/energizer-project/rconsole/internal/events"
	"github.com/energizer-project/rconsole/internal/minecraft"
	"github.com/energizer-project/rconsole/internal/network"
	"github.com/energizer-project/rconsole/internal/rcon"
	"github.com/energizer-project/rconsole/internal/util"
)

// ErrNotConnected is returned by Run when the profile has no live session.
var ErrNotConnected = errors.New("server is not connected")

// refreshTimeout bounds the player refresh that follows a player command.
const refreshTimeout = 10 * time.Second

// HistoryRecorder stores executed commands. *db.Database implements it.
type HistoryRecorder interface {
	RecordCommand(e db.HistoryEntry) (db.HistoryEntry, error)
}

// Instance is one configured server profile and its connection.
//
// connMu serializes Connect, Disconnect and Reconnect; mu guards the
// fields and is never held across network I/O.
type Instance struct {
	connMu sync.Mutex
	mu     sync.RWMutex

	name    string
	profile config.ServerProfile
	cfg     *config.Config
	bus     *events.EventBus
	history HistoryRecorder
	logger  zerolog.Logger

	client   *rcon.Client
	state    *State
	everSeen bool
	// wanted is set by Connect and cleared by Disconnect. The watchdog
	// only restores sessions that are wanted.
	wanted bool
}

// NewInstance creates an instance for profile. bus and history may be nil.
func NewInstance(cfg *config.Config, bus *events.EventBus, history HistoryRecorder, profile config.ServerProfile) *Instance {
	return &Instance{
		name:    profile.Name,
		profile: profile,
		cfg:     cfg,
		bus:     bus,
		history: history,
		state:   NewState(),
		logger: log.With().
			Str("component", "server").
			Str("server", profile.Name).
			Logger(),
	}
}

// Name returns the profile name.
func (i *Instance) Name() string {
	return i.name
}

// Profile returns the current profile.
func (i *Instance) Profile() config.ServerProfile {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.profile
}

// SetProfile replaces the profile. A live connection keeps its old
// address until the next Reconnect.
func (i *Instance) SetProfile(p config.ServerProfile) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.profile = p
}

// Addr returns host:port of the profile.
func (i *Instance) Addr() string {
	p := i.Profile()
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// State returns the instance state tracker.
func (i *Instance) State() *State {
	return i.state
}

func (i *Instance) rconConfig() rcon.Config {
	p := i.Profile()
	app := i.cfg.GetApplicationData()
	logger := i.logger
	return rcon.Config{
		Host:           p.Host,
		Port:           p.Port,
		Password:       p.Password,
		ConnectTimeout: seconds(app.Timeouts.ConnectSec),
		ReadTimeout:    seconds(app.Timeouts.ReadSec),
		WriteTimeout:   seconds(app.Timeouts.WriteSec),
		UseTLS:         p.UseTLS,
		TLSInsecure:    p.TLSInsecure,
		LogAuthPackets: app.Logging.LogAuthPackets,
		Logger:         &logger,
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// Connect opens and authenticates a session. It is a no-op when already
// connected.
func (i *Instance) Connect(ctx context.Context) error {
	i.connMu.Lock()
	defer i.connMu.Unlock()
	i.setWanted(true)
	return i.connectLocked(ctx)
}

func (i *Instance) connectLocked(ctx context.Context) error {
	if c := i.currentClient(); c != nil {
		if c.IsConnected() {
			return nil
		}
		i.dropClient(c, c.Err())
	}

	cfg := i.rconConfig()
	i.logger.Info().Str("addr", cfg.Addr()).Msg("connecting")

	client, err := rcon.Connect(ctx, cfg)
	if err != nil {
		i.state.SetError(err)
		payload := events.ConnectionPayload{
			Addr:  cfg.Addr(),
			State: network.StateFailed.String(),
			Error: err.Error(),
		}
		if _, ok := rcon.AsAuthError(err); ok {
			i.logger.Error().Err(err).Msg("authentication failed")
			i.emit(events.EventAuthFailed, payload)
		} else {
			i.logger.Warn().Err(err).Msg("connect failed")
		}
		return err
	}

	i.mu.Lock()
	i.client = client
	reconnect := i.everSeen
	i.everSeen = true
	i.mu.Unlock()

	i.state.SetConnected(client.ConnectedAt(), reconnect)
	i.emit(events.EventConnected, events.ConnectionPayload{
		Addr:  client.Addr(),
		State: client.State().String(),
	})
	return nil
}

// Disconnect closes the session. Disconnecting an instance that is not
// connected is a no-op.
func (i *Instance) Disconnect() error {
	i.connMu.Lock()
	defer i.connMu.Unlock()
	i.setWanted(false)
	return i.disconnectLocked()
}

// Wanted reports whether the last explicit request was to be connected.
func (i *Instance) Wanted() bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.wanted
}

func (i *Instance) setWanted(v bool) {
	i.mu.Lock()
	i.wanted = v
	i.mu.Unlock()
}

func (i *Instance) disconnectLocked() error {
	i.mu.Lock()
	c := i.client
	i.client = nil
	i.mu.Unlock()
	if c == nil {
		return nil
	}

	err := c.Disconnect()
	i.state.SetDisconnected(nil)
	i.emit(events.EventDisconnected, events.ConnectionPayload{
		Addr:  c.Addr(),
		State: c.State().String(),
	})
	return err
}

// Reconnect drops the current session, if any, and connects again.
// Commands are never replayed.
func (i *Instance) Reconnect(ctx context.Context) error {
	i.connMu.Lock()
	defer i.connMu.Unlock()
	i.setWanted(true)

	if err := i.disconnectLocked(); err != nil {
		i.logger.Debug().Err(err).Msg("error closing previous session")
	}
	return i.connectLocked(ctx)
}

// IsConnected reports whether commands can be sent.
func (i *Instance) IsConnected() bool {
	c := i.currentClient()
	return c != nil && c.IsConnected()
}

func (i *Instance) currentClient() *rcon.Client {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.client
}

// dropClient forgets a client whose session has failed and reports the
// disconnect once.
func (i *Instance) dropClient(c *rcon.Client, cause error) {
	i.mu.Lock()
	if i.client != c {
		i.mu.Unlock()
		return
	}
	i.client = nil
	i.mu.Unlock()

	_ = c.Disconnect()
	i.state.SetDisconnected(cause)

	payload := events.ConnectionPayload{Addr: c.Addr(), State: c.State().String()}
	if cause != nil {
		payload.Error = cause.Error()
	}
	i.logger.Warn().Err(cause).Msg("connection lost")
	i.emit(events.EventDisconnected, payload)
}

// Run executes command, records it in history and emits a command event.
// source tags where the command came from (db.SourceCLI, ...).
func (i *Instance) Run(ctx context.Context, command, source string) (string, error) {
	resp, err := i.run(ctx, command, source, true)
	if err == nil && minecraft.AffectsPlayers(command) && i.Profile().PollPlayers {
		go func() {
			rctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
			defer cancel()
			if _, err := i.RefreshPlayers(rctx); err != nil {
				i.logger.Debug().Err(err).Msg("player refresh after command failed")
			}
		}()
	}
	return resp, err
}

func (i *Instance) run(ctx context.Context, command, source string, record bool) (string, error) {
	c := i.currentClient()
	if c == nil {
		return "", ErrNotConnected
	}

	execID := uuid.NewString()
	start := time.Now()
	resp, err := c.Run(ctx, command)
	took := time.Since(start)

	if err != nil && !c.IsConnected() {
		i.dropClient(c, err)
	}
	if !record {
		return resp, err
	}

	i.state.RecordCommand(err != nil)
	scrubbed := util.ScrubCommand(command)

	payload := events.CommandPayload{
		ExecID:   execID,
		Command:  scrubbed,
		Response: resp,
		Source:   source,
		Duration: took,
	}
	if err != nil {
		payload.Error = err.Error()
	}

	if i.history != nil && i.cfg.GetApplicationData().History.Enabled {
		_, herr := i.history.RecordCommand(db.HistoryEntry{
			ID:       execID,
			Server:   i.name,
			Command:  scrubbed,
			Response: util.Truncate(resp, i.cfg.GetApplicationData().History.MaxResponseBytes),
			Error:    payload.Error,
			Source:   source,
			Duration: took,
		})
		if herr != nil {
			i.logger.Warn().Err(herr).Msg("failed to record command history")
		}
	}

	if err != nil {
		i.emit(events.EventCommandFailed, payload)
	} else {
		i.emit(events.EventCommandExecuted, payload)
	}
	return resp, err
}

// RefreshPlayers polls "list", updates the state and emits the player
// events. Polls are not recorded in history.
func (i *Instance) RefreshPlayers(ctx context.Context) (minecraft.PlayerList, error) {
	resp, err := i.run(ctx, "list", db.SourceScheduler, false)
	if err != nil {
		return minecraft.PlayerList{}, err
	}
	list, err := minecraft.ParsePlayerList(resp)
	if err != nil {
		return minecraft.PlayerList{}, err
	}

	joined, left := i.state.UpdatePlayers(list.Players, list.Max)
	for _, p := range joined {
		i.emit(events.EventPlayerJoined, events.PlayerPayload{Player: p})
	}
	for _, p := range left {
		i.emit(events.EventPlayerLeft, events.PlayerPayload{Player: p})
	}
	i.emit(events.EventPlayersUpdated, events.PlayersPayload{
		Online:  list.Online,
		Max:     list.Max,
		Players: list.Players,
	})
	return list, nil
}

// Admin returns typed Minecraft commands that run through this instance
// and are recorded under source.
func (i *Instance) Admin(source string) *minecraft.Admin {
	return minecraft.NewAdmin(sourceRunner{i: i, source: source})
}

type sourceRunner struct {
	i      *Instance
	source string
}

func (r sourceRunner) Run(ctx context.Context, command string) (string, error) {
	return r.i.Run(ctx, command, r.source)
}

func (i *Instance) emit(t events.EventType, payload interface{}) {
	if i.bus == nil {
		return
	}
	i.bus.Emit(context.Background(), events.New(t, i.name, payload))
}

// Status returns a summary of the instance for the API and console.
func (i *Instance) Status() Status {
	p := i.Profile()
	st := Status{
		Name:          i.name,
		Addr:          i.Addr(),
		State:         network.StateDisconnected,
		AutoConnect:   p.AutoConnect,
		AutoReconnect: p.AutoReconnect,
		PollPlayers:   p.PollPlayers,
		TLS:           p.UseTLS,
		Snapshot:      i.state.Snapshot(),
	}
	if c := i.currentClient(); c != nil {
		st.State = c.State()
		st.Connected = c.IsConnected()
		if info, ok := c.Pending(); ok {
			st.Pending = &info
		}
		last := c.LastActivity()
		st.LastActivity = &last
	}
	return st
}

// Status is a JSON-serializable summary of an instance.
type Status struct {
	Name          string            `json:"name"`
	Addr          string            `json:"addr"`
	State         network.ConnState `json:"state"`
	Connected     bool              `json:"connected"`
	AutoConnect   bool              `json:"auto_connect"`
	AutoReconnect bool              `json:"auto_reconnect"`
	PollPlayers   bool              `json:"poll_players"`
	TLS           bool              `json:"tls"`
	Pending       *rcon.PendingInfo `json:"pending,omitempty"`
	LastActivity  *time.Time        `json:"last_activity,omitempty"`
	Snapshot      StateSnapshot     `json:"state_detail"`
}
