// Package health keeps auto_reconnect profiles connected and publishes a
// periodic heartbeat with host metrics.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/energizer-project/rconsole/internal/config"
	"github.com/energizer-project/rconsole/internal/events"
	"github.com/energizer-project/rconsole/internal/rcon"
	"github.com/energizer-project/rconsole/internal/server"
	"github.com/energizer-project/rconsole/internal/util"
)

// Manager is the reconnect watchdog. The rcon engine never reconnects on
// its own; this is the one place that does.
type Manager struct {
	cfg       *config.Config
	eventBus  *events.EventBus
	serverMgr *server.Manager
	reconnect ReconnectConfig
	logger    zerolog.Logger

	mu     sync.Mutex
	states map[string]*retryState

	wake chan struct{}
}

type retryState struct {
	backoff *Backoff
	nextAt  time.Time
}

// NewManager creates a watchdog over every profile of serverMgr.
func NewManager(cfg *config.Config, eventBus *events.EventBus, serverMgr *server.Manager) *Manager {
	return &Manager{
		cfg:       cfg,
		eventBus:  eventBus,
		serverMgr: serverMgr,
		reconnect: DefaultReconnectConfig(),
		logger:    util.ComponentLogger("health"),
		states:    make(map[string]*retryState),
		wake:      make(chan struct{}, 1),
	}
}

// SetReconnectConfig overrides the backoff parameters. Call before Start.
func (m *Manager) SetReconnectConfig(rc ReconnectConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconnect = rc
}

// Start runs the watchdog and the heartbeat until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	if m.eventBus != nil {
		m.eventBus.Subscribe(events.EventDisconnected, "health.disconnected", func(context.Context, events.Event) error {
			m.Wake()
			return nil
		})
		defer m.eventBus.Unsubscribe(events.EventDisconnected, "health.disconnected")
	}

	timers := m.cfg.GetApplicationData().Timers
	if timers.HeartbeatInterval > 0 {
		go m.heartbeatLoop(ctx, time.Duration(timers.HeartbeatInterval)*time.Second)
	}

	interval := time.Duration(timers.HealthCheckInterval) * time.Second
	if interval <= 0 {
		interval = 15 * time.Second
	}
	m.logger.Info().Dur("interval", interval).Msg("watchdog started")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("watchdog stopped")
			return
		case <-m.wake:
		case <-timer.C:
		}

		wait := m.Check(ctx)
		if wait <= 0 || wait > interval {
			wait = interval
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)
	}
}

// Wake asks the watchdog to check the profiles now.
func (m *Manager) Wake() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Check tries to reconnect every auto_reconnect profile that lost its
// session and whose backoff has expired. Profiles disconnected on purpose
// are left alone. It returns how long until the next attempt is due (zero
// when nothing is waiting).
func (m *Manager) Check(ctx context.Context) time.Duration {
	now := time.Now()
	var soonest time.Duration
	seen := make(map[string]bool)

	for _, inst := range m.serverMgr.List() {
		name := inst.Name()
		seen[name] = true

		if !inst.Profile().AutoReconnect || !inst.Wanted() {
			m.resetState(name)
			continue
		}
		if inst.IsConnected() {
			m.resetState(name)
			continue
		}

		st := m.state(name)
		if now.Before(st.nextAt) {
			soonest = minWait(soonest, st.nextAt.Sub(now))
			continue
		}

		wait := m.attempt(ctx, inst, st)
		soonest = minWait(soonest, wait)
	}

	m.mu.Lock()
	for name := range m.states {
		if !seen[name] {
			delete(m.states, name)
		}
	}
	m.mu.Unlock()

	return soonest
}

// attempt makes one reconnect attempt and schedules the next one when it
// fails.
func (m *Manager) attempt(ctx context.Context, inst *server.Instance, st *retryState) time.Duration {
	m.mu.Lock()
	attempt := st.backoff.Attempt() + 1
	m.mu.Unlock()

	m.emit(events.EventReconnecting, inst.Name(), events.ConnectionPayload{
		Addr:    inst.Addr(),
		State:   "connecting",
		Attempt: attempt,
	})

	err := inst.Connect(ctx)
	if err == nil {
		m.logger.Info().Str("server", inst.Name()).Int("attempt", attempt).Msg("reconnected")
		m.resetState(inst.Name())
		return 0
	}
	if ctx.Err() != nil {
		return 0
	}

	m.mu.Lock()
	var wait time.Duration
	if rcon.IsRetryable(err) {
		wait = st.backoff.Next()
	} else {
		// A rejected password will not fix itself; keep the attempts
		// rare so the server's login throttling is not triggered.
		wait = st.backoff.Max()
	}
	st.nextAt = time.Now().Add(wait)
	m.mu.Unlock()

	m.logger.Warn().
		Err(err).
		Str("server", inst.Name()).
		Int("attempt", attempt).
		Dur("retry_in", wait).
		Msg("reconnect failed")

	m.emit(events.EventReconnecting, inst.Name(), events.ConnectionPayload{
		Addr:    inst.Addr(),
		State:   "waiting",
		Error:   err.Error(),
		Attempt: attempt,
		RetryIn: wait,
	})
	return wait
}

func (m *Manager) state(name string) *retryState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[name]
	if !ok {
		st = &retryState{backoff: NewBackoff(m.reconnect)}
		m.states[name] = st
	}
	return st
}

// resetState starts the profile's backoff over after a success or a
// deliberate disconnect.
func (m *Manager) resetState(name string) {
	m.mu.Lock()
	if st, ok := m.states[name]; ok {
		st.backoff.Reset()
		st.nextAt = time.Time{}
	}
	m.mu.Unlock()
}

// heartbeatLoop publishes connection states and host metrics.
func (m *Manager) heartbeatLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	host := util.GetHostInfo()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.emit(events.EventHeartbeat, "health", m.Heartbeat(host))
		}
	}
}

// Heartbeat builds the heartbeat payload.
func (m *Manager) Heartbeat(host util.HostInfo) events.HeartbeatPayload {
	hb := events.HeartbeatPayload{
		Servers: make(map[string]string),
		Host:    host,
		Usage:   util.GetUsage(),
	}
	for _, inst := range m.serverMgr.List() {
		st := inst.Status()
		hb.Servers[st.Name] = st.State.String()
		if st.Connected {
			hb.Connected++
		}
	}
	return hb
}

func (m *Manager) emit(t events.EventType, source string, payload interface{}) {
	if m.eventBus == nil {
		return
	}
	m.eventBus.Emit(context.Background(), events.New(t, source, payload))
}

func minWait(cur, d time.Duration) time.Duration {
	if d <= 0 {
		return cur
	}
	if cur == 0 || d < cur {
		return d
	}
	return cur
}
