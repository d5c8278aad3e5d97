package server

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/rconsole/internal/config"
	"github.com/energizer-project/rconsole/internal/db"
	"github.com/energizer-project/rconsole/internal/events"
)

// maxParallelConnects limits concurrent dials in ConnectAll.
const maxParallelConnects = 4

// Manager owns one Instance per configured server profile.
type Manager struct {
	mu sync.RWMutex

	cfg     *config.Config
	bus     *events.EventBus
	history HistoryRecorder

	instances map[string]*Instance
	order     []string
}

// NewManager builds instances for every profile in cfg and subscribes to
// the bus. history may be nil to disable recording.
func NewManager(cfg *config.Config, bus *events.EventBus, history HistoryRecorder) *Manager {
	m := &Manager{
		cfg:       cfg,
		bus:       bus,
		history:   history,
		instances: make(map[string]*Instance),
	}
	m.Sync()
	if bus != nil {
		m.subscribeEvents()
	}
	return m
}

func (m *Manager) subscribeEvents() {
	m.bus.Subscribe(events.EventConfigChanged, "manager.configChanged", m.onConfigChanged)
	m.bus.Subscribe(events.EventRemoteCommand, "manager.remoteCommand", m.onRemoteCommand)
	m.bus.Subscribe(events.EventShutdown, "manager.shutdown", m.onShutdown)
	log.Debug().Msg("manager event subscriptions registered")
}

func key(name string) string {
	return strings.ToLower(name)
}

// Sync brings the instance set in line with the configured profiles:
// new profiles get an instance, removed ones are disconnected and
// dropped, and existing ones pick up profile changes.
func (m *Manager) Sync() {
	profiles := m.cfg.GetServers()

	m.mu.Lock()
	seen := make(map[string]bool, len(profiles))
	order := make([]string, 0, len(profiles))
	for _, p := range profiles {
		k := key(p.Name)
		if seen[k] {
			continue
		}
		seen[k] = true
		order = append(order, k)

		if inst, ok := m.instances[k]; ok {
			inst.SetProfile(p)
			continue
		}
		m.instances[k] = NewInstance(m.cfg, m.bus, m.history, p)
		log.Debug().Str("server", p.Name).Msg("server instance created")
	}

	var removed []*Instance
	for k, inst := range m.instances {
		if !seen[k] {
			removed = append(removed, inst)
			delete(m.instances, k)
		}
	}
	m.order = order
	m.mu.Unlock()

	for _, inst := range removed {
		log.Info().Str("server", inst.Name()).Msg("server profile removed")
		if err := inst.Disconnect(); err != nil {
			log.Warn().Err(err).Str("server", inst.Name()).Msg("error disconnecting removed profile")
		}
	}
}

// Get returns the instance for a profile name (case-insensitive).
func (m *Manager) Get(name string) (*Instance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.instances[key(name)]
	return inst, ok
}

// Lookup is Get with an error for unknown names.
func (m *Manager) Lookup(name string) (*Instance, error) {
	if inst, ok := m.Get(name); ok {
		return inst, nil
	}
	return nil, fmt.Errorf("unknown server %q", name)
}

// Default returns the instance of the default profile.
func (m *Manager) Default() (*Instance, bool) {
	p, ok := m.cfg.DefaultServer()
	if !ok {
		return nil, false
	}
	return m.Get(p.Name)
}

// List returns the instances in configuration order.
func (m *Manager) List() []*Instance {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Instance, 0, len(m.order))
	for _, k := range m.order {
		out = append(out, m.instances[k])
	}
	return out
}

// Statuses returns the status of every instance in configuration order.
func (m *Manager) Statuses() []Status {
	list := m.List()
	out := make([]Status, len(list))
	for i, inst := range list {
		out[i] = inst.Status()
	}
	return out
}

// ConnectedCount returns how many instances have a live session.
func (m *Manager) ConnectedCount() int {
	n := 0
	for _, inst := range m.List() {
		if inst.IsConnected() {
			n++
		}
	}
	return n
}

// ConnectAll connects every auto_connect profile in parallel. Failures
// are logged; the number of successful connects is returned.
func (m *Manager) ConnectAll(ctx context.Context) int {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
		sem     = make(chan struct{}, maxParallelConnects)
	)

	for _, inst := range m.List() {
		if !inst.Profile().AutoConnect {
			continue
		}
		wg.Add(1)
		go func(inst *Instance) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if err := inst.Connect(ctx); err != nil {
				log.Warn().Err(err).Str("server", inst.Name()).Msg("auto connect failed")
				return
			}
			mu.Lock()
			success++
			mu.Unlock()
		}(inst)
	}
	wg.Wait()

	log.Info().Int("connected", success).Msg("auto connect complete")
	return success
}

// DisconnectAll closes every session.
func (m *Manager) DisconnectAll() {
	var wg sync.WaitGroup
	for _, inst := range m.List() {
		wg.Add(1)
		go func(inst *Instance) {
			defer wg.Done()
			if err := inst.Disconnect(); err != nil {
				log.Warn().Err(err).Str("server", inst.Name()).Msg("failed to disconnect")
			}
		}(inst)
	}
	wg.Wait()
}

func (m *Manager) onConfigChanged(_ context.Context, _ events.Event) error {
	m.Sync()
	return nil
}

// onRemoteCommand runs commands that arrived over MQTT. The result is
// published through the usual command events.
func (m *Manager) onRemoteCommand(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.RemoteCommandPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T", event.Payload)
	}

	var inst *Instance
	if p.Server == "" {
		inst, ok = m.Default()
		if !ok {
			return fmt.Errorf("no default server for remote command")
		}
	} else {
		var err error
		if inst, err = m.Lookup(p.Server); err != nil {
			return err
		}
	}

	source := p.Origin
	if source == "" {
		source = db.SourceMQTT
	}
	_, err := inst.Run(ctx, p.Command, source)
	return err
}

func (m *Manager) onShutdown(_ context.Context, _ events.Event) error {
	m.DisconnectAll()
	return nil
}
