package server_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/energizer-project/rconsole/internal/config"
	"github.com/energizer-project/rconsole/internal/db"
	"github.com/energizer-project/rconsole/internal/events"
	"github.com/energizer-project/rconsole/internal/mockserver"
	"github.com/energizer-project/rconsole/internal/server"
)

const testPassword = "hunter2"

type fakeHistory struct {
	mu      sync.Mutex
	entries []db.HistoryEntry
}

func (f *fakeHistory) RecordCommand(e db.HistoryEntry) (db.HistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return e, nil
}

func (f *fakeHistory) all() []db.HistoryEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]db.HistoryEntry(nil), f.entries...)
}

// recorder collects bus events. waitFor keeps events it skipped so
// callers may wait for them in any order.
type recorder struct {
	ch      chan events.Event
	backlog []events.Event
}

func newRecorder(bus *events.EventBus) *recorder {
	r := &recorder{ch: make(chan events.Event, 256)}
	bus.SubscribeAll("test.recorder", func(_ context.Context, e events.Event) error {
		r.ch <- e
		return nil
	})
	return r
}

func (r *recorder) waitFor(t *testing.T, typ events.EventType) events.Event {
	t.Helper()
	for i, e := range r.backlog {
		if e.Type == typ {
			r.backlog = append(r.backlog[:i], r.backlog[i+1:]...)
			return e
		}
	}
	timeout := time.After(3 * time.Second)
	for {
		select {
		case e := <-r.ch:
			if e.Type == typ {
				return e
			}
			r.backlog = append(r.backlog, e)
		case <-timeout:
			t.Fatalf("timed out waiting for %s event", typ)
			return events.Event{}
		}
	}
}

func startWorld(t *testing.T) (*mockserver.Server, *mockserver.World) {
	t.Helper()
	world := mockserver.NewWorld()
	srv := mockserver.New(mockserver.Options{Password: testPassword, Handler: world.Handle})
	ctx, cancel := context.WithCancel(context.Background())
	if err := srv.Start(ctx); err != nil {
		cancel()
		t.Fatalf("failed to start mock server: %s", err)
	}
	t.Cleanup(func() {
		cancel()
		_ = srv.Close()
	})
	return srv, world
}

func testConfig(profiles ...config.ServerProfile) *config.Config {
	cfg := config.DefaultConfig()
	cfg.RemoveServer("local")
	for _, p := range profiles {
		cfg.UpsertServer(p)
	}
	app := cfg.GetApplicationData()
	app.DefaultServer = ""
	app.Timeouts = config.TimeoutConfig{ConnectSec: 2, ReadSec: 2, WriteSec: 2}
	cfg.SetApplicationData(app)
	return cfg
}

func profileFor(name string, srv *mockserver.Server) config.ServerProfile {
	return config.ServerProfile{
		Name:        name,
		Host:        srv.Host(),
		Port:        srv.Port(),
		Password:    testPassword,
		AutoConnect: true,
	}
}

func newBus(t *testing.T) *events.EventBus {
	bus := events.NewEventBus()
	t.Cleanup(bus.Stop)
	return bus
}

func TestInstanceConnectAndRun(t *testing.T) {
	srv, world := startWorld(t)
	world.Join("alice")

	bus := newBus(t)
	rec := newRecorder(bus)
	history := &fakeHistory{}
	cfg := testConfig(profileFor("survival", srv))
	p, _ := cfg.GetServer("survival")
	inst := server.NewInstance(cfg, bus, history, p)

	if err := inst.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %s", err)
	}
	defer inst.Disconnect()

	if !inst.IsConnected() {
		t.Fatal("expected instance to be connected")
	}
	if e := rec.waitFor(t, events.EventConnected); e.Source != "survival" {
		t.Errorf("connected event source = %q", e.Source)
	}

	resp, err := inst.Run(context.Background(), "list", db.SourceCLI)
	if err != nil {
		t.Fatalf("Run failed: %s", err)
	}
	if resp != "There are 1 of a max of 20 players online: alice" {
		t.Errorf("unexpected response %q", resp)
	}

	e := rec.waitFor(t, events.EventCommandExecuted)
	payload, ok := e.Payload.(events.CommandPayload)
	if !ok {
		t.Fatalf("unexpected payload %T", e.Payload)
	}
	if payload.ExecID == "" || payload.Source != db.SourceCLI || payload.Command != "list" {
		t.Errorf("unexpected command payload %+v", payload)
	}

	entries := history.all()
	if len(entries) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(entries))
	}
	if entries[0].ID != payload.ExecID || entries[0].Server != "survival" {
		t.Errorf("history entry does not match event: %+v", entries[0])
	}

	st := inst.Status()
	if !st.Connected || st.Snapshot.CommandsRun != 1 {
		t.Errorf("unexpected status %+v", st)
	}
}

func TestInstanceScrubsSecrets(t *testing.T) {
	srv, _ := startWorld(t)
	history := &fakeHistory{}
	cfg := testConfig(profileFor("auth", srv))
	p, _ := cfg.GetServer("auth")
	inst := server.NewInstance(cfg, nil, history, p)

	if err := inst.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %s", err)
	}
	defer inst.Disconnect()

	if _, err := inst.Run(context.Background(), "login sup3rsecret", db.SourceAPI); err != nil {
		t.Fatalf("Run failed: %s", err)
	}
	entries := history.all()
	if len(entries) != 1 || entries[0].Command != "login xxxxx" {
		t.Errorf("secret not scrubbed from history: %+v", entries)
	}
}

func TestInstanceRunNotConnected(t *testing.T) {
	cfg := testConfig(config.ServerProfile{Name: "idle", Host: "127.0.0.1", Port: 1})
	p, _ := cfg.GetServer("idle")
	inst := server.NewInstance(cfg, nil, nil, p)

	if _, err := inst.Run(context.Background(), "list", db.SourceCLI); !errors.Is(err, server.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	if err := inst.Disconnect(); err != nil {
		t.Errorf("Disconnect on idle instance: %s", err)
	}
}

func TestInstanceAuthFailure(t *testing.T) {
	srv, _ := startWorld(t)
	bus := newBus(t)
	rec := newRecorder(bus)

	p := profileFor("wrong", srv)
	p.Password = "nope"
	cfg := testConfig(p)
	inst := server.NewInstance(cfg, bus, nil, p)

	if err := inst.Connect(context.Background()); err == nil {
		t.Fatal("expected Connect to fail")
	}
	rec.waitFor(t, events.EventAuthFailed)

	if inst.IsConnected() {
		t.Error("instance should not be connected")
	}
	if inst.Status().Snapshot.LastError == "" {
		t.Error("expected last error to be recorded")
	}
}

func TestInstanceDropsFailedSession(t *testing.T) {
	world := mockserver.NewWorld()
	srv := mockserver.New(mockserver.Options{
		Password: testPassword,
		Handler:  world.Handle,
		Delay: func(cmd string) time.Duration {
			if cmd == "slow" {
				return time.Second
			}
			return 0
		},
	})
	sctx, scancel := context.WithCancel(context.Background())
	if err := srv.Start(sctx); err != nil {
		scancel()
		t.Fatalf("failed to start mock server: %s", err)
	}
	t.Cleanup(func() {
		scancel()
		_ = srv.Close()
	})

	bus := newBus(t)
	rec := newRecorder(bus)
	cfg := testConfig(profileFor("flaky", srv))
	p, _ := cfg.GetServer("flaky")
	inst := server.NewInstance(cfg, bus, nil, p)

	if err := inst.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %s", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := inst.Run(ctx, "slow", db.SourceCLI); err == nil {
		t.Fatal("expected Run to fail")
	}
	if inst.IsConnected() {
		t.Fatal("failed session should be dropped")
	}
	rec.waitFor(t, events.EventCommandFailed)
	rec.waitFor(t, events.EventDisconnected)

	// A fresh connect recovers.
	if err := inst.Reconnect(context.Background()); err != nil {
		t.Fatalf("Reconnect failed: %s", err)
	}
	defer inst.Disconnect()
	if _, err := inst.Run(context.Background(), "seed", db.SourceCLI); err != nil {
		t.Errorf("Run after reconnect failed: %s", err)
	}
	if got := inst.Status().Snapshot.Reconnects; got != 1 {
		t.Errorf("reconnects = %d, want 1", got)
	}
}

func TestRefreshPlayers(t *testing.T) {
	srv, world := startWorld(t)
	world.Join("alice", "bob")

	bus := newBus(t)
	rec := newRecorder(bus)
	history := &fakeHistory{}
	cfg := testConfig(profileFor("players", srv))
	p, _ := cfg.GetServer("players")
	inst := server.NewInstance(cfg, bus, history, p)

	if err := inst.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %s", err)
	}
	defer inst.Disconnect()

	list, err := inst.RefreshPlayers(context.Background())
	if err != nil {
		t.Fatalf("RefreshPlayers failed: %s", err)
	}
	if list.Online != 2 || list.Max != 20 {
		t.Errorf("unexpected list %+v", list)
	}

	world.Leave("alice")
	world.Join("carol")
	if _, err := inst.RefreshPlayers(context.Background()); err != nil {
		t.Fatalf("RefreshPlayers failed: %s", err)
	}

	var joined, left []string
	timeout := time.After(3 * time.Second)
	for len(joined) < 3 || len(left) < 1 {
		select {
		case e := <-rec.ch:
			switch e.Type {
			case events.EventPlayerJoined:
				joined = append(joined, e.Payload.(events.PlayerPayload).Player)
			case events.EventPlayerLeft:
				left = append(left, e.Payload.(events.PlayerPayload).Player)
			}
		case <-timeout:
			t.Fatalf("timed out: joined=%v left=%v", joined, left)
		}
	}
	if left[0] != "alice" {
		t.Errorf("left = %v, want [alice]", left)
	}

	names := make([]string, 0)
	for _, pl := range inst.State().Players() {
		names = append(names, pl.Name)
	}
	if len(names) != 2 || names[0] != "bob" || names[1] != "carol" {
		t.Errorf("players = %v, want [bob carol]", names)
	}
	if n := len(history.all()); n != 0 {
		t.Errorf("player polls should not be recorded, got %d entries", n)
	}
}

func TestManager(t *testing.T) {
	srv, _ := startWorld(t)

	bus := newBus(t)
	rec := newRecorder(bus)
	history := &fakeHistory{}

	manual := profileFor("Creative", srv)
	manual.AutoConnect = false
	cfg := testConfig(profileFor("Survival", srv), manual)

	m := server.NewManager(cfg, bus, history)
	defer m.DisconnectAll()

	list := m.List()
	if len(list) != 2 || list[0].Name() != "Survival" || list[1].Name() != "Creative" {
		t.Fatalf("unexpected instance order")
	}
	if _, ok := m.Get("survival"); !ok {
		t.Error("Get should be case-insensitive")
	}
	if def, ok := m.Default(); !ok || def.Name() != "Survival" {
		t.Error("default should fall back to the first profile")
	}

	if n := m.ConnectAll(context.Background()); n != 1 {
		t.Fatalf("ConnectAll connected %d, want 1", n)
	}
	if m.ConnectedCount() != 1 {
		t.Errorf("ConnectedCount = %d", m.ConnectedCount())
	}

	t.Run("remote command", func(t *testing.T) {
		bus.Emit(context.Background(), events.New(events.EventRemoteCommand, "mqtt",
			events.RemoteCommandPayload{Server: "survival", Command: "seed"}))
		e := rec.waitFor(t, events.EventCommandExecuted)
		if p := e.Payload.(events.CommandPayload); p.Source != db.SourceMQTT {
			t.Errorf("source = %q, want %q", p.Source, db.SourceMQTT)
		}
	})

	t.Run("sync", func(t *testing.T) {
		cfg.RemoveServer("Survival")
		cfg.UpsertServer(config.ServerProfile{Name: "Hardcore", Host: "127.0.0.1", Port: srv.Port()})
		m.Sync()

		if _, ok := m.Get("Survival"); ok {
			t.Error("removed profile still present")
		}
		if _, ok := m.Get("hardcore"); !ok {
			t.Error("new profile missing")
		}
		if m.ConnectedCount() != 0 {
			t.Errorf("removed profile should have been disconnected")
		}
	})
}
