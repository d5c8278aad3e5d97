package cli

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/energizer-project/rconsole/internal/config"
	"github.com/energizer-project/rconsole/internal/db"
	"github.com/energizer-project/rconsole/internal/events"
	"github.com/energizer-project/rconsole/internal/minecraft"
	"github.com/energizer-project/rconsole/internal/mockserver"
	"github.com/energizer-project/rconsole/internal/server"
)

func newManager(t *testing.T, history server.HistoryRecorder, names ...string) *server.Manager {
	t.Helper()

	world := mockserver.NewWorld()
	world.Join("alex", "steve")
	mock := mockserver.New(mockserver.Options{Password: "pw", Handler: world.Handle})
	ctx, cancel := context.WithCancel(context.Background())
	if err := mock.Start(ctx); err != nil {
		cancel()
		t.Fatalf("failed to start mock server: %s", err)
	}
	t.Cleanup(func() {
		cancel()
		_ = mock.Close()
	})

	cfg := config.DefaultConfig()
	cfg.RemoveServer("local")
	for _, n := range names {
		cfg.UpsertServer(config.ServerProfile{Name: n, Host: mock.Host(), Port: mock.Port(), Password: "pw"})
	}
	app := cfg.GetApplicationData()
	app.DefaultServer = ""
	app.Timeouts = config.TimeoutConfig{ConnectSec: 2, ReadSec: 2, WriteSec: 2}
	cfg.SetApplicationData(app)

	bus := events.NewEventBus()
	t.Cleanup(bus.Stop)
	m := server.NewManager(cfg, bus, history)
	t.Cleanup(m.DisconnectAll)
	return m
}

func TestParseArgs(t *testing.T) {
	tests := []struct {
		template string
		words    []string
		want     minecraft.Args
	}{
		{"say", []string{"hello", "there"}, minecraft.Args{"message": "hello there"}},
		{"kick", []string{"alex"}, minecraft.Args{"player": "alex"}},
		{"kick", []string{"alex", "griefing", "spawn"}, minecraft.Args{"player": "alex", "reason": "griefing spawn"}},
		{"kick", []string{"reason=spam", "alex"}, minecraft.Args{"player": "alex", "reason": "spam"}},
		{"tp", []string{"alex", "1", "64", "-3"}, minecraft.Args{"player": "alex", "x": "1", "y": "64", "z": "-3"}},
		{"tp", []string{"alex"}, minecraft.Args{"player": "alex"}},
	}
	for _, tt := range tests {
		got := ParseArgs(minecraft.Templates[tt.template], tt.words)
		if len(got) != len(tt.want) {
			t.Errorf("%s %v = %v, want %v", tt.template, tt.words, got, tt.want)
			continue
		}
		for k, v := range tt.want {
			if got[k] != v {
				t.Errorf("%s %v: %s = %q, want %q", tt.template, tt.words, k, got[k], v)
			}
		}
	}
}

func TestConsoleSession(t *testing.T) {
	store, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("db.Open: %s", err)
	}
	defer store.Close()

	m := newManager(t, store, "survival", "creative")
	in := strings.NewReader(strings.Join([]string{
		".connect",
		"list",
		".do say hi there",
		".history 5",
		".servers",
		".quit",
		"list",
	}, "\n"))
	var out bytes.Buffer

	console := NewConsole(nil, nil, m, store, in, &out)
	if console.Active() != "survival" {
		t.Fatalf("active = %q, want the first profile", console.Active())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := console.Run(ctx); err != nil {
		t.Fatalf("Run: %s", err)
	}

	text := out.String()
	for _, want := range []string{
		"Connected to survival",
		"There are 2 of a max of 20 players online: alex, steve",
		"(no response)",
		"say hi there",
		"creative",
		"Bye.",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("output is missing %q:\n%s", want, text)
		}
	}
	if n := strings.Count(text, "There are 2"); n != 1 {
		t.Errorf("lines after .quit were executed (%d list responses)", n)
	}
	if strings.Contains(text, "Error:") {
		t.Errorf("unexpected error in output:\n%s", text)
	}
}

func TestConsoleCommands(t *testing.T) {
	m := newManager(t, nil, "survival", "creative")
	var out bytes.Buffer
	console := NewConsole(nil, nil, m, nil, strings.NewReader(""), &out)
	ctx := context.Background()

	if err := console.Execute(ctx, "list"); err == nil || !strings.Contains(err.Error(), ".connect") {
		t.Errorf("command while disconnected: %v", err)
	}
	if err := console.Execute(ctx, ".use CREATIVE"); err != nil {
		t.Fatalf(".use: %s", err)
	}
	if console.Active() != "creative" {
		t.Errorf("active = %q", console.Active())
	}
	if err := console.Execute(ctx, ".use nether"); err == nil {
		t.Error(".use of an unknown profile should fail")
	}
	if err := console.Execute(ctx, ".connect"); err != nil {
		t.Fatalf(".connect: %s", err)
	}

	out.Reset()
	if err := console.Execute(ctx, ".players"); err != nil {
		t.Fatalf(".players: %s", err)
	}
	if !strings.Contains(out.String(), "2 of 20 players online") || !strings.Contains(out.String(), "steve") {
		t.Errorf(".players output:\n%s", out.String())
	}

	out.Reset()
	if err := console.Execute(ctx, ".quick day"); err != nil {
		t.Errorf(".quick day: %s", err)
	}
	if err := console.Execute(ctx, ".quick dusk"); err == nil {
		t.Error("unknown quick command should fail")
	}
	if err := console.Execute(ctx, ".do fly alex"); err == nil {
		t.Error("unknown template should fail")
	}
	if err := console.Execute(ctx, ".do kick"); err == nil {
		t.Error("missing template argument should fail")
	}

	out.Reset()
	if err := console.Execute(ctx, ".status"); err != nil {
		t.Fatalf(".status: %s", err)
	}
	if !strings.Contains(out.String(), "ready") {
		t.Errorf(".status output:\n%s", out.String())
	}

	if err := console.Execute(ctx, ".history"); err == nil {
		t.Error(".history without a database should fail")
	}
	if err := console.Execute(ctx, ".frobnicate"); err == nil {
		t.Error("unknown console command should fail")
	}
	if err := console.Execute(ctx, ".disconnect"); err != nil {
		t.Errorf(".disconnect: %s", err)
	}
	if err := console.Execute(ctx, ".quit"); err != errQuit {
		t.Errorf(".quit = %v", err)
	}
}

func TestConsoleNoProfiles(t *testing.T) {
	m := newManager(t, nil)
	var out bytes.Buffer
	console := NewConsole(nil, nil, m, nil, strings.NewReader(""), &out)

	if err := console.Execute(context.Background(), ".status"); err == nil || !strings.Contains(err.Error(), "no server selected") {
		t.Errorf(".status = %v", err)
	}
	if err := console.Execute(context.Background(), ".servers"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "No server profiles") {
		t.Errorf("output: %s", out.String())
	}
}

func TestConsoleStopsOnCancel(t *testing.T) {
	m := newManager(t, nil, "survival")
	// A reader that never returns keeps the loop waiting for input.
	in, w := io.Pipe()
	defer w.Close()
	var out bytes.Buffer
	console := NewConsole(nil, nil, m, nil, in, &out)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- console.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
