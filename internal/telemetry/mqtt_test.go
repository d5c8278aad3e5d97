package telemetry

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/energizer-project/rconsole/internal/config"
	"github.com/energizer-project/rconsole/internal/db"
	"github.com/energizer-project/rconsole/internal/events"
)

func newTestHandler(t *testing.T, remote bool) (*MQTTHandler, *events.EventBus) {
	t.Helper()
	cfg := config.DefaultConfig()
	app := cfg.GetApplicationData()
	app.MQTT.Enabled = true
	app.MQTT.BrokerURL = "broker.local"
	app.MQTT.ClientID = "node1"
	app.MQTT.AllowRemoteCommands = remote
	cfg.SetApplicationData(app)

	bus := events.NewEventBus()
	t.Cleanup(bus.Stop)

	h, err := NewMQTTHandler(cfg, bus)
	if err != nil {
		t.Fatalf("NewMQTTHandler: %s", err)
	}
	return h, bus
}

func TestNewMQTTHandlerDisabled(t *testing.T) {
	_, err := NewMQTTHandler(config.DefaultConfig(), events.NewEventBus())
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("expected ErrDisabled, got %v", err)
	}
}

func TestBrokerURL(t *testing.T) {
	tests := []struct {
		cfg  config.MQTTConfig
		want string
	}{
		{config.MQTTConfig{BrokerURL: "mq.example.com"}, "tcp://mq.example.com:1883"},
		{config.MQTTConfig{BrokerURL: "mq.example.com", Port: 8883, UseTLS: true}, "ssl://mq.example.com:8883"},
		{config.MQTTConfig{BrokerURL: "ws://mq.example.com:9001/mqtt"}, "ws://mq.example.com:9001/mqtt"},
	}
	for _, tt := range tests {
		if got := BrokerURL(tt.cfg); got != tt.want {
			t.Errorf("BrokerURL(%+v) = %q, want %q", tt.cfg, got, tt.want)
		}
	}
}

func TestMessage(t *testing.T) {
	h, _ := newTestHandler(t, false)

	if got := h.Topic(TopicCommand); got != "rconsole/node1/command" {
		t.Errorf("command topic = %q", got)
	}

	ev := events.New(events.EventPlayerJoined, "survival", events.PlayerPayload{Player: "alex"})
	topic, msg, ok := h.Message(ev)
	if !ok {
		t.Fatal("player event should be published")
	}
	if topic != "rconsole/node1/events/player_joined" {
		t.Errorf("topic = %q", topic)
	}
	if msg["source"] != "survival" || msg["event_id"] != ev.ID || msg["client_id"] != "node1" {
		t.Errorf("unexpected message %v", msg)
	}
	if p, ok := msg["payload"].(events.PlayerPayload); !ok || p.Player != "alex" {
		t.Errorf("payload = %v", msg["payload"])
	}

	remote := events.New(events.EventRemoteCommand, "mqtt", events.RemoteCommandPayload{Command: "op alex"})
	if _, _, ok := h.Message(remote); ok {
		t.Error("remote commands must not be republished")
	}
}

func TestHandleCommand(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		h, _ := newTestHandler(t, false)
		if err := h.HandleCommand([]byte(`{"command":"list"}`)); err == nil {
			t.Error("expected remote commands to be refused")
		}
	})

	t.Run("accepted", func(t *testing.T) {
		h, bus := newTestHandler(t, true)
		got := make(chan events.RemoteCommandPayload, 1)
		bus.Subscribe(events.EventRemoteCommand, "test", func(_ context.Context, e events.Event) error {
			got <- e.Payload.(events.RemoteCommandPayload)
			return nil
		})

		if err := h.HandleCommand([]byte(`{"server":"survival","command":"  say hi  "}`)); err != nil {
			t.Fatalf("HandleCommand: %s", err)
		}
		select {
		case p := <-got:
			if p.Server != "survival" || p.Command != "say hi" || p.Origin != db.SourceMQTT {
				t.Errorf("unexpected payload %+v", p)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("remote command was not emitted")
		}
	})

	t.Run("invalid", func(t *testing.T) {
		h, _ := newTestHandler(t, true)
		bad := []string{
			`not json`,
			`{"command":""}`,
			`{"command":"say a\nstop"}`,
			`{"command":"` + strings.Repeat("x", maxRemoteCommand+1) + `"}`,
		}
		for _, b := range bad {
			if err := h.HandleCommand([]byte(b)); err == nil {
				t.Errorf("expected %q to be rejected", b)
			}
		}
	})
}
