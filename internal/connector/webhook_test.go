package connector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/energizer-project/rconsole/internal/config"
	"github.com/energizer-project/rconsole/internal/events"
)

func TestNotificationFor(t *testing.T) {
	all := config.WebhookConfig{NotifyOnDisconnect: true, NotifyOnAuthFailure: true, NotifyOnReconnect: true}

	tests := []struct {
		name  string
		wc    config.WebhookConfig
		event events.Event
		want  bool
		level string
	}{
		{"auth failed", all, events.New(events.EventAuthFailed, "s", events.ConnectionPayload{Addr: "a"}), true, "error"},
		{"auth failed muted", config.WebhookConfig{}, events.New(events.EventAuthFailed, "s", events.ConnectionPayload{}), false, ""},
		{"lost", all, events.New(events.EventDisconnected, "s", events.ConnectionPayload{Error: "eof"}), true, "warning"},
		{"deliberate disconnect", all, events.New(events.EventDisconnected, "s", events.ConnectionPayload{}), false, ""},
		{"first retry", all, events.New(events.EventReconnecting, "s", events.ConnectionPayload{Attempt: 1, Error: "refused", RetryIn: time.Second}), true, "warning"},
		{"later retry", all, events.New(events.EventReconnecting, "s", events.ConnectionPayload{Attempt: 2, Error: "refused"}), false, ""},
		{"attempt start", all, events.New(events.EventReconnecting, "s", events.ConnectionPayload{Attempt: 1}), false, ""},
		{"other payload", all, events.New(events.EventAuthFailed, "s", "x"), false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, ok := NotificationFor(tt.wc, tt.event)
			if ok != tt.want {
				t.Fatalf("ok = %v, want %v", ok, tt.want)
			}
			if ok && n.Level != tt.level {
				t.Errorf("level = %q, want %q", n.Level, tt.level)
			}
		})
	}
}

func TestWebhookDelivery(t *testing.T) {
	received := make(chan map[string]interface{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %s", err)
		}
		received <- body
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	cfg := config.DefaultConfig()
	app := cfg.GetApplicationData()
	app.Webhook.URL = srv.URL
	app.Webhook.Username = "rcon-bot"
	cfg.SetApplicationData(app)

	bus := events.NewEventBus()
	defer bus.Stop()
	wn := NewWebhookNotifier(cfg, bus)
	defer wn.Close()

	bus.Emit(context.Background(), events.New(events.EventAuthFailed, "survival", events.ConnectionPayload{Addr: "10.0.0.5:25575"}))

	select {
	case body := <-received:
		if body["username"] != "rcon-bot" {
			t.Errorf("username = %v", body["username"])
		}
		embeds := body["embeds"].([]interface{})
		embed := embeds[0].(map[string]interface{})
		if !strings.Contains(embed["description"].(string), "survival") {
			t.Errorf("description = %v", embed["description"])
		}
		if embed["color"].(float64) != colorError {
			t.Errorf("color = %v", embed["color"])
		}
	case <-time.After(3 * time.Second):
		t.Fatal("webhook was not called")
	}
}

func TestWebhookErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer srv.Close()

	cfg := config.DefaultConfig()
	app := cfg.GetApplicationData()
	app.Webhook.URL = srv.URL
	cfg.SetApplicationData(app)

	bus := events.NewEventBus()
	defer bus.Stop()
	wn := NewWebhookNotifier(cfg, bus)

	err := wn.Send(context.Background(), Notification{Title: "t", Message: "m", Level: "info"})
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Errorf("expected status error, got %v", err)
	}
}
