// Package connector delivers notifications to outside services. Today
// that is a Discord-compatible chat webhook.
package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/rconsole/internal/config"
	"github.com/energizer-project/rconsole/internal/events"
)

// Embed colours by level.
const (
	colorError   = 0xFF0000
	colorWarning = 0xFFAA00
	colorInfo    = 0x00FF00
)

// Notification is a single webhook message.
type Notification struct {
	Title   string
	Message string
	Level   string // "error", "warning" or "info"
}

// WebhookNotifier posts connection problems to a chat webhook.
type WebhookNotifier struct {
	cfg      *config.Config
	eventBus *events.EventBus
	client   *http.Client
}

// NewWebhookNotifier creates a notifier and subscribes it to the
// connection events. It does nothing while no webhook URL is configured.
func NewWebhookNotifier(cfg *config.Config, eventBus *events.EventBus) *WebhookNotifier {
	wn := &WebhookNotifier{
		cfg:      cfg,
		eventBus: eventBus,
		client:   &http.Client{Timeout: 10 * time.Second},
	}

	eventBus.Subscribe(events.EventAuthFailed, "webhook.authFailed", wn.onEvent)
	eventBus.Subscribe(events.EventDisconnected, "webhook.disconnected", wn.onEvent)
	eventBus.Subscribe(events.EventReconnecting, "webhook.reconnecting", wn.onEvent)
	return wn
}

// Close removes the notifier's subscriptions.
func (wn *WebhookNotifier) Close() {
	wn.eventBus.Unsubscribe(events.EventAuthFailed, "webhook.authFailed")
	wn.eventBus.Unsubscribe(events.EventDisconnected, "webhook.disconnected")
	wn.eventBus.Unsubscribe(events.EventReconnecting, "webhook.reconnecting")
}

// NotificationFor decides whether event deserves a message under the
// webhook settings.
func NotificationFor(wc config.WebhookConfig, event events.Event) (Notification, bool) {
	p, ok := event.Payload.(events.ConnectionPayload)
	if !ok {
		return Notification{}, false
	}

	switch event.Type {
	case events.EventAuthFailed:
		if !wc.NotifyOnAuthFailure {
			return Notification{}, false
		}
		return Notification{
			Title:   "RCON authentication failed",
			Message: fmt.Sprintf("**%s** (%s) rejected the RCON password.", event.Source, p.Addr),
			Level:   "error",
		}, true

	case events.EventDisconnected:
		// Deliberate disconnects carry no error.
		if !wc.NotifyOnDisconnect || p.Error == "" {
			return Notification{}, false
		}
		return Notification{
			Title:   "RCON connection lost",
			Message: fmt.Sprintf("**%s** (%s) disconnected: %s", event.Source, p.Addr, p.Error),
			Level:   "warning",
		}, true

	case events.EventReconnecting:
		// Only the first failed attempt of a streak, so a server that is
		// down for an hour does not flood the channel.
		if !wc.NotifyOnReconnect || p.Attempt != 1 || p.Error == "" {
			return Notification{}, false
		}
		return Notification{
			Title: "RCON reconnecting",
			Message: fmt.Sprintf("**%s** (%s) is unreachable (%s). Retrying in %s.",
				event.Source, p.Addr, p.Error, p.RetryIn.Round(time.Second)),
			Level: "warning",
		}, true
	}
	return Notification{}, false
}

func (wn *WebhookNotifier) onEvent(ctx context.Context, event events.Event) error {
	wc := wn.cfg.GetApplicationData().Webhook
	if wc.URL == "" {
		return nil
	}
	n, ok := NotificationFor(wc, event)
	if !ok {
		return nil
	}
	if err := wn.Send(ctx, n); err != nil {
		log.Warn().Err(err).Str("event", string(event.Type)).Msg("webhook notification failed")
		return err
	}
	return nil
}

// Send posts n as a Discord embed.
func (wn *WebhookNotifier) Send(ctx context.Context, n Notification) error {
	wc := wn.cfg.GetApplicationData().Webhook
	if wc.URL == "" {
		return fmt.Errorf("no webhook URL configured")
	}

	color := colorInfo
	switch n.Level {
	case "error":
		color = colorError
	case "warning":
		color = colorWarning
	}

	payload := map[string]interface{}{
		"embeds": []map[string]interface{}{
			{
				"title":       n.Title,
				"description": n.Message,
				"color":       color,
				"timestamp":   time.Now().UTC().Format(time.RFC3339),
				"footer": map[string]string{
					"text": "rconsole",
				},
			},
		},
	}
	if wc.Username != "" {
		payload["username"] = wc.Username
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wc.URL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := wn.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(body))
	}

	log.Debug().Str("title", n.Title).Msg("webhook notification sent")
	return nil
}
