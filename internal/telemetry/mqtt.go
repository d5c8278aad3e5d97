// Package telemetry publishes bus events to an MQTT broker and accepts
// remote commands from it.
package telemetry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/rconsole/internal/config"
	"github.com/energizer-project/rconsole/internal/db"
	"github.com/energizer-project/rconsole/internal/events"
	"github.com/energizer-project/rconsole/internal/util"
)

// Topic suffixes below <prefix>/<client id>/.
const (
	TopicStatus  = "status"
	TopicCommand = "command"
	TopicEvents  = "events"
)

// ErrDisabled is returned by NewMQTTHandler when MQTT is turned off.
var ErrDisabled = errors.New("MQTT is disabled")

// maxRemoteCommand bounds the size of a command accepted over MQTT.
const maxRemoteCommand = 1024

// MQTTHandler manages the broker connection. Every bus event except
// remote commands is published to <prefix>/<client>/events/<type>.
type MQTTHandler struct {
	mu sync.Mutex

	cfg      config.MQTTConfig
	eventBus *events.EventBus
	client   mqtt.Client
	clientID string

	// metadata is included in every message
	metadata map[string]interface{}
}

// NewMQTTHandler creates a handler from the mqtt section of cfg.
func NewMQTTHandler(cfg *config.Config, eventBus *events.EventBus) (*MQTTHandler, error) {
	mqttCfg := cfg.GetApplicationData().MQTT
	if !mqttCfg.Enabled {
		return nil, ErrDisabled
	}

	host := util.GetHostInfo()
	clientID := mqttCfg.ClientID
	if clientID == "" {
		clientID = "rconsole-" + host.Hostname
	}

	h := &MQTTHandler{
		cfg:      mqttCfg,
		eventBus: eventBus,
		clientID: clientID,
		metadata: map[string]interface{}{
			"client_id": clientID,
			"hostname":  host.Hostname,
			"platform":  host.Platform,
		},
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(BrokerURL(mqttCfg))
	opts.SetClientID(clientID)
	if mqttCfg.Username != "" {
		opts.SetUsername(mqttCfg.Username)
		opts.SetPassword(mqttCfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(false)
	opts.SetWill(h.Topic(TopicStatus), `{"online":false}`, 1, true)

	if mqttCfg.UseTLS {
		tlsConfig, err := tlsConfig(mqttCfg)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(h.onConnect)
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	h.client = mqtt.NewClient(opts)
	return h, nil
}

// BrokerURL returns the broker address for paho. A URL with a scheme is
// used as is; a bare host gets tcp:// or ssl:// and the configured port.
func BrokerURL(c config.MQTTConfig) string {
	if strings.Contains(c.BrokerURL, "://") {
		return c.BrokerURL
	}
	scheme := "tcp"
	if c.UseTLS {
		scheme = "ssl"
	}
	port := c.Port
	if port == 0 {
		port = config.DefaultMQTTPort
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.BrokerURL, port)
}

func tlsConfig(c config.MQTTConfig) (*tls.Config, error) {
	tc := &tls.Config{MinVersion: tls.VersionTLS12}

	if c.CAFile != "" {
		pem, err := os.ReadFile(c.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read MQTT CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", c.CAFile)
		}
		tc.RootCAs = pool
	}

	// mTLS
	if c.CertFile != "" && c.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
		}
		tc.Certificates = []tls.Certificate{cert}
	}
	return tc, nil
}

// Topic returns <prefix>/<client id>/<suffix>.
func (h *MQTTHandler) Topic(suffix string) string {
	prefix := strings.Trim(h.cfg.TopicPrefix, "/")
	if prefix == "" {
		return h.clientID + "/" + suffix
	}
	return prefix + "/" + h.clientID + "/" + suffix
}

// Start connects to the broker and publishes events until ctx is
// cancelled.
func (h *MQTTHandler) Start(ctx context.Context) error {
	log.Info().
		Str("broker", BrokerURL(h.cfg)).
		Str("client_id", h.clientID).
		Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.eventBus.SubscribeAll("mqtt.publish", h.onEvent)
	defer h.eventBus.UnsubscribeAll("mqtt.publish")

	<-ctx.Done()

	h.publishStatus(false)
	h.client.Disconnect(5000)
	log.Info().Msg("MQTT disconnected")
	return nil
}

// onConnect runs on every (re)connect: paho drops subscriptions on a
// fresh session, so the command topic is subscribed here.
func (h *MQTTHandler) onConnect(client mqtt.Client) {
	log.Info().Msg("MQTT connected")
	h.publishStatus(true)

	if !h.cfg.AllowRemoteCommands {
		return
	}
	topic := h.Topic(TopicCommand)
	token := client.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		if err := h.HandleCommand(msg.Payload()); err != nil {
			log.Warn().Err(err).Str("topic", msg.Topic()).Msg("rejected remote command")
		}
	})
	go func() {
		token.Wait()
		if token.Error() != nil {
			log.Error().Err(token.Error()).Str("topic", topic).Msg("MQTT subscribe failed")
			return
		}
		log.Info().Str("topic", topic).Msg("accepting remote commands")
	}()
}

// RemoteCommand is the JSON accepted on the command topic.
type RemoteCommand struct {
	Server  string `json:"server"`
	Command string `json:"command"`
}

// HandleCommand validates a command message and hands it to the bus.
func (h *MQTTHandler) HandleCommand(data []byte) error {
	if !h.cfg.AllowRemoteCommands {
		return errors.New("remote commands are disabled")
	}

	var rc RemoteCommand
	if err := json.Unmarshal(data, &rc); err != nil {
		return fmt.Errorf("invalid command message: %w", err)
	}
	rc.Command = strings.TrimSpace(rc.Command)
	switch {
	case rc.Command == "":
		return errors.New("command is empty")
	case len(rc.Command) > maxRemoteCommand:
		return fmt.Errorf("command longer than %d bytes", maxRemoteCommand)
	case strings.ContainsAny(rc.Command, "\r\n"):
		return errors.New("command must be a single line")
	}

	log.Info().
		Str("server", rc.Server).
		Str("command", util.ScrubCommand(rc.Command)).
		Msg("remote command received")

	h.eventBus.Emit(context.Background(), events.New(events.EventRemoteCommand, "mqtt", events.RemoteCommandPayload{
		Server:  rc.Server,
		Command: rc.Command,
		Origin:  db.SourceMQTT,
	}))
	return nil
}

func (h *MQTTHandler) onEvent(_ context.Context, event events.Event) error {
	topic, msg, ok := h.Message(event)
	if !ok {
		return nil
	}
	h.publish(topic, msg, false)
	return nil
}

// Message maps a bus event to its topic and message body. Remote commands
// are not republished since they carry the raw command text.
func (h *MQTTHandler) Message(event events.Event) (string, map[string]interface{}, bool) {
	if event.Type == events.EventRemoteCommand {
		return "", nil, false
	}
	msg := h.buildMessage(event.Payload)
	msg["event"] = string(event.Type)
	msg["event_id"] = event.ID
	msg["source"] = event.Source
	msg["timestamp"] = event.Time.UTC().Format(time.RFC3339)
	return h.Topic(TopicEvents + "/" + string(event.Type)), msg, true
}

func (h *MQTTHandler) publishStatus(online bool) {
	msg := h.buildMessage(nil)
	msg["online"] = online
	h.publish(h.Topic(TopicStatus), msg, true)
}

// publish sends a JSON message with QoS 1.
func (h *MQTTHandler) publish(topic string, msg map[string]interface{}, retained bool) {
	if !h.client.IsConnected() {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	token := h.client.Publish(topic, 1, retained, data)
	go func() {
		token.Wait()
		if token.Error() != nil {
			log.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

// buildMessage combines metadata with the payload.
func (h *MQTTHandler) buildMessage(payload interface{}) map[string]interface{} {
	h.mu.Lock()
	defer h.mu.Unlock()

	msg := make(map[string]interface{}, len(h.metadata)+4)
	for k, v := range h.metadata {
		msg[k] = v
	}
	if payload != nil {
		msg["payload"] = payload
	}
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return msg
}
