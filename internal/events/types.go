// Package events carries notifications between the rconsole services:
// connection changes and command results flow from the server instances to
// the history, MQTT and webhook subscribers.
package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType names an event on the bus.
type EventType string

const (
	// Connection lifecycle
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
	EventAuthFailed   EventType = "auth_failed"
	EventReconnecting EventType = "reconnecting"

	// Commands
	EventCommandExecuted EventType = "command_executed"
	EventCommandFailed   EventType = "command_failed"
	EventRemoteCommand   EventType = "remote_command"

	// Players
	EventPlayersUpdated EventType = "players_updated"
	EventPlayerJoined   EventType = "player_joined"
	EventPlayerLeft     EventType = "player_left"

	// System
	EventHeartbeat     EventType = "heartbeat"
	EventConfigChanged EventType = "config_changed"
	EventShutdown      EventType = "shutdown"
)

// AllTypes lists every event type, in a stable order.
var AllTypes = []EventType{
	EventConnected, EventDisconnected, EventAuthFailed, EventReconnecting,
	EventCommandExecuted, EventCommandFailed, EventRemoteCommand,
	EventPlayersUpdated, EventPlayerJoined, EventPlayerLeft,
	EventHeartbeat, EventConfigChanged, EventShutdown,
}

// Event is a single notification. Source is the server profile name, or
// the emitting service for system events.
type Event struct {
	ID      string      `json:"id"`
	Type    EventType   `json:"type"`
	Source  string      `json:"source"`
	Time    time.Time   `json:"time"`
	Payload interface{} `json:"payload,omitempty"`
}

// New builds an event with a fresh id and timestamp.
func New(t EventType, source string, payload interface{}) Event {
	return Event{
		ID:      uuid.NewString(),
		Type:    t,
		Source:  source,
		Time:    time.Now().UTC(),
		Payload: payload,
	}
}

// ConnectionPayload accompanies connected, disconnected, auth_failed and
// reconnecting events.
type ConnectionPayload struct {
	Addr    string `json:"addr"`
	State   string `json:"state"`
	Error   string `json:"error,omitempty"`
	Attempt int    `json:"attempt,omitempty"`
	// RetryIn is set on reconnecting events.
	RetryIn time.Duration `json:"retry_in_ns,omitempty"`
}

// CommandPayload accompanies command_executed and command_failed.
// Command is scrubbed of secrets before it is emitted.
type CommandPayload struct {
	ExecID   string        `json:"exec_id"`
	Command  string        `json:"command"`
	Response string        `json:"response,omitempty"`
	Error    string        `json:"error,omitempty"`
	Source   string        `json:"source"`
	Duration time.Duration `json:"duration_ns"`
}

// RemoteCommandPayload is a command received from a remote channel
// (MQTT) before it is executed.
type RemoteCommandPayload struct {
	Server  string `json:"server"`
	Command string `json:"command"`
	Origin  string `json:"origin"`
}

// PlayersPayload accompanies players_updated.
type PlayersPayload struct {
	Online  int      `json:"online"`
	Max     int      `json:"max"`
	Players []string `json:"players"`
}

// PlayerPayload accompanies player_joined and player_left.
type PlayerPayload struct {
	Player string `json:"player"`
}

// HeartbeatPayload is published periodically by the watchdog.
type HeartbeatPayload struct {
	Servers   map[string]string `json:"servers"`
	Connected int               `json:"connected"`
	Host      interface{}       `json:"host,omitempty"`
	Usage     interface{}       `json:"usage,omitempty"`
}

// ConfigChangedPayload is emitted when configuration changes occur.
type ConfigChangedPayload struct {
	Section string      `json:"section"`
	Key     string      `json:"key,omitempty"`
	Value   interface{} `json:"value,omitempty"`
}
