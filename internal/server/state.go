// Package server manages the configured RCON server profiles: one
// Instance per profile owning at most one client, and the Manager that
// connects, looks up and syncs them with the configuration.
package server

import (
	"sort"
	"sync"
	"time"
)

// PlayerInfo is an online player as seen by the last poll.
type PlayerInfo struct {
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"joined_at"`
}

// State is what an Instance knows about its server between commands. It
// is safe for concurrent use.
type State struct {
	mu sync.RWMutex

	players    map[string]PlayerInfo
	maxPlayers int
	lastPoll   time.Time
	polled     bool

	connectedSince time.Time
	lastError      string
	lastErrorAt    time.Time

	commandsRun    int
	commandsFailed int
	lastCommandAt  time.Time
	reconnects     int
}

// NewState creates an empty state.
func NewState() *State {
	return &State{players: make(map[string]PlayerInfo)}
}

// UpdatePlayers replaces the player list with names and returns who
// joined and who left since the previous update. The first update after a
// (re)connect reports everyone as joined.
func (s *State) UpdatePlayers(names []string, max int) (joined, left []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	next := make(map[string]PlayerInfo, len(names))
	for _, name := range names {
		if p, ok := s.players[name]; ok {
			next[name] = p
			continue
		}
		next[name] = PlayerInfo{Name: name, JoinedAt: now}
		joined = append(joined, name)
	}
	for name := range s.players {
		if _, ok := next[name]; !ok {
			left = append(left, name)
		}
	}
	sort.Strings(joined)
	sort.Strings(left)

	s.players = next
	s.maxPlayers = max
	s.lastPoll = now
	s.polled = true
	return joined, left
}

// Players returns the online players sorted by name.
func (s *State) Players() []PlayerInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedPlayersLocked()
}

func (s *State) sortedPlayersLocked() []PlayerInfo {
	out := make([]PlayerInfo, 0, len(s.players))
	for _, p := range s.players {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SetConnected records a successful connect.
func (s *State) SetConnected(at time.Time, reconnect bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectedSince = at
	s.lastError = ""
	if reconnect {
		s.reconnects++
	}
}

// SetDisconnected clears connection-bound data. err may be nil for a
// requested disconnect.
func (s *State) SetDisconnected(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectedSince = time.Time{}
	s.players = make(map[string]PlayerInfo)
	s.polled = false
	if err != nil {
		s.setErrorLocked(err)
	}
}

// SetError records the latest failure.
func (s *State) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setErrorLocked(err)
}

func (s *State) setErrorLocked(err error) {
	s.lastError = err.Error()
	s.lastErrorAt = time.Now()
}

// RecordCommand counts an executed command.
func (s *State) RecordCommand(failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commandsRun++
	if failed {
		s.commandsFailed++
	}
	s.lastCommandAt = time.Now()
}

// Snapshot returns a copy for display and serialization.
func (s *State) Snapshot() StateSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := StateSnapshot{
		Players:        s.sortedPlayersLocked(),
		PlayerCount:    len(s.players),
		MaxPlayers:     s.maxPlayers,
		LastError:      s.lastError,
		CommandsRun:    s.commandsRun,
		CommandsFailed: s.commandsFailed,
		Reconnects:     s.reconnects,
	}
	if s.polled {
		snap.LastPoll = timePtr(s.lastPoll)
	}
	if !s.connectedSince.IsZero() {
		snap.ConnectedSince = timePtr(s.connectedSince)
	}
	if !s.lastErrorAt.IsZero() {
		snap.LastErrorAt = timePtr(s.lastErrorAt)
	}
	if !s.lastCommandAt.IsZero() {
		snap.LastCommandAt = timePtr(s.lastCommandAt)
	}
	return snap
}

func timePtr(t time.Time) *time.Time {
	return &t
}

// StateSnapshot is an immutable copy of a State.
type StateSnapshot struct {
	Players        []PlayerInfo `json:"players"`
	PlayerCount    int          `json:"player_count"`
	MaxPlayers     int          `json:"max_players"`
	LastPoll       *time.Time   `json:"last_poll,omitempty"`
	ConnectedSince *time.Time   `json:"connected_since,omitempty"`
	LastError      string       `json:"last_error,omitempty"`
	LastErrorAt    *time.Time   `json:"last_error_at,omitempty"`
	CommandsRun    int          `json:"commands_run"`
	CommandsFailed int          `json:"commands_failed"`
	LastCommandAt  *time.Time   `json:"last_command_at,omitempty"`
	Reconnects     int          `json:"reconnects"`
}
