package db

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Command sources recorded in history.
const (
	SourceCLI       = "cli"
	SourceAPI       = "api"
	SourceMQTT      = "mqtt"
	SourceScheduler = "scheduler"
)

// HistoryEntry is one executed command.
type HistoryEntry struct {
	ID        string        `json:"id"`
	Server    string        `json:"server"`
	Command   string        `json:"command"`
	Response  string        `json:"response"`
	Error     string        `json:"error,omitempty"`
	Source    string        `json:"source"`
	Duration  time.Duration `json:"duration_ms"`
	CreatedAt time.Time     `json:"created_at"`
}

// Failed reports whether the command returned an error.
func (e HistoryEntry) Failed() bool {
	return e.Error != ""
}

// MarshalJSON writes the duration in milliseconds.
func (e HistoryEntry) MarshalJSON() ([]byte, error) {
	type entry HistoryEntry
	return json.Marshal(struct {
		entry
		Duration int64 `json:"duration_ms"`
	}{entry(e), e.Duration.Milliseconds()})
}

// HistoryFilter narrows RecentCommands. Zero values match everything.
type HistoryFilter struct {
	Server     string
	Source     string
	OnlyFailed bool
	Limit      int
}

// RecordCommand stores e. Missing ids and timestamps are filled in and the
// stored entry is returned. Callers scrub secrets from the command first.
func (d *Database) RecordCommand(e HistoryEntry) (HistoryEntry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err := d.Exec(`INSERT INTO command_history
		(id, server, command, response, error, source, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Server, e.Command, e.Response, e.Error, e.Source,
		e.Duration.Milliseconds(), toMillis(e.CreatedAt))
	if err != nil {
		return e, fmt.Errorf("failed to record command: %w", err)
	}
	return e, nil
}

// RecentCommands returns the newest entries first. An empty server
// matches every server; limit <= 0 means 50.
func (d *Database) RecentCommands(server string, limit int) ([]HistoryEntry, error) {
	return d.QueryHistory(HistoryFilter{Server: server, Limit: limit})
}

// QueryHistory returns entries matching f, newest first.
func (d *Database) QueryHistory(f HistoryFilter) ([]HistoryEntry, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}

	var (
		where []string
		args  []interface{}
	)
	if f.Server != "" {
		where = append(where, "server = ?")
		args = append(args, f.Server)
	}
	if f.Source != "" {
		where = append(where, "source = ?")
		args = append(args, f.Source)
	}
	if f.OnlyFailed {
		where = append(where, "error != ''")
	}

	query := `SELECT id, server, command, response, error, source, duration_ms, created_at
		FROM command_history`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, rowid DESC LIMIT ?"
	args = append(args, f.Limit)

	rows, err := d.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var (
			e         HistoryEntry
			durMs     int64
			createdMs int64
		)
		if err := rows.Scan(&e.ID, &e.Server, &e.Command, &e.Response, &e.Error, &e.Source, &durMs, &createdMs); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		e.Duration = time.Duration(durMs) * time.Millisecond
		e.CreatedAt = fromMillis(createdMs)
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountCommands returns the number of stored entries for server, or for
// all servers when server is empty.
func (d *Database) CountCommands(server string) (int, error) {
	query := "SELECT COUNT(*) FROM command_history"
	var args []interface{}
	if server != "" {
		query += " WHERE server = ?"
		args = append(args, server)
	}
	var n int
	if err := d.QueryRow(query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count history: %w", err)
	}
	return n, nil
}

// PruneHistory deletes entries created before cutoff and returns how many
// were removed.
func (d *Database) PruneHistory(cutoff time.Time) (int64, error) {
	res, err := d.Exec("DELETE FROM command_history WHERE created_at < ?", toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	return res.RowsAffected()
}
