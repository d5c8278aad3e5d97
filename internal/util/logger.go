// Package util holds small helpers shared by the rconsole packages.
package util

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogConfig controls where log output goes.
type LogConfig struct {
	Level      string `json:"level" yaml:"level"`
	Directory  string `json:"directory" yaml:"directory"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`

	// File enables the JSON log file in Directory.
	File bool `json:"file" yaml:"file"`

	// Console writes human readable output. The interactive console sends
	// it to stderr so responses on stdout stay clean.
	Console bool      `json:"console" yaml:"console"`
	Out     io.Writer `json:"-" yaml:"-"`
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:      "info",
		Directory:  "logs",
		MaxBackups: 5,
		File:       true,
		Console:    true,
	}
}

// InitLogger configures the global zerolog logger. The returned closer
// releases the log file, if one was opened.
func InitLogger(cfg LogConfig) (io.Closer, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	var (
		writers []io.Writer
		logFile *os.File
		logPath string
	)

	if cfg.File {
		if err := os.MkdirAll(cfg.Directory, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory %s: %w", cfg.Directory, err)
		}
		logPath = filepath.Join(cfg.Directory, fmt.Sprintf("rconsole_%s.log", time.Now().Format("2006-01-02")))
		logFile, err = os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", logPath, err)
		}
		writers = append(writers, logFile)
	}

	if cfg.Console {
		out := cfg.Out
		if out == nil {
			out = os.Stderr
		}
		writers = append(writers, zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"})
	}

	if len(writers) == 0 {
		writers = append(writers, io.Discard)
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		With().
		Timestamp().
		Str("app", "rconsole").
		Logger()

	log.Debug().
		Str("level", level.String()).
		Str("log_file", logPath).
		Msg("logger initialized")

	if cfg.File {
		go pruneLogs(cfg.Directory, cfg.MaxBackups)
		return logFile, nil
	}
	return nopCloser{}, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// pruneLogs keeps the newest maxBackups log files in directory.
func pruneLogs(directory string, maxBackups int) {
	if maxBackups <= 0 {
		return
	}
	entries, err := os.ReadDir(directory)
	if err != nil {
		return
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), "rconsole_") && filepath.Ext(entry.Name()) == ".log" {
			names = append(names, entry.Name())
		}
	}
	if len(names) <= maxBackups {
		return
	}

	// Date-stamped names sort oldest first.
	sort.Strings(names)
	for _, name := range names[:len(names)-maxBackups] {
		path := filepath.Join(directory, name)
		if err := os.Remove(path); err == nil {
			log.Debug().Str("file", path).Msg("removed old log file")
		}
	}
}

// ComponentLogger returns the global logger tagged with a component name.
func ComponentLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
