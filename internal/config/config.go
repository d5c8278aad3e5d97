// Package config loads, validates and persists rconsole settings.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/energizer-project/rconsole/internal/util"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"
	YAMLConfigFile    = "config.yaml"
	DefaultRCONPort   = 25575
	DefaultAPIPort    = 5080
	DefaultMQTTPort   = 1883
)

// Format is the on-disk encoding of the configuration file.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Config is the root configuration.
type Config struct {
	mu     sync.RWMutex
	path   string
	format Format

	// filePasswords holds the on-disk password of profiles whose password
	// was overridden from the environment, so Save never persists it.
	filePasswords map[string]string

	Servers         []ServerProfile `json:"servers" yaml:"servers"`
	ApplicationData ApplicationData `json:"application_data" yaml:"application_data"`
}

// ServerProfile describes one RCON endpoint.
type ServerProfile struct {
	Name        string `json:"name" yaml:"name"`
	Host        string `json:"host" yaml:"host"`
	Port        int    `json:"port" yaml:"port"`
	Password    string `json:"password" yaml:"password"`
	UseTLS      bool   `json:"use_tls" yaml:"use_tls"`
	TLSInsecure bool   `json:"tls_insecure" yaml:"tls_insecure"`

	AutoConnect   bool `json:"auto_connect" yaml:"auto_connect"`
	AutoReconnect bool `json:"auto_reconnect" yaml:"auto_reconnect"`
	PollPlayers   bool `json:"poll_players" yaml:"poll_players"`
}

// ApplicationData holds everything that is not a server profile.
type ApplicationData struct {
	DefaultServer string         `json:"default_server" yaml:"default_server"`
	Timeouts      TimeoutConfig  `json:"timeouts" yaml:"timeouts"`
	Timers        TimerConfig    `json:"timers" yaml:"timers"`
	API           APIConfig      `json:"api" yaml:"api"`
	Security      SecurityConfig `json:"security" yaml:"security"`
	MQTT          MQTTConfig     `json:"mqtt" yaml:"mqtt"`
	Webhook       WebhookConfig  `json:"webhook" yaml:"webhook"`
	History       HistoryConfig  `json:"history" yaml:"history"`
	Logging       LoggingConfig  `json:"logging" yaml:"logging"`
}

// TimeoutConfig holds RCON I/O limits in seconds.
type TimeoutConfig struct {
	ConnectSec int `json:"connect_sec" yaml:"connect_sec"`
	ReadSec    int `json:"read_sec" yaml:"read_sec"`
	WriteSec   int `json:"write_sec" yaml:"write_sec"`
}

// TimerConfig holds background task intervals.
type TimerConfig struct {
	PlayerPollInterval   int    `json:"player_poll_interval_sec" yaml:"player_poll_interval_sec"`
	HealthCheckInterval  int    `json:"health_check_interval_sec" yaml:"health_check_interval_sec"`
	HeartbeatInterval    int    `json:"heartbeat_interval_sec" yaml:"heartbeat_interval_sec"`
	HistoryCleanupTime   string `json:"history_cleanup_time" yaml:"history_cleanup_time"`
	HistoryRetentionDays int    `json:"history_retention_days" yaml:"history_retention_days"`

	// Watchdog backoff between reconnect attempts.
	ReconnectInitialDelay int     `json:"reconnect_initial_delay_sec" yaml:"reconnect_initial_delay_sec"`
	ReconnectMaxDelay     int     `json:"reconnect_max_delay_sec" yaml:"reconnect_max_delay_sec"`
	ReconnectMultiplier   float64 `json:"reconnect_multiplier" yaml:"reconnect_multiplier"`
	ReconnectJitter       float64 `json:"reconnect_jitter" yaml:"reconnect_jitter"`
}

// APIConfig controls the REST API listener.
type APIConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	ListenAddr string `json:"listen_addr" yaml:"listen_addr"`
	Port       int    `json:"port" yaml:"port"`
}

// SecurityConfig holds API security settings.
type SecurityConfig struct {
	TLSEnabled     bool     `json:"tls_enabled" yaml:"tls_enabled"`
	TLSCertFile    string   `json:"tls_cert_file" yaml:"tls_cert_file"`
	TLSKeyFile     string   `json:"tls_key_file" yaml:"tls_key_file"`
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps" yaml:"rate_limit_rps"`
	AuthDisabled   bool     `json:"auth_disabled" yaml:"auth_disabled"`
}

// MQTTConfig holds telemetry broker settings.
type MQTTConfig struct {
	Enabled             bool   `json:"enabled" yaml:"enabled"`
	BrokerURL           string `json:"broker_url" yaml:"broker_url"`
	Port                int    `json:"port" yaml:"port"`
	UseTLS              bool   `json:"use_tls" yaml:"use_tls"`
	CertFile            string `json:"cert_file" yaml:"cert_file"`
	KeyFile             string `json:"key_file" yaml:"key_file"`
	CAFile              string `json:"ca_file" yaml:"ca_file"`
	ClientID            string `json:"client_id" yaml:"client_id"`
	Username            string `json:"username" yaml:"username"`
	Password            string `json:"password" yaml:"password"`
	TopicPrefix         string `json:"topic_prefix" yaml:"topic_prefix"`
	AllowRemoteCommands bool   `json:"allow_remote_commands" yaml:"allow_remote_commands"`
}

// WebhookConfig holds chat webhook notification settings.
type WebhookConfig struct {
	URL                 string `json:"url" yaml:"url"`
	Username            string `json:"username" yaml:"username"`
	NotifyOnDisconnect  bool   `json:"notify_on_disconnect" yaml:"notify_on_disconnect"`
	NotifyOnAuthFailure bool   `json:"notify_on_auth_failure" yaml:"notify_on_auth_failure"`
	NotifyOnReconnect   bool   `json:"notify_on_reconnect" yaml:"notify_on_reconnect"`
}

// HistoryConfig controls the command history database.
type HistoryConfig struct {
	Enabled          bool   `json:"enabled" yaml:"enabled"`
	DatabasePath     string `json:"database_path" yaml:"database_path"`
	MaxResponseBytes int    `json:"max_response_bytes" yaml:"max_response_bytes"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level          string `json:"level" yaml:"level"`
	Directory      string `json:"directory" yaml:"directory"`
	MaxBackups     int    `json:"max_backups" yaml:"max_backups"`
	File           bool   `json:"file" yaml:"file"`
	LogAuthPackets bool   `json:"log_auth_packets" yaml:"log_auth_packets"`
}

// LogConfig converts the logging section for util.InitLogger.
func (l LoggingConfig) LogConfig() util.LogConfig {
	return util.LogConfig{
		Level:      l.Level,
		Directory:  l.Directory,
		MaxBackups: l.MaxBackups,
		File:       l.File,
		Console:    true,
	}
}

// DefaultConfig returns a configuration with a single local profile.
func DefaultConfig() *Config {
	return &Config{
		format: FormatJSON,
		Servers: []ServerProfile{
			{
				Name:          "local",
				Host:          "127.0.0.1",
				Port:          DefaultRCONPort,
				AutoConnect:   true,
				AutoReconnect: true,
				PollPlayers:   true,
			},
		},
		ApplicationData: ApplicationData{
			DefaultServer: "local",
			Timeouts: TimeoutConfig{
				ConnectSec: 10,
				ReadSec:    15,
				WriteSec:   10,
			},
			Timers: TimerConfig{
				PlayerPollInterval:   30,
				HealthCheckInterval:  15,
				HeartbeatInterval:    60,
				HistoryCleanupTime:   "04:00",
				HistoryRetentionDays: 30,

				ReconnectInitialDelay: 1,
				ReconnectMaxDelay:     60,
				ReconnectMultiplier:   2,
				ReconnectJitter:       0.2,
			},
			API: APIConfig{
				Enabled:    false,
				ListenAddr: "127.0.0.1",
				Port:       DefaultAPIPort,
			},
			Security: SecurityConfig{
				RateLimitRPS: 20,
				AuthDisabled: false,
			},
			MQTT: MQTTConfig{
				Enabled:     false,
				Port:        DefaultMQTTPort,
				TopicPrefix: "rconsole",
			},
			Webhook: WebhookConfig{
				NotifyOnDisconnect:  true,
				NotifyOnAuthFailure: true,
				NotifyOnReconnect:   true,
			},
			History: HistoryConfig{
				Enabled:          true,
				DatabasePath:     "rconsole.db",
				MaxResponseBytes: 2048,
			},
			Logging: LoggingConfig{
				Level:      "info",
				Directory:  "logs",
				MaxBackups: 5,
				File:       true,
			},
		},
	}
}

// Load reads the configuration from configDir. config.json wins when both
// files exist; config.yaml is used otherwise. A missing file is created
// from defaults. After loading the file is written back so keys added in
// newer versions show up.
func Load(configDir string) (*Config, error) {
	path, format := resolvePath(configDir)

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Info().Str("path", path).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path, cfg.format = path, format
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	cfg.path = path
	log.Info().Str("path", path).Str("format", string(format)).Msg("configuration loaded")

	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}
	return cfg, nil
}

// Parse decodes data over the defaults. A servers list in data replaces
// the default profile entirely.
func Parse(data []byte, format Format) (*Config, error) {
	cfg := DefaultConfig()
	cfg.format = format

	// Decoding into the default slice would merge the first profile with
	// the built-in one.
	defaults := cfg.Servers
	cfg.Servers = nil

	var err error
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(data, cfg)
	default:
		cfg.format = FormatJSON
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, err
	}
	if cfg.Servers == nil {
		cfg.Servers = defaults
	}
	for i := range cfg.Servers {
		if cfg.Servers[i].Port == 0 {
			cfg.Servers[i].Port = DefaultRCONPort
		}
	}
	return cfg, nil
}

func resolvePath(configDir string) (string, Format) {
	jsonPath := filepath.Join(configDir, DefaultConfigFile)
	yamlPath := filepath.Join(configDir, YAMLConfigFile)
	if !util.FileExists(jsonPath) && util.FileExists(yamlPath) {
		return yamlPath, FormatYAML
	}
	return jsonPath, FormatJSON
}

// Marshal encodes the configuration in its file format.
func (c *Config) Marshal() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.marshalLocked()
}

func (c *Config) marshalLocked() ([]byte, error) {
	if c.format == FormatYAML {
		return yaml.Marshal(c)
	}
	return json.MarshalIndent(c, "", "  ")
}

// persistable returns the view of c that is safe to write to disk.
func (c *Config) persistable() *Config {
	if len(c.filePasswords) == 0 {
		return c
	}
	out := &Config{
		format:          c.format,
		Servers:         make([]ServerProfile, len(c.Servers)),
		ApplicationData: c.ApplicationData,
	}
	for i, s := range c.Servers {
		if pw, ok := c.filePasswords[strings.ToLower(s.Name)]; ok {
			s.Password = pw
		}
		out.Servers[i] = s
	}
	return out
}

// Save writes the configuration to disk. Passwords are stored as given;
// the file is created with owner-only permissions.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.path == "" {
		return errors.New("config has no file path")
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := c.persistable().marshalLocked()
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(c.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// SetPath sets where Save writes, choosing the format from the extension.
func (c *Config) SetPath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.path = path
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		c.format = FormatYAML
	default:
		c.format = FormatJSON
	}
}

// Path returns the config file path.
func (c *Config) Path() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.path
}

// Format returns the file format.
func (c *Config) Format() Format {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.format
}

// GetServers returns a copy of the server profiles.
func (c *Config) GetServers() []ServerProfile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ServerProfile, len(c.Servers))
	copy(out, c.Servers)
	return out
}

// GetServer returns the profile called name.
func (c *Config) GetServer(name string) (ServerProfile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.Servers {
		if strings.EqualFold(s.Name, name) {
			return s, true
		}
	}
	return ServerProfile{}, false
}

// DefaultServer returns the profile named by default_server, or the first
// profile when that name is unset or unknown.
func (c *Config) DefaultServer() (ServerProfile, bool) {
	c.mu.RLock()
	name := c.ApplicationData.DefaultServer
	c.mu.RUnlock()

	if name != "" {
		if s, ok := c.GetServer(name); ok {
			return s, true
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.Servers) == 0 {
		return ServerProfile{}, false
	}
	return c.Servers[0], true
}

// UpsertServer replaces the profile with the same name or appends it.
func (c *Config) UpsertServer(p ServerProfile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p.Port == 0 {
		p.Port = DefaultRCONPort
	}
	delete(c.filePasswords, strings.ToLower(p.Name))
	for i := range c.Servers {
		if strings.EqualFold(c.Servers[i].Name, p.Name) {
			c.Servers[i] = p
			return
		}
	}
	c.Servers = append(c.Servers, p)
}

// RemoveServer deletes the profile called name and reports whether it
// existed.
func (c *Config) RemoveServer(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.Servers {
		if strings.EqualFold(c.Servers[i].Name, name) {
			c.Servers = append(c.Servers[:i], c.Servers[i+1:]...)
			return true
		}
	}
	return false
}

// GetApplicationData returns a copy of the application settings.
func (c *Config) GetApplicationData() ApplicationData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ApplicationData
}

// SetApplicationData replaces the application settings.
func (c *Config) SetApplicationData(data ApplicationData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ApplicationData = data
}

// Redacted returns a deep copy with every secret masked, for display.
func (c *Config) Redacted() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := &Config{
		path:            c.path,
		format:          c.format,
		Servers:         make([]ServerProfile, len(c.Servers)),
		ApplicationData: c.ApplicationData,
	}
	for i, s := range c.Servers {
		s.Password = util.Redact(s.Password)
		out.Servers[i] = s
	}
	out.ApplicationData.MQTT.Password = util.Redact(out.ApplicationData.MQTT.Password)
	out.ApplicationData.Webhook.URL = util.Redact(out.ApplicationData.Webhook.URL)
	out.ApplicationData.Security.AllowedOrigins = append([]string(nil), c.ApplicationData.Security.AllowedOrigins...)
	return out
}

// IsFirstRun reports whether no usable profile is configured yet.
func (c *Config) IsFirstRun() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.Servers) == 0 {
		return true
	}
	for _, s := range c.Servers {
		if s.Password != "" {
			return false
		}
	}
	return true
}
