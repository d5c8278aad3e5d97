package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadCreatesDefault(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Path() != filepath.Join(dir, DefaultConfigFile) {
		t.Fatalf("path = %s", cfg.Path())
	}
	if _, err := os.Stat(cfg.Path()); err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	s, ok := cfg.DefaultServer()
	if !ok || s.Name != "local" || s.Port != DefaultRCONPort {
		t.Fatalf("default server = %+v, %v", s, ok)
	}
	if !cfg.IsFirstRun() {
		t.Fatal("expected first run without a password")
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	data := `{
  "servers": [{"name": "survival", "host": "mc.example.com", "password": "pw"}],
  "application_data": {"default_server": "survival", "timeouts": {"read_sec": 5}}
}`
	if err := os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	servers := cfg.GetServers()
	if len(servers) != 1 {
		t.Fatalf("got %d servers, want 1", len(servers))
	}
	s := servers[0]
	if s.Port != DefaultRCONPort {
		t.Fatalf("port = %d, want default", s.Port)
	}
	if s.AutoConnect {
		t.Fatal("profile fields must not merge with the built-in profile")
	}

	app := cfg.GetApplicationData()
	if app.Timeouts.ReadSec != 5 || app.Timeouts.ConnectSec != 10 {
		t.Fatalf("timeouts = %+v", app.Timeouts)
	}
	if app.History.DatabasePath != "rconsole.db" {
		t.Fatalf("history default lost: %+v", app.History)
	}
	if cfg.IsFirstRun() {
		t.Fatal("profile with password is not a first run")
	}

	// Written back with the new keys.
	raw, err := os.ReadFile(cfg.Path())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), "history_cleanup_time") {
		t.Fatal("expected defaults to be persisted")
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	data := `servers:
  - name: creative
    host: 10.0.0.2
    port: 25580
    password: secret
application_data:
  default_server: creative
  mqtt:
    enabled: true
    broker_url: broker.local
`
	if err := os.WriteFile(filepath.Join(dir, YAMLConfigFile), []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Format() != FormatYAML {
		t.Fatalf("format = %s", cfg.Format())
	}
	s, ok := cfg.GetServer("CREATIVE")
	if !ok || s.Port != 25580 || s.Password != "secret" {
		t.Fatalf("server = %+v, %v", s, ok)
	}
	app := cfg.GetApplicationData()
	if !app.MQTT.Enabled || app.MQTT.TopicPrefix != "rconsole" {
		t.Fatalf("mqtt = %+v", app.MQTT)
	}
	if _, err := os.Stat(filepath.Join(dir, DefaultConfigFile)); !os.IsNotExist(err) {
		t.Fatal("yaml config must be saved back as yaml")
	}
}

func TestServerProfiles(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UpsertServer(ServerProfile{Name: "lobby", Host: "lobby.local"})

	s, ok := cfg.GetServer("lobby")
	if !ok || s.Port != DefaultRCONPort {
		t.Fatalf("lobby = %+v", s)
	}

	cfg.UpsertServer(ServerProfile{Name: "Lobby", Host: "lobby2.local", Port: 25576})
	if n := len(cfg.GetServers()); n != 2 {
		t.Fatalf("upsert appended instead of replacing: %d", n)
	}
	s, _ = cfg.GetServer("lobby")
	if s.Host != "lobby2.local" {
		t.Fatalf("host = %s", s.Host)
	}

	if !cfg.RemoveServer("lobby") || cfg.RemoveServer("lobby") {
		t.Fatal("RemoveServer should succeed exactly once")
	}

	app := cfg.GetApplicationData()
	app.DefaultServer = "missing"
	cfg.SetApplicationData(app)
	if s, ok := cfg.DefaultServer(); !ok || s.Name != "local" {
		t.Fatalf("fallback default = %+v", s)
	}
}

func TestRedacted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Servers[0].Password = "hunter2"
	cfg.ApplicationData.MQTT.Password = "mqttpw"
	cfg.ApplicationData.Webhook.URL = "https://discord.example/api/webhooks/1/abc"

	r := cfg.Redacted()
	if r.Servers[0].Password == "hunter2" || r.ApplicationData.MQTT.Password == "mqttpw" {
		t.Fatal("secrets leaked")
	}
	if strings.Contains(r.ApplicationData.Webhook.URL, "webhooks") {
		t.Fatal("webhook url leaked")
	}
	if cfg.Servers[0].Password != "hunter2" {
		t.Fatal("Redacted modified the original")
	}
}

func TestApplyEnv(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}

	env := map[string]string{
		EnvHost:     "mc.internal",
		EnvPort:     "25599",
		EnvPassword: "from-env",
	}
	cfg.ApplyEnv(func(k string) string { return env[k] })

	s, _ := cfg.DefaultServer()
	if s.Host != "mc.internal" || s.Port != 25599 || s.Password != "from-env" {
		t.Fatalf("server = %+v", s)
	}

	if err := cfg.Save(); err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(cfg.Path())
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), "from-env") {
		t.Fatal("environment password was written to disk")
	}
	if !strings.Contains(string(raw), "mc.internal") {
		t.Fatal("host override should be persisted")
	}
}

func TestApplyEnvCreatesProfile(t *testing.T) {
	cfg := DefaultConfig()
	env := map[string]string{EnvServer: "proxy", EnvPassword: "pw", EnvLogLevel: "debug"}
	cfg.ApplyEnv(func(k string) string { return env[k] })

	s, ok := cfg.DefaultServer()
	if !ok || s.Name != "proxy" || s.Password != "pw" {
		t.Fatalf("server = %+v", s)
	}
	if cfg.GetApplicationData().Logging.Level != "debug" {
		t.Fatal("log level override not applied")
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("RCONSOLE_TEST_DOTENV=loaded\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("RCONSOLE_TEST_DOTENV") })

	if err := LoadDotEnv(path, filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("RCONSOLE_TEST_DOTENV"); got != "loaded" {
		t.Fatalf("env = %q", got)
	}
}

func TestValidate(t *testing.T) {
	t.Run("defaults with password", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Servers[0].Password = "pw"
		if r := Validate(cfg); !r.IsValid() {
			t.Fatalf("errors: %v", r.Errors)
		}
	})

	t.Run("empty password warns", func(t *testing.T) {
		r := Validate(DefaultConfig())
		if !r.IsValid() || !hasField(r.Warnings, "servers[0].password") {
			t.Fatalf("result = %+v", r)
		}
	})

	tests := []struct {
		name  string
		edit  func(*Config)
		field string
	}{
		{"no servers", func(c *Config) { c.Servers = nil }, "servers"},
		{"bad port", func(c *Config) { c.Servers[0].Port = 70000 }, "servers[0].port"},
		{"empty host", func(c *Config) { c.Servers[0].Host = "" }, "servers[0].host"},
		{"host with port", func(c *Config) { c.Servers[0].Host = "mc.local:25575" }, "servers[0].host"},
		{"duplicate", func(c *Config) {
			c.Servers = append(c.Servers, ServerProfile{Name: "LOCAL", Host: "x", Port: 1})
		}, "servers[1].name"},
		{"unknown default", func(c *Config) { c.ApplicationData.DefaultServer = "nope" }, "application_data.default_server"},
		{"cleanup time", func(c *Config) { c.ApplicationData.Timers.HistoryCleanupTime = "25:00" }, "timers.history_cleanup_time"},
		{"reconnect initial", func(c *Config) { c.ApplicationData.Timers.ReconnectInitialDelay = 0 }, "timers.reconnect_initial_delay_sec"},
		{"reconnect max below initial", func(c *Config) {
			c.ApplicationData.Timers.ReconnectInitialDelay = 30
			c.ApplicationData.Timers.ReconnectMaxDelay = 10
		}, "timers.reconnect_max_delay_sec"},
		{"reconnect multiplier", func(c *Config) { c.ApplicationData.Timers.ReconnectMultiplier = 0.5 }, "timers.reconnect_multiplier"},
		{"reconnect jitter", func(c *Config) { c.ApplicationData.Timers.ReconnectJitter = 1.5 }, "timers.reconnect_jitter"},
		{"mqtt without broker", func(c *Config) { c.ApplicationData.MQTT.Enabled = true }, "mqtt.broker_url"},
		{"webhook scheme", func(c *Config) { c.ApplicationData.Webhook.URL = "ftp://x" }, "webhook.url"},
		{"api port", func(c *Config) {
			c.ApplicationData.API.Enabled = true
			c.ApplicationData.API.Port = 0
		}, "api.port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Servers[0].Password = "pw"
			tt.edit(cfg)
			r := Validate(cfg)
			if !hasField(r.Errors, tt.field) {
				t.Fatalf("expected error on %s, got %+v", tt.field, r.Errors)
			}
		})
	}
}

func hasField(errs []ValidationError, field string) bool {
	for _, e := range errs {
		if e.Field == field {
			return true
		}
	}
	return false
}

func TestParseClock(t *testing.T) {
	d, err := ParseClock("04:30")
	if err != nil || d != 4*time.Hour+30*time.Minute {
		t.Fatalf("ParseClock = %v, %v", d, err)
	}
	if _, err := ParseClock("4pm"); err == nil {
		t.Fatal("expected error")
	}
}

func TestSetupWizard(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SetPath(filepath.Join(t.TempDir(), "config.json"))

	input := strings.Join([]string{
		"survival",       // profile name
		"mc.example.com", // host
		"",               // port (default)
		"s3cret",         // password
		"yes",            // connect on startup
		"no",             // reconnect
		"",               // poll players
		"no",             // api
		"no",             // mqtt
	}, "\n") + "\n"

	var out strings.Builder
	if err := RunSetupWizard(cfg, strings.NewReader(input), &out); err != nil {
		t.Fatalf("RunSetupWizard: %v\n%s", err, out.String())
	}

	s, ok := cfg.DefaultServer()
	if !ok || s.Name != "survival" || s.Host != "mc.example.com" || s.Password != "s3cret" || s.AutoReconnect {
		t.Fatalf("server = %+v", s)
	}
	if _, ok := cfg.GetServer("local"); ok {
		t.Fatal("renamed profile should replace the old one")
	}
	if _, err := os.Stat(cfg.Path()); err != nil {
		t.Fatalf("config not saved: %v", err)
	}
}
