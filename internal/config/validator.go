package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

// ValidationError is one problem found in the configuration.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult collects errors, which block startup, and warnings.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate checks the whole configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	servers := cfg.GetServers()
	app := cfg.GetApplicationData()

	validateServers(servers, app.DefaultServer, result)
	validateTimeouts(&app.Timeouts, result)
	validateTimers(&app.Timers, result)
	validateAPI(&app.API, &app.Security, result)
	validateMQTT(&app.MQTT, result)
	validateWebhook(&app.Webhook, result)

	if app.History.Enabled && strings.TrimSpace(app.History.DatabasePath) == "" {
		result.AddError("history.database_path", "database path is required when history is enabled")
	}
	if app.Logging.LogAuthPackets {
		result.AddWarning("logging.log_auth_packets", "RCON passwords will be written to trace logs")
	}

	return result
}

func validateServers(servers []ServerProfile, defaultServer string, result *ValidationResult) {
	if len(servers) == 0 {
		result.AddError("servers", "at least one server profile is required")
		return
	}

	seen := make(map[string]bool)
	foundDefault := defaultServer == ""
	for i, s := range servers {
		field := fmt.Sprintf("servers[%d]", i)
		name := strings.ToLower(strings.TrimSpace(s.Name))

		if name == "" {
			result.AddError(field+".name", "profile name is required")
		} else if strings.ContainsAny(name, " /") {
			result.AddError(field+".name", fmt.Sprintf("profile name %q may not contain spaces or slashes", s.Name))
		} else if seen[name] {
			result.AddError(field+".name", fmt.Sprintf("duplicate profile name %q", s.Name))
		}
		seen[name] = true
		if strings.EqualFold(s.Name, defaultServer) {
			foundDefault = true
		}

		if strings.TrimSpace(s.Host) == "" {
			result.AddError(field+".host", "host is required")
		} else if strings.Contains(s.Host, ":") && net.ParseIP(s.Host) == nil {
			result.AddError(field+".host", "host must not include a port, use the port field")
		}

		validatePort(s.Port, field+".port", result)

		if s.Password == "" {
			result.AddWarning(field+".password", "empty password, servers reject RCON logins without one")
		}
		if s.TLSInsecure && !s.UseTLS {
			result.AddWarning(field+".tls_insecure", "has no effect without use_tls")
		}
		if s.AutoReconnect && !s.AutoConnect {
			result.AddWarning(field+".auto_reconnect", "only applies once the profile has been connected")
		}
	}

	if !foundDefault {
		result.AddError("application_data.default_server",
			fmt.Sprintf("default server %q does not match any profile", defaultServer))
	}
}

func validateTimeouts(t *TimeoutConfig, result *ValidationResult) {
	for field, v := range map[string]int{
		"timeouts.connect_sec": t.ConnectSec,
		"timeouts.read_sec":    t.ReadSec,
		"timeouts.write_sec":   t.WriteSec,
	} {
		if v < 0 {
			result.AddError(field, "must not be negative")
		} else if v > 300 {
			result.AddWarning(field, fmt.Sprintf("%ds is unusually long", v))
		}
	}
}

func validateTimers(timers *TimerConfig, result *ValidationResult) {
	if timers.PlayerPollInterval > 0 && timers.PlayerPollInterval < 5 {
		result.AddWarning("timers.player_poll_interval_sec",
			"polling more often than every 5s adds noise to the server console")
	}
	if timers.HealthCheckInterval < 1 {
		result.AddError("timers.health_check_interval_sec", "must be at least 1 second")
	}
	if timers.HeartbeatInterval > 0 && timers.HeartbeatInterval < 10 {
		result.AddWarning("timers.heartbeat_interval_sec",
			"heartbeat interval less than 10s may cause excessive traffic")
	}
	if _, err := ParseClock(timers.HistoryCleanupTime); err != nil {
		result.AddError("timers.history_cleanup_time", err.Error())
	}
	if timers.HistoryRetentionDays < 0 {
		result.AddError("timers.history_retention_days", "must not be negative")
	}
	if timers.ReconnectInitialDelay < 1 {
		result.AddError("timers.reconnect_initial_delay_sec", "must be at least 1 second")
	}
	if timers.ReconnectMaxDelay < timers.ReconnectInitialDelay {
		result.AddError("timers.reconnect_max_delay_sec", "must not be less than reconnect_initial_delay_sec")
	}
	if timers.ReconnectMultiplier < 1 {
		result.AddError("timers.reconnect_multiplier", "must be at least 1")
	}
	if timers.ReconnectJitter < 0 || timers.ReconnectJitter > 1 {
		result.AddError("timers.reconnect_jitter", "must be between 0 and 1")
	}
}

func validateAPI(api *APIConfig, sec *SecurityConfig, result *ValidationResult) {
	if !api.Enabled {
		return
	}
	validatePort(api.Port, "api.port", result)
	if ip := net.ParseIP(api.ListenAddr); api.ListenAddr != "" && api.ListenAddr != "localhost" && ip == nil {
		result.AddError("api.listen_addr", fmt.Sprintf("not an IP address: %s", api.ListenAddr))
	}

	loopback := api.ListenAddr == "localhost" || isLoopback(api.ListenAddr)
	if sec.AuthDisabled && !loopback {
		result.AddWarning("security.auth_disabled",
			"API authentication is disabled on a non-loopback address, anyone on the network can run commands")
	}
	if sec.TLSEnabled && (sec.TLSCertFile == "") != (sec.TLSKeyFile == "") {
		result.AddError("security.tls_cert_file", "cert and key must be set together (or both empty for a self-signed pair)")
	}
	if sec.RateLimitRPS < 0 {
		result.AddError("security.rate_limit_rps", "must not be negative")
	}
}

func validateMQTT(m *MQTTConfig, result *ValidationResult) {
	if !m.Enabled {
		return
	}
	if strings.TrimSpace(m.BrokerURL) == "" {
		result.AddError("mqtt.broker_url", "broker is required when MQTT is enabled")
	}
	validatePort(m.Port, "mqtt.port", result)
	if strings.ContainsAny(m.TopicPrefix, "#+") {
		result.AddError("mqtt.topic_prefix", "must not contain MQTT wildcards")
	}
	if m.UseTLS && (m.CertFile == "") != (m.KeyFile == "") {
		result.AddError("mqtt.cert_file", "client cert and key must be set together")
	}
	if m.AllowRemoteCommands && !m.UseTLS {
		result.AddWarning("mqtt.allow_remote_commands", "remote commands over a plaintext broker connection")
	}
}

func validateWebhook(w *WebhookConfig, result *ValidationResult) {
	if w.URL == "" {
		return
	}
	u, err := url.Parse(w.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		result.AddError("webhook.url", "must be an http or https URL")
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
	}
}

func isLoopback(addr string) bool {
	ip := net.ParseIP(addr)
	return ip != nil && ip.IsLoopback()
}

// ParseClock parses a daily "HH:MM" time into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q, expected HH:MM", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// IsPortAvailable checks if a TCP port can be bound on addr.
func IsPortAvailable(addr string, port int) bool {
	ln, err := net.Listen("tcp", net.JoinHostPort(addr, fmt.Sprint(port)))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
