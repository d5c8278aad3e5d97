package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// RunSetupWizard asks for the first server profile and a few service
// settings, validates the result and saves it.
func RunSetupWizard(cfg *Config, in io.Reader, out io.Writer) error {
	w := &wizard{reader: bufio.NewReader(in), out: out}

	fmt.Fprintln(out, "╔══════════════════════════════════════════════╗")
	fmt.Fprintln(out, "║           rconsole - First Run Setup          ║")
	fmt.Fprintln(out, "╚══════════════════════════════════════════════╝")
	fmt.Fprintln(out)

	profile, _ := cfg.DefaultServer()
	if profile.Name == "" {
		profile = ServerProfile{Name: "local", Host: "127.0.0.1", Port: DefaultRCONPort}
	}

	previous := profile.Name

	fmt.Fprintln(out, "── RCON Server ──")
	profile.Name = w.promptString("Profile name", profile.Name)
	profile.Host = w.promptString("Host", profile.Host)
	profile.Port = w.promptInt("Port", profile.Port)
	if pw := w.promptPassword("RCON password (rcon.password in server.properties)"); pw != "" {
		profile.Password = pw
	}
	profile.AutoConnect = w.promptBool("Connect on startup", profile.AutoConnect)
	profile.AutoReconnect = w.promptBool("Reconnect automatically", profile.AutoReconnect)
	profile.PollPlayers = w.promptBool("Poll the player list", profile.PollPlayers)

	app := cfg.GetApplicationData()

	fmt.Fprintln(out)
	fmt.Fprintln(out, "── REST API ──")
	app.API.Enabled = w.promptBool("Enable REST API", app.API.Enabled)
	if app.API.Enabled {
		app.API.ListenAddr = w.promptString("Listen address", app.API.ListenAddr)
		app.API.Port = w.promptInt("Port", app.API.Port)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "── MQTT Telemetry ──")
	app.MQTT.Enabled = w.promptBool("Enable MQTT telemetry", app.MQTT.Enabled)
	if app.MQTT.Enabled {
		app.MQTT.BrokerURL = w.promptString("Broker host", app.MQTT.BrokerURL)
		app.MQTT.Port = w.promptInt("Broker port", app.MQTT.Port)
	}

	app.DefaultServer = profile.Name
	if !strings.EqualFold(previous, profile.Name) {
		cfg.RemoveServer(previous)
	}
	cfg.UpsertServer(profile)
	cfg.SetApplicationData(app)

	result := Validate(cfg)
	if !result.IsValid() {
		fmt.Fprintln(out, "\n⚠ Configuration has errors:")
		for _, e := range result.Errors {
			fmt.Fprintf(out, "  - [%s] %s\n", e.Field, e.Message)
		}
		if !w.eof && w.promptBool("Try again", true) {
			return RunSetupWizard(cfg, w.reader, out)
		}
		return fmt.Errorf("configuration validation failed")
	}
	for _, warn := range result.Warnings {
		log.Warn().Str("field", warn.Field).Msg(warn.Message)
	}

	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "✓ Configuration saved to %s\n", cfg.Path())
	fmt.Fprintln(out)
	return nil
}

type wizard struct {
	reader *bufio.Reader
	out    io.Writer
	eof    bool
}

func (w *wizard) readLine() string {
	input, err := w.reader.ReadString('\n')
	if err != nil {
		w.eof = true
	}
	return strings.TrimSpace(input)
}

func (w *wizard) promptString(prompt, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(w.out, "  %s [%s]: ", prompt, defaultVal)
	} else {
		fmt.Fprintf(w.out, "  %s: ", prompt)
	}
	if input := w.readLine(); input != "" {
		return input
	}
	return defaultVal
}

// promptPassword reads a line as-is. Input is echoed; use RCONSOLE_PASSWORD
// to keep it off the terminal.
func (w *wizard) promptPassword(prompt string) string {
	fmt.Fprintf(w.out, "  %s: ", prompt)
	return w.readLine()
}

func (w *wizard) promptInt(prompt string, defaultVal int) int {
	fmt.Fprintf(w.out, "  %s [%d]: ", prompt, defaultVal)
	input := w.readLine()
	if input == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(input)
	if err != nil {
		fmt.Fprintf(w.out, "    Invalid number, using default: %d\n", defaultVal)
		return defaultVal
	}
	return val
}

func (w *wizard) promptBool(prompt string, defaultVal bool) bool {
	defaultStr := "no"
	if defaultVal {
		defaultStr = "yes"
	}
	fmt.Fprintf(w.out, "  %s [%s]: ", prompt, defaultStr)

	switch strings.ToLower(w.readLine()) {
	case "":
		return defaultVal
	case "yes", "y", "true", "1":
		return true
	default:
		return false
	}
}
