package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Environment variables that override the selected profile.
const (
	EnvServer   = "RCONSOLE_SERVER"
	EnvHost     = "RCONSOLE_HOST"
	EnvPort     = "RCONSOLE_PORT"
	EnvPassword = "RCONSOLE_PASSWORD"
	EnvLogLevel = "RCONSOLE_LOG_LEVEL"
)

// LoadDotEnv loads .env files into the process environment without
// overwriting variables that are already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
		log.Debug().Str("file", p).Msg("loaded environment file")
	}
	return nil
}

// ApplyEnv applies RCONSOLE_* overrides read through getenv (os.Getenv
// when nil). RCONSOLE_SERVER picks the profile and makes it the default;
// without it the default profile is changed. A profile is created when
// none matches. Overridden passwords are not written back by Save.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}

	name := strings.TrimSpace(getenv(EnvServer))
	host := strings.TrimSpace(getenv(EnvHost))
	portStr := strings.TrimSpace(getenv(EnvPort))
	password := getenv(EnvPassword)
	level := strings.TrimSpace(getenv(EnvLogLevel))

	c.mu.Lock()
	defer c.mu.Unlock()

	if level != "" {
		c.ApplicationData.Logging.Level = level
	}
	if name == "" && host == "" && portStr == "" && password == "" {
		return
	}

	if name == "" {
		name = c.ApplicationData.DefaultServer
	}
	idx := -1
	for i := range c.Servers {
		if name == "" || strings.EqualFold(c.Servers[i].Name, name) {
			idx = i
			break
		}
	}
	if idx < 0 {
		if name == "" {
			name = "default"
		}
		c.Servers = append(c.Servers, ServerProfile{Name: name, Host: "127.0.0.1", Port: DefaultRCONPort})
		idx = len(c.Servers) - 1
	}
	p := &c.Servers[idx]
	c.ApplicationData.DefaultServer = p.Name

	if host != "" {
		p.Host = host
	}
	if portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil {
			p.Port = port
		} else {
			log.Warn().Str("value", portStr).Msg(EnvPort + " is not a number, ignored")
		}
	}
	if password != "" {
		if c.filePasswords == nil {
			c.filePasswords = make(map[string]string)
		}
		key := strings.ToLower(p.Name)
		if _, seen := c.filePasswords[key]; !seen {
			c.filePasswords[key] = p.Password
		}
		p.Password = password
	}

	log.Debug().
		Str("server", p.Name).
		Bool("host", host != "").
		Bool("port", portStr != "").
		Bool("password", password != "").
		Msg("applied environment overrides")
}
