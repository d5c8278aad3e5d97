package util

import "strings"

// RedactedValue replaces secrets in logs, API output and history.
const RedactedValue = "xxxxx"

// Redact masks a secret. Empty values stay empty so a missing password is
// still visible as missing.
func Redact(secret string) string {
	if secret == "" {
		return ""
	}
	return RedactedValue
}

// sensitiveCommands take a secret as their first argument.
var sensitiveCommands = map[string]bool{
	"login":         true,
	"register":      true,
	"rcon_password": true,
	"sv_password":   true,
}

// ScrubCommand returns command with the arguments of password-carrying
// commands masked, for storing in history.
func ScrubCommand(command string) string {
	trimmed := strings.TrimSpace(command)
	name, rest, found := strings.Cut(trimmed, " ")
	if !found || !sensitiveCommands[strings.ToLower(strings.TrimPrefix(name, "/"))] {
		return command
	}
	if strings.TrimSpace(rest) == "" {
		return command
	}
	return name + " " + RedactedValue
}

// Truncate shortens s to at most max bytes without splitting a UTF-8
// sequence, appending a marker when something was cut.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8Start(s[cut]) {
		cut--
	}
	return s[:cut] + "…[truncated]"
}

func utf8Start(b byte) bool {
	return b&0xC0 != 0x80
}
