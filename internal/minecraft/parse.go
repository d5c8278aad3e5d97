package minecraft

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// PlayerList is the parsed reply to "list".
type PlayerList struct {
	Online  int      `json:"online"`
	Max     int      `json:"max"`
	Players []string `json:"players"`
}

var (
	colorCodeRe = regexp.MustCompile(`§[0-9a-fk-orA-FK-OR]`)

	// Vanilla: "There are 2 of a max of 20 players online: a, b"
	// Older builds: "There are 2/20 players online:" then names
	// Bukkit: "There are 2 out of maximum 20 players online."
	listRe = regexp.MustCompile(`(?s)There (?:are|is) (\d+)(?: of a max(?:imum)? of |/| out of maximum )(\d+) players? online[.:]?\s*(.*)`)

	seedRe      = regexp.MustCompile(`Seed:\s*\[?\s*(-?\d+)\s*\]?`)
	whitelistRe = regexp.MustCompile(`(?s)There (?:are|is) (\d+|no) whitelisted players?(?:\(s\))?:?\s*(.*)`)
)

// StripColors removes § formatting codes.
func StripColors(s string) string {
	return colorCodeRe.ReplaceAllString(s, "")
}

// ParsePlayerList parses the reply to "list".
func ParsePlayerList(resp string) (PlayerList, error) {
	m := listRe.FindStringSubmatch(StripColors(resp))
	if m == nil {
		return PlayerList{}, fmt.Errorf("unrecognised player list: %q", resp)
	}
	online, _ := strconv.Atoi(m[1])
	max, _ := strconv.Atoi(m[2])
	return PlayerList{
		Online:  online,
		Max:     max,
		Players: splitNames(m[3]),
	}, nil
}

// ParseSeed parses "Seed: [1234]".
func ParseSeed(resp string) (int64, error) {
	m := seedRe.FindStringSubmatch(StripColors(resp))
	if m == nil {
		return 0, fmt.Errorf("unrecognised seed response: %q", resp)
	}
	return strconv.ParseInt(m[1], 10, 64)
}

// ParseWhitelist parses the reply to "whitelist list".
func ParseWhitelist(resp string) ([]string, error) {
	m := whitelistRe.FindStringSubmatch(StripColors(resp))
	if m == nil {
		return nil, fmt.Errorf("unrecognised whitelist response: %q", resp)
	}
	if m[1] == "no" {
		return []string{}, nil
	}
	return splitNames(m[2]), nil
}

func splitNames(s string) []string {
	names := []string{}
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '\n' }) {
		name := strings.TrimSpace(part)
		// Bukkit groups players as "group: a, b".
		if i := strings.LastIndex(name, ": "); i >= 0 {
			name = strings.TrimSpace(name[i+2:])
		}
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}

// playerCommands change who is online or allowed on.
var playerCommands = map[string]bool{
	"kick": true, "ban": true, "ban-ip": true, "pardon": true,
	"whitelist": true, "op": true, "deop": true,
}

// AffectsPlayers reports whether command can change the player list, so
// callers can refresh it afterwards.
func AffectsPlayers(command string) bool {
	name, _, _ := strings.Cut(strings.TrimSpace(command), " ")
	return playerCommands[strings.ToLower(strings.TrimPrefix(name, "/"))]
}
