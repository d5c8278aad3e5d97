// Package minecraft provides typed helpers for the vanilla Minecraft
// server console: command templates, an Admin wrapper over any command
// runner, and parsers for common responses.
package minecraft

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Args holds template arguments by placeholder name.
type Args map[string]string

// Template describes one console command. Pattern placeholders are written
// {name}; {name?} marks an optional one. Optional placeholders are
// positional: once one is empty, the ones after it are dropped too.
type Template struct {
	Name        string              `json:"name"`
	Pattern     string              `json:"pattern"`
	Description string              `json:"description"`
	Defaults    map[string]string   `json:"defaults,omitempty"`
	Choices     map[string][]string `json:"choices,omitempty"`

	build func(Args) (string, error)
}

var (
	ErrUnknownTemplate = errors.New("unknown command template")
	ErrMissingArg      = errors.New("missing argument")
	ErrInvalidArg      = errors.New("invalid argument")
)

var placeholderRe = regexp.MustCompile(`\{(\w+)(\?)?\}`)

// Placeholders returns the argument names of the template, in order.
func (t Template) Placeholders() []string {
	var out []string
	for _, m := range placeholderRe.FindAllStringSubmatch(t.Pattern, -1) {
		out = append(out, m[1])
	}
	return out
}

// Format fills the template with args.
func (t Template) Format(args Args) (string, error) {
	if t.build != nil {
		return t.build(args)
	}

	var (
		firstErr     error
		skipOptional bool
	)
	out := placeholderRe.ReplaceAllStringFunc(t.Pattern, func(m string) string {
		sub := placeholderRe.FindStringSubmatch(m)
		name, optional := sub[1], sub[2] == "?"

		v := strings.TrimSpace(args[name])
		if v == "" {
			v = t.Defaults[name]
		}
		if optional && (v == "" || skipOptional) {
			skipOptional = true
			return ""
		}
		if v == "" {
			if firstErr == nil {
				firstErr = fmt.Errorf("%w: %s needs %q", ErrMissingArg, t.Name, name)
			}
			return ""
		}
		if err := validateArg(name, v, t.Choices[name]); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", t.Name, err)
			}
			return ""
		}
		return v
	})
	if firstErr != nil {
		return "", firstErr
	}
	return strings.Join(strings.Fields(out), " "), nil
}

var (
	intArgs   = map[string]bool{"count": true, "duration": true, "radius": true}
	coordArgs = map[string]bool{"x": true, "y": true, "z": true}
	// Free text arguments may contain spaces.
	textArgs = map[string]bool{"reason": true, "message": true, "command": true}
)

func validateArg(name, v string, choices []string) error {
	if strings.ContainsAny(v, "\r\n\x00") {
		return fmt.Errorf("%w: %s must be a single line", ErrInvalidArg, name)
	}
	if len(choices) > 0 {
		for _, c := range choices {
			if strings.EqualFold(c, v) {
				return nil
			}
		}
		return fmt.Errorf("%w: %s must be one of %s", ErrInvalidArg, name, strings.Join(choices, ", "))
	}
	switch {
	case textArgs[name]:
		return nil
	case intArgs[name]:
		if n, err := strconv.Atoi(v); err != nil || n < 0 {
			return fmt.Errorf("%w: %s must be a non-negative integer", ErrInvalidArg, name)
		}
	case coordArgs[name]:
		c := strings.TrimLeft(v, "~^")
		if c != "" {
			if _, err := strconv.ParseFloat(c, 64); err != nil {
				return fmt.Errorf("%w: %s must be a coordinate", ErrInvalidArg, name)
			}
		}
	}
	if strings.ContainsAny(v, " \t") {
		return fmt.Errorf("%w: %s must be a single word", ErrInvalidArg, name)
	}
	return nil
}

var (
	weatherTypes = []string{"clear", "rain", "thunder"}
	difficulties = []string{"peaceful", "easy", "normal", "hard"}
	gameModes    = []string{"survival", "creative", "adventure", "spectator"}
	timeQueries  = []string{"daytime", "gametime", "day"}
)

// Templates is the built-in command table, keyed by name.
var Templates = map[string]Template{}

func init() {
	for _, t := range []Template{
		{Name: "list", Pattern: "list", Description: "List online players"},
		{Name: "kick", Pattern: "kick {player} {reason?}", Description: "Kick a player",
			Defaults: map[string]string{"reason": "Kicked by admin"}},
		{Name: "ban", Pattern: "ban {player} {reason?}", Description: "Ban a player",
			Defaults: map[string]string{"reason": "Banned by admin"}},
		{Name: "pardon", Pattern: "pardon {player}", Description: "Unban a player"},
		{Name: "op", Pattern: "op {player}", Description: "Make a player an operator"},
		{Name: "deop", Pattern: "deop {player}", Description: "Remove operator status"},
		{Name: "whitelist_add", Pattern: "whitelist add {player}", Description: "Add a player to the whitelist"},
		{Name: "whitelist_remove", Pattern: "whitelist remove {player}", Description: "Remove a player from the whitelist"},
		{Name: "whitelist_list", Pattern: "whitelist list", Description: "Show the whitelist"},
		{Name: "whitelist_on", Pattern: "whitelist on", Description: "Enable the whitelist"},
		{Name: "whitelist_off", Pattern: "whitelist off", Description: "Disable the whitelist"},
		{Name: "whitelist_reload", Pattern: "whitelist reload", Description: "Reload the whitelist file"},
		{Name: "stop", Pattern: "stop", Description: "Stop the server"},
		{Name: "save_all", Pattern: "save-all {flush?}", Description: "Save the world",
			Choices: map[string][]string{"flush": {"flush"}}},
		{Name: "save_on", Pattern: "save-on", Description: "Enable automatic saving"},
		{Name: "save_off", Pattern: "save-off", Description: "Disable automatic saving"},
		{Name: "reload", Pattern: "reload", Description: "Reload data packs"},
		{Name: "say", Pattern: "say {message}", Description: "Broadcast a message"},
		{Name: "tell", Pattern: "tell {player} {message}", Description: "Message one player"},
		{Name: "title", Pattern: "title {player} title {title} {subtitle?}", Description: "Show a title (gold) and subtitle (yellow)",
			build: buildTitle},
		{Name: "time_set", Pattern: "time set {time}", Description: "Set the time (day, night, noon, midnight or ticks)"},
		{Name: "time_add", Pattern: "time add {ticks}", Description: "Advance the time"},
		{Name: "time_query", Pattern: "time query {query?}", Description: "Query the time",
			Defaults: map[string]string{"query": "gametime"},
			Choices:  map[string][]string{"query": timeQueries}},
		{Name: "weather", Pattern: "weather {type} {duration?}", Description: "Set the weather for a duration in seconds",
			Defaults: map[string]string{"duration": "300"},
			Choices:  map[string][]string{"type": weatherTypes}},
		{Name: "difficulty", Pattern: "difficulty {level}", Description: "Set the difficulty",
			Choices: map[string][]string{"level": difficulties}},
		{Name: "gamemode", Pattern: "gamemode {mode} {player}", Description: "Set a player's game mode",
			Choices: map[string][]string{"mode": gameModes}},
		{Name: "tp", Pattern: "tp {player} {x} {y} {z}", Description: "Teleport a player to coordinates"},
		{Name: "tp_to", Pattern: "tp {player} {target}", Description: "Teleport a player to another player"},
		{Name: "give", Pattern: "give {player} {item} {count?}", Description: "Give items",
			Defaults: map[string]string{"count": "1"}},
		{Name: "clear", Pattern: "clear {player} {item?} {count?}", Description: "Clear a player's inventory"},
		{Name: "version", Pattern: "version", Description: "Server version"},
		{Name: "tps", Pattern: "tps", Description: "Ticks per second (Paper/Spigot)"},
		{Name: "seed", Pattern: "seed", Description: "World seed"},
		{Name: "execute_as", Pattern: "execute as {player} run {command}", Description: "Run a command as a player"},
		{Name: "gamerule_set", Pattern: "gamerule {rule} {value}", Description: "Set a game rule"},
		{Name: "gamerule_get", Pattern: "gamerule {rule}", Description: "Read a game rule"},
		{Name: "spawn_radius", Pattern: "gamerule spawnRadius {radius}", Description: "Set the spawn radius"},
	} {
		Templates[t.Name] = t
	}
}

// Format fills the named template.
func Format(name string, args Args) (string, error) {
	t, ok := Templates[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTemplate, name)
	}
	return t.Format(args)
}

// TemplateNames returns the template names sorted.
func TemplateNames() []string {
	names := make([]string, 0, len(Templates))
	for name := range Templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type textComponent struct {
	Text  string `json:"text"`
	Color string `json:"color"`
}

func buildTitle(args Args) (string, error) {
	player := strings.TrimSpace(args["player"])
	title := args["title"]
	if player == "" {
		return "", fmt.Errorf("%w: title needs %q", ErrMissingArg, "player")
	}
	if title == "" {
		return "", fmt.Errorf("%w: title needs %q", ErrMissingArg, "title")
	}
	if err := validateArg("player", player, nil); err != nil {
		return "", err
	}
	for _, v := range []string{title, args["subtitle"]} {
		if strings.ContainsAny(v, "\r\n\x00") {
			return "", fmt.Errorf("%w: title text must be a single line", ErrInvalidArg)
		}
	}

	t, err := json.Marshal(textComponent{Text: title, Color: "gold"})
	if err != nil {
		return "", err
	}
	cmd := fmt.Sprintf("title %s title %s", player, t)
	if sub := args["subtitle"]; sub != "" {
		s, err := json.Marshal(textComponent{Text: sub, Color: "yellow"})
		if err != nil {
			return "", err
		}
		cmd += " " + string(s)
	}
	return cmd, nil
}

// QuickCommands are one-word shortcuts for common world changes.
var QuickCommands = map[string]string{
	"day":     "time set day",
	"night":   "time set night",
	"clear":   "weather clear",
	"rain":    "weather rain",
	"thunder": "weather thunder",
}

// QuickNames returns the quick command names sorted.
func QuickNames() []string {
	names := make([]string, 0, len(QuickCommands))
	for name := range QuickCommands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
