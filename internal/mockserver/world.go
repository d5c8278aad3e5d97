package mockserver

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// World is a tiny Minecraft-flavoured command handler with enough state to
// make list, kick, whitelist and time commands answer sensibly.
type World struct {
	mu          sync.Mutex
	players     []string
	maxPlayers  int
	ops         map[string]bool
	whitelist   map[string]bool
	banned      map[string]bool
	whitelistOn bool
	dayTime     int
	gameTime    int
	weather     string
	difficulty  string
	seed        int64
}

// NewWorld returns a world with no players online.
func NewWorld() *World {
	return &World{
		maxPlayers: 20,
		ops:        make(map[string]bool),
		whitelist:  make(map[string]bool),
		banned:     make(map[string]bool),
		dayTime:    1000,
		gameTime:   24000,
		weather:    "clear",
		difficulty: "normal",
		seed:       -4172144997902289642,
	}
}

// Join adds players to the online list.
func (w *World) Join(names ...string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, n := range names {
		if !contains(w.players, n) {
			w.players = append(w.players, n)
		}
	}
}

// Leave removes a player from the online list.
func (w *World) Leave(name string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.removePlayer(name)
}

func (w *World) removePlayer(name string) bool {
	for i, p := range w.players {
		if p == name {
			w.players = append(w.players[:i], w.players[i+1:]...)
			return true
		}
	}
	return false
}

// Handle answers a command the way a vanilla server would.
func (w *World) Handle(command string) string {
	w.mu.Lock()
	defer w.mu.Unlock()

	fields := strings.Fields(strings.TrimPrefix(command, "/"))
	if len(fields) == 0 {
		return "Unknown or incomplete command, see below for error"
	}
	args := fields[1:]

	switch fields[0] {
	case "list":
		return fmt.Sprintf("There are %d of a max of %d players online: %s",
			len(w.players), w.maxPlayers, strings.Join(w.players, ", "))

	case "kick":
		if len(args) == 0 {
			return "Unknown or incomplete command, see below for error"
		}
		if !w.removePlayer(args[0]) {
			return "No player was found"
		}
		reason := "Kicked by an operator"
		if len(args) > 1 {
			reason = strings.Join(args[1:], " ")
		}
		return fmt.Sprintf("Kicked %s: %s", args[0], reason)

	case "ban":
		if len(args) == 0 {
			return "Unknown or incomplete command, see below for error"
		}
		w.banned[args[0]] = true
		w.removePlayer(args[0])
		return fmt.Sprintf("Banned %s: Banned by an operator.", args[0])

	case "pardon":
		if len(args) == 0 || !w.banned[args[0]] {
			return "Nothing changed. The player isn't banned"
		}
		delete(w.banned, args[0])
		return fmt.Sprintf("Unbanned %s", args[0])

	case "op", "deop":
		if len(args) == 0 {
			return "Unknown or incomplete command, see below for error"
		}
		if fields[0] == "op" {
			w.ops[args[0]] = true
			return fmt.Sprintf("Made %s a server operator", args[0])
		}
		delete(w.ops, args[0])
		return fmt.Sprintf("Made %s no longer a server operator", args[0])

	case "whitelist":
		return w.handleWhitelist(args)

	case "say":
		return ""

	case "tell", "msg", "w":
		if len(args) < 2 {
			return "Unknown or incomplete command, see below for error"
		}
		if !contains(w.players, args[0]) {
			return "No player was found"
		}
		return fmt.Sprintf("You whisper to %s: %s", args[0], strings.Join(args[1:], " "))

	case "time":
		return w.handleTime(args)

	case "weather":
		if len(args) == 0 {
			return "Unknown or incomplete command, see below for error"
		}
		w.weather = args[0]
		switch args[0] {
		case "clear":
			return "Set the weather to clear"
		case "rain":
			return "Set the weather to rain"
		case "thunder":
			return "Set the weather to rain & thunder"
		}
		return "Incorrect argument for command"

	case "difficulty":
		if len(args) == 0 {
			return fmt.Sprintf("The difficulty is %s", capitalize(w.difficulty))
		}
		w.difficulty = args[0]
		return fmt.Sprintf("The difficulty has been set to %s", capitalize(args[0]))

	case "seed":
		return fmt.Sprintf("Seed: [%d]", w.seed)

	case "save-all":
		return "Saved the game"

	case "save-on":
		return "Automatic saving is now enabled"

	case "save-off":
		return "Automatic saving is now disabled"

	case "stop":
		return "Stopping the server"

	case "version":
		return "This server is running Paper version 1.20.4-496 (MC: 1.20.4)"
	}

	return "Unknown or incomplete command, see below for error"
}

func (w *World) handleWhitelist(args []string) string {
	if len(args) == 0 {
		return "Unknown or incomplete command, see below for error"
	}
	switch args[0] {
	case "on":
		w.whitelistOn = true
		return "Whitelist is now turned on"
	case "off":
		w.whitelistOn = false
		return "Whitelist is now turned off"
	case "reload":
		return "Reloaded the whitelist"
	case "list":
		names := make([]string, 0, len(w.whitelist))
		for n := range w.whitelist {
			names = append(names, n)
		}
		if len(names) == 0 {
			return "There are no whitelisted players"
		}
		sort.Strings(names)
		return fmt.Sprintf("There are %d whitelisted players: %s", len(names), strings.Join(names, ", "))
	case "add", "remove":
		if len(args) < 2 {
			return "Unknown or incomplete command, see below for error"
		}
		name := args[1]
		if args[0] == "add" {
			if w.whitelist[name] {
				return "Player is already whitelisted"
			}
			w.whitelist[name] = true
			return fmt.Sprintf("Added %s to the whitelist", name)
		}
		if !w.whitelist[name] {
			return "Player is not whitelisted"
		}
		delete(w.whitelist, name)
		return fmt.Sprintf("Removed %s from the whitelist", name)
	}
	return "Unknown or incomplete command, see below for error"
}

func (w *World) handleTime(args []string) string {
	if len(args) < 2 {
		return "Unknown or incomplete command, see below for error"
	}
	switch args[0] {
	case "set":
		switch args[1] {
		case "day":
			w.dayTime = 1000
		case "noon":
			w.dayTime = 6000
		case "night":
			w.dayTime = 13000
		case "midnight":
			w.dayTime = 18000
		default:
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return "Invalid integer '" + args[1] + "'"
			}
			w.dayTime = n
		}
		return fmt.Sprintf("Set the time to %d", w.dayTime)
	case "add":
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return "Invalid integer '" + args[1] + "'"
		}
		w.dayTime += n
		w.gameTime += n
		return fmt.Sprintf("Set the time to %d", w.dayTime)
	case "query":
		switch args[1] {
		case "daytime":
			return fmt.Sprintf("The time is %d", w.dayTime%24000)
		case "gametime":
			return fmt.Sprintf("The time is %d", w.gameTime)
		case "day":
			return fmt.Sprintf("The time is %d", w.gameTime/24000)
		}
	}
	return "Unknown or incomplete command, see below for error"
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
