package minecraft

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Runner executes a raw console command. *rcon.Client and the server
// instances satisfy it.
type Runner interface {
	Run(ctx context.Context, command string) (string, error)
}

// Admin wraps a Runner with typed Minecraft commands.
type Admin struct {
	r Runner
}

// NewAdmin returns an Admin that sends commands through r.
func NewAdmin(r Runner) *Admin {
	return &Admin{r: r}
}

// Do formats the named template with args and runs it.
func (a *Admin) Do(ctx context.Context, name string, args Args) (string, error) {
	cmd, err := Format(name, args)
	if err != nil {
		return "", err
	}
	return a.r.Run(ctx, cmd)
}

// Quick runs one of the QuickCommands.
func (a *Admin) Quick(ctx context.Context, name string) (string, error) {
	cmd, ok := QuickCommands[strings.ToLower(name)]
	if !ok {
		return "", fmt.Errorf("%w: quick command %s", ErrUnknownTemplate, name)
	}
	return a.r.Run(ctx, cmd)
}

// List returns the parsed output of "list".
func (a *Admin) List(ctx context.Context) (PlayerList, error) {
	resp, err := a.r.Run(ctx, "list")
	if err != nil {
		return PlayerList{}, err
	}
	return ParsePlayerList(resp)
}

// Players returns the names of online players.
func (a *Admin) Players(ctx context.Context) ([]string, error) {
	l, err := a.List(ctx)
	return l.Players, err
}

// PlayerCount returns the online and maximum player counts.
func (a *Admin) PlayerCount(ctx context.Context) (online, max int, err error) {
	l, err := a.List(ctx)
	return l.Online, l.Max, err
}

func (a *Admin) Kick(ctx context.Context, player, reason string) (string, error) {
	return a.Do(ctx, "kick", Args{"player": player, "reason": reason})
}

func (a *Admin) Ban(ctx context.Context, player, reason string) (string, error) {
	return a.Do(ctx, "ban", Args{"player": player, "reason": reason})
}

func (a *Admin) Pardon(ctx context.Context, player string) (string, error) {
	return a.Do(ctx, "pardon", Args{"player": player})
}

func (a *Admin) Op(ctx context.Context, player string) (string, error) {
	return a.Do(ctx, "op", Args{"player": player})
}

func (a *Admin) Deop(ctx context.Context, player string) (string, error) {
	return a.Do(ctx, "deop", Args{"player": player})
}

func (a *Admin) WhitelistAdd(ctx context.Context, player string) (string, error) {
	return a.Do(ctx, "whitelist_add", Args{"player": player})
}

func (a *Admin) WhitelistRemove(ctx context.Context, player string) (string, error) {
	return a.Do(ctx, "whitelist_remove", Args{"player": player})
}

// WhitelistList returns the whitelisted player names.
func (a *Admin) WhitelistList(ctx context.Context) ([]string, error) {
	resp, err := a.Do(ctx, "whitelist_list", nil)
	if err != nil {
		return nil, err
	}
	return ParseWhitelist(resp)
}

func (a *Admin) WhitelistOn(ctx context.Context) (string, error) {
	return a.Do(ctx, "whitelist_on", nil)
}

func (a *Admin) WhitelistOff(ctx context.Context) (string, error) {
	return a.Do(ctx, "whitelist_off", nil)
}

func (a *Admin) WhitelistReload(ctx context.Context) (string, error) {
	return a.Do(ctx, "whitelist_reload", nil)
}

// Stop shuts the server down. The server usually closes the RCON socket
// right after answering.
func (a *Admin) Stop(ctx context.Context) (string, error) {
	return a.Do(ctx, "stop", nil)
}

// SaveAll saves the world; flush waits for chunks to hit disk.
func (a *Admin) SaveAll(ctx context.Context, flush bool) (string, error) {
	args := Args{}
	if flush {
		args["flush"] = "flush"
	}
	return a.Do(ctx, "save_all", args)
}

func (a *Admin) SaveOn(ctx context.Context) (string, error) {
	return a.Do(ctx, "save_on", nil)
}

func (a *Admin) SaveOff(ctx context.Context) (string, error) {
	return a.Do(ctx, "save_off", nil)
}

func (a *Admin) Reload(ctx context.Context) (string, error) {
	return a.Do(ctx, "reload", nil)
}

// Say broadcasts message to every player.
func (a *Admin) Say(ctx context.Context, message string) (string, error) {
	return a.Do(ctx, "say", Args{"message": message})
}

func (a *Admin) Tell(ctx context.Context, player, message string) (string, error) {
	return a.Do(ctx, "tell", Args{"player": player, "message": message})
}

// Title shows a gold title and optional yellow subtitle to player.
func (a *Admin) Title(ctx context.Context, player, title, subtitle string) (string, error) {
	return a.Do(ctx, "title", Args{"player": player, "title": title, "subtitle": subtitle})
}

// TimeSet accepts day, night, noon, midnight or a tick count.
func (a *Admin) TimeSet(ctx context.Context, value string) (string, error) {
	return a.Do(ctx, "time_set", Args{"time": value})
}

func (a *Admin) TimeAdd(ctx context.Context, ticks int) (string, error) {
	return a.Do(ctx, "time_add", Args{"ticks": strconv.Itoa(ticks)})
}

// TimeQuery asks for daytime, gametime or day; empty means gametime.
func (a *Admin) TimeQuery(ctx context.Context, query string) (string, error) {
	return a.Do(ctx, "time_query", Args{"query": query})
}

// Weather sets the weather for duration seconds; zero uses 300.
func (a *Admin) Weather(ctx context.Context, kind string, duration int) (string, error) {
	args := Args{"type": kind}
	if duration > 0 {
		args["duration"] = strconv.Itoa(duration)
	}
	return a.Do(ctx, "weather", args)
}

func (a *Admin) Difficulty(ctx context.Context, level string) (string, error) {
	return a.Do(ctx, "difficulty", Args{"level": level})
}

func (a *Admin) GameMode(ctx context.Context, player, mode string) (string, error) {
	return a.Do(ctx, "gamemode", Args{"player": player, "mode": mode})
}

// Teleport moves player to absolute coordinates.
func (a *Admin) Teleport(ctx context.Context, player string, x, y, z float64) (string, error) {
	return a.Do(ctx, "tp", Args{
		"player": player,
		"x":      formatCoord(x),
		"y":      formatCoord(y),
		"z":      formatCoord(z),
	})
}

func (a *Admin) TeleportTo(ctx context.Context, player, target string) (string, error) {
	return a.Do(ctx, "tp_to", Args{"player": player, "target": target})
}

// Give hands count of item to player; count below 1 gives one.
func (a *Admin) Give(ctx context.Context, player, item string, count int) (string, error) {
	args := Args{"player": player, "item": item}
	if count > 0 {
		args["count"] = strconv.Itoa(count)
	}
	return a.Do(ctx, "give", args)
}

// Clear empties a player's inventory, or only item when set. count is
// used only together with item.
func (a *Admin) Clear(ctx context.Context, player, item string, count int) (string, error) {
	args := Args{"player": player, "item": item}
	if item != "" && count > 0 {
		args["count"] = strconv.Itoa(count)
	}
	return a.Do(ctx, "clear", args)
}

func (a *Admin) Version(ctx context.Context) (string, error) {
	return a.Do(ctx, "version", nil)
}

// TPS works on Paper and Spigot; vanilla answers with an unknown command.
func (a *Admin) TPS(ctx context.Context) (string, error) {
	return a.Do(ctx, "tps", nil)
}

// Seed returns the parsed world seed.
func (a *Admin) Seed(ctx context.Context) (int64, error) {
	resp, err := a.Do(ctx, "seed", nil)
	if err != nil {
		return 0, err
	}
	return ParseSeed(resp)
}

func (a *Admin) ExecuteAs(ctx context.Context, player, command string) (string, error) {
	return a.Do(ctx, "execute_as", Args{"player": player, "command": command})
}

// SetGameRule writes a game rule. Booleans are sent in lower case.
func (a *Admin) SetGameRule(ctx context.Context, rule string, value interface{}) (string, error) {
	return a.Do(ctx, "gamerule_set", Args{"rule": rule, "value": strings.ToLower(fmt.Sprint(value))})
}

func (a *Admin) GetGameRule(ctx context.Context, rule string) (string, error) {
	return a.Do(ctx, "gamerule_get", Args{"rule": rule})
}

func (a *Admin) SetSpawnRadius(ctx context.Context, radius int) (string, error) {
	return a.Do(ctx, "spawn_radius", Args{"radius": strconv.Itoa(radius)})
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
