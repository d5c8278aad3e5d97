package minecraft

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
)

type recorder struct {
	commands []string
	reply    string
	err      error
}

func (r *recorder) Run(_ context.Context, command string) (string, error) {
	r.commands = append(r.commands, command)
	return r.reply, r.err
}

func TestFormat(t *testing.T) {
	tests := []struct {
		name string
		args Args
		want string
	}{
		{"list", nil, "list"},
		{"kick", Args{"player": "Steve"}, "kick Steve Kicked by admin"},
		{"kick", Args{"player": "Steve", "reason": "griefing spawn"}, "kick Steve griefing spawn"},
		{"save_all", nil, "save-all"},
		{"save_all", Args{"flush": "flush"}, "save-all flush"},
		{"weather", Args{"type": "rain"}, "weather rain 300"},
		{"weather", Args{"type": "thunder", "duration": "60"}, "weather thunder 60"},
		{"time_query", nil, "time query gametime"},
		{"give", Args{"player": "Alex", "item": "minecraft:diamond"}, "give Alex minecraft:diamond 1"},
		{"clear", Args{"player": "Alex"}, "clear Alex"},
		{"clear", Args{"player": "Alex", "count": "5"}, "clear Alex"},
		{"clear", Args{"player": "Alex", "item": "minecraft:dirt", "count": "5"}, "clear Alex minecraft:dirt 5"},
		{"tp", Args{"player": "Alex", "x": "~", "y": "64", "z": "-10.5"}, "tp Alex ~ 64 -10.5"},
		{"execute_as", Args{"player": "Alex", "command": "say hi"}, "execute as Alex run say hi"},
		{"spawn_radius", Args{"radius": "0"}, "gamerule spawnRadius 0"},
	}
	for _, tt := range tests {
		got, err := Format(tt.name, tt.args)
		if err != nil {
			t.Errorf("Format(%s, %v): %v", tt.name, tt.args, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Format(%s, %v) = %q, want %q", tt.name, tt.args, got, tt.want)
		}
	}
}

func TestFormatErrors(t *testing.T) {
	tests := []struct {
		name string
		args Args
		want error
	}{
		{"nope", nil, ErrUnknownTemplate},
		{"kick", nil, ErrMissingArg},
		{"kick", Args{"player": "two words"}, ErrInvalidArg},
		{"say", Args{"message": "line one\nop Steve"}, ErrInvalidArg},
		{"weather", Args{"type": "snow"}, ErrInvalidArg},
		{"give", Args{"player": "a", "item": "b", "count": "-1"}, ErrInvalidArg},
		{"tp", Args{"player": "a", "x": "north", "y": "1", "z": "1"}, ErrInvalidArg},
		{"title", Args{"player": "a"}, ErrMissingArg},
	}
	for _, tt := range tests {
		if _, err := Format(tt.name, tt.args); !errors.Is(err, tt.want) {
			t.Errorf("Format(%s, %v) err = %v, want %v", tt.name, tt.args, err, tt.want)
		}
	}
}

func TestTitle(t *testing.T) {
	got, err := Format("title", Args{"player": "@a", "title": `Welcome "home"`, "subtitle": "enjoy"})
	if err != nil {
		t.Fatal(err)
	}
	want := `title @a title {"text":"Welcome \"home\"","color":"gold"} {"text":"enjoy","color":"yellow"}`
	if got != want {
		t.Fatalf("got  %s\nwant %s", got, want)
	}
}

func TestEveryTemplateHasDescription(t *testing.T) {
	for _, name := range TemplateNames() {
		if Templates[name].Description == "" {
			t.Errorf("%s has no description", name)
		}
	}
}

func TestAdminSendsCommands(t *testing.T) {
	r := &recorder{reply: "ok"}
	a := NewAdmin(r)
	ctx := context.Background()

	calls := []func() (string, error){
		func() (string, error) { return a.Ban(ctx, "Steve", "") },
		func() (string, error) { return a.SaveAll(ctx, true) },
		func() (string, error) { return a.Weather(ctx, "clear", 0) },
		func() (string, error) { return a.Teleport(ctx, "Alex", 1, 64.5, -3) },
		func() (string, error) { return a.SetGameRule(ctx, "keepInventory", true) },
		func() (string, error) { return a.TimeAdd(ctx, 1000) },
		func() (string, error) { return a.Quick(ctx, "NIGHT") },
	}
	for _, call := range calls {
		if _, err := call(); err != nil {
			t.Fatal(err)
		}
	}

	want := []string{
		"ban Steve Banned by admin",
		"save-all flush",
		"weather clear 300",
		"tp Alex 1 64.5 -3",
		"gamerule keepInventory true",
		"time add 1000",
		"time set night",
	}
	if !reflect.DeepEqual(r.commands, want) {
		t.Fatalf("commands:\n%s\nwant:\n%s", strings.Join(r.commands, "\n"), strings.Join(want, "\n"))
	}

	if _, err := a.Quick(ctx, "snow"); !errors.Is(err, ErrUnknownTemplate) {
		t.Fatalf("Quick(snow) = %v", err)
	}
}

func TestAdminParses(t *testing.T) {
	ctx := context.Background()

	r := &recorder{reply: "There are 2 of a max of 20 players online: Alex, Steve"}
	online, max, err := NewAdmin(r).PlayerCount(ctx)
	if err != nil || online != 2 || max != 20 {
		t.Fatalf("PlayerCount = %d, %d, %v", online, max, err)
	}

	r = &recorder{reply: "Seed: [-4172144997902289642]"}
	seed, err := NewAdmin(r).Seed(ctx)
	if err != nil || seed != -4172144997902289642 {
		t.Fatalf("Seed = %d, %v", seed, err)
	}

	r = &recorder{err: errors.New("session has failed")}
	if _, err := NewAdmin(r).Players(ctx); err == nil {
		t.Fatal("expected runner error")
	}
}

func TestParsePlayerList(t *testing.T) {
	tests := []struct {
		in   string
		want PlayerList
	}{
		{"There are 0 of a max of 20 players online: ", PlayerList{0, 20, []string{}}},
		{"There are 2 of a max of 20 players online: Alex, Steve", PlayerList{2, 20, []string{"Alex", "Steve"}}},
		{"There are 1/10 players online:\nNotch", PlayerList{1, 10, []string{"Notch"}}},
		{"§6There are §c2§6 out of maximum §c50§6 players online.\n§6default§r: Alex, Steve",
			PlayerList{2, 50, []string{"Alex", "Steve"}}},
	}
	for _, tt := range tests {
		got, err := ParsePlayerList(tt.in)
		if err != nil {
			t.Errorf("ParsePlayerList(%q): %v", tt.in, err)
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ParsePlayerList(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}

	if _, err := ParsePlayerList("Unknown command"); err == nil {
		t.Fatal("expected error")
	}
}

func TestParseWhitelist(t *testing.T) {
	got, err := ParseWhitelist("There are no whitelisted players")
	if err != nil || len(got) != 0 {
		t.Fatalf("empty = %v, %v", got, err)
	}
	got, err = ParseWhitelist("There are 2 whitelisted player(s): alex, steve")
	if err != nil || !reflect.DeepEqual(got, []string{"alex", "steve"}) {
		t.Fatalf("got %v, %v", got, err)
	}
}

func TestStripColors(t *testing.T) {
	if got := StripColors("§aHello §lworld§r!"); got != "Hello world!" {
		t.Fatalf("got %q", got)
	}
}

func TestAffectsPlayers(t *testing.T) {
	for cmd, want := range map[string]bool{
		"kick Steve":         true,
		"/whitelist add bob": true,
		"say kick everyone":  false,
		"list":               false,
	} {
		if got := AffectsPlayers(cmd); got != want {
			t.Errorf("AffectsPlayers(%q) = %v", cmd, got)
		}
	}
}
