// Package cli implements the interactive console. Plain lines are sent to
// the active server profile as RCON commands; lines starting with a dot
// are handled locally.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/rconsole/internal/config"
	"github.com/energizer-project/rconsole/internal/db"
	"github.com/energizer-project/rconsole/internal/events"
	"github.com/energizer-project/rconsole/internal/minecraft"
	"github.com/energizer-project/rconsole/internal/server"
)

const defaultHistoryRows = 20

// HistoryQuerier reads command history. *db.Database implements it.
type HistoryQuerier interface {
	QueryHistory(f db.HistoryFilter) ([]db.HistoryEntry, error)
}

// errQuit ends the console loop.
var errQuit = errors.New("quit")

// Console is the interactive line loop.
type Console struct {
	cfg      *config.Config
	eventBus *events.EventBus
	manager  *server.Manager
	history  HistoryQuerier

	in  io.Reader
	out io.Writer

	active string
}

// NewConsole creates a console reading from in and writing to out.
// history may be nil when the database is disabled.
func NewConsole(cfg *config.Config, eventBus *events.EventBus, manager *server.Manager, history HistoryQuerier, in io.Reader, out io.Writer) *Console {
	c := &Console{
		cfg:      cfg,
		eventBus: eventBus,
		manager:  manager,
		history:  history,
		in:       in,
		out:      out,
	}
	if inst, ok := manager.Default(); ok {
		c.active = inst.Name()
	}
	return c
}

// Active returns the name of the selected server profile.
func (c *Console) Active() string {
	return c.active
}

// Run reads lines until .quit, end of input or ctx is cancelled.
func (c *Console) Run(ctx context.Context) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	fmt.Fprintln(c.out, "rconsole ready. Type .help for console commands.")
	for {
		c.prompt()

		select {
		case <-ctx.Done():
			fmt.Fprintln(c.out)
			return nil
		case err := <-readErr:
			fmt.Fprintln(c.out)
			return err
		case line := <-lines:
			err := c.Execute(ctx, line)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				fmt.Fprintf(c.out, "Error: %v\n", err)
			}
		}
	}
}

func (c *Console) prompt() {
	name := c.active
	if name == "" {
		name = "-"
	}
	fmt.Fprintf(c.out, "rconsole[%s]> ", name)
}

// Execute handles one input line.
func (c *Console) Execute(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, ".") {
		return c.runCommand(ctx, line)
	}

	fields := strings.Fields(line)
	cmd := strings.ToLower(fields[0])
	args := fields[1:]

	switch cmd {
	case ".help", ".h", ".?":
		c.printHelp()
	case ".servers", ".ls":
		c.printServers()
	case ".use":
		return c.cmdUse(args)
	case ".connect":
		return c.cmdConnect(ctx)
	case ".disconnect":
		return c.cmdDisconnect()
	case ".reconnect":
		return c.cmdReconnect(ctx)
	case ".status":
		return c.printStatus()
	case ".players":
		return c.printPlayers(ctx)
	case ".history":
		return c.printHistory(args)
	case ".do":
		return c.cmdDo(ctx, args)
	case ".quick":
		return c.cmdQuick(ctx, args)
	case ".commands":
		c.printCommands()
	case ".quit", ".exit", ".q":
		fmt.Fprintln(c.out, "Bye.")
		if c.eventBus != nil {
			c.eventBus.Emit(ctx, events.New(events.EventShutdown, "cli", nil))
		}
		return errQuit
	default:
		return fmt.Errorf("unknown console command %q, type .help", cmd)
	}
	return nil
}

func (c *Console) instance() (*server.Instance, error) {
	if c.active == "" {
		return nil, errors.New("no server selected, use .use <name>")
	}
	return c.manager.Lookup(c.active)
}

func (c *Console) runCommand(ctx context.Context, command string) error {
	inst, err := c.instance()
	if err != nil {
		return err
	}
	resp, err := inst.Run(ctx, command, db.SourceCLI)
	if err != nil {
		if !inst.IsConnected() {
			return fmt.Errorf("%w (use .connect)", err)
		}
		return err
	}
	c.printResponse(resp)
	return nil
}

func (c *Console) printResponse(resp string) {
	resp = minecraft.StripColors(resp)
	if strings.TrimSpace(resp) == "" {
		fmt.Fprintln(c.out, "(no response)")
		return
	}
	fmt.Fprintln(c.out, strings.TrimRight(resp, "\n"))
}

func (c *Console) printHelp() {
	fmt.Fprint(c.out, `
Console commands:
  .servers               list server profiles
  .use <name>            select the active server
  .connect               connect the active server
  .disconnect            disconnect the active server
  .reconnect             drop and reopen the connection
  .status                show connection details
  .players               list online players
  .history [n]           show the last n commands (default 20)
  .do <action> [args]    run a command template, args as key=value or in order
  .quick <name>          run a quick command
  .commands              list templates and quick commands
  .quit                  exit

Anything else is sent to the active server as a console command.

`)
}

func (c *Console) cmdUse(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: .use <name>")
	}
	inst, err := c.manager.Lookup(args[0])
	if err != nil {
		return err
	}
	c.active = inst.Name()
	state := "not connected"
	if inst.IsConnected() {
		state = "connected"
	}
	fmt.Fprintf(c.out, "Using %s (%s, %s)\n", inst.Name(), inst.Addr(), state)
	return nil
}

func (c *Console) cmdConnect(ctx context.Context) error {
	inst, err := c.instance()
	if err != nil {
		return err
	}
	if inst.IsConnected() {
		fmt.Fprintf(c.out, "%s is already connected\n", inst.Name())
		return nil
	}
	if err := inst.Connect(ctx); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Connected to %s (%s)\n", inst.Name(), inst.Addr())
	return nil
}

func (c *Console) cmdDisconnect() error {
	inst, err := c.instance()
	if err != nil {
		return err
	}
	if err := inst.Disconnect(); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Disconnected from %s\n", inst.Name())
	return nil
}

func (c *Console) cmdReconnect(ctx context.Context) error {
	inst, err := c.instance()
	if err != nil {
		return err
	}
	if err := inst.Reconnect(ctx); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Reconnected to %s (%s)\n", inst.Name(), inst.Addr())
	return nil
}

func (c *Console) printHistory(args []string) error {
	if c.history == nil {
		return errors.New("command history is disabled")
	}
	limit := defaultHistoryRows
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid count %q", args[0])
		}
		limit = n
	}

	entries, err := c.history.QueryHistory(db.HistoryFilter{Server: c.active, Limit: limit})
	if err != nil {
		log.Error().Err(err).Msg("CLI: history query failed")
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(c.out, "No commands recorded yet.")
		return nil
	}
	c.renderHistory(entries)
	return nil
}

func (c *Console) cmdDo(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: .do <action> [args], see .commands")
	}
	inst, err := c.instance()
	if err != nil {
		return err
	}
	name := strings.ToLower(args[0])
	tmpl, ok := minecraft.Templates[name]
	if !ok {
		return fmt.Errorf("%w: %s", minecraft.ErrUnknownTemplate, name)
	}

	resp, err := inst.Admin(db.SourceCLI).Do(ctx, name, ParseArgs(tmpl, args[1:]))
	if err != nil {
		return err
	}
	c.printResponse(resp)
	return nil
}

func (c *Console) cmdQuick(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: .quick <%s>", strings.Join(minecraft.QuickNames(), "|"))
	}
	inst, err := c.instance()
	if err != nil {
		return err
	}
	resp, err := inst.Admin(db.SourceCLI).Quick(ctx, args[0])
	if err != nil {
		return err
	}
	c.printResponse(resp)
	return nil
}

// ParseArgs maps console words onto the placeholders of t. Words of the
// form key=value set that key. The others fill the remaining placeholders
// in order, and the last placeholder takes the rest of the line, so
// ".do say hello there" sends the whole message.
func ParseArgs(t minecraft.Template, words []string) minecraft.Args {
	args := minecraft.Args{}
	var positional []string
	for _, w := range words {
		if k, v, ok := strings.Cut(w, "="); ok && k != "" && !strings.ContainsAny(k, " \t") {
			args[k] = v
			continue
		}
		positional = append(positional, w)
	}

	var free []string
	for _, p := range t.Placeholders() {
		if _, set := args[p]; !set {
			free = append(free, p)
		}
	}
	for i, p := range free {
		if i >= len(positional) {
			break
		}
		if i == len(free)-1 {
			args[p] = strings.Join(positional[i:], " ")
			break
		}
		args[p] = positional[i]
	}
	return args
}
