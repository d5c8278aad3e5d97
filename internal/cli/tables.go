package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/energizer-project/rconsole/internal/db"
	"github.com/energizer-project/rconsole/internal/minecraft"
	"github.com/energizer-project/rconsole/internal/server"
)

func (c *Console) newTable(header ...string) *tablewriter.Table {
	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader(header)
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	return tw
}

// printServers lists every profile. The active one is marked with '*'.
func (c *Console) printServers() {
	instances := c.manager.List()
	if len(instances) == 0 {
		fmt.Fprintln(c.out, "No server profiles configured.")
		return
	}

	tw := c.newTable("", "Name", "Address", "State", "Players", "Auto", "Last Error")
	for _, inst := range instances {
		st := inst.Status()
		mark := ""
		if strings.EqualFold(st.Name, c.active) {
			mark = "*"
		}
		players := "-"
		if st.Snapshot.LastPoll != nil {
			players = fmt.Sprintf("%d/%d", st.Snapshot.PlayerCount, st.Snapshot.MaxPlayers)
		}
		tw.Append([]string{
			mark,
			st.Name,
			st.Addr,
			st.State.String(),
			players,
			autoFlags(st),
			st.Snapshot.LastError,
		})
	}
	tw.Render()
}

func autoFlags(st server.Status) string {
	var flags []string
	if st.AutoConnect {
		flags = append(flags, "connect")
	}
	if st.AutoReconnect {
		flags = append(flags, "reconnect")
	}
	if st.PollPlayers {
		flags = append(flags, "poll")
	}
	if len(flags) == 0 {
		return "-"
	}
	return strings.Join(flags, ",")
}

func (c *Console) printStatus() error {
	inst, err := c.instance()
	if err != nil {
		return err
	}
	st := inst.Status()
	snap := st.Snapshot

	fmt.Fprintf(c.out, "\n  Server:        %s\n", st.Name)
	fmt.Fprintf(c.out, "  Address:       %s\n", st.Addr)
	fmt.Fprintf(c.out, "  State:         %s\n", st.State)
	fmt.Fprintf(c.out, "  TLS:           %v\n", st.TLS)
	if snap.ConnectedSince != nil {
		fmt.Fprintf(c.out, "  Connected for: %s\n", time.Since(*snap.ConnectedSince).Round(time.Second))
	}
	if st.LastActivity != nil {
		fmt.Fprintf(c.out, "  Last activity: %s\n", st.LastActivity.Format(time.RFC3339))
	}
	if st.Pending != nil {
		fmt.Fprintf(c.out, "  In flight:     request %d (%s)\n", st.Pending.ID, st.Pending.State)
	}
	fmt.Fprintf(c.out, "  Commands:      %d run, %d failed\n", snap.CommandsRun, snap.CommandsFailed)
	fmt.Fprintf(c.out, "  Reconnects:    %d\n", snap.Reconnects)
	if snap.LastError != "" {
		fmt.Fprintf(c.out, "  Last error:    %s\n", snap.LastError)
	}
	fmt.Fprintln(c.out)
	return nil
}

// printPlayers refreshes the player list when connected and falls back
// to the last poll otherwise.
func (c *Console) printPlayers(ctx context.Context) error {
	inst, err := c.instance()
	if err != nil {
		return err
	}
	if inst.IsConnected() {
		if _, err := inst.RefreshPlayers(ctx); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(c.out, "Not connected, showing the last poll.")
	}

	snap := inst.State().Snapshot()
	fmt.Fprintf(c.out, "%d of %d players online\n", snap.PlayerCount, snap.MaxPlayers)
	if len(snap.Players) == 0 {
		return nil
	}
	tw := c.newTable("Player", "Seen Since")
	for _, p := range snap.Players {
		tw.Append([]string{p.Name, p.JoinedAt.Format("15:04:05")})
	}
	tw.Render()
	return nil
}

func (c *Console) renderHistory(entries []db.HistoryEntry) {
	tw := c.newTable("Time", "Source", "Command", "Result", "Took")
	for _, e := range entries {
		result := "ok"
		if e.Failed() {
			result = e.Error
		}
		tw.Append([]string{
			e.CreatedAt.Local().Format("01-02 15:04:05"),
			e.Source,
			e.Command,
			result,
			fmt.Sprintf("%dms", e.Duration.Milliseconds()),
		})
	}
	tw.Render()
}

func (c *Console) printCommands() {
	tw := c.newTable("Action", "Usage", "Description")
	for _, name := range minecraft.TemplateNames() {
		t := minecraft.Templates[name]
		tw.Append([]string{t.Name, t.Pattern, t.Description})
	}
	tw.Render()
	fmt.Fprintf(c.out, "Quick commands: %s\n", strings.Join(minecraft.QuickNames(), ", "))
}
