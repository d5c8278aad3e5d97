package db

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	d, err := Open(filepath.Join(t.TempDir(), "data", "rconsole.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rconsole.db")
	d, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.RecordCommand(HistoryEntry{Server: "s", Command: "list"}); err != nil {
		t.Fatal(err)
	}
	d.Close()

	d, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer d.Close()
	if n, err := d.CountCommands(""); err != nil || n != 1 {
		t.Fatalf("CountCommands = %d, %v", n, err)
	}
}

func TestHistory(t *testing.T) {
	d := openTestDB(t)
	base := time.Now().Add(-time.Hour).UTC()

	for i, cmd := range []string{"list", "seed", "time set day"} {
		_, err := d.RecordCommand(HistoryEntry{
			Server:    "survival",
			Command:   cmd,
			Response:  "ok",
			Source:    SourceCLI,
			Duration:  15 * time.Millisecond,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	failed, err := d.RecordCommand(HistoryEntry{
		Server:  "creative",
		Command: "stop",
		Error:   "session has failed",
		Source:  SourceAPI,
	})
	if err != nil {
		t.Fatal(err)
	}
	if failed.ID == "" || failed.CreatedAt.IsZero() {
		t.Fatalf("defaults not filled: %+v", failed)
	}

	got, err := d.RecentCommands("survival", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Command != "time set day" || got[1].Command != "seed" {
		t.Fatalf("RecentCommands = %+v", got)
	}
	if got[0].Duration != 15*time.Millisecond || got[0].Source != SourceCLI {
		t.Fatalf("entry = %+v", got[0])
	}

	all, err := d.RecentCommands("", 0)
	if err != nil || len(all) != 4 {
		t.Fatalf("all = %d, %v", len(all), err)
	}
	if all[0].Server != "creative" || !all[0].Failed() {
		t.Fatalf("newest = %+v", all[0])
	}

	onlyFailed, err := d.QueryHistory(HistoryFilter{OnlyFailed: true})
	if err != nil || len(onlyFailed) != 1 {
		t.Fatalf("failed = %+v, %v", onlyFailed, err)
	}
	fromAPI, err := d.QueryHistory(HistoryFilter{Source: SourceAPI})
	if err != nil || len(fromAPI) != 1 {
		t.Fatalf("api = %+v, %v", fromAPI, err)
	}

	removed, err := d.PruneHistory(base.Add(90 * time.Second))
	if err != nil || removed != 2 {
		t.Fatalf("PruneHistory = %d, %v", removed, err)
	}
	if n, _ := d.CountCommands("survival"); n != 1 {
		t.Fatalf("survival left = %d", n)
	}
}

func TestTokens(t *testing.T) {
	d := openTestDB(t)

	plain, tok, err := d.CreateToken("ci", PermControl)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}
	if !strings.HasPrefix(plain, "rcs_"+tok.ID+"_") {
		t.Fatalf("token = %q", plain)
	}

	if _, _, err := d.CreateToken("ci", PermMonitor); !errors.Is(err, ErrTokenExists) {
		t.Fatalf("duplicate err = %v", err)
	}

	got, err := d.VerifyToken(plain)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if got.Name != "ci" || got.Permission != PermControl || got.LastUsed.IsZero() {
		t.Fatalf("token = %+v", got)
	}

	for _, bad := range []string{"", "nope", "rcs_" + tok.ID + "_wrong", "rcs_missing_abc", plain + "x"} {
		if _, err := d.VerifyToken(bad); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("VerifyToken(%q) = %v", bad, err)
		}
	}

	list, err := d.ListTokens()
	if err != nil || len(list) != 1 || list[0].LastUsed.IsZero() {
		t.Fatalf("ListTokens = %+v, %v", list, err)
	}

	if err := d.RevokeToken("ci"); err != nil {
		t.Fatal(err)
	}
	if err := d.RevokeToken("ci"); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("second revoke = %v", err)
	}
	if _, err := d.VerifyToken(plain); !errors.Is(err, ErrInvalidToken) {
		t.Fatal("revoked token still valid")
	}
}

func TestPermissions(t *testing.T) {
	if !PermConfigure.Allows(PermMonitor) || !PermControl.Allows(PermControl) {
		t.Fatal("higher tiers must include lower ones")
	}
	if PermMonitor.Allows(PermControl) || Permission("").Allows(PermMonitor) {
		t.Fatal("lower tiers must not grant higher ones")
	}
	if p, err := ParsePermission(" Control "); err != nil || p != PermControl {
		t.Fatalf("ParsePermission = %v, %v", p, err)
	}
	if _, err := ParsePermission("admin"); err == nil {
		t.Fatal("expected error")
	}
}
