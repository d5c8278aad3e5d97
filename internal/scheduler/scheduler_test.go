package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/energizer-project/rconsole/internal/config"
	"github.com/energizer-project/rconsole/internal/mockserver"
	"github.com/energizer-project/rconsole/internal/server"
)

func TestNextRun(t *testing.T) {
	loc := time.UTC
	now := time.Date(2024, 3, 10, 12, 30, 0, 0, loc)

	tests := []struct {
		clock string
		want  time.Time
	}{
		{"13:00", time.Date(2024, 3, 10, 13, 0, 0, 0, loc)},
		{"04:00", time.Date(2024, 3, 11, 4, 0, 0, 0, loc)},
		{"12:30", time.Date(2024, 3, 11, 12, 30, 0, 0, loc)},
		{"garbage", time.Date(2024, 3, 11, 4, 0, 0, 0, loc)},
	}
	for _, tt := range tests {
		if got := NextRun(tt.clock, now); !got.Equal(tt.want) {
			t.Errorf("NextRun(%q) = %s, want %s", tt.clock, got, tt.want)
		}
	}
}

type fakePruner struct {
	cutoff time.Time
}

func (f *fakePruner) PruneHistory(cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return 3, nil
}

func TestCleanupHistory(t *testing.T) {
	cfg := config.DefaultConfig()
	pruner := &fakePruner{}
	s := NewScheduler(cfg, server.NewManager(cfg, nil, nil), pruner)

	now := time.Date(2024, 3, 31, 4, 0, 0, 0, time.UTC)
	n, err := s.CleanupHistory(now)
	if err != nil {
		t.Fatalf("CleanupHistory: %s", err)
	}
	if n != 3 {
		t.Errorf("deleted = %d, want 3", n)
	}
	if want := time.Date(2024, 3, 1, 4, 0, 0, 0, time.UTC); !pruner.cutoff.Equal(want) {
		t.Errorf("cutoff = %s, want %s", pruner.cutoff, want)
	}

	if n, err := NewScheduler(cfg, nil, nil).CleanupHistory(now); n != 0 || err != nil {
		t.Errorf("cleanup without history = %d, %v", n, err)
	}
}

func TestPollPlayers(t *testing.T) {
	world := mockserver.NewWorld()
	world.Join("steve")
	srv := mockserver.New(mockserver.Options{Password: "pw", Handler: world.Handle})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("failed to start mock server: %s", err)
	}
	defer srv.Close()

	cfg := config.DefaultConfig()
	cfg.RemoveServer("local")
	cfg.UpsertServer(config.ServerProfile{Name: "polled", Host: srv.Host(), Port: srv.Port(), Password: "pw", PollPlayers: true})
	cfg.UpsertServer(config.ServerProfile{Name: "quiet", Host: srv.Host(), Port: srv.Port(), Password: "pw"})

	mgr := server.NewManager(cfg, nil, nil)
	defer mgr.DisconnectAll()
	for _, inst := range mgr.List() {
		if err := inst.Connect(ctx); err != nil {
			t.Fatalf("Connect %s: %s", inst.Name(), err)
		}
	}

	s := NewScheduler(cfg, mgr, nil)
	if n := s.PollPlayers(ctx); n != 1 {
		t.Fatalf("polled %d profiles, want 1", n)
	}

	polled, _ := mgr.Get("polled")
	if players := polled.State().Players(); len(players) != 1 || players[0].Name != "steve" {
		t.Errorf("players = %+v", players)
	}
	quiet, _ := mgr.Get("quiet")
	if players := quiet.State().Players(); len(players) != 0 {
		t.Errorf("quiet profile should not be polled, got %+v", players)
	}
}
