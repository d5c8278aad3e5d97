// Package scheduler runs the periodic background tasks: player list
// polling and the daily command history cleanup.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/rconsole/internal/config"
	"github.com/energizer-project/rconsole/internal/server"
)

// pollTimeout bounds a single "list" poll.
const pollTimeout = 10 * time.Second

// HistoryPruner deletes history older than a cutoff. *db.Database
// implements it.
type HistoryPruner interface {
	PruneHistory(cutoff time.Time) (int64, error)
}

// Scheduler manages periodic background tasks.
type Scheduler struct {
	cfg       *config.Config
	serverMgr *server.Manager
	history   HistoryPruner
}

// NewScheduler creates a new task scheduler. history may be nil when
// command history is disabled.
func NewScheduler(cfg *config.Config, serverMgr *server.Manager, history HistoryPruner) *Scheduler {
	return &Scheduler{
		cfg:       cfg,
		serverMgr: serverMgr,
		history:   history,
	}
}

// Start runs all scheduled tasks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	log.Info().Msg("scheduler started")
	app := s.cfg.GetApplicationData()

	if app.Timers.PlayerPollInterval > 0 {
		go s.runPlayerPollLoop(ctx, time.Duration(app.Timers.PlayerPollInterval)*time.Second)
	}
	if s.history != nil && app.History.Enabled && app.Timers.HistoryRetentionDays > 0 {
		go s.runHistoryCleanupLoop(ctx)
	}

	<-ctx.Done()
	log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) runPlayerPollLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.PollPlayers(ctx)
		}
	}
}

// PollPlayers refreshes the player list of every connected profile with
// poll_players enabled and returns how many polls succeeded.
func (s *Scheduler) PollPlayers(ctx context.Context) int {
	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for _, inst := range s.serverMgr.List() {
		if !inst.Profile().PollPlayers || !inst.IsConnected() {
			continue
		}
		wg.Add(1)
		go func(inst *server.Instance) {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, pollTimeout)
			defer cancel()

			list, err := inst.RefreshPlayers(pctx)
			if err != nil {
				log.Debug().Err(err).Str("server", inst.Name()).Msg("player poll failed")
				return
			}
			log.Trace().Str("server", inst.Name()).Int("online", list.Online).Msg("players polled")
			mu.Lock()
			ok++
			mu.Unlock()
		}(inst)
	}
	wg.Wait()
	return ok
}

// runHistoryCleanupLoop prunes history once a day at the configured time.
func (s *Scheduler) runHistoryCleanupLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		nextRun := NextRun(s.cfg.GetApplicationData().Timers.HistoryCleanupTime, time.Now())
		sleepDuration := time.Until(nextRun)
		if sleepDuration <= 0 {
			sleepDuration = 24 * time.Hour
		}

		log.Info().
			Time("next_run", nextRun).
			Dur("sleep", sleepDuration).
			Msg("history cleanup scheduled")

		select {
		case <-ctx.Done():
			return
		case <-time.After(sleepDuration):
			if _, err := s.CleanupHistory(time.Now()); err != nil {
				log.Warn().Err(err).Msg("history cleanup failed")
			}
		}
	}
}

// CleanupHistory removes history entries older than the retention period
// measured from now.
func (s *Scheduler) CleanupHistory(now time.Time) (int64, error) {
	if s.history == nil {
		return 0, nil
	}
	days := s.cfg.GetApplicationData().Timers.HistoryRetentionDays
	if days <= 0 {
		return 0, nil
	}
	cutoff := now.Add(-time.Duration(days) * 24 * time.Hour)

	log.Info().Int("retention_days", days).Time("cutoff", cutoff).Msg("running history cleanup")
	deleted, err := s.history.PruneHistory(cutoff)
	if err != nil {
		return 0, err
	}
	log.Info().Int64("deleted", deleted).Msg("history cleanup completed")
	return deleted, nil
}

// NextRun returns the next time after now at the "HH:MM" clock time in
// now's location. An invalid clock falls back to 04:00.
func NextRun(clock string, now time.Time) time.Time {
	offset, err := config.ParseClock(clock)
	if err != nil {
		offset = 4 * time.Hour
	}

	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	next := midnight.Add(offset)
	if !next.After(now) {
		next = time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location()).Add(offset)
	}
	return next
}
