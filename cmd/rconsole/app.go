package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/rconsole/internal/api"
	"github.com/energizer-project/rconsole/internal/cli"
	"github.com/energizer-project/rconsole/internal/config"
	"github.com/energizer-project/rconsole/internal/connector"
	"github.com/energizer-project/rconsole/internal/db"
	"github.com/energizer-project/rconsole/internal/events"
	"github.com/energizer-project/rconsole/internal/health"
	"github.com/energizer-project/rconsole/internal/scheduler"
	"github.com/energizer-project/rconsole/internal/server"
	"github.com/energizer-project/rconsole/internal/telemetry"
	"github.com/energizer-project/rconsole/internal/util"
)

// app holds the components shared by the subcommands.
type app struct {
	cfg     *config.Config
	bus     *events.EventBus
	store   *db.Database
	manager *server.Manager

	logCloser io.Closer
}

// setupOptions controls how much of the app a subcommand needs.
type setupOptions struct {
	// interactive sends console log output to stderr and allows the
	// first run wizard.
	interactive bool
	// requireStore fails instead of running without the database.
	requireStore bool
}

// newApp loads the configuration, sets up logging and opens the database.
func newApp(so setupOptions) (*app, error) {
	// Console only until the configured logger replaces it.
	boot := util.DefaultLogConfig()
	boot.File = false
	if _, err := util.InitLogger(boot); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
	}

	if err := config.LoadDotEnv(); err != nil {
		log.Warn().Err(err).Msg("failed to load .env file")
	}

	cfg, err := config.Load(opts.configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg.ApplyEnv(nil)

	appData := cfg.GetApplicationData()
	if opts.logLevel != "" {
		appData.Logging.Level = opts.logLevel
		cfg.SetApplicationData(appData)
	}

	logCfg := appData.Logging.LogConfig()
	if so.interactive {
		logCfg.Out = os.Stderr
	}
	closer, err := util.InitLogger(logCfg)
	if err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	log.Info().
		Str("version", api.Version).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Msg("starting rconsole")

	if err := validate(cfg, so.interactive); err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, bus: events.NewEventBus(), logCloser: closer}

	dbPath := cfg.GetApplicationData().History.DatabasePath
	if dbPath == "" {
		dbPath = "rconsole.db"
	}
	store, err := db.Open(dbPath)
	switch {
	case err == nil:
		a.store = store
	case so.requireStore:
		a.close()
		return nil, err
	default:
		log.Warn().Err(err).Msg("database unavailable, history and API tokens are disabled")
	}

	var recorder server.HistoryRecorder
	if a.store != nil {
		recorder = a.store
	}
	a.manager = server.NewManager(cfg, a.bus, recorder)
	return a, nil
}

// validate logs warnings and fails on errors. On a first run in an
// interactive session the setup wizard gets a chance to fix them.
func validate(cfg *config.Config, interactive bool) error {
	result := config.Validate(cfg)
	for _, w := range result.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if result.IsValid() {
		return nil
	}
	for _, e := range result.Errors {
		log.Error().Str("field", e.Field).Msg(e.Message)
	}

	if interactive && cfg.IsFirstRun() {
		log.Info().Msg("first run detected, launching setup wizard")
		return config.RunSetupWizard(cfg, os.Stdin, os.Stdout)
	}
	return errors.New("configuration validation failed, fix the errors above or run 'rconsole setup'")
}

// The accessors below return a nil interface, not a typed nil, when the
// database is unavailable.

func (a *app) historyQuerier() cli.HistoryQuerier {
	if a.store == nil {
		return nil
	}
	return a.store
}

func (a *app) apiStore() api.Store {
	if a.store == nil {
		return nil
	}
	return a.store
}

func (a *app) historyPruner() scheduler.HistoryPruner {
	if a.store == nil {
		return nil
	}
	return a.store
}

// startServices launches the background services in wg. They stop when
// ctx is cancelled.
func (a *app) startServices(ctx context.Context, wg *sync.WaitGroup) {
	appData := a.cfg.GetApplicationData()

	webhook := connector.NewWebhookNotifier(a.cfg, a.bus)
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		webhook.Close()
	}()

	// Profiles with auto_connect
	wg.Add(1)
	go func() {
		defer wg.Done()
		n := a.manager.ConnectAll(ctx)
		log.Info().Int("connected", n).Int("profiles", len(a.manager.List())).Msg("initial connections done")
	}()

	watchdog := health.NewManager(a.cfg, a.bus, a.manager)
	watchdog.SetReconnectConfig(health.ReconnectConfigFromTimers(appData.Timers))
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Msg("starting health watchdog")
		watchdog.Start(ctx)
	}()

	sched := scheduler.NewScheduler(a.cfg, a.manager, a.historyPruner())
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Msg("starting task scheduler")
		sched.Start(ctx)
	}()

	if appData.API.Enabled {
		apiServer := api.NewServer(a.cfg, a.bus, a.manager, a.apiStore())
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Int("port", appData.API.Port).Msg("starting REST API server")
			if err := startWithRetry(ctx, "API server", apiServer.Start, 5); err != nil {
				log.Error().Err(err).Msg("API server failed after retries")
			}
		}()
	}

	mqttHandler, err := telemetry.NewMQTTHandler(a.cfg, a.bus)
	switch {
	case errors.Is(err, telemetry.ErrDisabled):
	case err != nil:
		log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
	default:
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting MQTT telemetry")
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}
}

// shutdown disconnects every session and waits for the services.
func (a *app) shutdown(cancel context.CancelFunc, wg *sync.WaitGroup) {
	log.Info().Msg("initiating graceful shutdown...")
	cancel()

	if err := a.bus.EmitSync(context.Background(), events.New(events.EventShutdown, "main", nil)); err != nil {
		log.Warn().Err(err).Msg("shutdown handler failed")
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("shutdown timed out after 30 seconds")
	}
	a.close()
}

// close releases the event bus, the database and the log file.
func (a *app) close() {
	if a.bus != nil {
		a.bus.Stop()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close database")
		}
	}
	log.Info().Msg("rconsole stopped")
	if a.logCloser != nil {
		a.logCloser.Close()
	}
}

// startWithRetry retries startFn on failure, which covers a listening
// port that is still held by a previous run.
func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if ctx.Err() != nil {
			return nil
		}
		lastErr = startFn(ctx)
		if lastErr == nil {
			return nil
		}
		if i < maxRetries {
			log.Warn().Err(lastErr).Str("component", name).Int("retry", i+1).Int("max", maxRetries).Msg("start failed, retrying in 3s")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(3 * time.Second):
			}
		}
	}
	return lastErr
}
