package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/energizer-project/rconsole/internal/api"
	"github.com/energizer-project/rconsole/internal/cli"
	"github.com/energizer-project/rconsole/internal/config"
	"github.com/energizer-project/rconsole/internal/db"
	"github.com/energizer-project/rconsole/internal/events"
	"github.com/energizer-project/rconsole/internal/minecraft"
	"github.com/energizer-project/rconsole/internal/mockserver"
	"github.com/energizer-project/rconsole/internal/rcon"
	"github.com/energizer-project/rconsole/internal/util"
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Interactive console with the background services (default)",
	Args:  cobra.NoArgs,
	RunE:  runConsole,
}

func runConsole(cmd *cobra.Command, _ []string) error {
	fmt.Fprintf(cmd.ErrOrStderr(), banner, api.Version)
	a, err := newApp(setupOptions{interactive: true})
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var wg sync.WaitGroup
	a.startServices(ctx, &wg)

	console := cli.NewConsole(a.cfg, a.bus, a.manager, a.historyQuerier(), os.Stdin, os.Stdout)
	if err := console.Run(ctx); err != nil {
		log.Warn().Err(err).Msg("console input failed")
	}

	a.shutdown(cancel, &wg)
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API, MQTT, scheduler and watchdog without a console",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(setupOptions{})
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// A shutdown requested over the event bus ends the process too.
		stopRequested := make(chan struct{})
		var once sync.Once
		a.bus.Subscribe(events.EventShutdown, "main.serve", func(context.Context, events.Event) error {
			once.Do(func() { close(stopRequested) })
			return nil
		})

		var wg sync.WaitGroup
		a.startServices(ctx, &wg)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-sigCh:
			log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		case <-stopRequested:
			log.Info().Msg("shutdown requested")
		}

		a.shutdown(cancel, &wg)
		return nil
	},
}

var execServer string

var execCmd = &cobra.Command{
	Use:   "exec [--server name] <command...>",
	Short: "Run one command and print the response",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(setupOptions{})
		if err != nil {
			return err
		}
		defer a.close()

		inst, ok := a.manager.Default()
		if execServer != "" {
			inst, err = a.manager.Lookup(execServer)
			if err != nil {
				return err
			}
			ok = true
		}
		if !ok {
			return fmt.Errorf("no server profile configured")
		}

		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		if err := inst.Connect(ctx); err != nil {
			if ae, isAuth := rcon.AsAuthError(err); isAuth && ae.Kind == rcon.AuthRejected {
				return fmt.Errorf("%s rejected the password: %w", inst.Name(), err)
			}
			return err
		}
		defer inst.Disconnect()

		resp, err := inst.Run(ctx, strings.Join(args, " "), db.SourceCLI)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), strings.TrimRight(minecraft.StripColors(resp), "\n"))
		return nil
	},
}

var mockOpts struct {
	addr     string
	port     int
	password string
	source   bool
	players  []string
}

var mockCmd = &cobra.Command{
	Use:   "mock",
	Short: "Run a simulated RCON server for testing",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		level := opts.logLevel
		if level == "" {
			level = "info"
		}
		lc := config.LoggingConfig{Level: level}.LogConfig()
		if _, err := util.InitLogger(lc); err != nil {
			return err
		}

		world := mockserver.NewWorld()
		world.Join(mockOpts.players...)

		mo := mockserver.Options{
			Addr:     fmt.Sprintf("%s:%d", mockOpts.addr, mockOpts.port),
			Password: mockOpts.password,
			Handler:  world.Handle,
		}
		if mockOpts.source {
			mo.Probe = mockserver.ProbeSource
			mo.SourceAuth = true
		}
		srv := mockserver.New(mo)

		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		if err := srv.Start(ctx); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "mock RCON server listening on %s (password %q)\n", srv.Addr(), mockOpts.password)

		<-ctx.Done()
		if err := srv.Close(); err != nil {
			return err
		}
		log.Info().
			Int64("packets_received", srv.PacketsReceived()).
			Int64("packets_sent", srv.PacketsSent()).
			Msg("mock server stopped")
		return nil
	},
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Run the configuration wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := config.LoadDotEnv(); err != nil {
			log.Warn().Err(err).Msg("failed to load .env file")
		}
		cfg, err := config.Load(opts.configDir)
		if err != nil {
			return err
		}
		return config.RunSetupWizard(cfg, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func init() {
	execCmd.Flags().StringVarP(&execServer, "server", "s", "", "profile to run the command on (default profile when empty)")
	// Flags after the first argument belong to the command text.
	execCmd.Flags().SetInterspersed(false)

	mockCmd.Flags().StringVar(&mockOpts.addr, "addr", "127.0.0.1", "listen address")
	mockCmd.Flags().IntVarP(&mockOpts.port, "port", "p", rcon.DefaultPort, "listen port")
	mockCmd.Flags().StringVar(&mockOpts.password, "password", "secret", "RCON password")
	mockCmd.Flags().BoolVar(&mockOpts.source, "source", false, "answer like a Source engine server")
	mockCmd.Flags().StringSliceVar(&mockOpts.players, "players", []string{"Alex", "Steve"}, "players online at start")
}
