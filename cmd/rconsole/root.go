package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/energizer-project/rconsole/internal/api"
	"github.com/energizer-project/rconsole/internal/config"
)

const banner = `
  _ __ ___ ___  _ __  ___  ___ | | ___
 | '__/ __/ _ \| '_ \/ __|/ _ \| |/ _ \
 | | | (_| (_) | | | \__ \ (_) | |  __/
 |_|  \___\___/|_| |_|___/\___/|_|\___|  v%s
`

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	configDir string
	logLevel  string
}

var opts rootOptions

var rootCmd = &cobra.Command{
	Use:   "rconsole",
	Short: "Remote console client for game servers",
	Long: "rconsole keeps authenticated RCON sessions to one or more game servers\n" +
		"and drives them from an interactive console, a REST API and MQTT.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runConsole,
}

func init() {
	rootCmd.Version = api.Version
	rootCmd.PersistentFlags().StringVar(&opts.configDir, "config-dir", config.DefaultConfigDir, "directory holding config.json or config.yaml")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the configured log level (trace, debug, info, warn, error)")

	rootCmd.AddCommand(consoleCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(mockCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(setupCmd)
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
