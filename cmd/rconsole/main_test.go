package main

import (
	"context"
	"errors"
	"testing"
)

func TestStartWithRetry(t *testing.T) {
	calls := 0
	err := startWithRetry(context.Background(), "test", func(context.Context) error {
		calls++
		return nil
	}, 3)
	if err != nil || calls != 1 {
		t.Errorf("success: err=%v calls=%d", err, calls)
	}

	ctx, cancel := context.WithCancel(context.Background())
	calls = 0
	err = startWithRetry(ctx, "test", func(context.Context) error {
		calls++
		cancel()
		return errors.New("address already in use")
	}, 3)
	if err != nil || calls != 1 {
		t.Errorf("cancelled: err=%v calls=%d", err, calls)
	}
}

func TestCommandTree(t *testing.T) {
	for _, name := range []string{"console", "serve", "exec", "mock", "token", "setup"} {
		if cmd, _, err := rootCmd.Find([]string{name}); err != nil || cmd.Name() != name {
			t.Errorf("subcommand %s not registered (%v)", name, err)
		}
	}
	for _, name := range []string{"create", "list", "revoke"} {
		if cmd, _, err := rootCmd.Find([]string{"token", name}); err != nil || cmd.Name() != name {
			t.Errorf("token %s not registered (%v)", name, err)
		}
	}
	for _, flag := range []string{"config-dir", "log-level"} {
		if rootCmd.PersistentFlags().Lookup(flag) == nil {
			t.Errorf("missing persistent flag --%s", flag)
		}
	}
	if execCmd.Flags().Lookup("server") == nil {
		t.Error("exec is missing --server")
	}
}
