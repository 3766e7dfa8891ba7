package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cmcp/cmcp/pkg/config"
	"github.com/cmcp/cmcp/pkg/output"
	"github.com/cmcp/cmcp/pkg/reload"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live-watch the config file for changes (diagnostic only)",
	Long: `Watches one config file (the --config path if given, otherwise the
user-global file) and prints a line whenever it changes; the project-local
file is not watched. This is a diagnostic convenience, not the
mechanism the running proxy uses to pick up edits — a live "cmcp serve"
reloads on its own, on every search/execute call, by comparing file
modification times.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWatch()
	},
}

func runWatch() error {
	printer := output.New()

	path := configPath
	if path == "" {
		userPath, err := config.UserConfigPath()
		if err != nil {
			return err
		}
		path = userPath
	}

	watcher := reload.NewWatcher(path, func() error {
		printer.Info("config changed", "path", path)
		return nil
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	printer.Info("watching for config changes", "path", path)
	err := watcher.Watch(ctx)
	if err == context.Canceled {
		return nil
	}
	return err
}
