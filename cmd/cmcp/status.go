package main

import (
	"context"
	"sort"

	"github.com/spf13/cobra"

	"github.com/cmcp/cmcp/pkg/config"
	"github.com/cmcp/cmcp/pkg/engine"
	"github.com/cmcp/cmcp/pkg/logging"
	"github.com/cmcp/cmcp/pkg/output"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Connect to every configured upstream and print its tool count",
	Long: `Loads the merged configuration, connects to every upstream server
(the same partial-success connect Engine.New performs on serve), and prints
a table of server name, transport, connection state, and tool count.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus()
	},
}

func runStatus() error {
	printer := output.New()

	cfg, err := config.LoadMerged(configPath)
	if err != nil {
		return err
	}
	if len(cfg.Servers) == 0 {
		printer.Info("no servers configured")
		return nil
	}

	eng := engine.New(context.Background(), cfg, logging.NewDiscardLogger())
	defer eng.Shutdown(context.Background())

	connected := make(map[string]bool)
	for _, name := range eng.Servers() {
		connected[name] = true
	}

	names := make([]string, 0, len(cfg.Servers))
	for name := range cfg.Servers {
		names = append(names, name)
	}
	sort.Strings(names)

	var rows []output.ServerStatus
	for _, name := range names {
		state := "failed"
		toolCount := 0
		if connected[name] {
			state = "connected"
			toolCount = len(eng.ToolsByServer(name))
		}
		rows = append(rows, output.ServerStatus{
			Name:      name,
			Transport: string(cfg.Servers[name].Transport),
			State:     state,
			ToolCount: toolCount,
		})
	}

	printer.Summary(rows)
	printer.Info(eng.Summary())
	return nil
}
