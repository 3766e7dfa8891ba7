package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "cmcp",
	Short: "Code-mode MCP proxy",
	Long: `cmcp aggregates one or more upstream MCP servers and re-exposes them
to a single client as two meta-tools, search and execute.

Client code is transpiled from TypeScript and run inside an embedded
sandbox with access to the merged tool catalog and a dynamic per-server
namespace, so a client can filter, chain, and parallelize tool calls in
ordinary code instead of one-tool-at-a-time RPC turns.`,
}

var configPath string

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "explicit config file (overrides user/project config)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command, exiting the process on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
