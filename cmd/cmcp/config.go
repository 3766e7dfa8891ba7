package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cmcp/cmcp/pkg/config"
	"github.com/cmcp/cmcp/pkg/output"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage upstream server configuration",
}

var configProject bool

func init() {
	configCmd.PersistentFlags().BoolVar(&configProject, "project", false, "operate on the project-local config instead of the user-global one")
	configCmd.AddCommand(configAddCmd)
	configCmd.AddCommand(configRemoveCmd)
	configCmd.AddCommand(configShowCmd)
}

// targetPath resolves which config file config add/remove/show operate on.
// --config always wins; otherwise --project selects the project-local
// override, and the default is the user-global file.
func targetPath() (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	if configProject {
		return config.ProjectConfigPath()
	}
	return config.UserConfigPath()
}

var (
	addTransport string
	addURL       string
	addAuth      string
	addHeaders   []string
	addCommand   string
	addArgs      []string
	addEnv       []string
)

var configAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add or replace an upstream server entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConfigAdd(args[0])
	},
}

func init() {
	configAddCmd.Flags().StringVar(&addTransport, "transport", "", "http, sse, or stdio")
	configAddCmd.Flags().StringVar(&addURL, "url", "", "upstream URL (http, sse)")
	configAddCmd.Flags().StringVar(&addAuth, "auth", "", "bearer token, or env:VARNAME")
	configAddCmd.Flags().StringArrayVar(&addHeaders, "header", nil, "extra HTTP header as key=value (repeatable)")
	configAddCmd.Flags().StringVar(&addCommand, "command", "", "command to launch (stdio)")
	configAddCmd.Flags().StringArrayVar(&addArgs, "arg", nil, "command argument (repeatable, stdio)")
	configAddCmd.Flags().StringArrayVar(&addEnv, "env", nil, "environment variable as key=value (repeatable, stdio)")
}

func runConfigAdd(name string) error {
	path, err := targetPath()
	if err != nil {
		return err
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	headers, err := parseKeyValues(addHeaders)
	if err != nil {
		return fmt.Errorf("--header: %w", err)
	}
	env, err := parseKeyValues(addEnv)
	if err != nil {
		return fmt.Errorf("--env: %w", err)
	}

	sc := config.ServerConfig{
		Transport: config.Transport(addTransport),
		URL:       addURL,
		Auth:      addAuth,
		Headers:   headers,
		Command:   addCommand,
		Args:      addArgs,
		Env:       env,
	}
	if err := sc.Validate(name); err != nil {
		return err
	}

	cfg.AddServer(name, sc)
	if err := config.Save(path, cfg); err != nil {
		return err
	}

	output.New().Info("added server", "name", name, "path", path)
	return nil
}

var configRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove an upstream server entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConfigRemove(args[0])
	},
}

func runConfigRemove(name string) error {
	path, err := targetPath()
	if err != nil {
		return err
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	if !cfg.RemoveServer(name) {
		return fmt.Errorf("no such server %q in %s", name, path)
	}

	if err := config.Save(path, cfg); err != nil {
		return err
	}

	output.New().Info("removed server", "name", name, "path", path)
	return nil
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the merged user+project configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConfigShow()
	},
}

func runConfigShow() error {
	cfg, err := config.LoadMerged(configPath)
	if err != nil {
		return err
	}

	printer := output.New()
	if len(cfg.Servers) == 0 {
		printer.Info("no servers configured")
		return nil
	}

	names := make([]string, 0, len(cfg.Servers))
	for name := range cfg.Servers {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([]output.ServerStatus, 0, len(names))
	for _, name := range names {
		rows = append(rows, output.ServerStatus{Name: name, Transport: string(cfg.Servers[name].Transport), State: "configured"})
	}
	printer.Summary(rows)
	return nil
}

// parseKeyValues turns ["k=v", "k2=v2"] into a map, rejecting any entry
// without an "=". The key ends at the first "="; the rest is the value.
func parseKeyValues(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("expected key=value, got %q", p)
		}
		out[k] = v
	}
	return out, nil
}
