package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

const (
	configDirName  = "code-mode-mcp"
	configFileName = "config.toml"
	projectFile    = ".cmcp.toml"
)

// Load reads and parses a single TOML config file. A missing file is not an
// error; it yields a zero-value Config so callers can treat "absent" and
// "empty" uniformly.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("reading config from %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config from %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save serializes cfg as TOML, creating parent directories as needed.
func Save(path string, cfg Config) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating config directory %s: %w", dir, err)
		}
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("serializing config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// UserConfigPath returns the platform-appropriate user-global config path:
// code-mode-mcp/config.toml under $XDG_CONFIG_HOME or $HOME/.config on
// Linux/macOS, %APPDATA% on Windows.
func UserConfigPath() (string, error) {
	var base string
	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("APPDATA")
		if base == "" {
			return "", fmt.Errorf("%%APPDATA%% is not set")
		}
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = xdg
		} else if home := os.Getenv("HOME"); home != "" {
			base = filepath.Join(home, ".config")
		} else {
			return "", fmt.Errorf("neither XDG_CONFIG_HOME nor HOME is set")
		}
	}
	return filepath.Join(base, configDirName, configFileName), nil
}

// ProjectConfigPath returns the project-local override path in the current
// working directory.
func ProjectConfigPath() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("determining working directory: %w", err)
	}
	return filepath.Join(wd, projectFile), nil
}

// LoadMerged loads the user-global and project-local configs (either may be
// absent) and merges them in precedence order user → project → explicit,
// where explicitOverride, if non-empty, is loaded last and wins over both.
func LoadMerged(explicitOverride string) (Config, error) {
	userPath, err := UserConfigPath()
	if err != nil {
		return Config{}, err
	}
	projectPath, err := ProjectConfigPath()
	if err != nil {
		return Config{}, err
	}

	userCfg, err := Load(userPath)
	if err != nil {
		return Config{}, err
	}
	projectCfg, err := Load(projectPath)
	if err != nil {
		return Config{}, err
	}

	merged := Merge(userCfg, projectCfg)

	if explicitOverride != "" {
		explicitCfg, err := Load(explicitOverride)
		if err != nil {
			return Config{}, err
		}
		merged = Merge(merged, explicitCfg)
	}

	return merged, nil
}

// ResolveEnv resolves a single config string value. Values of the form
// "env:NAME" resolve to the named environment variable, empty if unset.
// Any other value is returned unchanged.
//
// This is deliberately NOT applied by Load/Save: the loaded/saved Config
// must keep the literal "env:NAME" form so that "cmcp config add/remove"
// round-trips the indirection instead of baking a resolved secret into the
// plaintext config file. Callers that need the live value — the connection
// pool dialing a server — resolve at connect time instead.
func ResolveEnv(value string) string {
	name, ok := strings.CutPrefix(value, "env:")
	if !ok {
		return value
	}
	return os.Getenv(name)
}

// ResolvedServerConfig returns a copy of sc with every "env:NAME" field
// (Auth, Headers, Env) resolved against the current environment. Intended
// for use immediately before dialing a connection, never before a Save.
func ResolvedServerConfig(sc ServerConfig) ServerConfig {
	resolved := sc
	resolved.Auth = ResolveEnv(sc.Auth)

	if len(sc.Headers) > 0 {
		resolved.Headers = make(map[string]string, len(sc.Headers))
		for k, v := range sc.Headers {
			resolved.Headers[k] = ResolveEnv(v)
		}
	}

	if len(sc.Env) > 0 {
		resolved.Env = make(map[string]string, len(sc.Env))
		for k, v := range sc.Env {
			resolved.Env[k] = ResolveEnv(v)
		}
	}

	return resolved
}
