package engine

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/cmcp/cmcp/pkg/config"
)

// configStamp records the modification time observed for a config path, or
// the zero Time for a path that did not exist at the time of the check.
type configStamp struct {
	exists bool
	modAt  time.Time
}

func stat(path string) configStamp {
	if path == "" {
		return configStamp{}
	}
	info, err := os.Stat(path)
	if err != nil {
		return configStamp{}
	}
	return configStamp{exists: true, modAt: info.ModTime()}
}

// ReloadChecker is the correctness-bearing half of C6: it is consulted on
// every public Search/Execute entry, before delegation, and reloads the
// engine whenever either config path's modification stamp has changed
// since the last check — including a transition to or from non-existence.
// This is deliberately independent of any filesystem-event subsystem (see
// pkg/reload's doc comment for why).
type ReloadChecker struct {
	mu          sync.Mutex // guards the stamps across concurrent calls
	engine      *Engine
	explicit    string
	userPath    string
	projectPath string
	userStamp   configStamp
	projStamp   configStamp
}

// NewReloadChecker resolves the user and project config paths once and
// captures their current stamps as the baseline. explicitOverride, if set,
// is not watched for changes — it is a one-shot override for the process
// lifetime.
func NewReloadChecker(e *Engine, explicitOverride string) (*ReloadChecker, error) {
	userPath, err := config.UserConfigPath()
	if err != nil {
		return nil, err
	}
	projectPath, err := config.ProjectConfigPath()
	if err != nil {
		return nil, err
	}

	return &ReloadChecker{
		engine:      e,
		explicit:    explicitOverride,
		userPath:    userPath,
		projectPath: projectPath,
		userStamp:   stat(userPath),
		projStamp:   stat(projectPath),
	}, nil
}

// CheckAndReload samples both config paths; if either has changed, it
// reloads the engine and records the new stamps. A failed reload leaves the
// old engine state and the old stamps in place, so the next call retries.
func (c *ReloadChecker) CheckAndReload(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	userStamp := stat(c.userPath)
	projStamp := stat(c.projectPath)

	if userStamp == c.userStamp && projStamp == c.projStamp {
		return
	}

	cfg, err := config.LoadMerged(c.explicit)
	if err != nil {
		c.engine.logger.Warn("config reload failed, keeping previous state", "error", err)
		return
	}

	c.engine.Reload(ctx, cfg)
	c.userStamp = userStamp
	c.projStamp = projStamp
}
