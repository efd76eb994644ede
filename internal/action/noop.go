package action

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mattjoyce/rig/internal/plugin"
)

// noopAction does nothing beyond writing a marker file. Used for testing
// rig configurations end to end.
type noopAction struct {
	workDir string
	logger  *slog.Logger
}

func newNoop(opts plugin.Options, env *plugin.Env) (plugin.Action, error) {
	if !opts.Bool("enabled") {
		return nil, fmt.Errorf("noop action requested but explicitly disabled")
	}
	return &noopAction{
		workDir: env.WorkDir,
		logger:  env.Logger.With("action", "noop"),
	}, nil
}

func (a *noopAction) Run(ctx context.Context) error {
	a.logger.Info("no-op action triggered, doing nothing")
	out := filepath.Join(a.workDir, "noop.out")
	line := fmt.Sprintf("noop ran at %s\n", time.Now().Format(time.RFC3339))
	f, err := os.OpenFile(out, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(line)
	return err
}
