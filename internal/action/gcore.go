package action

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/mattjoyce/rig/internal/host"
	"github.com/mattjoyce/rig/internal/plugin"
)

// gcoreAction captures application core dumps with gcore(1). Process
// names are resolved to PIDs at execution time; a name matching several
// PIDs produces one dump per PID. With freeze set, the target is
// SIGSTOPped for the duration of its dump and always SIGCONTed after,
// dump failure included.
type gcoreAction struct {
	idents    []string
	freeze    bool
	workDir   string
	iteration int
	logger    *slog.Logger
}

func newGcore(opts plugin.Options, env *plugin.Env) (plugin.Action, error) {
	if !binaryExists("gcore") {
		return nil, fmt.Errorf("required binary 'gcore' not found")
	}
	idents := opts.Strings("procs")
	if len(idents) == 0 {
		return nil, fmt.Errorf("'procs' must name at least one PID or process")
	}
	return &gcoreAction{
		idents:  idents,
		freeze:  opts.Bool("freeze"),
		workDir: env.WorkDir,
		logger:  env.Logger.With("action", "gcore"),
	}, nil
}

func (a *gcoreAction) Run(ctx context.Context) error {
	procs, err := host.ResolveProcs(a.idents)
	if err != nil {
		return fmt.Errorf("resolve gcore targets: %w", err)
	}
	if len(procs) == 0 {
		return fmt.Errorf("no PIDs found for %s", strings.Join(a.idents, ","))
	}

	a.iteration++
	var failed int
	for _, p := range procs {
		if err := a.dump(ctx, p); err != nil {
			a.logger.Error("error collecting coredump", "proc", p.Label(), "error", err)
			failed++
		}
	}
	if failed == len(procs) {
		return fmt.Errorf("all %d core dumps failed", failed)
	}
	return nil
}

func (a *gcoreAction) dump(ctx context.Context, p *host.Proc) error {
	out := filepath.Join(a.workDir, coreName(p, a.iteration))

	if a.freeze {
		if err := syscall.Kill(int(p.PID), syscall.SIGSTOP); err != nil {
			return fmt.Errorf("freeze pid %d: %w", p.PID, err)
		}
		// the stop/cont pair is balanced no matter how the dump ends
		defer func() {
			if err := syscall.Kill(int(p.PID), syscall.SIGCONT); err != nil {
				a.logger.Error("failed to thaw process", "pid", p.PID, "error", err)
			}
		}()
	}

	a.logger.Debug("collecting gcore", "proc", p.Label(), "output", out)
	res, err := runCommand(ctx, 0, "gcore", "-o", out, strconv.Itoa(int(p.PID)))
	if err != nil {
		return err
	}
	if res.status != 0 {
		return fmt.Errorf("gcore exited %d: %s", res.status, strings.TrimSpace(res.stderr))
	}
	return nil
}

// coreName yields the prefix core[.<name>][.<iteration>]; gcore itself
// appends .<pid> to it, so only the prefix varies per target.
func coreName(p *host.Proc, iteration int) string {
	name := "core"
	if p.Name != "" {
		name += "." + p.Name
	}
	if iteration > 1 {
		name += fmt.Sprintf(".%d", iteration)
	}
	return name
}
