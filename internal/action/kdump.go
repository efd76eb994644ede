package action

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/mattjoyce/rig/internal/plugin"
)

const (
	sysrqPath        = "/proc/sys/kernel/sysrq"
	sysrqTriggerPath = "/proc/sysrq-trigger"
)

// kdumpAction crashes the kernel through sysrq to produce a vmcore. It
// always runs last and preempts normal cleanup; the host reboots. No
// verification of the kdump service configuration is performed — the
// operator is expected to have tested kdump before deploying a rig
// with it.
type kdumpAction struct {
	sysrq  int
	logger *slog.Logger
}

func newKdump(opts plugin.Options, env *plugin.Env) (plugin.Action, error) {
	a := &kdumpAction{
		sysrq:  opts.Int("sysrq"),
		logger: env.Logger.With("action", "kdump"),
	}
	if a.sysrq == 0 {
		return nil, fmt.Errorf("setting %s to 0 would disable kdump", sysrqPath)
	}
	return a, nil
}

// Probe applies the requested sysrq value at deployment so a bad value
// fails the rig before polling starts.
func (a *kdumpAction) Probe(ctx context.Context) error {
	if a.sysrq < 0 {
		return nil
	}
	a.logger.Info("setting kernel sysrq", "value", a.sysrq)
	if err := os.WriteFile(sysrqPath, []byte(strconv.Itoa(a.sysrq)), 0o644); err != nil {
		return fmt.Errorf("set %s: %w", sysrqPath, err)
	}
	return nil
}

func (a *kdumpAction) Run(ctx context.Context) error {
	a.logger.Info("writing 'c' to /proc/sysrq-trigger; look in your configured crash location for a vmcore after reboot")
	if err := os.WriteFile(sysrqTriggerPath, []byte("c"), 0o200); err != nil {
		return fmt.Errorf("trigger kernel crash: %w", err)
	}
	return nil
}
