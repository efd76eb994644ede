package action

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mattjoyce/rig/internal/plugin"
)

// tcpdumpAction runs a rolling packet capture for the life of the rig:
// started at deployment, stopped at trigger, with the pcap files left in
// the working directory. The -Z root flag avoids the privilege drop
// tcpdump performs before opening its first savefile.
var tcpdumpBaseArgs = []string{"-Z", "root", "-n"}

type tcpdumpAction struct {
	iface    string
	expr     string
	count    int
	sizeMB   int
	snaplen  int
	workDir  string
	rigName  string
	outfile  string
	proc     *child
	procErrs capBuffer
	logger   *slog.Logger
}

func newTcpdump(opts plugin.Options, env *plugin.Env) (plugin.Action, error) {
	if !binaryExists("tcpdump") {
		return nil, fmt.Errorf("required binary 'tcpdump' not found")
	}
	a := &tcpdumpAction{
		iface:   opts.String("interface"),
		expr:    opts.String("expression"),
		count:   opts.Int("capture_count"),
		sizeMB:  opts.Int("capture_size"),
		snaplen: opts.Int("snapshot_length"),
		workDir: env.WorkDir,
		rigName: env.RigName,
		logger:  env.Logger.With("action", "tcpdump"),
	}
	if a.count < 1 || a.sizeMB < 1 {
		return nil, fmt.Errorf("'capture_count' and 'capture_size' must be at least 1")
	}
	if a.iface != "any" {
		if _, err := net.InterfaceByName(a.iface); err != nil {
			return nil, fmt.Errorf("interface %q does not exist", a.iface)
		}
	}
	a.outfile = filepath.Join(a.workDir, fmt.Sprintf("%s-%s.pcap", a.rigName, a.iface))
	return a, nil
}

func (a *tcpdumpAction) args() []string {
	args := append([]string{}, tcpdumpBaseArgs...)
	args = append(args,
		"-i", a.iface,
		"-s", strconv.Itoa(a.snaplen),
		"-C", strconv.Itoa(a.sizeMB),
		"-W", strconv.Itoa(a.count),
		"-w", a.outfile,
	)
	if a.expr != "" {
		args = append(args, a.expr)
	}
	return args
}

// Probe starts the real capture command and watches its first second of
// life; tcpdump reports bad interfaces and bad filter expressions
// immediately, so an early exit is a configuration error.
func (a *tcpdumpAction) Probe(ctx context.Context) error {
	var errs capBuffer
	probe, err := startChild("tcpdump", a.args(), nil, &errs)
	if err != nil {
		return fmt.Errorf("tcpdump probe: %w", err)
	}
	select {
	case <-probe.done:
		return fmt.Errorf("tcpdump probe failed: %s", strings.TrimSpace(errs.String()))
	case <-time.After(time.Second):
	}
	_ = probe.stop(ctx)
	a.removeCaptures()
	a.logger.Debug("tcpdump command validated")
	return nil
}

// PreStart launches the background capture.
func (a *tcpdumpAction) PreStart(ctx context.Context) error {
	proc, err := startChild("tcpdump", a.args(), nil, &a.procErrs)
	if err != nil {
		return fmt.Errorf("start background packet capture: %w", err)
	}
	a.proc = proc
	a.logger.Info("background packet capture started", "interface", a.iface, "output", a.outfile)
	return nil
}

// Stop terminates the capture, leaving the rolled pcap files in place.
func (a *tcpdumpAction) Stop(ctx context.Context) error {
	if a.proc == nil {
		return nil
	}
	err := a.proc.stop(ctx)
	a.proc = nil
	if err != nil {
		return fmt.Errorf("stop tcpdump: %w", err)
	}
	a.logger.Debug("packet capture stopped")
	return nil
}

// Run is never reached: the capture's value is the files it already
// wrote. Present only to satisfy the action capability set.
func (a *tcpdumpAction) Run(ctx context.Context) error { return nil }

// removeCaptures clears the probe's partial savefiles so the real
// capture starts on file 0.
func (a *tcpdumpAction) removeCaptures() {
	matches, err := filepath.Glob(a.outfile + "*")
	if err != nil {
		return
	}
	for _, m := range matches {
		_ = os.Remove(m)
	}
}
