package action

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mattjoyce/rig/internal/plugin"
)

// standardFiles and standardCommands form the fixed inventory enabled by
// use_standard_set, sourced from the support monitor.sh script.
var standardFiles = []watchFile{
	{path: "/proc/interrupts", dest: "interrupts"},
	{path: "/proc/vmstat", dest: "vmstat"},
	{path: "/proc/net/softnet_stat", dest: "softnet_stat"},
	{path: "/proc/softirqs", dest: "softirqs"},
	{path: "/proc/net/sockstat", dest: "sockstat"},
	{path: "/proc/net/sockstat6", dest: "sockstat6"},
	{path: "/proc/net/dev", dest: "netdev"},
	{path: "/proc/net/sctp/assocs", dest: "sctp_assocs"},
	{path: "/proc/net/sctp/snmp", dest: "sctp_snmp"},
}

var standardCommands = []string{
	"netstat -s", "nstat -az", "ss -noemitaup", "ps -alfe",
	"top -c -b -n 1", "numastat", "ip neigh show", "tc -s qdisc",
}

type watchFile struct {
	path string
	dest string
}

type watchCommand struct {
	cmdline string
	dest    string
}

// watchAction periodically records file contents and command output into
// timestamped logs in the working directory, from deployment until the
// rig trips (plus the rig's delay).
type watchAction struct {
	files    []watchFile
	commands []watchCommand
	interval time.Duration
	workDir  string
	logger   *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func newWatch(opts plugin.Options, env *plugin.Env) (plugin.Action, error) {
	a := &watchAction{
		interval: env.Interval,
		workDir:  env.WorkDir,
		logger:   env.Logger.With("action", "watch"),
		stopCh:   make(chan struct{}),
	}

	for _, item := range opts.List("files") {
		entry, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("watch files must be mappings with a 'path' key, not %T", item)
		}
		path, _ := entry["path"].(string)
		if path == "" {
			return nil, fmt.Errorf("watch file entry requires the 'path' key")
		}
		dest, _ := entry["dest"].(string)
		if dest != "" {
			dest = strings.ReplaceAll(dest, "/", "_")
		} else {
			dest = filepath.Base(path)
		}
		a.files = append(a.files, watchFile{path: path, dest: dest})
	}

	for _, cmdline := range opts.Strings("commands") {
		bin := strings.Fields(cmdline)[0]
		if !binaryExists(bin) {
			if _, err := os.Stat(bin); err != nil {
				return nil, fmt.Errorf("cannot watch command %q: command not found", bin)
			}
		}
		a.commands = append(a.commands, watchCommand{cmdline: cmdline, dest: outputName(cmdline)})
	}

	if opts.Bool("use_standard_set") {
		a.files = append(a.files, standardFiles...)
		for _, cmdline := range standardCommands {
			if !binaryExists(strings.Fields(cmdline)[0]) {
				a.logger.Debug("standard set command not found locally, skipping", "command", cmdline)
				continue
			}
			a.commands = append(a.commands, watchCommand{cmdline: cmdline, dest: outputName(cmdline)})
		}
	}

	if len(a.files) == 0 && len(a.commands) == 0 {
		return nil, fmt.Errorf("no valid files or commands to watch provided")
	}
	return a, nil
}

// PreStart launches one sampler per watched file and command. Each
// sampler records immediately and then once per rig interval.
func (a *watchAction) PreStart(ctx context.Context) error {
	for _, f := range a.files {
		a.startSampler(f.dest, func() string {
			data, err := os.ReadFile(f.path)
			if err != nil {
				return fmt.Sprintf("unable to copy contents of %s: %v", f.path, err)
			}
			return string(data)
		})
	}
	for _, c := range a.commands {
		fields := strings.Fields(c.cmdline)
		a.startSampler(c.dest, func() string {
			res, err := runCommand(context.Background(), a.interval/2+time.Second, fields[0], fields[1:]...)
			if err != nil {
				return fmt.Sprintf("could not collect command output: %v", err)
			}
			return res.stdout + res.stderr
		})
	}
	a.logger.Info("periodic collectors started",
		"files", len(a.files), "commands", len(a.commands), "interval", a.interval)
	return nil
}

func (a *watchAction) startSampler(dest string, collect func() string) {
	outPath := filepath.Join(a.workDir, dest)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.record(outPath, collect())
		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()
		for {
			select {
			case <-a.stopCh:
				return
			case <-ticker.C:
				a.record(outPath, collect())
			}
		}
	}()
}

// record appends one timestamped block to the sampler's output file.
func (a *watchAction) record(path, content string) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		a.logger.Error("cannot open watch output", "path", path, "error", err)
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "==== %s ====\n%s\n", time.Now().Format("2006-01-02 15:04:05.000"), content)
}

// Stop halts all samplers and waits for in-flight records to land.
func (a *watchAction) Stop(ctx context.Context) error {
	select {
	case <-a.stopCh:
	default:
		close(a.stopCh)
	}
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopGracePeriod):
		return fmt.Errorf("watch collectors did not stop within the grace period")
	}
	a.logger.Debug("periodic collectors stopped")
	return nil
}

// Run is never reached; the samplers' output is already in the working
// directory by trigger time.
func (a *watchAction) Run(ctx context.Context) error { return nil }
