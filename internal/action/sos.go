package action

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mattjoyce/rig/internal/plugin"
)

// sosAction generates an sos report (single host) or an sos collect run
// (multiple hosts) when the rig trips. With initial_archive set, the
// same configured mode also runs once at deployment so there is a
// baseline to diff the triggered archive against.
type sosAction struct {
	mode    string
	args    []string
	initial bool
	timeout time.Duration
	workDir string
	logger  *slog.Logger
}

func newSos(opts plugin.Options, env *plugin.Env) (plugin.Action, error) {
	if !binaryExists("sos") {
		return nil, fmt.Errorf("required binary 'sos' not found")
	}

	report := opts.Map("report")
	collect := opts.Map("collect")
	if opts.Has("report") && opts.Has("collect") {
		return nil, fmt.Errorf("'report' and 'collect' are mutually exclusive")
	}
	if !opts.Has("report") && !opts.Has("collect") {
		return nil, fmt.Errorf("one of 'report' or 'collect' must be configured")
	}

	a := &sosAction{
		initial: opts.Bool("initial_archive"),
		timeout: time.Duration(opts.Int("timeout")) * time.Second,
		workDir: env.WorkDir,
		logger:  env.Logger.With("action", "sos"),
	}
	var cfg map[string]any
	if opts.Has("report") {
		a.mode, cfg = "report", report
	} else {
		a.mode, cfg = "collect", collect
	}
	if _, clean := cfg["clean"]; clean {
		// obfuscation needs extra time
		a.timeout += 180 * time.Second
	}

	args, err := compileSosArgs(a.mode, cfg)
	if err != nil {
		return nil, err
	}
	a.args = args
	a.logger.Debug("sos command prepared", "args", strings.Join(a.args, " "))
	return a, nil
}

// compileSosArgs flattens the rigfile option mapping into sos flags.
// Lists join with commas, true booleans become bare flags, and nested
// mappings become k=v pairs.
func compileSosArgs(mode string, cfg map[string]any) ([]string, error) {
	args := []string{mode, "--batch", "--tmp-dir"}

	keys := make([]string, 0, len(cfg))
	for k := range cfg {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var flags []string
	for _, k := range keys {
		flag := "--" + strings.ReplaceAll(k, "_", "-")
		switch v := cfg[k].(type) {
		case bool:
			if v {
				flags = append(flags, flag)
			}
		case string:
			flags = append(flags, flag, v)
		case int:
			flags = append(flags, flag, fmt.Sprintf("%d", v))
		case []any:
			parts := make([]string, 0, len(v))
			for _, e := range v {
				parts = append(parts, fmt.Sprintf("%v", e))
			}
			flags = append(flags, flag, strings.Join(parts, ","))
		case map[string]any:
			parts := make([]string, 0, len(v))
			for mk, mv := range v {
				parts = append(parts, fmt.Sprintf("%s=%v", mk, mv))
			}
			sort.Strings(parts)
			flags = append(flags, flag, strings.Join(parts, ","))
		default:
			return nil, fmt.Errorf("sos option %q has unsupported type %T", k, v)
		}
	}
	return append(args, flags...), nil
}

// PreStart optionally collects the initial archive. Failure here is
// logged and does not abort deployment; it is not written to the event
// store.
func (a *sosAction) PreStart(ctx context.Context) error {
	if !a.initial {
		return nil
	}
	a.logger.Info("generating initial sos archive, this may take some time")
	if err := a.collect(ctx, "initial"); err != nil {
		a.logger.Error("initial sos collection failed", "error", err)
		return nil
	}
	a.logger.Info("initial sos archive collected")
	return nil
}

// Stop is a no-op; the initial collection is synchronous.
func (a *sosAction) Stop(ctx context.Context) error { return nil }

func (a *sosAction) Run(ctx context.Context) error {
	a.logger.Info("collecting sos archive", "mode", a.mode)
	if err := a.collect(ctx, ""); err != nil {
		return err
	}
	a.logger.Info("sos archive collected")
	return nil
}

func (a *sosAction) collect(ctx context.Context, label string) error {
	// sos writes into the working directory directly via --tmp-dir; the
	// archive lands alongside the other collector output
	args := make([]string, 0, len(a.args)+3)
	args = append(args, a.args[:3]...)
	args = append(args, a.workDir)
	args = append(args, a.args[3:]...)
	if label != "" {
		args = append(args, "--label", label)
	}

	res, err := runCommand(ctx, a.timeout, "sos", args...)
	if err != nil {
		return fmt.Errorf("sos execution: %w", err)
	}
	if res.status != 0 {
		detail := strings.TrimSpace(res.stderr)
		if detail == "" {
			lines := strings.Split(strings.TrimSpace(res.stdout), "\n")
			if n := len(lines); n > 3 {
				lines = lines[n-3:]
			}
			detail = strings.Join(lines, " ")
		}
		return fmt.Errorf("sos exited %d: %s", res.status, detail)
	}
	if a.archivePath() == "" {
		return fmt.Errorf("could not determine final path of sos archive")
	}
	return nil
}

// archivePath finds the newest sos tarball in the working directory.
func (a *sosAction) archivePath() string {
	matches, _ := filepath.Glob(filepath.Join(a.workDir, "sos*-*.tar.*"))
	var newest string
	var newestMod time.Time
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		if info.ModTime().After(newestMod) {
			newest, newestMod = m, info.ModTime()
		}
	}
	return newest
}
