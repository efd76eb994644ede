package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mattjoyce/rig/internal/config"
	"github.com/mattjoyce/rig/internal/control"
	"github.com/mattjoyce/rig/internal/rig"
	"github.com/mattjoyce/rig/internal/tui/watch"
)

const version = "1.0.0"

// dialRig is swapped out by tests to avoid live sockets.
var dialRig = control.Dial

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "create":
		os.Exit(runCreate(args))
	case "list":
		os.Exit(runList(args))
	case "destroy":
		os.Exit(runDestroy(args))
	case "info":
		os.Exit(runInfo(args))
	case "trigger":
		os.Exit(runTrigger(args))
	case "watch":
		os.Exit(runWatch(args))
	case "version":
		fmt.Printf("rig version %s\n", version)
		os.Exit(0)
	case "help", "--help", "-h":
		printUsage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`rig - host-local diagnostic automation

Usage:
  rig <command> [flags]

Commands:
  create -f <rigfile>           Deploy a rig from a rigfile
  list                          List deployed rigs
  destroy -i <name|all>         Destroy deployed rig(s)
  info -i <name>                Show detailed rig information
  trigger -i <name>             Manually trigger a deployed rig
  watch                         Live view of deployed rigs
  version                       Show version information
  help                          Show this help message

Create flags:
  -f <path>        Path to the rigfile (required)
  --foreground     Stay attached to the terminal

Destroy flags:
  -i <name|all>    Rig to destroy, or 'all'
  --force          Also remove stale sockets with no rig behind them
`)
}

// requireRoot refuses to run without an effective UID of 0.
func requireRoot() int {
	if os.Geteuid() != 0 {
		fmt.Fprintln(os.Stderr, "rig must be run as root")
		return rig.ExitNotRoot
	}
	return 0
}

func runCreate(args []string) int {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	file := fs.String("f", "", "Path to the rigfile")
	foreground := fs.Bool("foreground", false, "Run the rig in the foreground")
	if err := fs.Parse(args); err != nil {
		return rig.ExitConfig
	}
	if *file == "" {
		fmt.Fprintln(os.Stderr, "Usage: rig create -f <rigfile> [--foreground]")
		return rig.ExitConfig
	}
	if code := requireRoot(); code != 0 {
		return code
	}

	cfg, warnings, err := config.Load(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid rigfile: %v\n", err)
		return rig.ExitConfig
	}
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", w)
	}

	// reject unknown plugins and schema violations before detaching
	if _, _, err := rig.Validate(cfg, rig.BuiltinRegistry()); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid rigfile: %v\n", err)
		return rig.ExitConfig
	}

	name := cfg.Name
	if envName := os.Getenv(detachNameEnv); envName != "" {
		name = envName
	}
	if name == "" {
		name = config.GenerateName()
	}

	if !*foreground && !isDetachedChild() {
		return spawnDetached(name)
	}
	return runSupervisor(cfg, name, *foreground)
}

func runList(args []string) int {
	if code := requireRoot(); code != 0 {
		return code
	}
	entries, err := control.Discover()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cannot enumerate rigs: %v\n", err)
		return rig.ExitFatal
	}

	format := "%-10s %-7s %-20s %-9s %s\n"
	fmt.Printf(format, "NAME", "PID", "PHASE", "UPTIME", "MONITORS")
	fmt.Println(strings.Repeat("=", 70))
	for _, e := range entries {
		if !e.Live || e.Status == nil {
			fmt.Printf(format, e.Name, "-", "stale", "-", "-")
			continue
		}
		fmt.Printf(format, e.Status.Name,
			fmt.Sprintf("%d", e.Status.PID),
			e.Status.Phase,
			fmt.Sprintf("%ds", e.Status.UptimeSecs),
			monitorSummary(e.Status))
	}
	return 0
}

func monitorSummary(st *control.Status) string {
	parts := make([]string, 0, len(st.Monitors))
	for _, m := range st.Monitors {
		parts = append(parts, fmt.Sprintf("%s(%s)", m.Name, m.State))
	}
	return strings.Join(parts, " ")
}

func runDestroy(args []string) int {
	fs := flag.NewFlagSet("destroy", flag.ExitOnError)
	id := fs.String("i", "", "Rig to destroy, or 'all'")
	force := fs.Bool("force", false, "Also remove stale sockets")
	if err := fs.Parse(args); err != nil {
		return rig.ExitConfig
	}
	if *id == "" {
		fmt.Fprintln(os.Stderr, "Usage: rig destroy -i <name|all> [--force]")
		return rig.ExitConfig
	}
	if code := requireRoot(); code != 0 {
		return code
	}

	entries, err := control.Discover()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cannot enumerate rigs: %v\n", err)
		return rig.ExitFatal
	}

	var targets []control.Entry
	if *id == "all" {
		targets = entries
	} else {
		for _, e := range entries {
			if e.Name == *id {
				targets = append(targets, e)
			}
		}
		if len(targets) == 0 {
			fmt.Fprintf(os.Stderr, "Non-existing rig id provided: %s\n", *id)
			return 1
		}
	}

	failed := 0
	for _, e := range targets {
		if destroyOne(e, *force) {
			fmt.Printf("%s destroyed\n", e.Name)
		} else {
			failed++
		}
	}
	if failed > 0 {
		return 1
	}
	return 0
}

// destroyOne destroys one discovered rig. Stale sockets are removed
// from disk only when force is given.
func destroyOne(e control.Entry, force bool) bool {
	if !e.Live {
		if force {
			if err := os.Remove(e.Path); err != nil {
				fmt.Fprintf(os.Stderr, "Could not remove stale socket %s: %v\n", e.Path, err)
				return false
			}
			return true
		}
		fmt.Fprintf(os.Stderr, "Could not destroy rig %s, rig is not running\n", e.Name)
		return false
	}

	ack, err := control.SendAck(dialRig(e.Name), &control.Request{Op: control.OpDestroy, Force: force})
	if err != nil {
		if errors.Is(err, control.ErrNotRunning) && force {
			_ = os.Remove(e.Path)
			return true
		}
		fmt.Fprintf(os.Stderr, "Could not destroy rig %s: %v\n", e.Name, err)
		return false
	}
	if !ack.Ok {
		fmt.Fprintf(os.Stderr, "Could not destroy rig %s: %s\n", e.Name, ack.Err)
		return false
	}
	return true
}

func runInfo(args []string) int {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	id := fs.String("i", "", "Rig to inspect")
	if err := fs.Parse(args); err != nil {
		return rig.ExitConfig
	}
	if *id == "" {
		fmt.Fprintln(os.Stderr, "Usage: rig info -i <name>")
		return rig.ExitConfig
	}
	if code := requireRoot(); code != 0 {
		return code
	}

	info, err := control.SendInfo(dialRig(*id))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cannot reach rig %s: %v\n", *id, err)
		return 1
	}
	data, _ := json.MarshalIndent(info, "", "  ")
	fmt.Println(string(data))
	return 0
}

func runTrigger(args []string) int {
	fs := flag.NewFlagSet("trigger", flag.ExitOnError)
	id := fs.String("i", "", "Rig to trigger")
	if err := fs.Parse(args); err != nil {
		return rig.ExitConfig
	}
	if *id == "" {
		fmt.Fprintln(os.Stderr, "Usage: rig trigger -i <name>")
		return rig.ExitConfig
	}
	if code := requireRoot(); code != 0 {
		return code
	}

	ack, err := control.SendAck(dialRig(*id), &control.Request{Op: control.OpTrigger})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cannot reach rig %s: %v\n", *id, err)
		return 1
	}
	if !ack.Ok {
		fmt.Fprintf(os.Stderr, "Rig %s: %s\n", *id, ack.Err)
		return 1
	}
	fmt.Printf("%s triggered\n", *id)
	return 0
}

func runWatch(args []string) int {
	if code := requireRoot(); code != 0 {
		return code
	}
	if err := watch.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "watch failed: %v\n", err)
		return 1
	}
	return 0
}
