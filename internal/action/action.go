// Package action implements the built-in action plugins: gcore,
// tcpdump, watch, sos, kdump, and noop. Actions run serially in weight
// order after a monitor trips; pre-trigger actions additionally
// supervise collectors for the life of the rig.
package action

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mattjoyce/rig/internal/plugin"
)

const (
	// maxOutputBytes caps the output captured from collector commands.
	maxOutputBytes = 64 * 1024

	// stopGracePeriod is how long a pre-trigger child gets between
	// SIGTERM and SIGKILL.
	stopGracePeriod = 10 * time.Second

	// defaultCmdTimeout bounds one-shot collector executions.
	defaultCmdTimeout = 180 * time.Second
)

// Specs returns the action plugin table registered at startup. Weights
// follow the fixed ordering contract: gcore first, kdump always last.
func Specs() []plugin.ActionSpec {
	return []plugin.ActionSpec{
		{
			Name: "gcore",
			Schema: plugin.Schema{
				"procs":  {Kind: plugin.Strings, Required: true},
				"freeze": {Kind: plugin.Bool, Default: false},
			},
			Weight:     10,
			Repeatable: true,
			New:        newGcore,
		},
		{
			Name: "tcpdump",
			Schema: plugin.Schema{
				"interface":       {Kind: plugin.String, Required: true},
				"expression":      {Kind: plugin.String},
				"capture_count":   {Kind: plugin.Int, Default: 1},
				"capture_size":    {Kind: plugin.Int, Default: 10},
				"snapshot_length": {Kind: plugin.Int, Default: 0},
			},
			Weight:         20,
			PreTrigger:     true,
			PreTriggerOnly: true,
			New:            newTcpdump,
		},
		{
			Name: "watch",
			Schema: plugin.Schema{
				"files":            {Kind: plugin.List},
				"commands":         {Kind: plugin.Strings},
				"use_standard_set": {Kind: plugin.Bool, Default: false},
			},
			Weight:         20,
			PreTrigger:     true,
			PreTriggerOnly: true,
			New:            newWatch,
		},
		{
			Name: "sos",
			Schema: plugin.Schema{
				"report":          {Kind: plugin.Map},
				"collect":         {Kind: plugin.Map},
				"initial_archive": {Kind: plugin.Bool, Default: false},
				"timeout":         {Kind: plugin.Int, Default: 300},
			},
			Weight:     50,
			PreTrigger: true,
			New:        newSos,
		},
		{
			Name: "noop",
			Schema: plugin.Schema{
				"enabled": {Kind: plugin.Bool, Default: true},
			},
			Weight: 90,
			New:    newNoop,
		},
		{
			Name: "kdump",
			Schema: plugin.Schema{
				"sysrq": {Kind: plugin.Int, Default: -1},
			},
			Weight: 100,
			New:    newKdump,
		},
	}
}

// cmdResult holds the outcome of a one-shot collector execution.
type cmdResult struct {
	status int
	stdout string
	stderr string
}

// runCommand executes a collector command without a shell, capturing
// bounded output. The command is killed when the timeout elapses.
func runCommand(ctx context.Context, timeout time.Duration, name string, args ...string) (*cmdResult, error) {
	if timeout <= 0 {
		timeout = defaultCmdTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr capBuffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := &cmdResult{stdout: stdout.String(), stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if ok := asExitError(err, &exitErr); ok {
			res.status = exitErr.ExitCode()
			return res, nil
		}
		return res, err
	}
	return res, nil
}

func asExitError(err error, target **exec.ExitError) bool {
	e, ok := err.(*exec.ExitError)
	if ok {
		*target = e
	}
	return ok
}

// capBuffer is a bytes.Buffer that silently stops growing at
// maxOutputBytes.
type capBuffer struct {
	buf bytes.Buffer
}

func (c *capBuffer) Write(p []byte) (int, error) {
	remain := maxOutputBytes - c.buf.Len()
	if remain > 0 {
		if len(p) > remain {
			c.buf.Write(p[:remain])
		} else {
			c.buf.Write(p)
		}
	}
	return len(p), nil
}

func (c *capBuffer) String() string { return c.buf.String() }

// binaryExists reports whether a collector binary is resolvable in PATH.
func binaryExists(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// child supervises one long-lived collector subprocess in its own
// process group.
type child struct {
	cmd  *exec.Cmd
	done chan error
}

// startChild launches a background collector. Stderr is captured into
// the supplied buffer; stdout goes to the given file or is discarded
// when nil.
func startChild(name string, args []string, stdout *os.File, stderr *capBuffer) (*child, error) {
	cmd := exec.Command(name, args...)
	if stdout != nil {
		cmd.Stdout = stdout
	}
	cmd.Stderr = stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	c := &child{cmd: cmd, done: make(chan error, 1)}
	go func() { c.done <- cmd.Wait() }()
	return c, nil
}

// stop terminates the child: SIGTERM, a grace window, then SIGKILL to
// the whole process group.
func (c *child) stop(ctx context.Context) error {
	if c == nil || c.cmd.Process == nil {
		return nil
	}
	_ = syscall.Kill(-c.cmd.Process.Pid, syscall.SIGTERM)
	select {
	case <-c.done:
		return nil
	case <-time.After(stopGracePeriod):
	case <-ctx.Done():
	}
	_ = syscall.Kill(-c.cmd.Process.Pid, syscall.SIGKILL)
	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
	}
	return fmt.Errorf("%s did not stop within the grace period", filepath.Base(c.cmd.Path))
}

// outputName flattens a command line into an output filename, mirroring
// how the watch collectors have always named their files.
func outputName(cmd string) string {
	name := strings.ReplaceAll(cmd, " ", "_")
	name = strings.ReplaceAll(name, "/", ".")
	return strings.TrimLeft(name, ".")
}
