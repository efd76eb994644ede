package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattjoyce/rig/internal/config"
	"github.com/mattjoyce/rig/internal/log"
	"github.com/mattjoyce/rig/internal/rig"
)

// Go cannot fork, so detaching works by re-executing the binary: the
// parent validates the rigfile, spawns itself with the detach stage
// marker set, a new session, stdio on /dev/null, and a pipe on fd 3,
// then waits for the child's readiness handshake before printing the
// rig name and exiting.
const (
	detachStageEnv = "RIG_DETACH_STAGE"
	detachNameEnv  = "RIG_NAME"

	// handshakeFD is the pipe the detached child reports readiness on.
	handshakeFD = 3

	// deployWait bounds how long the parent waits for the child to
	// finish its deploy sequence (pre-trigger probes included).
	deployWait = 120 * time.Second
)

// handshake is the single line the child writes on the readiness pipe.
type handshake struct {
	Ok   bool   `json:"ok"`
	Name string `json:"name,omitempty"`
	Code int    `json:"code,omitempty"`
	Err  string `json:"err,omitempty"`
}

func isDetachedChild() bool {
	return os.Getenv(detachStageEnv) == "supervisor"
}

// spawnDetached re-executes the current invocation as a detached
// supervisor and relays its deploy outcome.
func spawnDetached(name string) int {
	exe, err := os.Executable()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cannot resolve own binary: %v\n", err)
		return rig.ExitDeploy
	}
	readEnd, writeEnd, err := os.Pipe()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cannot create handshake pipe: %v\n", err)
		return rig.ExitDeploy
	}
	defer readEnd.Close()

	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Env = append(os.Environ(),
		detachStageEnv+"=supervisor",
		detachNameEnv+"="+name,
	)
	// fd 3 in the child
	cmd.ExtraFiles = []*os.File{writeEnd}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		writeEnd.Close()
		fmt.Fprintf(os.Stderr, "Cannot start detached rig: %v\n", err)
		return rig.ExitDeploy
	}
	writeEnd.Close()
	// the child outlives us; do not wait on it beyond the handshake
	defer cmd.Process.Release()

	result := make(chan handshake, 1)
	go func() {
		line, err := bufio.NewReader(readEnd).ReadBytes('\n')
		if err != nil {
			result <- handshake{Ok: false, Code: rig.ExitDeploy, Err: "rig exited before becoming ready"}
			return
		}
		var h handshake
		if err := json.Unmarshal(line, &h); err != nil {
			h = handshake{Ok: false, Code: rig.ExitDeploy, Err: "unreadable readiness handshake"}
		}
		result <- h
	}()

	select {
	case h := <-result:
		if h.Ok {
			fmt.Println(h.Name)
			return rig.ExitOK
		}
		if h.Err != "" {
			fmt.Fprintf(os.Stderr, "Rig failed to deploy: %s\n", h.Err)
		} else {
			fmt.Fprintln(os.Stderr, "Rig failed to deploy; see the rig log for details")
		}
		if h.Code == 0 {
			return rig.ExitDeploy
		}
		return h.Code
	case <-time.After(deployWait):
		fmt.Fprintln(os.Stderr, "Timed out waiting for the rig to become ready")
		return rig.ExitDeploy
	}
}

// runSupervisor runs the rig lifecycle in this process. When invoked as
// the detached child it reports readiness (or failure) on the handshake
// pipe; in foreground mode it simply prints the rig name.
func runSupervisor(cfg *config.Rigfile, name string, foreground bool) int {
	if err := log.Setup(log.DefaultLogFile, cfg.Debug, foreground); err != nil {
		fmt.Fprintf(os.Stderr, "Cannot set up logging: %v\n", err)
		return rig.ExitFatal
	}

	var pipe *os.File
	if isDetachedChild() {
		pipe = os.NewFile(handshakeFD, "handshake")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()
	signal.Ignore(syscall.SIGHUP)

	if foreground {
		fmt.Println(name)
	}

	r := rig.New(cfg, name)
	readySent := false
	ready := func() {
		readySent = true
		notify(pipe, handshake{Ok: true, Name: name})
	}

	code := r.Deploy(ctx, rig.BuiltinRegistry(), ready)
	if !readySent {
		notify(pipe, handshake{Ok: false, Code: code, Err: "deployment failed"})
	}
	return code
}

// notify writes one handshake line and closes the pipe.
func notify(pipe *os.File, h handshake) {
	if pipe == nil {
		return
	}
	payload, err := json.Marshal(h)
	if err == nil {
		payload = append(payload, '\n')
		_, _ = pipe.Write(payload)
	}
	pipe.Close()
}
