package rig

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/rig/internal/config"
	"github.com/mattjoyce/rig/internal/control"
	"github.com/mattjoyce/rig/internal/plugin"
)

func testDirs(t *testing.T) {
	t.Helper()
	t.Setenv("RIG_TMP_DIR", t.TempDir())
	t.Setenv("RIG_SOCK_DIR", t.TempDir())
}

func parseRigfile(t *testing.T, doc string) *config.Rigfile {
	t.Helper()
	cfg, _, err := config.Parse([]byte(doc))
	require.NoError(t, err)
	return cfg
}

func TestSortActionsStableOrdering(t *testing.T) {
	// rigfile declares kdump, noop, gcore in that key order; execution
	// order must be gcore, noop, kdump regardless
	actions := []*actionInst{
		{name: "kdump", spec: plugin.ActionSpec{Name: "kdump", Weight: 100}, order: 0},
		{name: "noop", spec: plugin.ActionSpec{Name: "noop", Weight: 90}, order: 1},
		{name: "gcore", spec: plugin.ActionSpec{Name: "gcore", Weight: 10}, order: 2},
	}
	sortActions(actions)
	got := []string{actions[0].name, actions[1].name, actions[2].name}
	assert.Equal(t, []string{"gcore", "noop", "kdump"}, got)
}

func TestSortActionsTieBrokenByDeclarationOrder(t *testing.T) {
	actions := []*actionInst{
		{name: "watch", spec: plugin.ActionSpec{Name: "watch", Weight: 20}, order: 1},
		{name: "tcpdump", spec: plugin.ActionSpec{Name: "tcpdump", Weight: 20}, order: 0},
		{name: "noop", spec: plugin.ActionSpec{Name: "noop", Weight: 90}, order: 2},
	}
	sortActions(actions)
	got := []string{actions[0].name, actions[1].name, actions[2].name}
	assert.Equal(t, []string{"tcpdump", "watch", "noop"}, got)
}

func TestSetTripFirstWins(t *testing.T) {
	r := New(parseRigfile(t, "monitors:\n  timer:\n    duration: 1\nactions:\n  noop:\n"), "t")
	first := &plugin.Trip{Monitor: "logs", Evidence: "a"}
	second := &plugin.Trip{Monitor: "filesystem", Evidence: "b"}

	assert.True(t, r.setTrip(first))
	assert.False(t, r.setTrip(second), "only one trigger source is ever recorded")
	assert.Equal(t, "logs", r.Trip().Monitor)
}

func TestValidateRejectsUnknownPlugins(t *testing.T) {
	reg := BuiltinRegistry()

	cfg := parseRigfile(t, "monitors:\n  seismograph:\n    depth: 1\nactions:\n  noop:\n")
	_, _, err := Validate(cfg, reg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown monitor "seismograph"`)

	cfg = parseRigfile(t, "monitors:\n  timer:\n    duration: 1\nactions:\n  explode:\n")
	_, _, err = Validate(cfg, reg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown action "explode"`)
}

func TestValidateRejectsSchemaViolations(t *testing.T) {
	cfg := parseRigfile(t, "monitors:\n  logs:\n    pattern: x\nactions:\n  noop:\n")
	_, _, err := Validate(cfg, BuiltinRegistry())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown field")
}

func TestBuiltinRegistryContents(t *testing.T) {
	reg := BuiltinRegistry()
	assert.Equal(t, []string{"filesystem", "logs", "process", "timer"}, reg.MonitorNames())
	assert.Equal(t, []string{"gcore", "kdump", "noop", "sos", "tcpdump", "watch"}, reg.ActionNames())
}

// deployRig runs a full rig lifecycle in the background and returns a
// channel carrying its exit code plus a ready signal.
func deployRig(t *testing.T, cfg *config.Rigfile, name string) (<-chan int, <-chan struct{}) {
	t.Helper()
	r := New(cfg, name)
	readyCh := make(chan struct{})
	codeCh := make(chan int, 1)
	go func() {
		codeCh <- r.Deploy(context.Background(), BuiltinRegistry(), func() { close(readyCh) })
	}()
	return codeCh, readyCh
}

func waitReady(t *testing.T, readyCh <-chan struct{}) {
	t.Helper()
	select {
	case <-readyCh:
	case <-time.After(10 * time.Second):
		t.Fatal("rig did not become ready")
	}
}

func waitExit(t *testing.T, codeCh <-chan int, within time.Duration) int {
	t.Helper()
	select {
	case code := <-codeCh:
		return code
	case <-time.After(within):
		t.Fatal("rig did not exit")
		return -1
	}
}

func TestRigLifecycleTimerTrip(t *testing.T) {
	testDirs(t)
	cfg := parseRigfile(t, `
monitors:
  timer:
    duration: 1
actions:
  noop:
`)
	codeCh, readyCh := deployRig(t, cfg, "lft")
	waitReady(t, readyCh)

	// the control socket answers while polling
	status, err := control.SendStatus(control.Dial("lft"))
	require.NoError(t, err)
	assert.Equal(t, string(PhasePolling), status.Phase)
	require.Len(t, status.Monitors, 1)
	assert.Equal(t, "watching", status.Monitors[0].State)

	code := waitExit(t, codeCh, 15*time.Second)
	assert.Equal(t, ExitOK, code)

	// the working directory is rolled into a verified archive
	_, err = os.Stat(WorkDir("lft"))
	assert.True(t, os.IsNotExist(err), "working directory must be removed after archiving")

	matches, err := filepath.Glob(filepath.Join(WorkDirBase(), "lft-*.tar.gz"))
	require.NoError(t, err)
	require.Len(t, matches, 1, "exactly one archive must exist")
	_, err = os.Stat(matches[0] + ".blake3")
	assert.NoError(t, err)

	// the control socket is gone once the process flow completes
	_, err = os.Stat(control.SocketPath("lft"))
	assert.True(t, os.IsNotExist(err))
}

func TestRigNoArchiveKeepsWorkDir(t *testing.T) {
	testDirs(t)
	cfg := parseRigfile(t, `
no_archive: true
monitors:
  timer:
    duration: 1
actions:
  noop:
`)
	codeCh, readyCh := deployRig(t, cfg, "noarc")
	waitReady(t, readyCh)
	code := waitExit(t, codeCh, 15*time.Second)
	assert.Equal(t, ExitOK, code)

	// working directory preserved, no archive produced
	_, err := os.Stat(filepath.Join(WorkDir("noarc"), "noop.out"))
	assert.NoError(t, err)
	matches, err := filepath.Glob(filepath.Join(WorkDirBase(), "noarc-*.tar.*"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestRigDestroyedOverControlSocket(t *testing.T) {
	testDirs(t)
	cfg := parseRigfile(t, `
monitors:
  timer:
    duration: 300
actions:
  noop:
`)
	codeCh, readyCh := deployRig(t, cfg, "doomed")
	waitReady(t, readyCh)

	ack, err := control.SendAck(control.Dial("doomed"), &control.Request{Op: control.OpDestroy})
	require.NoError(t, err)
	assert.True(t, ack.Ok, "destroy acknowledges before shutting down")

	code := waitExit(t, codeCh, 10*time.Second)
	assert.Equal(t, ExitDestroyed, code)

	_, err = os.Stat(WorkDir("doomed"))
	assert.True(t, os.IsNotExist(err), "destroy removes the working directory")

	// within a second of exit the socket is gone and a second destroy
	// finds nothing
	time.Sleep(time.Second)
	_, err = os.Stat(control.SocketPath("doomed"))
	assert.True(t, os.IsNotExist(err))
	_, err = control.SendAck(control.Dial("doomed"), &control.Request{Op: control.OpDestroy})
	assert.Error(t, err)
}

func TestRigManualTrigger(t *testing.T) {
	testDirs(t)
	cfg := parseRigfile(t, `
monitors:
  timer:
    duration: 300
actions:
  noop:
`)
	codeCh, readyCh := deployRig(t, cfg, "manual")
	waitReady(t, readyCh)

	ack, err := control.SendAck(control.Dial("manual"), &control.Request{Op: control.OpTrigger})
	require.NoError(t, err)
	assert.True(t, ack.Ok)

	code := waitExit(t, codeCh, 15*time.Second)
	assert.Equal(t, ExitOK, code)

	matches, err := filepath.Glob(filepath.Join(WorkDirBase(), "manual-*.tar.gz"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestRigNameCollision(t *testing.T) {
	testDirs(t)
	cfg := parseRigfile(t, `
monitors:
  timer:
    duration: 300
actions:
  noop:
`)
	codeCh, readyCh := deployRig(t, cfg, "dup")
	waitReady(t, readyCh)

	// a second rig with the same name must fail its deployment
	second, _ := deployRig(t, cfg, "dup")
	code := waitExit(t, second, 10*time.Second)
	assert.Equal(t, ExitDeploy, code)

	// tear down the first
	_, err := control.SendAck(control.Dial("dup"), &control.Request{Op: control.OpDestroy})
	require.NoError(t, err)
	waitExit(t, codeCh, 10*time.Second)
}

func TestRigLogMatchScenario(t *testing.T) {
	testDirs(t)
	logPath := filepath.Join(t.TempDir(), "t.log")
	require.NoError(t, os.WriteFile(logPath, []byte(""), 0o644))

	cfg := parseRigfile(t, `
monitors:
  logs:
    message: "boom"
    files: `+logPath+`
    journals: null
actions:
  noop:
`)
	codeCh, readyCh := deployRig(t, cfg, "boomer")
	waitReady(t, readyCh)

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("preboom\n")
	require.NoError(t, err)
	_, err = f.WriteString("boom occurred\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	code := waitExit(t, codeCh, 15*time.Second)
	assert.Equal(t, ExitOK, code)

	matches, err := filepath.Glob(filepath.Join(WorkDirBase(), "boomer-*.tar.gz"))
	require.NoError(t, err)
	assert.Len(t, matches, 1, "archive contains the noop output")
}
