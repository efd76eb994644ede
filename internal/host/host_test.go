package host

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseState(t *testing.T) {
	tests := []struct {
		input   string
		want    ProcState
		wantErr bool
	}{
		{input: "running", want: StateRunning},
		{input: "R", want: StateRunning},
		{input: "sleep", want: StateSleeping},
		{input: "S", want: StateSleeping},
		{input: "D", want: StateDiskSleep},
		{input: "UN", want: StateDiskSleep},
		{input: "uninterruptible_sleep", want: StateDiskSleep},
		{input: "T", want: StateStopped},
		{input: "zombie", want: StateZombie},
		{input: "Z", want: StateZombie},
		{input: "flying", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseState(tt.input)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.input)
			continue
		}
		require.NoError(t, err, "input %q", tt.input)
		assert.Equal(t, tt.want, got, "input %q", tt.input)
	}
}

func TestPathSize(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a"), make([]byte, 100), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b"), make([]byte, 250), 0o644))

	size, err := PathSize(dir)
	require.NoError(t, err)
	assert.Equal(t, int64(350), size)

	size, err = PathSize(filepath.Join(dir, "a"))
	require.NoError(t, err)
	assert.Equal(t, int64(100), size)

	_, err = PathSize(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestResolveProcsByPID(t *testing.T) {
	procs, err := ResolveProcs([]string{strconv.Itoa(os.Getpid())})
	require.NoError(t, err)
	require.Len(t, procs, 1)
	assert.True(t, procs[0].Alive())
	assert.Equal(t, strconv.Itoa(os.Getpid()), procs[0].Label())
}

func TestResolveProcsUnknownName(t *testing.T) {
	procs, err := ResolveProcs([]string{"definitely-no-such-process-zzz"})
	require.NoError(t, err)
	assert.Empty(t, procs, "an unmatched name is a benign empty watch")
}

func TestFilesystemUsage(t *testing.T) {
	usage, err := FilesystemUsage(os.TempDir())
	require.NoError(t, err)
	assert.Greater(t, usage.Total, uint64(0))
	assert.GreaterOrEqual(t, usage.UsedPercent, 0.0)
}
