package monitor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePad(t *testing.T, path string, size int) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
}

func TestFilesystemMonitorSizeThreshold(t *testing.T) {
	dir := t.TempDir()
	writePad(t, filepath.Join(dir, "pad"), 512<<10)

	mon := buildMonitor(t, "filesystem", map[string]any{
		"path": dir,
		"size": "1M",
	})
	ctx := context.Background()
	require.NoError(t, mon.Start(ctx))
	defer mon.Stop()

	trip, err := mon.Poll(ctx)
	require.NoError(t, err)
	assert.Nil(t, trip, "512K under a 1M threshold must not trip")

	writePad(t, filepath.Join(dir, "pad2"), 2<<20)
	trip, err = mon.Poll(ctx)
	require.NoError(t, err)
	require.NotNil(t, trip, "2M over a 1M threshold trips")
	assert.Equal(t, "filesystem", trip.Monitor)
	assert.Equal(t, dir, trip.Source)
}

func TestFilesystemMonitorRegularFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "grow")
	writePad(t, file, 10)

	mon := buildMonitor(t, "filesystem", map[string]any{
		"path": file,
		"size": 1024,
	})
	ctx := context.Background()
	require.NoError(t, mon.Start(ctx))
	defer mon.Stop()

	trip, err := mon.Poll(ctx)
	require.NoError(t, err)
	assert.Nil(t, trip)

	writePad(t, file, 4096)
	trip, err = mon.Poll(ctx)
	require.NoError(t, err)
	assert.NotNil(t, trip)
}

func TestFilesystemMonitorValidation(t *testing.T) {
	for _, spec := range Specs() {
		if spec.Name != "filesystem" {
			continue
		}

		t.Run("no thresholds", func(t *testing.T) {
			opts, err := spec.Schema.Validate("filesystem", map[string]any{"path": "/tmp"})
			require.NoError(t, err)
			_, err = spec.New(opts, testEnv(t))
			assert.Error(t, err)
		})

		t.Run("missing path", func(t *testing.T) {
			opts, err := spec.Schema.Validate("filesystem", map[string]any{
				"path": "/does/not/exist/anywhere", "size": "1M",
			})
			require.NoError(t, err)
			_, err = spec.New(opts, testEnv(t))
			assert.Error(t, err, "the path must exist at deployment")
		})

		t.Run("bad used_perc", func(t *testing.T) {
			opts, err := spec.Schema.Validate("filesystem", map[string]any{
				"path": "/tmp", "used_perc": 150,
			})
			require.NoError(t, err)
			_, err = spec.New(opts, testEnv(t))
			assert.Error(t, err)
		})
	}
}
