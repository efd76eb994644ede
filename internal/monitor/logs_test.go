package monitor

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/rig/internal/plugin"
)

// newTestSlogger returns a logger capturing JSON records in a buffer.
func newTestSlogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(handler), &buf
}

func testEnv(t *testing.T) *plugin.Env {
	t.Helper()
	logger, _ := newTestSlogger()
	return &plugin.Env{
		RigName:  "test",
		WorkDir:  t.TempDir(),
		Interval: time.Second,
		Logger:   logger,
	}
}

// buildMonitor validates options against the registry schema and
// constructs the instance, the way the runtime does.
func buildMonitor(t *testing.T, name string, raw map[string]any) plugin.Monitor {
	t.Helper()
	for _, spec := range Specs() {
		if spec.Name != name {
			continue
		}
		opts, err := spec.Schema.Validate(name, raw)
		require.NoError(t, err)
		mon, err := spec.New(opts, testEnv(t))
		require.NoError(t, err)
		return mon
	}
	t.Fatalf("no monitor spec named %q", name)
	return nil
}

func appendLine(t *testing.T, path, line string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	defer f.Close()
	_, err = f.WriteString(line)
	require.NoError(t, err)
}

func TestLogsMonitorMatchesFileLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.log")
	appendLine(t, path, "already here\n")

	mon := buildMonitor(t, "logs", map[string]any{
		"message":  "boom",
		"files":    path,
		"journals": nil,
	})
	ctx := context.Background()
	require.NoError(t, mon.Start(ctx))
	defer mon.Stop()

	trip, err := mon.Poll(ctx)
	require.NoError(t, err)
	assert.Nil(t, trip, "pre-existing lines are not matched")

	appendLine(t, path, "preboom\n")
	trip, err = mon.Poll(ctx)
	require.NoError(t, err)
	assert.Nil(t, trip, "patterns anchor at the start of the line")

	appendLine(t, path, "boom occurred\n")
	trip, err = mon.Poll(ctx)
	require.NoError(t, err)
	require.NotNil(t, trip)
	assert.Equal(t, "logs", trip.Monitor)
	assert.Equal(t, path, trip.Source)
	assert.Contains(t, trip.Evidence, "boom occurred")
}

func TestLogsMonitorCountAcrossPolls(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.log")
	appendLine(t, path, "")

	mon := buildMonitor(t, "logs", map[string]any{
		"message":  "fail",
		"count":    3,
		"files":    path,
		"journals": nil,
	})
	ctx := context.Background()
	require.NoError(t, mon.Start(ctx))
	defer mon.Stop()

	appendLine(t, path, "fail one\nfail two\n")
	trip, err := mon.Poll(ctx)
	require.NoError(t, err)
	assert.Nil(t, trip, "two matches do not reach count 3")

	appendLine(t, path, "unrelated\n")
	trip, err = mon.Poll(ctx)
	require.NoError(t, err)
	assert.Nil(t, trip)

	appendLine(t, path, "fail three\n")
	trip, err = mon.Poll(ctx)
	require.NoError(t, err)
	require.NotNil(t, trip, "the counter is cumulative across polls")
	assert.Contains(t, trip.Evidence, "fail three")
}

func TestLogsMonitorCaseInsensitive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.log")
	appendLine(t, path, "")

	mon := buildMonitor(t, "logs", map[string]any{
		"message":  "Out Of Memory",
		"files":    path,
		"journals": nil,
	})
	ctx := context.Background()
	require.NoError(t, mon.Start(ctx))
	defer mon.Stop()

	appendLine(t, path, "OUT OF MEMORY: killed process 4242\n")
	trip, err := mon.Poll(ctx)
	require.NoError(t, err)
	assert.NotNil(t, trip)
}

func TestLogsMonitorMissingFileIsBenign(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "never-created.log")

	mon := buildMonitor(t, "logs", map[string]any{
		"message":  "boom",
		"files":    missing,
		"journals": nil,
	})
	ctx := context.Background()
	require.NoError(t, mon.Start(ctx), "nonexistent files are silently ignored")
	defer mon.Stop()

	trip, err := mon.Poll(ctx)
	require.NoError(t, err)
	assert.Nil(t, trip)
}

func TestLogsMonitorBadRegexRejected(t *testing.T) {
	for _, spec := range Specs() {
		if spec.Name != "logs" {
			continue
		}
		opts, err := spec.Schema.Validate("logs", map[string]any{"message": "([unclosed"})
		require.NoError(t, err)
		_, err = spec.New(opts, testEnv(t))
		assert.Error(t, err)
	}
}

func TestLogsMonitorNoSourcesRejected(t *testing.T) {
	for _, spec := range Specs() {
		if spec.Name != "logs" {
			continue
		}
		opts, err := spec.Schema.Validate("logs", map[string]any{
			"message": "x", "files": nil, "journals": nil,
		})
		require.NoError(t, err)
		_, err = spec.New(opts, testEnv(t))
		assert.Error(t, err, "both sources null leaves nothing to watch")
	}
}
