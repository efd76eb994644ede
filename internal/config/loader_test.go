package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFullRigfile(t *testing.T) {
	doc := []byte(`
name: ex1
interval: 2
delay: 3
repeat: 1
repeat_delay: 5
no_archive: true
monitors:
  logs:
    message: "oom-killer"
    count: 2
  filesystem:
    path: /tmp
    size: 1M
actions:
  kdump:
  noop:
    enabled: true
  gcore:
    procs: [1234]
`)
	cfg, warnings, err := Parse(doc)
	require.NoError(t, err)
	assert.Empty(t, warnings)

	assert.Equal(t, "ex1", cfg.Name)
	assert.Equal(t, 2, cfg.Interval)
	assert.Equal(t, 3, cfg.Delay)
	assert.Equal(t, 1, cfg.Repeat)
	assert.Equal(t, 5, cfg.RepeatDelay)
	assert.True(t, cfg.NoArchive)

	// declaration order is preserved, it breaks action priority ties
	assert.Equal(t, []string{"logs", "filesystem"}, cfg.Monitors.Names())
	assert.Equal(t, []string{"kdump", "noop", "gcore"}, cfg.Actions.Names())

	assert.Equal(t, "oom-killer", cfg.Monitors[0].Options["message"])
	assert.Empty(t, cfg.Actions[0].Options)
}

func TestParseDefaults(t *testing.T) {
	doc := []byte(`
monitors:
  timer:
    duration: 10
actions:
  noop:
`)
	cfg, warnings, err := Parse(doc)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, 1, cfg.Interval)
	assert.Equal(t, 1, cfg.RepeatDelay)
	assert.Equal(t, 0, cfg.Delay)
	assert.False(t, cfg.NoArchive)
	assert.Empty(t, cfg.Name)
}

func TestParseRejections(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "unknown top-level key",
			doc:  "bogus: 1\nmonitors:\n  timer:\n    duration: 1\nactions:\n  noop:\n",
			want: "bogus",
		},
		{
			name: "missing monitors",
			doc:  "actions:\n  noop:\n",
			want: "at least one monitor",
		},
		{
			name: "missing actions",
			doc:  "monitors:\n  timer:\n    duration: 1\n",
			want: "at least one action",
		},
		{
			name: "monitors not a mapping",
			doc:  "monitors: [logs]\nactions:\n  noop:\n",
			want: "mapping",
		},
		{
			name: "plugin options not a mapping",
			doc:  "monitors:\n  logs: [a]\nactions:\n  noop:\n",
			want: "options must be a mapping",
		},
		{
			name: "negative delay",
			doc:  "delay: -1\nmonitors:\n  timer:\n    duration: 1\nactions:\n  noop:\n",
			want: "delay",
		},
		{
			name: "bad codec",
			doc:  "codec: rar\nmonitors:\n  timer:\n    duration: 1\nactions:\n  noop:\n",
			want: "codec",
		},
		{
			name: "bad name",
			doc:  "name: Bad Name!\nmonitors:\n  timer:\n    duration: 1\nactions:\n  noop:\n",
			want: "name",
		},
		{
			name: "duplicate monitor",
			doc:  "monitors:\n  timer:\n    duration: 1\n  timer:\n    duration: 2\nactions:\n  noop:\n",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			if tt.want != "" {
				assert.Contains(t, err.Error(), tt.want)
			}
		})
	}
}

func TestIntervalClampWarning(t *testing.T) {
	doc := []byte(`
interval: 0
monitors:
  timer:
    duration: 1
actions:
  noop:
`)
	cfg, warnings, err := Parse(doc)
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "clamping")
	assert.Equal(t, 1, cfg.Interval)
}

func TestGenerateName(t *testing.T) {
	for range 20 {
		name := GenerateName()
		assert.Len(t, name, 5)
		assert.Regexp(t, `^[a-z]{5}$`, name)
	}
}
