package plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSize(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int64
		wantErr bool
	}{
		{name: "bare bytes", input: "100", want: 100},
		{name: "kilobytes", input: "512K", want: 512 << 10},
		{name: "megabytes", input: "1M", want: 1 << 20},
		{name: "gigabytes", input: "2G", want: 2 << 30},
		{name: "terabytes", input: "1T", want: 1 << 40},
		{name: "lowercase unit", input: "10m", want: 10 << 20},
		{name: "fractional", input: "1.5K", want: 1536},
		{name: "explicit bytes", input: "64B", want: 64},
		{name: "garbage", input: "abc", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSize(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSchemaValidate(t *testing.T) {
	schema := Schema{
		"message": {Kind: String, Required: true},
		"count":   {Kind: Int, Default: 1},
		"files":   {Kind: Strings, Default: "/var/log/messages"},
		"rss":     {Kind: Size},
		"freeze":  {Kind: Bool, Default: false},
	}

	t.Run("defaults fill unset fields", func(t *testing.T) {
		opts, err := schema.Validate("logs", map[string]any{"message": "boom"})
		require.NoError(t, err)
		assert.Equal(t, "boom", opts.String("message"))
		assert.Equal(t, 1, opts.Int("count"))
		assert.Equal(t, []string{"/var/log/messages"}, opts.Strings("files"))
		assert.False(t, opts.Bool("freeze"))
		assert.False(t, opts.Has("rss"))
	})

	t.Run("unknown field rejected", func(t *testing.T) {
		_, err := schema.Validate("logs", map[string]any{"message": "x", "bogus": 1})
		require.Error(t, err)
		assert.Contains(t, err.Error(), `unknown field "bogus"`)
	})

	t.Run("required field missing", func(t *testing.T) {
		_, err := schema.Validate("logs", map[string]any{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), `required field "message" missing`)
	})

	t.Run("type mismatch reported", func(t *testing.T) {
		_, err := schema.Validate("logs", map[string]any{"message": 42})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "must be a string")
	})

	t.Run("all problems collected at once", func(t *testing.T) {
		_, err := schema.Validate("logs", map[string]any{"count": "three", "bogus": true})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bogus")
		assert.Contains(t, err.Error(), "count")
		assert.Contains(t, err.Error(), "message")
	})

	t.Run("size accepts string and int", func(t *testing.T) {
		opts, err := schema.Validate("logs", map[string]any{"message": "x", "rss": "1M"})
		require.NoError(t, err)
		assert.Equal(t, int64(1<<20), opts.Size("rss"))

		opts, err = schema.Validate("logs", map[string]any{"message": "x", "rss": 4096})
		require.NoError(t, err)
		assert.Equal(t, int64(4096), opts.Size("rss"))
	})

	t.Run("strings accepts scalar and list", func(t *testing.T) {
		opts, err := schema.Validate("logs", map[string]any{"message": "x", "files": "/tmp/a"})
		require.NoError(t, err)
		assert.Equal(t, []string{"/tmp/a"}, opts.Strings("files"))

		opts, err = schema.Validate("logs", map[string]any{
			"message": "x", "files": []any{"/tmp/a", "/tmp/b"},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"/tmp/a", "/tmp/b"}, opts.Strings("files"))
	})

	t.Run("strings null disables the source set", func(t *testing.T) {
		opts, err := schema.Validate("logs", map[string]any{"message": "x", "files": nil})
		require.NoError(t, err)
		assert.Empty(t, opts.Strings("files"))
	})
}

func TestRegistryDuplicates(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.AddMonitor(MonitorSpec{Name: "logs"}))
	assert.Error(t, reg.AddMonitor(MonitorSpec{Name: "logs"}))

	require.NoError(t, reg.AddAction(ActionSpec{Name: "noop", Weight: 90}))
	assert.Error(t, reg.AddAction(ActionSpec{Name: "noop"}))

	_, ok := reg.Monitor("logs")
	assert.True(t, ok)
	_, ok = reg.Action("missing")
	assert.False(t, ok)
}
