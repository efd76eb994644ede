package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerMonitor(t *testing.T) {
	mon := buildMonitor(t, "timer", map[string]any{"duration": 1})
	ctx := context.Background()
	require.NoError(t, mon.Start(ctx))
	defer mon.Stop()

	trip, err := mon.Poll(ctx)
	require.NoError(t, err)
	assert.Nil(t, trip, "the duration has not elapsed yet")

	time.Sleep(1100 * time.Millisecond)
	trip, err = mon.Poll(ctx)
	require.NoError(t, err)
	require.NotNil(t, trip)
	assert.Equal(t, "timer", trip.Monitor)
}

func TestTimerMonitorRejectsZeroDuration(t *testing.T) {
	for _, spec := range Specs() {
		if spec.Name != "timer" {
			continue
		}
		opts, err := spec.Schema.Validate("timer", map[string]any{"duration": 0})
		require.NoError(t, err)
		_, err = spec.New(opts, testEnv(t))
		assert.Error(t, err)
	}
}
