package state

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, filepath.Join(t.TempDir(), "rig-events.db"))
	require.NoError(t, err)
	defer store.Close()

	store.Record(ctx, KindDeployed, "rig", "pid 1234")
	store.Record(ctx, KindError, "logs", "transient read failure")
	store.Record(ctx, KindTriggered, "logs", "/tmp/t.log: \"boom\"")

	events, err := store.Events(ctx)
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, KindDeployed, events[0].Kind)
	assert.Equal(t, "rig", events[0].Component)
	assert.Equal(t, KindError, events[1].Kind)
	assert.Equal(t, "logs", events[1].Component)
	assert.Equal(t, KindTriggered, events[2].Kind)
	assert.NotEmpty(t, events[0].ID)
	assert.False(t, events[0].At.IsZero())
}

func TestStoreReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "rig-events.db")

	store, err := Open(ctx, path)
	require.NoError(t, err)
	store.Record(ctx, KindDeployed, "rig", "first life")
	require.NoError(t, store.Close())

	store, err = Open(ctx, path)
	require.NoError(t, err)
	defer store.Close()
	events, err := store.Events(ctx)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestNilStoreIsSafe(t *testing.T) {
	var store *Store
	store.Record(context.Background(), KindError, "x", "y")
	assert.NoError(t, store.Close())
}
