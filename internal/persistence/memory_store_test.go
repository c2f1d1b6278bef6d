package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kahana-sysadmin/UnityEPL/pkg/api"
)

func TestInMemoryStore(t *testing.T) {
	testSnapshotStore(t, NewInMemoryStore())
}

func TestInMemoryStore_DoesNotAliasState(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	st := sampleState("LTP001", 1)
	require.NoError(t, store.Save(ctx, st))

	st.SetCursor(0, 99)
	got, err := store.Load(ctx, st.Identity)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Cursor(0))

	got.SetInt("list", 42)
	again, err := store.Load(ctx, st.Identity)
	require.NoError(t, err)
	assert.Equal(t, 3, again.Int("list"))
}

func TestInMemoryStore_CorruptSnapshot(t *testing.T) {
	store := NewInMemoryStore()
	id := api.RunIdentity{Participant: "LTP001", Session: 1}
	store.Put(id, []byte("garbage"))

	_, err := store.Load(context.Background(), id)
	assert.ErrorIs(t, err, ErrCorruptSnapshot)
	assert.Equal(t, 1, store.Len())
}

func TestInMemoryEventStore_AppendAndList(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryEventStore()
	run := api.RunIdentity{Participant: "LTP001", Session: 1}
	other := api.RunIdentity{Participant: "LTP002", Session: 1}

	data := map[string]any{"key": "space"}
	require.NoError(t, store.AppendEvent(ctx, api.Event{Identity: run, Type: api.EventKey, Data: data}))
	require.NoError(t, store.AppendEvent(ctx, api.Event{Identity: other, Type: api.EventSessionStart}))
	require.NoError(t, store.AppendEvent(ctx, api.Event{
		ID:       "fixed",
		Identity: run,
		At:       time.Unix(100, 0),
		Type:     api.EventExperimentEnd,
	}))
	data["key"] = "mutated"

	evs, err := store.ListEvents(ctx, run)
	require.NoError(t, err)
	require.Len(t, evs, 2)

	assert.NotEmpty(t, evs[0].ID)
	assert.False(t, evs[0].At.IsZero())
	assert.Equal(t, api.EventKey, evs[0].Type)
	assert.Equal(t, "space", evs[0].Data["key"])

	assert.Equal(t, "fixed", evs[1].ID)
	assert.Equal(t, api.EventExperimentEnd, evs[1].Type)

	none, err := store.ListEvents(ctx, api.RunIdentity{Participant: "x"})
	require.NoError(t, err)
	assert.Empty(t, none)
}
