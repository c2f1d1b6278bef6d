package persistence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kahana-sysadmin/UnityEPL/pkg/api"
)

func sampleState(participant string, session int) *api.State {
	st := api.NewState(api.RunIdentity{Participant: participant, Session: session})
	st.SetCursor(0, 4)
	st.SetCursor(1, 2)
	st.SetCursor(2, 0)
	st.SetInt("list", 3)
	st.SetInt("word", 11)
	st.SetText("record_test_path", "/data/LTP001/session_2/microphone_test.wav")
	st.SetFlag("practice_done", true)
	return st
}

// testSnapshotStore exercises the behaviour every SnapshotStore shares.
func testSnapshotStore(t *testing.T, store SnapshotStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("missing snapshot", func(t *testing.T) {
		_, err := store.Load(ctx, api.RunIdentity{Participant: "nobody", Session: 9})
		assert.ErrorIs(t, err, ErrSnapshotNotFound)
	})

	t.Run("round trip", func(t *testing.T) {
		st := sampleState("LTP001", 2)
		require.NoError(t, store.Save(ctx, st))

		got, err := store.Load(ctx, st.Identity)
		require.NoError(t, err)
		assert.Equal(t, st.Clone(), got)
	})

	t.Run("save overwrites", func(t *testing.T) {
		st := sampleState("LTP001", 3)
		require.NoError(t, store.Save(ctx, st))

		st.SetCursor(0, 5)
		st.Complete = true
		delete(st.Flags, "practice_done")
		require.NoError(t, store.Save(ctx, st))

		got, err := store.Load(ctx, st.Identity)
		require.NoError(t, err)
		assert.Equal(t, 5, got.Cursor(0))
		assert.True(t, got.Complete)
		assert.False(t, got.Flag("practice_done"))
	})

	t.Run("sessions are independent", func(t *testing.T) {
		a := sampleState("LTP002", 0)
		b := sampleState("LTP002", 1)
		b.SetInt("list", 7)
		require.NoError(t, store.Save(ctx, a))
		require.NoError(t, store.Save(ctx, b))

		gotA, err := store.Load(ctx, a.Identity)
		require.NoError(t, err)
		gotB, err := store.Load(ctx, b.Identity)
		require.NoError(t, err)
		assert.Equal(t, 3, gotA.Int("list"))
		assert.Equal(t, 7, gotB.Int("list"))
	})

	t.Run("invalid identity", func(t *testing.T) {
		err := store.Save(ctx, api.NewState(api.RunIdentity{Session: 1}))
		assert.ErrorIs(t, err, api.ErrInvalidIdentity)
	})

	if lister, ok := store.(SnapshotLister); ok {
		t.Run("list", func(t *testing.T) {
			ids, err := lister.List(ctx)
			require.NoError(t, err)
			assert.Equal(t, []api.RunIdentity{
				{Participant: "LTP001", Session: 2},
				{Participant: "LTP001", Session: 3},
				{Participant: "LTP002", Session: 0},
				{Participant: "LTP002", Session: 1},
			}, ids)
		})
	}
}
