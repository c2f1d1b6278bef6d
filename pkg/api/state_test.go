package api

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunIdentity_KeyAndValidate(t *testing.T) {
	id := RunIdentity{Participant: "R1001P", Session: 3}
	assert.Equal(t, "R1001P/3", id.Key())
	require.NoError(t, id.Validate())

	err := RunIdentity{Session: 1}.Validate()
	require.True(t, errors.Is(err, ErrInvalidIdentity))

	err = RunIdentity{Participant: "x", Session: -1}.Validate()
	require.True(t, errors.Is(err, ErrInvalidIdentity))
}

func TestState_FieldsOnZeroValue(t *testing.T) {
	var st State

	st.SetCursor(MachineID(2), 4)
	st.SetInt("list", 1)
	st.SetText("record_test_path", "/tmp/a.wav")
	st.SetFlag("practice", true)

	assert.Equal(t, 4, st.Cursor(2))
	assert.Equal(t, 0, st.Cursor(7))
	assert.Equal(t, 2, st.Incr("list"))
	assert.Equal(t, "/tmp/a.wav", st.Text("record_test_path"))
	assert.True(t, st.Flag("practice"))
	assert.False(t, st.Flag("missing"))
}

func TestState_CloneIsDeep(t *testing.T) {
	st := NewState(RunIdentity{Participant: "p", Session: 0})
	st.SetCursor(0, 1)
	st.SetInt("word", 3)
	st.Complete = true

	c := st.Clone()
	require.Equal(t, st, c)

	c.SetCursor(0, 9)
	c.SetInt("word", 0)
	assert.Equal(t, 1, st.Cursor(0))
	assert.Equal(t, 3, st.Int("word"))
}
