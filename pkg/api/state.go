package api

import (
	"errors"
	"fmt"
	"maps"
)

// MachineID identifies one state machine of an experiment. Experiments declare
// their machines as a closed set of MachineID constants.
type MachineID int

// NoMachine is the parent of a root machine.
const NoMachine MachineID = -1

// RunStatus is the lifecycle status of a run as seen by the runner.
type RunStatus string

const (
	StatusInitial   RunStatus = "INITIAL"
	StatusRunning   RunStatus = "RUNNING"
	StatusSuspended RunStatus = "SUSPENDED"
	StatusComplete  RunStatus = "COMPLETE"
	StatusFailed    RunStatus = "FAILED"
)

// ErrInvalidIdentity is returned for a run identity without a participant or
// with a negative session number.
var ErrInvalidIdentity = errors.New("invalid run identity")

// RunIdentity is the key under which a run's snapshot and artifacts are grouped.
type RunIdentity struct {
	Participant string
	Session     int
}

// Key returns the canonical "participant/session" form of the identity.
func (id RunIdentity) Key() string {
	return fmt.Sprintf("%s/%d", id.Participant, id.Session)
}

func (id RunIdentity) Validate() error {
	if id.Participant == "" {
		return fmt.Errorf("%w: participant is required", ErrInvalidIdentity)
	}
	if id.Session < 0 {
		return fmt.Errorf("%w: session %d is negative", ErrInvalidIdentity, id.Session)
	}
	return nil
}

// State is the single source of truth for where a run currently is.
//
// Cursors hold one index per machine. The remaining maps are experiment-defined
// extension fields. A State is only mutated on the scheduler goroutine.
type State struct {
	Identity RunIdentity
	Cursors  map[MachineID]int
	Complete bool

	Ints    map[string]int
	Strings map[string]string
	Flags   map[string]bool
}

// NewState returns a fresh State with every cursor at zero.
func NewState(id RunIdentity) *State {
	return &State{
		Identity: id,
		Cursors:  make(map[MachineID]int),
		Ints:     make(map[string]int),
		Strings:  make(map[string]string),
		Flags:    make(map[string]bool),
	}
}

func (s *State) Cursor(m MachineID) int {
	return s.Cursors[m]
}

func (s *State) SetCursor(m MachineID, v int) {
	if s.Cursors == nil {
		s.Cursors = make(map[MachineID]int)
	}
	s.Cursors[m] = v
}

func (s *State) Int(key string) int {
	return s.Ints[key]
}

func (s *State) SetInt(key string, v int) {
	if s.Ints == nil {
		s.Ints = make(map[string]int)
	}
	s.Ints[key] = v
}

// Incr adds one to an integer field and returns the new value.
func (s *State) Incr(key string) int {
	s.SetInt(key, s.Int(key)+1)
	return s.Ints[key]
}

func (s *State) Text(key string) string {
	return s.Strings[key]
}

func (s *State) SetText(key, v string) {
	if s.Strings == nil {
		s.Strings = make(map[string]string)
	}
	s.Strings[key] = v
}

func (s *State) Flag(key string) bool {
	return s.Flags[key]
}

func (s *State) SetFlag(key string, v bool) {
	if s.Flags == nil {
		s.Flags = make(map[string]bool)
	}
	s.Flags[key] = v
}

// Clone returns a deep copy. Nil maps in s become empty maps in the copy.
func (s *State) Clone() *State {
	c := NewState(s.Identity)
	c.Complete = s.Complete
	maps.Copy(c.Cursors, s.Cursors)
	maps.Copy(c.Ints, s.Ints)
	maps.Copy(c.Strings, s.Strings)
	maps.Copy(c.Flags, s.Flags)
	return c
}

// KeyEvent is the payload delivered by keyboard-like input sources.
type KeyEvent struct {
	Key  string
	Down bool
}
