package statemachine

import (
	"errors"
	"fmt"
	"slices"

	"github.com/kahana-sysadmin/UnityEPL/pkg/api"
)

// ErrInvalidMachine is returned when a machine set is malformed or a step
// enters a machine that is not its child.
var ErrInvalidMachine = errors.New("invalid machine definition")

// StepFunc is the body of one step. It runs on the scheduler goroutine and must
// not block.
type StepFunc func(sc *StepContext) (Continuation, error)

// Step is one named unit of a machine.
type Step struct {
	Name string
	Fn   StepFunc
}

// Machine is an ordered list of steps with its own cursor in State.
type Machine struct {
	ID     api.MachineID
	Name   string
	Parent api.MachineID
	Steps  []Step

	// Repeat is consulted when the cursor reaches the end of Steps. Returning
	// true restarts the machine at step zero instead of returning to Parent.
	Repeat func(st *api.State) bool

	// Done is consulted before every dispatch of the machine. Returning true
	// completes the run.
	Done func(st *api.State) bool
}

type registry struct {
	byID map[api.MachineID]*Machine
	root *Machine
}

func newRegistry(machines []Machine, root api.MachineID) (*registry, error) {
	if len(machines) == 0 {
		return nil, fmt.Errorf("%w: no machines", ErrInvalidMachine)
	}

	machines = slices.Clone(machines)
	r := &registry{byID: make(map[api.MachineID]*Machine, len(machines))}
	for i := range machines {
		m := &machines[i]
		if _, dup := r.byID[m.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate machine id %d", ErrInvalidMachine, m.ID)
		}
		if len(m.Steps) == 0 {
			return nil, fmt.Errorf("%w: machine %q has no steps", ErrInvalidMachine, m.Name)
		}
		for j, s := range m.Steps {
			if s.Fn == nil {
				return nil, fmt.Errorf("%w: machine %q step %d has no function", ErrInvalidMachine, m.Name, j)
			}
		}
		r.byID[m.ID] = m
	}

	rm, ok := r.byID[root]
	if !ok {
		return nil, fmt.Errorf("%w: root machine %d not defined", ErrInvalidMachine, root)
	}
	if rm.Parent != api.NoMachine {
		return nil, fmt.Errorf("%w: root machine %q has a parent", ErrInvalidMachine, rm.Name)
	}
	r.root = rm

	for _, m := range r.byID {
		if m == rm {
			continue
		}
		if m.Parent == api.NoMachine {
			return nil, fmt.Errorf("%w: machine %q has no parent", ErrInvalidMachine, m.Name)
		}
		// Every chain of parents must reach the root within len(machines) hops.
		cur := m
		for hops := 0; cur != rm; hops++ {
			if hops > len(machines) {
				return nil, fmt.Errorf("%w: parent cycle through %q", ErrInvalidMachine, m.Name)
			}
			p, ok := r.byID[cur.Parent]
			if !ok {
				return nil, fmt.Errorf("%w: machine %q has unknown parent %d", ErrInvalidMachine, cur.Name, cur.Parent)
			}
			cur = p
		}
	}
	return r, nil
}

func (r *registry) get(id api.MachineID) (*Machine, bool) {
	m, ok := r.byID[id]
	return m, ok
}

// validCursors reports whether every cursor in st names a known machine and
// lies within [0, len(steps)].
func (r *registry) validCursors(st *api.State) error {
	for id, c := range st.Cursors {
		m, ok := r.byID[id]
		if !ok {
			return fmt.Errorf("cursor for unknown machine %d", id)
		}
		if c < 0 || c > len(m.Steps) {
			return fmt.Errorf("machine %q cursor %d outside [0, %d]", m.Name, c, len(m.Steps))
		}
	}
	return nil
}
