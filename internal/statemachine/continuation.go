package statemachine

import (
	"fmt"
	"time"

	"github.com/kahana-sysadmin/UnityEPL/pkg/api"
)

type contKind int

const (
	kindNext contKind = iota
	kindGoto
	kindAgain
	kindEnter
	kindSuspend
	kindComplete
)

// Continuation tells the runner what to do once a step returns. Steps never
// dispatch machines themselves.
type Continuation struct {
	kind  contKind
	index int
	child api.MachineID
	delay time.Duration
}

// Next advances the machine's cursor by one and dispatches it.
func Next() Continuation { return Continuation{kind: kindNext} }

// Goto moves the machine's cursor to step i and dispatches it. Goto(len(steps))
// triggers the machine's loop check.
func Goto(i int) Continuation { return Continuation{kind: kindGoto, index: i} }

// Again re-dispatches the current step.
func Again() Continuation { return Continuation{kind: kindAgain} }

// Enter dispatches child, which must be a direct child of the current machine.
// The current cursor stays on the entering step until the child reaches its
// end, which advances it.
func Enter(child api.MachineID) Continuation {
	return Continuation{kind: kindEnter, child: child}
}

// Suspend leaves the cursor where it is and schedules nothing. The step is
// expected to arrange a later StepContext.Resume, typically from an inbox
// handler.
func Suspend() Continuation { return Continuation{kind: kindSuspend} }

// Complete marks the run complete.
func Complete() Continuation { return Continuation{kind: kindComplete} }

// After delays the dispatch that follows c by d. It has no effect on Suspend
// and Complete.
func (c Continuation) After(d time.Duration) Continuation {
	if d < 0 {
		d = 0
	}
	c.delay = d
	return c
}

// Delay is how long the runner waits before the next dispatch.
func (c Continuation) Delay() time.Duration { return c.delay }

func (c Continuation) String() string {
	var s string
	switch c.kind {
	case kindNext:
		s = "next"
	case kindGoto:
		s = fmt.Sprintf("goto(%d)", c.index)
	case kindAgain:
		s = "again"
	case kindEnter:
		s = fmt.Sprintf("enter(%d)", c.child)
	case kindSuspend:
		return "suspend"
	case kindComplete:
		return "complete"
	default:
		return "unknown"
	}
	if c.delay > 0 {
		s += " after " + c.delay.String()
	}
	return s
}
