package statemachine

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/kahana-sysadmin/UnityEPL/internal/eventqueue"
	"github.com/kahana-sysadmin/UnityEPL/pkg/api"
)

// StepContext is handed to every step invocation. It is only valid on the
// scheduler goroutine.
type StepContext struct {
	ctx     context.Context
	runner  *Runner
	machine *Machine
	index   int
	gen     uint64
	logger  *slog.Logger
}

func (sc *StepContext) Context() context.Context { return sc.ctx }

// State returns the run state. Steps mutate it directly.
func (sc *StepContext) State() *api.State { return sc.runner.state }

func (sc *StepContext) Machine() api.MachineID { return sc.machine.ID }

// Index is the position of the running step within its machine.
func (sc *StepContext) Index() int { return sc.index }

// Rand is the run's seeded random source.
func (sc *StepContext) Rand() *rand.Rand { return sc.runner.rng }

func (sc *StepContext) Logger() *slog.Logger { return sc.logger }

// Schedule runs it after delay on the scheduler goroutine. A zero delay makes
// it ready immediately.
func (sc *StepContext) Schedule(it eventqueue.Item, delay time.Duration) {
	sc.runner.schedule(it, delay)
}

// Resume applies c on behalf of a step that returned Suspend. It returns
// ErrStaleResume when the run has moved on since this step was dispatched, or
// the step has already been resumed.
func (sc *StepContext) Resume(c Continuation) error {
	return sc.runner.resume(sc.ctx, sc.gen, c)
}

// ResumeItem wraps Resume as a queue item, for use with Schedule or an inbox
// handler. A stale resumption is ignored.
func (sc *StepContext) ResumeItem(name string, c Continuation) eventqueue.Item {
	return eventqueue.Action(name, func() {
		_ = sc.Resume(c)
	})
}

// Waiting reports whether this step suspended and has not been resumed or
// abandoned since.
func (sc *StepContext) Waiting() bool {
	w := sc.runner.waiting
	return w != nil && w.gen == sc.gen
}
