// Package statemachine drives a hierarchy of step machines on top of an
// event queue and persists the run state after every transition.
package statemachine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/kahana-sysadmin/UnityEPL/internal/eventqueue"
	"github.com/kahana-sysadmin/UnityEPL/internal/persistence"
	"github.com/kahana-sysadmin/UnityEPL/pkg/api"
)

var (
	// ErrCursorOutOfRange is fatal: a machine was dispatched with a cursor
	// outside [0, len(steps)].
	ErrCursorOutOfRange = errors.New("cursor out of range")

	// ErrStaleResume is returned by StepContext.Resume when the suspension it
	// refers to is no longer current.
	ErrStaleResume = errors.New("stale resume")

	ErrAlreadyStarted = errors.New("runner already started")
)

// Scheduler is the part of the event queue the runner needs.
// *eventqueue.Queue satisfies it.
type Scheduler interface {
	Enqueue(it eventqueue.Item)
	EnqueueAfter(it eventqueue.Item, delay time.Duration)
}

// Config describes one run.
type Config struct {
	Machines []Machine
	Root     api.MachineID
	Identity api.RunIdentity

	Queue Scheduler
	Store persistence.SnapshotStore

	// Optional.
	Observer   api.Observer
	Logger     *slog.Logger
	Rand       *rand.Rand
	OnComplete func(ctx context.Context, st *api.State)
}

type suspension struct {
	machine *Machine
	index   int
	gen     uint64
}

// Runner owns the State of one run and interprets the continuations returned
// by steps. Except for Status and Err, its methods must be called on the
// scheduler goroutine.
type Runner struct {
	machines   *registry
	sched      Scheduler
	store      persistence.SnapshotStore
	observer   api.Observer
	logger     *slog.Logger
	rng        *rand.Rand
	onComplete func(ctx context.Context, st *api.State)

	state   *api.State
	resumed bool
	gen     uint64
	waiting *suspension

	mu      sync.Mutex
	status  api.RunStatus
	err     error
	stepErr error
}

// New validates the machine set and loads the snapshot for cfg.Identity. An
// absent or corrupt snapshot starts a fresh run; any other load error is
// returned.
func New(ctx context.Context, cfg Config) (*Runner, error) {
	if err := cfg.Identity.Validate(); err != nil {
		return nil, err
	}
	if cfg.Queue == nil {
		return nil, errors.New("statemachine: queue is required")
	}
	reg, err := newRegistry(cfg.Machines, cfg.Root)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	store := cfg.Store
	if store == nil {
		store = persistence.NewInMemoryStore()
	}
	obs := cfg.Observer
	if obs == nil {
		obs = api.NewLoggingObserver(logger)
	}
	rng := cfg.Rand
	if rng == nil {
		seed := uint64(time.Now().UnixNano())
		rng = rand.New(rand.NewPCG(seed, seed>>1))
	}

	r := &Runner{
		machines:   reg,
		sched:      cfg.Queue,
		store:      store,
		observer:   obs,
		logger:     logger.With(slog.String("run", cfg.Identity.Key())),
		rng:        rng,
		onComplete: cfg.OnComplete,
		status:     api.StatusInitial,
	}

	st, err := store.Load(ctx, cfg.Identity)
	switch {
	case err == nil:
		if verr := r.checkSnapshot(cfg.Identity, st); verr != nil {
			r.logger.WarnContext(ctx, "snapshot_discarded", slog.Any("error", verr))
			st = api.NewState(cfg.Identity)
		} else {
			r.resumed = true
		}
	case errors.Is(err, persistence.ErrSnapshotNotFound):
		st = api.NewState(cfg.Identity)
	case errors.Is(err, persistence.ErrCorruptSnapshot):
		r.logger.WarnContext(ctx, "snapshot_discarded", slog.Any("error", err))
		st = api.NewState(cfg.Identity)
	default:
		return nil, fmt.Errorf("load snapshot %s: %w", cfg.Identity.Key(), err)
	}
	r.state = st
	return r, nil
}

func (r *Runner) checkSnapshot(id api.RunIdentity, st *api.State) error {
	if st == nil {
		return fmt.Errorf("%w: empty snapshot", persistence.ErrCorruptSnapshot)
	}
	if st.Identity != id {
		return fmt.Errorf("%w: snapshot belongs to %s", persistence.ErrCorruptSnapshot, st.Identity.Key())
	}
	if err := r.machines.validCursors(st); err != nil {
		return fmt.Errorf("%w: %v", persistence.ErrCorruptSnapshot, err)
	}
	return nil
}

// Start schedules the first dispatch of the root machine. On a resumed run
// every machine continues from its persisted cursor. Starting a run whose
// snapshot is already complete only reports completion.
func (r *Runner) Start(ctx context.Context) error {
	if r.Status() != api.StatusInitial {
		return ErrAlreadyStarted
	}
	r.observer.OnRunStart(ctx, r.state, r.resumed)

	if r.state.Complete {
		r.setStatus(api.StatusComplete)
		r.observer.OnRunCompleted(ctx, r.state)
		return nil
	}
	r.setStatus(api.StatusRunning)
	r.sched.Enqueue(r.dispatchItem(r.machines.root.ID))
	return nil
}

// Dispatch runs the machine id at its current cursor. A machine whose cursor
// sits at its end is resolved through its loop check first. Dispatch abandons
// any outstanding suspension.
func (r *Runner) Dispatch(ctx context.Context, id api.MachineID) error {
	r.waiting = nil
	for {
		switch r.Status() {
		case api.StatusComplete, api.StatusFailed:
			return nil
		case api.StatusInitial, api.StatusSuspended:
			r.setStatus(api.StatusRunning)
		}

		m, ok := r.machines.get(id)
		if !ok {
			return r.fail(ctx, fmt.Errorf("%w: dispatch of unknown machine %d", ErrInvalidMachine, id))
		}
		if m.Done != nil && m.Done(r.state) {
			return r.complete(ctx)
		}

		cur := r.state.Cursor(id)
		if cur < 0 || cur > len(m.Steps) {
			return r.fail(ctx, fmt.Errorf("%w: machine %q cursor %d, %d steps", ErrCursorOutOfRange, m.Name, cur, len(m.Steps)))
		}
		if cur < len(m.Steps) {
			return r.runStep(ctx, m, cur)
		}

		r.state.SetCursor(id, 0)
		if m.Repeat != nil && m.Repeat(r.state) {
			r.save(ctx)
			continue
		}
		if m.Parent == api.NoMachine {
			return r.complete(ctx)
		}
		r.state.SetCursor(m.Parent, r.state.Cursor(m.Parent)+1)
		r.save(ctx)
		id = m.Parent
	}
}

func (r *Runner) runStep(ctx context.Context, m *Machine, idx int) error {
	step := m.Steps[idx]
	r.gen++
	sc := &StepContext{
		ctx:     ctx,
		runner:  r,
		machine: m,
		index:   idx,
		gen:     r.gen,
		logger:  r.logger.With(slog.String("machine", m.Name), slog.String("step", step.Name)),
	}

	r.observer.OnStepStart(ctx, r.state, m.Name, step.Name, idx)
	start := time.Now()
	cont, err := callStep(step.Fn, sc)
	r.observer.OnStepCompleted(ctx, r.state, m.Name, step.Name, idx, err, time.Since(start))
	if err != nil {
		err = fmt.Errorf("step %s[%d] %s: %w", m.Name, idx, step.Name, err)
		r.setStepErr(err)
		return err
	}
	r.setStepErr(nil)
	return r.apply(ctx, m, idx, sc.gen, cont)
}

func callStep(fn StepFunc, sc *StepContext) (cont Continuation, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", eventqueue.ErrItemPanicked, p)
		}
	}()
	return fn(sc)
}

// apply interprets c for the step at m[idx] that was dispatched as generation
// gen, saves the state and schedules the follow-up dispatch.
func (r *Runner) apply(ctx context.Context, m *Machine, idx int, gen uint64, c Continuation) error {
	target := m.ID
	switch c.kind {
	case kindNext:
		r.state.SetCursor(m.ID, idx+1)
	case kindGoto:
		if c.index < 0 || c.index > len(m.Steps) {
			return r.fail(ctx, fmt.Errorf("%w: %q goto(%d), %d steps", ErrCursorOutOfRange, m.Name, c.index, len(m.Steps)))
		}
		r.state.SetCursor(m.ID, c.index)
	case kindAgain:
		r.state.SetCursor(m.ID, idx)
	case kindEnter:
		child, ok := r.machines.get(c.child)
		if !ok || child.Parent != m.ID {
			return r.fail(ctx, fmt.Errorf("%w: %q cannot enter machine %d", ErrInvalidMachine, m.Name, c.child))
		}
		r.state.SetCursor(m.ID, idx)
		target = child.ID
	case kindSuspend:
		r.waiting = &suspension{machine: m, index: idx, gen: gen}
		r.setStatus(api.StatusSuspended)
		r.save(ctx)
		r.observer.OnSuspended(ctx, r.state, m.Name, m.Steps[idx].Name, idx)
		return nil
	case kindComplete:
		return r.complete(ctx)
	default:
		return r.fail(ctx, fmt.Errorf("statemachine: unknown continuation %v", c))
	}

	r.save(ctx)
	r.schedule(r.dispatchItem(target), c.delay)
	return nil
}

func (r *Runner) resume(ctx context.Context, gen uint64, c Continuation) error {
	w := r.waiting
	if w == nil || w.gen != gen || r.Status() != api.StatusSuspended {
		return ErrStaleResume
	}
	r.waiting = nil
	r.setStatus(api.StatusRunning)
	return r.apply(ctx, w.machine, w.index, w.gen, c)
}

func (r *Runner) complete(ctx context.Context) error {
	r.waiting = nil
	r.state.Complete = true
	r.setStatus(api.StatusComplete)
	r.save(ctx)
	r.observer.OnRunCompleted(ctx, r.state)
	if r.onComplete != nil {
		r.onComplete(ctx, r.state)
	}
	return nil
}

func (r *Runner) fail(ctx context.Context, err error) error {
	r.waiting = nil
	r.mu.Lock()
	r.status = api.StatusFailed
	r.err = err
	r.mu.Unlock()
	r.observer.OnRunFailed(ctx, r.state, err)
	return err
}

func (r *Runner) save(ctx context.Context) {
	err := r.store.Save(ctx, r.state)
	r.observer.OnSnapshotSaved(ctx, r.state, err)
}

func (r *Runner) schedule(it eventqueue.Item, delay time.Duration) {
	if delay <= 0 {
		r.sched.Enqueue(it)
		return
	}
	r.sched.EnqueueAfter(it, delay)
}

func (r *Runner) dispatchItem(id api.MachineID) eventqueue.Item {
	return eventqueue.Bind("dispatch", r.Dispatch, id)
}

func (r *Runner) setStatus(s api.RunStatus) {
	r.mu.Lock()
	r.status = s
	r.mu.Unlock()
}

// Status is safe to call from any goroutine.
func (r *Runner) Status() api.RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Err returns the fatal error that halted the run, if any. Safe from any
// goroutine.
func (r *Runner) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// StepErr returns the error of the most recent step if it failed. A run
// whose last step failed stays running with nothing scheduled. Safe from any
// goroutine.
func (r *Runner) StepErr() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stepErr
}

func (r *Runner) setStepErr(err error) {
	r.mu.Lock()
	r.stepErr = err
	r.mu.Unlock()
}

// State returns the live run state.
func (r *Runner) State() *api.State { return r.state }

// Resumed reports whether the run continued from a persisted snapshot.
func (r *Runner) Resumed() bool { return r.resumed }

func (r *Runner) Identity() api.RunIdentity { return r.state.Identity }

// Rand returns the run's random source.
func (r *Runner) Rand() *rand.Rand { return r.rng }
