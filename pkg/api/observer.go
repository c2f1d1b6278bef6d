package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from the state machine runner for logging and
// metrics.
//
// All callbacks run on the scheduler goroutine. Implementations must be fast
// and must not retain or mutate the State they are given.
type Observer interface {
	// OnRunStart is called once when the runner is started, after the
	// snapshot decision has been made.
	OnRunStart(ctx context.Context, st *State, resumed bool)

	// OnRunCompleted is called when the completion flag is set.
	OnRunCompleted(ctx context.Context, st *State)

	// OnRunFailed is called when the run halts on an invariant violation.
	OnRunFailed(ctx context.Context, st *State, err error)

	// OnStepStart is called before invoking a step function.
	OnStepStart(ctx context.Context, st *State, machine string, step string, idx int)

	// OnStepCompleted is called after a step function returns, for both
	// successes and failures (err != nil).
	OnStepCompleted(ctx context.Context, st *State, machine string, step string, idx int, err error, duration time.Duration)

	// OnSuspended is called when a step suspends awaiting an external event.
	OnSuspended(ctx context.Context, st *State, machine string, step string, idx int)

	// OnSnapshotSaved is called after each save attempt.
	OnSnapshotSaved(ctx context.Context, st *State, err error)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnRunStart(ctx context.Context, st *State, resumed bool)   {}
func (NoopObserver) OnRunCompleted(ctx context.Context, st *State)             {}
func (NoopObserver) OnRunFailed(ctx context.Context, st *State, err error)     {}
func (NoopObserver) OnSnapshotSaved(ctx context.Context, st *State, err error) {}
func (NoopObserver) OnStepStart(ctx context.Context, st *State, machine, step string, idx int) {
}
func (NoopObserver) OnStepCompleted(ctx context.Context, st *State, machine, step string, idx int, err error, d time.Duration) {
}
func (NoopObserver) OnSuspended(ctx context.Context, st *State, machine, step string, idx int) {
}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnRunStart(ctx context.Context, st *State, resumed bool) {
	for _, o := range c.observers {
		o.OnRunStart(ctx, st, resumed)
	}
}

func (c *CompositeObserver) OnRunCompleted(ctx context.Context, st *State) {
	for _, o := range c.observers {
		o.OnRunCompleted(ctx, st)
	}
}

func (c *CompositeObserver) OnRunFailed(ctx context.Context, st *State, err error) {
	for _, o := range c.observers {
		o.OnRunFailed(ctx, st, err)
	}
}

func (c *CompositeObserver) OnStepStart(ctx context.Context, st *State, machine, step string, idx int) {
	for _, o := range c.observers {
		o.OnStepStart(ctx, st, machine, step, idx)
	}
}

func (c *CompositeObserver) OnStepCompleted(ctx context.Context, st *State, machine, step string, idx int, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnStepCompleted(ctx, st, machine, step, idx, err, d)
	}
}

func (c *CompositeObserver) OnSuspended(ctx context.Context, st *State, machine, step string, idx int) {
	for _, o := range c.observers {
		o.OnSuspended(ctx, st, machine, step, idx)
	}
}

func (c *CompositeObserver) OnSnapshotSaved(ctx context.Context, st *State, err error) {
	for _, o := range c.observers {
		o.OnSnapshotSaved(ctx, st, err)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs run / step lifecycle
// events using the provided slog.Logger. If logger is nil, slog.Default()
// is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnRunStart(ctx context.Context, st *State, resumed bool) {
	o.Logger.InfoContext(ctx, "run_start",
		slog.String("run", st.Identity.Key()),
		slog.Bool("resumed", resumed),
	)
}

func (o *LoggingObserver) OnRunCompleted(ctx context.Context, st *State) {
	o.Logger.InfoContext(ctx, "run_completed",
		slog.String("run", st.Identity.Key()),
	)
}

func (o *LoggingObserver) OnRunFailed(ctx context.Context, st *State, err error) {
	o.Logger.ErrorContext(ctx, "run_failed",
		slog.String("run", st.Identity.Key()),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnStepStart(ctx context.Context, st *State, machine, step string, idx int) {
	o.Logger.DebugContext(ctx, "step_start",
		slog.String("run", st.Identity.Key()),
		slog.String("machine", machine),
		slog.String("step", step),
		slog.Int("step_index", idx),
	)
}

func (o *LoggingObserver) OnStepCompleted(ctx context.Context, st *State, machine, step string, idx int, err error, d time.Duration) {
	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "step_completed",
		slog.String("run", st.Identity.Key()),
		slog.String("machine", machine),
		slog.String("step", step),
		slog.Int("step_index", idx),
		slog.Duration("duration", d),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnSuspended(ctx context.Context, st *State, machine, step string, idx int) {
	o.Logger.DebugContext(ctx, "step_suspended",
		slog.String("run", st.Identity.Key()),
		slog.String("machine", machine),
		slog.String("step", step),
		slog.Int("step_index", idx),
	)
}

func (o *LoggingObserver) OnSnapshotSaved(ctx context.Context, st *State, err error) {
	if err == nil {
		return
	}
	o.Logger.WarnContext(ctx, "snapshot_save_failed",
		slog.String("run", st.Identity.Key()),
		slog.Any("error", err),
	)
}

// BasicMetrics collects simple counters and aggregate step durations.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	runsStarted       atomic.Int64
	runsResumed       atomic.Int64
	runsCompleted     atomic.Int64
	runsFailed        atomic.Int64
	stepsCompleted    atomic.Int64
	stepsFailed       atomic.Int64
	suspensions       atomic.Int64
	saveFailures      atomic.Int64
	totalStepDuration atomic.Int64 // nanoseconds
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	RunsStarted   int64
	RunsResumed   int64
	RunsCompleted int64
	RunsFailed    int64

	StepsCompleted  int64
	StepsFailed     int64
	Suspensions     int64
	SaveFailures    int64
	AvgStepDuration time.Duration
}

func (m *BasicMetrics) OnRunStart(ctx context.Context, st *State, resumed bool) {
	m.runsStarted.Add(1)
	if resumed {
		m.runsResumed.Add(1)
	}
}

func (m *BasicMetrics) OnRunCompleted(ctx context.Context, st *State) {
	m.runsCompleted.Add(1)
}

func (m *BasicMetrics) OnRunFailed(ctx context.Context, st *State, err error) {
	m.runsFailed.Add(1)
}

func (m *BasicMetrics) OnStepCompleted(ctx context.Context, st *State, machine, step string, idx int, err error, d time.Duration) {
	if err != nil {
		m.stepsFailed.Add(1)
		return
	}
	// Only successful steps count toward the average duration.
	m.stepsCompleted.Add(1)
	m.totalStepDuration.Add(d.Nanoseconds())
}

func (m *BasicMetrics) OnSuspended(ctx context.Context, st *State, machine, step string, idx int) {
	m.suspensions.Add(1)
}

func (m *BasicMetrics) OnSnapshotSaved(ctx context.Context, st *State, err error) {
	if err != nil {
		m.saveFailures.Add(1)
	}
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	steps := m.stepsCompleted.Load()
	totalNs := m.totalStepDuration.Load()

	var avg time.Duration
	if steps > 0 {
		avg = time.Duration(totalNs / steps)
	}

	return BasicMetricsSnapshot{
		RunsStarted:     m.runsStarted.Load(),
		RunsResumed:     m.runsResumed.Load(),
		RunsCompleted:   m.runsCompleted.Load(),
		RunsFailed:      m.runsFailed.Load(),
		StepsCompleted:  steps,
		StepsFailed:     m.stepsFailed.Load(),
		Suspensions:     m.suspensions.Load(),
		SaveFailures:    m.saveFailures.Load(),
		AvgStepDuration: avg,
	}
}
