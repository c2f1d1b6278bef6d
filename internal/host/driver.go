package host

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kahana-sysadmin/UnityEPL/pkg/api"
)

// DefaultTickPeriod is roughly one display frame.
const DefaultTickPeriod = 16 * time.Millisecond

// ErrQuit is returned by Driver.Run when the run ended through Manager.Quit.
var ErrQuit = errors.New("run quit before completion")

// Run is the view of a state machine runner the driver polls between ticks.
type Run interface {
	Status() api.RunStatus
	Err() error
}

// Driver owns the scheduler goroutine: every tick it drains the ingress
// buffer and processes up to the manager's budget of ready items.
type Driver struct {
	manager *Manager
	run     Run
	period  time.Duration
	budget  int
	logger  *slog.Logger
}

// NewDriver returns a driver ticking m every period. The budget is read once
// from the manager's settings.
func NewDriver(m *Manager, run Run, period time.Duration) (*Driver, error) {
	if period <= 0 {
		period = DefaultTickPeriod
	}
	budget, err := m.Budget()
	if err != nil {
		return nil, err
	}
	return &Driver{
		manager: m,
		run:     run,
		period:  period,
		budget:  budget,
		logger:  m.Logger(),
	}, nil
}

// Step performs one tick and reports whether the run has ended. A nil error
// with done set means the run completed.
func (d *Driver) Step(ctx context.Context) (done bool, err error) {
	d.manager.Queue().Tick(ctx, d.budget)

	if d.run != nil {
		switch d.run.Status() {
		case api.StatusComplete:
			return true, nil
		case api.StatusFailed:
			return true, d.run.Err()
		}
	}
	if d.manager.Quitting() {
		return true, ErrQuit
	}
	return false, nil
}

// Run ticks until the run completes, fails, quits or ctx is cancelled. The
// caller's goroutine becomes the scheduler goroutine.
func (d *Driver) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.period)
	defer ticker.Stop()

	d.logger.DebugContext(ctx, "driver_started",
		slog.Duration("period", d.period),
		slog.Int("budget", d.budget),
	)
	for {
		done, err := d.Step(ctx)
		if done {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.manager.Done():
			return ErrQuit
		case <-ticker.C:
		}
	}
}
