package epl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/spf13/afero"

	"github.com/kahana-sysadmin/UnityEPL/internal/config"
	"github.com/kahana-sysadmin/UnityEPL/internal/eventqueue"
	"github.com/kahana-sysadmin/UnityEPL/internal/experiment"
	"github.com/kahana-sysadmin/UnityEPL/internal/host"
	"github.com/kahana-sysadmin/UnityEPL/internal/persistence"
	"github.com/kahana-sysadmin/UnityEPL/pkg/api"
)

// Devices are the collaborators a session talks to. Zero fields get console
// or no-op stand-ins.
type Devices struct {
	Display  experiment.Display
	Video    experiment.VideoPlayer
	Recorder experiment.Recorder
	Syncbox  experiment.Syncbox
	HostPC   host.HostPC
	Observer api.Observer

	// Screen receives console display output when Display is nil.
	Screen io.Writer
}

func (d *Devices) fill(fsys afero.Fs, logger *slog.Logger) {
	if d.Display == nil {
		w := d.Screen
		if w == nil {
			w = os.Stdout
		}
		d.Display = experiment.NewConsoleDisplay(w)
	}
	if d.Video == nil {
		d.Video = experiment.InstantVideo{Display: d.Display}
	}
	if d.Recorder == nil {
		d.Recorder = experiment.NewFileRecorder(fsys)
	}
	if d.Syncbox == nil {
		d.Syncbox = experiment.NopSyncbox{}
	}
	if d.Observer == nil {
		d.Observer = api.NewLoggingObserver(logger)
	}
}

// LocalRunner bundles everything one lab process needs: settings, storage,
// the scheduler queue with its host manager, and the launched session.
//
// Typical usage:
//
//	runner, err := epl.NewLocalRunner(ctx, cfg, afero.NewOsFs(), epl.Devices{}, logger)
//	if err != nil { ... }
//	defer runner.Close()
//	err = runner.Run(ctx)
type LocalRunner struct {
	Config      config.RunConfig
	Queue       *eventqueue.Queue
	Manager     *host.Manager
	Persistence *persistence.Persistence
	Session     *experiment.Session

	logger *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
	running bool
}

// NewLocalRunner loads the configuration, opens storage and launches the
// session. The run does not advance until Run or Start is called.
func NewLocalRunner(ctx context.Context, cfg config.RunConfig, fsys afero.Fs, dev Devices, logger *slog.Logger) (*LocalRunner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	settings, err := config.LoadSystem(fsys, cfg.ConfigDir)
	if err != nil {
		return nil, err
	}
	if err := settings.LoadExperiment(fsys, cfg.ConfigDir, cfg.Experiment); err != nil {
		return nil, err
	}
	if err := cfg.ApplySettings(settings); err != nil {
		return nil, err
	}
	settings.Set("eventsPerFrame", cfg.EventsPerTick)

	p, err := persistence.Open(ctx, persistence.Options{
		Kind:     cfg.StoreKind,
		DSN:      cfg.StoreDSN,
		Dir:      cfg.DataDir,
		Fs:       fsys,
		Prefix:   "epl",
		Database: "epl",
	})
	if err != nil {
		return nil, err
	}

	dev.fill(fsys, logger)

	var m *host.Manager
	q := eventqueue.New(
		eventqueue.WithLogger(logger),
		eventqueue.WithErrorHandler(func(_ context.Context, it eventqueue.Item, err error) {
			m.Notify(fmt.Errorf("%s: %w", it.Name, err))
		}),
	)
	opts := []host.Option{
		host.WithEventStore(p.Events),
		host.WithLogger(logger),
		host.WithWarningDisplay(dev.Display),
		host.WithQuitKey(cfg.QuitKey),
	}
	if dev.HostPC != nil {
		opts = append(opts, host.WithHostPC(dev.HostPC))
	}
	m = host.NewManager(q, settings, opts...)

	env := &experiment.Env{
		Manager:   m,
		Display:   dev.Display,
		Video:     dev.Video,
		Recorder:  dev.Recorder,
		Syncbox:   dev.Syncbox,
		Artifacts: persistence.NewFileStore(fsys, cfg.DataDir),
	}
	sess, err := experiment.Launch(ctx, env, experiment.LaunchConfig{
		Identity:   cfg.Identity(),
		Store:      p.Snapshots,
		Observer:   dev.Observer,
		Seed:       cfg.Seed,
		AppVersion: Version,
	})
	if err != nil {
		_ = p.Close()
		return nil, err
	}

	return &LocalRunner{
		Config:      cfg,
		Queue:       q,
		Manager:     m,
		Persistence: p,
		Session:     sess,
		logger:      logger,
	}, nil
}

// Run drives the session on the calling goroutine until it completes, fails,
// quits or ctx is cancelled. Quitting is not an error.
func (r *LocalRunner) Run(ctx context.Context) error {
	d, err := host.NewDriver(r.Manager, r.Session.Runner, r.Config.TickPeriod)
	if err != nil {
		return err
	}
	err = d.Run(ctx)
	switch {
	case errors.Is(err, host.ErrQuit):
		r.logger.InfoContext(ctx, "run_quit", slog.String("status", string(r.Session.Runner.Status())))
		return nil
	case errors.Is(err, context.Canceled):
		return nil
	}
	return err
}

// Start runs the session on a new goroutine. Calling Start twice without Stop
// returns an error.
func (r *LocalRunner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return errors.New("epl: LocalRunner already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		err := r.Run(ctx)
		r.mu.Lock()
		r.err = err
		r.mu.Unlock()
	}()
	return nil
}

// Wait blocks until a started run ends and returns its error.
func (r *LocalRunner) Wait() error {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done == nil {
		return nil
	}
	<-done
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Stop cancels a started run and waits for its goroutine to exit.
func (r *LocalRunner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	cancel()
	_ = r.Wait()
}

// Key routes a key event into the session. Safe from any goroutine.
func (r *LocalRunner) Key(key string, down bool) int {
	return r.Manager.Key(key, down)
}

// Close stops the run and releases devices and storage.
func (r *LocalRunner) Close() error {
	r.Stop()
	return errors.Join(
		r.Session.Close(context.Background()),
		r.Persistence.Close(),
	)
}
