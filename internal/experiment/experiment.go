// Package experiment defines what an experiment provides to the runner, the
// registry experiments are selected from by name, and Launch, which turns the
// loaded configuration into a started run.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/spf13/afero"

	"github.com/kahana-sysadmin/UnityEPL/internal/config"
	"github.com/kahana-sysadmin/UnityEPL/internal/host"
	"github.com/kahana-sysadmin/UnityEPL/internal/logging"
	"github.com/kahana-sysadmin/UnityEPL/internal/persistence"
	"github.com/kahana-sysadmin/UnityEPL/internal/statemachine"
	"github.com/kahana-sysadmin/UnityEPL/pkg/api"
)

// LogfileVersion is recorded in the session start event.
const LogfileVersion = "0"

var (
	ErrUnknownExperiment  = errors.New("unknown experiment class")
	ErrNoExperimentLoaded = errors.New("no experiment configuration loaded")
)

// Core is implemented by every experiment.
type Core interface {
	// Machines returns the experiment's machine set.
	Machines() []statemachine.Machine
	Root() api.MachineID

	// Prepare runs after the snapshot decision and before the first
	// dispatch. run.Resumed tells a fresh session from a resumed one.
	Prepare(ctx context.Context, run *statemachine.Runner) error
}

// Factory builds an experiment against env.
type Factory func(env *Env) (Core, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

// Register makes a factory available under class. It panics when class is
// registered twice or f is nil.
func Register(class string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	if f == nil {
		panic("experiment: Register factory is nil")
	}
	if _, dup := factories[class]; dup {
		panic("experiment: Register called twice for " + class)
	}
	factories[class] = f
}

func Lookup(class string) (Factory, error) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	f, ok := factories[class]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownExperiment, class)
	}
	return f, nil
}

// Names returns the registered classes, sorted.
func Names() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for n := range factories {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Env is everything an experiment may talk to.
type Env struct {
	Manager  *host.Manager
	Display  Display
	Video    VideoPlayer
	Recorder Recorder
	Syncbox  Syncbox

	// Artifacts locates per-session files. It is file based whatever store
	// holds the snapshots.
	Artifacts *persistence.FileStore

	// Set by Launch.
	Identity   api.RunIdentity
	SessionDir string
	Logger     *slog.Logger
}

func (e *Env) Settings() *config.Settings { return e.Manager.Settings() }

func (e *Env) Fs() afero.Fs { return e.Artifacts.Fs() }

// LaunchConfig identifies the run to launch.
type LaunchConfig struct {
	Identity api.RunIdentity
	Store    persistence.SnapshotStore
	Observer api.Observer

	// Seed for the run's random source; zero derives one from Identity.
	Seed uint64

	AppVersion string
}

// Session is a launched run.
type Session struct {
	Runner *statemachine.Runner
	Core   Core
	Env    *Env
}

// SeedFor derives a stable seed from a run identity.
func SeedFor(id api.RunIdentity) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id.Key()))
	return h.Sum64()
}

// Launch builds the configured experiment, makes the snapshot decision and
// starts the run. It must be called on the goroutine that will drive the
// queue.
func Launch(ctx context.Context, env *Env, cfg LaunchConfig) (*Session, error) {
	settings := env.Settings()
	if !settings.HasExperiment() {
		return nil, ErrNoExperimentLoaded
	}
	class, err := settings.String("experimentClass")
	if err != nil {
		return nil, err
	}
	factory, err := Lookup(class)
	if err != nil {
		return nil, err
	}

	id := cfg.Identity
	dir, err := env.Artifacts.SessionDir(id)
	if err != nil {
		return nil, err
	}
	if err := env.Fs().MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	env.Identity = id
	env.SessionDir = dir
	env.Logger = logging.ForRun(env.Manager.Logger(), id)
	env.Manager.SetIdentity(id)

	core, err := factory(env)
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", class, err)
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = SeedFor(id)
	}
	m := env.Manager
	run, err := statemachine.New(ctx, statemachine.Config{
		Machines: core.Machines(),
		Root:     core.Root(),
		Identity: id,
		Queue:    m.Queue(),
		Store:    cfg.Store,
		Observer: cfg.Observer,
		Logger:   env.Logger,
		Rand:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		OnComplete: func(ctx context.Context, st *api.State) {
			if err := m.ReportEvent(ctx, api.EventExperimentEnd, nil); err != nil {
				env.Logger.WarnContext(ctx, "report_failed", slog.Any("error", err))
			}
		},
	})
	if err != nil {
		return nil, err
	}
	if err := core.Prepare(ctx, run); err != nil {
		return nil, fmt.Errorf("prepare %s: %w", class, err)
	}

	if err := reportStart(ctx, env, run.Resumed(), cfg.AppVersion); err != nil {
		return nil, err
	}
	if err := m.SendHostPCMessage(ctx, "SESSION", map[string]any{"session": id.Session}); err != nil {
		m.Notify(err)
	}
	if env.Syncbox != nil {
		if err := env.Syncbox.StartPulse(ctx); err != nil {
			m.Notify(fmt.Errorf("syncbox: %w", err))
		}
	}

	if err := run.Start(ctx); err != nil {
		return nil, err
	}
	return &Session{Runner: run, Core: core, Env: env}, nil
}

func reportStart(ctx context.Context, env *Env, resumed bool, appVersion string) error {
	if resumed {
		return env.Manager.ReportEvent(ctx, api.EventExperimentResume, nil)
	}
	name, _ := env.Settings().String("experimentName")
	return env.Manager.ReportEvent(ctx, api.EventSessionStart, map[string]any{
		"application version": appVersion,
		"experiment version":  name,
		"logfile version":     LogfileVersion,
		"participant":         env.Identity.Participant,
		"session":             env.Identity.Session,
	})
}

// Close stops the sync pulse.
func (s *Session) Close(ctx context.Context) error {
	if s.Env.Syncbox == nil {
		return nil
	}
	return s.Env.Syncbox.StopPulse(ctx)
}
