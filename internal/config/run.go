package config

import (
	"fmt"
	"time"

	"github.com/kahana-sysadmin/UnityEPL/pkg/api"
)

// RunConfig holds the process-level configuration of one experiment run.
type RunConfig struct {
	ConfigDir  string // Directory holding config.json and experiment configs
	Experiment string // Experiment config name
	DataDir    string // Root directory for session data

	Participant string
	Session     int
	Seed        uint64 // 0 derives a seed from the run identity

	TickPeriod    time.Duration // Host loop period (default 16ms)
	EventsPerTick int           // Queue budget per tick (default 5)
	QuitKey       string        // Key that ends the run (default "escape")

	LogLevel  string // debug, info, warn, error
	LogFormat string // text, json

	StoreKind string // memory, file, sqlite, postgres, redis, mongo
	StoreDSN  string

	HTTPAddr string // Key input endpoint; empty disables it
}

// DefaultRunConfig returns sensible defaults.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		ConfigDir:     "configs",
		DataDir:       "data",
		TickPeriod:    16 * time.Millisecond,
		EventsPerTick: 5,
		QuitKey:       "escape",
		LogLevel:      "info",
		LogFormat:     "text",
		StoreKind:     "file",
	}
}

// Identity returns the run identity described by the config.
func (c RunConfig) Identity() api.RunIdentity {
	return api.RunIdentity{Participant: c.Participant, Session: c.Session}
}

// Validate reports configuration errors that must stop the run before it
// starts.
func (c RunConfig) Validate() error {
	if err := c.Identity().Validate(); err != nil {
		return err
	}
	if c.Experiment == "" {
		return fmt.Errorf("%w: experiment", ErrMissingSetting)
	}
	if c.TickPeriod <= 0 {
		return fmt.Errorf("tick period must be positive, got %s", c.TickPeriod)
	}
	if c.EventsPerTick <= 0 {
		return fmt.Errorf("events per tick must be positive, got %d", c.EventsPerTick)
	}
	return nil
}

// ApplySettings lets the loaded settings override defaults the experiment
// files are allowed to control. The result is validated again.
func (c *RunConfig) ApplySettings(s *Settings) error {
	n, err := s.IntOr("eventsPerFrame", c.EventsPerTick)
	if err != nil {
		return err
	}
	if n <= 0 {
		return fmt.Errorf("eventsPerFrame must be positive, got %d", n)
	}
	c.EventsPerTick = n
	return c.Validate()
}
