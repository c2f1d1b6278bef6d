package epl

import (
	"context"
	"database/sql"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/kahana-sysadmin/UnityEPL/internal/eventqueue"
	"github.com/kahana-sysadmin/UnityEPL/internal/experiment"
	_ "github.com/kahana-sysadmin/UnityEPL/internal/experiment/fr"
	"github.com/kahana-sysadmin/UnityEPL/internal/persistence"
	"github.com/kahana-sysadmin/UnityEPL/internal/statemachine"
	"github.com/kahana-sysadmin/UnityEPL/pkg/api"
)

// Version is reported in the session start event.
const Version = "0.4.0"

// Re-export key types so users don't need to dig into internal packages.

type (
	State        = api.State
	RunIdentity  = api.RunIdentity
	RunStatus    = api.RunStatus
	MachineID    = api.MachineID
	KeyEvent     = api.KeyEvent
	Event        = api.Event
	Observer     = api.Observer
	NoopObserver = api.NoopObserver
	BasicMetrics = api.BasicMetrics

	Item         = eventqueue.Item
	Queue        = eventqueue.Queue
	Machine      = statemachine.Machine
	Step         = statemachine.Step
	StepFunc     = statemachine.StepFunc
	StepContext  = statemachine.StepContext
	Continuation = statemachine.Continuation
	Runner       = statemachine.Runner

	SnapshotStore = persistence.SnapshotStore
	EventStore    = persistence.EventStore

	ExperimentCore    = experiment.Core
	ExperimentFactory = experiment.Factory
	ExperimentEnv     = experiment.Env
)

// Re-export status values for convenience.

const (
	StatusInitial   = api.StatusInitial
	StatusRunning   = api.StatusRunning
	StatusSuspended = api.StatusSuspended
	StatusComplete  = api.StatusComplete
	StatusFailed    = api.StatusFailed

	NoMachine = api.NoMachine
)

// Re-export continuation constructors and helpers.

var (
	Next     = statemachine.Next
	Goto     = statemachine.Goto
	Again    = statemachine.Again
	Enter    = statemachine.Enter
	Suspend  = statemachine.Suspend
	Complete = statemachine.Complete

	NewItem = eventqueue.NewItem
	Action  = eventqueue.Action

	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver

	RegisterExperiment = experiment.Register
	Experiments        = experiment.Names
)

// Snapshot store constructors.
// These wrap internal/persistence so external callers never need to import
// internal packages.

// NewInMemoryStore returns a SnapshotStore that lives as long as the process.
func NewInMemoryStore() SnapshotStore {
	return persistence.NewInMemoryStore()
}

// NewFileStore stores one snapshot file per session under root.
func NewFileStore(fsys afero.Fs, root string) SnapshotStore {
	return persistence.NewFileStore(fsys, root)
}

// NewSQLiteStore stores snapshots in a SQLite database.
func NewSQLiteStore(db *sql.DB) (SnapshotStore, error) {
	return persistence.NewSQLiteStore(db)
}

// NewPostgresStore stores snapshots in PostgreSQL.
func NewPostgresStore(db *sql.DB) (SnapshotStore, error) {
	return persistence.NewPostgresStore(db)
}

// NewRedisStore stores snapshots as redis strings under prefix.
func NewRedisStore(client *redis.Client, prefix string) SnapshotStore {
	return persistence.NewRedisStore(client, prefix)
}

// NewMongoStore stores snapshots in the given database. An empty collection
// name uses the default.
func NewMongoStore(client *mongo.Client, database, collection string) SnapshotStore {
	return persistence.NewMongoStore(client, database, collection)
}

// LoadSnapshot reads the persisted state of a run, if any.
func LoadSnapshot(ctx context.Context, store SnapshotStore, id RunIdentity) (*State, error) {
	return store.Load(ctx, id)
}
