package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	_ "modernc.org/sqlite"
)

// Store kinds accepted by Open.
const (
	KindMemory   = "memory"
	KindFile     = "file"
	KindSQLite   = "sqlite"
	KindPostgres = "postgres"
	KindRedis    = "redis"
	KindMongo    = "mongo"
)

// ErrUnknownStoreKind is returned by Open for an unrecognized kind.
var ErrUnknownStoreKind = errors.New("unknown store kind")

// Options selects and configures a backend for Open.
type Options struct {
	Kind string

	// DSN is the driver connection string for sqlite, postgres, redis and
	// mongo. For sqlite an empty DSN means an in-memory database.
	DSN string

	// Dir is the root of the file store.
	Dir string
	Fs  afero.Fs

	// Prefix namespaces redis keys; Database names the mongo database.
	Prefix   string
	Database string
}

// Persistence bundles the snapshot and event stores of one backend so the
// host can depend on a single value.
type Persistence struct {
	Snapshots SnapshotStore
	Events    EventStore

	closers []func() error
}

// Close releases the backend's connections.
func (p *Persistence) Close() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		errs = append(errs, p.closers[i]())
	}
	return errors.Join(errs...)
}

// Open connects the backend described by opts. Backends without a native
// event log get an in-memory one.
func Open(ctx context.Context, opts Options) (*Persistence, error) {
	switch opts.Kind {
	case "", KindMemory:
		return &Persistence{
			Snapshots: NewInMemoryStore(),
			Events:    NewInMemoryEventStore(),
		}, nil

	case KindFile:
		dir := opts.Dir
		if dir == "" {
			dir = "data"
		}
		return &Persistence{
			Snapshots: NewFileStore(opts.Fs, dir),
			Events:    NewInMemoryEventStore(),
		}, nil

	case KindSQLite:
		dsn := opts.DSN
		if dsn == "" {
			dsn = ":memory:"
		}
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// A single connection keeps an in-memory database alive and serializes
		// writers.
		db.SetMaxOpenConns(1)
		snaps, err := NewSQLiteStore(db)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite schema: %w", err)
		}
		events, err := NewSQLiteEventStore(db)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite schema: %w", err)
		}
		return &Persistence{Snapshots: snaps, Events: events, closers: []func() error{db.Close}}, nil

	case KindPostgres:
		db, err := sql.Open("pgx", opts.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		snaps, err := NewPostgresStore(db)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("postgres schema: %w", err)
		}
		return &Persistence{Snapshots: snaps, Events: NewInMemoryEventStore(), closers: []func() error{db.Close}}, nil

	case KindRedis:
		ropts, err := redis.ParseURL(opts.DSN)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(ropts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		return &Persistence{
			Snapshots: NewRedisStore(client, opts.Prefix),
			Events:    NewInMemoryEventStore(),
			closers:   []func() error{client.Close},
		}, nil

	case KindMongo:
		cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		client, err := mongo.Connect(cctx, options.Client().ApplyURI(opts.DSN))
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		if err := client.Ping(cctx, nil); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, fmt.Errorf("ping mongo: %w", err)
		}
		return &Persistence{
			Snapshots: NewMongoStore(client, opts.Database, ""),
			Events:    NewInMemoryEventStore(),
			closers: []func() error{func() error {
				return client.Disconnect(context.Background())
			}},
		}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownStoreKind, opts.Kind)
}
