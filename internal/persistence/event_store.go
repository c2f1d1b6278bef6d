package persistence

import (
	"context"

	"github.com/kahana-sysadmin/UnityEPL/pkg/api"
)

// EventStore is an append-only log of experiment events, grouped by run.
type EventStore interface {
	AppendEvent(ctx context.Context, ev api.Event) error
	ListEvents(ctx context.Context, id api.RunIdentity) ([]api.Event, error)
}

// NoopEventStore discards all events.
type NoopEventStore struct{}

func (NoopEventStore) AppendEvent(ctx context.Context, ev api.Event) error { return nil }
func (NoopEventStore) ListEvents(ctx context.Context, id api.RunIdentity) ([]api.Event, error) {
	return nil, nil
}
