package persistence

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kahana-sysadmin/UnityEPL/pkg/api"
)

// InMemoryStore is a goroutine-safe SnapshotStore that keeps encoded
// snapshots in a map. Snapshots go through the same codec as the durable
// stores.
type InMemoryStore struct {
	mu        sync.RWMutex
	snapshots map[api.RunIdentity][]byte
	now       func() time.Time
}

// NewInMemoryStore creates an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		snapshots: make(map[api.RunIdentity][]byte),
		now:       time.Now,
	}
}

var (
	_ SnapshotStore  = (*InMemoryStore)(nil)
	_ SnapshotLister = (*InMemoryStore)(nil)
)

func (s *InMemoryStore) Load(ctx context.Context, id api.RunIdentity) (*api.State, error) {
	s.mu.RLock()
	data, ok := s.snapshots[id]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrSnapshotNotFound
	}
	st, _, err := DecodeSnapshot(data)
	return st, err
}

func (s *InMemoryStore) Save(ctx context.Context, st *api.State) error {
	data, err := EncodeSnapshot(st, s.now())
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[st.Identity] = data
	return nil
}

// Put stores raw snapshot bytes for id, bypassing the encoder.
func (s *InMemoryStore) Put(id api.RunIdentity, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[id] = data
}

// Len returns the number of runs with a stored snapshot.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snapshots)
}

func (s *InMemoryStore) List(ctx context.Context) ([]api.RunIdentity, error) {
	s.mu.RLock()
	ids := make([]api.RunIdentity, 0, len(s.snapshots))
	for id := range maps.Keys(s.snapshots) {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	sortIdentities(ids)
	return ids, nil
}

// InMemoryEventStore keeps events in insertion order per run.
type InMemoryEventStore struct {
	mu     sync.RWMutex
	events map[api.RunIdentity][]api.Event
}

func NewInMemoryEventStore() *InMemoryEventStore {
	return &InMemoryEventStore{events: make(map[api.RunIdentity][]api.Event)}
}

var _ EventStore = (*InMemoryEventStore)(nil)

func (s *InMemoryEventStore) AppendEvent(ctx context.Context, ev api.Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	ev.Data = maps.Clone(ev.Data)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[ev.Identity] = append(s.events[ev.Identity], ev)
	return nil
}

func (s *InMemoryEventStore) ListEvents(ctx context.Context, id api.RunIdentity) ([]api.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src := s.events[id]
	out := make([]api.Event, len(src))
	copy(out, src)
	return out, nil
}
