package persistence

import (
	"context"
	"errors"

	"github.com/kahana-sysadmin/UnityEPL/pkg/api"
)

var (
	// ErrSnapshotNotFound is returned when no snapshot exists for a run identity.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrCorruptSnapshot is returned when a snapshot exists but cannot be
	// decoded, has an unknown version, or fails validation.
	ErrCorruptSnapshot = errors.New("corrupt snapshot")
)

// SnapshotStore persists the State of a run under its identity.
//
// Load returns ErrSnapshotNotFound or ErrCorruptSnapshot (possibly wrapped)
// when there is nothing usable to resume from. Save overwrites any previous
// snapshot for the same identity. Implementations must not retain st.
type SnapshotStore interface {
	Load(ctx context.Context, id api.RunIdentity) (*api.State, error)
	Save(ctx context.Context, st *api.State) error
}

// SnapshotLister is implemented by stores that can enumerate the runs they
// hold. Identities are returned ordered by participant, then session.
type SnapshotLister interface {
	List(ctx context.Context) ([]api.RunIdentity, error)
}
