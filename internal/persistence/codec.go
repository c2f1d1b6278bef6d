package persistence

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/kahana-sysadmin/UnityEPL/pkg/api"
)

// SnapshotVersion is the only snapshot layout this package reads and writes.
const SnapshotVersion = 1

type snapshotDoc struct {
	Version     int                   `json:"version"`
	Participant string                `json:"participant"`
	Session     int                   `json:"session"`
	Cursors     map[api.MachineID]int `json:"cursors"`
	Complete    bool                  `json:"complete"`
	Ints        map[string]int        `json:"ints"`
	Strings     map[string]string     `json:"strings"`
	Flags       map[string]bool       `json:"flags"`
	SavedAt     time.Time             `json:"saved_at"`
}

// EncodeSnapshot serializes st as a version 1 JSON snapshot stamped with
// savedAt.
func EncodeSnapshot(st *api.State, savedAt time.Time) ([]byte, error) {
	if st == nil {
		return nil, fmt.Errorf("encode snapshot: nil state")
	}
	if err := st.Identity.Validate(); err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	c := st.Clone()
	doc := snapshotDoc{
		Version:     SnapshotVersion,
		Participant: c.Identity.Participant,
		Session:     c.Identity.Session,
		Cursors:     c.Cursors,
		Complete:    c.Complete,
		Ints:        c.Ints,
		Strings:     c.Strings,
		Flags:       c.Flags,
		SavedAt:     savedAt.UTC(),
	}
	return json.MarshalIndent(doc, "", "  ")
}

// DecodeSnapshot parses a snapshot written by EncodeSnapshot. Every failure
// wraps ErrCorruptSnapshot.
func DecodeSnapshot(data []byte) (*api.State, time.Time, error) {
	var doc snapshotDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	if doc.Version != SnapshotVersion {
		return nil, time.Time{}, fmt.Errorf("%w: unsupported version %d", ErrCorruptSnapshot, doc.Version)
	}

	id := api.RunIdentity{Participant: doc.Participant, Session: doc.Session}
	if err := id.Validate(); err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}

	st := api.NewState(id)
	st.Complete = doc.Complete
	for m, c := range doc.Cursors {
		if c < 0 {
			return nil, time.Time{}, fmt.Errorf("%w: negative cursor %d for machine %d", ErrCorruptSnapshot, c, m)
		}
		st.Cursors[m] = c
	}
	for k, v := range doc.Ints {
		st.Ints[k] = v
	}
	for k, v := range doc.Strings {
		st.Strings[k] = v
	}
	for k, v := range doc.Flags {
		st.Flags[k] = v
	}
	return st, doc.SavedAt, nil
}

func sortIdentities(ids []api.RunIdentity) {
	slices.SortFunc(ids, func(a, b api.RunIdentity) int {
		if c := cmp.Compare(a.Participant, b.Participant); c != 0 {
			return c
		}
		return cmp.Compare(a.Session, b.Session)
	})
}
