package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/kahana-sysadmin/UnityEPL/pkg/api"
)

// SQLiteStore is a SnapshotStore backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var (
	_ SnapshotStore  = (*SQLiteStore)(nil)
	_ SnapshotLister = (*SQLiteStore)(nil)
)

// NewSQLiteStore initializes the required schema in the given database and
// returns a new SQLiteStore.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS run_snapshots (
			participant TEXT NOT NULL,
			session INTEGER NOT NULL,
			body TEXT NOT NULL,
			saved_at INTEGER NOT NULL,
			PRIMARY KEY (participant, session)
		);`,
	)
	return err
}

func (s *SQLiteStore) Load(ctx context.Context, id api.RunIdentity) (*api.State, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `
		SELECT body FROM run_snapshots
		WHERE participant = ? AND session = ?`,
		id.Participant, id.Session,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, err
	}
	st, _, err := DecodeSnapshot([]byte(body))
	return st, err
}

func (s *SQLiteStore) Save(ctx context.Context, st *api.State) error {
	now := s.now()
	body, err := EncodeSnapshot(st, now)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO run_snapshots (participant, session, body, saved_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (participant, session) DO UPDATE SET
			body = excluded.body,
			saved_at = excluded.saved_at`,
		st.Identity.Participant,
		st.Identity.Session,
		string(body),
		now.UnixNano(),
	)
	return err
}

func (s *SQLiteStore) List(ctx context.Context) ([]api.RunIdentity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT participant, session FROM run_snapshots
		ORDER BY participant ASC, session ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []api.RunIdentity
	for rows.Next() {
		var id api.RunIdentity
		if err := rows.Scan(&id.Participant, &id.Session); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
