package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/kahana-sysadmin/UnityEPL/pkg/api"
)

// PostgresStore is a SnapshotStore backed by PostgreSQL.
//
// It expects an *sql.DB that uses a PostgreSQL driver (for example,
// "github.com/jackc/pgx/v5/stdlib").
//
// The caller is responsible for:
//   - importing the driver for its side effects, e.g.:
//     _ "github.com/jackc/pgx/v5/stdlib"
//   - providing a DSN via sql.Open.
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

var (
	_ SnapshotStore  = (*PostgresStore)(nil)
	_ SnapshotLister = (*PostgresStore)(nil)
)

// NewPostgresStore initializes the required schema in the given database and
// returns a new PostgresStore.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db, now: time.Now}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS run_snapshots (
			participant TEXT NOT NULL,
			session INTEGER NOT NULL,
			body TEXT NOT NULL,
			saved_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (participant, session)
		);
	`)
	return err
}

func (s *PostgresStore) Load(ctx context.Context, id api.RunIdentity) (*api.State, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `
		SELECT body FROM run_snapshots
		WHERE participant = $1 AND session = $2`,
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

func (s *PostgresStore) Save(ctx context.Context, st *api.State) error {
	now := s.now()
	body, err := EncodeSnapshot(st, now)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO run_snapshots (participant, session, body, saved_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (participant, session) DO UPDATE SET
			body = EXCLUDED.body,
			saved_at = EXCLUDED.saved_at`,
		st.Identity.Participant,
		st.Identity.Session,
		string(body),
		now.UTC(),
	)
	return err
}

func (s *PostgresStore) List(ctx context.Context) ([]api.RunIdentity, error) {
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
