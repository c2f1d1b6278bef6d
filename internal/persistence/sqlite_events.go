package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kahana-sysadmin/UnityEPL/pkg/api"
)

// SQLiteEventStore stores experiment events in SQLite.
type SQLiteEventStore struct {
	db *sql.DB
}

var _ EventStore = (*SQLiteEventStore)(nil)

func NewSQLiteEventStore(db *sql.DB) (*SQLiteEventStore, error) {
	s := &SQLiteEventStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteEventStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS run_events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL,
			participant TEXT NOT NULL,
			session INTEGER NOT NULL,
			at INTEGER NOT NULL,
			type TEXT NOT NULL,
			data TEXT NOT NULL DEFAULT '{}'
		);
		CREATE INDEX IF NOT EXISTS idx_run_events_run ON run_events(participant, session, seq);
	`)
	return err
}

func (s *SQLiteEventStore) AppendEvent(ctx context.Context, ev api.Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	data := []byte("{}")
	if len(ev.Data) > 0 {
		var err error
		if data, err = json.Marshal(ev.Data); err != nil {
			return fmt.Errorf("encode event data: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO run_events (id, participant, session, at, type, data)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ID,
		ev.Identity.Participant,
		ev.Identity.Session,
		at.UnixNano(),
		ev.Type,
		string(data),
	)
	return err
}

func (s *SQLiteEventStore) ListEvents(ctx context.Context, id api.RunIdentity) ([]api.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, at, type, data
		FROM run_events
		WHERE participant = ? AND session = ?
		ORDER BY seq ASC`, id.Participant, id.Session)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []api.Event
	for rows.Next() {
		var (
			evID string
			atN  int64
			typ  string
			data string
		)
		if err := rows.Scan(&evID, &atN, &typ, &data); err != nil {
			return nil, err
		}
		ev := api.Event{
			ID:       evID,
			Identity: id,
			At:       time.Unix(0, atN),
			Type:     typ,
		}
		if data != "" && data != "{}" {
			if err := json.Unmarshal([]byte(data), &ev.Data); err != nil {
				return nil, fmt.Errorf("decode event %s data: %w", evID, err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
