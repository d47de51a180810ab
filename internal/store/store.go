// Package store is the sqlite-backed event store the daemon ingests into.
// All access goes through the dbx transaction boundary so batched inserts
// commit atomically.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"time"

	"groundwork/pkg/dbx"
	"groundwork/pkg/logx"
)

//go:embed migrations.sql
var migrations string

// TableName is the table the maintenance controller watches.
const TableName = "events"

// Event is one ingested record. Payload stays opaque to the store.
type Event struct {
	ID      int64           `json:"id,omitempty"`
	At      time.Time       `json:"at"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type Store struct {
	pool *dbx.Pool
	log  logx.Logger
}

// Open runs migrations and returns the store. A migration failure is fatal
// to startup.
func Open(ctx context.Context, pool *dbx.Pool, log logx.Logger) (*Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Store{pool: pool, log: log}
	err := dbx.With(ctx, pool, func(ctx context.Context, tx *dbx.Tx) error {
		_, err := tx.Exec(ctx, migrations)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// InsertBatch writes a whole batch in one transaction. Empty batches are a
// no-op so it is safe as a batcher sink.
func (s *Store) InsertBatch(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	return dbx.With(ctx, s.pool, func(ctx context.Context, tx *dbx.Tx) error {
		st, err := tx.Prepare(ctx, `INSERT INTO events(at, kind, payload) VALUES(?,?,?)`)
		if err != nil {
			return err
		}
		for _, e := range events {
			at := e.At
			if at.IsZero() {
				at = time.Now()
			}
			if _, err := st.ExecContext(ctx, at.UnixMilli(), e.Kind, nullJSON(e.Payload)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Page returns up to limit events with ID greater than afterID, in ID order.
// The replay streamer uses it to walk the table without holding a cursor
// across ticks.
func (s *Store) Page(ctx context.Context, afterID int64, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []Event
	err := dbx.With(ctx, s.pool, func(ctx context.Context, tx *dbx.Tx) error {
		rows, err := tx.Query(ctx,
			`SELECT id, at, kind, payload FROM events WHERE id > ? ORDER BY id LIMIT ?`,
			afterID, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				e       Event
				ms      int64
				payload sql.NullString
			)
			if err := rows.Scan(&e.ID, &ms, &e.Kind, &payload); err != nil {
				return err
			}
			e.At = time.UnixMilli(ms)
			if payload.Valid {
				e.Payload = json.RawMessage(payload.String)
			}
			out = append(out, e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Count reports the number of stored events.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := dbx.With(ctx, s.pool, func(ctx context.Context, tx *dbx.Tx) error {
		return tx.QueryRow(ctx, `SELECT COUNT(*) FROM events`).Scan(&n)
	})
	return n, err
}

func nullJSON(v json.RawMessage) any {
	if len(v) == 0 {
		return nil
	}
	return string(v)
}
