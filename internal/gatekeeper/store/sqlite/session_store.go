package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	dbpkg "github.com/BrandonDHaskell/gatekeeper/internal/db"
	"github.com/BrandonDHaskell/gatekeeper/internal/gatekeeper/store"
)

type SessionStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewSessionStore(db *sql.DB, writer *dbpkg.Worker) *SessionStore {
	return &SessionStore{db: db, writer: writer}
}

func (s *SessionStore) GetSession(ctx context.Context, eventID string) (store.SessionRecord, error) {
	var (
		rec                    store.SessionRecord
		status                 string
		started, paused, ended sql.NullInt64
		updatedMs              int64
	)
	err := s.db.QueryRowContext(ctx, `
SELECT event_id, status, started_at_ms, paused_at_ms, ended_at_ms, updated_at_ms
FROM event_sessions
WHERE event_id = ?;
`, eventID).Scan(&rec.EventID, &status, &started, &paused, &ended, &updatedMs)
	if errors.Is(err, sql.ErrNoRows) {
		return store.SessionRecord{}, store.ErrNotFound
	}
	if err != nil {
		return store.SessionRecord{}, fmt.Errorf("GetSession query: %w", err)
	}

	rec.Status = store.SessionStatus(status)
	rec.StartedAt = fromNullableMs(started)
	rec.PausedAt = fromNullableMs(paused)
	rec.EndedAt = fromNullableMs(ended)
	rec.UpdatedAt = fromMs(updatedMs)
	return rec, nil
}

func (s *SessionStore) SaveSession(ctx context.Context, rec store.SessionRecord, tr store.TransitionRecord) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	if tr.At.IsZero() {
		tr.At = rec.UpdatedAt
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO event_sessions(
  event_id, status, started_at_ms, paused_at_ms, ended_at_ms, updated_at_ms
) VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(event_id) DO UPDATE SET
  status        = excluded.status,
  started_at_ms = excluded.started_at_ms,
  paused_at_ms  = excluded.paused_at_ms,
  ended_at_ms   = excluded.ended_at_ms,
  updated_at_ms = excluded.updated_at_ms;
`,
			rec.EventID, string(rec.Status), nullableMs(rec.StartedAt), nullableMs(rec.PausedAt),
			nullableMs(rec.EndedAt), rec.UpdatedAt.UTC().UnixMilli(),
		); err != nil {
			return fmt.Errorf("SaveSession upsert: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
INSERT INTO session_transitions(event_id, idem_key, from_status, to_status, at_ms)
VALUES (?, ?, ?, ?, ?);
`, tr.EventID, nullableText(tr.Key), string(tr.From), string(tr.To), tr.At.UTC().UnixMilli()); err != nil {
			return fmt.Errorf("SaveSession append transition: %w", err)
		}
		return nil
	})
}

func (s *SessionStore) FindTransition(ctx context.Context, eventID, key string) (store.TransitionRecord, error) {
	if key == "" {
		return store.TransitionRecord{}, store.ErrNotFound
	}

	tr := store.TransitionRecord{Key: key, EventID: eventID}
	var from, to string
	var atMs int64
	err := s.db.QueryRowContext(ctx, `
SELECT from_status, to_status, at_ms
FROM session_transitions
WHERE event_id = ? AND idem_key = ?;
`, eventID, key).Scan(&from, &to, &atMs)
	if errors.Is(err, sql.ErrNoRows) {
		return store.TransitionRecord{}, store.ErrNotFound
	}
	if err != nil {
		return store.TransitionRecord{}, fmt.Errorf("FindTransition query: %w", err)
	}
	tr.From = store.SessionStatus(from)
	tr.To = store.SessionStatus(to)
	tr.At = fromMs(atMs)
	return tr, nil
}
