package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a compare-and-swap write finds the row
	// changed since it was read.
	ErrConflict = errors.New("conflicting update")
)

type SessionStatus string

const (
	StatusNotStarted SessionStatus = "not_started"
	StatusInProgress SessionStatus = "in_progress"
	StatusPaused     SessionStatus = "paused"
	StatusEnded      SessionStatus = "ended"
)

// SessionRecord is the persisted lifecycle state of one monitored event.
// EndedAt is non-nil exactly when Status is StatusEnded.
type SessionRecord struct {
	EventID   string
	Status    SessionStatus
	StartedAt *time.Time
	PausedAt  *time.Time
	EndedAt   *time.Time
	UpdatedAt time.Time
}

// TransitionRecord is one entry of the append-only lifecycle log.  Key is
// the caller's idempotency key and may be empty.
type TransitionRecord struct {
	Key     string
	EventID string
	From    SessionStatus
	To      SessionStatus
	At      time.Time
}

type SessionStore interface {
	GetSession(ctx context.Context, eventID string) (SessionRecord, error)
	// SaveSession upserts rec and appends tr in one write.
	SaveSession(ctx context.Context, rec SessionRecord, tr TransitionRecord) error
	// FindTransition returns the transition recorded under key for eventID,
	// or ErrNotFound.
	FindTransition(ctx context.Context, eventID, key string) (TransitionRecord, error)
}
