package types

import (
	"time"

	"github.com/BrandonDHaskell/gatekeeper/internal/gatekeeper/store"
)

type TransitionRequest struct {
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type SessionResponse struct {
	EventID   string  `json:"event_id"`
	Status    string  `json:"status"`
	Admitting bool    `json:"admitting"`
	StartedAt *string `json:"started_at,omitempty"`
	PausedAt  *string `json:"paused_at,omitempty"`
	EndedAt   *string `json:"ended_at,omitempty"`
	UpdatedAt string  `json:"updated_at,omitempty"`
}

func SessionFromRecord(rec store.SessionRecord) SessionResponse {
	resp := SessionResponse{
		EventID:   rec.EventID,
		Status:    string(rec.Status),
		Admitting: rec.Status == store.StatusInProgress,
		StartedAt: optionalTime(rec.StartedAt),
		PausedAt:  optionalTime(rec.PausedAt),
		EndedAt:   optionalTime(rec.EndedAt),
	}
	if !rec.UpdatedAt.IsZero() {
		resp.UpdatedAt = FormatTime(rec.UpdatedAt)
	}
	return resp
}

// FormatTime renders timestamps the way every response does.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func optionalTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := FormatTime(*t)
	return &s
}
