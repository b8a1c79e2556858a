package store

import (
	"context"
	"time"
)

// ChallengeRecord is an outstanding or settled one-time passcode
// challenge.  CodeHash is a keyed digest; the raw code is never stored.
type ChallengeRecord struct {
	ChallengeID  string
	Identifier   string
	Purpose      string
	CodeHash     string
	IssueKey     string
	IssuedAt     time.Time
	ExpiresAt    time.Time
	AttemptCount int
	Consumed     bool
	ConsumedAt   *time.Time
	VerifyKey    string

	// Set once a verified challenge has been spent on an admission.
	RedeemedEventID string
	RedeemedPartyID string
	RedeemedTxnID   string
	RedeemedAt      *time.Time
}

// Redeemed reports whether the challenge has been bound to an admission.
func (c ChallengeRecord) Redeemed() bool {
	return c.RedeemedAt != nil
}

type ChallengeStore interface {
	CreateChallenge(ctx context.Context, rec ChallengeRecord) error
	UpdateChallenge(ctx context.Context, rec ChallengeRecord) error
	DeleteChallenge(ctx context.Context, challengeID string) error
	GetChallenge(ctx context.Context, challengeID string) (ChallengeRecord, error)

	// LatestChallenge returns the most recently issued challenge for the
	// identifier and purpose, or ErrNotFound.
	LatestChallenge(ctx context.Context, identifier, purpose string) (ChallengeRecord, error)
	FindByIssueKey(ctx context.Context, issueKey string) (ChallengeRecord, error)

	// PruneOlderThan deletes challenges that expired before cutoff and
	// returns the number removed.
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
