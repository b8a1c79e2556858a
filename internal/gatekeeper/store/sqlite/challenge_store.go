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

type ChallengeStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewChallengeStore(db *sql.DB, writer *dbpkg.Worker) *ChallengeStore {
	return &ChallengeStore{db: db, writer: writer}
}

const challengeColumns = `
  challenge_id, identifier, purpose, code_hash, COALESCE(issue_key, ''),
  issued_at_ms, expires_at_ms, attempt_count, consumed, consumed_at_ms, verify_key,
  redeemed_event_id, redeemed_party_id, redeemed_txn_id, redeemed_at_ms`

func scanChallenge(row rowScanner) (store.ChallengeRecord, error) {
	var (
		c                    store.ChallengeRecord
		issuedMs, expiresMs  int64
		consumed             int
		consumedAt, redeemAt sql.NullInt64
	)
	if err := row.Scan(
		&c.ChallengeID, &c.Identifier, &c.Purpose, &c.CodeHash, &c.IssueKey,
		&issuedMs, &expiresMs, &c.AttemptCount, &consumed, &consumedAt, &c.VerifyKey,
		&c.RedeemedEventID, &c.RedeemedPartyID, &c.RedeemedTxnID, &redeemAt,
	); err != nil {
		return store.ChallengeRecord{}, err
	}
	c.IssuedAt = fromMs(issuedMs)
	c.ExpiresAt = fromMs(expiresMs)
	c.Consumed = consumed == 1
	c.ConsumedAt = fromNullableMs(consumedAt)
	c.RedeemedAt = fromNullableMs(redeemAt)
	return c, nil
}

func (s *ChallengeStore) CreateChallenge(ctx context.Context, rec store.ChallengeRecord) error {
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO otp_challenges(
  challenge_id, identifier, purpose, code_hash, issue_key, issued_at_ms, expires_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?);
`,
			rec.ChallengeID, rec.Identifier, rec.Purpose, rec.CodeHash, nullableText(rec.IssueKey),
			rec.IssuedAt.UTC().UnixMilli(), rec.ExpiresAt.UTC().UnixMilli(),
		); err != nil {
			if isUniqueViolation(err) {
				return store.ErrConflict
			}
			return fmt.Errorf("CreateChallenge insert: %w", err)
		}
		return nil
	})
}

func (s *ChallengeStore) UpdateChallenge(ctx context.Context, rec store.ChallengeRecord) error {
	var consumed int
	if rec.Consumed {
		consumed = 1
	}
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE otp_challenges
SET attempt_count     = ?,
    consumed          = ?,
    consumed_at_ms    = ?,
    verify_key        = ?,
    expires_at_ms     = ?,
    redeemed_event_id = ?,
    redeemed_party_id = ?,
    redeemed_txn_id   = ?,
    redeemed_at_ms    = ?
WHERE challenge_id = ?;
`,
			rec.AttemptCount, consumed, nullableMs(rec.ConsumedAt), rec.VerifyKey,
			rec.ExpiresAt.UTC().UnixMilli(),
			rec.RedeemedEventID, rec.RedeemedPartyID, rec.RedeemedTxnID, nullableMs(rec.RedeemedAt),
			rec.ChallengeID,
		)
		if err != nil {
			return fmt.Errorf("UpdateChallenge: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return store.ErrNotFound
		}
		return nil
	})
}

func (s *ChallengeStore) DeleteChallenge(ctx context.Context, challengeID string) error {
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM otp_challenges WHERE challenge_id = ?;`, challengeID); err != nil {
			return fmt.Errorf("DeleteChallenge: %w", err)
		}
		return nil
	})
}

func (s *ChallengeStore) GetChallenge(ctx context.Context, challengeID string) (store.ChallengeRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT`+challengeColumns+`
FROM otp_challenges
WHERE challenge_id = ?;
`, challengeID)
	c, err := scanChallenge(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ChallengeRecord{}, store.ErrNotFound
	}
	if err != nil {
		return store.ChallengeRecord{}, fmt.Errorf("GetChallenge query: %w", err)
	}
	return c, nil
}

func (s *ChallengeStore) LatestChallenge(ctx context.Context, identifier, purpose string) (store.ChallengeRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT`+challengeColumns+`
FROM otp_challenges
WHERE identifier = ? AND purpose = ?
ORDER BY seq DESC
LIMIT 1;
`, identifier, purpose)
	c, err := scanChallenge(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ChallengeRecord{}, store.ErrNotFound
	}
	if err != nil {
		return store.ChallengeRecord{}, fmt.Errorf("LatestChallenge query: %w", err)
	}
	return c, nil
}

func (s *ChallengeStore) FindByIssueKey(ctx context.Context, issueKey string) (store.ChallengeRecord, error) {
	if issueKey == "" {
		return store.ChallengeRecord{}, store.ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, `SELECT`+challengeColumns+`
FROM otp_challenges
WHERE issue_key = ?;
`, issueKey)
	c, err := scanChallenge(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ChallengeRecord{}, store.ErrNotFound
	}
	if err != nil {
		return store.ChallengeRecord{}, fmt.Errorf("FindByIssueKey query: %w", err)
	}
	return c, nil
}

// PruneOlderThan uses idx_otp_expiry for the range delete.
func (s *ChallengeStore) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	cutoffMs := cutoff.UTC().UnixMilli()

	var deleted int64
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
DELETE FROM otp_challenges
WHERE expires_at_ms < ?;
`, cutoffMs)
		if err != nil {
			return fmt.Errorf("PruneOlderThan: %w", err)
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	return deleted, err
}
