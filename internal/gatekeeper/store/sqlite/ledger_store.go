package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	dbpkg "github.com/BrandonDHaskell/gatekeeper/internal/db"
	"github.com/BrandonDHaskell/gatekeeper/internal/gatekeeper/store"
)

type LedgerStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewLedgerStore(db *sql.DB, writer *dbpkg.Worker) *LedgerStore {
	return &LedgerStore{db: db, writer: writer}
}

const partyColumns = `
  event_id, party_id, display_name, email, phone,
  allowed_headcount, admitted_headcount, last_admission_method, last_admission_at_ms`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanParty(row rowScanner) (store.PartyRecord, error) {
	var (
		p      store.PartyRecord
		method string
		lastAt sql.NullInt64
	)
	if err := row.Scan(
		&p.EventID, &p.PartyID, &p.DisplayName, &p.Email, &p.Phone,
		&p.AllowedHeadcount, &p.AdmittedHeadcount, &method, &lastAt,
	); err != nil {
		return store.PartyRecord{}, err
	}
	p.LastAdmissionMethod = store.Method(method)
	p.LastAdmissionAt = fromNullableMs(lastAt)
	return p, nil
}

func (s *LedgerStore) UpsertParty(ctx context.Context, rec store.PartyRecord) error {
	return s.UpsertParties(ctx, []store.PartyRecord{rec})
}

// UpsertParties writes the whole roster batch in one transaction.
func (s *LedgerStore) UpsertParties(ctx context.Context, recs []store.PartyRecord) error {
	nowMs := time.Now().UTC().UnixMilli()
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		for _, rec := range recs {
			var admitted int
			err := tx.QueryRowContext(ctx, `
SELECT admitted_headcount FROM parties WHERE event_id = ? AND party_id = ?;
`, rec.EventID, rec.PartyID).Scan(&admitted)
			switch {
			case errors.Is(err, sql.ErrNoRows):
			case err != nil:
				return fmt.Errorf("UpsertParties read %s/%s: %w", rec.EventID, rec.PartyID, err)
			case rec.AllowedHeadcount < admitted:
				return store.ErrConflict
			}

			if _, err := tx.ExecContext(ctx, `
INSERT INTO parties(
  event_id, party_id, display_name, email, phone, allowed_headcount, created_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(event_id, party_id) DO UPDATE SET
  display_name      = excluded.display_name,
  email             = excluded.email,
  phone             = excluded.phone,
  allowed_headcount = excluded.allowed_headcount;
`,
				rec.EventID, rec.PartyID, rec.DisplayName, rec.Email, rec.Phone,
				rec.AllowedHeadcount, nowMs,
			); err != nil {
				return fmt.Errorf("UpsertParties %s/%s: %w", rec.EventID, rec.PartyID, err)
			}
		}
		return nil
	})
}

func (s *LedgerStore) GetParty(ctx context.Context, eventID, partyID string) (store.PartyRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT`+partyColumns+`
FROM parties
WHERE event_id = ? AND party_id = ?;
`, eventID, partyID)
	p, err := scanParty(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.PartyRecord{}, store.ErrNotFound
	}
	if err != nil {
		return store.PartyRecord{}, fmt.Errorf("GetParty query: %w", err)
	}
	return p, nil
}

func (s *LedgerStore) ListParties(ctx context.Context, eventID string) ([]store.PartyRecord, error) {
	return s.queryParties(ctx, "ListParties", `SELECT`+partyColumns+`
FROM parties
WHERE event_id = ?
ORDER BY created_at_ms, party_id;
`, eventID)
}

func (s *LedgerStore) FindPartiesByContact(ctx context.Context, eventID, identifier string) ([]store.PartyRecord, error) {
	if strings.TrimSpace(identifier) == "" {
		return nil, nil
	}
	return s.queryParties(ctx, "FindPartiesByContact", `SELECT`+partyColumns+`
FROM parties
WHERE event_id = ? AND (email = ? OR phone = ?)
ORDER BY party_id;
`, eventID, identifier, identifier)
}

func (s *LedgerStore) queryParties(ctx context.Context, op, query string, args ...any) ([]store.PartyRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s query: %w", op, err)
	}
	defer rows.Close()

	var out []store.PartyRecord
	for rows.Next() {
		p, err := scanParty(rows)
		if err != nil {
			return nil, fmt.Errorf("%s scan: %w", op, err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s rows: %w", op, err)
	}
	return out, nil
}

const txnColumns = `
  seq, transaction_id, event_id, party_id, delta, method, outcome, resulting_count, recorded_at_ms`

func scanTxn(row rowScanner) (store.AdmissionTransaction, error) {
	var (
		t               store.AdmissionTransaction
		method, outcome string
		recordedMs      int64
	)
	if err := row.Scan(
		&t.Seq, &t.TransactionID, &t.EventID, &t.PartyID, &t.Delta,
		&method, &outcome, &t.ResultingCount, &recordedMs,
	); err != nil {
		return store.AdmissionTransaction{}, err
	}
	t.Method = store.Method(method)
	t.Outcome = store.Outcome(outcome)
	t.RecordedAt = fromMs(recordedMs)
	return t, nil
}

func (s *LedgerStore) FindAnchor(ctx context.Context, txnID string) (store.AdmissionTransaction, error) {
	row := s.db.QueryRowContext(ctx, `SELECT`+txnColumns+`
FROM admission_transactions
WHERE transaction_id = ? AND anchors = 1;
`, txnID)
	t, err := scanTxn(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.AdmissionTransaction{}, store.ErrNotFound
	}
	if err != nil {
		return store.AdmissionTransaction{}, fmt.Errorf("FindAnchor query: %w", err)
	}
	return t, nil
}

func (s *LedgerStore) CommitAdmission(ctx context.Context, prevCount int, party store.PartyRecord, txn store.AdmissionTransaction) error {
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		// Compare-and-swap on the admitted headcount; the CHECK constraint
		// on parties backs up the bound.
		res, err := tx.ExecContext(ctx, `
UPDATE parties
SET admitted_headcount    = ?,
    last_admission_method = ?,
    last_admission_at_ms  = ?
WHERE event_id = ? AND party_id = ? AND admitted_headcount = ?;
`,
			party.AdmittedHeadcount, string(party.LastAdmissionMethod), nullableMs(party.LastAdmissionAt),
			party.EventID, party.PartyID, prevCount,
		)
		if err != nil {
			return fmt.Errorf("CommitAdmission update party: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("CommitAdmission rows affected: %w", err)
		}
		if n != 1 {
			return store.ErrConflict
		}

		return insertTxn(ctx, tx, txn)
	})
}

func (s *LedgerStore) AppendTransaction(ctx context.Context, txn store.AdmissionTransaction) error {
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return insertTxn(ctx, tx, txn)
	})
}

func insertTxn(ctx context.Context, tx *sql.Tx, txn store.AdmissionTransaction) error {
	if txn.RecordedAt.IsZero() {
		txn.RecordedAt = time.Now().UTC()
	}
	var anchors int
	if txn.Outcome.Anchors() {
		anchors = 1
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO admission_transactions(
  transaction_id, event_id, party_id, delta, method, outcome,
  resulting_count, anchors, recorded_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
		txn.TransactionID, txn.EventID, txn.PartyID, txn.Delta, string(txn.Method),
		string(txn.Outcome), txn.ResultingCount, anchors, txn.RecordedAt.UTC().UnixMilli(),
	); err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return fmt.Errorf("insert admission transaction: %w", err)
	}
	return nil
}

func (s *LedgerStore) ListTransactions(ctx context.Context, eventID string) ([]store.AdmissionTransaction, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT`+txnColumns+`
FROM admission_transactions
WHERE event_id = ?
ORDER BY seq;
`, eventID)
	if err != nil {
		return nil, fmt.Errorf("ListTransactions query: %w", err)
	}
	defer rows.Close()

	var out []store.AdmissionTransaction
	for rows.Next() {
		t, err := scanTxn(rows)
		if err != nil {
			return nil, fmt.Errorf("ListTransactions scan: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListTransactions rows: %w", err)
	}
	return out, nil
}

// isUniqueViolation matches SQLite's constraint message rather than the
// driver's error type so the check survives driver upgrades.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
