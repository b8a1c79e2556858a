package store

import (
	"context"
	"time"
)

type Method string

const (
	MethodManual      Method = "manual"
	MethodSelfService Method = "self_service"
	MethodFacial      Method = "facial"
	MethodBulk        Method = "bulk"
)

type Outcome string

const (
	OutcomeApplied           Outcome = "applied"
	OutcomeRejectedCapacity  Outcome = "rejected_capacity"
	OutcomeRejectedLifecycle Outcome = "rejected_lifecycle"
	OutcomeRejectedDuplicate Outcome = "rejected_duplicate"
)

// Anchors reports whether a transaction with this outcome settles its
// TransactionID for idempotency purposes.  Only outcomes decided by the
// ledger itself do; gate rejections and replays are audit-only.
func (o Outcome) Anchors() bool {
	return o == OutcomeApplied || o == OutcomeRejectedCapacity
}

// PartyRecord is a roster entry attached to monitoring for one event.
// Email and Phone hold normalized identifiers; either may be empty but
// not both.
type PartyRecord struct {
	EventID             string
	PartyID             string
	DisplayName         string
	Email               string
	Phone               string
	AllowedHeadcount    int
	AdmittedHeadcount   int
	LastAdmissionMethod Method // empty until first admission
	LastAdmissionAt     *time.Time
}

// AdmissionTransaction is an append-only audit entry for one admission
// attempt.  Seq is assigned by the store on append.
type AdmissionTransaction struct {
	Seq            int64
	TransactionID  string
	EventID        string
	PartyID        string
	Delta          int
	Method         Method
	Outcome        Outcome
	ResultingCount int
	RecordedAt     time.Time
}

// PartyStore persists roster entries.
type PartyStore interface {
	// UpsertParties inserts every rec or updates contact data and allowed
	// headcount of parties that already exist.  The admitted headcount and
	// last admission fields of an existing party are left untouched.  The
	// batch is written in one step: if any rec would drop a party's allowed
	// headcount below its admitted headcount, nothing is written and
	// ErrConflict is returned.
	UpsertParties(ctx context.Context, recs []PartyRecord) error
	GetParty(ctx context.Context, eventID, partyID string) (PartyRecord, error)
	ListParties(ctx context.Context, eventID string) ([]PartyRecord, error)
	// FindPartiesByContact returns every party of eventID whose email or
	// phone equals identifier.
	FindPartiesByContact(ctx context.Context, eventID, identifier string) ([]PartyRecord, error)
}

// LedgerStore persists party headcounts together with the admission log.
type LedgerStore interface {
	PartyStore

	// FindAnchor returns the transaction that settled txnID, or ErrNotFound.
	FindAnchor(ctx context.Context, txnID string) (AdmissionTransaction, error)

	// CommitAdmission stores party (with its new admitted headcount) and
	// appends txn in one write.  It fails with ErrConflict if the stored
	// admitted headcount no longer equals prevCount.
	CommitAdmission(ctx context.Context, prevCount int, party PartyRecord, txn AdmissionTransaction) error

	// AppendTransaction appends an audit entry that does not change any
	// headcount.
	AppendTransaction(ctx context.Context, txn AdmissionTransaction) error

	ListTransactions(ctx context.Context, eventID string) ([]AdmissionTransaction, error)
}
