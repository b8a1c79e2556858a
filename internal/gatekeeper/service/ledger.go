package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BrandonDHaskell/gatekeeper/internal/gatekeeper/store"
)

// maxCommitAttempts bounds how often Apply re-reads a party after the
// store reports a concurrent headcount change.
const maxCommitAttempts = 5

// AdmissionRequest is the channel-independent form of one admission.
// Negative deltas undo earlier admissions.
type AdmissionRequest struct {
	EventID       string
	PartyID       string
	Delta         int
	Method        store.Method
	TransactionID string
}

func (r AdmissionRequest) validate() error {
	switch {
	case strings.TrimSpace(r.EventID) == "":
		return fmt.Errorf("%w: event_id is required", ErrInvalidRequest)
	case strings.TrimSpace(r.PartyID) == "":
		return fmt.Errorf("%w: party_id is required", ErrInvalidRequest)
	case r.Delta == 0:
		return fmt.Errorf("%w: delta must not be zero", ErrInvalidRequest)
	case r.TransactionID == "":
		return fmt.Errorf("%w: transaction id is required", ErrInvalidRequest)
	}
	switch r.Method {
	case store.MethodManual, store.MethodSelfService, store.MethodFacial, store.MethodBulk:
		return nil
	}
	return fmt.Errorf("%w: unknown method %q", ErrInvalidRequest, r.Method)
}

// Admission is the ledger's answer to an AdmissionRequest.  Count is the
// party's admitted headcount after the request.  Replayed is set when the
// transaction id had already been settled and nothing was applied.
type Admission struct {
	TransactionID string
	PartyID       string
	Outcome       store.Outcome
	Count         int
	Allowed       int
	Replayed      bool
}

// Ledger is the authority on admitted headcounts.  Each party is guarded
// by its own lock, so admissions for different parties never contend.
type Ledger struct {
	store store.LedgerStore
	locks *keyedMutex
	now   func() time.Time
}

func NewLedger(s store.LedgerStore) *Ledger {
	return &Ledger{
		store: s,
		locks: newKeyedMutex(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func partyLockKey(eventID, partyID string) string {
	return eventID + "\x00" + partyID
}

// Apply applies req atomically.  The admitted headcount never leaves
// [0, allowed]: a request that would cross a bound is recorded as
// rejected_capacity and fails with ErrCapacityExceeded.  A transaction id
// settled earlier returns the original outcome with Replayed set.
func (l *Ledger) Apply(ctx context.Context, req AdmissionRequest) (Admission, error) {
	if err := req.validate(); err != nil {
		return Admission{}, err
	}

	if anchor, ok, err := l.Anchored(ctx, req.TransactionID); err != nil {
		return Admission{}, err
	} else if ok {
		return l.replay(ctx, req, anchor)
	}

	unlock := l.locks.Lock(partyLockKey(req.EventID, req.PartyID))
	defer unlock()

	for attempt := 0; attempt < maxCommitAttempts; attempt++ {
		// Re-check under the lock: a concurrent request with the same id
		// may have settled while we waited.
		if anchor, ok, err := l.Anchored(ctx, req.TransactionID); err != nil {
			return Admission{}, err
		} else if ok {
			return l.replay(ctx, req, anchor)
		}

		party, err := l.party(ctx, req.EventID, req.PartyID)
		if err != nil {
			return Admission{}, err
		}

		prev := party.AdmittedHeadcount
		next := prev + req.Delta
		now := l.now()
		txn := store.AdmissionTransaction{
			TransactionID: req.TransactionID,
			EventID:       req.EventID,
			PartyID:       req.PartyID,
			Delta:         req.Delta,
			Method:        req.Method,
			RecordedAt:    now,
		}

		if next < 0 || next > party.AllowedHeadcount {
			txn.Outcome = store.OutcomeRejectedCapacity
			txn.ResultingCount = prev
			err := l.store.AppendTransaction(ctx, txn)
			if errors.Is(err, store.ErrConflict) {
				continue
			}
			if err != nil {
				return Admission{}, fmt.Errorf("record capacity rejection: %w", err)
			}
			return Admission{
					TransactionID: req.TransactionID,
					PartyID:       req.PartyID,
					Outcome:       txn.Outcome,
					Count:         prev,
					Allowed:       party.AllowedHeadcount,
				}, fmt.Errorf("%w: party %s has %d of %d admitted, delta %+d",
					ErrCapacityExceeded, req.PartyID, prev, party.AllowedHeadcount, req.Delta)
		}

		txn.Outcome = store.OutcomeApplied
		txn.ResultingCount = next
		party.AdmittedHeadcount = next
		party.LastAdmissionMethod = req.Method
		party.LastAdmissionAt = &now

		err = l.store.CommitAdmission(ctx, prev, party, txn)
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		if err != nil {
			return Admission{}, fmt.Errorf("commit admission: %w", err)
		}
		return Admission{
			TransactionID: req.TransactionID,
			PartyID:       req.PartyID,
			Outcome:       store.OutcomeApplied,
			Count:         next,
			Allowed:       party.AllowedHeadcount,
		}, nil
	}
	return Admission{}, fmt.Errorf("commit admission for party %s: %w", req.PartyID, store.ErrConflict)
}

// replay appends the duplicate audit record and answers with the
// anchor's result.
func (l *Ledger) replay(ctx context.Context, req AdmissionRequest, anchor store.AdmissionTransaction) (Admission, error) {
	dup := store.AdmissionTransaction{
		TransactionID:  req.TransactionID,
		EventID:        req.EventID,
		PartyID:        req.PartyID,
		Delta:          req.Delta,
		Method:         req.Method,
		Outcome:        store.OutcomeRejectedDuplicate,
		ResultingCount: anchor.ResultingCount,
		RecordedAt:     l.now(),
	}
	if err := l.store.AppendTransaction(ctx, dup); err != nil {
		return Admission{}, fmt.Errorf("record duplicate: %w", err)
	}

	adm := Admission{
		TransactionID: anchor.TransactionID,
		PartyID:       anchor.PartyID,
		Outcome:       anchor.Outcome,
		Count:         anchor.ResultingCount,
		Replayed:      true,
	}
	if p, err := l.store.GetParty(ctx, anchor.EventID, anchor.PartyID); err == nil {
		adm.Allowed = p.AllowedHeadcount
	}
	if anchor.Outcome == store.OutcomeRejectedCapacity {
		return adm, fmt.Errorf("%w: replay of rejected transaction %s", ErrCapacityExceeded, anchor.TransactionID)
	}
	return adm, nil
}

// RecordRejection appends an audit-only record for a request refused
// before it reached the ledger, e.g. by the lifecycle gate.  The party's
// headcount is untouched and is reported back as the resulting count.
func (l *Ledger) RecordRejection(ctx context.Context, req AdmissionRequest, outcome store.Outcome) (Admission, error) {
	if outcome.Anchors() {
		return Admission{}, fmt.Errorf("%w: outcome %s is decided by the ledger", ErrInvalidRequest, outcome)
	}
	adm := Admission{TransactionID: req.TransactionID, PartyID: req.PartyID, Outcome: outcome}
	if p, err := l.store.GetParty(ctx, req.EventID, req.PartyID); err == nil {
		adm.Count = p.AdmittedHeadcount
		adm.Allowed = p.AllowedHeadcount
	}
	err := l.store.AppendTransaction(ctx, store.AdmissionTransaction{
		TransactionID:  req.TransactionID,
		EventID:        req.EventID,
		PartyID:        req.PartyID,
		Delta:          req.Delta,
		Method:         req.Method,
		Outcome:        outcome,
		ResultingCount: adm.Count,
		RecordedAt:     l.now(),
	})
	if err != nil {
		return Admission{}, fmt.Errorf("record %s: %w", outcome, err)
	}
	return adm, nil
}

// Anchored returns the transaction that settled txnID, if any.
func (l *Ledger) Anchored(ctx context.Context, txnID string) (store.AdmissionTransaction, bool, error) {
	anchor, err := l.store.FindAnchor(ctx, txnID)
	if errors.Is(err, store.ErrNotFound) {
		return store.AdmissionTransaction{}, false, nil
	}
	if err != nil {
		return store.AdmissionTransaction{}, false, fmt.Errorf("find anchor: %w", err)
	}
	return anchor, true, nil
}

// Attach adds roster entries to an event, or updates the contact data and
// allowed headcount of entries already attached.  The batch is all or
// nothing: it is rejected without writing anything if any entry is invalid
// or would lower a party's allowed headcount below what has already been
// admitted.
func (l *Ledger) Attach(ctx context.Context, eventID string, parties []store.PartyRecord) error {
	if strings.TrimSpace(eventID) == "" {
		return fmt.Errorf("%w: event_id is required", ErrInvalidRequest)
	}
	seen := make(map[string]struct{}, len(parties))
	norm := make([]store.PartyRecord, 0, len(parties))
	keys := make([]string, 0, len(parties))
	for i, p := range parties {
		p.EventID = eventID
		p.PartyID = strings.TrimSpace(p.PartyID)
		p.DisplayName = strings.TrimSpace(p.DisplayName)
		p.Email = NormalizeIdentifier(p.Email)
		p.Phone = NormalizeIdentifier(p.Phone)
		switch {
		case p.PartyID == "":
			return fmt.Errorf("%w: party %d: party_id is required", ErrInvalidRequest, i)
		case p.AllowedHeadcount < 1:
			return fmt.Errorf("%w: party %s: allowed headcount must be at least 1", ErrInvalidRequest, p.PartyID)
		case p.Email == "" && p.Phone == "":
			return fmt.Errorf("%w: party %s: email or phone is required", ErrInvalidRequest, p.PartyID)
		}
		if _, dup := seen[p.PartyID]; dup {
			return fmt.Errorf("%w: party %s listed twice", ErrInvalidRequest, p.PartyID)
		}
		seen[p.PartyID] = struct{}{}
		norm = append(norm, p)
		keys = append(keys, partyLockKey(eventID, p.PartyID))
	}

	// Holding every party lock keeps admissions from moving a headcount
	// between the bound check and the write.
	unlock := l.locks.LockAll(keys)
	defer unlock()

	for _, p := range norm {
		cur, err := l.store.GetParty(ctx, eventID, p.PartyID)
		if err == nil && p.AllowedHeadcount < cur.AdmittedHeadcount {
			return fmt.Errorf("%w: party %s: allowed %d is below admitted %d",
				ErrInvalidRequest, p.PartyID, p.AllowedHeadcount, cur.AdmittedHeadcount)
		}
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("get party %s: %w", p.PartyID, err)
		}
	}

	err := l.store.UpsertParties(ctx, norm)
	if errors.Is(err, store.ErrConflict) {
		return fmt.Errorf("%w: roster for %s would drop a party below its admitted headcount", ErrInvalidRequest, eventID)
	}
	if err != nil {
		return fmt.Errorf("attach roster for %s: %w", eventID, err)
	}
	return nil
}

func (l *Ledger) party(ctx context.Context, eventID, partyID string) (store.PartyRecord, error) {
	p, err := l.store.GetParty(ctx, eventID, partyID)
	if errors.Is(err, store.ErrNotFound) {
		return store.PartyRecord{}, fmt.Errorf("%w: %s", ErrPartyNotFound, partyID)
	}
	if err != nil {
		return store.PartyRecord{}, fmt.Errorf("get party %s: %w", partyID, err)
	}
	return p, nil
}

// Party returns one attached party.
func (l *Ledger) Party(ctx context.Context, eventID, partyID string) (store.PartyRecord, error) {
	return l.party(ctx, eventID, partyID)
}

func (l *Ledger) Parties(ctx context.Context, eventID string) ([]store.PartyRecord, error) {
	return l.store.ListParties(ctx, eventID)
}

// Transactions lists the admission log of eventID in append order.
func (l *Ledger) Transactions(ctx context.Context, eventID string) ([]store.AdmissionTransaction, error) {
	return l.store.ListTransactions(ctx, eventID)
}

// ResolveIdentifier finds the single party of eventID whose email or
// phone matches identifier.
func (l *Ledger) ResolveIdentifier(ctx context.Context, eventID, identifier string) (store.PartyRecord, error) {
	id := NormalizeIdentifier(identifier)
	if id == "" {
		return store.PartyRecord{}, fmt.Errorf("%w: identifier is required", ErrInvalidRequest)
	}
	matches, err := l.store.FindPartiesByContact(ctx, eventID, id)
	if err != nil {
		return store.PartyRecord{}, fmt.Errorf("resolve identifier: %w", err)
	}
	switch len(matches) {
	case 0:
		return store.PartyRecord{}, fmt.Errorf("%w: no party for %s", ErrPartyNotFound, id)
	case 1:
		return matches[0], nil
	}
	return store.PartyRecord{}, fmt.Errorf("%w: %d parties share %s", ErrAmbiguousIdentifier, len(matches), id)
}
