package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/BrandonDHaskell/gatekeeper/internal/gatekeeper/store"
)

type partyKey struct {
	eventID string
	partyID string
}

// LedgerStore keeps parties and the admission log in memory.  It is
// intended for tests and dev environments.
type LedgerStore struct {
	mu      sync.RWMutex
	parties map[partyKey]store.PartyRecord
	order   []partyKey
	txns    []store.AdmissionTransaction
	anchors map[string]int // transaction id -> index into txns
}

func NewLedgerStore() *LedgerStore {
	return &LedgerStore{
		parties: make(map[partyKey]store.PartyRecord),
		anchors: make(map[string]int),
	}
}

func (s *LedgerStore) UpsertParty(ctx context.Context, rec store.PartyRecord) error {
	return s.UpsertParties(ctx, []store.PartyRecord{rec})
}

func (s *LedgerStore) UpsertParties(_ context.Context, recs []store.PartyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range recs {
		if cur, ok := s.parties[partyKey{rec.EventID, rec.PartyID}]; ok && rec.AllowedHeadcount < cur.AdmittedHeadcount {
			return store.ErrConflict
		}
	}
	for _, rec := range recs {
		k := partyKey{rec.EventID, rec.PartyID}
		cur, ok := s.parties[k]
		if !ok {
			s.parties[k] = rec
			s.order = append(s.order, k)
			continue
		}
		cur.DisplayName = rec.DisplayName
		cur.Email = rec.Email
		cur.Phone = rec.Phone
		cur.AllowedHeadcount = rec.AllowedHeadcount
		s.parties[k] = cur
	}
	return nil
}

func (s *LedgerStore) GetParty(_ context.Context, eventID, partyID string) (store.PartyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.parties[partyKey{eventID, partyID}]
	if !ok {
		return store.PartyRecord{}, store.ErrNotFound
	}
	return rec, nil
}

func (s *LedgerStore) ListParties(_ context.Context, eventID string) ([]store.PartyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.PartyRecord
	for _, k := range s.order {
		if k.eventID == eventID {
			out = append(out, s.parties[k])
		}
	}
	return out, nil
}

func (s *LedgerStore) FindPartiesByContact(_ context.Context, eventID, identifier string) ([]store.PartyRecord, error) {
	if identifier == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.PartyRecord
	for _, k := range s.order {
		if k.eventID != eventID {
			continue
		}
		p := s.parties[k]
		if p.Email == identifier || p.Phone == identifier {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *LedgerStore) FindAnchor(_ context.Context, txnID string) (store.AdmissionTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.anchors[txnID]
	if !ok {
		return store.AdmissionTransaction{}, store.ErrNotFound
	}
	return s.txns[i], nil
}

func (s *LedgerStore) CommitAdmission(_ context.Context, prevCount int, party store.PartyRecord, txn store.AdmissionTransaction) error {
	k := partyKey{party.EventID, party.PartyID}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.parties[k]
	if !ok {
		return store.ErrNotFound
	}
	if cur.AdmittedHeadcount != prevCount {
		return store.ErrConflict
	}
	if _, dup := s.anchors[txn.TransactionID]; dup {
		return store.ErrConflict
	}
	cur.AdmittedHeadcount = party.AdmittedHeadcount
	cur.LastAdmissionMethod = party.LastAdmissionMethod
	cur.LastAdmissionAt = party.LastAdmissionAt
	s.parties[k] = cur
	s.appendLocked(txn)
	return nil
}

func (s *LedgerStore) AppendTransaction(_ context.Context, txn store.AdmissionTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if txn.Outcome.Anchors() {
		if _, dup := s.anchors[txn.TransactionID]; dup {
			return store.ErrConflict
		}
	}
	s.appendLocked(txn)
	return nil
}

func (s *LedgerStore) appendLocked(txn store.AdmissionTransaction) {
	txn.Seq = int64(len(s.txns) + 1)
	s.txns = append(s.txns, txn)
	if txn.Outcome.Anchors() {
		s.anchors[txn.TransactionID] = len(s.txns) - 1
	}
}

func (s *LedgerStore) ListTransactions(_ context.Context, eventID string) ([]store.AdmissionTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.AdmissionTransaction
	for _, t := range s.txns {
		if t.EventID == eventID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}
