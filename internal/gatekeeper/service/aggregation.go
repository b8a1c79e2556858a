package service

import (
	"context"
	"fmt"

	"github.com/BrandonDHaskell/gatekeeper/internal/gatekeeper/store"
)

type PartyStatus string

const (
	PartyNotAdmitted       PartyStatus = "not_admitted"
	PartyPartiallyAdmitted PartyStatus = "partially_admitted"
	PartyFullyAdmitted     PartyStatus = "fully_admitted"
)

// ClassifyParty derives a party's status from its headcounts.
func ClassifyParty(p store.PartyRecord) PartyStatus {
	switch {
	case p.AdmittedHeadcount <= 0:
		return PartyNotAdmitted
	case p.AdmittedHeadcount >= p.AllowedHeadcount:
		return PartyFullyAdmitted
	default:
		return PartyPartiallyAdmitted
	}
}

// AttendanceStats summarizes one event.  ByMethod groups admitted
// headcounts by each party's most recent admission method.
type AttendanceStats struct {
	EventID  string
	Capacity int
	Admitted int
	Parties  int
	ByMethod map[store.Method]int
	ByStatus map[PartyStatus]int
}

// Summarize computes event statistics from a snapshot of parties.
func Summarize(eventID string, parties []store.PartyRecord) AttendanceStats {
	st := AttendanceStats{
		EventID:  eventID,
		Parties:  len(parties),
		ByMethod: make(map[store.Method]int),
		ByStatus: map[PartyStatus]int{
			PartyNotAdmitted:       0,
			PartyPartiallyAdmitted: 0,
			PartyFullyAdmitted:     0,
		},
	}
	for _, p := range parties {
		st.Capacity += p.AllowedHeadcount
		st.Admitted += p.AdmittedHeadcount
		if p.AdmittedHeadcount > 0 && p.LastAdmissionMethod != "" {
			st.ByMethod[p.LastAdmissionMethod] += p.AdmittedHeadcount
		}
		st.ByStatus[ClassifyParty(p)]++
	}
	return st
}

// PartyView pairs a party with its derived status.
type PartyView struct {
	Party  store.PartyRecord
	Status PartyStatus
}

// Aggregator answers attendance queries.  It holds no state of its own;
// every answer is recomputed from the ledger.
type Aggregator struct {
	ledger *Ledger
}

func NewAggregator(l *Ledger) *Aggregator {
	return &Aggregator{ledger: l}
}

func (a *Aggregator) Stats(ctx context.Context, eventID string) (AttendanceStats, error) {
	if eventID == "" {
		return AttendanceStats{}, fmt.Errorf("%w: event_id is required", ErrInvalidRequest)
	}
	parties, err := a.ledger.Parties(ctx, eventID)
	if err != nil {
		return AttendanceStats{}, fmt.Errorf("list parties: %w", err)
	}
	return Summarize(eventID, parties), nil
}

func (a *Aggregator) PartyStatus(ctx context.Context, eventID, partyID string) (PartyView, error) {
	p, err := a.ledger.Party(ctx, eventID, partyID)
	if err != nil {
		return PartyView{}, err
	}
	return PartyView{Party: p, Status: ClassifyParty(p)}, nil
}
