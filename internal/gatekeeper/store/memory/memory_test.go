package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BrandonDHaskell/gatekeeper/internal/gatekeeper/store"
)

func TestSessionStore_KeysAreUniquePerEvent(t *testing.T) {
	s := NewSessionStore()
	ctx := context.Background()
	now := time.Now().UTC()

	rec := store.SessionRecord{EventID: "evt-1", Status: store.StatusInProgress, StartedAt: &now, UpdatedAt: now}
	tr := store.TransitionRecord{Key: "k1", EventID: "evt-1", From: store.StatusNotStarted, To: store.StatusInProgress, At: now}
	if err := s.SaveSession(ctx, rec, tr); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	paused := rec
	paused.Status = store.StatusPaused
	if err := s.SaveSession(ctx, paused, store.TransitionRecord{Key: "k1", EventID: "evt-1"}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("reused key: err = %v, want ErrConflict", err)
	}
	got, _ := s.GetSession(ctx, "evt-1")
	if got.Status != store.StatusInProgress {
		t.Errorf("status = %s after rejected save", got.Status)
	}

	// The same key on another event is independent.
	other := rec
	other.EventID = "evt-2"
	if err := s.SaveSession(ctx, other, store.TransitionRecord{Key: "k1", EventID: "evt-2"}); err != nil {
		t.Fatalf("other event: %v", err)
	}
	if len(s.Transitions()) != 2 {
		t.Errorf("transitions = %d, want 2", len(s.Transitions()))
	}
	if _, err := s.FindTransition(ctx, "evt-1", ""); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("empty key: err = %v", err)
	}
}

func TestLedgerStore_CommitAndAnchors(t *testing.T) {
	s := NewLedgerStore()
	ctx := context.Background()

	if err := s.UpsertParty(ctx, store.PartyRecord{EventID: "evt-1", PartyID: "p1", Email: "ana@example.com", AllowedHeadcount: 2}); err != nil {
		t.Fatalf("UpsertParty: %v", err)
	}

	p := store.PartyRecord{EventID: "evt-1", PartyID: "p1", AdmittedHeadcount: 1, LastAdmissionMethod: store.MethodBulk}
	txn := store.AdmissionTransaction{TransactionID: "t1", EventID: "evt-1", PartyID: "p1", Delta: 1, Outcome: store.OutcomeApplied, ResultingCount: 1}
	if err := s.CommitAdmission(ctx, 0, p, txn); err != nil {
		t.Fatalf("CommitAdmission: %v", err)
	}
	if err := s.CommitAdmission(ctx, 0, p, store.AdmissionTransaction{TransactionID: "t2", Outcome: store.OutcomeApplied}); !errors.Is(err, store.ErrConflict) {
		t.Errorf("stale prevCount: err = %v", err)
	}
	if err := s.CommitAdmission(ctx, 1, p, txn); !errors.Is(err, store.ErrConflict) {
		t.Errorf("duplicate anchor: err = %v", err)
	}
	ghost := p
	ghost.PartyID = "ghost"
	if err := s.CommitAdmission(ctx, 0, ghost, store.AdmissionTransaction{TransactionID: "t3"}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("unknown party: err = %v", err)
	}

	// Upserting roster data keeps the admitted count.
	if err := s.UpsertParty(ctx, store.PartyRecord{EventID: "evt-1", PartyID: "p1", Email: "ana@example.com", DisplayName: "Ana", AllowedHeadcount: 3}); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	got, _ := s.GetParty(ctx, "evt-1", "p1")
	if got.AdmittedHeadcount != 1 || got.AllowedHeadcount != 3 || got.DisplayName != "Ana" || got.LastAdmissionMethod != store.MethodBulk {
		t.Errorf("party = %+v", got)
	}

	// Audit-only outcomes never anchor, so they may repeat.
	for i := 0; i < 2; i++ {
		if err := s.AppendTransaction(ctx, store.AdmissionTransaction{TransactionID: "t1", EventID: "evt-1", Outcome: store.OutcomeRejectedDuplicate}); err != nil {
			t.Fatalf("append duplicate record: %v", err)
		}
	}
	anchor, err := s.FindAnchor(ctx, "t1")
	if err != nil || anchor.Outcome != store.OutcomeApplied || anchor.Seq != 1 {
		t.Errorf("anchor = %+v, %v", anchor, err)
	}
	txns, _ := s.ListTransactions(ctx, "evt-1")
	if len(txns) != 3 || txns[2].Seq != 3 {
		t.Errorf("transactions = %+v", txns)
	}
}

func TestLedgerStore_UpsertPartiesConflictWritesNothing(t *testing.T) {
	s := NewLedgerStore()
	ctx := context.Background()

	if err := s.UpsertParty(ctx, store.PartyRecord{EventID: "evt-1", PartyID: "p1", Email: "ana@example.com", AllowedHeadcount: 3}); err != nil {
		t.Fatalf("UpsertParty: %v", err)
	}
	p := store.PartyRecord{EventID: "evt-1", PartyID: "p1", AdmittedHeadcount: 2}
	if err := s.CommitAdmission(ctx, 0, p, store.AdmissionTransaction{TransactionID: "t1", EventID: "evt-1", PartyID: "p1", Outcome: store.OutcomeApplied, ResultingCount: 2}); err != nil {
		t.Fatalf("CommitAdmission: %v", err)
	}

	err := s.UpsertParties(ctx, []store.PartyRecord{
		{EventID: "evt-1", PartyID: "p2", Email: "ben@example.com", AllowedHeadcount: 1},
		{EventID: "evt-1", PartyID: "p1", Email: "ana@example.com", AllowedHeadcount: 1},
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	if _, err := s.GetParty(ctx, "evt-1", "p2"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("p2 written by a rejected batch: %v", err)
	}
	if got, _ := s.GetParty(ctx, "evt-1", "p1"); got.AllowedHeadcount != 3 {
		t.Errorf("p1 allowed = %d, want 3", got.AllowedHeadcount)
	}
}

func TestLedgerStore_FindPartiesByContact(t *testing.T) {
	s := NewLedgerStore()
	ctx := context.Background()
	for _, p := range []store.PartyRecord{
		{EventID: "evt-1", PartyID: "p1", Email: "ana@example.com", AllowedHeadcount: 1},
		{EventID: "evt-1", PartyID: "p2", Email: "ana@example.com", Phone: "+15550100", AllowedHeadcount: 1},
		{EventID: "evt-2", PartyID: "p3", Phone: "+15550100", AllowedHeadcount: 1},
	} {
		if err := s.UpsertParty(ctx, p); err != nil {
			t.Fatal(err)
		}
	}
	byEmail, _ := s.FindPartiesByContact(ctx, "evt-1", "ana@example.com")
	if len(byEmail) != 2 {
		t.Errorf("by email = %d, want 2", len(byEmail))
	}
	byPhone, _ := s.FindPartiesByContact(ctx, "evt-1", "+15550100")
	if len(byPhone) != 1 || byPhone[0].PartyID != "p2" {
		t.Errorf("by phone = %+v", byPhone)
	}
	list, _ := s.ListParties(ctx, "evt-1")
	if len(list) != 2 || list[0].PartyID != "p1" {
		t.Errorf("list = %+v", list)
	}
}

func TestChallengeStore_LatestAndPrune(t *testing.T) {
	s := NewChallengeStore()
	ctx := context.Background()
	t0 := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"otp-1", "otp-2"} {
		rec := store.ChallengeRecord{
			ChallengeID: id, Identifier: "ana@example.com", Purpose: "p",
			IssuedAt: t0.Add(time.Duration(i) * time.Hour), ExpiresAt: t0.Add(time.Duration(i)*time.Hour + 5*time.Minute),
		}
		if err := s.CreateChallenge(ctx, rec); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	if err := s.CreateChallenge(ctx, store.ChallengeRecord{ChallengeID: "otp-1"}); !errors.Is(err, store.ErrConflict) {
		t.Errorf("duplicate id: err = %v", err)
	}

	latest, err := s.LatestChallenge(ctx, "ana@example.com", "p")
	if err != nil || latest.ChallengeID != "otp-2" {
		t.Errorf("latest = %+v, %v", latest, err)
	}

	n, err := s.PruneOlderThan(ctx, t0.Add(30*time.Minute))
	if err != nil || n != 1 {
		t.Errorf("pruned = %d, %v", n, err)
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
	if err := s.UpdateChallenge(ctx, store.ChallengeRecord{ChallengeID: "otp-1"}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("update pruned: err = %v", err)
	}
}
