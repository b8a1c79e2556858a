package sqlite_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"

	"github.com/BrandonDHaskell/gatekeeper/internal/gatekeeper/service"
	"github.com/BrandonDHaskell/gatekeeper/internal/gatekeeper/store"
)

// The service layer over SQLite: concurrent admissions for one party
// never push the headcount past its allowance, and every attempt is
// accounted for in the log.
func TestSQLite_ConcurrentAdmissionsRespectCapacity(t *testing.T) {
	sessions, ledgerStore, _ := newStores(t)
	ctx := context.Background()

	lifecycle := service.NewLifecycle(sessions, nil, log.New(io.Discard, "", 0))
	ledger := service.NewLedger(ledgerStore)
	if err := ledger.Attach(ctx, "evt-1", []store.PartyRecord{
		{PartyID: "p1", Email: "ana@example.com", AllowedHeadcount: 4},
	}); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if _, err := lifecycle.Start(ctx, "evt-1", ""); err != nil {
		t.Fatalf("Start: %v", err)
	}

	const attempts = 10
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		applied  int
		rejected int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := service.AdmissionRequest{
				EventID:       "evt-1",
				PartyID:       "p1",
				Delta:         1,
				Method:        store.MethodManual,
				TransactionID: service.TransactionID("evt-1", "p1", store.MethodManual, fmt.Sprintf("n-%d", i)),
			}
			var adm service.Admission
			err := lifecycle.Admitting(ctx, "evt-1", func() error {
				var err error
				adm, err = ledger.Apply(ctx, req)
				return err
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && adm.Outcome == store.OutcomeApplied:
				applied++
			case errors.Is(err, service.ErrCapacityExceeded):
				rejected++
			default:
				t.Errorf("attempt %d: adm=%+v err=%v", i, adm, err)
			}
		}(i)
	}
	wg.Wait()

	if applied != 4 || rejected != attempts-4 {
		t.Errorf("applied=%d rejected=%d, want 4 and %d", applied, rejected, attempts-4)
	}
	p, err := ledger.Party(ctx, "evt-1", "p1")
	if err != nil {
		t.Fatalf("Party: %v", err)
	}
	if p.AdmittedHeadcount != 4 {
		t.Errorf("admitted = %d, want 4", p.AdmittedHeadcount)
	}
	txns, err := ledger.Transactions(ctx, "evt-1")
	if err != nil {
		t.Fatalf("Transactions: %v", err)
	}
	if len(txns) != attempts {
		t.Errorf("log has %d entries, want %d", len(txns), attempts)
	}
}

func TestSQLite_LifecycleSurvivesReopen(t *testing.T) {
	conn := openTestDB(t)
	w := newTestWriter(t, conn)
	ctx := context.Background()

	first := service.NewLifecycle(sqliteSessions(conn, w), nil, log.New(io.Discard, "", 0))
	if _, err := first.Start(ctx, "evt-1", "k1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := first.Pause(ctx, "evt-1", "k2"); err != nil {
		t.Fatalf("Pause: %v", err)
	}

	// A fresh Lifecycle over the same database sees the paused session
	// and treats the old keys as already applied.
	second := service.NewLifecycle(sqliteSessions(conn, w), nil, log.New(io.Discard, "", 0))
	rec, err := second.Status(ctx, "evt-1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if rec.Status != store.StatusPaused {
		t.Fatalf("status = %s, want paused", rec.Status)
	}
	rec, err = second.Pause(ctx, "evt-1", "k2")
	if err != nil {
		t.Fatalf("replayed Pause: %v", err)
	}
	if rec.Status != store.StatusPaused {
		t.Errorf("replayed status = %s", rec.Status)
	}
	rec, err = second.Start(ctx, "evt-1", "k1")
	if err != nil {
		t.Fatalf("replayed Start: %v", err)
	}
	if rec.Status != store.StatusInProgress {
		t.Errorf("replayed Start status = %s, want in_progress", rec.Status)
	}
}
