package service_test

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"

	"github.com/BrandonDHaskell/gatekeeper/internal/gatekeeper/events"
	"github.com/BrandonDHaskell/gatekeeper/internal/gatekeeper/service"
	"github.com/BrandonDHaskell/gatekeeper/internal/gatekeeper/store"
	"github.com/BrandonDHaskell/gatekeeper/internal/gatekeeper/store/memory"
)

const testEvent = "evt-1"

func silentLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// codeBox is a Notifier that remembers the last code per identifier.
type codeBox struct {
	mu    sync.Mutex
	codes map[string]string
}

func (b *codeBox) Deliver(_ context.Context, d service.Delivery) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.codes == nil {
		b.codes = make(map[string]string)
	}
	b.codes[d.Identifier] = d.Code
	return nil
}

func (b *codeBox) code(identifier string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.codes[identifier]
}

// stack is a fully wired service layer over in-memory stores.
type stack struct {
	sessions    *memory.SessionStore
	ledgerStore *memory.LedgerStore
	challenges  *memory.ChallengeStore
	pub         *events.MemoryPublisher
	codes       *codeBox

	lifecycle   *service.Lifecycle
	ledger      *service.Ledger
	otp         *service.OTPService
	coordinator *service.Coordinator
	aggregator  *service.Aggregator
}

func newStack(t *testing.T, cfg service.CoordinatorConfig) *stack {
	t.Helper()
	s := &stack{
		sessions:    memory.NewSessionStore(),
		ledgerStore: memory.NewLedgerStore(),
		challenges:  memory.NewChallengeStore(),
		pub:         &events.MemoryPublisher{},
		codes:       &codeBox{},
	}
	s.lifecycle = service.NewLifecycle(s.sessions, s.pub, silentLogger())
	s.ledger = service.NewLedger(s.ledgerStore)
	otp, err := service.NewOTPService(s.challenges, s.codes, s.pub, service.OTPConfig{HashSecret: "test"}, silentLogger())
	if err != nil {
		t.Fatalf("NewOTPService: %v", err)
	}
	s.otp = otp
	s.coordinator = service.NewCoordinator(s.lifecycle, s.ledger, s.otp, s.pub, cfg, silentLogger())
	s.aggregator = service.NewAggregator(s.ledger)
	return s
}

// attach adds a party with the given allowance and a derived email.
func (s *stack) attach(t *testing.T, partyID string, allowed int) {
	t.Helper()
	err := s.ledger.Attach(context.Background(), testEvent, []store.PartyRecord{{
		PartyID:          partyID,
		DisplayName:      "Party " + partyID,
		Email:            partyID + "@example.com",
		AllowedHeadcount: allowed,
	}})
	if err != nil {
		t.Fatalf("Attach(%s): %v", partyID, err)
	}
}

func (s *stack) start(t *testing.T) {
	t.Helper()
	if _, err := s.lifecycle.Start(context.Background(), testEvent, ""); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func (s *stack) admitted(t *testing.T, partyID string) int {
	t.Helper()
	p, err := s.ledger.Party(context.Background(), testEvent, partyID)
	if err != nil {
		t.Fatalf("Party(%s): %v", partyID, err)
	}
	return p.AdmittedHeadcount
}

func (s *stack) outcomes(t *testing.T) []store.Outcome {
	t.Helper()
	txns, err := s.ledger.Transactions(context.Background(), testEvent)
	if err != nil {
		t.Fatalf("Transactions: %v", err)
	}
	out := make([]store.Outcome, len(txns))
	for i, tx := range txns {
		out[i] = tx.Outcome
	}
	return out
}
