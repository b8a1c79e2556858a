package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/gatekeeper/internal/gatekeeper/service"
	"github.com/BrandonDHaskell/gatekeeper/internal/gatekeeper/store/memory"
	"github.com/BrandonDHaskell/gatekeeper/internal/gatekeeper/types"
	"github.com/BrandonDHaskell/gatekeeper/internal/httpapi"
)

// inbox is a Notifier that keeps the last code sent to each identifier.
type inbox struct {
	mu    sync.Mutex
	codes map[string]string
}

func (i *inbox) Deliver(_ context.Context, d service.Delivery) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.codes[d.Identifier] = d.Code
	return nil
}

func (i *inbox) code(id string) string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.codes[id]
}

// newTestServer wires up the full dependency graph using in-memory stores
// and returns an httptest.Server whose URL can be hit with a plain http.Client.
func newTestServer(t *testing.T) (*httptest.Server, *inbox) {
	t.Helper()

	logger := log.New(io.Discard, "", 0)
	box := &inbox{codes: make(map[string]string)}

	lifecycle := service.NewLifecycle(memory.NewSessionStore(), nil, logger)
	ledger := service.NewLedger(memory.NewLedgerStore())
	otp, err := service.NewOTPService(memory.NewChallengeStore(), box, nil, service.OTPConfig{HashSecret: "test"}, logger)
	if err != nil {
		t.Fatalf("NewOTPService: %v", err)
	}
	coord := service.NewCoordinator(lifecycle, ledger, otp, nil, service.CoordinatorConfig{MinFacialConfidence: 0.8}, logger)

	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:      logger,
		Addr:        ":0",
		Lifecycle:   lifecycle,
		Ledger:      ledger,
		Coordinator: coord,
		OTP:         otp,
		Aggregator:  service.NewAggregator(ledger),
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, box
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewReader([]byte(body)))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func getJSON(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected %d, got %d: %s", want, resp.StatusCode, body)
	}
}

// setupEvent attaches two parties to evt-1 and starts it.
func setupEvent(t *testing.T, base string) {
	t.Helper()
	resp := postJSON(t, base+"/v1/events/evt-1/parties", `{"parties":[
		{"party_id":"p1","email":"ana@example.com","allowed_headcount":2},
		{"party_id":"p2","phone":"+1 555 0100","allowed_headcount":1}]}`)
	expectStatus(t, resp, http.StatusOK)
	resp = postJSON(t, base+"/v1/events/evt-1/session/start", ``)
	expectStatus(t, resp, http.StatusOK)
}

// ── Session ──────────────────────────────────────────────────────────────────

func TestSession_UnknownEventNotStarted(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := getJSON(t, ts.URL+"/v1/events/fresh/session")
	expectStatus(t, resp, http.StatusOK)

	var s types.SessionResponse
	decode(t, resp, &s)
	if s.Status != "not_started" || s.Admitting {
		t.Errorf("session = %+v", s)
	}
}

func TestSession_Transitions(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/events/evt-1/session/start", `{"idempotency_key":"k1"}`)
	expectStatus(t, resp, http.StatusOK)
	var s types.SessionResponse
	decode(t, resp, &s)
	if s.Status != "in_progress" || s.StartedAt == nil {
		t.Errorf("after start = %+v", s)
	}

	// Same key replays.
	resp = postJSON(t, ts.URL+"/v1/events/evt-1/session/start", `{"idempotency_key":"k1"}`)
	expectStatus(t, resp, http.StatusOK)

	resp = postJSON(t, ts.URL+"/v1/events/evt-1/session/start", ``)
	expectStatus(t, resp, http.StatusConflict)
	var e types.ErrorResponse
	decode(t, resp, &e)
	if e.Error != "invalid_transition" {
		t.Errorf("error = %q", e.Error)
	}

	resp = postJSON(t, ts.URL+"/v1/events/evt-1/session/rewind", ``)
	expectStatus(t, resp, http.StatusNotFound)
}

// ── Admissions ───────────────────────────────────────────────────────────────

func TestManualAdmit_AppliedReplayedAndCapacity(t *testing.T) {
	ts, _ := newTestServer(t)
	setupEvent(t, ts.URL)
	url := ts.URL + "/v1/events/evt-1/admissions/manual"

	resp := postJSON(t, url, `{"party_id":"p1","delta":2,"nonce":"n1"}`)
	expectStatus(t, resp, http.StatusOK)
	var a types.AdmissionResponse
	decode(t, resp, &a)
	if !a.OK || a.Outcome != "applied" || a.Count != 2 || a.Replayed {
		t.Errorf("first = %+v", a)
	}

	resp = postJSON(t, url, `{"party_id":"p1","delta":2,"nonce":"n1"}`)
	expectStatus(t, resp, http.StatusOK)
	decode(t, resp, &a)
	if !a.Replayed || a.Count != 2 {
		t.Errorf("replay = %+v", a)
	}

	resp = postJSON(t, url, `{"party_id":"p1","nonce":"n2"}`)
	expectStatus(t, resp, http.StatusConflict)
	decode(t, resp, &a)
	if a.OK || a.Outcome != "rejected_capacity" || a.Error != "capacity_exceeded" || a.Count != 2 {
		t.Errorf("over capacity = %+v", a)
	}

	resp = postJSON(t, url, `{"party_id":"ghost"}`)
	expectStatus(t, resp, http.StatusNotFound)

	resp = postJSON(t, url, `{"party_id":"p1","bogus":1}`)
	expectStatus(t, resp, http.StatusBadRequest)
}

func TestManualAdmit_PausedEvent(t *testing.T) {
	ts, _ := newTestServer(t)
	setupEvent(t, ts.URL)
	expectStatus(t, postJSON(t, ts.URL+"/v1/events/evt-1/session/pause", ``), http.StatusOK)

	resp := postJSON(t, ts.URL+"/v1/events/evt-1/admissions/manual", `{"party_id":"p1","nonce":"n"}`)
	expectStatus(t, resp, http.StatusConflict)
	var a types.AdmissionResponse
	decode(t, resp, &a)
	if a.Outcome != "rejected_lifecycle" || a.Error != "event_not_admitting" {
		t.Errorf("paused = %+v", a)
	}

	expectStatus(t, postJSON(t, ts.URL+"/v1/events/evt-1/session/resume", ``), http.StatusOK)
	resp = postJSON(t, ts.URL+"/v1/events/evt-1/admissions/manual", `{"party_id":"p1","nonce":"n"}`)
	expectStatus(t, resp, http.StatusOK)
}

func TestSelfAdmit_WithOtp(t *testing.T) {
	ts, box := newTestServer(t)
	setupEvent(t, ts.URL)
	self := ts.URL + "/v1/events/evt-1/admissions/self"

	resp := postJSON(t, self, `{"identifier":"+15550100","nonce":"kiosk"}`)
	expectStatus(t, resp, http.StatusForbidden)

	resp = postJSON(t, ts.URL+"/v1/otp/issue", `{"identifier":"+1 (555) 0100"}`)
	expectStatus(t, resp, http.StatusOK)
	var issued types.IssueOtpResponse
	decode(t, resp, &issued)
	if issued.ChallengeID == "" || issued.ExpiresAt == "" {
		t.Errorf("issued = %+v", issued)
	}

	resp = postJSON(t, ts.URL+"/v1/otp/verify", `{"identifier":"+15550100","code":"not-it"}`)
	expectStatus(t, resp, http.StatusUnauthorized)
	var v types.VerifyOtpResponse
	decode(t, resp, &v)
	if v.Verified || v.Reason != "otp_mismatch" {
		t.Errorf("bad verify = %+v", v)
	}

	body, _ := json.Marshal(types.VerifyOtpRequest{Identifier: "+15550100", Code: box.code("+15550100")})
	resp = postJSON(t, ts.URL+"/v1/otp/verify", string(body))
	expectStatus(t, resp, http.StatusOK)
	decode(t, resp, &v)
	if !v.Verified {
		t.Errorf("verify = %+v", v)
	}

	resp = postJSON(t, self, `{"identifier":"+15550100","nonce":"kiosk"}`)
	expectStatus(t, resp, http.StatusOK)
	var a types.AdmissionResponse
	decode(t, resp, &a)
	if a.PartyID != "p2" || a.Count != 1 {
		t.Errorf("self admit = %+v", a)
	}
}

func TestOtpIssue_Validation(t *testing.T) {
	ts, _ := newTestServer(t)
	resp := postJSON(t, ts.URL+"/v1/otp/issue", `{"identifier":"  "}`)
	expectStatus(t, resp, http.StatusBadRequest)
}

func TestFacialAdmit(t *testing.T) {
	ts, _ := newTestServer(t)
	setupEvent(t, ts.URL)
	url := ts.URL + "/v1/events/evt-1/admissions/facial"

	expectStatus(t, postJSON(t, url, `{"party_id":"p1"}`), http.StatusBadRequest)
	expectStatus(t, postJSON(t, url, `{"party_id":"p1","confidence":0.4}`), http.StatusUnprocessableEntity)
	expectStatus(t, postJSON(t, url, `{"party_id":"p1","confidence":0.95}`), http.StatusOK)
}

func TestBulkAdmit(t *testing.T) {
	ts, _ := newTestServer(t)
	setupEvent(t, ts.URL)

	resp := postJSON(t, ts.URL+"/v1/events/evt-1/admissions/bulk",
		`{"entries":[{"party_id":"p1"},{"party_id":"p2","delta":2},{"party_id":"ghost"}],"nonce":"b1"}`)
	expectStatus(t, resp, http.StatusOK)

	var b types.BulkAdmitResponse
	decode(t, resp, &b)
	if b.Applied != 1 || b.Rejected != 2 || len(b.Results) != 3 {
		t.Fatalf("bulk = %+v", b)
	}
	if b.Results[1].Error != "capacity_exceeded" || b.Results[2].Error != "party_not_found" {
		t.Errorf("results = %+v", b.Results)
	}

	resp = postJSON(t, ts.URL+"/v1/events/evt-1/admissions/bulk", `{"entries":[{"party_id":"p1"},{"party_id":"p1"}]}`)
	expectStatus(t, resp, http.StatusBadRequest)
}

// ── Queries ──────────────────────────────────────────────────────────────────

func TestStatsPartyAndTransactions(t *testing.T) {
	ts, _ := newTestServer(t)
	setupEvent(t, ts.URL)
	expectStatus(t, postJSON(t, ts.URL+"/v1/events/evt-1/admissions/manual", `{"party_id":"p1"}`), http.StatusOK)

	resp := getJSON(t, ts.URL+"/v1/events/evt-1/stats")
	expectStatus(t, resp, http.StatusOK)
	var st types.StatsResponse
	decode(t, resp, &st)
	if st.Capacity != 3 || st.Admitted != 1 || st.ByMethod["manual"] != 1 || st.ByStatus["partially_admitted"] != 1 {
		t.Errorf("stats = %+v", st)
	}

	resp = getJSON(t, ts.URL+"/v1/events/evt-1/parties/p1")
	expectStatus(t, resp, http.StatusOK)
	var p types.PartyResponse
	decode(t, resp, &p)
	if p.Status != "partially_admitted" || p.LastAdmissionMethod != "manual" {
		t.Errorf("party = %+v", p)
	}

	expectStatus(t, getJSON(t, ts.URL+"/v1/events/evt-1/parties/ghost"), http.StatusNotFound)

	resp = getJSON(t, ts.URL+"/v1/events/evt-1/transactions")
	expectStatus(t, resp, http.StatusOK)
	var txns types.TransactionsResponse
	decode(t, resp, &txns)
	if len(txns.Transactions) != 1 || txns.Transactions[0].Outcome != "applied" {
		t.Errorf("transactions = %+v", txns)
	}
}

func TestAttachParties_Invalid(t *testing.T) {
	ts, _ := newTestServer(t)
	resp := postJSON(t, ts.URL+"/v1/events/evt-1/parties", `{"parties":[{"party_id":"p1","allowed_headcount":1}]}`)
	expectStatus(t, resp, http.StatusBadRequest)
}

// ── Protobuf ─────────────────────────────────────────────────────────────────

func TestManualAdmit_Protobuf(t *testing.T) {
	ts, _ := newTestServer(t)
	setupEvent(t, ts.URL)

	in, _ := structpb.NewStruct(map[string]any{"party_id": "p1", "delta": 2})
	data, err := proto.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(ts.URL+"/v1/events/evt-1/admissions/manual", "application/x-protobuf", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusOK)
	if ct := resp.Header.Get("Content-Type"); ct != "application/x-protobuf" {
		t.Fatalf("content type = %q", ct)
	}

	body, _ := io.ReadAll(resp.Body)
	var out structpb.Struct
	if err := proto.Unmarshal(body, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got := out.Fields["count"].GetNumberValue(); got != 2 {
		t.Errorf("count = %v", got)
	}
	if got := out.Fields["outcome"].GetStringValue(); got != "applied" {
		t.Errorf("outcome = %q", got)
	}
}

func TestHealthz(t *testing.T) {
	ts, _ := newTestServer(t)
	expectStatus(t, getJSON(t, ts.URL+"/healthz"), http.StatusOK)
}
