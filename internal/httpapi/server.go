package httpapi

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/BrandonDHaskell/gatekeeper/internal/gatekeeper/service"
	"github.com/BrandonDHaskell/gatekeeper/internal/gatekeeper/types"
)

type Dependencies struct {
	Logger      *log.Logger
	Addr        string
	Lifecycle   *service.Lifecycle
	Ledger      *service.Ledger
	Coordinator *service.Coordinator
	OTP         *service.OTPService
	Aggregator  *service.Aggregator
}

type Server struct {
	httpServer  *http.Server
	logger      *log.Logger
	mux         *http.ServeMux
	lifecycle   *service.Lifecycle
	ledger      *service.Ledger
	coordinator *service.Coordinator
	otp         *service.OTPService
	aggregator  *service.Aggregator
}

func NewServer(d Dependencies) *Server {
	mux := http.NewServeMux()

	s := &Server{
		logger:      d.Logger,
		mux:         mux,
		lifecycle:   d.Lifecycle,
		ledger:      d.Ledger,
		coordinator: d.Coordinator,
		otp:         d.OTP,
		aggregator:  d.Aggregator,
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("GET /v1/events/{event}/session", s.handleGetSession)
	mux.HandleFunc("POST /v1/events/{event}/session/{action}", s.handleTransition)

	mux.HandleFunc("POST /v1/events/{event}/admissions/manual", s.handleManualAdmit)
	mux.HandleFunc("POST /v1/events/{event}/admissions/self", s.handleSelfAdmit)
	mux.HandleFunc("POST /v1/events/{event}/admissions/facial", s.handleFacialAdmit)
	mux.HandleFunc("POST /v1/events/{event}/admissions/bulk", s.handleBulkAdmit)

	mux.HandleFunc("POST /v1/otp/issue", s.handleIssueOtp)
	mux.HandleFunc("POST /v1/otp/verify", s.handleVerifyOtp)

	mux.HandleFunc("GET /v1/events/{event}/stats", s.handleStats)
	mux.HandleFunc("GET /v1/events/{event}/parties/{party}", s.handleGetParty)
	mux.HandleFunc("POST /v1/events/{event}/parties", s.handleAttachParties)
	mux.HandleFunc("GET /v1/events/{event}/transactions", s.handleTransactions)

	handler := loggingMiddleware(d.Logger, recoverMiddleware(d.Logger, mux))

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// fail writes the error response for err, logging anything unexpected.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Printf("%s error: %v", op, err)
		writeError(w, r, status, "internal_error", "unexpected server error")
		return
	}
	writeError(w, r, status, types.ErrorCode(err), err.Error())
}

func (s *Server) badBody(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusBadRequest, "bad_body", "invalid request body")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// ── Session ──────────────────────────────────────────────────────────────────

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	rec, err := s.lifecycle.Status(r.Context(), r.PathValue("event"))
	if err != nil {
		s.fail(w, r, "get session", err)
		return
	}
	respond(w, r, http.StatusOK, types.SessionFromRecord(rec))
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	action, err := service.ParseAction(r.PathValue("action"))
	if err != nil {
		writeError(w, r, http.StatusNotFound, "unknown_action", err.Error())
		return
	}
	var req types.TransitionRequest
	if err := decodeBody(r, &req); err != nil {
		s.badBody(w, r)
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}

	rec, err := s.lifecycle.Transition(r.Context(), r.PathValue("event"), action, req.IdempotencyKey)
	if err != nil {
		s.fail(w, r, "transition", err)
		return
	}
	respond(w, r, http.StatusOK, types.SessionFromRecord(rec))
}

// ── Admissions ───────────────────────────────────────────────────────────────

// writeAdmission answers an admission.  Rejections the ledger or gate
// recorded carry the admission body so clients see the current count.
func (s *Server) writeAdmission(w http.ResponseWriter, r *http.Request, op string, adm service.Admission, err error) {
	if err != nil && adm.Outcome == "" {
		s.fail(w, r, op, err)
		return
	}
	status := http.StatusOK
	if err != nil {
		status = statusFor(err)
	}
	respond(w, r, status, types.AdmissionFrom(adm, err))
}

func (s *Server) decodeAdmit(w http.ResponseWriter, r *http.Request) (types.AdmitRequest, bool) {
	var req types.AdmitRequest
	if err := decodeBody(r, &req); err != nil {
		s.badBody(w, r)
		return req, false
	}
	if req.Nonce == "" {
		req.Nonce = r.Header.Get("Idempotency-Key")
	}
	if req.Delta == 0 {
		req.Delta = 1
	}
	return req, true
}

func (s *Server) handleManualAdmit(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeAdmit(w, r)
	if !ok {
		return
	}
	adm, err := s.coordinator.ManualAdmit(r.Context(), r.PathValue("event"), req.PartyID, req.Delta, req.Nonce)
	s.writeAdmission(w, r, "manual admit", adm, err)
}

func (s *Server) handleSelfAdmit(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeAdmit(w, r)
	if !ok {
		return
	}
	adm, err := s.coordinator.SelfAdmit(r.Context(), r.PathValue("event"), req.Identifier, req.Delta, req.Nonce)
	s.writeAdmission(w, r, "self admit", adm, err)
}

func (s *Server) handleFacialAdmit(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeAdmit(w, r)
	if !ok {
		return
	}
	if req.Confidence == nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "confidence is required")
		return
	}
	adm, err := s.coordinator.FacialAdmit(r.Context(), r.PathValue("event"), req.PartyID, *req.Confidence, req.Delta, req.Nonce)
	s.writeAdmission(w, r, "facial admit", adm, err)
}

func (s *Server) handleBulkAdmit(w http.ResponseWriter, r *http.Request) {
	var req types.BulkAdmitRequest
	if err := decodeBody(r, &req); err != nil {
		s.badBody(w, r)
		return
	}
	if req.Nonce == "" {
		req.Nonce = r.Header.Get("Idempotency-Key")
	}
	results, err := s.coordinator.BulkAdmit(r.Context(), r.PathValue("event"), req.ServiceEntries(), req.Nonce)
	if err != nil {
		s.fail(w, r, "bulk admit", err)
		return
	}
	respond(w, r, http.StatusOK, types.BulkFrom(results))
}

// ── OTP ──────────────────────────────────────────────────────────────────────

func (s *Server) handleIssueOtp(w http.ResponseWriter, r *http.Request) {
	var req types.IssueOtpRequest
	if err := decodeBody(r, &req); err != nil {
		s.badBody(w, r)
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}
	issued, err := s.otp.Issue(r.Context(), req.Identifier, types.PurposeOrDefault(req.Purpose), req.IdempotencyKey)
	if err != nil {
		s.fail(w, r, "issue otp", err)
		return
	}
	respond(w, r, http.StatusOK, types.IssuedFrom(issued))
}

func (s *Server) handleVerifyOtp(w http.ResponseWriter, r *http.Request) {
	var req types.VerifyOtpRequest
	if err := decodeBody(r, &req); err != nil {
		s.badBody(w, r)
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}
	v, err := s.otp.Verify(r.Context(), req.Identifier, types.PurposeOrDefault(req.Purpose), req.Code, req.IdempotencyKey)
	if service.IsOtpFailure(err) {
		respond(w, r, http.StatusUnauthorized, types.VerifyOtpResponse{Verified: false, Reason: types.ErrorCode(err)})
		return
	}
	if err != nil {
		s.fail(w, r, "verify otp", err)
		return
	}
	respond(w, r, http.StatusOK, types.VerifyOtpResponse{Verified: true, ChallengeID: v.ChallengeID, Replayed: v.Replayed})
}

// ── Queries ──────────────────────────────────────────────────────────────────

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.aggregator.Stats(r.Context(), r.PathValue("event"))
	if err != nil {
		s.fail(w, r, "stats", err)
		return
	}
	respond(w, r, http.StatusOK, types.StatsFrom(st))
}

func (s *Server) handleGetParty(w http.ResponseWriter, r *http.Request) {
	view, err := s.aggregator.PartyStatus(r.Context(), r.PathValue("event"), r.PathValue("party"))
	if err != nil {
		s.fail(w, r, "party status", err)
		return
	}
	respond(w, r, http.StatusOK, types.PartyFrom(view))
}

func (s *Server) handleAttachParties(w http.ResponseWriter, r *http.Request) {
	var req types.AttachPartiesRequest
	if err := decodeBody(r, &req); err != nil {
		s.badBody(w, r)
		return
	}
	eventID := r.PathValue("event")
	if err := s.ledger.Attach(r.Context(), eventID, req.Records()); err != nil {
		s.fail(w, r, "attach parties", err)
		return
	}
	respond(w, r, http.StatusOK, types.AttachPartiesResponse{EventID: eventID, Attached: len(req.Parties)})
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	eventID := r.PathValue("event")
	txns, err := s.ledger.Transactions(r.Context(), eventID)
	if err != nil {
		s.fail(w, r, "transactions", err)
		return
	}
	respond(w, r, http.StatusOK, types.TransactionsFrom(eventID, txns))
}
