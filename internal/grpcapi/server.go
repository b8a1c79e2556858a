package grpcapi

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/gatekeeper/internal/gatekeeper/service"
	"github.com/BrandonDHaskell/gatekeeper/internal/gatekeeper/types"
	"github.com/BrandonDHaskell/gatekeeper/internal/pbconv"
)

type Dependencies struct {
	Logger      *log.Logger
	Lifecycle   *service.Lifecycle
	Ledger      *service.Ledger
	Coordinator *service.Coordinator
	OTP         *service.OTPService
	Aggregator  *service.Aggregator
}

// Server implements MonitorServer on top of the service layer.
type Server struct {
	logger      *log.Logger
	lifecycle   *service.Lifecycle
	ledger      *service.Ledger
	coordinator *service.Coordinator
	otp         *service.OTPService
	aggregator  *service.Aggregator
}

var _ MonitorServer = (*Server)(nil)

func NewServer(d Dependencies) *Server {
	return &Server{
		logger:      d.Logger,
		lifecycle:   d.Lifecycle,
		ledger:      d.Ledger,
		coordinator: d.Coordinator,
		otp:         d.OTP,
		aggregator:  d.Aggregator,
	}
}

// NewGRPCServer creates a gRPC server with standard interceptors and
// registers the Monitor service, the health service and reflection.
// The returned health server reports SERVING for ServiceName and the
// overall server.
func NewGRPCServer(s *Server, logger *log.Logger) (*grpc.Server, *health.Server) {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			recoveryInterceptor(logger),
			loggingInterceptor(logger),
		),
	)

	RegisterMonitorServer(srv, s)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	reflection.Register(srv)
	return srv, hs
}

func loggingInterceptor(logger *log.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Printf("rpc %s code=%s dur=%s", info.FullMethod, status.Code(err), time.Since(start))
		return resp, err
	}
}

func recoveryInterceptor(logger *log.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Printf("panic in %s: %v\n%s", info.FullMethod, r, debug.Stack())
				err = status.Errorf(codes.Internal, "internal server error")
			}
		}()
		return handler(ctx, req)
	}
}

// ── Messages ─────────────────────────────────────────────────────────────────

type eventRequest struct {
	EventID string `json:"event_id"`
}

type transitionRequest struct {
	EventID        string `json:"event_id"`
	Action         string `json:"action"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type admitRequest struct {
	EventID string `json:"event_id"`
	types.AdmitRequest
}

type bulkRequest struct {
	EventID string `json:"event_id"`
	types.BulkAdmitRequest
}

type partyRequest struct {
	EventID string `json:"event_id"`
	PartyID string `json:"party_id"`
}

type attachRequest struct {
	EventID string `json:"event_id"`
	types.AttachPartiesRequest
}

func decode(in *structpb.Struct, v any) error {
	if err := pbconv.FromStruct(in, v); err != nil {
		return status.Error(codes.InvalidArgument, "bad_body: "+err.Error())
	}
	return nil
}

func (s *Server) reply(method string, v any) (*structpb.Struct, error) {
	out, err := pbconv.ToStruct(v)
	if err != nil {
		s.logger.Printf("%s: encode response: %v", method, err)
		return nil, status.Error(codes.Internal, "internal_error: response encoding failed")
	}
	return out, nil
}

func (s *Server) fail(method string, err error) error {
	if codeFor(err) == codes.Internal {
		s.logger.Printf("%s error: %v", method, err)
	}
	return toStatus(err, nil)
}

// ── Session ──────────────────────────────────────────────────────────────────

func (s *Server) GetStatus(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req eventRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	rec, err := s.lifecycle.Status(ctx, req.EventID)
	if err != nil {
		return nil, s.fail("GetStatus", err)
	}
	return s.reply("GetStatus", types.SessionFromRecord(rec))
}

func (s *Server) Transition(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req transitionRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	action, err := service.ParseAction(req.Action)
	if err != nil {
		return nil, s.fail("Transition", err)
	}
	rec, err := s.lifecycle.Transition(ctx, req.EventID, action, req.IdempotencyKey)
	if err != nil {
		return nil, s.fail("Transition", err)
	}
	return s.reply("Transition", types.SessionFromRecord(rec))
}

// ── Admissions ───────────────────────────────────────────────────────────────

// admission answers an admission call.  A rejection the ledger or gate
// recorded is returned as an error status carrying the admission body.
func (s *Server) admission(method string, adm service.Admission, err error) (*structpb.Struct, error) {
	body, encErr := s.reply(method, types.AdmissionFrom(adm, err))
	if err == nil {
		return body, encErr
	}
	if adm.Outcome == "" {
		return nil, s.fail(method, err)
	}
	return nil, toStatus(err, body)
}

func decodeAdmit(in *structpb.Struct) (admitRequest, error) {
	var req admitRequest
	if err := decode(in, &req); err != nil {
		return req, err
	}
	if req.Delta == 0 {
		req.Delta = 1
	}
	return req, nil
}

func (s *Server) ManualAdmit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := decodeAdmit(in)
	if err != nil {
		return nil, err
	}
	adm, err := s.coordinator.ManualAdmit(ctx, req.EventID, req.PartyID, req.Delta, req.Nonce)
	return s.admission("ManualAdmit", adm, err)
}

func (s *Server) SelfAdmit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := decodeAdmit(in)
	if err != nil {
		return nil, err
	}
	adm, err := s.coordinator.SelfAdmit(ctx, req.EventID, req.Identifier, req.Delta, req.Nonce)
	return s.admission("SelfAdmit", adm, err)
}

func (s *Server) FacialAdmit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := decodeAdmit(in)
	if err != nil {
		return nil, err
	}
	if req.Confidence == nil {
		return nil, s.fail("FacialAdmit", fmt.Errorf("%w: confidence is required", service.ErrInvalidRequest))
	}
	adm, err := s.coordinator.FacialAdmit(ctx, req.EventID, req.PartyID, *req.Confidence, req.Delta, req.Nonce)
	return s.admission("FacialAdmit", adm, err)
}

func (s *Server) BulkAdmit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req bulkRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	results, err := s.coordinator.BulkAdmit(ctx, req.EventID, req.ServiceEntries(), req.Nonce)
	if err != nil {
		return nil, s.fail("BulkAdmit", err)
	}
	return s.reply("BulkAdmit", types.BulkFrom(results))
}

// ── OTP ──────────────────────────────────────────────────────────────────────

func (s *Server) IssueOtp(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req types.IssueOtpRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	issued, err := s.otp.Issue(ctx, req.Identifier, types.PurposeOrDefault(req.Purpose), req.IdempotencyKey)
	if err != nil {
		return nil, s.fail("IssueOtp", err)
	}
	return s.reply("IssueOtp", types.IssuedFrom(issued))
}

func (s *Server) VerifyOtp(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req types.VerifyOtpRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	v, err := s.otp.Verify(ctx, req.Identifier, types.PurposeOrDefault(req.Purpose), req.Code, req.IdempotencyKey)
	if service.IsOtpFailure(err) {
		body, _ := pbconv.ToStruct(types.VerifyOtpResponse{Verified: false, Reason: types.ErrorCode(err)})
		return nil, toStatus(err, body)
	}
	if err != nil {
		return nil, s.fail("VerifyOtp", err)
	}
	return s.reply("VerifyOtp", types.VerifyOtpResponse{Verified: true, ChallengeID: v.ChallengeID, Replayed: v.Replayed})
}

// ── Queries ──────────────────────────────────────────────────────────────────

func (s *Server) GetAttendanceStats(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req eventRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	st, err := s.aggregator.Stats(ctx, req.EventID)
	if err != nil {
		return nil, s.fail("GetAttendanceStats", err)
	}
	return s.reply("GetAttendanceStats", types.StatsFrom(st))
}

func (s *Server) GetPartyStatus(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req partyRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	view, err := s.aggregator.PartyStatus(ctx, req.EventID, req.PartyID)
	if err != nil {
		return nil, s.fail("GetPartyStatus", err)
	}
	return s.reply("GetPartyStatus", types.PartyFrom(view))
}

func (s *Server) AttachParties(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req attachRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if err := s.ledger.Attach(ctx, req.EventID, req.Records()); err != nil {
		return nil, s.fail("AttachParties", err)
	}
	return s.reply("AttachParties", types.AttachPartiesResponse{EventID: req.EventID, Attached: len(req.Parties)})
}
