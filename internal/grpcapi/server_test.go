package grpcapi_test

import (
	"context"
	"io"
	"log"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/gatekeeper/internal/gatekeeper/service"
	"github.com/BrandonDHaskell/gatekeeper/internal/gatekeeper/store/memory"
	"github.com/BrandonDHaskell/gatekeeper/internal/grpcapi"
)

func newTestConn(t *testing.T) *grpc.ClientConn {
	t.Helper()

	logger := log.New(io.Discard, "", 0)
	lifecycle := service.NewLifecycle(memory.NewSessionStore(), nil, logger)
	ledger := service.NewLedger(memory.NewLedgerStore())
	otp, err := service.NewOTPService(memory.NewChallengeStore(), nopNotifier{}, nil, service.OTPConfig{HashSecret: "test"}, logger)
	if err != nil {
		t.Fatalf("NewOTPService: %v", err)
	}
	coord := service.NewCoordinator(lifecycle, ledger, otp, nil, service.CoordinatorConfig{MinFacialConfidence: 0.8}, logger)

	srv, _ := grpcapi.NewGRPCServer(grpcapi.NewServer(grpcapi.Dependencies{
		Logger:      logger,
		Lifecycle:   lifecycle,
		Ledger:      ledger,
		Coordinator: coord,
		OTP:         otp,
		Aggregator:  service.NewAggregator(ledger),
	}), logger)

	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

type nopNotifier struct{}

func (nopNotifier) Deliver(context.Context, service.Delivery) error { return nil }

func call(t *testing.T, conn *grpc.ClientConn, method string, in map[string]any) (*structpb.Struct, error) {
	t.Helper()
	req, err := structpb.NewStruct(in)
	if err != nil {
		t.Fatalf("NewStruct: %v", err)
	}
	out := new(structpb.Struct)
	err = conn.Invoke(context.Background(), "/"+grpcapi.ServiceName+"/"+method, req, out)
	return out, err
}

func mustCall(t *testing.T, conn *grpc.ClientConn, method string, in map[string]any) *structpb.Struct {
	t.Helper()
	out, err := call(t, conn, method, in)
	if err != nil {
		t.Fatalf("%s: %v", method, err)
	}
	return out
}

func setupEvent(t *testing.T, conn *grpc.ClientConn) {
	t.Helper()
	mustCall(t, conn, "AttachParties", map[string]any{
		"event_id": "evt-1",
		"parties": []any{
			map[string]any{"party_id": "p1", "email": "ana@example.com", "allowed_headcount": 2},
		},
	})
	mustCall(t, conn, "Transition", map[string]any{"event_id": "evt-1", "action": "start"})
}

func TestGetStatus_NotStarted(t *testing.T) {
	conn := newTestConn(t)
	out := mustCall(t, conn, "GetStatus", map[string]any{"event_id": "evt-9"})
	if got := out.Fields["status"].GetStringValue(); got != "not_started" {
		t.Errorf("status = %q, want not_started", got)
	}
}

func TestTransition_Invalid(t *testing.T) {
	conn := newTestConn(t)
	_, err := call(t, conn, "Transition", map[string]any{"event_id": "evt-1", "action": "pause"})
	if status.Code(err) != codes.FailedPrecondition {
		t.Errorf("pause before start: code = %v, want FailedPrecondition", status.Code(err))
	}
	_, err = call(t, conn, "Transition", map[string]any{"event_id": "evt-1", "action": "explode"})
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("unknown action: code = %v, want InvalidArgument", status.Code(err))
	}
}

func TestManualAdmit_AppliedAndCapacityDetail(t *testing.T) {
	conn := newTestConn(t)
	setupEvent(t, conn)

	out := mustCall(t, conn, "ManualAdmit", map[string]any{"event_id": "evt-1", "party_id": "p1", "delta": 2, "nonce": "n1"})
	if out.Fields["outcome"].GetStringValue() != "applied" || out.Fields["count"].GetNumberValue() != 2 {
		t.Errorf("applied = %v", out)
	}

	_, err := call(t, conn, "ManualAdmit", map[string]any{"event_id": "evt-1", "party_id": "p1", "nonce": "n2"})
	st := status.Convert(err)
	if st.Code() != codes.FailedPrecondition {
		t.Fatalf("code = %v, want FailedPrecondition", st.Code())
	}
	details := st.Details()
	if len(details) != 1 {
		t.Fatalf("details = %v, want one admission body", details)
	}
	body, ok := details[0].(*structpb.Struct)
	if !ok {
		t.Fatalf("detail type = %T", details[0])
	}
	if body.Fields["outcome"].GetStringValue() != "rejected_capacity" || body.Fields["error"].GetStringValue() != "capacity_exceeded" {
		t.Errorf("detail = %v", body)
	}
}

func TestManualAdmit_UnknownPartyAndBadBody(t *testing.T) {
	conn := newTestConn(t)
	setupEvent(t, conn)

	_, err := call(t, conn, "ManualAdmit", map[string]any{"event_id": "evt-1", "party_id": "ghost"})
	if status.Code(err) != codes.NotFound {
		t.Errorf("ghost: code = %v, want NotFound", status.Code(err))
	}
	_, err = call(t, conn, "ManualAdmit", map[string]any{"event_id": "evt-1", "party_id": "p1", "bogus": true})
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("bogus field: code = %v, want InvalidArgument", status.Code(err))
	}
}

func TestFacialAdmit_BelowThreshold(t *testing.T) {
	conn := newTestConn(t)
	setupEvent(t, conn)

	_, err := call(t, conn, "FacialAdmit", map[string]any{"event_id": "evt-1", "party_id": "p1", "confidence": 0.5})
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("code = %v, want InvalidArgument", status.Code(err))
	}
	_, err = call(t, conn, "FacialAdmit", map[string]any{"event_id": "evt-1", "party_id": "p1"})
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("missing confidence: code = %v, want InvalidArgument", status.Code(err))
	}
}

func TestVerifyOtp_MismatchIsUnauthenticated(t *testing.T) {
	conn := newTestConn(t)
	mustCall(t, conn, "IssueOtp", map[string]any{"identifier": "ana@example.com"})

	_, err := call(t, conn, "VerifyOtp", map[string]any{"identifier": "ana@example.com", "code": "not-a-code"})
	st := status.Convert(err)
	if st.Code() != codes.Unauthenticated {
		t.Fatalf("code = %v, want Unauthenticated", st.Code())
	}
	if len(st.Details()) != 1 {
		t.Errorf("details = %v", st.Details())
	}
}

func TestStatsAndPartyStatus(t *testing.T) {
	conn := newTestConn(t)
	setupEvent(t, conn)
	mustCall(t, conn, "ManualAdmit", map[string]any{"event_id": "evt-1", "party_id": "p1", "delta": 1})

	stats := mustCall(t, conn, "GetAttendanceStats", map[string]any{"event_id": "evt-1"})
	if stats.Fields["admitted"].GetNumberValue() != 1 || stats.Fields["capacity"].GetNumberValue() != 2 {
		t.Errorf("stats = %v", stats)
	}
	party := mustCall(t, conn, "GetPartyStatus", map[string]any{"event_id": "evt-1", "party_id": "p1"})
	if party.Fields["status"].GetStringValue() != "partially_admitted" {
		t.Errorf("party = %v", party)
	}
}

func TestHealth(t *testing.T) {
	conn := newTestConn(t)
	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: grpcapi.ServiceName})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("status = %v, want SERVING", resp.Status)
	}
}
