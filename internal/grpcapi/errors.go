package grpcapi

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/gatekeeper/internal/gatekeeper/service"
	"github.com/BrandonDHaskell/gatekeeper/internal/gatekeeper/types"
)

func codeFor(err error) codes.Code {
	switch {
	case errors.Is(err, service.ErrInvalidRequest),
		errors.Is(err, service.ErrMatchBelowThreshold):
		return codes.InvalidArgument
	case errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrEventNotAdmitting),
		errors.Is(err, service.ErrCapacityExceeded),
		errors.Is(err, service.ErrAmbiguousIdentifier):
		return codes.FailedPrecondition
	case errors.Is(err, service.ErrPartyNotFound):
		return codes.NotFound
	case service.IsOtpFailure(err):
		return codes.Unauthenticated
	case errors.Is(err, service.ErrVerificationRequired):
		return codes.PermissionDenied
	case errors.Is(err, service.ErrIssueThrottled):
		return codes.ResourceExhausted
	case errors.Is(err, service.ErrChannelUnavailable):
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// toStatus converts a service error into a gRPC status error.  The
// message starts with the stable error code.  A non-nil detail (e.g. a
// rejected admission) is attached as a Struct status detail.
func toStatus(err error, detail *structpb.Struct) error {
	code := codeFor(err)
	msg := types.ErrorCode(err) + ": " + err.Error()
	if code == codes.Internal {
		msg = "internal_error: unexpected server error"
	}
	st := status.New(code, msg)
	if detail != nil {
		if withDetail, derr := st.WithDetails(detail); derr == nil {
			st = withDetail
		}
	}
	return st.Err()
}
