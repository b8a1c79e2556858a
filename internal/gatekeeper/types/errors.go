package types

import (
	"errors"

	"github.com/BrandonDHaskell/gatekeeper/internal/gatekeeper/service"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ErrorCode maps a service error to the stable code clients switch on.
// Unrecognized errors map to "internal_error".
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, service.ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, service.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, service.ErrEventNotAdmitting):
		return "event_not_admitting"
	case errors.Is(err, service.ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, service.ErrPartyNotFound):
		return "party_not_found"
	case errors.Is(err, service.ErrAmbiguousIdentifier):
		return "ambiguous_identifier"
	case errors.Is(err, service.ErrVerificationRequired):
		return "verification_required"
	case errors.Is(err, service.ErrMatchBelowThreshold):
		return "match_below_threshold"
	case errors.Is(err, service.ErrOtpNotFound):
		return "otp_not_found"
	case errors.Is(err, service.ErrOtpExpired):
		return "otp_expired"
	case errors.Is(err, service.ErrOtpAttemptsExceeded):
		return "otp_attempts_exceeded"
	case errors.Is(err, service.ErrOtpMismatch):
		return "otp_mismatch"
	case errors.Is(err, service.ErrOtpConsumed):
		return "otp_consumed"
	case errors.Is(err, service.ErrIssueThrottled):
		return "issue_throttled"
	case errors.Is(err, service.ErrChannelUnavailable):
		return "channel_unavailable"
	default:
		return "internal_error"
	}
}
