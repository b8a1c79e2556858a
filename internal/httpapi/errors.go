package httpapi

import (
	"errors"
	"net/http"

	"github.com/BrandonDHaskell/gatekeeper/internal/gatekeeper/service"
)

// statusFor maps a service error onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrEventNotAdmitting),
		errors.Is(err, service.ErrCapacityExceeded),
		errors.Is(err, service.ErrAmbiguousIdentifier):
		return http.StatusConflict
	case errors.Is(err, service.ErrPartyNotFound):
		return http.StatusNotFound
	case service.IsOtpFailure(err):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrVerificationRequired):
		return http.StatusForbidden
	case errors.Is(err, service.ErrIssueThrottled):
		return http.StatusTooManyRequests
	case errors.Is(err, service.ErrMatchBelowThreshold):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrChannelUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
