package service

import "errors"

// Request validation.
var (
	ErrInvalidRequest = errors.New("invalid request")
)

// Lifecycle.
var (
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
	ErrEventNotAdmitting = errors.New("event is not admitting")
)

// Ledger and channels.
var (
	ErrCapacityExceeded     = errors.New("admission exceeds allowed headcount")
	ErrPartyNotFound        = errors.New("party not found")
	ErrAmbiguousIdentifier  = errors.New("identifier matches more than one party")
	ErrVerificationRequired = errors.New("identifier has no verified passcode")
	ErrMatchBelowThreshold  = errors.New("facial match confidence below threshold")
)

// Passcodes.  Every verification failure is one of the ErrOtp values and
// callers treat them alike.
var (
	ErrOtpNotFound         = errors.New("no passcode challenge outstanding")
	ErrOtpExpired          = errors.New("passcode expired")
	ErrOtpAttemptsExceeded = errors.New("passcode attempts exceeded")
	ErrOtpMismatch         = errors.New("passcode mismatch")
	ErrOtpConsumed         = errors.New("passcode already used")
	ErrIssueThrottled      = errors.New("passcode requested too recently")
	ErrChannelUnavailable  = errors.New("delivery channel unavailable")
)

// IsOtpFailure reports whether err is any passcode verification failure.
func IsOtpFailure(err error) bool {
	return errors.Is(err, ErrOtpNotFound) ||
		errors.Is(err, ErrOtpExpired) ||
		errors.Is(err, ErrOtpAttemptsExceeded) ||
		errors.Is(err, ErrOtpMismatch) ||
		errors.Is(err, ErrOtpConsumed)
}
