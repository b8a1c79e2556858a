package types

import "github.com/BrandonDHaskell/gatekeeper/internal/gatekeeper/service"

type IssueOtpRequest struct {
	Identifier     string `json:"identifier"`
	Purpose        string `json:"purpose,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type IssueOtpResponse struct {
	ChallengeID string `json:"challenge_id"`
	ExpiresAt   string `json:"expires_at"`
	Replayed    bool   `json:"replayed"`
}

func IssuedFrom(c service.IssuedChallenge) IssueOtpResponse {
	return IssueOtpResponse{
		ChallengeID: c.ChallengeID,
		ExpiresAt:   FormatTime(c.ExpiresAt),
		Replayed:    c.Replayed,
	}
}

type VerifyOtpRequest struct {
	Identifier     string `json:"identifier"`
	Purpose        string `json:"purpose,omitempty"`
	Code           string `json:"code"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type VerifyOtpResponse struct {
	Verified    bool   `json:"verified"`
	ChallengeID string `json:"challenge_id,omitempty"`
	Replayed    bool   `json:"replayed,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// PurposeOrDefault falls back to the self-service purpose.
func PurposeOrDefault(p string) string {
	if p == "" {
		return service.PurposeSelfService
	}
	return p
}
