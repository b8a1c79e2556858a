// Package events publishes lifecycle, admission and passcode notifications
// for downstream consumers such as live dashboards.
package events

import (
	"context"
	"time"
)

// Topic prefixes.  The full subject appends the new status or outcome,
// e.g. "gatekeeper.session.paused" or "gatekeeper.admission.applied".
const (
	TopicSessionPrefix   = "gatekeeper.session."
	TopicAdmissionPrefix = "gatekeeper.admission."

	TopicOtpIssued   = "gatekeeper.otp.issued"
	TopicOtpVerified = "gatekeeper.otp.verified"
)

type SessionChanged struct {
	EventID string    `json:"event_id" cbor:"event_id"`
	From    string    `json:"from" cbor:"from"`
	To      string    `json:"to" cbor:"to"`
	At      time.Time `json:"at" cbor:"at"`
}

type AdmissionRecorded struct {
	EventID       string    `json:"event_id" cbor:"event_id"`
	PartyID       string    `json:"party_id" cbor:"party_id"`
	TransactionID string    `json:"transaction_id" cbor:"transaction_id"`
	Method        string    `json:"method" cbor:"method"`
	Delta         int       `json:"delta" cbor:"delta"`
	Outcome       string    `json:"outcome" cbor:"outcome"`
	Count         int       `json:"count" cbor:"count"`
	Replayed      bool      `json:"replayed,omitempty" cbor:"replayed,omitempty"`
	At            time.Time `json:"at" cbor:"at"`
}

// OtpEvent never carries the code.
type OtpEvent struct {
	ChallengeID string    `json:"challenge_id" cbor:"challenge_id"`
	Purpose     string    `json:"purpose" cbor:"purpose"`
	At          time.Time `json:"at" cbor:"at"`
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}
