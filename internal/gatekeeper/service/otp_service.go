package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/zeebo/blake3"

	"github.com/BrandonDHaskell/gatekeeper/internal/gatekeeper/events"
	"github.com/BrandonDHaskell/gatekeeper/internal/gatekeeper/store"
	"github.com/BrandonDHaskell/gatekeeper/internal/idgen"
)

// PurposeSelfService is the challenge purpose redeemed by self-service
// admission.
const PurposeSelfService = "self_service_admission"

// otpKeyContext is the BLAKE3 derive-key context for code hashes.
const otpKeyContext = "gatekeeper 2024-06 otp code hash v1"

// Delivery is handed to a Notifier for each issued challenge.  It is the
// only place the raw code exists outside the caller's handset.
type Delivery struct {
	ChallengeID string
	Identifier  string
	Purpose     string
	Code        string
	ExpiresAt   time.Time
}

// Notifier sends a passcode to its recipient.  Implementations return an
// error when the channel could not accept the message; the service
// retries with backoff.
type Notifier interface {
	Deliver(ctx context.Context, d Delivery) error
}

// OTPConfig holds the parameters for NewOTPService.  Zero values fall
// back to the defaults noted per field.
type OTPConfig struct {
	// TTL is how long an issued code stays valid.  Defaults to 5m.
	TTL time.Duration

	// CodeLength is the number of digits per code.  Defaults to 6.
	CodeLength int

	// MaxAttempts is the number of failed verifications a challenge
	// tolerates.  Defaults to 5.
	MaxAttempts int

	// Cooldown is the minimum gap between two issues for the same
	// identifier and purpose.  0 disables throttling.
	Cooldown time.Duration

	// HashSecret keys the code digests.  When empty a random secret is
	// generated, so outstanding codes do not survive a restart.
	HashSecret string

	// DeliveryAttempts bounds notifier retries.  Defaults to 4.
	DeliveryAttempts uint

	// DeliveryMaxElapsed bounds the total time spent delivering.
	// Defaults to 10s.
	DeliveryMaxElapsed time.Duration
}

func (c OTPConfig) withDefaults() OTPConfig {
	if c.TTL <= 0 {
		c.TTL = 5 * time.Minute
	}
	if c.CodeLength <= 0 {
		c.CodeLength = 6
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.DeliveryAttempts == 0 {
		c.DeliveryAttempts = 4
	}
	if c.DeliveryMaxElapsed <= 0 {
		c.DeliveryMaxElapsed = 10 * time.Second
	}
	return c
}

// IssuedChallenge identifies a challenge returned by Issue.
type IssuedChallenge struct {
	ChallengeID string
	ExpiresAt   time.Time
	Replayed    bool
}

// Verification is the result of a successful Verify.
type Verification struct {
	ChallengeID string
	Replayed    bool
}

// OTPService issues, verifies and redeems one-time passcodes.  Raw codes
// are never stored; verification compares keyed digests in constant time.
type OTPService struct {
	store     store.ChallengeStore
	notifier  Notifier
	publisher events.Publisher
	logger    *log.Logger
	cfg       OTPConfig
	hashKey   [32]byte
	locks     *keyedMutex
	now       func() time.Time

	// newBackOff builds the retry schedule for one delivery.
	newBackOff func() backoff.BackOff
}

func NewOTPService(s store.ChallengeStore, n Notifier, pub events.Publisher, cfg OTPConfig, logger *log.Logger) (*OTPService, error) {
	cfg = cfg.withDefaults()
	if pub == nil {
		pub = &events.NoopPublisher{}
	}

	secret := []byte(cfg.HashSecret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate otp hash secret: %w", err)
		}
		logger.Printf("otp: no hash secret configured, using an ephemeral one")
	}

	svc := &OTPService{
		store:     s,
		notifier:  n,
		publisher: pub,
		logger:    logger,
		cfg:       cfg,
		locks:     newKeyedMutex(),
		now:       func() time.Time { return time.Now().UTC() },
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
	}
	blake3.DeriveKey(otpKeyContext, secret, svc.hashKey[:])
	return svc, nil
}

func (s *OTPService) hashCode(challengeID, code string) string {
	hasher, err := blake3.NewKeyed(s.hashKey[:])
	if err != nil {
		panic("service: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write([]byte(challengeID))
	hasher.Write([]byte{0})
	hasher.Write([]byte(code))
	return hex.EncodeToString(hasher.Sum(nil))
}

func randomDigits(n int) (string, error) {
	ten := big.NewInt(10)
	b := make([]byte, n)
	for i := range b {
		d, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		b[i] = byte('0' + d.Int64())
	}
	return string(b), nil
}

// Issue creates a challenge for identifier and purpose and delivers its
// code.  A repeated non-empty issueKey returns the original challenge
// without sending again.  The newest challenge for an identifier and
// purpose supersedes all older ones.
func (s *OTPService) Issue(ctx context.Context, identifier, purpose, issueKey string) (IssuedChallenge, error) {
	id := NormalizeIdentifier(identifier)
	purpose = strings.TrimSpace(purpose)
	if id == "" {
		return IssuedChallenge{}, fmt.Errorf("%w: identifier is required", ErrInvalidRequest)
	}
	if purpose == "" {
		return IssuedChallenge{}, fmt.Errorf("%w: purpose is required", ErrInvalidRequest)
	}

	unlock := s.locks.Lock("issue\x00" + id + "\x00" + purpose)
	defer unlock()

	if issueKey != "" {
		prev, err := s.store.FindByIssueKey(ctx, issueKey)
		switch {
		case err == nil:
			if prev.Identifier != id || prev.Purpose != purpose {
				return IssuedChallenge{}, fmt.Errorf("%w: issue key reused for a different identifier", ErrInvalidRequest)
			}
			return IssuedChallenge{ChallengeID: prev.ChallengeID, ExpiresAt: prev.ExpiresAt, Replayed: true}, nil
		case !errors.Is(err, store.ErrNotFound):
			return IssuedChallenge{}, fmt.Errorf("find issue key: %w", err)
		}
	}

	now := s.now()
	if s.cfg.Cooldown > 0 {
		latest, err := s.store.LatestChallenge(ctx, id, purpose)
		switch {
		case err == nil:
			if now.Before(latest.IssuedAt.Add(s.cfg.Cooldown)) {
				return IssuedChallenge{}, fmt.Errorf("%w: retry after %s", ErrIssueThrottled,
					latest.IssuedAt.Add(s.cfg.Cooldown).Format(time.RFC3339))
			}
		case !errors.Is(err, store.ErrNotFound):
			return IssuedChallenge{}, fmt.Errorf("latest challenge: %w", err)
		}
	}

	code, err := randomDigits(s.cfg.CodeLength)
	if err != nil {
		return IssuedChallenge{}, fmt.Errorf("generate code: %w", err)
	}
	challengeID, err := idgen.Generate(idgen.PrefixChallenge)
	if err != nil {
		return IssuedChallenge{}, err
	}

	rec := store.ChallengeRecord{
		ChallengeID: challengeID,
		Identifier:  id,
		Purpose:     purpose,
		CodeHash:    s.hashCode(challengeID, code),
		IssueKey:    issueKey,
		IssuedAt:    now,
		ExpiresAt:   now.Add(s.cfg.TTL),
	}
	if err := s.store.CreateChallenge(ctx, rec); err != nil {
		return IssuedChallenge{}, fmt.Errorf("create challenge: %w", err)
	}

	if err := s.deliver(ctx, Delivery{
		ChallengeID: challengeID,
		Identifier:  id,
		Purpose:     purpose,
		Code:        code,
		ExpiresAt:   rec.ExpiresAt,
	}); err != nil {
		// An undeliverable challenge must not stay verifiable.
		if derr := s.store.DeleteChallenge(context.WithoutCancel(ctx), challengeID); derr != nil {
			s.logger.Printf("otp: delete undelivered challenge %s: %v", challengeID, derr)
		}
		return IssuedChallenge{}, fmt.Errorf("%w: %w", ErrChannelUnavailable, err)
	}

	s.publish(ctx, events.TopicOtpIssued, events.OtpEvent{ChallengeID: challengeID, Purpose: purpose, At: now})
	return IssuedChallenge{ChallengeID: challengeID, ExpiresAt: rec.ExpiresAt}, nil
}

func (s *OTPService) deliver(ctx context.Context, d Delivery) error {
	if s.notifier == nil {
		return errors.New("no notifier configured")
	}
	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := s.notifier.Deliver(ctx, d)
		if err != nil {
			s.logger.Printf("otp: deliver %s attempt %d: %v", d.ChallengeID, attempt, err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(s.newBackOff()),
		backoff.WithMaxTries(s.cfg.DeliveryAttempts),
		backoff.WithMaxElapsedTime(s.cfg.DeliveryMaxElapsed),
	)
	return err
}

// Verify checks code against the newest challenge for identifier and
// purpose.  Checks fail closed in order: consumed, attempts exhausted,
// expired, mismatch.  Every failure counts as an attempt.  Retrying a
// successful verification with the same non-empty verifyKey succeeds
// again without a second consumption.
func (s *OTPService) Verify(ctx context.Context, identifier, purpose, code, verifyKey string) (Verification, error) {
	id := NormalizeIdentifier(identifier)
	purpose = strings.TrimSpace(purpose)
	code = strings.TrimSpace(code)
	if id == "" || purpose == "" {
		return Verification{}, fmt.Errorf("%w: identifier and purpose are required", ErrInvalidRequest)
	}

	latest, err := s.store.LatestChallenge(ctx, id, purpose)
	if errors.Is(err, store.ErrNotFound) {
		return Verification{}, ErrOtpNotFound
	}
	if err != nil {
		return Verification{}, fmt.Errorf("latest challenge: %w", err)
	}

	unlock := s.locks.Lock(latest.ChallengeID)
	defer unlock()

	rec, err := s.store.GetChallenge(ctx, latest.ChallengeID)
	if errors.Is(err, store.ErrNotFound) {
		return Verification{}, ErrOtpNotFound
	}
	if err != nil {
		return Verification{}, fmt.Errorf("get challenge: %w", err)
	}

	now := s.now()
	var failure error
	switch {
	case rec.Consumed:
		if verifyKey != "" && verifyKey == rec.VerifyKey {
			return Verification{ChallengeID: rec.ChallengeID, Replayed: true}, nil
		}
		failure = ErrOtpConsumed
	case rec.AttemptCount >= s.cfg.MaxAttempts:
		failure = ErrOtpAttemptsExceeded
	case now.After(rec.ExpiresAt):
		failure = ErrOtpExpired
	case subtle.ConstantTimeCompare([]byte(s.hashCode(rec.ChallengeID, code)), []byte(rec.CodeHash)) != 1:
		failure = ErrOtpMismatch
	}

	if failure != nil {
		rec.AttemptCount++
		if err := s.store.UpdateChallenge(ctx, rec); err != nil {
			return Verification{}, fmt.Errorf("record failed attempt: %w", err)
		}
		return Verification{}, failure
	}

	rec.Consumed = true
	rec.ConsumedAt = &now
	rec.VerifyKey = verifyKey
	if err := s.store.UpdateChallenge(ctx, rec); err != nil {
		return Verification{}, fmt.Errorf("consume challenge: %w", err)
	}

	s.publish(ctx, events.TopicOtpVerified, events.OtpEvent{ChallengeID: rec.ChallengeID, Purpose: purpose, At: now})
	return Verification{ChallengeID: rec.ChallengeID}, nil
}

// Redeem spends the verified challenge for identifier and purpose on one
// admission.  Redeeming again for the same transaction succeeds; any
// other reuse fails with ErrVerificationRequired.
func (s *OTPService) Redeem(ctx context.Context, identifier, purpose, eventID, partyID, txnID string) error {
	id := NormalizeIdentifier(identifier)
	latest, err := s.store.LatestChallenge(ctx, id, purpose)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: no challenge for %s", ErrVerificationRequired, id)
	}
	if err != nil {
		return fmt.Errorf("latest challenge: %w", err)
	}

	unlock := s.locks.Lock(latest.ChallengeID)
	defer unlock()

	rec, err := s.store.GetChallenge(ctx, latest.ChallengeID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: no challenge for %s", ErrVerificationRequired, id)
	}
	if err != nil {
		return fmt.Errorf("get challenge: %w", err)
	}

	if rec.Redeemed() {
		if rec.RedeemedEventID == eventID && rec.RedeemedPartyID == partyID && rec.RedeemedTxnID == txnID {
			return nil
		}
		return fmt.Errorf("%w: passcode already spent", ErrVerificationRequired)
	}
	now := s.now()
	switch {
	case !rec.Consumed:
		return fmt.Errorf("%w: passcode not verified", ErrVerificationRequired)
	case now.After(rec.ExpiresAt):
		return fmt.Errorf("%w: verified passcode expired", ErrVerificationRequired)
	}

	rec.RedeemedEventID = eventID
	rec.RedeemedPartyID = partyID
	rec.RedeemedTxnID = txnID
	rec.RedeemedAt = &now
	if err := s.store.UpdateChallenge(ctx, rec); err != nil {
		return fmt.Errorf("redeem challenge: %w", err)
	}
	return nil
}

func (s *OTPService) publish(ctx context.Context, topic string, ev any) {
	if err := s.publisher.Publish(ctx, topic, ev); err != nil {
		s.logger.Printf("publish %s: %v", topic, err)
	}
}
