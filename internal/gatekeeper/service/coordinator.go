package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/BrandonDHaskell/gatekeeper/internal/gatekeeper/events"
	"github.com/BrandonDHaskell/gatekeeper/internal/gatekeeper/store"
)

const tracerName = "github.com/BrandonDHaskell/gatekeeper/internal/gatekeeper/service"

// CoordinatorConfig holds the channel policies for NewCoordinator.
type CoordinatorConfig struct {
	// SelfServicePurpose is the challenge purpose redeemed by SelfAdmit.
	// Defaults to PurposeSelfService.
	SelfServicePurpose string

	// SkipSelfServiceVerification admits self-service requests without a
	// verified passcode.
	SkipSelfServiceVerification bool

	// MinFacialConfidence is the lowest match confidence FacialAdmit
	// accepts, in [0, 1].
	MinFacialConfidence float64

	// BulkParallelism bounds concurrent applies in BulkAdmit.  Defaults to 8.
	BulkParallelism int
}

// BulkEntry is one party of a bulk admission.  A zero Delta means 1.
type BulkEntry struct {
	PartyID string
	Delta   int
}

// BulkResult is the per-party answer of BulkAdmit.  Err is nil exactly
// when the entry was applied or replayed as applied.
type BulkResult struct {
	PartyID   string
	Admission Admission
	Err       error
}

// Coordinator turns the four admission channels into ledger requests and
// runs them under the event's lifecycle gate.
type Coordinator struct {
	lifecycle *Lifecycle
	ledger    *Ledger
	otp       *OTPService
	publisher events.Publisher
	logger    *log.Logger
	cfg       CoordinatorConfig
	tracer    trace.Tracer
}

func NewCoordinator(lc *Lifecycle, l *Ledger, otp *OTPService, pub events.Publisher, cfg CoordinatorConfig, logger *log.Logger) *Coordinator {
	if cfg.SelfServicePurpose == "" {
		cfg.SelfServicePurpose = PurposeSelfService
	}
	if cfg.BulkParallelism <= 0 {
		cfg.BulkParallelism = 8
	}
	if pub == nil {
		pub = &events.NoopPublisher{}
	}
	return &Coordinator{
		lifecycle: lc,
		ledger:    l,
		otp:       otp,
		publisher: pub,
		logger:    logger,
		cfg:       cfg,
		tracer:    otel.Tracer(tracerName),
	}
}

// ManualAdmit admits delta people of partyID on an operator's behalf.
func (c *Coordinator) ManualAdmit(ctx context.Context, eventID, partyID string, delta int, nonce string) (Admission, error) {
	ctx, span := c.startSpan(ctx, "ManualAdmit", eventID)
	defer span.End()

	req := c.request(eventID, partyID, delta, store.MethodManual, nonce)
	adm, err := c.submit(ctx, req, nil)
	finishSpan(span, adm, err)
	return adm, err
}

// SelfAdmit admits the party owning identifier.  Unless verification is
// switched off, the identifier must hold a verified passcode, which is
// spent on this admission.
func (c *Coordinator) SelfAdmit(ctx context.Context, eventID, identifier string, delta int, nonce string) (Admission, error) {
	ctx, span := c.startSpan(ctx, "SelfAdmit", eventID)
	defer span.End()

	party, err := c.ledger.ResolveIdentifier(ctx, eventID, identifier)
	if err != nil {
		finishSpan(span, Admission{}, err)
		return Admission{}, err
	}

	req := c.request(eventID, party.PartyID, delta, store.MethodSelfService, nonce)
	var precheck func(context.Context) error
	if !c.cfg.SkipSelfServiceVerification {
		precheck = func(ctx context.Context) error {
			if c.otp == nil {
				return fmt.Errorf("%w: passcode verification is not configured", ErrVerificationRequired)
			}
			return c.otp.Redeem(ctx, identifier, c.cfg.SelfServicePurpose, eventID, party.PartyID, req.TransactionID)
		}
	}
	adm, err := c.submit(ctx, req, precheck)
	finishSpan(span, adm, err)
	return adm, err
}

// FacialAdmit admits a party identified by an external face match.
// Matches below the configured confidence are refused.
func (c *Coordinator) FacialAdmit(ctx context.Context, eventID, partyID string, confidence float64, delta int, nonce string) (Admission, error) {
	ctx, span := c.startSpan(ctx, "FacialAdmit", eventID)
	defer span.End()
	span.SetAttributes(attribute.Float64("gatekeeper.facial.confidence", confidence))

	if confidence < 0 || confidence > 1 {
		err := fmt.Errorf("%w: confidence %v outside [0, 1]", ErrInvalidRequest, confidence)
		finishSpan(span, Admission{}, err)
		return Admission{}, err
	}
	if confidence < c.cfg.MinFacialConfidence {
		err := fmt.Errorf("%w: %.2f < %.2f", ErrMatchBelowThreshold, confidence, c.cfg.MinFacialConfidence)
		finishSpan(span, Admission{}, err)
		return Admission{}, err
	}

	req := c.request(eventID, partyID, delta, store.MethodFacial, nonce)
	adm, err := c.submit(ctx, req, nil)
	finishSpan(span, adm, err)
	return adm, err
}

// BulkAdmit applies every entry independently and returns one result per
// entry in input order.  A failing entry never affects the others.  The
// returned error is non-nil only when the batch itself is malformed.
func (c *Coordinator) BulkAdmit(ctx context.Context, eventID string, entries []BulkEntry, nonce string) ([]BulkResult, error) {
	ctx, span := c.startSpan(ctx, "BulkAdmit", eventID)
	defer span.End()
	span.SetAttributes(attribute.Int("gatekeeper.bulk.size", len(entries)))

	if len(entries) == 0 {
		err := fmt.Errorf("%w: no entries", ErrInvalidRequest)
		finishSpan(span, Admission{}, err)
		return nil, err
	}
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		id := strings.TrimSpace(e.PartyID)
		if id == "" {
			err := fmt.Errorf("%w: party_id is required", ErrInvalidRequest)
			finishSpan(span, Admission{}, err)
			return nil, err
		}
		if _, dup := seen[id]; dup {
			err := fmt.Errorf("%w: party %s listed twice", ErrInvalidRequest, id)
			finishSpan(span, Admission{}, err)
			return nil, err
		}
		seen[id] = struct{}{}
	}

	results := make([]BulkResult, len(entries))
	var g errgroup.Group
	g.SetLimit(c.cfg.BulkParallelism)
	for i, e := range entries {
		g.Go(func() error {
			delta := e.Delta
			if delta == 0 {
				delta = 1
			}
			partyID := strings.TrimSpace(e.PartyID)
			req := c.request(eventID, partyID, delta, store.MethodBulk, nonce)
			adm, err := c.submit(ctx, req, nil)
			results[i] = BulkResult{PartyID: partyID, Admission: adm, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	applied := 0
	for _, r := range results {
		if r.Err == nil {
			applied++
		}
	}
	span.SetAttributes(attribute.Int("gatekeeper.bulk.applied", applied))
	return results, nil
}

func (c *Coordinator) request(eventID, partyID string, delta int, method store.Method, nonce string) AdmissionRequest {
	return AdmissionRequest{
		EventID:       eventID,
		PartyID:       partyID,
		Delta:         delta,
		Method:        method,
		TransactionID: TransactionID(eventID, partyID, method, nonce),
	}
}

// submit runs req through replay detection, the lifecycle gate, the
// optional precheck and the ledger, then publishes the outcome.  The
// precheck only runs once the gate has admitted the request, so a refused
// request never spends anything the precheck consumes.
func (c *Coordinator) submit(ctx context.Context, req AdmissionRequest, precheck func(context.Context) error) (Admission, error) {
	if err := req.validate(); err != nil {
		return Admission{}, err
	}

	if _, ok, err := c.ledger.Anchored(ctx, req.TransactionID); err != nil {
		return Admission{}, err
	} else if ok {
		adm, err := c.ledger.Apply(ctx, req)
		c.publish(ctx, req, adm)
		return adm, err
	}

	var adm Admission
	err := c.lifecycle.Admitting(ctx, req.EventID, func() error {
		if precheck != nil {
			if err := precheck(ctx); err != nil {
				return err
			}
		}
		var aerr error
		adm, aerr = c.ledger.Apply(ctx, req)
		return aerr
	})
	if errors.Is(err, ErrEventNotAdmitting) {
		// Only parties on the roster get a lifecycle audit entry.
		if _, perr := c.ledger.Party(ctx, req.EventID, req.PartyID); perr != nil {
			return Admission{}, perr
		}
		rej, rerr := c.ledger.RecordRejection(ctx, req, store.OutcomeRejectedLifecycle)
		if rerr != nil {
			c.logger.Printf("admission %s: %v", req.TransactionID, rerr)
		} else {
			adm = rej
		}
	}

	c.publish(ctx, req, adm)
	return adm, err
}

func (c *Coordinator) publish(ctx context.Context, req AdmissionRequest, adm Admission) {
	if adm.Outcome == "" {
		return
	}
	topic := events.TopicAdmissionPrefix + string(adm.Outcome)
	err := c.publisher.Publish(ctx, topic, events.AdmissionRecorded{
		EventID:       req.EventID,
		PartyID:       req.PartyID,
		TransactionID: req.TransactionID,
		Method:        string(req.Method),
		Delta:         req.Delta,
		Outcome:       string(adm.Outcome),
		Count:         adm.Count,
		Replayed:      adm.Replayed,
		At:            time.Now().UTC(),
	})
	if err != nil {
		c.logger.Printf("publish %s: %v", topic, err)
	}
}

func (c *Coordinator) startSpan(ctx context.Context, op, eventID string) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, "Coordinator."+op,
		trace.WithAttributes(attribute.String("gatekeeper.event_id", eventID)))
}

func finishSpan(span trace.Span, adm Admission, err error) {
	if adm.Outcome != "" {
		span.SetAttributes(
			attribute.String("gatekeeper.outcome", string(adm.Outcome)),
			attribute.Int("gatekeeper.count", adm.Count),
			attribute.Bool("gatekeeper.replayed", adm.Replayed),
		)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
