package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/BrandonDHaskell/gatekeeper/internal/gatekeeper/events"
	"github.com/BrandonDHaskell/gatekeeper/internal/gatekeeper/store"
)

// Action names a lifecycle transition request.
type Action string

const (
	ActionStart  Action = "start"
	ActionPause  Action = "pause"
	ActionResume Action = "resume"
	ActionEnd    Action = "end"
)

// ParseAction maps a case-insensitive action name to an Action.
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	switch a {
	case ActionStart, ActionPause, ActionResume, ActionEnd:
		return a, nil
	}
	return "", fmt.Errorf("%w: unknown action %q", ErrInvalidRequest, s)
}

// next returns the status reached by applying a to from, or false when
// the transition is not allowed.
func (a Action) next(from store.SessionStatus) (store.SessionStatus, bool) {
	switch a {
	case ActionStart:
		return store.StatusInProgress, from == store.StatusNotStarted
	case ActionPause:
		return store.StatusPaused, from == store.StatusInProgress
	case ActionResume:
		return store.StatusInProgress, from == store.StatusPaused
	case ActionEnd:
		return store.StatusEnded, from != store.StatusEnded
	}
	return "", false
}

// gate is the per-event admission section.  Transitions hold mu
// exclusively; admissions hold it shared for the whole gate check and
// ledger apply.  rec caches the session.  persisted is false while the
// event has no stored session; retired marks a gate dropped from the map.
type gate struct {
	mu        sync.RWMutex
	rec       store.SessionRecord
	persisted bool
	retired   bool
}

// Lifecycle owns the session state machine of every monitored event.
type Lifecycle struct {
	sessions  store.SessionStore
	publisher events.Publisher
	logger    *log.Logger
	now       func() time.Time

	gates sync.Map // eventID -> *gate
}

func NewLifecycle(sessions store.SessionStore, pub events.Publisher, logger *log.Logger) *Lifecycle {
	if pub == nil {
		pub = &events.NoopPublisher{}
	}
	return &Lifecycle{
		sessions:  sessions,
		publisher: pub,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// gateFor returns the gate of eventID.  An event with no stored session
// gets a detached NotStarted gate unless track is set, so lookups of
// unknown events never grow the gate map.
func (l *Lifecycle) gateFor(ctx context.Context, eventID string, track bool) (*gate, error) {
	if v, ok := l.gates.Load(eventID); ok {
		return v.(*gate), nil
	}

	rec, err := l.sessions.GetSession(ctx, eventID)
	g := &gate{rec: rec, persisted: true}
	switch {
	case errors.Is(err, store.ErrNotFound):
		g = &gate{rec: store.SessionRecord{EventID: eventID, Status: store.StatusNotStarted}}
		if !track {
			return g, nil
		}
	case err != nil:
		return nil, fmt.Errorf("load session %s: %w", eventID, err)
	}
	v, _ := l.gates.LoadOrStore(eventID, g)
	return v.(*gate), nil
}

// Status returns the session of eventID.  Events that were never started
// report a synthesized NotStarted session.
func (l *Lifecycle) Status(ctx context.Context, eventID string) (store.SessionRecord, error) {
	if strings.TrimSpace(eventID) == "" {
		return store.SessionRecord{}, fmt.Errorf("%w: event_id is required", ErrInvalidRequest)
	}
	g, err := l.gateFor(ctx, eventID, false)
	if err != nil {
		return store.SessionRecord{}, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.rec, nil
}

func (l *Lifecycle) Start(ctx context.Context, eventID, key string) (store.SessionRecord, error) {
	return l.Transition(ctx, eventID, ActionStart, key)
}

func (l *Lifecycle) Pause(ctx context.Context, eventID, key string) (store.SessionRecord, error) {
	return l.Transition(ctx, eventID, ActionPause, key)
}

func (l *Lifecycle) Resume(ctx context.Context, eventID, key string) (store.SessionRecord, error) {
	return l.Transition(ctx, eventID, ActionResume, key)
}

func (l *Lifecycle) End(ctx context.Context, eventID, key string) (store.SessionRecord, error) {
	return l.Transition(ctx, eventID, ActionEnd, key)
}

// Transition applies action to the session of eventID.  It waits for
// in-flight admissions of the event to drain first.  A non-empty key that
// was already used for this event answers with the status that transition
// reached, without evaluating the action again; reusing a key for a
// different transition is an ErrInvalidRequest.
func (l *Lifecycle) Transition(ctx context.Context, eventID string, action Action, key string) (store.SessionRecord, error) {
	if strings.TrimSpace(eventID) == "" {
		return store.SessionRecord{}, fmt.Errorf("%w: event_id is required", ErrInvalidRequest)
	}

	var (
		rec     store.SessionRecord
		changed *store.TransitionRecord
	)
	for {
		g, err := l.gateFor(ctx, eventID, true)
		if err != nil {
			return store.SessionRecord{}, err
		}
		g.mu.Lock()
		if g.retired {
			g.mu.Unlock()
			continue
		}
		rec, changed, err = l.transitionLocked(ctx, g, eventID, action, key)
		if err != nil && !g.persisted {
			g.retired = true
			l.gates.CompareAndDelete(eventID, g)
		}
		g.mu.Unlock()
		if err != nil {
			return store.SessionRecord{}, err
		}
		break
	}

	if changed != nil {
		l.publish(ctx, events.TopicSessionPrefix+string(changed.To), events.SessionChanged{
			EventID: eventID,
			From:    string(changed.From),
			To:      string(changed.To),
			At:      changed.At,
		})
	}
	return rec, nil
}

func (l *Lifecycle) transitionLocked(ctx context.Context, g *gate, eventID string, action Action, key string) (store.SessionRecord, *store.TransitionRecord, error) {
	if key != "" {
		prior, err := l.sessions.FindTransition(ctx, eventID, key)
		if err == nil {
			if to, ok := action.next(prior.From); !ok || to != prior.To {
				return store.SessionRecord{}, nil, fmt.Errorf("%w: key %q already recorded %s -> %s",
					ErrInvalidRequest, key, prior.From, prior.To)
			}
			rec := g.rec
			rec.Status = prior.To
			rec.UpdatedAt = prior.At
			return rec, nil, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return store.SessionRecord{}, nil, fmt.Errorf("find transition: %w", err)
		}
	}

	from := g.rec.Status
	to, ok := action.next(from)
	if !ok {
		return store.SessionRecord{}, nil, fmt.Errorf("%w: cannot %s an event that is %s", ErrInvalidTransition, action, from)
	}

	now := l.now()
	rec := g.rec
	rec.EventID = eventID
	rec.Status = to
	rec.UpdatedAt = now
	switch action {
	case ActionStart:
		rec.StartedAt = &now
	case ActionPause:
		rec.PausedAt = &now
	case ActionResume:
		rec.PausedAt = nil
	case ActionEnd:
		rec.PausedAt = nil
		rec.EndedAt = &now
	}

	tr := store.TransitionRecord{Key: key, EventID: eventID, From: from, To: to, At: now}
	if err := l.sessions.SaveSession(ctx, rec, tr); err != nil {
		return store.SessionRecord{}, nil, fmt.Errorf("save session %s: %w", eventID, err)
	}
	g.rec = rec
	g.persisted = true

	l.logger.Printf("session %s: %s -> %s", eventID, from, to)
	return rec, &tr, nil
}

// Admitting runs fn while holding the event's gate shared, provided the
// event is in progress.  Otherwise it returns ErrEventNotAdmitting and fn
// is not called.  No transition can complete while fn runs.
func (l *Lifecycle) Admitting(ctx context.Context, eventID string, fn func() error) error {
	g, err := l.gateFor(ctx, eventID, false)
	if err != nil {
		return err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.rec.Status != store.StatusInProgress {
		return fmt.Errorf("%w: event %s is %s", ErrEventNotAdmitting, eventID, g.rec.Status)
	}
	return fn()
}

func (l *Lifecycle) publish(ctx context.Context, topic string, ev any) {
	if err := l.publisher.Publish(ctx, topic, ev); err != nil {
		l.logger.Printf("publish %s: %v", topic, err)
	}
}
