package memory

import (
	"context"
	"sync"

	"github.com/BrandonDHaskell/gatekeeper/internal/gatekeeper/store"
)

type SessionStore struct {
	mu          sync.RWMutex
	sessions    map[string]store.SessionRecord
	transitions []store.TransitionRecord
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]store.SessionRecord),
	}
}

func (s *SessionStore) GetSession(_ context.Context, eventID string) (store.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[eventID]
	if !ok {
		return store.SessionRecord{}, store.ErrNotFound
	}
	return rec, nil
}

func (s *SessionStore) SaveSession(_ context.Context, rec store.SessionRecord, tr store.TransitionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tr.Key != "" {
		for _, prev := range s.transitions {
			if prev.EventID == tr.EventID && prev.Key == tr.Key {
				return store.ErrConflict
			}
		}
	}
	s.sessions[rec.EventID] = rec
	s.transitions = append(s.transitions, tr)
	return nil
}

func (s *SessionStore) FindTransition(_ context.Context, eventID, key string) (store.TransitionRecord, error) {
	if key == "" {
		return store.TransitionRecord{}, store.ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, tr := range s.transitions {
		if tr.EventID == eventID && tr.Key == key {
			return tr, nil
		}
	}
	return store.TransitionRecord{}, store.ErrNotFound
}

// Transitions returns a copy of the lifecycle log.  Test-only helper.
func (s *SessionStore) Transitions() []store.TransitionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.TransitionRecord, len(s.transitions))
	copy(out, s.transitions)
	return out
}
