package memory

import (
	"context"
	"sync"
	"time"

	"github.com/BrandonDHaskell/gatekeeper/internal/gatekeeper/store"
)

type ChallengeStore struct {
	mu         sync.RWMutex
	challenges map[string]store.ChallengeRecord
	seq        map[string]int64 // challenge id -> insertion order
	next       int64
}

func NewChallengeStore() *ChallengeStore {
	return &ChallengeStore{
		challenges: make(map[string]store.ChallengeRecord),
		seq:        make(map[string]int64),
	}
}

func (s *ChallengeStore) CreateChallenge(_ context.Context, rec store.ChallengeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.challenges[rec.ChallengeID]; ok {
		return store.ErrConflict
	}
	s.next++
	s.challenges[rec.ChallengeID] = rec
	s.seq[rec.ChallengeID] = s.next
	return nil
}

func (s *ChallengeStore) UpdateChallenge(_ context.Context, rec store.ChallengeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.challenges[rec.ChallengeID]; !ok {
		return store.ErrNotFound
	}
	s.challenges[rec.ChallengeID] = rec
	return nil
}

func (s *ChallengeStore) DeleteChallenge(_ context.Context, challengeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.challenges, challengeID)
	delete(s.seq, challengeID)
	return nil
}

func (s *ChallengeStore) GetChallenge(_ context.Context, challengeID string) (store.ChallengeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.challenges[challengeID]
	if !ok {
		return store.ChallengeRecord{}, store.ErrNotFound
	}
	return c, nil
}

func (s *ChallengeStore) LatestChallenge(_ context.Context, identifier, purpose string) (store.ChallengeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		best    store.ChallengeRecord
		bestSeq int64
	)
	for id, c := range s.challenges {
		if c.Identifier != identifier || c.Purpose != purpose {
			continue
		}
		if n := s.seq[id]; n > bestSeq {
			best, bestSeq = c, n
		}
	}
	if bestSeq == 0 {
		return store.ChallengeRecord{}, store.ErrNotFound
	}
	return best, nil
}

func (s *ChallengeStore) FindByIssueKey(_ context.Context, issueKey string) (store.ChallengeRecord, error) {
	if issueKey == "" {
		return store.ChallengeRecord{}, store.ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.challenges {
		if c.IssueKey == issueKey {
			return c, nil
		}
	}
	return store.ChallengeRecord{}, store.ErrNotFound
}

func (s *ChallengeStore) PruneOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, c := range s.challenges {
		if c.ExpiresAt.Before(cutoff) {
			delete(s.challenges, id)
			delete(s.seq, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored challenges.  Test-only helper.
func (s *ChallengeStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.challenges)
}
