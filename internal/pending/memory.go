// Package pending stores upload drafts between the entry prompt and form submission.
package pending

import (
	"context"
	"sync"

	"depot/internal/depot"
)

// MemoryStore keeps drafts in a map. Expired drafts are dropped on access.
// This implementation is safe for concurrent use.
type MemoryStore struct {
	mu     sync.Mutex
	clock  depot.Clock
	drafts map[string]depot.Draft
}

// NewMemoryStore creates an empty in-memory draft store.
func NewMemoryStore(clock depot.Clock) *MemoryStore {
	return &MemoryStore{clock: clock, drafts: make(map[string]depot.Draft)}
}

// Put stores a copy of draft, replacing any draft with the same token.
func (s *MemoryStore) Put(ctx context.Context, draft *depot.Draft) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweep()
	s.drafts[draft.Token] = *draft
	return nil
}

// Get returns a copy of the draft, or nil if it is missing or expired.
func (s *MemoryStore) Get(ctx context.Context, token string) (*depot.Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.drafts[token]
	if !ok {
		return nil, nil
	}
	if !s.clock.Now().Before(d.ExpiresAt) {
		delete(s.drafts, token)
		return nil, nil
	}
	return &d, nil
}

// Delete removes a draft. Deleting a missing draft is not an error.
func (s *MemoryStore) Delete(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.drafts, token)
	return nil
}

// Len returns the number of drafts held, including expired ones not yet swept.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.drafts)
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}

// sweep drops expired drafts. Callers hold s.mu.
func (s *MemoryStore) sweep() {
	now := s.clock.Now()
	for token, d := range s.drafts {
		if !now.Before(d.ExpiresAt) {
			delete(s.drafts, token)
		}
	}
}

var _ depot.DraftStore = (*MemoryStore)(nil)
