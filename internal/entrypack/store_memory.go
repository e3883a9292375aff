package entrypack

import (
	"context"
	"sync"

	"entrypack/pkg/domain"
	"entrypack/pkg/platform/sentinel"
)

// InMemoryStore keeps packs in a mutex-guarded map. It backs tests and the
// unconfigured local setup; semantics match the Postgres store, including
// the revision guard.
type InMemoryStore struct {
	mu    sync.RWMutex
	packs map[string]Pack

	// follower stores (the cache side of the dual-store pair) skip the
	// revision guard, mirroring Redis SET semantics.
	follower bool
}

// NewInMemoryStore builds a durable-semantics store: stale revisions are
// rejected.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{packs: make(map[string]Pack)}
}

// NewInMemoryFollowerStore builds a cache-semantics store: last write wins,
// no revision guard.
func NewInMemoryFollowerStore() *InMemoryStore {
	return &InMemoryStore{packs: make(map[string]Pack), follower: true}
}

func (s *InMemoryStore) Save(_ context.Context, pack Pack) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pack.Key.String()
	if !s.follower {
		if existing, ok := s.packs[key]; ok && pack.Revision <= existing.Revision {
			return sentinel.ErrStaleWrite
		}
	}
	s.packs[key] = pack.Clone()
	return nil
}

func (s *InMemoryStore) Find(_ context.Context, key domain.PackKey) (Pack, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if pack, ok := s.packs[key.String()]; ok {
		return pack.Clone(), nil
	}
	return Pack{}, sentinel.ErrNotFound
}

func (s *InMemoryStore) ListByTraveler(_ context.Context, traveler domain.TravelerID) ([]Pack, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Pack
	for _, pack := range s.packs {
		if pack.Key.Traveler == traveler {
			out = append(out, pack.Clone())
		}
	}
	return out, nil
}

func (s *InMemoryStore) ListAll(_ context.Context) ([]Pack, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Pack, 0, len(s.packs))
	for _, pack := range s.packs {
		out = append(out, pack.Clone())
	}
	return out, nil
}

// Drop removes a single entry. Only the cache side uses this (the conflict
// resolver never deletes durable records); exposed for tests simulating a
// crashed half-write.
func (s *InMemoryStore) Drop(key domain.PackKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.packs, key.String())
}
