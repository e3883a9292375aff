package snapshot

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"entrypack/pkg/domain"
	"entrypack/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu        sync.RWMutex
	snapshots map[uuid.UUID]Snapshot
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{snapshots: make(map[uuid.UUID]Snapshot)}
}

func (s *InMemoryStore) Insert(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.snapshots[snap.ID]; exists {
		return sentinel.ErrConflict
	}
	s.snapshots[snap.ID] = snap.Clone()
	return nil
}

func (s *InMemoryStore) Find(_ context.Context, id uuid.UUID) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if snap, ok := s.snapshots[id]; ok {
		return snap.Clone(), nil
	}
	return Snapshot{}, sentinel.ErrNotFound
}

func (s *InMemoryStore) ListBySource(_ context.Context, key domain.PackKey) ([]Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Snapshot
	for _, snap := range s.snapshots {
		if snap.SourcePack == key {
			out = append(out, snap.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (s *InMemoryStore) MaxVersion(_ context.Context, key domain.PackKey) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	max := 0
	for _, snap := range s.snapshots {
		if snap.SourcePack == key && snap.Version > max {
			max = snap.Version
		}
	}
	return max, nil
}

func (s *InMemoryStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.snapshots[id]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.snapshots, id)
	return nil
}

// InMemoryAuditStore is the append-only audit log for tests and local runs.
type InMemoryAuditStore struct {
	mu     sync.RWMutex
	events map[uuid.UUID][]AuditEvent
}

func NewInMemoryAuditStore() *InMemoryAuditStore {
	return &InMemoryAuditStore{events: make(map[uuid.UUID][]AuditEvent)}
}

func (s *InMemoryAuditStore) Append(_ context.Context, event AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	event.Metadata = cloneMap(event.Metadata)
	s.events[event.SnapshotID] = append(s.events[event.SnapshotID], event)
	return nil
}

func (s *InMemoryAuditStore) ListBySnapshot(_ context.Context, id uuid.UUID) ([]AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]AuditEvent, len(s.events[id]))
	for i, event := range s.events[id] {
		event.Metadata = cloneMap(event.Metadata)
		out[i] = event
	}
	return out, nil
}
