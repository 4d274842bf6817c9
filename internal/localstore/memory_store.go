package localstore

import (
	"context"
	"sync"

	"statebridge/internal/domain"
)

// MemoryStore keeps local state for the lifetime of the process only.
type MemoryStore struct {
	mu       sync.Mutex
	slots    map[string]*Snapshot
	activity []*domain.ActivityLogEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{slots: make(map[string]*Snapshot)}
}

func (s *MemoryStore) LoadSnapshot(_ context.Context, slot string) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.slots[slot]
	if !ok {
		return nil, nil
	}
	copied := *stored
	copied.State = append(domain.ProjectStateSnapshot(nil), stored.State...)
	return &copied, nil
}

func (s *MemoryStore) SaveSnapshot(_ context.Context, slot string, snapshot *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *snapshot
	copied.State = append(domain.ProjectStateSnapshot(nil), snapshot.State...)
	s.slots[slot] = &copied
	evictSessions(s.slots, MaxSessionSlots)
	return nil
}

func (s *MemoryStore) AppendActivity(_ context.Context, entry *domain.ActivityLogEntry, limit int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *entry
	s.activity = append(s.activity, &copied)
	if limit > 0 && len(s.activity) > limit {
		s.activity = append([]*domain.ActivityLogEntry(nil), s.activity[len(s.activity)-limit:]...)
	}
	return nil
}

func (s *MemoryStore) Activity(_ context.Context) ([]*domain.ActivityLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.ActivityLogEntry, len(s.activity))
	for i, entry := range s.activity {
		copied := *entry
		out[i] = &copied
	}
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
