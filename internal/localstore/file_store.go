package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"statebridge/internal/domain"
)

type fileState struct {
	Snapshots map[string]*Snapshot       `json:"snapshots,omitempty"`
	Activity  []*domain.ActivityLogEntry `json:"activity,omitempty"`
}

// FileStore persists everything into one JSON document, replaced atomically
// through a temp file on every write.
type FileStore struct {
	Path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

func (s *FileStore) LoadSnapshot(_ context.Context, slot string) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, err := s.read()
	if err != nil {
		return nil, err
	}
	return state.Snapshots[slot], nil
}

func (s *FileStore) SaveSnapshot(_ context.Context, slot string, snapshot *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, err := s.read()
	if err != nil {
		return err
	}
	if state.Snapshots == nil {
		state.Snapshots = make(map[string]*Snapshot)
	}
	state.Snapshots[slot] = snapshot
	evictSessions(state.Snapshots, MaxSessionSlots)
	return s.write(state)
}

func (s *FileStore) AppendActivity(_ context.Context, entry *domain.ActivityLogEntry, limit int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, err := s.read()
	if err != nil {
		return err
	}
	state.Activity = append(state.Activity, entry)
	if limit > 0 && len(state.Activity) > limit {
		state.Activity = state.Activity[len(state.Activity)-limit:]
	}
	return s.write(state)
}

func (s *FileStore) Activity(_ context.Context) ([]*domain.ActivityLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, err := s.read()
	if err != nil {
		return nil, err
	}
	return state.Activity, nil
}

func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) read() (*fileState, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &fileState{}, nil
		}
		return nil, err
	}
	var state fileState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *FileStore) write(state *fileState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.Path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.Path)
}
