package repository

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"statebridge/internal/domain"

	"github.com/google/uuid"
)

// MemoryStore keeps every collection in process memory. Records are deep
// copied on the way in and out so callers never share state with the store.
type MemoryStore struct {
	mu       sync.Mutex
	configs  map[string]*domain.ConfigRecord
	states   map[string]*domain.StateRecord
	activity map[string]*domain.ActivityLogEntry
	order    []string
	codes    map[string]*domain.MigrationCode
	history  []*domain.MigrationHistoryRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		configs:  map[string]*domain.ConfigRecord{},
		states:   map[string]*domain.StateRecord{},
		activity: map[string]*domain.ActivityLogEntry{},
		codes:    map[string]*domain.MigrationCode{},
	}
}

// NewMemoryBackend returns a Backend whose repositories share one MemoryStore.
func NewMemoryBackend() *Backend {
	return NewMemoryStore().Backend()
}

func (s *MemoryStore) Backend() *Backend {
	return &Backend{
		Configs:   memoryConfigs{s},
		Snapshots: memorySnapshots{s},
		Activity:  memoryActivity{s},
		Codes:     memoryCodes{s},
		History:   memoryHistory{s},
	}
}

// ActivityEntries returns stored activity in insertion order.
func (s *MemoryStore) ActivityEntries() []*domain.ActivityLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.ActivityLogEntry, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, clone(s.activity[id]))
	}
	return out
}

func clone[T any](v *T) *T {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return &out
}

type memoryConfigs struct{ s *MemoryStore }

func (m memoryConfigs) Get(_ context.Context, identityID string) (*domain.ConfigRecord, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	record, ok := m.s.configs[identityID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(record), nil
}

func (m memoryConfigs) Upsert(_ context.Context, record *domain.ConfigRecord) (*domain.ConfigRecord, error) {
	stored := clone(record)
	stored.UpdatedAt = time.Now().UTC()
	if err := checkRecord("config", stored); err != nil {
		return nil, err
	}
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.configs[record.IdentityID] = stored
	return clone(stored), nil
}

type memorySnapshots struct{ s *MemoryStore }

func (m memorySnapshots) Get(_ context.Context, identityID string) (*domain.StateRecord, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	record, ok := m.s.states[identityID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(record), nil
}

func (m memorySnapshots) Upsert(_ context.Context, record *domain.StateRecord) error {
	stored := clone(record)
	stored.UpdatedAt = time.Now().UTC()
	if err := checkRecord("project state", stored); err != nil {
		return err
	}
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.states[record.IdentityID] = stored
	return nil
}

type memoryActivity struct{ s *MemoryStore }

func (m memoryActivity) InsertBatch(_ context.Context, entries []*domain.ActivityLogEntry) error {
	for _, entry := range entries {
		if err := checkRecord("activity", entry); err != nil {
			return err
		}
	}
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, entry := range entries {
		if _, exists := m.s.activity[entry.ID]; exists {
			continue
		}
		m.s.activity[entry.ID] = clone(entry)
		m.s.order = append(m.s.order, entry.ID)
	}
	return nil
}

type memoryCodes struct{ s *MemoryStore }

func (m memoryCodes) Create(_ context.Context, code *domain.MigrationCode) error {
	if err := checkRecord("migration code", code); err != nil {
		return err
	}
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, exists := m.s.codes[code.Code]; exists {
		return ErrCodeExists
	}
	m.s.codes[code.Code] = clone(code)
	return nil
}

func (m memoryCodes) Redeem(_ context.Context, code string, now time.Time) (*domain.MigrationCode, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	stored, ok := m.s.codes[code]
	if !ok || !stored.Redeemable(now) {
		return nil, ErrCodeNotRedeemable
	}
	usedAt := now.UTC()
	stored.Used = true
	stored.UsedAt = &usedAt
	return clone(stored), nil
}

func (m memoryCodes) PurgeExpired(_ context.Context, before time.Time) (int, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	purged := 0
	for key, code := range m.s.codes {
		if code.ExpiresAt.Before(before) {
			delete(m.s.codes, key)
			purged++
		}
	}
	return purged, nil
}

type memoryHistory struct{ s *MemoryStore }

func (m memoryHistory) Append(_ context.Context, record *domain.MigrationHistoryRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if err := checkRecord("migration history", record); err != nil {
		return err
	}
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.history = append(m.s.history, clone(record))
	return nil
}

func (m memoryHistory) ListRecent(_ context.Context, identityID string, limit int) ([]*domain.MigrationHistoryRecord, error) {
	m.s.mu.Lock()
	var records []*domain.MigrationHistoryRecord
	for _, record := range m.s.history {
		if record.IdentityID == identityID {
			records = append(records, clone(record))
		}
	}
	m.s.mu.Unlock()

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].MigrationTimestamp.After(records[j].MigrationTimestamp)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}
