package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"statebridge/internal/domain"
	"statebridge/internal/identity"
	"statebridge/internal/localstore"
	"statebridge/internal/repository"
)

const (
	opConfigGet      = "config.get"
	opConfigUpsert   = "config.upsert"
	opSnapshotGet    = "snapshot.get"
	opSnapshotUpsert = "snapshot.upsert"
	opActivityInsert = "activity.insert"
	opCodeCreate     = "code.create"
	opCodeRedeem     = "code.redeem"
	opCodePurge      = "code.purge"
	opHistoryAppend  = "history.append"
	opHistoryList    = "history.list"
)

// spyBackend counts every call made to the remote backend and can be told to
// fail an operation, either before or after the write reaches the store.
type spyBackend struct {
	store *repository.MemoryStore
	inner *repository.Backend

	mu        sync.Mutex
	calls     map[string]int
	failures  map[string]error
	afterFail map[string]error
}

func newSpyBackend(store *repository.MemoryStore) *spyBackend {
	if store == nil {
		store = repository.NewMemoryStore()
	}
	return &spyBackend{
		store:     store,
		inner:     store.Backend(),
		calls:     map[string]int{},
		failures:  map[string]error{},
		afterFail: map[string]error{},
	}
}

func (s *spyBackend) Backend() *repository.Backend {
	return &repository.Backend{
		Configs:   spyConfigs{s},
		Snapshots: spySnapshots{s},
		Activity:  spyActivity{s},
		Codes:     spyCodes{s},
		History:   spyHistory{s},
	}
}

func (s *spyBackend) hit(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[op]++
	return s.failures[op]
}

func (s *spyBackend) after(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.afterFail[op]
}

func (s *spyBackend) failOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

// failAfterWrite makes op store its data and still report err.
func (s *spyBackend) failAfterWrite(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.afterFail, op)
		return
	}
	s.afterFail[op] = err
}

func (s *spyBackend) count(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *spyBackend) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

func (s *spyBackend) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = map[string]int{}
}

type spyConfigs struct{ s *spyBackend }

func (r spyConfigs) Get(ctx context.Context, identityID string) (*domain.ConfigRecord, error) {
	if err := r.s.hit(opConfigGet); err != nil {
		return nil, err
	}
	return r.s.inner.Configs.Get(ctx, identityID)
}

func (r spyConfigs) Upsert(ctx context.Context, record *domain.ConfigRecord) (*domain.ConfigRecord, error) {
	if err := r.s.hit(opConfigUpsert); err != nil {
		return nil, err
	}
	return r.s.inner.Configs.Upsert(ctx, record)
}

type spySnapshots struct{ s *spyBackend }

func (r spySnapshots) Get(ctx context.Context, identityID string) (*domain.StateRecord, error) {
	if err := r.s.hit(opSnapshotGet); err != nil {
		return nil, err
	}
	return r.s.inner.Snapshots.Get(ctx, identityID)
}

func (r spySnapshots) Upsert(ctx context.Context, record *domain.StateRecord) error {
	if err := r.s.hit(opSnapshotUpsert); err != nil {
		return err
	}
	return r.s.inner.Snapshots.Upsert(ctx, record)
}

type spyActivity struct{ s *spyBackend }

func (r spyActivity) InsertBatch(ctx context.Context, entries []*domain.ActivityLogEntry) error {
	if err := r.s.hit(opActivityInsert); err != nil {
		return err
	}
	if err := r.s.inner.Activity.InsertBatch(ctx, entries); err != nil {
		return err
	}
	return r.s.after(opActivityInsert)
}

type spyCodes struct{ s *spyBackend }

func (r spyCodes) Create(ctx context.Context, code *domain.MigrationCode) error {
	if err := r.s.hit(opCodeCreate); err != nil {
		return err
	}
	return r.s.inner.Codes.Create(ctx, code)
}

func (r spyCodes) Redeem(ctx context.Context, code string, now time.Time) (*domain.MigrationCode, error) {
	if err := r.s.hit(opCodeRedeem); err != nil {
		return nil, err
	}
	return r.s.inner.Codes.Redeem(ctx, code, now)
}

func (r spyCodes) PurgeExpired(ctx context.Context, before time.Time) (int, error) {
	if err := r.s.hit(opCodePurge); err != nil {
		return 0, err
	}
	return r.s.inner.Codes.PurgeExpired(ctx, before)
}

type spyHistory struct{ s *spyBackend }

func (r spyHistory) Append(ctx context.Context, record *domain.MigrationHistoryRecord) error {
	if err := r.s.hit(opHistoryAppend); err != nil {
		return err
	}
	return r.s.inner.History.Append(ctx, record)
}

func (r spyHistory) ListRecent(ctx context.Context, identityID string, limit int) ([]*domain.MigrationHistoryRecord, error) {
	if err := r.s.hit(opHistoryList); err != nil {
		return nil, err
	}
	return r.s.inner.History.ListRecent(ctx, identityID, limit)
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices map[string][]domain.Notice
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{notices: map[string][]domain.Notice{}}
}

func (n *recordingNotifier) Notify(identityID string, notice domain.Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices[identityID] = append(n.notices[identityID], notice)
}

func (n *recordingNotifier) kinds(identityID string) []domain.NoticeKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	var kinds []domain.NoticeKind
	for _, notice := range n.notices[identityID] {
		kinds = append(kinds, notice.Kind)
	}
	return kinds
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func descriptor(t domain.PlatformType) domain.PlatformDescriptor {
	return domain.PlatformDescriptor{
		Type:         t,
		Details:      map[string]string{"os": "linux"},
		Capabilities: []string{domain.CapabilityWorkers, domain.CapabilityLocalStorage},
	}
}

func baselineFor(t domain.PlatformType) domain.AppConfiguration {
	return domain.AppConfiguration{
		APIEndpoint:    "http://localhost:8080/api/v1",
		Environment:    domain.EnvDevelopment,
		PlatformInfo:   descriptor(t),
		Version:        "2.3.0",
		BuildTimestamp: "2024-01-01T00:00:00Z",
	}
}

func userCtx(id string) context.Context {
	return identity.WithIdentity(context.Background(), id)
}

// device is one engine instance: its own platform and local storage, with a
// remote backend that may be shared with other devices.
type device struct {
	spy       *spyBackend
	local     *localstore.MemoryStore
	notifier  *recordingNotifier
	configs   *ConfigManager
	activity  *ActivityRecorder
	vault     *StateVault
	migration *MigrationCoordinator
}

func newDevice(t *testing.T, store *repository.MemoryStore, platformType domain.PlatformType) *device {
	t.Helper()

	spy := newSpyBackend(store)
	backend := spy.Backend()
	local := localstore.NewMemoryStore()
	notifier := newRecordingNotifier()
	logger := discardLogger()

	configs := NewConfigManager(baselineFor(platformType), NewConfigStore(backend.Configs, time.Second, logger))

	opts := DefaultActivityOptions()
	opts.FlushInterval = time.Hour
	activity := NewActivityRecorder(backend.Activity, local, configs, opts, logger)

	vault := NewStateVault(backend.Snapshots, local, configs, notifier, time.Second, logger)

	codec, err := NewPackageCodec()
	if err != nil {
		t.Fatalf("NewPackageCodec() error = %v", err)
	}

	migration := NewMigrationCoordinator(configs, vault, activity, backend.Codes, backend.History, codec, notifier,
		MigrationOptions{CodeTTL: 24 * time.Hour, HistoryLimit: 5, Timeout: time.Second}, logger)

	return &device{
		spy:       spy,
		local:     local,
		notifier:  notifier,
		configs:   configs,
		activity:  activity,
		vault:     vault,
		migration: migration,
	}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	return data
}
