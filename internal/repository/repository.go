package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"statebridge/internal/domain"

	"github.com/go-playground/validator/v10"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrCodeNotRedeemable covers unknown, expired and already used codes
	// alike, including the loser of a concurrent redemption.
	ErrCodeNotRedeemable = errors.New("migration code not redeemable")
	ErrMalformedRecord   = errors.New("malformed record")
	// ErrCodeExists is returned when a migration code digest is already stored.
	ErrCodeExists = errors.New("migration code already exists")
)

type ConfigRepository interface {
	Get(ctx context.Context, identityID string) (*domain.ConfigRecord, error)
	Upsert(ctx context.Context, record *domain.ConfigRecord) (*domain.ConfigRecord, error)
}

type SnapshotRepository interface {
	Get(ctx context.Context, identityID string) (*domain.StateRecord, error)
	Upsert(ctx context.Context, record *domain.StateRecord) error
}

type ActivityRepository interface {
	// InsertBatch stores all entries or returns an error. Entries already
	// stored by an earlier partially failed attempt are not duplicated.
	InsertBatch(ctx context.Context, entries []*domain.ActivityLogEntry) error
}

type MigrationCodeRepository interface {
	Create(ctx context.Context, code *domain.MigrationCode) error
	// Redeem flips used=false to used=true in one conditional write and
	// returns the consumed code, or ErrCodeNotRedeemable.
	Redeem(ctx context.Context, code string, now time.Time) (*domain.MigrationCode, error)
	PurgeExpired(ctx context.Context, before time.Time) (int, error)
}

type MigrationHistoryRepository interface {
	Append(ctx context.Context, record *domain.MigrationHistoryRecord) error
	// ListRecent returns at most limit records, newest first.
	ListRecent(ctx context.Context, identityID string, limit int) ([]*domain.MigrationHistoryRecord, error)
}

// Backend bundles every table/collection the engine persists to.
type Backend struct {
	Configs   ConfigRepository
	Snapshots SnapshotRepository
	Activity  ActivityRepository
	Codes     MigrationCodeRepository
	History   MigrationHistoryRepository

	closer func() error
}

func (b *Backend) Close() error {
	if b == nil || b.closer == nil {
		return nil
	}
	return b.closer()
}

var validate = validator.New()

// checkRecord validates a row read from or about to be written to storage.
func checkRecord(kind string, v any) error {
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedRecord, kind, err)
	}
	return nil
}

func utc(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC()
}
