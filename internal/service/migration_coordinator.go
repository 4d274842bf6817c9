package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"statebridge/internal/domain"
	"statebridge/internal/identity"
	"statebridge/internal/metrics"
	"statebridge/internal/repository"
	"statebridge/pkg/hash"
)

type MigrationOptions struct {
	CodeTTL      time.Duration
	HistoryLimit int
	Timeout      time.Duration
}

type ExportResult struct {
	Package   domain.MigrationPackage
	Data      []byte
	Code      string
	ExpiresAt *time.Time
}

type RestoreResult struct {
	Restored bool
	Reason   string
}

// Err turns a declined restore into ErrNoRelevantState.
func (r RestoreResult) Err() error {
	if r.Restored {
		return nil
	}
	if r.Reason == "" || r.Reason == ErrNoRelevantState.Error() {
		return ErrNoRelevantState
	}
	return errors.New(r.Reason)
}

const noStoredStateReason = "no stored state for this identity"

// MigrationCoordinator moves a user's project between runtimes, by file or
// by short single-use code. Every operation here is user initiated, so
// failures are returned rather than absorbed. The one exception is the
// history entry written after an import has already landed.
type MigrationCoordinator struct {
	configs  *ConfigManager
	vault    *StateVault
	activity *ActivityRecorder
	codes    repository.MigrationCodeRepository
	history  repository.MigrationHistoryRepository
	codec    *PackageCodec
	notifier Notifier
	opts     MigrationOptions
	logger   *slog.Logger
	now      func() time.Time
}

func NewMigrationCoordinator(
	configs *ConfigManager,
	vault *StateVault,
	activity *ActivityRecorder,
	codes repository.MigrationCodeRepository,
	history repository.MigrationHistoryRepository,
	codec *PackageCodec,
	notifier Notifier,
	opts MigrationOptions,
	logger *slog.Logger,
) *MigrationCoordinator {
	logger = loggerOrDefault(logger)
	if notifier == nil {
		notifier = LogNotifier{Logger: logger}
	}
	if opts.CodeTTL <= 0 {
		opts.CodeTTL = 24 * time.Hour
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 5
	}
	return &MigrationCoordinator{
		configs:  configs,
		vault:    vault,
		activity: activity,
		codes:    codes,
		history:  history,
		codec:    codec,
		notifier: notifier,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

// ExportProjectPackage packages the current config and snapshot. When an
// identity is present a migration code for the package is minted too, and a
// failure to mint fails the export.
func (c *MigrationCoordinator) ExportProjectPackage(ctx context.Context) (*ExportResult, error) {
	c.vault.SyncPending(ctx)

	state, ok := c.vault.Load(ctx)
	if !ok {
		metrics.CountMigration("export", ErrNoProjectState)
		return nil, ErrNoProjectState
	}

	cfg := c.configs.Config(ctx)
	pkg := domain.MigrationPackage{
		Version:   domain.MigrationPackageVersion,
		Timestamp: c.now().UTC().Format(time.RFC3339),
		Config:    cfg,
		State:     state,
		Platform:  cfg.PlatformInfo.Type,
	}

	data, err := c.codec.Encode(&pkg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode package: %w", err)
	}

	result := &ExportResult{Package: pkg, Data: data}

	if _, ok := identity.FromContext(ctx); ok {
		code, expiresAt, err := c.mint(ctx, pkg)
		if err != nil {
			metrics.CountMigration("export", err)
			return nil, err
		}
		result.Code = code
		result.ExpiresAt = &expiresAt
	}

	metrics.CountMigration("export", nil)
	c.activity.Record(ctx, "migration_export", map[string]any{
		"platform":  string(pkg.Platform),
		"with_code": result.Code != "",
	})
	return result, nil
}

// GenerateMigrationCode stores pkg under a fresh code and returns the code.
// Only the digest of the code is persisted.
func (c *MigrationCoordinator) GenerateMigrationCode(ctx context.Context, pkg domain.MigrationPackage) (string, error) {
	code, _, err := c.mint(ctx, pkg)
	return code, err
}

func (c *MigrationCoordinator) mint(ctx context.Context, pkg domain.MigrationPackage) (string, time.Time, error) {
	identityID, ok := identity.FromContext(ctx)
	if !ok {
		return "", time.Time{}, ErrUnauthenticated
	}

	code, err := hash.GenerateCode()
	if err != nil {
		return "", time.Time{}, err
	}

	now := c.now().UTC()
	record := &domain.MigrationCode{
		Code:        hash.Digest(code),
		IdentityID:  identityID,
		PackageData: pkg,
		CreatedAt:   now,
		ExpiresAt:   now.Add(c.opts.CodeTTL),
	}

	err = remoteCall(ctx, c.opts.Timeout, "migration_code_create", func(ctx context.Context) error {
		return c.codes.Create(ctx, record)
	})
	metrics.CountMigration("mint", err)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to store migration code: %w: %w", ErrTransport, err)
	}

	return code, record.ExpiresAt, nil
}

// ImportWithCode consumes code and imports the package behind it. The code
// is marked used by one conditional write, so of any number of concurrent
// callers exactly one gets past this point.
func (c *MigrationCoordinator) ImportWithCode(ctx context.Context, code string) error {
	normalized := hash.NormalizeCode(code)
	if len(normalized) != hash.CodeLength {
		metrics.CountMigration("redeem", ErrInvalidOrExpiredCode)
		return ErrInvalidOrExpiredCode
	}

	var redeemed *domain.MigrationCode
	err := remoteCall(ctx, c.opts.Timeout, "migration_code_redeem", func(ctx context.Context) error {
		var err error
		redeemed, err = c.codes.Redeem(ctx, hash.Digest(normalized), c.now())
		return err
	})
	if errors.Is(err, repository.ErrCodeNotRedeemable) {
		metrics.CountMigration("redeem", ErrInvalidOrExpiredCode)
		return ErrInvalidOrExpiredCode
	}
	if err != nil {
		metrics.CountMigration("redeem", err)
		return fmt.Errorf("failed to redeem migration code: %w: %w", ErrTransport, err)
	}
	metrics.CountMigration("redeem", nil)

	if err := c.importPackage(ctx, &redeemed.PackageData); err != nil {
		c.logger.Error("redeemed package could not be imported", "owner", redeemed.IdentityID, "error", err)
		return err
	}

	c.notifier.Notify(redeemed.IdentityID, newNotice(
		domain.NoticeCodeRedeemed,
		fmt.Sprintf("Your project was transferred to a %s runtime.", c.configs.PlatformType()),
		map[string]any{"target_platform": string(c.configs.PlatformType())},
	))
	c.activity.Record(ctx, "migration_code_redeemed", map[string]any{
		"source_platform": string(redeemed.PackageData.Platform),
	})
	return nil
}

// ImportProjectPackage imports a serialized package. Malformed input fails
// with ErrInvalidPackage before anything is written.
func (c *MigrationCoordinator) ImportProjectPackage(ctx context.Context, data []byte) error {
	pkg, err := c.codec.Decode(data)
	if err != nil {
		metrics.CountMigration("import", err)
		return err
	}

	if err := c.importPackage(ctx, pkg); err != nil {
		return err
	}

	c.activity.Record(ctx, "migration_import", map[string]any{
		"source_platform": string(pkg.Platform),
	})
	return nil
}

// importPackage writes the snapshot and, for an identity, the history entry.
// The running session is not swapped in place; callers reload afterwards.
//
// The snapshot write is the import. Once it has landed the history entry is
// best effort: a failed append is logged and the import still succeeds, since
// reporting an error would tell the caller nothing changed when it did.
func (c *MigrationCoordinator) importPackage(ctx context.Context, pkg *domain.MigrationPackage) error {
	source := string(pkg.Platform)

	if err := c.vault.SaveImported(ctx, pkg.State, source); err != nil {
		metrics.CountMigration("import", err)
		return err
	}

	identityID, ok := identity.FromContext(ctx)
	if !ok {
		metrics.CountMigration("import", nil)
		return nil
	}

	now := c.now().UTC()
	cfg := c.configs.Config(ctx)
	record := &domain.MigrationHistoryRecord{
		IdentityID:         identityID,
		SourcePlatform:     pkg.Platform,
		TargetPlatform:     cfg.PlatformInfo.Type,
		MigrationTimestamp: now,
		Version:            cfg.Version,
	}
	err := remoteCall(ctx, c.opts.Timeout, "migration_history_append", func(ctx context.Context) error {
		return c.history.Append(ctx, record)
	})
	if err != nil {
		c.logger.Warn("import stored without a history entry", "identity", identityID, "error", err)
	}
	metrics.CountMigration("import", nil)

	c.configs.RecordMigration(ctx, now)
	c.configs.SaveConfigState(ctx)

	c.notifier.Notify(identityID, newNotice(
		domain.NoticeStateImported,
		"A project was imported. Reload to continue with it.",
		map[string]any{"source_platform": source},
	))
	return nil
}

// AIRecommendedRestore decides from recent migrations whether the stored
// snapshot belongs on this platform. With a single live snapshot per
// identity it can only confirm that snapshot, not pick an older one.
func (c *MigrationCoordinator) AIRecommendedRestore(ctx context.Context) (RestoreResult, error) {
	identityID, ok := identity.FromContext(ctx)
	if !ok {
		return RestoreResult{}, ErrUnauthenticated
	}

	var records []*domain.MigrationHistoryRecord
	err := remoteCall(ctx, c.opts.Timeout, "migration_history_list", func(ctx context.Context) error {
		var err error
		records, err = c.history.ListRecent(ctx, identityID, c.opts.HistoryLimit)
		return err
	})
	if err != nil {
		metrics.CountMigration("restore", err)
		return RestoreResult{}, fmt.Errorf("failed to read migration history: %w: %w", ErrTransport, err)
	}

	if len(records) == 0 {
		metrics.CountMigration("restore", nil)
		return RestoreResult{Restored: true}, nil
	}

	current := c.configs.PlatformType()
	var match *domain.MigrationHistoryRecord
	for _, record := range records {
		if record.TargetPlatform == current {
			match = record
			break
		}
	}
	if match == nil {
		metrics.CountMigration("restore", ErrNoRelevantState)
		return RestoreResult{Restored: false, Reason: ErrNoRelevantState.Error()}, nil
	}

	restored, err := c.vault.RestoreFromRemote(ctx)
	metrics.CountMigration("restore", err)
	if err != nil {
		return RestoreResult{}, err
	}
	if !restored {
		return RestoreResult{Restored: false, Reason: noStoredStateReason}, nil
	}

	c.activity.Record(ctx, "migration_restore", map[string]any{
		"platform":        string(current),
		"migrated_at":     match.MigrationTimestamp.Format(time.RFC3339),
		"source_platform": string(match.SourcePlatform),
	})
	return RestoreResult{Restored: true}, nil
}

func (c *MigrationCoordinator) MigrationHistory(ctx context.Context, limit int) ([]*domain.MigrationHistoryRecord, error) {
	identityID, ok := identity.FromContext(ctx)
	if !ok {
		return nil, ErrUnauthenticated
	}
	if limit <= 0 {
		limit = c.opts.HistoryLimit
	}

	var records []*domain.MigrationHistoryRecord
	err := remoteCall(ctx, c.opts.Timeout, "migration_history_list", func(ctx context.Context) error {
		var err error
		records, err = c.history.ListRecent(ctx, identityID, limit)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read migration history: %w: %w", ErrTransport, err)
	}
	return records, nil
}

// PurgeExpiredCodes deletes codes that can no longer be redeemed.
func (c *MigrationCoordinator) PurgeExpiredCodes(ctx context.Context) (int, error) {
	var purged int
	err := remoteCall(ctx, c.opts.Timeout, "migration_code_purge", func(ctx context.Context) error {
		var err error
		purged, err = c.codes.PurgeExpired(ctx, c.now())
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to purge migration codes: %w: %w", ErrTransport, err)
	}
	metrics.ExpiredCodesPurged.Add(float64(purged))
	return purged, nil
}
