package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"statebridge/internal/domain"
	"statebridge/internal/identity"
	"statebridge/internal/localstore"
	"statebridge/internal/repository"
)

const saveFailedMessage = "Your project could not be saved to the server. It is kept on this device and will be uploaded later."

// StateVault stores the project snapshot of the current identity remotely
// and keeps a local copy in the caller's session slot. Anonymous sessions
// only use the local copy.
type StateVault struct {
	repo     repository.SnapshotRepository
	local    localstore.Store
	platform PlatformSource
	notifier Notifier
	timeout  time.Duration
	logger   *slog.Logger
}

func NewStateVault(repo repository.SnapshotRepository, local localstore.Store, platform PlatformSource, notifier Notifier, timeout time.Duration, logger *slog.Logger) *StateVault {
	logger = loggerOrDefault(logger)
	if notifier == nil {
		notifier = LogNotifier{Logger: logger}
	}
	return &StateVault{
		repo:     repo,
		local:    local,
		platform: platform,
		notifier: notifier,
		timeout:  timeout,
		logger:   logger,
	}
}

// Save reports whether the snapshot reached its destination. A failed remote
// save notifies the identity and parks the snapshot locally as pending.
func (v *StateVault) Save(ctx context.Context, snapshot domain.ProjectStateSnapshot) bool {
	if !domain.SnapshotPresent(snapshot) {
		v.logger.Warn("empty snapshot not saved")
		return false
	}

	identityID, ok := identity.FromContext(ctx)
	if !ok {
		if err := v.saveLocal(ctx, snapshot, "", "", false); err != nil {
			v.logger.Warn("local snapshot not saved", "error", err)
			return false
		}
		return true
	}

	if err := v.upsert(ctx, identityID, snapshot, ""); err != nil {
		v.logger.Warn("snapshot not saved", "identity", identityID, "error", err)
		v.notifier.Notify(identityID, newNotice(domain.NoticeStateSaveFailed, saveFailedMessage, nil))
		if err := v.saveLocal(ctx, snapshot, "", identityID, true); err != nil {
			v.logger.Warn("pending snapshot not kept locally", "identity", identityID, "error", err)
		}
		return false
	}

	v.mirror(ctx, snapshot, "", identityID)
	return true
}

// Load returns the remote snapshot, or the local copy when the remote one is
// missing or unreachable. Failures are silent.
func (v *StateVault) Load(ctx context.Context) (domain.ProjectStateSnapshot, bool) {
	identityID, ok := identity.FromContext(ctx)
	if ok {
		record, err := v.get(ctx, identityID)
		if err == nil {
			return record.State, true
		}
		if !errors.Is(err, repository.ErrNotFound) {
			v.logger.Debug("remote snapshot unavailable, using local copy", "identity", identityID, "error", err)
		}
	}

	local, err := v.local.LoadSnapshot(ctx, identity.Session(ctx))
	if err != nil {
		v.logger.Debug("local snapshot unavailable", "error", err)
		return nil, false
	}
	if local == nil || !domain.SnapshotPresent(local.State) {
		return nil, false
	}
	// A local copy only goes back to whoever wrote it, anonymous included.
	if local.IdentityID != identityID {
		return nil, false
	}
	return local.State, true
}

// SaveImported writes an imported snapshot tagged with the platform it came
// from. Unlike Save it returns the failure to the caller.
func (v *StateVault) SaveImported(ctx context.Context, snapshot domain.ProjectStateSnapshot, source string) error {
	identityID, ok := identity.FromContext(ctx)
	if !ok {
		if err := v.saveLocal(ctx, snapshot, source, "", false); err != nil {
			return fmt.Errorf("failed to store imported state locally: %w", err)
		}
		return nil
	}

	if err := v.upsert(ctx, identityID, snapshot, source); err != nil {
		return fmt.Errorf("failed to store imported state: %w: %w", ErrTransport, err)
	}
	v.mirror(ctx, snapshot, source, identityID)
	return nil
}

// SyncPending uploads a snapshot left behind by a failed save of the current
// identity. It reports whether anything was uploaded.
func (v *StateVault) SyncPending(ctx context.Context) bool {
	identityID, ok := identity.FromContext(ctx)
	if !ok {
		return false
	}

	local, err := v.local.LoadSnapshot(ctx, identity.Session(ctx))
	if err != nil || local == nil || !local.Pending || local.IdentityID != identityID {
		return false
	}

	if err := v.upsert(ctx, identityID, local.State, local.ImportedFrom); err != nil {
		v.logger.Warn("pending snapshot still not uploaded", "identity", identityID, "error", err)
		return false
	}

	v.mirror(ctx, local.State, local.ImportedFrom, identityID)
	return true
}

// RestoreFromRemote copies the identity's stored snapshot over the local
// copy. It reports false when nothing is stored remotely.
func (v *StateVault) RestoreFromRemote(ctx context.Context) (bool, error) {
	identityID, ok := identity.FromContext(ctx)
	if !ok {
		return false, ErrUnauthenticated
	}

	record, err := v.get(ctx, identityID)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read stored state: %w: %w", ErrTransport, err)
	}

	if err := v.saveLocal(ctx, record.State, record.ImportedFrom, identityID, false); err != nil {
		return false, fmt.Errorf("failed to restore state locally: %w", err)
	}
	return true, nil
}

func (v *StateVault) get(ctx context.Context, identityID string) (*domain.StateRecord, error) {
	var record *domain.StateRecord
	err := remoteCall(ctx, v.timeout, "snapshot_get", func(ctx context.Context) error {
		var err error
		record, err = v.repo.Get(ctx, identityID)
		return err
	})
	return record, err
}

func (v *StateVault) upsert(ctx context.Context, identityID string, snapshot domain.ProjectStateSnapshot, importedFrom string) error {
	record := &domain.StateRecord{
		IdentityID:   identityID,
		State:        snapshot,
		ImportedFrom: importedFrom,
	}
	if v.platform != nil {
		record.Platform = v.platform.Platform()
	}

	return remoteCall(ctx, v.timeout, "snapshot_upsert", func(ctx context.Context) error {
		return v.repo.Upsert(ctx, record)
	})
}

func (v *StateVault) mirror(ctx context.Context, snapshot domain.ProjectStateSnapshot, importedFrom, identityID string) {
	if err := v.saveLocal(ctx, snapshot, importedFrom, identityID, false); err != nil {
		v.logger.Debug("local mirror not updated", "identity", identityID, "error", err)
	}
}

func (v *StateVault) saveLocal(ctx context.Context, snapshot domain.ProjectStateSnapshot, importedFrom, identityID string, pending bool) error {
	return v.local.SaveSnapshot(ctx, identity.Session(ctx), &localstore.Snapshot{
		State:        snapshot,
		ImportedFrom: importedFrom,
		Pending:      pending,
		IdentityID:   identityID,
		SavedAt:      time.Now().UTC(),
	})
}
