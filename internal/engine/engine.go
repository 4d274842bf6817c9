// Package engine assembles one engine instance: the probed platform, the
// remote backend, local storage and the services on top of them.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"statebridge/internal/config"
	"statebridge/internal/domain"
	"statebridge/internal/localstore"
	"statebridge/internal/platform"
	"statebridge/internal/repository"
	"statebridge/internal/service"
)

type Engine struct {
	Platform  domain.PlatformDescriptor
	Backend   *repository.Backend
	Local     localstore.Store
	Configs   *service.ConfigManager
	Activity  *service.ActivityRecorder
	Vault     *service.StateVault
	Migration *service.MigrationCoordinator
}

// Options lets callers swap the pieces that talk to the outside world.
// Nil fields are built from configuration.
type Options struct {
	Runtime  platform.Runtime
	Backend  *repository.Backend
	Local    localstore.Store
	Notifier service.Notifier
	Logger   *slog.Logger
}

func New(ctx context.Context, cfg *config.Config, opts Options) (*Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	desc := platform.NewProbe(opts.Runtime).Detect()

	backend := opts.Backend
	if backend == nil {
		var err error
		backend, err = repository.Open(ctx, cfg.BackendDSN())
		if err != nil {
			return nil, fmt.Errorf("failed to open backend: %w", err)
		}
	}

	local := opts.Local
	if local == nil {
		var err error
		local, err = localstore.Open(cfg.Local.Path, cfg.Local.RedisURL, string(desc.Type))
		if err != nil {
			backend.Close()
			return nil, fmt.Errorf("failed to open local store: %w", err)
		}
	}

	codec, err := service.NewPackageCodec()
	if err != nil {
		backend.Close()
		local.Close()
		return nil, err
	}

	timeout := cfg.Backend.OperationTimeout
	configStore := service.NewConfigStore(backend.Configs, timeout, logger)
	configs := service.NewConfigManager(Baseline(cfg.App, desc), configStore)

	activity := service.NewActivityRecorder(backend.Activity, local, configs, service.ActivityOptions{
		FlushInterval:  cfg.Activity.FlushInterval,
		BatchThreshold: cfg.Activity.BatchThreshold,
		RequeueLimit:   cfg.Activity.RequeueLimit,
		LocalRingSize:  cfg.Activity.LocalRingSize,
		Timeout:        timeout,
	}, logger)

	vault := service.NewStateVault(backend.Snapshots, local, configs, opts.Notifier, timeout, logger)

	migration := service.NewMigrationCoordinator(
		configs,
		vault,
		activity,
		backend.Codes,
		backend.History,
		codec,
		opts.Notifier,
		service.MigrationOptions{
			CodeTTL:      cfg.Migration.CodeTTL,
			HistoryLimit: cfg.Migration.HistoryLimit,
			Timeout:      timeout,
		},
		logger,
	)

	logger.Info("engine ready",
		"platform", desc.Type,
		"capabilities", desc.Capabilities,
		"environment", cfg.App.Environment,
	)

	return &Engine{
		Platform:  desc,
		Backend:   backend,
		Local:     local,
		Configs:   configs,
		Activity:  activity,
		Vault:     vault,
		Migration: migration,
	}, nil
}

// Baseline is the locally derived configuration a stored copy is merged over.
func Baseline(app config.AppConfig, desc domain.PlatformDescriptor) domain.AppConfiguration {
	return domain.AppConfiguration{
		APIEndpoint:      app.APIEndpoint,
		RemoteBackendURL: app.RemoteBackendURL,
		RemoteBackendKey: app.RemoteBackendKey,
		Environment:      domain.Environment(app.Environment),
		PlatformInfo:     desc.Clone(),
		Version:          app.Version,
		BuildTimestamp:   app.BuildTimestamp,
	}
}

// Close flushes buffered activity, then releases the backend and local store.
func (e *Engine) Close(ctx context.Context) error {
	e.Activity.Wait()
	e.Activity.Flush(ctx)
	return errors.Join(e.Backend.Close(), e.Local.Close())
}
