package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"statebridge/internal/domain"
	"statebridge/internal/identity"
	"statebridge/internal/repository"

	"github.com/go-playground/validator/v10"
)

// ConfigStore persists the configuration document of the current identity.
// Without an identity both operations do nothing and touch no backend.
type ConfigStore struct {
	repo     repository.ConfigRepository
	timeout  time.Duration
	logger   *slog.Logger
	validate *validator.Validate
}

func NewConfigStore(repo repository.ConfigRepository, timeout time.Duration, logger *slog.Logger) *ConfigStore {
	return &ConfigStore{
		repo:     repo,
		timeout:  timeout,
		logger:   loggerOrDefault(logger),
		validate: validator.New(),
	}
}

func (s *ConfigStore) Save(ctx context.Context, cfg domain.AppConfiguration) {
	identityID, ok := identity.FromContext(ctx)
	if !ok {
		return
	}

	document, err := toDocument(cfg)
	if err != nil {
		s.logger.Error("failed to encode configuration", "error", err)
		return
	}

	err = remoteCall(ctx, s.timeout, "config_upsert", func(ctx context.Context) error {
		_, err := s.repo.Upsert(ctx, &domain.ConfigRecord{
			IdentityID: identityID,
			Config:     document,
		})
		return err
	})
	if err != nil {
		s.logger.Warn("configuration not saved", "identity", identityID, "error", err)
	}
}

// Load merges the stored document over baseline. Keys the stored copy lacks
// keep their baseline value, and platform info is always baseline's.
func (s *ConfigStore) Load(ctx context.Context, baseline domain.AppConfiguration) *domain.AppConfiguration {
	identityID, ok := identity.FromContext(ctx)
	if !ok {
		return nil
	}

	var record *domain.ConfigRecord
	err := remoteCall(ctx, s.timeout, "config_get", func(ctx context.Context) error {
		var err error
		record, err = s.repo.Get(ctx, identityID)
		return err
	})
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		s.logger.Warn("configuration not loaded", "identity", identityID, "error", err)
		return nil
	}

	merged, err := mergeConfiguration(baseline, record.Config)
	if err != nil {
		s.logger.Warn("stored configuration ignored", "identity", identityID, "error", err)
		return nil
	}

	if err := s.validate.Struct(merged); err != nil {
		s.logger.Warn("stored configuration ignored", "identity", identityID, "error", err)
		return nil
	}

	return merged
}

func toDocument(cfg domain.AppConfiguration) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var document map[string]any
	if err := json.Unmarshal(data, &document); err != nil {
		return nil, err
	}
	return document, nil
}

func mergeConfiguration(baseline domain.AppConfiguration, stored map[string]any) (*domain.AppConfiguration, error) {
	document, err := toDocument(baseline)
	if err != nil {
		return nil, err
	}
	for key, value := range stored {
		document[key] = value
	}

	data, err := json.Marshal(document)
	if err != nil {
		return nil, err
	}
	var merged domain.AppConfiguration
	if err := json.Unmarshal(data, &merged); err != nil {
		return nil, err
	}

	merged.PlatformInfo = baseline.PlatformInfo.Clone()
	return &merged, nil
}
