package service

import (
	"context"
	"sync"
	"time"

	"statebridge/internal/domain"
	"statebridge/internal/identity"
)

// maxConfigViews bounds the per-identity views held in memory. An evicted
// identity sees the baseline until it loads its stored copy again.
const maxConfigViews = 1024

// ConfigManager owns the live configuration of one engine instance. It is
// built once at startup and handed to everything that needs the config.
//
// Each identity works on its own view: the baseline merged with that
// identity's stored copy. A context without an identity sees the device's
// configuration. Loading or saving for one identity never touches another
// identity's view.
type ConfigManager struct {
	mu       sync.RWMutex
	baseline domain.AppConfiguration
	device   domain.AppConfiguration
	views    map[string]domain.AppConfiguration
	store    *ConfigStore
}

// NewConfigManager starts from baseline: compiled defaults and environment
// values with the probed platform descriptor already filled in.
func NewConfigManager(baseline domain.AppConfiguration, store *ConfigStore) *ConfigManager {
	return &ConfigManager{
		baseline: baseline.Clone(),
		device:   baseline.Clone(),
		views:    make(map[string]domain.AppConfiguration),
		store:    store,
	}
}

// Config returns a copy of the configuration the caller in ctx sees.
func (m *ConfigManager) Config(ctx context.Context) domain.AppConfiguration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current(ctx).Clone()
}

func (m *ConfigManager) Platform() domain.PlatformDescriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.baseline.PlatformInfo.Clone()
}

func (m *ConfigManager) PlatformType() domain.PlatformType {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.baseline.PlatformInfo.Type
}

// LoadConfigState replaces the caller's view with the stored copy merged
// over the local baseline. On any failure the view is kept.
func (m *ConfigManager) LoadConfigState(ctx context.Context) domain.ConfigLoadResult {
	identityID, ok := identity.FromContext(ctx)
	if !ok {
		return domain.ConfigLoadResult{Success: false}
	}

	m.mu.RLock()
	baseline := m.baseline.Clone()
	m.mu.RUnlock()

	loaded := m.store.Load(ctx, baseline)
	if loaded == nil {
		return domain.ConfigLoadResult{Success: false}
	}

	m.mu.Lock()
	m.setView(identityID, loaded.Clone())
	m.mu.Unlock()

	return domain.ConfigLoadResult{Success: true, Config: loaded}
}

// SaveConfigState stores the caller's view, then reloads it so values
// assigned elsewhere (such as the last migration time) are picked up.
func (m *ConfigManager) SaveConfigState(ctx context.Context) {
	m.store.Save(ctx, m.Config(ctx))
	m.LoadConfigState(ctx)
}

// RecordMigration stamps the caller's view with the time of an import.
func (m *ConfigManager) RecordMigration(ctx context.Context, at time.Time) {
	ts := at.UTC()

	m.mu.Lock()
	defer m.mu.Unlock()

	identityID, ok := identity.FromContext(ctx)
	if !ok {
		m.device.LastMigration = &ts
		return
	}
	view := m.current(ctx).Clone()
	view.LastMigration = &ts
	m.setView(identityID, view)
}

// current must be called with mu held.
func (m *ConfigManager) current(ctx context.Context) domain.AppConfiguration {
	identityID, ok := identity.FromContext(ctx)
	if !ok {
		return m.device
	}
	if view, found := m.views[identityID]; found {
		return view
	}
	return m.baseline
}

// setView must be called with mu held for writing.
func (m *ConfigManager) setView(identityID string, view domain.AppConfiguration) {
	if _, found := m.views[identityID]; !found && len(m.views) >= maxConfigViews {
		for evict := range m.views {
			delete(m.views, evict)
			break
		}
	}
	m.views[identityID] = view
}
