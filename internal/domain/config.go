package domain

import "time"

type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

type AppConfiguration struct {
	APIEndpoint      string             `json:"api_endpoint"`
	RemoteBackendURL string             `json:"remote_backend_url"`
	RemoteBackendKey string             `json:"remote_backend_key"`
	Environment      Environment        `json:"environment" validate:"required,oneof=development staging production"`
	PlatformInfo     PlatformDescriptor `json:"platform_info"`
	Version          string             `json:"version" validate:"required"`
	BuildTimestamp   string             `json:"build_timestamp"`
	LastMigration    *time.Time         `json:"last_migration,omitempty"`
}

// Clone returns a copy that shares no maps, slices or pointers with c.
func (c AppConfiguration) Clone() AppConfiguration {
	out := c
	out.PlatformInfo = c.PlatformInfo.Clone()
	if c.LastMigration != nil {
		ts := *c.LastMigration
		out.LastMigration = &ts
	}
	return out
}

type ConfigRecord struct {
	IdentityID string         `json:"identity_id" validate:"required"`
	Config     map[string]any `json:"config" validate:"required"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

type ConfigLoadResult struct {
	Success bool              `json:"success"`
	Config  *AppConfiguration `json:"config,omitempty"`
}
