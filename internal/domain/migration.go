package domain

import "time"

const MigrationPackageVersion = "1.0.0"

// MigrationPackage is the portable export format. Field names are part of the
// file contract shared with every other runtime of the product.
type MigrationPackage struct {
	Version   string               `json:"version" validate:"required"`
	Timestamp string               `json:"timestamp" validate:"required"`
	Config    AppConfiguration     `json:"config"`
	State     ProjectStateSnapshot `json:"state" validate:"required"`
	Platform  PlatformType         `json:"platform"`
}

type MigrationCode struct {
	Code        string           `json:"code" validate:"required"`
	IdentityID  string           `json:"identity_id" validate:"required"`
	PackageData MigrationPackage `json:"package_data"`
	CreatedAt   time.Time        `json:"created_at"`
	ExpiresAt   time.Time        `json:"expires_at" validate:"required"`
	Used        bool             `json:"used"`
	UsedAt      *time.Time       `json:"used_at,omitempty"`
}

func (c *MigrationCode) Redeemable(now time.Time) bool {
	return !c.Used && c.ExpiresAt.After(now)
}

type MigrationHistoryRecord struct {
	ID                 string       `json:"id"`
	IdentityID         string       `json:"identity_id" validate:"required"`
	SourcePlatform     PlatformType `json:"source_platform"`
	TargetPlatform     PlatformType `json:"target_platform" validate:"required"`
	MigrationTimestamp time.Time    `json:"migration_timestamp"`
	Version            string       `json:"version"`
}

type ExportResponse struct {
	Package   MigrationPackage `json:"package"`
	Code      string           `json:"code,omitempty"`
	ExpiresAt *time.Time       `json:"expires_at,omitempty"`
}

type RedeemCodeRequest struct {
	Code string `json:"code" validate:"required,min=4,max=32"`
}

type RestoreResponse struct {
	Restored bool   `json:"restored"`
	Reason   string `json:"reason,omitempty"`
}
