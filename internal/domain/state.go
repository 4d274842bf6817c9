package domain

import (
	"encoding/json"
	"time"
)

// ProjectStateSnapshot is the whole-project document. Its contents are never
// interpreted by the engine.
type ProjectStateSnapshot = json.RawMessage

type StateRecord struct {
	IdentityID   string               `json:"identity_id" validate:"required"`
	State        ProjectStateSnapshot `json:"state" validate:"required"`
	Platform     PlatformDescriptor   `json:"platform"`
	ImportedFrom string               `json:"imported_from,omitempty"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

// SnapshotPresent reports whether s holds an actual document.
func SnapshotPresent(s ProjectStateSnapshot) bool {
	if len(s) == 0 {
		return false
	}
	return string(s) != "null"
}

type SaveStateRequest struct {
	State ProjectStateSnapshot `json:"state" validate:"required"`
}
