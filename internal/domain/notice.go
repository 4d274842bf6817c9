package domain

import "time"

type NoticeKind string

const (
	NoticeStateSaveFailed NoticeKind = "state_save_failed"
	NoticeCodeRedeemed    NoticeKind = "migration_code_redeemed"
	NoticeStateImported   NoticeKind = "state_imported"
)

// Notice is a user-visible message pushed to an identity's open sessions.
type Notice struct {
	Kind      NoticeKind     `json:"kind"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
