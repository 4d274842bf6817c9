package domain

import "time"

type ActivityLogEntry struct {
	ID         string         `json:"id"`
	IdentityID string         `json:"identity_id"`
	Action     string         `json:"action" validate:"required"`
	Timestamp  time.Time      `json:"timestamp"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Route      string         `json:"route,omitempty"`
	Platform   PlatformType   `json:"platform,omitempty"`
}

type RecordActivityRequest struct {
	Action   string         `json:"action" validate:"required_without=Route,max=200"`
	Metadata map[string]any `json:"metadata"`
	Route    string         `json:"route"`
}
