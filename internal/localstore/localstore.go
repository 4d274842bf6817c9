// Package localstore holds what the engine keeps on the local device: the
// last project snapshot and the anonymous activity ring.
package localstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"statebridge/internal/domain"

	"github.com/redis/go-redis/v9"
)

type Snapshot struct {
	State        domain.ProjectStateSnapshot `json:"state"`
	ImportedFrom string                      `json:"imported_from,omitempty"`
	// Pending marks a snapshot whose remote save failed for IdentityID and
	// still has to be pushed upstream.
	Pending    bool      `json:"pending"`
	IdentityID string    `json:"identity_id,omitempty"`
	SavedAt    time.Time `json:"saved_at"`
}

// Snapshots live in slots. The empty slot belongs to the device itself; a
// host serving many clients gives each client session its own slot.
type Store interface {
	// LoadSnapshot returns nil, nil when nothing has been saved in slot yet.
	LoadSnapshot(ctx context.Context, slot string) (*Snapshot, error)
	SaveSnapshot(ctx context.Context, slot string, snapshot *Snapshot) error
	// AppendActivity keeps only the newest limit entries.
	AppendActivity(ctx context.Context, entry *domain.ActivityLogEntry, limit int) error
	// Activity returns the ring oldest first.
	Activity(ctx context.Context) ([]*domain.ActivityLogEntry, error)
	Close() error
}

const (
	// MaxSessionSlots bounds the session slots kept by the file and memory
	// stores. The least recently saved slot goes first.
	MaxSessionSlots = 512
	// SessionSlotTTL expires session slots in redis.
	SessionSlotTTL = 7 * 24 * time.Hour
)

// Open picks a store from configuration: a redis:// URL wins over a file path.
func Open(path, redisURL, namespace string) (Store, error) {
	if strings.TrimSpace(redisURL) != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid local redis url: %w", err)
		}
		return NewRedisStore(redis.NewClient(opts), namespace), nil
	}
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("local store path or redis url is required")
	}
	return NewFileStore(path), nil
}

// evictSessions drops the least recently saved session slots until at most
// limit remain. The device slot is never evicted.
func evictSessions(slots map[string]*Snapshot, limit int) {
	for {
		oldest, sessions := "", 0
		var oldestAt time.Time
		for slot, snapshot := range slots {
			if slot == "" {
				continue
			}
			sessions++
			if oldest == "" || snapshot.SavedAt.Before(oldestAt) {
				oldest, oldestAt = slot, snapshot.SavedAt
			}
		}
		if sessions <= limit {
			return
		}
		delete(slots, oldest)
	}
}
