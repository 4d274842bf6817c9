package localstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"statebridge/internal/domain"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "statebridge:local:"

type RedisStore struct {
	client    *redis.Client
	namespace string
}

func NewRedisStore(client *redis.Client, namespace string) *RedisStore {
	if namespace == "" {
		namespace = "default"
	}
	return &RedisStore{client: client, namespace: namespace}
}

func (s *RedisStore) snapshotKey(slot string) string {
	if slot == "" {
		return keyPrefix + s.namespace + ":snapshot"
	}
	return keyPrefix + s.namespace + ":snapshot:" + slot
}

func (s *RedisStore) activityKey() string {
	return keyPrefix + s.namespace + ":activity"
}

func (s *RedisStore) LoadSnapshot(ctx context.Context, slot string) (*Snapshot, error) {
	data, err := s.client.Get(ctx, s.snapshotKey(slot)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get local snapshot: %w", err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal local snapshot: %w", err)
	}
	return &snapshot, nil
}

// SaveSnapshot keeps the device slot forever and session slots for
// SessionSlotTTL after their last save.
func (s *RedisStore) SaveSnapshot(ctx context.Context, slot string, snapshot *Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal local snapshot: %w", err)
	}
	var ttl time.Duration
	if slot != "" {
		ttl = SessionSlotTTL
	}
	if err := s.client.Set(ctx, s.snapshotKey(slot), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save local snapshot: %w", err)
	}
	return nil
}

// AppendActivity pushes to the head of a list and trims it in the same
// pipeline, so the list never exceeds limit entries.
func (s *RedisStore) AppendActivity(ctx context.Context, entry *domain.ActivityLogEntry, limit int) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, s.activityKey(), data)
	if limit > 0 {
		pipe.LTrim(ctx, s.activityKey(), 0, int64(limit-1))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append activity: %w", err)
	}
	return nil
}

func (s *RedisStore) Activity(ctx context.Context) ([]*domain.ActivityLogEntry, error) {
	items, err := s.client.LRange(ctx, s.activityKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read activity: %w", err)
	}

	entries := make([]*domain.ActivityLogEntry, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		var entry domain.ActivityLogEntry
		if err := json.Unmarshal([]byte(items[i]), &entry); err != nil {
			continue
		}
		entries = append(entries, &entry)
	}
	return entries, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
