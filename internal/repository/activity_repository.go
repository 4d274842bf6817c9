package repository

import (
	"context"
	"fmt"

	"statebridge/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

type couchActivityDoc struct {
	ID   string `json:"_id"`
	Type string `json:"type"`
	domain.ActivityLogEntry
}

type activityRepository struct {
	db *kivik.DB
}

func NewActivityRepository(db *kivik.DB) ActivityRepository {
	return &activityRepository{db: db}
}

// InsertBatch relies on deterministic document ids: an entry that made it in
// during an earlier failed batch comes back as a conflict and is skipped.
func (r *activityRepository) InsertBatch(ctx context.Context, entries []*domain.ActivityLogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	docs := make([]interface{}, 0, len(entries))
	for _, entry := range entries {
		if err := checkRecord("activity", entry); err != nil {
			return err
		}
		docs = append(docs, &couchActivityDoc{
			ID:               fmt.Sprintf("activity:%s", entry.ID),
			Type:             "activity",
			ActivityLogEntry: *entry,
		})
	}

	results, err := r.db.BulkDocs(ctx, docs)
	if err != nil {
		return fmt.Errorf("failed to insert activity batch: %w", err)
	}

	failed := 0
	var firstErr error
	for _, result := range results {
		if result.Error == nil || isCouchConflict(result.Error) {
			continue
		}
		failed++
		if firstErr == nil {
			firstErr = result.Error
		}
	}
	if failed > 0 {
		return fmt.Errorf("failed to insert %d of %d activity entries: %w", failed, len(entries), firstErr)
	}

	return nil
}
