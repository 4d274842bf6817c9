package repository

import (
	"context"
	"fmt"
	"log"

	"statebridge/internal/domain"

	"github.com/go-kivik/kivik/v4"
	"github.com/google/uuid"
)

type couchHistoryDoc struct {
	ID   string `json:"_id"`
	Type string `json:"type"`
	// MigratedAtUnixNano orders the index; RFC 3339 strings with trimmed
	// fractions do not sort lexically.
	MigratedAtUnixNano int64 `json:"migrated_at_unix_nano"`
	domain.MigrationHistoryRecord
}

// historyQueryCap stands in for "no limit", since Mango applies its own
// default of 25 rows.
const historyQueryCap = 1000

type migrationHistoryRepository struct {
	db *kivik.DB
}

func NewMigrationHistoryRepository(db *kivik.DB) MigrationHistoryRepository {
	return &migrationHistoryRepository{db: db}
}

func (r *migrationHistoryRepository) Append(ctx context.Context, record *domain.MigrationHistoryRecord) error {
	stored := *record
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	stored.MigrationTimestamp = utc(stored.MigrationTimestamp)
	if err := checkRecord("migration history", &stored); err != nil {
		return err
	}

	docID := fmt.Sprintf("migration_history:%s:%s", stored.IdentityID, stored.ID)
	_, err := r.db.Put(ctx, docID, &couchHistoryDoc{
		ID:                     docID,
		Type:                   "migration_history",
		MigratedAtUnixNano:     stored.MigrationTimestamp.UnixNano(),
		MigrationHistoryRecord: stored,
	})
	if err != nil {
		return fmt.Errorf("failed to append migration history: %w", err)
	}

	record.ID = stored.ID
	return nil
}

// ListRecent asks CouchDB for the newest rows through the history index, so
// the limit applies after ordering.
func (r *migrationHistoryRepository) ListRecent(ctx context.Context, identityID string, limit int) ([]*domain.MigrationHistoryRecord, error) {
	if limit <= 0 || limit > historyQueryCap {
		limit = historyQueryCap
	}

	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"type":                  "migration_history",
			"identity_id":           identityID,
			"migrated_at_unix_nano": map[string]interface{}{"$gt": nil},
		},
		"sort": []map[string]string{
			{"type": "desc"},
			{"identity_id": "desc"},
			{"migrated_at_unix_nano": "desc"},
		},
		"limit":     limit,
		"use_index": []string{couchDesignDoc, historyIndexName},
	}

	rows := r.db.Find(ctx, query)
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query migration history: %w", err)
	}
	defer rows.Close()

	var records []*domain.MigrationHistoryRecord
	for rows.Next() {
		var doc couchHistoryDoc
		if err := rows.ScanDoc(&doc); err != nil {
			continue // Skip malformed docs
		}
		if err := checkRecord("migration history", &doc.MigrationHistoryRecord); err != nil {
			log.Printf("skipping history row %s: %v", doc.ID, err)
			continue
		}
		record := doc.MigrationHistoryRecord
		records = append(records, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read migration history: %w", err)
	}

	return records, nil
}
