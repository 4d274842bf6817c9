package repository

import (
	"context"
	"fmt"
	"time"

	"statebridge/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

type couchMigrationCodeDoc struct {
	ID            string `json:"_id"`
	Rev           string `json:"_rev,omitempty"`
	Type          string `json:"type"`
	ExpiresAtUnix int64  `json:"expires_at_unix"`
	domain.MigrationCode
}

type migrationCodeRepository struct {
	db *kivik.DB
}

func NewMigrationCodeRepository(db *kivik.DB) MigrationCodeRepository {
	return &migrationCodeRepository{db: db}
}

func (r *migrationCodeRepository) Create(ctx context.Context, code *domain.MigrationCode) error {
	stored := *code
	stored.CreatedAt = utc(stored.CreatedAt)
	stored.ExpiresAt = utc(stored.ExpiresAt)
	if err := checkRecord("migration code", &stored); err != nil {
		return err
	}

	docID := fmt.Sprintf("migration_code:%s", code.Code)
	_, err := r.db.Put(ctx, docID, &couchMigrationCodeDoc{
		ID:            docID,
		Type:          "migration_code",
		ExpiresAtUnix: stored.ExpiresAt.Unix(),
		MigrationCode: stored,
	})
	if err != nil {
		if isCouchConflict(err) {
			return ErrCodeExists
		}
		return fmt.Errorf("failed to create migration code: %w", err)
	}

	return nil
}

// Redeem writes used=true against the revision it read. CouchDB rejects the
// write with 409 if any other redemption landed first, so exactly one caller
// can flip the flag.
func (r *migrationCodeRepository) Redeem(ctx context.Context, code string, now time.Time) (*domain.MigrationCode, error) {
	docID := fmt.Sprintf("migration_code:%s", code)

	var doc couchMigrationCodeDoc
	if err := r.db.Get(ctx, docID).ScanDoc(&doc); err != nil {
		if isCouchNotFound(err) {
			return nil, ErrCodeNotRedeemable
		}
		return nil, fmt.Errorf("failed to read migration code: %w", err)
	}

	if err := checkRecord("migration code", &doc.MigrationCode); err != nil {
		return nil, err
	}

	if !doc.Redeemable(now) {
		return nil, ErrCodeNotRedeemable
	}

	usedAt := now.UTC()
	doc.Used = true
	doc.UsedAt = &usedAt

	if _, err := r.db.Put(ctx, docID, &doc); err != nil {
		if isCouchConflict(err) {
			return nil, ErrCodeNotRedeemable
		}
		return nil, fmt.Errorf("failed to mark migration code used: %w", err)
	}

	redeemed := doc.MigrationCode
	return &redeemed, nil
}

// PurgeExpired deletes expired codes a page at a time. A page in which
// nothing could be deleted ends the run, so rows that keep conflicting do not
// spin it forever.
func (r *migrationCodeRepository) PurgeExpired(ctx context.Context, before time.Time) (int, error) {
	purged := 0
	for {
		expired, err := r.expiredPage(ctx, before)
		if err != nil {
			return purged, err
		}

		deleted := 0
		for _, h := range expired {
			if _, err := r.db.Delete(ctx, h.ID, h.Rev); err != nil {
				if isCouchNotFound(err) || isCouchConflict(err) {
					continue
				}
				return purged, fmt.Errorf("failed to delete migration code: %w", err)
			}
			deleted++
		}
		purged += deleted

		if len(expired) < purgePageSize || deleted == 0 {
			return purged, nil
		}
	}
}

type couchDocHead struct {
	ID  string `json:"_id"`
	Rev string `json:"_rev"`
}

const purgePageSize = 200

func (r *migrationCodeRepository) expiredPage(ctx context.Context, before time.Time) ([]couchDocHead, error) {
	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"type":            "migration_code",
			"expires_at_unix": map[string]interface{}{"$lt": before.Unix()},
		},
		"fields":    []string{"_id", "_rev"},
		"limit":     purgePageSize,
		"use_index": []string{couchDesignDoc, codeExpiryIndexName},
	}

	rows := r.db.Find(ctx, query)
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query expired migration codes: %w", err)
	}
	defer rows.Close()

	var expired []couchDocHead
	for rows.Next() {
		var h couchDocHead
		if err := rows.ScanDoc(&h); err != nil {
			continue
		}
		expired = append(expired, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read expired migration codes: %w", err)
	}
	return expired, nil
}
