package repository

import (
	"context"
	"fmt"
	"time"

	"statebridge/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

type couchConfigDoc struct {
	ID   string `json:"_id"`
	Rev  string `json:"_rev,omitempty"`
	Type string `json:"type"`
	domain.ConfigRecord
}

type configRepository struct {
	db *kivik.DB
}

func NewConfigRepository(db *kivik.DB) ConfigRepository {
	return &configRepository{db: db}
}

func (r *configRepository) Get(ctx context.Context, identityID string) (*domain.ConfigRecord, error) {
	docID := fmt.Sprintf("config:%s", identityID)
	var doc couchConfigDoc
	if err := r.db.Get(ctx, docID).ScanDoc(&doc); err != nil {
		if isCouchNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get config: %w", err)
	}

	if err := checkRecord("config", &doc.ConfigRecord); err != nil {
		return nil, err
	}

	return &doc.ConfigRecord, nil
}

func (r *configRepository) Upsert(ctx context.Context, record *domain.ConfigRecord) (*domain.ConfigRecord, error) {
	stored := *record
	stored.UpdatedAt = time.Now().UTC()
	if err := checkRecord("config", &stored); err != nil {
		return nil, err
	}

	docID := fmt.Sprintf("config:%s", record.IdentityID)
	err := couchUpsert(ctx, r.db, docID, func(rev string) any {
		return &couchConfigDoc{ID: docID, Rev: rev, Type: "config", ConfigRecord: stored}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert config: %w", err)
	}

	return &stored, nil
}
