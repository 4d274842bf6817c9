package repository

import (
	"context"
	"fmt"
	"time"

	"statebridge/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

type couchStateDoc struct {
	ID   string `json:"_id"`
	Rev  string `json:"_rev,omitempty"`
	Type string `json:"type"`
	domain.StateRecord
}

type snapshotRepository struct {
	db *kivik.DB
}

func NewSnapshotRepository(db *kivik.DB) SnapshotRepository {
	return &snapshotRepository{db: db}
}

func (r *snapshotRepository) Get(ctx context.Context, identityID string) (*domain.StateRecord, error) {
	docID := fmt.Sprintf("state:%s", identityID)
	var doc couchStateDoc
	if err := r.db.Get(ctx, docID).ScanDoc(&doc); err != nil {
		if isCouchNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get project state: %w", err)
	}

	if err := checkRecord("project state", &doc.StateRecord); err != nil {
		return nil, err
	}

	return &doc.StateRecord, nil
}

func (r *snapshotRepository) Upsert(ctx context.Context, record *domain.StateRecord) error {
	stored := *record
	stored.UpdatedAt = time.Now().UTC()
	if err := checkRecord("project state", &stored); err != nil {
		return err
	}

	docID := fmt.Sprintf("state:%s", record.IdentityID)
	err := couchUpsert(ctx, r.db, docID, func(rev string) any {
		return &couchStateDoc{ID: docID, Rev: rev, Type: "state", StateRecord: stored}
	})
	if err != nil {
		return fmt.Errorf("failed to upsert project state: %w", err)
	}

	return nil
}
