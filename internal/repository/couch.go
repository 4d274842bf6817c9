package repository

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-kivik/kivik/v4"
)

const couchUpsertAttempts = 3

const (
	couchDesignDoc      = "statebridge"
	historyIndexName    = "history-by-identity"
	codeExpiryIndexName = "codes-by-expiry"
)

// couchIndexes back the Mango queries. CreateIndex is idempotent.
var couchIndexes = []struct {
	name   string
	fields []string
}{
	{name: historyIndexName, fields: []string{"type", "identity_id", "migrated_at_unix_nano"}},
	{name: codeExpiryIndexName, fields: []string{"type", "expires_at_unix"}},
}

func ensureCouchIndexes(ctx context.Context, db *kivik.DB) error {
	for _, index := range couchIndexes {
		err := db.CreateIndex(ctx, couchDesignDoc, index.name, map[string]interface{}{
			"fields": index.fields,
		})
		if err != nil {
			return fmt.Errorf("failed to create index %s: %w", index.name, err)
		}
	}
	return nil
}

// couchCurrentRev returns the revision of docID, or "" when it does not exist.
func couchCurrentRev(ctx context.Context, db *kivik.DB, docID string) (string, error) {
	var head struct {
		Rev string `json:"_rev"`
	}
	if err := db.Get(ctx, docID).ScanDoc(&head); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return "", nil
		}
		return "", err
	}
	return head.Rev, nil
}

// couchUpsert writes a document built by build(rev), retrying when another
// writer bumped the revision in between. Last writer wins.
func couchUpsert(ctx context.Context, db *kivik.DB, docID string, build func(rev string) any) error {
	var lastErr error
	for attempt := 0; attempt < couchUpsertAttempts; attempt++ {
		rev, err := couchCurrentRev(ctx, db, docID)
		if err != nil {
			return err
		}
		_, err = db.Put(ctx, docID, build(rev))
		if err == nil {
			return nil
		}
		if kivik.HTTPStatus(err) != http.StatusConflict {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("upsert %s: %w", docID, lastErr)
}

func isCouchNotFound(err error) bool {
	return err != nil && kivik.HTTPStatus(err) == http.StatusNotFound
}

func isCouchConflict(err error) bool {
	return err != nil && kivik.HTTPStatus(err) == http.StatusConflict
}
