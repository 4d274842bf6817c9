package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"statebridge/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgUniqueViolation is the SQLSTATE for a duplicate key.
const pgUniqueViolation = "23505"

const postgresSchema = `
CREATE TABLE IF NOT EXISTS statebridge_configs (
	identity_id TEXT PRIMARY KEY,
	config JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS statebridge_project_states (
	identity_id TEXT PRIMARY KEY,
	state JSONB NOT NULL,
	platform JSONB NOT NULL,
	imported_from TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS statebridge_activity_logs (
	id TEXT PRIMARY KEY,
	identity_id TEXT NOT NULL,
	action TEXT NOT NULL,
	occurred_at TIMESTAMPTZ NOT NULL,
	metadata JSONB,
	route TEXT NOT NULL DEFAULT '',
	platform TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS statebridge_migration_codes (
	code TEXT PRIMARY KEY,
	identity_id TEXT NOT NULL,
	package_data JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	used BOOLEAN NOT NULL DEFAULT FALSE,
	used_at TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS statebridge_migration_history (
	id TEXT PRIMARY KEY,
	identity_id TEXT NOT NULL,
	source_platform TEXT NOT NULL,
	target_platform TEXT NOT NULL,
	migration_timestamp TIMESTAMPTZ NOT NULL,
	version TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS statebridge_migration_history_identity_idx
	ON statebridge_migration_history (identity_id, migration_timestamp DESC);
`

// OpenPostgresBackend connects a pgx pool and creates the tables if needed.
func OpenPostgresBackend(ctx context.Context, dsn string) (*Backend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	pg := &postgresRepos{pool: pool}
	return &Backend{
		Configs:   pgConfigs{pg},
		Snapshots: pgSnapshots{pg},
		Activity:  pgActivity{pg},
		Codes:     pgCodes{pg},
		History:   pgHistory{pg},
		closer: func() error {
			pool.Close()
			return nil
		},
	}, nil
}

type postgresRepos struct {
	pool *pgxpool.Pool
}

type pgConfigs struct{ *postgresRepos }

func (r pgConfigs) Get(ctx context.Context, identityID string) (*domain.ConfigRecord, error) {
	var record domain.ConfigRecord
	var payload []byte
	err := r.pool.QueryRow(ctx,
		`SELECT identity_id, config, updated_at FROM statebridge_configs WHERE identity_id = $1`,
		identityID,
	).Scan(&record.IdentityID, &payload, &record.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get config: %w", err)
	}
	if err := json.Unmarshal(payload, &record.Config); err != nil {
		return nil, fmt.Errorf("%w: config: %v", ErrMalformedRecord, err)
	}
	if err := checkRecord("config", &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (r pgConfigs) Upsert(ctx context.Context, record *domain.ConfigRecord) (*domain.ConfigRecord, error) {
	if err := checkRecord("config", record); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(record.Config)
	if err != nil {
		return nil, err
	}

	stored := *record
	err = r.pool.QueryRow(ctx, `
		INSERT INTO statebridge_configs (identity_id, config, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (identity_id)
		DO UPDATE SET config = EXCLUDED.config, updated_at = NOW()
		RETURNING updated_at`,
		record.IdentityID, payload,
	).Scan(&stored.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert config: %w", err)
	}
	return &stored, nil
}

type pgSnapshots struct{ *postgresRepos }

func (r pgSnapshots) Get(ctx context.Context, identityID string) (*domain.StateRecord, error) {
	var record domain.StateRecord
	var state, platform []byte
	err := r.pool.QueryRow(ctx, `
		SELECT identity_id, state, platform, imported_from, updated_at
		FROM statebridge_project_states WHERE identity_id = $1`,
		identityID,
	).Scan(&record.IdentityID, &state, &platform, &record.ImportedFrom, &record.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project state: %w", err)
	}
	record.State = state
	if err := json.Unmarshal(platform, &record.Platform); err != nil {
		return nil, fmt.Errorf("%w: project state platform: %v", ErrMalformedRecord, err)
	}
	if err := checkRecord("project state", &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (r pgSnapshots) Upsert(ctx context.Context, record *domain.StateRecord) error {
	if err := checkRecord("project state", record); err != nil {
		return err
	}
	platform, err := json.Marshal(record.Platform)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO statebridge_project_states (identity_id, state, platform, imported_from, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (identity_id) DO UPDATE SET
			state = EXCLUDED.state,
			platform = EXCLUDED.platform,
			imported_from = EXCLUDED.imported_from,
			updated_at = NOW()`,
		record.IdentityID, []byte(record.State), platform, record.ImportedFrom,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert project state: %w", err)
	}
	return nil
}

type pgActivity struct{ *postgresRepos }

func (r pgActivity) InsertBatch(ctx context.Context, entries []*domain.ActivityLogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, entry := range entries {
		if err := checkRecord("activity", entry); err != nil {
			return err
		}
		var metadata []byte
		if entry.Metadata != nil {
			data, err := json.Marshal(entry.Metadata)
			if err != nil {
				return err
			}
			metadata = data
		}
		batch.Queue(`
			INSERT INTO statebridge_activity_logs (id, identity_id, action, occurred_at, metadata, route, platform)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO NOTHING`,
			entry.ID, entry.IdentityID, entry.Action, entry.Timestamp, metadata, entry.Route, string(entry.Platform),
		)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin activity batch: %w", err)
	}
	defer tx.Rollback(ctx)

	results := tx.SendBatch(ctx, batch)
	for range entries {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("failed to insert activity batch: %w", err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("failed to insert activity batch: %w", err)
	}

	return tx.Commit(ctx)
}

type pgCodes struct{ *postgresRepos }

func (r pgCodes) Create(ctx context.Context, code *domain.MigrationCode) error {
	if err := checkRecord("migration code", code); err != nil {
		return err
	}
	payload, err := json.Marshal(code.PackageData)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO statebridge_migration_codes (code, identity_id, package_data, created_at, expires_at, used)
		VALUES ($1, $2, $3, $4, $5, FALSE)`,
		code.Code, code.IdentityID, payload, code.CreatedAt, code.ExpiresAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrCodeExists
		}
		return fmt.Errorf("failed to create migration code: %w", err)
	}
	return nil
}

// Redeem is a single conditional UPDATE; zero affected rows means the code is
// unknown, expired or already consumed.
func (r pgCodes) Redeem(ctx context.Context, code string, now time.Time) (*domain.MigrationCode, error) {
	redeemed := domain.MigrationCode{Code: code, Used: true}
	var payload []byte
	var usedAt time.Time
	err := r.pool.QueryRow(ctx, `
		UPDATE statebridge_migration_codes
		SET used = TRUE, used_at = $2
		WHERE code = $1 AND used = FALSE AND expires_at > $2
		RETURNING identity_id, package_data, created_at, expires_at, used_at`,
		code, now,
	).Scan(&redeemed.IdentityID, &payload, &redeemed.CreatedAt, &redeemed.ExpiresAt, &usedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCodeNotRedeemable
	}
	if err != nil {
		return nil, fmt.Errorf("failed to redeem migration code: %w", err)
	}
	redeemed.UsedAt = &usedAt
	if err := json.Unmarshal(payload, &redeemed.PackageData); err != nil {
		return nil, fmt.Errorf("%w: migration package: %v", ErrMalformedRecord, err)
	}
	return &redeemed, nil
}

func (r pgCodes) PurgeExpired(ctx context.Context, before time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM statebridge_migration_codes WHERE expires_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to purge migration codes: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

type pgHistory struct{ *postgresRepos }

func (r pgHistory) Append(ctx context.Context, record *domain.MigrationHistoryRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if err := checkRecord("migration history", record); err != nil {
		return err
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO statebridge_migration_history
			(id, identity_id, source_platform, target_platform, migration_timestamp, version)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		record.ID, record.IdentityID, string(record.SourcePlatform), string(record.TargetPlatform),
		record.MigrationTimestamp, record.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to append migration history: %w", err)
	}
	return nil
}

func (r pgHistory) ListRecent(ctx context.Context, identityID string, limit int) ([]*domain.MigrationHistoryRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, identity_id, source_platform, target_platform, migration_timestamp, version
		FROM statebridge_migration_history
		WHERE identity_id = $1
		ORDER BY migration_timestamp DESC
		LIMIT $2`,
		identityID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query migration history: %w", err)
	}
	defer rows.Close()

	var records []*domain.MigrationHistoryRecord
	for rows.Next() {
		var record domain.MigrationHistoryRecord
		var source, target string
		if err := rows.Scan(&record.ID, &record.IdentityID, &source, &target, &record.MigrationTimestamp, &record.Version); err != nil {
			return nil, fmt.Errorf("failed to scan migration history: %w", err)
		}
		record.SourcePlatform = domain.PlatformType(source)
		record.TargetPlatform = domain.PlatformType(target)
		records = append(records, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read migration history: %w", err)
	}
	return records, nil
}
