package secrets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the subset of pgx connection behavior the repository needs,
// satisfied by *pgxpool.Pool and pgx.Tx alike.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

const getSecretSQL = `
SELECT secret, pending_secret, enabled, last_used_step, created_at, updated_at
FROM twofa_secrets
WHERE account_id = $1 AND provider = $2
`

const putSecretSQL = `
INSERT INTO twofa_secrets (account_id, provider, secret, pending_secret, enabled, last_used_step, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (account_id, provider) DO UPDATE SET
    secret = EXCLUDED.secret,
    pending_secret = EXCLUDED.pending_secret,
    enabled = EXCLUDED.enabled,
    last_used_step = EXCLUDED.last_used_step,
    updated_at = EXCLUDED.updated_at
`

const deleteSecretSQL = `
DELETE FROM twofa_secrets
WHERE account_id = $1 AND provider = $2
`

// PostgresSecretRepository implements SecretRepository using PostgreSQL.
// The backing table is keyed by (account_id, provider) with a unique
// index, so Put is an atomic per-key upsert.
type PostgresSecretRepository struct {
	db DBTX
}

// NewPostgresSecretRepository creates a PostgreSQL-based secret repository.
func NewPostgresSecretRepository(db DBTX) *PostgresSecretRepository {
	return &PostgresSecretRepository{db: db}
}

func (r *PostgresSecretRepository) Get(ctx context.Context, key Key) (SecretRecord, error) {
	record := SecretRecord{AccountID: key.AccountID, Provider: key.Provider}
	err := r.db.QueryRow(ctx, getSecretSQL, key.AccountID, key.Provider).Scan(
		&record.Secret,
		&record.PendingSecret,
		&record.Enabled,
		&record.LastUsedStep,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return SecretRecord{}, ErrRecordNotFound
	}
	if err != nil {
		return SecretRecord{}, fmt.Errorf("failed to get secret record: %w", err)
	}
	return record, nil
}

func (r *PostgresSecretRepository) Put(ctx context.Context, record SecretRecord) error {
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	_, err := r.db.Exec(ctx, putSecretSQL,
		record.AccountID,
		record.Provider,
		record.Secret,
		record.PendingSecret,
		record.Enabled,
		record.LastUsedStep,
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert secret record: %w", err)
	}
	return nil
}

func (r *PostgresSecretRepository) Delete(ctx context.Context, key Key) error {
	_, err := r.db.Exec(ctx, deleteSecretSQL, key.AccountID, key.Provider)
	if err != nil {
		return fmt.Errorf("failed to delete secret record: %w", err)
	}
	return nil
}
