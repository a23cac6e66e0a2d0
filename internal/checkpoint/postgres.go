// internal/checkpoint/postgres.go
package checkpoint

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// DBPool is the subset of pgxpool.Pool the repository uses.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	pgCreateTable = `CREATE TABLE IF NOT EXISTS repair_checkpoints (
        key        TEXT PRIMARY KEY,
        payload    JSONB NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
    )`
	pgUpsert = `INSERT INTO repair_checkpoints (key, payload, updated_at)
        VALUES ($1, $2, now())
        ON CONFLICT (key) DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`
	pgSelect = `SELECT payload FROM repair_checkpoints WHERE key = $1`
	pgDelete = `DELETE FROM repair_checkpoints WHERE key = $1`
)

// PostgresRepository stores states in a shared PostgreSQL table.
type PostgresRepository struct {
	pool   DBPool
	logger *zap.Logger
}

// NewPostgresRepository verifies the connection and ensures the table exists.
func NewPostgresRepository(ctx context.Context, pool DBPool, logger *zap.Logger) (*PostgresRepository, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, pgCreateTable); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint table: %w", err)
	}
	return &PostgresRepository{pool: pool, logger: logger.Named("checkpoint.postgres")}, nil
}

func (r *PostgresRepository) Save(ctx context.Context, key string, state *ExecutionState) error {
	b, err := encode(key, state)
	if err != nil {
		return err
	}
	if _, err := r.pool.Exec(ctx, pgUpsert, key, string(b)); err != nil {
		return &SerializationError{Key: key, Err: err}
	}
	return nil
}

func (r *PostgresRepository) Load(ctx context.Context, key string) (*ExecutionState, error) {
	var payload []byte
	err := r.pool.QueryRow(ctx, pgSelect, key).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	s, err := decode(payload)
	if err != nil {
		r.logger.Warn("Ignoring unreadable checkpoint.", zap.String("key", key), zap.Error(err))
		return nil, nil
	}
	return s, nil
}

func (r *PostgresRepository) Clear(ctx context.Context, key string) error {
	if _, err := r.pool.Exec(ctx, pgDelete, key); err != nil {
		return fmt.Errorf("failed to clear checkpoint: %w", err)
	}
	return nil
}
