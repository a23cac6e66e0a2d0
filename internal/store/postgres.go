// internal/store/postgres.go
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// DBPool abstracts pgxpool.Pool so tests can substitute pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const (
	sqlCreateLog = `CREATE TABLE IF NOT EXISTS execution_log (
        id         TEXT PRIMARY KEY,
        ts         TIMESTAMPTZ NOT NULL,
        target_url TEXT NOT NULL,
        template   TEXT NOT NULL DEFAULT '',
        version    TEXT NOT NULL DEFAULT '',
        summary    TEXT NOT NULL DEFAULT '',
        report     JSONB NOT NULL
    )`
	sqlInsertEntry = `INSERT INTO execution_log (id, ts, target_url, template, version, summary, report)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`
	sqlPruneLog = `DELETE FROM execution_log WHERE id NOT IN (
        SELECT id FROM execution_log ORDER BY ts DESC LIMIT $1)`
	sqlListLog = `SELECT id, ts, target_url, template, version, summary, report
        FROM execution_log ORDER BY ts DESC`
	sqlListLogLimit = sqlListLog + ` LIMIT $1`
)

// PostgresLog keeps the execution log in a shared table.
type PostgresLog struct {
	pool  DBPool
	limit int
	log   *zap.Logger
}

// NewPostgresLog verifies the connection and ensures the table exists.
func NewPostgresLog(ctx context.Context, pool DBPool, limit int, logger *zap.Logger) (*PostgresLog, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, sqlCreateLog); err != nil {
		return nil, fmt.Errorf("failed to create execution_log table: %w", err)
	}
	return &PostgresLog{pool: pool, limit: limit, log: logger.Named("store.postgres")}, nil
}

// Append inserts e and prunes the table to the limit in one transaction.
func (s *PostgresLog) Append(ctx context.Context, e *Entry) error {
	report, err := json.Marshal(e.Report)
	if err != nil {
		return writeError("failed to encode report", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rbErr))
		}
	}()

	if _, err := tx.Exec(ctx, sqlInsertEntry,
		e.ID, e.Timestamp.UTC(), e.Plan.TargetURL, e.Plan.TemplateName, e.Plan.TemplateVersion, e.Plan.Summary, string(report),
	); err != nil {
		return writeError("failed to insert log entry", err)
	}
	if s.limit > 0 {
		if _, err := tx.Exec(ctx, sqlPruneLog, s.limit); err != nil {
			return writeError("failed to prune execution log", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return writeError("failed to commit transaction", err)
	}
	return nil
}

// List returns up to limit entries, newest first. A non-positive limit falls
// back to the configured one; when that is not positive either, all entries
// are returned.
func (s *PostgresLog) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = s.limit
	}
	var (
		rows pgx.Rows
		err  error
	)
	if limit > 0 {
		rows, err = s.pool.Query(ctx, sqlListLogLimit, limit)
	} else {
		rows, err = s.pool.Query(ctx, sqlListLog)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query execution log: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e      Entry
			report []byte
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Plan.TargetURL, &e.Plan.TemplateName,
			&e.Plan.TemplateVersion, &e.Plan.Summary, &report); err != nil {
			return nil, fmt.Errorf("failed to scan log row: %w", err)
		}
		if err := json.Unmarshal(report, &e.Report); err != nil {
			s.log.Warn("Skipping log entry with unreadable report.", zap.String("id", e.ID), zap.Error(err))
			continue
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return entries, nil
}
