// internal/checkpoint/open.go
package checkpoint

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/config"
)

// Open builds the repository selected by cfg.Driver. The returned close
// function releases any database handle.
func Open(ctx context.Context, cfg config.CheckpointConfig, db config.DatabaseConfig, logger *zap.Logger) (Repository, func(), error) {
	switch cfg.Driver {
	case "", "file":
		r, err := NewFileRepository(cfg.Path, logger)
		return r, func() {}, err
	case "sqlite":
		r, err := NewSQLiteRepository(filepath.Join(cfg.Path, "checkpoints.db"), logger)
		if err != nil {
			return nil, nil, err
		}
		return r, func() { _ = r.Close() }, nil
	case "postgres":
		if db.URL == "" {
			return nil, nil, fmt.Errorf("checkpoint driver postgres needs database.url")
		}
		pool, err := pgxpool.New(ctx, db.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create database pool: %w", err)
		}
		r, err := NewPostgresRepository(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return r, pool.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown checkpoint driver %q", cfg.Driver)
}
