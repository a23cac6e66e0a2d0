// internal/store/open.go
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/config"
)

// Open builds the execution log selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig, db config.DatabaseConfig, logger *zap.Logger) (Log, func(), error) {
	switch cfg.Driver {
	case "", "file":
		l, err := NewFileLog(cfg.Dir, cfg.HistoryLimit, logger)
		return l, func() {}, err
	case "postgres":
		pool, err := pgxpool.New(ctx, db.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create database pool: %w", err)
		}
		l, err := NewPostgresLog(ctx, pool, cfg.HistoryLimit, logger)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return l, pool.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}
