package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/alttext/internal/config"
)

func Connect(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.MaxIdleConns)
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// Open migrates and connects the store selected by the database URL scheme.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Store, error) {
	if cfg.Driver() == "sqlite" {
		return OpenSQLite(cfg.SQLitePath())
	}

	if err := RunMigrations(cfg.URL); err != nil {
		return nil, err
	}
	pool, err := Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewPostgresStore(pool), nil
}
