package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/stockpulse/backend/pkg/config"
	"github.com/stockpulse/backend/pkg/logger"
	"github.com/stockpulse/backend/pkg/retry"
)

// Open connects to the operational store and waits for it to answer a ping.
func Open(ctx context.Context, cfg config.PostgresConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(30 * time.Minute)

	retryCfg := retry.DefaultConfig()
	retryCfg.Logger = logger.Log
	err = retry.Do(ctx, retryCfg, "postgres ping", func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			if isAuthFailure(err) {
				return retry.Permanent(err)
			}
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to operational store: %w", err)
	}

	logger.Info("PostgreSQL client initialized",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database),
	)

	return db, nil
}

// isAuthFailure reports SQLSTATE class 28 (invalid authorization) and 3D
// (unknown database). Neither clears up on retry.
func isAuthFailure(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	class := pqErr.Code.Class()
	return class == "28" || class == "3D"
}
