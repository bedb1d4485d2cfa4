package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"aimw.dev/aimw/internal/config"
)

// Connect dials the durable Postgres mirror using cfg.DSN, applying the
// optimized pool tuning from DefaultPoolOptions when cfg does not override
// MaxConns/MinConns. Grounded in the teacher's NewPostgresDB (connect,
// ping-with-timeout, log outcome) collapsed onto this module's own
// PostgresConfig instead of the teacher's env-var-keyed Database section.
func Connect(ctx context.Context, cfg config.PostgresConfig, log *logrus.Entry) (*pgxpool.Pool, error) {
	if log == nil {
		log = logrus.WithField("component", "database")
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	opts := DefaultPoolOptions()
	if cfg.MaxConns > 0 {
		opts.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		opts.MinConns = int32(cfg.MinConns)
	}

	pool, err := NewOptimizedPool(ctx, cfg.DSN, opts)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.HealthCheck(pingCtx); err != nil {
		log.WithError(err).Warn("postgres ping failed after connect")
	} else {
		log.Info("connected to postgres")
	}

	return pool.Pool(), nil
}
