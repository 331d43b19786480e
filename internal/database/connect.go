package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ms-engagements/internal/config"
	"ms-engagements/internal/logger"
)

const connectAttempts = 5

// Connect opens PostgreSQL through lib/pq and waits for it to answer a ping,
// retrying a few times while the database is still starting.
func Connect(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*bun.DB, error) {
	if cfg.DSN == "" {
		return nil, errors.New("POSTGRES_DSN not set")
	}

	sqldb, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.MaxLifetime)

	attempt := 0
	ping := func() error {
		attempt++
		log.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", attempt, connectAttempts))
		return sqldb.PingContext(ctx)
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(2*time.Second), connectAttempts-1), ctx)
	if err := backoff.Retry(ping, b); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("connect to postgres after %d attempts: %w", attempt, err)
	}

	log.Info("DATABASE", "PostgreSQL connection successful")
	return bun.NewDB(sqldb, pgdialect.New()), nil
}

func ConnectRedis(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection error: %w", err)
	}
	log.Info("DATABASE", fmt.Sprintf("Redis connection successful to %s (DB: %d)", cfg.Addr, cfg.DB))
	return client, nil
}
