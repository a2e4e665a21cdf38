package main

import (
	"context"
	"log/slog"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
)

// deps are the connections a command opened. Close releases all of them.
type deps struct {
	pool  *pgxpool.Pool
	redis redis.UniversalClient
	mr    *miniredis.Miniredis
}

func openPostgres(ctx context.Context, cfg postgresConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, oops.Code("CONFIG_INVALID").Errorf("postgres.dsn is required")
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "ping database").Wrap(err)
	}
	return pool, nil
}

// openRedis connects to cfg.Addr, or to a fresh in-process server when
// cfg.Embedded is set.
func openRedis(ctx context.Context, cfg redisConfig, logger *slog.Logger) (redis.UniversalClient, *miniredis.Miniredis, error) {
	addr := cfg.Addr
	var mr *miniredis.Miniredis
	if cfg.Embedded {
		var err error
		if mr, err = miniredis.Run(); err != nil {
			return nil, nil, oops.Code("REDIS_CONNECT_FAILED").With("operation", "start embedded redis").Wrap(err)
		}
		addr = mr.Addr()
		logger.Warn("using embedded redis, state is lost on exit", "addr", addr)
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{addr},
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		if mr != nil {
			mr.Close()
		}
		return nil, nil, oops.Code("REDIS_CONNECT_FAILED").With("addr", addr).Wrap(err)
	}
	return client, mr, nil
}

func openDeps(ctx context.Context, cfg appConfig, logger *slog.Logger) (*deps, error) {
	pool, err := openPostgres(ctx, cfg.Postgres)
	if err != nil {
		return nil, err
	}
	client, mr, err := openRedis(ctx, cfg.Redis, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("connected to database and redis")
	return &deps{pool: pool, redis: client, mr: mr}, nil
}

func (d *deps) Close() {
	if d.redis != nil {
		_ = d.redis.Close()
	}
	if d.mr != nil {
		d.mr.Close()
	}
	if d.pool != nil {
		d.pool.Close()
	}
}
