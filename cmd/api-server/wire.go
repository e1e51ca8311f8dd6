package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/hackgods/dental-unit-scheduling/internal/api"
	"github.com/hackgods/dental-unit-scheduling/internal/config"
	"github.com/hackgods/dental-unit-scheduling/internal/db"
	"github.com/hackgods/dental-unit-scheduling/internal/events"
	redisclient "github.com/hackgods/dental-unit-scheduling/internal/redis"
	"github.com/hackgods/dental-unit-scheduling/internal/scheduling"
)

// store bundles the repository the scheduler runs on with how to migrate,
// ping and close it.
type store struct {
	repo    scheduling.Repository
	health  []api.Dependency
	migrate func(ctx context.Context) (int, error)
	close   func()
}

func openStore(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*store, error) {
	poolOpts := db.PoolOptions{MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns}

	switch cfg.StoreDriver {
	case config.StorePgx:
		pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, poolOpts)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("postgres connection error: %w", err)
		}
		logger.Info().Msg("connected to Postgres")
		return &store{
			repo:    scheduling.NewPgRepository(pool),
			health:  []api.Dependency{{Name: "postgres", Ping: pool.Ping, Critical: true}},
			migrate: sqlMigrations(pool),
			close:   pool.Close,
		}, nil

	case config.StoreGormPostgres:
		gdb, err := db.OpenGormPostgres(cfg.PostgresDSN, poolOpts)
		if err != nil {
			return nil, fmt.Errorf("postgres connection error: %w", err)
		}
		// The gorm store shares the SQL migrations so both drivers see the
		// same schema.
		pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 2})
		cancel()
		if err != nil {
			closeGorm(gdb, logger)
			return nil, fmt.Errorf("postgres connection error: %w", err)
		}
		logger.Info().Msg("connected to Postgres (gorm)")
		return &store{
			repo:    scheduling.NewGormRepository(gdb),
			health:  []api.Dependency{{Name: "postgres", Ping: gormPing(gdb), Critical: true}},
			migrate: sqlMigrations(pool),
			close: func() {
				pool.Close()
				closeGorm(gdb, logger)
			},
		}, nil

	case config.StoreSQLite:
		gdb, err := db.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("path", cfg.SQLitePath).Msg("opened sqlite store")
		return &store{
			repo:   scheduling.NewGormRepository(gdb),
			health: []api.Dependency{{Name: "sqlite", Ping: gormPing(gdb), Critical: true}},
			migrate: func(context.Context) (int, error) {
				return 0, scheduling.AutoMigrate(gdb)
			},
			close: func() { closeGorm(gdb, logger) },
		}, nil
	}

	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

func sqlMigrations(pool *pgxpool.Pool) func(ctx context.Context) (int, error) {
	return func(ctx context.Context) (int, error) {
		return db.NewMigrator(pool).Up(ctx)
	}
}

func gormPing(gdb *gorm.DB) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		sqlDB, err := gdb.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}
}

func closeGorm(gdb *gorm.DB, logger zerolog.Logger) {
	sqlDB, err := gdb.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		logger.Warn().Err(err).Msg("error closing database")
	}
}

func openLocker(ctx context.Context, cfg config.Config) (redisclient.Locker, []api.Dependency, func(), error) {
	if cfg.LockBackend == config.LockNone {
		return redisclient.NewNoopLocker(), nil, func() {}, nil
	}

	rdb, err := redisclient.Connect(ctx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("redis connection error: %w", err)
	}

	deps := []api.Dependency{{
		Name: "redis",
		Ping: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	}}
	return redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL), deps, func() { _ = rdb.Close() }, nil
}

func openPublisher(ctx context.Context, cfg config.Config, logger zerolog.Logger) (events.Publisher, error) {
	switch cfg.EventsSink {
	case config.SinkKafka:
		return events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic), nil
	case config.SinkSQS:
		p, err := events.NewSQSPublisher(ctx, cfg.SQSQueueURL)
		if err != nil {
			return nil, fmt.Errorf("sqs sink: %w", err)
		}
		return p, nil
	case config.SinkLog:
		return events.NewLogPublisher(logger), nil
	}
	return events.Noop(), nil
}

func clinicGrid(cfg config.Config) (*scheduling.Grid, error) {
	opens, err := scheduling.ParseClock(cfg.ClinicOpen)
	if err != nil {
		return nil, fmt.Errorf("CLINIC_OPEN: %w", err)
	}
	closes, err := scheduling.ParseClock(cfg.ClinicClose)
	if err != nil {
		return nil, fmt.Errorf("CLINIC_CLOSE: %w", err)
	}
	return scheduling.NewGrid(opens, closes, time.Duration(cfg.SlotMinutes)*time.Minute)
}
