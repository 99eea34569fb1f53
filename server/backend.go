package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/devilmonastery/parley/internal/config"
	"github.com/devilmonastery/parley/internal/domain/repositories"
	"github.com/devilmonastery/parley/internal/identity"
	"github.com/devilmonastery/parley/internal/infrastructure/database/memory"
	"github.com/devilmonastery/parley/internal/infrastructure/database/postgres"
	"github.com/devilmonastery/parley/migrations"
)

// backend is the storage selected by database.driver
type backend struct {
	accounts identity.UnitOfWork
	repos    *repositories.Repositories
	health   repositories.HealthChecker
	close    func() error
}

// openBackend connects the configured store. For postgres it applies pending migrations.
func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	logger := slog.Default().With("component", "storage")

	if cfg.Database.Driver == config.DriverMemory {
		logger.Warn("using in-memory store, accounts are lost on restart")
		store := memory.NewStore()
		return &backend{
			accounts: store,
			repos:    store.Repositories(),
			health:   store,
			close:    func() error { return nil },
		}, nil
	}

	pgConn, err := connectPostgres(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	if err := pgConn.RunMigrations(migrations.FS); err != nil {
		pgConn.Close()
		return nil, fmt.Errorf("failed to run PostgreSQL migrations: %w", err)
	}

	return &backend{
		accounts: postgres.NewAccountStore(pgConn.DB),
		repos: &repositories.Repositories{
			Users:      postgres.NewUserRepository(pgConn.DB),
			Identities: postgres.NewIdentityRepository(pgConn.DB),
			Audit:      postgres.NewAuditRepository(pgConn.DB),
		},
		health: pgConn,
		close:  pgConn.Close,
	}, nil
}

// connectPostgres connects with exponential backoff so the server can start before the database
func connectPostgres(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*postgres.Connection, error) {
	logger.Info("connecting to PostgreSQL",
		"user", cfg.Database.Postgres.User,
		"host", cfg.Database.Postgres.Host,
		"database", cfg.Database.Postgres.Database)

	connString := cfg.Database.Postgres.ConnectionString()
	maxRetries := 10
	retryDelay := 2 * time.Second

	for i := 0; ; i++ {
		pgConn, err := postgres.NewConnection(ctx, connString)
		if err == nil {
			logger.Info("connected to PostgreSQL")
			return pgConn, nil
		}
		if i == maxRetries-1 {
			return nil, fmt.Errorf("failed to connect to PostgreSQL after %d attempts: %w", maxRetries, err)
		}

		logger.Warn("failed to connect to PostgreSQL",
			"attempt", i+1,
			"max_retries", maxRetries,
			"error", err,
			"retry_delay", retryDelay)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryDelay):
		}
		retryDelay *= 2
		if retryDelay > 30*time.Second {
			retryDelay = 30 * time.Second
		}
	}
}
