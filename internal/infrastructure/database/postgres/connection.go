package postgres

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	pgmigrate "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Connection owns the account database pool and its schema
type Connection struct {
	DB  *sqlx.DB
	log *slog.Logger
}

// NewConnection opens a pool from a lib/pq DSN and checks it answers
func NewConnection(ctx context.Context, dsn string) (*Connection, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Connection{DB: db, log: slog.Default().With(slog.String("component", "postgres"))}, nil
}

func (c *Connection) Close() error {
	return c.DB.Close()
}

// HealthCheck implements repositories.HealthChecker
func (c *Connection) HealthCheck(ctx context.Context) error {
	if err := c.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}
	return nil
}

// withMigrator runs fn against the "postgres" directory of migrationFS
func (c *Connection) withMigrator(migrationFS fs.FS, fn func(*migrate.Migrate) error) error {
	dir, err := fs.Sub(migrationFS, "postgres")
	if err != nil {
		return fmt.Errorf("failed to open postgres migrations: %w", err)
	}
	source, err := iofs.New(dir, ".")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}
	defer source.Close()

	driver, err := pgmigrate.WithInstance(c.DB.DB, &pgmigrate.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	return fn(m)
}

// RunMigrations applies pending migrations. A dirty state left by a crashed run
// is cleared first: back to zero on an empty schema, otherwise pinned at the
// recorded version.
func (c *Connection) RunMigrations(migrationFS fs.FS) error {
	return c.withMigrator(migrationFS, func(m *migrate.Migrate) error {
		version, dirty, err := m.Version()
		if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
			return fmt.Errorf("failed to read migration version: %w", err)
		}

		if dirty {
			target := int(version)
			if c.schemaEmpty() {
				target = 0
			}
			c.log.Warn("migration state is dirty, forcing version", "version", version, "forced_to", target)
			if err := m.Force(target); err != nil {
				return fmt.Errorf("failed to clear dirty migration %d: %w", version, err)
			}
		}

		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("failed to run migrations: %w", err)
		}

		version, _, _ = m.Version()
		c.log.Info("database migrations applied", "version", version)
		return nil
	})
}

func (c *Connection) schemaEmpty() bool {
	var n int
	err := c.DB.Get(&n, `SELECT COUNT(*) FROM information_schema.tables
		WHERE table_schema = 'public' AND table_name <> 'schema_migrations'`)
	return err == nil && n == 0
}

// ForceMigrationVersion records version as applied and clean without running anything
func (c *Connection) ForceMigrationVersion(migrationFS fs.FS, version int) error {
	return c.withMigrator(migrationFS, func(m *migrate.Migrate) error {
		if err := m.Force(version); err != nil {
			return fmt.Errorf("failed to force migration version %d: %w", version, err)
		}
		return nil
	})
}
