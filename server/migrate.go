package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/devilmonastery/parley/internal/config"
	"github.com/devilmonastery/parley/migrations"
)

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	var forceVersion int

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long:  "Apply pending PostgreSQL migrations, or force the recorded version to recover from a dirty state",
		Example: `  # Apply pending migrations
  server migrate --config /etc/parley/config.yaml

  # Mark version 1 as clean after fixing a failed migration by hand
  server migrate --force-migration 1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd, opts.cfg, forceVersion)
		},
	}

	cmd.Flags().IntVar(&forceVersion, "force-migration", -1, "Force migration version (use to fix dirty migration state)")

	return cmd
}

func runMigrate(cmd *cobra.Command, cfg *config.Config, forceVersion int) error {
	if cfg.Database.Driver != config.DriverPostgres {
		return errors.New("migrations only apply to the postgres driver")
	}

	logger := slog.Default().With("component", "migrate")
	pgConn, err := connectPostgres(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer pgConn.Close()

	if forceVersion >= 0 {
		logger.Info("force setting migration version", "version", forceVersion)
		if err := pgConn.ForceMigrationVersion(migrations.FS, forceVersion); err != nil {
			return fmt.Errorf("failed to force migration version: %w", err)
		}
		logger.Info("migration version forced", "version", forceVersion)
		return nil
	}

	if err := pgConn.RunMigrations(migrations.FS); err != nil {
		return fmt.Errorf("failed to run PostgreSQL migrations: %w", err)
	}
	return nil
}
