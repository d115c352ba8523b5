package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cloo-solutions/carecontext/internal/config"
	"github.com/cloo-solutions/carecontext/internal/logging"
)

func MigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back database migrations",
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigWithDatabase()
			if err != nil {
				return err
			}
			return runMigrations(cmd.Context(), cfg.DatabaseURL, cfg.MigrationsPath)
		},
	}

	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigWithDatabase()
			if err != nil {
				return err
			}
			return withMigrator(cfg.DatabaseURL, cfg.MigrationsPath, func(m *migrate.Migrate) error {
				if err := m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
					return fmt.Errorf("failed to roll back migration: %w", err)
				}
				return nil
			})
		},
	}

	version := &cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigWithDatabase()
			if err != nil {
				return err
			}
			return withMigrator(cfg.DatabaseURL, cfg.MigrationsPath, func(m *migrate.Migrate) error {
				v, dirty, err := m.Version()
				if errors.Is(err, migrate.ErrNilVersion) {
					fmt.Fprintln(cmd.OutOrStdout(), "no migrations applied")
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %t)\n", v, dirty)
				return nil
			})
		},
	}

	cmd.AddCommand(up, down, version)
	return cmd
}

func loadConfigWithDatabase() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("CARECONTEXT_DATABASE_URL is required")
	}
	return cfg, nil
}

func withMigrator(databaseURL, dir string, fn func(*migrate.Migrate) error) error {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve migrations path: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+filepath.ToSlash(abs), "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return fn(m)
}

func runMigrations(ctx context.Context, databaseURL, dir string) error {
	logger := logging.GetLogger(ctx)
	return withMigrator(databaseURL, dir, func(m *migrate.Migrate) error {
		err := m.Up()
		noChange := errors.Is(err, migrate.ErrNoChange)
		if err != nil && !noChange {
			return fmt.Errorf("failed to apply migrations: %w", err)
		}

		version, dirty, err := m.Version()
		if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
			return fmt.Errorf("failed to get migration version: %w", err)
		}
		switch {
		case errors.Is(err, migrate.ErrNilVersion):
			logger.Info("migrations: no migrations applied")
		case dirty:
			return fmt.Errorf("migration version %d is dirty - manual intervention required", version)
		case noChange:
			logger.Info("migrations: database is up to date", zap.Uint("version", version))
		default:
			logger.Info("migrations: applied successfully", zap.Uint("version", version))
		}
		return nil
	})
}
