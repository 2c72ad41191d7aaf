package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"

	"github.com/carenest/authcore/internal/config"
	"github.com/carenest/authcore/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Run all pending migrations",
	RunE:  runMigrateUp,
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Rollback the last migration",
	RunE:  runMigrateDown,
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show migration status",
	RunE:  runMigrateStatus,
}

var migrateCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a new migration for every supported dialect",
	Args:  cobra.ExactArgs(1),
	RunE:  runMigrateCreate,
}

var migrationsDir string

func init() {
	migrateCreateCmd.Flags().StringVar(&migrationsDir, "dir", "internal/database/migrations", "migrations source directory")

	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateStatusCmd, migrateCreateCmd)
	rootCmd.AddCommand(migrateCmd)
}

func getMigrator() (*migrate.Migrate, *env, error) {
	e, err := loadEnv()
	if err != nil {
		return nil, nil, err
	}
	if err := e.openDB(); err != nil {
		return nil, nil, err
	}
	m, err := database.NewMigrator(e.db)
	if err != nil {
		e.Close()
		return nil, nil, err
	}
	return m, e, nil
}

func runMigrateUp(cmd *cobra.Command, args []string) error {
	m, e, err := getMigrator()
	if err != nil {
		return err
	}
	defer m.Close()

	e.log.Info().Str("driver", e.db.Driver()).Msg("running migrations...")
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}

	e.log.Info().Msg("migrations completed successfully")
	return nil
}

func runMigrateDown(cmd *cobra.Command, args []string) error {
	m, e, err := getMigrator()
	if err != nil {
		return err
	}
	defer m.Close()

	e.log.Info().Msg("rolling back last migration...")
	if err := m.Steps(-1); err != nil {
		return fmt.Errorf("rollback failed: %w", err)
	}

	e.log.Info().Msg("rollback completed successfully")
	return nil
}

func runMigrateStatus(cmd *cobra.Command, args []string) error {
	m, _, err := getMigrator()
	if err != nil {
		return err
	}
	defer m.Close()

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		fmt.Fprintln(cmd.OutOrStdout(), "No migrations have been applied")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get version: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Current version: %d\nDirty: %v\n", version, dirty)
	return nil
}

func runMigrateCreate(cmd *cobra.Command, args []string) error {
	name := strings.ToLower(strings.ReplaceAll(args[0], " ", "_"))

	for _, dialect := range []string{config.DriverPostgres, config.DriverSQLite} {
		dir := filepath.Join(migrationsDir, dialect)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create migrations directory: %w", err)
		}

		version, err := nextMigrationVersion(dir)
		if err != nil {
			return err
		}

		for _, direction := range []string{"up", "down"} {
			file := filepath.Join(dir, fmt.Sprintf("%06d_%s.%s.sql", version, name, direction))
			if err := os.WriteFile(file, []byte("-- "+direction+" migration\n"), 0o644); err != nil {
				return fmt.Errorf("failed to create migration: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Created", file)
		}
	}
	return nil
}

func nextMigrationVersion(dir string) (int, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.up.sql"))
	if err != nil {
		return 0, fmt.Errorf("failed to read migrations directory: %w", err)
	}
	return len(matches) + 1, nil
}
