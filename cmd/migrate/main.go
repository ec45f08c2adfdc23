// migrate applies the run store schema. Migrations are embedded in the binary;
// -path reads them from a directory instead.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/liamcoop/fairscore/internal/logger"
	"github.com/liamcoop/fairscore/migrations"
)

func main() {
	var databaseURL string
	var migrationsPath string
	var command string

	flag.StringVar(&databaseURL, "database", "", "Database URL (defaults to DATABASE_URL)")
	flag.StringVar(&migrationsPath, "path", "", "Read migrations from this directory instead of the embedded set")
	flag.StringVar(&command, "command", "up", "Migration command: up, down, version, force")
	flag.Parse()

	if _, err := logger.Setup(context.Background(), logger.FromEnv("fairscore-migrate")); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		logger.Fatal("Database URL is required. Use -database flag or DATABASE_URL environment variable")
	}

	m, err := open(databaseURL, migrationsPath)
	if err != nil {
		logger.Fatal("Failed to create migration instance", "error", err)
	}
	defer m.Close()

	if err := execute(m, command, flag.Args()); err != nil {
		logger.Fatal("Migration failed", "command", command, "error", err)
	}
}

func open(databaseURL, path string) (*migrate.Migrate, error) {
	if path == "" {
		logger.Logger.Info("Using embedded migrations")
		return migrations.New(databaseURL)
	}
	logger.Logger.Info("Using migrations from directory", "path", path)
	return migrate.New("file://"+path, databaseURL)
}

func execute(m *migrate.Migrate, command string, args []string) error {
	log := logger.Logger

	switch command {
	case "up":
		err := m.Up()
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info("No migrations to run (database is up to date)")
			return nil
		}
		if err != nil {
			return err
		}
		log.Info("Migrations completed")

	case "down":
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return err
		}
		log.Info("Rollback completed")

	case "version":
		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			log.Info("No migrations applied")
			return nil
		}
		if err != nil {
			return err
		}
		log.Info("Current version", "version", version, "dirty", dirty)

	case "force":
		if len(args) < 1 {
			return fmt.Errorf("force requires a version number: -command force <version>")
		}
		version, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid version number: %w", err)
		}
		if err := m.Force(version); err != nil {
			return err
		}
		log.Info("Forced version", "version", version)

	default:
		return fmt.Errorf("unknown command: %s (use: up, down, version, force)", command)
	}
	return nil
}
