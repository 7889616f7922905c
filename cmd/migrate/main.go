// Command migrate applies schema migrations against the configured database.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/ringflow/call-auction-backend/internal/infrastructure/config"
	"github.com/ringflow/call-auction-backend/internal/infrastructure/telemetry"
)

func main() {
	var (
		action = flag.String("action", "up", "Migration action: up, down, version, force")
		steps  = flag.Int("steps", 0, "Number of steps for down (0 rolls back one migration)")
		target = flag.Int("target", -1, "Target version for force")
		dir    = flag.String("dir", "migrations", "Directory containing migration files")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := telemetry.SetupLogger(cfg.LogLevel, cfg.Environment)
	slog.SetDefault(logger)

	m, err := migrate.New("file://"+*dir, cfg.Database.URL)
	if err != nil {
		logger.Error("open migrator", "error", err)
		os.Exit(1)
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			logger.Warn("close migrator", "source_error", srcErr, "db_error", dbErr)
		}
	}()

	if err := runAction(m, logger, *action, *steps, *target); err != nil {
		logger.Error("migration failed", "action", *action, "error", err)
		os.Exit(1)
	}
}

func runAction(m *migrate.Migrate, logger *slog.Logger, action string, steps, target int) error {
	switch action {
	case "up":
		if err := m.Up(); err != nil {
			if errors.Is(err, migrate.ErrNoChange) {
				logger.Info("schema already up to date")
				return nil
			}
			return err
		}
		logger.Info("migrations applied")
	case "down":
		n := steps
		if n <= 0 {
			n = 1
		}
		if err := m.Steps(-n); err != nil {
			return err
		}
		logger.Info("migrations rolled back", "steps", n)
	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			if errors.Is(err, migrate.ErrNilVersion) {
				logger.Info("no migrations applied yet")
				return nil
			}
			return err
		}
		logger.Info("schema version", "version", version, "dirty", dirty)
	case "force":
		if target < 0 {
			return fmt.Errorf("force requires -target")
		}
		if err := m.Force(target); err != nil {
			return err
		}
		logger.Info("schema version forced", "version", target)
	default:
		return fmt.Errorf("unknown action %q", action)
	}
	return nil
}
