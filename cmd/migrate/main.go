// Package main provides the schema migration CLI for the review pipeline database.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/happynocode/app-review-analysis/internal/config"
	"github.com/happynocode/app-review-analysis/internal/database"
	"github.com/happynocode/app-review-analysis/internal/observability"
)

type action struct {
	name  string
	steps int
	force int
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	up := flag.Bool("up", false, "Apply all pending migrations")
	down := flag.Bool("down", false, "Roll back all migrations")
	steps := flag.Int("steps", 0, "Apply N steps (positive=up, negative=down)")
	version := flag.Bool("version", false, "Print the current schema version")
	force := flag.Int("force", -1, "Force the schema version after a failed migration")
	migrationsPath := flag.String("path", "", "Override the migrations directory")
	flag.Parse()

	act, err := parseAction(*up, *down, *steps, *version, *force)
	if err != nil {
		flag.Usage()
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      "info",
		Format:     "console",
		Output:     "stdout",
		TimeFormat: time.RFC3339,
	})
	logger = logger.With().Str("component", "migrate").Logger()

	dir := cfg.Database.MigrationPath
	if *migrationsPath != "" {
		dir = *migrationsPath
	}

	migrator, err := database.NewMigrator(cfg.Database.DSN(), dir, logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("failed to close migrator")
		}
	}()

	if err := apply(migrator, act, logger); err != nil {
		return err
	}
	logVersion(migrator, logger)
	return nil
}

// parseAction requires exactly one of the action flags.
func parseAction(up, down bool, steps int, version bool, force int) (action, error) {
	var chosen []action
	if up {
		chosen = append(chosen, action{name: "up"})
	}
	if down {
		chosen = append(chosen, action{name: "down"})
	}
	if steps != 0 {
		chosen = append(chosen, action{name: "steps", steps: steps})
	}
	if version {
		chosen = append(chosen, action{name: "version"})
	}
	if force >= 0 {
		chosen = append(chosen, action{name: "force", force: force})
	}

	switch len(chosen) {
	case 0:
		return action{}, errors.New("no action specified: use one of -up, -down, -steps N, -version, -force V")
	case 1:
		return chosen[0], nil
	default:
		return action{}, errors.New("specify only one action at a time")
	}
}

func apply(m *database.Migrator, act action, logger zerolog.Logger) error {
	switch act.name {
	case "up":
		logger.Info().Msg("applying pending migrations")
		return wrap("migrate up", m.Up())
	case "down":
		logger.Warn().Msg("rolling back all migrations")
		return wrap("migrate down", m.Down())
	case "steps":
		logger.Info().Int("steps", act.steps).Msg("applying migration steps")
		return wrap("migrate steps", m.Steps(act.steps))
	case "force":
		logger.Warn().Int("version", act.force).Msg("forcing schema version")
		return wrap("force version", m.Force(act.force))
	default:
		return nil
	}
}

func wrap(op string, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func logVersion(m *database.Migrator, logger zerolog.Logger) {
	v, dirty, err := m.Version()
	if err != nil {
		logger.Warn().Err(err).Msg("could not determine schema version")
		return
	}
	logger.Info().Uint("version", v).Bool("dirty", dirty).Msg("current schema version")
}
