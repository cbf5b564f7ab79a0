package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
)

// MigrationsTable is the bookkeeping table golang-migrate writes to.
const MigrationsTable = "schema_migrations"

// Migrator applies the SQL files under migrations/ with golang-migrate.
type Migrator struct {
	migrate *migrate.Migrate
	sqlDB   *sql.DB
	logger  zerolog.Logger
}

// NewMigrator opens a lib/pq connection to dsn and prepares migrations from migrationsPath.
func NewMigrator(dsn, migrationsPath string, logger zerolog.Logger) (*Migrator, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	if err := checkMigrationsPath(migrationsPath); err != nil {
		return nil, err
	}

	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open migration connection: %w", err)
	}

	m, err := newMigrateFromDB(sqlDB, migrationsPath)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	return &Migrator{migrate: m, sqlDB: sqlDB, logger: logger}, nil
}

// NewMigratorFromDB builds a Migrator on an already opened *sql.DB. The
// caller keeps ownership of sqlDB; Close does not close it.
func NewMigratorFromDB(sqlDB *sql.DB, migrationsPath string, logger zerolog.Logger) (*Migrator, error) {
	if sqlDB == nil {
		return nil, fmt.Errorf("database is required")
	}
	if err := checkMigrationsPath(migrationsPath); err != nil {
		return nil, err
	}
	m, err := newMigrateFromDB(sqlDB, migrationsPath)
	if err != nil {
		return nil, err
	}
	return &Migrator{migrate: m, logger: logger}, nil
}

func checkMigrationsPath(path string) error {
	if path == "" {
		return fmt.Errorf("migrations path is required")
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("migrations path validation failed: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("migrations path validation failed: %s is not a directory", path)
	}
	return nil
}

func newMigrateFromDB(sqlDB *sql.DB, migrationsPath string) (*migrate.Migrate, error) {
	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{MigrationsTable: MigrationsTable})
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+migrationsPath, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	return m, nil
}

// Up applies every pending migration. Having nothing to apply is not an error.
func (m *Migrator) Up() error {
	m.logger.Info().Msg("applying migrations")
	if err := ignoreNoChange(m.migrate.Up()); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	m.logUpdatedVersion()
	return nil
}

// Down rolls back every migration.
func (m *Migrator) Down() error {
	m.logger.Warn().Msg("rolling back all migrations")
	if err := ignoreNoChange(m.migrate.Down()); err != nil {
		return fmt.Errorf("failed to roll back migrations: %w", err)
	}
	return nil
}

// Steps applies n migrations; negative n rolls back.
func (m *Migrator) Steps(n int) error {
	m.logger.Info().Int("steps", n).Msg("running migration steps")
	err := m.migrate.Steps(n)
	if errors.Is(err, os.ErrNotExist) {
		// golang-migrate reports stepping past the last file as a missing file.
		err = nil
	}
	if err := ignoreNoChange(err); err != nil {
		return fmt.Errorf("failed to run migration steps: %w", err)
	}
	m.logUpdatedVersion()
	return nil
}

// Version returns the current migration version and whether it is dirty.
func (m *Migrator) Version() (uint, bool, error) {
	v, dirty, err := m.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

// Force sets the recorded version without running anything.
func (m *Migrator) Force(version int) error {
	m.logger.Warn().Int("version", version).Msg("forcing migration version")
	return m.migrate.Force(version)
}

// Close releases the migration source and database handles.
func (m *Migrator) Close() error {
	sourceErr, dbErr := m.migrate.Close()
	if m.sqlDB != nil {
		if err := m.sqlDB.Close(); err != nil && dbErr == nil {
			dbErr = err
		}
	}
	return errors.Join(wrapIf("close source", sourceErr), wrapIf("close database", dbErr))
}

func (m *Migrator) logUpdatedVersion() {
	v, dirty, err := m.Version()
	if err != nil {
		m.logger.Warn().Err(err).Msg("could not read migration version")
		return
	}
	m.logger.Info().Uint("version", v).Bool("dirty", dirty).Msg("migrations at version")
}

func ignoreNoChange(err error) error {
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}

func wrapIf(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}
