package db

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

// Migrate applies every pending up migration for the driver's dialect.
// The migrate instance is not closed: closing it would close db.
func Migrate(db *sql.DB, driver Driver) error {
	m, err := newMigrate(db, driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("db: migrate up: %w", err)
	}
	return nil
}

// SchemaVersion reports the applied migration version.
func SchemaVersion(db *sql.DB, driver Driver) (uint, bool, error) {
	m, err := newMigrate(db, driver)
	if err != nil {
		return 0, false, err
	}
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

func newMigrate(db *sql.DB, driver Driver) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations/"+string(driver))
	if err != nil {
		return nil, fmt.Errorf("db: migration source: %w", err)
	}

	var target database.Driver
	switch driver {
	case DriverSQLite:
		target, err = sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
	case DriverPostgres:
		target, err = pgxmigrate.WithInstance(db, &pgxmigrate.Config{})
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("db: migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, string(driver), target)
	if err != nil {
		return nil, fmt.Errorf("db: migrate: %w", err)
	}
	return m, nil
}
