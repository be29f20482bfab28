package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var schemaFiles embed.FS

// ErrDirtySchema means an earlier migration stopped halfway and the schema
// needs manual repair before finboard can open it.
var ErrDirtySchema = errors.New("schema is dirty")

// RunMigrations brings the finboard schema at dsn up to date.
func RunMigrations(dsn string) error {
	_, err := migrateUp(dsn)
	return err
}

// migrateUp applies pending migrations and returns the resulting schema
// version. It uses its own connection because closing the migrator closes
// the database handle it was given.
func migrateUp(dsn string) (uint, error) {
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return 0, fmt.Errorf("open schema connection: %w", err)
	}
	defer conn.Close()

	target, err := sqlite.WithInstance(conn, &sqlite.Config{})
	if err != nil {
		return 0, fmt.Errorf("sqlite migration target: %w", err)
	}
	files, err := iofs.New(schemaFiles, "migrations")
	if err != nil {
		return 0, fmt.Errorf("embedded schema files: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", files, "sqlite", target)
	if err != nil {
		return 0, fmt.Errorf("schema migrator: %w", err)
	}
	defer m.Close()

	if v, dirty, err := m.Version(); err == nil && dirty {
		return v, fmt.Errorf("version %d: %w", v, ErrDirtySchema)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("apply schema migrations: %w", err)
	}
	v, _, err := m.Version()
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}
