package database

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Latest is the highest embedded migration version
const Latest uint = 5

// Migrator applies the embedded hookgate schema
type Migrator struct {
	m *migrate.Migrate
}

// NewMigrator binds the embedded migrations to db. The version table is
// named after the service so it can share a database with other schemas.
func NewMigrator(db *sql.DB, dbName string) (*Migrator, error) {
	driver, err := postgres.WithInstance(db, &postgres.Config{
		DatabaseName:    dbName,
		MigrationsTable: "hookgate_schema_migrations",
	})
	if err != nil {
		return nil, fmt.Errorf("create postgres driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, dbName, driver)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}

	return &Migrator{m: m}, nil
}

// Up applies every pending migration. An already current schema is not an error.
func (m *Migrator) Up() error {
	if err := m.m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Steps applies n migrations, negative n rolls back
func (m *Migrator) Steps(n int) error {
	if err := m.m.Steps(n); err != nil {
		return fmt.Errorf("migrate %d steps: %w", n, err)
	}
	return nil
}

// Down rolls back the last migration
func (m *Migrator) Down() error {
	return m.Steps(-1)
}

// Status describes the schema relative to the embedded migrations
type Status struct {
	Version uint
	Dirty   bool
	Pending uint
}

// Current reports whether the schema is clean and at Latest
func (s Status) Current() bool {
	return !s.Dirty && s.Pending == 0
}

func (s Status) String() string {
	switch {
	case s.Dirty:
		return fmt.Sprintf("version %d (dirty, migration incomplete)", s.Version)
	case s.Pending > 0:
		return fmt.Sprintf("version %d of %d (%d pending)", s.Version, Latest, s.Pending)
	default:
		return fmt.Sprintf("version %d of %d", s.Version, Latest)
	}
}

// Status returns the applied version and the number of pending migrations.
// A version of 0 means no migration has run.
func (m *Migrator) Status() (Status, error) {
	version, dirty, err := m.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return Status{Pending: Latest}, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("get version: %w", err)
	}

	st := Status{Version: version, Dirty: dirty}
	if version < Latest {
		st.Pending = Latest - version
	}
	return st, nil
}

// Version returns the applied version
func (m *Migrator) Version() (uint, bool, error) {
	st, err := m.Status()
	return st.Version, st.Dirty, err
}

// Force sets the migration version without running migrations. It is
// the way out of a dirty state.
func (m *Migrator) Force(version int) error {
	if err := m.m.Force(version); err != nil {
		return fmt.Errorf("force version: %w", err)
	}
	return nil
}

func (m *Migrator) Close() error {
	srcErr, dbErr := m.m.Close()
	return errors.Join(srcErr, dbErr)
}
