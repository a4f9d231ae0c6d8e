package store

import (
	"database/sql"
	"embed"
	stderrors "errors"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"recurring-billing-service/pkg/errors"
	"recurring-billing-service/pkg/logger"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

// MigrateDirection selects which way Migrate moves the schema.
type MigrateDirection string

const (
	MigrateUp   MigrateDirection = "up"
	MigrateDown MigrateDirection = "down"
)

// Migrate applies the embedded migrations for the configured dialect and
// returns the resulting schema version. It uses its own connection, which is
// closed before returning.
func Migrate(config *Config, direction MigrateDirection) (uint, error) {
	if err := config.Validate(); err != nil {
		return 0, err
	}

	db, err := sql.Open(string(config.Driver), config.dataSource())
	if err != nil {
		return 0, errors.StorageError("open migration connection", err)
	}

	m, version, err := applyMigrations(db, config.Driver, direction)
	if m != nil {
		_, _ = m.Close()
	} else {
		_ = db.Close()
	}
	return version, err
}

// applyMigrations runs the embedded migrations on db. The returned Migrate
// wraps db; closing it closes db as well.
func applyMigrations(db *sql.DB, dialect Dialect, direction MigrateDirection) (*migrate.Migrate, uint, error) {
	log := logger.GetGlobalLogger().WithComponent("migrate").WithField("driver", string(dialect))

	dir := "migrations/sqlite"
	if dialect == DialectPostgres {
		dir = "migrations/postgres"
	}
	source, err := iofs.New(migrationsFS, dir)
	if err != nil {
		return nil, 0, errors.InternalError("load migrations", err)
	}

	var driver database.Driver
	if dialect == DialectPostgres {
		driver, err = postgres.WithInstance(db, &postgres.Config{})
	} else {
		driver, err = sqlite3.WithInstance(db, &sqlite3.Config{})
	}
	if err != nil {
		return nil, 0, errors.StorageError("prepare migration driver", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, string(dialect), driver)
	if err != nil {
		return nil, 0, errors.StorageError("prepare migrations", err)
	}

	switch direction {
	case MigrateDown:
		err = m.Down()
	default:
		err = m.Up()
	}
	if err != nil && !stderrors.Is(err, migrate.ErrNoChange) {
		return m, 0, errors.StorageError("apply migrations", err)
	}

	version, _, verr := m.Version()
	if verr != nil && !stderrors.Is(verr, migrate.ErrNilVersion) {
		return m, 0, errors.StorageError("read schema version", verr)
	}

	log.WithFields(logger.Fields{
		"direction": string(direction),
		"version":   version,
	}).Debug("Migrations applied")

	return m, version, nil
}
