package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"recurring-billing-service/pkg/errors"
	"recurring-billing-service/pkg/logger"
)

// Dialect names a supported database/sql driver.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "postgres"
)

// Config holds database connection settings
type Config struct {
	Driver          Dialect       `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DefaultConfig returns a local sqlite database with migrations applied on open
func DefaultConfig() *Config {
	return &Config{
		Driver:          DialectSQLite,
		DSN:             "billing.db",
		MaxOpenConns:    10,
		ConnMaxLifetime: 5 * time.Minute,
		AutoMigrate:     true,
	}
}

// Validate validates the database configuration
func (c *Config) Validate() error {
	switch c.Driver {
	case DialectSQLite, DialectPostgres:
	default:
		return errors.ConfigurationError(errors.CodeInvalidConfig, "db.driver", c.Driver, nil).
			WithSuggestion("use 'sqlite3' or 'postgres'")
	}
	if strings.TrimSpace(c.DSN) == "" {
		return errors.ConfigurationError(errors.CodeMissingConfig, "db.dsn", c.DSN, nil)
	}
	if c.MaxOpenConns < 1 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "db.max_open_conns", c.MaxOpenConns, nil)
	}
	return nil
}

// inMemory reports whether the sqlite database lives only as long as its
// connection
func (c *Config) inMemory() bool {
	return c.Driver == DialectSQLite &&
		(c.DSN == ":memory:" || strings.HasPrefix(c.DSN, "file::memory:") || strings.Contains(c.DSN, "mode=memory"))
}

// dataSource returns the driver-specific connection string
func (c *Config) dataSource() string {
	if c.Driver != DialectSQLite || strings.HasPrefix(c.DSN, "file:") {
		return c.DSN
	}
	// immediate transactions take the write lock at BEGIN, so a concurrent
	// payment waits instead of reading a stale row
	return fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000&_txlock=immediate", c.DSN)
}

// SQLStore implements Store on database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	logger  logger.Logger
	now     func() time.Time
	newID   func() string
}

// Open connects to the configured database and, when AutoMigrate is set,
// applies pending migrations.
func Open(ctx context.Context, config *Config) (*SQLStore, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	log := logger.GetGlobalLogger().WithComponent("store").WithField("driver", string(config.Driver))

	// postgres migrates over a separate connection; sqlite migrates on the
	// pool itself so an in-memory schema survives
	if config.AutoMigrate && config.Driver == DialectPostgres {
		if _, err := Migrate(config, MigrateUp); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open(string(config.Driver), config.dataSource())
	if err != nil {
		return nil, errors.StorageError("open database", err)
	}

	if config.Driver == DialectSQLite {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(config.MaxOpenConns)
		db.SetMaxIdleConns(config.MaxOpenConns)
	}
	if config.inMemory() {
		// a recycled connection would come back with an empty database
		db.SetConnMaxLifetime(0)
		db.SetConnMaxIdleTime(0)
	} else {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.StorageError("ping database", err)
	}

	if config.AutoMigrate && config.Driver == DialectSQLite {
		// the store keeps db open, so the migrator is not closed
		if _, _, err := applyMigrations(db, config.Driver, MigrateUp); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	log.Debug("Database connection established")

	return &SQLStore{
		db:      db,
		dialect: config.Driver,
		logger:  log,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   func() string { return uuid.NewString() },
	}, nil
}

// Close closes the underlying connection pool
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// DB exposes the connection pool for health checks
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// rebind rewrites '?' placeholders to '$n' for postgres
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// forUpdate returns the row-locking suffix for SELECTs inside a payment
// transaction. sqlite relies on its immediate write lock instead.
func (s *SQLStore) forUpdate() string {
	if s.dialect == DialectPostgres {
		return " FOR UPDATE"
	}
	return ""
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// withTx runs fn in a transaction. Errors returned by fn are passed through
// unchanged after rollback so that typed payment errors survive.
func (s *SQLStore) withTx(ctx context.Context, operation string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.StorageError(operation, err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.WithError(rbErr).WithField("operation", operation).Warn("Rollback failed")
		}
		if _, ok := errors.AsBillingError(err); ok {
			return err
		}
		return errors.StorageError(operation, err)
	}

	if err := tx.Commit(); err != nil {
		return errors.StorageError(operation, err)
	}
	return nil
}

func formatDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func nullDate(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatDate(*t), Valid: true}
}

func parseNullDate(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parseTimestamp(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func sameDate(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return formatDate(*a) == formatDate(*b)
}

// placeholders returns "?, ?, ?" for n arguments
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
