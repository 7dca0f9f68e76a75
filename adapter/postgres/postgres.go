// Package postgres implements the xledger durable Log and DedupStore backed
// by PostgreSQL. Offset assignment rides the log table's BIGSERIAL sequence,
// the single point of total ordering under concurrent writers.
package postgres

import (
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/trickstertwo/xledger"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store implements xledger.Log, xledger.Rewriter and xledger.DedupStore on a
// single PostgreSQL database.
type Store struct {
	db *sql.DB
}

var _ xledger.Log = (*Store)(nil)
var _ xledger.Rewriter = (*Store)(nil)
var _ xledger.DedupStore = (*Store)(nil)

// New opens a connection to the PostgreSQL database at the given URL,
// configures the connection pool, and runs any pending migrations. In
// required mode callers treat an error here as fatal.
func New(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection without running migrations,
// for tests that manage their own schema.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Close closes the underlying database connection. The Store backs both the
// Log and DedupStore contracts, so the bus may call Close twice; closing a
// closed *sql.DB is a no-op.
func (s *Store) Close() error {
	return s.db.Close()
}
