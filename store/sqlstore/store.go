/*
Package sqlstore provides a SQL-backed implementation of billing.Store.

PURPOSE:
  Implements every billing repository on top of database/sql via sqlx.
  SQLite is the default backend; PostgreSQL uses the same queries with a
  few dialect switches (bind vars, id/decimal column types, row locks).

TRANSACTIONS:
  WithTx opens one database transaction per unit of work. fn's error or a
  failed commit rolls everything back, including the settings counter.

CONCURRENCY:
  SQLite:     one connection, transactions begin IMMEDIATE and are also
              serialized in-process by a mutex, so writers never interleave.
  PostgreSQL: READ COMMITTED plus SELECT ... FOR UPDATE on the project row
              (and selected items). A second generator for the same project
              blocks, then sees the first one's marks. The counter row is
              locked by its own UPDATE. Serialization failures and deadlocks
              surface as billing.ErrConcurrentInvoicing.

STORAGE FORMATS:
  Timestamps: TEXT, UTC, fixed-width RFC 3339 with microseconds, so string
              comparison orders them correctly.
  Dates:      TEXT, YYYY-MM-DD.
  Money:      TEXT on SQLite, NUMERIC on PostgreSQL. Never float.

USAGE:
  store, err := sqlstore.Open("sqlite", "./data/timesheet.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()
  err = store.SeedSettings(ctx, settings)

SEE ALSO:
  - billing/store.go: Interface definitions
  - billing/memstore: In-memory implementation for testing
*/
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"github.com/warp/timesheet/billing"
)

type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Store implements billing.Store.
type Store struct {
	db      *sqlx.DB
	dialect Dialect
	mu      sync.Mutex // serializes SQLite writers
}

var _ billing.Store = (*Store)(nil)

// Open connects to the database and migrates the schema.
// driver is "sqlite" or "postgres"; for SQLite, dsn is a file path or ":memory:".
func Open(driver, dsn string) (*Store, error) {
	var (
		db  *sqlx.DB
		err error
	)
	switch Dialect(driver) {
	case DialectSQLite, "":
		db, err = sqlx.Open("sqlite3", sqliteDSN(dsn))
		if err == nil {
			// :memory: is per connection, and SQLite has one writer anyway.
			db.SetMaxOpenConns(1)
		}
		driver = string(DialectSQLite)
	case DialectPostgres:
		db, err = sqlx.Open("pgx", dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db, dialect: Dialect(driver)}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// New opens a SQLite store at dbPath. Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	return Open(string(DialectSQLite), dbPath)
}

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=5000"
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Dialect() Dialect { return s.dialect }

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// =============================================================================
// TRANSACTIONAL STORE (billing.Store interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(billing.Tx) error) error {
	if s.dialect == DialectSQLite {
		s.mu.Lock()
		defer s.mu.Unlock()
	}

	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return classify(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx, dialect: s.dialect}); err != nil {
		return classify(err)
	}
	if err := sqlTx.Commit(); err != nil {
		return classify(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

type txStore struct {
	tx      *sqlx.Tx
	dialect Dialect
}

var _ billing.Tx = (*txStore)(nil)

// forUpdate returns the row-lock suffix for SELECTs inside the generator.
// SQLite has no row locks; its IMMEDIATE transactions already hold the write lock.
func (t *txStore) forUpdate() string {
	if t.dialect == DialectPostgres {
		return " FOR UPDATE"
	}
	return ""
}

// in expands IN (?) arguments and rebinds for the dialect.
func (t *txStore) in(query string, args ...any) (string, []any, error) {
	q, a, err := sqlx.In(query, args...)
	if err != nil {
		return "", nil, err
	}
	return t.tx.Rebind(q), a, nil
}

func rowsAffected(res interface{ RowsAffected() (int64, error) }) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n, nil
}

// =============================================================================
// ERROR CLASSIFICATION
// =============================================================================

// Postgres SQLSTATEs that mean "another transaction got there first".
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
	pgUniqueViolation      = "23505"
)

// classify maps driver-level contention errors to billing.ErrConcurrentInvoicing.
// Domain errors and everything else pass through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable, pgUniqueViolation:
			return fmt.Errorf("%w: %w", billing.ErrConcurrentInvoicing, err)
		}
		return err
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return fmt.Errorf("%w: %w", billing.ErrConcurrentInvoicing, err)
		}
	}
	return err
}
